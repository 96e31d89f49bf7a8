package logger

// Logger exposes leveled logging used across the scheduler core.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// Criticalf is reserved for conditions that can lead to an uncontrolled
	// outage, such as SOC below the critical threshold with no grid.
	Criticalf(format string, args ...any)
}

// Nop discards all log output. Used in tests.
type Nop struct{}

func (Nop) Debugf(string, ...any)         {}
func (Nop) Debugw(string, map[string]any) {}
func (Nop) Infof(string, ...any)          {}
func (Nop) Warnf(string, ...any)          {}
func (Nop) Errorf(string, ...any)         {}
func (Nop) Criticalf(string, ...any)      {}
