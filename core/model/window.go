package model

import (
	"fmt"
	"time"
)

// WindowType defines the direction of a dispatch window.
type WindowType int

const (
	WindowAuto WindowType = iota
	WindowCharge
	WindowDischarge
)

// String returns a human-readable representation of the window type.
func (t WindowType) String() string {
	switch t {
	case WindowCharge:
		return "charge"
	case WindowDischarge:
		return "discharge"
	default:
		return "auto"
	}
}

// DispatchWindow is one scheduled charge or discharge interval. Windows are
// recomputed from scratch every tick and never persist across ticks.
type DispatchWindow struct {
	Name         string
	Start        time.Time
	End          time.Time
	Type         WindowType
	PowerW       float64
	TargetSoCPct float64
	Enabled      bool
}

// Duration returns the window length, zero when the bounds are inverted.
func (w DispatchWindow) Duration() time.Duration {
	if w.End.Before(w.Start) {
		return 0
	}
	return w.End.Sub(w.Start)
}

// EnergyKWh is the energy moved if the window runs at its power for its
// full duration.
func (w DispatchWindow) EnergyKWh() float64 {
	return w.PowerW / 1000 * w.Duration().Hours()
}

// Stale reports whether the window ended before now.
func (w DispatchWindow) Stale(now time.Time) bool {
	return w.End.Before(now)
}

func (w DispatchWindow) String() string {
	return fmt.Sprintf("%s[%s %s-%s %.0fW soc=%.0f%%]",
		w.Name, w.Type, w.Start.Format("15:04"), w.End.Format("15:04"), w.PowerW, w.TargetSoCPct)
}
