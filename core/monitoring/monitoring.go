package monitoring

// Monitor reports errors and breadcrumbs to an external error tracker.
type Monitor interface {
	CaptureError(err error, tags map[string]string)
	Breadcrumb(category, message string)
	Flush()
}

// Nop discards everything.
type Nop struct{}

func (Nop) CaptureError(error, map[string]string) {}
func (Nop) Breadcrumb(string, string)             {}
func (Nop) Flush()                                {}
