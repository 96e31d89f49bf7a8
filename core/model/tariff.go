package model

import (
	"fmt"
	"time"
)

// TariffKind classifies a tariff window by price band.
type TariffKind int

const (
	TariffNormal TariffKind = iota
	TariffCheap
	TariffPeak
)

// String returns a human-readable representation of the tariff kind.
func (k TariffKind) String() string {
	switch k {
	case TariffCheap:
		return "cheap"
	case TariffPeak:
		return "peak"
	default:
		return "normal"
	}
}

// ParseTariffKind converts a configuration string to a TariffKind.
func ParseTariffKind(s string) (TariffKind, error) {
	switch s {
	case "cheap":
		return TariffCheap, nil
	case "normal", "":
		return TariffNormal, nil
	case "peak":
		return TariffPeak, nil
	}
	return TariffNormal, fmt.Errorf("unknown tariff kind %q", s)
}

// TariffWindow is a static price band. Start and End are minutes since
// midnight; a window with End <= Start wraps past midnight.
type TariffWindow struct {
	Kind            TariffKind
	StartMinute     int
	EndMinute       int
	PriceCtPerKWh   float64
	AllowGridCharge bool
	AllowDischarge  bool
}

// Contains reports whether t falls inside the window, handling midnight wrap.
func (w TariffWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.StartMinute == w.EndMinute {
		return false
	}
	if w.StartMinute < w.EndMinute {
		return m >= w.StartMinute && m < w.EndMinute
	}
	return m >= w.StartMinute || m < w.EndMinute
}

// ContainsHour reports whether any minute of the given hour of day is inside
// the window.
func (w TariffWindow) ContainsHour(hour int) bool {
	start := hour * 60
	for m := start; m < start+60; m += 15 {
		if w.containsMinute(m) {
			return true
		}
	}
	return false
}

func (w TariffWindow) containsMinute(m int) bool {
	if w.StartMinute == w.EndMinute {
		return false
	}
	if w.StartMinute < w.EndMinute {
		return m >= w.StartMinute && m < w.EndMinute
	}
	return m >= w.StartMinute || m < w.EndMinute
}

// ActiveTariff returns the window containing t, preferring the most specific
// (peak over cheap over normal) when windows overlap.
func ActiveTariff(windows []TariffWindow, t time.Time) (TariffWindow, bool) {
	var best TariffWindow
	found := false
	for _, w := range windows {
		if !w.Contains(t) {
			continue
		}
		if !found || w.Kind > best.Kind {
			best = w
			found = true
		}
	}
	return best, found
}
