package model

import "time"

// Metric is a telemetry field that may be absent from a snapshot.
type Metric struct {
	Value float64
	Valid bool
}

// MetricOf returns a valid Metric holding v.
func MetricOf(v float64) Metric { return Metric{Value: v, Valid: true} }

// Or returns the metric value, or def when the field is absent.
func (m Metric) Or(def float64) float64 {
	if !m.Valid {
		return def
	}
	return m.Value
}

// TelemetrySnapshot is the typed view of one inverter's latest readings.
// Fields are resolved once at ingestion; absent registers stay invalid
// instead of being re-parsed from raw maps downstream.
type TelemetrySnapshot struct {
	Time     time.Time
	WorkMode string

	SoCPct        Metric
	PVPowerW      Metric
	LoadPowerW    Metric
	BatteryPowerW Metric

	GridPowerW    [3]Metric // per phase
	GridVoltageV  [3]Metric
	GridFreqHz    Metric
	Faulted       bool
	EmergencySoC  Metric // device-reported emergency threshold, if exposed
}

// TotalGridPowerW sums the valid phase powers.
func (t TelemetrySnapshot) TotalGridPowerW() float64 {
	var sum float64
	for _, p := range t.GridPowerW {
		if p.Valid {
			sum += p.Value
		}
	}
	return sum
}

// OffGridMode reports whether the work mode string explicitly names an
// off-grid or EPS state.
func (t TelemetrySnapshot) OffGridMode() bool {
	switch t.WorkMode {
	case "off-grid", "offgrid", "eps", "backup":
		return true
	}
	return false
}
