package metrics

import (
	"time"

	"github.com/vperret/gridpilot/core/model"
)

// TickRecord summarizes one scheduler tick.
type TickRecord struct {
	Time          time.Time
	DurationMS    float64
	GridAvailable bool
	Confidence    float64
	SoCPct        float64
	FloorPct      float64
	PVPowerW      float64
	LoadPowerW    float64
	WorkMode      string
	Critical      bool
}

// PlanRecord summarizes a produced dispatch plan.
type PlanRecord struct {
	Time             time.Time
	Windows          int
	RequiredKWh      float64
	GridShortfallKWh float64
	SolarSufficient  bool
	UseGrid          bool
	TargetSoCPct     float64
}

// SplitRecord is one inverter's share of an allocation round.
type SplitRecord struct {
	Time       time.Time
	InverterID string
	TargetW    float64
	ChargeW    float64
	DischargeW float64
	HeadroomW  float64
	RatedW     float64
	UnmetW     float64
}

// CommandRecord is the result of dispatching to one inverter.
type CommandRecord struct {
	Time       time.Time
	InverterID string
	Written    int
	Skipped    bool
	Cleared    bool
	Errors     int
}

// FloorRecord captures a reliability floor computation.
type FloorRecord struct {
	Time           time.Time
	FloorPct       float64
	CushionPct     float64
	OutageRisk     float64
	PVConfidence   string
	LoadConfidence string
	GuardrailLevel string
}

// Sink receives scheduler metrics. Implementations must be safe for
// concurrent use and must never block the tick loop.
type Sink interface {
	RecordTick(TickRecord)
	RecordPlan(PlanRecord)
	RecordSplit(SplitRecord)
	RecordCommand(CommandRecord)
	RecordFloor(FloorRecord)
	RecordTelemetry(inverterID string, tel model.TelemetrySnapshot)
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordTick(TickRecord)                           {}
func (NopSink) RecordPlan(PlanRecord)                           {}
func (NopSink) RecordSplit(SplitRecord)                         {}
func (NopSink) RecordCommand(CommandRecord)                     {}
func (NopSink) RecordFloor(FloorRecord)                         {}
func (NopSink) RecordTelemetry(string, model.TelemetrySnapshot) {}
func (NopSink) Close() error                                    { return nil }
