package store

import (
	"github.com/vperret/gridpilot/core/logger"
	coremetrics "github.com/vperret/gridpilot/core/metrics"
	"github.com/vperret/gridpilot/core/model"
)

// SetpointSink persists per-inverter allocation records to the store. All
// other records pass through unrecorded; they are served by the metrics
// sinks.
type SetpointSink struct {
	db  *SQLiteStore
	log logger.Logger
}

// NewSetpointSink creates a SetpointSink.
func NewSetpointSink(db *SQLiteStore, log logger.Logger) *SetpointSink {
	if log == nil {
		log = logger.Nop{}
	}
	return &SetpointSink{db: db, log: log}
}

// RecordSplit writes the allocation to the setpoints table. A write failure
// is logged but never surfaces to the tick loop.
func (s *SetpointSink) RecordSplit(r coremetrics.SplitRecord) {
	if err := s.db.SaveSetpoint(r); err != nil {
		s.log.Errorf("store: save setpoint for %s: %v", r.InverterID, err)
	}
}

func (s *SetpointSink) RecordTick(coremetrics.TickRecord)               {}
func (s *SetpointSink) RecordPlan(coremetrics.PlanRecord)               {}
func (s *SetpointSink) RecordCommand(coremetrics.CommandRecord)         {}
func (s *SetpointSink) RecordFloor(coremetrics.FloorRecord)             {}
func (s *SetpointSink) RecordTelemetry(string, model.TelemetrySnapshot) {}

// Close is a no-op: the store's lifecycle belongs to the service.
func (s *SetpointSink) Close() error { return nil }
