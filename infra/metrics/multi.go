package metrics

import (
	"errors"

	coremetrics "github.com/vperret/gridpilot/core/metrics"
	"github.com/vperret/gridpilot/core/model"
)

// MultiSink fans every record out to all child sinks.
type MultiSink struct {
	sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordTick(r coremetrics.TickRecord) {
	for _, s := range m.sinks {
		s.RecordTick(r)
	}
}

func (m *MultiSink) RecordPlan(r coremetrics.PlanRecord) {
	for _, s := range m.sinks {
		s.RecordPlan(r)
	}
}

func (m *MultiSink) RecordSplit(r coremetrics.SplitRecord) {
	for _, s := range m.sinks {
		s.RecordSplit(r)
	}
}

func (m *MultiSink) RecordCommand(r coremetrics.CommandRecord) {
	for _, s := range m.sinks {
		s.RecordCommand(r)
	}
}

func (m *MultiSink) RecordFloor(r coremetrics.FloorRecord) {
	for _, s := range m.sinks {
		s.RecordFloor(r)
	}
}

func (m *MultiSink) RecordTelemetry(id string, tel model.TelemetrySnapshot) {
	for _, s := range m.sinks {
		s.RecordTelemetry(id, tel)
	}
}

// Close closes every child sink, joining their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
