package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vperret/gridpilot/core/metrics"
	"github.com/vperret/gridpilot/core/model"
)

// PromSink exposes scheduler metrics as Prometheus collectors.
type PromSink struct {
	tickDuration prometheus.Histogram
	gridUp       prometheus.Gauge
	confidence   prometheus.Gauge
	soc          prometheus.Gauge
	floor        prometheus.Gauge
	cushion      prometheus.Gauge
	outageRisk   prometheus.Gauge
	pvPower      prometheus.Gauge
	loadPower    prometheus.Gauge
	planWindows  prometheus.Gauge
	planRequired prometheus.Gauge
	planGridKWh  prometheus.Gauge
	splitPower   *prometheus.GaugeVec
	commands     *prometheus.CounterVec
	cmdErrors    *prometheus.CounterVec
	telemetrySoC *prometheus.GaugeVec
}

// NewPromSink registers the collectors on reg. If reg is nil the default
// registerer is used; already registered collectors are reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_tick_duration_seconds",
		Help:    "Wall time of one scheduler tick",
		Buckets: prometheus.DefBuckets,
	})
	gridUp := newGauge("grid_available", "Confirmed grid availability (1 = available)")
	confidence := newGauge("grid_confidence", "Grid detector confidence in [0,1]")
	soc := newGauge("battery_soc_pct", "Fleet average state of charge")
	floor := newGauge("reliability_floor_pct", "Effective minimum SOC")
	cushion := newGauge("reliability_cushion_pct", "Dynamic cushion above the hard floor")
	outageRisk := newGauge("outage_risk_score", "Recent outage risk in [0,1]")
	pvPower := newGauge("pv_power_w", "Aggregate PV production")
	loadPower := newGauge("load_power_w", "Aggregate household load")
	planWindows := newGauge("plan_windows", "Dispatch windows in the current plan")
	planRequired := newGauge("plan_required_kwh", "Energy required to reach the SOC target")
	planGridKWh := newGauge("plan_grid_shortfall_kwh", "Forecast solar shortfall covered from grid")

	splitPower := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "split_allocation_w",
		Help: "Per-inverter allocated power",
	}, []string{"inverter_id", "direction"})
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inverter_commands_total",
		Help: "Register writes per inverter",
	}, []string{"inverter_id", "skipped"})
	cmdErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inverter_command_errors_total",
		Help: "Failed register writes per inverter",
	}, []string{"inverter_id"})
	telemetrySoC := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inverter_soc_pct",
		Help: "Per-inverter state of charge",
	}, []string{"inverter_id"})

	s := &PromSink{
		tickDuration: tickDuration,
		gridUp:       gridUp,
		confidence:   confidence,
		soc:          soc,
		floor:        floor,
		cushion:      cushion,
		outageRisk:   outageRisk,
		pvPower:      pvPower,
		loadPower:    loadPower,
		planWindows:  planWindows,
		planRequired: planRequired,
		planGridKWh:  planGridKWh,
		splitPower:   splitPower,
		commands:     commands,
		cmdErrors:    cmdErrors,
		telemetrySoC: telemetrySoC,
	}

	collectors := []prometheus.Collector{
		tickDuration, gridUp, confidence, soc, floor, cushion, outageRisk,
		pvPower, loadPower, planWindows, planRequired, planGridKWh,
		splitPower, commands, cmdErrors, telemetrySoC,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return s, nil
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// RecordTick updates the per-tick gauges.
func (s *PromSink) RecordTick(r metrics.TickRecord) {
	s.tickDuration.Observe(r.DurationMS / 1000)
	s.gridUp.Set(boolGauge(r.GridAvailable))
	s.confidence.Set(r.Confidence)
	s.soc.Set(r.SoCPct)
	s.pvPower.Set(r.PVPowerW)
	s.loadPower.Set(r.LoadPowerW)
}

// RecordPlan updates the plan gauges.
func (s *PromSink) RecordPlan(r metrics.PlanRecord) {
	s.planWindows.Set(float64(r.Windows))
	s.planRequired.Set(r.RequiredKWh)
	s.planGridKWh.Set(r.GridShortfallKWh)
}

// RecordSplit updates the per-inverter allocation gauges.
func (s *PromSink) RecordSplit(r metrics.SplitRecord) {
	s.splitPower.WithLabelValues(r.InverterID, "charge").Set(r.ChargeW)
	s.splitPower.WithLabelValues(r.InverterID, "discharge").Set(r.DischargeW)
}

// RecordCommand counts writes and errors.
func (s *PromSink) RecordCommand(r metrics.CommandRecord) {
	s.commands.WithLabelValues(r.InverterID, strconv.FormatBool(r.Skipped)).Add(float64(r.Written))
	if r.Errors > 0 {
		s.cmdErrors.WithLabelValues(r.InverterID).Add(float64(r.Errors))
	}
}

// RecordFloor updates the reliability gauges.
func (s *PromSink) RecordFloor(r metrics.FloorRecord) {
	s.floor.Set(r.FloorPct)
	s.cushion.Set(r.CushionPct)
	s.outageRisk.Set(r.OutageRisk)
}

// RecordTelemetry updates the per-inverter SOC gauge.
func (s *PromSink) RecordTelemetry(inverterID string, tel model.TelemetrySnapshot) {
	if tel.SoCPct.Valid {
		s.telemetrySoC.WithLabelValues(inverterID).Set(tel.SoCPct.Value)
	}
}

// Close is a no-op; Prometheus collectors are pulled, not flushed.
func (s *PromSink) Close() error { return nil }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
