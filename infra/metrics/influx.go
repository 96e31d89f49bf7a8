package metrics

import (
	"context"
	"math"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/vperret/gridpilot/core/metrics"
	"github.com/vperret/gridpilot/core/model"
	"github.com/vperret/gridpilot/infra/logger"
)

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes tick history to InfluxDB using the official client.
// Writes are asynchronous so a slow or down instance never stalls a tick.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint.
func NewInfluxSink(cfg Config) *InfluxSink {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetFlushInterval(5000))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the instance first and returns a NopSink
// when the health check fails, so a missing InfluxDB never blocks startup.
func NewInfluxSinkWithFallback(cfg Config) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordTick writes the tick summary point.
func (s *InfluxSink) RecordTick(r coremetrics.TickRecord) {
	p := write.NewPointWithMeasurement("tick").
		AddTag("work_mode", r.WorkMode).
		AddField("duration_ms", round3(r.DurationMS)).
		AddField("grid_available", r.GridAvailable).
		AddField("confidence", round3(r.Confidence)).
		AddField("soc_pct", round3(r.SoCPct)).
		AddField("floor_pct", round3(r.FloorPct)).
		AddField("pv_power_w", round3(r.PVPowerW)).
		AddField("load_power_w", round3(r.LoadPowerW)).
		AddField("critical", r.Critical).
		SetTime(r.Time)
	s.writeAPI.WritePoint(p)
}

// RecordPlan writes the plan summary point.
func (s *InfluxSink) RecordPlan(r coremetrics.PlanRecord) {
	p := write.NewPointWithMeasurement("plan").
		AddTag("solar_sufficient", strconv.FormatBool(r.SolarSufficient)).
		AddField("windows", r.Windows).
		AddField("required_kwh", round3(r.RequiredKWh)).
		AddField("grid_shortfall_kwh", round3(r.GridShortfallKWh)).
		AddField("use_grid", r.UseGrid).
		AddField("target_soc_pct", round3(r.TargetSoCPct)).
		SetTime(r.Time)
	s.writeAPI.WritePoint(p)
}

// RecordSplit writes one inverter's allocation.
func (s *InfluxSink) RecordSplit(r coremetrics.SplitRecord) {
	p := write.NewPointWithMeasurement("split").
		AddTag("inverter_id", r.InverterID).
		AddField("target_w", round3(r.TargetW)).
		AddField("charge_w", round3(r.ChargeW)).
		AddField("discharge_w", round3(r.DischargeW)).
		AddField("headroom_w", round3(r.HeadroomW)).
		AddField("rated_w", round3(r.RatedW)).
		AddField("unmet_w", round3(r.UnmetW)).
		SetTime(r.Time)
	s.writeAPI.WritePoint(p)
}

// RecordCommand writes one dispatch report.
func (s *InfluxSink) RecordCommand(r coremetrics.CommandRecord) {
	p := write.NewPointWithMeasurement("command").
		AddTag("inverter_id", r.InverterID).
		AddField("written", r.Written).
		AddField("skipped", r.Skipped).
		AddField("cleared", r.Cleared).
		AddField("errors", r.Errors).
		SetTime(r.Time)
	s.writeAPI.WritePoint(p)
}

// RecordFloor writes the reliability floor point.
func (s *InfluxSink) RecordFloor(r coremetrics.FloorRecord) {
	p := write.NewPointWithMeasurement("reliability").
		AddTag("pv_confidence", r.PVConfidence).
		AddTag("load_confidence", r.LoadConfidence).
		AddTag("guardrail", r.GuardrailLevel).
		AddField("floor_pct", round3(r.FloorPct)).
		AddField("cushion_pct", round3(r.CushionPct)).
		AddField("outage_risk", round3(r.OutageRisk)).
		SetTime(r.Time)
	s.writeAPI.WritePoint(p)
}

// RecordTelemetry writes one inverter's telemetry point.
func (s *InfluxSink) RecordTelemetry(inverterID string, tel model.TelemetrySnapshot) {
	p := write.NewPointWithMeasurement("telemetry").
		AddTag("inverter_id", inverterID).
		AddField("soc_pct", round3(tel.SoCPct.Value)).
		AddField("pv_power_w", round3(tel.PVPowerW.Value)).
		AddField("load_power_w", round3(tel.LoadPowerW.Value)).
		AddField("battery_power_w", round3(tel.BatteryPowerW.Value)).
		AddField("grid_power_w", round3(tel.TotalGridPowerW())).
		AddField("faulted", tel.Faulted).
		SetTime(time.Now())
	s.writeAPI.WritePoint(p)
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
