package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/vperret/gridpilot/core/backtest"
	"github.com/vperret/gridpilot/core/command"
	"github.com/vperret/gridpilot/core/forecast"
	"github.com/vperret/gridpilot/core/gridwatch"
	"github.com/vperret/gridpilot/core/logger"
	"github.com/vperret/gridpilot/core/metrics"
	"github.com/vperret/gridpilot/core/model"
	"github.com/vperret/gridpilot/core/monitoring"
	"github.com/vperret/gridpilot/core/plan"
	"github.com/vperret/gridpilot/core/reliability"
	"github.com/vperret/gridpilot/core/split"
	"github.com/vperret/gridpilot/internal/eventbus"
)

// Auditor persists tick decisions for later inspection.
type Auditor interface {
	Record(kind string, payload any)
}

// LoadObserver learns the household load profile from completed hours.
type LoadObserver interface {
	Observe(at time.Time, kwh float64)
}

// NopAuditor discards audit records.
type NopAuditor struct{}

func (NopAuditor) Record(string, any) {}

// Config holds the scheduler settings.
type Config struct {
	TickSeconds int `json:"tick_seconds"`
	// DispatchParallel bounds how many inverters are written concurrently.
	DispatchParallel int `json:"dispatch_parallel"`

	BatteryCapacityKWh float64 `json:"battery_capacity_kwh"`

	SunriseHour int `json:"sunrise_hour"`
	SunsetHour  int `json:"sunset_hour"`

	Tariffs []model.TariffWindow `json:"tariffs"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TickSeconds == 0 {
		c.TickSeconds = 30
	}
	if c.DispatchParallel == 0 {
		c.DispatchParallel = 2
	}
	if c.BatteryCapacityKWh == 0 {
		c.BatteryCapacityKWh = 10
	}
	if c.SunriseHour == 0 {
		c.SunriseHour = 7
	}
	if c.SunsetHour == 0 {
		c.SunsetHour = 19
	}
}

// Deps are the collaborators the scheduler drives each tick.
type Deps struct {
	Detector   *gridwatch.Detector
	Floor      *reliability.Calculator
	Builder    *plan.Builder
	Splitter   *split.Splitter
	Dispatcher *command.Dispatcher
	Forecast   *forecast.Aggregator
	Tuner      *backtest.Manager

	Adapters []command.Adapter

	Sink    metrics.Sink
	Events  *eventbus.Events
	Monitor monitoring.Monitor
	Audit   Auditor
	LoadObs LoadObserver
	Log     logger.Logger
}

// Scheduler owns the tick loop: gather telemetry, classify the grid, compute
// the reliability floor, build the plan, split it across the fleet and
// dispatch the deltas. Exactly one tick runs at a time; a tick that overruns
// the interval causes the next one to be skipped, not queued.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  logger.Logger

	ticking sync.Mutex

	lastGrid     bool
	gridInit     bool
	outageCount  int
	lastDayKey   string
	sunsetSoCPct float64
	gridKWhToday float64
	nightLoadKWh float64
	pvKWhToday   float64
	loadKWhToday float64
	hourLoadKWh  float64
	fcPVKWh      float64
	fcLoadKWh    float64
	lastTickAt   time.Time
}

// New creates a Scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	cfg.SetDefaults()
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	if deps.Monitor == nil {
		deps.Monitor = monitoring.Nop{}
	}
	if deps.Audit == nil {
		deps.Audit = NopAuditor{}
	}
	if deps.Log == nil {
		deps.Log = logger.Nop{}
	}
	return &Scheduler{cfg: cfg, deps: deps, log: deps.Log}
}

// Run ticks until the context is cancelled. A tick in flight when the context
// ends finishes its current inverter write sequence before returning.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.TickSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("scheduler stopping")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick runs one full scheduling pass. It returns false when a previous tick
// was still in flight.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) bool {
	if !s.ticking.TryLock() {
		s.log.Warnf("tick overrun: previous tick still running, skipping")
		return false
	}
	defer s.ticking.Unlock()

	start := time.Now()
	tel, fleet, telemetryOK := s.gather(now)

	grid := s.deps.Detector.Update(now, tel, telemetryOK)
	s.trackGrid(now, grid)

	fc, fresh := s.deps.Forecast.Get(ctx, now)
	if !fresh {
		s.log.Debugf("forecast stale or defaulted")
	}

	gridUnstable := grid.Confidence < 0.5
	floorState := s.deps.Floor.Compute(now, fc, grid.Available, gridUnstable)

	// A telemetry gap must not look like an empty battery and trip the
	// emergency path.
	soc := tel.SoCPct.Or(50)
	battery := model.BatteryState{
		SoCPct:      soc,
		CapacityKWh: s.cfg.BatteryCapacityKWh,
		PowerW:      tel.BatteryPowerW.Value,
	}

	criticalPct := s.deps.Floor.CriticalSoCPct(tel.EmergencySoC)
	// Pre-plan view: assume no grid charge is scheduled yet so a risky night
	// surfaces as critical and unlocks the costlier tariff windows.
	level := s.guardrail(now, fc, battery, false)

	p := s.deps.Builder.Build(plan.Inputs{
		Now:             now,
		Forecast:        fc,
		Battery:         battery,
		FloorPct:        floorState.EffectiveMinSoCPct,
		CriticalPct:     criticalPct,
		SunriseHour:     s.cfg.SunriseHour,
		SunsetHour:      s.cfg.SunsetHour,
		GridAvailable:   grid.Available,
		Tariffs:         s.cfg.Tariffs,
		AllowCostlyGrid: level == reliability.GuardrailCritical,
		CurrentPVW:      tel.PVPowerW.Value,
		CurrentLoadW:    tel.LoadPowerW.Value,
	})

	// Re-classify with the plan known: a scheduled grid charge downgrades
	// critical to warning.
	level = s.guardrail(now, fc, battery, p.UseGrid)

	desired := s.splitPlan(p, floorState.EffectiveMinSoCPct, fleet)
	s.dispatch(ctx, desired)

	s.trackDay(now, battery, tel, fc)
	s.publish(now, start, grid, floorState, level, p, tel)
	s.lastTickAt = now
	return true
}

// gather aggregates the fleet's telemetry into one hub-level snapshot. SoC is
// averaged, powers are summed, grid quality metrics come from the first
// inverter that reports them.
func (s *Scheduler) gather(now time.Time) (model.TelemetrySnapshot, []model.InverterCapability, bool) {
	var agg model.TelemetrySnapshot
	var fleet []model.InverterCapability
	var socSum, pvSum, loadSum, battSum float64
	okCount := 0

	for _, a := range s.deps.Adapters {
		cap := a.Capability()
		tel, ok := a.LastTelemetry()
		cap.Online = ok
		cap.Faulted = tel.Faulted
		fleet = append(fleet, cap)
		if !ok {
			continue
		}
		okCount++

		s.deps.Sink.RecordTelemetry(a.ID(), tel)

		if tel.SoCPct.Valid {
			socSum += tel.SoCPct.Value
		}
		pvSum += tel.PVPowerW.Value
		loadSum += tel.LoadPowerW.Value
		battSum += tel.BatteryPowerW.Value

		if agg.WorkMode == "" {
			agg.WorkMode = tel.WorkMode
		}
		for i := range tel.GridPowerW {
			if !agg.GridPowerW[i].Valid && tel.GridPowerW[i].Valid {
				agg.GridPowerW[i] = tel.GridPowerW[i]
			}
			if !agg.GridVoltageV[i].Valid && tel.GridVoltageV[i].Valid {
				agg.GridVoltageV[i] = tel.GridVoltageV[i]
			}
		}
		if !agg.GridFreqHz.Valid && tel.GridFreqHz.Valid {
			agg.GridFreqHz = tel.GridFreqHz
		}
		if !agg.EmergencySoC.Valid && tel.EmergencySoC.Valid {
			agg.EmergencySoC = tel.EmergencySoC
		}
		if tel.Faulted {
			agg.Faulted = true
		}
	}

	if okCount > 0 {
		agg.SoCPct = model.MetricOf(socSum / float64(okCount))
		agg.PVPowerW = model.MetricOf(pvSum)
		agg.LoadPowerW = model.MetricOf(loadSum)
		agg.BatteryPowerW = model.MetricOf(battSum)
	}
	return agg, fleet, okCount > 0
}

// trackGrid records confirmed transitions: outages feed the reliability
// calculator's risk score and both directions are published on the bus.
func (s *Scheduler) trackGrid(now time.Time, grid gridwatch.State) {
	if !s.gridInit {
		s.gridInit = true
		s.lastGrid = grid.Available
		return
	}
	if grid.Available == s.lastGrid {
		return
	}
	s.lastGrid = grid.Available
	if !grid.Available {
		s.deps.Floor.RecordOutage(now)
		s.outageCount++
		s.deps.Monitor.Breadcrumb("grid", "grid lost")
	} else {
		s.deps.Monitor.Breadcrumb("grid", "grid restored")
	}
	if s.deps.Events != nil {
		s.deps.Events.Grid.Publish(eventbus.GridEvent{Time: now, Available: grid.Available, Confidence: grid.Confidence})
	}
	s.deps.Audit.Record("grid_transition", map[string]any{
		"time": now, "available": grid.Available, "confidence": grid.Confidence,
	})
}

// guardrail projects the sunset SoC from the forecast and classifies the
// coming night.
func (s *Scheduler) guardrail(now time.Time, fc model.EnergyForecast, b model.BatteryState, gridChargeScheduled bool) reliability.GuardrailLevel {
	if b.CapacityKWh <= 0 {
		return reliability.GuardrailWarning
	}
	surplusKWh := 0.0
	for h := now.Hour(); h < s.cfg.SunsetHour && h < 24; h++ {
		surplusKWh += fc.Today[h].PVKWh - fc.Today[h].LoadKWh
	}
	projected := b.SoCPct + surplusKWh/b.CapacityKWh*100
	if projected > 100 {
		projected = 100
	}
	if projected < 0 {
		projected = 0
	}
	night := fc.NightLoadKWh(s.cfg.SunsetHour, s.cfg.SunriseHour)
	return s.deps.Floor.Guardrail(projected, night, b.CapacityKWh, gridChargeScheduled)
}

// splitPlan turns the aggregate plan into one desired state per inverter.
// Every window's power is divided across the fleet by the splitter; the
// scalar limits follow each inverter's own share.
func (s *Scheduler) splitPlan(p plan.Plan, floorPct float64, fleet []model.InverterCapability) map[string]command.DesiredState {
	desired := make(map[string]command.DesiredState, len(fleet))
	caps := make(map[string]model.InverterCapability, len(fleet))
	for _, cap := range fleet {
		caps[cap.ID] = cap
		desired[cap.ID] = command.DesiredState{
			WorkMode:          p.WorkMode,
			MinSoCPct:         floorPct,
			MaxChargeW:        cap.RatedChargeKW * 1000,
			MaxDischargeW:     cap.RatedDischargeKW * 1000,
			GridChargeEnabled: p.UseGrid,
		}
	}

	for _, w := range p.Windows {
		if !w.Enabled {
			continue
		}
		target := w.PowerW
		action := model.ActionCharge
		if w.Type == model.WindowDischarge {
			target = -target
			action = model.ActionDischarge
		}
		res := s.deps.Splitter.Split(target, fleet)
		if res.UnmetW > epsilonUnmetW {
			s.log.Warnf("window %s: %.0f W unallocatable across fleet", w.Name, res.UnmetW)
		}
		for id, alloc := range res.Allocations {
			share := alloc.ChargeW
			if w.Type == model.WindowDischarge {
				share = alloc.DischargeW
			}
			if share <= 0 {
				continue
			}
			d := desired[id]
			sw := w
			sw.PowerW = share
			d.Windows = append(d.Windows, sw)
			desired[id] = d
		}
		for id := range res.Allocations {
			cap := caps[id]
			s.deps.Sink.RecordSplit(metrics.SplitRecord{
				Time:       w.Start,
				InverterID: id,
				TargetW:    w.PowerW,
				ChargeW:    res.Allocations[id].ChargeW,
				DischargeW: res.Allocations[id].DischargeW,
				HeadroomW:  cap.HeadroomW(action),
				RatedW:     cap.RatedW(action),
				UnmetW:     res.UnmetW,
			})
		}
	}
	return desired
}

const epsilonUnmetW = 1.0

// dispatch writes each inverter's desired state, at most DispatchParallel at
// a time. Cancellation stops scheduling new inverters; sequences already
// started run to completion.
func (s *Scheduler) dispatch(ctx context.Context, desired map[string]command.DesiredState) {
	sem := make(chan struct{}, s.cfg.DispatchParallel)
	var wg sync.WaitGroup

	for _, a := range s.deps.Adapters {
		d, ok := desired[a.ID()]
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(a command.Adapter, d command.DesiredState) {
			defer wg.Done()
			defer func() { <-sem }()
			rep := s.deps.Dispatcher.Dispatch(ctx, a, d)
			s.deps.Sink.RecordCommand(metrics.CommandRecord{
				Time:       time.Now(),
				InverterID: rep.InverterID,
				Written:    rep.Written,
				Skipped:    rep.Skipped,
				Cleared:    rep.Cleared,
				Errors:     len(rep.Errors),
			})
			if len(rep.Errors) > 0 {
				for k, err := range rep.Errors {
					s.deps.Monitor.CaptureError(err, map[string]string{"inverter": rep.InverterID, "key": string(k)})
				}
			}
			if !rep.Skipped {
				s.deps.Audit.Record("dispatch", map[string]any{
					"inverter": rep.InverterID, "written": rep.Written,
					"cleared": rep.Cleared, "errors": len(rep.Errors),
				})
				if s.deps.Events != nil {
					s.deps.Events.Command.Publish(eventbus.CommandEvent{
						Time:       time.Now(),
						InverterID: rep.InverterID,
						Written:    rep.Written,
						Cleared:    rep.Cleared,
						Errors:     len(rep.Errors),
					})
				}
			}
		}(a, d)
	}
	wg.Wait()
}

// trackDay maintains the per-day counters consumed by the Auto-Tuner and the
// forecast accuracy rings. At the first tick of a new day the previous day's
// outcome is closed out.
func (s *Scheduler) trackDay(now time.Time, b model.BatteryState, tel model.TelemetrySnapshot, fc model.EnergyForecast) {
	if !s.lastTickAt.IsZero() {
		dt := now.Sub(s.lastTickAt).Hours()
		if dt > 0 && dt < 1 {
			gridW := tel.TotalGridPowerW()
			if gridW > 0 {
				s.gridKWhToday += gridW / 1000 * dt
			}
			s.pvKWhToday += tel.PVPowerW.Value / 1000 * dt
			s.loadKWhToday += tel.LoadPowerW.Value / 1000 * dt
			s.hourLoadKWh += tel.LoadPowerW.Value / 1000 * dt
			h := now.Hour()
			if h >= s.cfg.SunsetHour || h < s.cfg.SunriseHour {
				s.nightLoadKWh += tel.LoadPowerW.Value / 1000 * dt
			}
		}
		if now.Hour() != s.lastTickAt.Hour() {
			if s.deps.LoadObs != nil && s.hourLoadKWh > 0 {
				s.deps.LoadObs.Observe(s.lastTickAt, s.hourLoadKWh)
			}
			s.hourLoadKWh = 0
		}
	}

	if now.Hour() == s.cfg.SunsetHour && (s.lastTickAt.IsZero() || s.lastTickAt.Hour() != s.cfg.SunsetHour) {
		s.sunsetSoCPct = b.SoCPct
	}

	day := now.Format("2006-01-02")
	if s.lastDayKey == "" {
		s.lastDayKey = day
		s.fcPVKWh = fc.DailyPVKWh()
		s.fcLoadKWh = fc.DailyLoadKWh()
		return
	}
	if day == s.lastDayKey {
		return
	}
	s.lastDayKey = day
	// A new day means new hourly curves; drop the cached forecast so the
	// next tick fetches fresh ones.
	s.deps.Forecast.Invalidate()

	if s.fcPVKWh > 0 && s.fcLoadKWh > 0 {
		s.deps.Floor.AddAccuracySample(s.pvKWhToday/s.fcPVKWh, s.loadKWhToday/s.fcLoadKWh)
	}
	s.fcPVKWh = fc.DailyPVKWh()
	s.fcLoadKWh = fc.DailyLoadKWh()

	if s.deps.Tuner != nil && s.sunsetSoCPct > 0 {
		s.deps.Tuner.Record(backtest.DayOutcome{
			Date:         now.AddDate(0, 0, -1),
			SunsetSoCPct: s.sunsetSoCPct,
			SunriseSoC:   b.SoCPct,
			NightLoadKWh: s.nightLoadKWh,
			GridKWh:      s.gridKWhToday,
			CapacityKWh:  b.CapacityKWh,
			OutageEvents: s.outageCount,
		})
	}
	s.gridKWhToday = 0
	s.nightLoadKWh = 0
	s.pvKWhToday = 0
	s.loadKWhToday = 0
	s.outageCount = 0
}

// publish emits tick, plan and floor records plus the plan event.
func (s *Scheduler) publish(now, start time.Time, grid gridwatch.State, floor reliability.State, level reliability.GuardrailLevel, p plan.Plan, tel model.TelemetrySnapshot) {
	s.deps.Sink.RecordTick(metrics.TickRecord{
		Time:          now,
		DurationMS:    float64(time.Since(start).Microseconds()) / 1000,
		GridAvailable: grid.Available,
		Confidence:    grid.Confidence,
		SoCPct:        tel.SoCPct.Value,
		FloorPct:      floor.EffectiveMinSoCPct,
		PVPowerW:      tel.PVPowerW.Value,
		LoadPowerW:    tel.LoadPowerW.Value,
		WorkMode:      p.WorkMode,
		Critical:      p.Critical,
	})
	s.deps.Sink.RecordPlan(metrics.PlanRecord{
		Time:             now,
		Windows:          len(p.Windows),
		RequiredKWh:      p.RequiredKWh,
		GridShortfallKWh: p.GridShortfallKWh,
		SolarSufficient:  p.SolarSufficient,
		UseGrid:          p.UseGrid,
		TargetSoCPct:     p.TargetSoCPct,
	})
	s.deps.Sink.RecordFloor(metrics.FloorRecord{
		Time:           now,
		FloorPct:       floor.EffectiveMinSoCPct,
		CushionPct:     floor.DynamicCushionPct,
		OutageRisk:     floor.OutageRiskScore,
		PVConfidence:   floor.PVConfidence.String(),
		LoadConfidence: floor.LoadConfidence.String(),
		GuardrailLevel: level.String(),
	})
	if s.deps.Events != nil {
		s.deps.Events.Plan.Publish(eventbus.PlanEvent{
			Time:        now,
			Windows:     len(p.Windows),
			WorkMode:    p.WorkMode,
			UseGrid:     p.UseGrid,
			Critical:    p.Critical,
			RequiredKWh: p.RequiredKWh,
		})
		if level != reliability.GuardrailNormal {
			s.deps.Events.Guardrail.Publish(eventbus.GuardrailEvent{
				Time:   now,
				Level:  level.String(),
				SoCPct: tel.SoCPct.Value,
			})
		}
	}
}
