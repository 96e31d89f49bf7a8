package reliability

import (
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/vperret/gridpilot/core/logger"
	"github.com/vperret/gridpilot/core/model"
)

// Tunables are the buffer parameters the Auto-Tuner may adjust within Bounds.
type Tunables struct {
	BaseBufferPct        float64 `json:"base_buffer_pct"`
	OutageBufferPct      float64 `json:"outage_buffer_pct"`
	UncertaintyScalePct  float64 `json:"uncertainty_scale_pct"`
	NightLoadBufferPct   float64 `json:"night_load_buffer_pct"`
	InstabilityBufferPct float64 `json:"instability_buffer_pct"`
	MaxCushionPct        float64 `json:"max_cushion_pct"`
}

// SetDefaults applies sane defaults.
func (t *Tunables) SetDefaults() {
	if t.BaseBufferPct == 0 {
		t.BaseBufferPct = 5
	}
	if t.OutageBufferPct == 0 {
		t.OutageBufferPct = 10
	}
	if t.UncertaintyScalePct == 0 {
		t.UncertaintyScalePct = 20
	}
	if t.NightLoadBufferPct == 0 {
		t.NightLoadBufferPct = 5
	}
	if t.InstabilityBufferPct == 0 {
		t.InstabilityBufferPct = 5
	}
	if t.MaxCushionPct == 0 {
		t.MaxCushionPct = 25
	}
}

// Bounds limit what the Auto-Tuner may set.
type Bounds struct {
	MinBaseBufferPct float64 `json:"min_base_buffer_pct"`
	MaxBaseBufferPct float64 `json:"max_base_buffer_pct"`
	MinMaxCushionPct float64 `json:"min_max_cushion_pct"`
	MaxMaxCushionPct float64 `json:"max_max_cushion_pct"`
}

// SetDefaults applies sane defaults.
func (b *Bounds) SetDefaults() {
	if b.MaxBaseBufferPct == 0 {
		b.MaxBaseBufferPct = 15
	}
	if b.MinMaxCushionPct == 0 {
		b.MinMaxCushionPct = 10
	}
	if b.MaxMaxCushionPct == 0 {
		b.MaxMaxCushionPct = 40
	}
}

// Clamp returns t with every field forced inside the bounds.
func (b Bounds) Clamp(t Tunables) Tunables {
	if t.BaseBufferPct < b.MinBaseBufferPct {
		t.BaseBufferPct = b.MinBaseBufferPct
	}
	if t.BaseBufferPct > b.MaxBaseBufferPct {
		t.BaseBufferPct = b.MaxBaseBufferPct
	}
	if t.MaxCushionPct < b.MinMaxCushionPct {
		t.MaxCushionPct = b.MinMaxCushionPct
	}
	if t.MaxCushionPct > b.MaxMaxCushionPct {
		t.MaxCushionPct = b.MaxMaxCushionPct
	}
	return t
}

// Config holds the calculator settings.
type Config struct {
	// HardFloorPct is the absolute minimum SOC; the effective floor never
	// goes below it regardless of mode or grid state.
	HardFloorPct float64  `json:"hard_floor_pct"`
	Tunables     Tunables `json:"tunables"`
	Bounds       Bounds   `json:"bounds"`
	// WarningCooldown suppresses repeated grid-instability warnings.
	WarningCooldownSeconds int `json:"warning_cooldown_seconds"`
	// OutageLookback is how far back outage events raise the outage buffer.
	OutageLookbackHours int `json:"outage_lookback_hours"`
	// CriticalSoCPct marks the threshold that forces emergency behaviour.
	CriticalSoCPct float64 `json:"critical_soc_pct"`
	// OnGridMarginPct is added while the grid is available: there is plenty
	// of time to recover, so the floor can afford to be conservative. With no
	// grid the battery is the only source and must serve load, so the margin
	// is dropped; the hard floor still always holds.
	OnGridMarginPct float64 `json:"on_grid_margin_pct"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.HardFloorPct == 0 {
		c.HardFloorPct = 20
	}
	c.Tunables.SetDefaults()
	c.Bounds.SetDefaults()
	if c.WarningCooldownSeconds == 0 {
		c.WarningCooldownSeconds = 300
	}
	if c.OutageLookbackHours == 0 {
		c.OutageLookbackHours = 72
	}
	if c.CriticalSoCPct == 0 {
		c.CriticalSoCPct = 15
	}
	if c.OnGridMarginPct == 0 {
		c.OnGridMarginPct = 5
	}
}

// State is the recomputed reliability picture for one tick.
type State struct {
	EffectiveMinSoCPct float64
	DynamicCushionPct  float64
	PVConfidence       Confidence
	LoadConfidence     Confidence
	OutageRiskScore    float64
	ComputedAt         time.Time
}

// GuardrailLevel classifies the overnight survivability situation.
type GuardrailLevel int

const (
	GuardrailNormal GuardrailLevel = iota
	GuardrailWarning
	GuardrailCritical
)

// String returns a human-readable representation of the level.
func (l GuardrailLevel) String() string {
	switch l {
	case GuardrailWarning:
		return "warning"
	case GuardrailCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Calculator computes the effective minimum SOC each tick. It is owned by the
// tick loop; the Auto-Tuner reads snapshots and replaces tunables atomically.
type Calculator struct {
	cfg Config
	log logger.Logger

	tunables atomic.Pointer[Tunables]
	snapshot atomic.Pointer[State]

	pvAccuracy   *accuracyRing
	loadAccuracy *accuracyRing
	outages      []time.Time
	lastWarning  time.Time
}

// NewCalculator creates a Calculator.
func NewCalculator(cfg Config, log logger.Logger) *Calculator {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	c := &Calculator{
		cfg:          cfg,
		log:          log,
		pvAccuracy:   newAccuracyRing(),
		loadAccuracy: newAccuracyRing(),
	}
	tun := cfg.Tunables
	c.tunables.Store(&tun)
	return c
}

// HardFloorPct returns the configured absolute minimum SOC.
func (c *Calculator) HardFloorPct() float64 { return c.cfg.HardFloorPct }

// CriticalSoCPct returns the threshold forcing emergency behaviour. When the
// device reports its own emergency threshold the higher of the two wins; the
// device value never lowers the configured one.
func (c *Calculator) CriticalSoCPct(device model.Metric) float64 {
	crit := c.cfg.CriticalSoCPct
	if device.Valid && device.Value > crit {
		if device.Value-crit > 5 {
			c.log.Warnf("device emergency soc %.1f%% well above configured %.1f%%, using device value", device.Value, crit)
		}
		crit = device.Value
	}
	return crit
}

// AddAccuracySample records one hourly actual/forecast ratio pair.
func (c *Calculator) AddAccuracySample(pvRatio, loadRatio float64) {
	c.pvAccuracy.Add(pvRatio)
	c.loadAccuracy.Add(loadRatio)
}

// RecordOutage notes an outage event for the risk buffer and the Auto-Tuner.
func (c *Calculator) RecordOutage(at time.Time) {
	c.outages = append(c.outages, at)
	cutoff := at.Add(-30 * 24 * time.Hour)
	i := 0
	for ; i < len(c.outages); i++ {
		if !c.outages[i].Before(cutoff) {
			break
		}
	}
	c.outages = c.outages[i:]
}

// Tunables returns the current tunable parameters.
func (c *Calculator) Tunables() Tunables { return *c.tunables.Load() }

// SetTunables replaces the tunables, clamped to the configured bounds.
func (c *Calculator) SetTunables(t Tunables) {
	clamped := c.cfg.Bounds.Clamp(t)
	c.tunables.Store(&clamped)
	c.log.Infof("reliability tunables updated: base=%.1f%% cushion_cap=%.1f%%", clamped.BaseBufferPct, clamped.MaxCushionPct)
}

// Snapshot returns the last computed state, for cross-cadence readers.
func (c *Calculator) Snapshot() (State, bool) {
	s := c.snapshot.Load()
	if s == nil {
		return State{}, false
	}
	return *s, true
}

// Compute recalculates the effective minimum SOC for this tick.
func (c *Calculator) Compute(now time.Time, f model.EnergyForecast, gridAvailable, gridUnstable bool) State {
	tun := *c.tunables.Load()

	pvCV := c.pvAccuracy.CV()
	loadCV := c.loadAccuracy.CV()

	cushion := tun.BaseBufferPct

	risk := c.outageRisk(now)
	if risk > 0 {
		cushion += tun.OutageBufferPct * risk
	}

	// Forecast-uncertainty buffer: low accuracy means low confidence means a
	// larger buffer.
	worstCV := pvCV
	if loadCV > worstCV {
		worstCV = loadCV
	}
	cushion += tun.UncertaintyScalePct * worstCV

	if c.nightLoadVolatile(f) {
		cushion += tun.NightLoadBufferPct
	}

	if gridUnstable && c.riskyHour(now) {
		cushion += tun.InstabilityBufferPct
		if now.Sub(c.lastWarning) >= time.Duration(c.cfg.WarningCooldownSeconds)*time.Second {
			c.log.Warnf("grid instability detected, raising reliability floor by %.1f%%", tun.InstabilityBufferPct)
			c.lastWarning = now
		}
	}

	if cushion > tun.MaxCushionPct {
		cushion = tun.MaxCushionPct
	}

	margin := 0.0
	if gridAvailable {
		margin = c.cfg.OnGridMarginPct
	}

	st := State{
		EffectiveMinSoCPct: c.cfg.HardFloorPct + cushion + margin,
		DynamicCushionPct:  cushion,
		PVConfidence:       confidenceFromCV(pvCV),
		LoadConfidence:     confidenceFromCV(loadCV),
		OutageRiskScore:    risk,
		ComputedAt:         now,
	}
	c.snapshot.Store(&st)
	return st
}

// Guardrail classifies the overnight situation. Critical authorizes the plan
// builder to accept costlier tariff windows to avoid an overnight blackout.
func (c *Calculator) Guardrail(projectedSunsetSoCPct, nightLoadKWh, capacityKWh float64, gridChargeScheduled bool) GuardrailLevel {
	if capacityKWh <= 0 {
		return GuardrailWarning
	}
	floor := c.cfg.HardFloorPct
	if s, ok := c.Snapshot(); ok {
		floor = s.EffectiveMinSoCPct
	}
	nightDrainPct := nightLoadKWh / capacityKWh * 100
	endSoC := projectedSunsetSoCPct - nightDrainPct
	switch {
	case endSoC < c.cfg.HardFloorPct && !gridChargeScheduled:
		return GuardrailCritical
	case endSoC < floor:
		return GuardrailWarning
	default:
		return GuardrailNormal
	}
}

// outageRisk scores recent outage history in [0,1].
func (c *Calculator) outageRisk(now time.Time) float64 {
	cutoff := now.Add(-time.Duration(c.cfg.OutageLookbackHours) * time.Hour)
	n := 0
	for _, o := range c.outages {
		if o.After(cutoff) {
			n++
		}
	}
	risk := float64(n) / 3
	if risk > 1 {
		risk = 1
	}
	return risk
}

// nightLoadVolatile reports whether the forecast night load itself swings
// enough to warrant an extra buffer.
func (c *Calculator) nightLoadVolatile(f model.EnergyForecast) bool {
	var loads []float64
	for h := 20; h < 24; h++ {
		loads = append(loads, f.Today[h].LoadKWh)
	}
	for h := 0; h < 6; h++ {
		loads = append(loads, f.Tomorrow[h].LoadKWh)
	}
	mean, std := stat.MeanStdDev(loads, nil)
	if mean <= 0 {
		return false
	}
	return std/mean > 0.5
}

// riskyHour marks evening and night hours where an instability warning is
// actionable.
func (c *Calculator) riskyHour(now time.Time) bool {
	h := now.Hour()
	return h >= 17 || h < 7
}
