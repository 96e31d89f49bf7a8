package plan

import (
	"time"

	"github.com/vperret/gridpilot/core/logger"
	"github.com/vperret/gridpilot/core/model"
)

// Config holds the planner tunables.
type Config struct {
	// TargetSoCPct is the end-of-day state of charge the planner aims for.
	TargetSoCPct float64 `json:"target_soc_pct"`
	// SolarDeadlineHours is how many hours before sunset solar-first charging
	// is still attempted before falling back to other strategies.
	SolarDeadlineHours int `json:"solar_deadline_hours"`
	// SolarMarginPct shrinks the daily excess-solar estimate as a safety margin.
	SolarMarginPct float64 `json:"solar_margin_pct"`
	// MaxChargePowerW and MaxDischargePowerW are configured ceilings.
	MaxChargePowerW    float64 `json:"max_charge_power_w"`
	MaxDischargePowerW float64 `json:"max_discharge_power_w"`
	// MaxWindows bounds the emitted window count; device capability may lower it.
	MaxWindows int `json:"max_windows"`
	// LowSoCPct and HighSoCPct drive the post-hoc power adjustment.
	LowSoCPct  float64 `json:"low_soc_pct"`
	HighSoCPct float64 `json:"high_soc_pct"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TargetSoCPct == 0 {
		c.TargetSoCPct = 90
	}
	if c.SolarDeadlineHours == 0 {
		c.SolarDeadlineHours = 2
	}
	if c.SolarMarginPct == 0 {
		c.SolarMarginPct = 20
	}
	if c.MaxChargePowerW == 0 {
		c.MaxChargePowerW = 5000
	}
	if c.MaxDischargePowerW == 0 {
		c.MaxDischargePowerW = 5000
	}
	if c.MaxWindows == 0 {
		c.MaxWindows = 6
	}
	if c.LowSoCPct == 0 {
		c.LowSoCPct = 30
	}
	if c.HighSoCPct == 0 {
		c.HighSoCPct = 80
	}
}

// Inputs is everything the builder needs for one tick. The builder is the
// single authoritative place where dispatch windows are computed.
type Inputs struct {
	Now      time.Time
	Forecast model.EnergyForecast
	Battery  model.BatteryState

	// FloorPct is the effective minimum SOC for this tick. No discharge
	// window may target below it.
	FloorPct    float64
	CriticalPct float64

	SunriseHour int
	SunsetHour  int

	GridAvailable bool
	Tariffs       []model.TariffWindow

	// AllowCostlyGrid is set when the overnight guardrail is critical: the
	// planner may then accept tariff windows it would normally reject.
	AllowCostlyGrid bool

	// Immediate powers from telemetry.
	CurrentPVW   float64
	CurrentLoadW float64
}

// Plan is the builder output: an ordered window list plus the scalar summary
// published every tick.
type Plan struct {
	Windows []model.DispatchWindow

	RequiredKWh      float64
	SolarSufficient  bool
	GridShortfallKWh float64
	UseGrid          bool
	Critical         bool

	// WorkMode is the single externally visible mode: "self-use" or
	// "time-based". Windows of the inactive mode must be cleared downstream.
	WorkMode     string
	TargetSoCPct float64
}

// WorkMode values asserted by the planner.
const (
	ModeSelfUse   = "self-use"
	ModeTimeBased = "time-based"
)

// Builder computes the dispatch plan deterministically from scratch each tick.
type Builder struct {
	cfg Config
	log logger.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config, log logger.Logger) *Builder {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Builder{cfg: cfg, log: log}
}

// Build computes the plan. It never refuses to plan: degraded inputs have
// already been scaled conservatively by the forecast layer, and missing data
// falls through to conservative window sizing.
func (b *Builder) Build(in Inputs) Plan {
	p := Plan{TargetSoCPct: b.cfg.TargetSoCPct, WorkMode: ModeSelfUse}

	p.RequiredKWh = in.Battery.EnergyToTargetKWh(b.cfg.TargetSoCPct)

	deadlineHour := in.SunsetHour - b.cfg.SolarDeadlineHours
	if deadlineHour < in.SunriseHour {
		deadlineHour = in.SunriseHour
	}

	p.SolarSufficient, p.GridShortfallKWh = b.assessSolar(in, p.RequiredKWh, deadlineHour)

	if in.Battery.SoCPct < in.CriticalPct {
		b.emergency(&p, in)
		b.adjust(&p, in)
		b.trim(&p)
		return p
	}

	if !p.SolarSufficient {
		p.UseGrid = in.GridAvailable
		p.WorkMode = ModeTimeBased
		// Grid charging waits out an active peak band unless the guardrail
		// has authorized costly energy.
		if w, ok := model.ActiveTariff(in.Tariffs, in.Now); ok && w.Kind == model.TariffPeak && !w.AllowGridCharge && !in.AllowCostlyGrid {
			p.UseGrid = false
		}
	}

	b.morningWindow(&p, in, deadlineHour)
	b.solarWindow(&p, in, deadlineHour)
	b.peakWindow(&p, in)
	b.nightWindow(&p, in)

	b.adjust(&p, in)
	b.trim(&p)
	return p
}

// assessSolar judges solar sufficiency two ways; it is insufficient if either
// check fails.
func (b *Builder) assessSolar(in Inputs, requiredKWh float64, deadlineHour int) (bool, float64) {
	hour := in.Now.Hour()
	hoursLeft := float64(deadlineHour - hour)
	if hoursLeft < 1 {
		hoursLeft = 1
	}

	// Immediate: available PV surplus now versus the power still required to
	// hit target by the deadline.
	surplusW := in.CurrentPVW - in.CurrentLoadW
	requiredW := requiredKWh * 1000 / hoursLeft
	immediateOK := surplusW >= requiredW

	// Cumulative: daily excess solar with safety margin versus required energy.
	excessKWh := (in.Forecast.DailyPVKWh() - in.Forecast.DailyLoadKWh()) * (1 - b.cfg.SolarMarginPct/100)
	dailyOK := excessKWh >= requiredKWh

	if immediateOK && dailyOK {
		return true, 0
	}

	// Shortfall is what solar cannot cover before the deadline.
	pvLeft := in.Forecast.PVRemainingKWh(hour, deadlineHour)
	loadLeft := in.Forecast.LoadRemainingKWh(hour, deadlineHour)
	contribution := pvLeft - loadLeft
	if contribution < 0 {
		contribution = 0
	}
	shortfall := requiredKWh - contribution
	if shortfall < 0 {
		shortfall = 0
	}
	return false, shortfall
}

// emergency handles SOC below the critical threshold. With grid available a
// grid charge is forced on; without it discharge limits are tightened instead.
func (b *Builder) emergency(p *Plan, in Inputs) {
	p.Critical = true
	if in.GridAvailable {
		p.UseGrid = true
		p.WorkMode = ModeTimeBased
		p.Windows = append(p.Windows, model.DispatchWindow{
			Name:         "emergency-charge",
			Start:        in.Now,
			End:          in.Now.Add(2 * time.Hour),
			Type:         model.WindowCharge,
			PowerW:       b.cfg.MaxChargePowerW,
			TargetSoCPct: in.FloorPct + 10,
			Enabled:      true,
		})
		b.log.Criticalf("soc %.1f%% below critical %.1f%%, forcing grid charge", in.Battery.SoCPct, in.CriticalPct)
		return
	}
	// No grid: hold whatever is left for the load.
	p.Windows = append(p.Windows, model.DispatchWindow{
		Name:         "emergency-hold",
		Start:        in.Now,
		End:          in.Now.Add(4 * time.Hour),
		Type:         model.WindowDischarge,
		PowerW:       b.minDischargeW(in),
		TargetSoCPct: in.FloorPct,
		Enabled:      true,
	})
	b.log.Criticalf("soc %.1f%% below critical %.1f%% with no grid, tightening discharge", in.Battery.SoCPct, in.CriticalPct)
}

// morningWindow covers a morning shortfall when SOC is low: net morning load
// plus the grid shortfall, spread evenly over the remaining morning hours.
func (b *Builder) morningWindow(p *Plan, in Inputs, deadlineHour int) {
	hour := in.Now.Hour()
	if hour >= 12 || p.GridShortfallKWh <= 0 || !in.GridAvailable {
		return
	}
	if in.Battery.SoCPct >= in.FloorPct+10 {
		return
	}
	netMorning := in.Forecast.LoadRemainingKWh(hour, 12) - in.Forecast.PVRemainingKWh(hour, 12)
	if netMorning < 0 {
		netMorning = 0
	}
	hoursLeft := float64(12 - hour)
	powerW := (netMorning + p.GridShortfallKWh) * 1000 / hoursLeft
	if powerW > b.cfg.MaxChargePowerW {
		powerW = b.cfg.MaxChargePowerW
	}
	if powerW <= 0 {
		return
	}
	p.Windows = append(p.Windows, model.DispatchWindow{
		Name:         "morning-charge",
		Start:        in.Now,
		End:          b.hourToday(in.Now, 12),
		Type:         model.WindowCharge,
		PowerW:       powerW,
		TargetSoCPct: b.cfg.TargetSoCPct,
		Enabled:      true,
	})
}

// solarWindow is the main charge window from now (or sunrise) to the
// solar-charge deadline.
func (b *Builder) solarWindow(p *Plan, in Inputs, deadlineHour int) {
	hour := in.Now.Hour()
	startHour := hour
	if startHour < in.SunriseHour {
		startHour = in.SunriseHour
	}
	if startHour >= deadlineHour {
		return
	}
	hoursLeft := float64(deadlineHour - startHour)

	var powerW float64
	if p.SolarSufficient {
		powerW = p.RequiredKWh * 1000 / hoursLeft
	} else {
		powerW = in.CurrentPVW
		// Short-window override: with two hours or less left and solar judged
		// insufficient there is no time left to be gentle.
		if hoursLeft <= 2 {
			powerW = b.cfg.MaxChargePowerW
		}
	}
	if powerW > b.cfg.MaxChargePowerW {
		powerW = b.cfg.MaxChargePowerW
	}
	if powerW <= 0 {
		return
	}
	p.Windows = append(p.Windows, model.DispatchWindow{
		Name:         "solar-charge",
		Start:        b.hourToday(in.Now, startHour),
		End:          b.hourToday(in.Now, deadlineHour),
		Type:         model.WindowCharge,
		PowerW:       powerW,
		TargetSoCPct: b.cfg.TargetSoCPct,
		Enabled:      true,
	})
}

// peakWindow discharges into a peak tariff band when the battery has headroom
// above the floor. Costly windows are only considered when the guardrail has
// authorized them.
func (b *Builder) peakWindow(p *Plan, in Inputs) {
	var peak *model.TariffWindow
	for i := range in.Tariffs {
		w := in.Tariffs[i]
		if w.Kind != model.TariffPeak || w.AllowGridCharge {
			continue
		}
		if !w.AllowDischarge && !in.AllowCostlyGrid {
			continue
		}
		peak = &in.Tariffs[i]
		break
	}
	if peak == nil {
		return
	}
	headroomKWh := in.Battery.EnergyAboveKWh(in.FloorPct)
	if headroomKWh <= 0 {
		return
	}

	// Extend the window over every hour the band touches, so a band ending
	// mid-hour still covers its final partial hour.
	startHour := peak.StartMinute / 60
	endHour := startHour
	for h := startHour; h < 24 && peak.ContainsHour(h); h++ {
		endHour = h + 1
	}
	if endHour <= startHour {
		endHour = startHour + 1
	}
	netPeak := in.Forecast.LoadRemainingKWh(startHour, endHour) - in.Forecast.PVRemainingKWh(startHour, endHour)
	if netPeak <= 0 {
		return
	}
	if netPeak > headroomKWh {
		netPeak = headroomKWh
	}
	hours := float64(endHour - startHour)
	powerW := netPeak * 1000 / hours
	if powerW > b.cfg.MaxDischargePowerW {
		powerW = b.cfg.MaxDischargePowerW
	}
	targetPct := in.Battery.SoCPct - netPeak/in.Battery.CapacityKWh*100
	if targetPct < in.FloorPct {
		targetPct = in.FloorPct
	}
	p.Windows = append(p.Windows, model.DispatchWindow{
		Name:         "peak-discharge",
		Start:        b.hourToday(in.Now, startHour),
		End:          b.hourToday(in.Now, endHour),
		Type:         model.WindowDischarge,
		PowerW:       powerW,
		TargetSoCPct: targetPct,
		Enabled:      true,
	})
}

// nightWindow serves load from after the last charge or peak window to
// sunrise, never targeting below the floor.
func (b *Builder) nightWindow(p *Plan, in Inputs) {
	start := b.hourToday(in.Now, in.SunsetHour)
	for _, w := range p.Windows {
		if w.End.After(start) {
			start = w.End
		}
	}
	end := b.hourToday(in.Now, in.SunriseHour).Add(24 * time.Hour)

	maxNightKWh := in.Forecast.MaxNightLoadKWh(in.SunsetHour, in.SunriseHour)
	powerW := maxNightKWh * 1000
	if powerW <= 0 {
		powerW = b.minDischargeW(in)
	}
	if powerW > b.cfg.MaxDischargePowerW {
		powerW = b.cfg.MaxDischargePowerW
	}
	p.Windows = append(p.Windows, model.DispatchWindow{
		Name:         "night-discharge",
		Start:        start,
		End:          end,
		Type:         model.WindowDischarge,
		PowerW:       powerW,
		TargetSoCPct: in.FloorPct,
		Enabled:      true,
	})
}

// adjust scales windows post-hoc for critically low or comfortably high SOC.
func (b *Builder) adjust(p *Plan, in Inputs) {
	for i := range p.Windows {
		w := &p.Windows[i]
		switch w.Type {
		case model.WindowCharge:
			if in.Battery.SoCPct < b.cfg.LowSoCPct {
				w.PowerW *= 1.5
				if w.PowerW > b.cfg.MaxChargePowerW {
					w.PowerW = b.cfg.MaxChargePowerW
				}
				if w.TargetSoCPct < b.cfg.TargetSoCPct {
					w.TargetSoCPct = b.cfg.TargetSoCPct
				}
			}
		case model.WindowDischarge:
			if in.Battery.SoCPct > b.cfg.HighSoCPct {
				w.PowerW *= 1.25
				if w.PowerW > b.cfg.MaxDischargePowerW {
					w.PowerW = b.cfg.MaxDischargePowerW
				}
			}
			// Floor invariant holds regardless of adjustments.
			if w.TargetSoCPct < in.FloorPct {
				w.TargetSoCPct = in.FloorPct
			}
		}
	}
}

// trim enforces the window budget, evicting the window that moves the least
// energy first.
func (b *Builder) trim(p *Plan) {
	for len(p.Windows) > b.cfg.MaxWindows {
		min := 0
		for i := 1; i < len(p.Windows); i++ {
			if p.Windows[i].EnergyKWh() < p.Windows[min].EnergyKWh() {
				min = i
			}
		}
		b.log.Warnf("plan over %d windows, dropping %s (%.2f kWh)", b.cfg.MaxWindows, p.Windows[min].Name, p.Windows[min].EnergyKWh())
		p.Windows = append(p.Windows[:min], p.Windows[min+1:]...)
	}
}

// minDischargeW is a conservative trickle used when the forecast gives no
// usable night load estimate.
func (b *Builder) minDischargeW(in Inputs) float64 {
	if in.CurrentLoadW > 0 {
		return in.CurrentLoadW
	}
	return 200
}

func (b *Builder) hourToday(now time.Time, hour int) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
}
