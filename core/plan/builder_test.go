package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vperret/gridpilot/core/model"
)

func sunnyForecast(factor float64) model.EnergyForecast {
	var f model.EnergyForecast
	for h := 0; h < 24; h++ {
		pv := 0.0
		if h >= 7 && h < 19 {
			pv = 2.5 * factor
		}
		f.Today[h] = model.HourlyEnergy{PVKWh: pv, LoadKWh: 0.6}
		f.Tomorrow[h] = f.Today[h]
	}
	f.WeatherFactorToday = factor
	f.WeatherFactorTomorrow = factor
	return f
}

func baseInputs(now time.Time) Inputs {
	return Inputs{
		Now:         now,
		Forecast:    sunnyForecast(1),
		Battery:     model.BatteryState{SoCPct: 50, CapacityKWh: 10},
		FloorPct:    25,
		CriticalPct: 15,
		SunriseHour: 7,
		SunsetHour:  19,

		GridAvailable: true,
		CurrentPVW:    3000,
		CurrentLoadW:  500,
	}
}

func at(hour int) time.Time {
	return time.Date(2026, 6, 15, hour, 0, 0, 0, time.UTC)
}

func TestBuild_CriticalLowSoCForcesGridCharge(t *testing.T) {
	b := NewBuilder(Config{MaxChargePowerW: 4000}, nil)
	in := baseInputs(at(10))
	in.Battery.SoCPct = 15
	in.CriticalPct = 18
	in.FloorPct = 20
	in.Forecast = sunnyForecast(0.2)

	p := b.Build(in)

	assert.True(t, p.UseGrid)
	assert.True(t, p.Critical)
	require.NotEmpty(t, p.Windows)
	first := p.Windows[0]
	assert.Equal(t, "emergency-charge", first.Name)
	assert.Equal(t, model.WindowCharge, first.Type)
	assert.Equal(t, in.Now, first.Start)
	for _, w := range p.Windows {
		if w.Type == model.WindowDischarge {
			assert.GreaterOrEqual(t, w.TargetSoCPct, 20.0)
		}
	}
}

func TestBuild_CriticalNoGridTightensDischarge(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(10))
	in.Battery.SoCPct = 10
	in.GridAvailable = false

	p := b.Build(in)

	assert.True(t, p.Critical)
	assert.False(t, p.UseGrid)
	require.NotEmpty(t, p.Windows)
	assert.Equal(t, "emergency-hold", p.Windows[0].Name)
	assert.Equal(t, in.FloorPct, p.Windows[0].TargetSoCPct)
}

func TestBuild_AbundantSolarSelfUse(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(10))
	in.Battery.SoCPct = 85
	in.CurrentPVW = 6000
	in.CurrentLoadW = 400

	p := b.Build(in)

	assert.True(t, p.SolarSufficient)
	assert.Equal(t, ModeSelfUse, p.WorkMode)
	assert.False(t, p.UseGrid)
	assert.Zero(t, p.GridShortfallKWh)
	for _, w := range p.Windows {
		assert.NotEqual(t, "morning-charge", w.Name)
	}
}

func TestBuild_PeakDischargeOnlyWithPeakTariff(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(10))
	in.Battery.SoCPct = 85
	in.CurrentPVW = 6000

	hasWindow := func(p Plan, name string) bool {
		for _, w := range p.Windows {
			if w.Name == name {
				return true
			}
		}
		return false
	}

	p := b.Build(in)
	assert.False(t, hasWindow(p, "peak-discharge"))

	in.Tariffs = []model.TariffWindow{{
		Kind:           model.TariffPeak,
		StartMinute:    19 * 60,
		EndMinute:      22 * 60,
		AllowDischarge: true,
	}}
	p = b.Build(in)
	assert.True(t, hasWindow(p, "peak-discharge"))
}

func TestBuild_FloorInvariant(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(14))
	in.FloorPct = 35
	in.Battery.SoCPct = 90
	in.Tariffs = []model.TariffWindow{{
		Kind:           model.TariffPeak,
		StartMinute:    19 * 60,
		EndMinute:      22 * 60,
		AllowDischarge: true,
	}}

	p := b.Build(in)
	for _, w := range p.Windows {
		if w.Type == model.WindowDischarge {
			assert.GreaterOrEqual(t, w.TargetSoCPct, 35.0, "window %s", w.Name)
		}
	}
}

func TestBuild_ShortWindowOverride(t *testing.T) {
	b := NewBuilder(Config{MaxChargePowerW: 4200}, nil)
	// One hour left before the solar deadline (17:00 for sunset 19:00).
	in := baseInputs(at(16))
	in.Battery.SoCPct = 30
	in.Forecast = sunnyForecast(0.3)
	in.CurrentPVW = 500
	in.CurrentLoadW = 800

	p := b.Build(in)
	require.False(t, p.SolarSufficient)

	var solar *model.DispatchWindow
	for i := range p.Windows {
		if p.Windows[i].Name == "solar-charge" {
			solar = &p.Windows[i]
		}
	}
	require.NotNil(t, solar)
	assert.Equal(t, 4200.0, solar.PowerW, "short window must force max charge power")
}

func TestBuild_MorningShortfallWindow(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(8))
	in.Battery.SoCPct = 28
	in.FloorPct = 25
	in.Forecast = sunnyForecast(0.2)
	in.CurrentPVW = 200
	in.CurrentLoadW = 900

	p := b.Build(in)
	require.False(t, p.SolarSufficient)

	var found bool
	for _, w := range p.Windows {
		if w.Name == "morning-charge" {
			found = true
			assert.Equal(t, model.WindowCharge, w.Type)
			assert.Greater(t, w.PowerW, 0.0)
		}
	}
	assert.True(t, found)
}

func TestBuild_NightWindowSizedToMaxNightLoad(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(12))
	in.Forecast.Today[22].LoadKWh = 1.8 // evening spike

	p := b.Build(in)

	var night *model.DispatchWindow
	for i := range p.Windows {
		if p.Windows[i].Name == "night-discharge" {
			night = &p.Windows[i]
		}
	}
	require.NotNil(t, night)
	assert.InDelta(t, 1800, night.PowerW, 0.1)
	assert.Equal(t, in.FloorPct, night.TargetSoCPct)
	assert.Equal(t, 7, night.End.Hour())
	assert.Equal(t, 16, night.End.Day(), "night window ends at sunrise tomorrow")
}

func TestBuild_HighSoCBoostsDischarge(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(12))

	in.Battery.SoCPct = 60
	base := b.Build(in)

	in.Battery.SoCPct = 85
	boosted := b.Build(in)

	nightPower := func(p Plan) float64 {
		for _, w := range p.Windows {
			if w.Name == "night-discharge" {
				return w.PowerW
			}
		}
		return 0
	}
	assert.Greater(t, nightPower(boosted), nightPower(base))
}

func TestBuild_WindowBudget(t *testing.T) {
	b := NewBuilder(Config{MaxWindows: 2}, nil)
	in := baseInputs(at(8))
	in.Battery.SoCPct = 28
	in.Forecast = sunnyForecast(0.2)
	in.CurrentPVW = 100
	in.CurrentLoadW = 900
	in.Tariffs = []model.TariffWindow{{
		Kind:           model.TariffPeak,
		StartMinute:    19 * 60,
		EndMinute:      22 * 60,
		AllowDischarge: true,
	}}

	p := b.Build(in)
	assert.LessOrEqual(t, len(p.Windows), 2)
}

func TestBuild_ActivePeakBandDefersGridCharge(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(20))
	in.Forecast = sunnyForecast(0.2)
	in.CurrentPVW = 0
	in.CurrentLoadW = 800
	in.Tariffs = []model.TariffWindow{{
		Kind:        model.TariffPeak,
		StartMinute: 19 * 60,
		EndMinute:   22 * 60,
	}}

	p := b.Build(in)
	require.False(t, p.SolarSufficient)
	assert.False(t, p.UseGrid, "grid charge must wait out the peak band")

	// A critical guardrail overrides the cost objection.
	in.AllowCostlyGrid = true
	p = b.Build(in)
	assert.True(t, p.UseGrid)
}

func TestBuild_PeakWindowCoversPartialHour(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	in := baseInputs(at(10))
	in.Battery.SoCPct = 85
	in.Tariffs = []model.TariffWindow{{
		Kind:           model.TariffPeak,
		StartMinute:    19 * 60,
		EndMinute:      21*60 + 30,
		AllowDischarge: true,
	}}

	p := b.Build(in)
	var peak *model.DispatchWindow
	for i := range p.Windows {
		if p.Windows[i].Name == "peak-discharge" {
			peak = &p.Windows[i]
		}
	}
	require.NotNil(t, peak)
	assert.Equal(t, 19, peak.Start.Hour())
	assert.Equal(t, 22, peak.End.Hour(), "band ending mid-hour still covers its final hour")
}

func TestTrim_DropsLowestEnergyWindow(t *testing.T) {
	b := NewBuilder(Config{MaxWindows: 2}, nil)
	now := at(10)
	p := Plan{Windows: []model.DispatchWindow{
		{Name: "solar-charge", Start: now, End: now.Add(4 * time.Hour), PowerW: 3000, Enabled: true},
		{Name: "top-up", Start: now, End: now.Add(time.Hour), PowerW: 500, Enabled: true},
		{Name: "night-discharge", Start: now, End: now.Add(8 * time.Hour), PowerW: 1000, Enabled: true},
	}}

	b.trim(&p)
	require.Len(t, p.Windows, 2)
	assert.Equal(t, "solar-charge", p.Windows[0].Name)
	assert.Equal(t, "night-discharge", p.Windows[1].Name)
}

func TestBuild_PlanningNeverBlocks(t *testing.T) {
	b := NewBuilder(Config{}, nil)
	// Zero forecast, zero telemetry: still returns a plan.
	in := Inputs{
		Now:         at(12),
		Battery:     model.BatteryState{SoCPct: 50, CapacityKWh: 10},
		FloorPct:    20,
		CriticalPct: 15,
		SunriseHour: 7,
		SunsetHour:  19,
	}
	p := b.Build(in)
	assert.NotEmpty(t, p.Windows)
}
