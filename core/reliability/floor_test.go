package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vperret/gridpilot/core/model"
)

func flatForecast(loadKWh float64) model.EnergyForecast {
	var f model.EnergyForecast
	for h := 0; h < 24; h++ {
		f.Today[h] = model.HourlyEnergy{LoadKWh: loadKWh}
		f.Tomorrow[h] = model.HourlyEnergy{LoadKWh: loadKWh}
	}
	f.WeatherFactorToday = 1
	f.WeatherFactorTomorrow = 1
	return f
}

func TestCompute_FloorNeverBelowHardFloor(t *testing.T) {
	c := NewCalculator(Config{HardFloorPct: 20}, nil)
	now := time.Now()

	for _, grid := range []bool{true, false} {
		st := c.Compute(now, flatForecast(0.5), grid, false)
		assert.GreaterOrEqual(t, st.EffectiveMinSoCPct, 20.0, "grid=%v", grid)
	}
}

func TestCompute_CushionCapped(t *testing.T) {
	c := NewCalculator(Config{HardFloorPct: 20}, nil)
	now := time.Now()

	// Pile on every buffer: outages, low accuracy, volatile night load.
	for i := 0; i < 5; i++ {
		c.RecordOutage(now.Add(-time.Duration(i) * time.Hour))
	}
	for i := 0; i < accuracyWindow; i++ {
		r := 0.3
		if i%2 == 0 {
			r = 1.9
		}
		c.AddAccuracySample(r, r)
	}
	f := flatForecast(0.2)
	for h := 20; h < 24; h++ {
		f.Today[h].LoadKWh = 3
	}

	st := c.Compute(now, f, false, true)
	tun := c.Tunables()
	assert.LessOrEqual(t, st.DynamicCushionPct, tun.MaxCushionPct)
	assert.InDelta(t, 20+tun.MaxCushionPct, st.EffectiveMinSoCPct, 0.001)
}

func TestCompute_OnGridFloorHigher(t *testing.T) {
	c := NewCalculator(Config{HardFloorPct: 20}, nil)
	now := time.Now()

	on := c.Compute(now, flatForecast(0.5), true, false)
	off := c.Compute(now, flatForecast(0.5), false, false)
	assert.Greater(t, on.EffectiveMinSoCPct, off.EffectiveMinSoCPct)
	assert.GreaterOrEqual(t, off.EffectiveMinSoCPct, 20.0)
}

func TestCompute_LowAccuracyLowersConfidence(t *testing.T) {
	c := NewCalculator(Config{}, nil)
	now := time.Now()

	st := c.Compute(now, flatForecast(0.5), true, false)
	require.Equal(t, ConfidenceHigh, st.PVConfidence)
	base := st.DynamicCushionPct

	for i := 0; i < accuracyWindow; i++ {
		r := 0.4
		if i%2 == 0 {
			r = 1.8
		}
		c.AddAccuracySample(r, 1.0)
	}
	st = c.Compute(now, flatForecast(0.5), true, false)
	assert.Equal(t, ConfidenceLow, st.PVConfidence)
	assert.Equal(t, ConfidenceHigh, st.LoadConfidence)
	assert.Greater(t, st.DynamicCushionPct, base)
}

func TestCompute_InstabilityWarningCooldown(t *testing.T) {
	c := NewCalculator(Config{WarningCooldownSeconds: 300}, nil)
	evening := time.Date(2026, 1, 10, 19, 0, 0, 0, time.UTC)

	c.Compute(evening, flatForecast(0.5), true, true)
	first := c.lastWarning
	require.False(t, first.IsZero())

	// Within the cooldown the warning timestamp must not advance.
	c.Compute(evening.Add(time.Minute), flatForecast(0.5), true, true)
	assert.Equal(t, first, c.lastWarning)

	c.Compute(evening.Add(6*time.Minute), flatForecast(0.5), true, true)
	assert.True(t, c.lastWarning.After(first))
}

func TestSetTunables_Clamped(t *testing.T) {
	c := NewCalculator(Config{}, nil)
	c.SetTunables(Tunables{BaseBufferPct: 99, MaxCushionPct: 99})
	tun := c.Tunables()
	assert.Equal(t, 15.0, tun.BaseBufferPct)
	assert.Equal(t, 40.0, tun.MaxCushionPct)
}

func TestGuardrail(t *testing.T) {
	c := NewCalculator(Config{HardFloorPct: 20}, nil)
	c.Compute(time.Now(), flatForecast(0.5), true, false)

	// 10 kWh battery, 60% at sunset, 1 kWh night load: plenty of margin.
	assert.Equal(t, GuardrailNormal, c.Guardrail(60, 1, 10, false))

	// Night load would end below the hard floor with no grid charge planned.
	assert.Equal(t, GuardrailCritical, c.Guardrail(40, 3, 10, false))

	// Same deficit with a grid-charge window scheduled is only a warning.
	assert.Equal(t, GuardrailWarning, c.Guardrail(40, 3, 10, true))
}

func TestCriticalSoCPct_DevicePrecedence(t *testing.T) {
	c := NewCalculator(Config{CriticalSoCPct: 15}, nil)

	assert.Equal(t, 15.0, c.CriticalSoCPct(model.Metric{}))
	assert.Equal(t, 15.0, c.CriticalSoCPct(model.MetricOf(10)))
	assert.Equal(t, 18.0, c.CriticalSoCPct(model.MetricOf(18)))
}

func TestOutageRisk_Bounded(t *testing.T) {
	c := NewCalculator(Config{}, nil)
	now := time.Now()
	for i := 0; i < 10; i++ {
		c.RecordOutage(now.Add(-time.Duration(i) * time.Hour))
	}
	assert.Equal(t, 1.0, c.outageRisk(now))
	assert.Equal(t, 0.0, c.outageRisk(now.Add(100*24*time.Hour)))
}
