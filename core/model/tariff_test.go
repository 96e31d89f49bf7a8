package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestTariffWindow_Contains(t *testing.T) {
	day := TariffWindow{Kind: TariffPeak, StartMinute: 17 * 60, EndMinute: 20 * 60}
	assert.False(t, day.Contains(at(16, 59)))
	assert.True(t, day.Contains(at(17, 0)))
	assert.True(t, day.Contains(at(19, 59)))
	assert.False(t, day.Contains(at(20, 0)))
}

func TestTariffWindow_MidnightWrap(t *testing.T) {
	night := TariffWindow{Kind: TariffCheap, StartMinute: 23 * 60, EndMinute: 6 * 60}
	assert.True(t, night.Contains(at(23, 30)))
	assert.True(t, night.Contains(at(2, 0)))
	assert.True(t, night.Contains(at(5, 59)))
	assert.False(t, night.Contains(at(6, 0)))
	assert.False(t, night.Contains(at(12, 0)))
}

func TestTariffWindow_ZeroLengthMatchesNothing(t *testing.T) {
	w := TariffWindow{StartMinute: 8 * 60, EndMinute: 8 * 60}
	assert.False(t, w.Contains(at(8, 0)))
	assert.False(t, w.ContainsHour(8))
}

func TestTariffWindow_ContainsHour(t *testing.T) {
	w := TariffWindow{StartMinute: 17*60 + 30, EndMinute: 18 * 60}
	assert.True(t, w.ContainsHour(17))
	assert.False(t, w.ContainsHour(18))
}

func TestActiveTariff_PrefersPeakOverOverlap(t *testing.T) {
	windows := []TariffWindow{
		{Kind: TariffNormal, StartMinute: 0, EndMinute: 24 * 60},
		{Kind: TariffPeak, StartMinute: 17 * 60, EndMinute: 20 * 60},
	}
	w, ok := ActiveTariff(windows, at(18, 0))
	require.True(t, ok)
	assert.Equal(t, TariffPeak, w.Kind)

	w, ok = ActiveTariff(windows, at(10, 0))
	require.True(t, ok)
	assert.Equal(t, TariffNormal, w.Kind)
}

func TestParseTariffKind(t *testing.T) {
	k, err := ParseTariffKind("cheap")
	require.NoError(t, err)
	assert.Equal(t, TariffCheap, k)

	k, err = ParseTariffKind("")
	require.NoError(t, err)
	assert.Equal(t, TariffNormal, k)

	_, err = ParseTariffKind("free")
	require.Error(t, err)
}

func TestDispatchWindow_EnergyAndStale(t *testing.T) {
	w := DispatchWindow{
		Name:   "night-charge",
		Start:  at(23, 0),
		End:    at(23, 0).Add(2 * time.Hour),
		Type:   WindowCharge,
		PowerW: 3000,
	}
	assert.InDelta(t, 6.0, w.EnergyKWh(), 1e-9)
	assert.False(t, w.Stale(at(23, 30)))
	assert.True(t, w.Stale(at(23, 0).Add(3*time.Hour)))

	inverted := DispatchWindow{Start: at(10, 0), End: at(9, 0)}
	assert.Zero(t, inverted.Duration())
}

func TestTelemetrySnapshot_TotalGridPower(t *testing.T) {
	tel := TelemetrySnapshot{}
	tel.GridPowerW[0] = MetricOf(1000)
	tel.GridPowerW[2] = MetricOf(500)
	assert.InDelta(t, 1500, tel.TotalGridPowerW(), 1e-9)
}

func TestTelemetrySnapshot_OffGridMode(t *testing.T) {
	assert.True(t, TelemetrySnapshot{WorkMode: "eps"}.OffGridMode())
	assert.False(t, TelemetrySnapshot{WorkMode: "self-use"}.OffGridMode())
}

func TestMetric_Or(t *testing.T) {
	assert.Equal(t, 42.0, Metric{}.Or(42))
	assert.Equal(t, 7.0, MetricOf(7).Or(42))
}
