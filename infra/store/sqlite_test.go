package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vperret/gridpilot/core/backtest"
	coremetrics "github.com/vperret/gridpilot/core/metrics"
	"github.com/vperret/gridpilot/core/reliability"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gridpilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConfigValueRoundTrip(t *testing.T) {
	s := newStore(t)

	_, _, found, err := s.Value("base_buffer_pct")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetValue("base_buffer_pct", 5, "default"))
	require.NoError(t, s.SetValue("base_buffer_pct", 8, "auto-tuner"))

	v, source, found, err := s.Value("base_buffer_pct")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 8.0, v)
	assert.Equal(t, "auto-tuner", source)
}

func TestSaveSnapshot(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveSnapshot(reliability.State{
		EffectiveMinSoCPct: 32,
		DynamicCushionPct:  7,
		ComputedAt:         time.Now(),
	}))
}

func TestRecentOutcomes(t *testing.T) {
	s := newStore(t)

	base := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveOutcome(backtest.DayOutcome{
			Date:         base.AddDate(0, 0, i),
			SunsetSoCPct: 90,
			SunriseSoC:   40,
			NightLoadKWh: 5,
			CapacityKWh:  10,
		}))
	}

	got, err := s.RecentOutcomes(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Date.Before(got[1].Date))
	assert.Equal(t, base.AddDate(0, 0, 4).Truncate(24*time.Hour), got[2].Date)
}

func TestSaveOutcomeUpsertsByDay(t *testing.T) {
	s := newStore(t)

	day := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	require.NoError(t, s.SaveOutcome(backtest.DayOutcome{Date: day, SunsetSoCPct: 80, CapacityKWh: 10}))
	require.NoError(t, s.SaveOutcome(backtest.DayOutcome{Date: day.Add(time.Hour), SunsetSoCPct: 85, CapacityKWh: 10}))

	got, err := s.RecentOutcomes(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 85.0, got[0].SunsetSoCPct)
}

func TestSaveSetpoint(t *testing.T) {
	s := newStore(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSetpoint(coremetrics.SplitRecord{
		Time:       at,
		InverterID: "inv-1",
		TargetW:    3000,
		ChargeW:    1500,
		HeadroomW:  5000,
		RatedW:     5000,
	}))
	require.NoError(t, s.SaveSetpoint(coremetrics.SplitRecord{
		Time:       at,
		InverterID: "inv-2",
		TargetW:    3000,
		ChargeW:    1500,
		HeadroomW:  5000,
		RatedW:     5000,
	}))

	var count int
	var target float64
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*), MAX(target_w) FROM setpoints`).Scan(&count, &target))
	assert.Equal(t, 2, count)
	assert.Equal(t, 3000.0, target)
}

func TestSetpointSink_PersistsSplits(t *testing.T) {
	s := newStore(t)
	sink := NewSetpointSink(s, nil)

	sink.RecordSplit(coremetrics.SplitRecord{
		Time:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		InverterID: "inv-1",
		TargetW:    2000,
		DischargeW: 2000,
	})

	var id string
	var discharge float64
	require.NoError(t, s.db.QueryRow(`SELECT inverter_id, discharge_w FROM setpoints`).Scan(&id, &discharge))
	assert.Equal(t, "inv-1", id)
	assert.Equal(t, 2000.0, discharge)
	assert.NoError(t, sink.Close())
}
