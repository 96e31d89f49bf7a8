package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSolar struct {
	today, tomorrow [24]float64
	wToday          float64
	wTomorrow       float64
	err             error
	calls           int
}

func (s *stubSolar) Solar(_ context.Context, _ time.Time) ([24]float64, [24]float64, float64, float64, error) {
	s.calls++
	return s.today, s.tomorrow, s.wToday, s.wTomorrow, s.err
}

type stubLoad struct {
	today, tomorrow [24]float64
	err             error
}

func (s *stubLoad) Load(_ context.Context, _ time.Time) ([24]float64, [24]float64, error) {
	return s.today, s.tomorrow, s.err
}

func sunnyDay() [24]float64 {
	var d [24]float64
	for h := 9; h < 17; h++ {
		d[h] = 3
	}
	return d
}

func flatLoad() [24]float64 {
	var d [24]float64
	for h := range d {
		d[h] = 0.5
	}
	return d
}

func TestGet_CachesWithinTTL(t *testing.T) {
	solar := &stubSolar{today: sunnyDay(), tomorrow: sunnyDay(), wToday: 0.9, wTomorrow: 0.9}
	agg := NewAggregator(Config{TTLSeconds: 1800}, solar, &stubLoad{today: flatLoad(), tomorrow: flatLoad()})

	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	_, fresh := agg.Get(context.Background(), now)
	require.True(t, fresh)

	agg.Get(context.Background(), now.Add(10*time.Minute))
	assert.Equal(t, 1, solar.calls)

	agg.Get(context.Background(), now.Add(31*time.Minute))
	assert.Equal(t, 2, solar.calls)
}

func TestGet_ProviderFailureFallsBackToCache(t *testing.T) {
	solar := &stubSolar{today: sunnyDay(), tomorrow: sunnyDay(), wToday: 0.9, wTomorrow: 0.9}
	agg := NewAggregator(Config{TTLSeconds: 60}, solar, &stubLoad{today: flatLoad(), tomorrow: flatLoad()})

	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	first, _ := agg.Get(context.Background(), now)

	solar.err = errors.New("api down")
	second, fresh := agg.Get(context.Background(), now.Add(2*time.Minute))
	assert.False(t, fresh)
	assert.Equal(t, first.DailyPVKWh(), second.DailyPVKWh())
}

func TestGet_NoCacheFallsBackToSeasonal(t *testing.T) {
	solar := &stubSolar{err: errors.New("api down")}
	agg := NewAggregator(Config{}, solar, &stubLoad{})

	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	f, fresh := agg.Get(context.Background(), now)
	assert.False(t, fresh)
	assert.Greater(t, f.DailyPVKWh(), 0.0)
	assert.Greater(t, f.DailyLoadKWh(), 0.0)
}

func TestGet_DegradedForecastShrunk(t *testing.T) {
	solar := &stubSolar{today: sunnyDay(), tomorrow: sunnyDay(), wToday: 0.05, wTomorrow: 0.9}
	agg := NewAggregator(Config{}, solar, &stubLoad{today: flatLoad(), tomorrow: flatLoad()})

	f, _ := agg.Get(context.Background(), time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	// 8 hours at 3 kWh = 24 kWh, shrunk 20% today.
	assert.InDelta(t, 24*0.8, f.DailyPVKWh(), 0.01)
}

func TestDegraded_DayDivergence(t *testing.T) {
	var today, tomorrow [24]float64
	today[12] = 20
	tomorrow[12] = 2

	solar := &stubSolar{today: today, tomorrow: tomorrow, wToday: 0.9, wTomorrow: 0.9}
	agg := NewAggregator(Config{}, solar, &stubLoad{})

	f, _ := agg.Get(context.Background(), time.Now())
	assert.InDelta(t, 20*0.8, f.DailyPVKWh(), 0.01)
}

func TestSeasonalDefault_HemisphereMirror(t *testing.T) {
	june := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	north := SeasonalDefault(june, 48.8)
	south := SeasonalDefault(june, -33.9)
	assert.Greater(t, north.DailyPVKWh(), south.DailyPVKWh())
}

func TestShrink(t *testing.T) {
	solar := &stubSolar{today: sunnyDay(), tomorrow: sunnyDay(), wToday: 0.9, wTomorrow: 0.9}
	agg := NewAggregator(Config{}, solar, &stubLoad{today: flatLoad(), tomorrow: flatLoad()})

	f, _ := agg.Get(context.Background(), time.Now())
	s := Shrink(f)
	assert.InDelta(t, f.Today[12].PVKWh*0.8, s.Today[12].PVKWh, 1e-9)
	assert.InDelta(t, f.Tomorrow[12].PVKWh*0.85, s.Tomorrow[12].PVKWh, 1e-9)
	assert.Equal(t, f.Today[12].LoadKWh, s.Today[12].LoadKWh)
}
