package forecast

import (
	"context"
	"sync"
	"time"
)

// profileDays is how many days back the hourly averages reach.
const profileDays = 14

// recentWeight blends the learned average against the seasonal shape so a
// few unusual days cannot fully displace the prior.
const recentWeight = 0.7

// TelemetryProfiler learns the household's hourly load profile from observed
// consumption. Until an hour has real samples its seasonal default is used.
type TelemetryProfiler struct {
	mu sync.Mutex
	// sums and counts are per hour-of-day rings over the trailing days.
	sums   [24]float64
	counts [24]int
}

// NewTelemetryProfiler creates an empty profiler.
func NewTelemetryProfiler() *TelemetryProfiler {
	return &TelemetryProfiler{}
}

// Observe records one hour's consumed energy.
func (p *TelemetryProfiler) Observe(at time.Time, kwh float64) {
	if kwh < 0 {
		return
	}
	h := at.Hour()
	p.mu.Lock()
	defer p.mu.Unlock()
	// Exponential-style cap: old days wash out instead of growing forever.
	if p.counts[h] >= profileDays {
		p.sums[h] -= p.sums[h] / float64(p.counts[h])
		p.counts[h]--
	}
	p.sums[h] += kwh
	p.counts[h]++
}

// Load implements LoadProfiler: hours with samples get a 70/30 blend of the
// learned average and the seasonal shape, the rest fall back to seasonal.
func (p *TelemetryProfiler) Load(_ context.Context, now time.Time) (today, tomorrow [24]float64, err error) {
	fallback := SeasonalDefault(now, 0)
	p.mu.Lock()
	defer p.mu.Unlock()
	for h := 0; h < 24; h++ {
		v := fallback.Today[h].LoadKWh
		if p.counts[h] > 0 {
			learned := p.sums[h] / float64(p.counts[h])
			v = recentWeight*learned + (1-recentWeight)*v
		}
		today[h] = v
		tomorrow[h] = v
	}
	return today, tomorrow, nil
}
