package forecast

import (
	"context"
	"time"

	"github.com/vperret/gridpilot/core/model"
)

// SolarProvider supplies the hourly PV production forecast.
type SolarProvider interface {
	// Solar returns today's and tomorrow's hourly production estimates. The
	// context carries the call deadline; implementations must respect it.
	Solar(ctx context.Context, now time.Time) (today, tomorrow [24]float64, weatherToday, weatherTomorrow float64, err error)
}

// LoadProfiler supplies the expected hourly household consumption, typically
// built from trailing telemetry.
type LoadProfiler interface {
	Load(ctx context.Context, now time.Time) (today, tomorrow [24]float64, err error)
}

// Aggregator combines the two providers into one EnergyForecast with staleness
// caching and degraded-data fallbacks.
type Aggregator struct {
	solar SolarProvider
	load  LoadProfiler
	cfg   Config

	cached    *model.EnergyForecast
	fetchedAt time.Time
}

// Config holds the aggregator settings.
type Config struct {
	// TTL is how long a fetched forecast stays fresh.
	TTLSeconds int `json:"ttl_seconds"`
	// TimeoutSeconds bounds each provider call.
	TimeoutSeconds int `json:"timeout_seconds"`
	// Latitude and Longitude locate the array for the weather provider;
	// latitude also selects the seasonal default table hemisphere.
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// PVPeakKW is the array's nameplate power used to scale irradiance.
	PVPeakKW float64 `json:"pv_peak_kw"`
	// BaseURL overrides the weather API endpoint, mainly for tests.
	BaseURL string `json:"base_url"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TTLSeconds == 0 {
		c.TTLSeconds = 1800
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

// NewAggregator creates an Aggregator.
func NewAggregator(cfg Config, solar SolarProvider, load LoadProfiler) *Aggregator {
	cfg.SetDefaults()
	return &Aggregator{solar: solar, load: load, cfg: cfg}
}

// Get returns the current forecast, fetching from the providers when the
// cached copy has aged out. Provider failures fall back to the previous
// forecast, then to seasonal defaults.
func (a *Aggregator) Get(ctx context.Context, now time.Time) (model.EnergyForecast, bool) {
	if a.cached != nil && now.Sub(a.fetchedAt) < time.Duration(a.cfg.TTLSeconds)*time.Second {
		return *a.cached, true
	}

	f, err := a.fetch(ctx, now)
	if err != nil {
		if a.cached != nil {
			return *a.cached, false
		}
		return SeasonalDefault(now, a.cfg.Latitude), false
	}

	if degraded(f) {
		f = Shrink(f)
	}

	a.cached = &f
	a.fetchedAt = now
	return f, true
}

// Invalidate drops the cached forecast so the next Get refetches.
func (a *Aggregator) Invalidate() {
	a.cached = nil
}

func (a *Aggregator) fetch(ctx context.Context, now time.Time) (model.EnergyForecast, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	pvToday, pvTomorrow, wToday, wTomorrow, err := a.solar.Solar(ctx, now)
	if err != nil {
		return model.EnergyForecast{}, err
	}
	loadToday, loadTomorrow, err := a.load.Load(ctx, now)
	if err != nil {
		return model.EnergyForecast{}, err
	}

	var f model.EnergyForecast
	for h := 0; h < 24; h++ {
		f.Today[h] = model.HourlyEnergy{PVKWh: pvToday[h], LoadKWh: loadToday[h]}
		f.Tomorrow[h] = model.HourlyEnergy{PVKWh: pvTomorrow[h], LoadKWh: loadTomorrow[h]}
	}
	f.WeatherFactorToday = wToday
	f.WeatherFactorTomorrow = wTomorrow
	f.Generated = now
	return f, nil
}

// degraded reports whether the forecast looks untrustworthy: a near-zero
// weather factor, an all-zero PV day, or today and tomorrow diverging so much
// that at least one of them is probably wrong.
func degraded(f model.EnergyForecast) bool {
	if f.WeatherFactorToday < 0.1 && f.WeatherFactorToday != 0 {
		return true
	}
	if f.DailyPVKWh() == 0 {
		return true
	}
	var tomorrowPV float64
	for _, h := range f.Tomorrow {
		tomorrowPV += h.PVKWh
	}
	today := f.DailyPVKWh()
	if tomorrowPV > 0 && (today > 4*tomorrowPV || tomorrowPV > 4*today) {
		return true
	}
	return false
}

// Shrink returns a conservative copy of the forecast: PV reduced 20% today
// and 15% tomorrow. Planning against an optimistic forecast risks an empty
// battery; pessimism only costs some grid energy.
func Shrink(f model.EnergyForecast) model.EnergyForecast {
	for h := 0; h < 24; h++ {
		f.Today[h].PVKWh *= 0.80
		f.Tomorrow[h].PVKWh *= 0.85
	}
	return f
}
