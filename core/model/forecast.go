package model

import "time"

// HourlyEnergy is the expected PV production and load for one hour of day.
type HourlyEnergy struct {
	PVKWh   float64
	LoadKWh float64
}

// EnergyForecast holds the hourly PV/load expectation for today and tomorrow
// plus the day-level weather quality scalars reported by the solar provider.
// It is immutable for the duration of one tick.
type EnergyForecast struct {
	Today    [24]HourlyEnergy
	Tomorrow [24]HourlyEnergy

	// WeatherFactorToday and WeatherFactorTomorrow are in [0,1]; 1 means a
	// clear day, values near 0 mean heavy overcast or missing data.
	WeatherFactorToday    float64
	WeatherFactorTomorrow float64

	Generated time.Time
}

// PVRemainingKWh sums expected PV from fromHour (inclusive) to toHour (exclusive).
func (f EnergyForecast) PVRemainingKWh(fromHour, toHour int) float64 {
	return f.sum(fromHour, toHour, func(h HourlyEnergy) float64 { return h.PVKWh })
}

// LoadRemainingKWh sums expected load from fromHour (inclusive) to toHour (exclusive).
func (f EnergyForecast) LoadRemainingKWh(fromHour, toHour int) float64 {
	return f.sum(fromHour, toHour, func(h HourlyEnergy) float64 { return h.LoadKWh })
}

// DailyPVKWh is the total expected PV for today.
func (f EnergyForecast) DailyPVKWh() float64 { return f.PVRemainingKWh(0, 24) }

// DailyLoadKWh is the total expected load for today.
func (f EnergyForecast) DailyLoadKWh() float64 { return f.LoadRemainingKWh(0, 24) }

// MaxNightLoadKWh returns the highest expected hourly load between sunset
// today and sunrise tomorrow.
func (f EnergyForecast) MaxNightLoadKWh(sunsetHour, sunriseHour int) float64 {
	max := 0.0
	for h := sunsetHour; h < 24; h++ {
		if f.Today[h].LoadKWh > max {
			max = f.Today[h].LoadKWh
		}
	}
	for h := 0; h < sunriseHour && h < 24; h++ {
		if f.Tomorrow[h].LoadKWh > max {
			max = f.Tomorrow[h].LoadKWh
		}
	}
	return max
}

// NightLoadKWh sums the expected load between sunset today and sunrise tomorrow.
func (f EnergyForecast) NightLoadKWh(sunsetHour, sunriseHour int) float64 {
	var sum float64
	for h := sunsetHour; h < 24; h++ {
		sum += f.Today[h].LoadKWh
	}
	for h := 0; h < sunriseHour && h < 24; h++ {
		sum += f.Tomorrow[h].LoadKWh
	}
	return sum
}

func (f EnergyForecast) sum(from, to int, field func(HourlyEnergy) float64) float64 {
	if from < 0 {
		from = 0
	}
	if to > 24 {
		to = 24
	}
	var sum float64
	for h := from; h < to; h++ {
		sum += field(f.Today[h])
	}
	return sum
}
