package forecast

import (
	"time"

	"github.com/vperret/gridpilot/core/model"
)

// Seasonal per-hour PV shape, peak-normalized. Generation runs roughly from
// two hours after sunrise to two hours before sunset with a midday peak.
var pvShape = [24]float64{
	0, 0, 0, 0, 0, 0, 0, 0.05, 0.20, 0.45, 0.70, 0.90,
	1.00, 0.95, 0.80, 0.60, 0.35, 0.15, 0.05, 0, 0, 0, 0, 0,
}

// Flat household load shape with morning and evening bumps.
var loadShape = [24]float64{
	0.4, 0.3, 0.3, 0.3, 0.3, 0.4, 0.7, 1.0, 0.8, 0.6, 0.6, 0.7,
	0.8, 0.7, 0.6, 0.6, 0.8, 1.2, 1.5, 1.4, 1.2, 0.9, 0.7, 0.5,
}

// Monthly daily-total PV in kWh for a nominal 5 kWp array, northern
// hemisphere. The southern hemisphere mirrors the table by six months.
var monthlyPVKWh = [12]float64{8, 12, 18, 24, 28, 30, 30, 27, 21, 14, 9, 7}

// SeasonalDefault builds a forecast from the static seasonal tables. Used only
// when the providers fail and no cached forecast exists; it is deliberately
// conservative so the planner leans on grid rather than phantom sun.
func SeasonalDefault(now time.Time, latitude float64) model.EnergyForecast {
	month := int(now.Month()) - 1
	if latitude < 0 {
		month = (month + 6) % 12
	}
	dailyPV := monthlyPVKWh[month] * 0.7

	var shapeSum, loadSum float64
	for h := 0; h < 24; h++ {
		shapeSum += pvShape[h]
		loadSum += loadShape[h]
	}

	// Assume a 15 kWh/day household when nothing better is known.
	const defaultDailyLoadKWh = 15

	var f model.EnergyForecast
	for h := 0; h < 24; h++ {
		e := model.HourlyEnergy{
			PVKWh:   dailyPV * pvShape[h] / shapeSum,
			LoadKWh: defaultDailyLoadKWh * loadShape[h] / loadSum,
		}
		f.Today[h] = e
		f.Tomorrow[h] = e
	}
	f.WeatherFactorToday = 0.7
	f.WeatherFactorTomorrow = 0.7
	f.Generated = now
	return f
}
