package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// openMeteoURL is the public forecast endpoint; no API key required.
const openMeteoURL = "https://api.open-meteo.com/v1/forecast"

// referenceIrradiance is standard test condition irradiance in W/m2.
const referenceIrradiance = 1000.0

// systemEfficiency folds inverter and temperature losses into one factor.
const systemEfficiency = 0.85

// OpenMeteo fetches hourly shortwave irradiance and cloud cover from the
// Open-Meteo API and scales it by the array's nameplate power.
type OpenMeteo struct {
	cfg    Config
	client *http.Client
	base   string
}

// OpenMeteoProvider creates the provider.
func OpenMeteoProvider(cfg Config) *OpenMeteo {
	cfg.SetDefaults()
	base := cfg.BaseURL
	if base == "" {
		base = openMeteoURL
	}
	if cfg.PVPeakKW == 0 {
		cfg.PVPeakKW = 5
	}
	return &OpenMeteo{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		base:   base,
	}
}

type openMeteoResponse struct {
	Hourly struct {
		Time               []string  `json:"time"`
		ShortwaveRadiation []float64 `json:"shortwave_radiation"`
		CloudCover         []float64 `json:"cloud_cover"`
	} `json:"hourly"`
}

// Solar implements SolarProvider.
func (p *OpenMeteo) Solar(ctx context.Context, now time.Time) (today, tomorrow [24]float64, wToday, wTomorrow float64, err error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", p.cfg.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", p.cfg.Longitude))
	q.Set("hourly", "shortwave_radiation,cloud_cover")
	q.Set("forecast_days", "2")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"?"+q.Encode(), nil)
	if err != nil {
		return today, tomorrow, 0, 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return today, tomorrow, 0, 0, fmt.Errorf("open-meteo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return today, tomorrow, 0, 0, fmt.Errorf("open-meteo: status %d", resp.StatusCode)
	}

	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return today, tomorrow, 0, 0, fmt.Errorf("open-meteo decode: %w", err)
	}
	n := len(body.Hourly.ShortwaveRadiation)
	if n < 48 {
		return today, tomorrow, 0, 0, fmt.Errorf("open-meteo: %d hourly samples, want 48", n)
	}
	if c := len(body.Hourly.CloudCover); c < 48 {
		return today, tomorrow, 0, 0, fmt.Errorf("open-meteo: %d cloud cover samples, want 48", c)
	}

	// kWh per hour = irradiance fraction of STC * peak kW * efficiency.
	for h := 0; h < 24; h++ {
		today[h] = body.Hourly.ShortwaveRadiation[h] / referenceIrradiance * p.cfg.PVPeakKW * systemEfficiency
		tomorrow[h] = body.Hourly.ShortwaveRadiation[24+h] / referenceIrradiance * p.cfg.PVPeakKW * systemEfficiency
	}

	wToday = clearness(body.Hourly.CloudCover[:24])
	wTomorrow = clearness(body.Hourly.CloudCover[24:48])
	return today, tomorrow, wToday, wTomorrow, nil
}

// clearness maps mean daytime cloud cover to a [0,1] weather factor.
func clearness(cloud []float64) float64 {
	if len(cloud) == 0 {
		return 1
	}
	var sum float64
	n := 0
	// Only daylight hours matter for PV confidence.
	for h := 6; h < 20 && h < len(cloud); h++ {
		sum += cloud[h]
		n++
	}
	if n == 0 {
		return 1
	}
	return 1 - sum/float64(n)/100
}
