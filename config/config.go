package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vperret/gridpilot/core/backtest"
	"github.com/vperret/gridpilot/core/command"
	"github.com/vperret/gridpilot/core/forecast"
	"github.com/vperret/gridpilot/core/gridwatch"
	"github.com/vperret/gridpilot/core/model"
	"github.com/vperret/gridpilot/core/plan"
	"github.com/vperret/gridpilot/core/reliability"
	"github.com/vperret/gridpilot/core/scheduler"
	"github.com/vperret/gridpilot/core/split"
	"github.com/vperret/gridpilot/infra/audit"
	inframetrics "github.com/vperret/gridpilot/infra/metrics"
	"github.com/vperret/gridpilot/infra/monitoring"
	"github.com/vperret/gridpilot/infra/mqtt"
)

// Config is the full service configuration.
type Config struct {
	Scheduler   scheduler.Config     `json:"scheduler"`
	GridWatch   gridwatch.Config     `json:"gridwatch"`
	Reliability reliability.Config   `json:"reliability"`
	Plan        plan.Config          `json:"plan"`
	Split       split.Config         `json:"split"`
	Command     command.Config       `json:"command"`
	Forecast    forecast.Config      `json:"forecast"`
	Backtest    backtest.Config      `json:"backtest"`
	MQTT        mqtt.Config          `json:"mqtt"`
	Inverters   []mqtt.AdapterConfig `json:"inverters"`
	Metrics     MetricsConfig        `json:"metrics"`
	Audit       audit.Config         `json:"audit"`
	Sentry      monitoring.Config    `json:"sentry"`
	Tariffs     []TariffSpec         `json:"tariffs"`
	StorePath   string               `json:"store_path"`
}

// TariffSpec is the operator-facing tariff window: clock times and a named
// price band instead of minute offsets.
type TariffSpec struct {
	Kind            string  `json:"kind"`
	Start           string  `json:"start"` // "HH:MM"
	End             string  `json:"end"`
	PriceCtPerKWh   float64 `json:"price_ct_per_kwh"`
	AllowGridCharge bool    `json:"allow_grid_charge"`
	AllowDischarge  bool    `json:"allow_discharge"`
}

// Window converts the clock-time form to a minute-based model window.
func (t TariffSpec) Window() (model.TariffWindow, error) {
	kind, err := model.ParseTariffKind(t.Kind)
	if err != nil {
		return model.TariffWindow{}, err
	}
	start, err := parseClock(t.Start)
	if err != nil {
		return model.TariffWindow{}, fmt.Errorf("tariff %s start: %w", t.Kind, err)
	}
	end, err := parseClock(t.End)
	if err != nil {
		return model.TariffWindow{}, fmt.Errorf("tariff %s end: %w", t.Kind, err)
	}
	return model.TariffWindow{
		Kind:            kind,
		StartMinute:     start,
		EndMinute:       end,
		PriceCtPerKWh:   t.PriceCtPerKWh,
		AllowGridCharge: t.AllowGridCharge,
		AllowDischarge:  t.AllowDischarge,
	}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MetricsConfig selects the metric sinks.
type MetricsConfig struct {
	PromAddr string              `json:"prom_addr"`
	Influx   inframetrics.Config `json:"influx"`
}

// Load reads the config file, applies GP_ environment overrides and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, GP_MQTT__BROKER -> mqtt.broker.
	if err := k.Load(env.Provider("GP_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "gp_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if len(c.Inverters) == 0 {
		return fmt.Errorf("at least one inverter must be configured")
	}
	seen := make(map[string]bool, len(c.Inverters))
	for _, inv := range c.Inverters {
		if inv.InverterID == "" {
			return fmt.Errorf("inverter with empty id")
		}
		if seen[inv.InverterID] {
			return fmt.Errorf("duplicate inverter id %q", inv.InverterID)
		}
		seen[inv.InverterID] = true
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	for _, spec := range c.Tariffs {
		w, err := spec.Window()
		if err != nil {
			return err
		}
		if w.StartMinute == w.EndMinute {
			return fmt.Errorf("tariff window %s has zero duration", spec.Kind)
		}
		c.Scheduler.Tariffs = append(c.Scheduler.Tariffs, w)
	}
	return nil
}
