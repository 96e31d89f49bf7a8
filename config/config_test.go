package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vperret/gridpilot/core/model"
)

const sampleYAML = `
scheduler:
  tick_seconds: 30
  battery_capacity_kwh: 10
  sunrise_hour: 7
  sunset_hour: 19
mqtt:
  broker: tcp://localhost:1883
  client_id: gridpilot
inverters:
  - inverter_id: inv-1
    capability:
      id: inv-1
      rated_charge_kw: 5
      rated_discharge_kw: 5
      power_step_w: 10
      max_windows: 6
tariffs:
  - kind: peak
    start: "19:00"
    end: "22:00"
    price_ct_per_kwh: 42
    allow_discharge: true
  - kind: cheap
    start: "23:00"
    end: "06:00"
    price_ct_per_kwh: 12
    allow_grid_charge: true
metrics:
  prom_addr: ":9090"
store_path: /var/lib/gridpilot/gridpilot.db
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Scheduler.TickSeconds)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	require.Len(t, cfg.Inverters, 1)
	assert.Equal(t, "inv-1", cfg.Inverters[0].InverterID)

	require.Len(t, cfg.Scheduler.Tariffs, 2)
	peak := cfg.Scheduler.Tariffs[0]
	assert.Equal(t, model.TariffPeak, peak.Kind)
	assert.Equal(t, 19*60, peak.StartMinute)
	assert.Equal(t, 22*60, peak.EndMinute)
	assert.True(t, peak.AllowDischarge)

	cheap := cfg.Scheduler.Tariffs[1]
	assert.True(t, cheap.AllowGridCharge)
	// Wraps past midnight.
	assert.Greater(t, cheap.StartMinute, cheap.EndMinute)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GP_MQTT__BROKER", "tcp://other:1883")
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "tcp://other:1883", cfg.MQTT.Broker)
}

func TestLoad_RejectsNoInverters(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", `
mqtt:
  broker: tcp://localhost:1883
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inverter")
}

func TestLoad_RejectsDuplicateInverterIDs(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", `
mqtt:
  broker: tcp://localhost:1883
inverters:
  - inverter_id: inv-1
  - inverter_id: inv-1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoad_RejectsBadTariffKind(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", `
mqtt:
  broker: tcp://localhost:1883
inverters:
  - inverter_id: inv-1
tariffs:
  - kind: premium
    start: "19:00"
    end: "22:00"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tariff kind")
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "x = 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}
