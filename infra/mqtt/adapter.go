package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/vperret/gridpilot/core/command"
	"github.com/vperret/gridpilot/core/model"
	"github.com/vperret/gridpilot/infra/logger"
)

// AdapterConfig describes one inverter reachable over the MQTT bridge.
type AdapterConfig struct {
	InverterID string `json:"inverter_id"`
	// TelemetryMaxAgeSeconds marks telemetry older than this as stale.
	TelemetryMaxAgeSeconds int `json:"telemetry_max_age_seconds"`
	// AckTimeoutMS bounds the wait for a command acknowledgment.
	AckTimeoutMS int `json:"ack_timeout_ms"`

	Capability model.InverterCapability `json:"capability"`
}

// telemetryFrame is the bridge's JSON telemetry payload.
type telemetryFrame struct {
	WorkMode      string     `json:"work_mode"`
	SoCPct        *float64   `json:"soc_pct"`
	PVPowerW      *float64   `json:"pv_power_w"`
	LoadPowerW    *float64   `json:"load_power_w"`
	BatteryPowerW *float64   `json:"battery_power_w"`
	GridPowerW    []*float64 `json:"grid_power_w"`
	GridVoltageV  []*float64 `json:"grid_voltage_v"`
	GridFreqHz    *float64   `json:"grid_freq_hz"`
	Faulted       bool       `json:"faulted"`
	EmergencySoC  *float64   `json:"emergency_soc_pct"`
}

// commandFrame is the bridge's JSON command payload.
type commandFrame struct {
	CommandID string   `json:"command_id"`
	Key       string   `json:"key"`
	Value     float64  `json:"value"`
	Str       string   `json:"str,omitempty"`
	Window    *windowF `json:"window,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type windowF struct {
	Start   string  `json:"start"`
	End     string  `json:"end"`
	Type    string  `json:"type"`
	PowerW  float64 `json:"power_w"`
	SoCPct  float64 `json:"target_soc_pct"`
	Enabled bool    `json:"enabled"`
}

// Adapter speaks to one inverter through an MQTT bridge: telemetry arrives on
// <prefix>/<id>/telemetry, commands go to <prefix>/<id>/command and are
// acknowledged on <prefix>/<id>/ack by command id.
type Adapter struct {
	cfg    AdapterConfig
	client pahoClient
	prefix string
	qos    Config
	log    logger.Logger

	mu       sync.Mutex
	lastTel  model.TelemetrySnapshot
	lastSeen time.Time
	acks     map[string]chan error
}

// NewAdapter connects the adapter and subscribes to its topics.
func NewAdapter(cfg AdapterConfig, mqttCfg Config) (*Adapter, error) {
	opts, err := NewClientOptions(mqttCfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt-adapter")
	a := &Adapter{
		cfg:    cfg,
		prefix: mqttCfg.Prefix(),
		qos:    mqttCfg,
		log:    log,
		acks:   make(map[string]chan error),
	}
	if a.cfg.TelemetryMaxAgeSeconds == 0 {
		a.cfg.TelemetryMaxAgeSeconds = 90
	}
	if a.cfg.AckTimeoutMS == 0 {
		a.cfg.AckTimeoutMS = 5000
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("inverter %s: mqtt connected", cfg.InverterID)
		telTopic := fmt.Sprintf("%s/%s/telemetry", a.prefix, cfg.InverterID)
		ackTopic := fmt.Sprintf("%s/%s/ack", a.prefix, cfg.InverterID)
		if token := c.Subscribe(telTopic, mqttCfg.QoSFor("telemetry"), a.onTelemetry); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe %s: %v", telTopic, token.Error())
		}
		if token := c.Subscribe(ackTopic, mqttCfg.QoSFor("ack"), a.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe %s: %v", ackTopic, token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("inverter %s: connection lost: %v", cfg.InverterID, err)
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	a.client = cli
	return a, nil
}

// ID implements command.Adapter.
func (a *Adapter) ID() string { return a.cfg.InverterID }

// Capability implements command.Adapter. Unset derated maxima fall back to
// the nameplate rating.
func (a *Adapter) Capability() model.InverterCapability {
	c := a.cfg.Capability
	if c.MaxChargeKWNow == 0 {
		c.MaxChargeKWNow = c.RatedChargeKW
	}
	if c.MaxDischargeKWNow == 0 {
		c.MaxDischargeKWNow = c.RatedDischargeKW
	}
	return c
}

// LastTelemetry returns the most recent snapshot and whether it is fresh.
func (a *Adapter) LastTelemetry() (model.TelemetrySnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fresh := !a.lastSeen.IsZero() &&
		time.Since(a.lastSeen) < time.Duration(a.cfg.TelemetryMaxAgeSeconds)*time.Second
	return a.lastTel, fresh
}

// HandleCommand publishes one command and waits for its acknowledgment.
func (a *Adapter) HandleCommand(ctx context.Context, cmd command.Command) error {
	id := uuid.NewString()
	frame := commandFrame{
		CommandID: id,
		Key:       string(cmd.Key),
		Value:     cmd.Value,
		Str:       cmd.Str,
		Timestamp: time.Now().UnixMilli(),
	}
	if cmd.Window != nil {
		frame.Window = &windowF{
			Start:   cmd.Window.Start.Format("15:04"),
			End:     cmd.Window.End.Format("15:04"),
			Type:    cmd.Window.Type.String(),
			PowerW:  cmd.Window.PowerW,
			SoCPct:  cmd.Window.TargetSoCPct,
			Enabled: cmd.Window.Enabled,
		}
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ack := make(chan error, 1)
	a.mu.Lock()
	a.acks[id] = ack
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.acks, id)
		a.mu.Unlock()
	}()

	topic := fmt.Sprintf("%s/%s/command", a.prefix, a.cfg.InverterID)
	token := a.client.Publish(topic, a.qos.QoSFor("command"), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Key, err)
	}

	select {
	case err := <-ack:
		return err
	case <-time.After(time.Duration(a.cfg.AckTimeoutMS) * time.Millisecond):
		return fmt.Errorf("inverter %s: ack timeout for %s", a.cfg.InverterID, cmd.Key)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects the underlying client.
func (a *Adapter) Close() {
	a.client.Disconnect(250)
}

func (a *Adapter) onTelemetry(_ paho.Client, msg paho.Message) {
	var f telemetryFrame
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		a.log.Errorf("inverter %s: bad telemetry: %v", a.cfg.InverterID, err)
		return
	}

	var tel model.TelemetrySnapshot
	tel.WorkMode = f.WorkMode
	tel.SoCPct = toMetric(f.SoCPct)
	tel.PVPowerW = toMetric(f.PVPowerW)
	tel.LoadPowerW = toMetric(f.LoadPowerW)
	tel.BatteryPowerW = toMetric(f.BatteryPowerW)
	tel.GridFreqHz = toMetric(f.GridFreqHz)
	tel.Faulted = f.Faulted
	tel.EmergencySoC = toMetric(f.EmergencySoC)
	for i := 0; i < 3 && i < len(f.GridPowerW); i++ {
		tel.GridPowerW[i] = toMetric(f.GridPowerW[i])
	}
	for i := 0; i < 3 && i < len(f.GridVoltageV); i++ {
		tel.GridVoltageV[i] = toMetric(f.GridVoltageV[i])
	}

	a.mu.Lock()
	a.lastTel = tel
	a.lastSeen = time.Now()
	a.mu.Unlock()
}

func (a *Adapter) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string `json:"command_id"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		a.log.Errorf("inverter %s: bad ack: %v", a.cfg.InverterID, err)
		return
	}
	a.mu.Lock()
	ch, ok := a.acks[m.CommandID]
	a.mu.Unlock()
	if !ok {
		return
	}
	var err error
	if m.Error != "" {
		err = fmt.Errorf("inverter rejected command: %s", m.Error)
	}
	select {
	case ch <- err:
	default:
	}
}

func toMetric(v *float64) model.Metric {
	if v == nil {
		return model.Metric{}
	}
	return model.MetricOf(*v)
}
