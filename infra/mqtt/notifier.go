package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/vperret/gridpilot/infra/logger"
	"github.com/vperret/gridpilot/internal/eventbus"
)

// Notifier republishes scheduler events on MQTT so dashboards and home
// automation can follow grid state, guardrail level and plan changes.
type Notifier struct {
	client pahoClient
	prefix string
	qos    byte
	log    logger.Logger
}

// NewNotifier connects a dedicated client for event publishing.
func NewNotifier(cfg Config) (*Notifier, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt-notifier")
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("notifier connection lost: %v", err)
	}
	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Notifier{client: cli, prefix: cfg.Prefix(), qos: cfg.QoSFor("event"), log: log}, nil
}

// Run forwards bus events until the context ends.
func (n *Notifier) Run(ctx context.Context, ev *eventbus.Events) {
	grid := ev.Grid.Subscribe()
	guard := ev.Guardrail.Subscribe()
	plan := ev.Plan.Subscribe()
	cmd := ev.Command.Subscribe()
	defer ev.Grid.Unsubscribe(grid)
	defer ev.Guardrail.Unsubscribe(guard)
	defer ev.Plan.Unsubscribe(plan)
	defer ev.Command.Unsubscribe(cmd)

	for {
		select {
		case <-ctx.Done():
			n.client.Disconnect(250)
			return
		case e, ok := <-grid:
			if !ok {
				return
			}
			n.publish("events/grid", e, true)
		case e, ok := <-guard:
			if !ok {
				return
			}
			n.publish("events/guardrail", e, true)
		case e, ok := <-plan:
			if !ok {
				return
			}
			n.publish("events/plan", e, false)
		case e, ok := <-cmd:
			if !ok {
				return
			}
			n.publish("events/command", e, false)
		}
	}
}

func (n *Notifier) publish(sub string, payload any, retain bool) {
	b, err := json.Marshal(payload)
	if err != nil {
		n.log.Errorf("marshal event: %v", err)
		return
	}
	topic := fmt.Sprintf("%s/%s", n.prefix, sub)
	token := n.client.Publish(topic, n.qos, retain, b)
	token.Wait()
	if err := token.Error(); err != nil {
		n.log.Errorf("publish %s: %v", topic, err)
	}
}
