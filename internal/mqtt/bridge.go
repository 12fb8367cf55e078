// Package mqtt bridges the strip to an MQTT broker: state snapshots are
// published retained, and commands arrive on <prefix>/set/* topics.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
	"github.com/chaz8081/blelkdom-ctl/internal/config"
)

// Controller is the command surface the bridge drives.
type Controller interface {
	State() ble.DeviceState
	SetPower(ctx context.Context, on bool) (ble.DeviceState, error)
	SetColor(ctx context.Context, color string) (ble.DeviceState, error)
	BrightnessUp(ctx context.Context) (ble.DeviceState, error)
	BrightnessDown(ctx context.Context) (ble.DeviceState, error)
	ApplyPreset(ctx context.Context, ref string) (ble.DeviceState, error)
	Subscribe(ctx context.Context) <-chan ble.DeviceState
}

// publishFunc sends one message. Tests substitute a recorder.
type publishFunc func(topic string, retained bool, payload []byte) error

// Bridge connects a Controller to the broker.
type Bridge struct {
	ctl     Controller
	topics  Topics
	publish publishFunc
	client  pahomqtt.Client
}

func newBridge(ctl Controller, topics Topics, publish publishFunc) *Bridge {
	return &Bridge{ctl: ctl, topics: topics, publish: publish}
}

// Connect dials the broker, marks the strip online and subscribes to the
// command topics. Subscriptions are restored after a reconnect.
func Connect(cfg config.MQTTConfig, ctl Controller) (*Bridge, error) {
	topics := Topics{Prefix: cfg.TopicPrefix}
	opts := buildClientOptions(cfg, topics)

	b := newBridge(ctl, topics, nil)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		slog.Info("[MQTT] connected", "broker", cfg.Broker)
		b.onConnect(c)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		slog.Warn("[MQTT] connection lost", "error", err)
	})

	b.client = pahomqtt.NewClient(opts)
	b.publish = b.pahoPublish

	token := b.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return b, nil
}

func (b *Bridge) onConnect(c pahomqtt.Client) {
	token := c.Subscribe(b.topics.AllCommands(), qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := b.handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			slog.Warn("[MQTT] command failed", "topic", msg.Topic(), "error", err)
		}
	})
	if err := waitToken(token, defaultPublishTimeout, ErrSubscribeFailed, b.topics.AllCommands()); err != nil {
		slog.Error("[MQTT] commands will not be received", "error", err)
	}

	if err := b.publish(b.topics.Availability(), true, []byte(payloadOnline)); err != nil {
		slog.Warn("[MQTT] availability publish failed", "error", err)
	}
	if err := b.publishState(b.ctl.State()); err != nil {
		slog.Warn("[MQTT] state publish failed", "error", err)
	}
}

func (b *Bridge) pahoPublish(topic string, retained bool, payload []byte) error {
	return waitToken(b.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed, topic)
}

// waitToken waits for a publish or subscribe token. A timeout and a broker
// error are both reported as sentinel.
func waitToken(token pahomqtt.Token, timeout time.Duration, sentinel error, topic string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %s: timeout after %v", sentinel, topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", sentinel, topic, err)
	}
	return nil
}

// Run publishes every state change until ctx ends, then marks the strip
// offline and disconnects.
func (b *Bridge) Run(ctx context.Context) error {
	for state := range b.ctl.Subscribe(ctx) {
		if err := b.publishState(state); err != nil {
			slog.Warn("[MQTT] state publish failed", "error", err)
		}
	}
	b.Close()
	return nil
}

// Start runs Run in the background. The returned channel closes once the
// offline status has been published and the client has disconnected.
func (b *Bridge) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Run(ctx); err != nil {
			slog.Warn("[MQTT] bridge stopped", "error", err)
		}
	}()
	return done
}

// Close publishes the offline status and disconnects.
func (b *Bridge) Close() {
	if err := b.publish(b.topics.Availability(), true, []byte(payloadOffline)); err != nil {
		slog.Debug("[MQTT] offline publish failed", "error", err)
	}
	if b.client != nil {
		b.client.Disconnect(disconnectQuiesce)
	}
}

func (b *Bridge) publishState(state ble.DeviceState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return b.publish(b.topics.State(), true, payload)
}

// handle runs one command message. The resulting state reaches the broker
// through Run's subscription, so nothing is published here.
func (b *Bridge) handle(ctx context.Context, topic string, payload []byte) error {
	value := strings.TrimSpace(string(payload))
	slog.Debug("[MQTT] command", "topic", topic, "payload", value)

	var err error
	switch topic {
	case b.topics.SetPower():
		on, perr := ParsePower(value)
		if perr != nil {
			return perr
		}
		_, err = b.ctl.SetPower(ctx, on)
	case b.topics.SetColor():
		_, err = b.ctl.SetColor(ctx, value)
	case b.topics.SetBrightness():
		switch strings.ToLower(value) {
		case "up", "+":
			_, err = b.ctl.BrightnessUp(ctx)
		case "down", "-":
			_, err = b.ctl.BrightnessDown(ctx)
		default:
			return fmt.Errorf("%w: brightness %q, want up or down", ErrInvalidPayload, value)
		}
	case b.topics.SetPreset():
		_, err = b.ctl.ApplyPreset(ctx, value)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}
	return err
}

// ParsePower accepts on/off, true/false and 1/0.
func ParsePower(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: power %q, want on or off", ErrInvalidPayload, s)
}
