package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/blelkdom-ctl/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second
	maxReconnectInterval  = 30 * time.Second

	// disconnectQuiesce is in milliseconds.
	disconnectQuiesce = 500

	// commandTimeout bounds one command, which may include a full connect.
	commandTimeout = 30 * time.Second

	qos = 1

	payloadOnline  = "online"
	payloadOffline = "offline"
)

func buildClientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// The broker marks the strip offline if this process dies.
	opts.SetWill(topics.Availability(), payloadOffline, qos, true)
	return opts
}
