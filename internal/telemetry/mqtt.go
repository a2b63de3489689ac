package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTPublisher publishes each data point as a retained message under
// <prefix>/<field> and tracks availability on <prefix>/status.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger *zap.Logger

	mu     sync.Mutex
	online bool
}

// NewMQTTPublisher connects to the broker. The last will marks the gateway
// offline when the connection drops.
func NewMQTTPublisher(opts MQTTOptions, logger *zap.Logger) (*MQTTPublisher, error) {
	p := &MQTTPublisher{prefix: opts.TopicPrefix, qos: opts.QoS, logger: logger}

	co := mqtt.NewClientOptions().AddBroker(opts.Broker).SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(5 * time.Second)
	co.SetAutoReconnect(true)
	co.SetWill(p.topic("status"), statusOffline, opts.QoS, true)
	co.OnConnect = func(c mqtt.Client) {
		logger.Info("MQTT connected", zap.String("broker", opts.Broker))
		p.mu.Lock()
		status := statusOffline
		if p.online {
			status = statusOnline
		}
		p.mu.Unlock()
		c.Publish(p.topic("status"), opts.QoS, true, status)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timeout", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", opts.Broker, err)
	}

	p.client = client
	return p, nil
}

// newMQTTPublisherWithClient wraps an existing client.
func newMQTTPublisherWithClient(client mqtt.Client, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, logger: logger}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) topic(field string) string {
	return p.prefix + "/" + field
}

// Publish sends the snapshot. Availability follows the SunSpec marker and is
// only published on change.
func (p *MQTTPublisher) Publish(ctx context.Context, snap sunspec.Snapshot) error {
	values := map[string]string{
		"power":      strconv.Itoa(snap.Power),
		"energy":     strconv.FormatUint(uint64(snap.Energy), 10),
		"state":      strconv.Itoa(snap.State),
		"serial":     snap.Serial,
		"voltage_l1": strconv.FormatFloat(float64(snap.Voltage[0])/10, 'f', 1, 64),
		"current_l1": strconv.Itoa(snap.Current[0]),
	}
	for ph := 1; ph < len(snap.Voltage); ph++ {
		if snap.Voltage[ph] != int(sunspec.DefaultValue) {
			values[fmt.Sprintf("voltage_l%d", ph+1)] = strconv.FormatFloat(float64(snap.Voltage[ph])/10, 'f', 1, 64)
		}
		if snap.Current[ph] != int(sunspec.DefaultValue) {
			values[fmt.Sprintf("current_l%d", ph+1)] = strconv.Itoa(snap.Current[ph])
		}
	}

	for field, v := range values {
		if err := p.send(ctx, p.topic(field), v); err != nil {
			return err
		}
	}

	p.mu.Lock()
	changed := p.online != snap.Enabled
	p.online = snap.Enabled
	p.mu.Unlock()

	if changed {
		status := statusOffline
		if snap.Enabled {
			status = statusOnline
		}
		p.logger.Info("Publishing availability", zap.String("status", status))
		return p.send(ctx, p.topic("status"), status)
	}
	return nil
}

func (p *MQTTPublisher) send(ctx context.Context, topic, payload string) error {
	token := p.client.Publish(topic, p.qos, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to publish %s: %w", topic, ctx.Err())
	}
}

// Close marks the gateway offline and disconnects.
func (p *MQTTPublisher) Close() {
	token := p.client.Publish(p.topic("status"), p.qos, true, statusOffline)
	token.WaitTimeout(time.Second)
	p.client.Disconnect(250)
}
