package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/mklimuk/oxygen"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 4 * time.Second
)

var _ oxygen.Sink = &MQTT{}

var newConnection = autopaho.NewConnection

// Publisher is the publishing side of an MQTT connection.
type Publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

type MQTTOpts struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Retain   bool
}

// MQTT publishes every reading as a plain text payload with two decimals.
type MQTT struct {
	publisher Publisher
	topic     string
	qos       byte
	retain    bool
	conn      *autopaho.ConnectionManager
	stop      context.CancelFunc
}

func NewMQTT(publisher Publisher, opts MQTTOpts) *MQTT {
	return &MQTT{
		publisher: publisher,
		topic:     opts.Topic,
		qos:       opts.QoS,
		retain:    opts.Retain,
	}
}

// DialMQTT connects to the broker and waits for the first connection. The
// connection manager reconnects on its own afterwards, until Close. When the
// first connection does not come up in time the manager is stopped.
func DialMQTT(ctx context.Context, opts MQTTOpts) (*MQTT, error) {
	broker, err := url.Parse(opts.Broker)
	if err != nil {
		return nil, fmt.Errorf("invalid mqtt broker url %q: %w", opts.Broker, err)
	}
	cfg := autopaho.ClientConfig{
		BrokerUrls: []*url.URL{broker},
		KeepAlive:  20,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			slog.Info("connected to mqtt broker", "broker", opts.Broker)
		},
		OnConnectError: func(err error) {
			slog.Error("mqtt connection error", "broker", opts.Broker, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: opts.ClientID,
			OnClientError: func(err error) {
				slog.Error("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				slog.Info("disconnected from mqtt broker", "broker", opts.Broker)
			},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	connCtx, stop := context.WithCancel(context.Background())
	cm, err := newConnection(connCtx, cfg)
	if err != nil {
		stop()
		return nil, fmt.Errorf("could not create mqtt connection: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		stop()
		return nil, fmt.Errorf("could not connect to %s: %w", opts.Broker, err)
	}
	s := NewMQTT(cm, opts)
	s.conn = cm
	s.stop = stop
	return s, nil
}

func (s *MQTT) Publish(value float32) {
	ctx, cancel := context.WithTimeout(context.Background(), mqttPublishTimeout)
	defer cancel()
	_, err := s.publisher.Publish(ctx, &paho.Publish{
		Topic:   s.topic,
		QoS:     s.qos,
		Retain:  s.retain,
		Payload: []byte(strconv.FormatFloat(round(value), 'f', accuracyDecimals, 64)),
	})
	if err != nil {
		slog.Warn("mqtt publish failed", "topic", s.topic, "error", err)
	}
}

func (s *MQTT) Close(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	defer s.stop()
	return s.conn.Disconnect(ctx)
}
