// Package messaging carries engine events out to the plant bus and brings
// inbound plant messages back in. Order, session and device events are
// published to messaging.events_topic through the outbox; messages on
// messaging.inbound_topic are handed to the protocol ingestor.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"simplemes/config"
)

const (
	mqttQoS            = 1
	mqttPublishTimeout = 10 * time.Second
	mqttDisconnectMs   = 1000
)

var errNotConnected = errors.New("messaging: not connected")

// transport is one broker backend.
type transport interface {
	connect() error
	publish(ctx context.Context, topic string, payload []byte) error
	subscribe(topic string, handler func([]byte)) error
	connected() bool
	close()
}

// Client publishes outbox envelopes and consumes the inbound topic over
// whichever backend messaging.backend selects. It satisfies both Publisher
// and Subscriber.
type Client struct {
	mu  sync.RWMutex
	tr  transport
	log *zap.Logger
}

// NewClient picks the backend from cfg. An unknown backend is reported by
// Connect.
func NewClient(cfg config.MessagingConfig, log *zap.Logger) *Client {
	c := &Client{log: log}
	switch cfg.Backend {
	case "mqtt":
		c.tr = &mqttTransport{cfg: cfg.MQTT, log: log}
	case "kafka":
		group := firstNonEmpty(cfg.Kafka.GroupID, cfg.MQTT.ClientID, "simplemes")
		c.tr = &kafkaTransport{brokers: cfg.Kafka.Brokers, group: group, log: log}
	default:
		c.tr = unknownTransport(cfg.Backend)
	}
	return c
}

// Connect dials the broker. With MQTT the client keeps retrying in the
// background after the first successful connect.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr.connect()
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr.publish(ctx, topic, payload)
}

// Subscribe delivers every message on topic to handler.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr.subscribe(topic, handler)
}

// IsConnected gates the outbox drainer.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr.connected()
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tr.close()
}

type mqttTransport struct {
	cfg  config.MQTTConfig
	log  *zap.Logger
	conn mqtt.Client
}

func (t *mqttTransport) connect() error {
	broker := fmt.Sprintf("tcp://%s:%d", t.cfg.Broker, t.cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(t.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.log.Warn("mqtt connection lost, events queue in the outbox", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			t.log.Info("mqtt connected", zap.String("broker", broker))
		})
	conn := mqtt.NewClient(opts)
	if tok := conn.Connect(); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", broker, tok.Error())
	}
	t.conn = conn
	return nil
}

func (t *mqttTransport) publish(_ context.Context, topic string, payload []byte) error {
	if !t.connected() {
		return errNotConnected
	}
	tok := t.conn.Publish(topic, mqttQoS, false, payload)
	if !tok.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish to %s: timed out after %s", topic, mqttPublishTimeout)
	}
	return tok.Error()
}

func (t *mqttTransport) subscribe(topic string, handler func([]byte)) error {
	if t.conn == nil {
		return errNotConnected
	}
	tok := t.conn.Subscribe(topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	tok.Wait()
	return tok.Error()
}

func (t *mqttTransport) connected() bool {
	return t.conn != nil && t.conn.IsConnected()
}

func (t *mqttTransport) close() {
	if t.conn != nil {
		t.conn.Disconnect(mqttDisconnectMs)
		t.conn = nil
	}
}

// kafkaTransport writes with one shared writer and reads each subscribed
// topic in its own consumer-group reader. Closing a reader ends its
// consume loop with io.EOF.
type kafkaTransport struct {
	brokers []string
	group   string
	log     *zap.Logger
	writer  *kafkago.Writer
	readers []*kafkago.Reader
}

func (t *kafkaTransport) connect() error {
	if len(t.brokers) == 0 {
		return errors.New("kafka: messaging.kafka.brokers is empty")
	}
	t.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(t.brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return nil
}

func (t *kafkaTransport) publish(ctx context.Context, topic string, payload []byte) error {
	if t.writer == nil {
		return errNotConnected
	}
	return t.writer.WriteMessages(ctx, kafkago.Message{Topic: topic, Value: payload})
}

func (t *kafkaTransport) subscribe(topic string, handler func([]byte)) error {
	if t.writer == nil {
		return errNotConnected
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{Brokers: t.brokers, Topic: topic, GroupID: t.group})
	t.readers = append(t.readers, r)
	go t.consume(r, topic, handler)
	return nil
}

func (t *kafkaTransport) consume(r *kafkago.Reader, topic string, handler func([]byte)) {
	for {
		msg, err := r.ReadMessage(context.Background())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.log.Error("kafka read", zap.String("topic", topic), zap.Error(err))
			}
			return
		}
		handler(msg.Value)
	}
}

func (t *kafkaTransport) connected() bool { return t.writer != nil }

func (t *kafkaTransport) close() {
	for _, r := range t.readers {
		r.Close()
	}
	t.readers = nil
	if t.writer != nil {
		t.writer.Close()
		t.writer = nil
	}
}

// unknownTransport fails every operation with the configured backend name.
type unknownTransport string

func (u unknownTransport) err() error {
	return fmt.Errorf("unknown messaging backend %q", string(u))
}

func (u unknownTransport) connect() error                                { return u.err() }
func (u unknownTransport) publish(context.Context, string, []byte) error { return u.err() }
func (u unknownTransport) subscribe(string, func([]byte)) error          { return u.err() }
func (unknownTransport) connected() bool                                 { return false }
func (unknownTransport) close()                                          {}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
