package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"weatherhub/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ReadingsTopicPrefix is the topic namespace stations publish under:
// weather/readings/<station_id>.
const ReadingsTopicPrefix = "weather/readings/"

// StationTopic returns the publish topic for one station.
func StationTopic(stationID string) string {
	return ReadingsTopicPrefix + stationID
}

// StationFromTopic extracts the station id from a readings topic.
// Returns "" when the topic is outside the readings namespace.
func StationFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, ReadingsTopicPrefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

// Envelope is one delivered message handed from the transport to the
// ingest worker.
type Envelope struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Subscriber receives reading messages and forwards them into a bounded
// channel, decoupling broker delivery cadence from store-write latency.
// A full channel blocks delivery (backpressure) instead of dropping.
type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	messages chan Envelope
	stopCh   chan struct{}
	stopOnce sync.Once

	// sendMu guards messages against close-while-sending: deliver holds
	// the read side for the duration of a send, Disconnect takes the
	// write side to flip stopped before closing the channel.
	sendMu  sync.RWMutex
	stopped bool
}

func NewSubscriber(cfg config.Config, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan Envelope, cfg.IngestQueueSize),
		stopCh:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	// Persistent session: the broker queues qos1 messages published while
	// we are disconnected and redelivers them after reconnect.
	opts.SetCleanSession(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Subscribing inside OnConnect covers both the initial connect and
	// every reconnect: the subscription is re-established before queued
	// messages are delivered.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		if err := s.subscribe(); err != nil {
			logger.Error("mqtt subscribe failed", "topic", cfg.MQTTTopic, "error", err)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect establishes the connection to the broker. The OnConnect handler
// performs the subscription. Respects ctx and Disconnect().
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	// Fast path.
	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler sets connected=true and subscribes.
			return nil
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
}

// Messages is the bounded delivery channel consumed by the ingest worker.
// It is closed by Disconnect.
func (s *Subscriber) Messages() <-chan Envelope {
	return s.messages
}

func (s *Subscriber) subscribe() error {
	topic := s.cfg.MQTTTopic
	qos := byte(1) // At least once delivery

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		s.deliver(Envelope{
			Topic:      msg.Topic(),
			Payload:    msg.Payload(),
			ReceivedAt: time.Now().UTC(),
		})
	}

	token := s.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

// deliver forwards one envelope into the bounded channel. A full channel
// blocks (backpressure); a closed stopCh aborts the send so shutdown
// never deadlocks on a full queue.
func (s *Subscriber) deliver(env Envelope) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.messages <- env:
	case <-s.stopCh:
	}
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber, closes the MQTT connection and then
// the message channel. Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() {
		// Unblock delivery handlers and Connect loops first.
		close(s.stopCh)

		if s.client != nil && s.IsConnected() {
			token := s.client.Unsubscribe(s.cfg.MQTTTopic)
			token.WaitTimeout(2 * time.Second)
		}

		if s.client != nil {
			s.client.Disconnect(250)
		}

		// Wait for in-flight deliveries (they hold the read lock), then
		// flip stopped so late handlers return without sending. Only after
		// that is closing the channel safe.
		s.sendMu.Lock()
		s.stopped = true
		s.sendMu.Unlock()
		close(s.messages)

		s.setConnected(false)
		s.logger.Info("mqtt subscriber disconnected")
	})
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
