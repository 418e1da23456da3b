// Package jetstream provides a NATS JetStream transport. Every participant
// reads a topic through its own ephemeral pull consumer, so samples are
// broadcast and acknowledged per participant.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/rtpsbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when the configuration names no stream.
	DefaultStreamName = "RTPS"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultInactiveThreshold is how long an idle consumer survives on the
	// server after its participant went away.
	DefaultInactiveThreshold = 5 * time.Minute

	// DefaultMaxAge bounds how long samples stay in the stream.
	DefaultMaxAge = time.Hour

	fetchBatch = 16
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("jetstream: transport is closed")

// Connect allows overriding the connection for testing.
var Connect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if cfg.GetNATSURL() == "" {
		return transport.Transport{}, errors.New("jetstream: URL is required")
	}
	t, err := New(Config{
		URL:          cfg.GetNATSURL(),
		StreamName:   cfg.GetNATSStreamName(),
		ConsumerName: transport.SubscriptionName(cfg),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding every topic of the domain.
	StreamName string

	// ConsumerName prefixes the per-topic consumer names of this participant.
	ConsumerName string

	MaxDeliver        int
	AckWait           time.Duration
	InactiveThreshold time.Duration
	MaxAge            time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "rtps-participant"
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.InactiveThreshold <= 0 {
		c.InactiveThreshold = DefaultInactiveThreshold
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// jetStream is the part of nats.JetStreamContext the transport uses.
type jetStream interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Transport implements Publisher and Subscriber for NATS JetStream.
type Transport struct {
	nc     *nats.Conn
	js     jetStream
	config Config
	logger watermill.LoggerAdapter

	subscriptions map[string]*nats.Subscription
	subMu         sync.Mutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
	wg         sync.WaitGroup
}

// New connects to NATS and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: context: %w", err)
	}

	t := newTransport(nc, js, cfg, logger)
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func newTransport(nc *nats.Conn, js jetStream, cfg Config, logger watermill.LoggerAdapter) *Transport {
	return &Transport{
		nc:            nc,
		js:            js,
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
		closedChan:    make(chan struct{}),
	}
}

func (t *Transport) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
		Retention: nats.LimitsPolicy,
	}
}

func (t *Transport) ensureStream() error {
	streamCfg := t.streamConfig()
	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			return fmt.Errorf("jetstream: ensure stream %s: %w", streamCfg.Name, err)
		}
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.closedMu.RLock()
	defer t.closedMu.RUnlock()
	return t.closed
}

// Publish publishes messages to the stream. Message metadata travels as NATS
// headers and the message UUID doubles as the JetStream dedup id.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}

	subject := t.subject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(nats.MsgIdHdr, msg.UUID)

		if _, err := t.js.PublishMsg(&nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}); err != nil {
			return fmt.Errorf("jetstream: publish %s: %w", topic, err)
		}
	}
	return nil
}

func (t *Transport) consumerConfig(topic string) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:           t.consumer(topic),
		FilterSubject:     t.subject(topic),
		AckPolicy:         nats.AckExplicitPolicy,
		MaxDeliver:        t.config.MaxDeliver,
		AckWait:           t.config.AckWait,
		DeliverPolicy:     nats.DeliverNewPolicy,
		InactiveThreshold: t.config.InactiveThreshold,
	}
}

// Subscribe creates this participant's consumer for topic and returns a
// channel of its messages. The channel closes when ctx is cancelled or the
// transport is closed.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	consumerCfg := t.consumerConfig(topic)
	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		return nil, fmt.Errorf("jetstream: create consumer %s: %w", consumerCfg.Durable, err)
	}

	sub, err := t.js.PullSubscribe(consumerCfg.FilterSubject, consumerCfg.Durable, nats.Bind(t.config.StreamName, consumerCfg.Durable))
	if err != nil {
		return nil, fmt.Errorf("jetstream: subscribe %s: %w", topic, err)
	}

	t.subMu.Lock()
	t.subscriptions[consumerCfg.Durable] = sub
	t.subMu.Unlock()

	output := make(chan *message.Message)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.fetchMessages(ctx, sub, output, topic)
	}()
	return output, nil
}

func (t *Transport) fetchMessages(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			t.logger.Error("Failed to fetch messages", err, watermill.LogFields{"topic": topic})
			continue
		}

		for _, natsMsg := range msgs {
			wmMsg := toWatermill(natsMsg)
			select {
			case output <- wmMsg:
			case <-ctx.Done():
				return
			case <-t.closedChan:
				return
			}

			select {
			case <-wmMsg.Acked():
				if err := natsMsg.Ack(); err != nil {
					t.logger.Error("Failed to ack", err, watermill.LogFields{"topic": topic})
				}
			case <-wmMsg.Nacked():
				if err := natsMsg.Nak(); err != nil {
					t.logger.Error("Failed to nak", err, watermill.LogFields{"topic": topic})
				}
			case <-ctx.Done():
				return
			case <-t.closedChan:
				return
			}
		}
	}
}

func toWatermill(natsMsg *nats.Msg) *message.Message {
	msgID := natsMsg.Header.Get(nats.MsgIdHdr)
	if msgID == "" {
		msgID = watermill.NewUUID()
	}

	wmMsg := message.NewMessage(msgID, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}
	return wmMsg
}

// subject maps a topic onto the stream's subject space. Dots would create
// extra subject tokens, so they are replaced with the rest of the
// disallowed characters.
func (t *Transport) subject(topic string) string {
	return t.config.StreamName + "." + transport.SanitizeName(topic)
}

func (t *Transport) consumer(topic string) string {
	return t.config.ConsumerName + "_" + transport.SanitizeName(topic)
}

// Close stops all fetch loops and closes the connection.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for name, sub := range t.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Debug("Unsubscribe failed", watermill.LogFields{"consumer": name, "error": err.Error()})
		}
	}
	t.subscriptions = make(map[string]*nats.Subscription)
	t.subMu.Unlock()

	t.wg.Wait()
	if t.nc != nil {
		t.nc.Close()
	}
	return nil
}

// GetCapabilities returns the JetStream transport capabilities.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
