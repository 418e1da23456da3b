// Package postgres provides a PostgreSQL LISTEN/NOTIFY transport. Every
// listening connection receives every notification on its channel, so
// samples fan out to all participants sharing a database. Nothing is stored:
// samples published while a participant is not listening are lost.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drblury/rtpsbridge/internal/runtime/codec"
	"github.com/drblury/rtpsbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

const (
	// MaxNotifyPayload is the server's limit for a NOTIFY payload.
	MaxNotifyPayload = 8000

	// maxChannelLength is NAMEDATALEN-1.
	maxChannelLength = 63
)

var (
	// ErrClosed is returned by Publish and Subscribe after Close.
	ErrClosed = errors.New("postgres: transport is closed")

	// ErrPayloadTooLarge is returned when an encoded sample exceeds
	// MaxNotifyPayload.
	ErrPayloadTooLarge = errors.New("postgres: payload exceeds NOTIFY limit")
)

// PoolFactory allows overriding the pool creation for testing.
var PoolFactory = func(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, connString)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
}

// Build creates a new PostgreSQL transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetPostgresURL()
	if url == "" {
		return transport.Transport{}, errors.New("postgres: URL is required")
	}

	pool, err := PoolFactory(ctx, url)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return transport.Transport{}, fmt.Errorf("postgres: ping: %w", err)
	}

	t := New(pool, logger)
	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// execer is the part of the pool used for NOTIFY.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// envelope carries a watermill message inside a NOTIFY payload.
type envelope struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// Transport implements Publisher and Subscriber on LISTEN/NOTIFY.
type Transport struct {
	pool   *pgxpool.Pool
	notify execer
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// New wraps an open pool. The transport closes the pool on Close.
func New(pool *pgxpool.Pool, logger watermill.LoggerAdapter) *Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Transport{
		pool:    pool,
		notify:  pool,
		logger:  logger,
		closing: make(chan struct{}),
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Publish sends one NOTIFY per message.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}

	channel := ChannelName(topic)
	for _, msg := range messages {
		payload, err := encodeEnvelope(msg)
		if err != nil {
			return err
		}
		if _, err := t.notify.Exec(context.Background(), "SELECT pg_notify($1, $2)", channel, payload); err != nil {
			return fmt.Errorf("postgres: notify %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe dedicates a pooled connection to LISTEN on the topic's channel.
// The connection returns to the pool when ctx is cancelled or the transport
// closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire listener: %w", err)
	}
	channel := ChannelName(topic)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgres: listen %s: %w", topic, err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-listenCtx.Done():
		case <-t.closing:
			cancel()
		}
	}()

	out := make(chan *message.Message)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)
		defer cancel()
		defer t.release(conn)
		t.listen(listenCtx, conn.Conn(), out, topic)
	}()
	return out, nil
}

func (t *Transport) listen(ctx context.Context, conn *pgx.Conn, out chan<- *message.Message, topic string) {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Error("Listener stopped", err, watermill.LogFields{"topic": topic})
			}
			return
		}

		msg, err := decodeEnvelope(n.Payload)
		if err != nil {
			t.logger.Error("Dropping malformed notification", err, watermill.LogFields{"topic": topic})
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			// no redelivery without storage
		case <-ctx.Done():
			return
		}
	}
}

// release unlistens before handing the connection back so pooled
// connections carry no stale subscriptions.
func (t *Transport) release(conn *pgxpool.Conn) {
	if _, err := conn.Exec(context.Background(), "UNLISTEN *"); err != nil {
		t.logger.Debug("UNLISTEN failed; discarding connection", watermill.LogFields{"error": err.Error()})
		_ = conn.Conn().Close(context.Background())
	}
	conn.Release()
}

// Close stops every listener and closes the pool.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closing)
	t.mu.Unlock()

	t.wg.Wait()
	if t.pool != nil {
		t.pool.Close()
	}
	return nil
}

// GetCapabilities returns the capabilities of this transport instance.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// ChannelName maps a topic onto a NOTIFY channel. Names longer than the
// identifier limit keep a prefix and gain a hash suffix.
func ChannelName(topic string) string {
	if len(topic) <= maxChannelLength {
		return topic
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(topic))
	suffix := fmt.Sprintf("_%016x", h.Sum64())
	return topic[:maxChannelLength-len(suffix)] + suffix
}

func encodeEnvelope(msg *message.Message) (string, error) {
	b, err := codec.MarshalJSON(envelope{
		UUID:     msg.UUID,
		Metadata: msg.Metadata,
		Payload:  msg.Payload,
	})
	if err != nil {
		return "", err
	}
	if len(b) > MaxNotifyPayload {
		return "", fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(b))
	}
	return string(b), nil
}

func decodeEnvelope(payload string) (*message.Message, error) {
	var env envelope
	if err := codec.UnmarshalJSON([]byte(payload), &env); err != nil {
		return nil, err
	}
	if env.UUID == "" {
		return nil, errors.New("postgres: notification without uuid")
	}
	msg := message.NewMessage(env.UUID, env.Payload)
	for k, v := range env.Metadata {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}
