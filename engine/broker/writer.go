package broker

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/rtpsbridge/engine"
	"github.com/drblury/rtpsbridge/internal/runtime/ids"
	"github.com/drblury/rtpsbridge/internal/runtime/metadata"
)

type writer struct {
	info      endpointInfo
	key       string
	writerID  string
	wireTopic string

	// mu serializes sends and replays so sequence numbers go out in order.
	mu      sync.Mutex
	seq     uint64
	history *history

	removed atomic.Bool

	// guarded by Broker.mu
	matched map[string]struct{}
}

// RegisterWriter declares a writer on topic.
func (b *Broker) RegisterWriter(ep engine.Endpoint) error {
	if ep.Topic == "" {
		return errEmptyTopic
	}

	b.mu.Lock()
	if err := b.activeLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	if _, ok := b.writers[ep.Topic]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrDuplicateWriter, ep.Topic)
	}
	info := endpointFor(ep, false, b.partition)
	w := &writer{
		info:      info,
		key:       b.endpointKeyLocked(info),
		writerID:  b.guid.String() + "/" + ids.CreateULID(),
		wireTopic: DataTopic(b.domain, ep.Topic),
		matched:   make(map[string]struct{}),
	}
	if ep.TransientLocal {
		w.history = newHistory(b.opts.HistoryDepth, ep.Keyed)
	}
	b.writers[ep.Topic] = w
	calls := b.matchLocalWriterLocked(w)
	b.announceEndpointLocked(kindEndpoint, info)
	b.mu.Unlock()

	b.logger.Debug("Writer registered", watermill.LogFields{
		"topic":     info.Topic,
		"type":      info.TypeName,
		"partition": info.Partition,
		"keyed":     info.Keyed,
	})
	b.warnQoS(info)
	run(calls)
	return nil
}

// RemoveWriter withdraws the writer on topic.
func (b *Broker) RemoveWriter(topic string) error {
	b.mu.Lock()
	if err := b.activeLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	w, ok := b.writers[topic]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrUnknownWriter, topic)
	}
	delete(b.writers, topic)
	w.removed.Store(true)
	calls := b.unmatchLocalLocked(w.key, false)
	b.announceEndpointLocked(kindEndpointRemoved, w.info)
	b.mu.Unlock()

	run(calls)
	return nil
}

// SendData publishes one sample on an unkeyed topic.
func (b *Broker) SendData(ctx context.Context, topic string, data []byte) error {
	return b.send(ctx, topic, data, nil, false)
}

// SendDataWithKey publishes one sample of the instance identified by key.
func (b *Broker) SendDataWithKey(ctx context.Context, topic string, data, key []byte) error {
	return b.send(ctx, topic, data, key, true)
}

func (b *Broker) send(ctx context.Context, topic string, data, key []byte, withKey bool) error {
	b.mu.Lock()
	if err := b.activeLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	w, ok := b.writers[topic]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownWriter, topic)
	}

	switch {
	case w.info.Keyed && len(key) == 0:
		return fmt.Errorf("%w: %s", engine.ErrKeyRequired, topic)
	case !w.info.Keyed && withKey:
		return fmt.Errorf("%w: %s", engine.ErrKeyNotAllowed, topic)
	}
	if !b.caps.Fits(len(data)) {
		return fmt.Errorf("%w: %d bytes on %s (limit %d)", engine.ErrPayloadTooLarge, len(data), topic, b.caps.MaxMessageSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed.Load() {
		return fmt.Errorf("%w: %s", engine.ErrUnknownWriter, topic)
	}

	w.seq++
	s := metadata.Sample{
		Writer:    w.writerID,
		Sequence:  w.seq,
		TypeName:  w.info.TypeName,
		Partition: w.info.Partition,
		Key:       bytes.Clone(key),

		Reliable:       w.info.Reliable,
		TransientLocal: w.info.TransientLocal,
	}
	payload := bytes.Clone(data)
	if err := b.publishSample(ctx, w.wireTopic, s, payload); err != nil {
		return fmt.Errorf("broker: publish %s: %w", topic, err)
	}
	if w.history != nil {
		w.history.add(historySample{seq: s.Sequence, key: s.Key, payload: payload})
	}
	return nil
}

func (b *Broker) publishSample(ctx context.Context, wireTopic string, s metadata.Sample, payload []byte) error {
	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata = s.ToWatermill()
	msg.SetContext(ctx)
	return b.pub.Publish(wireTopic, msg)
}

// replay republishes the retained history of w flagged as replay. Readers
// that already saw a sample drop the duplicate by sequence number.
func (b *Broker) replay(w *writer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.history == nil || w.removed.Load() {
		return
	}

	samples := w.history.snapshot()
	for _, hs := range samples {
		s := metadata.Sample{
			Writer:    w.writerID,
			Sequence:  hs.seq,
			TypeName:  w.info.TypeName,
			Partition: w.info.Partition,
			Key:       hs.key,

			Reliable:       w.info.Reliable,
			TransientLocal: w.info.TransientLocal,
		}
		if err := b.publishSample(b.ctx, w.wireTopic, s.AsReplay(), hs.payload); err != nil {
			b.logger.Error("History replay failed", err, watermill.LogFields{
				"topic":    w.info.Topic,
				"sequence": hs.seq,
			})
			return
		}
	}
	b.logger.Debug("History replayed", watermill.LogFields{
		"topic":   w.info.Topic,
		"samples": len(samples),
	})
}

func (b *Broker) enqueueReplayLocked(w *writer) {
	b.enqueueLocked(func() { b.replay(w) })
}
