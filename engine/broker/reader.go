package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/rtpsbridge/engine"
	"github.com/drblury/rtpsbridge/internal/runtime/metadata"
)

type delivery struct {
	seq     uint64
	payload []byte
}

// writerProgress tracks what a reader has accepted from one writer. Live
// samples must advance past everything seen; replayed history is only
// accepted below the first live sample.
type writerProgress struct {
	firstLive  uint64
	lastLive   uint64
	lastReplay uint64
}

func (p *writerProgress) accept(seq uint64, replay bool) bool {
	if replay {
		if seq <= p.lastReplay || (p.firstLive != 0 && seq >= p.firstLive) {
			return false
		}
		p.lastReplay = seq
		return true
	}
	if seq <= p.lastLive || seq <= p.lastReplay {
		return false
	}
	p.lastLive = seq
	if p.firstLive == 0 {
		p.firstLive = seq
	}
	return true
}

type reader struct {
	info  endpointInfo
	key   string
	token engine.Token
	queue chan delivery

	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc

	// guarded by Broker.mu
	matched map[string]struct{}

	// owned by the receive goroutine
	writers map[string]*writerProgress
	dropped uint64
}

func newReader(info endpointInfo, key string, token engine.Token, cancel context.CancelFunc, depth int) *reader {
	return &reader{
		info:    info,
		key:     key,
		token:   token,
		queue:   make(chan delivery, depth),
		done:    make(chan struct{}),
		cancel:  cancel,
		matched: make(map[string]struct{}),
		writers: make(map[string]*writerProgress),
	}
}

func (r *reader) stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.cancel()
	})
}

// admit filters a received message down to a delivery. fromPeer reports
// whether the writer's participant may be heard at all.
func (r *reader) admit(msg *message.Message, fromPeer func(writer string) bool) (delivery, error) {
	s, err := metadata.FromWatermill(msg.Metadata)
	if err != nil {
		return delivery{}, err
	}
	if !acceptsSample(r.info, s) || !fromPeer(s.Writer) {
		return delivery{}, errSkip
	}
	if s.Replay && !r.info.TransientLocal {
		return delivery{}, errSkip
	}
	p, ok := r.writers[s.Writer]
	if !ok {
		p = &writerProgress{}
		r.writers[s.Writer] = p
	}
	if !p.accept(s.Sequence, s.Replay) {
		return delivery{}, errSkip
	}
	return delivery{seq: s.Sequence, payload: msg.Payload}, nil
}

// RegisterReader subscribes to topic. Samples are decoded against token
// until the reader is removed, then token is released once.
func (b *Broker) RegisterReader(ep engine.Endpoint, token engine.Token) error {
	if ep.Topic == "" {
		return errEmptyTopic
	}

	b.mu.Lock()
	if err := b.activeLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	_, exists := b.readers[ep.Topic]
	_, pending := b.pendingReaders[ep.Topic]
	if exists || pending {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrDuplicateReader, ep.Topic)
	}
	b.pendingReaders[ep.Topic] = struct{}{}
	info := endpointFor(ep, true, b.partition)
	domain := b.domain
	b.mu.Unlock()

	// gochannel blocks Subscribe while a publish waits for acks, so the
	// subscription is made without holding b.mu.
	ctx, cancel := context.WithCancel(b.ctx)
	msgs, err := b.sub.Subscribe(ctx, DataTopic(domain, ep.Topic))

	b.mu.Lock()
	delete(b.pendingReaders, ep.Topic)
	if err != nil {
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("broker: subscribe %s: %w", ep.Topic, err)
	}
	if err := b.activeLocked(); err != nil {
		b.mu.Unlock()
		cancel()
		return err
	}
	r := newReader(info, b.endpointKeyLocked(info), token, cancel, b.opts.QueueDepth)
	b.readers[ep.Topic] = r
	b.wg.Add(1)
	go b.receive(r, msgs)
	b.processing.Add(1)
	go b.process(r)
	calls := b.matchLocalReaderLocked(r)
	b.announceEndpointLocked(kindEndpoint, info)
	b.mu.Unlock()

	b.logger.Debug("Reader registered", watermill.LogFields{
		"topic":     info.Topic,
		"type":      info.TypeName,
		"partition": info.Partition,
		"reliable":  info.Reliable,
	})
	b.warnQoS(info)
	run(calls)
	return nil
}

// RemoveReader stops delivery on topic. The reader's token is released
// asynchronously once an in-flight Decode returns.
func (b *Broker) RemoveReader(topic string) error {
	b.mu.Lock()
	if err := b.activeLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	r, ok := b.readers[topic]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrUnknownReader, topic)
	}
	delete(b.readers, topic)
	calls := b.unmatchLocalLocked(r.key, true)
	b.announceEndpointLocked(kindEndpointRemoved, r.info)
	b.mu.Unlock()

	r.stop()
	run(calls)
	return nil
}

// receive acks every message at once; gochannel holds its publish lock
// until all subscribers ack.
func (b *Broker) receive(r *reader, msgs <-chan *message.Message) {
	defer b.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			msg.Ack()

			d, err := r.admit(msg, b.heardFrom)
			if err == errSkip {
				continue
			}
			if err != nil {
				b.logger.Error("Dropping malformed sample", err, watermill.LogFields{
					"topic":      r.info.Topic,
					"message_id": msg.UUID,
				})
				continue
			}

			if r.info.Reliable {
				select {
				case r.queue <- d:
				case <-r.done:
					return
				}
				continue
			}
			select {
			case r.queue <- d:
			default:
				r.dropped++
				b.logger.Debug("Reader queue full, sample dropped", watermill.LogFields{
					"topic":    r.info.Topic,
					"sequence": d.seq,
					"dropped":  r.dropped,
				})
			}
		}
	}
}

func (b *Broker) process(r *reader) {
	defer b.processing.Done()
	defer b.release(r.token)

	for {
		select {
		case <-r.done:
			return
		case d := <-r.queue:
			select {
			case <-r.done:
				return
			default:
			}
			if cb := b.callbacks.Load(); cb != nil && cb.Decode != nil {
				cb.Decode(r.token, d.seq, d.payload)
			}
		}
	}
}

func (b *Broker) release(token engine.Token) {
	if cb := b.callbacks.Load(); cb != nil && cb.Release != nil {
		cb.Release(token)
	}
}
