package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/rtpsbridge/engine"
	errspkg "github.com/drblury/rtpsbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/rtpsbridge/internal/runtime/logging"
)

// RegisterWriter announces a writer of T on topic.
func RegisterWriter[T any](p *Participant, topic Topic) error {
	if p == nil {
		return errspkg.ErrParticipantRequired
	}
	return p.RegisterWriterRaw(topic, DescribeType[T]())
}

// RegisterWriterRaw announces a writer carrying the type described by info.
func (p *Participant) RegisterWriterRaw(topic Topic, info TypeInfo) error {
	if err := topic.validate(); err != nil {
		return err
	}
	if info.Name == "" {
		return errspkg.ErrTypeRequired
	}

	reg := &writerRegistration{topic: topic, info: info}

	p.mu.Lock()
	if p.state == StateRemoved {
		p.mu.Unlock()
		return errspkg.ErrParticipantRemoved
	}
	if _, exists := p.writers[topic.Name]; exists {
		p.mu.Unlock()
		return errspkg.ErrWriterAlreadyRegistered
	}
	p.writers[topic.Name] = reg
	p.mu.Unlock()
	p.metrics.AddWriters(1)

	ep := engine.Endpoint{
		Topic:          topic.Name,
		TypeName:       info.Name,
		Keyed:          info.Keyed,
		TransientLocal: topic.TransientLocal,
		Reliable:       topic.Reliable,
	}
	if err := p.engine.RegisterWriter(ep); err != nil {
		p.mu.Lock()
		if p.writers[topic.Name] == reg {
			delete(p.writers, topic.Name)
			p.metrics.AddWriters(-1)
		}
		p.mu.Unlock()
		return &errspkg.EngineError{Op: "register writer", Topic: topic.Name, Err: err}
	}

	p.activate()
	p.Logger.Info("Writer registered", loggingpkg.LogFields{
		"topic":           topic.Name,
		"type":            info.Name,
		"keyed":           info.Keyed,
		"reliable":        topic.Reliable,
		"transient_local": topic.TransientLocal,
	})
	return nil
}

// Send encodes value and publishes it on the writer registered for topic.
// Keyed values are sent with their instance key; an empty key travels as a
// single zero byte.
func Send[T any](ctx context.Context, p *Participant, topic Topic, value T) error {
	if p == nil {
		return errspkg.ErrParticipantRequired
	}
	info := DescribeType[T]()
	reg, err := p.writerFor(topic)
	if err != nil {
		return err
	}
	if reg.info.Name != info.Name {
		return fmt.Errorf("%w: writer on %q carries %s, got %s", errspkg.ErrTypeMismatch, topic.Name, reg.info.Name, info.Name)
	}

	ctx, span := startSendSpan(ctx, reg.topic, info)
	start := time.Now()

	payload, err := p.codec.Marshal(value)
	if err != nil {
		p.metrics.RecordEncodeFailure(topic.Name)
		encodeErr := &errspkg.EncodeError{Topic: topic.Name, TypeName: info.Name, Err: err}
		endSpan(span, encodeErr)
		return encodeErr
	}

	if info.Keyed {
		key, _ := keyOf(&value)
		err = p.engine.SendDataWithKey(ctx, topic.Name, payload, sendKey(key))
	} else {
		err = p.engine.SendData(ctx, topic.Name, payload)
	}
	if err != nil {
		p.metrics.RecordSendFailure(topic.Name)
		sendErr := &errspkg.EngineError{Op: "send", Topic: topic.Name, Err: err}
		endSpan(span, sendErr)
		return sendErr
	}

	p.metrics.RecordSent(topic.Name, len(payload), time.Since(start))
	endSpan(span, nil)
	return nil
}

// SendRaw publishes an already encoded payload. The key is used only when
// the writer is keyed; an empty key is replaced by the zero byte sentinel.
func (p *Participant) SendRaw(ctx context.Context, topic Topic, payload, key []byte) error {
	if payload == nil {
		return errspkg.ErrPayloadRequired
	}
	reg, err := p.writerFor(topic)
	if err != nil {
		return err
	}

	ctx, span := startSendSpan(ctx, reg.topic, reg.info)
	start := time.Now()

	switch {
	case reg.info.Keyed:
		err = p.engine.SendDataWithKey(ctx, topic.Name, payload, sendKey(key))
	case len(key) > 0:
		err = p.engine.SendDataWithKey(ctx, topic.Name, payload, key)
	default:
		err = p.engine.SendData(ctx, topic.Name, payload)
	}
	if err != nil {
		p.metrics.RecordSendFailure(topic.Name)
		sendErr := &errspkg.EngineError{Op: "send", Topic: topic.Name, Err: err}
		endSpan(span, sendErr)
		return sendErr
	}

	p.metrics.RecordSent(topic.Name, len(payload), time.Since(start))
	endSpan(span, nil)
	return nil
}

func (p *Participant) writerFor(topic Topic) (*writerRegistration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == StateRemoved {
		return nil, errspkg.ErrParticipantRemoved
	}
	reg, ok := p.writers[topic.Name]
	if !ok {
		return nil, errspkg.ErrWriterNotRegistered
	}
	return reg, nil
}

// RemoveWriter tears down the writer of topic.
func (p *Participant) RemoveWriter(topic Topic) error {
	p.mu.Lock()
	if p.state == StateRemoved {
		p.mu.Unlock()
		return errspkg.ErrParticipantRemoved
	}
	reg, ok := p.writers[topic.Name]
	if !ok {
		p.mu.Unlock()
		return errspkg.ErrWriterNotRegistered
	}
	delete(p.writers, topic.Name)
	p.mu.Unlock()
	p.metrics.AddWriters(-1)

	if err := p.engine.RemoveWriter(topic.Name); err != nil {
		p.restoreWriter(topic.Name, reg)
		return &errspkg.EngineError{Op: "remove writer", Topic: topic.Name, Err: err}
	}
	p.Logger.Info("Writer removed", loggingpkg.LogFields{"topic": topic.Name, "type": reg.info.Name})
	return nil
}

func (p *Participant) restoreWriter(name string, reg *writerRegistration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.writers[name]; taken || p.state == StateRemoved {
		return
	}
	p.writers[name] = reg
	p.metrics.AddWriters(1)
}
