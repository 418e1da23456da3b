package runtime

import (
	"bytes"

	"github.com/drblury/rtpsbridge/engine"
	errspkg "github.com/drblury/rtpsbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/rtpsbridge/internal/runtime/logging"
)

// RegisterReader subscribes to topic and decodes every sample into T. The
// handler sees decode failures as a *DecodeError together with the zero
// value of T.
//
// Handlers run on the reader's delivery goroutine. A handler that sends on
// the reliable topic it reads can block once that reader's queue is full.
func RegisterReader[T any](p *Participant, topic Topic, handler func(sequence uint64, value T, err error)) error {
	if p == nil {
		return errspkg.ErrParticipantRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	info := DescribeType[T]()
	return p.registerReader(topic, info, func(sequence uint64, payload []byte) error {
		value, err := decodeValue[T](p, topic.Name, info.Name, sequence, payload)
		handler(sequence, value, err)
		return err
	})
}

// RegisterReaderBestEffort is RegisterReader for handlers that only want
// good samples. Undecodable samples are logged and skipped.
func RegisterReaderBestEffort[T any](p *Participant, topic Topic, handler func(value T)) error {
	if p == nil {
		return errspkg.ErrParticipantRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	info := DescribeType[T]()
	return p.registerReader(topic, info, func(sequence uint64, payload []byte) error {
		value, err := decodeValue[T](p, topic.Name, info.Name, sequence, payload)
		if err != nil {
			p.Logger.Error("Dropping undecodable sample", err, loggingpkg.LogFields{
				"topic":    topic.Name,
				"sequence": sequence,
				"type":     info.Name,
			})
			return err
		}
		handler(value)
		return nil
	})
}

// RegisterReaderRaw subscribes without decoding. info is announced as is;
// DescribeType produces it for a Go type. The handler owns the payload.
func (p *Participant) RegisterReaderRaw(topic Topic, info TypeInfo, handler func(sequence uint64, payload []byte)) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	return p.registerReader(topic, info, func(sequence uint64, payload []byte) error {
		p.metrics.RecordReceived(topic.Name)
		handler(sequence, bytes.Clone(payload))
		return nil
	})
}

func decodeValue[T any](p *Participant, topic, typeName string, sequence uint64, payload []byte) (T, error) {
	span := startDecodeSpan(topic, typeName, sequence)

	var value T
	if err := p.codec.Unmarshal(payload, &value); err != nil {
		p.metrics.RecordDecodeFailure(topic)
		decodeErr := &errspkg.DecodeError{Topic: topic, Sequence: sequence, Err: err}
		endSpan(span, decodeErr)
		var zero T
		return zero, decodeErr
	}

	p.metrics.RecordReceived(topic)
	endSpan(span, nil)
	return value, nil
}

func (p *Participant) registerReader(topic Topic, info TypeInfo, deliver func(sequence uint64, payload []byte) error) error {
	if err := topic.validate(); err != nil {
		return err
	}
	if info.Name == "" {
		return errspkg.ErrTypeRequired
	}

	reg := &readerRegistration{topic: topic, info: info}

	p.mu.Lock()
	if p.state == StateRemoved {
		p.mu.Unlock()
		return errspkg.ErrParticipantRemoved
	}
	if _, exists := p.readers[topic.Name]; exists {
		p.mu.Unlock()
		return errspkg.ErrReaderAlreadyRegistered
	}
	p.readers[topic.Name] = reg
	p.mu.Unlock()
	p.metrics.AddReaders(1)

	reg.token = p.arena.add(&decodeContext{topic: topic.Name, typeName: info.Name, deliver: p.withHooks(topic.Name, info.Name, deliver)})
	ep := engine.Endpoint{
		Topic:          topic.Name,
		TypeName:       info.Name,
		Keyed:          info.Keyed,
		TransientLocal: topic.TransientLocal,
		Reliable:       topic.Reliable,
	}
	if err := p.engine.RegisterReader(ep, reg.token); err != nil {
		// a failed registration is never released by the engine
		p.arena.release(reg.token)
		p.dropReader(topic.Name, reg)
		return &errspkg.EngineError{Op: "register reader", Topic: topic.Name, Err: err}
	}

	p.activate()
	p.Logger.Info("Reader registered", loggingpkg.LogFields{
		"topic":           topic.Name,
		"type":            info.Name,
		"keyed":           info.Keyed,
		"reliable":        topic.Reliable,
		"transient_local": topic.TransientLocal,
	})
	return nil
}

// RemoveReader tears down the reader of topic. Its handler may still run
// for a sample already in flight; it is never called after the engine
// releases the reader.
func (p *Participant) RemoveReader(topic Topic) error {
	p.mu.Lock()
	if p.state == StateRemoved {
		p.mu.Unlock()
		return errspkg.ErrParticipantRemoved
	}
	reg, ok := p.readers[topic.Name]
	if !ok {
		p.mu.Unlock()
		return errspkg.ErrReaderNotRegistered
	}
	delete(p.readers, topic.Name)
	p.mu.Unlock()
	p.metrics.AddReaders(-1)

	if err := p.engine.RemoveReader(topic.Name); err != nil {
		p.restoreReader(topic.Name, reg)
		return &errspkg.EngineError{Op: "remove reader", Topic: topic.Name, Err: err}
	}
	p.Logger.Info("Reader removed", loggingpkg.LogFields{"topic": topic.Name, "type": reg.info.Name})
	return nil
}

func (p *Participant) dropReader(name string, reg *readerRegistration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readers[name] == reg {
		delete(p.readers, name)
		p.metrics.AddReaders(-1)
	}
}

// restoreReader puts back a registration the engine refused to remove,
// unless the topic was taken again or the participant went away meanwhile.
func (p *Participant) restoreReader(name string, reg *readerRegistration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.readers[name]; taken || p.state == StateRemoved {
		return
	}
	p.readers[name] = reg
	p.metrics.AddReaders(1)
}

// activate marks the participant active once it holds a registration.
func (p *Participant) activate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateCreated || p.state == StateResigned {
		p.state = StateActive
	}
}
