package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired          = sterrors.New("rtpsbridge: configuration is required")
	ErrLoggerRequired          = sterrors.New("rtpsbridge: logger is required")
	ErrParticipantRequired     = sterrors.New("rtpsbridge: participant is required")
	ErrEngineRequired          = sterrors.New("rtpsbridge: engine is required")
	ErrTopicRequired           = sterrors.New("rtpsbridge: topic name is required")
	ErrTypeRequired            = sterrors.New("rtpsbridge: payload type name is required")
	ErrHandlerRequired         = sterrors.New("rtpsbridge: handler function is required")
	ErrPayloadRequired         = sterrors.New("rtpsbridge: payload value is required")
	ErrReaderAlreadyRegistered = sterrors.New("rtpsbridge: reader already registered for topic")
	ErrWriterAlreadyRegistered = sterrors.New("rtpsbridge: writer already registered for topic")
	ErrReaderNotRegistered     = sterrors.New("rtpsbridge: no reader registered for topic")
	ErrWriterNotRegistered     = sterrors.New("rtpsbridge: no writer registered for topic")
	ErrParticipantRemoved      = sterrors.New("rtpsbridge: participant has been removed")
	ErrTypeMismatch            = sterrors.New("rtpsbridge: value type does not match registered writer")
	ErrUnknownCodec            = sterrors.New("rtpsbridge: unknown codec")
)

// ConfigValidationError wraps every problem found while validating a
// configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "rtpsbridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// EncodeError reports a value the codec could not serialize.
type EncodeError struct {
	Topic    string
	TypeName string
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("rtpsbridge: encode %s for topic %q: %v", e.TypeName, e.Topic, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError reports a payload the codec could not deserialize.
type DecodeError struct {
	Topic    string
	Sequence uint64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("rtpsbridge: decode sample %d on topic %q: %v", e.Sequence, e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EngineError reports an engine entry point that rejected a request.
type EngineError struct {
	Op    string
	Topic string
	Err   error
}

func (e *EngineError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("rtpsbridge: engine %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rtpsbridge: engine %s %q: %v", e.Op, e.Topic, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
