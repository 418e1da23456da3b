package engine

import "errors"

var (
	ErrNotCreated      = errors.New("engine: participant not created")
	ErrAlreadyCreated  = errors.New("engine: participant already created")
	ErrClosed          = errors.New("engine: participant closed")
	ErrUnknownReader   = errors.New("engine: no reader for topic")
	ErrUnknownWriter   = errors.New("engine: no writer for topic")
	ErrDuplicateReader = errors.New("engine: reader already exists for topic")
	ErrDuplicateWriter = errors.New("engine: writer already exists for topic")
	ErrKeyRequired     = errors.New("engine: keyed topic requires a non-empty key")
	ErrKeyNotAllowed   = errors.New("engine: unkeyed topic does not accept a key")
	ErrNoContainer     = errors.New("engine: callback container not set up")
	ErrBadPartition    = errors.New("engine: invalid partition pattern")
	ErrPayloadTooLarge = errors.New("engine: payload exceeds transport limit")
)
