package runtime

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	loggingpkg "github.com/drblury/rtpsbridge/internal/runtime/logging"
)

// DeliveryContext describes one sample handed to a reader.
type DeliveryContext struct {
	Topic    string
	TypeName string
	Sequence uint64
	// StartedAt is when the bridge began decoding the sample.
	StartedAt time.Time
	// Duration is set for OnDeliveryDone and OnDeliveryError.
	Duration time.Duration
}

// DeliveryHooks observe reader deliveries. Nil hooks are skipped. Hooks
// run on the engine goroutine that delivers the sample.
type DeliveryHooks struct {
	OnDeliveryStart func(ctx DeliveryContext)
	OnDeliveryDone  func(ctx DeliveryContext)
	// OnDeliveryError receives decode failures and handler panics.
	OnDeliveryError func(ctx DeliveryContext, err error)
}

// Merge returns hooks calling h first and other second.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: chainHooks(h.OnDeliveryStart, other.OnDeliveryStart),
		OnDeliveryDone:  chainHooks(h.OnDeliveryDone, other.OnDeliveryDone),
		OnDeliveryError: chainErrorHooks(h.OnDeliveryError, other.OnDeliveryError),
	}
}

func chainHooks(a, b func(DeliveryContext)) func(DeliveryContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DeliveryContext, error)) func(DeliveryContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks logs completed deliveries at debug level and failures as
// errors.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryDone: func(ctx DeliveryContext) {
			logger.Debug("Sample delivered", loggingpkg.LogFields{
				"topic":       ctx.Topic,
				"sequence":    ctx.Sequence,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnDeliveryError: func(ctx DeliveryContext, err error) {
			logger.Error("Sample delivery failed", err, loggingpkg.LogFields{
				"topic":       ctx.Topic,
				"type":        ctx.TypeName,
				"sequence":    ctx.Sequence,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks calls alert for every failed delivery.
func AlertingHooks(alert func(ctx DeliveryContext, err error)) DeliveryHooks {
	return DeliveryHooks{OnDeliveryError: alert}
}

// SetDeliveryHooks replaces the hooks applied to every reader.
func (p *Participant) SetDeliveryHooks(hooks DeliveryHooks) {
	p.hooks.Store(&hooks)
}

// withHooks wraps a reader delivery with the participant hooks. A
// panicking handler is recovered and reported as a delivery error so the
// engine goroutine survives.
func (p *Participant) withHooks(topic, typeName string, deliver func(sequence uint64, payload []byte) error) func(uint64, []byte) {
	return func(sequence uint64, payload []byte) {
		var hooks DeliveryHooks
		if h := p.hooks.Load(); h != nil {
			hooks = *h
		}
		ctx := DeliveryContext{Topic: topic, TypeName: typeName, Sequence: sequence, StartedAt: time.Now()}
		if hooks.OnDeliveryStart != nil {
			hooks.OnDeliveryStart(ctx)
		}

		err := recoverDelivery(func() error { return deliver(sequence, payload) })
		ctx.Duration = time.Since(ctx.StartedAt)

		if err != nil {
			var panicked *handlerPanic
			if errors.As(err, &panicked) {
				p.Logger.Error("Reader handler panicked", err, loggingpkg.LogFields{
					"topic":    topic,
					"sequence": sequence,
					"stack":    panicked.stack,
				})
			}
			if hooks.OnDeliveryError != nil {
				hooks.OnDeliveryError(ctx, err)
			}
			return
		}
		if hooks.OnDeliveryDone != nil {
			hooks.OnDeliveryDone(ctx)
		}
	}
}

type handlerPanic struct {
	value any
	stack string
}

func (e *handlerPanic) Error() string {
	return fmt.Sprintf("reader handler panic: %v", e.value)
}

func recoverDelivery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handlerPanic{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn()
}
