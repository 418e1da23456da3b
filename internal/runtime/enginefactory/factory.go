// Package enginefactory builds the engine a participant runs on from its
// configuration.
package enginefactory

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/rtpsbridge/engine"
	"github.com/drblury/rtpsbridge/engine/broker"
	"github.com/drblury/rtpsbridge/internal/runtime/config"
	"github.com/drblury/rtpsbridge/transport"

	// Register every built-in transport.
	_ "github.com/drblury/rtpsbridge/transport/transports"
)

// Factory abstracts how the bridge obtains its engine.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (engine.Engine, error)
}

// DefaultFactory builds a broker engine over the transport named by
// Config.Transport. The engine owns the transport and closes it on
// teardown.
func DefaultFactory() Factory {
	return defaultFactory{}
}

// SharedTransport builds broker engines over an existing transport, so
// several participants in one process share a bus. The caller keeps
// ownership of t.
func SharedTransport(t transport.Transport) Factory {
	return defaultFactory{shared: &t}
}

type defaultFactory struct {
	shared *transport.Transport
}

// transportBuild is overridden in tests.
var transportBuild = transport.Build

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (engine.Engine, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	c := conf.WithDefaults()
	opts := broker.Options{
		TransportName:    c.Transport,
		Logger:           logger,
		AnnounceInterval: c.AnnounceInterval,
		LeaseDuration:    c.LeaseDuration,
		HistoryDepth:     c.HistoryDepth,
		QueueDepth:       c.ReaderQueueDepth,
	}

	if f.shared != nil {
		opts.Transport = *f.shared
	} else {
		t, err := transportBuild(ctx, &c, logger)
		if err != nil {
			return nil, fmt.Errorf("build %s transport: %w", c.Transport, err)
		}
		opts.Transport = t
		opts.OwnsTransport = true
	}

	b, err := broker.New(opts)
	if err != nil {
		if opts.OwnsTransport {
			_ = opts.Transport.Close()
		}
		return nil, err
	}
	return b, nil
}
