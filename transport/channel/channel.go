// Package channel provides an in-process transport backed by Watermill's
// gochannel. Participants in one process share a bus by sharing the built
// Transport value.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/rtpsbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. Publishing blocks until every
// subscriber has acknowledged, which keeps per-writer ordering.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(ChannelConfig(cfg), logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// ChannelConfig derives the gochannel settings from cfg.
func ChannelConfig(cfg transport.Config) gochannel.Config {
	c := gochannel.Config{BlockPublishUntilSubscriberAck: true}
	if cfg != nil {
		c.OutputChannelBuffer = cfg.GetChannelBufferSize()
	}
	return c
}

// New builds a standalone in-process bus.
func New(logger watermill.LoggerAdapter) transport.Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pub, sub := Factory(ChannelConfig(nil), logger)
	return transport.Transport{Publisher: pub, Subscriber: sub}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
