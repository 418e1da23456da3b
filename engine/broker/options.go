package broker

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/benbjohnson/clock"

	"github.com/drblury/rtpsbridge/transport"
)

const (
	DefaultHistoryDepth = 16
	DefaultQueueDepth   = 64

	eventQueueSize = 4096
)

// Options configure a Broker.
type Options struct {
	// Transport carries data and discovery. Participants that share a
	// Transport value share a bus.
	Transport transport.Transport
	// TransportName is used for the advertised locator and to look up
	// the transport's capabilities.
	TransportName string
	// Capabilities overrides the registry lookup by TransportName.
	Capabilities *transport.Capabilities
	// OwnsTransport closes Transport on StopAll and RemoveParticipant.
	OwnsTransport bool

	Logger watermill.LoggerAdapter
	Clock  clock.Clock

	// AnnounceInterval re-announces the participant and its endpoints.
	// Zero announces only on changes, unless LeaseDuration is set.
	AnnounceInterval time.Duration
	// LeaseDuration drops remote participants silent for longer. Zero
	// keeps them until they say goodbye.
	LeaseDuration time.Duration

	// HistoryDepth bounds transient-local writer history: the last N
	// samples, or the last sample of N instances for keyed topics.
	HistoryDepth int
	// QueueDepth bounds samples waiting for Decode per reader.
	QueueDepth int
}

func (o Options) withDefaults() Options {
	if o.TransportName == "" {
		o.TransportName = "channel"
	}
	if o.Logger == nil {
		o.Logger = watermill.NopLogger{}
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.HistoryDepth <= 0 {
		o.HistoryDepth = DefaultHistoryDepth
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.LeaseDuration > 0 && o.AnnounceInterval <= 0 {
		o.AnnounceInterval = o.LeaseDuration / 3
	}
	if o.Capabilities == nil {
		caps := transport.GetCapabilities(o.TransportName)
		o.Capabilities = &caps
	}
	return o
}
