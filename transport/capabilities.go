package transport

// Capabilities describes what a broker guarantees, so the engine can tell
// whether a topic's QoS is actually honoured.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// Acknowledged means a publish is confirmed by the broker, which is what
	// reliable topics rely on.
	Acknowledged bool

	// Durable means the broker keeps samples for subscribers that attach
	// later, independent of writer history.
	Durable bool

	// Ordered means samples from one publisher arrive in publish order.
	Ordered bool

	// Broadcast means every subscriber of a topic receives every sample.
	Broadcast bool

	// MaxMessageSize is the maximum payload in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliable reports whether reliable topics are honoured.
func (c Capabilities) SupportsReliable() bool {
	return c.Acknowledged && c.Ordered
}

// SupportsKeepLast reports whether per-writer sequence filtering is enough
// to give readers the latest sample per writer.
func (c Capabilities) SupportsKeepLast() bool {
	return c.Ordered
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:         "channel",
		Acknowledged: true,
		Ordered:      true,
		Broadcast:    true,
	}

	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Acknowledged:   true,
		Durable:        true,
		Ordered:        true,
		Broadcast:      true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	RabbitMQCapabilities = Capabilities{
		Name:         "rabbitmq",
		Acknowledged: true,
		Ordered:      true,
		Broadcast:    true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		Broadcast:      true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:           "nats-jetstream",
		Acknowledged:   true,
		Durable:        true,
		Ordered:        true,
		Broadcast:      true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	// NOTIFY payloads are capped at 8000 bytes and carry a base64 envelope.
	PostgresCapabilities = Capabilities{
		Name:           "postgres",
		Ordered:        true,
		Broadcast:      true,
		MaxMessageSize: 5 * 1024,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		Acknowledged:   true,
		Broadcast:      true,
		MaxMessageSize: 262144, // 256KB
	}

	HTTPCapabilities = Capabilities{
		Name:      "http",
		Broadcast: false,
	}

	IOCapabilities = Capabilities{
		Name:      "io",
		Ordered:   true,
		Broadcast: true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
