// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/rtpsbridge/transport/aws"
	_ "github.com/drblury/rtpsbridge/transport/channel"
	_ "github.com/drblury/rtpsbridge/transport/http"
	_ "github.com/drblury/rtpsbridge/transport/io"
	_ "github.com/drblury/rtpsbridge/transport/jetstream"
	_ "github.com/drblury/rtpsbridge/transport/kafka"
	_ "github.com/drblury/rtpsbridge/transport/nats"
	_ "github.com/drblury/rtpsbridge/transport/postgres"
	_ "github.com/drblury/rtpsbridge/transport/rabbitmq"
)
