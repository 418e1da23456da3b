/*
Package runtime is the bridge between application values and an RTPS-style
protocol engine.

# Architecture Overview

The engine (package engine) moves bytes: it discovers peers, matches
readers with writers and delivers payloads. The bridge owns everything
typed: it encodes values before they reach the engine, decodes payloads the
engine delivers and routes engine notifications to application delegates.

# Package Structure

## Participant (participant.go)

The Participant is the root resource. It wires the engine callbacks before
the engine participant exists, keeps the reader and writer registries and
owns the HTTP servers for metrics and introspection.

## Readers and writers (readers.go, writers.go)

Typed entry points built on raw ones:
  - RegisterReader delivers values together with decode errors
  - RegisterReaderBestEffort logs decode errors and skips the sample
  - RegisterReaderRaw delivers payload bytes
  - RegisterWriter, Send and SendRaw encode and publish

## Decode contexts (arena.go)

Every reader gets a decode context stored in an arena. The engine only sees
its token. Release removes the context once and waits for a delivery in
progress; deliveries after release are dropped.

## Notifications (dispatcher.go)

One delegate per class: Listener for local lifecycle events and
ParticipantListener for discovery. A missing delegate drops the event. The
dispatcher also keeps a table of discovered participants and endpoints.

## Type descriptors (descriptor.go)

Payload types name themselves with DDSTypeName, fall back to protobuf full
names, IDL names of builtin kinds and finally Go type names. Types with a
DDSKey method are keyed.

## Observability (metrics.go, tracing.go, hooks.go, introspection.go)

Prometheus counters per topic, OpenTelemetry spans around send and decode,
delivery hooks and a JSON snapshot served on /api/endpoints.

# Sub-packages

  - codec/: JSON (sonic) and protobuf payload codecs
  - config/: participant configuration, validation and env loading
  - enginefactory/: builds the broker engine for a configuration
  - errors/: sentinel and typed errors
  - ids/: ULID identifiers
  - logging/: logger contract and adapters
  - metadata/: sample headers carried by the broker engine
  - netif/: interface address listing

# Usage Example

	p, err := rtpsbridge.NewParticipant(ctx, &rtpsbridge.Config{
		ParticipantName: "thermostat",
	}, logger, rtpsbridge.ParticipantDependencies{})
	if err != nil {
		return err
	}
	defer p.RemoveParticipant()

	topic := rtpsbridge.NewTopic("Temperature", true, false)
	_ = rtpsbridge.RegisterWriter[float64](p, topic)
	_ = rtpsbridge.Send(ctx, p, topic, 21.5)
*/
package runtime
