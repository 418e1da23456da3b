// Package rtpsbridge exposes a typed API over an RTPS-style publish/subscribe
// engine. Applications create a Participant, register readers and writers
// per Topic and exchange Go values; the bridge encodes and decodes them
// (JSON through sonic or protobuf binary) while the engine handles discovery,
// matching and delivery.
//
// The bundled engine runs RTPS-style discovery and data exchange over a
// broker transport chosen in Config (in-process channels, Kafka, RabbitMQ,
// AWS SNS/SQS, NATS, NATS JetStream, PostgreSQL LISTEN/NOTIFY, HTTP or a
// JSON-lines file). Any other engine implementing engine.Engine can be
// injected through ParticipantDependencies.
//
// # Readers
//
// RegisterReader delivers every sample with its sequence number and a
// decode error, if any. RegisterReaderBestEffort logs undecodable samples
// and hands only good values to the callback. Participant.RegisterReaderRaw
// skips decoding.
//
// # Writers
//
// RegisterWriter announces a writer of a Go type and Send publishes values.
// Types implementing DDSKey() []byte are keyed; an empty key is sent as a
// single zero byte. Types may choose their wire name with DDSTypeName().
//
// # Notifications
//
// A Participant holds at most one Listener (local reader and writer
// lifecycle) and one ParticipantListener (remote participants, readers and
// writers). Setting a new one replaces the previous one. Notifications
// arrive on engine goroutines.
//
// # Observability
//
// With MetricsEnabled, Prometheus metrics are served on MetricsPort. With
// IntrospectionEnabled, /api/endpoints lists local registrations and
// discovered peers as JSON.
package rtpsbridge
