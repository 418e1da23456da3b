package rtpsbridge

import (
	"context"

	"github.com/drblury/rtpsbridge/engine"
	runtimepkg "github.com/drblury/rtpsbridge/internal/runtime"
	codecpkg "github.com/drblury/rtpsbridge/internal/runtime/codec"
	configpkg "github.com/drblury/rtpsbridge/internal/runtime/config"
	"github.com/drblury/rtpsbridge/internal/runtime/enginefactory"
	errspkg "github.com/drblury/rtpsbridge/internal/runtime/errors"
	idspkg "github.com/drblury/rtpsbridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/rtpsbridge/internal/runtime/logging"
	"github.com/drblury/rtpsbridge/internal/runtime/netif"
	"github.com/drblury/rtpsbridge/transport"
)

type (
	Config                  = configpkg.Config
	Participant             = runtimepkg.Participant
	ParticipantDependencies = runtimepkg.ParticipantDependencies
	State                   = runtimepkg.State

	Topic     = runtimepkg.Topic
	TypeInfo  = runtimepkg.TypeInfo
	TypeNamer = runtimepkg.TypeNamer
	Keyed     = runtimepkg.Keyed

	Listener              = runtimepkg.Listener
	ListenerFunc          = runtimepkg.ListenerFunc
	ParticipantListener   = runtimepkg.ParticipantListener
	DiscoveredParticipant = runtimepkg.DiscoveredParticipant
	DiscoveredEndpoint    = runtimepkg.DiscoveredEndpoint

	LifecycleReason   = engine.LifecycleReason
	ParticipantReason = engine.ParticipantReason
	EndpointReason    = engine.EndpointReason
	LogLevel          = engine.LogLevel

	Snapshot        = runtimepkg.Snapshot
	EndpointInfo    = runtimepkg.EndpointInfo
	ResourceUsage   = runtimepkg.ResourceUsage
	Metrics         = runtimepkg.Metrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot
	TopicMetrics    = runtimepkg.TopicMetrics

	// Delivery hooks
	DeliveryContext = runtimepkg.DeliveryContext
	DeliveryHooks   = runtimepkg.DeliveryHooks

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Codec = codecpkg.Codec

	ConfigValidationError = errspkg.ConfigValidationError
	EncodeError           = errspkg.EncodeError
	DecodeError           = errspkg.DecodeError
	EngineError           = errspkg.EngineError

	// Engine plumbing for custom engines and transports
	Engine                = engine.Engine
	EngineContainer       = engine.Container
	EngineFactory         = enginefactory.Factory
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportCapabilities = transport.Capabilities
)

const (
	StateCreated  = runtimepkg.StateCreated
	StateActive   = runtimepkg.StateActive
	StateResigned = runtimepkg.StateResigned
	StateRemoved  = runtimepkg.StateRemoved

	ReaderMatched        = engine.ReaderMatched
	ReaderRemoved        = engine.ReaderRemoved
	ReaderLivelinessLost = engine.ReaderLivelinessLost
	WriterMatched        = engine.WriterMatched
	WriterRemoved        = engine.WriterRemoved
	WriterLivelinessLost = engine.WriterLivelinessLost

	ParticipantDiscovered = engine.ParticipantDiscovered
	ParticipantChangedQoS = engine.ParticipantChangedQoS
	ParticipantRemoved    = engine.ParticipantRemoved
	ParticipantDropped    = engine.ParticipantDropped

	RemoteReaderDiscovered = engine.RemoteReaderDiscovered
	RemoteReaderChangedQoS = engine.RemoteReaderChangedQoS
	RemoteReaderRemoved    = engine.RemoteReaderRemoved
	RemoteWriterDiscovered = engine.RemoteWriterDiscovered
	RemoteWriterChangedQoS = engine.RemoteWriterChangedQoS
	RemoteWriterRemoved    = engine.RemoteWriterRemoved

	LogError   = engine.LogError
	LogWarning = engine.LogWarning
	LogInfo    = engine.LogInfo
)

var (
	NewParticipant  = runtimepkg.NewParticipant
	NewTopic        = runtimepkg.NewTopic
	LoadEnv         = configpkg.LoadEnv
	ValidateConfig  = configpkg.ValidateConfig
	ParseProperties = runtimepkg.ParseProperties
	ParseLogLevel   = engine.ParseLogLevel
	NewMetrics      = runtimepkg.NewMetrics

	// Delivery hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	JSONCodec   = codecpkg.JSON
	ProtoCodec  = codecpkg.Proto
	LookupCodec = codecpkg.Lookup

	DefaultEngineFactory   = enginefactory.DefaultFactory
	SharedTransportFactory = enginefactory.SharedTransport
	RegisterTransport      = transport.Register
	BuildTransport         = transport.Build
	GetCapabilities        = transport.GetCapabilities

	IPv4Addresses = netif.IPv4Addresses
	IPv6Addresses = netif.IPv6Addresses

	CreateULID = idspkg.CreateULID

	ErrConfigRequired          = errspkg.ErrConfigRequired
	ErrLoggerRequired          = errspkg.ErrLoggerRequired
	ErrParticipantRequired     = errspkg.ErrParticipantRequired
	ErrTopicRequired           = errspkg.ErrTopicRequired
	ErrTypeRequired            = errspkg.ErrTypeRequired
	ErrHandlerRequired         = errspkg.ErrHandlerRequired
	ErrPayloadRequired         = errspkg.ErrPayloadRequired
	ErrReaderAlreadyRegistered = errspkg.ErrReaderAlreadyRegistered
	ErrWriterAlreadyRegistered = errspkg.ErrWriterAlreadyRegistered
	ErrReaderNotRegistered     = errspkg.ErrReaderNotRegistered
	ErrWriterNotRegistered     = errspkg.ErrWriterNotRegistered
	ErrParticipantRemoved      = errspkg.ErrParticipantRemoved
	ErrTypeMismatch            = errspkg.ErrTypeMismatch
	ErrUnknownCodec            = errspkg.ErrUnknownCodec
)

func DescribeType[T any]() TypeInfo {
	return runtimepkg.DescribeType[T]()
}

func RegisterReader[T any](p *Participant, topic Topic, handler func(sequence uint64, value T, err error)) error {
	return runtimepkg.RegisterReader(p, topic, handler)
}

func RegisterReaderBestEffort[T any](p *Participant, topic Topic, handler func(value T)) error {
	return runtimepkg.RegisterReaderBestEffort(p, topic, handler)
}

func RegisterWriter[T any](p *Participant, topic Topic) error {
	return runtimepkg.RegisterWriter[T](p, topic)
}

func Send[T any](ctx context.Context, p *Participant, topic Topic, value T) error {
	return runtimepkg.Send(ctx, p, topic, value)
}
