package engine

import "fmt"

// LifecycleReason describes a state change of a local reader or writer.
type LifecycleReason int

const (
	ReaderMatched LifecycleReason = iota
	ReaderRemoved
	ReaderLivelinessLost
	WriterMatched
	WriterRemoved
	WriterLivelinessLost
)

func (r LifecycleReason) String() string {
	switch r {
	case ReaderMatched:
		return "reader_matched"
	case ReaderRemoved:
		return "reader_removed"
	case ReaderLivelinessLost:
		return "reader_liveliness_lost"
	case WriterMatched:
		return "writer_matched"
	case WriterRemoved:
		return "writer_removed"
	case WriterLivelinessLost:
		return "writer_liveliness_lost"
	default:
		return fmt.Sprintf("lifecycle(%d)", int(r))
	}
}

// ParticipantReason describes a remote participant discovery event.
type ParticipantReason int

const (
	ParticipantDiscovered ParticipantReason = iota
	ParticipantChangedQoS
	ParticipantRemoved
	// ParticipantDropped means the lease expired without a goodbye.
	ParticipantDropped
)

func (r ParticipantReason) String() string {
	switch r {
	case ParticipantDiscovered:
		return "discovered"
	case ParticipantChangedQoS:
		return "changed_qos"
	case ParticipantRemoved:
		return "removed"
	case ParticipantDropped:
		return "dropped"
	default:
		return fmt.Sprintf("participant(%d)", int(r))
	}
}

// EndpointReason describes a remote reader or writer discovery event.
type EndpointReason int

const (
	RemoteReaderDiscovered EndpointReason = iota
	RemoteReaderChangedQoS
	RemoteReaderRemoved
	RemoteWriterDiscovered
	RemoteWriterChangedQoS
	RemoteWriterRemoved
)

func (r EndpointReason) String() string {
	switch r {
	case RemoteReaderDiscovered:
		return "reader_discovered"
	case RemoteReaderChangedQoS:
		return "reader_changed_qos"
	case RemoteReaderRemoved:
		return "reader_removed"
	case RemoteWriterDiscovered:
		return "writer_discovered"
	case RemoteWriterChangedQoS:
		return "writer_changed_qos"
	case RemoteWriterRemoved:
		return "writer_removed"
	default:
		return fmt.Sprintf("endpoint(%d)", int(r))
	}
}

// IsReader reports whether the event concerns a remote reader.
func (r EndpointReason) IsReader() bool {
	return r == RemoteReaderDiscovered || r == RemoteReaderChangedQoS || r == RemoteReaderRemoved
}

// LogLevel is the engine verbosity.
type LogLevel int

const (
	LogError LogLevel = iota
	LogWarning
	LogInfo
)

func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "error"
	case LogWarning:
		return "warning"
	case LogInfo:
		return "info"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLogLevel maps "error", "warning"/"warn" and "info" to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch s {
	case "error":
		return LogError, nil
	case "warning", "warn":
		return LogWarning, nil
	case "info", "":
		return LogInfo, nil
	default:
		return LogInfo, fmt.Errorf("unknown log level %q", s)
	}
}
