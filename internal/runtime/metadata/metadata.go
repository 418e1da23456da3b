// Package metadata describes the headers that travel with every data sample
// on the broker.
package metadata

// Header keys carried on each data sample.
const (
	KeyWriter    = "rtps_writer"
	KeySequence  = "rtps_seq"
	KeyType      = "rtps_type"
	KeyPartition = "rtps_partition"
	KeyInstance  = "rtps_key"
	KeyReplay    = "rtps_replay"

	KeyReliable       = "rtps_reliable"
	KeyTransientLocal = "rtps_transient_local"
)

// Sample is the per-message header set. Writer identifies one writer
// registration, so sequence numbers are scoped to it.
type Sample struct {
	Writer    string
	Sequence  uint64
	TypeName  string
	Partition string
	// Key is the instance key of keyed topics, nil otherwise.
	Key []byte
	// Replay marks history republished for a late-joining reader.
	Replay bool

	// QoS of the writing endpoint.
	Reliable       bool
	TransientLocal bool
}

// Keyed reports whether the sample carries an instance key.
func (s Sample) Keyed() bool {
	return len(s.Key) > 0
}

// AsReplay returns a copy flagged as history replay.
func (s Sample) AsReplay() Sample {
	s.Replay = true
	return s
}
