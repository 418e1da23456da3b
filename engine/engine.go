// Package engine defines the contract between the bridge and an RTPS-style
// protocol engine. The engine owns discovery, transport and QoS
// enforcement; the bridge only sees the entry points declared here and the
// callback slots it installs through SetupContainer.
package engine

import (
	"context"
)

// Token identifies a decode context handed to the engine by the bridge.
// The engine passes it back on every Decode call and exactly once on
// Release when the reader is torn down.
type Token uint64

// Endpoint describes a reader or writer registration.
type Endpoint struct {
	Topic          string
	TypeName       string
	Keyed          bool
	TransientLocal bool
	Reliable       bool
}

// ParticipantAttributes configure the participant resource.
type ParticipantAttributes struct {
	DomainID uint32
	Name     string
	// LocalAddress restricts the participant to a single interface.
	LocalAddress string
	// FilterAddress is a CIDR prefix; remote participants whose locator
	// falls outside it are ignored.
	FilterAddress string
	Properties    map[string]string
}

// Container holds the callback slots the engine invokes. Callbacks may run
// on engine goroutines concurrently with each other.
type Container struct {
	// Decode delivers one payload to the reader identified by token.
	Decode func(token Token, sequence uint64, payload []byte)
	// Release is invoked once per successfully registered reader, after its
	// last Decode. A failed RegisterReader never leads to a Release.
	Release func(token Token)
	// ReaderWriter reports lifecycle changes of local endpoints.
	ReaderWriter func(reason LifecycleReason, topic string)
	// ParticipantDiscovery reports remote participants. Properties are a
	// flattened key/value array terminated by a nil key.
	ParticipantDiscovery func(reason ParticipantReason, name, locators string, properties []*string)
	// ReaderWriterDiscovery reports remote readers and writers.
	ReaderWriterDiscovery func(reason EndpointReason, topic, typeName, locators string)
}

// Engine is the set of entry points the bridge consumes.
//
// SetupContainer must be called before CreateParticipant. RemoveReader
// returns before the reader is released; Release follows asynchronously.
// StopAll and RemoveParticipant wait for every reader to be released and
// must not be called from inside a callback.
type Engine interface {
	SetupContainer(c Container)
	CreateParticipant(ctx context.Context, attrs ParticipantAttributes) error
	SetPartition(name string) error

	RegisterReader(ep Endpoint, token Token) error
	RegisterWriter(ep Endpoint) error
	RemoveReader(topic string) error
	RemoveWriter(topic string) error

	SendData(ctx context.Context, topic string, data []byte) error
	SendDataWithKey(ctx context.Context, topic string, data, key []byte) error

	ResignAll() error
	StopAll() error
	RemoveParticipant() error

	SetLogLevel(level LogLevel)
}

// DefaultPartition matches every partition.
const DefaultPartition = "*"
