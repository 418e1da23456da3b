package runtime

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/drblury/rtpsbridge/engine"
	loggingpkg "github.com/drblury/rtpsbridge/internal/runtime/logging"
)

// Listener receives lifecycle notifications of local readers and writers.
type Listener interface {
	EndpointNotification(reason engine.LifecycleReason, topic string)
}

// ParticipantListener receives discovery notifications about remote
// participants and their readers and writers.
type ParticipantListener interface {
	ParticipantNotification(reason engine.ParticipantReason, participant, locators string, properties map[string]string)
	ReaderWriterNotification(reason engine.EndpointReason, topic, typeName, locators string)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(reason engine.LifecycleReason, topic string)

func (f ListenerFunc) EndpointNotification(reason engine.LifecycleReason, topic string) {
	f(reason, topic)
}

// DiscoveredParticipant is a remote participant as last reported.
type DiscoveredParticipant struct {
	Name       string            `json:"name"`
	Locators   string            `json:"locators"`
	Properties map[string]string `json:"properties,omitempty"`
	LastReason string            `json:"last_reason"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// DiscoveredEndpoint is a remote reader or writer as last reported.
type DiscoveredEndpoint struct {
	Reader   bool   `json:"reader"`
	Topic    string `json:"topic"`
	TypeName string `json:"type"`
	Locators string `json:"locators"`
	// Count is how many remote endpoints share this description.
	Count int `json:"count"`
}

type endpointKey struct {
	reader   bool
	topic    string
	typeName string
	locators string
}

// ParseProperties reads the engine layout key, value, ..., nil. Parsing
// stops at the first nil key; a missing value reads as "".
func ParseProperties(properties []*string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < len(properties); i += 2 {
		if properties[i] == nil {
			break
		}
		value := ""
		if i+1 < len(properties) && properties[i+1] != nil {
			value = *properties[i+1]
		}
		out[*properties[i]] = value
	}
	return out
}

// dispatcher routes engine notifications to at most one delegate per
// class. Events with no delegate are dropped. The discovery table is kept
// either way.
type dispatcher struct {
	logger  loggingpkg.ServiceLogger
	metrics *Metrics

	mu                  sync.RWMutex
	listener            Listener
	participantListener ParticipantListener

	tableMu      sync.RWMutex
	participants map[string]DiscoveredParticipant
	endpoints    map[endpointKey]*DiscoveredEndpoint
}

func newDispatcher(logger loggingpkg.ServiceLogger, metrics *Metrics) *dispatcher {
	return &dispatcher{
		logger:       logger,
		metrics:      metrics,
		participants: make(map[string]DiscoveredParticipant),
		endpoints:    make(map[endpointKey]*DiscoveredEndpoint),
	}
}

func (d *dispatcher) setListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = l
}

func (d *dispatcher) setParticipantListener(l ParticipantListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.participantListener = l
}

func (d *dispatcher) container(decode func(engine.Token, uint64, []byte), release func(engine.Token)) engine.Container {
	return engine.Container{
		Decode:                decode,
		Release:               release,
		ReaderWriter:          d.lifecycle,
		ParticipantDiscovery:  d.participant,
		ReaderWriterDiscovery: d.endpoint,
	}
}

func (d *dispatcher) lifecycle(reason engine.LifecycleReason, topic string) {
	d.metrics.RecordNotification("lifecycle", reason.String())
	d.logger.Debug("Endpoint notification", loggingpkg.LogFields{"reason": reason.String(), "topic": topic})

	d.mu.RLock()
	l := d.listener
	d.mu.RUnlock()
	if l != nil {
		l.EndpointNotification(reason, topic)
	}
}

func (d *dispatcher) participant(reason engine.ParticipantReason, name, locators string, properties []*string) {
	props := ParseProperties(properties)
	d.metrics.RecordNotification("participant", reason.String())
	d.logger.Info("Participant notification", loggingpkg.LogFields{
		"reason":      reason.String(),
		"participant": name,
		"locators":    locators,
	})

	key := name + "@" + locators
	d.tableMu.Lock()
	switch reason {
	case engine.ParticipantRemoved, engine.ParticipantDropped:
		delete(d.participants, key)
	default:
		d.participants[key] = DiscoveredParticipant{
			Name:       name,
			Locators:   locators,
			Properties: props,
			LastReason: reason.String(),
			UpdatedAt:  time.Now(),
		}
	}
	d.tableMu.Unlock()

	d.mu.RLock()
	l := d.participantListener
	d.mu.RUnlock()
	if l != nil {
		l.ParticipantNotification(reason, name, locators, props)
	}
}

func (d *dispatcher) endpoint(reason engine.EndpointReason, topic, typeName, locators string) {
	d.metrics.RecordNotification("endpoint", reason.String())
	d.logger.Debug("Reader/writer notification", loggingpkg.LogFields{
		"reason":   reason.String(),
		"topic":    topic,
		"type":     typeName,
		"locators": locators,
	})

	key := endpointKey{reader: reason.IsReader(), topic: topic, typeName: typeName, locators: locators}
	d.tableMu.Lock()
	switch reason {
	case engine.RemoteReaderDiscovered, engine.RemoteWriterDiscovered:
		if ep, ok := d.endpoints[key]; ok {
			ep.Count++
		} else {
			d.endpoints[key] = &DiscoveredEndpoint{Reader: key.reader, Topic: topic, TypeName: typeName, Locators: locators, Count: 1}
		}
	case engine.RemoteReaderRemoved, engine.RemoteWriterRemoved:
		if ep, ok := d.endpoints[key]; ok {
			ep.Count--
			if ep.Count <= 0 {
				delete(d.endpoints, key)
			}
		}
	}
	d.tableMu.Unlock()

	d.mu.RLock()
	l := d.participantListener
	d.mu.RUnlock()
	if l != nil {
		l.ReaderWriterNotification(reason, topic, typeName, locators)
	}
}

func (d *dispatcher) discoveredParticipants() []DiscoveredParticipant {
	d.tableMu.RLock()
	defer d.tableMu.RUnlock()
	out := make([]DiscoveredParticipant, 0, len(d.participants))
	for _, p := range d.participants {
		p.Properties = maps.Clone(p.Properties)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b DiscoveredParticipant) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Locators, b.Locators))
	})
	return out
}

func (d *dispatcher) discoveredEndpoints() []DiscoveredEndpoint {
	d.tableMu.RLock()
	defer d.tableMu.RUnlock()
	out := make([]DiscoveredEndpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, *ep)
	}
	slices.SortFunc(out, func(a, b DiscoveredEndpoint) int {
		return cmp.Or(
			cmp.Compare(a.Topic, b.Topic),
			cmp.Compare(a.Locators, b.Locators),
			cmp.Compare(a.TypeName, b.TypeName),
		)
	})
	return out
}
