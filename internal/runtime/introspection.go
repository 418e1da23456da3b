package runtime

import (
	"cmp"
	"net/http"
	"slices"
	"strings"
	"time"

	codecpkg "github.com/drblury/rtpsbridge/internal/runtime/codec"
)

// EndpointInfo describes a local reader or writer registration.
type EndpointInfo struct {
	Topic          string `json:"topic"`
	TypeName       string `json:"type"`
	Keyed          bool   `json:"keyed"`
	Reliable       bool   `json:"reliable"`
	TransientLocal bool   `json:"transient_local"`
}

// Snapshot is the introspection view of a participant.
type Snapshot struct {
	Participant            string                  `json:"participant"`
	DomainID               uint32                  `json:"domain_id"`
	Partition              string                  `json:"partition"`
	State                  string                  `json:"state"`
	CreatedAt              time.Time               `json:"created_at"`
	Readers                []EndpointInfo          `json:"readers"`
	Writers                []EndpointInfo          `json:"writers"`
	DiscoveredParticipants []DiscoveredParticipant `json:"discovered_participants"`
	DiscoveredEndpoints    []DiscoveredEndpoint    `json:"discovered_endpoints"`
	Metrics                *MetricsSnapshot        `json:"metrics,omitempty"`
	Resources              ResourceUsage           `json:"resources"`
}

func endpointInfo(topic Topic, info TypeInfo) EndpointInfo {
	return EndpointInfo{
		Topic:          topic.Name,
		TypeName:       info.Name,
		Keyed:          info.Keyed,
		Reliable:       topic.Reliable,
		TransientLocal: topic.TransientLocal,
	}
}

// Snapshot lists local registrations and everything discovered so far.
func (p *Participant) Snapshot() Snapshot {
	p.mu.RLock()
	snap := Snapshot{
		Participant: p.Conf.ParticipantName,
		DomainID:    p.Conf.DomainID,
		Partition:   p.Conf.Partition,
		State:       p.state.String(),
		CreatedAt:   p.createdAt,
		Readers:     make([]EndpointInfo, 0, len(p.readers)),
		Writers:     make([]EndpointInfo, 0, len(p.writers)),
	}
	for _, r := range p.readers {
		snap.Readers = append(snap.Readers, endpointInfo(r.topic, r.info))
	}
	for _, w := range p.writers {
		snap.Writers = append(snap.Writers, endpointInfo(w.topic, w.info))
	}
	p.mu.RUnlock()

	byTopic := func(a, b EndpointInfo) int { return cmp.Compare(a.Topic, b.Topic) }
	slices.SortFunc(snap.Readers, byTopic)
	slices.SortFunc(snap.Writers, byTopic)

	snap.DiscoveredParticipants = p.DiscoveredParticipants()
	snap.DiscoveredEndpoints = p.DiscoveredEndpoints()
	if p.metrics != nil {
		m := p.metrics.GetSnapshot()
		snap.Metrics = &m
	}
	snap.Resources = p.usage.sample()
	return snap
}

// StartIntrospectionServer mounts /api/endpoints when introspection is
// enabled.
func (p *Participant) StartIntrospectionServer() {
	if !p.Conf.IntrospectionEnabled {
		return
	}
	p.RegisterHTTPHandler(p.Conf.IntrospectionPort, "/api/endpoints", http.HandlerFunc(p.handleGetEndpoints))
}

func (p *Participant) handleGetEndpoints(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(p.Conf.IntrospectionCORSAllowedOrigins) > 0 {
		if allowed := p.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := codecpkg.EncodeJSON(w, p.Snapshot()); err != nil {
		p.Logger.Error("Failed to encode snapshot", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (p *Participant) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range p.Conf.IntrospectionCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
