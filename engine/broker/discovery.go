package broker

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/rtpsbridge/engine"
	"github.com/drblury/rtpsbridge/internal/runtime/codec"
	"github.com/drblury/rtpsbridge/internal/runtime/ids"
)

const (
	kindParticipant     = "participant"
	kindEndpoint        = "endpoint"
	kindEndpointRemoved = "endpoint_removed"
	kindGoodbye         = "goodbye"
)

// announcement is the discovery message. Every kind carries the full
// participant description so a peer can learn a participant from any of
// its messages.
type announcement struct {
	Kind        string            `json:"kind"`
	Participant string            `json:"participant"`
	Name        string            `json:"name"`
	Locators    string            `json:"locators"`
	Properties  map[string]string `json:"properties,omitempty"`
	Endpoint    *endpointInfo     `json:"endpoint,omitempty"`
}

type remoteParticipant struct {
	guid       string
	name       string
	locators   string
	properties map[string]string
	endpoints  map[string]endpointInfo
	lastSeen   time.Time
}

func (rp *remoteParticipant) update(a announcement) bool {
	if rp.name == a.Name && rp.locators == a.Locators && maps.Equal(rp.properties, a.Properties) {
		return false
	}
	rp.name, rp.locators, rp.properties = a.Name, a.Locators, maps.Clone(a.Properties)
	return true
}

type event struct {
	ann  *announcement
	tick bool
}

func (b *Broker) selfAnnouncementLocked(kind string) announcement {
	return announcement{
		Kind:        kind,
		Participant: b.guid.String(),
		Name:        b.name,
		Locators:    b.locators,
		Properties:  maps.Clone(b.properties),
	}
}

func (b *Broker) announceEndpointLocked(kind string, info endpointInfo) {
	a := b.selfAnnouncementLocked(kind)
	a.Endpoint = &info
	b.enqueueLocked(func() { b.publishAnnouncement(a) })
}

// requestReannounceLocked queues one full announcement of the participant
// and its endpoints; requests made before it runs are coalesced.
func (b *Broker) requestReannounceLocked() {
	if b.reannouncePending {
		return
	}
	b.reannouncePending = true
	b.enqueueLocked(func() {
		b.mu.Lock()
		b.reannouncePending = false
		if b.state != stateActive {
			b.mu.Unlock()
			return
		}
		batch := []announcement{b.selfAnnouncementLocked(kindParticipant)}
		for _, w := range b.writers {
			a := b.selfAnnouncementLocked(kindEndpoint)
			info := w.info
			a.Endpoint = &info
			batch = append(batch, a)
		}
		for _, r := range b.readers {
			a := b.selfAnnouncementLocked(kindEndpoint)
			info := r.info
			a.Endpoint = &info
			batch = append(batch, a)
		}
		b.mu.Unlock()

		for _, a := range batch {
			b.publishAnnouncement(a)
		}
	})
}

func (b *Broker) publishAnnouncement(a announcement) {
	payload, err := codec.MarshalJSON(a)
	if err != nil {
		b.logger.Error("Could not encode announcement", err, watermill.LogFields{"kind": a.Kind})
		return
	}
	msg := message.NewMessage(ids.CreateULID(), payload)
	if err := b.pub.Publish(DiscoveryTopic(b.domain), msg); err != nil {
		b.logger.Error("Could not publish announcement", err, watermill.LogFields{"kind": a.Kind})
	}
}

func (b *Broker) receiveDiscovery(msgs <-chan *message.Message) {
	defer b.wg.Done()
	for msg := range msgs {
		msg.Ack()
		var a announcement
		if err := codec.UnmarshalJSON(msg.Payload, &a); err != nil {
			b.logger.Error("Dropping malformed announcement", err, watermill.LogFields{"message_id": msg.UUID})
			continue
		}
		select {
		case b.events <- event{ann: &a}:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Broker) handleEvents() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.events:
			if ev.tick {
				run(b.onTick())
				continue
			}
			run(b.onAnnouncement(*ev.ann))
		}
	}
}

func (b *Broker) maintain() {
	defer b.wg.Done()
	ticker := b.clock.Ticker(b.opts.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			select {
			case b.events <- event{tick: true}:
			default:
			}
		}
	}
}

func (b *Broker) onTick() []func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateActive {
		return nil
	}
	b.requestReannounceLocked()
	if b.opts.LeaseDuration <= 0 {
		return nil
	}

	var calls []func()
	now := b.clock.Now()
	for _, guid := range slices.Sorted(maps.Keys(b.remotes)) {
		rp := b.remotes[guid]
		if now.Sub(rp.lastSeen) <= b.opts.LeaseDuration {
			continue
		}
		b.logger.Info("Participant lease expired", watermill.LogFields{
			"participant": rp.name,
			"guid":        rp.guid,
		})
		calls = append(calls, b.dropRemoteLocked(rp, engine.ParticipantDropped)...)
	}
	return calls
}

func (b *Broker) onAnnouncement(a announcement) []func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateActive || a.Participant == "" || a.Participant == b.guid.String() {
		return nil
	}
	if b.filter.IsValid() && !inPrefix(b.filter, a.Locators) {
		b.logger.Trace("Ignoring participant outside filter", watermill.LogFields{
			"participant": a.Name,
			"locators":    a.Locators,
			"filter":      b.filter.String(),
		})
		return nil
	}

	rp, known := b.remotes[a.Participant]
	if a.Kind == kindGoodbye {
		if !known {
			return nil
		}
		return b.dropRemoteLocked(rp, engine.ParticipantRemoved)
	}

	var calls []func()
	if !known {
		rp = &remoteParticipant{
			guid:       a.Participant,
			name:       a.Name,
			locators:   a.Locators,
			properties: maps.Clone(a.Properties),
			endpoints:  make(map[string]endpointInfo),
		}
		b.remotes[a.Participant] = rp
		b.setPeer(rp.guid, true)
		calls = append(calls, b.participantCall(engine.ParticipantDiscovered, rp))
		// the newcomer missed everything announced before it subscribed
		b.requestReannounceLocked()
	} else if rp.update(a) {
		calls = append(calls, b.participantCall(engine.ParticipantChangedQoS, rp))
	}
	rp.lastSeen = b.clock.Now()

	if a.Endpoint == nil {
		return calls
	}
	switch a.Kind {
	case kindEndpoint:
		calls = append(calls, b.upsertRemoteEndpointLocked(rp, *a.Endpoint)...)
	case kindEndpointRemoved:
		calls = append(calls, b.removeRemoteEndpointLocked(rp, a.Endpoint.id(), false)...)
	}
	return calls
}

func (b *Broker) upsertRemoteEndpointLocked(rp *remoteParticipant, info endpointInfo) []func() {
	info.Partition = normalizePartition(info.Partition)
	id := info.id()
	old, exists := rp.endpoints[id]
	if exists && old == info {
		return nil
	}
	rp.endpoints[id] = info

	reason := engine.RemoteWriterDiscovered
	switch {
	case info.Reader && exists:
		reason = engine.RemoteReaderChangedQoS
	case info.Reader:
		reason = engine.RemoteReaderDiscovered
	case exists:
		reason = engine.RemoteWriterChangedQoS
	}
	calls := []func(){b.endpointCall(reason, info, rp.locators)}
	return append(calls, b.rematchRemoteLocked(rp.guid+"/"+id, info)...)
}

func (b *Broker) removeRemoteEndpointLocked(rp *remoteParticipant, id string, lost bool) []func() {
	info, ok := rp.endpoints[id]
	if !ok {
		return nil
	}
	delete(rp.endpoints, id)

	reason := engine.RemoteWriterRemoved
	if info.Reader {
		reason = engine.RemoteReaderRemoved
	}
	calls := []func(){b.endpointCall(reason, info, rp.locators)}
	return append(calls, b.unmatchRemoteLocked(rp.guid+"/"+id, info, lost)...)
}

func (b *Broker) dropRemoteLocked(rp *remoteParticipant, reason engine.ParticipantReason) []func() {
	lost := reason == engine.ParticipantDropped
	var calls []func()
	for _, id := range slices.Sorted(maps.Keys(rp.endpoints)) {
		calls = append(calls, b.removeRemoteEndpointLocked(rp, id, lost)...)
	}
	delete(b.remotes, rp.guid)
	b.setPeer(rp.guid, false)
	return append(calls, b.participantCall(reason, rp))
}

func (b *Broker) setPeer(guid string, admitted bool) {
	b.peerMu.Lock()
	defer b.peerMu.Unlock()
	if admitted {
		b.peers[guid] = struct{}{}
	} else {
		delete(b.peers, guid)
	}
}

// heardFrom reports whether samples of writer may be delivered. With a
// filter set, only this participant and discovered remotes inside the
// filter are heard; unknown senders are dropped until announced.
func (b *Broker) heardFrom(writer string) bool {
	if !b.filter.IsValid() {
		return true
	}
	guid, _, _ := strings.Cut(writer, "/")
	if guid == b.guid.String() {
		return true
	}
	b.peerMu.RLock()
	defer b.peerMu.RUnlock()
	_, ok := b.peers[guid]
	return ok
}

func (b *Broker) participantCall(reason engine.ParticipantReason, rp *remoteParticipant) func() {
	cb := b.callbacks.Load()
	if cb == nil || cb.ParticipantDiscovery == nil {
		return nil
	}
	name, locators := rp.name, rp.locators
	props := engine.FlattenProperties(rp.properties)
	return func() { cb.ParticipantDiscovery(reason, name, locators, props) }
}

func (b *Broker) endpointCall(reason engine.EndpointReason, info endpointInfo, locators string) func() {
	cb := b.callbacks.Load()
	if cb == nil || cb.ReaderWriterDiscovery == nil {
		return nil
	}
	return func() { cb.ReaderWriterDiscovery(reason, info.Topic, info.TypeName, locators) }
}
