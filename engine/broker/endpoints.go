package broker

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/rtpsbridge/engine"
	"github.com/drblury/rtpsbridge/internal/runtime/metadata"
)

var (
	errEmptyTopic = errors.New("broker: topic must not be empty")
	errSkip       = errors.New("broker: sample not for this reader")
)

// endpointInfo is what participants announce about a reader or writer.
// It is comparable so QoS changes show up as inequality.
type endpointInfo struct {
	Topic          string `json:"topic"`
	TypeName       string `json:"type"`
	Partition      string `json:"partition"`
	Reader         bool   `json:"reader"`
	Keyed          bool   `json:"keyed,omitempty"`
	Reliable       bool   `json:"reliable,omitempty"`
	TransientLocal bool   `json:"transient_local,omitempty"`
}

func endpointFor(ep engine.Endpoint, isReader bool, partition string) endpointInfo {
	return endpointInfo{
		Topic:          ep.Topic,
		TypeName:       ep.TypeName,
		Partition:      normalizePartition(partition),
		Reader:         isReader,
		Keyed:          ep.Keyed,
		Reliable:       ep.Reliable,
		TransientLocal: ep.TransientLocal,
	}
}

// id is unique within one participant: one reader and one writer per topic.
func (e endpointInfo) id() string {
	if e.Reader {
		return "r/" + e.Topic
	}
	return "w/" + e.Topic
}

func (b *Broker) endpointKeyLocked(info endpointInfo) string {
	return b.guid.String() + "/" + info.id()
}

// matches reports whether reader r and writer w would exchange samples.
// A reliable reader needs a reliable writer and a transient-local reader
// needs a transient-local writer. acceptsSample applies the same rules to
// received data.
func matches(r, w endpointInfo) bool {
	if !r.Reader || w.Reader {
		return false
	}
	if r.Topic != w.Topic || r.TypeName != w.TypeName || r.Keyed != w.Keyed {
		return false
	}
	if r.Reliable && !w.Reliable {
		return false
	}
	if r.TransientLocal && !w.TransientLocal {
		return false
	}
	return partitionsMatch(r.Partition, w.Partition)
}

// acceptsSample applies the rules of matches to the writer QoS carried in
// a sample's headers, so a reader only decodes what it would match.
func acceptsSample(r endpointInfo, s metadata.Sample) bool {
	if s.TypeName != r.TypeName || s.Keyed() != r.Keyed {
		return false
	}
	if r.Reliable && !s.Reliable {
		return false
	}
	if r.TransientLocal && !s.TransientLocal {
		return false
	}
	return partitionsMatch(s.Partition, r.Partition)
}

func (b *Broker) matchLocalReaderLocked(r *reader) []func() {
	var calls []func()
	for _, w := range b.writers {
		if !matches(r.info, w.info) {
			continue
		}
		r.matched[w.key] = struct{}{}
		w.matched[r.key] = struct{}{}
		calls = append(calls,
			b.lifecycle(engine.ReaderMatched, r.info.Topic),
			b.lifecycle(engine.WriterMatched, w.info.Topic),
		)
		if r.info.TransientLocal && w.history != nil {
			b.enqueueReplayLocked(w)
		}
	}
	for guid, rp := range b.remotes {
		for id, info := range rp.endpoints {
			if matches(r.info, info) {
				r.matched[guid+"/"+id] = struct{}{}
				calls = append(calls, b.lifecycle(engine.ReaderMatched, r.info.Topic))
			}
		}
	}
	return calls
}

func (b *Broker) matchLocalWriterLocked(w *writer) []func() {
	var calls []func()
	for _, r := range b.readers {
		if !matches(r.info, w.info) {
			continue
		}
		r.matched[w.key] = struct{}{}
		w.matched[r.key] = struct{}{}
		calls = append(calls,
			b.lifecycle(engine.ReaderMatched, r.info.Topic),
			b.lifecycle(engine.WriterMatched, w.info.Topic),
		)
	}
	for guid, rp := range b.remotes {
		for id, info := range rp.endpoints {
			if matches(info, w.info) {
				w.matched[guid+"/"+id] = struct{}{}
				calls = append(calls, b.lifecycle(engine.WriterMatched, w.info.Topic))
			}
		}
	}
	return calls
}

// unmatchLocalLocked drops the local endpoint key from its local
// counterparts and reports their loss.
func (b *Broker) unmatchLocalLocked(key string, isReader bool) []func() {
	var calls []func()
	if isReader {
		for _, w := range b.writers {
			if _, ok := w.matched[key]; ok {
				delete(w.matched, key)
				calls = append(calls, b.lifecycle(engine.WriterRemoved, w.info.Topic))
			}
		}
		return calls
	}
	for _, r := range b.readers {
		if _, ok := r.matched[key]; ok {
			delete(r.matched, key)
			calls = append(calls, b.lifecycle(engine.ReaderRemoved, r.info.Topic))
		}
	}
	return calls
}

// rematchRemoteLocked reconciles local endpoints with a remote endpoint
// that appeared or changed QoS.
func (b *Broker) rematchRemoteLocked(key string, info endpointInfo) []func() {
	var calls []func()
	if info.Reader {
		for _, w := range b.writers {
			_, was := w.matched[key]
			now := matches(info, w.info)
			switch {
			case now && !was:
				w.matched[key] = struct{}{}
				calls = append(calls, b.lifecycle(engine.WriterMatched, w.info.Topic))
				if info.TransientLocal && w.history != nil {
					b.enqueueReplayLocked(w)
				}
			case !now && was:
				delete(w.matched, key)
				calls = append(calls, b.lifecycle(engine.WriterRemoved, w.info.Topic))
			}
		}
		return calls
	}
	for _, r := range b.readers {
		_, was := r.matched[key]
		now := matches(r.info, info)
		switch {
		case now && !was:
			r.matched[key] = struct{}{}
			calls = append(calls, b.lifecycle(engine.ReaderMatched, r.info.Topic))
		case !now && was:
			delete(r.matched, key)
			calls = append(calls, b.lifecycle(engine.ReaderRemoved, r.info.Topic))
		}
	}
	return calls
}

// unmatchRemoteLocked reports local endpoints losing a remote
// counterpart, as liveliness loss when the remote went silent.
func (b *Broker) unmatchRemoteLocked(key string, info endpointInfo, lost bool) []func() {
	var calls []func()
	if info.Reader {
		reason := engine.WriterRemoved
		if lost {
			reason = engine.WriterLivelinessLost
		}
		for _, w := range b.writers {
			if _, ok := w.matched[key]; ok {
				delete(w.matched, key)
				calls = append(calls, b.lifecycle(reason, w.info.Topic))
			}
		}
		return calls
	}
	reason := engine.ReaderRemoved
	if lost {
		reason = engine.ReaderLivelinessLost
	}
	for _, r := range b.readers {
		if _, ok := r.matched[key]; ok {
			delete(r.matched, key)
			calls = append(calls, b.lifecycle(reason, r.info.Topic))
		}
	}
	return calls
}

func (b *Broker) warnQoS(info endpointInfo) {
	fields := watermill.LogFields{"topic": info.Topic, "transport": b.caps.Name}
	if info.Reliable && !b.caps.SupportsReliable() {
		b.warn("Transport cannot honour reliable delivery", fields)
	}
	if info.TransientLocal && !info.Reader && !b.caps.Broadcast {
		b.warn("History replay reaches a single subscriber on this transport", fields)
	}
}
