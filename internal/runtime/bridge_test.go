package runtime

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/rtpsbridge/engine"
	configpkg "github.com/drblury/rtpsbridge/internal/runtime/config"
	"github.com/drblury/rtpsbridge/transport"
	"github.com/drblury/rtpsbridge/transport/channel"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newBus(t *testing.T) transport.Transport {
	t.Helper()
	bus := channel.New(watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func newBusParticipant(t *testing.T, bus transport.Transport, name, addr string) *Participant {
	t.Helper()
	conf := &configpkg.Config{
		ParticipantName: name,
		LocalAddress:    addr,
		Properties:      map[string]string{"role": name},
	}
	p, err := NewParticipant(context.Background(), conf, newTestLogger(), ParticipantDependencies{Transport: &bus})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.StopAll() })
	return p
}

type collected[T any] struct {
	mu     sync.Mutex
	values []T
	seqs   []uint64
}

func (c *collected[T]) add(seq uint64, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, v)
	c.seqs = append(c.seqs, seq)
}

func (c *collected[T]) snapshot() ([]T, []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.values), slices.Clone(c.seqs)
}

func (c *collected[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

func TestBridgeDeliversTypedSamplesAcrossParticipants(t *testing.T) {
	bus := newBus(t)
	writer := newBusParticipant(t, bus, "thermostat", "10.0.0.1")
	reader := newBusParticipant(t, bus, "display", "10.0.0.2")
	topic := NewTopic("Temperature", true, false)

	var got collected[float64]
	require.NoError(t, RegisterReader(reader, topic, func(seq uint64, v float64, err error) {
		assert.NoError(t, err)
		got.add(seq, v)
	}))
	require.NoError(t, RegisterWriter[float64](writer, topic))

	for _, v := range []float64{20.5, 21, 21.5} {
		require.NoError(t, Send(context.Background(), writer, topic, v))
	}

	require.Eventually(t, func() bool { return got.len() == 3 }, waitFor, tick)
	values, seqs := got.snapshot()
	assert.Equal(t, []float64{20.5, 21, 21.5}, values)
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestBridgeDeliversKeyedSamplesInSendOrder(t *testing.T) {
	bus := newBus(t)
	writer := newBusParticipant(t, bus, "sensors", "10.0.0.1")
	reader := newBusParticipant(t, bus, "dashboard", "10.0.0.2")
	topic := NewTopic("Sensor", true, false)

	var got collected[sensorSample]
	require.NoError(t, RegisterReader(reader, topic, func(seq uint64, s sensorSample, err error) {
		assert.NoError(t, err)
		got.add(seq, s)
	}))
	require.NoError(t, RegisterWriter[sensorSample](writer, topic))

	for _, id := range []string{"s1", "s1", "s2"} {
		require.NoError(t, Send(context.Background(), writer, topic, sensorSample{ID: id}))
	}

	require.Eventually(t, func() bool { return got.len() == 3 }, waitFor, tick)
	values, seqs := got.snapshot()
	assert.Equal(t, []sensorSample{{ID: "s1"}, {ID: "s1"}, {ID: "s2"}}, values)
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestBridgeReplaysKeyedHistoryToLateReader(t *testing.T) {
	bus := newBus(t)
	writer := newBusParticipant(t, bus, "sensors", "10.0.0.1")
	topic := NewTopic("Samples", true, true)

	require.NoError(t, RegisterWriter[sensorSample](writer, topic))
	for _, s := range []sensorSample{{ID: "a", Value: 1}, {ID: "b", Value: 2}, {ID: "a", Value: 3}} {
		require.NoError(t, Send(context.Background(), writer, topic, s))
	}

	late := newBusParticipant(t, bus, "late", "10.0.0.2")
	var got collected[sensorSample]
	require.NoError(t, RegisterReaderBestEffort(late, topic, func(s sensorSample) { got.add(0, s) }))

	require.Eventually(t, func() bool { return got.len() == 2 }, waitFor, tick)
	values, _ := got.snapshot()
	assert.Equal(t, []sensorSample{{ID: "b", Value: 2}, {ID: "a", Value: 3}}, values, "last sample per instance")
}

func TestBridgeReportsDiscovery(t *testing.T) {
	bus := newBus(t)
	observer := newBusParticipant(t, bus, "observer", "10.0.0.1")
	l := &recordingParticipantListener{}
	observer.SetParticipantListener(l)

	peer := newBusParticipant(t, bus, "peer", "10.0.0.2")
	require.NoError(t, RegisterWriter[float64](peer, NewTopic("Temperature", false, false)))

	require.Eventually(t, func() bool {
		return slices.ContainsFunc(observer.DiscoveredEndpoints(), func(ep DiscoveredEndpoint) bool {
			return ep.Topic == "Temperature" && !ep.Reader
		})
	}, waitFor, tick)

	participants := observer.DiscoveredParticipants()
	require.Len(t, participants, 1)
	assert.Equal(t, "peer", participants[0].Name)
	assert.Equal(t, "channel://10.0.0.2", participants[0].Locators)
	assert.Equal(t, map[string]string{"role": "peer"}, participants[0].Properties)

	require.NoError(t, peer.RemoveParticipant())
	require.Eventually(t, func() bool { return len(observer.DiscoveredParticipants()) == 0 }, waitFor, tick)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, engine.ParticipantDiscovered, l.participants[0].reason)
	assert.Equal(t, engine.ParticipantRemoved, l.participants[len(l.participants)-1].reason)
}

func TestBridgeLifecycleNotifications(t *testing.T) {
	bus := newBus(t)
	p := newBusParticipant(t, bus, "solo", "10.0.0.1")

	var mu sync.Mutex
	var reasons []engine.LifecycleReason
	p.SetListener(ListenerFunc(func(reason engine.LifecycleReason, _ string) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, reason)
	}))

	topic := NewTopic("loop", true, false)
	require.NoError(t, RegisterWriter[string](p, topic))
	require.NoError(t, RegisterReaderBestEffort(p, topic, func(string) {}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(reasons, engine.ReaderMatched) && slices.Contains(reasons, engine.WriterMatched)
	}, waitFor, tick)

	require.NoError(t, p.RemoveReader(topic))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(reasons, engine.WriterRemoved)
	}, waitFor, tick)
}

func TestBridgeStopAllReleasesReaders(t *testing.T) {
	bus := newBus(t)
	p := newBusParticipant(t, bus, "solo", "10.0.0.1")
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, RegisterReaderBestEffort(p, NewTopic(name, false, false), func(float64) {}))
	}
	require.Equal(t, 3, p.arena.size())

	require.NoError(t, p.StopAll())
	assert.Zero(t, p.arena.size())
}
