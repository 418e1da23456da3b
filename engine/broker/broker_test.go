package broker

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/rtpsbridge/engine"
	"github.com/drblury/rtpsbridge/transport"
	"github.com/drblury/rtpsbridge/transport/channel"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type decodedSample struct {
	seq     uint64
	payload string
}

type participantEvent struct {
	reason engine.ParticipantReason
	name   string
	props  map[string]string
}

type endpointEvent struct {
	reason engine.EndpointReason
	topic  string
}

type lifecycleEvent struct {
	reason engine.LifecycleReason
	topic  string
}

type recorder struct {
	mu           sync.Mutex
	decoded      map[engine.Token][]decodedSample
	released     map[engine.Token]int
	lifecycle    []lifecycleEvent
	participants []participantEvent
	endpoints    []endpointEvent
	onDecode     func(engine.Token)
}

func newRecorder() *recorder {
	return &recorder{
		decoded:  make(map[engine.Token][]decodedSample),
		released: make(map[engine.Token]int),
	}
}

func (r *recorder) container() engine.Container {
	return engine.Container{
		Decode: func(token engine.Token, seq uint64, payload []byte) {
			if r.onDecode != nil {
				r.onDecode(token)
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			r.decoded[token] = append(r.decoded[token], decodedSample{seq: seq, payload: string(payload)})
		},
		Release: func(token engine.Token) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.released[token]++
		},
		ReaderWriter: func(reason engine.LifecycleReason, topic string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.lifecycle = append(r.lifecycle, lifecycleEvent{reason, topic})
		},
		ParticipantDiscovery: func(reason engine.ParticipantReason, name, _ string, properties []*string) {
			props := make(map[string]string)
			for i := 0; i+1 < len(properties) && properties[i] != nil; i += 2 {
				props[*properties[i]] = *properties[i+1]
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			r.participants = append(r.participants, participantEvent{reason, name, props})
		},
		ReaderWriterDiscovery: func(reason engine.EndpointReason, topic, _, _ string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.endpoints = append(r.endpoints, endpointEvent{reason, topic})
		},
	}
}

func (r *recorder) samples(token engine.Token) []decodedSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.decoded[token])
}

func (r *recorder) releases(token engine.Token) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released[token]
}

func (r *recorder) sawParticipant(reason engine.ParticipantReason, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.participants, func(e participantEvent) bool {
		return e.reason == reason && e.name == name
	})
}

func (r *recorder) sawEndpoint(reason engine.EndpointReason, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.endpoints, endpointEvent{reason, topic})
}

func (r *recorder) sawLifecycle(reason engine.LifecycleReason, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.lifecycle, lifecycleEvent{reason, topic})
}

type participantOpt func(*Options, *engine.ParticipantAttributes)

func withAddress(addr string) participantOpt {
	return func(_ *Options, a *engine.ParticipantAttributes) { a.LocalAddress = addr }
}

func newBus(t *testing.T) transport.Transport {
	t.Helper()
	bus := channel.New(watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func startParticipant(t *testing.T, bus transport.Transport, name string, opts ...participantOpt) (*Broker, *recorder) {
	t.Helper()
	o := Options{Transport: bus}
	attrs := engine.ParticipantAttributes{Name: name, LocalAddress: "10.0.0.1"}
	for _, opt := range opts {
		opt(&o, &attrs)
	}

	b, err := New(o)
	require.NoError(t, err)
	rec := newRecorder()
	b.SetupContainer(rec.container())
	require.NoError(t, b.CreateParticipant(context.Background(), attrs))
	t.Cleanup(func() { _ = b.StopAll() })
	return b, rec
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestSendAndDecodeInOrder(t *testing.T) {
	b, rec := startParticipant(t, newBus(t), "talker")
	ctx := context.Background()

	ep := engine.Endpoint{Topic: "Temperature", TypeName: "Temperature", Reliable: true}
	require.NoError(t, b.RegisterReader(ep, 7))
	require.NoError(t, b.RegisterWriter(ep))

	for _, p := range []string{"21.0", "21.5", "22.0"} {
		require.NoError(t, b.SendData(ctx, "Temperature", []byte(p)))
	}

	require.Eventually(t, func() bool { return len(rec.samples(7)) == 3 }, waitFor, tick)
	assert.Equal(t, []decodedSample{{1, "21.0"}, {2, "21.5"}, {3, "22.0"}}, rec.samples(7))
	assert.True(t, rec.sawLifecycle(engine.ReaderMatched, "Temperature"))
	assert.True(t, rec.sawLifecycle(engine.WriterMatched, "Temperature"))
}

func TestTopicsAreIsolated(t *testing.T) {
	b, rec := startParticipant(t, newBus(t), "talker")
	ctx := context.Background()

	require.NoError(t, b.RegisterReader(engine.Endpoint{Topic: "A", TypeName: "T", Reliable: true}, 1))
	require.NoError(t, b.RegisterReader(engine.Endpoint{Topic: "B", TypeName: "T", Reliable: true}, 2))
	require.NoError(t, b.RegisterWriter(engine.Endpoint{Topic: "A", TypeName: "T", Reliable: true}))
	require.NoError(t, b.RegisterWriter(engine.Endpoint{Topic: "B", TypeName: "T", Reliable: true}))

	require.NoError(t, b.SendData(ctx, "A", []byte("a")))
	require.NoError(t, b.SendData(ctx, "B", []byte("b1")))
	require.NoError(t, b.SendData(ctx, "B", []byte("b2")))

	require.Eventually(t, func() bool { return len(rec.samples(2)) == 2 }, waitFor, tick)
	assert.Equal(t, []decodedSample{{1, "a"}}, rec.samples(1))
	assert.Equal(t, []decodedSample{{1, "b1"}, {2, "b2"}}, rec.samples(2))
}

func TestKeyRules(t *testing.T) {
	b, rec := startParticipant(t, newBus(t), "talker")
	ctx := context.Background()

	require.NoError(t, b.RegisterWriter(engine.Endpoint{Topic: "Sensor", TypeName: "Reading", Keyed: true}))
	require.NoError(t, b.RegisterWriter(engine.Endpoint{Topic: "Plain", TypeName: "Reading"}))
	require.NoError(t, b.RegisterReader(engine.Endpoint{Topic: "Sensor", TypeName: "Reading", Keyed: true}, 3))

	require.ErrorIs(t, b.SendData(ctx, "Sensor", []byte("x")), engine.ErrKeyRequired)
	require.ErrorIs(t, b.SendDataWithKey(ctx, "Sensor", []byte("x"), nil), engine.ErrKeyRequired)
	require.ErrorIs(t, b.SendDataWithKey(ctx, "Plain", []byte("x"), []byte("k")), engine.ErrKeyNotAllowed)
	require.ErrorIs(t, b.SendData(ctx, "Missing", []byte("x")), engine.ErrUnknownWriter)

	require.NoError(t, b.SendDataWithKey(ctx, "Sensor", []byte("x"), []byte{0}))
	require.Eventually(t, func() bool { return len(rec.samples(3)) == 1 }, waitFor, tick)
}

func TestSendHonoursContext(t *testing.T) {
	b, _ := startParticipant(t, newBus(t), "talker")
	require.NoError(t, b.RegisterWriter(engine.Endpoint{Topic: "T", TypeName: "T"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.SendData(ctx, "T", []byte("x")), context.Canceled)
}

func TestPayloadLimit(t *testing.T) {
	caps := transport.ChannelCapabilities
	caps.MaxMessageSize = 4
	b, _ := startParticipant(t, newBus(t), "talker", func(o *Options, _ *engine.ParticipantAttributes) {
		o.Capabilities = &caps
	})
	require.NoError(t, b.RegisterWriter(engine.Endpoint{Topic: "T", TypeName: "T"}))

	require.NoError(t, b.SendData(context.Background(), "T", []byte("1234")))
	require.ErrorIs(t, b.SendData(context.Background(), "T", []byte("12345")), engine.ErrPayloadTooLarge)
}

func TestRemoveReaderReleasesOnce(t *testing.T) {
	b, rec := startParticipant(t, newBus(t), "listener")

	require.NoError(t, b.RegisterReader(engine.Endpoint{Topic: "T", TypeName: "T"}, 9))
	require.NoError(t, b.RemoveReader("T"))
	require.Eventually(t, func() bool { return rec.releases(9) == 1 }, waitFor, tick)

	require.NoError(t, b.StopAll())
	assert.Equal(t, 1, rec.releases(9))
	assert.Empty(t, rec.samples(9))
}

func TestDuplicateAndUnknownEndpoints(t *testing.T) {
	b, _ := startParticipant(t, newBus(t), "p")
	ep := engine.Endpoint{Topic: "T", TypeName: "T"}

	require.NoError(t, b.RegisterReader(ep, 1))
	require.ErrorIs(t, b.RegisterReader(ep, 2), engine.ErrDuplicateReader)
	require.NoError(t, b.RegisterWriter(ep))
	require.ErrorIs(t, b.RegisterWriter(ep), engine.ErrDuplicateWriter)

	require.ErrorIs(t, b.RemoveReader("nope"), engine.ErrUnknownReader)
	require.ErrorIs(t, b.RemoveWriter("nope"), engine.ErrUnknownWriter)
	require.ErrorIs(t, b.RegisterReader(engine.Endpoint{}, 3), errEmptyTopic)
}

func TestParticipantStates(t *testing.T) {
	bus := newBus(t)
	b, err := New(Options{Transport: bus})
	require.NoError(t, err)

	require.ErrorIs(t, b.CreateParticipant(context.Background(), engine.ParticipantAttributes{}), engine.ErrNoContainer)

	b.SetupContainer(newRecorder().container())
	require.ErrorIs(t, b.RegisterReader(engine.Endpoint{Topic: "T"}, 1), engine.ErrNotCreated)
	require.ErrorIs(t, b.StopAll(), engine.ErrNotCreated)

	require.Error(t, b.CreateParticipant(context.Background(), engine.ParticipantAttributes{LocalAddress: "not-an-ip"}))
	require.NoError(t, b.CreateParticipant(context.Background(), engine.ParticipantAttributes{LocalAddress: "127.0.0.1"}))
	require.ErrorIs(t, b.CreateParticipant(context.Background(), engine.ParticipantAttributes{}), engine.ErrAlreadyCreated)
	assert.Equal(t, "channel://127.0.0.1", b.Locators())
	assert.NotEmpty(t, b.GUID())

	require.NoError(t, b.StopAll())
	require.ErrorIs(t, b.StopAll(), engine.ErrClosed)
	require.ErrorIs(t, b.RegisterWriter(engine.Endpoint{Topic: "T"}), engine.ErrClosed)
	require.ErrorIs(t, b.CreateParticipant(context.Background(), engine.ParticipantAttributes{}), engine.ErrClosed)
}

func TestStopAllReleasesEveryReader(t *testing.T) {
	b, rec := startParticipant(t, newBus(t), "p")
	for i, topic := range []string{"A", "B", "C"} {
		require.NoError(t, b.RegisterReader(engine.Endpoint{Topic: topic, TypeName: "T"}, engine.Token(i+1)))
	}

	require.NoError(t, b.StopAll())
	for i := 1; i <= 3; i++ {
		assert.Equal(t, 1, rec.releases(engine.Token(i)))
	}
}

func TestResignAllKeepsParticipant(t *testing.T) {
	b, rec := startParticipant(t, newBus(t), "p")
	ep := engine.Endpoint{Topic: "T", TypeName: "T"}
	require.NoError(t, b.RegisterReader(ep, 1))
	require.NoError(t, b.RegisterWriter(ep))

	require.NoError(t, b.ResignAll())
	require.Eventually(t, func() bool { return rec.releases(1) == 1 }, waitFor, tick)
	require.ErrorIs(t, b.SendData(context.Background(), "T", []byte("x")), engine.ErrUnknownWriter)

	require.NoError(t, b.RegisterReader(ep, 2))
	require.NoError(t, b.RegisterWriter(ep))
	require.NoError(t, b.SendData(context.Background(), "T", []byte("again")))
	require.Eventually(t, func() bool { return len(rec.samples(2)) == 1 }, waitFor, tick)
}

func TestParticipantsDiscoverEachOther(t *testing.T) {
	bus := newBus(t)
	a, recA := startParticipant(t, bus, "alpha", func(_ *Options, attrs *engine.ParticipantAttributes) {
		attrs.Properties = map[string]string{"site": "north"}
	})
	b, recB := startParticipant(t, bus, "beta", func(_ *Options, attrs *engine.ParticipantAttributes) {
		attrs.Properties = map[string]string{"role": "sensor", "rack": "7"}
	})

	require.Eventually(t, func() bool { return recA.sawParticipant(engine.ParticipantDiscovered, "beta") }, waitFor, tick)
	require.Eventually(t, func() bool { return recB.sawParticipant(engine.ParticipantDiscovered, "alpha") }, waitFor, tick)

	recA.mu.Lock()
	idx := slices.IndexFunc(recA.participants, func(e participantEvent) bool { return e.name == "beta" })
	assert.Equal(t, map[string]string{"role": "sensor", "rack": "7"}, recA.participants[idx].props)
	recA.mu.Unlock()

	ep := engine.Endpoint{Topic: "Sensor", TypeName: "Reading", Reliable: true}
	require.NoError(t, a.RegisterReader(ep, 1))
	require.NoError(t, b.RegisterWriter(ep))

	require.Eventually(t, func() bool { return recA.sawEndpoint(engine.RemoteWriterDiscovered, "Sensor") }, waitFor, tick)
	require.Eventually(t, func() bool { return recB.sawEndpoint(engine.RemoteReaderDiscovered, "Sensor") }, waitFor, tick)
	require.Eventually(t, func() bool { return recA.sawLifecycle(engine.ReaderMatched, "Sensor") }, waitFor, tick)
	require.Eventually(t, func() bool { return recB.sawLifecycle(engine.WriterMatched, "Sensor") }, waitFor, tick)

	require.NoError(t, b.SendData(context.Background(), "Sensor", []byte("42")))
	require.Eventually(t, func() bool { return len(recA.samples(1)) == 1 }, waitFor, tick)

	require.NoError(t, b.RemoveWriter("Sensor"))
	require.Eventually(t, func() bool { return recA.sawEndpoint(engine.RemoteWriterRemoved, "Sensor") }, waitFor, tick)
	require.Eventually(t, func() bool { return recA.sawLifecycle(engine.ReaderRemoved, "Sensor") }, waitFor, tick)
}

func TestGoodbyeRemovesParticipant(t *testing.T) {
	bus := newBus(t)
	_, recA := startParticipant(t, bus, "alpha")
	b, _ := startParticipant(t, bus, "beta")
	require.NoError(t, b.RegisterWriter(engine.Endpoint{Topic: "T", TypeName: "T"}))

	require.Eventually(t, func() bool { return recA.sawEndpoint(engine.RemoteWriterDiscovered, "T") }, waitFor, tick)

	require.NoError(t, b.RemoveParticipant())
	require.Eventually(t, func() bool { return recA.sawParticipant(engine.ParticipantRemoved, "beta") }, waitFor, tick)
	assert.True(t, recA.sawEndpoint(engine.RemoteWriterRemoved, "T"))
}

func TestLeaseExpiryDropsSilentParticipant(t *testing.T) {
	bus := newBus(t)
	mock := clock.NewMock()
	a, recA := startParticipant(t, bus, "alpha", func(o *Options, _ *engine.ParticipantAttributes) {
		o.Clock = mock
		o.LeaseDuration = 3 * time.Second
	})
	b, _ := startParticipant(t, bus, "beta")
	ep := engine.Endpoint{Topic: "T", TypeName: "T"}
	require.NoError(t, a.RegisterReader(ep, 1))
	require.NoError(t, b.RegisterWriter(ep))

	require.Eventually(t, func() bool { return recA.sawLifecycle(engine.ReaderMatched, "T") }, waitFor, tick)

	require.NoError(t, b.StopAll())
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return recA.sawParticipant(engine.ParticipantDropped, "beta")
	}, waitFor, tick)
	assert.True(t, recA.sawEndpoint(engine.RemoteWriterRemoved, "T"))
	assert.True(t, recA.sawLifecycle(engine.ReaderLivelinessLost, "T"))
}

func TestTransientLocalReplay(t *testing.T) {
	b, rec := startParticipant(t, newBus(t), "p", func(o *Options, _ *engine.ParticipantAttributes) {
		o.HistoryDepth = 2
	})
	ctx := context.Background()
	ep := engine.Endpoint{Topic: "State", TypeName: "S", Keyed: true, Reliable: true, TransientLocal: true}
	require.NoError(t, b.RegisterWriter(ep))

	require.NoError(t, b.SendDataWithKey(ctx, "State", []byte("a1"), []byte("a")))
	require.NoError(t, b.SendDataWithKey(ctx, "State", []byte("b1"), []byte("b")))
	require.NoError(t, b.SendDataWithKey(ctx, "State", []byte("a2"), []byte("a")))
	require.NoError(t, b.SendDataWithKey(ctx, "State", []byte("c1"), []byte("c")))

	require.NoError(t, b.RegisterReader(ep, 1))
	require.Eventually(t, func() bool { return len(rec.samples(1)) == 2 }, waitFor, tick)
	assert.Equal(t, []decodedSample{{3, "a2"}, {4, "c1"}}, rec.samples(1))

	require.NoError(t, b.SendDataWithKey(ctx, "State", []byte("b2"), []byte("b")))
	require.Eventually(t, func() bool { return len(rec.samples(1)) == 3 }, waitFor, tick)
	assert.Equal(t, decodedSample{5, "b2"}, rec.samples(1)[2])
}

func TestVolatileReaderGetsNoHistory(t *testing.T) {
	bus := newBus(t)
	w, _ := startParticipant(t, bus, "writer")
	r, rec := startParticipant(t, bus, "reader")
	ctx := context.Background()

	require.NoError(t, w.RegisterWriter(engine.Endpoint{Topic: "S", TypeName: "S", TransientLocal: true}))
	require.NoError(t, w.SendData(ctx, "S", []byte("old")))

	require.NoError(t, r.RegisterReader(engine.Endpoint{Topic: "S", TypeName: "S"}, 1))
	require.NoError(t, w.SendData(ctx, "S", []byte("new")))

	require.Eventually(t, func() bool { return len(rec.samples(1)) == 1 }, waitFor, tick)
	assert.Equal(t, []decodedSample{{2, "new"}}, rec.samples(1))
}

func TestFilterAddressIgnoresOutsiders(t *testing.T) {
	bus := newBus(t)
	_, recA := startParticipant(t, bus, "alpha", func(_ *Options, attrs *engine.ParticipantAttributes) {
		attrs.FilterAddress = "10.1.0.0/16"
	})
	startParticipant(t, bus, "outsider", withAddress("10.2.0.5"))
	startParticipant(t, bus, "insider", withAddress("10.1.3.4"))

	require.Eventually(t, func() bool { return recA.sawParticipant(engine.ParticipantDiscovered, "insider") }, waitFor, tick)
	assert.False(t, recA.sawParticipant(engine.ParticipantDiscovered, "outsider"))
}

func TestFilterAddressDropsOutsiderSamples(t *testing.T) {
	bus := newBus(t)
	alpha, recA := startParticipant(t, bus, "alpha", func(_ *Options, attrs *engine.ParticipantAttributes) {
		attrs.FilterAddress = "10.1.0.0/16"
		attrs.LocalAddress = "10.9.0.1"
	})
	outsider, _ := startParticipant(t, bus, "outsider", withAddress("10.2.0.5"))
	insider, _ := startParticipant(t, bus, "insider", withAddress("10.1.3.4"))
	ctx := context.Background()

	ep := engine.Endpoint{Topic: "F", TypeName: "T", Reliable: true}
	require.NoError(t, alpha.RegisterReader(ep, 1))
	require.NoError(t, alpha.RegisterWriter(ep))
	require.NoError(t, outsider.RegisterWriter(ep))
	require.NoError(t, insider.RegisterWriter(ep))
	require.Eventually(t, func() bool { return recA.sawParticipant(engine.ParticipantDiscovered, "insider") }, waitFor, tick)

	require.NoError(t, outsider.SendData(ctx, "F", []byte("out")))
	require.NoError(t, alpha.SendData(ctx, "F", []byte("self")))
	require.NoError(t, insider.SendData(ctx, "F", []byte("in")))

	require.Eventually(t, func() bool { return len(recA.samples(1)) == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return len(recA.samples(1)) > 2 }, 100*time.Millisecond, tick)
	assert.Equal(t, []decodedSample{{1, "self"}, {1, "in"}}, recA.samples(1))
}

func TestReaderIgnoresUnmatchedWriterQoS(t *testing.T) {
	bus := newBus(t)
	r, rec := startParticipant(t, bus, "reader")
	w, _ := startParticipant(t, bus, "writer")
	ctx := context.Background()

	require.NoError(t, r.RegisterReader(engine.Endpoint{Topic: "Q", TypeName: "T", Reliable: true}, 1))
	require.NoError(t, r.RegisterReader(engine.Endpoint{Topic: "D", TypeName: "T", TransientLocal: true}, 2))
	require.NoError(t, r.RegisterReader(engine.Endpoint{Topic: "K", TypeName: "T", Keyed: true}, 3))

	require.NoError(t, w.RegisterWriter(engine.Endpoint{Topic: "Q", TypeName: "T"}))
	require.NoError(t, w.RegisterWriter(engine.Endpoint{Topic: "D", TypeName: "T"}))
	require.NoError(t, w.RegisterWriter(engine.Endpoint{Topic: "K", TypeName: "T"}))
	require.NoError(t, w.SendData(ctx, "Q", []byte("x")))
	require.NoError(t, w.SendData(ctx, "D", []byte("x")))
	require.NoError(t, w.SendData(ctx, "K", []byte("x")))

	// a matching writer on another participant still gets through
	good, _ := startParticipant(t, bus, "good")
	require.NoError(t, good.RegisterWriter(engine.Endpoint{Topic: "Q", TypeName: "T", Reliable: true}))
	require.NoError(t, good.SendData(ctx, "Q", []byte("y")))

	require.Eventually(t, func() bool { return len(rec.samples(1)) == 1 }, waitFor, tick)
	assert.Equal(t, []decodedSample{{1, "y"}}, rec.samples(1))
	assert.Empty(t, rec.samples(2))
	assert.Empty(t, rec.samples(3))
	assert.False(t, rec.sawLifecycle(engine.ReaderMatched, "K"))
}

func TestPartitions(t *testing.T) {
	bus := newBus(t)
	w, _ := startParticipant(t, bus, "writer")
	wildcard, recWild := startParticipant(t, bus, "wild")
	other, recOther := startParticipant(t, bus, "other")

	require.ErrorIs(t, w.SetPartition("["), engine.ErrBadPartition)
	require.NoError(t, w.SetPartition("sensors/a"))
	require.NoError(t, wildcard.SetPartition("sensors/*"))
	require.NoError(t, other.SetPartition("actuators"))

	ep := engine.Endpoint{Topic: "P", TypeName: "T", Reliable: true}
	require.NoError(t, w.RegisterWriter(ep))
	require.NoError(t, wildcard.RegisterReader(ep, 1))
	require.NoError(t, other.RegisterReader(ep, 1))

	require.NoError(t, w.SendData(context.Background(), "P", []byte("x")))
	require.Eventually(t, func() bool { return len(recWild.samples(1)) == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return len(recOther.samples(1)) > 0 }, 100*time.Millisecond, tick)
	assert.False(t, recOther.sawLifecycle(engine.ReaderMatched, "P"))
}

func TestBestEffortReaderDropsWhenBehind(t *testing.T) {
	b, err := New(Options{Transport: newBus(t), QueueDepth: 1})
	require.NoError(t, err)
	rec := newRecorder()
	unblock := make(chan struct{})
	var once sync.Once
	rec.onDecode = func(engine.Token) {
		once.Do(func() { <-unblock })
	}
	b.SetupContainer(rec.container())
	require.NoError(t, b.CreateParticipant(context.Background(), engine.ParticipantAttributes{LocalAddress: "127.0.0.1"}))

	ep := engine.Endpoint{Topic: "Fast", TypeName: "T"}
	require.NoError(t, b.RegisterReader(ep, 1))
	require.NoError(t, b.RegisterWriter(ep))
	for i := 0; i < 5; i++ {
		require.NoError(t, b.SendData(context.Background(), "Fast", []byte("x")))
	}
	close(unblock)

	require.Eventually(t, func() bool { return len(rec.samples(1)) >= 1 }, waitFor, tick)
	require.NoError(t, b.StopAll())
	assert.Less(t, len(rec.samples(1)), 5)
	assert.Equal(t, 1, rec.releases(1))
}

type recordingLogger struct {
	watermill.NopLogger
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Info(msg string, _ watermill.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recordingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.msgs, msg)
}

func TestQoSWarningsFollowLogLevel(t *testing.T) {
	logger := &recordingLogger{}
	caps := transport.Capabilities{Name: "lossy", Broadcast: true}
	b, _ := startParticipant(t, newBus(t), "p", func(o *Options, _ *engine.ParticipantAttributes) {
		o.Logger = logger
		o.Capabilities = &caps
	})

	b.SetLogLevel(engine.LogError)
	require.NoError(t, b.RegisterReader(engine.Endpoint{Topic: "A", TypeName: "T", Reliable: true}, 1))
	assert.False(t, logger.has("Transport cannot honour reliable delivery"))

	b.SetLogLevel(engine.LogWarning)
	require.NoError(t, b.RegisterReader(engine.Endpoint{Topic: "B", TypeName: "T", Reliable: true}, 2))
	assert.True(t, logger.has("Transport cannot honour reliable delivery"))
}
