package runtime

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/rtpsbridge/engine"
	configpkg "github.com/drblury/rtpsbridge/internal/runtime/config"
	loggingpkg "github.com/drblury/rtpsbridge/internal/runtime/logging"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type sentSample struct {
	topic string
	data  []byte
	key   []byte
	keyed bool
}

// fakeEngine records every call and releases readers synchronously.
type fakeEngine struct {
	mu        sync.Mutex
	container engine.Container
	attrs     *engine.ParticipantAttributes
	partition string
	level     engine.LogLevel
	readers   map[string]engine.Token
	endpoints map[string]engine.Endpoint
	writers   map[string]engine.Endpoint
	sent      []sentSample
	calls     []string

	createErr   error
	registerErr error
	sendErr     error
	removeErr   error
	resignErr   error
	stopErr     error
	// leak skips Release on teardown.
	leak bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		readers:   make(map[string]engine.Token),
		endpoints: make(map[string]engine.Endpoint),
		writers:   make(map[string]engine.Endpoint),
	}
}

func (f *fakeEngine) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) SetupContainer(c engine.Container) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("setup")
	f.container = c
}

func (f *fakeEngine) CreateParticipant(_ context.Context, attrs engine.ParticipantAttributes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.createErr != nil {
		return f.createErr
	}
	f.attrs = &attrs
	return nil
}

func (f *fakeEngine) SetPartition(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("partition")
	if name == "[" {
		return engine.ErrBadPartition
	}
	f.partition = name
	return nil
}

func (f *fakeEngine) RegisterReader(ep engine.Endpoint, token engine.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("register_reader")
	if f.registerErr != nil {
		return f.registerErr
	}
	f.readers[ep.Topic] = token
	f.endpoints[ep.Topic] = ep
	return nil
}

func (f *fakeEngine) RegisterWriter(ep engine.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("register_writer")
	if f.registerErr != nil {
		return f.registerErr
	}
	f.writers[ep.Topic] = ep
	return nil
}

func (f *fakeEngine) RemoveReader(topic string) error {
	f.mu.Lock()
	if f.removeErr != nil {
		defer f.mu.Unlock()
		return f.removeErr
	}
	token, ok := f.readers[topic]
	delete(f.readers, topic)
	delete(f.endpoints, topic)
	release := f.container.Release
	f.mu.Unlock()
	if !ok {
		return engine.ErrUnknownReader
	}
	release(token)
	return nil
}

func (f *fakeEngine) RemoveWriter(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.writers[topic]; !ok {
		return engine.ErrUnknownWriter
	}
	delete(f.writers, topic)
	return nil
}

func (f *fakeEngine) SendData(_ context.Context, topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentSample{topic: topic, data: data})
	return nil
}

func (f *fakeEngine) SendDataWithKey(_ context.Context, topic string, data, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.writers[topic].Keyed {
		return engine.ErrKeyNotAllowed
	}
	f.sent = append(f.sent, sentSample{topic: topic, data: data, key: key, keyed: true})
	return nil
}

func (f *fakeEngine) releaseAll() {
	f.mu.Lock()
	tokens := slices.Collect(maps.Values(f.readers))
	f.readers = make(map[string]engine.Token)
	f.endpoints = make(map[string]engine.Endpoint)
	f.writers = make(map[string]engine.Endpoint)
	release, leak := f.container.Release, f.leak
	f.mu.Unlock()
	if leak {
		return
	}
	for _, token := range tokens {
		release(token)
	}
}

func (f *fakeEngine) ResignAll() error {
	f.mu.Lock()
	f.record("resign")
	err := f.resignErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.releaseAll()
	return nil
}

func (f *fakeEngine) StopAll() error {
	f.mu.Lock()
	f.record("stop")
	err := f.stopErr
	f.mu.Unlock()
	f.releaseAll()
	return err
}

func (f *fakeEngine) RemoveParticipant() error {
	f.mu.Lock()
	f.record("remove")
	f.mu.Unlock()
	f.releaseAll()
	return nil
}

func (f *fakeEngine) SetLogLevel(level engine.LogLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = level
}

// deliver plays the engine delivering a payload to the reader of topic.
func (f *fakeEngine) deliver(topic string, sequence uint64, payload []byte) {
	f.mu.Lock()
	token, ok := f.readers[topic]
	decode := f.container.Decode
	f.mu.Unlock()
	if ok {
		decode(token, sequence, payload)
	}
}

func (f *fakeEngine) sentSamples() []sentSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *fakeEngine) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeEngine) hasReader(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.readers[topic]
	return ok
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{ParticipantName: "test"}
}

// newTestParticipant creates a participant over fe with its own metrics
// registry.
func newTestParticipant(t *testing.T, fe *fakeEngine) *Participant {
	t.Helper()
	p, err := NewParticipant(context.Background(), testConfig(), newTestLogger(), ParticipantDependencies{
		Engine:     fe,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.StopAll() })
	return p
}

type reading struct {
	Celsius float64 `json:"celsius"`
}

type sensorSample struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

func (sensorSample) DDSTypeName() string { return "sensors::Sample" }
func (s sensorSample) DDSKey() []byte    { return []byte(s.ID) }
