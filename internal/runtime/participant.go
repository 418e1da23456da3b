package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/rtpsbridge/engine"
	codecpkg "github.com/drblury/rtpsbridge/internal/runtime/codec"
	configpkg "github.com/drblury/rtpsbridge/internal/runtime/config"
	"github.com/drblury/rtpsbridge/internal/runtime/enginefactory"
	errspkg "github.com/drblury/rtpsbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/rtpsbridge/internal/runtime/logging"
	"github.com/drblury/rtpsbridge/transport"
)

// State is the lifecycle position of a Participant.
type State int

const (
	StateUninitialized State = iota
	StateCreated
	StateActive
	StateResigned
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateResigned:
		return "resigned"
	case StateRemoved:
		return "removed"
	default:
		return "uninitialized"
	}
}

// ParticipantDependencies holds optional collaborators. Leave fields nil
// for the defaults: a broker engine over Config.Transport and the codec
// named by Config.Codec.
type ParticipantDependencies struct {
	// Engine is used as is. The participant installs its callbacks on it.
	Engine engine.Engine
	// EngineFactory builds the engine when Engine is nil.
	EngineFactory enginefactory.Factory
	// Transport shares an existing bus instead of building one from
	// Config.Transport. Ignored when Engine or EngineFactory is set.
	Transport *transport.Transport
	Codec     codecpkg.Codec
	// Registerer receives the bridge metrics. Setting it enables metrics
	// even when Config.MetricsEnabled is false.
	Registerer prometheus.Registerer
}

type readerRegistration struct {
	topic Topic
	info  TypeInfo
	token engine.Token
}

type writerRegistration struct {
	topic Topic
	info  TypeInfo
}

// Participant is the root resource. It owns every reader and writer
// registration and the notification wiring.
type Participant struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	engine     engine.Engine
	ownsEngine bool
	codec      codecpkg.Codec
	metrics    *Metrics
	arena      *arena
	dispatcher *dispatcher
	gatherer   prometheus.Gatherer
	createdAt  time.Time
	hooks      atomic.Pointer[DeliveryHooks]
	usage      *usageSampler

	mu      sync.RWMutex
	state   State
	readers map[string]*readerRegistration
	writers map[string]*writerRegistration

	httpMu      sync.Mutex
	httpMuxes   map[int]*http.ServeMux
	httpServers map[int]*http.Server
	httpStarted bool
}

// NewParticipant creates the engine participant described by conf. The
// notification wiring is in place before the engine starts discovery.
func NewParticipant(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ParticipantDependencies) (*Participant, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	c := conf.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	level, err := engine.ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	cdc := deps.Codec
	if cdc == nil {
		if cdc, err = codecpkg.Lookup(c.Codec); err != nil {
			return nil, err
		}
	}

	var metrics *Metrics
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if c.MetricsEnabled || deps.Registerer != nil {
		metrics = NewMetrics(deps.Registerer)
		if err := metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if g, ok := deps.Registerer.(prometheus.Gatherer); ok {
			gatherer = g
		}
	}

	log.Info("Creating participant", loggingpkg.LogFields{
		"participant": c.ParticipantName,
		"domain":      c.DomainID,
		"transport":   c.Transport,
		"config":      c.String(),
	})

	eng, owned, err := buildEngine(ctx, &c, log, deps)
	if err != nil {
		return nil, err
	}

	p := &Participant{
		Conf:       &c,
		Logger:     log,
		engine:     eng,
		ownsEngine: owned,
		codec:      cdc,
		metrics:    metrics,
		arena:      newArena(),
		dispatcher: newDispatcher(log, metrics),
		gatherer:   gatherer,
		usage:      newUsageSampler(),
		readers:    make(map[string]*readerRegistration),
		writers:    make(map[string]*writerRegistration),
	}

	eng.SetupContainer(p.dispatcher.container(p.decode, p.release))
	eng.SetLogLevel(level)

	attrs := engine.ParticipantAttributes{
		DomainID:      c.DomainID,
		Name:          c.ParticipantName,
		LocalAddress:  c.LocalAddress,
		FilterAddress: c.FilterAddress,
		Properties:    c.Properties,
	}
	if err := eng.CreateParticipant(ctx, attrs); err != nil {
		p.closeEngine()
		return nil, &errspkg.EngineError{Op: "create participant", Err: err}
	}
	if err := eng.SetPartition(c.Partition); err != nil {
		return nil, &errspkg.EngineError{Op: "set partition", Err: errors.Join(err, p.abandonEngine())}
	}

	p.state = StateCreated
	p.createdAt = time.Now()

	if c.MetricsEnabled {
		p.RegisterHTTPHandler(c.MetricsPort, "/metrics", promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{}))
	}
	p.StartIntrospectionServer()
	p.startHTTPServers()

	return p, nil
}

func buildEngine(ctx context.Context, c *configpkg.Config, log loggingpkg.ServiceLogger, deps ParticipantDependencies) (engine.Engine, bool, error) {
	if deps.Engine != nil {
		return deps.Engine, false, nil
	}
	factory := deps.EngineFactory
	if factory == nil {
		if deps.Transport != nil {
			factory = enginefactory.SharedTransport(*deps.Transport)
		} else {
			factory = enginefactory.DefaultFactory()
		}
	}
	eng, err := factory.Build(ctx, c, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, false, &errspkg.EngineError{Op: "build", Err: err}
	}
	return eng, true, nil
}

// closeEngine frees an engine the participant built when creation failed.
func (p *Participant) closeEngine() {
	if !p.ownsEngine {
		return
	}
	if closer, ok := p.engine.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			p.Logger.Error("Failed to close engine", err, nil)
		}
	}
}

// abandonEngine stops an engine whose participant was created but could
// not be set up.
func (p *Participant) abandonEngine() error {
	err := p.engine.StopAll()
	if err != nil {
		p.Logger.Error("Failed to stop engine", err, nil)
	}
	p.closeEngine()
	return err
}

// State reports the lifecycle state.
func (p *Participant) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Metrics returns the bridge metrics, or nil when metrics are disabled.
func (p *Participant) Metrics() *Metrics {
	return p.metrics
}

// SetListener installs the lifecycle delegate, replacing any previous
// one. Nil removes it.
func (p *Participant) SetListener(l Listener) {
	p.dispatcher.setListener(l)
}

// SetParticipantListener installs the discovery delegate, replacing any
// previous one. Nil removes it.
func (p *Participant) SetParticipantListener(l ParticipantListener) {
	p.dispatcher.setParticipantListener(l)
}

// DiscoveredParticipants lists the remote participants currently known.
func (p *Participant) DiscoveredParticipants() []DiscoveredParticipant {
	return p.dispatcher.discoveredParticipants()
}

// DiscoveredEndpoints lists the remote readers and writers currently known.
func (p *Participant) DiscoveredEndpoints() []DiscoveredEndpoint {
	return p.dispatcher.discoveredEndpoints()
}

// SetPartition sets the partition used to match readers and writers
// registered from now on.
func (p *Participant) SetPartition(name string) error {
	if err := p.checkUsable(); err != nil {
		return err
	}
	if err := p.engine.SetPartition(name); err != nil {
		return &errspkg.EngineError{Op: "set partition", Err: err}
	}
	p.mu.Lock()
	p.Conf.Partition = name
	p.mu.Unlock()
	return nil
}

// SetLogLevel adjusts the engine verbosity.
func (p *Participant) SetLogLevel(level engine.LogLevel) {
	p.engine.SetLogLevel(level)
}

// ResignAll removes every reader and writer. The participant stays
// usable; registering again makes it active.
func (p *Participant) ResignAll() error {
	p.mu.Lock()
	if p.state == StateRemoved {
		p.mu.Unlock()
		return errspkg.ErrParticipantRemoved
	}
	readers, writers, prev := p.readers, p.writers, p.state
	p.readers = make(map[string]*readerRegistration)
	p.writers = make(map[string]*writerRegistration)
	p.state = StateResigned
	p.mu.Unlock()

	p.metrics.AddReaders(-len(readers))
	p.metrics.AddWriters(-len(writers))

	if err := p.engine.ResignAll(); err != nil {
		p.restoreResigned(readers, writers, prev)
		return &errspkg.EngineError{Op: "resign all", Err: err}
	}
	p.Logger.Info("Resigned all endpoints", loggingpkg.LogFields{"readers": len(readers), "writers": len(writers)})
	return nil
}

// restoreResigned undoes ResignAll's bookkeeping after the engine failed,
// keeping anything registered in the meantime.
func (p *Participant) restoreResigned(readers map[string]*readerRegistration, writers map[string]*writerRegistration, prev State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRemoved {
		return
	}
	for name, reg := range readers {
		if _, taken := p.readers[name]; !taken {
			p.readers[name] = reg
			p.metrics.AddReaders(1)
		}
	}
	for name, reg := range writers {
		if _, taken := p.writers[name]; !taken {
			p.writers[name] = reg
			p.metrics.AddWriters(1)
		}
	}
	if p.state == StateResigned {
		p.state = prev
	}
}

// StopAll tears the participant down without announcing it. Every reader
// is released before StopAll returns. It must not be called from a
// notification or reader callback.
func (p *Participant) StopAll() error {
	return p.shutdown("stop all", p.engine.StopAll)
}

// RemoveParticipant announces the participant's departure and tears it
// down like StopAll.
func (p *Participant) RemoveParticipant() error {
	return p.shutdown("remove participant", p.engine.RemoveParticipant)
}

func (p *Participant) shutdown(op string, stop func() error) error {
	p.mu.Lock()
	if p.state == StateRemoved {
		p.mu.Unlock()
		return errspkg.ErrParticipantRemoved
	}
	p.state = StateRemoved
	readers, writers := len(p.readers), len(p.writers)
	p.readers = make(map[string]*readerRegistration)
	p.writers = make(map[string]*writerRegistration)
	p.mu.Unlock()

	var errs []error
	if err := stop(); err != nil {
		errs = append(errs, &errspkg.EngineError{Op: op, Err: err})
	}
	for _, dc := range p.arena.drain() {
		p.Logger.Error("Engine did not release reader", nil, loggingpkg.LogFields{"topic": dc.topic})
	}
	p.metrics.AddReaders(-readers)
	p.metrics.AddWriters(-writers)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.stopHTTPServers(ctx); err != nil {
		errs = append(errs, err)
	}

	p.Logger.Info("Participant removed", loggingpkg.LogFields{
		"participant": p.Conf.ParticipantName,
		"op":          op,
	})
	return errors.Join(errs...)
}

// checkUsable rejects operations after removal.
func (p *Participant) checkUsable() error {
	if p.State() == StateRemoved {
		return errspkg.ErrParticipantRemoved
	}
	return nil
}

func (p *Participant) decode(token engine.Token, sequence uint64, payload []byte) {
	if !p.arena.decode(token, sequence, payload) {
		p.metrics.RecordDroppedDelivery()
	}
}

func (p *Participant) release(token engine.Token) {
	if dc, ok := p.arena.release(token); ok {
		p.Logger.Debug("Reader released", loggingpkg.LogFields{"topic": dc.topic, "type": dc.typeName})
	}
}

// RegisterHTTPHandler mounts handler on the server for port. Servers
// started already pick up new patterns; a new port starts a new server.
func (p *Participant) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	p.httpMu.Lock()
	defer p.httpMu.Unlock()

	if p.httpMuxes == nil {
		p.httpMuxes = make(map[int]*http.ServeMux)
	}

	mux, ok := p.httpMuxes[port]
	if !ok {
		mux = http.NewServeMux()
		p.httpMuxes[port] = mux
	}
	mux.Handle(pattern, handler)

	if p.httpStarted {
		p.startHTTPServerLocked(port, mux)
	}
}

func (p *Participant) startHTTPServers() {
	p.httpMu.Lock()
	defer p.httpMu.Unlock()

	p.httpStarted = true
	for port, mux := range p.httpMuxes {
		p.startHTTPServerLocked(port, mux)
	}
}

func (p *Participant) startHTTPServerLocked(port int, mux *http.ServeMux) {
	if p.httpServers == nil {
		p.httpServers = make(map[int]*http.Server)
	}
	if _, running := p.httpServers[port]; running {
		return
	}

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	p.httpServers[port] = server
	p.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
		}
	}()
}

func (p *Participant) stopHTTPServers(ctx context.Context) error {
	p.httpMu.Lock()
	servers := p.httpServers
	p.httpServers = nil
	p.httpStarted = false
	p.httpMu.Unlock()

	var errs []error
	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", server.Addr, err))
		}
	}
	return errors.Join(errs...)
}
