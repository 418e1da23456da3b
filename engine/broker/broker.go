// Package broker implements engine.Engine on top of a message broker. Data
// samples and discovery announcements travel as Watermill messages, so any
// transport registered in the transport package can carry a domain.
//
// Each participant runs one goroutine receiving discovery traffic, one
// handling discovery events, one publishing announcements and history
// replays, and, with an announce interval, one driving the lease clock.
// Every reader adds a receive and a process goroutine; Decode and Release
// for a reader are only ever called from its process goroutine.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/benbjohnson/clock"

	"github.com/drblury/rtpsbridge/engine"
	"github.com/drblury/rtpsbridge/internal/runtime/ids"
	"github.com/drblury/rtpsbridge/internal/runtime/logging"
	"github.com/drblury/rtpsbridge/internal/runtime/netif"
	"github.com/drblury/rtpsbridge/transport"
)

type state int

const (
	stateNew state = iota
	stateCreating
	stateActive
	stateClosed
)

type job func()

// Broker is a participant of one domain. It is safe for concurrent use.
type Broker struct {
	opts   Options
	pub    message.Publisher
	sub    message.Subscriber
	caps   transport.Capabilities
	clock  clock.Clock
	level  *slog.LevelVar
	logger watermill.LoggerAdapter

	callbacks atomic.Pointer[engine.Container]

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          state
	guid           ids.GUID
	name           string
	domain         uint32
	locators       string
	properties     map[string]string
	filter         netip.Prefix
	partition      string
	readers        map[string]*reader
	writers        map[string]*writer
	pendingReaders map[string]struct{}
	remotes        map[string]*remoteParticipant

	// peers mirrors the remote GUIDs admitted by the filter for the
	// receive goroutines, which must not take mu.
	peerMu sync.RWMutex
	peers  map[string]struct{}

	jobs              []job
	jobSignal         chan struct{}
	reannouncePending bool
	draining          bool
	outboundDone      chan struct{}

	events     chan event
	wg         sync.WaitGroup
	processing sync.WaitGroup
}

var _ engine.Engine = (*Broker)(nil)

// New returns an engine bound to opts.Transport. No goroutine starts before
// CreateParticipant.
func New(opts Options) (*Broker, error) {
	if opts.Transport.Publisher == nil || opts.Transport.Subscriber == nil {
		return nil, errors.New("broker: transport publisher and subscriber are required")
	}
	opts = opts.withDefaults()

	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	ctx, cancel := context.WithCancel(context.Background())

	return &Broker{
		opts:           opts,
		pub:            opts.Transport.Publisher,
		sub:            opts.Transport.Subscriber,
		caps:           *opts.Capabilities,
		clock:          opts.Clock,
		level:          level,
		logger:         logging.FilterLevel(opts.Logger, level),
		ctx:            ctx,
		cancel:         cancel,
		partition:      engine.DefaultPartition,
		readers:        make(map[string]*reader),
		writers:        make(map[string]*writer),
		pendingReaders: make(map[string]struct{}),
		remotes:        make(map[string]*remoteParticipant),
		peers:          make(map[string]struct{}),
		jobSignal:      make(chan struct{}, 1),
		outboundDone:   make(chan struct{}),
		events:         make(chan event, eventQueueSize),
	}, nil
}

// SetupContainer installs the callback slots. It must precede
// CreateParticipant; a later call replaces the slots for future callbacks.
func (b *Broker) SetupContainer(c engine.Container) {
	b.callbacks.Store(&c)
}

// CreateParticipant joins the domain and starts announcing.
func (b *Broker) CreateParticipant(ctx context.Context, attrs engine.ParticipantAttributes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.callbacks.Load() == nil {
		return engine.ErrNoContainer
	}

	addr, filter, err := resolveAddresses(attrs)
	if err != nil {
		return err
	}

	b.mu.Lock()
	switch b.state {
	case stateClosed:
		b.mu.Unlock()
		return engine.ErrClosed
	case stateCreating, stateActive:
		b.mu.Unlock()
		return engine.ErrAlreadyCreated
	}
	b.state = stateCreating
	b.guid = ids.NewGUID()
	b.name = attrs.Name
	b.domain = attrs.DomainID
	b.locators = locatorFor(b.opts.TransportName, addr)
	b.properties = maps.Clone(attrs.Properties)
	b.filter = filter
	b.mu.Unlock()

	msgs, err := b.sub.Subscribe(b.ctx, DiscoveryTopic(attrs.DomainID))

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.state = stateNew
		return fmt.Errorf("broker: subscribe discovery: %w", err)
	}
	b.state = stateActive

	b.wg.Add(3)
	go b.receiveDiscovery(msgs)
	go b.handleEvents()
	go b.runOutbound()
	if b.opts.AnnounceInterval > 0 {
		b.wg.Add(1)
		go b.maintain()
	}
	b.requestReannounceLocked()

	b.logger.Info("Participant created", watermill.LogFields{
		"participant": b.name,
		"guid":        b.guid.String(),
		"domain":      b.domain,
		"locators":    b.locators,
	})
	if !b.caps.Broadcast {
		b.warn("Transport does not broadcast; only one peer will see this participant", watermill.LogFields{"transport": b.caps.Name})
	}
	return nil
}

func resolveAddresses(attrs engine.ParticipantAttributes) (netip.Addr, netip.Prefix, error) {
	var addr netip.Addr
	if attrs.LocalAddress != "" {
		a, err := netip.ParseAddr(attrs.LocalAddress)
		if err != nil {
			return netip.Addr{}, netip.Prefix{}, fmt.Errorf("broker: invalid local address %q: %w", attrs.LocalAddress, err)
		}
		addr = a.Unmap()
	} else if a, ok := netif.FirstIPv4(); ok {
		addr = a
	} else {
		addr = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}

	var filter netip.Prefix
	if attrs.FilterAddress != "" {
		p, err := netip.ParsePrefix(attrs.FilterAddress)
		if err != nil {
			a, addrErr := netip.ParseAddr(attrs.FilterAddress)
			if addrErr != nil {
				return netip.Addr{}, netip.Prefix{}, fmt.Errorf("broker: invalid filter address %q: %w", attrs.FilterAddress, err)
			}
			p = netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen())
		}
		filter = p.Masked()
	}
	return addr, filter, nil
}

// SetPartition sets the partition stamped on endpoints registered from now
// on. Existing endpoints keep theirs.
func (b *Broker) SetPartition(name string) error {
	name = normalizePartition(name)
	if !validPartition(name) {
		return fmt.Errorf("%w: %q", engine.ErrBadPartition, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateClosed {
		return engine.ErrClosed
	}
	b.partition = name
	return nil
}

// SetLogLevel filters the engine's own log output.
func (b *Broker) SetLogLevel(level engine.LogLevel) {
	switch level {
	case engine.LogError:
		b.level.Set(slog.LevelError)
	case engine.LogWarning:
		b.level.Set(slog.LevelWarn)
	default:
		b.level.Set(slog.LevelInfo)
	}
}

// warn logs at info severity but survives a warning threshold, since
// Watermill loggers have no warning level.
func (b *Broker) warn(msg string, fields watermill.LogFields) {
	if b.level.Level() > slog.LevelWarn {
		return
	}
	b.opts.Logger.Info(msg, fields.Add(watermill.LogFields{"severity": "warning"}))
}

// GUID identifies the participant on the wire. It is empty before
// CreateParticipant.
func (b *Broker) GUID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.guid.IsZero() {
		return ""
	}
	return b.guid.String()
}

// Locators returns the advertised locator list.
func (b *Broker) Locators() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locators
}

func (b *Broker) activeLocked() error {
	switch b.state {
	case stateActive:
		return nil
	case stateClosed:
		return engine.ErrClosed
	default:
		return engine.ErrNotCreated
	}
}

// ResignAll removes every reader and writer and announces their removal.
// The participant stays usable.
func (b *Broker) ResignAll() error {
	b.mu.Lock()
	if err := b.activeLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	var calls []func()
	var stopped []*reader
	for topic, r := range b.readers {
		delete(b.readers, topic)
		calls = append(calls, b.unmatchLocalLocked(r.key, true)...)
		b.announceEndpointLocked(kindEndpointRemoved, r.info)
		stopped = append(stopped, r)
	}
	for topic, w := range b.writers {
		delete(b.writers, topic)
		w.removed.Store(true)
		calls = append(calls, b.unmatchLocalLocked(w.key, false)...)
		b.announceEndpointLocked(kindEndpointRemoved, w.info)
	}
	b.mu.Unlock()

	for _, r := range stopped {
		r.stop()
	}
	run(calls)
	return nil
}

// StopAll tears the participant down without a goodbye; peers notice
// through lease expiry.
func (b *Broker) StopAll() error {
	return b.shutdown(false)
}

// RemoveParticipant says goodbye and tears the participant down.
func (b *Broker) RemoveParticipant() error {
	return b.shutdown(true)
}

// Close stops an active participant like StopAll. A participant that was
// never created only closes an owned transport. Close is idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	switch b.state {
	case stateActive:
		b.mu.Unlock()
		return b.shutdown(false)
	case stateClosed, stateCreating:
		b.mu.Unlock()
		return nil
	}
	b.state = stateClosed
	b.mu.Unlock()

	b.cancel()
	if b.opts.OwnsTransport {
		return b.opts.Transport.Close()
	}
	return nil
}

func (b *Broker) shutdown(goodbye bool) error {
	b.mu.Lock()
	switch b.state {
	case stateNew, stateCreating:
		b.mu.Unlock()
		return engine.ErrNotCreated
	case stateClosed:
		b.mu.Unlock()
		return engine.ErrClosed
	}
	b.state = stateClosed

	readers := make([]*reader, 0, len(b.readers))
	for _, r := range b.readers {
		readers = append(readers, r)
	}
	for _, w := range b.writers {
		w.removed.Store(true)
	}
	b.readers = make(map[string]*reader)
	b.writers = make(map[string]*writer)

	if goodbye {
		bye := b.selfAnnouncementLocked(kindGoodbye)
		b.enqueueLocked(func() { b.publishAnnouncement(bye) })
	}
	b.draining = true
	b.signalOutbound()
	b.mu.Unlock()

	<-b.outboundDone
	for _, r := range readers {
		r.stop()
	}
	b.cancel()
	b.processing.Wait()
	b.wg.Wait()

	b.logger.Info("Participant stopped", watermill.LogFields{
		"participant": b.name,
		"goodbye":     goodbye,
		"readers":     len(readers),
	})

	if b.opts.OwnsTransport {
		return b.opts.Transport.Close()
	}
	return nil
}

func (b *Broker) enqueueLocked(j job) {
	b.jobs = append(b.jobs, j)
	b.signalOutbound()
}

func (b *Broker) signalOutbound() {
	select {
	case b.jobSignal <- struct{}{}:
	default:
	}
}

// runOutbound is the only goroutine publishing announcements and replays.
// It drains queued jobs before exiting on shutdown.
func (b *Broker) runOutbound() {
	defer b.wg.Done()
	defer close(b.outboundDone)

	for {
		b.mu.Lock()
		jobs := b.jobs
		b.jobs = nil
		draining := b.draining
		b.mu.Unlock()

		for _, j := range jobs {
			j()
		}
		if len(jobs) > 0 {
			continue
		}
		if draining {
			return
		}
		<-b.jobSignal
	}
}

func (b *Broker) lifecycle(reason engine.LifecycleReason, topic string) func() {
	cb := b.callbacks.Load()
	if cb == nil || cb.ReaderWriter == nil {
		return nil
	}
	return func() { cb.ReaderWriter(reason, topic) }
}

func run(calls []func()) {
	for _, call := range calls {
		if call != nil {
			call()
		}
	}
}
