package artnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"dmxnet/internal/logger"
)

const defaultPollInterval = 3 * time.Second

// Config carries the engine's construction options. Every field has an
// explicit default; there are no hidden knobs.
type Config struct {
	// Interfaces supplies the local interface inventory. Defaults to the OS.
	Interfaces InterfaceSource
	// Transport carries the UDP datagrams. Defaults to a broadcast-enabled
	// UDP socket.
	Transport Transport
	// Port is the listen port, default 6454. Poll replies always go to 6454
	// regardless of this setting.
	Port int
	// PollInterval is the period of our own ArtPoll, default 3s.
	PollInterval time.Duration
	// PollDestination is the broadcast address polled, default
	// 255.255.255.255.
	PollDestination string
	// Name is the short name advertised in poll replies. LongName defaults
	// to Name.
	Name     string
	LongName string
	// NodeWindow is the node liveness window, default 30s.
	NodeWindow time.Duration
	// ErrorSink receives transport errors. When nil the engine panics on
	// them, so a long-running process should always install one.
	ErrorSink func(error)
}

// Engine is one Art-Net process instance: the shared socket, the device
// registry, discovery and dispatch. The mutex serializes the inbound
// handler, the poll timer and the sweep timer against each other.
type Engine struct {
	mu sync.Mutex

	log       logger.Logger
	ifaces    []LocalInterface
	transport Transport
	registry  *Registry
	discovery *discovery
	dispatch  *dispatcher

	name         string
	longName     string
	port         int
	pollInterval time.Duration
	pollDest     net.IP
	errorSink    func(error)

	started bool
	isBound bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine captures the interface inventory once and wires the components.
// It does not touch the network until Start.
func NewEngine(log logger.Logger, cfg Config) (*Engine, error) {
	if cfg.Name == "" {
		return nil, errors.New("engine: a name is required")
	}

	src := cfg.Interfaces
	if src == nil {
		src = SystemInterfaces{}
	}
	ifaces, err := src.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("engine: interface enumeration: %w", err)
	}
	if len(ifaces) == 0 {
		log.With(logger.Fields{"module": "art-net"}).Warn("no usable IPv4 interface found")
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewUDPTransport()
	}

	port := cfg.Port
	if port == 0 {
		port = Port
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	pollDest := limitedBroadcast
	if cfg.PollDestination != "" {
		pollDest = net.ParseIP(cfg.PollDestination)
		if pollDest == nil {
			return nil, fmt.Errorf("engine: bad poll destination %q", cfg.PollDestination)
		}
		pollDest = pollDest.To4()
		if pollDest == nil {
			return nil, fmt.Errorf("engine: poll destination %q is not IPv4", cfg.PollDestination)
		}
	}
	longName := cfg.LongName
	if longName == "" {
		longName = cfg.Name
	}

	e := &Engine{
		log:          log,
		ifaces:       ifaces,
		transport:    transport,
		registry:     NewRegistry(ifaces, cfg.NodeWindow),
		name:         cfg.Name,
		longName:     longName,
		port:         port,
		pollInterval: pollInterval,
		pollDest:     pollDest,
		errorSink:    cfg.ErrorSink,
	}
	e.discovery = &discovery{engine: e, log: log}
	e.dispatch = &dispatcher{engine: e, log: log}
	return e, nil
}

// Interfaces returns the captured local interface list.
func (e *Engine) Interfaces() []LocalInterface {
	return append([]LocalInterface(nil), e.ifaces...)
}

// Start binds the socket and launches the poll and sweep timers. The timers
// stop when ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine: already started")
	}
	e.started = true
	e.mu.Unlock()

	if err := e.transport.Bind(e.port); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.transport.OnReceive(e.dispatch.OnDatagram)

	e.mu.Lock()
	e.isBound = true
	e.mu.Unlock()

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(2)
	go e.pollLoop(ctx)
	go e.sweepLoop(ctx)

	e.log.With(logger.Fields{"module": "art-net"}).
		Infof("engine %q listening on port %d, polling %s every %s", e.name, e.port, e.pollDest, e.pollInterval)
	return nil
}

// Stop cancels the timers, stops every sender and closes the socket.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.isBound = false
	cancel := e.cancel
	senders := append([]*Sender(nil), e.registry.senders...)
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	for _, s := range senders {
		s.Stop()
	}
	if err := e.transport.Close(); err != nil {
		e.log.With(logger.Fields{"module": "art-net"}).Errorf("transport close: %v", err)
	}
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	t := time.NewTicker(e.pollInterval)
	defer t.Stop()
	e.discovery.Poll(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			e.discovery.Poll(now)
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			e.mu.Lock()
			removed := e.registry.Sweep(now)
			e.mu.Unlock()
			for _, mac := range removed {
				e.log.With(logger.Fields{"module": "art-net"}).Infof("node %s timed out", mac)
			}
		}
	}
}

// NewSender registers a new DMX sender. The returned sender transmits until
// its Stop is called.
func (e *Engine) NewSender(opts SenderOptions) (*Sender, error) {
	s, err := newSender(e, opts)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.registry.AddSender(s)
	e.mu.Unlock()
	return s, nil
}

// NewReceiver registers a new DMX receiver.
func (e *Engine) NewReceiver(opts ReceiverOptions) (*Receiver, error) {
	r, err := newReceiver(opts)
	if err != nil {
		return nil, err
	}
	if !e.filterMatchesAny(r) {
		e.log.With(logger.Fields{"module": "art-net"}).
			Warnf("receiver %s: source filter matches no local interface", r.addr)
	}
	e.mu.Lock()
	e.registry.AddReceiver(r)
	e.mu.Unlock()
	return r, nil
}

func (e *Engine) filterMatchesAny(r *Receiver) bool {
	for _, li := range e.ifaces {
		if r.filter.Contains(li.IP) {
			return true
		}
	}
	return len(e.ifaces) == 0
}

// SubscribeNodeUpdates registers a callback for discovered-node changes.
func (e *Engine) SubscribeNodeUpdates(fn NodeFunc) {
	e.discovery.subscribe(fn)
}

// Nodes returns a snapshot of the currently known remote nodes.
func (e *Engine) Nodes() []*Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Nodes()
}

// Controllers returns a snapshot of the currently known remote controllers.
func (e *Engine) Controllers() []*Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Controllers()
}

func (e *Engine) removeSender(s *Sender) {
	e.mu.Lock()
	e.registry.RemoveSender(s)
	e.mu.Unlock()
}

func (e *Engine) bound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isBound
}

// send is fire-and-forget: failures go to the error sink, or panic when no
// sink was installed, preserving raise-on-unhandled semantics.
func (e *Engine) send(b []byte, ip net.IP, port int) {
	if err := e.transport.Send(b, ip, port); err != nil {
		e.raise(err)
	}
}

func (e *Engine) raise(err error) {
	if e.errorSink != nil {
		e.errorSink(err)
		return
	}
	panic(err)
}
