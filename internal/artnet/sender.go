package artnet

import (
	"fmt"
	"net"
	"sync"
	"time"

	"dmxnet/internal/logger"
)

const defaultRefresh = 1000 * time.Millisecond

// limitedBroadcast is the fallback destination when no unicast target is set.
var limitedBroadcast = net.IPv4(255, 255, 255, 255)

// SenderOptions configures a new Sender. Zero values take the documented
// defaults; unknown knobs do not exist.
type SenderOptions struct {
	Net      int
	Subnet   int
	Universe int
	// Destination is the target IP. Empty means limited broadcast
	// (255.255.255.255).
	Destination string
	// Port is the target UDP port, default 6454.
	Port int
	// Refresh is the keep-alive retransmit interval, default 1000ms.
	Refresh time.Duration
}

// Sender owns one outgoing DMX universe: a 512-channel buffer retransmitted
// on every change and on a refresh timer, with a wrapping sequence counter.
type Sender struct {
	engine *Engine
	log    logger.Logger

	addr    Address
	dest    net.IP
	port    int
	ifaces  []LocalInterface // local interfaces whose subnet reaches dest
	refresh time.Duration

	mu       sync.Mutex
	data     [512]byte
	seq      uint8
	stopped  bool
	stop     chan struct{}
	inflight sync.WaitGroup
}

func newSender(e *Engine, opts SenderOptions) (*Sender, error) {
	addr, err := NewAddress(opts.Net, opts.Subnet, opts.Universe)
	if err != nil {
		return nil, err
	}

	dest := limitedBroadcast
	if opts.Destination != "" {
		dest = net.ParseIP(opts.Destination)
		if dest == nil {
			return nil, fmt.Errorf("sender: bad destination %q", opts.Destination)
		}
		dest = dest.To4()
		if dest == nil {
			return nil, fmt.Errorf("sender: destination %q is not IPv4", opts.Destination)
		}
	}

	port := opts.Port
	if port == 0 {
		port = Port
	}
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	s := &Sender{
		engine:  e,
		log:     e.log,
		addr:    addr,
		dest:    dest,
		port:    port,
		ifaces:  matchInterfaces(e.ifaces, dest),
		refresh: refresh,
		stop:    make(chan struct{}),
	}

	if len(s.ifaces) == 0 {
		// Non-fatal: the sender exists but will never appear in poll replies.
		s.log.With(logger.Fields{"module": "art-net"}).
			Warnf("sender %s: no local interface reaches %s", addr, dest)
	}

	go s.refreshLoop()
	return s, nil
}

// matchInterfaces returns the local interfaces whose subnet reaches dest.
// Limited broadcast reaches every interface.
func matchInterfaces(ifaces []LocalInterface, dest net.IP) []LocalInterface {
	if dest.Equal(limitedBroadcast) {
		return append([]LocalInterface(nil), ifaces...)
	}
	var out []LocalInterface
	for _, li := range ifaces {
		if li.Contains(dest) || dest.Equal(li.Broadcast) {
			out = append(out, li)
		}
	}
	return out
}

// Address returns the sender's port address.
func (s *Sender) Address() Address { return s.addr }

// SetChannel sets one channel and transmits the universe.
func (s *Sender) SetChannel(ch int, val int) error {
	if err := s.PrepChannel(ch, val); err != nil {
		return err
	}
	s.Transmit()
	return nil
}

// PrepChannel sets one channel without transmitting, for batching updates
// ahead of a single Transmit.
func (s *Sender) PrepChannel(ch int, val int) error {
	if ch < 0 || ch > 511 {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	if val < 0 || val > 255 {
		return fmt.Errorf("%w: %d", ErrInvalidValue, val)
	}
	s.mu.Lock()
	s.data[ch] = byte(val)
	s.mu.Unlock()
	return nil
}

// FillChannels sets every channel in [start, stop] to val and transmits.
func (s *Sender) FillChannels(start, stop int, val int) error {
	if start < 0 || start > 511 || stop < 0 || stop > 511 || start > stop {
		return fmt.Errorf("%w: range %d..%d", ErrInvalidChannel, start, stop)
	}
	if val < 0 || val > 255 {
		return fmt.Errorf("%w: %d", ErrInvalidValue, val)
	}
	s.mu.Lock()
	for i := start; i <= stop; i++ {
		s.data[i] = byte(val)
	}
	s.mu.Unlock()
	s.Transmit()
	return nil
}

// Blackout zeroes the whole universe and transmits.
func (s *Sender) Blackout() {
	s.mu.Lock()
	for i := range s.data {
		s.data[i] = 0
	}
	s.mu.Unlock()
	s.Transmit()
}

// Transmit sends the current universe. The sequence counter increments on
// every send and wraps straight through zero.
func (s *Sender) Transmit() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.seq++
	pkt := EncodeDmx(s.addr, s.seq, s.data[:])
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if !s.engine.bound() {
		return
	}
	s.engine.send(pkt, s.dest, s.port)
}

// Sequence returns the last transmitted sequence number.
func (s *Sender) Sequence() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Sender) refreshLoop() {
	t := time.NewTicker(s.refresh)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.Transmit()
		}
	}
}

// Stop cancels the refresh timer and removes the sender from the engine.
// No transmission happens after Stop returns.
func (s *Sender) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stop)
	s.mu.Unlock()

	// A transmit that passed the stopped check may still be inside the
	// transport; wait it out so nothing is in flight once Stop returns.
	s.inflight.Wait()

	s.engine.removeSender(s)
}
