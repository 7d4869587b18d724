package artnet

import (
	"fmt"
	"net"
	"sync"
)

// ReceiverOptions configures a new Receiver.
type ReceiverOptions struct {
	Net      int
	Subnet   int
	Universe int
	// From restricts accepted sources to a CIDR. Empty accepts from anywhere.
	From string
}

// DataFunc receives a copy of the universe after every accepted frame.
type DataFunc func(data []byte)

// Receiver accepts ArtDmx frames addressed to one port address, filtered by
// source subnet, and fans them out to subscribers. It lives until the owner
// discards it; there is no expiry.
type Receiver struct {
	addr   Address
	filter *net.IPNet

	mu   sync.Mutex
	data [512]byte
	subs []DataFunc
}

func newReceiver(opts ReceiverOptions) (*Receiver, error) {
	addr, err := NewAddress(opts.Net, opts.Subnet, opts.Universe)
	if err != nil {
		return nil, err
	}

	from := opts.From
	if from == "" {
		from = "0.0.0.0/0"
	}
	_, filter, err := net.ParseCIDR(from)
	if err != nil {
		return nil, fmt.Errorf("receiver: bad source filter %q: %w", opts.From, err)
	}

	return &Receiver{addr: addr, filter: filter}, nil
}

// Address returns the receiver's port address.
func (r *Receiver) Address() Address { return r.addr }

// Subscribe registers a data callback, invoked synchronously in
// registration order on every accepted frame.
func (r *Receiver) Subscribe(fn DataFunc) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

// Data returns a copy of the most recently received universe.
func (r *Receiver) Data() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.data))
	copy(out, r.data[:])
	return out
}

// acceptPacket reports whether an ArtDmx frame with the given address low
// byte from src belongs to this receiver.
func (r *Receiver) acceptPacket(lowByte uint8, src net.IP) bool {
	return lowByte == r.addr.LowByte() && r.filter.Contains(src)
}

// receive stores the frame and notifies subscribers. Subscribers get their
// own copy so they cannot alias the internal buffer.
func (r *Receiver) receive(data []byte) {
	if len(data) > 512 {
		data = data[:512]
	}
	r.mu.Lock()
	copy(r.data[:], data)
	subs := append([]DataFunc(nil), r.subs...)
	r.mu.Unlock()

	for _, fn := range subs {
		out := make([]byte, len(data))
		copy(out, data)
		fn(out)
	}
}
