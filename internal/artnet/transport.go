package artnet

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// ReceiveFunc is invoked for every inbound datagram with its source address.
type ReceiveFunc func(b []byte, src *net.UDPAddr)

// Transport is the UDP collaborator. Sends are fire-and-forget: failures
// surface through the engine's error sink, never as a blocking result.
type Transport interface {
	Bind(port int) error
	Send(b []byte, ip net.IP, port int) error
	OnReceive(fn ReceiveFunc)
	Close() error
}

// UDPTransport is the production Transport over a single UDP socket with
// broadcast enabled.
type UDPTransport struct {
	mu   sync.Mutex
	conn *net.UDPConn
	recv ReceiveFunc
	done chan struct{}
}

func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

// Bind opens the socket on the given port and starts the read loop.
func (t *UDPTransport) Bind(port int) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return &TransportError{Op: "bind", Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

// packetConn is the slice of net.UDPConn the read loop needs; tests
// substitute a failing implementation.
type packetConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
}

// readErrorBackoff keeps a persistently failing socket from spinning the
// read loop hot.
const readErrorBackoff = 10 * time.Millisecond

func (t *UDPTransport) readLoop(conn packetConn) {
	buf := make([]byte, 1024)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				time.Sleep(readErrorBackoff)
			}
			continue
		}
		t.mu.Lock()
		fn := t.recv
		t.mu.Unlock()
		if fn != nil {
			b := make([]byte, n)
			copy(b, buf[:n])
			fn(b, src)
		}
	}
}

// Send writes one datagram to (ip, port).
func (t *UDPTransport) Send(b []byte, ip net.IP, port int) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: "send", Err: fmt.Errorf("transport not bound")}
	}
	if _, err := conn.WriteToUDP(b, &net.UDPAddr{IP: ip, Port: port}); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// OnReceive registers the inbound-datagram callback.
func (t *UDPTransport) OnReceive(fn ReceiveFunc) {
	t.mu.Lock()
	t.recv = fn
	t.mu.Unlock()
}

// Close shuts the socket down and stops the read loop.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	close(t.done)
	err := t.conn.Close()
	t.conn = nil
	return err
}
