package artnet

import (
	"net"
	"sync"
	"testing"

	"dmxnet/internal/logger"

	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type sentPacket struct {
	b    []byte
	ip   net.IP
	port int
}

// fakeTransport records outbound datagrams and lets tests inject inbound
// ones.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentPacket
	recv ReceiveFunc
}

func (t *fakeTransport) Bind(port int) error { return nil }

func (t *fakeTransport) Send(b []byte, ip net.IP, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	t.sent = append(t.sent, sentPacket{b: cp, ip: ip, port: port})
	return nil
}

func (t *fakeTransport) OnReceive(fn ReceiveFunc) { t.recv = fn }
func (t *fakeTransport) Close() error             { return nil }

// sentWithOpcode filters the recorded datagrams by opcode.
func (t *fakeTransport) sentWithOpcode(op uint16) []sentPacket {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentPacket
	for _, p := range t.sent {
		if got, err := ClassifyPacket(p.b); err == nil && got == op {
			out = append(out, p)
		}
	}
	return out
}

// fixedInterfaces is an InterfaceSource with a static inventory.
type fixedInterfaces []LocalInterface

func (f fixedInterfaces) Interfaces() ([]LocalInterface, error) { return f, nil }

func testInterface() LocalInterface {
	return LocalInterface{
		IP:        net.IPv4(10, 0, 0, 5).To4(),
		Mac:       net.HardwareAddr{0x02, 0x00, 0x00, 0xaa, 0xbb, 0xcc},
		Netmask:   net.CIDRMask(24, 32),
		Broadcast: net.IPv4(10, 0, 0, 255).To4(),
	}
}

// newTestEngine builds an engine over a fake transport and a fixed single
// interface, marked bound without running the timers.
func newTestEngine(t *testing.T) (*Engine, *fakeTransport) {
	t.Helper()

	log, err := logger.NewLogger("error")
	require.NoError(t, err)

	tr := &fakeTransport{}
	e, err := NewEngine(log, Config{
		Interfaces: fixedInterfaces{testInterface()},
		Transport:  tr,
		Name:       "test-node",
		LongName:   "test-node long",
	})
	require.NoError(t, err)

	tr.OnReceive(e.dispatch.OnDatagram)
	e.isBound = true
	return e, tr
}
