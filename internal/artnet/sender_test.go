package artnet

import (
	"errors"
	"net"
	"testing"
	"time"

	"dmxnet/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, e *Engine) *Sender {
	t.Helper()
	s, err := e.NewSender(SenderOptions{
		Net:         0,
		Subnet:      1,
		Universe:    2,
		Destination: "10.0.0.200",
		Refresh:     time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestSenderTransmitsOnSet(t *testing.T) {
	e, tr := newTestEngine(t)
	s := newTestSender(t, e)

	require.NoError(t, s.SetChannel(0, 255))
	require.NoError(t, s.SetChannel(511, 128))

	sent := tr.sentWithOpcode(OpDmx)
	require.Len(t, sent, 2)

	p, err := DecodeDmx(sent[1].b)
	require.NoError(t, err)
	assert.Equal(t, byte(255), p.Data[0])
	assert.Equal(t, byte(128), p.Data[511])
	assert.Equal(t, s.addr.LowByte(), p.SubUni)
	assert.Len(t, p.Data, 512)
}

func TestSenderSequenceWrapsThroughZero(t *testing.T) {
	e, tr := newTestEngine(t)
	s := newTestSender(t, e)

	s.mu.Lock()
	s.seq = 254
	s.mu.Unlock()

	s.Transmit()
	s.Transmit()
	s.Transmit()

	sent := tr.sentWithOpcode(OpDmx)
	require.Len(t, sent, 3)
	assert.Equal(t, byte(255), sent[0].b[12])
	assert.Equal(t, byte(0), sent[1].b[12], "the counter passes straight through zero")
	assert.Equal(t, byte(1), sent[2].b[12])
}

func TestSenderChannelValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	s := newTestSender(t, e)

	assert.True(t, errors.Is(s.SetChannel(-1, 0), ErrInvalidChannel))
	assert.True(t, errors.Is(s.SetChannel(512, 0), ErrInvalidChannel))
	assert.True(t, errors.Is(s.SetChannel(0, 256), ErrInvalidValue))
	assert.True(t, errors.Is(s.PrepChannel(0, -1), ErrInvalidValue))
	assert.True(t, errors.Is(s.FillChannels(10, 5, 0), ErrInvalidChannel))
	assert.True(t, errors.Is(s.FillChannels(0, 5, 300), ErrInvalidValue))
}

func TestSenderPrepDoesNotTransmit(t *testing.T) {
	e, tr := newTestEngine(t)
	s := newTestSender(t, e)

	require.NoError(t, s.PrepChannel(3, 10))
	require.NoError(t, s.PrepChannel(4, 20))
	assert.Empty(t, tr.sentWithOpcode(OpDmx))

	s.Transmit()
	sent := tr.sentWithOpcode(OpDmx)
	require.Len(t, sent, 1)
	p, _ := DecodeDmx(sent[0].b)
	assert.Equal(t, byte(10), p.Data[3])
	assert.Equal(t, byte(20), p.Data[4])
}

func TestSenderFillAndBlackout(t *testing.T) {
	e, tr := newTestEngine(t)
	s := newTestSender(t, e)

	require.NoError(t, s.FillChannels(100, 103, 200))
	p, _ := DecodeDmx(tr.sentWithOpcode(OpDmx)[0].b)
	assert.Equal(t, byte(200), p.Data[100])
	assert.Equal(t, byte(200), p.Data[103])
	assert.Equal(t, byte(0), p.Data[104])

	s.Blackout()
	sent := tr.sentWithOpcode(OpDmx)
	p, _ = DecodeDmx(sent[len(sent)-1].b)
	for i, v := range p.Data {
		require.Equal(t, byte(0), v, "channel %d", i)
	}
}

func TestSenderStopIsFinal(t *testing.T) {
	e, tr := newTestEngine(t)
	s, err := e.NewSender(SenderOptions{Destination: "10.0.0.200", Refresh: time.Hour})
	require.NoError(t, err)

	s.Stop()
	assert.Empty(t, e.registry.Senders(), "stop removes the sender from the registry")

	s.Transmit()
	assert.Empty(t, tr.sentWithOpcode(OpDmx), "no transmission after Stop returns")

	s.Stop() // idempotent
}

func TestSenderRefreshRetransmits(t *testing.T) {
	e, tr := newTestEngine(t)
	s, err := e.NewSender(SenderOptions{Destination: "10.0.0.200", Refresh: 10 * time.Millisecond})
	require.NoError(t, err)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(tr.sentWithOpcode(OpDmx)) >= 2
	}, time.Second, 5*time.Millisecond, "the refresh timer keeps the universe alive")
}

// blockingTransport holds every Send inside the transport until released,
// to expose transmissions that are in flight while Stop runs.
type blockingTransport struct {
	fakeTransport
	entered chan struct{}
	release chan struct{}
}

func (t *blockingTransport) Send(b []byte, ip net.IP, port int) error {
	t.entered <- struct{}{}
	<-t.release
	return t.fakeTransport.Send(b, ip, port)
}

func TestSenderStopWaitsForInFlightTransmit(t *testing.T) {
	log, err := logger.NewLogger("error")
	require.NoError(t, err)

	tr := &blockingTransport{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, err := NewEngine(log, Config{
		Interfaces: fixedInterfaces{testInterface()},
		Transport:  tr,
		Name:       "node",
	})
	require.NoError(t, err)
	e.isBound = true

	s, err := e.NewSender(SenderOptions{Destination: "10.0.0.200", Refresh: time.Hour})
	require.NoError(t, err)

	go s.Transmit()
	<-tr.entered // the transmit is past the stopped check, held in the transport

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a transmission was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(tr.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the transmission completed")
	}

	require.Len(t, tr.sentWithOpcode(OpDmx), 1)
	s.Transmit()
	assert.Len(t, tr.sentWithOpcode(OpDmx), 1, "no transmission after Stop returned")
}

func TestSenderNoMatchingInterfaceStillCreated(t *testing.T) {
	e, _ := newTestEngine(t)

	s, err := e.NewSender(SenderOptions{Destination: "192.168.77.1", Refresh: time.Hour})
	require.NoError(t, err, "an unreachable destination is a warning, not an error")
	defer s.Stop()

	assert.Empty(t, s.ifaces)
	assert.Len(t, e.registry.Senders(), 1)
}
