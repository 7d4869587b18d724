package artnet

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// failingConn always errors, imitating a socket with a persistent fault.
type failingConn struct {
	mu    sync.Mutex
	reads int
}

func (c *failingConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return 0, nil, errors.New("transient failure")
}

func (c *failingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func TestReadLoopBacksOffOnPersistentError(t *testing.T) {
	tr := NewUDPTransport()
	tr.done = make(chan struct{})

	conn := &failingConn{}
	exited := make(chan struct{})
	go func() {
		tr.readLoop(conn)
		close(exited)
	}()

	time.Sleep(100 * time.Millisecond)
	close(tr.done)

	reads := conn.count()
	assert.Greater(t, reads, 0, "the loop keeps retrying")
	assert.Less(t, reads, 30, "a failing read must not busy-spin")

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("read loop did not exit after close")
	}
}
