package artnet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addSenders(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		s, err := e.NewSender(SenderOptions{
			Universe:    i,
			Destination: "10.0.0.200",
			Refresh:     time.Hour,
		})
		require.NoError(t, err)
		t.Cleanup(s.Stop)
	}
}

func TestPollReplyBindIndexChaining(t *testing.T) {
	e, tr := newTestEngine(t)
	addSenders(t, e, 6)

	e.discovery.PollReply(time.Now())

	replies := tr.sentWithOpcode(OpPollReply)
	require.Len(t, replies, 2, "six ports on one interface/net/subnet chunk into two packets")

	first, err := DecodePollReply(replies[0].b)
	require.NoError(t, err)
	second, err := DecodePollReply(replies[1].b)
	require.NoError(t, err)

	assert.Equal(t, uint8(0), first.BindIndex)
	assert.Equal(t, uint8(1), second.BindIndex)
	assert.Equal(t, uint16(4), first.NumPorts)
	assert.Equal(t, uint16(2), second.NumPorts)
	for i := 0; i < 4; i++ {
		assert.Equal(t, PortTypeOutput, first.PortTypes[i])
		assert.Equal(t, uint8(i), first.SwOut[i])
	}
	assert.Equal(t, uint8(4), second.SwOut[0])

	// Replies go to the interface broadcast on the standard port.
	assert.True(t, replies[0].ip.Equal(testInterface().Broadcast))
	assert.Equal(t, Port, replies[0].port)
	assert.True(t, first.IP.Equal(testInterface().IP))
	assert.Equal(t, testInterface().Mac.String(), first.Mac.String())
}

func TestPollReplyCounterAdvancesOncePerCall(t *testing.T) {
	e, _ := newTestEngine(t)
	addSenders(t, e, 6)

	now := time.Now()
	e.discovery.PollReply(now)
	assert.Equal(t, 1, e.discovery.replyCounter, "two packets, one increment")
	assert.Equal(t, now, e.discovery.lastReply)

	e.discovery.replyCounter = 9999
	e.discovery.PollReply(now)
	assert.Equal(t, 0, e.discovery.replyCounter, "counter wraps at 10000")
}

func TestPollReplyIncludesReceivers(t *testing.T) {
	e, tr := newTestEngine(t)
	_, err := e.NewReceiver(ReceiverOptions{Universe: 9})
	require.NoError(t, err)

	e.discovery.PollReply(time.Now())

	replies := tr.sentWithOpcode(OpPollReply)
	require.Len(t, replies, 1)
	p, err := DecodePollReply(replies[0].b)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), p.NumPorts)
	assert.Equal(t, PortTypeInput, p.PortTypes[0])
	assert.Equal(t, GoodFlagActive, p.GoodInput[0])
	assert.Equal(t, uint8(9), p.SwIn[0])
}

func TestPollSuppressedAfterRecentReply(t *testing.T) {
	e, tr := newTestEngine(t)
	addSenders(t, e, 1)
	now := time.Now()

	poll := &PollPacket{}
	src := net.IPv4(10, 0, 0, 9).To4()

	e.discovery.HandlePoll(poll, src, now)
	require.Len(t, tr.sentWithOpcode(OpPollReply), 1, "a poll always elicits a reply")

	// Our own periodic poll right after a reply went out: suppressed.
	e.discovery.Poll(now.Add(e.pollInterval / 4))
	assert.Empty(t, tr.sentWithOpcode(OpPoll))

	// Second foreign poll still answered.
	e.discovery.HandlePoll(poll, src, now.Add(e.pollInterval/4))
	assert.Len(t, tr.sentWithOpcode(OpPollReply), 2)

	// Past half the interval the periodic poll resumes.
	e.discovery.Poll(now.Add(e.pollInterval))
	require.Len(t, tr.sentWithOpcode(OpPoll), 1)
	assert.True(t, tr.sentWithOpcode(OpPoll)[0].ip.Equal(limitedBroadcast))
}

func TestHandlePollRecordsController(t *testing.T) {
	e, _ := newTestEngine(t)
	now := time.Now()
	src := net.IPv4(10, 0, 0, 9).To4()

	e.discovery.HandlePoll(&PollPacket{DiagEnable: true, Priority: 0x10}, src, now)

	cs := e.Controllers()
	require.Len(t, cs, 1)
	assert.True(t, cs[0].IP.Equal(src))
	assert.True(t, cs[0].Alive)
	assert.True(t, cs[0].DiagEnable)
	assert.Equal(t, uint8(0x10), cs[0].Priority)
}

func TestHandlePollReplyNotifiesOnChange(t *testing.T) {
	e, _ := newTestEngine(t)

	var updates []*Node
	e.SubscribeNodeUpdates(func(n *Node) { updates = append(updates, n) })

	now := time.Now()
	e.discovery.HandlePollReply(testReply(), now)
	require.Len(t, updates, 1)
	assert.Equal(t, "node-one", updates[0].ShortName)

	// Identical reply: no second notification.
	e.discovery.HandlePollReply(testReply(), now.Add(time.Second))
	assert.Len(t, updates, 1)
}

func TestHandlePollReplyIgnoresSelf(t *testing.T) {
	e, _ := newTestEngine(t)

	var updates int
	e.SubscribeNodeUpdates(func(*Node) { updates++ })

	self := testReply()
	self.IP = testInterface().IP
	self.ShortName = "test-node"
	self.LongName = "test-node long"
	e.discovery.HandlePollReply(self, time.Now())

	assert.Zero(t, updates)
	assert.Empty(t, e.Nodes(), "loop-back replies must not create nodes")

	// Same names from a non-local address are a real peer.
	peer := testReply()
	peer.ShortName = "test-node"
	peer.LongName = "test-node long"
	peer.IP = net.IPv4(172, 16, 0, 4).To4()
	e.discovery.HandlePollReply(peer, time.Now())
	assert.Len(t, e.Nodes(), 1)
}
