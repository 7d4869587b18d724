package artnet

import (
	"fmt"
	"net"
	"time"

	"dmxnet/internal/logger"
)

// NodeFunc receives node-update notifications from discovery.
type NodeFunc func(n *Node)

// discovery drives periodic ArtPoll transmission, assembles grouped
// ArtPollReply packets and folds incoming replies into the registry.
// All state is guarded by the engine's mutex.
type discovery struct {
	engine *Engine
	log    logger.Logger

	// replyCounter and lastReply advance once per PollReply call, not once
	// per packet.
	replyCounter int
	lastReply    time.Time

	nodeSubs []NodeFunc
}

// replyGroup collects the local devices advertised from one interface under
// one net/subnet pair.
type replyGroup struct {
	iface  LocalInterface
	net    uint8
	subnet uint8
	ports  []replyPort
}

type replyPort struct {
	universe uint8
	output   bool // Sender ports are outputs, Receiver ports inputs
}

// Poll sends one ArtPoll to the configured poll destination. The poll is
// skipped when a reply went out within the last half poll interval: someone
// else already triggered the network's replies.
func (d *discovery) Poll(now time.Time) {
	e := d.engine
	if !e.bound() {
		return
	}

	e.mu.Lock()
	recent := !d.lastReply.IsZero() && now.Sub(d.lastReply) < e.pollInterval/2
	e.mu.Unlock()
	if recent {
		d.log.With(logger.Fields{"module": "art-net"}).
			Debug("poll skipped, network polled recently")
		return
	}

	pkt := EncodePoll(&PollPacket{})
	e.send(pkt, e.pollDest, Port)
}

// PollReply advertises every local sender and receiver. Devices are grouped
// by (interface, net, subnet); each group is chunked into packets of at most
// four ports, chained through BindIndex. Replies always target the standard
// Art-Net port.
func (d *discovery) PollReply(now time.Time) {
	e := d.engine
	if !e.bound() {
		return
	}

	e.mu.Lock()
	groups := d.buildGroups()
	counter := d.replyCounter
	d.replyCounter = (d.replyCounter + 1) % 10000
	d.lastReply = now
	e.mu.Unlock()

	report := fmt.Sprintf("#0001 [%04d] dmxnet up and running", counter)

	for _, g := range groups {
		for chunk := 0; chunk*4 < len(g.ports); chunk++ {
			ports := g.ports[chunk*4:]
			if len(ports) > 4 {
				ports = ports[:4]
			}

			p := &PollReplyPacket{
				IP:         g.iface.IP,
				Port:       Port,
				NetSwitch:  g.net,
				SubSwitch:  g.subnet,
				Oem:        oemCode,
				Esta:       estaCode,
				ShortName:  e.name,
				LongName:   e.longName,
				NodeReport: report,
				NumPorts:   uint16(len(ports)),
				Mac:        g.iface.Mac,
				BindIP:     g.iface.IP,
				BindIndex:  uint8(chunk),
			}
			for i, port := range ports {
				if port.output {
					p.PortTypes[i] = PortTypeOutput
					p.GoodOutput[i] = GoodFlagActive
					p.SwOut[i] = port.universe & 0x0f
				} else {
					p.PortTypes[i] = PortTypeInput
					p.GoodInput[i] = GoodFlagActive
					p.SwIn[i] = port.universe & 0x0f
				}
			}

			e.send(EncodePollReply(p), g.iface.Broadcast, Port)
		}
	}
}

// buildGroups walks the registry under the engine lock and buckets local
// devices by (interface, net, subnet). Senders advertise from the
// interfaces that reach their destination, receivers from the interfaces
// their source filter admits.
func (d *discovery) buildGroups() []*replyGroup {
	e := d.engine

	type key struct {
		ip     string
		net    uint8
		subnet uint8
	}
	index := map[key]*replyGroup{}
	var order []*replyGroup

	add := func(li LocalInterface, addr Address, output bool) {
		k := key{ip: li.IP.String(), net: addr.Net, subnet: addr.Subnet}
		g, ok := index[k]
		if !ok {
			g = &replyGroup{iface: li, net: addr.Net, subnet: addr.Subnet}
			index[k] = g
			order = append(order, g)
		}
		g.ports = append(g.ports, replyPort{universe: addr.Universe, output: output})
	}

	for _, s := range e.registry.senders {
		for _, li := range s.ifaces {
			add(li, s.addr, true)
		}
	}
	for _, r := range e.registry.receivers {
		for _, li := range e.ifaces {
			if r.filter.Contains(li.IP) {
				add(li, r.addr, false)
			}
		}
	}
	return order
}

// HandlePoll records the polling controller and answers with a full set of
// poll replies. An ArtPoll always elicits a reply.
func (d *discovery) HandlePoll(p *PollPacket, src net.IP, now time.Time) {
	e := d.engine

	e.mu.Lock()
	e.registry.UpsertController(&Controller{
		IP:          src,
		LastPoll:    now,
		DiagUnicast: p.DiagUnicast,
		DiagEnable:  p.DiagEnable,
		Unilateral:  p.Unilateral,
		Priority:    p.Priority,
	})
	e.mu.Unlock()

	d.PollReply(now)
}

// HandlePollReply folds a reply into the node table and notifies
// subscribers when something observable changed. Our own replies loop back
// over broadcast; they are recognized by local source IP plus our own names
// and dropped.
func (d *discovery) HandlePollReply(p *PollReplyPacket, now time.Time) {
	e := d.engine

	if d.selfOriginated(p) {
		return
	}

	e.mu.Lock()
	node, changed := e.registry.UpsertNode(p, now)
	subs := append([]NodeFunc(nil), d.nodeSubs...)
	e.mu.Unlock()

	if !changed {
		return
	}
	d.log.With(logger.Fields{"module": "art-net"}).
		Debugf("node %s (%s) updated", node.Mac, node.ShortName)
	for _, fn := range subs {
		fn(node)
	}
}

func (d *discovery) selfOriginated(p *PollReplyPacket) bool {
	if p.ShortName != d.engine.name || p.LongName != d.engine.longName {
		return false
	}
	for _, li := range d.engine.ifaces {
		if li.IP.Equal(p.IP) {
			return true
		}
	}
	return false
}

func (d *discovery) subscribe(fn NodeFunc) {
	e := d.engine
	e.mu.Lock()
	d.nodeSubs = append(d.nodeSubs, fn)
	e.mu.Unlock()
}
