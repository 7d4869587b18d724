package artnet

import (
	"net"
	"time"
)

// Liveness windows. Controllers go stale but stay listed; nodes are removed.
const (
	controllerTimeout = 60 * time.Second
	defaultNodeWindow = 30 * time.Second
	sweepInterval     = 5 * time.Second
)

// NodePort describes one input or output port advertised by a remote node.
type NodePort struct {
	Net      uint8
	Subnet   uint8
	Universe uint8
	IP       net.IP
	Good     bool
}

// Node is a remote Art-Net device discovered via ArtPollReply, keyed by MAC
// because its IP may move under DHCP. Port numbers are global indices:
// bindIndex*4 + slot.
type Node struct {
	Mac        string
	IP         net.IP
	ShortName  string
	LongName   string
	Report     string
	LastUpdate time.Time
	InPorts    map[int]NodePort
	OutPorts   map[int]NodePort
}

// Controller is a remote Art-Net participant seen via ArtPoll, keyed by
// source IP and replaced wholesale on every new poll.
type Controller struct {
	IP          net.IP
	LastPoll    time.Time
	Alive       bool
	DiagUnicast bool
	DiagEnable  bool
	Unilateral  bool
	Priority    uint8
}

// Registry owns local senders/receivers and the remote device tables.
// Callers synchronize through the engine's mutex; the registry itself holds
// no lock.
type Registry struct {
	senders     []*Sender
	receivers   []*Receiver
	controllers map[string]*Controller
	nodes       map[string]*Node
	ifaces      []LocalInterface
	nodeWindow  time.Duration
}

func NewRegistry(ifaces []LocalInterface, nodeWindow time.Duration) *Registry {
	if nodeWindow <= 0 {
		nodeWindow = defaultNodeWindow
	}
	return &Registry{
		controllers: map[string]*Controller{},
		nodes:       map[string]*Node{},
		ifaces:      ifaces,
		nodeWindow:  nodeWindow,
	}
}

func (r *Registry) AddSender(s *Sender)     { r.senders = append(r.senders, s) }
func (r *Registry) AddReceiver(c *Receiver) { r.receivers = append(r.receivers, c) }

func (r *Registry) RemoveSender(s *Sender) {
	for i, v := range r.senders {
		if v == s {
			r.senders = append(r.senders[:i], r.senders[i+1:]...)
			return
		}
	}
}

func (r *Registry) Senders() []*Sender     { return append([]*Sender(nil), r.senders...) }
func (r *Registry) Receivers() []*Receiver { return append([]*Receiver(nil), r.receivers...) }

func (r *Registry) Controllers() []*Controller {
	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// UpsertController stores the record under its source IP, replacing any
// previous record for that IP rather than merging fields.
func (r *Registry) UpsertController(c *Controller) {
	c.Alive = true
	r.controllers[c.IP.String()] = c
}

// local reports whether ip is inside any of this host's subnets.
func (r *Registry) local(ip net.IP) bool {
	for _, li := range r.ifaces {
		if li.Contains(ip) {
			return true
		}
	}
	return false
}

// UpsertNode creates or updates the node for the reply's MAC and reports
// whether any observable field differed from before, so the caller knows
// when to emit a node-update notification. Ports advertised from outside
// every local subnet are dropped.
func (r *Registry) UpsertNode(p *PollReplyPacket, now time.Time) (*Node, bool) {
	key := p.Mac.String()
	n, ok := r.nodes[key]
	if !ok {
		n = &Node{
			Mac:      key,
			InPorts:  map[int]NodePort{},
			OutPorts: map[int]NodePort{},
		}
		r.nodes[key] = n
	}
	changed := !ok

	if !n.IP.Equal(p.IP) {
		n.IP = p.IP
		changed = true
	}
	if n.ShortName != p.ShortName {
		n.ShortName = p.ShortName
		changed = true
	}
	if n.LongName != p.LongName {
		n.LongName = p.LongName
		changed = true
	}
	if n.Report != p.NodeReport {
		n.Report = p.NodeReport
		changed = true
	}

	if r.local(p.IP) {
		ports := int(p.NumPorts)
		if ports > 4 {
			ports = 4
		}
		for slot := 0; slot < ports; slot++ {
			num := int(p.BindIndex)*4 + slot
			if p.PortTypes[slot]&PortTypeInput != 0 {
				port := NodePort{
					Net:      p.NetSwitch,
					Subnet:   p.SubSwitch,
					Universe: p.SwIn[slot] & 0x0f,
					IP:       p.IP,
					Good:     p.GoodInput[slot]&GoodFlagActive != 0,
				}
				if prev, ok := n.InPorts[num]; !ok || !samePort(prev, port) {
					n.InPorts[num] = port
					changed = true
				}
			}
			if p.PortTypes[slot]&PortTypeOutput != 0 {
				port := NodePort{
					Net:      p.NetSwitch,
					Subnet:   p.SubSwitch,
					Universe: p.SwOut[slot] & 0x0f,
					IP:       p.IP,
					Good:     p.GoodOutput[slot]&GoodFlagActive != 0,
				}
				if prev, ok := n.OutPorts[num]; !ok || !samePort(prev, port) {
					n.OutPorts[num] = port
					changed = true
				}
			}
		}
	}

	n.LastUpdate = now
	return n, changed
}

func samePort(a, b NodePort) bool {
	return a.Net == b.Net && a.Subnet == b.Subnet && a.Universe == b.Universe &&
		a.IP.Equal(b.IP) && a.Good == b.Good
}

// Sweep ages the remote tables: controllers unseen for over a minute are
// marked dead but kept, nodes past the liveness window are removed. Returns
// the MACs of removed nodes.
func (r *Registry) Sweep(now time.Time) []string {
	for _, c := range r.controllers {
		if now.Sub(c.LastPoll) > controllerTimeout {
			c.Alive = false
		}
	}
	var removed []string
	for mac, n := range r.nodes {
		if now.Sub(n.LastUpdate) >= r.nodeWindow {
			delete(r.nodes, mac)
			removed = append(removed, mac)
		}
	}
	return removed
}
