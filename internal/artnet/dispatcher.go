package artnet

import (
	"net"
	"time"

	"dmxnet/internal/logger"
)

// dispatcher routes decoded inbound datagrams by opcode. Malformed packets
// are logged and dropped; they never stop the engine or reach the
// application.
type dispatcher struct {
	engine *Engine
	log    logger.Logger
}

func (d *dispatcher) OnDatagram(b []byte, src *net.UDPAddr) {
	op, err := ClassifyPacket(b)
	if err != nil {
		d.log.With(logger.Fields{"module": "art-net"}).Debugf("dropped datagram from %s: %v", src, err)
		return
	}

	now := time.Now()
	switch op {
	case OpDmx:
		pkt, err := DecodeDmx(b)
		if err != nil {
			d.log.With(logger.Fields{"module": "art-net"}).Debugf("dropped ArtDmx from %s: %v", src, err)
			return
		}
		d.dispatchDmx(pkt, src.IP)
	case OpPoll:
		pkt, err := DecodePoll(b)
		if err != nil {
			d.log.With(logger.Fields{"module": "art-net"}).Debugf("dropped ArtPoll from %s: %v", src, err)
			return
		}
		d.engine.discovery.HandlePoll(pkt, src.IP.To4(), now)
	case OpPollReply:
		pkt, err := DecodePollReply(b)
		if err != nil {
			d.log.With(logger.Fields{"module": "art-net"}).Debugf("dropped ArtPollReply from %s: %v", src, err)
			return
		}
		d.engine.discovery.HandlePollReply(pkt, now)
	default:
		d.log.With(logger.Fields{"module": "art-net"}).Debugf("unknown opcode 0x%04x from %s", op, src)
	}
}

// dispatchDmx delivers the frame to every receiver whose port address and
// source filter match. Zero matches is not an error.
func (d *dispatcher) dispatchDmx(pkt *DmxPacket, src net.IP) {
	e := d.engine
	e.mu.Lock()
	receivers := append([]*Receiver(nil), e.registry.receivers...)
	e.mu.Unlock()

	matched := 0
	for _, r := range receivers {
		if r.acceptPacket(pkt.SubUni, src) {
			r.receive(pkt.Data)
			matched++
		}
	}
	if matched == 0 {
		d.log.With(logger.Fields{"module": "art-net"}).
			Debugf("ArtDmx for %d:%d from %s matched no receiver", pkt.Net, pkt.SubUni, src)
	}
}
