package artnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// Art-Net wire constants.
const (
	// Port is the standard Art-Net UDP port. Poll replies always target it,
	// independent of the configured listen port.
	Port = 6454

	// ProtocolVersion is the minimum Art-Net protocol revision we speak.
	ProtocolVersion = 14

	OpPoll      uint16 = 0x2000
	OpPollReply uint16 = 0x2100
	OpDmx       uint16 = 0x5000

	headerSize       = 10  // identifier + opcode
	dmxHeaderSize    = 18  // full ArtDmx header before channel data
	pollSize         = 14  // ArtPoll: header + version + talk-to-me + priority
	pollReplyMinSize = 208 // fixed fields through bind IP
	pollReplySize    = 239 // encoded size including trailing filler
)

// Codes advertised in our own poll replies.
const (
	oemCode  uint16 = 0x2908
	estaCode uint16 = 0x0000
)

// artNetID is the 8-byte packet identifier "Art-Net" plus a null.
var artNetID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// ClassifyPacket validates the shared header and returns the opcode. The
// returned error always wraps ErrMalformedPacket; callers drop such
// datagrams silently (logged, never propagated).
func ClassifyPacket(b []byte) (uint16, error) {
	if len(b) < headerSize {
		return 0, fmt.Errorf("%w: %d bytes is below the header size", ErrMalformedPacket, len(b))
	}
	if !bytes.Equal(b[:8], artNetID) {
		return 0, fmt.Errorf("%w: bad identifier %q", ErrMalformedPacket, b[:8])
	}
	op := binary.LittleEndian.Uint16(b[8:10])
	if op == 0 {
		return 0, fmt.Errorf("%w: zero opcode", ErrMalformedPacket)
	}
	return op, nil
}

func putHeader(b []byte, op uint16) {
	copy(b[0:8], artNetID)
	binary.LittleEndian.PutUint16(b[8:10], op)
}

// DmxPacket is a decoded ArtDmx datagram.
type DmxPacket struct {
	Sequence uint8
	Physical uint8
	SubUni   uint8 // (subnet<<4)|universe, the address low byte
	Net      uint8
	Data     []byte // 1..512 channel values
}

// EncodeDmx builds an ArtDmx datagram for the given address and channel data.
// data is clamped to 512 bytes; the physical port is always reported as 0.
func EncodeDmx(addr Address, sequence uint8, data []byte) []byte {
	if len(data) > 512 {
		data = data[:512]
	}
	b := make([]byte, dmxHeaderSize+len(data))
	putHeader(b, OpDmx)
	binary.BigEndian.PutUint16(b[10:12], ProtocolVersion)
	b[12] = sequence
	b[13] = 0 // physical port
	b[14] = addr.LowByte()
	b[15] = addr.Net
	binary.BigEndian.PutUint16(b[16:18], uint16(len(data)))
	copy(b[dmxHeaderSize:], data)
	return b
}

// DecodeDmx parses an ArtDmx datagram. The channel payload is whatever
// follows the 18-byte header, regardless of the declared length field.
func DecodeDmx(b []byte) (*DmxPacket, error) {
	if len(b) < dmxHeaderSize {
		return nil, fmt.Errorf("%w: ArtDmx of %d bytes", ErrMalformedPacket, len(b))
	}
	data := make([]byte, len(b)-dmxHeaderSize)
	copy(data, b[dmxHeaderSize:])
	return &DmxPacket{
		Sequence: b[12],
		Physical: b[13],
		SubUni:   b[14],
		Net:      b[15],
		Data:     data,
	}, nil
}

// PollPacket is a decoded ArtPoll datagram.
type PollPacket struct {
	DiagUnicast bool // TalkToMe bit 3: send diagnostics as unicast
	DiagEnable  bool // TalkToMe bit 2: send diagnostics messages
	Unilateral  bool // TalkToMe bit 1: reply on change without a poll
	Priority    uint8
}

// EncodePoll builds an ArtPoll datagram.
func EncodePoll(p *PollPacket) []byte {
	b := make([]byte, pollSize)
	putHeader(b, OpPoll)
	binary.BigEndian.PutUint16(b[10:12], ProtocolVersion)
	var ttm uint8
	if p.DiagUnicast {
		ttm |= 1 << 3
	}
	if p.DiagEnable {
		ttm |= 1 << 2
	}
	if p.Unilateral {
		ttm |= 1 << 1
	}
	b[12] = ttm
	b[13] = p.Priority
	return b
}

// DecodePoll parses an ArtPoll datagram. Polls advertising a protocol
// revision below 14 are rejected.
func DecodePoll(b []byte) (*PollPacket, error) {
	if len(b) < pollSize {
		return nil, fmt.Errorf("%w: ArtPoll of %d bytes", ErrMalformedPacket, len(b))
	}
	if v := binary.BigEndian.Uint16(b[10:12]); v < ProtocolVersion {
		return nil, fmt.Errorf("%w: ArtPoll protocol version %d", ErrMalformedPacket, v)
	}
	ttm := b[12]
	return &PollPacket{
		DiagUnicast: ttm&(1<<3) != 0,
		DiagEnable:  ttm&(1<<2) != 0,
		Unilateral:  ttm&(1<<1) != 0,
		Priority:    b[13],
	}, nil
}

// PollReplyPacket is a decoded ArtPollReply datagram. One packet describes
// at most four ports; nodes with more chain packets via BindIndex.
type PollReplyPacket struct {
	IP         net.IP
	Port       uint16
	NetSwitch  uint8
	SubSwitch  uint8
	Oem        uint16
	Esta       uint16
	ShortName  string
	LongName   string
	NodeReport string
	NumPorts   uint16
	PortTypes  [4]uint8 // bit 7 input capable, bit 6 output capable
	GoodInput  [4]uint8
	GoodOutput [4]uint8
	SwIn       [4]uint8 // universe nibble per input port
	SwOut      [4]uint8 // universe nibble per output port
	Mac        net.HardwareAddr
	BindIP     net.IP
	BindIndex  uint8
}

// Port type and good-flag bits used when assembling replies.
const (
	PortTypeInput  uint8 = 1 << 7
	PortTypeOutput uint8 = 1 << 6
	GoodFlagActive uint8 = 1 << 7
)

// copyName writes s into dst null-padded, keeping at most max significant
// characters so the field always ends with at least one null.
func copyName(dst []byte, s string, max int) {
	if len(s) > max {
		s = s[:max]
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// cstring reads a null-terminated string out of a fixed-size field.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// EncodePollReply builds an ArtPollReply datagram with the standard fixed
// layout. Spare and filler regions are zero.
func EncodePollReply(p *PollReplyPacket) []byte {
	b := make([]byte, pollReplySize)
	putHeader(b, OpPollReply)
	copy(b[10:14], p.IP.To4())
	port := p.Port
	if port == 0 {
		port = Port
	}
	binary.LittleEndian.PutUint16(b[14:16], port)
	// b[16:18] firmware version, unused
	b[18] = p.NetSwitch
	b[19] = p.SubSwitch
	binary.BigEndian.PutUint16(b[20:22], p.Oem)
	// b[22] UBEA version, b[23] status1
	// ESTA manufacturer code goes out byte-swapped.
	binary.LittleEndian.PutUint16(b[24:26], p.Esta)
	copyName(b[26:44], p.ShortName, 16)
	copyName(b[44:108], p.LongName, 63)
	copyName(b[108:172], p.NodeReport, 63)
	binary.BigEndian.PutUint16(b[172:174], p.NumPorts)
	copy(b[174:178], p.PortTypes[:])
	copy(b[178:182], p.GoodInput[:])
	copy(b[182:186], p.GoodOutput[:])
	copy(b[186:190], p.SwIn[:])
	copy(b[190:194], p.SwOut[:])
	// b[194:200] video/macro/remote switches and spare, b[200] style
	copy(b[201:207], p.Mac)
	if p.BindIP != nil {
		copy(b[207:211], p.BindIP.To4())
	} else {
		copy(b[207:211], p.IP.To4())
	}
	b[211] = p.BindIndex
	return b
}

// DecodePollReply parses an ArtPollReply datagram. Anything shorter than the
// fixed fields through the bind IP is rejected; replies truncated before the
// bind index are accepted with BindIndex 0. Spare regions are ignored.
func DecodePollReply(b []byte) (*PollReplyPacket, error) {
	if len(b) < pollReplyMinSize {
		return nil, fmt.Errorf("%w: ArtPollReply of %d bytes", ErrMalformedPacket, len(b))
	}
	p := &PollReplyPacket{
		IP:         net.IPv4(b[10], b[11], b[12], b[13]),
		Port:       binary.LittleEndian.Uint16(b[14:16]),
		NetSwitch:  b[18],
		SubSwitch:  b[19],
		Oem:        binary.BigEndian.Uint16(b[20:22]),
		Esta:       binary.LittleEndian.Uint16(b[24:26]),
		ShortName:  cstring(b[26:44]),
		LongName:   cstring(b[44:108]),
		NodeReport: cstring(b[108:172]),
		NumPorts:   binary.BigEndian.Uint16(b[172:174]),
		Mac:        append(net.HardwareAddr(nil), b[201:207]...),
	}
	copy(p.PortTypes[:], b[174:178])
	copy(p.GoodInput[:], b[178:182])
	copy(p.GoodOutput[:], b[182:186])
	copy(p.SwIn[:], b[186:190])
	copy(p.SwOut[:], b[190:194])
	if len(b) >= 211 {
		p.BindIP = net.IPv4(b[207], b[208], b[209], b[210])
	} else {
		p.BindIP = p.IP
	}
	if len(b) >= 212 {
		p.BindIndex = b[211]
	}
	return p, nil
}
