package rtcp

import "github.com/ethan/rtcpeer/pkg/wrtcerr"

// Packet is any RTCP packet type this module can pack and parse.
type Packet interface {
	PacketType() uint8
	MarshalSize() int
	Marshal() ([]byte, error)
}

func isReportHead(p Packet) bool {
	pt := p.PacketType()
	return pt == PTSenderReport || pt == PTReceiverReport
}

// CompoundPacket assembles a list of RTCP packets into one or more wire
// buffers, each no larger than MaxSize and each beginning with an SR or RR
// as RFC 3550 §6.1 requires. Packets are appended in order; when the next
// packet would overflow MaxSize, the current buffer is flushed and a new
// one started. If the packet that would start a new buffer is not itself
// an SR/RR, an empty RR head is synthesized ahead of it so every flushed
// buffer remains compound-compliant.
type CompoundPacket struct {
	MaxSize     int
	SenderSSRC  uint32
	packets     []Packet
}

// NewCompoundPacket returns an empty assembler bounded to maxSize bytes per
// flushed buffer. senderSSRC is used for the synthetic empty RR head that
// gets inserted when a flush boundary falls before a non-SR/RR packet.
func NewCompoundPacket(maxSize int, senderSSRC uint32) *CompoundPacket {
	return &CompoundPacket{MaxSize: maxSize, SenderSSRC: senderSSRC}
}

// Add appends a packet to the pending sequence.
func (c *CompoundPacket) Add(p Packet) {
	c.packets = append(c.packets, p)
}

// Flush packs the pending packets into one or more buffers, each at most
// MaxSize bytes and each starting with SR or RR, then clears the pending
// list.
func (c *CompoundPacket) Flush() ([][]byte, error) {
	var buffers [][]byte
	var current []Packet
	currentSize := 0

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		buf, err := marshalAll(current)
		if err != nil {
			return err
		}
		buffers = append(buffers, buf)
		current = nil
		currentSize = 0
		return nil
	}

	for _, p := range c.packets {
		if len(current) == 0 && !isReportHead(p) {
			head := &ReceiverReport{SenderSSRC: c.SenderSSRC}
			current = append(current, head)
			currentSize += head.MarshalSize()
		}
		size := p.MarshalSize()
		if len(current) > 0 && currentSize+size > c.MaxSize {
			if err := flush(); err != nil {
				return nil, err
			}
			if !isReportHead(p) {
				head := &ReceiverReport{SenderSSRC: c.SenderSSRC}
				current = append(current, head)
				currentSize += head.MarshalSize()
			}
		}
		current = append(current, p)
		currentSize += size
	}
	if err := flush(); err != nil {
		return nil, err
	}
	c.packets = nil
	return buffers, nil
}

func marshalAll(packets []Packet) ([]byte, error) {
	total := 0
	for _, p := range packets {
		total += p.MarshalSize()
	}
	out := make([]byte, 0, total)
	for _, p := range packets {
		b, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// ParseCompound walks buf packet-by-packet, routing each to its type's
// parser, and returns the ordered list found.
func ParseCompound(buf []byte) ([]Packet, error) {
	var out []Packet
	for len(buf) > 0 {
		h, body, err := parseHeader(buf)
		if err != nil {
			return nil, err
		}
		consumed := 4 + len(body)
		var p Packet
		switch h.PacketType {
		case PTSenderReport:
			p, err = parseSenderReport(h, body)
		case PTReceiverReport:
			p, err = parseReceiverReport(h, body)
		case PTSDES:
			p, err = parseSourceDescription(h, body)
		case PTBye:
			p, err = parseBye(h, body)
		case PTRTPFB:
			switch h.Count {
			case fmtNACK:
				p, err = parseNack(body)
			case fmtTMMBR:
				p, err = parseTMMBR(body)
			case fmtTMMBN:
				p, err = parseTMMBN(body)
			case fmtTWCC:
				p, err = parseTWCC(body)
			default:
				err = &wrtcerr.InvalidRTCP{Reason: "unknown rtpfb fmt"}
			}
		case PTPSFB:
			switch h.Count {
			case fmtPLI:
				p, err = parsePLI(body)
			case fmtFIR:
				p, err = parseFIR(body)
			case fmtAFB:
				p, err = parseREMB(body)
			default:
				err = &wrtcerr.InvalidRTCP{Reason: "unknown psfb fmt"}
			}
		case PTXR:
			p, err = parseExtendedReport(body)
		default:
			err = &wrtcerr.InvalidRTCP{Reason: "unknown rtcp packet type"}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		buf = buf[consumed:]
	}
	return out, nil
}
