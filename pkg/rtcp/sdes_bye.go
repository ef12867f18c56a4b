package rtcp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// SourceDescription is RTCP SDES, PT=202. Only the CNAME item is
// implemented, per spec.md §4.5 ("SDES (CNAME)").
type SourceDescription struct {
	Chunks []SDESChunk
}

// SDESChunk is one CNAME chunk: an SSRC and its canonical name.
type SDESChunk struct {
	SSRC  uint32
	CNAME string
}

func (p *SourceDescription) PacketType() uint8 { return PTSDES }

func (p *SourceDescription) MarshalSize() int {
	size := 4
	for _, c := range p.Chunks {
		size += 4 + 2 + len(c.CNAME) + 1 // ssrc + type/len + text + null terminator
		size = padChunk(size)
	}
	return size
}

func padChunk(size int) int {
	if rem := size % 4; rem != 0 {
		return size + (4 - rem)
	}
	return size
}

func (p *SourceDescription) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	packHeader(buf, uint8(len(p.Chunks)), PTSDES, len(buf)-4)
	off := 4
	for _, c := range p.Chunks {
		start := off
		binary.BigEndian.PutUint32(buf[off:off+4], c.SSRC)
		off += 4
		buf[off] = sdesCNAME
		buf[off+1] = byte(len(c.CNAME))
		off += 2
		copy(buf[off:], c.CNAME)
		off += len(c.CNAME)
		buf[off] = 0 // END item
		off++
		off = start + padChunk(off-start)
	}
	return buf, nil
}

func parseSourceDescription(h header, body []byte) (*SourceDescription, error) {
	p := &SourceDescription{}
	off := 0
	for i := uint8(0); i < h.Count; i++ {
		if off+4 > len(body) {
			return nil, &wrtcerr.InvalidRTCP{Reason: "sdes chunk missing ssrc"}
		}
		chunkStart := off
		ssrc := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		var cname string
		for off < len(body) {
			itemType := body[off]
			if itemType == 0 {
				off++
				break
			}
			if off+2 > len(body) {
				return nil, &wrtcerr.InvalidRTCP{Reason: "truncated sdes item"}
			}
			itemLen := int(body[off+1])
			off += 2
			if off+itemLen > len(body) {
				return nil, &wrtcerr.InvalidRTCP{Reason: "sdes item text exceeds chunk"}
			}
			if itemType == sdesCNAME {
				cname = string(body[off : off+itemLen])
			}
			off += itemLen
		}
		off = chunkStart + padChunk(off-chunkStart)
		p.Chunks = append(p.Chunks, SDESChunk{SSRC: ssrc, CNAME: cname})
	}
	return p, nil
}

// Bye is RTCP BYE, PT=203.
type Bye struct {
	SSRCs  []uint32
	Reason string
}

func (p *Bye) PacketType() uint8 { return PTBye }

func (p *Bye) MarshalSize() int {
	size := 4 + 4*len(p.SSRCs)
	if p.Reason != "" {
		size += 1 + len(p.Reason)
	}
	return padChunk(size)
}

func (p *Bye) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	packHeader(buf, uint8(len(p.SSRCs)), PTBye, len(buf)-4)
	off := 4
	for _, s := range p.SSRCs {
		binary.BigEndian.PutUint32(buf[off:off+4], s)
		off += 4
	}
	if p.Reason != "" {
		buf[off] = byte(len(p.Reason))
		off++
		copy(buf[off:], p.Reason)
	}
	return buf, nil
}

func parseBye(h header, body []byte) (*Bye, error) {
	p := &Bye{}
	off := 0
	for i := uint8(0); i < h.Count; i++ {
		if off+4 > len(body) {
			return nil, &wrtcerr.InvalidRTCP{Reason: "bye missing a declared ssrc"}
		}
		p.SSRCs = append(p.SSRCs, binary.BigEndian.Uint32(body[off:off+4]))
		off += 4
	}
	if off < len(body) {
		reasonLen := int(body[off])
		off++
		if off+reasonLen <= len(body) {
			p.Reason = string(body[off : off+reasonLen])
		}
	}
	return p, nil
}
