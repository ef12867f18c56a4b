// Package h264 implements the H.264 RTP packetizer and depacketizer from
// spec.md §4.3. NON_INTERLEAVED mode (STAP-A + FU-A) is mandatory; SINGLE_NAL
// is supported as the degenerate case of a NALU that fits in one packet.
// Grounded on the teacher's pkg/rtp/h264.go FU-A/STAP-A state machine,
// adapted to this module's own pkg/rtp.Packet instead of pion/rtp.Packet.
package h264

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

const (
	naluTypeMask = 0x1F

	naluTypeSPS   = 7
	naluTypePPS   = 8
	naluTypeSTAPA = 24
	naluTypeFUA   = 28

	fuaHeaderSize   = 2
	stapaHeaderSize = 1
	lengthFieldSize = 2
)

// PayloadSizeLimits bounds how large a packetized payload may be, allowing
// the caller to reserve room for SRTP/transport overhead on the first,
// last, or only packet of an access unit (spec.md §4.3).
type PayloadSizeLimits struct {
	Max             int
	FirstReduction  int
	LastReduction   int
	SingleReduction int
}

// Packetizer splits an H.264 access unit (a sequence of Annex-B NAL units)
// into RTP payloads: each NALU that fits is sent as its own single-NAL
// payload and larger ones are fragmented with FU-A. Small NALUs are not
// aggregated into STAP-A packets.
type Packetizer struct {
	Limits PayloadSizeLimits
}

// NewPacketizer returns a Packetizer with the given size limits.
func NewPacketizer(limits PayloadSizeLimits) *Packetizer {
	return &Packetizer{Limits: limits}
}

// Packetize splits nalus (each already stripped of Annex-B start codes)
// into one or more RTP payloads. The caller is responsible for assigning
// sequence numbers and timestamps; Packetize returns raw payload bytes and
// sets marker=true on the last returned payload's slot only implicitly —
// callers set Packet.Marker on the final entry themselves.
func (p *Packetizer) Packetize(nalus [][]byte) ([][]byte, error) {
	var out [][]byte
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		max := p.Limits.Max
		if max <= 0 {
			return nil, &wrtcerr.BadMediaConfiguration{Reason: "packetizer PayloadSizeLimits.Max must be positive"}
		}
		if len(nalu) <= max-p.Limits.SingleReduction {
			out = append(out, nalu)
			continue
		}
		fragments, err := fragmentFUA(nalu, max-p.Limits.FirstReduction, max-p.Limits.LastReduction, max)
		if err != nil {
			return nil, err
		}
		out = append(out, fragments...)
	}
	return out, nil
}

// SplitAboutEqually divides size bytes into ceil((size+overhead)/max)
// pieces of roughly equal length, per spec.md §4.3.
func SplitAboutEqually(size, overhead, max int) []int {
	if max <= 0 {
		return nil
	}
	n := (size + overhead + max - 1) / max
	if n < 1 {
		n = 1
	}
	base := size / n
	remainder := size % n
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = base
		if i < remainder {
			sizes[i]++
		}
	}
	return sizes
}

func fragmentFUA(nalu []byte, firstMax, lastMax, max int) ([][]byte, error) {
	header := nalu[0]
	naluType := header & naluTypeMask
	payload := nalu[1:]

	sizes := SplitAboutEqually(len(payload), 0, min(firstMax, lastMax)-fuaHeaderSize)
	if len(sizes) == 0 {
		return nil, &wrtcerr.BadMediaConfiguration{Reason: "nalu payload empty after stripping header"}
	}

	var out [][]byte
	offset := 0
	for i, sz := range sizes {
		start := i == 0
		end := i == len(sizes)-1
		fuIndicator := (header & 0xE0) | naluTypeFUA
		fuHeader := naluType
		if start {
			fuHeader |= 0x80
		}
		if end {
			fuHeader |= 0x40
		}
		frag := make([]byte, 0, fuaHeaderSize+sz)
		frag = append(frag, fuIndicator, fuHeader)
		frag = append(frag, payload[offset:offset+sz]...)
		out = append(out, frag)
		offset += sz
	}
	return out, nil
}

// Depacketizer reassembles FU-A fragments and unpacks STAP-A aggregates
// into complete NAL units, tracking the most recent SPS/PPS for keyframe
// prefixing.
type Depacketizer struct {
	fragment   []byte
	fragType   uint8
	fragActive bool
	lastSeq    uint16
	sps        []byte
	pps        []byte

	// OnAccessUnit is called once per complete access unit: nalus is the
	// ordered list of NAL units (Annex-B-free, each with its 1-byte
	// header intact), keyframe reports whether it contained an IDR.
	OnAccessUnit func(nalus [][]byte, keyframe bool)
}

// NewDepacketizer returns an empty Depacketizer.
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{}
}

// Push feeds one RTP packet's payload into the reassembler, in sequence-
// number order. marker indicates the packet closed an access unit.
func (d *Depacketizer) Push(pkt *rtp.Packet) error {
	if len(pkt.Payload) == 0 {
		return nil
	}
	naluType := pkt.Payload[0] & naluTypeMask
	switch naluType {
	case naluTypeFUA:
		return d.pushFUA(pkt)
	case naluTypeSTAPA:
		return d.pushSTAPA(pkt)
	default:
		return d.pushSingle(pkt)
	}
}

func (d *Depacketizer) pushFUA(pkt *rtp.Packet) error {
	if len(pkt.Payload) < fuaHeaderSize {
		return &wrtcerr.InvalidRTP{Reason: "FU-A packet shorter than the fragmentation header"}
	}
	fuIndicator := pkt.Payload[0]
	fuHeader := pkt.Payload[1]
	frag := pkt.Payload[fuaHeaderSize:]

	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & naluTypeMask

	if start {
		d.fragment = d.fragment[:0]
		d.fragment = append(d.fragment, (fuIndicator&0xE0)|naluType)
		d.fragType = naluType
		d.fragActive = true
	} else {
		if !d.fragActive || pkt.SequenceNumber != d.lastSeq+1 {
			d.fragActive = false
			return &wrtcerr.InvalidRTP{Reason: "FU-A continuation without a matching start fragment"}
		}
		if naluType != d.fragType {
			d.fragActive = false
			return &wrtcerr.InvalidRTP{Reason: "FU-A continuation NAL type mismatch"}
		}
	}
	d.fragment = append(d.fragment, frag...)
	d.lastSeq = pkt.SequenceNumber

	if end {
		if !d.fragActive {
			return &wrtcerr.InvalidRTP{Reason: "FU-A end fragment without an active start"}
		}
		d.fragActive = false
		return d.emit([][]byte{d.fragment}, pkt.Marker)
	}
	return nil
}

func (d *Depacketizer) pushSTAPA(pkt *rtp.Packet) error {
	payload := pkt.Payload[stapaHeaderSize:]
	var nalus [][]byte
	for len(payload) > lengthFieldSize {
		size := binary.BigEndian.Uint16(payload[:lengthFieldSize])
		payload = payload[lengthFieldSize:]
		if int(size) > len(payload) {
			return &wrtcerr.InvalidRTP{Reason: "STAP-A NALU size exceeds remaining payload"}
		}
		nalu := payload[:size]
		payload = payload[size:]
		nalus = append(nalus, append([]byte(nil), nalu...))
	}
	d.lastSeq = pkt.SequenceNumber
	return d.emit(nalus, pkt.Marker)
}

func (d *Depacketizer) pushSingle(pkt *rtp.Packet) error {
	d.lastSeq = pkt.SequenceNumber
	return d.emit([][]byte{append([]byte(nil), pkt.Payload...)}, pkt.Marker)
}

func (d *Depacketizer) emit(nalus [][]byte, marker bool) error {
	keyframe := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & naluTypeMask {
		case naluTypeSPS:
			d.sps = append([]byte(nil), nalu...)
		case naluTypePPS:
			d.pps = append([]byte(nil), nalu...)
		case 5: // IDR slice
			keyframe = true
		}
	}
	if !marker {
		return nil
	}
	if d.OnAccessUnit == nil {
		return nil
	}
	if keyframe && len(d.sps) > 0 && len(d.pps) > 0 {
		full := make([][]byte, 0, len(nalus)+2)
		full = append(full, d.sps, d.pps)
		full = append(full, nalus...)
		d.OnAccessUnit(full, true)
	} else {
		d.OnAccessUnit(nalus, keyframe)
	}
	return nil
}

// SPS returns the most recently observed sequence parameter set, if any.
func (d *Depacketizer) SPS() []byte { return d.sps }

// PPS returns the most recently observed picture parameter set, if any.
func (d *Depacketizer) PPS() []byte { return d.pps }
