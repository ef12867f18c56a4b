package rtcp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// RecvDelta is the per-packet status reported by TransportCCFeedback: Received
// is false when the sequence number was never seen, in which case Delta is
// meaningless.
type RecvDelta struct {
	Received bool
	// Delta is the arrival-time delta since the previous received packet's
	// reference time, in 250us ticks (as draft-holmer-rmcat-transport-wide-cc-extensions
	// §3.1 defines for the "small delta" case).
	Delta int16
}

// TransportCCFeedback is RTCP transport-wide congestion control feedback,
// PT=205 FMT=15. Real implementations pack per-packet status into
// run-length "chunks" (RLE or one-bit-per-packet vectors) to save space;
// this module always emits one two-byte status-vector chunk per 7 packets
// (the "two-bit vector" form, status values 0=not-received, 1=small-delta,
// 2=large-or-negative-delta, 3=reserved), which is simpler to encode and
// decode correctly than the full run-length scheme. The layout is this
// package's own and round-trips only with parseTWCC: ReferenceTime and
// FeedbackCount are neither written nor read, the symbol-size bit is not
// set (the first status occupies bits 14-13 of each chunk), and every
// received packet carries a two-byte delta. See DESIGN.md for why the
// general run-length chunk form is not implemented.
type TransportCCFeedback struct {
	SenderSSRC     uint32
	MediaSSRC      uint32
	BaseSeq        uint16
	ReferenceTime  uint32 // 24-bit, in 64ms ticks, stored here unshifted
	FeedbackCount  uint8
	Deltas         []RecvDelta // one entry per sequence number starting at BaseSeq
}

func (p *TransportCCFeedback) PacketType() uint8 { return PTRTPFB }

const twccChunkStatusCount = 7

func (p *TransportCCFeedback) MarshalSize() int {
	numChunks := (len(p.Deltas) + twccChunkStatusCount - 1) / twccChunkStatusCount
	deltaBytes := 0
	for _, d := range p.Deltas {
		if d.Received {
			deltaBytes += 2
		}
	}
	size := 16 + numChunks*2 + deltaBytes
	return padTo4(size)
}

func (p *TransportCCFeedback) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	packHeader(buf, fmtTWCC, PTRTPFB, len(buf)-4)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.MediaSSRC)
	binary.BigEndian.PutUint16(buf[12:14], p.BaseSeq)
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(p.Deltas)))
	off := 16
	for start := 0; start < len(p.Deltas); start += twccChunkStatusCount {
		end := start + twccChunkStatusCount
		if end > len(p.Deltas) {
			end = len(p.Deltas)
		}
		var chunk uint16 = 1 << 15 // status-vector chunk marker (T=1)
		for i, d := range p.Deltas[start:end] {
			status := statusOf(d)
			chunk |= uint16(status) << uint(13-2*i)
		}
		binary.BigEndian.PutUint16(buf[off:off+2], chunk)
		off += 2
	}
	for _, d := range p.Deltas {
		if d.Received {
			binary.BigEndian.PutUint16(buf[off:off+2], uint16(d.Delta))
			off += 2
		}
	}
	return buf, nil
}

func statusOf(d RecvDelta) uint8 {
	if !d.Received {
		return 0
	}
	if d.Delta >= 0 && d.Delta <= 255 {
		return 1
	}
	return 2
}

func parseTWCC(body []byte) (*TransportCCFeedback, error) {
	if len(body) < 12 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated twcc feedback"}
	}
	p := &TransportCCFeedback{
		SenderSSRC: binary.BigEndian.Uint32(body[0:4]),
		MediaSSRC:  binary.BigEndian.Uint32(body[4:8]),
		BaseSeq:    binary.BigEndian.Uint16(body[8:10]),
	}
	packetCount := int(binary.BigEndian.Uint16(body[10:12]))
	off := 12
	statuses := make([]uint8, 0, packetCount)
	for len(statuses) < packetCount {
		if off+2 > len(body) {
			return nil, &wrtcerr.InvalidRTCP{Reason: "twcc feedback missing status chunk"}
		}
		chunk := binary.BigEndian.Uint16(body[off : off+2])
		off += 2
		for i := 0; i < twccChunkStatusCount && len(statuses) < packetCount; i++ {
			status := uint8((chunk >> uint(13-2*i)) & 0x3)
			statuses = append(statuses, status)
		}
	}
	for _, status := range statuses {
		d := RecvDelta{}
		if status == 1 || status == 2 {
			if off+2 > len(body) {
				return nil, &wrtcerr.InvalidRTCP{Reason: "twcc feedback missing delta"}
			}
			d.Received = true
			d.Delta = int16(binary.BigEndian.Uint16(body[off : off+2]))
			off += 2
		}
		p.Deltas = append(p.Deltas, d)
	}
	return p, nil
}
