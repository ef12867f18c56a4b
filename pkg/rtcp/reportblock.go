package rtcp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

const reportBlockSize = 24

// ReportBlock is the fixed 24-byte report block of RFC 3550 §6.4.1.
// CumulativeLost is a signed 24-bit field, clamped to [-2^23, 2^23-1]
// when packed (spec.md §4.5).
type ReportBlock struct {
	SourceSSRC       uint32
	FractionLost     uint8
	CumulativeLost   int32
	ExtendedHighest  uint32 // cycles<<16 | highest 16-bit sequence number
	Jitter           uint32
	LastSR           uint32
	DelaySinceLastSR uint32
}

// Pack writes the 24-byte wire form into buf, which must be at least
// reportBlockSize bytes.
func (b ReportBlock) Pack(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], b.SourceSSRC)

	cumulative := b.CumulativeLost
	const maxSigned24 = 1<<23 - 1
	const minSigned24 = -(1 << 23)
	if cumulative > maxSigned24 {
		cumulative = maxSigned24
	} else if cumulative < minSigned24 {
		cumulative = minSigned24
	}
	buf[4] = b.FractionLost
	u := uint32(cumulative) & 0x00FFFFFF
	buf[5] = byte(u >> 16)
	buf[6] = byte(u >> 8)
	buf[7] = byte(u)

	binary.BigEndian.PutUint32(buf[8:12], b.ExtendedHighest)
	binary.BigEndian.PutUint32(buf[12:16], b.Jitter)
	binary.BigEndian.PutUint32(buf[16:20], b.LastSR)
	binary.BigEndian.PutUint32(buf[20:24], b.DelaySinceLastSR)
}

// ParseReportBlock decodes a 24-byte report block.
func ParseReportBlock(buf []byte) (ReportBlock, error) {
	if len(buf) < reportBlockSize {
		return ReportBlock{}, &wrtcerr.InvalidRTCP{Reason: "truncated report block"}
	}
	b := ReportBlock{
		SourceSSRC:       binary.BigEndian.Uint32(buf[0:4]),
		FractionLost:     buf[4],
		ExtendedHighest:  binary.BigEndian.Uint32(buf[8:12]),
		Jitter:           binary.BigEndian.Uint32(buf[12:16]),
		LastSR:           binary.BigEndian.Uint32(buf[16:20]),
		DelaySinceLastSR: binary.BigEndian.Uint32(buf[20:24]),
	}
	raw := uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	if raw&0x00800000 != 0 {
		raw |= 0xFF000000 // sign-extend the 24-bit field
	}
	b.CumulativeLost = int32(raw)
	return b, nil
}
