// Package rtcp is the native RTCP compound-packet model from spec.md §4.5:
// every packet type packs/parses its own fixed-format body; CompoundPacket
// assembles an ordered list of them into one or more wire buffers, flushing
// at a caller-supplied size boundary (spec.md §8 testable property 9). Like
// pkg/rtp and pkg/sdp, this is core in-scope engineering (spec.md §2), so it
// does not call github.com/pion/rtcp — see DESIGN.md's "Dropped teacher
// dependencies".
package rtcp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

const (
	PTSenderReport   = 200
	PTReceiverReport = 201
	PTSDES           = 202
	PTBye            = 203
	PTApp            = 204
	PTRTPFB          = 205
	PTPSFB           = 206
	PTXR             = 207

	fmtNACK  = 1
	fmtTMMBR = 3
	fmtTMMBN = 4
	fmtTWCC  = 15

	fmtPLI = 1
	fmtFIR = 4
	fmtAFB = 15

	sdesCNAME = 1
)

// header is the common 4-byte RTCP packet header: V(2) P(1) RC/FMT(5),
// PT(8), length in 32-bit words minus one(16).
type header struct {
	Count       uint8 // RC or FMT, 5 bits
	PacketType  uint8
	LengthWords uint16 // length field as it appears on the wire
}

func packHeader(buf []byte, count, packetType uint8, bodyLen int) {
	buf[0] = (2 << 6) | (count & 0x1F)
	buf[1] = packetType
	words := uint16((4+bodyLen)/4 - 1)
	binary.BigEndian.PutUint16(buf[2:4], words)
}

func parseHeader(buf []byte) (header, []byte, error) {
	if len(buf) < 4 {
		return header{}, nil, &wrtcerr.InvalidRTCP{Reason: "truncated rtcp header"}
	}
	version := buf[0] >> 6
	if version != 2 {
		return header{}, nil, &wrtcerr.InvalidRTCP{Reason: "unsupported rtcp version"}
	}
	h := header{
		Count:       buf[0] & 0x1F,
		PacketType:  buf[1],
		LengthWords: binary.BigEndian.Uint16(buf[2:4]),
	}
	total := 4 + int(h.LengthWords)*4
	if len(buf) < total {
		return header{}, nil, &wrtcerr.InvalidRTCP{Reason: "rtcp packet length exceeds buffer"}
	}
	return h, buf[4:total], nil
}

func padTo4(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}
