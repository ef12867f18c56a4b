package fec

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

const maxGroupSize = 16 // short (16-bit) mask only, per spec.md §9's simplification note

// ulpfecHeaderSize is the fixed portion: 1 byte (E,L,P,X,CC,M,PT hi-bit is
// folded into the byte below) ... laid out per RFC 5109 §5.1 as two bytes
// of flags/PT, 2 bytes SN base, 4 bytes TS recovery, 2 bytes length
// recovery, then the 16-bit short mask.
const ulpfecHeaderSize = 10
const maskSize = 2

// Generator builds ULPFEC protection packets covering a contiguous group
// of media packets (spec.md §4.4: "FEC generator emits ULPFEC protection
// packets wrapped in RED; FEC SSRC equals media SSRC").
type Generator struct {
	FecPayloadType uint8
}

// NewGenerator returns a Generator emitting FEC packets at fecPT.
func NewGenerator(fecPayloadType uint8) *Generator {
	return &Generator{FecPayloadType: fecPayloadType}
}

// Encode produces one ULPFEC packet covering media (up to maxGroupSize
// packets, which must carry consecutive sequence numbers). The returned
// packet's SSRC equals media[0].SSRC; its payload is the RED-wrapped
// ULPFEC header+recovery block. seq/timestamp are the caller-assigned FEC
// stream's own counters.
func (g *Generator) Encode(media []*rtp.Packet, seq uint16, timestamp uint32) (*rtp.Packet, error) {
	if len(media) == 0 || len(media) > maxGroupSize {
		return nil, &wrtcerr.BadMediaConfiguration{Reason: "ULPFEC group size must be in [1,16]"}
	}
	seqBase := media[0].SequenceNumber

	maxPayloadLen := 0
	for _, m := range media {
		if len(m.Payload) > maxPayloadLen {
			maxPayloadLen = len(m.Payload)
		}
	}

	var recoveryPT uint8
	var recoveryMarker bool
	var recoveryTS uint32
	var recoveryLen uint16
	recoveryPayload := make([]byte, maxPayloadLen)
	var mask uint16

	for _, m := range media {
		offset := m.SequenceNumber - seqBase
		if offset >= maxGroupSize {
			return nil, &wrtcerr.BadMediaConfiguration{Reason: "media packet sequence number outside the FEC group window"}
		}
		mask |= 1 << (15 - offset)
		recoveryPT ^= m.PayloadType
		if m.Marker {
			recoveryMarker = !recoveryMarker
		}
		recoveryTS ^= m.Timestamp
		recoveryLen ^= uint16(len(m.Payload))
		for i, b := range m.Payload {
			recoveryPayload[i] ^= b
		}
	}

	block := make([]byte, ulpfecHeaderSize+maskSize+len(recoveryPayload))
	block[0] = recoveryPT & 0x7F // E=0 L=0 P=0 X=0 CC=0, bit 0x80 is the XOR'd marker (M)
	if recoveryMarker {
		block[0] |= 0x80
	}
	block[1] = 0
	binary.BigEndian.PutUint16(block[2:4], seqBase)
	binary.BigEndian.PutUint32(block[4:8], recoveryTS)
	binary.BigEndian.PutUint16(block[8:10], recoveryLen)
	binary.BigEndian.PutUint16(block[10:12], mask)
	copy(block[12:], recoveryPayload)

	fecPkt := rtp.NewPacket()
	fecPkt.PayloadType = g.FecPayloadType
	fecPkt.SequenceNumber = seq
	fecPkt.Timestamp = timestamp
	fecPkt.SSRC = media[0].SSRC
	fecPkt.Payload = WrapRED(g.FecPayloadType, block)
	return fecPkt, nil
}

// Receiver recovers lost media packets from a ULPFEC protection packet and
// the media packets that did arrive from the same group.
type Receiver struct {
	Received    uint64
	ReceivedFEC uint64
	Recovered   uint64
}

// NewReceiver returns an empty Receiver.
func NewReceiver() *Receiver { return &Receiver{} }

// Recover attempts to reconstruct exactly one missing media packet. present
// maps sequence number -> packet for every media packet from the group that
// did arrive; missingSeq is the sequence number believed lost. It returns
// the recovered packet, with IsRecovered set, when, and only when,
// present covers every other member of the group the FEC packet protects.
func (r *Receiver) Recover(fecPkt *rtp.Packet, mediaSSRC uint32, present map[uint16]*rtp.Packet, missingSeq uint16) (*rtp.Packet, error) {
	r.ReceivedFEC++

	_, block, err := UnwrapRED(fecPkt.Payload)
	if err != nil {
		return nil, err
	}
	if len(block) < ulpfecHeaderSize+maskSize {
		return nil, &wrtcerr.InvalidRTP{Reason: "ULPFEC block shorter than the fixed header"}
	}

	recoveryPT := block[0] & 0x7F
	recoveryMarker := block[0]&0x80 != 0
	seqBase := binary.BigEndian.Uint16(block[2:4])
	recoveryTS := binary.BigEndian.Uint32(block[4:8])
	recoveryLen := binary.BigEndian.Uint16(block[8:10])
	mask := binary.BigEndian.Uint16(block[10:12])
	recoveryPayload := append([]byte(nil), block[12:]...)

	missingOffset := missingSeq - seqBase
	if missingOffset >= maxGroupSize || mask&(1<<(15-missingOffset)) == 0 {
		return nil, &wrtcerr.StreamExhausted{Reason: "missing sequence number is not covered by this FEC packet"}
	}

	for offset := uint16(0); offset < maxGroupSize; offset++ {
		if mask&(1<<(15-offset)) == 0 {
			continue
		}
		seq := seqBase + offset
		if seq == missingSeq {
			continue
		}
		pkt, ok := present[seq]
		if !ok {
			return nil, &wrtcerr.StreamExhausted{Reason: "more than one packet missing from the FEC group"}
		}
		recoveryPT ^= pkt.PayloadType
		if pkt.Marker {
			recoveryMarker = !recoveryMarker
		}
		recoveryTS ^= pkt.Timestamp
		recoveryLen ^= uint16(len(pkt.Payload))
		for i, b := range pkt.Payload {
			if i < len(recoveryPayload) {
				recoveryPayload[i] ^= b
			}
		}
	}

	recovered := rtp.NewPacket()
	recovered.PayloadType = recoveryPT
	recovered.Marker = recoveryMarker
	recovered.SequenceNumber = missingSeq
	recovered.Timestamp = recoveryTS
	recovered.SSRC = mediaSSRC
	recovered.IsRecovered = true
	if int(recoveryLen) > len(recoveryPayload) {
		return nil, &wrtcerr.InvalidRTP{Reason: "recovered length exceeds recovery payload buffer"}
	}
	recovered.Payload = append([]byte(nil), recoveryPayload[:recoveryLen]...)

	r.Recovered++
	return recovered, nil
}
