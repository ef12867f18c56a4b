// Package rtx implements RFC 4588 retransmission wrap/unwrap from
// spec.md §4.4/§4.8: a retransmitted media packet is prefixed with its
// original 2-byte sequence number and sent under the RTX payload type and
// RTX SSRC; RtxReceiveStream inverts this.
package rtx

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// Wrap builds the RTX packet for a retransmitted media packet: the
// original sequence number is prefixed to the payload, and the header's
// SSRC/payload-type/sequence-number are swapped for the RTX stream's own
// (rtxSSRC is the packet's SSRC, rtxSeq its new sequence number, rtxPT its
// payload type). The original packet's timestamp, marker, and CSRC list
// are preserved.
func Wrap(media *rtp.Packet, rtxSSRC uint32, rtxSeq uint16, rtxPT uint8) *rtp.Packet {
	r := rtp.NewPacket()
	r.Marker = media.Marker
	r.PayloadType = rtxPT
	r.SequenceNumber = rtxSeq
	r.Timestamp = media.Timestamp
	r.SSRC = rtxSSRC
	r.CSRC = append([]uint32(nil), media.CSRC...)

	payload := make([]byte, 2+len(media.Payload))
	binary.BigEndian.PutUint16(payload[:2], media.SequenceNumber)
	copy(payload[2:], media.Payload)
	r.Payload = payload
	return r
}

// ReceiveStream inverts Wrap: it tracks the mapping from an RTX stream
// back to its media stream (media SSRC and the RTX->media payload-type
// map), per spec.md §4.8.
type ReceiveStream struct {
	MediaSSRC uint32
	PTMapping map[uint8]uint8 // rtx payload type -> media payload type
}

// NewReceiveStream returns a ReceiveStream that unwraps RTX packets back
// onto mediaSSRC, translating payload types via ptMapping.
func NewReceiveStream(mediaSSRC uint32, ptMapping map[uint8]uint8) *ReceiveStream {
	return &ReceiveStream{MediaSSRC: mediaSSRC, PTMapping: ptMapping}
}

// Unwrap recovers the original media packet from an RTX packet, per
// spec.md §4.4's receive contract: drop if payload < 2 bytes or the
// payload type is unmapped; otherwise synthesize a media packet with the
// original sequence number, mapped payload type, media SSRC, and
// is_recovered = true.
func (s *ReceiveStream) Unwrap(rtxPkt *rtp.Packet) (*rtp.Packet, error) {
	if len(rtxPkt.Payload) < 2 {
		return nil, &wrtcerr.InvalidRTP{Reason: "RTX payload shorter than the original-sequence-number prefix"}
	}
	mediaPT, ok := s.PTMapping[rtxPkt.PayloadType]
	if !ok {
		return nil, &wrtcerr.InvalidRTP{Reason: "RTX payload type has no mapped media payload type"}
	}

	m := rtp.NewPacket()
	m.Marker = rtxPkt.Marker
	m.PayloadType = mediaPT
	m.SequenceNumber = binary.BigEndian.Uint16(rtxPkt.Payload[:2])
	m.Timestamp = rtxPkt.Timestamp
	m.SSRC = s.MediaSSRC
	m.CSRC = append([]uint32(nil), rtxPkt.CSRC...)
	m.Payload = append([]byte(nil), rtxPkt.Payload[2:]...)
	m.IsRecovered = true
	m.ArrivalTime = rtxPkt.ArrivalTime
	return m, nil
}
