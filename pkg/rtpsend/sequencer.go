// Package rtpsend is the send-side pipeline from spec.md §4.4:
// RtpPacketSequencer, Egress (send-side statistics + FEC feed), and a
// bounded packet history for NACK retransmission lookups.
package rtpsend

import "github.com/ethan/rtcpeer/pkg/rtp"

// PacketType classifies an outbound packet for Egress bookkeeping.
type PacketType int

const (
	Audio PacketType = iota
	Video
	Retransmission
	FEC
	Padding
)

// Sequencer owns the media and RTX sequence-number counters for one
// outbound stream pair, per spec.md §4.4.
type Sequencer struct {
	MediaSSRC uint32
	RtxSSRC   uint32

	mediaSeq uint16
	rtxSeq   uint16

	// RequireMarkerBeforeMediaPadding mirrors spec.md §4.4's
	// !require_marker_before_media_padding || last_packet_marker_bit gate.
	RequireMarkerBeforeMediaPadding bool

	lastMediaMarker      bool
	lastMediaPayloadType uint8
	lastMediaTimestamp   uint32
	haveLastMedia        bool
}

// NewSequencer returns a Sequencer seeded with the given starting
// sequence numbers.
func NewSequencer(mediaSSRC, rtxSSRC uint32, mediaSeqStart, rtxSeqStart uint16) *Sequencer {
	return &Sequencer{
		MediaSSRC: mediaSSRC,
		RtxSSRC:   rtxSSRC,
		mediaSeq:  mediaSeqStart,
		rtxSeq:    rtxSeqStart,
	}
}

// Sequence assigns the correct counter to pkt based on its SSRC, per
// spec.md §4.4. It returns false without consuming a sequence number
// when pkt is a padding packet on the media SSRC and the configured
// marker gate forbids it (testable property 6).
func (s *Sequencer) Sequence(pkt *rtp.Packet, pktType PacketType) bool {
	switch pkt.SSRC {
	case s.RtxSSRC:
		pkt.SequenceNumber = s.rtxSeq
		s.rtxSeq++
		return true
	case s.MediaSSRC:
		if pktType == Padding {
			if s.RequireMarkerBeforeMediaPadding && !s.lastMediaMarker {
				return false
			}
			if s.haveLastMedia {
				pkt.PayloadType = s.lastMediaPayloadType
				pkt.Timestamp = s.lastMediaTimestamp
			}
			pkt.SequenceNumber = s.mediaSeq
			s.mediaSeq++
			return true
		}
		pkt.SequenceNumber = s.mediaSeq
		s.mediaSeq++
		s.lastMediaMarker = pkt.Marker
		s.lastMediaPayloadType = pkt.PayloadType
		s.lastMediaTimestamp = pkt.Timestamp
		s.haveLastMedia = true
		return true
	default:
		return false
	}
}
