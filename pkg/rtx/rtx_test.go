package rtx

import (
	"bytes"
	"testing"

	"github.com/ethan/rtcpeer/pkg/rtp"
)

// S3 / testable property 4: for every media packet m and its RTX wrap r,
// RtxReceiveStream produces m' such that m'.header == m.header (except
// is_recovered), m'.payload == m.payload, m'.ssrc == media_ssrc,
// m'.sequence_number == m.sequence_number.
func TestRtxRoundTrip(t *testing.T) {
	const mediaSSRC = 725242
	const mediaPT = 98
	const rtxSSRC = 12345
	const rtxPT = 99

	media := rtp.NewPacket()
	media.SequenceNumber = 33
	media.Timestamp = 555000
	media.SSRC = mediaSSRC
	media.PayloadType = mediaPT
	media.Marker = true
	media.Payload = []byte("video payload bytes")

	wrapped := Wrap(media, rtxSSRC, 7, rtxPT)
	if wrapped.SSRC != rtxSSRC || wrapped.PayloadType != rtxPT {
		t.Fatalf("wrapped header wrong: %+v", wrapped.Header)
	}

	stream := NewReceiveStream(mediaSSRC, map[uint8]uint8{rtxPT: mediaPT})
	recovered, err := stream.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}

	if recovered.SequenceNumber != media.SequenceNumber {
		t.Errorf("sequence number = %d, want %d", recovered.SequenceNumber, media.SequenceNumber)
	}
	if recovered.SSRC != mediaSSRC {
		t.Errorf("ssrc = %d, want %d", recovered.SSRC, mediaSSRC)
	}
	if recovered.PayloadType != mediaPT {
		t.Errorf("payload type = %d, want %d", recovered.PayloadType, mediaPT)
	}
	if recovered.Timestamp != media.Timestamp || recovered.Marker != media.Marker {
		t.Errorf("header fields changed: got %+v, want ts=%d marker=%v", recovered.Header, media.Timestamp, media.Marker)
	}
	if !bytes.Equal(recovered.Payload, media.Payload) {
		t.Errorf("payload = %q, want %q", recovered.Payload, media.Payload)
	}
	if !recovered.IsRecovered {
		t.Error("expected IsRecovered = true")
	}
}

func TestRtxUnwrapRejectsShortPayload(t *testing.T) {
	stream := NewReceiveStream(1, map[uint8]uint8{99: 98})
	pkt := rtp.NewPacket()
	pkt.PayloadType = 99
	pkt.Payload = []byte{0x01}
	if _, err := stream.Unwrap(pkt); err == nil {
		t.Fatal("expected error for payload shorter than 2 bytes")
	}
}

func TestRtxUnwrapRejectsUnmappedPayloadType(t *testing.T) {
	stream := NewReceiveStream(1, map[uint8]uint8{99: 98})
	pkt := rtp.NewPacket()
	pkt.PayloadType = 50
	pkt.Payload = []byte{0x00, 0x01, 0xFF}
	if _, err := stream.Unwrap(pkt); err == nil {
		t.Fatal("expected error for unmapped RTX payload type")
	}
}
