package rtpsend

import (
	"testing"

	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/units"
)

const mediaSSRC = 1000
const rtxSSRC = 2000

func newMediaPacket(ts uint32, marker bool) *rtp.Packet {
	p := rtp.NewPacket()
	p.SSRC = mediaSSRC
	p.Timestamp = ts
	p.Marker = marker
	p.Payload = []byte("x")
	return p
}

// Testable property 6: N non-padding packets with monotone timestamps
// receive sequence numbers base, base+1, ..., base+N-1.
func TestSequencerAssignsMonotoneSequenceNumbers(t *testing.T) {
	seq := NewSequencer(mediaSSRC, rtxSSRC, 100, 0)
	for i := 0; i < 5; i++ {
		pkt := newMediaPacket(uint32(i*3000), false)
		if !seq.Sequence(pkt, Video) {
			t.Fatalf("packet %d: Sequence returned false", i)
		}
		if want := uint16(100 + i); pkt.SequenceNumber != want {
			t.Errorf("packet %d: seq = %d, want %d", i, pkt.SequenceNumber, want)
		}
	}
}

func TestSequencerPaddingRequiresPriorMarker(t *testing.T) {
	seq := NewSequencer(mediaSSRC, rtxSSRC, 0, 0)
	seq.RequireMarkerBeforeMediaPadding = true

	media1 := newMediaPacket(1000, true) // marker=true
	if !seq.Sequence(media1, Video) {
		t.Fatal("expected first media packet to sequence")
	}

	padding := rtp.NewPacket()
	padding.SSRC = mediaSSRC
	if !seq.Sequence(padding, Padding) {
		t.Fatal("expected padding to succeed after a marker=true packet")
	}
	if padding.PayloadType != media1.PayloadType || padding.Timestamp != media1.Timestamp {
		t.Errorf("padding did not inherit payload-type/timestamp from last media packet")
	}

	media2 := newMediaPacket(2000, false) // marker=false
	seq.Sequence(media2, Video)

	padding2 := rtp.NewPacket()
	padding2.SSRC = mediaSSRC
	if seq.Sequence(padding2, Padding) {
		t.Fatal("expected padding to fail after a marker=false packet")
	}
}

func TestSequencerRoutesRtxSsrcToRtxCounter(t *testing.T) {
	seq := NewSequencer(mediaSSRC, rtxSSRC, 500, 9)
	rtxPkt := rtp.NewPacket()
	rtxPkt.SSRC = rtxSSRC
	if !seq.Sequence(rtxPkt, Retransmission) {
		t.Fatal("expected rtx packet to sequence")
	}
	if rtxPkt.SequenceNumber != 9 {
		t.Errorf("rtx sequence = %d, want 9", rtxPkt.SequenceNumber)
	}
}

type recordingTransport struct {
	sent []*rtp.Packet
}

func (r *recordingTransport) WriteRTP(pkt *rtp.Packet) error {
	r.sent = append(r.sent, pkt)
	return nil
}

func TestEgressRecordsStatsAndHistory(t *testing.T) {
	c := clock.NewSimulated(units.ZeroTimestamp())
	seq := NewSequencer(mediaSSRC, rtxSSRC, 0, 0)
	transport := &recordingTransport{}
	history := NewHistory(c, 16)
	egress := NewEgress(c, seq, transport, history)

	pkt := newMediaPacket(1000, true)
	if _, err := egress.Send(pkt, Video); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if egress.Stats.PacketsSent != 1 {
		t.Errorf("PacketsSent = %d, want 1", egress.Stats.PacketsSent)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected 1 packet written, got %d", len(transport.sent))
	}
	if _, ok := history.Get(pkt.SequenceNumber); !ok {
		t.Error("expected packet to be retrievable from history")
	}
}

func TestEgressProducesFecAfterGroupFills(t *testing.T) {
	c := clock.NewSimulated(units.ZeroTimestamp())
	seq := NewSequencer(mediaSSRC, rtxSSRC, 0, 0)
	transport := &recordingTransport{}
	egress := NewEgress(c, seq, transport, NewHistory(c, 16))
	egress.EnableFEC(127, 96, 100, 3)

	var fecPackets []*rtp.Packet
	for i := 0; i < 3; i++ {
		produced, err := egress.Send(newMediaPacket(uint32(i*3000), false), Video)
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		fecPackets = append(fecPackets, produced...)
	}
	if len(fecPackets) != 1 {
		t.Fatalf("expected exactly 1 FEC packet after 3 media packets with group size 3, got %d", len(fecPackets))
	}
}
