package demux

import (
	"testing"

	"github.com/ethan/rtcpeer/pkg/rtcp"
	"github.com/ethan/rtcpeer/pkg/rtp"
)

type recordingRTPSink struct {
	packets []*rtp.Packet
}

func (s *recordingRTPSink) OnRtpPacket(pkt *rtp.Packet) {
	s.packets = append(s.packets, pkt)
}

type recordingRTCPSink struct {
	packets []rtcp.Packet
}

func (s *recordingRTCPSink) OnRtcpPacket(pkt rtcp.Packet) {
	s.packets = append(s.packets, pkt)
}

func TestDispatchRTPRoutesByBoundSSRC(t *testing.T) {
	d := New()
	sink := &recordingRTPSink{}
	d.BindSSRC(1000, sink)

	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 1000, SequenceNumber: 5}}
	d.DispatchRTP(pkt, nil)

	if len(sink.packets) != 1 {
		t.Fatalf("expected 1 routed packet, got %d", len(sink.packets))
	}
	if d.Stats.UnroutedRTP != 0 {
		t.Fatalf("expected no unrouted packets, got %d", d.Stats.UnroutedRTP)
	}
}

func TestDispatchRTPFallsBackToMidThenBindsSsrc(t *testing.T) {
	d := New()
	sink := &recordingRTPSink{}
	d.BindMid("0", sink)

	extMap := rtp.NewHeaderExtensionMap()
	extMap.Register(rtp.Mid, 3)

	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 2000}}
	if err := extMap.SetMid(&pkt.Header, "0"); err != nil {
		t.Fatalf("set mid: %v", err)
	}

	d.DispatchRTP(pkt, extMap)
	if len(sink.packets) != 1 {
		t.Fatalf("expected 1 routed packet via mid, got %d", len(sink.packets))
	}

	// Now a second packet on the same SSRC with no extension map should
	// still route, via the SSRC binding learned above.
	pkt2 := &rtp.Packet{Header: rtp.Header{SSRC: 2000}}
	d.DispatchRTP(pkt2, nil)
	if len(sink.packets) != 2 {
		t.Fatalf("expected ssrc binding to persist, got %d routed packets", len(sink.packets))
	}
}

func TestDispatchRTPUnroutedIsCounted(t *testing.T) {
	d := New()
	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 9999}}
	d.DispatchRTP(pkt, nil)
	if d.Stats.UnroutedRTP != 1 {
		t.Fatalf("expected 1 unrouted packet, got %d", d.Stats.UnroutedRTP)
	}
}

func TestDispatchRTCPRoutesToEverySSRCNamed(t *testing.T) {
	d := New()
	senderSink := &recordingRTCPSink{}
	sourceSink := &recordingRTCPSink{}
	d.BindRTCPSSRC(1, senderSink)
	d.BindRTCPSSRC(42, sourceSink)

	rr := &rtcp.ReceiverReport{SenderSSRC: 1, Reports: []rtcp.ReportBlock{{SourceSSRC: 42}}}
	buf, err := rr.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := d.DispatchRTCP(buf); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(senderSink.packets) != 1 {
		t.Fatalf("expected sender sink to receive 1 packet, got %d", len(senderSink.packets))
	}
	if len(sourceSink.packets) != 1 {
		t.Fatalf("expected source sink to receive 1 packet, got %d", len(sourceSink.packets))
	}
}

func TestDispatchRTCPUnroutedIsCounted(t *testing.T) {
	d := New()
	bye := &rtcp.Bye{SSRCs: []uint32{7}}
	buf, err := bye.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := d.DispatchRTCP(buf); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if d.Stats.UnroutedRTCP != 1 {
		t.Fatalf("expected 1 unrouted rtcp packet, got %d", d.Stats.UnroutedRTCP)
	}
}
