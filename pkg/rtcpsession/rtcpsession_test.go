package rtcpsession

import (
	"math"
	"testing"

	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/rtcp"
	"github.com/ethan/rtcpeer/pkg/units"
)

// TestExpFilterMatchesFormula is testable property 10.
func TestExpFilterMatchesFormula(t *testing.T) {
	alpha := 0.9
	f := NewExpFilter(alpha)

	s0 := 10.0
	got := f.Apply(1, s0)
	if got != s0 {
		t.Fatalf("seed sample should pass through unchanged: got %v want %v", got, s0)
	}

	prev := got
	x := 2.0
	sample := 20.0
	got = f.Apply(x, sample)
	want := math.Pow(alpha, x)*prev + (1-math.Pow(alpha, x))*sample
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("filter mismatch: got %v want %v", got, want)
	}
	if math.Abs(f.Value()-want) > 1e-9 {
		t.Fatalf("Value() mismatch: got %v want %v", f.Value(), want)
	}

	f.Reset()
	if f.IsSet() {
		t.Fatal("expected IsSet()==false after Reset")
	}
	got = f.Apply(1, 99)
	if got != 99 {
		t.Fatalf("post-reset seed should pass through: got %v", got)
	}
}

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) WriteRTCP(buf []byte) error {
	f.sent = append(f.sent, buf)
	return nil
}

type fakeSource struct {
	sending bool
	packets uint32
	octets  uint32
	blocks  []rtcp.ReportBlock
}

func (f *fakeSource) IsSending() bool                            { return f.sending }
func (f *fakeSource) RtpTimestampAt(t units.Timestamp) uint32    { return uint32(t.Millis()) }
func (f *fakeSource) PacketCount() uint32                        { return f.packets }
func (f *fakeSource) OctetCount() uint32                         { return f.octets }
func (f *fakeSource) ReportBlocks() []rtcp.ReportBlock           { return f.blocks }

func TestSenderComposesSenderReportWhenSending(t *testing.T) {
	clk := clock.NewSimulated(units.TimestampFromMicros(0))
	transport := &fakeTransport{}
	source := &fakeSource{sending: true, packets: 5, octets: 1000}
	sender := NewSender(111, "cname", clk, transport, source, false, units.Seconds(5), units.Seconds(1))

	if err := sender.SendRtcp(ReasonReport); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected 1 flushed buffer, got %d", len(transport.sent))
	}
	parsed, err := rtcp.ParseCompound(transport.sent[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected SR + SDES, got %d packets", len(parsed))
	}
	sr, ok := parsed[0].(*rtcp.SenderReport)
	if !ok {
		t.Fatalf("expected SenderReport first, got %T", parsed[0])
	}
	if sr.SenderSSRC != 111 || sr.PacketCount != 5 {
		t.Fatalf("sr mismatch: %+v", sr)
	}
	if _, ok := parsed[1].(*rtcp.SourceDescription); !ok {
		t.Fatalf("expected SourceDescription second, got %T", parsed[1])
	}
}

func TestSenderComposesReceiverReportWhenNotSending(t *testing.T) {
	clk := clock.NewSimulated(units.TimestampFromMicros(0))
	transport := &fakeTransport{}
	source := &fakeSource{sending: false}
	sender := NewSender(222, "cname", clk, transport, source, true, units.Seconds(5), units.Seconds(1))

	if err := sender.SendRtcp(ReasonReport); err != nil {
		t.Fatalf("send: %v", err)
	}
	parsed, err := rtcp.ParseCompound(transport.sent[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := parsed[0].(*rtcp.ReceiverReport); !ok {
		t.Fatalf("expected ReceiverReport first, got %T", parsed[0])
	}
}

func TestSenderNackRoundTrip(t *testing.T) {
	clk := clock.NewSimulated(units.TimestampFromMicros(0))
	transport := &fakeTransport{}
	source := &fakeSource{}
	sender := NewSender(1, "c", clk, transport, source, false, units.Seconds(5), units.Seconds(1))

	if err := sender.SendNack(42, []uint16{5, 6, 7}); err != nil {
		t.Fatalf("send nack: %v", err)
	}
	parsed, err := rtcp.ParseCompound(transport.sent[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var nack *rtcp.TransportLayerNack
	for _, p := range parsed {
		if n, ok := p.(*rtcp.TransportLayerNack); ok {
			nack = n
		}
	}
	if nack == nil {
		t.Fatal("expected a nack packet in the compound buffer")
	}
	got := rtcp.SeqNumsFromNackPairs(nack.Pairs)
	if len(got) != 3 || got[0] != 5 || got[1] != 6 || got[2] != 7 {
		t.Fatalf("nack seqs mismatch: %v", got)
	}
}

type recordingObserver struct {
	nackSeqs   []uint16
	keyframeSSRC uint32
	reportBlocks []rtcp.ReportBlock
	tmmbn      []rtcp.TMMBEntry
}

func (o *recordingObserver) OnReceivedNack(senderSSRC, mediaSSRC uint32, missing []uint16) {
	o.nackSeqs = missing
}
func (o *recordingObserver) OnRequestSendReport(mediaSSRC uint32, keyframe bool) {
	o.keyframeSSRC = mediaSSRC
}
func (o *recordingObserver) SetTmmbn(entries []rtcp.TMMBEntry) { o.tmmbn = entries }
func (o *recordingObserver) OnReceivedRtcpReportBlocks(blocks []rtcp.ReportBlock) {
	o.reportBlocks = blocks
}

func TestReceiverDispatchesToObserver(t *testing.T) {
	clk := clock.NewSimulated(units.TimestampFromMicros(0))
	obs := &recordingObserver{}
	receiver := NewReceiver(clk, obs)

	nack := &rtcp.TransportLayerNack{SenderSSRC: 1, MediaSSRC: 2, Pairs: rtcp.NackPairsFromSeqNums([]uint16{10})}
	buf, _ := nack.Marshal()
	if err := receiver.HandleIncoming(buf); err != nil {
		t.Fatalf("handle nack: %v", err)
	}
	if len(obs.nackSeqs) != 1 || obs.nackSeqs[0] != 10 {
		t.Fatalf("expected nack seq 10, got %v", obs.nackSeqs)
	}

	pli := &rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 77}
	buf2, _ := pli.Marshal()
	if err := receiver.HandleIncoming(buf2); err != nil {
		t.Fatalf("handle pli: %v", err)
	}
	if obs.keyframeSSRC != 77 {
		t.Fatalf("expected keyframe request for ssrc 77, got %d", obs.keyframeSSRC)
	}

	rr := &rtcp.ReceiverReport{SenderSSRC: 1, Reports: []rtcp.ReportBlock{{SourceSSRC: 9}}}
	buf3, _ := rr.Marshal()
	if err := receiver.HandleIncoming(buf3); err != nil {
		t.Fatalf("handle rr: %v", err)
	}
	if len(obs.reportBlocks) != 1 || obs.reportBlocks[0].SourceSSRC != 9 {
		t.Fatalf("expected report block forwarded, got %+v", obs.reportBlocks)
	}
}

func TestReceiverComputesRTTFromSRThenRR(t *testing.T) {
	clk := clock.NewSimulated(units.TimestampFromMicros(0))
	receiver := NewReceiver(clk, nil)

	sr := &rtcp.SenderReport{SenderSSRC: 5, NtpSeconds: 1000, NtpFraction: 0}
	buf, _ := sr.Marshal()
	if err := receiver.HandleIncoming(buf); err != nil {
		t.Fatalf("handle sr: %v", err)
	}

	lastSRMiddle32, _, ok := receiver.NTP(5)
	if !ok {
		t.Fatal("expected ntp state after sr")
	}

	clk.Advance(units.Millis(100))
	nowMiddle32 := clk.NtpNow().Middle32()
	delaySinceLastSR := nowMiddle32 - lastSRMiddle32

	rr := &rtcp.ReceiverReport{SenderSSRC: 5, Reports: []rtcp.ReportBlock{
		{SourceSSRC: 1, LastSR: lastSRMiddle32, DelaySinceLastSR: delaySinceLastSR},
	}}
	buf2, _ := rr.Marshal()
	if err := receiver.HandleIncoming(buf2); err != nil {
		t.Fatalf("handle rr: %v", err)
	}

	last, avg, _, _, ok := receiver.RTT(5)
	if !ok {
		t.Fatal("expected rtt sample after matching rr")
	}
	if last < 0 || avg < 0 {
		t.Fatalf("expected non-negative rtt, got last=%v avg=%v", last, avg)
	}
}
