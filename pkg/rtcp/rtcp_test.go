package rtcp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReportBlockPackParseExactValues(t *testing.T) {
	rb := ReportBlock{
		SourceSSRC:       0x1EF834FF,
		FractionLost:     33,
		CumulativeLost:   0x4F56D3,
		ExtendedHighest:  0x34D178A9,
		Jitter:           0x4F6D73A2,
		LastSR:           0x01FF3467,
		DelaySinceLastSR: 0x89D67F50,
	}
	buf := make([]byte, reportBlockSize)
	rb.Pack(buf)

	got, err := ParseReportBlock(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != rb {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rb)
	}
}

func TestReportBlockClampsCumulativeLost(t *testing.T) {
	buf := make([]byte, reportBlockSize)
	ReportBlock{CumulativeLost: 1 << 30}.Pack(buf)
	got, err := ParseReportBlock(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.CumulativeLost != (1<<23 - 1) {
		t.Fatalf("expected clamp to max24, got %d", got.CumulativeLost)
	}

	buf2 := make([]byte, reportBlockSize)
	ReportBlock{CumulativeLost: -(1 << 30)}.Pack(buf2)
	got2, err := ParseReportBlock(buf2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got2.CumulativeLost != -(1 << 23) {
		t.Fatalf("expected clamp to min24, got %d", got2.CumulativeLost)
	}
}

func TestSenderReportRoundTrip(t *testing.T) {
	sr := &SenderReport{
		SenderSSRC:   111,
		NtpSeconds:   222,
		NtpFraction:  333,
		RtpTimestamp: 444,
		PacketCount:  5,
		OctetCount:   6000,
		Reports: []ReportBlock{
			{SourceSSRC: 999, FractionLost: 1, CumulativeLost: -5, ExtendedHighest: 77, Jitter: 8, LastSR: 9, DelaySinceLastSR: 10},
		},
	}
	buf, err := sr.Marshal()
	require.NoError(t, err, "marshal")
	require.Len(t, buf, sr.MarshalSize(), "marshal size mismatch")

	parsed, err := ParseCompound(buf)
	require.NoError(t, err, "parse")
	require.Len(t, parsed, 1)

	got, ok := parsed[0].(*SenderReport)
	require.True(t, ok, "expected *SenderReport, got %T", parsed[0])
	require.Equal(t, sr.SenderSSRC, got.SenderSSRC)
	require.Equal(t, sr.PacketCount, got.PacketCount)
	require.Len(t, got.Reports, 1)
	require.Equal(t, sr.Reports[0], got.Reports[0])
}

func TestReceiverReportRoundTrip(t *testing.T) {
	rr := &ReceiverReport{
		SenderSSRC: 42,
		Reports: []ReportBlock{
			{SourceSSRC: 1, FractionLost: 2, CumulativeLost: 3, ExtendedHighest: 4, Jitter: 5, LastSR: 6, DelaySinceLastSR: 7},
			{SourceSSRC: 11, FractionLost: 12, CumulativeLost: -13, ExtendedHighest: 14, Jitter: 15, LastSR: 16, DelaySinceLastSR: 17},
		},
	}
	buf, err := rr.Marshal()
	require.NoError(t, err, "marshal")

	parsed, err := ParseCompound(buf)
	require.NoError(t, err, "parse")

	got, ok := parsed[0].(*ReceiverReport)
	require.True(t, ok, "expected *ReceiverReport, got %T", parsed[0])
	require.EqualValues(t, 42, got.SenderSSRC)
	require.Len(t, got.Reports, 2)
}

func TestSourceDescriptionAndByeRoundTrip(t *testing.T) {
	sdes := &SourceDescription{Chunks: []SDESChunk{
		{SSRC: 1, CNAME: "a"},
		{SSRC: 2, CNAME: "alice@example.com"},
	}}
	bye := &Bye{SSRCs: []uint32{1, 2}, Reason: "done"}

	for _, pkt := range []Packet{sdes, bye} {
		buf, err := pkt.Marshal()
		if err != nil {
			t.Fatalf("marshal %T: %v", pkt, err)
		}
		if len(buf)%4 != 0 {
			t.Fatalf("%T marshal not 4-byte aligned: %d", pkt, len(buf))
		}
		parsed, err := ParseCompound(buf)
		if err != nil {
			t.Fatalf("parse %T: %v", pkt, err)
		}
		if len(parsed) != 1 {
			t.Fatalf("expected 1 packet for %T, got %d", pkt, len(parsed))
		}
	}

	buf, _ := sdes.Marshal()
	parsed, _ := ParseCompound(buf)
	got := parsed[0].(*SourceDescription)
	if len(got.Chunks) != 2 || got.Chunks[1].CNAME != "alice@example.com" {
		t.Fatalf("sdes round trip mismatch: %+v", got)
	}

	buf2, _ := bye.Marshal()
	parsed2, _ := ParseCompound(buf2)
	got2 := parsed2[0].(*Bye)
	if len(got2.SSRCs) != 2 || got2.Reason != "done" {
		t.Fatalf("bye round trip mismatch: %+v", got2)
	}
}

func TestNackPackParseRoundTrip(t *testing.T) {
	missing := []uint16{5, 6, 7, 20, 40}
	pairs := NackPairsFromSeqNums(missing)
	nack := &TransportLayerNack{SenderSSRC: 1, MediaSSRC: 2, Pairs: pairs}
	buf, err := nack.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseCompound(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := parsed[0].(*TransportLayerNack)
	gotSeqs := SeqNumsFromNackPairs(got.Pairs)
	if len(gotSeqs) != len(missing) {
		t.Fatalf("expected %d seqs, got %d (%v)", len(missing), len(gotSeqs), gotSeqs)
	}
	for i, s := range missing {
		if gotSeqs[i] != s {
			t.Fatalf("seq mismatch at %d: got %d want %d", i, gotSeqs[i], s)
		}
	}
}

func TestPliFirRoundTrip(t *testing.T) {
	pli := &PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2}
	buf, _ := pli.Marshal()
	parsed, err := ParseCompound(buf)
	if err != nil {
		t.Fatalf("parse pli: %v", err)
	}
	if got := parsed[0].(*PictureLossIndication); got.MediaSSRC != 2 {
		t.Fatalf("pli mismatch: %+v", got)
	}

	fir := &FullIntraRequest{SenderSSRC: 1, MediaSSRC: 2, TargetSSRC: 2, SeqNr: 7}
	buf2, _ := fir.Marshal()
	parsed2, err := ParseCompound(buf2)
	if err != nil {
		t.Fatalf("parse fir: %v", err)
	}
	if got := parsed2[0].(*FullIntraRequest); got.SeqNr != 7 || got.TargetSSRC != 2 {
		t.Fatalf("fir mismatch: %+v", got)
	}
}

func TestTmmbrTmmbnRoundTrip(t *testing.T) {
	tmmbr := &TMMBR{SenderSSRC: 1, Entries: []TMMBEntry{{SSRC: 9, BitrateBps: 2_500_000, OverheadBytes: 40}}}
	buf, _ := tmmbr.Marshal()
	parsed, err := ParseCompound(buf)
	if err != nil {
		t.Fatalf("parse tmmbr: %v", err)
	}
	got := parsed[0].(*TMMBR)
	if len(got.Entries) != 1 || got.Entries[0].SSRC != 9 || got.Entries[0].OverheadBytes != 40 {
		t.Fatalf("tmmbr mismatch: %+v", got)
	}
	if got.Entries[0].BitrateBps != tmmbDecode(tmmbEncode(2_500_000)) {
		t.Fatalf("tmmbr bitrate mismatch: got %d", got.Entries[0].BitrateBps)
	}

	tmmbn := &TMMBN{SenderSSRC: 1, Entries: []TMMBEntry{{SSRC: 9, BitrateBps: 1_000_000}}}
	buf2, _ := tmmbn.Marshal()
	parsed2, err := ParseCompound(buf2)
	if err != nil {
		t.Fatalf("parse tmmbn: %v", err)
	}
	if got2 := parsed2[0].(*TMMBN); len(got2.Entries) != 1 {
		t.Fatalf("tmmbn mismatch: %+v", got2)
	}
}

func TestRembRoundTrip(t *testing.T) {
	remb := &ReceiverEstimatedMaxBitrate{SenderSSRC: 1, SSRCs: []uint32{10, 20}, BitrateBps: 3_200_000}
	buf, err := remb.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseCompound(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := parsed[0].(*ReceiverEstimatedMaxBitrate)
	if len(got.SSRCs) != 2 || got.SSRCs[0] != 10 || got.SSRCs[1] != 20 {
		t.Fatalf("remb ssrcs mismatch: %+v", got)
	}
	if got.BitrateBps != tmmbDecode(tmmbEncode(3_200_000)) {
		t.Fatalf("remb bitrate mismatch: got %d", got.BitrateBps)
	}
}

func TestExtendedReportRoundTrip(t *testing.T) {
	xr := &ExtendedReport{
		SenderSSRC: 5,
		DLRRReports: []DLRRReport{
			{SSRC: 1, LastRR: 100, DelaySinceLastRR: 200},
		},
		TargetBitrates: []TargetBitrate{
			{SpatialLayer: 0, TemporalLayer: 1, BitrateKbps: 1500},
		},
		ReceiverRefTime: &ReceiverReferenceTime{NtpSeconds: 9, NtpFraction: 10},
	}
	buf, err := xr.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseCompound(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := parsed[0].(*ExtendedReport)
	if len(got.DLRRReports) != 1 || got.DLRRReports[0].LastRR != 100 {
		t.Fatalf("dlrr mismatch: %+v", got.DLRRReports)
	}
	if len(got.TargetBitrates) != 1 || got.TargetBitrates[0].BitrateKbps != 1500 || got.TargetBitrates[0].TemporalLayer != 1 {
		t.Fatalf("target bitrate mismatch: %+v", got.TargetBitrates)
	}
	if got.ReceiverRefTime == nil || got.ReceiverRefTime.NtpSeconds != 9 {
		t.Fatalf("receiver ref time mismatch: %+v", got.ReceiverRefTime)
	}
}

func TestTwccRoundTrip(t *testing.T) {
	fb := &TransportCCFeedback{
		SenderSSRC: 1,
		MediaSSRC:  2,
		BaseSeq:    100,
		Deltas: []RecvDelta{
			{Received: true, Delta: 40},
			{Received: false},
			{Received: true, Delta: 80},
			{Received: true, Delta: -20},
		},
	}
	buf, err := fb.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseCompound(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := parsed[0].(*TransportCCFeedback)
	if len(got.Deltas) != len(fb.Deltas) {
		t.Fatalf("delta count mismatch: got %d want %d", len(got.Deltas), len(fb.Deltas))
	}
	for i, d := range fb.Deltas {
		if got.Deltas[i].Received != d.Received {
			t.Fatalf("delta %d received mismatch: got %v want %v", i, got.Deltas[i].Received, d.Received)
		}
		if d.Received && got.Deltas[i].Delta != d.Delta {
			t.Fatalf("delta %d value mismatch: got %d want %d", i, got.Deltas[i].Delta, d.Delta)
		}
	}
}

// TestCompoundPacketFlushesAtSizeBoundary is testable property 9: every
// flushed buffer starts with SR or RR and never exceeds MaxSize.
func TestCompoundPacketFlushesAtSizeBoundary(t *testing.T) {
	cp := NewCompoundPacket(200, 1)
	cp.Add(&SenderReport{SenderSSRC: 1})
	for i := 0; i < 20; i++ {
		cp.Add(&SourceDescription{Chunks: []SDESChunk{{SSRC: uint32(i), CNAME: "user"}}})
	}
	buffers, err := cp.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(buffers) < 2 {
		t.Fatalf("expected multiple flushed buffers, got %d", len(buffers))
	}
	for i, buf := range buffers {
		if len(buf) > 200 {
			t.Fatalf("buffer %d exceeds max size: %d", i, len(buf))
		}
		parsed, err := ParseCompound(buf)
		if err != nil {
			t.Fatalf("parse buffer %d: %v", i, err)
		}
		if len(parsed) == 0 {
			t.Fatalf("buffer %d parsed to zero packets", i)
		}
		pt := parsed[0].PacketType()
		if pt != PTSenderReport && pt != PTReceiverReport {
			t.Fatalf("buffer %d does not start with SR/RR, got PT=%d", i, pt)
		}
	}
}

func TestCompoundPacketSynthesizesReportHeadWhenMissing(t *testing.T) {
	cp := NewCompoundPacket(1500, 77)
	cp.Add(&SourceDescription{Chunks: []SDESChunk{{SSRC: 1, CNAME: "solo"}}})
	buffers, err := cp.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(buffers) != 1 {
		t.Fatalf("expected 1 buffer, got %d", len(buffers))
	}
	parsed, err := ParseCompound(buffers[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected synthesized RR + sdes, got %d packets", len(parsed))
	}
	if parsed[0].PacketType() != PTReceiverReport {
		t.Fatalf("expected synthesized RR head, got PT=%d", parsed[0].PacketType())
	}
	rr := parsed[0].(*ReceiverReport)
	if rr.SenderSSRC != 77 {
		t.Fatalf("synthesized RR has wrong ssrc: %d", rr.SenderSSRC)
	}
}

func TestParseCompoundRejectsTruncatedHeader(t *testing.T) {
	_, err := ParseCompound([]byte{0x80, 0xC8})
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestParseCompoundMultiplePacketsInOneBuffer(t *testing.T) {
	rr := &ReceiverReport{SenderSSRC: 1}
	bye := &Bye{SSRCs: []uint32{1}}
	rrBuf, _ := rr.Marshal()
	byeBuf, _ := bye.Marshal()
	buf := append(bytes.Clone(rrBuf), byeBuf...)
	parsed, err := ParseCompound(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(parsed))
	}
	if parsed[0].PacketType() != PTReceiverReport || parsed[1].PacketType() != PTBye {
		t.Fatalf("unexpected packet order: %T, %T", parsed[0], parsed[1])
	}
}
