package h264

import (
	"bytes"
	"testing"

	"github.com/ethan/rtcpeer/pkg/rtp"
)

func TestPacketizeSmallNaluPassesThrough(t *testing.T) {
	p := NewPacketizer(PayloadSizeLimits{Max: 1200})
	nalu := append([]byte{0x67}, bytes.Repeat([]byte{0xAB}, 50)...) // SPS-shaped
	out, err := p.Packetize([][]byte{nalu})
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}
	if len(out) != 1 || !bytes.Equal(out[0], nalu) {
		t.Fatalf("expected single-NAL passthrough, got %d payloads", len(out))
	}
}

func TestPacketizeFragmentsLargeNalu(t *testing.T) {
	p := NewPacketizer(PayloadSizeLimits{Max: 100})
	header := byte(0x65) // IDR slice
	body := bytes.Repeat([]byte{0x42}, 500)
	nalu := append([]byte{header}, body...)

	out, err := p.Packetize([][]byte{nalu})
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}
	if len(out) < 2 {
		t.Fatalf("expected multiple FU-A fragments, got %d", len(out))
	}
	for i, frag := range out {
		if frag[0]&naluTypeMask != naluTypeFUA {
			t.Fatalf("fragment %d is not FU-A: type=%d", i, frag[0]&naluTypeMask)
		}
	}
	if out[0][1]&0x80 == 0 {
		t.Errorf("first fragment missing start bit")
	}
	if out[len(out)-1][1]&0x40 == 0 {
		t.Errorf("last fragment missing end bit")
	}
}

func TestSplitAboutEqually(t *testing.T) {
	sizes := SplitAboutEqually(1000, 2, 300)
	total := 0
	for _, s := range sizes {
		total += s
	}
	if total != 1000 {
		t.Fatalf("sizes sum to %d, want 1000", total)
	}
	max, min := sizes[0], sizes[0]
	for _, s := range sizes {
		if s > max {
			max = s
		}
		if s < min {
			min = s
		}
	}
	if max-min > 1 {
		t.Errorf("sizes not roughly equal: %v", sizes)
	}
}

func TestDepacketizeFUARoundTrip(t *testing.T) {
	pktz := NewPacketizer(PayloadSizeLimits{Max: 100})
	header := byte(0x65)
	body := bytes.Repeat([]byte{0x7A}, 400)
	original := append([]byte{header}, body...)

	fragments, err := pktz.Packetize([][]byte{original})
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}

	var gotNalus [][]byte
	var gotKeyframe bool
	d := NewDepacketizer()
	d.OnAccessUnit = func(nalus [][]byte, keyframe bool) {
		gotNalus = nalus
		gotKeyframe = keyframe
	}

	seq := uint16(1000)
	for i, frag := range fragments {
		p := rtp.NewPacket()
		p.SequenceNumber = seq
		p.Payload = frag
		p.Marker = i == len(fragments)-1
		if err := d.Push(p); err != nil {
			t.Fatalf("Push fragment %d: %v", i, err)
		}
		seq++
	}

	if !gotKeyframe {
		t.Errorf("expected keyframe reassembly to report keyframe=true")
	}
	if len(gotNalus) != 1 || !bytes.Equal(gotNalus[0], original) {
		t.Fatalf("reassembled NALU mismatch: got %d nalus", len(gotNalus))
	}
}

func TestDepacketizeSTAPA(t *testing.T) {
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}

	payload := []byte{naluTypeSTAPA}
	for _, nalu := range [][]byte{sps, pps} {
		payload = append(payload, byte(len(nalu)>>8), byte(len(nalu)))
		payload = append(payload, nalu...)
	}

	var got [][]byte
	d := NewDepacketizer()
	d.OnAccessUnit = func(nalus [][]byte, keyframe bool) { got = nalus }

	p := rtp.NewPacket()
	p.SequenceNumber = 1
	p.Payload = payload
	p.Marker = true
	if err := d.Push(p); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if len(got) != 2 || !bytes.Equal(got[0], sps) || !bytes.Equal(got[1], pps) {
		t.Fatalf("STAP-A reassembly mismatch: %v", got)
	}
	if !bytes.Equal(d.SPS(), sps) || !bytes.Equal(d.PPS(), pps) {
		t.Errorf("SPS/PPS not cached: sps=%v pps=%v", d.SPS(), d.PPS())
	}
}

func TestDepacketizeRejectsOutOfOrderFUA(t *testing.T) {
	d := NewDepacketizer()
	start := rtp.NewPacket()
	start.SequenceNumber = 10
	start.Payload = []byte{0x7C, 0x85, 0xAA} // FU-A, start bit, IDR type
	if err := d.Push(start); err != nil {
		t.Fatalf("Push start: %v", err)
	}

	skipped := rtp.NewPacket()
	skipped.SequenceNumber = 12 // gap: lost seq 11
	skipped.Payload = []byte{0x7C, 0x45, 0xBB}
	if err := d.Push(skipped); err == nil {
		t.Fatal("expected error for FU-A sequence gap")
	}
}
