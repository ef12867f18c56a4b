package pc

import (
	"fmt"
	"sync"

	"github.com/ethan/rtcpeer/pkg/h264"
	"github.com/ethan/rtcpeer/pkg/jitter"
	"github.com/ethan/rtcpeer/pkg/rtcp"
	"github.com/ethan/rtcpeer/pkg/rtcpsession"
	"github.com/ethan/rtcpeer/pkg/receive"
	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/rtpsend"
	"github.com/ethan/rtcpeer/pkg/rtx"
	"github.com/ethan/rtcpeer/pkg/sdp"
	"github.com/ethan/rtcpeer/pkg/units"
)

// MediaTrackConfiguration is what AddTrack needs to register one
// audio or video track: its mid, its primary codec, and an optional RTX
// codec registration (nil disables retransmission for this track).
type MediaTrackConfiguration struct {
	Mid       string
	Codec     sdp.RtpMap
	RtxCodec  *sdp.RtpMap
	Direction sdp.Direction
}

// MediaTrack is one negotiated audio or video m= line, carrying both the
// send pipeline (for locally originated samples) and the receive pipeline
// (for the remote peer's matching track) on a shared pair of SSRCs.
type MediaTrack struct {
	pc   *PeerConnection
	cfg  MediaTrackConfiguration
	kind sdp.MediaKind

	mediaSSRC, rtxSSRC             uint32
	remoteMediaSSRC, remoteRtxSSRC uint32
	cname                          string

	mu sync.Mutex

	seq        *rtpsend.Sequencer
	egress     *rtpsend.Egress
	history    *rtpsend.History
	packetizer *h264.Packetizer

	sending     bool
	packetCount uint32
	octetCount  uint32
	startTS     uint32
	clockRate   uint32

	rtcpSender *rtcpsession.Sender

	stat         *receive.RtpStreamStatistician
	nackMod      *receive.NackModule
	rtxRecv      *rtx.ReceiveStream
	depacketizer *h264.Depacketizer

	refFinder *jitter.SeqNumFrameRefFinder
	timing    *jitter.Timing
	frameBuf  *jitter.FrameBuffer

	auFirstSeq       uint16
	auLastSeq        uint16
	auHaveFirstSeq   bool
	lastRtpTimestamp uint32

	onFrame           func(jitter.ReadyFrame)
	onSample          func(payload []byte, timestamp uint32)
	onKeyframeRequest func()
}

func newMediaTrack(pcn *PeerConnection, kind sdp.MediaKind, cfg MediaTrackConfiguration) *MediaTrack {
	t := &MediaTrack{
		pc:        pcn,
		cfg:       cfg,
		kind:      kind,
		mediaSSRC: pcn.allocSSRC(),
		cname:     "rtcpeer",
		clockRate: cfg.Codec.ClockRate,
	}
	if cfg.RtxCodec != nil {
		t.rtxSSRC = pcn.allocSSRC()
	}

	t.seq = rtpsend.NewSequencer(t.mediaSSRC, t.rtxSSRC, 0, 0)
	t.seq.RequireMarkerBeforeMediaPadding = kind == sdp.KindVideo
	t.history = rtpsend.NewHistory(pcn.clock, 512)
	t.egress = rtpsend.NewEgress(pcn.clock, t.seq, egressTransport{pcn}, t.history)

	t.stat = receive.NewRtpStreamStatistician(pcn.clock, cfg.Codec.ClockRate)
	t.nackMod = receive.NewNackModule(pcn.clock, units.Millis(100))

	t.rtcpSender = rtcpsession.NewSender(t.mediaSSRC, t.cname, pcn.clock, rtcpTransport{pcn}, t,
		kind == sdp.KindAudio, units.Millis(pcn.cfg.RtcpReportIntervalAudio.Milliseconds()),
		units.Millis(pcn.cfg.RtcpReportIntervalVideo.Milliseconds()))

	if kind == sdp.KindVideo {
		t.packetizer = h264.NewPacketizer(h264.PayloadSizeLimits{Max: 1200})
		t.depacketizer = h264.NewDepacketizer()
		t.refFinder = jitter.NewSeqNumFrameRefFinder(0)
		t.timing = jitter.NewTiming(0, float64(cfg.Codec.ClockRate))
		t.frameBuf = jitter.NewFrameBuffer(pcn.clock, t.timing, units.Millis(jitter.DefaultMaxWaitMs))
		t.depacketizer.OnAccessUnit = t.onAccessUnit
	}

	return t
}

// describe appends this track's SSRC group (and RTX codec, if any) to its
// SDP media entry.
func (t *MediaTrack) describe(m *sdp.MediaEntry) {
	if t.cfg.RtxCodec != nil {
		m.AddRtpMap(t.cfg.RtxCodec)
		m.AddSsrcGroup(sdp.SsrcRtx, t.mediaSSRC, t.rtxSSRC, t.cname)
	} else {
		m.AddSsrcGroup(sdp.SsrcMedia, t.mediaSSRC, 0, t.cname)
	}
}

// bindRemote records the remote peer's SSRCs for this mid (learned from
// its SDP) and wires RTX unwrapping against them.
func (t *MediaTrack) bindRemote(m *sdp.MediaEntry) {
	for _, ssrc := range m.MediaSsrcs {
		t.remoteMediaSSRC = ssrc
	}
	for _, ssrc := range m.RtxSsrcs {
		t.remoteRtxSSRC = ssrc
	}
	if t.remoteRtxSSRC != 0 && t.cfg.RtxCodec != nil {
		t.rtxRecv = rtx.NewReceiveStream(t.remoteMediaSSRC, map[uint8]uint8{
			t.cfg.RtxCodec.PayloadType: t.cfg.Codec.PayloadType,
		})
	}
}

// OnFrame registers the decode-ordered, render-timed callback for a video
// track's received access units.
func (t *MediaTrack) OnFrame(fn func(jitter.ReadyFrame)) {
	t.mu.Lock()
	t.onFrame = fn
	t.mu.Unlock()
}

// OnSample registers the raw-payload callback for an audio track's
// received packets (no jitter-buffer reordering is applied to audio, per
// this module's scope).
func (t *MediaTrack) OnSample(fn func(payload []byte, timestamp uint32)) {
	t.mu.Lock()
	t.onSample = fn
	t.mu.Unlock()
}

// OnKeyframeRequest registers the callback fired when the remote peer
// asks for a new keyframe (PLI/FIR), so the encoder driving WriteH264 can
// produce one. Video tracks only.
func (t *MediaTrack) OnKeyframeRequest(fn func()) {
	t.mu.Lock()
	t.onKeyframeRequest = fn
	t.mu.Unlock()
}

// WriteSample sends one already-encoded audio frame as a single RTP
// packet, advancing the RTP clock by samples (in clock-rate units).
func (t *MediaTrack) WriteSample(payload []byte, samples uint32) error {
	if t.kind != sdp.KindAudio {
		return fmt.Errorf("pc: WriteSample is for audio tracks")
	}
	pkt := rtp.NewPacket()
	pkt.SSRC = t.mediaSSRC
	pkt.PayloadType = t.cfg.Codec.PayloadType
	pkt.Marker = true
	pkt.Timestamp = t.startTS
	pkt.Payload = payload
	t.startTS += samples

	t.mu.Lock()
	t.sending = true
	t.packetCount++
	t.octetCount += uint32(len(payload))
	t.mu.Unlock()

	_, err := t.egress.Send(pkt, rtpsend.Audio)
	return err
}

// WriteH264 packetizes one access unit (Annex-B-stripped NAL units) and
// sends it as one or more RTP packets, with the marker bit set on the
// last fragment per spec.md §4.3.
func (t *MediaTrack) WriteH264(nalus [][]byte, rtpTimestamp uint32) error {
	if t.kind != sdp.KindVideo {
		return fmt.Errorf("pc: WriteH264 is for video tracks")
	}
	payloads, err := t.packetizer.Packetize(nalus)
	if err != nil {
		return err
	}
	for i, payload := range payloads {
		pkt := rtp.NewPacket()
		pkt.SSRC = t.mediaSSRC
		pkt.PayloadType = t.cfg.Codec.PayloadType
		pkt.Timestamp = rtpTimestamp
		pkt.Marker = i == len(payloads)-1
		pkt.Payload = payload

		t.mu.Lock()
		t.sending = true
		t.packetCount++
		t.octetCount += uint32(len(payload))
		t.mu.Unlock()

		produced, err := t.egress.Send(pkt, rtpsend.Video)
		if err != nil {
			return err
		}
		for _, fecPkt := range produced {
			if _, err := t.egress.Send(fecPkt, rtpsend.FEC); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnRtpPacket implements demux.RTPSink for this track's media and RTX
// SSRCs, feeding received packets into statistics, NACK bookkeeping, and
// the codec-specific depacketization pipeline.
func (t *MediaTrack) OnRtpPacket(pkt *rtp.Packet) {
	if t.rtxRecv != nil && pkt.SSRC == t.remoteRtxSSRC {
		media, err := t.rtxRecv.Unwrap(pkt)
		if err != nil {
			return
		}
		pkt = media
	}

	isKeyframe := t.kind == sdp.KindVideo && looksLikeKeyframeStart(pkt)
	t.stat.OnRtpPacket(pkt.SequenceNumber, pkt.Timestamp, len(pkt.Payload))
	t.nackMod.InsertPacket(pkt.SequenceNumber, isKeyframe, pkt.IsRecovered)

	if t.kind == sdp.KindAudio {
		t.mu.Lock()
		cb := t.onSample
		t.mu.Unlock()
		if cb != nil {
			cb(pkt.Payload, pkt.Timestamp)
		}
		return
	}

	t.onVideoRtp(pkt)
}

// looksLikeKeyframeStart is a cheap NACK-bookkeeping heuristic: H.264 IDR
// access units begin with NAL type 5 (or a STAP-A whose first aggregated
// NALU is type 5), used only to seed removePacketsUntilKeyFrame's anchor,
// not to gate decoding (the depacketizer itself detects keyframes
// authoritatively).
func looksLikeKeyframeStart(pkt *rtp.Packet) bool {
	if len(pkt.Payload) == 0 {
		return false
	}
	switch pkt.Payload[0] & 0x1F {
	case 5:
		return true
	case 24: // STAP-A: first NALU header follows the 1-byte STAP-A header and 2-byte size
		return len(pkt.Payload) > 3 && pkt.Payload[3]&0x1F == 5
	}
	return false
}

func (t *MediaTrack) onVideoRtp(pkt *rtp.Packet) {
	if !t.auHaveFirstSeq {
		t.auFirstSeq = pkt.SequenceNumber
		t.auHaveFirstSeq = true
	}
	t.auLastSeq = pkt.SequenceNumber
	t.lastRtpTimestamp = pkt.Timestamp
	_ = t.depacketizer.Push(pkt)
}

func (t *MediaTrack) onAccessUnit(nalus [][]byte, keyframe bool) {
	f := jitter.Frame{
		RtpTimestamp: t.lastRtpTimestamp,
		FirstSeq:     t.auFirstSeq,
		LastSeq:      t.auLastSeq,
		Nalus:        nalus,
		Keyframe:     keyframe,
	}
	t.auHaveFirstSeq = false

	resolved := t.refFinder.InsertFrame(f)
	for _, rf := range resolved {
		t.timing.OnFrameArrival(rf.RtpTimestamp, float64(t.pc.clock.Now().Millis()))
		for _, ready := range t.frameBuf.InsertFrame(rf) {
			t.mu.Lock()
			cb := t.onFrame
			t.mu.Unlock()
			if cb != nil {
				cb(ready)
			}
		}
	}
}

// updateReceive runs the periodic NACK scheduling pass, sending any due
// retransmission requests and keyframe requests over RTCP.
func (t *MediaTrack) updateReceive() {
	if t.remoteMediaSSRC == 0 {
		return
	}
	if missing := t.nackMod.Update(); len(missing) > 0 {
		_ = t.rtcpSender.SendNack(t.remoteMediaSSRC, missing)
	}
	if t.nackMod.KeyframeRequested() {
		_ = t.rtcpSender.SendPLI(t.remoteMediaSSRC)
	}
}

// IsSending implements rtcpsession.StreamSource.
func (t *MediaTrack) IsSending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sending
}

// RtpTimestampAt implements rtcpsession.StreamSource.
func (t *MediaTrack) RtpTimestampAt(units.Timestamp) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTS
}

// PacketCount implements rtcpsession.StreamSource.
func (t *MediaTrack) PacketCount() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.packetCount
}

// OctetCount implements rtcpsession.StreamSource.
func (t *MediaTrack) OctetCount() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.octetCount
}

// ReportBlocks implements rtcpsession.StreamSource.
func (t *MediaTrack) ReportBlocks() []rtcp.ReportBlock {
	if t.remoteMediaSSRC == 0 {
		return nil
	}
	block, ok := t.stat.GetReportBlock(t.remoteMediaSSRC)
	if !ok {
		return nil
	}
	return []rtcp.ReportBlock{block}
}

// onSenderReport feeds a remote SR into this track's statistician for
// DLRR bookkeeping.
func (t *MediaTrack) onSenderReport(ntp units.NtpTime) {
	t.stat.OnSenderReport(ntp)
}
