// Package rtcpsession implements the RTCP "senceiver" pair from spec.md
// §4.6: RtcpSender composes and schedules outgoing compound packets,
// RtcpReceiver parses incoming ones and tracks per-SSRC RTT. The jittered
// report interval is our own scheduling; on-demand feedback (NACK/PLI/
// FIR/REMB/TMMBR), which callers can trigger far more often than the
// jittered schedule ticks, is bounded by a golang.org/x/time/rate limiter
// the same way the teacher's pkg/nest/queue.go rate-limits its API calls.
package rtcpsession

import (
	"math"
	"time"

	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/rtcp"
	"github.com/ethan/rtcpeer/pkg/units"
	"github.com/pion/randutil"
	"golang.org/x/time/rate"
)

// maxFeedbackRate and feedbackBurst bound how often on-demand feedback
// (as opposed to the scheduled jittered report) may be sent, so a flapping
// NACK/PLI source cannot flood the RTCP channel.
const (
	maxFeedbackRate = 10 // per second
	feedbackBurst   = 4
)

// Mode selects the RTCP packing mode of spec.md §4.5.
type Mode int

const (
	ModeOff Mode = iota
	ModeCompound
	ModeReducedSize
)

// SendReason selects which compound packet SendRtcp composes.
type SendReason int

const (
	ReasonReport SendReason = iota
	ReasonNack
	ReasonPLI
	ReasonFIR
	ReasonREMB
	ReasonTMMBR
)

// Transport is the wire-level sink a RtcpSender hands composed buffers to.
type Transport interface {
	WriteRTCP(buf []byte) error
}

// StreamSource supplies the per-stream fields a REPORT needs: whether we
// are actively sending (SR vs RR), our running packet/octet counts, and
// the report blocks to attach for each remote source we are receiving.
type StreamSource interface {
	IsSending() bool
	RtpTimestampAt(t units.Timestamp) uint32
	PacketCount() uint32
	OctetCount() uint32
	ReportBlocks() []rtcp.ReportBlock
}

// Sender composes and paces outgoing RTCP per spec.md §4.6.
type Sender struct {
	Mode       Mode
	LocalSSRC  uint32
	CNAME      string
	Clock      clock.Clock
	Transport  Transport
	Source     StreamSource
	MaxSize    int

	intervalAudio units.TimeDelta
	intervalVideo units.TimeDelta
	isAudio       bool
	firstReport   bool

	rembBitrate uint64
	rembSSRCs   []uint32
	fciSeq      uint8

	rng       *randutil.MathRandomGenerator
	fbLimiter *rate.Limiter
}

// NewSender constructs a Sender. isAudio selects which of intervalAudio/
// intervalVideo the jittered scheduler randomizes around.
func NewSender(localSSRC uint32, cname string, clk clock.Clock, transport Transport, source StreamSource, isAudio bool, intervalAudio, intervalVideo units.TimeDelta) *Sender {
	return &Sender{
		Mode:          ModeCompound,
		LocalSSRC:     localSSRC,
		CNAME:         cname,
		Clock:         clk,
		Transport:     transport,
		Source:        source,
		MaxSize:       1200,
		intervalAudio: intervalAudio,
		intervalVideo: intervalVideo,
		isAudio:       isAudio,
		firstReport:   true,
		rng:           randutil.NewMathRandomGenerator(),
		fbLimiter:     rate.NewLimiter(rate.Limit(maxFeedbackRate), feedbackBurst),
	}
}

// NextReportDelay returns the jittered delay until the next scheduled
// report, halved for the very first report as spec.md §4.6 requires.
func (s *Sender) NextReportDelay() units.TimeDelta {
	base := s.intervalVideo
	if s.isAudio {
		base = s.intervalAudio
	}
	// jitter uniformly in [0.5, 1.5) * base, the same "don't fire on a
	// rigid tick" idea as the teacher's rate-limited API call pacing in
	// pkg/nest/queue.go, applied to RTCP report pacing instead.
	fraction := 0.5 + float64(s.rng.Uint32())/float64(math.MaxUint32)
	jittered := units.Micros(int64(float64(base.Micros()) * fraction))
	if s.firstReport {
		s.firstReport = false
		jittered = units.Micros(jittered.Micros() / 2)
	}
	return jittered
}

// SendRtcp composes and hands off a compound packet for reason.
func (s *Sender) SendRtcp(reason SendReason, extra ...rtcp.Packet) error {
	if s.Mode == ModeOff {
		return nil
	}
	if reason != ReasonReport && !s.fbLimiter.AllowN(time.Now(), 1) {
		return nil
	}
	cp := rtcp.NewCompoundPacket(s.MaxSize, s.LocalSSRC)

	switch reason {
	case ReasonReport:
		s.addReportHead(cp)
		cp.Add(&rtcp.SourceDescription{Chunks: []rtcp.SDESChunk{{SSRC: s.LocalSSRC, CNAME: s.CNAME}}})
	default:
		// Feedback reasons still need a compliant compound head; REPORT
		// content is folded in so every flushed buffer starts with SR/RR.
		s.addReportHead(cp)
	}

	for _, p := range extra {
		cp.Add(p)
	}

	buffers, err := cp.Flush()
	if err != nil {
		return err
	}
	for _, buf := range buffers {
		if err := s.Transport.WriteRTCP(buf); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) addReportHead(cp *rtcp.CompoundPacket) {
	blocks := s.Source.ReportBlocks()
	if s.Source.IsSending() {
		now := s.Clock.Now()
		ntp := s.Clock.NtpNow()
		cp.Add(&rtcp.SenderReport{
			SenderSSRC:   s.LocalSSRC,
			NtpSeconds:   ntp.Seconds,
			NtpFraction:  ntp.Fraction,
			RtpTimestamp: s.Source.RtpTimestampAt(now),
			PacketCount:  s.Source.PacketCount(),
			OctetCount:   s.Source.OctetCount(),
			Reports:      blocks,
		})
		return
	}
	cp.Add(&rtcp.ReceiverReport{SenderSSRC: s.LocalSSRC, Reports: blocks})
}

// SendNack composes a NACK feedback packet for the given missing sequence
// numbers targeting mediaSSRC.
func (s *Sender) SendNack(mediaSSRC uint32, missing []uint16) error {
	nack := &rtcp.TransportLayerNack{
		SenderSSRC: s.LocalSSRC,
		MediaSSRC:  mediaSSRC,
		Pairs:      rtcp.NackPairsFromSeqNums(missing),
	}
	return s.SendRtcp(ReasonNack, nack)
}

// SendPLI requests a keyframe on mediaSSRC.
func (s *Sender) SendPLI(mediaSSRC uint32) error {
	return s.SendRtcp(ReasonPLI, &rtcp.PictureLossIndication{SenderSSRC: s.LocalSSRC, MediaSSRC: mediaSSRC})
}

// SendFIR requests a keyframe on mediaSSRC with an incrementing FCI sequence.
func (s *Sender) SendFIR(mediaSSRC uint32) error {
	s.fciSeq++
	return s.SendRtcp(ReasonFIR, &rtcp.FullIntraRequest{SenderSSRC: s.LocalSSRC, MediaSSRC: mediaSSRC, TargetSSRC: mediaSSRC, SeqNr: s.fciSeq})
}

// SendREMB advertises a receiver-estimated max bitrate for ssrcs.
func (s *Sender) SendREMB(bitrateBps uint64, ssrcs []uint32) error {
	return s.SendRtcp(ReasonREMB, &rtcp.ReceiverEstimatedMaxBitrate{SenderSSRC: s.LocalSSRC, SSRCs: ssrcs, BitrateBps: bitrateBps})
}
