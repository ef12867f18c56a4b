// Package receive implements the per-SSRC receive statistics and NACK
// scheduling of spec.md §4.9, grounded on the teacher's pkg/bridge
// per-connection packet counters generalized into a standalone,
// clock-driven component.
package receive

import (
	"math"

	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/rtcp"
	"github.com/ethan/rtcpeer/pkg/units"
)

const maxReorderingThreshold = 100

// RtpStreamStatistician accumulates loss, jitter, and report-block state
// for a single incoming SSRC.
type RtpStreamStatistician struct {
	clk    clock.Clock
	freqHz uint32

	unwrapper *SeqNumUnwrapper

	received        uint64
	receivedBytes   uint64
	extendedHighest int64
	baseSeq         int64
	haveBase        bool

	sinceLastReportReceived uint64
	lastReportExtendedHigh  int64

	jitter               float64
	lastArrival          units.Timestamp
	lastRtpTs            uint32
	haveLastJitterSample bool

	lastSRNtpMiddle32 uint32
	lastSRArrival     units.Timestamp
}

// NewRtpStreamStatistician returns a statistician for an SSRC whose RTP
// clock runs at freqHz (e.g. 90000 for video, 48000 for opus).
func NewRtpStreamStatistician(clk clock.Clock, freqHz uint32) *RtpStreamStatistician {
	return &RtpStreamStatistician{
		clk:       clk,
		freqHz:    freqHz,
		unwrapper: NewSeqNumUnwrapper(),
	}
}

// OnRtpPacket folds in one received packet's sequence number, RTP
// timestamp, and wire size. Every arriving packet counts as received; no
// retransmission detection is done, and maxReorderingThreshold is not
// consulted.
func (s *RtpStreamStatistician) OnRtpPacket(seq uint16, rtpTimestamp uint32, payloadSize int) {
	unwrapped := s.unwrapper.Unwrap(seq)
	arrival := s.clk.Now()

	s.received++
	s.sinceLastReportReceived++
	s.receivedBytes += uint64(payloadSize)

	if !s.haveBase {
		s.haveBase = true
		s.baseSeq = unwrapped
		s.extendedHighest = unwrapped
		s.lastReportExtendedHigh = unwrapped - 1
	} else if unwrapped > s.extendedHighest {
		s.extendedHighest = unwrapped
	}

	if s.haveLastJitterSample {
		d := arrival.Sub(s.lastArrival).Seconds() - float64(int64(rtpTimestamp)-int64(s.lastRtpTs))/float64(s.freqHz)
		s.jitter += (math.Abs(d) - s.jitter) / 16
	}
	s.haveLastJitterSample = true
	s.lastArrival = arrival
	s.lastRtpTs = rtpTimestamp
}

// OnSenderReport records a remote SR's NTP middle-32 and local arrival
// time, used for the DLRR echo in the next outgoing report block.
func (s *RtpStreamStatistician) OnSenderReport(ntp units.NtpTime) {
	s.lastSRNtpMiddle32 = ntp.Middle32()
	s.lastSRArrival = s.clk.Now()
}

// cumulativeLostNow derives cumulative packets lost as
// (extendedHighest - baseSeq + 1) - received, clamped to a signed 24-bit
// range per RFC 3550 §6.4.1.
func (s *RtpStreamStatistician) cumulativeLostNow() int64 {
	if !s.haveBase {
		return 0
	}
	expected := s.extendedHighest - s.baseSeq + 1
	lost := expected - int64(s.received)
	const maxSigned24 = 1<<23 - 1
	const minSigned24 = -(1 << 23)
	if lost > maxSigned24 {
		return maxSigned24
	}
	if lost < minSigned24 {
		return minSigned24
	}
	return lost
}

// GetReportBlock returns a report block covering activity since the last
// call, or (_, false) when nothing has been received in that window.
func (s *RtpStreamStatistician) GetReportBlock(sourceSSRC uint32) (rtcp.ReportBlock, bool) {
	if s.sinceLastReportReceived == 0 {
		return rtcp.ReportBlock{}, false
	}

	expectedInterval := s.extendedHighest - s.lastReportExtendedHigh
	lostInterval := expectedInterval - int64(s.sinceLastReportReceived)

	var fraction uint8
	if expectedInterval > 0 && lostInterval > 0 {
		fraction = uint8((lostInterval * 256) / expectedInterval)
	}

	var dlsr uint32
	if !s.lastSRArrival.IsPlusInfinity() && s.lastSRNtpMiddle32 != 0 {
		elapsed := s.clk.Now().Sub(s.lastSRArrival)
		dlsr = uint32(elapsed.Seconds() * 65536)
	}

	block := rtcp.ReportBlock{
		SourceSSRC:       sourceSSRC,
		FractionLost:     fraction,
		CumulativeLost:   int32(s.cumulativeLostNow()),
		ExtendedHighest:  uint32(s.extendedHighest),
		Jitter:           uint32(s.jitter * float64(s.freqHz)),
		LastSR:           s.lastSRNtpMiddle32,
		DelaySinceLastSR: dlsr,
	}

	s.sinceLastReportReceived = 0
	s.lastReportExtendedHigh = s.extendedHighest
	return block, true
}

// ExtendedHighest returns the unwrapped highest sequence number seen.
func (s *RtpStreamStatistician) ExtendedHighest() int64 { return s.extendedHighest }

// CumulativeLost returns the running cumulative-lost count.
func (s *RtpStreamStatistician) CumulativeLost() int64 { return s.cumulativeLostNow() }

// Jitter returns the current interarrival jitter estimate in RTP timestamp units.
func (s *RtpStreamStatistician) Jitter() float64 { return s.jitter * float64(s.freqHz) }
