package rtcpsession

import (
	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/rtcp"
	"github.com/ethan/rtcpeer/pkg/units"
)

// remoteSenderState tracks what we know about one remote SSRC from its SR
// stream, used to compute RTT from the next DLRR-bearing report we send.
type remoteSenderState struct {
	lastSRNtpMiddle32 uint32
	lastSRArrival     units.Timestamp
	rtt               *ExpFilter
	lastRttSeconds    float64
	minRttSeconds     float64
	maxRttSeconds     float64
}

// Observer receives RtcpReceiver callbacks, mirroring spec.md §4.6's
// OnReceivedNack/OnRequestSendReport/SetTmmbn/OnReceivedRtcpReportBlocks.
type Observer interface {
	OnReceivedNack(senderSSRC, mediaSSRC uint32, missing []uint16)
	OnRequestSendReport(mediaSSRC uint32, keyframe bool)
	SetTmmbn(entries []rtcp.TMMBEntry)
	OnReceivedRtcpReportBlocks(blocks []rtcp.ReportBlock)
}

// Receiver parses incoming compound packets and keeps per-SSRC RTT state.
type Receiver struct {
	Clock    clock.Clock
	Observer Observer

	remotes map[uint32]*remoteSenderState
}

// NewReceiver constructs a Receiver. observer may be nil to discard callbacks.
func NewReceiver(clk clock.Clock, observer Observer) *Receiver {
	return &Receiver{Clock: clk, Observer: observer, remotes: make(map[uint32]*remoteSenderState)}
}

// HandleIncoming parses buf as a compound RTCP packet and dispatches every
// sub-packet to the right update path.
func (r *Receiver) HandleIncoming(buf []byte) error {
	packets, err := rtcp.ParseCompound(buf)
	if err != nil {
		return err
	}
	for _, p := range packets {
		r.handleOne(p)
	}
	return nil
}

func (r *Receiver) handleOne(p rtcp.Packet) {
	switch pkt := p.(type) {
	case *rtcp.SenderReport:
		r.onSenderReport(pkt)
		if r.Observer != nil {
			r.Observer.OnReceivedRtcpReportBlocks(pkt.Reports)
		}
	case *rtcp.ReceiverReport:
		r.onReceiverReport(pkt)
		if r.Observer != nil {
			r.Observer.OnReceivedRtcpReportBlocks(pkt.Reports)
		}
	case *rtcp.TransportLayerNack:
		if r.Observer != nil {
			r.Observer.OnReceivedNack(pkt.SenderSSRC, pkt.MediaSSRC, rtcp.SeqNumsFromNackPairs(pkt.Pairs))
		}
	case *rtcp.PictureLossIndication:
		if r.Observer != nil {
			r.Observer.OnRequestSendReport(pkt.MediaSSRC, true)
		}
	case *rtcp.FullIntraRequest:
		if r.Observer != nil {
			r.Observer.OnRequestSendReport(pkt.MediaSSRC, true)
		}
	case *rtcp.TMMBN:
		if r.Observer != nil {
			r.Observer.SetTmmbn(pkt.Entries)
		}
	}
}

func (r *Receiver) onSenderReport(pkt *rtcp.SenderReport) {
	state := r.stateFor(pkt.SenderSSRC)
	state.lastSRNtpMiddle32 = units.NtpTime{Seconds: pkt.NtpSeconds, Fraction: pkt.NtpFraction}.Middle32()
	state.lastSRArrival = r.Clock.Now()
}

func (r *Receiver) onReceiverReport(pkt *rtcp.ReceiverReport) {
	for _, block := range pkt.Reports {
		if block.LastSR == 0 {
			continue
		}
		state, ok := r.remotes[pkt.SenderSSRC]
		if !ok {
			continue
		}
		r.updateRTT(state, block)
	}
}

// updateRTT implements the RFC 3550 §A.8 round-trip-time estimate from a
// report block's LastSR/DelaySinceLastSR against our own NTP clock,
// folding the sample into the per-remote ExpFilter.
func (r *Receiver) updateRTT(state *remoteSenderState, block rtcp.ReportBlock) {
	if block.LastSR != state.lastSRNtpMiddle32 {
		return
	}
	nowMiddle32 := r.Clock.NtpNow().Middle32()
	rttUnits := int64(nowMiddle32) - int64(block.LastSR) - int64(block.DelaySinceLastSR)
	rttSeconds := float64(uint32(rttUnits)) / 65536.0
	if rttSeconds < 0 {
		return
	}
	state.lastRttSeconds = rttSeconds
	if state.minRttSeconds == 0 || rttSeconds < state.minRttSeconds {
		state.minRttSeconds = rttSeconds
	}
	if rttSeconds > state.maxRttSeconds {
		state.maxRttSeconds = rttSeconds
	}
	if state.rtt == nil {
		state.rtt = NewExpFilter(0.9)
	}
	state.rtt.Apply(1, rttSeconds)
}

func (r *Receiver) stateFor(ssrc uint32) *remoteSenderState {
	state, ok := r.remotes[ssrc]
	if !ok {
		state = &remoteSenderState{}
		r.remotes[ssrc] = state
	}
	return state
}

// RTT returns {last, avg, min, max} round-trip-time in seconds for ssrc,
// and false if no sample has been taken yet.
func (r *Receiver) RTT(ssrc uint32) (last, avg, min, max float64, ok bool) {
	state, found := r.remotes[ssrc]
	if !found || state.rtt == nil || !state.rtt.IsSet() {
		return 0, 0, 0, 0, false
	}
	return state.lastRttSeconds, state.rtt.Value(), state.minRttSeconds, state.maxRttSeconds, true
}

// NTP returns the last remote SR's NTP middle-32 alongside our own NTP
// middle-32 at the moment that SR arrived, matching spec.md §4.6's
// NTP(...) accessor used to build DLRR echoes.
func (r *Receiver) NTP(ssrc uint32) (lastSRMiddle32 uint32, arrivalMiddle32 uint32, ok bool) {
	state, found := r.remotes[ssrc]
	if !found || state.lastSRNtpMiddle32 == 0 {
		return 0, 0, false
	}
	sinceArrival := r.Clock.Now().Sub(state.lastSRArrival)
	arrival := r.Clock.NtpNow().Middle32() - uint32(sinceArrival.Seconds()*65536)
	return state.lastSRNtpMiddle32, arrival, true
}
