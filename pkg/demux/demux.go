// Package demux routes RTP and RTCP packets to their owning sinks by
// SSRC, falling back to MID/RID for RTP whose SSRC hasn't been bound yet.
// Grounded on spec.md §4.7 and on the teacher's pkg/bridge SSRC-keyed
// session bookkeeping, generalized from a single-peer relay table into a
// general sink registry.
package demux

import (
	"github.com/ethan/rtcpeer/pkg/rtcp"
	"github.com/ethan/rtcpeer/pkg/rtp"
)

// RTPSink receives demultiplexed RTP packets.
type RTPSink interface {
	OnRtpPacket(pkt *rtp.Packet)
}

// RTCPSink receives demultiplexed RTCP packets.
type RTCPSink interface {
	OnRtcpPacket(pkt rtcp.Packet)
}

// Stats counts packets that could not be routed to any sink, per spec.md
// §4.7's "silent drop with a debug counter" rule.
type Stats struct {
	UnroutedRTP  uint64
	UnroutedRTCP uint64
}

// Demuxer routes RTP by SSRC (falling back to MID/RID when the SSRC is
// unknown) and RTCP by every sender/media SSRC named in a compound
// packet's sub-packets.
type Demuxer struct {
	bySSRC   map[uint32]RTPSink
	byMid    map[string]RTPSink
	byRid    map[string]RTPSink
	rtcpBySSRC map[uint32]RTCPSink

	Stats Stats
}

// New returns an empty Demuxer.
func New() *Demuxer {
	return &Demuxer{
		bySSRC:     make(map[uint32]RTPSink),
		byMid:      make(map[string]RTPSink),
		byRid:      make(map[string]RTPSink),
		rtcpBySSRC: make(map[uint32]RTCPSink),
	}
}

// BindSSRC associates ssrc with sink for RTP routing. Passing a nil sink
// unbinds the SSRC (the teacher's "weakly referenced sink" is modeled here
// as an explicit unbind rather than a GC-observed weak pointer, since Go
// has no portable weak references prior to this module's target runtime).
func (d *Demuxer) BindSSRC(ssrc uint32, sink RTPSink) {
	if sink == nil {
		delete(d.bySSRC, ssrc)
		return
	}
	d.bySSRC[ssrc] = sink
}

// BindMid associates a MID header-extension value with sink, used the
// first time a new SSRC's mid is observed before the SSRC binding lands.
func (d *Demuxer) BindMid(mid string, sink RTPSink) {
	if sink == nil {
		delete(d.byMid, mid)
		return
	}
	d.byMid[mid] = sink
}

// BindRid associates a RID/RRID header-extension value with sink.
func (d *Demuxer) BindRid(rid string, sink RTPSink) {
	if sink == nil {
		delete(d.byRid, rid)
		return
	}
	d.byRid[rid] = sink
}

// BindRTCPSSRC associates ssrc with sink for RTCP routing.
func (d *Demuxer) BindRTCPSSRC(ssrc uint32, sink RTCPSink) {
	if sink == nil {
		delete(d.rtcpBySSRC, ssrc)
		return
	}
	d.rtcpBySSRC[ssrc] = sink
}

// DispatchRTP routes pkt to its sink, preferring an existing SSRC
// binding, then falling back to MID/RID extensions (and remembering the
// SSRC binding for subsequent packets once resolved this way).
func (d *Demuxer) DispatchRTP(pkt *rtp.Packet, extMap *rtp.HeaderExtensionMap) {
	if sink, ok := d.bySSRC[pkt.SSRC]; ok {
		sink.OnRtpPacket(pkt)
		return
	}
	if extMap != nil {
		if mid, ok := extMap.GetMid(&pkt.Header); ok {
			if sink, ok := d.byMid[mid]; ok {
				d.bySSRC[pkt.SSRC] = sink
				sink.OnRtpPacket(pkt)
				return
			}
		}
		if rid, ok := extMap.GetRtpStreamID(&pkt.Header); ok {
			if sink, ok := d.byRid[rid]; ok {
				d.bySSRC[pkt.SSRC] = sink
				sink.OnRtpPacket(pkt)
				return
			}
		}
	}
	d.Stats.UnroutedRTP++
}

// DispatchRTCP parses buf as a compound RTCP packet and routes each
// sub-packet to every sink whose SSRC it names (sender SSRC, report-block
// source SSRCs, feedback media SSRC).
func (d *Demuxer) DispatchRTCP(buf []byte) error {
	packets, err := rtcp.ParseCompound(buf)
	if err != nil {
		return err
	}
	for _, p := range packets {
		d.dispatchOne(p)
	}
	return nil
}

func (d *Demuxer) dispatchOne(p rtcp.Packet) {
	routed := false
	for _, ssrc := range ssrcsOf(p) {
		if sink, ok := d.rtcpBySSRC[ssrc]; ok {
			sink.OnRtcpPacket(p)
			routed = true
		}
	}
	if !routed {
		d.Stats.UnroutedRTCP++
	}
}

func ssrcsOf(p rtcp.Packet) []uint32 {
	switch pkt := p.(type) {
	case *rtcp.SenderReport:
		ssrcs := []uint32{pkt.SenderSSRC}
		for _, rb := range pkt.Reports {
			ssrcs = append(ssrcs, rb.SourceSSRC)
		}
		return ssrcs
	case *rtcp.ReceiverReport:
		ssrcs := []uint32{pkt.SenderSSRC}
		for _, rb := range pkt.Reports {
			ssrcs = append(ssrcs, rb.SourceSSRC)
		}
		return ssrcs
	case *rtcp.SourceDescription:
		ssrcs := make([]uint32, 0, len(pkt.Chunks))
		for _, c := range pkt.Chunks {
			ssrcs = append(ssrcs, c.SSRC)
		}
		return ssrcs
	case *rtcp.Bye:
		return pkt.SSRCs
	case *rtcp.TransportLayerNack:
		return []uint32{pkt.SenderSSRC, pkt.MediaSSRC}
	case *rtcp.PictureLossIndication:
		return []uint32{pkt.SenderSSRC, pkt.MediaSSRC}
	case *rtcp.FullIntraRequest:
		return []uint32{pkt.SenderSSRC, pkt.MediaSSRC}
	case *rtcp.TMMBR:
		return []uint32{pkt.SenderSSRC}
	case *rtcp.TMMBN:
		return []uint32{pkt.SenderSSRC}
	case *rtcp.ReceiverEstimatedMaxBitrate:
		ssrcs := append([]uint32{pkt.SenderSSRC}, pkt.SSRCs...)
		return ssrcs
	case *rtcp.TransportCCFeedback:
		return []uint32{pkt.SenderSSRC, pkt.MediaSSRC}
	case *rtcp.ExtendedReport:
		ssrcs := []uint32{pkt.SenderSSRC}
		for _, d := range pkt.DLRRReports {
			ssrcs = append(ssrcs, d.SSRC)
		}
		return ssrcs
	default:
		return nil
	}
}
