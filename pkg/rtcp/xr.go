package rtcp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

const (
	xrBlockDLRR            = 5
	xrBlockTargetBitrate   = 42
	xrBlockReceiverRefTime = 4
)

// DLRRReport is one sub-block entry of an RFC 3611 §4.5 DLRR report block:
// last-receiver-report and delay-since-last-rr for one SSRC.
type DLRRReport struct {
	SSRC             uint32
	LastRR           uint32
	DelaySinceLastRR uint32
}

// TargetBitrate is one RFC to come / WebRTC-extension Target Bitrate entry:
// a per-spatial/temporal-layer bitrate hint (used by simulcast senders).
type TargetBitrate struct {
	SpatialLayer  uint8
	TemporalLayer uint8
	BitrateKbps   uint32
}

// ReceiverReferenceTime is the RFC 3611 §4.4 single-block report: the NTP
// timestamp of the receiver itself, echoed back by peers' DLRR blocks.
type ReceiverReferenceTime struct {
	NtpSeconds  uint32
	NtpFraction uint32
}

// ExtendedReport is RTCP XR, PT=207 (RFC 3611). This module implements the
// DLRR, Target-Bitrate, and Receiver Reference Time sub-blocks named in
// spec.md §4.5; other XR block types are not modeled.
type ExtendedReport struct {
	SenderSSRC     uint32
	DLRRReports    []DLRRReport
	TargetBitrates []TargetBitrate
	ReceiverRefTime *ReceiverReferenceTime
}

func (p *ExtendedReport) PacketType() uint8 { return PTXR }

func (p *ExtendedReport) MarshalSize() int {
	size := 8
	if len(p.DLRRReports) > 0 {
		size += 4 + 12*len(p.DLRRReports)
	}
	if len(p.TargetBitrates) > 0 {
		size += 4 + 8*len(p.TargetBitrates)
	}
	if p.ReceiverRefTime != nil {
		size += 4 + 8
	}
	return size
}

func (p *ExtendedReport) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	packHeader(buf, 0, PTXR, len(buf)-4)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	off := 8

	if len(p.DLRRReports) > 0 {
		blockLenWords := 3 * len(p.DLRRReports)
		buf[off] = xrBlockDLRR
		buf[off+1] = 0
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(blockLenWords))
		off += 4
		for _, r := range p.DLRRReports {
			binary.BigEndian.PutUint32(buf[off:off+4], r.SSRC)
			binary.BigEndian.PutUint32(buf[off+4:off+8], r.LastRR)
			binary.BigEndian.PutUint32(buf[off+8:off+12], r.DelaySinceLastRR)
			off += 12
		}
	}

	if len(p.TargetBitrates) > 0 {
		blockLenWords := 2 * len(p.TargetBitrates)
		buf[off] = xrBlockTargetBitrate
		buf[off+1] = 0
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(blockLenWords))
		off += 4
		for _, t := range p.TargetBitrates {
			// layout: [spatial(8) temporal(8) reserved(16)][bitrate_kbps(32)]
			binary.BigEndian.PutUint32(buf[off:off+4], uint32(t.SpatialLayer)<<24|uint32(t.TemporalLayer)<<16)
			binary.BigEndian.PutUint32(buf[off+4:off+8], t.BitrateKbps)
			off += 8
		}
	}

	if p.ReceiverRefTime != nil {
		buf[off] = xrBlockReceiverRefTime
		buf[off+1] = 0
		binary.BigEndian.PutUint16(buf[off+2:off+4], 2)
		off += 4
		binary.BigEndian.PutUint32(buf[off:off+4], p.ReceiverRefTime.NtpSeconds)
		binary.BigEndian.PutUint32(buf[off+4:off+8], p.ReceiverRefTime.NtpFraction)
		off += 8
	}

	return buf, nil
}

func parseExtendedReport(body []byte) (*ExtendedReport, error) {
	if len(body) < 4 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated xr packet"}
	}
	p := &ExtendedReport{SenderSSRC: binary.BigEndian.Uint32(body[0:4])}
	off := 4
	for off+4 <= len(body) {
		blockType := body[off]
		blockLenWords := int(binary.BigEndian.Uint16(body[off+2 : off+4]))
		blockBytes := blockLenWords * 4
		off += 4
		if off+blockBytes > len(body) {
			return nil, &wrtcerr.InvalidRTCP{Reason: "xr sub-block exceeds packet"}
		}
		block := body[off : off+blockBytes]
		switch blockType {
		case xrBlockDLRR:
			for i := 0; i+12 <= len(block); i += 12 {
				p.DLRRReports = append(p.DLRRReports, DLRRReport{
					SSRC:             binary.BigEndian.Uint32(block[i : i+4]),
					LastRR:           binary.BigEndian.Uint32(block[i+4 : i+8]),
					DelaySinceLastRR: binary.BigEndian.Uint32(block[i+8 : i+12]),
				})
			}
		case xrBlockTargetBitrate:
			for i := 0; i+8 <= len(block); i += 8 {
				p.TargetBitrates = append(p.TargetBitrates, TargetBitrate{
					SpatialLayer:  block[i],
					TemporalLayer: block[i+1],
					BitrateKbps:   binary.BigEndian.Uint32(block[i+4 : i+8]),
				})
			}
		case xrBlockReceiverRefTime:
			if len(block) >= 8 {
				p.ReceiverRefTime = &ReceiverReferenceTime{
					NtpSeconds:  binary.BigEndian.Uint32(block[0:4]),
					NtpFraction: binary.BigEndian.Uint32(block[4:8]),
				}
			}
		}
		off += blockBytes
	}
	return p, nil
}
