package rtcp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// SenderReport is RTCP SR, PT=200.
type SenderReport struct {
	SenderSSRC   uint32
	NtpSeconds   uint32
	NtpFraction  uint32
	RtpTimestamp uint32
	PacketCount  uint32
	OctetCount   uint32
	Reports      []ReportBlock
}

func (p *SenderReport) PacketType() uint8 { return PTSenderReport }

func (p *SenderReport) MarshalSize() int {
	return 4 + 24 + len(p.Reports)*reportBlockSize
}

func (p *SenderReport) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	bodyLen := p.MarshalSize() - 4
	packHeader(buf, uint8(len(p.Reports)), PTSenderReport, bodyLen)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.NtpSeconds)
	binary.BigEndian.PutUint32(buf[12:16], p.NtpFraction)
	binary.BigEndian.PutUint32(buf[16:20], p.RtpTimestamp)
	binary.BigEndian.PutUint32(buf[20:24], p.PacketCount)
	binary.BigEndian.PutUint32(buf[24:28], p.OctetCount)
	off := 28
	for _, rb := range p.Reports {
		rb.Pack(buf[off : off+reportBlockSize])
		off += reportBlockSize
	}
	return buf, nil
}

func parseSenderReport(h header, body []byte) (*SenderReport, error) {
	if len(body) < 24 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated sender report"}
	}
	p := &SenderReport{
		SenderSSRC:   binary.BigEndian.Uint32(body[0:4]),
		NtpSeconds:   binary.BigEndian.Uint32(body[4:8]),
		NtpFraction:  binary.BigEndian.Uint32(body[8:12]),
		RtpTimestamp: binary.BigEndian.Uint32(body[12:16]),
		PacketCount:  binary.BigEndian.Uint32(body[16:20]),
		OctetCount:   binary.BigEndian.Uint32(body[20:24]),
	}
	off := 24
	for i := uint8(0); i < h.Count; i++ {
		if off+reportBlockSize > len(body) {
			return nil, &wrtcerr.InvalidRTCP{Reason: "sender report missing a declared report block"}
		}
		rb, err := ParseReportBlock(body[off : off+reportBlockSize])
		if err != nil {
			return nil, err
		}
		p.Reports = append(p.Reports, rb)
		off += reportBlockSize
	}
	return p, nil
}

// ReceiverReport is RTCP RR, PT=201.
type ReceiverReport struct {
	SenderSSRC uint32
	Reports    []ReportBlock
}

func (p *ReceiverReport) PacketType() uint8 { return PTReceiverReport }

func (p *ReceiverReport) MarshalSize() int {
	return 4 + 4 + len(p.Reports)*reportBlockSize
}

func (p *ReceiverReport) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	bodyLen := p.MarshalSize() - 4
	packHeader(buf, uint8(len(p.Reports)), PTReceiverReport, bodyLen)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	off := 8
	for _, rb := range p.Reports {
		rb.Pack(buf[off : off+reportBlockSize])
		off += reportBlockSize
	}
	return buf, nil
}

func parseReceiverReport(h header, body []byte) (*ReceiverReport, error) {
	if len(body) < 4 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated receiver report"}
	}
	p := &ReceiverReport{SenderSSRC: binary.BigEndian.Uint32(body[0:4])}
	off := 4
	for i := uint8(0); i < h.Count; i++ {
		if off+reportBlockSize > len(body) {
			return nil, &wrtcerr.InvalidRTCP{Reason: "receiver report missing a declared report block"}
		}
		rb, err := ParseReportBlock(body[off : off+reportBlockSize])
		if err != nil {
			return nil, err
		}
		p.Reports = append(p.Reports, rb)
		off += reportBlockSize
	}
	return p, nil
}
