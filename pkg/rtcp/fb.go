package rtcp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// NackPair is one PID+BLP entry of a Generic NACK packet (RFC 4585 §6.2.1):
// PID is the first lost sequence number, BLP's bit i (0-indexed) marks
// PID+i+1 as also lost.
type NackPair struct {
	PacketID      uint16
	LostBitmask   uint16
}

// TransportLayerNack is RTCP Generic NACK, PT=205 FMT=1.
type TransportLayerNack struct {
	SenderSSRC uint32
	MediaSSRC  uint32
	Pairs      []NackPair
}

func (p *TransportLayerNack) PacketType() uint8 { return PTRTPFB }

func (p *TransportLayerNack) MarshalSize() int { return 4 + 8 + 4*len(p.Pairs) }

func (p *TransportLayerNack) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	packHeader(buf, fmtNACK, PTRTPFB, len(buf)-4)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.MediaSSRC)
	off := 12
	for _, pr := range p.Pairs {
		binary.BigEndian.PutUint16(buf[off:off+2], pr.PacketID)
		binary.BigEndian.PutUint16(buf[off+2:off+4], pr.LostBitmask)
		off += 4
	}
	return buf, nil
}

func parseNack(body []byte) (*TransportLayerNack, error) {
	if len(body) < 8 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated nack packet"}
	}
	p := &TransportLayerNack{
		SenderSSRC: binary.BigEndian.Uint32(body[0:4]),
		MediaSSRC:  binary.BigEndian.Uint32(body[4:8]),
	}
	off := 8
	for off+4 <= len(body) {
		p.Pairs = append(p.Pairs, NackPair{
			PacketID:    binary.BigEndian.Uint16(body[off : off+2]),
			LostBitmask: binary.BigEndian.Uint16(body[off+2 : off+4]),
		})
		off += 4
	}
	return p, nil
}

// SeqNumsFromNackPairs expands PID+BLP pairs into the individual missing
// sequence numbers they represent.
func SeqNumsFromNackPairs(pairs []NackPair) []uint16 {
	var out []uint16
	for _, pr := range pairs {
		out = append(out, pr.PacketID)
		for bit := 0; bit < 16; bit++ {
			if pr.LostBitmask&(1<<uint(bit)) != 0 {
				out = append(out, pr.PacketID+uint16(bit)+1)
			}
		}
	}
	return out
}

// NackPairsFromSeqNums packs a sorted, deduplicated list of missing
// sequence numbers into the fewest PID+BLP pairs.
func NackPairsFromSeqNums(seqs []uint16) []NackPair {
	var pairs []NackPair
	i := 0
	for i < len(seqs) {
		pid := seqs[i]
		var blp uint16
		j := i + 1
		for j < len(seqs) {
			delta := int(seqs[j]) - int(pid)
			if delta < 1 || delta > 16 {
				break
			}
			blp |= 1 << uint(delta-1)
			j++
		}
		pairs = append(pairs, NackPair{PacketID: pid, LostBitmask: blp})
		i = j
	}
	return pairs
}

// PictureLossIndication is RTCP PLI, PT=206 FMT=1 (RFC 4585 §6.3.1).
type PictureLossIndication struct {
	SenderSSRC uint32
	MediaSSRC  uint32
}

func (p *PictureLossIndication) PacketType() uint8 { return PTPSFB }
func (p *PictureLossIndication) MarshalSize() int   { return 12 }

func (p *PictureLossIndication) Marshal() ([]byte, error) {
	buf := make([]byte, 12)
	packHeader(buf, fmtPLI, PTPSFB, 8)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.MediaSSRC)
	return buf, nil
}

func parsePLI(body []byte) (*PictureLossIndication, error) {
	if len(body) < 8 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated pli packet"}
	}
	return &PictureLossIndication{
		SenderSSRC: binary.BigEndian.Uint32(body[0:4]),
		MediaSSRC:  binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

// FullIntraRequest is RTCP FIR, PT=206 FMT=4 (RFC 5104 §4.3.1).
type FullIntraRequest struct {
	SenderSSRC uint32
	MediaSSRC  uint32
	TargetSSRC uint32
	SeqNr      uint8
}

func (p *FullIntraRequest) PacketType() uint8 { return PTPSFB }
func (p *FullIntraRequest) MarshalSize() int   { return 20 }

func (p *FullIntraRequest) Marshal() ([]byte, error) {
	buf := make([]byte, 20)
	packHeader(buf, fmtFIR, PTPSFB, 16)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.MediaSSRC)
	binary.BigEndian.PutUint32(buf[12:16], p.TargetSSRC)
	buf[16] = p.SeqNr
	return buf, nil
}

func parseFIR(body []byte) (*FullIntraRequest, error) {
	if len(body) < 13 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated fir packet"}
	}
	return &FullIntraRequest{
		SenderSSRC: binary.BigEndian.Uint32(body[0:4]),
		MediaSSRC:  binary.BigEndian.Uint32(body[4:8]),
		TargetSSRC: binary.BigEndian.Uint32(body[8:12]),
		SeqNr:      body[12],
	}, nil
}

// tmmbItem is the shared FCI entry shape of TMMBR/TMMBN (RFC 5104 §4.2.1):
// SSRC + a 6-bit exponent/17-bit mantissa bitrate + 9-bit overhead.
type tmmbItem struct {
	SSRC           uint32
	BitrateBps     uint64
	OverheadBytes  uint16
}

func packTMMBItem(buf []byte, item tmmbItem) {
	binary.BigEndian.PutUint32(buf[0:4], item.SSRC)
	exp, mantissa := tmmbEncode(item.BitrateBps)
	v := (uint32(exp&0x3F) << 26) | (uint32(mantissa&0x1FFFF) << 9) | uint32(item.OverheadBytes&0x1FF)
	binary.BigEndian.PutUint32(buf[4:8], v)
}

func parseTMMBItem(buf []byte) tmmbItem {
	ssrc := binary.BigEndian.Uint32(buf[0:4])
	v := binary.BigEndian.Uint32(buf[4:8])
	exp := uint8(v >> 26)
	mantissa := (v >> 9) & 0x1FFFF
	overhead := uint16(v & 0x1FF)
	return tmmbItem{SSRC: ssrc, BitrateBps: tmmbDecode(exp, mantissa), OverheadBytes: overhead}
}

func tmmbEncode(bps uint64) (exp uint8, mantissa uint32) {
	for bps > 0x1FFFF && exp < 63 {
		bps >>= 1
		exp++
	}
	return exp, uint32(bps)
}

func tmmbDecode(exp uint8, mantissa uint32) uint64 {
	return uint64(mantissa) << exp
}

// TMMBR is RTCP Temporary Maximum Media Stream Bit Rate Request, PT=205
// FMT=3 (RFC 5104 §4.2.1).
type TMMBR struct {
	SenderSSRC uint32
	Entries    []TMMBEntry
}

// TMMBEntry names the bounded bitrate request for one SSRC.
type TMMBEntry struct {
	SSRC          uint32
	BitrateBps    uint64
	OverheadBytes uint16
}

func (p *TMMBR) PacketType() uint8 { return PTRTPFB }
func (p *TMMBR) MarshalSize() int  { return 12 + 8*len(p.Entries) }

func (p *TMMBR) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	packHeader(buf, fmtTMMBR, PTRTPFB, len(buf)-4)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], 0) // media ssrc field, unused
	off := 12
	for _, e := range p.Entries {
		packTMMBItem(buf[off:off+8], tmmbItem{SSRC: e.SSRC, BitrateBps: e.BitrateBps, OverheadBytes: e.OverheadBytes})
		off += 8
	}
	return buf, nil
}

func parseTMMBR(body []byte) (*TMMBR, error) {
	if len(body) < 8 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated tmmbr packet"}
	}
	p := &TMMBR{SenderSSRC: binary.BigEndian.Uint32(body[0:4])}
	off := 8
	for off+8 <= len(body) {
		item := parseTMMBItem(body[off : off+8])
		p.Entries = append(p.Entries, TMMBEntry{SSRC: item.SSRC, BitrateBps: item.BitrateBps, OverheadBytes: item.OverheadBytes})
		off += 8
	}
	return p, nil
}

// TMMBN is RTCP TMMBN, PT=205 FMT=4 — the receiver-side echo of the
// bounding set currently in force. spec.md's Open Question notes there is
// no sender-side generator for it; this module still parses/packs it for
// receive-side use (see DESIGN.md).
type TMMBN struct {
	SenderSSRC uint32
	Entries    []TMMBEntry
}

func (p *TMMBN) PacketType() uint8 { return PTRTPFB }
func (p *TMMBN) MarshalSize() int  { return 12 + 8*len(p.Entries) }

func (p *TMMBN) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	packHeader(buf, fmtTMMBN, PTRTPFB, len(buf)-4)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], 0)
	off := 12
	for _, e := range p.Entries {
		packTMMBItem(buf[off:off+8], tmmbItem{SSRC: e.SSRC, BitrateBps: e.BitrateBps, OverheadBytes: e.OverheadBytes})
		off += 8
	}
	return buf, nil
}

func parseTMMBN(body []byte) (*TMMBN, error) {
	if len(body) < 8 {
		return nil, &wrtcerr.InvalidRTCP{Reason: "truncated tmmbn packet"}
	}
	p := &TMMBN{SenderSSRC: binary.BigEndian.Uint32(body[0:4])}
	off := 8
	for off+8 <= len(body) {
		item := parseTMMBItem(body[off : off+8])
		p.Entries = append(p.Entries, TMMBEntry{SSRC: item.SSRC, BitrateBps: item.BitrateBps, OverheadBytes: item.OverheadBytes})
		off += 8
	}
	return p, nil
}

// ReceiverEstimatedMaxBitrate is RTCP REMB (AFB), PT=206 FMT=15.
type ReceiverEstimatedMaxBitrate struct {
	SenderSSRC uint32
	SSRCs      []uint32
	BitrateBps uint64
}

func (p *ReceiverEstimatedMaxBitrate) PacketType() uint8 { return PTPSFB }
func (p *ReceiverEstimatedMaxBitrate) MarshalSize() int  { return 20 + 4*len(p.SSRCs) }

func (p *ReceiverEstimatedMaxBitrate) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	packHeader(buf, fmtAFB, PTPSFB, len(buf)-4)
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], 0)
	copy(buf[12:16], []byte("REMB"))
	exp, mantissa := tmmbEncode(p.BitrateBps)
	v := (uint32(len(p.SSRCs)&0xFF) << 24) | (uint32(exp&0x3F) << 18) | (mantissa & 0x3FFFF)
	binary.BigEndian.PutUint32(buf[16:20], v)
	off := 20
	for _, s := range p.SSRCs {
		binary.BigEndian.PutUint32(buf[off:off+4], s)
		off += 4
	}
	return buf, nil
}

func parseREMB(body []byte) (*ReceiverEstimatedMaxBitrate, error) {
	if len(body) < 16 || string(body[8:12]) != "REMB" {
		return nil, &wrtcerr.InvalidRTCP{Reason: "malformed or non-REMB AFB packet"}
	}
	p := &ReceiverEstimatedMaxBitrate{SenderSSRC: binary.BigEndian.Uint32(body[0:4])}
	v := binary.BigEndian.Uint32(body[12:16])
	numSSRC := int(v >> 24)
	exp := uint8((v >> 18) & 0x3F)
	mantissa := v & 0x3FFFF
	p.BitrateBps = tmmbDecode(exp, mantissa)
	off := 16
	for i := 0; i < numSSRC && off+4 <= len(body); i++ {
		p.SSRCs = append(p.SSRCs, binary.BigEndian.Uint32(body[off:off+4]))
		off += 4
	}
	return p, nil
}
