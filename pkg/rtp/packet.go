// Package rtp is the native RTP packet model from spec.md §4.2: header,
// CSRC list, one- or two-byte header extensions, payload, and padding, with
// parse/build preserving every field exactly (spec.md §8 testable property
// 2). This package intentionally does not call github.com/pion/rtp — the
// packet model is core, in-scope engineering per spec.md §2, not an
// external collaborator (see DESIGN.md's "Dropped teacher dependencies").
package rtp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/units"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

const (
	version2        = 2
	fixedHeaderSize = 12
	oneByteExtProfile = 0xBEDE
	twoByteExtProfile = 0x1000
)

// Header is the fixed and variable-length portion of an RTP packet
// preceding the payload (spec.md §4.2).
type Header struct {
	Version        uint8
	Padding        bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32

	// Extensions holds raw per-id extension payloads, in insertion order
	// of first Set. TwoByte forces the two-byte extension profile even
	// when every id fits in [1,14] (spec.md §4.2: "one-byte header is
	// used when all active ids are in [1,14]; otherwise two-byte").
	extOrder []uint8
	ext      map[uint8][]byte
	TwoByte  bool
}

// Packet is a full RTP packet: header, payload, and trailing padding.
type Packet struct {
	Header
	Payload     []byte
	PaddingSize uint8

	// IsRecovered marks a packet synthesized by RTX or ULPFEC recovery
	// rather than received directly off the wire (spec.md §4.4, §4.8).
	// It is never part of the wire encoding.
	IsRecovered bool

	// ArrivalTime is the local receive timestamp, set by the demuxer and
	// consulted by jitter/statistics code; also not part of the wire
	// encoding.
	ArrivalTime units.Timestamp
}

func newHeader() Header {
	return Header{Version: version2, ext: make(map[uint8][]byte)}
}

// NewPacket returns a Packet with Version 2 and an empty extension map.
func NewPacket() *Packet {
	return &Packet{Header: newHeader()}
}

// SetExtension stores the raw bytes for header-extension id, preserving
// first-insertion order across re-sets.
func (h *Header) SetExtension(id uint8, payload []byte) {
	if h.ext == nil {
		h.ext = make(map[uint8][]byte)
	}
	if _, exists := h.ext[id]; !exists {
		h.extOrder = append(h.extOrder, id)
	}
	h.ext[id] = payload
}

// GetExtension returns the raw bytes stored for id, if any.
func (h *Header) GetExtension(id uint8) ([]byte, bool) {
	b, ok := h.ext[id]
	return b, ok
}

// DelExtension removes id from the extension map.
func (h *Header) DelExtension(id uint8) {
	if _, ok := h.ext[id]; !ok {
		return
	}
	delete(h.ext, id)
	for i, existing := range h.extOrder {
		if existing == id {
			h.extOrder = append(h.extOrder[:i], h.extOrder[i+1:]...)
			break
		}
	}
}

// ExtensionIDs returns the active extension ids in insertion order.
func (h *Header) ExtensionIDs() []uint8 {
	out := make([]uint8, len(h.extOrder))
	copy(out, h.extOrder)
	return out
}

// needsTwoByte reports whether the active extension set requires the
// two-byte profile: any id outside [1,14], any payload longer than 16
// bytes, or the caller forced it via Header.TwoByte.
func (h *Header) needsTwoByte() bool {
	if h.TwoByte {
		return true
	}
	for _, id := range h.extOrder {
		if id < 1 || id > 14 || len(h.ext[id]) > 16 {
			return true
		}
	}
	return false
}

func (h *Header) extensionBlockSize() int {
	if len(h.extOrder) == 0 {
		return 0
	}
	twoByte := h.needsTwoByte()
	n := 0
	for _, id := range h.extOrder {
		if twoByte {
			n += 2 + len(h.ext[id])
		} else {
			n += 1 + len(h.ext[id])
		}
	}
	// 4-byte profile+length word, then the extension elements, padded to
	// a 32-bit boundary (spec.md §4.2: "word-aligned").
	total := 4 + n
	if rem := total % 4; rem != 0 {
		total += 4 - rem
	}
	return total
}

// HeaderSize returns 12 + 4*len(CSRC) + the word-aligned extension block
// size, per spec.md §4.2's invariant.
func (h *Header) HeaderSize() int {
	return fixedHeaderSize + 4*len(h.CSRC) + h.extensionBlockSize()
}

// MarshalSize returns the total wire size of the packet, including padding.
func (p *Packet) MarshalSize() int {
	size := p.HeaderSize() + len(p.Payload)
	if p.Padding {
		size += int(p.PaddingSize)
	}
	return size
}

// Marshal encodes the packet to a newly allocated buffer.
func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	n, err := p.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// MarshalTo encodes the packet into buf, which must be at least
// MarshalSize() bytes, and returns the number of bytes written.
func (p *Packet) MarshalTo(buf []byte) (int, error) {
	size := p.MarshalSize()
	if len(buf) < size {
		return 0, &wrtcerr.InvalidRTP{Reason: "destination buffer smaller than MarshalSize"}
	}

	b0 := byte(version2<<6) | byte(len(p.CSRC)&0x0F)
	if p.Padding {
		b0 |= 0x20
	}
	hasExt := len(p.extOrder) > 0
	if hasExt {
		b0 |= 0x10
	}
	buf[0] = b0

	b1 := p.PayloadType & 0x7F
	if p.Marker {
		b1 |= 0x80
	}
	buf[1] = b1

	binary.BigEndian.PutUint16(buf[2:4], p.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], p.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.SSRC)

	offset := fixedHeaderSize
	for _, csrc := range p.CSRC {
		binary.BigEndian.PutUint32(buf[offset:offset+4], csrc)
		offset += 4
	}

	if hasExt {
		blockSize := p.extensionBlockSize()
		twoByte := p.needsTwoByte()
		if twoByte {
			binary.BigEndian.PutUint16(buf[offset:offset+2], twoByteExtProfile)
		} else {
			binary.BigEndian.PutUint16(buf[offset:offset+2], oneByteExtProfile)
		}
		lengthWords := (blockSize - 4) / 4
		binary.BigEndian.PutUint16(buf[offset+2:offset+4], uint16(lengthWords))
		cursor := offset + 4
		for _, id := range p.extOrder {
			payload := p.ext[id]
			if twoByte {
				buf[cursor] = id
				buf[cursor+1] = byte(len(payload))
				cursor += 2
			} else {
				buf[cursor] = (id << 4) | byte(len(payload)-1)
				cursor++
			}
			copy(buf[cursor:], payload)
			cursor += len(payload)
		}
		for cursor < offset+blockSize {
			buf[cursor] = 0
			cursor++
		}
		offset += blockSize
	}

	copy(buf[offset:], p.Payload)
	offset += len(p.Payload)

	if p.Padding && p.PaddingSize > 0 {
		for i := 0; i < int(p.PaddingSize)-1; i++ {
			buf[offset+i] = 0
		}
		buf[offset+int(p.PaddingSize)-1] = p.PaddingSize
		offset += int(p.PaddingSize)
	}

	return offset, nil
}

// Parse decodes an RTP packet from the wire, per spec.md §4.2's parse
// contract: errors on version != 2, a truncated header, an extension
// block that overruns the declared size, or a padding flag set with
// padding size greater than the remaining payload.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < fixedHeaderSize {
		return nil, &wrtcerr.InvalidRTP{Reason: "truncated header"}
	}
	version := buf[0] >> 6
	if version != version2 {
		return nil, &wrtcerr.InvalidRTP{Reason: "unsupported version"}
	}
	padding := buf[0]&0x20 != 0
	hasExt := buf[0]&0x10 != 0
	csrcCount := int(buf[0] & 0x0F)

	p := &Packet{Header: newHeader()}
	p.Marker = buf[1]&0x80 != 0
	p.PayloadType = buf[1] & 0x7F
	p.SequenceNumber = binary.BigEndian.Uint16(buf[2:4])
	p.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	p.SSRC = binary.BigEndian.Uint32(buf[8:12])

	offset := fixedHeaderSize
	if len(buf) < offset+4*csrcCount {
		return nil, &wrtcerr.InvalidRTP{Reason: "truncated csrc list"}
	}
	for i := 0; i < csrcCount; i++ {
		p.CSRC = append(p.CSRC, binary.BigEndian.Uint32(buf[offset:offset+4]))
		offset += 4
	}

	if hasExt {
		if len(buf) < offset+4 {
			return nil, &wrtcerr.InvalidRTP{Reason: "truncated extension header"}
		}
		profile := binary.BigEndian.Uint16(buf[offset : offset+2])
		lengthWords := binary.BigEndian.Uint16(buf[offset+2 : offset+4])
		blockSize := 4 + int(lengthWords)*4
		if len(buf) < offset+blockSize {
			return nil, &wrtcerr.InvalidRTP{Reason: "extension block overruns packet size"}
		}
		elems := buf[offset+4 : offset+blockSize]
		if profile == twoByteExtProfile {
			if err := parseTwoByteExtensions(p, elems); err != nil {
				return nil, err
			}
			p.TwoByte = true
		} else {
			if err := parseOneByteExtensions(p, elems); err != nil {
				return nil, err
			}
		}
		offset += blockSize
	}

	payloadEnd := len(buf)
	var paddingSize uint8
	if padding {
		if len(buf) <= offset {
			return nil, &wrtcerr.InvalidRTP{Reason: "padding flag set but no payload bytes remain"}
		}
		paddingSize = buf[len(buf)-1]
		if int(paddingSize) == 0 || int(paddingSize) > len(buf)-offset {
			return nil, &wrtcerr.InvalidRTP{Reason: "padding size exceeds remaining payload"}
		}
		payloadEnd = len(buf) - int(paddingSize)
	}

	p.Payload = append([]byte(nil), buf[offset:payloadEnd]...)
	p.Padding = padding
	p.PaddingSize = paddingSize

	return p, nil
}

func parseOneByteExtensions(p *Packet, elems []byte) error {
	i := 0
	for i < len(elems) {
		if elems[i] == 0 { // padding byte between elements
			i++
			continue
		}
		id := elems[i] >> 4
		length := int(elems[i]&0x0F) + 1
		i++
		if id == 15 { // reserved, marks end per RFC 5285
			break
		}
		if i+length > len(elems) {
			return &wrtcerr.InvalidRTP{Reason: "one-byte extension overruns block"}
		}
		p.SetExtension(id, append([]byte(nil), elems[i:i+length]...))
		i += length
	}
	return nil
}

func parseTwoByteExtensions(p *Packet, elems []byte) error {
	i := 0
	for i < len(elems) {
		if elems[i] == 0 {
			i++
			continue
		}
		id := elems[i]
		if i+1 >= len(elems) {
			return &wrtcerr.InvalidRTP{Reason: "truncated two-byte extension"}
		}
		length := int(elems[i+1])
		i += 2
		if i+length > len(elems) {
			return &wrtcerr.InvalidRTP{Reason: "two-byte extension overruns block"}
		}
		p.SetExtension(id, append([]byte(nil), elems[i:i+length]...))
		i += length
	}
	return nil
}

// SetPayload replaces the payload and clears any padding, per spec.md
// §4.2's setter contract ("replaces payload and padding").
func (p *Packet) SetPayload(payload []byte) {
	p.Payload = payload
	p.Padding = false
	p.PaddingSize = 0
}

// SetPaddingSize appends n padding bytes, the last of which is n.
func (p *Packet) SetPaddingSize(n uint8) {
	if n == 0 {
		p.Padding = false
		p.PaddingSize = 0
		return
	}
	p.Padding = true
	p.PaddingSize = n
}

// Clone returns a deep copy safe for independent mutation.
func (p *Packet) Clone() *Packet {
	c := &Packet{Header: newHeader()}
	c.Version = p.Version
	c.Padding = p.Padding
	c.Marker = p.Marker
	c.PayloadType = p.PayloadType
	c.SequenceNumber = p.SequenceNumber
	c.Timestamp = p.Timestamp
	c.SSRC = p.SSRC
	c.CSRC = append([]uint32(nil), p.CSRC...)
	for _, id := range p.extOrder {
		c.SetExtension(id, append([]byte(nil), p.ext[id]...))
	}
	c.TwoByte = p.TwoByte
	c.Payload = append([]byte(nil), p.Payload...)
	c.PaddingSize = p.PaddingSize
	c.IsRecovered = p.IsRecovered
	c.ArrivalTime = p.ArrivalTime
	return c
}
