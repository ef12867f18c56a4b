package rtp

import (
	"encoding/binary"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// ExtensionType enumerates the header-extension kinds this module knows how
// to encode/decode, per spec.md §4.2.
type ExtensionType int

const (
	TransmissionOffset ExtensionType = iota
	AbsoluteSendTime
	AbsoluteCaptureTime
	TransportSequenceNumber
	PlayoutDelay
	Mid
	RtpStreamID
	RepairedRtpStreamID
)

// ExtensionURI is the well-known URI carried in SDP a=extmap lines for
// each extension type.
var ExtensionURI = map[ExtensionType]string{
	TransmissionOffset:      "urn:ietf:params:rtp-hdrext:toffset",
	AbsoluteSendTime:        "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time",
	AbsoluteCaptureTime:     "http://www.webrtc.org/experiments/rtp-hdrext/abs-capture-time",
	TransportSequenceNumber: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
	PlayoutDelay:            "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay",
	Mid:                     "urn:ietf:params:rtp-hdrext:sdes:mid",
	RtpStreamID:             "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id",
	RepairedRtpStreamID:     "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id",
}

// HeaderExtensionMap binds local header-extension ids to ExtensionTypes for
// a session, per spec.md §4.2: "Register<Ext>(id) binds a local id to a
// type; GetExtension<Ext>()/SetExtension<Ext>(value) encode using the
// extension's serializer."
type HeaderExtensionMap struct {
	idToType map[uint8]ExtensionType
	typeToID map[ExtensionType]uint8
}

// NewHeaderExtensionMap returns an empty registry.
func NewHeaderExtensionMap() *HeaderExtensionMap {
	return &HeaderExtensionMap{
		idToType: make(map[uint8]ExtensionType),
		typeToID: make(map[ExtensionType]uint8),
	}
}

// Register binds id to ext, replacing any prior binding for either.
func (m *HeaderExtensionMap) Register(ext ExtensionType, id uint8) {
	if oldID, ok := m.typeToID[ext]; ok {
		delete(m.idToType, oldID)
	}
	m.idToType[id] = ext
	m.typeToID[ext] = id
}

// IsRegistered reports whether ext has a bound local id.
func (m *HeaderExtensionMap) IsRegistered(ext ExtensionType) bool {
	_, ok := m.typeToID[ext]
	return ok
}

// GetTransmissionOffset decodes a 24-bit signed offset in 90kHz ticks.
func (m *HeaderExtensionMap) GetTransmissionOffset(h *Header) (int32, bool) {
	raw, ok := m.raw(h, TransmissionOffset)
	if !ok || len(raw) != 3 {
		return 0, false
	}
	v := int32(raw[0])<<16 | int32(raw[1])<<8 | int32(raw[2])
	if v&0x800000 != 0 {
		v |= ^0xFFFFFF // sign-extend
	}
	return v, true
}

// SetTransmissionOffset encodes a 24-bit signed offset in 90kHz ticks.
func (m *HeaderExtensionMap) SetTransmissionOffset(h *Header, offset int32) error {
	id, ok := m.typeToID[TransmissionOffset]
	if !ok {
		return &wrtcerr.BadMediaConfiguration{Reason: "transmission-offset extension not registered"}
	}
	h.SetExtension(id, []byte{byte(offset >> 16), byte(offset >> 8), byte(offset)})
	return nil
}

// GetAbsoluteSendTime decodes the 24-bit Q6.18 fixed-point send time.
func (m *HeaderExtensionMap) GetAbsoluteSendTime(h *Header) (uint32, bool) {
	raw, ok := m.raw(h, AbsoluteSendTime)
	if !ok || len(raw) != 3 {
		return 0, false
	}
	return uint32(raw[0])<<16 | uint32(raw[1])<<8 | uint32(raw[2]), true
}

// SetAbsoluteSendTime encodes a 24-bit Q6.18 fixed-point send time.
func (m *HeaderExtensionMap) SetAbsoluteSendTime(h *Header, value uint32) error {
	id, ok := m.typeToID[AbsoluteSendTime]
	if !ok {
		return &wrtcerr.BadMediaConfiguration{Reason: "abs-send-time extension not registered"}
	}
	h.SetExtension(id, []byte{byte(value >> 16), byte(value >> 8), byte(value)})
	return nil
}

// GetTransportSequenceNumber decodes the 16-bit transport-wide sequence
// number used for TWCC feedback.
func (m *HeaderExtensionMap) GetTransportSequenceNumber(h *Header) (uint16, bool) {
	raw, ok := m.raw(h, TransportSequenceNumber)
	if !ok || len(raw) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(raw), true
}

// SetTransportSequenceNumber encodes the 16-bit transport-wide sequence
// number.
func (m *HeaderExtensionMap) SetTransportSequenceNumber(h *Header, seq uint16) error {
	id, ok := m.typeToID[TransportSequenceNumber]
	if !ok {
		return &wrtcerr.BadMediaConfiguration{Reason: "transport-cc extension not registered"}
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, seq)
	h.SetExtension(id, buf)
	return nil
}

// GetMid decodes the sdes:mid extension as a string.
func (m *HeaderExtensionMap) GetMid(h *Header) (string, bool) {
	raw, ok := m.raw(h, Mid)
	if !ok {
		return "", false
	}
	return string(raw), true
}

// SetMid encodes the sdes:mid extension.
func (m *HeaderExtensionMap) SetMid(h *Header, mid string) error {
	id, ok := m.typeToID[Mid]
	if !ok {
		return &wrtcerr.BadMediaConfiguration{Reason: "mid extension not registered"}
	}
	h.SetExtension(id, []byte(mid))
	return nil
}

// GetRtpStreamID decodes the sdes:rtp-stream-id extension.
func (m *HeaderExtensionMap) GetRtpStreamID(h *Header) (string, bool) {
	raw, ok := m.raw(h, RtpStreamID)
	if !ok {
		return "", false
	}
	return string(raw), true
}

// SetRtpStreamID encodes the sdes:rtp-stream-id extension.
func (m *HeaderExtensionMap) SetRtpStreamID(h *Header, rid string) error {
	id, ok := m.typeToID[RtpStreamID]
	if !ok {
		return &wrtcerr.BadMediaConfiguration{Reason: "rtp-stream-id extension not registered"}
	}
	h.SetExtension(id, []byte(rid))
	return nil
}

// GetPlayoutDelay decodes the 3-byte min/max playout delay extension, each
// in 10ms units per RFC draft.
func (m *HeaderExtensionMap) GetPlayoutDelay(h *Header) (min, max uint16, ok bool) {
	raw, found := m.raw(h, PlayoutDelay)
	if !found || len(raw) != 3 {
		return 0, 0, false
	}
	v := uint32(raw[0])<<16 | uint32(raw[1])<<8 | uint32(raw[2])
	return uint16(v >> 12), uint16(v & 0xFFF), true
}

// SetPlayoutDelay encodes the 3-byte min/max playout delay extension.
func (m *HeaderExtensionMap) SetPlayoutDelay(h *Header, min, max uint16) error {
	id, ok := m.typeToID[PlayoutDelay]
	if !ok {
		return &wrtcerr.BadMediaConfiguration{Reason: "playout-delay extension not registered"}
	}
	v := (uint32(min&0xFFF) << 12) | uint32(max&0xFFF)
	h.SetExtension(id, []byte{byte(v >> 16), byte(v >> 8), byte(v)})
	return nil
}

func (m *HeaderExtensionMap) raw(h *Header, ext ExtensionType) ([]byte, bool) {
	id, ok := m.typeToID[ext]
	if !ok {
		return nil, false
	}
	return h.GetExtension(id)
}
