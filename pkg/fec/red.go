// Package fec implements RED (RFC 2198) payload wrapping and ULPFEC
// (RFC 5109) generation/recovery from spec.md §4.4. Only single-block RED
// is accepted on receive, matching spec.md's "only the last block (RED end
// marker bit 0) is accepted; multi-block RED is rejected."
package fec

import "github.com/ethan/rtcpeer/pkg/wrtcerr"

// WrapRED produces a single-block RED payload: a 1-byte header (F=0,
// 7-bit payload type) followed by the payload, per RFC 2198 §3's
// encoding of the final (and here, only) block.
func WrapRED(payloadType uint8, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = payloadType & 0x7F
	copy(out[1:], payload)
	return out
}

// UnwrapRED parses a RED payload, returning the carried payload type and
// the block's bytes. It rejects multi-block RED (F bit set on the first
// header byte), per spec.md §4.4.
func UnwrapRED(redPayload []byte) (payloadType uint8, payload []byte, err error) {
	if len(redPayload) < 1 {
		return 0, nil, &wrtcerr.InvalidRTP{Reason: "empty RED payload"}
	}
	header := redPayload[0]
	if header&0x80 != 0 {
		return 0, nil, &wrtcerr.InvalidRTP{Reason: "multi-block RED is not supported"}
	}
	return header & 0x7F, redPayload[1:], nil
}
