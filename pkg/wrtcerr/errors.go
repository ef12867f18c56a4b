// Package wrtcerr defines the typed error taxonomy from spec.md §7: parse
// errors on external input, cryptographic errors that are fatal to a
// session, protocol violations returned from API calls, and capacity
// errors that cause a keyframe request or a silent counter bump. Every
// type is a plain struct returned by pointer with no wrapped cause;
// callers match them with errors.As on the pointer type.
package wrtcerr

import "fmt"

// InvalidSDP reports a structural violation in parsed SDP text.
type InvalidSDP struct {
	Line   int
	Reason string
}

func (e *InvalidSDP) Error() string {
	return fmt.Sprintf("invalid sdp at line %d: %s", e.Line, e.Reason)
}

// InvalidRTP reports a structural violation in a parsed RTP packet.
type InvalidRTP struct {
	Reason string
}

func (e *InvalidRTP) Error() string { return fmt.Sprintf("invalid rtp packet: %s", e.Reason) }

// InvalidRTCP reports a structural violation in a parsed RTCP packet.
type InvalidRTCP struct {
	Reason string
}

func (e *InvalidRTCP) Error() string { return fmt.Sprintf("invalid rtcp packet: %s", e.Reason) }

// FingerprintMismatch is returned when a DTLS peer certificate's
// fingerprint does not match the one carried in the remote SDP.
type FingerprintMismatch struct {
	Want, Got string
}

func (e *FingerprintMismatch) Error() string {
	return fmt.Sprintf("dtls fingerprint mismatch: want %s, got %s", e.Want, e.Got)
}

// UnexpectedState is a protocol violation: an API call was made while a
// component was in a state that does not permit it.
type UnexpectedState struct {
	Have, Want string
}

func (e *UnexpectedState) Error() string {
	return fmt.Sprintf("unexpected state: have %s, want %s", e.Have, e.Want)
}

// BadMediaConfiguration reports an invalid combination of media parameters
// supplied to the SDP builder or PeerConnection façade.
type BadMediaConfiguration struct {
	Reason string
}

func (e *BadMediaConfiguration) Error() string {
	return fmt.Sprintf("bad media configuration: %s", e.Reason)
}

// NackListOverflow is a capacity error: the NACK module's want-list grew
// past its cap and had to shed entries.
type NackListOverflow struct {
	Size int
}

func (e *NackListOverflow) Error() string {
	return fmt.Sprintf("nack list overflow: %d entries", e.Size)
}

// StreamExhausted reports that a bounded resource (history buffer, frame
// buffer slot table) could not accept another entry.
type StreamExhausted struct {
	Reason string
}

func (e *StreamExhausted) Error() string { return fmt.Sprintf("stream exhausted: %s", e.Reason) }
