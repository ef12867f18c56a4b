// Package sdp is the session-description model, parser, and builder from
// spec.md §4.1: a structured, round-trippable representation of offers and
// answers with ICE credentials, fingerprints, RTP codec maps, and SSRC
// groups. Every media entry is exactly one of Audio, Video, or Application,
// encoded here as a single tagged-variant MediaEntry struct (spec.md §9:
// "encode as a tagged variant with shared session-level fields in a common
// struct") rather than a class hierarchy.
package sdp

import "regexp"

// DescriptionType distinguishes an offer from an answer or provisional answer.
type DescriptionType int

const (
	Offer DescriptionType = iota
	Answer
	Pranswer
)

func (t DescriptionType) String() string {
	switch t {
	case Offer:
		return "offer"
	case Answer:
		return "answer"
	case Pranswer:
		return "pranswer"
	default:
		return "unknown"
	}
}

// Role is the DTLS connection setup role (a=setup:).
type Role int

const (
	RoleActPass Role = iota
	RoleActive
	RolePassive
)

func (r Role) String() string {
	switch r {
	case RoleActive:
		return "active"
	case RolePassive:
		return "passive"
	default:
		return "actpass"
	}
}

// Direction is a media entry's send/receive attribute.
type Direction int

const (
	SendRecv Direction = iota
	SendOnly
	RecvOnly
	Inactive
)

func (d Direction) String() string {
	switch d {
	case SendOnly:
		return "sendonly"
	case RecvOnly:
		return "recvonly"
	case Inactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// fingerprintShape is the regex spec.md §3 mandates: "sha-256 (HH:){31}HH".
var fingerprintShape = regexp.MustCompile(`^sha-256 ([0-9A-Fa-f]{2}:){31}[0-9A-Fa-f]{2}$`)

// Fingerprint is a DTLS certificate fingerprint as carried on the wire,
// e.g. "sha-256 AB:CD:...".
type Fingerprint struct {
	Algorithm string
	Hash      string
}

// Line renders the fingerprint in the "algorithm HH:HH:..." wire shape.
func (f Fingerprint) Line() string { return f.Algorithm + " " + f.Hash }

// Valid reports whether Line() matches the mandated shape.
func (f Fingerprint) Valid() bool { return fingerprintShape.MatchString(f.Line()) }

// CandidateTransport is the transport protocol of an ICE candidate.
type CandidateTransport int

const (
	TransportUDP CandidateTransport = iota
	TransportTCPActive
	TransportTCPPassive
	TransportTCPSO
)

func (t CandidateTransport) String() string {
	switch t {
	case TransportTCPActive:
		return "tcp-active"
	case TransportTCPPassive:
		return "tcp-passive"
	case TransportTCPSO:
		return "tcp-so"
	default:
		return "udp"
	}
}

// CandidateType is an ICE candidate's provenance.
type CandidateType int

const (
	CandidateHost CandidateType = iota
	CandidateSrflx
	CandidatePrflx
	CandidateRelay
)

func (t CandidateType) String() string {
	switch t {
	case CandidateSrflx:
		return "srflx"
	case CandidatePrflx:
		return "prflx"
	case CandidateRelay:
		return "relay"
	default:
		return "host"
	}
}

// AddressFamily is an ICE candidate's address family.
type AddressFamily int

const (
	FamilyUnresolved AddressFamily = iota
	FamilyIPv4
	FamilyIPv6
)

// Candidate is an ICE candidate, either created by a gatherer or parsed
// from a "candidate:" attribute line (spec.md §3, §6).
type Candidate struct {
	Foundation  string
	Component   int
	Transport   CandidateTransport
	Priority    uint32
	Address     string
	Port        uint16
	Type        CandidateType
	Family      AddressFamily
	RelatedAddr string
	RelatedPort uint16
	Tail        []string // verbatim trailing key-value attributes
	Mid         string
}

// Equal reports structural equality, per spec.md §3 ("equality defined
// structurally").
func (c Candidate) Equal(o Candidate) bool {
	if c.Foundation != o.Foundation || c.Component != o.Component || c.Transport != o.Transport ||
		c.Priority != o.Priority || c.Address != o.Address || c.Port != o.Port ||
		c.Type != o.Type || c.Family != o.Family || c.Mid != o.Mid {
		return false
	}
	if len(c.Tail) != len(o.Tail) {
		return false
	}
	for i := range c.Tail {
		if c.Tail[i] != o.Tail[i] {
			return false
		}
	}
	return true
}

// SsrcKind classifies a media entry's SSRC (spec.md §3).
type SsrcKind int

const (
	SsrcMedia SsrcKind = iota
	SsrcRtx
	SsrcFec
)

// SsrcEntry is the ssrc->{kind, cname, msid, track_id} map entry.
type SsrcEntry struct {
	Kind    SsrcKind
	Cname   string
	Msid    string
	TrackID string
}

// RtpMap is a single payload-type's codec registration: rtpmap plus its
// rtcp-fb and fmtp lines (spec.md §4.1).
type RtpMap struct {
	PayloadType uint8
	Codec       string
	ClockRate   uint32
	Channels    uint16 // 0 means absent
	Fmtp        []string
	RtcpFb      []string
}

// MediaKind distinguishes the three closed variants of a media entry.
type MediaKind int

const (
	KindAudio MediaKind = iota
	KindVideo
	KindApplication
)

func (k MediaKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "application"
	}
}

// MediaEntry is the tagged-variant media description: Audio, Video, and
// Application share every field here, with Application additionally using
// SctpPort/MaxMessageSize and Audio/Video additionally using the RTP-
// specific maps (spec.md §3).
type MediaEntry struct {
	Kind      MediaKind
	Mid       string
	Protocol  string
	Direction Direction
	Bandwidth *int // kbps cap, nil if unset

	// Per-entry ICE/DTLS overrides; empty strings / nil Fingerprint mean
	// "inherit the session-level value" (spec.md §4.1: "session-level
	// value is copied to media-level if missing").
	IceUfrag    string
	IcePwd      string
	Fingerprint *Fingerprint
	Role        *Role

	RtcpMux   bool
	RtcpRsize bool

	RtpMapOrder []uint8
	RtpMaps     map[uint8]*RtpMap

	SsrcEntries map[uint32]*SsrcEntry
	MediaSsrcs  []uint32
	RtxSsrcs    []uint32
	FecSsrcs    []uint32

	ExtMapOrder []int
	ExtMaps     map[int]string

	Candidates []Candidate

	// Application-only.
	SctpPort       *uint16
	MaxMessageSize *uint64
}

func newMediaEntry(kind MediaKind, mid string) *MediaEntry {
	return &MediaEntry{
		Kind:        kind,
		Mid:         mid,
		Direction:   SendRecv,
		RtpMaps:     make(map[uint8]*RtpMap),
		SsrcEntries: make(map[uint32]*SsrcEntry),
		ExtMaps:     make(map[int]string),
	}
}

// AddRtpMap registers a payload type, preserving insertion order for
// deterministic SDP generation.
func (m *MediaEntry) AddRtpMap(rm *RtpMap) {
	if _, exists := m.RtpMaps[rm.PayloadType]; !exists {
		m.RtpMapOrder = append(m.RtpMapOrder, rm.PayloadType)
	}
	m.RtpMaps[rm.PayloadType] = rm
}

// AddExtMap registers a header-extension id->uri binding.
func (m *MediaEntry) AddExtMap(id int, uri string) {
	if _, exists := m.ExtMaps[id]; !exists {
		m.ExtMapOrder = append(m.ExtMapOrder, id)
	}
	m.ExtMaps[id] = uri
}

// AddSsrcGroup registers a media/RTX (FID) or media/FEC pair with the
// positional association spec.md §3 mandates.
func (m *MediaEntry) AddSsrcGroup(kind SsrcKind, media, secondary uint32, cname string) {
	m.MediaSsrcs = append(m.MediaSsrcs, media)
	m.SsrcEntries[media] = &SsrcEntry{Kind: SsrcMedia, Cname: cname}
	switch kind {
	case SsrcRtx:
		m.RtxSsrcs = append(m.RtxSsrcs, secondary)
		m.SsrcEntries[secondary] = &SsrcEntry{Kind: SsrcRtx, Cname: cname}
	case SsrcFec:
		m.FecSsrcs = append(m.FecSsrcs, secondary)
		m.SsrcEntries[secondary] = &SsrcEntry{Kind: SsrcFec, Cname: cname}
	}
}

// Description is a full session description: a session-level block plus an
// ordered list of media entries (spec.md §3).
type Description struct {
	Type DescriptionType

	IceUfrag    string
	IcePwd      string
	Fingerprint *Fingerprint
	Role        Role

	// Bundled mids in insertion order (spec.md §4.1: "bundling is
	// implicit - all entries are bundled").
	Media []*MediaEntry
}

// MediaByMid looks up a media entry by its mid.
func (d *Description) MediaByMid(mid string) *MediaEntry {
	for _, m := range d.Media {
		if m.Mid == mid {
			return m
		}
	}
	return nil
}

// BundleMids returns the mids of every media entry in insertion order, the
// contents of "a=group:BUNDLE".
func (d *Description) BundleMids() []string {
	mids := make([]string, len(d.Media))
	for i, m := range d.Media {
		mids[i] = m.Mid
	}
	return mids
}
