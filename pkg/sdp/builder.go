package sdp

import "fmt"

// Builder constructs a Description with fluent, chainable setters, mirroring
// "Description::Builder(type).set_role(..)...Build()" from spec.md §4.1.
type Builder struct {
	desc *Description
	err  error
}

// NewBuilder starts a Builder for the given description type.
func NewBuilder(t DescriptionType) *Builder {
	return &Builder{desc: &Description{Type: t, Role: RoleActPass}}
}

func (b *Builder) SetRole(r Role) *Builder {
	b.desc.Role = r
	return b
}

func (b *Builder) SetIceUfrag(ufrag string) *Builder {
	b.desc.IceUfrag = ufrag
	return b
}

func (b *Builder) SetIcePwd(pwd string) *Builder {
	b.desc.IcePwd = pwd
	return b
}

func (b *Builder) SetFingerprint(fp Fingerprint) *Builder {
	if !fp.Valid() {
		b.err = fmt.Errorf("sdp: fingerprint %q does not match the mandated shape", fp.Line())
		return b
	}
	b.desc.Fingerprint = &fp
	return b
}

// AddApplication appends a data-channel (SCTP) media entry.
func (b *Builder) AddApplication(mid string, sctpPort uint16, maxMessageSize uint64) *MediaEntry {
	m := newMediaEntry(KindApplication, mid)
	m.Protocol = "UDP/DTLS/SCTP"
	m.SctpPort = &sctpPort
	m.MaxMessageSize = &maxMessageSize
	b.desc.Media = append(b.desc.Media, m)
	return m
}

// AddAudio appends an audio media entry with an initial codec registration.
func (b *Builder) AddAudio(mid string, direction Direction, rm RtpMap) *MediaEntry {
	m := newMediaEntry(KindAudio, mid)
	m.Protocol = "UDP/TLS/RTP/SAVPF"
	m.Direction = direction
	m.RtcpMux = true
	m.AddRtpMap(&rm)
	b.desc.Media = append(b.desc.Media, m)
	return m
}

// AddVideo appends a video media entry with an initial codec registration.
func (b *Builder) AddVideo(mid string, direction Direction, rm RtpMap) *MediaEntry {
	m := newMediaEntry(KindVideo, mid)
	m.Protocol = "UDP/TLS/RTP/SAVPF"
	m.Direction = direction
	m.RtcpMux = true
	m.AddRtpMap(&rm)
	b.desc.Media = append(b.desc.Media, m)
	return m
}

// Build validates and returns the assembled Description.
func (b *Builder) Build() (*Description, error) {
	if b.err != nil {
		return nil, b.err
	}
	seen := make(map[string]bool, len(b.desc.Media))
	for _, m := range b.desc.Media {
		if m.Mid == "" {
			return nil, fmt.Errorf("sdp: media entry of kind %s is missing a mid", m.Kind)
		}
		if seen[m.Mid] {
			return nil, fmt.Errorf("sdp: duplicate mid %q", m.Mid)
		}
		seen[m.Mid] = true
		if m.Fingerprint == nil {
			m.Fingerprint = b.desc.Fingerprint
		}
		if m.IceUfrag == "" {
			m.IceUfrag = b.desc.IceUfrag
		}
		if m.IcePwd == "" {
			m.IcePwd = b.desc.IcePwd
		}
	}
	return b.desc, nil
}
