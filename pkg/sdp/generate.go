package sdp

import (
	"fmt"
	"strconv"
	"strings"
)

// GenerateSDP produces deterministic SDP text: v=0, o=-, s=-, t=0 0,
// session-level attributes in a fixed order, then media entries in
// insertion order (spec.md §4.1). eol is the line terminator ("\n" or
// "\r\n"); when applicationOnly is true, only Application-kind media
// entries are emitted (used to offer a data-channel-only session).
func (d *Description) GenerateSDP(eol string, applicationOnly bool) string {
	var b strings.Builder

	writeLine := func(format string, args ...any) {
		b.WriteString(fmt.Sprintf(format, args...))
		b.WriteString(eol)
	}

	writeLine("v=0")
	writeLine("o=- 0 0 IN IP4 0.0.0.0")
	writeLine("s=-")
	writeLine("t=0 0")

	mids := d.BundleMids()
	if len(mids) > 0 {
		writeLine("a=group:BUNDLE %s", strings.Join(mids, " "))
	}
	writeLine("a=msid-semantic: WMS")

	for _, m := range d.Media {
		if applicationOnly && m.Kind != KindApplication {
			continue
		}
		writeMediaEntry(&b, eol, d, m)
	}

	return b.String()
}

func writeMediaEntry(b *strings.Builder, eol string, d *Description, m *MediaEntry) {
	writeLine := func(format string, args ...any) {
		b.WriteString(fmt.Sprintf(format, args...))
		b.WriteString(eol)
	}

	port := 9
	payloadList := make([]string, 0, len(m.RtpMapOrder))
	switch m.Kind {
	case KindApplication:
		payloadList = append(payloadList, "webrtc-datachannel")
	default:
		for _, pt := range m.RtpMapOrder {
			payloadList = append(payloadList, strconv.Itoa(int(pt)))
		}
	}
	writeLine("m=%s %d %s %s", m.Kind, port, m.Protocol, strings.Join(payloadList, " "))
	writeLine("c=IN IP4 0.0.0.0")

	if m.Bandwidth != nil {
		writeLine("b=AS:%d", *m.Bandwidth)
	}

	ufrag := m.IceUfrag
	if ufrag == "" {
		ufrag = d.IceUfrag
	}
	pwd := m.IcePwd
	if pwd == "" {
		pwd = d.IcePwd
	}
	if ufrag != "" {
		writeLine("a=ice-ufrag:%s", ufrag)
	}
	if pwd != "" {
		writeLine("a=ice-pwd:%s", pwd)
	}

	fp := m.Fingerprint
	if fp == nil {
		fp = d.Fingerprint
	}
	if fp != nil {
		writeLine("a=fingerprint:%s", fp.Line())
	}

	role := d.Role
	if m.Role != nil {
		role = *m.Role
	}
	writeLine("a=setup:%s", role)

	writeLine("a=mid:%s", m.Mid)

	if m.Kind != KindApplication {
		if m.RtcpMux {
			writeLine("a=rtcp-mux")
		}
		if m.RtcpRsize {
			writeLine("a=rtcp-rsize")
		}
		writeLine("a=%s", m.Direction)

		for _, id := range m.ExtMapOrder {
			writeLine("a=extmap:%d %s", id, m.ExtMaps[id])
		}

		for _, pt := range m.RtpMapOrder {
			rm := m.RtpMaps[pt]
			if rm.Channels > 0 {
				writeLine("a=rtpmap:%d %s/%d/%d", rm.PayloadType, rm.Codec, rm.ClockRate, rm.Channels)
			} else {
				writeLine("a=rtpmap:%d %s/%d", rm.PayloadType, rm.Codec, rm.ClockRate)
			}
			for _, fb := range rm.RtcpFb {
				writeLine("a=rtcp-fb:%d %s", rm.PayloadType, fb)
			}
			for _, fmtp := range rm.Fmtp {
				writeLine("a=fmtp:%d %s", rm.PayloadType, fmtp)
			}
		}

		for _, ssrc := range m.MediaSsrcs {
			writeSsrcAttrs(writeLine, ssrc, m.SsrcEntries[ssrc])
		}
		for _, ssrc := range m.RtxSsrcs {
			writeSsrcAttrs(writeLine, ssrc, m.SsrcEntries[ssrc])
		}
		for _, ssrc := range m.FecSsrcs {
			writeSsrcAttrs(writeLine, ssrc, m.SsrcEntries[ssrc])
		}
		for i, media := range m.MediaSsrcs {
			if i < len(m.RtxSsrcs) {
				writeLine("a=ssrc-group:FID %d %d", media, m.RtxSsrcs[i])
			}
		}
		for i, media := range m.MediaSsrcs {
			if i < len(m.FecSsrcs) {
				writeLine("a=ssrc-group:FEC %d %d", media, m.FecSsrcs[i])
			}
		}
	} else {
		if m.SctpPort != nil {
			writeLine("a=sctp-port:%d", *m.SctpPort)
		}
		if m.MaxMessageSize != nil {
			writeLine("a=max-message-size:%d", *m.MaxMessageSize)
		}
	}

	for _, c := range m.Candidates {
		writeLine("a=%s", CandidateLine(c))
	}
}

func writeSsrcAttrs(writeLine func(string, ...any), ssrc uint32, e *SsrcEntry) {
	if e == nil {
		return
	}
	if e.Cname != "" {
		writeLine("a=ssrc:%d cname:%s", ssrc, e.Cname)
	}
	if e.Msid != "" {
		writeLine("a=ssrc:%d msid:%s %s", ssrc, e.Msid, e.TrackID)
	}
}

// CandidateLine renders c in the "candidate:..." wire shape used on both
// an SDP "a=candidate:" line and a trickled candidate payload.
func CandidateLine(c Candidate) string {
	parts := []string{
		fmt.Sprintf("candidate:%s %d %s %d %s %d typ %s",
			c.Foundation, c.Component, candidateTransportWire(c.Transport), c.Priority, c.Address, c.Port, c.Type),
	}
	if c.RelatedAddr != "" {
		parts = append(parts, fmt.Sprintf("raddr %s rport %d", c.RelatedAddr, c.RelatedPort))
	}
	parts = append(parts, c.Tail...)
	return strings.Join(parts, " ")
}

func candidateTransportWire(t CandidateTransport) string {
	switch t {
	case TransportTCPActive, TransportTCPPassive, TransportTCPSO:
		return "tcp"
	default:
		return "udp"
	}
}
