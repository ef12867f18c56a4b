package sdp

import (
	"strconv"
	"strings"

	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// Parse accepts either LF- or CRLF-terminated SDP text, tolerates leading
// whitespace on each line, and does not fail on unknown attribute lines;
// their text is discarded and not kept in the Description. When the
// session level carries no ICE ufrag, ICE pwd or fingerprint, the value of
// the first media entry that has one is used. hintedType tells the parser whether this text is being
// interpreted as an offer or an answer, which matters for setup-role
// legality.
func Parse(text string, hintedType DescriptionType) (*Description, error) {
	lines := splitLines(text)

	desc := &Description{Type: hintedType, Role: RoleActPass}

	var have struct{ v, o, s, t bool }
	var mediaStart = -1

	// First pass: find where media sections begin and validate mandatory
	// session-level lines are present before it.
	for i, raw := range lines {
		line := strings.TrimLeft(raw, " \t")
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "v="):
			have.v = true
		case strings.HasPrefix(line, "o="):
			have.o = true
		case strings.HasPrefix(line, "s="):
			have.s = true
		case strings.HasPrefix(line, "t="):
			have.t = true
		case strings.HasPrefix(line, "m="):
			if mediaStart == -1 {
				mediaStart = i
			}
		}
	}
	if !have.v {
		return nil, &wrtcerr.InvalidSDP{Line: 0, Reason: "missing mandatory v= line"}
	}
	if !have.o {
		return nil, &wrtcerr.InvalidSDP{Line: 0, Reason: "missing mandatory o= line"}
	}
	if !have.s {
		return nil, &wrtcerr.InvalidSDP{Line: 0, Reason: "missing mandatory s= line"}
	}
	if !have.t {
		return nil, &wrtcerr.InvalidSDP{Line: 0, Reason: "missing mandatory t= line"}
	}
	if mediaStart == -1 {
		return nil, &wrtcerr.InvalidSDP{Line: 0, Reason: "no m= lines present"}
	}

	if err := parseSessionLevel(desc, lines[:mediaStart]); err != nil {
		return nil, err
	}

	seenMid := make(map[string]bool)
	var cur *MediaEntry
	var curStart int
	flush := func(end int) error {
		if cur == nil {
			return nil
		}
		if err := parseMediaAttrs(desc, cur, lines[curStart+1:end], curStart+2); err != nil {
			return err
		}
		if cur.Mid == "" {
			return &wrtcerr.InvalidSDP{Line: curStart + 1, Reason: "media entry missing a=mid"}
		}
		if seenMid[cur.Mid] {
			return &wrtcerr.InvalidSDP{Line: curStart + 1, Reason: "duplicate mid " + cur.Mid}
		}
		seenMid[cur.Mid] = true
		if cur.Fingerprint == nil {
			cur.Fingerprint = desc.Fingerprint
		}
		if cur.IceUfrag == "" {
			cur.IceUfrag = desc.IceUfrag
		}
		if cur.IcePwd == "" {
			cur.IcePwd = desc.IcePwd
		}
		desc.Media = append(desc.Media, cur)
		return nil
	}

	for i := mediaStart; i < len(lines); i++ {
		line := strings.TrimLeft(lines[i], " \t")
		if !strings.HasPrefix(line, "m=") {
			continue
		}
		if cur != nil {
			if err := flush(i); err != nil {
				return nil, err
			}
		}
		m, err := parseMLine(line, i+1)
		if err != nil {
			return nil, err
		}
		cur = m
		curStart = i
	}
	if err := flush(len(lines)); err != nil {
		return nil, err
	}

	for _, m := range desc.Media {
		if desc.IceUfrag == "" {
			desc.IceUfrag = m.IceUfrag
		}
		if desc.IcePwd == "" {
			desc.IcePwd = m.IcePwd
		}
		if desc.Fingerprint == nil {
			desc.Fingerprint = m.Fingerprint
		}
	}

	return desc, nil
}

func splitLines(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(normalized, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimRight(l, "\r"))
	}
	return lines
}

func parseSessionLevel(desc *Description, lines []string) error {
	for i, raw := range lines {
		line := strings.TrimLeft(raw, " \t")
		switch {
		case strings.HasPrefix(line, "a=ice-ufrag:"):
			desc.IceUfrag = strings.TrimPrefix(line, "a=ice-ufrag:")
		case strings.HasPrefix(line, "a=ice-pwd:"):
			desc.IcePwd = strings.TrimPrefix(line, "a=ice-pwd:")
		case strings.HasPrefix(line, "a=fingerprint:"):
			fp, err := parseFingerprint(line, i+1)
			if err != nil {
				return err
			}
			desc.Fingerprint = fp
		case strings.HasPrefix(line, "a=setup:"):
			role, err := parseSetup(strings.TrimPrefix(line, "a=setup:"), desc.Type, i+1)
			if err != nil {
				return err
			}
			desc.Role = role
		}
	}
	return nil
}

func parseFingerprint(line string, lineNo int) (*Fingerprint, error) {
	value := strings.TrimPrefix(line, "a=fingerprint:")
	idx := strings.IndexByte(value, ' ')
	if idx < 0 {
		return nil, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed fingerprint line"}
	}
	fp := &Fingerprint{Algorithm: value[:idx], Hash: value[idx+1:]}
	if !fp.Valid() {
		return nil, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "fingerprint does not match sha-256 HH:...:HH shape"}
	}
	return fp, nil
}

func parseSetup(value string, docType DescriptionType, lineNo int) (Role, error) {
	switch value {
	case "actpass":
		if docType == Answer {
			return RoleActPass, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "setup:actpass is not legal in an answer"}
		}
		return RoleActPass, nil
	case "active":
		return RoleActive, nil
	case "passive":
		return RolePassive, nil
	default:
		return RoleActPass, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "unrecognized setup value " + value}
	}
}

func parseMLine(line string, lineNo int) (*MediaEntry, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "m="))
	if len(fields) < 3 {
		return nil, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed m= line"}
	}
	var kind MediaKind
	switch fields[0] {
	case "audio":
		kind = KindAudio
	case "video":
		kind = KindVideo
	case "application":
		kind = KindApplication
	default:
		return nil, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "unknown media kind " + fields[0]}
	}
	m := newMediaEntry(kind, "")
	m.Protocol = fields[2]
	return m, nil
}

func parseMediaAttrs(desc *Description, m *MediaEntry, lines []string, firstLineNo int) error {
	for i, raw := range lines {
		lineNo := firstLineNo + i
		line := strings.TrimLeft(raw, " \t")
		if line == "" {
			continue
		}
		var err error
		switch {
		case strings.HasPrefix(line, "a=mid:"):
			m.Mid = strings.TrimPrefix(line, "a=mid:")
		case strings.HasPrefix(line, "a=ice-ufrag:"):
			m.IceUfrag = strings.TrimPrefix(line, "a=ice-ufrag:")
		case strings.HasPrefix(line, "a=ice-pwd:"):
			m.IcePwd = strings.TrimPrefix(line, "a=ice-pwd:")
		case strings.HasPrefix(line, "a=fingerprint:"):
			m.Fingerprint, err = parseFingerprint(line, lineNo)
		case strings.HasPrefix(line, "a=setup:"):
			var role Role
			role, err = parseSetup(strings.TrimPrefix(line, "a=setup:"), desc.Type, lineNo)
			if err == nil {
				m.Role = &role
			}
		case line == "a=rtcp-mux":
			m.RtcpMux = true
		case line == "a=rtcp-rsize":
			m.RtcpRsize = true
		case line == "a=sendrecv":
			m.Direction = SendRecv
		case line == "a=sendonly":
			m.Direction = SendOnly
		case line == "a=recvonly":
			m.Direction = RecvOnly
		case line == "a=inactive":
			m.Direction = Inactive
		case strings.HasPrefix(line, "a=extmap:"):
			err = parseExtmap(m, line, lineNo)
		case strings.HasPrefix(line, "a=rtpmap:"):
			err = parseRtpmap(m, line, lineNo)
		case strings.HasPrefix(line, "a=rtcp-fb:"):
			err = parseRtcpFb(m, line, lineNo)
		case strings.HasPrefix(line, "a=fmtp:"):
			err = parseFmtp(m, line, lineNo)
		case strings.HasPrefix(line, "a=ssrc-group:"):
			err = parseSsrcGroup(m, line, lineNo)
		case strings.HasPrefix(line, "a=ssrc:"):
			err = parseSsrc(m, line, lineNo)
		case strings.HasPrefix(line, "a=sctp-port:"):
			var port uint64
			port, err = parseUint(strings.TrimPrefix(line, "a=sctp-port:"), lineNo, "sctp-port")
			if err == nil {
				p := uint16(port)
				m.SctpPort = &p
			}
		case strings.HasPrefix(line, "a=max-message-size:"):
			var size uint64
			size, err = parseUint(strings.TrimPrefix(line, "a=max-message-size:"), lineNo, "max-message-size")
			if err == nil {
				m.MaxMessageSize = &size
			}
		case strings.HasPrefix(line, "a=candidate:"):
			var c Candidate
			c, err = parseCandidate(line, lineNo)
			if err == nil {
				c.Mid = m.Mid
				m.Candidates = append(m.Candidates, c)
			}
		default:
			// Unknown attribute lines (including b=, c=, a=group:BUNDLE
			// echoes inside a media block) are tolerated silently, per
			// spec.md §4.1: "Parse does not fail on unknown attributes."
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseUint(s string, lineNo int, field string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer " + field}
	}
	return v, nil
}

func parseExtmap(m *MediaEntry, line string, lineNo int) error {
	fields := strings.Fields(strings.TrimPrefix(line, "a=extmap:"))
	if len(fields) < 2 {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed extmap line"}
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer extmap id"}
	}
	m.AddExtMap(id, fields[1])
	return nil
}

func parseRtpmap(m *MediaEntry, line string, lineNo int) error {
	rest := strings.TrimPrefix(line, "a=rtpmap:")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed rtpmap line"}
	}
	ptVal, err := strconv.Atoi(rest[:sp])
	if err != nil {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer payload type"}
	}
	codecSpec := strings.Split(rest[sp+1:], "/")
	if len(codecSpec) < 2 {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed rtpmap codec/clock"}
	}
	clock, err := strconv.ParseUint(codecSpec[1], 10, 32)
	if err != nil {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer clock rate"}
	}
	rm := &RtpMap{PayloadType: uint8(ptVal), Codec: codecSpec[0], ClockRate: uint32(clock)}
	if len(codecSpec) > 2 {
		ch, err := strconv.ParseUint(codecSpec[2], 10, 16)
		if err != nil {
			return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer channel count"}
		}
		rm.Channels = uint16(ch)
	}
	if existing, ok := m.RtpMaps[rm.PayloadType]; ok {
		rm.Fmtp = existing.Fmtp
		rm.RtcpFb = existing.RtcpFb
	}
	m.AddRtpMap(rm)
	return nil
}

func parseRtcpFb(m *MediaEntry, line string, lineNo int) error {
	rest := strings.TrimPrefix(line, "a=rtcp-fb:")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed rtcp-fb line"}
	}
	ptVal, err := strconv.Atoi(rest[:sp])
	if err != nil {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer payload type in rtcp-fb"}
	}
	pt := uint8(ptVal)
	rm, ok := m.RtpMaps[pt]
	if !ok {
		rm = &RtpMap{PayloadType: pt}
		m.AddRtpMap(rm)
	}
	rm.RtcpFb = append(rm.RtcpFb, rest[sp+1:])
	return nil
}

func parseFmtp(m *MediaEntry, line string, lineNo int) error {
	rest := strings.TrimPrefix(line, "a=fmtp:")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed fmtp line"}
	}
	ptVal, err := strconv.Atoi(rest[:sp])
	if err != nil {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer payload type in fmtp"}
	}
	pt := uint8(ptVal)
	rm, ok := m.RtpMaps[pt]
	if !ok {
		rm = &RtpMap{PayloadType: pt}
		m.AddRtpMap(rm)
	}
	rm.Fmtp = append(rm.Fmtp, rest[sp+1:])
	return nil
}

func parseSsrcGroup(m *MediaEntry, line string, lineNo int) error {
	fields := strings.Fields(strings.TrimPrefix(line, "a=ssrc-group:"))
	if len(fields) != 3 {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed ssrc-group line"}
	}
	a, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer ssrc in ssrc-group"}
	}
	b, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer ssrc in ssrc-group"}
	}
	switch fields[0] {
	case "FID":
		m.RtxSsrcs = append(m.RtxSsrcs, uint32(b))
		if _, ok := m.SsrcEntries[uint32(b)]; !ok {
			m.SsrcEntries[uint32(b)] = &SsrcEntry{Kind: SsrcRtx}
		} else {
			m.SsrcEntries[uint32(b)].Kind = SsrcRtx
		}
	case "FEC":
		m.FecSsrcs = append(m.FecSsrcs, uint32(b))
		if _, ok := m.SsrcEntries[uint32(b)]; !ok {
			m.SsrcEntries[uint32(b)] = &SsrcEntry{Kind: SsrcFec}
		} else {
			m.SsrcEntries[uint32(b)].Kind = SsrcFec
		}
	default:
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "unknown ssrc-group semantic " + fields[0]}
	}
	for i, existing := range m.MediaSsrcs {
		if existing == uint32(b) {
			m.MediaSsrcs = append(m.MediaSsrcs[:i], m.MediaSsrcs[i+1:]...)
			break
		}
	}
	if _, ok := m.SsrcEntries[uint32(a)]; !ok {
		m.SsrcEntries[uint32(a)] = &SsrcEntry{Kind: SsrcMedia}
	}
	found := false
	for _, existing := range m.MediaSsrcs {
		if existing == uint32(a) {
			found = true
			break
		}
	}
	if !found {
		m.MediaSsrcs = append(m.MediaSsrcs, uint32(a))
	}
	return nil
}

func parseSsrc(m *MediaEntry, line string, lineNo int) error {
	rest := strings.TrimPrefix(line, "a=ssrc:")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed ssrc line"}
	}
	ssrcVal, err := strconv.ParseUint(rest[:sp], 10, 32)
	if err != nil {
		return &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer ssrc"}
	}
	ssrc := uint32(ssrcVal)
	entry, ok := m.SsrcEntries[ssrc]
	if !ok {
		entry = &SsrcEntry{Kind: SsrcMedia}
		m.SsrcEntries[ssrc] = entry
		found := false
		for _, existing := range m.MediaSsrcs {
			if existing == ssrc {
				found = true
				break
			}
		}
		if !found && entry.Kind == SsrcMedia {
			m.MediaSsrcs = append(m.MediaSsrcs, ssrc)
		}
	}
	attr := rest[sp+1:]
	switch {
	case strings.HasPrefix(attr, "cname:"):
		entry.Cname = strings.TrimPrefix(attr, "cname:")
	case strings.HasPrefix(attr, "msid:"):
		fields := strings.Fields(strings.TrimPrefix(attr, "msid:"))
		entry.Msid = fields[0]
		if len(fields) > 1 {
			entry.TrackID = fields[1]
		}
	}
	return nil
}

func parseCandidate(line string, lineNo int) (Candidate, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "a=candidate:"))
	if len(fields) < 7 {
		return Candidate{}, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "malformed candidate line"}
	}
	component, err := strconv.Atoi(fields[1])
	if err != nil {
		return Candidate{}, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer candidate component id"}
	}
	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Candidate{}, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer candidate priority"}
	}
	port, err := strconv.ParseUint(fields[5], 10, 16)
	if err != nil {
		return Candidate{}, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer candidate port"}
	}
	if fields[6] != "typ" || len(fields) < 8 {
		return Candidate{}, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "candidate line missing typ"}
	}

	c := Candidate{
		Foundation: fields[0],
		Component:  component,
		Priority:   uint32(priority),
		Address:    fields[4],
		Port:       uint16(port),
	}
	switch strings.ToLower(fields[2]) {
	case "udp":
		c.Transport = TransportUDP
	case "tcp":
		c.Transport = TransportTCPActive
	default:
		return Candidate{}, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "unknown candidate transport " + fields[2]}
	}
	switch fields[7] {
	case "host":
		c.Type = CandidateHost
	case "srflx":
		c.Type = CandidateSrflx
	case "prflx":
		c.Type = CandidatePrflx
	case "relay":
		c.Type = CandidateRelay
	default:
		return Candidate{}, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "unknown candidate type " + fields[7]}
	}
	if strings.Contains(c.Address, ":") {
		c.Family = FamilyIPv6
	} else if c.Address != "" {
		c.Family = FamilyIPv4
	}

	rest := fields[8:]
	for i := 0; i+1 < len(rest); i += 2 {
		switch rest[i] {
		case "raddr":
			c.RelatedAddr = rest[i+1]
		case "rport":
			p, err := strconv.ParseUint(rest[i+1], 10, 16)
			if err != nil {
				return Candidate{}, &wrtcerr.InvalidSDP{Line: lineNo, Reason: "non-integer rport"}
			}
			c.RelatedPort = uint16(p)
		default:
			c.Tail = append(c.Tail, rest[i], rest[i+1])
		}
	}
	if len(rest)%2 == 1 {
		c.Tail = append(c.Tail, rest[len(rest)-1])
	}
	return c, nil
}
