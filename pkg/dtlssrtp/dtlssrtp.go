// Package dtlssrtp keys pion/srtp/v3 from the DTLS-SRTP exported keying
// material (RFC 5764 §4.2) and protects/unprotects RTP and RTCP, per
// spec.md §4.12's "DTLS-SRTP" component and scenario S6. pion/srtp/v3
// already rejects replays internally; Session layers a second,
// per-SSRC pion/transport/v3/replaydetector sliding window on top so
// callers can read a replayed-packet counter for stats/diagnostics.
package dtlssrtp

import (
	"sync"

	"github.com/ethan/rtcpeer/pkg/taskqueue"
	"github.com/ethan/rtcpeer/pkg/transport"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
	pionrtp "github.com/pion/rtp"
	"github.com/pion/srtp/v3"
	"github.com/pion/transport/v3/replaydetector"
)

// replayWindowSize is the sliding-window size for the supplementary
// per-SSRC RTP replay counter; 64 matches the default pion/srtp uses
// internally for its own replay protection.
const replayWindowSize = 64

const (
	masterKeyLen  = 16
	masterSaltLen = 14
	// KeyingMaterialLen is how many bytes Connect must export from the
	// completed DTLS handshake: one AES-CM-128 key and salt per direction.
	KeyingMaterialLen = 2 * (masterKeyLen + masterSaltLen)
)

// KeyingMaterial is the RFC 5764 §4.2 layout of exported SRTP key
// material: client key, server key, client salt, server salt, in that
// order and with no gaps.
type KeyingMaterial struct {
	ClientWriteKey  []byte
	ServerWriteKey  []byte
	ClientWriteSalt []byte
	ServerWriteSalt []byte
}

// SplitKeyingMaterial slices the exported material into its four parts.
func SplitKeyingMaterial(material []byte) (KeyingMaterial, error) {
	if len(material) < KeyingMaterialLen {
		return KeyingMaterial{}, &wrtcerr.BadMediaConfiguration{Reason: "short SRTP keying material"}
	}
	return KeyingMaterial{
		ClientWriteKey:  append([]byte(nil), material[0:16]...),
		ServerWriteKey:  append([]byte(nil), material[16:32]...),
		ClientWriteSalt: append([]byte(nil), material[32:46]...),
		ServerWriteSalt: append([]byte(nil), material[46:60]...),
	}, nil
}

// Role picks which half of the keying material is "local" (used to
// encrypt what this side sends) versus "remote" (used to decrypt what
// this side receives) — the mirror image of pkg/dtls.Role.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Session protects outgoing and unprotects incoming RTP/RTCP with a pair
// of pion/srtp/v3 crypto contexts, one per direction, the same
// local/remote split the teacher's media-session SRTP layer uses.
type Session struct {
	*transport.Base

	profile   srtp.ProtectionProfile
	localCtx  *srtp.Context
	remoteCtx *srtp.Context

	replayMu       sync.Mutex
	replayDetector map[uint32]replaydetector.ReplayDetector
	replayed       uint64
}

// NewSession builds a Session for role from the raw exported keying
// material, defaulting to AES-CM-128/HMAC-SHA1-80 (SRTP_AES128_CM_SHA1_80),
// the mandatory-to-implement WebRTC SRTP profile.
func NewSession(queue *taskqueue.TaskQueue, role Role, material []byte) (*Session, error) {
	km, err := SplitKeyingMaterial(material)
	if err != nil {
		return nil, err
	}

	profile := srtp.ProtectionProfileAes128CmHmacSha1_80

	var localKey, localSalt, remoteKey, remoteSalt []byte
	if role == RoleClient {
		localKey, localSalt = km.ClientWriteKey, km.ClientWriteSalt
		remoteKey, remoteSalt = km.ServerWriteKey, km.ServerWriteSalt
	} else {
		localKey, localSalt = km.ServerWriteKey, km.ServerWriteSalt
		remoteKey, remoteSalt = km.ClientWriteKey, km.ClientWriteSalt
	}

	localCtx, err := srtp.CreateContext(localKey, localSalt, profile)
	if err != nil {
		return nil, err
	}
	remoteCtx, err := srtp.CreateContext(remoteKey, remoteSalt, profile)
	if err != nil {
		return nil, err
	}

	return &Session{
		Base:           transport.NewBase(queue, nil),
		profile:        profile,
		localCtx:       localCtx,
		remoteCtx:      remoteCtx,
		replayDetector: make(map[uint32]replaydetector.ReplayDetector),
	}, nil
}

// EncryptRTP protects one serialized RTP packet.
func (s *Session) EncryptRTP(plaintext []byte) ([]byte, error) {
	var header pionrtp.Header
	if _, err := header.Unmarshal(plaintext); err != nil {
		return nil, &wrtcerr.InvalidRTP{Reason: "cannot parse header to encrypt: " + err.Error()}
	}
	return s.localCtx.EncryptRTP(nil, plaintext, &header)
}

// DecryptRTP unprotects one received SRTP packet. Beyond pion/srtp/v3's
// own internal replay protection, it tracks a second sliding window per
// SSRC so ReplayedCount can surface duplicate/out-of-window arrivals to
// callers without them having to parse srtp's own error values.
func (s *Session) DecryptRTP(ciphertext []byte) ([]byte, error) {
	var header pionrtp.Header
	if _, err := header.Unmarshal(ciphertext); err != nil {
		return nil, &wrtcerr.InvalidRTP{Reason: "cannot parse header to decrypt: " + err.Error()}
	}
	accept, ok := s.checkReplay(header.SSRC, uint64(header.SequenceNumber))
	if !ok {
		s.replayMu.Lock()
		s.replayed++
		s.replayMu.Unlock()
		return nil, &wrtcerr.InvalidRTP{Reason: "replayed or out-of-window sequence number"}
	}

	plaintext, err := s.remoteCtx.DecryptRTP(nil, ciphertext, &header)
	if err != nil {
		return nil, err
	}
	accept()
	return plaintext, nil
}

func (s *Session) checkReplay(ssrc uint32, seq uint64) (func(), bool) {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	d, ok := s.replayDetector[ssrc]
	if !ok {
		d = replaydetector.New(replayWindowSize, 1<<16-1)
		s.replayDetector[ssrc] = d
	}
	return d.Check(seq)
}

// ReplayedCount returns how many inbound RTP packets this session has
// seen fall outside their SSRC's replay window, across all SSRCs.
func (s *Session) ReplayedCount() uint64 {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	return s.replayed
}

// EncryptRTCP protects one serialized RTCP compound packet.
func (s *Session) EncryptRTCP(plaintext []byte) ([]byte, error) {
	return s.localCtx.EncryptRTCP(nil, plaintext, nil)
}

// DecryptRTCP unprotects one received SRTCP compound packet.
func (s *Session) DecryptRTCP(ciphertext []byte) ([]byte, error) {
	return s.remoteCtx.DecryptRTCP(nil, ciphertext, nil)
}

// IsRTCP reports whether buf is an RTCP (as opposed to RTP) datagram,
// per RFC 5761 §4's payload-type-range multiplexing rule: RTCP packet
// types occupy 192..223 in the second header byte, i.e. 64..95 once the
// marker bit is masked off (spec.md §4.12).
func IsRTCP(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	pt := buf[1] & 0x7f
	return pt >= 64 && pt <= 95
}
