// Package dtls wraps pion/dtls/v3 behind the spec.md §4.12 DTLS transport
// contract: certificate generation, fingerprint exchange/verification, the
// client/server handshake driven by the SDP "setup" attribute, and SRTP
// keying-material export for pkg/dtlssrtp.
package dtls

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"net"
	"strings"

	"github.com/ethan/rtcpeer/pkg/taskqueue"
	"github.com/ethan/rtcpeer/pkg/transport"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
	piondtls "github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
	"github.com/pion/logging"
)

// Role is the DTLS handshake role negotiated via SDP's "setup" attribute:
// ACTIVE dials (DTLS client), PASSIVE listens (DTLS server), ACT_PASS
// defers to whichever side the offer/answer exchange resolves it to
// before Connect is called.
type Role int

const (
	RoleActPass Role = iota
	RoleClient
	RoleServer
)

// Fingerprint is a certificate fingerprint as carried on an SDP
// "a=fingerprint" line: an algorithm name and an uppercase colon-separated
// hex digest.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// GenerateCertificate returns a fresh self-signed ECDSA certificate, one
// per PeerConnection, the way the teacher's DTLS peers each mint their own
// rather than sharing a CA-issued identity.
func GenerateCertificate() (tls.Certificate, error) {
	return selfsign.GenerateSelfSigned()
}

// ComputeFingerprint hashes cert's leaf with SHA-256 and formats it the way
// SDP expects on an "a=fingerprint" line.
func ComputeFingerprint(cert tls.Certificate) (Fingerprint, error) {
	if len(cert.Certificate) == 0 {
		return Fingerprint{}, &wrtcerr.BadMediaConfiguration{Reason: "certificate has no leaf"}
	}
	sum := sha256.Sum256(cert.Certificate[0])
	return Fingerprint{Algorithm: "sha-256", Value: formatFingerprint(sum[:])}, nil
}

func formatFingerprint(sum []byte) string {
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}

// Transport drives one DTLS handshake and the resulting encrypted channel,
// wrapped around pkg/transport.Base for state tracking and queue-confined
// callbacks, per spec.md §3.
type Transport struct {
	*transport.Base

	role              Role
	cert              tls.Certificate
	remoteFingerprint Fingerprint
	loggerFactory     logging.LoggerFactory

	conn *piondtls.Conn
}

// NewTransport constructs a DTLS transport that will handshake as role,
// presenting cert and verifying the peer against remoteFingerprint instead
// of a system CA trust chain (WebRTC DTLS peers are always self-signed).
func NewTransport(queue *taskqueue.TaskQueue, role Role, cert tls.Certificate, remoteFingerprint Fingerprint, loggerFactory logging.LoggerFactory) *Transport {
	return &Transport{
		Base:              transport.NewBase(queue, nil),
		role:              role,
		cert:              cert,
		remoteFingerprint: remoteFingerprint,
		loggerFactory:     loggerFactory,
	}
}

// SetRemoteFingerprint updates the fingerprint Connect will verify against,
// for callers that only learn it after constructing the Transport.
func (t *Transport) SetRemoteFingerprint(fp Fingerprint) { t.remoteFingerprint = fp }

func (t *Transport) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return &wrtcerr.FingerprintMismatch{Want: t.remoteFingerprint.Value, Got: ""}
	}
	sum := sha256.Sum256(rawCerts[0])
	got := formatFingerprint(sum[:])
	if !strings.EqualFold(got, t.remoteFingerprint.Value) {
		return &wrtcerr.FingerprintMismatch{Want: t.remoteFingerprint.Value, Got: got}
	}
	return nil
}

// Connect runs the DTLS handshake over lower (the established ICE
// connection). It starts no read loop of its own: once the handshake is
// complete, decrypted application data is read from the DTLS conn itself.
func (t *Transport) Connect(ctx context.Context, lower net.Conn) error {
	t.SetState(transport.StateConnecting)

	cfg := &piondtls.Config{
		Certificates:          []tls.Certificate{t.cert},
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: t.verifyPeerCertificate,
		LoggerFactory:         t.loggerFactory,
	}

	var conn *piondtls.Conn
	var err error
	if t.role == RoleServer {
		conn, err = piondtls.ServerWithContext(ctx, lower, cfg)
	} else {
		conn, err = piondtls.ClientWithContext(ctx, lower, cfg)
	}
	if err != nil {
		t.SetState(transport.StateFailed)
		return err
	}

	t.conn = conn
	t.SetState(transport.StateConnected)
	return nil
}

// Send writes buf over the encrypted DTLS channel.
func (t *Transport) Send(buf []byte) error {
	if t.Stopped() {
		return nil
	}
	if t.conn == nil {
		return &wrtcerr.UnexpectedState{Have: "not connected", Want: "connected"}
	}
	_, err := t.conn.Write(buf)
	return err
}

// ExportKeyingMaterial derives SRTP session key material from the
// completed handshake per RFC 5764 §4.2, consumed by pkg/dtlssrtp.
func (t *Transport) ExportKeyingMaterial(label string, length int) ([]byte, error) {
	if t.conn == nil {
		return nil, &wrtcerr.UnexpectedState{Have: "not connected", Want: "connected"}
	}
	return t.conn.ConnectionState().ExportKeyingMaterial(label, nil, length)
}

// Conn returns the underlying encrypted connection once Connect has
// succeeded, for layers above (SCTP) that need a plain net.Conn to ride
// application data over the same handshake.
func (t *Transport) Conn() net.Conn { return t.conn }

// Close tears down the DTLS connection.
func (t *Transport) Close() error {
	t.Stop()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
