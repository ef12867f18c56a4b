// Package pc is the PeerConnection façade of spec.md §6: it wires
// together SDP negotiation, the ICE/DTLS/SCTP transport chain, and the
// RTP/RTCP send and receive pipelines behind the small surface a caller
// actually needs (CreateOffer/CreateAnswer/SetLocalDescription/
// SetRemoteDescription/AddTrack/CreateDataChannel plus a handful of
// state-change callbacks). Everything it wires already exists as its own
// tested package; this file is glue, not an engine.
package pc

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/config"
	"github.com/ethan/rtcpeer/pkg/demux"
	dtlsmod "github.com/ethan/rtcpeer/pkg/dtls"
	"github.com/ethan/rtcpeer/pkg/dtlssrtp"
	icemod "github.com/ethan/rtcpeer/pkg/ice"
	ourlogging "github.com/ethan/rtcpeer/pkg/logging"
	"github.com/ethan/rtcpeer/pkg/rtcpsession"
	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/sctpnet"
	"github.com/ethan/rtcpeer/pkg/sdp"
	"github.com/ethan/rtcpeer/pkg/taskqueue"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// ConnectionState is the PeerConnection's aggregate connectivity state,
// the "OnConnectionStateChange" value of spec.md §6.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "new"
	}
}

// PeerConnection wires one offer/answer session's ICE, DTLS, SRTP, and
// SCTP transports to a bounded set of registered tracks and data
// channels. It supports exactly one audio and one video track plus any
// number of data channels on a single bundled transport, matching this
// module's Non-goal of simulcast/renegotiation.
type PeerConnection struct {
	cfg    *config.Config
	clock  clock.Clock
	queue  *taskqueue.TaskQueue
	logger *ourlogging.Logger

	cert        tls.Certificate
	fingerprint dtlsmod.Fingerprint

	mu sync.Mutex

	localDesc  *sdp.Description
	remoteDesc *sdp.Description

	ice  *icemod.Transport
	dtls *dtlsmod.Transport
	srtp *dtlssrtp.Session
	sctp *sctpnet.Association

	demuxer      *demux.Demuxer
	extMap       *rtp.HeaderExtensionMap
	rtcpReceiver *rtcpsession.Receiver

	tracks       map[sdp.MediaKind]*MediaTrack
	dataChannels []*pendingDataChannel

	nextSSRC uint32

	connecting bool
	state      ConnectionState

	onConnectionStateChange func(ConnectionState)
	onGatheringStateChange  func(icemod.GatheringState)
	onIceCandidate          func(candidate string)
	onDataChannel           func(*DataChannel)
	onTrack                 func(*MediaTrack)
}

// New builds a PeerConnection from Default() plus any options, generating
// a fresh self-signed DTLS certificate unless one was supplied.
func New(opts ...config.Option) (*PeerConnection, error) {
	cfg := config.Default()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var cert tls.Certificate
	var err error
	if len(cfg.Certificates) > 0 {
		cert = cfg.Certificates[0]
	} else {
		cert, err = dtlsmod.GenerateCertificate()
		if err != nil {
			return nil, fmt.Errorf("pc: generate certificate: %w", err)
		}
	}
	fp, err := dtlsmod.ComputeFingerprint(cert)
	if err != nil {
		return nil, fmt.Errorf("pc: compute fingerprint: %w", err)
	}

	extMap := rtp.NewHeaderExtensionMap()
	extMap.Register(rtp.Mid, 1)
	extMap.Register(rtp.RtpStreamID, 2)

	pcn := &PeerConnection{
		cfg:         cfg,
		clock:       clock.NewReal(),
		queue:       taskqueue.New("pc"),
		logger:      ourlogging.Default(),
		cert:        cert,
		fingerprint: fp,
		demuxer:     demux.New(),
		extMap:      extMap,
		tracks:      make(map[sdp.MediaKind]*MediaTrack),
		nextSSRC:    1000,
	}
	pcn.rtcpReceiver = rtcpsession.NewReceiver(pcn.clock, rtcpObserver{pc: pcn})
	return pcn, nil
}

func (pcn *PeerConnection) loggerFactory() *ourlogging.PionLoggerFactory {
	return &ourlogging.PionLoggerFactory{Logger: pcn.logger}
}

func (pcn *PeerConnection) setState(s ConnectionState) {
	pcn.mu.Lock()
	if pcn.state == s {
		pcn.mu.Unlock()
		return
	}
	pcn.state = s
	cb := pcn.onConnectionStateChange
	pcn.mu.Unlock()
	if cb != nil {
		pcn.queue.Dispatch(func() { cb(s) })
	}
}

// State returns the current aggregate connectivity state.
func (pcn *PeerConnection) State() ConnectionState {
	pcn.mu.Lock()
	defer pcn.mu.Unlock()
	return pcn.state
}

// OnConnectionStateChange registers the aggregate state-change callback.
func (pcn *PeerConnection) OnConnectionStateChange(fn func(ConnectionState)) {
	pcn.mu.Lock()
	pcn.onConnectionStateChange = fn
	pcn.mu.Unlock()
}

// OnIceGatheringStateChange registers the ICE gathering-state callback.
func (pcn *PeerConnection) OnIceGatheringStateChange(fn func(icemod.GatheringState)) {
	pcn.mu.Lock()
	pcn.onGatheringStateChange = fn
	pcn.mu.Unlock()
}

// OnIceCandidate registers the per-local-candidate callback, fired once
// for every candidate ICE gathers (an empty-candidate "end of candidates"
// signal is not sent separately; OnIceGatheringStateChange reports that).
func (pcn *PeerConnection) OnIceCandidate(fn func(candidate string)) {
	pcn.mu.Lock()
	pcn.onIceCandidate = fn
	pcn.mu.Unlock()
}

// OnDataChannel registers the callback fired when the remote peer opens a
// data channel on this connection.
func (pcn *PeerConnection) OnDataChannel(fn func(*DataChannel)) {
	pcn.mu.Lock()
	pcn.onDataChannel = fn
	pcn.mu.Unlock()
}

// OnTrack registers the callback fired once a remote media track has been
// matched to one of this side's negotiated media entries.
func (pcn *PeerConnection) OnTrack(fn func(*MediaTrack)) {
	pcn.mu.Lock()
	pcn.onTrack = fn
	pcn.mu.Unlock()
}

// ensureICE lazily constructs the ICE transport the first time a
// description needs local credentials or gathering, since every media
// and data m= line in this module shares one bundled transport.
func (pcn *PeerConnection) ensureICE(role icemod.Role) (*icemod.Transport, error) {
	if pcn.ice != nil {
		return pcn.ice, nil
	}
	t, err := icemod.NewTransport(pcn.queue, role, pcn.cfg.ICEServers, pcn.loggerFactory())
	if err != nil {
		return nil, err
	}
	t.OnGatheringStateChange(func(s icemod.GatheringState) {
		pcn.mu.Lock()
		cb := pcn.onGatheringStateChange
		pcn.mu.Unlock()
		if cb != nil {
			cb(s)
		}
	})
	t.OnLocalCandidate(func(candidate string) {
		pcn.mu.Lock()
		cb := pcn.onIceCandidate
		pcn.mu.Unlock()
		if cb != nil {
			cb(candidate)
		}
	})
	pcn.ice = t
	return t, nil
}

// CreateOffer builds a local offer describing every track registered via
// AddTrack and a data-channel application entry if CreateDataChannel was
// ever called, with fresh ICE credentials and this side's DTLS
// fingerprint, declaring setup:actpass per RFC 5763 §5.
func (pcn *PeerConnection) CreateOffer() (*sdp.Description, error) {
	ice, err := pcn.ensureICE(icemod.RoleActive)
	if err != nil {
		return nil, err
	}
	ufrag, pwd := ice.LocalCredentials()

	b := sdp.NewBuilder(sdp.Offer).
		SetRole(sdp.RoleActPass).
		SetIceUfrag(ufrag).
		SetIcePwd(pwd).
		SetFingerprint(sdp.Fingerprint{Algorithm: pcn.fingerprint.Algorithm, Hash: pcn.fingerprint.Value})

	pcn.populateMedia(b)

	return b.Build()
}

// CreateAnswer builds a local answer to the current remote description,
// declaring a concrete setup role (this module always answers "active",
// i.e. it drives the DTLS handshake as client) per RFC 5763 §5.
func (pcn *PeerConnection) CreateAnswer() (*sdp.Description, error) {
	pcn.mu.Lock()
	remote := pcn.remoteDesc
	pcn.mu.Unlock()
	if remote == nil {
		return nil, &wrtcerr.UnexpectedState{Have: "no remote description", Want: "remote description set"}
	}

	ice, err := pcn.ensureICE(icemod.RolePassive)
	if err != nil {
		return nil, err
	}
	ufrag, pwd := ice.LocalCredentials()

	b := sdp.NewBuilder(sdp.Answer).
		SetRole(sdp.RoleActive).
		SetIceUfrag(ufrag).
		SetIcePwd(pwd).
		SetFingerprint(sdp.Fingerprint{Algorithm: pcn.fingerprint.Algorithm, Hash: pcn.fingerprint.Value})

	pcn.populateMedia(b)

	return b.Build()
}

// populateMedia appends one media entry per registered track plus an
// application entry if any data channel has been requested, in a fixed
// audio/video/application order.
func (pcn *PeerConnection) populateMedia(b *sdp.Builder) {
	pcn.mu.Lock()
	defer pcn.mu.Unlock()

	if t, ok := pcn.tracks[sdp.KindAudio]; ok {
		m := b.AddAudio(t.cfg.Mid, sdp.SendRecv, t.cfg.Codec)
		t.describe(m)
	}
	if t, ok := pcn.tracks[sdp.KindVideo]; ok {
		m := b.AddVideo(t.cfg.Mid, sdp.SendRecv, t.cfg.Codec)
		t.describe(m)
	}
	if len(pcn.dataChannels) > 0 {
		b.AddApplication("data", pcn.cfg.SCTP.Port, uint64(pcn.cfg.SCTP.MaxMessageSize))
	}
}

// SetLocalDescription records desc as this side's local description. The
// caller is expected to pass the value CreateOffer/CreateAnswer returned,
// possibly after mutating ICE candidates into it.
func (pcn *PeerConnection) SetLocalDescription(desc *sdp.Description) error {
	pcn.mu.Lock()
	pcn.localDesc = desc
	ready := pcn.localDesc != nil && pcn.remoteDesc != nil
	pcn.mu.Unlock()
	if ready {
		return pcn.startConnecting()
	}
	return nil
}

// SetRemoteDescription records the remote peer's offer or answer,
// binding its fingerprint and ICE credentials, and begins connecting
// once both descriptions are present.
func (pcn *PeerConnection) SetRemoteDescription(desc *sdp.Description) error {
	if desc.Fingerprint == nil {
		return &wrtcerr.BadMediaConfiguration{Reason: "remote description carries no DTLS fingerprint"}
	}

	pcn.mu.Lock()
	pcn.remoteDesc = desc
	ready := pcn.localDesc != nil && pcn.remoteDesc != nil
	pcn.mu.Unlock()

	ice, err := pcn.ensureICE(icemod.RolePassive)
	if err != nil {
		return err
	}
	ice.SetRemoteCredentials(desc.IceUfrag, desc.IcePwd)
	for _, m := range desc.Media {
		for _, c := range m.Candidates {
			_ = ice.AddRemoteCandidate(sdp.CandidateLine(c))
		}
	}

	if ready {
		return pcn.startConnecting()
	}
	return nil
}

// AddIceCandidate feeds one trickled remote ICE candidate line in.
func (pcn *PeerConnection) AddIceCandidate(candidateLine string) error {
	pcn.mu.Lock()
	ice := pcn.ice
	pcn.mu.Unlock()
	if ice == nil {
		return &wrtcerr.UnexpectedState{Have: "no ICE transport", Want: "SetRemoteDescription called first"}
	}
	return ice.AddRemoteCandidate(candidateLine)
}

// Close tears down every transport in the chain.
func (pcn *PeerConnection) Close() error {
	pcn.mu.Lock()
	ice, dtls, sctp := pcn.ice, pcn.dtls, pcn.sctp
	pcn.mu.Unlock()

	if sctp != nil {
		_ = sctp.Close()
	}
	if dtls != nil {
		_ = dtls.Close()
	}
	if ice != nil {
		_ = ice.Close()
	}
	pcn.setState(ConnectionClosed)
	pcn.queue.Stop()
	return nil
}

// LocalFingerprint returns this side's DTLS certificate fingerprint, for
// callers assembling a description by hand.
func (pcn *PeerConnection) LocalFingerprint() dtlsmod.Fingerprint { return pcn.fingerprint }

// resolveDTLSRole derives this side's final client/server DTLS role from
// the negotiated setup attribute (RFC 5763 §5): the offerer always
// declares actpass and takes the inverse of whatever concrete role the
// answer resolves to; the answerer always declares active itself (see
// CreateAnswer), so it is always the DTLS client.
func (pcn *PeerConnection) resolveDTLSRole() (dtlsmod.Role, error) {
	pcn.mu.Lock()
	local, remote := pcn.localDesc, pcn.remoteDesc
	pcn.mu.Unlock()
	if local == nil || remote == nil {
		return dtlsmod.RoleActPass, &wrtcerr.UnexpectedState{Have: "descriptions not both set", Want: "local and remote description"}
	}
	if local.Type == sdp.Offer {
		if remote.Role == sdp.RolePassive {
			return dtlsmod.RoleClient, nil
		}
		return dtlsmod.RoleServer, nil
	}
	return dtlsmod.RoleClient, nil
}
