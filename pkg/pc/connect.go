package pc

import (
	"context"
	"net"

	dtlsmod "github.com/ethan/rtcpeer/pkg/dtls"
	"github.com/ethan/rtcpeer/pkg/dtlssrtp"
	"github.com/ethan/rtcpeer/pkg/rtcp"
	"github.com/ethan/rtcpeer/pkg/rtcpsession"
	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/rtpsend"
	"github.com/ethan/rtcpeer/pkg/sctpnet"
	"github.com/ethan/rtcpeer/pkg/sdp"
	"github.com/ethan/rtcpeer/pkg/units"
)

// dtlsDemuxLo/Hi and rtpDemuxLo/Hi bound the first-byte ranges RFC 5764
// §5.1.2 assigns to DTLS records versus RTP/RTCP on a muxed ICE socket
// (STUN, the third category, never reaches here: the ICE agent consumes
// it internally before the packet-received callback ever fires).
const (
	dtlsDemuxLo = 20
	dtlsDemuxHi = 63
	rtpDemuxLo  = 128
	rtpDemuxHi  = 191
)

func (pcn *PeerConnection) allocSSRC() uint32 {
	pcn.mu.Lock()
	defer pcn.mu.Unlock()
	ssrc := pcn.nextSSRC
	pcn.nextSSRC++
	return ssrc
}

// egressTransport adapts the PeerConnection's SRTP-over-ICE write path to
// rtpsend.Transport.
type egressTransport struct{ pc *PeerConnection }

func (e egressTransport) WriteRTP(pkt *rtp.Packet) error {
	buf, err := pkt.Marshal()
	if err != nil {
		return err
	}
	enc, err := e.pc.srtpEncryptRTP(buf)
	if err != nil {
		return err
	}
	return e.pc.writeRaw(enc)
}

// rtcpTransport adapts the same write path to rtcpsession.Transport.
type rtcpTransport struct{ pc *PeerConnection }

func (t rtcpTransport) WriteRTCP(buf []byte) error {
	enc, err := t.pc.srtpEncryptRTCP(buf)
	if err != nil {
		return err
	}
	return t.pc.writeRaw(enc)
}

func (pcn *PeerConnection) srtpEncryptRTP(buf []byte) ([]byte, error) {
	pcn.mu.Lock()
	s := pcn.srtp
	pcn.mu.Unlock()
	if s == nil {
		return nil, &unreadyError{"SRTP session"}
	}
	return s.EncryptRTP(buf)
}

func (pcn *PeerConnection) srtpEncryptRTCP(buf []byte) ([]byte, error) {
	pcn.mu.Lock()
	s := pcn.srtp
	pcn.mu.Unlock()
	if s == nil {
		return nil, &unreadyError{"SRTP session"}
	}
	return s.EncryptRTCP(buf)
}

type unreadyError struct{ what string }

func (e *unreadyError) Error() string { return e.what + " not yet established" }

func (pcn *PeerConnection) writeRaw(buf []byte) error {
	pcn.mu.Lock()
	ice := pcn.ice
	pcn.mu.Unlock()
	if ice == nil {
		return &unreadyError{"ICE transport"}
	}
	return ice.Send(buf)
}

// startConnecting kicks off the transport chain once both descriptions
// are known: ICE connectivity checks, the DTLS handshake bridged over the
// selected candidate pair, SRTP keying, SCTP association setup, and
// per-track pipeline wiring. It runs in its own goroutine since the
// handshake is blocking network I/O that SetLocalDescription/
// SetRemoteDescription must not stall on.
func (pcn *PeerConnection) startConnecting() error {
	pcn.mu.Lock()
	if pcn.connecting {
		pcn.mu.Unlock()
		return nil
	}
	pcn.connecting = true
	local, remote := pcn.localDesc, pcn.remoteDesc
	pcn.mu.Unlock()

	dtlsRole, err := pcn.resolveDTLSRole()
	if err != nil {
		pcn.setState(ConnectionFailed)
		return err
	}

	fp := remoteFingerprint(remote)
	pcn.dtls = dtlsmod.NewTransport(pcn.queue, dtlsRole, pcn.cert, fp, pcn.loggerFactory())

	pcn.setState(ConnectionConnecting)
	go pcn.runTransportChain(local, remote, dtlsRole)
	return nil
}

func remoteFingerprint(remote *sdp.Description) dtlsmod.Fingerprint {
	if remote.Fingerprint != nil {
		return dtlsmod.Fingerprint{Algorithm: remote.Fingerprint.Algorithm, Value: remote.Fingerprint.Hash}
	}
	for _, m := range remote.Media {
		if m.Fingerprint != nil {
			return dtlsmod.Fingerprint{Algorithm: m.Fingerprint.Algorithm, Value: m.Fingerprint.Hash}
		}
	}
	return dtlsmod.Fingerprint{}
}

func (pcn *PeerConnection) runTransportChain(local, remote *sdp.Description, dtlsRole dtlsmod.Role) {
	ctx := context.Background()

	if err := pcn.ice.GatherLocalCandidate(); err != nil && pcn.ice.GatheringState() == 0 {
		// Gathering may already be underway from CreateOffer/CreateAnswer;
		// a second call returning an error here is not fatal to Connect.
		pcn.logger.DebugICE("gather candidates: %v", err)
	}

	dtlsSide, bridgeSide := net.Pipe()
	pcn.ice.OnPacketReceived(func(buf []byte) { pcn.routeICEPacket(buf, bridgeSide) })
	go pcn.bridgeWriteLoop(bridgeSide)

	if err := pcn.ice.Connect(ctx); err != nil {
		pcn.fail(err)
		return
	}

	if err := pcn.dtls.Connect(ctx, dtlsSide); err != nil {
		pcn.fail(err)
		return
	}

	material, err := pcn.dtls.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", dtlssrtp.KeyingMaterialLen)
	if err != nil {
		pcn.fail(err)
		return
	}
	srtpRole := dtlssrtp.RoleServer
	sctpRole := sctpnet.RoleServer
	if dtlsRole == dtlsmod.RoleClient {
		srtpRole = dtlssrtp.RoleClient
		sctpRole = sctpnet.RoleClient
	}
	session, err := dtlssrtp.NewSession(pcn.queue, srtpRole, material)
	if err != nil {
		pcn.fail(err)
		return
	}
	pcn.mu.Lock()
	pcn.srtp = session
	pcn.mu.Unlock()

	pcn.wireTracks(remote)

	assoc, err := sctpnet.NewAssociation(pcn.queue, sctpRole, pcn.dtls.Conn(), pcn.cfg.SCTP.MaxMessageSize, pcn.loggerFactory())
	if err != nil {
		pcn.fail(err)
		return
	}
	pcn.mu.Lock()
	pcn.sctp = assoc
	pcn.mu.Unlock()
	pcn.wireDataChannels(sctpRole)

	pcn.setState(ConnectionConnected)
	pcn.startPeriodicTasks()
}

func (pcn *PeerConnection) fail(err error) {
	pcn.logger.Warn("pc: transport chain failed", "error", err)
	pcn.setState(ConnectionFailed)
}

// routeICEPacket is the ICE transport's single packet-received callback: it
// classifies each inbound datagram by first-byte range and either feeds it
// into the DTLS bridge pipe or straight into the SRTP decrypt path. STUN
// never reaches here, already consumed inside the pion/ice agent.
func (pcn *PeerConnection) routeICEPacket(buf []byte, bridgeSide net.Conn) {
	if len(buf) == 0 {
		return
	}
	b := buf[0]
	switch {
	case b >= dtlsDemuxLo && b <= dtlsDemuxHi:
		_, _ = bridgeSide.Write(buf)
	case b >= rtpDemuxLo && b <= rtpDemuxHi:
		pcn.handleSecureRTPDatagram(buf)
	}
}

// bridgeWriteLoop forwards whatever the DTLS library writes into its side
// of the pipe back out over the ICE transport's Send path.
func (pcn *PeerConnection) bridgeWriteLoop(bridgeSide net.Conn) {
	buf := make([]byte, 1500)
	for {
		n, err := bridgeSide.Read(buf)
		if err != nil {
			return
		}
		if err := pcn.writeRaw(append([]byte(nil), buf[:n]...)); err != nil {
			return
		}
	}
}

func (pcn *PeerConnection) handleSecureRTPDatagram(buf []byte) {
	pcn.mu.Lock()
	s := pcn.srtp
	pcn.mu.Unlock()
	if s == nil {
		return
	}

	if dtlssrtp.IsRTCP(buf) {
		plain, err := s.DecryptRTCP(buf)
		if err != nil {
			return
		}
		_ = pcn.rtcpReceiver.HandleIncoming(plain)
		return
	}

	plain, err := s.DecryptRTP(buf)
	if err != nil {
		return
	}
	pkt, err := rtp.Parse(plain)
	if err != nil {
		return
	}
	pkt.ArrivalTime = pcn.clock.Now()
	pcn.demuxer.DispatchRTP(pkt, pcn.extMap)
}

// wireTracks binds each registered track's SSRCs into the demuxer and
// learns the remote peer's SSRCs for the matching mid.
func (pcn *PeerConnection) wireTracks(remote *sdp.Description) {
	pcn.mu.Lock()
	defer pcn.mu.Unlock()

	for _, t := range pcn.tracks {
		pcn.demuxer.BindMid(t.cfg.Mid, t)

		m := remote.MediaByMid(t.cfg.Mid)
		if m == nil {
			continue
		}
		t.bindRemote(m)
		if t.remoteMediaSSRC != 0 {
			pcn.demuxer.BindSSRC(t.remoteMediaSSRC, t)
		}
		if t.remoteRtxSSRC != 0 {
			pcn.demuxer.BindSSRC(t.remoteRtxSSRC, t)
		}
		if pcn.onTrack != nil {
			cb, matched := pcn.onTrack, t
			pcn.queue.Post(func() { cb(matched) })
		}
	}
}

func (pcn *PeerConnection) startPeriodicTasks() {
	pcn.mu.Lock()
	tracks := make([]*MediaTrack, 0, len(pcn.tracks))
	for _, t := range pcn.tracks {
		tracks = append(tracks, t)
	}
	pcn.mu.Unlock()

	for _, t := range tracks {
		pcn.scheduleReport(t)
	}
	pcn.scheduleNackUpdate()
}

func (pcn *PeerConnection) scheduleReport(t *MediaTrack) {
	var tick func()
	tick = func() {
		if pcn.State() != ConnectionConnected {
			return
		}
		_ = t.rtcpSender.SendRtcp(rtcpsession.ReasonReport)
		pcn.queue.PostDelayed(t.rtcpSender.NextReportDelay(), tick)
	}
	pcn.queue.PostDelayed(t.rtcpSender.NextReportDelay(), tick)
}

func (pcn *PeerConnection) scheduleNackUpdate() {
	var tick func()
	tick = func() {
		if pcn.State() != ConnectionConnected {
			return
		}
		pcn.mu.Lock()
		tracks := make([]*MediaTrack, 0, len(pcn.tracks))
		for _, t := range pcn.tracks {
			tracks = append(tracks, t)
		}
		pcn.mu.Unlock()
		for _, t := range tracks {
			t.updateReceive()
		}
		pcn.queue.PostDelayed(units.Micros(receiveNackUpdateMicros), tick)
	}
	pcn.queue.PostDelayed(units.Micros(receiveNackUpdateMicros), tick)
}

const receiveNackUpdateMicros = 20 * 1000

// AddTrack registers a single audio or video track, returning the handle
// used to write outbound samples and receive inbound ones. Only one track
// per kind may be registered, matching this module's single-audio/
// single-video scope.
func (pcn *PeerConnection) AddTrack(kind sdp.MediaKind, cfg MediaTrackConfiguration) (*MediaTrack, error) {
	if kind != sdp.KindAudio && kind != sdp.KindVideo {
		return nil, &unreadyError{"AddTrack only accepts audio or video"}
	}
	pcn.mu.Lock()
	defer pcn.mu.Unlock()
	if _, exists := pcn.tracks[kind]; exists {
		return nil, &unreadyError{"a track of this kind is already registered"}
	}
	t := newMediaTrack(pcn, kind, cfg)
	pcn.tracks[kind] = t
	return t, nil
}

// rtcpObserver implements rtcpsession.Observer, dispatching feedback to
// the track that owns the named media SSRC.
type rtcpObserver struct{ pc *PeerConnection }

func (o rtcpObserver) trackFor(ssrc uint32) *MediaTrack {
	o.pc.mu.Lock()
	defer o.pc.mu.Unlock()
	for _, t := range o.pc.tracks {
		if t.mediaSSRC == ssrc || t.remoteMediaSSRC == ssrc {
			return t
		}
	}
	return nil
}

func (o rtcpObserver) OnReceivedNack(_, mediaSSRC uint32, missing []uint16) {
	if t := o.trackFor(mediaSSRC); t != nil {
		for _, seq := range missing {
			if pkt, ok := t.history.Get(seq); ok {
				_, _ = t.egress.Send(pkt.Clone(), rtpsend.Retransmission)
			}
		}
	}
}

func (o rtcpObserver) OnRequestSendReport(mediaSSRC uint32, _ bool) {
	if t := o.trackFor(mediaSSRC); t != nil {
		t.mu.Lock()
		fn := t.onKeyframeRequest
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func (o rtcpObserver) SetTmmbn(_ []rtcp.TMMBEntry) {}

func (o rtcpObserver) OnReceivedRtcpReportBlocks(_ []rtcp.ReportBlock) {}
