package pc

import (
	"testing"

	dtlsmod "github.com/ethan/rtcpeer/pkg/dtls"
	"github.com/ethan/rtcpeer/pkg/sdp"
)

var testVideoCodec = sdp.RtpMap{PayloadType: 96, Codec: "H264", ClockRate: 90000}
var testAudioCodec = sdp.RtpMap{PayloadType: 111, Codec: "opus", ClockRate: 48000, Channels: 2}

func TestCreateOfferDeclaresActpassAndRegisteredTracks(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	if _, err := pcn.AddTrack(sdp.KindAudio, MediaTrackConfiguration{Mid: "0", Codec: testAudioCodec}); err != nil {
		t.Fatalf("AddTrack audio: %v", err)
	}
	if _, err := pcn.AddTrack(sdp.KindVideo, MediaTrackConfiguration{Mid: "1", Codec: testVideoCodec}); err != nil {
		t.Fatalf("AddTrack video: %v", err)
	}
	if _, err := pcn.CreateDataChannel(DataChannelInit{Label: "control"}); err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}

	offer, err := pcn.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != sdp.Offer {
		t.Fatalf("expected an Offer, got %v", offer.Type)
	}
	if offer.Role != sdp.RoleActPass {
		t.Fatalf("expected setup:actpass on an offer, got %v", offer.Role)
	}
	if offer.Fingerprint == nil {
		t.Fatalf("expected a DTLS fingerprint on the offer")
	}
	if offer.IceUfrag == "" || offer.IcePwd == "" {
		t.Fatalf("expected ICE credentials to be populated")
	}
	if len(offer.Media) != 3 {
		t.Fatalf("expected audio+video+application media entries, got %d", len(offer.Media))
	}
	if m := offer.MediaByMid("0"); m == nil || m.Kind != sdp.KindAudio {
		t.Fatalf("expected mid 0 to be the audio entry, got %+v", m)
	}
	if m := offer.MediaByMid("1"); m == nil || m.Kind != sdp.KindVideo {
		t.Fatalf("expected mid 1 to be the video entry, got %+v", m)
	}
}

func TestCreateAnswerRequiresARemoteDescription(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	if _, err := pcn.CreateAnswer(); err == nil {
		t.Fatalf("expected CreateAnswer to fail before SetRemoteDescription")
	}
}

func TestCreateAnswerDeclaresActiveRole(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	// Set the remote description directly rather than via
	// SetRemoteDescription, which would kick off the real transport chain.
	pcn.mu.Lock()
	pcn.remoteDesc = &sdp.Description{Type: sdp.Offer, Role: sdp.RoleActPass}
	pcn.mu.Unlock()

	answer, err := pcn.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if answer.Type != sdp.Answer {
		t.Fatalf("expected an Answer, got %v", answer.Type)
	}
	if answer.Role != sdp.RoleActive {
		t.Fatalf("expected setup:active on an answer, got %v", answer.Role)
	}
}

func TestAddTrackRejectsNonMediaKinds(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	if _, err := pcn.AddTrack(sdp.KindApplication, MediaTrackConfiguration{Mid: "0"}); err == nil {
		t.Fatalf("expected AddTrack to reject an application kind")
	}
}

func TestAddTrackRejectsASecondTrackOfTheSameKind(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	if _, err := pcn.AddTrack(sdp.KindVideo, MediaTrackConfiguration{Mid: "0", Codec: testVideoCodec}); err != nil {
		t.Fatalf("first AddTrack: %v", err)
	}
	if _, err := pcn.AddTrack(sdp.KindVideo, MediaTrackConfiguration{Mid: "1", Codec: testVideoCodec}); err == nil {
		t.Fatalf("expected a second video track to be rejected")
	}
}

func TestResolveDTLSRoleOffererTakesTheInverseOfTheAnswersRole(t *testing.T) {
	cases := []struct {
		name       string
		answerRole sdp.Role
		want       dtlsmod.Role
	}{
		{"remote active means we are the server", sdp.RoleActive, dtlsmod.RoleServer},
		{"remote passive means we are the client", sdp.RolePassive, dtlsmod.RoleClient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pcn, err := New()
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer pcn.queue.Stop()

			pcn.mu.Lock()
			pcn.localDesc = &sdp.Description{Type: sdp.Offer, Role: sdp.RoleActPass}
			pcn.remoteDesc = &sdp.Description{Type: sdp.Answer, Role: tc.answerRole}
			pcn.mu.Unlock()

			got, err := pcn.resolveDTLSRole()
			if err != nil {
				t.Fatalf("resolveDTLSRole: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got role %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolveDTLSRoleAnswererIsAlwaysTheClient(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	pcn.mu.Lock()
	pcn.localDesc = &sdp.Description{Type: sdp.Answer, Role: sdp.RoleActive}
	pcn.remoteDesc = &sdp.Description{Type: sdp.Offer, Role: sdp.RoleActPass}
	pcn.mu.Unlock()

	got, err := pcn.resolveDTLSRole()
	if err != nil {
		t.Fatalf("resolveDTLSRole: %v", err)
	}
	if got != dtlsmod.RoleClient {
		t.Fatalf("expected the answerer to always be the DTLS client, got %v", got)
	}
}

func TestResolveDTLSRoleFailsBeforeBothDescriptionsAreSet(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	if _, err := pcn.resolveDTLSRole(); err == nil {
		t.Fatalf("expected resolveDTLSRole to fail with no descriptions set")
	}
}

func TestDataChannelSendBeforeOpenReturnsAnUnreadyError(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	dc, err := pcn.CreateDataChannel(DataChannelInit{Label: "control"})
	if err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	if dc.Label() != "control" {
		t.Fatalf("expected the handle's label to be usable before binding, got %q", dc.Label())
	}
	if err := dc.SendText("too soon"); err == nil {
		t.Fatalf("expected SendText to fail before the data channel is wired")
	}
	if err := dc.SendBinary([]byte("too soon")); err == nil {
		t.Fatalf("expected SendBinary to fail before the data channel is wired")
	}
}

func TestCreateDataChannelRejectsAnEmptyLabel(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	if _, err := pcn.CreateDataChannel(DataChannelInit{}); err == nil {
		t.Fatalf("expected an empty label to be rejected")
	}
}

func TestWireTracksBindsRemoteSSRCsNotLocalOnes(t *testing.T) {
	pcn, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pcn.queue.Stop()

	track, err := pcn.AddTrack(sdp.KindVideo, MediaTrackConfiguration{Mid: "1", Codec: testVideoCodec})
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	remote := &sdp.Description{Type: sdp.Answer, Role: sdp.RoleActive}
	m := &sdp.MediaEntry{Kind: sdp.KindVideo, Mid: "1", MediaSsrcs: []uint32{555}}
	remote.Media = append(remote.Media, m)

	pcn.wireTracks(remote)

	if track.remoteMediaSSRC != 555 {
		t.Fatalf("expected bindRemote to learn SSRC 555, got %d", track.remoteMediaSSRC)
	}
	if track.remoteMediaSSRC == track.mediaSSRC {
		t.Fatalf("remote and local SSRCs should never collide in this test fixture")
	}
}
