// Command loopback drives two PeerConnections against each other in one
// process, over real UDP sockets on localhost, with no signaling server:
// the offer/answer and trickled candidates are handed directly from one
// side's callbacks to the other's methods. It exists to exercise the full
// negotiation and transport chain (SDP, ICE, DTLS, SRTP, SCTP) end to end
// without any external dependency.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethan/rtcpeer/pkg/config"
	"github.com/ethan/rtcpeer/pkg/jitter"
	"github.com/ethan/rtcpeer/pkg/pc"
	"github.com/ethan/rtcpeer/pkg/sdp"
)

func main() {
	fs := flag.NewFlagSet("loopback", flag.ExitOnError)
	timeout := fs.Duration("timeout", 10*time.Second, "how long to wait for the connection to come up")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Negotiate two in-process PeerConnections over real UDP sockets.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := run(*timeout); err != nil {
		slog.Error("loopback failed", "error", err)
		os.Exit(1)
	}
}

var videoCodec = sdp.RtpMap{PayloadType: 96, Codec: "H264", ClockRate: 90000, Fmtp: []string{"packetization-mode=1"}}

func run(timeout time.Duration) error {
	offerer, err := pc.New(config.WithSCTP(config.SCTPConfig{Port: 5000, MaxMessageSize: 262144}))
	if err != nil {
		return fmt.Errorf("new offerer: %w", err)
	}
	defer offerer.Close()

	answerer, err := pc.New(config.WithSCTP(config.SCTPConfig{Port: 5000, MaxMessageSize: 262144}))
	if err != nil {
		return fmt.Errorf("new answerer: %w", err)
	}
	defer answerer.Close()

	// Trickle each side's gathered candidates straight into the other,
	// standing in for the signaling channel a real deployment would use.
	offerer.OnIceCandidate(func(c string) { _ = answerer.AddIceCandidate(c) })
	answerer.OnIceCandidate(func(c string) { _ = offerer.AddIceCandidate(c) })

	connected := make(chan struct{}, 2)
	onState := func(who string) func(pc.ConnectionState) {
		return func(s pc.ConnectionState) {
			slog.Info("connection state", "side", who, "state", s.String())
			if s == pc.ConnectionConnected {
				connected <- struct{}{}
			}
		}
	}
	offerer.OnConnectionStateChange(onState("offerer"))
	answerer.OnConnectionStateChange(onState("answerer"))

	offererVideo, err := offerer.AddTrack(sdp.KindVideo, pc.MediaTrackConfiguration{
		Mid: "0", Codec: videoCodec, Direction: sdp.SendRecv,
	})
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	answerer.OnTrack(func(t *pc.MediaTrack) {
		t.OnFrame(func(f jitter.ReadyFrame) {
			slog.Info("received frame", "keyframe", f.Frame.Keyframe, "nalus", len(f.Frame.Nalus))
		})
	})

	received := make(chan []byte, 1)

	dc, err := offerer.CreateDataChannel(pc.DataChannelInit{Label: "control", Ordered: true})
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	answerer.OnDataChannel(func(remote *pc.DataChannel) {
		go func() {
			buf := make([]byte, 4096)
			n, _, err := remote.Receive(buf)
			if err == nil {
				received <- append([]byte(nil), buf[:n]...)
			}
		}()
	})

	offer, err := offerer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := offerer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local (offer): %w", err)
	}
	if err := answerer.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote (offer): %w", err)
	}

	answer, err := answerer.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := answerer.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local (answer): %w", err)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote (answer): %w", err)
	}

	deadline := time.After(timeout)
	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-deadline:
			return fmt.Errorf("timed out waiting for both sides to connect")
		}
	}
	slog.Info("both sides connected")

	if err := dc.SendText("hello over sctp"); err != nil {
		return fmt.Errorf("send data channel message: %w", err)
	}
	select {
	case msg := <-received:
		slog.Info("data channel roundtrip", "message", string(msg))
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for data channel message")
	}

	_ = offererVideo
	return nil
}
