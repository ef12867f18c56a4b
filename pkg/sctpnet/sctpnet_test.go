package sctpnet

import (
	"net"
	"testing"
	"time"

	"github.com/ethan/rtcpeer/pkg/taskqueue"
	"github.com/ethan/rtcpeer/pkg/transport"
	"github.com/pion/logging"
)

func TestAssociationHandshakeAndDataChannelRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	cq := taskqueue.New("client")
	defer cq.Stop()
	sq := taskqueue.New("server")
	defer sq.Stop()

	assocErrs := make(chan error, 2)
	var client, server *Association
	go func() {
		a, err := NewAssociation(cq, RoleClient, clientConn, 0, logging.NewDefaultLoggerFactory())
		client = a
		assocErrs <- err
	}()
	go func() {
		a, err := NewAssociation(sq, RoleServer, serverConn, 0, logging.NewDefaultLoggerFactory())
		server = a
		assocErrs <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-assocErrs:
			if err != nil {
				t.Fatalf("association setup failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out establishing SCTP association")
		}
	}
	defer client.Close()
	defer server.Close()

	if client.State() != transport.StateConnected {
		t.Fatalf("expected client association StateConnected, got %v", client.State())
	}

	dcErrs := make(chan error, 2)
	var clientDC, serverDC *DataChannel
	go func() {
		dc, err := OpenChannel(client, 0, ChannelConfig{Label: "chat", Ordered: true})
		clientDC = dc
		dcErrs <- err
	}()
	go func() {
		dc, err := AcceptChannel(server)
		serverDC = dc
		dcErrs <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-dcErrs:
			if err != nil {
				t.Fatalf("data channel handshake failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out on DCEP handshake")
		}
	}
	defer clientDC.Close()
	defer serverDC.Close()

	if clientDC.Label() != "chat" {
		t.Fatalf("expected label 'chat', got %q", clientDC.Label())
	}

	sendErrs := make(chan error, 1)
	go func() { sendErrs <- clientDC.SendText("hello over sctp") }()

	buf := make([]byte, 256)
	n, isString, err := serverDC.Receive(buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !isString {
		t.Fatal("expected a text message")
	}
	if string(buf[:n]) != "hello over sctp" {
		t.Fatalf("expected round-tripped text, got %q", string(buf[:n]))
	}

	if err := <-sendErrs; err != nil {
		t.Fatalf("SendText: %v", err)
	}
}
