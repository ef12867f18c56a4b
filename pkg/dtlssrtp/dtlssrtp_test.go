package dtlssrtp

import (
	"bytes"
	"testing"

	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/taskqueue"
)

func fakeKeyingMaterial() []byte {
	material := make([]byte, KeyingMaterialLen)
	for i := range material {
		material[i] = byte(i + 1)
	}
	return material
}

func samplePacket() []byte {
	p := rtp.NewPacket()
	p.PayloadType = 96
	p.SequenceNumber = 1000
	p.Timestamp = 90000
	p.SSRC = 0xCAFEBABE
	p.Payload = []byte("hello from the jitter buffer")
	buf, err := p.Marshal()
	if err != nil {
		panic(err)
	}
	return buf
}

func TestSplitKeyingMaterialRejectsShortInput(t *testing.T) {
	if _, err := SplitKeyingMaterial(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for short keying material")
	}
}

func TestRoundTripRTPThroughOppositeRoles(t *testing.T) {
	material := fakeKeyingMaterial()

	cq := taskqueue.New("client")
	defer cq.Stop()
	sq := taskqueue.New("server")
	defer sq.Stop()

	client, err := NewSession(cq, RoleClient, material)
	if err != nil {
		t.Fatalf("NewSession client: %v", err)
	}
	server, err := NewSession(sq, RoleServer, material)
	if err != nil {
		t.Fatalf("NewSession server: %v", err)
	}

	plaintext := samplePacket()

	ciphertext, err := client.EncryptRTP(plaintext)
	if err != nil {
		t.Fatalf("client EncryptRTP: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	decrypted, err := server.DecryptRTP(ciphertext)
	if err != nil {
		t.Fatalf("server DecryptRTP: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected round-tripped RTP to match original, got %v want %v", decrypted, plaintext)
	}
}

func TestDecryptRTPRejectsReplayedSequenceNumber(t *testing.T) {
	material := fakeKeyingMaterial()

	cq := taskqueue.New("client")
	defer cq.Stop()
	sq := taskqueue.New("server")
	defer sq.Stop()

	client, err := NewSession(cq, RoleClient, material)
	if err != nil {
		t.Fatalf("NewSession client: %v", err)
	}
	server, err := NewSession(sq, RoleServer, material)
	if err != nil {
		t.Fatalf("NewSession server: %v", err)
	}

	ciphertext, err := client.EncryptRTP(samplePacket())
	if err != nil {
		t.Fatalf("client EncryptRTP: %v", err)
	}

	if _, err := server.DecryptRTP(ciphertext); err != nil {
		t.Fatalf("first server DecryptRTP: %v", err)
	}
	if server.ReplayedCount() != 0 {
		t.Fatalf("expected 0 replays after first decrypt, got %d", server.ReplayedCount())
	}

	if _, err := server.DecryptRTP(ciphertext); err == nil {
		t.Fatal("expected replayed sequence number to be rejected")
	}
	if server.ReplayedCount() != 1 {
		t.Fatalf("expected 1 replay after resending the same packet, got %d", server.ReplayedCount())
	}
}

func TestDecryptRTPFailsWithWrongKeys(t *testing.T) {
	material := fakeKeyingMaterial()
	otherMaterial := fakeKeyingMaterial()
	otherMaterial[0] ^= 0xFF

	cq := taskqueue.New("client")
	defer cq.Stop()
	sq := taskqueue.New("server")
	defer sq.Stop()

	client, err := NewSession(cq, RoleClient, material)
	if err != nil {
		t.Fatalf("NewSession client: %v", err)
	}
	server, err := NewSession(sq, RoleServer, otherMaterial)
	if err != nil {
		t.Fatalf("NewSession server: %v", err)
	}

	ciphertext, err := client.EncryptRTP(samplePacket())
	if err != nil {
		t.Fatalf("EncryptRTP: %v", err)
	}
	if _, err := server.DecryptRTP(ciphertext); err == nil {
		t.Fatal("expected decryption with mismatched keys to fail authentication")
	}
}

func TestIsRTCPDistinguishesByPayloadTypeRange(t *testing.T) {
	rtcpBuf := []byte{0x80, 200, 0, 0}
	rtpBuf := []byte{0x80, 96, 0, 0}
	if !IsRTCP(rtcpBuf) {
		t.Fatal("expected payload type 200 to be classified as RTCP")
	}
	if IsRTCP(rtpBuf) {
		t.Fatal("expected payload type 96 to be classified as RTP")
	}
}
