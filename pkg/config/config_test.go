package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.SCTP.Port != 5000 {
		t.Fatalf("expected default sctp port 5000, got %d", cfg.SCTP.Port)
	}
	if cfg.NackRetryCap != 10 {
		t.Fatalf("expected default nack retry cap 10, got %d", cfg.NackRetryCap)
	}
}

func TestOptionsApplyInOrder(t *testing.T) {
	cfg := Default()
	cfg.Apply(
		WithNackRetryCap(3),
		WithSCTP(SCTPConfig{Port: 6000, MaxMessageSize: 1024}),
		WithICEServers(ICEServerConfig{URLs: []string{"stun:stun.example.com:19302"}}),
	)
	if cfg.NackRetryCap != 3 {
		t.Fatalf("expected nack retry cap 3, got %d", cfg.NackRetryCap)
	}
	if cfg.SCTP.Port != 6000 || cfg.SCTP.MaxMessageSize != 1024 {
		t.Fatalf("sctp config not applied: %+v", cfg.SCTP)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:stun.example.com:19302" {
		t.Fatalf("ice servers not applied: %+v", cfg.ICEServers)
	}
}

func TestLoadParsesEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.env")
	content := "sctp_port=5001\n" +
		"sctp_max_message_size=65536\n" +
		"nack_retry_cap=4\n" +
		"rtcp_report_interval_audio_ms=4500\n" +
		"rtcp_report_interval_video_ms=900\n" +
		"# a comment\n" +
		"\n" +
		"ice_server=turn:turn.example.com:3478|alice|secret\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SCTP.Port != 5001 {
		t.Fatalf("expected sctp_port 5001, got %d", cfg.SCTP.Port)
	}
	if cfg.SCTP.MaxMessageSize != 65536 {
		t.Fatalf("expected max message size 65536, got %d", cfg.SCTP.MaxMessageSize)
	}
	if cfg.NackRetryCap != 4 {
		t.Fatalf("expected nack retry cap 4, got %d", cfg.NackRetryCap)
	}
	if cfg.RtcpReportIntervalAudio != 4500*time.Millisecond {
		t.Fatalf("expected audio interval 4500ms, got %v", cfg.RtcpReportIntervalAudio)
	}
	if cfg.RtcpReportIntervalVideo != 900*time.Millisecond {
		t.Fatalf("expected video interval 900ms, got %v", cfg.RtcpReportIntervalVideo)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("expected 1 ice server, got %d", len(cfg.ICEServers))
	}
	server := cfg.ICEServers[0]
	if server.URLs[0] != "turn:turn.example.com:3478" || server.Username != "alice" || server.Credential != "secret" {
		t.Fatalf("ice server parsed incorrectly: %+v", server)
	}
}

func TestLoadRejectsMalformedValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.env")
	if err := os.WriteFile(path, []byte("sctp_port=not-a-number\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed sctp_port")
	}
}
