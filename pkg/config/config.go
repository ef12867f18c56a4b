// Package config holds the runtime configuration for a PeerConnection:
// ICE servers, certificates, SCTP limits, and the NACK/RTCP tunables
// spec.md §9 leaves as Open Questions. It reads overrides from a
// .env-style file with the same KEY=value scanner the teacher used for
// its own credential file, plus functional options for in-code setup.
package config

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ICEServerConfig names one STUN/TURN server, mirroring the
// RTCIceServer shape the WebRTC API exposes to applications.
type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

// SCTPConfig bounds the data-channel association. Default port is 5000
// per spec.md §6; stream ids run 0..1023.
type SCTPConfig struct {
	Port           uint16
	MaxMessageSize uint32
}

// Config holds all settings needed to construct a PeerConnection.
type Config struct {
	ICEServers   []ICEServerConfig
	Certificates []tls.Certificate

	SCTP SCTPConfig

	// NackRetryCap is the configured re-NACK limit for a missing sequence
	// number (spec.md §9 Open Question; default below). It is parsed and
	// validated here but not passed to receive.NackModule, which always
	// uses receive.DefaultNackRetryCap.
	NackRetryCap int

	// RtcpReportIntervalAudio/Video are the base intervals the jittered
	// RTCP scheduler in pkg/rtcpsession randomizes around (spec.md §4.6's
	// "~1s video / ~5s audio" rule, names kept symmetrical for clarity).
	RtcpReportIntervalAudio time.Duration
	RtcpReportIntervalVideo time.Duration
}

// Default returns the configuration this module runs with when the
// caller supplies no overrides.
func Default() *Config {
	return &Config{
		SCTP:                    SCTPConfig{Port: 5000, MaxMessageSize: 262144},
		NackRetryCap:            10,
		RtcpReportIntervalAudio: 5 * time.Second,
		RtcpReportIntervalVideo: time.Second,
	}
}

// Option mutates a Config in place; passed to pc.New in the caller's code.
type Option func(*Config)

// WithICEServers sets the ICE server list.
func WithICEServers(servers ...ICEServerConfig) Option {
	return func(c *Config) { c.ICEServers = servers }
}

// WithCertificates installs pre-generated DTLS certificates instead of
// letting pkg/dtls generate one on first use.
func WithCertificates(certs ...tls.Certificate) Option {
	return func(c *Config) { c.Certificates = certs }
}

// WithSCTP overrides the SCTP port and max message size.
func WithSCTP(sctp SCTPConfig) Option {
	return func(c *Config) { c.SCTP = sctp }
}

// WithNackRetryCap overrides Config.NackRetryCap.
func WithNackRetryCap(n int) Option {
	return func(c *Config) { c.NackRetryCap = n }
}

// Apply runs every option against c in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Load reads KEY=value overrides from envPath into a Default() config.
// Unknown keys are ignored; recognized keys are: sctp_port,
// sctp_max_message_size, nack_retry_cap, rtcp_report_interval_audio_ms,
// rtcp_report_interval_video_ms, ice_server (repeatable,
// url|username|credential separated by '|').
func Load(envPath string) (*Config, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		if err := applyKey(cfg, key, decodedValue); err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan env file: %w", err)
	}

	return cfg, nil
}

func applyKey(cfg *Config, key, value string) error {
	switch key {
	case "sctp_port":
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid sctp_port: %w", err)
		}
		cfg.SCTP.Port = uint16(port)
	case "sctp_max_message_size":
		size, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid sctp_max_message_size: %w", err)
		}
		cfg.SCTP.MaxMessageSize = uint32(size)
	case "nack_retry_cap":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid nack_retry_cap: %w", err)
		}
		cfg.NackRetryCap = n
	case "rtcp_report_interval_audio_ms":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid rtcp_report_interval_audio_ms: %w", err)
		}
		cfg.RtcpReportIntervalAudio = time.Duration(ms) * time.Millisecond
	case "rtcp_report_interval_video_ms":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid rtcp_report_interval_video_ms: %w", err)
		}
		cfg.RtcpReportIntervalVideo = time.Duration(ms) * time.Millisecond
	case "ice_server":
		server, err := parseICEServerLine(value)
		if err != nil {
			return err
		}
		cfg.ICEServers = append(cfg.ICEServers, server)
	}
	return nil
}

func parseICEServerLine(value string) (ICEServerConfig, error) {
	fields := strings.Split(value, "|")
	if len(fields) == 0 || fields[0] == "" {
		return ICEServerConfig{}, fmt.Errorf("ice_server requires at least a url")
	}
	server := ICEServerConfig{URLs: strings.Split(fields[0], ",")}
	if len(fields) > 1 {
		server.Username = fields[1]
	}
	if len(fields) > 2 {
		server.Credential = fields[2]
	}
	return server, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.SCTP.Port == 0 {
		return fmt.Errorf("sctp port must be nonzero")
	}
	if c.NackRetryCap < 0 {
		return fmt.Errorf("nack retry cap must be non-negative")
	}
	return nil
}
