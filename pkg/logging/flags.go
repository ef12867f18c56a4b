package logging

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags.
type Flags struct {
	LogLevel    string
	LogFormat   string
	LogFile     string
	DebugSDP    bool
	DebugRTP    bool
	DebugRTCP   bool
	DebugICE    bool
	DebugDTLS   bool
	DebugSCTP   bool
	DebugJitter bool
	DebugAll    bool
}

// RegisterFlags registers logging flags with the given FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")
	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")
	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugSDP, "debug-sdp", false, "Enable SDP parse/build debugging")
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable RTP packet debugging (sequence, timestamp, payload)")
	fs.BoolVar(&f.DebugRTCP, "debug-rtcp", false, "Enable RTCP compound-packet debugging")
	fs.BoolVar(&f.DebugICE, "debug-ice", false, "Enable ICE candidate/state debugging")
	fs.BoolVar(&f.DebugDTLS, "debug-dtls", false, "Enable DTLS handshake debugging")
	fs.BoolVar(&f.DebugSCTP, "debug-sctp", false, "Enable SCTP association/stream debugging")
	fs.BoolVar(&f.DebugJitter, "debug-jitter", false, "Enable jitter-buffer/frame-assembly debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		for cat, on := range map[DebugCategory]bool{
			DebugSDP:    f.DebugSDP,
			DebugRTP:    f.DebugRTP,
			DebugRTCP:   f.DebugRTCP,
			DebugICE:    f.DebugICE,
			DebugDTLS:   f.DebugDTLS,
			DebugSCTP:   f.DebugSCTP,
			DebugJitter: f.DebugJitter,
		} {
			if on {
				cfg.EnableCategory(cat)
				cfg.Level = LevelDebug
			}
		}
	}

	return cfg, nil
}

// String returns a string representation of enabled flags.
func (f *Flags) String() string {
	parts := []string{
		fmt.Sprintf("level=%s", f.LogLevel),
		fmt.Sprintf("format=%s", f.LogFormat),
	}
	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var cats []string
	if f.DebugAll {
		cats = append(cats, "all")
	} else {
		for name, on := range map[string]bool{
			"sdp": f.DebugSDP, "rtp": f.DebugRTP, "rtcp": f.DebugRTCP,
			"ice": f.DebugICE, "dtls": f.DebugDTLS, "sctp": f.DebugSCTP, "jitter": f.DebugJitter,
		} {
			if on {
				cats = append(cats, name)
			}
		}
	}
	if len(cats) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(cats, ",")))
	}

	return strings.Join(parts, " ")
}
