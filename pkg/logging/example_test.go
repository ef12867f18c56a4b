package logging_test

import (
	"fmt"
	"os"

	"github.com/ethan/rtcpeer/pkg/logging"
)

// Example showing basic logger usage.
func ExampleLogger_basic() {
	cfg := logging.NewConfig()
	cfg.Level = logging.LevelInfo
	cfg.Format = logging.FormatText

	log, err := logging.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("peer connection started", "version", "1.0.0")
	log.Warn("ice restart requested", "mid", "0")
	log.Error("dtls handshake failed", "error", "timeout")
}

// Example showing debug category usage.
func ExampleLogger_categories() {
	cfg := logging.NewConfig()
	cfg.Level = logging.LevelDebug
	cfg.EnableCategory(logging.DebugRTP)
	cfg.EnableCategory(logging.DebugICE)

	log, err := logging.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugRTPPacket(12345, 90000, 96, 1200)
	log.DebugICE("candidate pair nominated", "local", "host", "remote", "srflx")
	log.DebugRTP("packet received", "seq", 12345)
	log.DebugSCTP("stream opened", "stream_id", 3) // not enabled, dropped silently
}

// Example showing command-line flags integration.
func ExampleFlags() {
	// In main.go:
	// fs := flag.NewFlagSet("myapp", flag.ExitOnError)
	// logFlags := logging.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logging.New(logConfig)
	// defer log.Close()

	fmt.Println("See the comment above for wiring the logging flags in main")
}

// Example showing JSON format output.
func ExampleLogger_json() {
	cfg := logging.NewConfig()
	cfg.Level = logging.LevelInfo
	cfg.Format = logging.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logging.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json")

	log.Info("data channel opened", "label", "control", "stream_id", 1)
}

// Example showing conditional debug logging.
func ExampleLogger_conditional() {
	cfg := logging.NewConfig()
	cfg.EnableCategory(logging.DebugJitter)

	log, err := logging.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Category methods check IsCategoryEnabled internally; no manual guard
	// needed at the call site and no cost when the category is disabled.
	log.DebugJitter("frame released", "picture_id", 42)
	log.DebugRTP("packet received", "seq", 12345)
}
