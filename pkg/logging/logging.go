// Package logging provides the structured logging sink shared by every
// component in this module: the native RTP/RTCP/SDP/jitter-buffer engine
// and the pion-backed ICE/DTLS/SCTP transports alike.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	pionlog "github.com/pion/logging"
)

// LogLevel represents the logging verbosity level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents a specific subsystem for targeted debugging.
type DebugCategory string

const (
	DebugSDP    DebugCategory = "sdp"
	DebugRTP    DebugCategory = "rtp"
	DebugRTCP   DebugCategory = "rtcp"
	DebugICE    DebugCategory = "ice"
	DebugDTLS   DebugCategory = "dtls"
	DebugSCTP   DebugCategory = "sctp"
	DebugJitter DebugCategory = "jitter"
	DebugAll    DebugCategory = "all"
)

var allCategories = []DebugCategory{DebugSDP, DebugRTP, DebugRTCP, DebugICE, DebugDTLS, DebugSCTP, DebugJitter}

// Config holds logger configuration.
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// OutputFormat determines the log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger wraps slog.Logger with category-based debugging; PionLoggerFactory
// adapts it to a pion logging.LoggerFactory so the transport layer shares
// this sink.
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// NewConfig creates a new logger configuration with defaults.
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat.
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts LogLevel to slog.Level.
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new Logger instance with the given configuration.
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.Level.ToSlogLevel()}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
		file:   file,
	}, nil
}

// EnableCategory enables a specific debug category.
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if category == DebugAll {
		for _, cat := range allCategories {
			c.EnabledCategories[cat] = true
		}
		return
	}
	c.EnabledCategories[category] = true
}

// IsCategoryEnabled checks if a debug category is enabled.
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled.
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Close closes the log file if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) debugf(cat DebugCategory, msg string, args ...any) {
	if l.config.IsCategoryEnabled(cat) {
		args = append([]any{"category", string(cat)}, args...)
		l.Debug(msg, args...)
	}
}

// DebugSDP logs SDP parse/build details if SDP debugging is enabled.
func (l *Logger) DebugSDP(msg string, args ...any) { l.debugf(DebugSDP, msg, args...) }

// DebugRTP logs RTP packet details if RTP debugging is enabled.
func (l *Logger) DebugRTP(msg string, args ...any) { l.debugf(DebugRTP, msg, args...) }

// DebugRTCP logs RTCP packet details if RTCP debugging is enabled.
func (l *Logger) DebugRTCP(msg string, args ...any) { l.debugf(DebugRTCP, msg, args...) }

// DebugICE logs ICE candidate/state details if ICE debugging is enabled.
func (l *Logger) DebugICE(msg string, args ...any) { l.debugf(DebugICE, msg, args...) }

// DebugDTLS logs DTLS handshake details if DTLS debugging is enabled.
func (l *Logger) DebugDTLS(msg string, args ...any) { l.debugf(DebugDTLS, msg, args...) }

// DebugSCTP logs SCTP association/stream details if SCTP debugging is enabled.
func (l *Logger) DebugSCTP(msg string, args ...any) { l.debugf(DebugSCTP, msg, args...) }

// DebugJitter logs jitter-buffer/frame-assembly details if enabled.
func (l *Logger) DebugJitter(msg string, args ...any) { l.debugf(DebugJitter, msg, args...) }

// DebugRTPPacket logs detailed RTP packet information.
func (l *Logger) DebugRTPPacket(seq uint16, timestamp uint32, payloadType uint8, payloadSize int) {
	if l.config.IsCategoryEnabled(DebugRTP) {
		l.Debug("RTP packet",
			"category", "rtp",
			"sequence", seq,
			"timestamp", timestamp,
			"payload_type", payloadType,
			"payload_size", payloadSize)
	}
}

// WithContext returns a new Logger sharing the receiver's slog.Logger,
// config and file; the context is not used. Kept for call-site symmetry
// with components that thread a context through their constructors.
func (l *Logger) WithContext(_ context.Context) *Logger {
	return &Logger{Logger: l.Logger, config: l.config, file: l.file}
}

// With returns a new Logger with the given attributes attached.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, file: l.file}
}

// SetDefault sets the global default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// Default returns the default logger, creating one if necessary.
func Default() *Logger {
	once.Do(func() {
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), config: NewConfig()}
		}
		defaultLogger = l
	})
	return defaultLogger
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// pionLeveledLogger adapts a *slog.Logger to pion/logging.LeveledLogger so
// the ICE, DTLS, SCTP and SRTP transports log through the same sink as the
// rest of this module instead of pion's own default stderr logger.
type pionLeveledLogger struct {
	l     *slog.Logger
	scope string
}

func (p *pionLeveledLogger) Trace(msg string)                 { p.l.Debug(msg, "scope", p.scope) }
func (p *pionLeveledLogger) Tracef(format string, args ...any) { p.l.Debug(fmt.Sprintf(format, args...), "scope", p.scope) }
func (p *pionLeveledLogger) Debug(msg string)                  { p.l.Debug(msg, "scope", p.scope) }
func (p *pionLeveledLogger) Debugf(format string, args ...any) { p.l.Debug(fmt.Sprintf(format, args...), "scope", p.scope) }
func (p *pionLeveledLogger) Info(msg string)                   { p.l.Info(msg, "scope", p.scope) }
func (p *pionLeveledLogger) Infof(format string, args ...any)  { p.l.Info(fmt.Sprintf(format, args...), "scope", p.scope) }
func (p *pionLeveledLogger) Warn(msg string)                   { p.l.Warn(msg, "scope", p.scope) }
func (p *pionLeveledLogger) Warnf(format string, args ...any)  { p.l.Warn(fmt.Sprintf(format, args...), "scope", p.scope) }
func (p *pionLeveledLogger) Error(msg string)                  { p.l.Error(msg, "scope", p.scope) }
func (p *pionLeveledLogger) Errorf(format string, args ...any) { p.l.Error(fmt.Sprintf(format, args...), "scope", p.scope) }

// PionLoggerFactory implements pion/logging.LoggerFactory, scoping each
// requested logger to its pion package name.
type PionLoggerFactory struct {
	Logger *Logger
}

// NewLogger returns a pion logging.LeveledLogger scoped to the given name.
func (f *PionLoggerFactory) NewLogger(scope string) pionlog.LeveledLogger {
	return &pionLeveledLogger{l: f.Logger.Logger, scope: scope}
}

var _ pionlog.LoggerFactory = (*PionLoggerFactory)(nil)
