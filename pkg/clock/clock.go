// Package clock is the thin, swappable time source spec.md §1 marks as an
// external collaborator: every other package takes a Clock instead of
// calling time.Now directly, so tests can drive the RTCP scheduler, the
// NACK module, and the jitter buffer's TimestampExtrapolator deterministically.
package clock

import (
	"sync"
	"time"

	"github.com/ethan/rtcpeer/pkg/units"
)

// Clock produces monotonic wall-clock readings and NTP time.
type Clock interface {
	// Now returns a monotonic Timestamp, not tied to any particular epoch
	// but consistent across calls on the same Clock.
	Now() units.Timestamp
	// NtpNow returns the current time as an NtpTime (RFC 3550 §4 format).
	NtpNow() units.NtpTime
}

// Real is a Clock backed by the OS monotonic clock and wall time.
type Real struct {
	start time.Time
}

// NewReal returns a Clock whose Now() values are relative to the instant it
// was created.
func NewReal() *Real {
	return &Real{start: time.Now()}
}

func (c *Real) Now() units.Timestamp {
	return units.TimestampFromMicros(time.Since(c.start).Microseconds())
}

func (c *Real) NtpNow() units.NtpTime {
	return units.NtpTimeFromUnixMicros(time.Now().UnixMicro())
}

// Simulated is a manually advanced Clock for deterministic tests.
type Simulated struct {
	mu  sync.Mutex
	now units.Timestamp
}

// NewSimulated returns a Simulated clock starting at the given Timestamp.
func NewSimulated(start units.Timestamp) *Simulated {
	return &Simulated{now: start}
}

func (c *Simulated) Now() units.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Simulated) NtpNow() units.NtpTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return units.NtpTimeFromUnixMicros(c.now.Micros())
}

// Advance moves the simulated clock forward by d.
func (c *Simulated) Advance(d units.TimeDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetTime pins the simulated clock to an exact Timestamp.
func (c *Simulated) SetTime(t units.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
