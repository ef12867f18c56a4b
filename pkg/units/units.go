// Package units provides strong-typed time and rate arithmetic so packet
// timestamps, deadlines, and bitrates can never be silently mixed across
// units. All three types wrap a single int64 at microsecond (Timestamp,
// TimeDelta) or bits-per-second (DataRate) resolution and carry
// PlusInfinity/MinusInfinity/Zero as in-band sentinel values rather than a
// separate "valid" flag, mirroring the strong-typed units libwebrtc-style
// stacks use throughout their RTP/RTCP and pacing code.
package units

import (
	"fmt"
	"math"
)

const (
	plusInfinityMicros  = math.MaxInt64
	minusInfinityMicros = math.MinInt64
)

// TimeDelta is a signed duration at microsecond resolution.
type TimeDelta struct {
	micros int64
}

// Zero, PlusInfinity and MinusInfinity are shared by TimeDelta and Timestamp.
func ZeroTimeDelta() TimeDelta { return TimeDelta{0} }

// PlusInfinityDelta returns the unbounded-future sentinel.
func PlusInfinityDelta() TimeDelta { return TimeDelta{plusInfinityMicros} }

// MinusInfinityDelta returns the unbounded-past sentinel.
func MinusInfinityDelta() TimeDelta { return TimeDelta{minusInfinityMicros} }

// Micros constructs a TimeDelta from a microsecond count.
func Micros(us int64) TimeDelta { return TimeDelta{us} }

// Millis constructs a TimeDelta from a millisecond count.
func Millis(ms int64) TimeDelta { return TimeDelta{ms * 1000} }

// Seconds constructs a TimeDelta from a (possibly fractional) second count.
func Seconds(s float64) TimeDelta { return TimeDelta{int64(s * 1e6)} }

func (d TimeDelta) IsPlusInfinity() bool  { return d.micros == plusInfinityMicros }
func (d TimeDelta) IsMinusInfinity() bool { return d.micros == minusInfinityMicros }
func (d TimeDelta) IsInfinite() bool      { return d.IsPlusInfinity() || d.IsMinusInfinity() }
func (d TimeDelta) IsFinite() bool        { return !d.IsInfinite() }
func (d TimeDelta) Micros() int64         { return d.micros }
func (d TimeDelta) Millis() int64         { return d.micros / 1000 }
func (d TimeDelta) Seconds() float64      { return float64(d.micros) / 1e6 }

func (d TimeDelta) Add(o TimeDelta) TimeDelta {
	if d.IsInfinite() || o.IsInfinite() {
		return saturatingAdd(d.micros, o.micros)
	}
	return TimeDelta{d.micros + o.micros}
}

func (d TimeDelta) Sub(o TimeDelta) TimeDelta { return d.Add(TimeDelta{-o.micros}) }

func saturatingAdd(a, b int64) TimeDelta {
	switch {
	case a == plusInfinityMicros || b == plusInfinityMicros:
		return TimeDelta{plusInfinityMicros}
	case a == minusInfinityMicros || b == minusInfinityMicros:
		return TimeDelta{minusInfinityMicros}
	default:
		return TimeDelta{a + b}
	}
}

func (d TimeDelta) String() string {
	switch {
	case d.IsPlusInfinity():
		return "+inf"
	case d.IsMinusInfinity():
		return "-inf"
	default:
		return fmt.Sprintf("%dus", d.micros)
	}
}

// Timestamp is a point in time at microsecond resolution, relative to an
// arbitrary epoch chosen by the Clock that produced it (see pkg/clock).
type Timestamp struct {
	micros int64
}

func ZeroTimestamp() Timestamp        { return Timestamp{0} }
func PlusInfinityTimestamp() Timestamp  { return Timestamp{plusInfinityMicros} }
func MinusInfinityTimestamp() Timestamp { return Timestamp{minusInfinityMicros} }

// TimestampFromMicros constructs a Timestamp from a microsecond count.
func TimestampFromMicros(us int64) Timestamp { return Timestamp{us} }

func (t Timestamp) IsPlusInfinity() bool  { return t.micros == plusInfinityMicros }
func (t Timestamp) IsMinusInfinity() bool { return t.micros == minusInfinityMicros }
func (t Timestamp) IsInfinite() bool      { return t.IsPlusInfinity() || t.IsMinusInfinity() }
func (t Timestamp) Micros() int64         { return t.micros }
func (t Timestamp) Millis() int64         { return t.micros / 1000 }
func (t Timestamp) Seconds() float64      { return float64(t.micros) / 1e6 }

// Sub returns the signed delta t - o.
func (t Timestamp) Sub(o Timestamp) TimeDelta {
	if t.IsInfinite() || o.IsInfinite() {
		return saturatingAdd(t.micros, negate(o.micros))
	}
	return TimeDelta{t.micros - o.micros}
}

// Add returns t shifted by d.
func (t Timestamp) Add(d TimeDelta) Timestamp {
	sum := saturatingAdd(t.micros, d.micros)
	return Timestamp{sum.micros}
}

func (t Timestamp) Before(o Timestamp) bool { return t.micros < o.micros }
func (t Timestamp) After(o Timestamp) bool  { return t.micros > o.micros }

func negate(v int64) int64 {
	switch v {
	case plusInfinityMicros:
		return minusInfinityMicros
	case minusInfinityMicros:
		return plusInfinityMicros
	default:
		return -v
	}
}

func (t Timestamp) String() string {
	switch {
	case t.IsPlusInfinity():
		return "+inf"
	case t.IsMinusInfinity():
		return "-inf"
	default:
		return fmt.Sprintf("%dus", t.micros)
	}
}

// DataRate is a non-negative bitrate in bits per second.
type DataRate struct {
	bps int64
}

func ZeroDataRate() DataRate       { return DataRate{0} }
func PlusInfinityDataRate() DataRate { return DataRate{plusInfinityMicros} }

// BitsPerSecond constructs a DataRate from a bits-per-second count.
func BitsPerSecond(bps int64) DataRate { return DataRate{bps} }

// KilobitsPerSecond constructs a DataRate from a kbps count.
func KilobitsPerSecond(kbps int64) DataRate { return DataRate{kbps * 1000} }

func (r DataRate) IsPlusInfinity() bool { return r.bps == plusInfinityMicros }
func (r DataRate) BitsPerSecond() int64 { return r.bps }
func (r DataRate) BytesPerSecond() int64 {
	if r.IsPlusInfinity() {
		return plusInfinityMicros
	}
	return r.bps / 8
}

// BytesOverDuration returns how many bytes this rate delivers over d.
func (r DataRate) BytesOverDuration(d TimeDelta) int64 {
	if r.IsPlusInfinity() || d.IsInfinite() {
		return math.MaxInt64
	}
	return int64(float64(r.bps) * d.Seconds() / 8)
}

func (r DataRate) String() string {
	if r.IsPlusInfinity() {
		return "+inf bps"
	}
	return fmt.Sprintf("%dbps", r.bps)
}

// NtpEpochOffsetSeconds is the offset between the NTP epoch (1900-01-01) and
// the Unix epoch (1970-01-01), used by NtpTime<->Timestamp conversion.
const NtpEpochOffsetSeconds = 2208988800

// NtpTime is {seconds since 1900, fractional 1/2^32 of a second}, the wire
// format of RTCP SR/RR NTP fields (RFC 3550 §4).
type NtpTime struct {
	Seconds  uint32
	Fraction uint32
}

// FullSeconds returns the NTP time as a float64 number of seconds since 1900.
func (n NtpTime) FullSeconds() float64 {
	return float64(n.Seconds) + float64(n.Fraction)/(1<<32)
}

// Middle32 returns the middle 32 bits used by SR/RR/DLRR "last SR" fields.
func (n NtpTime) Middle32() uint32 {
	return uint32(n.Seconds)<<16 | uint32(n.Fraction)>>16
}

// NtpTimeFromUnixMicros converts a Unix-epoch microsecond timestamp to NtpTime.
func NtpTimeFromUnixMicros(unixMicros int64) NtpTime {
	secs := unixMicros/1e6 + NtpEpochOffsetSeconds
	remainderMicros := unixMicros % 1e6
	frac := uint32((float64(remainderMicros) / 1e6) * (1 << 32))
	return NtpTime{Seconds: uint32(secs), Fraction: frac}
}

// UnixMicros converts an NtpTime back to a Unix-epoch microsecond timestamp.
func (n NtpTime) UnixMicros() int64 {
	secs := int64(n.Seconds) - NtpEpochOffsetSeconds
	fracMicros := int64((float64(n.Fraction) / (1 << 32)) * 1e6)
	return secs*1e6 + fracMicros
}
