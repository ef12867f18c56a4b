package jitter

// switchThreshold is the wrap-around detection magic constant named in
// spec.md's redesign notes: a new timestamp more than 2^31 below the last,
// with the last within 2^31 of 2^32, is treated as a forward wrap rather
// than a large backward jump.
const switchThreshold = 0x80000000

// TimestampExtrapolator fits local_ms = w[0]*rtp_ticks + w[1] over
// (rtp_ts_in_90kHz, local_ts_ms) samples using recursive least squares (a
// 2-state Kalman-style linear filter), so a render time can be estimated
// for any RTP timestamp even between observed samples. Grounded on
// spec.md §4.10 and original_source's timestamp_extrapolator.hpp field
// layout (w_, pP_, wrap-around bookkeeping), reimplemented in Go since
// only the header, not the RLS update body, survived distillation.
type TimestampExtrapolator struct {
	freqHz float64
	lambda float64

	w [2]float64
	p [2][2]float64

	haveFirst     bool
	firstUnwrapped int64

	haveWrap          bool
	prevWrapTimestamp uint32
	numWrapArounds    int64

	startTimeMs float64
	prevTimeMs  float64
	packetCount uint64
}

// NewTimestampExtrapolator returns an extrapolator whose ticks run at
// freqHz (e.g. 90000 for video), reset as of startTimeMs.
func NewTimestampExtrapolator(startTimeMs float64, freqHz float64) *TimestampExtrapolator {
	e := &TimestampExtrapolator{freqHz: freqHz, lambda: 1}
	e.Reset(startTimeMs)
	return e
}

// Reset discards all accumulated state, restarting the fit at startTimeMs.
func (e *TimestampExtrapolator) Reset(startTimeMs float64) {
	e.w = [2]float64{1000.0 / e.freqHz, 0}
	e.p = [2][2]float64{{1e10, 0}, {0, 1e10}}
	e.haveFirst = false
	e.haveWrap = false
	e.numWrapArounds = 0
	e.packetCount = 0
	e.startTimeMs = startTimeMs
	e.prevTimeMs = startTimeMs
}

// Update folds in one (timestamp, receiveTimeMs) observation.
func (e *TimestampExtrapolator) Update(timestamp uint32, receiveTimeMs float64) {
	if receiveTimeMs-e.prevTimeMs > 10000 {
		e.Reset(receiveTimeMs)
	}

	unwrapped := e.unwrapAndTrack(timestamp)
	if !e.haveFirst {
		e.haveFirst = true
		e.firstUnwrapped = unwrapped
	}

	x := float64(unwrapped - e.firstUnwrapped)
	y := receiveTimeMs - e.startTimeMs
	if e.packetCount == 0 {
		e.w[1] = y
	}

	predicted := e.w[0]*x + e.w[1]
	residual := y - predicted

	px0 := e.p[0][0]*x + e.p[0][1]
	px1 := e.p[1][0]*x + e.p[1][1]
	denom := e.lambda + x*px0 + px1

	var k0, k1 float64
	if denom != 0 {
		k0 = px0 / denom
		k1 = px1 / denom
	}

	e.w[0] += k0 * residual
	e.w[1] += k1 * residual

	p00, p01, p10, p11 := e.p[0][0], e.p[0][1], e.p[1][0], e.p[1][1]
	e.p[0][0] = (p00 - k0*px0) / e.lambda
	e.p[0][1] = (p01 - k0*px1) / e.lambda
	e.p[1][0] = (p10 - k1*px0) / e.lambda
	e.p[1][1] = (p11 - k1*px1) / e.lambda

	e.prevTimeMs = receiveTimeMs
	e.packetCount++
}

// ExtrapolateLocalTime estimates the local render time, in milliseconds on
// the same clock as the receive times passed to Update, for an arbitrary
// RTP timestamp. ok is
// false until at least one Update has landed.
func (e *TimestampExtrapolator) ExtrapolateLocalTime(timestamp uint32) (ms float64, ok bool) {
	if !e.haveFirst {
		return 0, false
	}
	unwrapped := e.unwrapReadOnly(timestamp)
	x := float64(unwrapped - e.firstUnwrapped)
	return e.w[0]*x + e.w[1] + e.startTimeMs, true
}

func (e *TimestampExtrapolator) unwrapAndTrack(ts uint32) int64 {
	if !e.haveWrap {
		e.haveWrap = true
		e.prevWrapTimestamp = ts
		return int64(ts)
	}
	e.numWrapArounds += wrapDelta(e.prevWrapTimestamp, ts)
	e.prevWrapTimestamp = ts
	return (e.numWrapArounds << 32) + int64(ts)
}

func (e *TimestampExtrapolator) unwrapReadOnly(ts uint32) int64 {
	if !e.haveWrap {
		return int64(ts)
	}
	cycles := e.numWrapArounds + wrapDelta(e.prevWrapTimestamp, ts)
	return (cycles << 32) + int64(ts)
}

// wrapDelta returns +1 when ts looks like a forward wrap past prev, -1 for
// a backward wrap, 0 otherwise, per spec.md's switchThreshold rule.
func wrapDelta(prev, ts uint32) int64 {
	switch {
	case ts < prev && prev-ts > switchThreshold:
		return 1
	case ts > prev && ts-prev > switchThreshold:
		return -1
	default:
		return 0
	}
}
