package jitter

import (
	"sort"

	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/units"
)

// DefaultMaxWaitMs is how long a ref-resolved frame may sit in the buffer
// waiting for its dependencies before it is force-released anyway.
const DefaultMaxWaitMs = 200

// Timing estimates a frame's render time from its RTP timestamp, via a
// TimestampExtrapolator fit to the stream's (rtp_ts, local_ts_ms) pairs.
type Timing struct {
	extrapolator *TimestampExtrapolator
}

// NewTiming returns a Timing whose extrapolator ticks at freqHz.
func NewTiming(startTimeMs float64, freqHz float64) *Timing {
	return &Timing{extrapolator: NewTimestampExtrapolator(startTimeMs, freqHz)}
}

// OnFrameArrival feeds one (rtp timestamp, arrival time) sample.
func (t *Timing) OnFrameArrival(rtpTimestamp uint32, arrivalMs float64) {
	t.extrapolator.Update(rtpTimestamp, arrivalMs)
}

// RenderTimeMs estimates the local render time for rtpTimestamp.
func (t *Timing) RenderTimeMs(rtpTimestamp uint32) (ms float64, ok bool) {
	return t.extrapolator.ExtrapolateLocalTime(rtpTimestamp)
}

// ReadyFrame is a frame released by FrameBuffer along with its estimated
// render time.
type ReadyFrame struct {
	Frame        Frame
	RenderTimeMs float64
}

type bufferedFrame struct {
	frame      Frame
	insertedAt units.Timestamp
}

// FrameBuffer stores ref-resolved frames keyed by picture ID and releases
// them in decode order as soon as every reference is present, or once a
// frame has waited past maxWait (spec.md §4.10).
type FrameBuffer struct {
	clk     clock.Clock
	timing  *Timing
	maxWait units.TimeDelta

	frames  map[int64]bufferedFrame
	present map[int64]bool

	nextToRelease int64
	haveNext      bool

	OnFrameReady func(r ReadyFrame)
}

// NewFrameBuffer returns an empty FrameBuffer.
func NewFrameBuffer(clk clock.Clock, timing *Timing, maxWait units.TimeDelta) *FrameBuffer {
	return &FrameBuffer{
		clk:     clk,
		timing:  timing,
		maxWait: maxWait,
		frames:  make(map[int64]bufferedFrame),
		present: make(map[int64]bool),
	}
}

// InsertFrame stores a ref-resolved frame and returns whatever now forms
// a contiguous, reference-satisfied decode-order prefix.
func (b *FrameBuffer) InsertFrame(f Frame) []ReadyFrame {
	if !b.haveNext {
		b.nextToRelease = f.PictureID
		b.haveNext = true
	}
	b.frames[f.PictureID] = bufferedFrame{frame: f, insertedAt: b.clk.Now()}
	b.present[f.PictureID] = true
	return b.release()
}

// Update re-evaluates timeouts, releasing any frame (or skipping any gap)
// that has waited past maxWait even though a reference is still missing.
func (b *FrameBuffer) Update() []ReadyFrame {
	return b.release()
}

// release drains every frame at the head whose references are all
// present, or whose wait has exceeded maxWait (in which case the gap is
// skipped so decoding does not stall forever).
func (b *FrameBuffer) release() []ReadyFrame {
	var out []ReadyFrame
	for {
		if !b.haveNext {
			if !b.advanceToEarliest() {
				return out
			}
		}

		buffered, ok := b.frames[b.nextToRelease]
		if !ok {
			if !b.timedOutAtHead() {
				return out
			}
			b.nextToRelease++
			continue
		}
		if !b.referencesSatisfied(buffered.frame) && !b.timedOut(buffered) {
			return out
		}

		delete(b.frames, b.nextToRelease)
		renderMs, _ := b.timing.RenderTimeMs(buffered.frame.RtpTimestamp)
		ready := ReadyFrame{Frame: buffered.frame, RenderTimeMs: renderMs}
		out = append(out, ready)
		if b.OnFrameReady != nil {
			b.OnFrameReady(ready)
		}
		b.nextToRelease++
	}
}

func (b *FrameBuffer) referencesSatisfied(f Frame) bool {
	for _, ref := range f.References {
		if ref >= b.nextToRelease && !b.present[ref] {
			return false
		}
	}
	return true
}

func (b *FrameBuffer) timedOut(bf bufferedFrame) bool {
	return b.clk.Now().Sub(bf.insertedAt).Micros() >= b.maxWait.Micros()
}

// timedOutAtHead reports whether the oldest buffered frame (which may not
// be at nextToRelease) has waited past maxWait, meaning the gap before it
// should be skipped rather than waited on indefinitely.
func (b *FrameBuffer) timedOutAtHead() bool {
	oldest, ok := b.oldestInsertedAt()
	if !ok {
		return false
	}
	return b.clk.Now().Sub(oldest).Micros() >= b.maxWait.Micros()
}

func (b *FrameBuffer) oldestInsertedAt() (units.Timestamp, bool) {
	var oldest units.Timestamp
	found := false
	for _, bf := range b.frames {
		if !found || bf.insertedAt.Before(oldest) {
			oldest = bf.insertedAt
			found = true
		}
	}
	return oldest, found
}

func (b *FrameBuffer) advanceToEarliest() bool {
	if len(b.frames) == 0 {
		b.haveNext = false
		return false
	}
	ids := make([]int64, 0, len(b.frames))
	for id := range b.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	b.nextToRelease = ids[0]
	b.haveNext = true
	return true
}
