// Package jitter implements the receive-side video pipeline of spec.md
// §4.10: resolving frame dependencies from sequence numbers, buffering
// ref-resolved frames until they can be released in decode order, and
// estimating render time from the RTP clock via TimestampExtrapolator.
// Grounded on spec.md §4.10 and original_source's frame_ref_finder.hpp
// contract (InsertFrame/InsertPadding/ClearTo, picture-id offsetting);
// the H.264-specific body is original to this module since the derived
// class implementation did not survive distillation.
package jitter

// Frame is one assembled access unit handed to a FrameRefFinder.
type Frame struct {
	PictureID    int64
	RtpTimestamp uint32
	FirstSeq     uint16
	LastSeq      uint16
	Nalus        [][]byte
	Keyframe     bool

	// References holds the picture IDs this frame depends on, filled in
	// by the FrameRefFinder once resolved.
	References []int64
}

// FrameRefFinder resolves frame dependencies, codec-dispatched per
// spec.md §4.10 (H.264 uses the sequence-number-based strategy below).
type FrameRefFinder interface {
	// InsertFrame may return zero or more frames whose references have
	// all been resolved, in the order they became ready.
	InsertFrame(f Frame) []Frame
	// InsertPadding records that seq was consumed by a non-frame packet,
	// returning any frames that can now resolve downstream of it.
	InsertPadding(seq uint16) []Frame
	// ClearTo discards state for sequence numbers <= seq.
	ClearTo(seq uint16)
}

// pendingFrame is a frame buffered because its predecessor hasn't arrived.
type pendingFrame struct {
	frame Frame
}

// SeqNumFrameRefFinder resolves H.264 frame references purely from
// sequence-number continuity: every non-keyframe frame is assumed to
// depend on whichever frame or padding packet most recently occupied the
// sequence number immediately before its own first sequence number.
// Picture IDs are offset by a constant per session so global ordering
// survives a stream reset (spec.md §4.10).
type SeqNumFrameRefFinder struct {
	pictureIDOffset int64

	// resolvedSeq (valid once haveResolved is set) is the highest
	// sequence number known to be either a released frame or padding; a
	// frame whose FirstSeq-1 equals this can resolve immediately.
	haveResolved bool
	resolvedSeq  uint16

	pending map[uint16]pendingFrame
}

// NewSeqNumFrameRefFinder returns a ref finder whose picture IDs are
// offset by pictureIDOffset (0 for a session's first stream generation).
func NewSeqNumFrameRefFinder(pictureIDOffset int64) *SeqNumFrameRefFinder {
	return &SeqNumFrameRefFinder{
		pictureIDOffset: pictureIDOffset,
		pending:         make(map[uint16]pendingFrame),
	}
}

// InsertFrame implements FrameRefFinder.
func (r *SeqNumFrameRefFinder) InsertFrame(f Frame) []Frame {
	f.PictureID = r.pictureIDOffset + int64(f.FirstSeq)

	if f.Keyframe {
		r.resolvedSeq = f.LastSeq
		r.haveResolved = true
		ready := []Frame{f}
		return append(ready, r.drainChain()...)
	}

	f.References = []int64{r.pictureIDOffset + int64(f.FirstSeq-1)}

	if r.haveResolved && f.FirstSeq-1 == r.resolvedSeq {
		r.resolvedSeq = f.LastSeq
		ready := []Frame{f}
		return append(ready, r.drainChain()...)
	}

	r.pending[f.FirstSeq] = pendingFrame{frame: f}
	return nil
}

// InsertPadding implements FrameRefFinder.
func (r *SeqNumFrameRefFinder) InsertPadding(seq uint16) []Frame {
	if r.haveResolved && seq-1 == r.resolvedSeq {
		r.resolvedSeq = seq
		return r.drainChain()
	}
	return nil
}

// drainChain releases any pending frames that now chain off resolvedSeq.
func (r *SeqNumFrameRefFinder) drainChain() []Frame {
	var ready []Frame
	for {
		next, ok := r.pending[r.resolvedSeq+1]
		if !ok {
			return ready
		}
		delete(r.pending, r.resolvedSeq+1)
		r.resolvedSeq = next.frame.LastSeq
		ready = append(ready, next.frame)
	}
}

// ClearTo implements FrameRefFinder.
func (r *SeqNumFrameRefFinder) ClearTo(seq uint16) {
	for s := range r.pending {
		if int16(s-seq) <= 0 {
			delete(r.pending, s)
		}
	}
}
