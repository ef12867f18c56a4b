package receive

// SeqNumUnwrapper turns wrapping u16 RTP sequence numbers into an i64 that
// keeps increasing across wrap-around, resolving wrap-around by assuming
// the smaller of the two possible deltas between consecutive values
// (spec.md §8 testable property 11); a backward step shorter than 2^15
// yields a correspondingly smaller value. The first call returns its
// input as-is.
type SeqNumUnwrapper struct {
	have bool
	last uint16
	base int64
}

// NewSeqNumUnwrapper returns an empty unwrapper.
func NewSeqNumUnwrapper() *SeqNumUnwrapper {
	return &SeqNumUnwrapper{}
}

// Unwrap feeds the next raw sequence number and returns its unwrapped value.
func (u *SeqNumUnwrapper) Unwrap(seq uint16) int64 {
	if !u.have {
		u.have = true
		u.last = seq
		u.base = int64(seq)
		return u.base
	}

	delta := int32(seq) - int32(u.last)
	switch {
	case delta > 1<<15:
		delta -= 1 << 16
	case delta < -(1 << 15):
		delta += 1 << 16
	}
	u.base += int64(delta)
	u.last = seq
	return u.base
}
