package receive

import (
	"sort"

	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/units"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
)

// DefaultNackUpdateInterval is the periodic-update period spec.md §4.9
// names as the default (20 ms).
const DefaultNackUpdateInterval = 20 * 1e3 // microseconds

// DefaultNackRetryCap bounds how many times a single sequence number is
// re-requested before it is given up on.
const DefaultNackRetryCap = 10

// DefaultNackListCap bounds how many outstanding entries the want-list may
// hold before RemovePacketsUntilKeyFrame kicks in.
const DefaultNackListCap = 500

type nackEntry struct {
	created units.Timestamp
	sentAt  units.Timestamp
	sent    bool
	retries int
}

// NackModule tracks missing sequence numbers for one SSRC and schedules
// retransmission requests per spec.md §4.9.
type NackModule struct {
	clk clock.Clock
	rtt units.TimeDelta

	retryCap int
	listCap  int

	entries map[uint16]*nackEntry
	newest  uint16
	haveAny bool

	newestKeyframeSeq uint16
	haveKeyframe      bool

	keyframeRequested bool
}

// NewNackModule returns a NackModule with spec-default retry/list caps.
func NewNackModule(clk clock.Clock, rtt units.TimeDelta) *NackModule {
	return &NackModule{
		clk:      clk,
		rtt:      rtt,
		retryCap: DefaultNackRetryCap,
		listCap:  DefaultNackListCap,
		entries:  make(map[uint16]*nackEntry),
	}
}

// SetRtt updates the RTT used by the time filter of Update.
func (n *NackModule) SetRtt(rtt units.TimeDelta) { n.rtt = rtt }

// InsertPacket records the arrival of seq, adding every sequence number
// strictly between the current newest and seq to the want-list, and
// returns how many NACK-worthy entries are currently outstanding.
func (n *NackModule) InsertPacket(seq uint16, isKeyframe, isRecovered bool) int {
	if isKeyframe {
		n.newestKeyframeSeq = seq
		n.haveKeyframe = true
	}

	if isRecovered {
		delete(n.entries, seq)
	}

	now := n.clk.Now()
	if !n.haveAny {
		n.haveAny = true
		n.newest = seq
		delete(n.entries, seq)
		return len(n.entries)
	}

	delta := int16(seq - n.newest)
	if delta > 0 {
		for missing := n.newest + 1; missing != seq; missing++ {
			n.entries[missing] = &nackEntry{created: now}
		}
		n.newest = seq
	}
	delete(n.entries, seq)

	n.enforceListCap()
	return len(n.entries)
}

// ClearUpTo removes every want-list entry whose sequence number is not
// newer than seq (accounting for 16-bit wraparound relative to newest).
func (n *NackModule) ClearUpTo(seq uint16) {
	for s := range n.entries {
		if int16(s-seq) <= 0 {
			delete(n.entries, s)
		}
	}
}

// Update runs the periodic selection pass: entries never sent, or whose
// last send was at least one RTT ago, are batched for (re)transmission.
// Retry counts are incremented; entries exceeding the retry cap are
// dropped instead of resent.
func (n *NackModule) Update() []uint16 {
	now := n.clk.Now()
	var batch []uint16
	for seq, e := range n.entries {
		due := !e.sent || now.Sub(e.sentAt).Micros() >= n.rtt.Micros()
		if !due {
			continue
		}
		if e.retries >= n.retryCap {
			delete(n.entries, seq)
			continue
		}
		e.sent = true
		e.sentAt = now
		e.retries++
		batch = append(batch, seq)
	}
	sort.Slice(batch, func(i, j int) bool { return int16(batch[i]-batch[j]) < 0 })
	return batch
}

// enforceListCap applies RemovePacketsUntilKeyFrame when the want-list has
// grown past its cap, requesting a keyframe if trimming to the newest
// keyframe still leaves the list oversized.
func (n *NackModule) enforceListCap() {
	if len(n.entries) <= n.listCap {
		return
	}
	n.removePacketsUntilKeyFrame()
	if len(n.entries) > n.listCap {
		n.keyframeRequested = true
		n.entries = make(map[uint16]*nackEntry)
	}
}

func (n *NackModule) removePacketsUntilKeyFrame() {
	if !n.haveKeyframe {
		return
	}
	for seq := range n.entries {
		if int16(seq-n.newestKeyframeSeq) < 0 {
			delete(n.entries, seq)
		}
	}
}

// KeyframeRequested reports and clears the sticky flag set when the
// want-list overflowed even after trimming to the newest keyframe.
func (n *NackModule) KeyframeRequested() bool {
	requested := n.keyframeRequested
	n.keyframeRequested = false
	return requested
}

// Len returns the number of outstanding want-list entries, surfaced as a
// NackListOverflow error once it exceeds the configured cap (callers may
// use this to log or count without tripping the hard eviction path).
func (n *NackModule) Len() int { return len(n.entries) }

// CheckOverflow returns a NackListOverflow error when the want-list is
// over its cap, for callers that want an explicit error value alongside
// the automatic eviction enforceListCap already performs.
func (n *NackModule) CheckOverflow() error {
	if len(n.entries) > n.listCap {
		return &wrtcerr.NackListOverflow{Size: len(n.entries)}
	}
	return nil
}
