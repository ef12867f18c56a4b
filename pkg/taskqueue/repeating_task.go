package taskqueue

import (
	"sync/atomic"

	"github.com/ethan/rtcpeer/pkg/units"
)

// RepeatingTask periodically invokes fn on a TaskQueue. fn returns the
// delay until its next invocation; returning units.ZeroTimeDelta() stops
// the task, as does calling Stop (spec.md §5: "a RepeatingTask stops when
// its closure returns Zero or when the task is dropped").
type RepeatingTask struct {
	queue   *TaskQueue
	fn      func() units.TimeDelta
	stopped atomic.Bool
	cancel  func()
}

// StartRepeatingTask schedules fn to run after the initial delay, and
// again after each delay fn itself returns.
func StartRepeatingTask(queue *TaskQueue, initialDelay units.TimeDelta, fn func() units.TimeDelta) *RepeatingTask {
	rt := &RepeatingTask{queue: queue, fn: fn}
	rt.scheduleNext(initialDelay)
	return rt
}

func (rt *RepeatingTask) scheduleNext(delay units.TimeDelta) {
	if rt.stopped.Load() {
		return
	}
	rt.cancel = rt.queue.PostDelayed(delay, rt.runOnce)
}

func (rt *RepeatingTask) runOnce() {
	if rt.stopped.Load() {
		return
	}
	next := rt.fn()
	if rt.stopped.Load() || next == units.ZeroTimeDelta() {
		rt.stopped.Store(true)
		return
	}
	rt.scheduleNext(next)
}

// Stop cancels the next scheduled wake-up and prevents further ones.
func (rt *RepeatingTask) Stop() {
	if rt.stopped.Swap(true) {
		return
	}
	if rt.cancel != nil {
		rt.cancel()
	}
}
