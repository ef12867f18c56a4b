// Package taskqueue implements the single-threaded cooperative executor
// every long-lived component (ICE, DTLS, SRTP, RTP send/receive, RTCP,
// demuxer, frame buffer) is confined to, per spec.md §5. A TaskQueue runs
// tasks strictly in submission order on one dedicated goroutine; it never
// runs two tasks concurrently, and suspension only happens at task
// boundaries.
package taskqueue

import (
	"bytes"
	"container/heap"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/ethan/rtcpeer/pkg/units"
)

// goroutineID extracts the running goroutine's numeric id from its own
// stack trace header ("goroutine 123 [running]:"). It backs Dispatch's
// "am I already on this queue" check; Go has no public goroutine-local
// storage, and this is the standard workaround used by goroutine-leak
// detectors for the same purpose.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}

type delayedTask struct {
	due   time.Time
	fn    func()
	index int
	// canceled is checked right before the task runs so a RepeatingTask
	// can cancel a wake-up that already sits in the heap.
	canceled *bool
}

type taskHeap []*delayedTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x any)         { t := x.(*delayedTask); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TaskQueue is a single-threaded cooperative executor.
type TaskQueue struct {
	name string

	mu      sync.Mutex
	delayed taskHeap
	closed  bool

	immediate chan func()
	wake      chan struct{}
	done      chan struct{}

	ownerID uint64
}

// New starts a TaskQueue's worker goroutine and returns it.
func New(name string) *TaskQueue {
	q := &TaskQueue{
		name:      name,
		immediate: make(chan func(), 256),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	started := make(chan struct{})
	go q.run(started)
	<-started
	return q
}

// Name returns the queue's diagnostic name.
func (q *TaskQueue) Name() string { return q.name }

func (q *TaskQueue) run(started chan struct{}) {
	q.mu.Lock()
	q.ownerID = goroutineID()
	q.mu.Unlock()
	close(started)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.rearm(timer)
		select {
		case <-q.done:
			q.drainRemaining()
			return
		case fn := <-q.immediate:
			fn()
		case <-q.wake:
		case <-timer.C:
		}
		q.runDueDelayed()
	}
}

func (q *TaskQueue) rearm(timer *time.Timer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if len(q.delayed) == 0 {
		timer.Reset(time.Hour)
		return
	}
	d := time.Until(q.delayed[0].due)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (q *TaskQueue) runDueDelayed() {
	now := time.Now()
	for {
		q.mu.Lock()
		if len(q.delayed) == 0 || q.delayed[0].due.After(now) {
			q.mu.Unlock()
			return
		}
		t := heap.Pop(&q.delayed).(*delayedTask)
		q.mu.Unlock()
		if t.canceled != nil && *t.canceled {
			continue
		}
		t.fn()
	}
}

func (q *TaskQueue) drainRemaining() {
	q.mu.Lock()
	q.delayed = nil
	q.mu.Unlock()
	for {
		select {
		case <-q.immediate:
		default:
			return
		}
	}
}

// IsCurrent reports whether the calling goroutine is this queue's worker.
func (q *TaskQueue) IsCurrent() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return goroutineID() == q.ownerID
}

// Post appends task to the queue; it always runs asynchronously, even if
// the caller is already on this queue.
func (q *TaskQueue) Post(task func()) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return
	}
	q.immediate <- task
}

// Dispatch executes task inline when the caller is already on this queue,
// else it behaves like Post and blocks the caller until the task is queued
// (not until it runs).
func (q *TaskQueue) Dispatch(task func()) {
	if q.IsCurrent() {
		task()
		return
	}
	q.Post(task)
}

// PostDelayed schedules task to run at or after delay from now. It returns
// a cancel function; calling it before the task fires drops it.
func (q *TaskQueue) PostDelayed(delay units.TimeDelta, task func()) (cancel func()) {
	canceled := false
	t := &delayedTask{
		due:      time.Now().Add(time.Duration(delay.Micros()) * time.Microsecond),
		fn:       task,
		canceled: &canceled,
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return func() {}
	}
	heap.Push(&q.delayed, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return func() { canceled = true }
}

// Stop terminates the worker goroutine. Pending immediate tasks are
// dropped; call Stop only once the owning component has no further work
// to post.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}
