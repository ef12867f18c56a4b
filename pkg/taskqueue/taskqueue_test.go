package taskqueue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ethan/rtcpeer/pkg/taskqueue"
	"github.com/ethan/rtcpeer/pkg/units"
)

func TestPostRunsInOrder(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		q.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected strict submission order, got %v", order)
		}
	}
}

func TestDispatchInlineWhenOnQueue(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	done := make(chan bool, 1)
	q.Post(func() {
		ranInline := false
		q.Dispatch(func() { ranInline = true })
		done <- ranInline
	})

	if !<-done {
		t.Fatal("Dispatch from the owning goroutine should run inline")
	}
}

func TestDispatchPostsWhenOffQueue(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	done := make(chan struct{})
	var ran bool
	q.Dispatch(func() {
		ran = true
		close(done)
	})
	<-done
	if !ran {
		t.Fatal("expected dispatched task to run")
	}
}

func TestPostDelayedFiresAfterDelay(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	start := time.Now()
	done := make(chan time.Duration, 1)
	q.PostDelayed(units.Millis(30), func() {
		done <- time.Since(start)
	})

	elapsed := <-done
	if elapsed < 25*time.Millisecond {
		t.Fatalf("task fired too early: %v", elapsed)
	}
}

func TestPostDelayedCancel(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	ran := false
	cancel := q.PostDelayed(units.Millis(20), func() { ran = true })
	cancel()

	time.Sleep(50 * time.Millisecond)
	if ran {
		t.Fatal("canceled delayed task should not run")
	}
}

func TestRepeatingTaskStopsOnZero(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	var mu sync.Mutex
	count := 0
	finished := make(chan struct{})

	taskqueue.StartRepeatingTask(q, units.Millis(5), func() units.TimeDelta {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n >= 3 {
			close(finished)
			return units.ZeroTimeDelta()
		}
		return units.Millis(5)
	})

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("repeating task never reached its stop condition")
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("expected exactly 3 invocations, got %d", count)
	}
}

func TestRepeatingTaskStop(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	var mu sync.Mutex
	count := 0
	rt := taskqueue.StartRepeatingTask(q, units.Millis(5), func() units.TimeDelta {
		mu.Lock()
		count++
		mu.Unlock()
		return units.Millis(5)
	})

	time.Sleep(20 * time.Millisecond)
	rt.Stop()
	mu.Lock()
	stoppedAt := count
	mu.Unlock()

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != stoppedAt {
		t.Fatalf("task kept running after Stop: %d -> %d", stoppedAt, count)
	}
}
