package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_BatchesMultipleTriggers(t *testing.T) {
	var count int32
	debouncer := NewDebouncer(50*time.Millisecond, func(string) {
		atomic.AddInt32(&count, 1)
	})
	t.Cleanup(debouncer.Cancel)

	debouncer.Trigger("t1")
	debouncer.Trigger("t1")
	debouncer.Trigger("t1")

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("action fired too early: got %d, want 0", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("action should have fired once: got %d, want 1", got)
	}
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]int{}
	debouncer := NewDebouncer(30*time.Millisecond, func(key string) {
		mu.Lock()
		fired[key]++
		mu.Unlock()
	})
	t.Cleanup(debouncer.Cancel)

	debouncer.Trigger("a")
	debouncer.Trigger("b")
	debouncer.Trigger("a")
	if !debouncer.Pending("a") || !debouncer.Pending("b") {
		t.Fatal("both keys should be pending")
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired["a"] != 1 || fired["b"] != 1 {
		t.Errorf("fired = %v, want one call per key", fired)
	}
	if debouncer.Pending("a") {
		t.Error("a should no longer be pending")
	}
}

func TestDebouncer_ResetsTimerOnSubsequentTriggers(t *testing.T) {
	var count int32
	debouncer := NewDebouncer(50*time.Millisecond, func(string) {
		atomic.AddInt32(&count, 1)
	})
	t.Cleanup(debouncer.Cancel)

	debouncer.Trigger("t1")
	time.Sleep(20 * time.Millisecond)

	debouncer.Trigger("t1")
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("action fired too early after timer reset: got %d, want 0", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("action should have fired once after final timer: got %d, want 1", got)
	}
}

func TestDebouncer_CancelDuringWait(t *testing.T) {
	var count int32
	debouncer := NewDebouncer(50*time.Millisecond, func(string) {
		atomic.AddInt32(&count, 1)
	})
	t.Cleanup(debouncer.Cancel)

	debouncer.Trigger("t1")
	time.Sleep(10 * time.Millisecond)

	debouncer.Cancel()

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("action should not have fired after cancel: got %d, want 0", got)
	}
}

func TestDebouncer_ThreadSafety(t *testing.T) {
	var count int32
	debouncer := NewDebouncer(50*time.Millisecond, func(string) {
		atomic.AddInt32(&count, 1)
	})
	t.Cleanup(debouncer.Cancel)

	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			debouncer.Trigger("t1")
		}()
	}

	close(start)
	wg.Wait()

	time.Sleep(120 * time.Millisecond)

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("all concurrent triggers should batch to exactly 1 action: got %d, want 1", got)
	}
}

func TestDebouncer_CancelAndWaitDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	done := make(chan struct{})
	debouncer := NewDebouncer(10*time.Millisecond, func(string) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		close(done)
	})

	debouncer.Trigger("t1")

	select {
	case <-started:
	case <-time.After(1 * time.Second):
		t.Fatal("action did not start in time")
	}

	debouncer.CancelAndWait()

	select {
	case <-done:
	default:
		t.Error("CancelAndWait returned before in-flight action completed")
	}
}

func TestDebouncer_CancelAndWaitWithPendingTimer(t *testing.T) {
	var count int32
	debouncer := NewDebouncer(5*time.Second, func(string) {
		atomic.AddInt32(&count, 1)
	})

	debouncer.Trigger("t1")
	debouncer.Trigger("t2")

	waitDone := make(chan struct{})
	go func() {
		debouncer.CancelAndWait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(1 * time.Second):
		t.Fatal("CancelAndWait blocked with only pending (not yet fired) timers")
	}

	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("action should not have fired after CancelAndWait: got %d, want 0", got)
	}
}
