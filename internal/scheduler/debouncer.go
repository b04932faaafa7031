package scheduler

import (
	"sync"
	"time"
)

// Debouncer batches rapid triggers per key into a single action call after a
// quiet period. Keys debounce independently, so a busy tree does not delay
// another one.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	action   func(key string)
	pending  map[string]*pendingFire
	seq      uint64
	wg       sync.WaitGroup // in-flight actions and armed timers
}

type pendingFire struct {
	timer *time.Timer
	seq   uint64
}

// NewDebouncer returns a debouncer calling action(key) once duration has
// passed since the last Trigger(key).
func NewDebouncer(duration time.Duration, action func(key string)) *Debouncer {
	return &Debouncer{
		duration: duration,
		action:   action,
		pending:  make(map[string]*pendingFire),
	}
}

// Trigger (re)arms the timer of key.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[key]; ok && p.timer.Stop() {
		d.wg.Done()
	}

	d.seq++
	p := &pendingFire{seq: d.seq}
	d.pending[key] = p

	d.wg.Add(1)
	p.timer = time.AfterFunc(d.duration, func() {
		defer d.wg.Done()

		d.mu.Lock()
		if cur, ok := d.pending[key]; !ok || cur.seq != p.seq {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()

		d.action(key)
	})
}

// Pending reports whether key has an armed timer.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Cancel stops every armed timer. It does not wait for actions already
// running.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, p := range d.pending {
		if p.timer.Stop() {
			d.wg.Done()
		}
		delete(d.pending, key)
	}
}

// CancelAndWait stops every armed timer and blocks until in-flight actions
// return.
func (d *Debouncer) CancelAndWait() {
	d.Cancel()
	d.wg.Wait()
}
