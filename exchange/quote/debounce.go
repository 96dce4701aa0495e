package quote

import (
	"sync"
	"time"

	"github.com/m3rciful/swapbot/exchange/clock"
)

// Debouncer coalesces bursts of triggers into one call of fire with the
// latest payload once the quiet period has elapsed. Re-arming replaces both
// the pending payload and the timer.
type Debouncer[T any] struct {
	clk  clock.Clock
	wait time.Duration
	fire func(T)

	mu      sync.Mutex
	seq     uint64
	timer   clock.Timer
	pending T
	armed   bool
}

// NewDebouncer returns a Debouncer calling fire after wait of inactivity.
func NewDebouncer[T any](clk clock.Clock, wait time.Duration, fire func(T)) *Debouncer[T] {
	return &Debouncer[T]{clk: clk, wait: wait, fire: fire}
}

// Trigger (re)arms the timer with v as the pending payload.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	seq := d.seq
	d.pending = v
	d.armed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clk.AfterFunc(d.wait, func() { d.expire(seq) })
}

func (d *Debouncer[T]) expire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq || !d.armed {
		d.mu.Unlock()
		return
	}
	v := d.pending
	var zero T
	d.pending = zero
	d.armed = false
	d.timer = nil
	d.mu.Unlock()
	d.fire(v)
}

// Cancel drops the pending payload. It reports whether one was armed.
func (d *Debouncer[T]) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.armed
	d.seq++
	d.armed = false
	var zero T
	d.pending = zero
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return was
}

// Pending reports whether a payload is waiting for the quiet period.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}
