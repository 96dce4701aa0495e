package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock.
//
// Timer callbacks run synchronously inside Advance. Ticker sends are
// unbuffered, so Advance returns only after the consumer received every tick
// or stopped the ticker. Consumers must therefore never hold a lock that the
// goroutine calling Advance needs.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn at Now()+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{clock: f, at: f.now.Add(d), seq: f.seq, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// NewTicker returns a ticker firing every d.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTicker{
		clock:  f,
		period: d,
		next:   f.now.Add(d),
		seq:    f.seq,
		ch:     make(chan time.Time),
		stop:   make(chan struct{}),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// PendingTimers reports the number of armed timers.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// ActiveTickers reports the number of running tickers.
func (f *Fake) ActiveTickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Advance moves the clock forward by d, firing due timers and ticks in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		ev, ok := f.nextEventLocked(target)
		if !ok {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = ev.at
		var fn func()
		var tick *fakeTicker
		if ev.timer != nil {
			f.removeTimerLocked(ev.timer)
			fn = ev.timer.fn
		} else {
			tick = ev.ticker
			tick.next = tick.next.Add(tick.period)
		}
		now := f.now
		f.mu.Unlock()

		if fn != nil {
			fn()
			continue
		}
		select {
		case tick.ch <- now:
		case <-tick.stop:
		}
	}
}

type event struct {
	at     time.Time
	seq    uint64
	timer  *fakeTimer
	ticker *fakeTicker
}

func (f *Fake) nextEventLocked(limit time.Time) (event, bool) {
	events := make([]event, 0, len(f.timers)+len(f.tickers))
	for _, t := range f.timers {
		if !t.at.After(limit) {
			events = append(events, event{at: t.at, seq: t.seq, timer: t})
		}
	}
	for _, t := range f.tickers {
		if !t.next.After(limit) {
			events = append(events, event{at: t.next, seq: t.seq, ticker: t})
		}
	}
	if len(events) == 0 {
		return event{}, false
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].at.Equal(events[j].at) {
			return events[i].at.Before(events[j].at)
		}
		return events[i].seq < events[j].seq
	})
	return events[0], true
}

func (f *Fake) removeTimerLocked(t *fakeTimer) bool {
	for i, cur := range f.timers {
		if cur == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock *Fake
	at    time.Time
	seq   uint64
	fn    func()
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.removeTimerLocked(t)
}

type fakeTicker struct {
	clock  *Fake
	period time.Duration
	next   time.Time
	seq    uint64
	ch     chan time.Time
	stop   chan struct{}
	once   sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.once.Do(func() {
		t.clock.mu.Lock()
		for i, cur := range t.clock.tickers {
			if cur == t {
				t.clock.tickers = append(t.clock.tickers[:i], t.clock.tickers[i+1:]...)
				break
			}
		}
		t.clock.mu.Unlock()
		close(t.stop)
	})
}
