package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/exchange/clock"
	"github.com/m3rciful/swapbot/exchange/session"
)

// SessionFactory builds a fresh, not yet started session for a user.
type SessionFactory func(ctx context.Context, userID int64) *session.Session

type entry struct {
	s        *session.Session
	lastUsed time.Time
	screen   tele.StoredMessage
	hasScr   bool
	lastText string
}

// Sessions owns one exchange session per Telegram user and the chat message
// the session is rendered into.
type Sessions struct {
	factory SessionFactory
	clock   clock.Clock
	ttl     time.Duration

	mu    sync.Mutex
	items map[int64]*entry
}

// NewSessions builds a registry. A non-positive ttl disables idle eviction.
func NewSessions(factory SessionFactory, ttl time.Duration, clk clock.Clock) *Sessions {
	if clk == nil {
		clk = clock.Real()
	}
	return &Sessions{factory: factory, clock: clk, ttl: ttl, items: map[int64]*entry{}}
}

// Get returns the session of a user without creating one.
func (r *Sessions) Get(userID int64) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[userID]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.clock.Now()
	return e.s, true
}

// Open returns the user's session, creating and starting a new one when
// missing or when fresh is set. A start failure is returned together with
// the session so that the caller can render it and offer a reload.
func (r *Sessions) Open(ctx context.Context, userID int64, fresh bool) (*session.Session, error) {
	if !fresh {
		if s, ok := r.Get(userID); ok {
			return s, nil
		}
	}
	s := r.factory(ctx, userID)

	r.mu.Lock()
	e, ok := r.items[userID]
	if ok && !fresh {
		e.lastUsed = r.clock.Now()
		r.mu.Unlock()
		s.Close()
		return e.s, nil
	}
	var old *session.Session
	ne := &entry{s: s, lastUsed: r.clock.Now()}
	if ok {
		old = e.s
		ne.screen, ne.hasScr = e.screen, e.hasScr
	}
	r.items[userID] = ne
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	logger.Debug(ctx, logger.CompBot, "session.open",
		slog.Int64("user_id", userID),
		slog.String("session_id", s.ID()),
	)
	return s, s.Start(ctx)
}

// Peek returns the session of a user without marking it as used.
func (r *Sessions) Peek(userID int64) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[userID]
	if !ok {
		return nil, false
	}
	return e.s, true
}

// SetScreen records the message the session is rendered into.
func (r *Sessions) SetScreen(userID int64, msg tele.StoredMessage, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.items[userID]; ok {
		e.screen, e.hasScr, e.lastText = msg, true, text
	}
}

// Screen returns the rendered message of a user, if any.
func (r *Sessions) Screen(userID int64) (tele.StoredMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[userID]
	if !ok || !e.hasScr {
		return tele.StoredMessage{}, false
	}
	return e.screen, true
}

// swapText stores text as the last rendered one and reports whether it differs
// from the previous rendering.
func (r *Sessions) swapText(userID int64, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[userID]
	if !ok || e.lastText == text {
		return false
	}
	e.lastText = text
	return true
}

// Len reports the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Sweep closes sessions idle for longer than the ttl. Sessions still
// tracking an order are kept.
func (r *Sessions) Sweep(ctx context.Context) int {
	if r.ttl <= 0 {
		return 0
	}
	now := r.clock.Now()
	candidates := map[int64]*entry{}
	r.mu.Lock()
	for id, e := range r.items {
		if now.Sub(e.lastUsed) >= r.ttl {
			candidates[id] = e
		}
	}
	r.mu.Unlock()

	var idle []*session.Session
	for id, e := range candidates {
		if e.s.View().Order.Tracking {
			continue
		}
		r.mu.Lock()
		if cur, ok := r.items[id]; ok && cur == e && now.Sub(cur.lastUsed) >= r.ttl {
			delete(r.items, id)
			idle = append(idle, e.s)
		}
		r.mu.Unlock()
	}

	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		logger.Info(ctx, logger.CompBot, "session.sweep",
			slog.Int("closed", len(idle)),
			slog.Int("live", r.Len()),
		)
	}
	return len(idle)
}

// Run sweeps idle sessions every interval until ctx is done.
func (r *Sessions) Run(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	tk := r.clock.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C():
			r.Sweep(ctx)
		}
	}
}

// CloseAll closes every session.
func (r *Sessions) CloseAll() {
	r.mu.Lock()
	items := r.items
	r.items = map[int64]*entry{}
	r.mu.Unlock()
	for _, e := range items {
		e.s.Close()
	}
}
