package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/exchange/clock"
)

// DefaultDebounce is the quiet period applied to input-driven recomputation.
const DefaultDebounce = 500 * time.Millisecond

// Fetcher computes a quote remotely.
type Fetcher interface {
	FetchQuote(ctx context.Context, req Request) (Quote, error)
}

// Result is delivered to the listener for debounced and direction-change quotes.
type Result struct {
	Request Request
	Quote   Quote
	Err     error
}

// Options configures an Engine.
type Options struct {
	Clock    clock.Clock
	Debounce time.Duration
	// Context is used for requests fired by the debouncer.
	Context  context.Context
	OnResult func(Result)
}

// Engine issues quote requests. Every request takes a new generation; only
// the result of the latest generation is applied, regardless of the order
// in which responses arrive.
type Engine struct {
	fetcher  Fetcher
	ctx      context.Context
	onResult func(Result)
	debounce *Debouncer[Request]

	mu      sync.Mutex
	gen     uint64
	running uint64
	last    Quote
	hasLast bool
}

// NewEngine builds an Engine around fetcher.
func NewEngine(fetcher Fetcher, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	e := &Engine{
		fetcher:  fetcher,
		ctx:      opts.Context,
		onResult: opts.OnResult,
	}
	e.debounce = NewDebouncer(opts.Clock, opts.Debounce, e.fireDebounced)
	return e
}

// Quote computes a quote immediately. Superseded results return ErrSuperseded.
func (e *Engine) Quote(ctx context.Context, directionID string, amount decimal.Decimal, pivot Pivot) (Quote, error) {
	req := Request{DirectionID: directionID, Amount: amount, Pivot: pivot}
	if err := checkRequest(req); err != nil {
		return Quote{}, err
	}
	return e.run(ctx, e.nextGen(), req)
}

// Schedule queues a debounced quote. Pending and in-flight requests are superseded.
func (e *Engine) Schedule(directionID string, amount decimal.Decimal, pivot Pivot) error {
	req := Request{DirectionID: directionID, Amount: amount, Pivot: pivot}
	if err := checkRequest(req); err != nil {
		e.Cancel()
		return err
	}
	e.nextGen()
	e.debounce.Trigger(req)
	return nil
}

// DirectionChanged drops any pending debounce and, when giveAmount is valid,
// quotes the new direction immediately with the give pivot. The result goes
// to the listener. It reports whether a request was issued.
func (e *Engine) DirectionChanged(ctx context.Context, directionID, giveAmount string) bool {
	e.debounce.Cancel()
	amount, err := ParseAmount(giveAmount)
	if err != nil {
		e.nextGen()
		return false
	}
	req := Request{DirectionID: directionID, Amount: amount, Pivot: PivotGive}
	q, err := e.run(ctx, e.nextGen(), req)
	e.deliver(req, q, err)
	return true
}

// Cancel drops the pending debounce and supersedes in-flight requests.
func (e *Engine) Cancel() {
	e.debounce.Cancel()
	e.nextGen()
}

// Pending reports whether a debounced request is waiting.
func (e *Engine) Pending() bool { return e.debounce.Pending() }

// InFlight reports whether the request of the latest generation is still
// waiting for its response.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running != 0 && e.running == e.gen
}

// Busy reports whether a newer quote than the last delivered one is coming.
func (e *Engine) Busy() bool { return e.Pending() || e.InFlight() }

// Last returns the last applied quote.
func (e *Engine) Last() (Quote, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.hasLast
}

// Reset forgets the last applied quote and supersedes everything outstanding.
func (e *Engine) Reset() {
	e.debounce.Cancel()
	e.mu.Lock()
	e.gen++
	e.last, e.hasLast = Quote{}, false
	e.mu.Unlock()
}

func (e *Engine) fireDebounced(req Request) {
	q, err := e.run(e.ctx, e.nextGen(), req)
	e.deliver(req, q, err)
}

func (e *Engine) deliver(req Request, q Quote, err error) {
	if errors.Is(err, ErrSuperseded) || e.onResult == nil {
		return
	}
	e.onResult(Result{Request: req, Quote: q, Err: err})
}

func (e *Engine) nextGen() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	return e.gen
}

func (e *Engine) run(ctx context.Context, gen uint64, req Request) (Quote, error) {
	e.mu.Lock()
	e.running = gen
	e.mu.Unlock()

	start := time.Now()
	q, err := e.fetcher.FetchQuote(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == gen {
		e.running = 0
	}

	attrs := []slog.Attr{
		slog.String("direction_id", req.DirectionID),
		slog.String("pivot", string(req.Pivot)),
		slog.String("amount", req.Amount.String()),
		slog.Uint64("gen", gen),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	}
	if gen != e.gen {
		logger.Debug(ctx, logger.CompQuote, "quote.discarded", append(attrs, slog.String("status", "stale"))...)
		return Quote{}, ErrSuperseded
	}
	if err != nil {
		logger.Warn(ctx, logger.CompQuote, "quote.failed", append(attrs,
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)...)
		return Quote{}, fmt.Errorf("%w: %w", ErrQuoteUnavailable, err)
	}

	q.DirectionID = req.DirectionID
	q.Pivot = req.Pivot
	q.Amount = req.Amount
	e.last, e.hasLast = q, true
	logger.Debug(ctx, logger.CompQuote, "quote.applied", append(attrs, slog.String("status", "ok"))...)
	return q, nil
}

func checkRequest(req Request) error {
	if req.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !req.Pivot.Valid() {
		return ErrInvalidPivot
	}
	return nil
}
