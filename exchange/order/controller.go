// Package order drives an exchange from quote confirmation through order
// creation to status tracking with a payment countdown.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/clock"
	"github.com/m3rciful/swapbot/exchange/quote"
)

var (
	// ErrOrderCreationFailed wraps remote order creation failures.
	ErrOrderCreationFailed = errors.New("order: creation failed")
	// ErrCreateInFlight is returned when an order is already being created.
	ErrCreateInFlight = errors.New("order: creation already in progress")
	// ErrStale is returned when the session moved on while a call was outstanding.
	ErrStale = errors.New("order: result discarded, session moved on")
	// ErrInvalidPhase is returned for an action not allowed in the current phase.
	ErrInvalidPhase = errors.New("order: action not allowed in current phase")
	// ErrPaymentWindowExpired is returned by Pay once the countdown reached zero.
	ErrPaymentWindowExpired = errors.New("order: payment window expired")
	// ErrPayUnavailable is returned when the order cannot be paid via API.
	ErrPayUnavailable = errors.New("order: payment via API unavailable")
	// ErrCancelUnavailable is returned when the order cannot be cancelled via API.
	ErrCancelUnavailable = errors.New("order: cancellation via API unavailable")
)

// Defaults of the tracking scope.
const (
	DefaultPollInterval  = 10 * time.Second
	DefaultPaymentWindow = 1800 * time.Second
	TickInterval         = time.Second
)

// Phase is the lifecycle phase of a session.
type Phase string

const (
	PhaseCalculating Phase = "calculating"
	PhaseConfirming  Phase = "confirming"
	PhaseCreating    Phase = "creating"
	PhaseTracking    Phase = "tracking"
)

// Order is an exchange order. Only StatusCode and StatusTitle change after creation.
type Order struct {
	ID           string
	Hash         string
	URL          string
	StatusCode   string
	StatusTitle  string
	AmountGive   decimal.Decimal
	AmountGet    decimal.Decimal
	CurrencyGive string
	CurrencyGet  string
	PaymentURL   string
	PaymentType  string
	Instruction  string
	CanPayViaAPI bool
	CanCancel    bool
}

// CreateRequest describes an order to create.
type CreateRequest struct {
	DirectionID string
	Amount      decimal.Decimal
	Pivot       quote.Pivot
	Fields      map[string]string
	RequesterID int64
}

// Service is the remote order API.
type Service interface {
	CreateOrder(ctx context.Context, req CreateRequest) (Order, error)
	FetchOrderStatus(ctx context.Context, hash string) (Order, error)
	PayOrder(ctx context.Context, hash string) (Order, error)
	CancelOrder(ctx context.Context, hash string) (Order, error)
}

// Confirmation is the quote snapshot the user agreed to.
type Confirmation struct {
	Direction catalog.Direction
	Quote     quote.Quote
	Amount    decimal.Decimal
	Pivot     quote.Pivot
}

// Snapshot is a copy of the controller state. Only the data of the active
// phase is populated.
type Snapshot struct {
	Phase        Phase
	Confirmation *Confirmation
	Order        *Order
	Status       Status
	// Unrecognized is set when the status title matched no keyword set.
	Unrecognized bool
	Remaining    time.Duration
	Expired      bool
	Tracking     bool
}

// Options configures a Controller.
type Options struct {
	Clock         clock.Clock
	PollInterval  time.Duration
	PaymentWindow time.Duration
	Classifier    *StatusClassifier

	// Hooks run outside the controller lock, on the goroutine that caused
	// the change. They must not call CancelTracking or Restart synchronously.
	OnCreated func(Order)
	// OnTitle runs whenever polling changes the status code or title, even
	// within the same status class.
	OnTitle  func(o Order)
	OnStatus func(prev, next Status, o Order)
	OnChange func(Snapshot)
}

type scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Controller is the order lifecycle state machine of one session.
type Controller struct {
	svc  Service
	opts Options

	mu           sync.Mutex
	phase        Phase
	conf         *Confirmation
	order        *Order
	status       Status
	unrecognized bool
	remaining    int
	expired      bool
	epoch        uint64
	creating     bool
	scope        *scope
	last         *scope
}

// NewController returns a controller in the calculating phase.
func NewController(svc Service, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PaymentWindow <= 0 {
		opts.PaymentWindow = DefaultPaymentWindow
	}
	if opts.Classifier == nil {
		opts.Classifier = NewStatusClassifier(Keywords{})
	}
	return &Controller{svc: svc, opts: opts, phase: PhaseCalculating}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Confirm records the quote the user agreed to. It performs no I/O.
func (c *Controller) Confirm(conf Confirmation) error {
	c.mu.Lock()
	if c.phase != PhaseCalculating && c.phase != PhaseConfirming {
		c.mu.Unlock()
		return fmt.Errorf("%w: confirm in %s", ErrInvalidPhase, c.phase)
	}
	c.epoch++
	c.phase = PhaseConfirming
	c.conf = &conf
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(snap)
	return nil
}

// Back returns from confirming to calculating.
func (c *Controller) Back() error {
	c.mu.Lock()
	if c.phase != PhaseConfirming {
		c.mu.Unlock()
		return fmt.Errorf("%w: back in %s", ErrInvalidPhase, c.phase)
	}
	c.epoch++
	c.phase = PhaseCalculating
	c.conf = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(snap)
	return nil
}

// CreateOrder creates the confirmed order and starts tracking it. Only one
// creation may be outstanding; a concurrent call returns ErrCreateInFlight
// without reaching the service.
func (c *Controller) CreateOrder(ctx context.Context, fields map[string]string, requesterID int64) (Order, error) {
	c.mu.Lock()
	if c.creating {
		c.mu.Unlock()
		return Order{}, ErrCreateInFlight
	}
	if c.phase != PhaseConfirming || c.conf == nil {
		phase := c.phase
		c.mu.Unlock()
		return Order{}, fmt.Errorf("%w: create in %s", ErrInvalidPhase, phase)
	}
	c.creating = true
	c.phase = PhaseCreating
	epoch := c.epoch
	conf := *c.conf
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.changed(snap)

	req := CreateRequest{
		DirectionID: conf.Direction.ID,
		Amount:      conf.Amount,
		Pivot:       conf.Pivot,
		Fields:      fields,
		RequesterID: requesterID,
	}
	start := time.Now()
	o, err := c.svc.CreateOrder(ctx, req)
	attrs := []slog.Attr{
		slog.String("direction_id", req.DirectionID),
		slog.String("amount", req.Amount.String()),
		slog.String("pivot", string(req.Pivot)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		logger.Info(ctx, logger.CompOrder, "order.create",
			append(attrs, slog.String("status", "stale"), slog.String("hash", o.Hash))...)
		return Order{}, ErrStale
	}
	c.creating = false
	if err != nil {
		c.phase = PhaseConfirming
		snap = c.snapshotLocked()
		c.mu.Unlock()
		logger.Warn(ctx, logger.CompOrder, "order.create", append(attrs,
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)...)
		c.changed(snap)
		return Order{}, fmt.Errorf("%w: %w", ErrOrderCreationFailed, err)
	}

	c.conf = nil
	c.order = &o
	c.phase = PhaseTracking
	c.status = c.opts.Classifier.Classify(o.StatusTitle)
	c.unrecognized = c.status == StatusUnknown
	c.remaining = int(c.opts.PaymentWindow / TickInterval)
	c.expired = false
	if c.status.Active() {
		c.startTrackingLocked(ctx)
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()

	logger.Info(ctx, logger.CompOrder, "order.created", append(attrs,
		slog.String("status", "ok"),
		slog.String("order_id", o.ID),
		slog.String("hash", o.Hash),
		slog.String("order_status", snap.Status.String()),
		slog.Bool("tracking", snap.Tracking),
	)...)
	if c.opts.OnCreated != nil {
		c.opts.OnCreated(o)
	}
	c.changed(snap)
	return o, nil
}

// CancelTracking stops polling and the countdown without touching the
// remote order. It returns once both tasks have exited.
func (c *Controller) CancelTracking() {
	c.mu.Lock()
	s := c.stopTrackingLocked()
	c.mu.Unlock()
	if s != nil {
		s.wg.Wait()
	}
}

// Restart discards the order and quote state and returns to calculating.
// Outstanding calls are discarded when they complete.
func (c *Controller) Restart() {
	c.mu.Lock()
	s := c.stopTrackingLocked()
	c.epoch++
	c.phase = PhaseCalculating
	c.conf = nil
	c.order = nil
	c.status = StatusUnknown
	c.unrecognized = false
	c.remaining = 0
	c.expired = false
	c.creating = false
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if s != nil {
		s.wg.Wait()
	}
	c.changed(snap)
}

// Wait blocks until the tasks of the most recent tracking scope exited.
func (c *Controller) Wait() {
	c.mu.Lock()
	s := c.last
	c.mu.Unlock()
	if s != nil {
		s.wg.Wait()
	}
}

// Pay confirms payment through the API.
func (c *Controller) Pay(ctx context.Context) (Order, error) {
	c.mu.Lock()
	if c.phase != PhaseTracking || c.order == nil {
		phase := c.phase
		c.mu.Unlock()
		return Order{}, fmt.Errorf("%w: pay in %s", ErrInvalidPhase, phase)
	}
	if c.expired {
		c.mu.Unlock()
		return Order{}, ErrPaymentWindowExpired
	}
	if !c.order.CanPayViaAPI || !c.status.Active() {
		c.mu.Unlock()
		return Order{}, ErrPayUnavailable
	}
	hash, epoch := c.order.Hash, c.epoch
	c.mu.Unlock()

	o, err := c.svc.PayOrder(ctx, hash)
	logger.Info(ctx, logger.CompOrder, "order.pay",
		slog.String("hash", hash),
		slog.String("status", logger.Status(err)),
	)
	if err != nil {
		return Order{}, fmt.Errorf("order: pay: %w", err)
	}
	return c.applyRemote(ctx, epoch, o)
}

// CancelOrder cancels the order through the API.
func (c *Controller) CancelOrder(ctx context.Context) (Order, error) {
	c.mu.Lock()
	if c.phase != PhaseTracking || c.order == nil {
		phase := c.phase
		c.mu.Unlock()
		return Order{}, fmt.Errorf("%w: cancel in %s", ErrInvalidPhase, phase)
	}
	if !c.order.CanCancel || !c.status.Active() {
		c.mu.Unlock()
		return Order{}, ErrCancelUnavailable
	}
	hash, epoch := c.order.Hash, c.epoch
	c.mu.Unlock()

	o, err := c.svc.CancelOrder(ctx, hash)
	logger.Info(ctx, logger.CompOrder, "order.cancel",
		slog.String("hash", hash),
		slog.String("status", logger.Status(err)),
	)
	if err != nil {
		return Order{}, fmt.Errorf("order: cancel: %w", err)
	}
	return c.applyRemote(ctx, epoch, o)
}

func (c *Controller) applyRemote(ctx context.Context, epoch uint64, o Order) (Order, error) {
	c.mu.Lock()
	if c.epoch != epoch || c.order == nil {
		c.mu.Unlock()
		return Order{}, ErrStale
	}
	notify := c.applyStatusLocked(ctx, o)
	cur := *c.order
	c.mu.Unlock()
	notify()
	return cur, nil
}

// applyStatusLocked refreshes the status of the current order and returns
// the hooks to run once the lock is released.
func (c *Controller) applyStatusLocked(ctx context.Context, fresh Order) func() {
	if fresh.StatusCode == c.order.StatusCode && fresh.StatusTitle == c.order.StatusTitle {
		return func() {}
	}
	c.order.StatusCode = fresh.StatusCode
	c.order.StatusTitle = fresh.StatusTitle
	prev := c.status
	c.status = c.opts.Classifier.Classify(fresh.StatusTitle)
	c.unrecognized = c.status == StatusUnknown
	if !c.status.Active() {
		c.stopTrackingLocked()
	}
	snap := c.snapshotLocked()
	o := *c.order

	if prev != c.status {
		logger.Info(ctx, logger.CompOrder, "order.status",
			slog.String("hash", o.Hash),
			slog.String("from", prev.String()),
			slog.String("to", c.status.String()),
			slog.String("title", logger.SanitizeLimit(o.StatusTitle, 128)),
		)
	}
	return func() {
		if c.opts.OnTitle != nil {
			c.opts.OnTitle(o)
		}
		if prev != snap.Status && c.opts.OnStatus != nil {
			c.opts.OnStatus(prev, snap.Status, o)
		}
		c.changed(snap)
	}
}

func (c *Controller) startTrackingLocked(parent context.Context) {
	ctx, cancel := context.WithCancel(logger.WithOrder(context.WithoutCancel(parent), c.order.Hash))
	s := &scope{ctx: ctx, cancel: cancel}
	poll := c.opts.Clock.NewTicker(c.opts.PollInterval)
	tick := c.opts.Clock.NewTicker(TickInterval)
	c.scope = s
	c.last = s

	s.wg.Add(2)
	go c.pollLoop(s, poll, c.order.Hash)
	go c.tickLoop(s, tick)
}

// stopTrackingLocked cancels the active scope. The caller waits on the
// returned scope after releasing the lock.
func (c *Controller) stopTrackingLocked() *scope {
	s := c.scope
	if s == nil {
		return nil
	}
	c.scope = nil
	s.cancel()
	return s
}

func (c *Controller) pollLoop(s *scope, tk clock.Ticker, hash string) {
	defer s.wg.Done()
	defer tk.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tk.C():
		}

		fresh, err := c.svc.FetchOrderStatus(s.ctx, hash)
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Debug(s.ctx, logger.CompOrder, "order.poll",
					slog.String("hash", hash),
					slog.String("status", "retry"),
					slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
				)
			}
			continue
		}

		c.mu.Lock()
		if s.ctx.Err() != nil || c.order == nil {
			c.mu.Unlock()
			return
		}
		notify := c.applyStatusLocked(s.ctx, fresh)
		c.mu.Unlock()
		notify()
	}
}

func (c *Controller) tickLoop(s *scope, tk clock.Ticker) {
	defer s.wg.Done()
	defer tk.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tk.C():
		}

		c.mu.Lock()
		if s.ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		if c.remaining > 0 {
			c.remaining--
		}
		done := c.remaining == 0
		if done {
			c.expired = true
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()

		if done {
			logger.Info(s.ctx, logger.CompOrder, "order.expired", slog.String("hash", snap.Order.Hash))
		}
		c.changed(snap)
		if done {
			return
		}
	}
}

func (c *Controller) changed(s Snapshot) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(s)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:    c.phase,
		Tracking: c.scope != nil,
	}
	switch c.phase {
	case PhaseConfirming, PhaseCreating:
		if c.conf != nil {
			conf := *c.conf
			s.Confirmation = &conf
		}
	case PhaseTracking:
		if c.order != nil {
			o := *c.order
			s.Order = &o
		}
		s.Status = c.status
		s.Unrecognized = c.unrecognized
		s.Remaining = time.Duration(c.remaining) * TickInterval
		s.Expired = c.expired
	}
	return s
}
