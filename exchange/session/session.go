// Package session composes the catalog, quote engine, field collector and
// order controller into one forward-only exchange flow per user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/clock"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
)

// Default currency preferences used by Start.
const (
	DefaultGive   = "USDT TRC20"
	DefaultGet    = "Сбербанк RUB"
	DefaultAmount = "100"
)

// IdentityProvider returns what the host environment knows about the requester.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (fields.Identity, error)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (fields.Identity, error)

func (f IdentityFunc) CurrentIdentity(ctx context.Context) (fields.Identity, error) { return f(ctx) }

// EventKind names what changed.
type EventKind string

const (
	EventCatalog EventKind = "catalog"
	EventQuote   EventKind = "quote"
	EventOrder   EventKind = "order"
	EventFailure EventKind = "failure"
)

// Event is published to the session listener after every state change.
type Event struct {
	Kind EventKind
	View View
}

// View is a copy of the session state for rendering.
type View struct {
	SessionID    string
	Direction    catalog.Direction
	HasDirection bool
	AmountInput  string
	Pivot        quote.Pivot
	Quote        *quote.Quote
	QuoteErr     error
	Order        order.Snapshot
	Failure      *Failure
	Fatal        error
}

// Deps are the collaborators of a session.
type Deps struct {
	Directions catalog.Source
	Quotes     quote.Fetcher
	Fields     *fields.Collector
	Orders     order.Service
	Identity   IdentityProvider
}

// Options configures a session.
type Options struct {
	RequesterID   int64
	Clock         clock.Clock
	Debounce      time.Duration
	PollInterval  time.Duration
	PaymentWindow time.Duration
	Statuses      *order.StatusClassifier
	DefaultGive   string
	DefaultGet    string
	DefaultAmount string

	OnEvent        func(Event)
	OnOrderCreated func(order.Order)
	OnOrderTitle   func(order.Order)
	OnOrderStatus  func(prev, next order.Status, o order.Order)
}

// Session is the exchange flow of one requester.
type Session struct {
	id        string
	opts      Options
	cat       *catalog.Catalog
	engine    *quote.Engine
	collector *fields.Collector
	orders    *order.Controller
	identity  IdentityProvider

	mu          sync.Mutex
	started     bool
	fatal       error
	direction   catalog.Direction
	hasDir      bool
	amountInput string
	pivot       quote.Pivot
	quote       *quote.Quote
	quoteErr    error
	form        *fields.Form
	failure     *Failure
}

// New builds a session. Call Start before any other operation.
func New(deps Deps, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if strings.TrimSpace(opts.DefaultGive) == "" {
		opts.DefaultGive = DefaultGive
	}
	if strings.TrimSpace(opts.DefaultGet) == "" {
		opts.DefaultGet = DefaultGet
	}
	if strings.TrimSpace(opts.DefaultAmount) == "" {
		opts.DefaultAmount = DefaultAmount
	}
	if deps.Fields == nil {
		deps.Fields = fields.NewCollector(nil, fields.Options{})
	}

	s := &Session{
		id:          uuid.NewString(),
		opts:        opts,
		cat:         catalog.New(deps.Directions),
		collector:   deps.Fields,
		identity:    deps.Identity,
		pivot:       quote.PivotGive,
		amountInput: opts.DefaultAmount,
	}
	ctx := logger.WithSession(context.Background(), s.id)
	s.engine = quote.NewEngine(deps.Quotes, quote.Options{
		Clock:    opts.Clock,
		Debounce: opts.Debounce,
		Context:  ctx,
		OnResult: s.onQuote,
	})
	s.orders = order.NewController(deps.Orders, order.Options{
		Clock:         opts.Clock,
		PollInterval:  opts.PollInterval,
		PaymentWindow: opts.PaymentWindow,
		Classifier:    opts.Statuses,
		OnCreated:     opts.OnOrderCreated,
		OnTitle:       opts.OnOrderTitle,
		OnStatus:      opts.OnOrderStatus,
		OnChange:      func(order.Snapshot) { s.emit(EventOrder) },
	})
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// RequesterID returns the user the session belongs to.
func (s *Session) RequesterID() int64 { return s.opts.RequesterID }

// Catalog exposes the loaded directions.
func (s *Session) Catalog() *catalog.Catalog { return s.cat }

// Context returns ctx annotated with the session id.
func (s *Session) Context(ctx context.Context) context.Context {
	return logger.WithSession(ctx, s.id)
}

// Start loads the catalog, resolves the default direction and quotes the
// default amount.
func (s *Session) Start(ctx context.Context) error {
	ctx = s.Context(ctx)
	if err := s.load(ctx, "start"); err != nil {
		return err
	}
	d, err := s.cat.ResolveDefault(s.opts.DefaultGive, s.opts.DefaultGet)
	if err != nil {
		return s.setFatal(ctx, err)
	}
	logger.Info(ctx, logger.CompSession, "session.start",
		slog.Int64("user_id", s.opts.RequesterID),
		slog.String("direction_id", d.ID),
		slog.String("give", d.GiveLabel),
		slog.String("get", d.GetLabel),
	)
	s.setDirection(ctx, d)
	return nil
}

// Reload fetches the catalog again. It is the only way out of a fatal
// empty-catalog state.
func (s *Session) Reload(ctx context.Context) error {
	ctx = s.Context(ctx)
	if err := s.load(ctx, "reload"); err != nil {
		return err
	}
	s.mu.Lock()
	cur, has := s.direction, s.hasDir
	s.mu.Unlock()
	if has {
		if d, ok := s.cat.Resolve(cur.GiveLabel, cur.GetLabel); ok {
			s.setDirection(ctx, d)
			return nil
		}
	}
	d, err := s.cat.ResolveDefault(s.opts.DefaultGive, s.opts.DefaultGet)
	if err != nil {
		return s.setFatal(ctx, err)
	}
	s.setDirection(ctx, d)
	return nil
}

func (s *Session) load(ctx context.Context, op string) error {
	if _, err := s.cat.Load(ctx); err != nil {
		return s.fail(ctx, op, err)
	}
	if s.cat.Len() == 0 {
		return s.setFatal(ctx, catalog.ErrEmptyCatalog)
	}
	s.mu.Lock()
	s.started = true
	s.fatal = nil
	s.failure = nil
	s.mu.Unlock()
	s.emit(EventCatalog)
	return nil
}

// SelectGive switches the give currency, keeping the get currency when the
// new pair exists.
func (s *Session) SelectGive(ctx context.Context, giveLabel string) error {
	if err := s.editable(); err != nil {
		return err
	}
	gets := s.cat.GetOptions(giveLabel)
	if len(gets) == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, giveLabel)
	}
	s.mu.Lock()
	get := s.direction.GetLabel
	s.mu.Unlock()
	d, ok := s.cat.Resolve(giveLabel, get)
	if !ok {
		d, _ = s.cat.Resolve(giveLabel, gets[0])
	}
	s.setDirection(s.Context(ctx), d)
	return nil
}

// SelectGet switches the get currency for the current give currency.
func (s *Session) SelectGet(ctx context.Context, getLabel string) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.mu.Lock()
	give := s.direction.GiveLabel
	s.mu.Unlock()
	d, ok := s.cat.Resolve(give, getLabel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, getLabel)
	}
	s.setDirection(s.Context(ctx), d)
	return nil
}

// Swap switches to the reverse direction.
func (s *Session) Swap(ctx context.Context) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.mu.Lock()
	cur := s.direction
	s.mu.Unlock()
	d, ok := s.cat.ReverseOf(cur.GiveLabel, cur.GetLabel)
	if !ok {
		return ErrNoReverse
	}
	s.setDirection(s.Context(ctx), d)
	return nil
}

// setDirection activates d and quotes it immediately with the current give
// amount. The previous quote stays visible until a quote for d arrives.
func (s *Session) setDirection(ctx context.Context, d catalog.Direction) {
	s.mu.Lock()
	give := s.giveAmountLocked()
	s.direction, s.hasDir = d, true
	s.pivot = quote.PivotGive
	s.amountInput = give
	s.quoteErr = nil
	s.mu.Unlock()

	s.emit(EventQuote)
	s.engine.DirectionChanged(ctx, d.ID, give)
}

// giveAmountLocked returns the give-side amount the user last saw.
func (s *Session) giveAmountLocked() string {
	if s.pivot == quote.PivotGive {
		return s.amountInput
	}
	if s.quote != nil && s.quote.DirectionID == s.direction.ID {
		return s.quote.SumGive.String()
	}
	return ""
}

// EditAmount records an amount edit and schedules a debounced quote.
// Invalid input cancels any pending recalculation.
func (s *Session) EditAmount(input string, pivot quote.Pivot) error {
	if err := s.editable(); err != nil {
		return err
	}
	if !pivot.Valid() {
		return quote.ErrInvalidPivot
	}
	s.mu.Lock()
	s.amountInput = strings.TrimSpace(input)
	s.pivot = pivot
	dirID := s.direction.ID
	s.mu.Unlock()

	amount, err := quote.ParseAmount(input)
	if err != nil {
		s.engine.Cancel()
		return err
	}
	return s.engine.Schedule(dirID, amount, pivot)
}

func (s *Session) onQuote(r quote.Result) {
	if s.orders.Phase() != order.PhaseCalculating {
		return
	}
	s.mu.Lock()
	if !s.hasDir || r.Request.DirectionID != s.direction.ID {
		s.mu.Unlock()
		return
	}
	if r.Err != nil {
		s.quoteErr = r.Err
		s.failure = failureFrom("quote", r.Err)
	} else {
		q := r.Quote
		s.quote, s.quoteErr = &q, nil
		s.failure = nil
	}
	s.mu.Unlock()

	if r.Err != nil {
		s.emit(EventFailure)
		return
	}
	s.emit(EventQuote)
}

// Confirm validates the displayed quote against the direction bounds and
// moves to confirming. The quote must answer the latest amount edit.
func (s *Session) Confirm() error {
	if err := s.ready(); err != nil {
		return err
	}
	if s.engine.Busy() {
		return ErrQuotePending
	}
	s.mu.Lock()
	q, dir := s.quote, s.direction
	input, pivot, qerr := s.amountInput, s.pivot, s.quoteErr
	s.mu.Unlock()
	if q == nil || q.DirectionID != dir.ID {
		return ErrNoQuote
	}
	amount, err := quote.ParseAmount(input)
	if err != nil {
		return err
	}
	if q.Pivot != pivot || !q.Amount.Equal(amount) {
		if qerr != nil {
			return ErrNoQuote
		}
		return ErrQuotePending
	}
	if err := quote.Validate(*q, q.GiveAmount()); err != nil {
		return err
	}
	return s.orders.Confirm(order.Confirmation{
		Direction: dir,
		Quote:     *q,
		Amount:    q.Amount,
		Pivot:     q.Pivot,
	})
}

// Back returns from confirming to amount editing.
func (s *Session) Back() error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	s.form = nil
	s.mu.Unlock()
	return s.orders.Back()
}

// FieldsStep is the outcome of BeginFields.
type FieldsStep struct {
	Form *fields.Form
	// Order is set when the form needed no input and was submitted right away.
	Order *order.Order
}

// BeginFields loads the fields of the confirmed direction. When no field
// needs user input the form is submitted and the order created immediately.
func (s *Session) BeginFields(ctx context.Context) (FieldsStep, error) {
	if err := s.ready(); err != nil {
		return FieldsStep{}, err
	}
	ctx = s.Context(ctx)
	snap := s.orders.Snapshot()
	if snap.Phase != order.PhaseConfirming || snap.Confirmation == nil {
		return FieldsStep{}, fmt.Errorf("%w: fields in %s", order.ErrInvalidPhase, snap.Phase)
	}

	set, err := s.collector.Load(ctx, snap.Confirmation.Direction.ID)
	if err != nil {
		return FieldsStep{}, s.fail(ctx, "fields", err)
	}
	var id fields.Identity
	if s.identity != nil {
		if id, err = s.identity.CurrentIdentity(ctx); err != nil {
			logger.Warn(ctx, logger.CompSession, "session.identity",
				slog.String("status", "fail"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
			id = fields.Identity{}
		}
	}
	form := s.collector.NewForm(set, id)
	s.mu.Lock()
	s.form = form
	s.mu.Unlock()

	if !form.AutoSkip() {
		return FieldsStep{Form: form}, nil
	}
	logger.Debug(ctx, logger.CompSession, "session.fields_autoskip",
		slog.String("direction_id", snap.Confirmation.Direction.ID))
	o, err := s.SubmitFields(ctx, nil)
	if err != nil {
		return FieldsStep{Form: form}, err
	}
	return FieldsStep{Form: form, Order: &o}, nil
}

// Form returns the active fields form, if any.
func (s *Session) Form() *fields.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

// SubmitFields validates values and creates the order. Validation errors are
// returned as fields.ValidationErrors and nothing is created.
func (s *Session) SubmitFields(ctx context.Context, values map[string]string) (order.Order, error) {
	if err := s.ready(); err != nil {
		return order.Order{}, err
	}
	ctx = s.Context(ctx)
	s.mu.Lock()
	form := s.form
	s.mu.Unlock()
	if form == nil {
		return order.Order{}, ErrNoForm
	}

	sub, err := form.Submit(values)
	if err != nil {
		return order.Order{}, err
	}
	s.collector.Persist(ctx, s.opts.RequesterID, sub.Profile)

	o, err := s.orders.CreateOrder(ctx, sub.Values, s.opts.RequesterID)
	switch {
	case err == nil:
		s.mu.Lock()
		s.form = nil
		s.failure = nil
		s.mu.Unlock()
		return o, nil
	case errors.Is(err, order.ErrOrderCreationFailed):
		return order.Order{}, s.fail(ctx, "create_order", err)
	default:
		return order.Order{}, err
	}
}

// Pay confirms payment of the tracked order via the API.
func (s *Session) Pay(ctx context.Context) (order.Order, error) {
	if err := s.ready(); err != nil {
		return order.Order{}, err
	}
	return s.orders.Pay(s.Context(ctx))
}

// CancelOrder cancels the tracked order via the API.
func (s *Session) CancelOrder(ctx context.Context) (order.Order, error) {
	if err := s.ready(); err != nil {
		return order.Order{}, err
	}
	return s.orders.CancelOrder(s.Context(ctx))
}

// CancelTracking stops polling and the countdown, e.g. when the user leaves.
func (s *Session) CancelTracking() { s.orders.CancelTracking() }

// Restart drops the order and quote and starts a fresh calculation on the
// current direction.
func (s *Session) Restart(ctx context.Context) {
	ctx = s.Context(ctx)
	s.engine.Reset()
	s.orders.Restart()

	s.mu.Lock()
	s.form = nil
	s.failure = nil
	s.quote, s.quoteErr = nil, nil
	s.pivot = quote.PivotGive
	s.amountInput = s.opts.DefaultAmount
	d, has := s.direction, s.hasDir
	ok := s.started && s.fatal == nil
	s.mu.Unlock()

	logger.Info(ctx, logger.CompSession, "session.restart", slog.Int64("user_id", s.opts.RequesterID))
	if ok && has {
		s.setDirection(ctx, d)
	}
}

// Close stops every background task of the session.
func (s *Session) Close() {
	s.engine.Cancel()
	s.orders.CancelTracking()
}

// Wait blocks until the tracking tasks of the latest order exited.
func (s *Session) Wait() { s.orders.Wait() }

// LastFailure returns the most recent recoverable failure.
func (s *Session) LastFailure() *Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// View returns a copy of the session state.
func (s *Session) View() View {
	orderSnap := s.orders.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		SessionID:    s.id,
		Direction:    s.direction,
		HasDirection: s.hasDir,
		AmountInput:  s.amountInput,
		Pivot:        s.pivot,
		QuoteErr:     s.quoteErr,
		Order:        orderSnap,
		Failure:      s.failure,
		Fatal:        s.fatal,
	}
	if s.quote != nil {
		q := *s.quote
		v.Quote = &q
	}
	return v
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return s.fatal
	}
	if !s.started || !s.hasDir {
		return ErrNotStarted
	}
	return nil
}

// editable reports whether amounts and currencies may still change.
func (s *Session) editable() error {
	if err := s.ready(); err != nil {
		return err
	}
	if p := s.orders.Phase(); p != order.PhaseCalculating {
		return fmt.Errorf("%w: edit in %s", order.ErrInvalidPhase, p)
	}
	return nil
}

func (s *Session) fail(ctx context.Context, op string, err error) error {
	f := failureFrom(op, err)
	s.mu.Lock()
	s.failure = f
	s.mu.Unlock()
	logger.Warn(ctx, logger.CompSession, "session.failure",
		slog.String("op", op),
		slog.String("code", f.Code()),
		slog.String("err", logger.SanitizeLimit(f.Reason, 256)),
	)
	s.emit(EventFailure)
	return f
}

func (s *Session) setFatal(ctx context.Context, err error) error {
	s.engine.Cancel()
	s.mu.Lock()
	s.fatal = err
	s.hasDir = false
	s.mu.Unlock()
	logger.Error(ctx, logger.CompSession, "session.fatal",
		slog.String("err", err.Error()),
	)
	s.emit(EventFailure)
	return err
}

func (s *Session) emit(kind EventKind) {
	if s.opts.OnEvent == nil {
		return
	}
	s.opts.OnEvent(Event{Kind: kind, View: s.View()})
}
