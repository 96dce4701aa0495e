package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/clock"
	"github.com/m3rciful/swapbot/exchange/quote"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type stubService struct {
	mu        sync.Mutex
	created   Order
	createErr error
	gate      chan struct{}
	entered   chan struct{}
	creates   int
	polls     int
	poll      func(n int) Order
	cancelled Order
}

func (s *stubService) CreateOrder(ctx context.Context, _ CreateRequest) (Order, error) {
	s.mu.Lock()
	s.creates++
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return s.created, s.createErr
}

func (s *stubService) FetchOrderStatus(_ context.Context, _ string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.poll != nil {
		return s.poll(s.polls), nil
	}
	return s.created, nil
}

func (s *stubService) PayOrder(context.Context, string) (Order, error) {
	return Order{}, errors.New("not used")
}

func (s *stubService) CancelOrder(context.Context, string) (Order, error) {
	return s.cancelled, nil
}

func (s *stubService) counts() (creates, polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.polls
}

func waitingOrder() Order {
	return Order{
		ID:          "101",
		Hash:        "abc",
		StatusCode:  "new",
		StatusTitle: "Ожидает оплаты",
		AmountGive:  decimal.NewFromInt(100),
		AmountGet:   decimal.NewFromInt(9237),
	}
}

func confirmation() Confirmation {
	return Confirmation{
		Direction: catalog.Direction{ID: "7", GiveLabel: "USDT", GetLabel: "RUB"},
		Amount:    decimal.NewFromInt(100),
		Pivot:     quote.PivotGive,
	}
}

func confirmed(t *testing.T, svc Service, opts Options) *Controller {
	t.Helper()
	c := NewController(svc, opts)
	if err := c.Confirm(confirmation()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	t.Cleanup(c.Restart)
	return c
}

func TestCountdownExpiresAndStops(t *testing.T) {
	clk := clock.NewFake(epoch)
	svc := &stubService{created: waitingOrder()}
	var changes atomic.Int64
	expired := make(chan struct{}, 1)
	c := confirmed(t, svc, Options{Clock: clk, OnChange: func(s Snapshot) {
		changes.Add(1)
		if s.Expired {
			select {
			case expired <- struct{}{}:
			default:
			}
		}
	}})

	if _, err := c.CreateOrder(context.Background(), nil, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := c.Snapshot()
	if snap.Phase != PhaseTracking || snap.Status != StatusWaiting || !snap.Tracking {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Remaining != 1800*time.Second {
		t.Fatalf("remaining = %v", snap.Remaining)
	}
	if n := clk.ActiveTickers(); n != 2 {
		t.Fatalf("tickers = %d, want poll and countdown", n)
	}

	clk.Advance(1799 * time.Second)
	if c.Snapshot().Expired {
		t.Fatal("expired early")
	}
	clk.Advance(time.Second)
	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not expire")
	}

	// tick 1801 must not mutate anything
	clk.Advance(time.Second)
	before := changes.Load()
	clk.Advance(time.Second)
	if after := changes.Load(); after != before {
		t.Fatalf("state changed after expiry: %d -> %d", before, after)
	}
	snap = c.Snapshot()
	if !snap.Expired || snap.Remaining != 0 || !snap.Tracking {
		t.Fatalf("snapshot after expiry = %+v", snap)
	}
	if n := clk.ActiveTickers(); n != 1 {
		t.Fatalf("tickers = %d, want polling only", n)
	}
	if _, polls := svc.counts(); polls < 179 {
		t.Fatalf("polls = %d, want ~180", polls)
	}
	if _, err := c.Pay(context.Background()); !errors.Is(err, ErrPaymentWindowExpired) {
		t.Fatalf("pay after expiry err = %v", err)
	}
}

func TestCancelTrackingFreezesState(t *testing.T) {
	clk := clock.NewFake(epoch)
	svc := &stubService{created: waitingOrder()}
	c := confirmed(t, svc, Options{Clock: clk})
	if _, err := c.CreateOrder(context.Background(), nil, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	clk.Advance(25 * time.Second)
	c.CancelTracking()

	frozen := c.Snapshot()
	_, polls := svc.counts()
	if frozen.Tracking {
		t.Fatal("still tracking after cancel")
	}
	if n := clk.ActiveTickers(); n != 0 {
		t.Fatalf("tickers left: %d", n)
	}

	clk.Advance(10 * time.Minute)
	now := c.Snapshot()
	if now.Remaining != frozen.Remaining || now.Expired != frozen.Expired || now.Status != frozen.Status {
		t.Fatalf("state mutated after cancel: %+v -> %+v", frozen, now)
	}
	if _, p := svc.counts(); p != polls {
		t.Fatalf("polled after cancel: %d -> %d", polls, p)
	}
}

func TestCreateOrderSingleFlight(t *testing.T) {
	clk := clock.NewFake(epoch)
	svc := &stubService{created: waitingOrder(), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := confirmed(t, svc, Options{Clock: clk})

	first := make(chan error, 1)
	go func() {
		_, err := c.CreateOrder(context.Background(), nil, 1)
		first <- err
	}()
	<-svc.entered

	if _, err := c.CreateOrder(context.Background(), nil, 1); !errors.Is(err, ErrCreateInFlight) {
		t.Fatalf("second create err = %v, want ErrCreateInFlight", err)
	}
	close(svc.gate)
	if err := <-first; err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := c.CreateOrder(context.Background(), nil, 1); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("create while tracking err = %v", err)
	}
	if creates, _ := svc.counts(); creates != 1 {
		t.Fatalf("orders created = %d, want 1", creates)
	}
}

func TestRestartDiscardsInFlightCreate(t *testing.T) {
	clk := clock.NewFake(epoch)
	svc := &stubService{created: waitingOrder(), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := confirmed(t, svc, Options{Clock: clk})

	res := make(chan error, 1)
	go func() {
		_, err := c.CreateOrder(context.Background(), nil, 1)
		res <- err
	}()
	<-svc.entered
	c.Restart()
	close(svc.gate)

	if err := <-res; !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if p := c.Phase(); p != PhaseCalculating {
		t.Fatalf("phase = %s", p)
	}
	if n := clk.ActiveTickers(); n != 0 {
		t.Fatalf("tracking started for a discarded order: %d tickers", n)
	}
}

func TestCreateFailureReturnsToConfirming(t *testing.T) {
	svc := &stubService{createErr: errors.New("direction disabled")}
	c := confirmed(t, svc, Options{Clock: clock.NewFake(epoch)})
	if _, err := c.CreateOrder(context.Background(), nil, 1); !errors.Is(err, ErrOrderCreationFailed) {
		t.Fatalf("err = %v", err)
	}
	snap := c.Snapshot()
	if snap.Phase != PhaseConfirming || snap.Confirmation == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPollTransitionStopsTracking(t *testing.T) {
	clk := clock.NewFake(epoch)
	svc := &stubService{created: waitingOrder()}
	svc.poll = func(n int) Order {
		o := waitingOrder()
		if n >= 2 {
			o.StatusCode, o.StatusTitle = "success", "Выполнена"
		}
		return o
	}
	var mu sync.Mutex
	var transitions [][2]Status
	c := confirmed(t, svc, Options{Clock: clk, OnStatus: func(prev, next Status, _ Order) {
		mu.Lock()
		transitions = append(transitions, [2]Status{prev, next})
		mu.Unlock()
	}})
	if _, err := c.CreateOrder(context.Background(), nil, 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	clk.Advance(20 * time.Second)
	c.Wait()

	snap := c.Snapshot()
	if snap.Status != StatusSettled || snap.Tracking || snap.Order.StatusTitle != "Выполнена" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if n := clk.ActiveTickers(); n != 0 {
		t.Fatalf("tickers left: %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != [2]Status{StatusWaiting, StatusSettled} {
		t.Fatalf("transitions = %v", transitions)
	}
}

func TestPayAndCancelCapabilities(t *testing.T) {
	clk := clock.NewFake(epoch)
	o := waitingOrder()
	o.CanCancel = true
	cancelled := o
	cancelled.StatusCode, cancelled.StatusTitle = "cancel", "Отменена"
	svc := &stubService{created: o, cancelled: cancelled}
	c := confirmed(t, svc, Options{Clock: clk})
	if _, err := c.CreateOrder(context.Background(), nil, 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := c.Pay(context.Background()); !errors.Is(err, ErrPayUnavailable) {
		t.Fatalf("pay err = %v, want ErrPayUnavailable", err)
	}
	got, err := c.CancelOrder(context.Background())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.StatusTitle != "Отменена" {
		t.Fatalf("order = %+v", got)
	}
	c.Wait()
	if snap := c.Snapshot(); snap.Status != StatusFailed || snap.Tracking {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := c.CancelOrder(context.Background()); !errors.Is(err, ErrCancelUnavailable) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestUnknownStatusIsTrackedAndFlagged(t *testing.T) {
	clk := clock.NewFake(epoch)
	o := waitingOrder()
	o.StatusTitle = "Statut inconnu"
	c := confirmed(t, &stubService{created: o}, Options{Clock: clk})
	if _, err := c.CreateOrder(context.Background(), nil, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := c.Snapshot()
	if snap.Status != StatusUnknown || !snap.Unrecognized || !snap.Tracking {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestConfirmAndBackArePureTransitions(t *testing.T) {
	c := NewController(&stubService{}, Options{Clock: clock.NewFake(epoch)})
	if err := c.Back(); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("back from calculating err = %v", err)
	}
	if err := c.Confirm(confirmation()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := c.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if snap := c.Snapshot(); snap.Phase != PhaseCalculating || snap.Confirmation != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestTitleChangeWithinWaitingIsReported(t *testing.T) {
	clk := clock.NewFake(epoch)
	created := waitingOrder()
	created.StatusTitle = "Новая"
	svc := &stubService{created: created}
	svc.poll = func(int) Order {
		o := waitingOrder()
		o.StatusCode = "waiting"
		return o
	}
	titles := make(chan string, 4)
	var classChanges atomic.Int64
	c := confirmed(t, svc, Options{
		Clock:    clk,
		OnTitle:  func(o Order) { titles <- o.StatusTitle },
		OnStatus: func(Status, Status, Order) { classChanges.Add(1) },
	})
	if _, err := c.CreateOrder(context.Background(), nil, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if s := c.Snapshot().Status; s != StatusWaiting {
		t.Fatalf("status = %s, want waiting", s)
	}

	clk.Advance(DefaultPollInterval)
	select {
	case title := <-titles:
		if title != "Ожидает оплаты" {
			t.Fatalf("title = %q", title)
		}
	case <-time.After(time.Second):
		t.Fatal("title change not reported")
	}
	c.CancelTracking()

	if n := classChanges.Load(); n != 0 {
		t.Fatalf("status class hooks = %d, want 0", n)
	}
	if snap := c.Snapshot(); snap.Status != StatusWaiting || snap.Order.StatusTitle != "Ожидает оплаты" {
		t.Fatalf("snapshot = %+v", snap)
	}
}
