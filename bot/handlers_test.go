package bot

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/swapbot/core/config"
	"github.com/m3rciful/swapbot/exchange/clock"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/profile"
)

func newTestHandler(t *testing.T, profiles Profiles) (*Handler, *Sessions, *fakeAPI) {
	t.Helper()
	clk := clock.NewFake(epoch)
	reg := NewSessions(testFactory(clk), time.Hour, clk)
	t.Cleanup(reg.CloseAll)
	h := NewHandler(reg, nil, profiles, "")
	api := &fakeAPI{}
	h.Bind(api, nil, nil)
	return h, reg, api
}

func TestRefreshSkipsUnchangedScreens(t *testing.T) {
	h, reg, api := newTestHandler(t, nil)
	s, err := reg.Open(context.Background(), 7, false)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	reg.SetScreen(7, tele.StoredMessage{MessageID: "3", ChatID: 7}, "old")

	h.refresh(7, s)
	h.refresh(7, s)
	if n := api.editCount(); n != 1 {
		t.Fatalf("edits = %d, want 1", n)
	}
	if got := api.edits[0].msg.(tele.StoredMessage); got.MessageID != "3" {
		t.Fatalf("edited wrong message: %+v", got)
	}

	reg.SetScreen(7, tele.StoredMessage{MessageID: "3", ChatID: 7}, "old")
	h.fsm.SetState(7, stateAmount)
	h.refresh(7, s)
	if n := api.editCount(); n != 1 {
		t.Fatalf("refresh during text input edited the prompt")
	}
	h.fsm.Clear(7)

	stale := s
	if _, err := reg.Open(context.Background(), 7, true); err != nil {
		t.Fatalf("fresh Open returned error: %v", err)
	}
	h.refresh(7, stale)
	if n := api.editCount(); n != 1 {
		t.Fatalf("replaced session redrew the screen")
	}
}

func TestOrderHooksPersistAndNotify(t *testing.T) {
	prof := &fakeProfiles{prefs: profile.Preferences{NotificationsEnabled: true}}
	h, reg, api := newTestHandler(t, prof)
	n := &fakeNotifier{}
	h.Bind(api, n, nil)
	s, _ := reg.Open(context.Background(), 7, false)

	h.orderCreated(7, s, order.Order{ID: "1", Hash: "h1"})
	h.orderTitle(7, s, order.Order{Hash: "h1", StatusTitle: "Ожидает оплаты"})
	h.orderTitle(7, s, order.Order{Hash: "h1", StatusTitle: "Оплачена"})
	h.orderStatus(7, s, order.StatusWaiting, order.StatusSettled, order.Order{Hash: "h1", StatusTitle: "Оплачена"})

	want := []recorded{
		{kind: "exchange", userID: 7, args: []string{"1", "h1"}},
		{kind: "direction", userID: 7, args: []string{"USDT TRC20", "Сбербанк RUB"}},
		{kind: "status", args: []string{"h1", "Ожидает оплаты"}},
		{kind: "status", args: []string{"h1", "Оплачена"}},
	}
	if got := prof.all(); !reflect.DeepEqual(got, want) {
		t.Fatalf("profile calls = %+v, want %+v", got, want)
	}
	if got := n.all(); !reflect.DeepEqual(got, []string{"created:h1", "settled:h1"}) {
		t.Fatalf("notifications = %v", got)
	}

	prof.mu.Lock()
	prof.prefs.NotificationsEnabled = false
	prof.mu.Unlock()
	h.orderStatus(7, s, order.StatusWaiting, order.StatusFailed, order.Order{Hash: "h1"})
	if got := n.all(); len(got) != 2 {
		t.Fatalf("muted user notified: %v", got)
	}
	h.orderTitle(7, s, order.Order{Hash: "h1", StatusCode: "cancel"})
	calls := prof.all()
	if last := calls[len(calls)-1]; last.kind != "status" || last.args[1] != "cancel" {
		t.Fatalf("status without title not recorded: %+v", last)
	}
}

func TestFieldQueue(t *testing.T) {
	visible := []fields.Field{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	if got := fieldQueue(visible, nil); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("queue = %v", got)
	}
	problems := fields.ValidationErrors{"c": fields.ErrInvalidEmail, "a": fields.ErrFieldRequired}
	if got := fieldQueue(visible, problems); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("queue with problems = %v", got)
	}
}

func TestHistoryText(t *testing.T) {
	if got := HistoryText(nil); !strings.Contains(got, "нет обменов") {
		t.Fatalf("empty history = %q", got)
	}
	text := HistoryText([]profile.Exchange{{
		CurrencyGive: "USDT",
		CurrencyGet:  "RUB<>",
		AmountGive:   decimal.NewFromInt(100),
		AmountGet:    decimal.NewFromInt(9000),
		Status:       "Новая",
		CreatedAt:    time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	}})
	if !strings.Contains(text, "04.03.2026 100 USDT → 9000 RUB&lt;&gt; · Новая") {
		t.Fatalf("unexpected history:\n%s", text)
	}
}

func TestAppRegistersHandlers(t *testing.T) {
	cfg := &coreconfig.Config{}
	prof := &fakeProfiles{prefs: profile.Preferences{DefaultGive: "Сбербанк", DefaultGet: "USDT"}}
	app := NewApp(cfg, Deps{Exchange: fakeExchange{}, Profiles: prof, Clock: clock.NewFake(epoch)})
	t.Cleanup(app.Sessions().CloseAll)

	opts, err := app.TelegramRunOptions()
	if err != nil {
		t.Fatalf("TelegramRunOptions returned error: %v", err)
	}
	if got := len(opts.Registry.ListCallbacks()); got != 17 {
		t.Fatalf("callbacks = %d, want 17", got)
	}
	if _, _, ok := opts.Registry.LookupCommand("📜 История"); !ok {
		t.Fatalf("history alias not registered")
	}

	s, err := app.Sessions().Open(context.Background(), 9, false)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if id := s.View().Direction.ID; id != "2" {
		t.Fatalf("saved default direction ignored, got %q", id)
	}
}
