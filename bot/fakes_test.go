package bot

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/clock"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
	"github.com/m3rciful/swapbot/exchange/session"
	"github.com/m3rciful/swapbot/profile"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var testDirections = []catalog.Direction{
	{ID: "1", GiveID: "10", GiveLabel: "USDT TRC20", GetID: "20", GetLabel: "Сбербанк RUB"},
	{ID: "2", GiveID: "20", GiveLabel: "Сбербанк RUB", GetID: "10", GetLabel: "USDT TRC20"},
}

type fakeExchange struct{}

func (fakeExchange) FetchDirections(context.Context) ([]catalog.Direction, error) {
	return testDirections, nil
}

func (fakeExchange) FetchQuote(_ context.Context, req quote.Request) (quote.Quote, error) {
	return quote.Quote{
		DirectionID: req.DirectionID,
		SumGive:     req.Amount,
		SumGet:      req.Amount.Mul(decimal.NewFromInt(90)),
		Reserve:     quote.ParseLimit("no"),
		MinGive:     quote.ParseLimit("no"),
		MaxGive:     quote.ParseLimit("no"),
	}, nil
}

func (fakeExchange) FetchDirectionFields(context.Context, string) (fields.Set, error) {
	return fields.Set{}, nil
}

func (fakeExchange) CreateOrder(context.Context, order.CreateRequest) (order.Order, error) {
	return order.Order{ID: "1", Hash: "h1", StatusTitle: "Ожидает оплаты"}, nil
}

func (fakeExchange) FetchOrderStatus(context.Context, string) (order.Order, error) {
	return order.Order{ID: "1", Hash: "h1", StatusTitle: "Ожидает оплаты"}, nil
}

func (fakeExchange) PayOrder(context.Context, string) (order.Order, error) {
	return order.Order{}, errors.New("unsupported")
}

func (fakeExchange) CancelOrder(context.Context, string) (order.Order, error) {
	return order.Order{}, errors.New("unsupported")
}

func testFactory(clk clock.Clock) SessionFactory {
	ex := fakeExchange{}
	return func(_ context.Context, uid int64) *session.Session {
		return session.New(session.Deps{
			Directions: ex,
			Quotes:     ex,
			Fields:     fields.NewCollector(ex, fields.Options{}),
			Orders:     ex,
		}, session.Options{RequesterID: uid, Clock: clk})
	}
}

type edit struct {
	msg  tele.Editable
	text string
}

type fakeAPI struct {
	mu    sync.Mutex
	next  int
	sent  []string
	edits []edit
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.sent = append(f.sent, what.(string))
	chatID, _ := strconv.ParseInt(to.Recipient(), 10, 64)
	return &tele.Message{ID: f.next, Chat: &tele.Chat{ID: chatID}}, nil
}

func (f *fakeAPI) Edit(msg tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit{msg: msg, text: what.(string)})
	return &tele.Message{}, nil
}

func (f *fakeAPI) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

type recorded struct {
	kind   string
	userID int64
	args   []string
}

type fakeProfiles struct {
	mu      sync.Mutex
	prefs   profile.Preferences
	calls   []recorded
	history []profile.Exchange
}

func (p *fakeProfiles) record(kind string, userID int64, args ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, recorded{kind: kind, userID: userID, args: args})
}

func (p *fakeProfiles) all() []recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recorded(nil), p.calls...)
}

func (p *fakeProfiles) Touch(_ context.Context, u profile.User) error {
	p.record("touch", u.TelegramID, u.Username)
	return nil
}

func (p *fakeProfiles) Preferences(context.Context, int64) (profile.Preferences, error) {
	return p.prefs, nil
}

func (p *fakeProfiles) Identity(context.Context, int64) (fields.Identity, error) {
	return fields.Identity{Handle: "ivan"}, nil
}

func (p *fakeProfiles) RecordExchange(_ context.Context, id int64, directionID string, o order.Order) error {
	p.record("exchange", id, directionID, o.Hash)
	return nil
}

func (p *fakeProfiles) UpdateExchangeStatus(_ context.Context, hash, status string) error {
	p.record("status", 0, hash, status)
	return nil
}

func (p *fakeProfiles) SaveDefaultDirection(_ context.Context, id int64, give, get string) error {
	p.record("direction", id, give, get)
	return nil
}

func (p *fakeProfiles) History(context.Context, int64, int) ([]profile.Exchange, error) {
	return p.history, nil
}

func (p *fakeProfiles) SaveIdentityProfile(context.Context, int64, fields.ProfileUpdate) error {
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) OrderCreated(_ context.Context, _ int64, o order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "created:"+o.Hash)
	return nil
}

func (n *fakeNotifier) StatusChanged(_ context.Context, _ int64, _, next order.Status, o order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, next.String()+":"+o.Hash)
	return nil
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}
