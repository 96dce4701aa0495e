package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
	"github.com/m3rciful/swapbot/exchange/session"
)

func buttons(m *tele.ReplyMarkup) map[string]tele.InlineButton {
	out := map[string]tele.InlineButton{}
	if m == nil {
		return out
	}
	for _, row := range m.InlineKeyboard {
		for _, b := range row {
			key := b.Unique
			if key == "" {
				key = b.URL
			}
			out[key] = b
		}
	}
	return out
}

func calcView() session.View {
	return session.View{
		Direction:    testDirections[0],
		HasDirection: true,
		AmountInput:  "100",
		Pivot:        quote.PivotGive,
		Order:        order.Snapshot{Phase: order.PhaseCalculating},
	}
}

func TestRenderCalcContinueNeedsQuote(t *testing.T) {
	v := calcView()
	sc := Render(v)
	if _, ok := buttons(sc.Markup)[cbConfirm]; ok {
		t.Fatalf("continue shown without quote")
	}
	if !strings.Contains(sc.Text, "Считаем курс") {
		t.Fatalf("expected pending text:\n%s", sc.Text)
	}

	v.Quote = &quote.Quote{
		DirectionID:  "1",
		SumGive:      decimal.NewFromInt(100),
		SumGet:       decimal.NewFromInt(9000),
		GiveCurrency: "USDT",
		GetCurrency:  "RUB",
		Reserve:      quote.ParseLimit("500000"),
		MinGive:      quote.ParseLimit("10"),
		MaxGive:      quote.ParseLimit("no"),
	}
	sc = Render(v)
	bs := buttons(sc.Markup)
	if _, ok := bs[cbConfirm]; !ok {
		t.Fatalf("continue missing with quote")
	}
	for _, want := range []string{"<b>9000</b> RUB", "Резерв: 500000 RUB", "Лимиты: 10 – ∞ USDT"} {
		if !strings.Contains(sc.Text, want) {
			t.Fatalf("missing %q in:\n%s", want, sc.Text)
		}
	}

	v.Quote.DirectionID = "2"
	sc = Render(v)
	if _, ok := buttons(sc.Markup)[cbConfirm]; ok {
		t.Fatalf("quote of another direction must not allow continue")
	}
	for _, want := range []string{"Расчет для предыдущего направления", "<b>9000</b> RUB", "Введите сумму"} {
		if !strings.Contains(sc.Text, want) {
			t.Fatalf("stale quote: missing %q in:\n%s", want, sc.Text)
		}
	}
}

func TestRenderQuoteBoundError(t *testing.T) {
	v := calcView()
	v.QuoteErr = &quote.BoundError{Err: quote.ErrAmountBelowMin, Bound: decimal.NewFromInt(50)}
	sc := Render(v)
	if !strings.Contains(sc.Text, "Сумма меньше минимальной: 50") {
		t.Fatalf("unexpected text:\n%s", sc.Text)
	}
	if strings.Contains(sc.Text, "Считаем курс") {
		t.Fatalf("pending text shown next to an error")
	}
}

func TestRenderFatalOffersReload(t *testing.T) {
	sc := Render(session.View{Fatal: catalog.ErrEmptyCatalog})
	if _, ok := buttons(sc.Markup)[cbReload]; !ok {
		t.Fatalf("reload button missing")
	}
	sc = Render(session.View{Failure: &session.Failure{Op: "start", Reason: "timeout"}})
	if !strings.Contains(sc.Text, "timeout") {
		t.Fatalf("failure reason missing:\n%s", sc.Text)
	}
}

func TestRenderOrderActions(t *testing.T) {
	o := &order.Order{
		ID:           "42",
		URL:          "https://sapsanex.cc/bid/h",
		StatusTitle:  "Ожидает оплаты",
		PaymentURL:   "https://pay.example/h",
		CanPayViaAPI: true,
		CanCancel:    true,
		AmountGive:   decimal.NewFromInt(100),
		AmountGet:    decimal.NewFromInt(9000),
	}
	v := calcView()
	v.Order = order.Snapshot{
		Phase:     order.PhaseTracking,
		Order:     o,
		Status:    order.StatusWaiting,
		Remaining: 14*time.Minute + 30*time.Second,
		Tracking:  true,
	}
	sc := Render(v)
	bs := buttons(sc.Markup)
	for _, key := range []string{cbPay, cbCancelOrder, cbRestart, o.PaymentURL, o.URL} {
		if _, ok := bs[key]; !ok {
			t.Fatalf("button %q missing", key)
		}
	}
	if !strings.Contains(sc.Text, "Осталось: 15 мин") {
		t.Fatalf("remaining time missing:\n%s", sc.Text)
	}

	v.Order.Expired = true
	v.Order.Tracking = false
	sc = Render(v)
	bs = buttons(sc.Markup)
	if _, ok := bs[cbPay]; ok {
		t.Fatalf("pay offered after expiry")
	}
	if !strings.Contains(sc.Text, "Время на оплату истекло") {
		t.Fatalf("expiry notice missing:\n%s", sc.Text)
	}

	v.Order.Expired = false
	v.Order.Status = order.StatusSettled
	if _, ok := buttons(Render(v).Markup)[cbCancelOrder]; ok {
		t.Fatalf("cancel offered for a settled order")
	}
}

func TestRemainingText(t *testing.T) {
	cases := map[time.Duration]string{
		30 * time.Second:          "меньше минуты",
		time.Minute:               "1 мин",
		time.Minute + time.Second: "2 мин",
		15 * time.Minute:          "15 мин",
	}
	for d, want := range cases {
		if got := remainingText(d); got != want {
			t.Fatalf("remainingText(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestRenderPickerPayloads(t *testing.T) {
	sc := RenderPicker("Что вы отдаете?", cbGive, []string{"A", "B", "C"})
	rows := sc.Markup.InlineKeyboard
	if len(rows) != 3 || len(rows[0]) != 2 {
		t.Fatalf("unexpected layout: %+v", rows)
	}
	if rows[1][0].Data != "2" || rows[1][0].Unique != cbGive {
		t.Fatalf("unexpected button: %+v", rows[1][0])
	}
	if rows[2][0].Unique != cbMain {
		t.Fatalf("back button missing: %+v", rows[2])
	}
}

func TestRenderFieldPrompt(t *testing.T) {
	f := fields.Field{Name: "cfgive", Label: "Номер карты", Required: true}
	sc := RenderFieldPrompt(f, 0, 2, "", fields.ErrFieldRequired)
	bs := buttons(sc.Markup)
	if _, ok := bs[cbFieldSkip]; ok {
		t.Fatalf("required field must not be skippable")
	}
	if _, ok := bs[cbFieldsCancel]; !ok {
		t.Fatalf("cancel missing")
	}
	if !strings.Contains(sc.Text, "(1/2)") || !strings.Contains(sc.Text, "Поле обязательно") {
		t.Fatalf("unexpected prompt:\n%s", sc.Text)
	}

	opt := fields.Field{Name: "mail", Label: "E-mail"}
	if _, ok := buttons(RenderFieldPrompt(opt, 1, 2, "", nil).Markup)[cbFieldSkip]; !ok {
		t.Fatalf("optional field must be skippable")
	}
	if _, ok := buttons(RenderFieldPrompt(opt, 1, 2, "a@b.cd", nil).Markup)[cbFieldKeep]; !ok {
		t.Fatalf("keep missing for initialized field")
	}
}

func TestUserErrText(t *testing.T) {
	if got := userErrText(&session.Failure{Op: "quote", Reason: "боом"}); got != "боом" {
		t.Fatalf("failure reason = %q", got)
	}
	if got := userErrText(order.ErrPaymentWindowExpired); !strings.Contains(got, "истекло") {
		t.Fatalf("expired text = %q", got)
	}
	if got := userErrText(errors.New("x")); got == "" {
		t.Fatalf("empty default text")
	}
}
