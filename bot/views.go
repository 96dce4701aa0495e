package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/swapbot/core/telegram/format"
	"github.com/m3rciful/swapbot/core/telegram/keyboard"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
	"github.com/m3rciful/swapbot/exchange/session"
)

// Callback keys.
const (
	cbPickGive     = "pick_give"
	cbPickGet      = "pick_get"
	cbGive         = "give"
	cbGet          = "get"
	cbSwap         = "swap"
	cbAmount       = "amount"
	cbConfirm      = "confirm"
	cbBack         = "back"
	cbMain         = "main"
	cbCreate       = "create"
	cbFieldKeep    = "field_keep"
	cbFieldSkip    = "field_skip"
	cbFieldsCancel = "fields_cancel"
	cbPay          = "pay"
	cbCancelOrder  = "cancel_order"
	cbRestart      = "restart"
	cbReload       = "reload"
)

// Screen is a rendered chat message.
type Screen struct {
	Text   string
	Markup *tele.ReplyMarkup
}

// Render draws the session view for its current phase.
func Render(v session.View) Screen {
	switch {
	case v.Fatal != nil:
		return Screen{
			Text: format.Lines(
				"⚠️ "+format.Bold("Направления обмена недоступны"),
				"Попробуйте обновить список чуть позже.",
			),
			Markup: keyboard.InlineButtonsRows([]keyboard.InlineBtn{{Text: "🔄 Обновить", Unique: cbReload}}),
		}
	case !v.HasDirection:
		lines := []string{"⚠️ " + format.Bold("Не удалось загрузить направления")}
		if v.Failure != nil {
			lines = append(lines, format.Escape(v.Failure.Reason))
		}
		return Screen{
			Text:   format.Lines(lines...),
			Markup: keyboard.InlineButtonsRows([]keyboard.InlineBtn{{Text: "🔄 Повторить", Unique: cbReload}}),
		}
	}

	switch v.Order.Phase {
	case order.PhaseConfirming:
		return renderConfirm(v)
	case order.PhaseCreating:
		return Screen{Text: "⏳ Создаем заявку..."}
	case order.PhaseTracking:
		return renderOrder(v.Order)
	default:
		return renderCalc(v)
	}
}

func renderCalc(v session.View) Screen {
	d := v.Direction
	lines := []string{
		"💱 " + format.Bold("Обмен") + "\n",
		"Отдаете: " + format.Bold(d.GiveLabel),
		"Получаете: " + format.Bold(d.GetLabel) + "\n",
	}
	switch q := v.Quote; {
	case q != nil && q.DirectionID == d.ID:
		lines = append(lines, quoteLines(*q)...)
	case q != nil:
		lines = append(lines, "🕓 Расчет для предыдущего направления:")
		lines = append(lines, quoteLines(*q)...)
		if v.QuoteErr == nil {
			lines = append(lines, "✏️ Введите сумму, чтобы пересчитать курс")
		}
	case v.QuoteErr == nil:
		lines = append(lines, "⏳ Считаем курс...")
	}
	if v.QuoteErr != nil {
		lines = append(lines, "⚠️ "+format.Escape(quoteErrText(v.QuoteErr)))
	}
	if v.Failure != nil && v.Failure.Op != "quote" {
		lines = append(lines, "⚠️ "+format.Escape(v.Failure.Reason))
	}

	rows := [][]keyboard.InlineBtn{
		{
			{Text: "Отдаю: " + d.GiveLabel, Unique: cbPickGive},
			{Text: "Получаю: " + d.GetLabel, Unique: cbPickGet},
		},
		{{Text: "⇅ Поменять местами", Unique: cbSwap}},
		{
			{Text: "✏️ Сумма отдачи", Unique: cbAmount, Data: string(quote.PivotGive)},
			{Text: "✏️ Сумма получения", Unique: cbAmount, Data: string(quote.PivotGet)},
		},
	}
	if v.Quote != nil && v.Quote.DirectionID == d.ID {
		rows = append(rows, []keyboard.InlineBtn{{Text: "✅ Продолжить", Unique: cbConfirm}})
	}
	return Screen{Text: format.Lines(lines...), Markup: keyboard.InlineButtonsRows(rows...)}
}

func quoteLines(q quote.Quote) []string {
	lines := []string{
		fmt.Sprintf("Вы отдаете: %s %s", format.Bold(q.SumGive.String()), format.Escape(q.GiveCurrency)),
		fmt.Sprintf("Вы получаете: %s %s", format.Bold(q.SumGet.String()), format.Escape(q.GetCurrency)),
	}
	if !q.RateGive.IsZero() || !q.RateGet.IsZero() {
		lines = append(lines, fmt.Sprintf("Курс: %s %s = %s %s",
			q.RateGive.String(), format.Escape(q.GiveCurrency),
			q.RateGet.String(), format.Escape(q.GetCurrency)))
	}
	if !q.Reserve.Unbounded {
		lines = append(lines, "Резерв: "+q.Reserve.Value.String()+" "+format.Escape(q.GetCurrency))
	}
	if !q.MinGive.Unbounded || !q.MaxGive.Unbounded {
		lines = append(lines, fmt.Sprintf("Лимиты: %s – %s %s",
			limitText(q.MinGive), limitText(q.MaxGive), format.Escape(q.GiveCurrency)))
	}
	if q.Changed {
		lines = append(lines, "ℹ️ Сумма скорректирована обменником")
	}
	return lines
}

func limitText(l quote.Limit) string {
	if l.Unbounded {
		return "∞"
	}
	return l.Value.String()
}

func quoteErrText(err error) string {
	var be *quote.BoundError
	switch {
	case errors.As(err, &be) && errors.Is(be.Err, quote.ErrAmountBelowMin):
		return "Сумма меньше минимальной: " + be.Bound.String()
	case errors.As(err, &be):
		return "Сумма больше максимальной: " + be.Bound.String()
	default:
		return "Не удалось рассчитать курс, попробуйте еще раз"
	}
}

func renderConfirm(v session.View) Screen {
	c := v.Order.Confirmation
	if c == nil {
		return renderCalc(v)
	}
	q := c.Quote
	lines := []string{
		"📋 " + format.Bold("Проверьте заявку") + "\n",
		fmt.Sprintf("Отдаете: %s %s", format.Bold(q.SumGive.String()), format.Escape(c.Direction.GiveLabel)),
		fmt.Sprintf("Получаете: %s %s", format.Bold(q.SumGet.String()), format.Escape(c.Direction.GetLabel)),
	}
	if v.Failure != nil {
		lines = append(lines, "\n⚠️ "+format.Escape(v.Failure.Reason))
	}
	return Screen{
		Text: format.Lines(lines...),
		Markup: keyboard.InlineButtonsRows(
			[]keyboard.InlineBtn{{Text: "📝 Заполнить данные", Unique: cbCreate}},
			[]keyboard.InlineBtn{{Text: "⬅️ Назад", Unique: cbBack}},
		),
	}
}

func renderOrder(snap order.Snapshot) Screen {
	o := snap.Order
	if o == nil {
		return Screen{Text: "⏳ Создаем заявку..."}
	}
	lines := []string{
		"🧾 " + format.Bold("Заявка "+o.ID) + "\n",
		"📊 Статус: " + format.Escape(statusTitle(*o)),
		fmt.Sprintf("💰 Отдаете: %s %s", o.AmountGive.String(), format.Escape(o.CurrencyGive)),
		fmt.Sprintf("💵 Получаете: %s %s", o.AmountGet.String(), format.Escape(o.CurrencyGet)),
	}
	if o.Instruction != "" {
		lines = append(lines, "\n"+format.Escape(o.Instruction))
	}
	switch {
	case snap.Expired:
		lines = append(lines, "\n⌛ Время на оплату истекло")
	case snap.Tracking && snap.Status.Active():
		lines = append(lines, "\n⏱ Осталось: "+remainingText(snap.Remaining))
	}

	var rows [][]keyboard.InlineBtn
	active := snap.Status.Active() && !snap.Expired
	if active && o.PaymentURL != "" {
		rows = append(rows, []keyboard.InlineBtn{{Text: "💳 Перейти к оплате", URL: o.PaymentURL}})
	}
	if active && o.CanPayViaAPI {
		rows = append(rows, []keyboard.InlineBtn{{Text: "✅ Я оплатил", Unique: cbPay}})
	}
	if active && o.CanCancel {
		rows = append(rows, []keyboard.InlineBtn{{Text: "❌ Отменить заявку", Unique: cbCancelOrder}})
	}
	if o.URL != "" {
		rows = append(rows, []keyboard.InlineBtn{{Text: "🔗 Заявка на сайте", URL: o.URL}})
	}
	rows = append(rows, []keyboard.InlineBtn{{Text: "🔁 Новый обмен", Unique: cbRestart}})
	return Screen{Text: format.Lines(lines...), Markup: keyboard.InlineButtonsRows(rows...)}
}

func statusTitle(o order.Order) string {
	if o.StatusTitle != "" {
		return o.StatusTitle
	}
	return o.StatusCode
}

// remainingText rounds up to whole minutes.
func remainingText(d time.Duration) string {
	if d < time.Minute {
		return "меньше минуты"
	}
	m := int((d + time.Minute - 1) / time.Minute)
	return strconv.Itoa(m) + " мин"
}

// RenderPicker draws a currency list. Payloads are option indexes.
func RenderPicker(title, unique string, options []string) Screen {
	buttons := make([]keyboard.InlineBtn, 0, len(options))
	for i, label := range options {
		buttons = append(buttons, keyboard.InlineBtn{Text: label, Unique: unique, Data: strconv.Itoa(i)})
	}
	rows := keyboard.Chunk(buttons, 2)
	rows = append(rows, []keyboard.InlineBtn{{Text: "⬅️ Назад", Unique: cbMain}})
	return Screen{Text: format.Bold(title), Markup: keyboard.InlineButtonsRows(rows...)}
}

// RenderFieldPrompt asks for the value of one form field.
func RenderFieldPrompt(f fields.Field, index, total int, initial string, problem error) Screen {
	label := f.Label
	if f.Required {
		label += " *"
	}
	lines := []string{
		fmt.Sprintf("📝 Данные для заявки (%d/%d)\n", index+1, total),
		"Введите: " + format.Bold(label),
	}
	if initial != "" {
		lines = append(lines, "Текущее значение: "+format.Code(initial))
	}
	if problem != nil {
		lines = append(lines, "\n⚠️ "+format.Escape(fieldErrText(problem)))
	}
	var rows [][]keyboard.InlineBtn
	if initial != "" {
		rows = append(rows, []keyboard.InlineBtn{{Text: "✔️ Оставить", Unique: cbFieldKeep}})
	} else if !f.Required {
		rows = append(rows, []keyboard.InlineBtn{{Text: "⏭ Пропустить", Unique: cbFieldSkip}})
	}
	rows = append(rows, []keyboard.InlineBtn{keyboard.CancelButton(cbFieldsCancel, "", "❌ Отмена")})
	return Screen{Text: format.Lines(lines...), Markup: keyboard.InlineButtonsRows(rows...)}
}

func fieldErrText(err error) string {
	switch {
	case errors.Is(err, fields.ErrFieldRequired):
		return "Поле обязательно для заполнения"
	case errors.Is(err, fields.ErrInvalidPhone):
		return "Неверный формат телефона"
	case errors.Is(err, fields.ErrInvalidEmail):
		return "Неверный формат e-mail"
	default:
		return strings.TrimSpace(err.Error())
	}
}
