// Package notify sends order notifications to Telegram users.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/core/sender"
	"github.com/m3rciful/swapbot/core/telegram/format"
	"github.com/m3rciful/swapbot/exchange/order"
)

// DefaultSupport is shown in failure messages when no contact is configured.
const DefaultSupport = "@sapsanpay"

// API is the subset of *tele.Bot used for sending.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier renders and sends order notifications.
type Notifier struct {
	api     API
	disp    *sender.Dispatcher
	support string
}

// New builds a Notifier. disp may be nil to send synchronously.
func New(api API, disp *sender.Dispatcher, support string) *Notifier {
	support = strings.TrimSpace(support)
	if support == "" {
		support = DefaultSupport
	}
	return &Notifier{api: api, disp: disp, support: support}
}

// OrderCreated announces a new order.
func (n *Notifier) OrderCreated(ctx context.Context, userID int64, o order.Order) error {
	return n.send(ctx, userID, "notify.created", CreatedText(o))
}

// StatusChanged announces settled and failed transitions. Other transitions
// are not announced.
func (n *Notifier) StatusChanged(ctx context.Context, userID int64, prev, next order.Status, o order.Order) error {
	if prev == next {
		return nil
	}
	switch next {
	case order.StatusSettled:
		return n.send(ctx, userID, "notify.paid", PaidText(o))
	case order.StatusFailed:
		return n.send(ctx, userID, "notify.failed", FailedText(o, n.support))
	default:
		return nil
	}
}

func (n *Notifier) send(ctx context.Context, userID int64, action, text string) error {
	if n == nil || n.api == nil {
		return nil
	}
	run := func() error {
		_, err := n.api.Send(tele.ChatID(userID), text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		return err
	}
	logger.Debug(ctx, logger.CompNotify, action, slog.Int64("user_id", userID))
	if n.disp == nil {
		return run()
	}
	err := n.disp.Enqueue(ctx, action, "sendMessage", run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, logger.CompNotify, "queue.fallback",
			slog.String("action", action),
			slog.String("err", err.Error()),
		)
		return run()
	}
	return err
}

// CreatedText renders the order-created message.
func CreatedText(o order.Order) string {
	return format.Lines(
		"✅ "+format.Bold("Заявка создана!")+"\n",
		"🆔 ID: "+format.Code(o.ID),
		"🔑 Hash: "+format.Code(o.Hash),
		"📊 Статус: "+format.Escape(statusTitle(o)),
		fmt.Sprintf("💰 Отдаете: %s %s", o.AmountGive.String(), format.Escape(o.CurrencyGive)),
		fmt.Sprintf("💵 Получаете: %s %s", o.AmountGet.String(), format.Escape(o.CurrencyGet)),
		linkLine(o.URL),
	)
}

// PaidText renders the payment-received message.
func PaidText(o order.Order) string {
	return format.Lines(
		"💳 "+format.Bold("Оплата получена!")+"\n",
		"🆔 ID: "+format.Code(o.ID),
		"📊 Статус: "+format.Escape(statusTitle(o)),
		fmt.Sprintf("💰 %s %s → %s %s",
			o.AmountGive.String(), format.Escape(o.CurrencyGive),
			o.AmountGet.String(), format.Escape(o.CurrencyGet)),
	)
}

// FailedText renders the failure message with the support contact.
func FailedText(o order.Order, support string) string {
	return format.Lines(
		"❌ "+format.Bold("Ошибка обмена")+"\n",
		"🆔 ID: "+format.Code(o.ID),
		"📊 Статус: "+format.Escape(statusTitle(o))+"\n",
		"Приносим извинения за неудобства. Обратитесь в поддержку: "+format.Escape(support),
	)
}

func linkLine(url string) string {
	if strings.TrimSpace(url) == "" {
		return ""
	}
	return "🔗 " + format.Link("Ссылка на заявку", url)
}

func statusTitle(o order.Order) string {
	if o.StatusTitle != "" {
		return o.StatusTitle
	}
	return o.StatusCode
}
