package router

import (
	"log/slog"

	tg "github.com/m3rciful/swapbot/core/telegram"
	"github.com/m3rciful/swapbot/core/telegram/callbacks"
	"github.com/m3rciful/swapbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
// The registry fallback takes precedence over NotFound.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute routes every callback through the registry and answers it
// once the handler returns.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		key, _ := callbacks.ParseCallbackData(c.Callback())
		attrs := []slog.Attr{slog.String("cb_key", key)}

		fn, ok := reg.GetCallback(key)
		if !ok || fn == nil {
			fn = reg.CallbackNotFound()
			if fn == nil {
				fn = opts.NotFound
			}
			attrs = append(attrs, slog.String("reason", "not_found"))
		}
		s := newSummary("callback."+handlerName(key), attrs...)
		if fn == nil {
			s.skip(c)
			return c.Respond()
		}
		return s.run(c, func() error {
			err := fn(c)
			// An alert sent by the handler already answered; Telegram ignores the second answer.
			_ = c.Respond()
			return err
		})
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
