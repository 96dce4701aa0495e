package router

import (
	tg "github.com/m3rciful/swapbot/core/telegram"
	"github.com/m3rciful/swapbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM is the part of state.Manager the text route needs.
type FSM interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions controls fallback behaviour for text updates.
type TextOptions struct {
	UnknownText tele.HandlerFunc
}

// TextRoutes builds the text handler: an active FSM step wins, then command
// lookup (including aliases), then the registry fallback.
func TextRoutes(fsm FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		if fsm != nil && c.Sender() != nil && fsm.InProgress(c.Sender().ID) {
			return newSummary("fsm").run(c, func() error { return fsm.ManagerHandler(c) })
		}
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil {
				return newSummary(handlerName(key)).run(c, func() error { return cmd.Handler(c) })
			}
			if fb := reg.TextFallback(); fb != nil {
				return newSummary("fallback").run(c, func() error { return fb(c) })
			}
		}
		s := newSummary("unknown_text")
		if opts.UnknownText == nil {
			s.skip(c)
			return nil
		}
		return s.run(c, func() error { return opts.UnknownText(c) })
	}

	return []tg.Route{{
		Endpoint: tele.OnText,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}}
}
