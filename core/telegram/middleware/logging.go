package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/swapbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const (
	seenTTL   = 10 * time.Second
	seenPrune = 256
)

// seenUpdates remembers recently logged update ids. LoggerMiddleware wraps
// both the global chain and individual routes, so one update passes it twice.
type seenUpdates struct {
	mu  sync.Mutex
	ids map[int]time.Time
}

var receipts = &seenUpdates{ids: make(map[int]time.Time)}

// first reports whether id is seen for the first time within seenTTL.
func (s *seenUpdates) first(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) >= seenPrune {
		for k, ts := range s.ids {
			if now.Sub(ts) > seenTTL {
				delete(s.ids, k)
			}
		}
	}
	if ts, ok := s.ids[id]; ok && now.Sub(ts) <= seenTTL {
		return false
	}
	s.ids[id] = now
	return true
}

// LoggerMiddleware stores the request context (rid, update, user and chat ids)
// on the tele.Context and logs a sampled receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		var chatID, userID int64
		if chat := c.Chat(); chat != nil {
			chatID = chat.ID
		}
		if user := c.Sender(); user != nil {
			userID = user.ID
		}
		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)
		c.Set("update_start", time.Now())

		ctx := logger.WithRID(context.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.Component(logger.CompTelegram))
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug() && receipts.first(upd.ID, time.Now()) {
			logger.Debug(ctx, logger.CompTelegram, "update.received", receiptAttrs(c)...)
		}
		return next(c)
	}
}

func receiptAttrs(c tele.Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("status", "ok")}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if user := c.Sender(); user != nil {
		if user.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
		}
		if user.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", user.LanguageCode))
		}
	}
	upd := c.Update()
	switch {
	case upd.Callback != nil:
		key, payload := callbacks.ParseCallbackData(upd.Callback)
		attrs = append(attrs,
			slog.String("cb_key", logger.SanitizeLimit(key, 128)),
			slog.String("payload", logger.SanitizeLimit(payload, 256)),
		)
	case upd.Message != nil:
		attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(c.Text(), 256)))
	}
	return attrs
}
