package router

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/swapbot/core/logger"
	tghelpers "github.com/m3rciful/swapbot/core/telegram/helpers"
	"github.com/m3rciful/swapbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// summary logs one handler.handled line per routed update.
type summary struct {
	name  string
	start time.Time
	attrs []slog.Attr
}

func newSummary(name string, attrs ...slog.Attr) *summary {
	return &summary{name: name, start: time.Now(), attrs: attrs}
}

// run calls fn with the handler name attached to the request context.
func (s *summary) run(c tele.Context, fn func() error) error {
	tghelpers.WithHandler(c, s.name)
	err := fn()
	s.log(c, logger.Status(err), err)
	return err
}

// skip records an update no handler accepted.
func (s *summary) skip(c tele.Context) {
	s.log(c, "skip", nil)
}

func (s *summary) log(c tele.Context, status string, err error) {
	ctx := tghelpers.WithHandler(c, s.name)
	msgs, kb := middleware.GetCounters(c)
	attrs := append([]slog.Attr{
		slog.String("status", status),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(s.start)),
	}, s.attrs...)
	if err == nil {
		logger.Info(ctx, logger.CompTelegram, "handler.handled", attrs...)
		return
	}
	attrs = append(attrs,
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		slog.String("err_code", errorCode(err)),
	)
	logger.Warn(ctx, logger.CompTelegram, "handler.handled", attrs...)
}

func handlerName(name string) string {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	if name == "" {
		return "unknown"
	}
	return strings.ReplaceAll(name, " ", "_")
}

// errorCode prefers a Code() method anywhere in the chain and falls back to
// the error's type name.
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "UNKNOWN_ERROR"
	}
	return strings.ToUpper(t.Name())
}
