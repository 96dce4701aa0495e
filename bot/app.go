package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/swapbot/core/config"
	"github.com/m3rciful/swapbot/core/logger"
	coretelegram "github.com/m3rciful/swapbot/core/telegram"
	"github.com/m3rciful/swapbot/core/telegram/router"
	"github.com/m3rciful/swapbot/core/telegram/state"
	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/clock"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
	"github.com/m3rciful/swapbot/exchange/session"
	"github.com/m3rciful/swapbot/notify"
)

const sweepInterval = time.Minute

// Exchange is the remote exchanger as seen by sessions.
type Exchange interface {
	catalog.Source
	quote.Fetcher
	fields.Source
	order.Service
}

// ProfileStore is a Profiles that also remembers identity values.
type ProfileStore interface {
	Profiles
	fields.Persister
}

// Deps are the shared services of the bot.
type Deps struct {
	Exchange Exchange
	// Profiles may be nil to run without a database.
	Profiles ProfileStore
	Clock    clock.Clock
}

// App is the Telegram application of the exchange bot.
type App struct {
	cfg       *coreconfig.Config
	deps      Deps
	collector *fields.Collector
	statuses  *order.StatusClassifier

	registry *coretelegram.Registry
	sessions *Sessions
	handler  *Handler
}

// NewApp wires sessions and handlers from cfg.
func NewApp(cfg *coreconfig.Config, deps Deps) *App {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	a := &App{
		cfg:      cfg,
		deps:     deps,
		registry: coretelegram.NewRegistry(),
		statuses: order.NewStatusClassifier(order.Keywords{
			Waiting: cfg.OrderStatus.Waiting,
			Settled: cfg.OrderStatus.Settled,
			Failed:  cfg.OrderStatus.Failed,
		}),
	}
	var persister fields.Persister
	var profiles Profiles
	if deps.Profiles != nil {
		persister, profiles = deps.Profiles, deps.Profiles
	}
	a.collector = fields.NewCollector(deps.Exchange, fields.Options{
		Classifier: FieldClassifier(cfg.Fields),
		Persister:  persister,
	})
	ttl := time.Duration(cfg.Session.IdleTTLMinutes) * time.Minute
	a.sessions = NewSessions(a.newSession, ttl, deps.Clock)
	a.handler = NewHandler(a.sessions, state.NewMemoryManager(), profiles, cfg.Telegram.WebAppURL)
	return a
}

// FieldClassifier puts the configured keyword rules ahead of the built-in ones.
func FieldClassifier(cfg coreconfig.FieldsConfig) fields.Classifier {
	rules := make([]fields.Rule, 0, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kind, ok := fields.ParseKind(k.Kind)
		if !ok {
			continue
		}
		rules = append(rules, fields.Rule{Kind: kind, Keywords: k.Keywords})
	}
	return fields.WithOverrides(rules)
}

// newSession builds the session of a user with their saved default direction.
func (a *App) newSession(ctx context.Context, uid int64) *session.Session {
	sc := a.cfg.Session
	give, get := sc.DefaultGive, sc.DefaultGet
	deps := session.Deps{
		Directions: a.deps.Exchange,
		Quotes:     a.deps.Exchange,
		Fields:     a.collector,
		Orders:     a.deps.Exchange,
	}
	if p := a.deps.Profiles; p != nil {
		if prefs, err := p.Preferences(ctx, uid); err == nil {
			give = firstNonEmpty(prefs.DefaultGive, give)
			get = firstNonEmpty(prefs.DefaultGet, get)
		} else {
			logger.Warn(ctx, logger.CompBot, "session.preferences",
				slog.String("status", "fail"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
		}
		deps.Identity = session.IdentityFunc(func(ctx context.Context) (fields.Identity, error) {
			return p.Identity(ctx, uid)
		})
	}

	h := a.handler
	var s *session.Session
	s = session.New(deps, session.Options{
		RequesterID:   uid,
		Clock:         a.deps.Clock,
		Debounce:      time.Duration(sc.DebounceMS) * time.Millisecond,
		PollInterval:  time.Duration(sc.PollIntervalSeconds) * time.Second,
		PaymentWindow: time.Duration(sc.PaymentWindowSeconds) * time.Second,
		Statuses:      a.statuses,
		DefaultGive:   give,
		DefaultGet:    get,
		OnEvent:       func(session.Event) { h.refresh(uid, s) },
		OnOrderCreated: func(o order.Order) {
			h.orderCreated(uid, s, o)
		},
		OnOrderTitle: func(o order.Order) {
			h.orderTitle(uid, s, o)
		},
		OnOrderStatus: func(prev, next order.Status, o order.Order) {
			h.orderStatus(uid, s, prev, next, o)
		},
	})
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Sessions exposes the session registry.
func (a *App) Sessions() *Sessions { return a.sessions }

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	if err := a.handler.Register(a.registry); err != nil {
		return coretelegram.RunOptions{}, fmt.Errorf("bot: %w", err)
	}
	return coretelegram.RunOptions{
		Config:   a.cfg,
		Registry: a.registry,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, func(c tele.Context) error {
			if c.Callback() != nil {
				return c.Respond(&tele.CallbackResponse{Text: "Слишком часто, подождите секунду"})
			}
			return nil
		}),
		OnBuild: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.handler.Bind(rt.Bot, notify.New(rt.Bot, rt.Dispatcher, a.cfg.Telegram.Support), rt.Dispatcher)
			if rt.Dispatcher != nil {
				a.collector.SetRunner(rt.Dispatcher)
			}
			return nil
		},
		Routes: func(rt coretelegram.Runtime) []coretelegram.Route {
			routes := router.CommandRoutes(rt.Registry, router.CommandRouteOptions{AdminID: a.cfg.Telegram.AdminID})
			routes = append(routes, router.CallbackRoute(rt.Registry, router.CallbackOptions{}))
			return append(routes, router.TextRoutes(a.handler.fsm, rt.Registry, router.TextOptions{})...)
		},
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			go a.sessions.Run(ctx, sweepInterval)
			return nil
		},
		OnStop: func(ctx context.Context, rt coretelegram.Runtime) error {
			n := a.sessions.Len()
			a.sessions.CloseAll()
			logger.Info(ctx, logger.CompBot, "sessions.closed", slog.Int("count", n))
			return nil
		},
	}, nil
}
