package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/swapbot/core/logger"
)

// Warmer prepares a dependency before the bot starts accepting updates.
type Warmer interface {
	Warm(ctx context.Context) error
}

// WarmerFunc adapts a bare function to the Warmer interface.
type WarmerFunc func(ctx context.Context) error

// Warm executes the underlying function.
func (f WarmerFunc) Warm(ctx context.Context) error {
	return f(ctx)
}

// Module is a named warmup step. Optional modules only log their failure.
type Module struct {
	Name     string
	Warmer   Warmer
	Optional bool
}

// Modules groups warmup steps executed in order after migrations.
type Modules []Module

func (m Modules) warm(ctx context.Context) error {
	for _, mod := range m {
		if mod.Warmer == nil {
			continue
		}
		start := time.Now()
		err := mod.Warmer.Warm(ctx)
		attrs := []slog.Attr{
			slog.String("module", mod.Name),
			slog.String("status", logger.Status(err)),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		}
		if err == nil {
			logger.Info(ctx, "app", "warmup", attrs...)
			continue
		}
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		if mod.Optional {
			logger.Warn(ctx, "app", "warmup", attrs...)
			continue
		}
		logger.Error(ctx, "app", "warmup", attrs...)
		return fmt.Errorf("warmup %s: %w", mod.Name, err)
	}
	return nil
}
