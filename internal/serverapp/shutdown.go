package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jzimmek/graphql-pg/internal/logging"
)

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack []cleanupItem

type cleanupItem struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	*s = append(*s, cleanupItem{name: name, fn: fn})
}

// run calls every item even when earlier ones fail and joins the failures.
func (s cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		item := s[i]
		start := time.Now()
		err := item.fn(ctx)
		if err != nil {
			logger.Warn("cleanup failed",
				slog.String("component", item.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", item.name, err))
			continue
		}
		logger.Info("released "+item.name, slog.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}

// Shutdown releases everything Init acquired, the HTTP server first, within
// server.shutdown_timeout. Later calls return the result of the first one.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.started = false
		a.stateMu.Unlock()

		if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
			defer cancel()
		}
		a.shutdownErr = cleanup.run(ctx, a.logger)
	})

	return a.shutdownErr
}
