package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Init connects to the database and builds the engine, the HTTP stack and
// the server. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	a.logger.Info("connecting to PostgreSQL", slog.String("dsn", a.cfg.Database.Redacted()))
	db, dbStatsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	return a.initWithDB(ctx, db, func(context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})
}

// initWithDB finishes Init on an open database handle. closeDB releases it.
func (a *App) initWithDB(ctx context.Context, db *sql.DB, closeDB func(context.Context) error) error {
	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.providers != nil {
		providers := a.providers
		cleanup.push("observability providers", providers.Shutdown)
	}
	cleanup.push("database", closeDB)

	if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	eng, err := buildEngine(a.cfg, a.logger, a.schema, db, a.providers)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	mux := buildRouter(a.cfg, a.logger, db, buildGraphQLHandler(a.cfg, eng, a.schema), a.providers)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, serverAddr)
	cleanup.push("HTTP server", srv.Shutdown)

	a.stateMu.Lock()
	a.db = db
	a.engine = eng
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
