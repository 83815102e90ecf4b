// Package serverapp wires configuration, the database, the engine and the
// HTTP stack into a runnable server with an explicit lifecycle.
package serverapp

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/graphql-go/graphql"

	"github.com/jzimmek/graphql-pg/internal/config"
	"github.com/jzimmek/graphql-pg/internal/engine"
	"github.com/jzimmek/graphql-pg/internal/logging"
	"github.com/jzimmek/graphql-pg/internal/observability"
	"github.com/jzimmek/graphql-pg/internal/selects"
)

// Schema bundles a GraphQL schema with the select functions backing it.
type Schema struct {
	Schema  *graphql.Schema
	Selects selects.Table
	// Values returns caller context values for a request. Optional.
	Values func(*http.Request) map[string]any
}

// App owns runtime resources for the server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	schema Schema

	providers *observability.Providers

	db      *sql.DB
	engine  *engine.Engine
	handler http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger, schema Schema) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if schema.Schema == nil {
		return nil, errors.New("schema is required")
	}
	if _, err := cfg.Database.EffectiveDatabaseName(); err != nil {
		return nil, fmt.Errorf("failed to resolve database configuration: %w", err)
	}

	return &App{cfg: cfg, logger: logger, schema: schema}, nil
}

// AttachProviders registers the observability providers for shutdown
// cleanup. Metrics are exported on /metrics when the providers carry them.
func (a *App) AttachProviders(providers *observability.Providers) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.providers = providers
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}

// Engine returns the engine built by Init.
func (a *App) Engine() *engine.Engine {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.engine
}

// DB returns the database handle opened by Init.
func (a *App) DB() *sql.DB {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.db
}
