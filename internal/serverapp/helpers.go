package serverapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/graphql-go/handler"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jzimmek/graphql-pg/internal/config"
	"github.com/jzimmek/graphql-pg/internal/dbexec"
	"github.com/jzimmek/graphql-pg/internal/engine"
	"github.com/jzimmek/graphql-pg/internal/logging"
	"github.com/jzimmek/graphql-pg/internal/middleware"
	"github.com/jzimmek/graphql-pg/internal/observability"
)

const (
	graphqlPath = "/graphql"
	healthPath  = "/healthz"
	metricsPath = "/metrics"
)

// InitObservability sets up the OpenTelemetry providers and the process
// logger. The returned logger exports over OTLP when log export is enabled.
func InitObservability(ctx context.Context, cfg *config.Config) (*logging.Logger, *observability.Providers, error) {
	obs := cfg.Observability
	loggerCfg := logging.Config{
		Level:  obs.Logging.Level,
		Format: obs.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	providers, err := observability.Setup(ctx, observability.Config{
		ServiceName:      obs.ServiceName,
		ServiceVersion:   obs.ServiceVersion,
		Environment:      obs.Environment,
		MetricsEnabled:   obs.MetricsEnabled,
		TracingEnabled:   obs.TracingEnabled,
		LogsEnabled:      obs.Logging.ExportsEnabled,
		TraceSampleRatio: obs.TraceSampleRatio,
		OTLP: observability.OTLPConfig{
			Endpoint:       obs.OTLP.Endpoint,
			Protocol:       obs.OTLP.Protocol,
			Insecure:       obs.OTLP.Insecure,
			CAFile:         obs.OTLP.TLSCertFile,
			ClientCertFile: obs.OTLP.TLSClientCertFile,
			ClientKeyFile:  obs.OTLP.TLSClientKeyFile,
			Headers:        obs.OTLP.Headers,
			Timeout:        obs.OTLP.Timeout,
			Gzip:           obs.OTLP.Compression == "gzip",
			Retry:          obs.OTLP.RetryEnabled,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	if lp := providers.LoggerProvider(); lp != nil {
		loggerCfg.LoggerProvider = lp
		logger = logging.NewLogger(loggerCfg)
		slog.SetDefault(logger.Logger)
	}
	logger.Info("observability initialized",
		slog.String("service_name", obs.ServiceName),
		slog.String("service_version", obs.ServiceVersion),
		slog.String("environment", obs.Environment),
		slog.Bool("metrics", obs.MetricsEnabled),
		slog.Bool("tracing", obs.TracingEnabled),
		slog.Bool("log_export", obs.Logging.ExportsEnabled),
	)
	return logger, providers, nil
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	dsn := cfg.Database.ConnectionString()
	obs := cfg.Observability

	if !obs.MetricsEnabled && !obs.TracingEnabled {
		db, err := sql.Open("pgx", dsn)
		return db, nil, err
	}

	opts := []otelsql.Option{otelsql.WithAttributes(semconv.DBSystemPostgreSQL)}
	if obs.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	db, err := otelsql.Open("pgx", dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if obs.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}
	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", obs.MetricsEnabled),
		slog.Bool("tracing", obs.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings until the database answers. A zero
// connection_timeout means a single attempt.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

func buildEngine(cfg *config.Config, logger *logging.Logger, schema Schema, db *sql.DB, providers *observability.Providers) (*engine.Engine, error) {
	var metrics *observability.CompilerMetrics
	if providers.MetricsEnabled() {
		var err error
		if metrics, err = observability.NewCompilerMetrics(); err != nil {
			return nil, err
		}
	}

	return engine.New(engine.Options{
		Schema:   schema.Schema,
		Selects:  schema.Selects,
		Executor: dbexec.NewStandardExecutor(db),
		Logger:   logger.WithFields(slog.String("component", "engine")),
		Metrics:  metrics,
		DBMerge:  cfg.Server.DBMerge,
	})
}

// buildGraphQLHandler serves /graphql: the one-query step runs first and
// graphql-go/handler projects its result through the schema.
func buildGraphQLHandler(cfg *config.Config, eng *engine.Engine, schema Schema) http.Handler {
	gql := handler.New(&handler.Config{
		Schema:   eng.Schema(),
		Pretty:   true,
		GraphiQL: cfg.Server.GraphiQLEnabled,
		RootObjectFn: func(ctx context.Context, _ *http.Request) map[string]interface{} {
			return middleware.RootObjectFromContext(ctx)
		},
	})

	return middleware.SQLHeadersMiddleware(eng, middleware.SQLHeadersConfig{
		ExposeSQL: cfg.Server.SQLHeadersEnabled,
		Values:    schema.Values,
		Metrics:   eng.Metrics(),
	})(gql)
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphqlHandler http.Handler, providers *observability.Providers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(graphqlPath, graphqlHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, graphqlPath, http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc(healthPath, healthHandler(db, cfg.Server.HealthCheckTimeout))

	if providers.MetricsEnabled() {
		mux.Handle(metricsPath, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", metricsPath))
	}
	return mux
}

// wrapHTTPHandler applies, from the outside in: CORS, OpenTelemetry HTTP
// instrumentation and request logging.
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, h http.Handler) http.Handler {
	h = middleware.LoggingMiddleware(logger)(h)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		h = otelhttp.NewHandler(h, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
	}

	if cfg.Server.CORSEnabled {
		h = middleware.CORSMiddleware(corsConfig(cfg.Server))(h)
	}
	return h
}

// corsConfig adds the request id and SQL headers to the exposed headers so
// browser clients can read them.
func corsConfig(s config.ServerConfig) middleware.CORSConfig {
	expose := slices.Clone(s.CORSExposeHeaders)
	expose = append(expose, middleware.RequestIDHeader)
	if s.SQLHeadersEnabled {
		expose = append(expose, middleware.SQLHeader, middleware.SQLParamsHeader)
	}
	slices.Sort(expose)

	return middleware.CORSConfig{
		Enabled:          s.CORSEnabled,
		AllowedOrigins:   s.CORSAllowedOrigins,
		AllowedMethods:   s.CORSAllowedMethods,
		AllowedHeaders:   s.CORSAllowedHeaders,
		ExposeHeaders:    slices.Compact(expose),
		AllowCredentials: s.CORSAllowCredentials,
		MaxAge:           s.CORSMaxAge,
	}
}

func httpRootSpanName(r *http.Request) string {
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	switch r.URL.Path {
	case "/", graphqlPath, healthPath, metricsPath:
		return method + " " + r.URL.Path
	default:
		return method + " /*"
	}
}

func buildServer(cfg *config.Config, h http.Handler, addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		attrs := []any{
			slog.String("address", srv.Addr),
			slog.String("graphql_endpoint", graphqlPath),
			slog.String("health_endpoint", healthPath),
			slog.Bool("graphiql", cfg.Server.GraphiQLEnabled),
			slog.Bool("sql_headers", cfg.Server.SQLHeadersEnabled),
			slog.Bool("db_merge", cfg.Server.DBMerge),
		}
		if cfg.Observability.MetricsEnabled {
			attrs = append(attrs, slog.String("metrics_endpoint", metricsPath))
		}
		logger.Info("server starting", attrs...)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	return serverErrors
}

// healthHandler reports database reachability.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Generic body, the error itself is only logged.
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}
