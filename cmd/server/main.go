package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/jzimmek/graphql-pg/internal/config"
	"github.com/jzimmek/graphql-pg/internal/demo"
	"github.com/jzimmek/graphql-pg/internal/naming"
	"github.com/jzimmek/graphql-pg/internal/serverapp"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")
	pflag.Bool("seed-demo", false, "Drop and recreate the demo tables before serving")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("graphql-pg %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" || cfg.Observability.ServiceVersion == "dev" {
		cfg.Observability.ServiceVersion = Version
	}

	if err := checkConfig(cfg); err != nil {
		return err
	}

	ctx := context.Background()
	logger, providers, err := serverapp.InitObservability(ctx, cfg)
	if err != nil {
		return err
	}

	schema, err := demoSchema()
	if err != nil {
		_ = providers.Shutdown(ctx)
		return err
	}

	app, err := serverapp.New(cfg, logger, schema)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return err
	}
	app.AttachProviders(providers)

	if err := app.Init(ctx); err != nil {
		return err
	}

	if seed, _ := pflag.CommandLine.GetBool("seed-demo"); seed {
		if err := demo.Seed(ctx, app.DB()); err != nil {
			_ = app.Shutdown(ctx)
			return err
		}
		logger.Info("demo schema seeded")
	}

	serverErrors, err := app.Start()
	if err != nil {
		_ = app.Shutdown(ctx)
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	_, waitErr := app.WaitForStop(stop, serverErrors)

	logger.Info("shutting down server gracefully")
	shutdownErr := app.Shutdown(ctx)

	if waitErr != nil {
		return waitErr
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	logger.Info("server stopped gracefully")
	return nil
}

// checkConfig logs every validation finding and fails on errors.
func checkConfig(cfg *config.Config) error {
	result := cfg.Validate()
	for _, warn := range result.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if !result.HasErrors() {
		return nil
	}
	for _, err := range result.Errors {
		slog.Error("configuration error",
			slog.String("field", err.Field),
			slog.String("message", err.Message),
			slog.String("hint", err.Hint),
		)
	}
	return fmt.Errorf("configuration validation failed: %d error(s)", len(result.Errors))
}

func demoSchema() (serverapp.Schema, error) {
	schema, err := demo.NewSchema()
	if err != nil {
		return serverapp.Schema{}, err
	}
	return serverapp.Schema{
		Schema:  schema,
		Selects: demo.Selects(naming.Default()),
		Values:  demo.Values,
	}, nil
}
