package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/services"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
)

// app holds the components every command needs.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger *logging.Logger
	reg    services.Registry
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// setup initializes, in order: configuration, data directories, telemetry,
// logging and the pipeline components.
func setup(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDirectories(cfg); err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging, tel.IsEnabled())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	for _, problem := range tel.Health().Problems {
		logger.Warn(ctx, "telemetry degraded", zap.String("problem", problem))
	}

	reg, err := services.Build(ctx, cfg, logger.Underlying())
	if err != nil {
		_ = logger.Sync()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &app{cfg: cfg, tel: tel, logger: logger, reg: reg}, nil
}

// Close releases the components and flushes telemetry.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.reg.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
	}
	if err := a.logger.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("syncing logger: %w", err))
	}
	return errors.Join(errs...)
}

// withApp runs fn with an initialized app and closes it afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			a.logger.Warn(ctx, "shutdown incomplete", zap.Error(cerr))
		}
	}()
	return fn(ctx, a)
}
