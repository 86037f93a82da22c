package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/pollen-sync/internal/api/http"
	"github.com/i474232898/pollen-sync/internal/config"
	"github.com/i474232898/pollen-sync/internal/logging"
	"github.com/i474232898/pollen-sync/internal/pollen"
	"github.com/i474232898/pollen-sync/internal/pollen/providers"
	"github.com/i474232898/pollen-sync/internal/scheduler"
	"github.com/i474232898/pollen-sync/internal/store"
	"github.com/i474232898/pollen-sync/internal/syncer"
)

const (
	sourceWeatherDT = "weatherdt"
	sourceSample    = "sample"
)

// buildService wires source, fetcher, coordinator and service from config.
func buildService(cfg *config.AppConfig) (*syncer.Service, error) {
	format, err := store.ParseFormat(cfg.StoreFormat, cfg.StorePath)
	if err != nil {
		return nil, err
	}
	strategy, err := syncer.ParsePlanStrategy(cfg.PlanStrategy)
	if err != nil {
		return nil, err
	}
	if err := store.CheckWritable(cfg.StorePath); err != nil {
		return nil, err
	}

	// Shared HTTP client for outbound source calls.
	httpClient := &http.Client{
		Timeout: cfg.RequestTimeout,
	}

	var source pollen.Source
	switch cfg.SourceName {
	case sourceSample:
		source = providers.NewSampleSource()
	case sourceWeatherDT:
		source = providers.NewWeatherDTSource(httpClient, cfg.SourceURL)
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.SourceName)
	}

	fetcher := syncer.NewRetryingFetcher(source, syncer.RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		AttemptTimeout: cfg.RequestTimeout,
		TaskDelay:      cfg.RequestDelay,
	})

	coordinator := syncer.NewCoordinator(fetcher, syncer.Options{
		StorePath: cfg.StorePath,
		File:      store.FileOptions{Format: format, BOM: cfg.CSVBOM},
		Strategy:  strategy,
		Columns:   store.ColumnPolicy(cfg.MergeColumns),
		Workers:   cfg.Workers,
	})

	logging.Info().
		Str("source", source.Name()).
		Str("store", cfg.StorePath).
		Str("format", string(format)).
		Int("workers", cfg.Workers).
		Msg("sync service configured")

	return syncer.NewService(coordinator), nil
}

// serve runs the HTTP API and the scheduler until SIGINT or SIGTERM.
func serve(cfg *config.AppConfig) error {
	service, err := buildService(cfg)
	if err != nil {
		return err
	}

	spec := syncer.WindowSpec{Cities: cfg.Cities, Days: cfg.Days, Start: cfg.Start, End: cfg.End}

	// Scheduler that periodically re-syncs the configured window.
	sched := scheduler.New(spec, cfg.SyncInterval, cfg.SyncTimeout, service)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "pollen-sync",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.SyncTimeout + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "pollen-sync",
		})
	})

	httpapi.RegisterRoutes(app, service, httpapi.Options{
		SyncTimeout: cfg.SyncTimeout,
		DefaultDays: cfg.Days,
	})

	go func() {
		logging.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logging.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}
