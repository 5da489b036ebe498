package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"six2five/internal/migration"
	"six2five/internal/names/metrics"
	"six2five/internal/names/providers/sessionserver"
	"six2five/internal/names/service"
	"six2five/internal/platform/config"
	"six2five/internal/platform/httpserver"
	platformmetrics "six2five/internal/platform/metrics"
	"six2five/internal/ratelimit"
	"six2five/internal/regions"
	httptransport "six2five/internal/transport/http"
)

// run wires the resolver, transformer and converter for one file.
func run(ctx context.Context, cfg config.Config, path string, stdout io.Writer, log *slog.Logger) error {
	reg := platformmetrics.NewRegistry()
	runMetrics := platformmetrics.NewRun(reg)

	if cfg.Metrics.Addr != "" {
		srv := httpserver.New(cfg.Metrics.Addr, httptransport.NewRouter(reg, log))
		go func() {
			log.Info("serving metrics", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("metrics server shutdown failed", "error", err)
			}
		}()
	}

	provider := sessionserver.New(cfg.Resolver.Endpoint, cfg.Resolver.RequestTimeout)
	resolver, err := service.New(provider, ratelimit.New(cfg.Resolver.RatePerSecond),
		service.WithLogger(log),
		service.WithMetrics(metrics.New(reg)),
		service.WithRetry(cfg.Resolver.MaxAttempts, cfg.Resolver.InitialDelay, cfg.Resolver.Multiplier),
	)
	if err != nil {
		return err
	}

	transformer, err := regions.New(resolver,
		regions.WithLogger(log),
		regions.WithConcurrency(cfg.Transform.Concurrency),
	)
	if err != nil {
		return err
	}

	opts := []migration.Option{
		migration.WithLogger(log),
		migration.WithLockTimeout(cfg.Transform.LockTimeout),
	}
	if cfg.Transform.DryRun {
		opts = append(opts, migration.WithDryRun(stdout))
	}
	converter, err := migration.New(transformer, opts...)
	if err != nil {
		return err
	}

	res, err := converter.ConvertFile(ctx, path)
	if err != nil {
		runMetrics.RecordConversion(err, 0, 0, 0, 0)
		log.Warn("conversion failed", "file", path, "error", err)
		return err
	}
	r := res.Report
	runMetrics.RecordConversion(nil, r.Regions, r.Resolved, r.Unresolved, r.Malformed)

	log.Info("UUID -> name conversion is complete",
		"regions", r.Regions,
		"resolved", r.Resolved,
		"unresolved", r.Unresolved,
		"malformed", r.Malformed,
		"backup", res.BackupPath,
	)
	return nil
}
