package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/chriscarterux/designdream-sub001/internal/archive"
	"github.com/chriscarterux/designdream-sub001/internal/businesstime"
	"github.com/chriscarterux/designdream-sub001/internal/config"
	"github.com/chriscarterux/designdream-sub001/internal/sla"
	"github.com/chriscarterux/designdream-sub001/internal/store"
	"github.com/chriscarterux/designdream-sub001/internal/telemetry"
	"github.com/chriscarterux/designdream-sub001/internal/webhook"
)

// The retry worker is the cron half of the failure ledger: it periodically
// drives ready failure records through the same handlers the API uses.
func main() {
	cfg := config.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "retryworker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	cal := calendarFromConfig(cfg, log)
	thresholds := sla.Thresholds{YellowHours: cfg.SLAYellowThreshold, RedHours: cfg.SLARedThreshold}
	tracker := sla.NewTracker(st, cal, thresholds, nil)

	notifier := webhook.LogNotifier{Log: log}
	processor := webhook.NewProcessor(cfg.HandlerTimeout, log)
	handlers := webhook.NewLifecycleHandlers(tracker, st, notifier, nil, st, cfg.SLATargetHours, log)
	if err := handlers.RegisterAll(processor); err != nil {
		log.Fatal().Err(err).Msg("register handlers")
	}

	scheduler := webhook.NewScheduler(st, st, processor, log, nil).
		WithLimits(cfg.MaxRetries, cfg.RetryBackoff, cfg.RetryBatchLimit).
		WithAuditor(st)
	if cfg.ArchiveS3Bucket != "" {
		archiver, err := archive.New(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("init archiver")
		}
		scheduler.WithArchiver(archiver)
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().
		Dur("poll_interval", cfg.RetryPollInterval).
		Int("batch_limit", cfg.RetryBatchLimit).
		Msg("retry worker started")

	ticker := time.NewTicker(cfg.RetryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retry worker stopping")
			return
		case <-ticker.C:
			outcomes, err := scheduler.Drive(ctx)
			if err != nil {
				log.Error().Err(err).Msg("retry drive failed")
				continue
			}
			if len(outcomes) > 0 {
				log.Info().Int("driven", len(outcomes)).Msg("retry batch processed")
			}
		}
	}
}

func calendarFromConfig(cfg config.Config, log zerolog.Logger) businesstime.Calendar {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Str("timezone", cfg.Timezone).Msg("unknown timezone, falling back to UTC")
		loc = time.UTC
	}
	return businesstime.New(cfg.WorkDays, cfg.WorkdayStartHour, cfg.WorkdayEndHour, loc)
}
