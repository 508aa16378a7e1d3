package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chriscarterux/designdream-sub001/internal/api"
	"github.com/chriscarterux/designdream-sub001/internal/archive"
	"github.com/chriscarterux/designdream-sub001/internal/businesstime"
	"github.com/chriscarterux/designdream-sub001/internal/config"
	"github.com/chriscarterux/designdream-sub001/internal/ratelimit"
	"github.com/chriscarterux/designdream-sub001/internal/sla"
	"github.com/chriscarterux/designdream-sub001/internal/store"
	"github.com/chriscarterux/designdream-sub001/internal/webhook"
)

func main() {
	cfg := config.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "api").Logger()

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

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
	ingestor := webhook.NewIngestor(st, processor, scheduler, log)

	verifier := webhook.NewVerifier(cfg.WebhookSecrets, nil)
	server := api.New(cfg, verifier, ingestor, scheduler, tracker, notifier, limiter, st, log, nil)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func calendarFromConfig(cfg config.Config, log zerolog.Logger) businesstime.Calendar {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Str("timezone", cfg.Timezone).Msg("unknown timezone, falling back to UTC")
		loc = time.UTC
	}
	return businesstime.New(cfg.WorkDays, cfg.WorkdayStartHour, cfg.WorkdayEndHour, loc)
}
