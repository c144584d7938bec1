package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"agitracker/api/internal/app"
	"agitracker/api/internal/authpw"
	"agitracker/api/internal/captcha"
	"agitracker/api/internal/config"
	"agitracker/api/internal/email"
	"agitracker/api/internal/images"
	"agitracker/api/internal/outbox"
	"agitracker/api/internal/ratelimit"
	"agitracker/api/internal/search"
	"agitracker/api/internal/session"
	"agitracker/api/internal/store"
)

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	dataStore := store.NewPostgresStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	} else {
		log.Warn().Msg("search: MEILI_URL not set, using Postgres full text search")
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db))

	var (
		sessions session.Store
		limiter  ratelimit.Limiter
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		var redisClient *redis.Client
		redisClient, err = session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		log.Info().Msg("session: using Redis for sessions and rate limits")
		sessions = session.NewRedisStore(redisClient)
		limiter = ratelimit.NewRedisLimiter(redisClient)
	} else {
		log.Info().Msg("session: using Postgres for sessions, rate limits are per process")
		sessions = session.NewPostgresStore(dataStore)
		limiter = ratelimit.NewLocalLimiter()
	}

	var blobs images.Blobs
	if cfg.StorageConfigured() {
		minioBlobs, err := images.NewMinioBlobs(images.MinioConfig{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			UseSSL:    cfg.StorageUseSSL,
		})
		if err != nil {
			return err
		}
		blobs = minioBlobs
	}

	mailer := email.NewService(email.Config{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		FromName:   cfg.SMTPFromName,
		AdminEmail: cfg.AdminEmail,
		BaseURL:    cfg.BaseURL,
	})
	if !mailer.IsConfigured() {
		log.Warn().Msg("email: SMTP not configured, notifications will be logged and dropped")
	}

	worker := outbox.NewWorker(dataStore, outbox.Options{
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		PollInterval: cfg.OutboxPollInterval,
	})
	outbox.RegisterSearch(worker, dataStore, searchService)
	outbox.RegisterEmail(worker, mailer)

	service := app.New(cfg, dataStore, app.Dependencies{
		Search:    searchService,
		Images:    images.NewService(dataStore, blobs),
		Captcha:   captcha.NewVerifier(cfg.RecaptchaSecret),
		Passwords: authpw.NewService(dataStore),
		Sessions:  sessions,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, limiter).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		worker.Run(ctx)
	}()
	if searchService.Enabled() {
		background.Add(1)
		go func() {
			defer background.Done()
			outbox.Reconcile(ctx, searchService, cfg.SearchResyncInterval)
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("AGI Tracker API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		background.Wait()
		return err
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	background.Wait()
	return nil
}
