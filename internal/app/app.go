package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"email-event-digest/internal/cache"
	"email-event-digest/internal/config"
	"email-event-digest/internal/database"
	"email-event-digest/internal/extractor"
	"email-event-digest/internal/fetcher"
	"email-event-digest/internal/gate"
	"email-event-digest/internal/guard"
	"email-event-digest/internal/handlers"
	"email-event-digest/internal/learn"
	"email-event-digest/internal/metrics"
	"email-event-digest/internal/pipeline"
	"email-event-digest/internal/repository"
	"email-event-digest/internal/resolve"
	"email-event-digest/internal/scheduler"
	"email-event-digest/internal/server"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Email Event Digest Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", cfg.Engine.Timezone, err)
	}

	dbConn, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.NewMetrics()
	repo := repository.New(dbConn)

	var f fetcher.EmailFetcher
	if cfg.Gmail.UseIMAP {
		f, err = fetcher.NewIMAPFetcher(&cfg.Gmail, loc)
		if err != nil {
			return fmt.Errorf("failed to create IMAP fetcher: %w", err)
		}
		logrus.Info("Using IMAP for email fetching")
	} else {
		f, err = fetcher.NewGmailAPIFetcher(&cfg.Gmail, loc)
		if err != nil {
			return fmt.Errorf("failed to create Gmail API fetcher: %w", err)
		}
		logrus.Info("Using Gmail API for email fetching")
	}

	g, err := gate.New(cfg.Engine.Gate)
	if err != nil {
		return fmt.Errorf("failed to build extraction gate: %w", err)
	}

	responseCache := cache.New(repo, cfg.Engine.CacheTTL)
	if err := responseCache.Load(); err != nil {
		logrus.Warnf("Response cache unavailable, continuing without persistence: %v", err)
	}

	learnStore := learn.New(repo, cfg.Engine.Learning)
	if err := learnStore.Load(); err != nil {
		logrus.Warnf("Learning store unavailable, continuing without learning: %v", err)
	}

	resolver := resolve.New(loc, cfg.Engine.Resolver.PastGraceDays)
	guardrail := guard.New(cfg.Engine.RecruitingPatterns, cfg.Engine.Categories, cfg.Engine.Cuisines, cfg.Engine.Timezone)
	ex := extractor.New(cfg.Extractor, cfg.Engine.Categories, cfg.Engine.Cuisines)

	pipe := pipeline.New(cfg.Engine, g, responseCache, ex, resolver, guardrail, learnStore, repo, m)

	sched := scheduler.NewScheduler(&cfg.Scheduler, f, pipe, m)

	h := handlers.NewHandlers(dbConn, repo, pipe, sched)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := f.Close(); err != nil {
		logrus.Errorf("Failed to close fetcher: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
