package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chai-dev682/plivo-interview-phone-agent/internal/config"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/eval"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/httpserver"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/interview"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/outcome"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/plivo"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/session"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/storage"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/tts"
	"github.com/chai-dev682/plivo-interview-phone-agent/pkg/logger"
)

func main() {
	if err := logger.Init(os.Getenv("DEBUG") == "true"); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Base()

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := interview.NewPGStore(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal("interview store init failed", zap.Error(err))
	}
	defer store.Close()

	phrases, err := session.LoadPhrases(cfg.EndPhrasesFile)
	if err != nil {
		log.Warn("end-phrase file unusable, using built-in set", zap.Error(err))
		phrases = session.DefaultPhrases()
	}

	evalClient := eval.NewClient(cfg.OpenAIKey, cfg.OpenAIEvalModel)
	recorder := plivo.NewRecordingClient(cfg.PlivoAuthID, cfg.PlivoAuthToken, cfg.Agent.MaxRecordingSeconds)

	var webhook outcome.Dispatcher
	if cfg.WebhookURL != "" {
		webhook = eval.NewWebhookDispatcher(cfg.WebhookURL)
	}

	var archive outcome.Archiver
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		arch, err := storage.New(storage.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Warn("supabase archive unavailable", zap.Error(err))
		} else {
			archive = arch
		}
	}

	coordinator := outcome.NewCoordinator(recorder, evalClient, store, webhook, archive)
	fallback := tts.NewDeepgramClient(cfg.DeepgramKey, "")

	e := httpserver.New()
	handlers := httpserver.NewHandlers(cfg, store, coordinator, phrases, evalClient, fallback)
	handlers.Register(e)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("address", cfg.HTTPAddress))
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
}
