package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"stitch-studio/internal/config"
	"stitch-studio/internal/gemini"
	"stitch-studio/internal/httpclient"
	"stitch-studio/internal/registry"
	"stitch-studio/internal/server"
	"stitch-studio/internal/studio"
	"stitch-studio/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(false)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Error("data dir init failed", "err", err)
		os.Exit(1)
	}

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	gem := gemini.New(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	reg := registry.New(registry.Options{
		URL:        cfg.RegistryURL,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	mgr := wallet.NewManager(wallet.Options{
		Registry:     reg,
		Store:        wallet.NewFileStore(filepath.Join(cfg.DataDir, "identity.json")),
		Logger:       logger,
		SyncInterval: cfg.SyncInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restoreCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	mgr.Restore(restoreCtx)
	cancel()

	// The notice sink points at the server, which is built after the
	// controller; notices only fire once requests are flowing.
	var srv *server.Server

	ctl := studio.NewController(studio.Options{
		Gateway:        gem,
		Wallet:         mgr,
		Logger:         logger,
		BaseContext:    ctx,
		ThumbnailDelay: cfg.ThumbnailDelay,
		QuotaCooldown:  cfg.QuotaCooldown,
		OnNotice: func(text string) {
			srv.SetNotice(text)
		},
	})

	srv = server.New(server.Options{
		Wallet:         mgr,
		Studio:         ctl,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("web started", "addr", cfg.WebAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		mgr.RunAutoSync(gCtx)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
