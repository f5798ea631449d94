package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"pastelflow/internal/config"
	"pastelflow/internal/editor"
	"pastelflow/internal/httpclient"
	"pastelflow/internal/logging"
	"pastelflow/internal/presets"
	"pastelflow/internal/provider"
	"pastelflow/internal/session"
	"pastelflow/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog := logging.New(logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	gen, err := provider.New(ctx, cfg, httpClient, logger)
	if err != nil {
		return err
	}

	catalog, err := presets.Load(cfg.PresetsFile)
	if err != nil {
		return err
	}

	hub := web.NewHub(logger)
	sessions := session.NewStore(session.Options{
		TTL:    cfg.SessionTTL,
		Logger: logger,
		NewEditor: func(id string) *editor.Controller {
			return editor.New(editor.Options{
				Generator:   gen,
				Timeout:     cfg.GenerateTimeout,
				BaseContext: ctx,
				Logger:      logger.With("session", id),
				OnChange:    func(st editor.State) { hub.Publish(id, st) },
			})
		},
	})

	srv := &http.Server{
		Addr: cfg.WebAddr,
		Handler: web.New(web.Options{
			Sessions:       sessions,
			Presets:        catalog,
			Hub:            hub,
			Logger:         logger,
			MaxUploadBytes: cfg.MaxUploadBytes,
			GenerateLimit:  cfg.GenerateRateLimit,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("web started", "addr", cfg.WebAddr, "provider", cfg.Provider, "presets", len(catalog.All()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sessions.Run(gctx, time.Minute)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
