package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"pastelflow/internal/bot"
	"pastelflow/internal/config"
	"pastelflow/internal/editor"
	"pastelflow/internal/httpclient"
	"pastelflow/internal/logging"
	"pastelflow/internal/mediagroup"
	"pastelflow/internal/presets"
	"pastelflow/internal/provider"
	"pastelflow/internal/session"
	"pastelflow/internal/telegram"
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
	if err := cfg.RequireTelegram(); err != nil {
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

	tg, err := telegram.New(telegram.Options{
		Token:        cfg.TelegramToken,
		HTTPClient:   httpClient,
		Logger:       logger,
		Debug:        cfg.Debug,
		MaxFileBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	gen, err := provider.New(ctx, cfg, httpClient, logger)
	if err != nil {
		return err
	}

	catalog, err := presets.Load(cfg.PresetsFile)
	if err != nil {
		return err
	}

	sessions := session.NewStore(session.Options{
		TTL:    cfg.SessionTTL,
		Logger: logger,
		NewEditor: func(id string) *editor.Controller {
			return editor.New(editor.Options{
				Generator:   gen,
				Timeout:     cfg.GenerateTimeout,
				BaseContext: ctx,
				Logger:      logger.With("session", id),
			})
		},
	})

	handler := bot.New(bot.Options{
		Messenger: tg,
		Sessions:  sessions,
		Presets:   catalog,
		Logger:    logger,
	})

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	g, gctx := errgroup.WithContext(ctx)

	// dispatch runs fn on the bounded worker pool. It gives up when the
	// process is shutting down.
	dispatch := func(fn func(ctx context.Context)) {
		if err := sem.Acquire(gctx, 1); err != nil {
			return
		}
		g.Go(func() error {
			defer sem.Release(1)

			reqCtx, cancel := context.WithTimeout(gctx, cfg.RequestTimeout)
			defer cancel()

			fn(reqCtx)
			return nil
		})
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.AlbumDebounce,
		OnFlush: func(group mediagroup.Group) {
			dispatch(func(ctx context.Context) {
				handler.HandleMediaGroup(ctx, group)
			})
		},
	})
	defer func() {
		if n := aggregator.Pending(); n > 0 {
			logger.Warn("dropping albums still being collected", "albums", n)
		}
		aggregator.Stop()
	}()
	handler.SetMediaGroupAggregator(aggregator)

	g.Go(func() error {
		return sessions.Run(gctx, time.Minute)
	})

	g.Go(func() error {
		logger.Info("bot started", "username", tg.Username(), "provider", cfg.Provider)

		updates := tg.Updates(telegram.UpdatesOptions{
			Timeout: 30 * time.Second,
		})
		defer tg.StopUpdates()

		for {
			select {
			case <-gctx.Done():
				logger.Info("shutting down")
				return nil
			case update, ok := <-updates:
				if !ok {
					logger.Info("updates channel closed")
					stop()
					return nil
				}

				dispatch(func(ctx context.Context) {
					if err := handler.HandleUpdate(ctx, update); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("handle update failed", "err", err)
					}
				})
			}
		}
	})

	err = g.Wait()
	handler.Wait()
	return err
}
