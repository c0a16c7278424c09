package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"poolguard/internal/auth"
	"poolguard/internal/config"
	"poolguard/internal/database"
	"poolguard/internal/evaluator"
	"poolguard/internal/pipeline"
	"poolguard/internal/services"
	"poolguard/internal/source"
	"poolguard/internal/stream"
	"poolguard/internal/telegram"
	"poolguard/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Setup logger
	logger := log.New(os.Stderr, "[poolguard] ", log.Ltime)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("exiting: %v", err)
	}
	logger.Println("exited")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pipeline state, owned here and handed to each component
	var (
		buffer = pipeline.NewCaptureBuffer(cfg.Pipeline.BufferCapacity)
		cache  = pipeline.NewResultCache(cfg.Pipeline.CacheCapacity)
		slot   = pipeline.NewResultSlot()
		bus    = pipeline.NewEventBus()
	)
	defer bus.Close()

	src, err := source.New(cfg.Source, buffer)
	if err != nil {
		return fmt.Errorf("frame source: %w", err)
	}

	eval, err := evaluator.New(cfg.Evaluator)
	if err != nil {
		return fmt.Errorf("evaluator: %w", err)
	}
	defer eval.Close()

	driver := pipeline.NewInferenceDriver(buffer, eval, cache, slot, bus, cfg.DriverConfig())
	if cfg.Stream.HUD {
		driver.SetDecorator(stream.HUD(cfg.Pipeline.JPEGQuality))
	}

	// Alert history
	var (
		db       *database.Database
		recorder *database.Recorder
	)
	if cfg.Database.Path != "" {
		db, err = database.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}
		recorder = database.NewRecorder(db, cfg.Database.Retention)
		bus.Subscribe(recorder)
		logger.Printf("alert history stored in %s", cfg.Database.Path)
	}

	hub := ws.NewHub()
	authenticator := auth.NewAuthenticator(cfg.Auth)
	if authenticator.IsEnabled() {
		logger.Printf("API authentication enabled for user %q", cfg.Auth.Username)
	}

	g, ctx := errgroup.WithContext(ctx)
	if recorder != nil {
		g.Go(func() error { return recorder.Run(ctx) })
	}

	// Telegram notifications
	if cfg.Telegram.Enabled {
		bot := telegram.NewBot(cfg.Telegram)

		var onSent func(string)
		var alerts telegram.AlertLister
		if db != nil {
			onSent = recorder.MarkNotified
			alerts = db
		}

		notifier := telegram.NewNotifier(bot, slot.LatestImage, onSent)
		bus.SubscribeLevel(pipeline.WarningHigh, notifier)
		commands := telegram.NewCommandHandler(bot, slot, driver.Stats, alerts)
		if db != nil {
			if err := commands.SetSettings(db); err != nil {
				logger.Printf("telegram settings: %v", err)
			}
		}

		g.Go(func() error { return notifier.Run(ctx) })
		g.Go(func() error { return commands.StartPolling(ctx) })
	}

	// Services
	var (
		healthSvc   *services.HealthImplementation
		analysisSvc = services.NewAnalysisService(slot)
		systemSvc   = services.NewSystemService(src, buffer, driver, eval)
		alertsSvc   *services.AlertsImplementation
		authSvc     = services.NewAuthService(authenticator)
		mjpeg       = stream.NewMJPEGHandler(slot, float64(cfg.Stream.Rate))
	)
	if db != nil {
		healthSvc = services.NewHealthService(slot, db)
		alertsSvc = services.NewAlertsService(db)
	} else {
		healthSvc = services.NewHealthService(slot, nil)
	}
	systemSvc.SetClientCounters(mjpeg, hub.ClientCount)

	server := services.NewServer(healthSvc, analysisSvc, systemSvc, alertsSvc, authSvc, logger)
	handler := newHTTPHandler(server, mjpeg, stream.NewSnapshotHandler(slot), ws.NewHandler(hub), authenticator, logger, cfg.HTTP.Debug)

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("frame source: %w", err)
	}
	defer src.Stop()

	g.Go(func() error { return driver.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx, bus) })
	g.Go(func() error { return serveHTTP(ctx, cfg.HTTP.Addr, handler, logger) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
