package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"bankrupt_bot/internal/bot"
	"bankrupt_bot/internal/config"
	"bankrupt_bot/internal/fetcher"
	"bankrupt_bot/internal/ingest"
	"bankrupt_bot/internal/matcher"
	"bankrupt_bot/internal/metrics"
	"bankrupt_bot/internal/model"
	"bankrupt_bot/internal/scheduler"
	"bankrupt_bot/internal/storage"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	mt := metrics.New()
	if st, err := store.IngestState(context.Background()); err == nil {
		mt.SetRegistryRecords(st.Records)
	}

	httpClient := fetcher.NewRetryingClient(cfg.FetchTimeout, log)
	src := fetcher.New(httpClient, fetcher.Source{
		BaseURL:     cfg.APIBaseURL,
		DatasetID:   cfg.DatasetID,
		FallbackURL: cfg.FallbackCSVURL,
	}, log)
	in := ingest.New(src, store, mt, log)
	m := matcher.New(store, log)

	b, err := bot.New(cfg.TelegramBotToken, store, m, in, httpClient, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, m, in, b, mt, scheduler.Options{
		Hour:        cfg.CheckHour,
		Minute:      cfg.CheckMin,
		Location:    cfg.Location,
		Cutoff:      cfg.Cutoff,
		Workers:     cfg.Workers,
		NotifyEmpty: cfg.NotifyEmpty,
		AdminChatID: cfg.AdminChatID,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot",
		"check_time", fmt.Sprintf("%02d:%02d", cfg.CheckHour, cfg.CheckMin),
		"timezone", cfg.Location.String(),
		"cutoff", model.FormatEventDate(cfg.Cutoff),
		"workers", cfg.Workers,
	)

	var wg sync.WaitGroup
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mt.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	b.Run(ctx)
	wg.Wait()

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
