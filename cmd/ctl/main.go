// Command ctl is the operator CLI for the bankruptcy watch bot: schema
// migrations, registry ingestion and per-chat maintenance against the bot's
// SQLite database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bankrupt_bot/internal/config"
	"bankrupt_bot/internal/fetcher"
	"bankrupt_bot/internal/ingest"
	"bankrupt_bot/internal/matcher"
	"bankrupt_bot/internal/metrics"
	"bankrupt_bot/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:           "ctl",
	Short:         "Operator tools for the bankruptcy watch bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite database (env DATABASE_PATH)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	_ = viper.BindPFlag("database_path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("loglevel"))
}

// initConfig reads .env and the environment; flags take precedence.
func initConfig() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	viper.AutomaticEnv()
	viper.SetDefault("database_path", "./data/bot.db")
	viper.SetDefault("log_level", "warn")
}

// app holds the components the data commands share.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.SQLite
	matcher  *matcher.Matcher
	ingester *ingest.Ingester
}

func openApp() (*app, error) {
	cfg, err := config.LoadCommon()
	if err != nil {
		return nil, err
	}
	cfg.DatabasePath = viper.GetString("database_path")
	cfg.LogLevel = viper.GetString("log_level")
	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	src := fetcher.New(fetcher.NewRetryingClient(cfg.FetchTimeout, log), fetcher.Source{
		BaseURL:     cfg.APIBaseURL,
		DatasetID:   cfg.DatasetID,
		FallbackURL: cfg.FallbackCSVURL,
	}, log)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		matcher:  matcher.New(store, log),
		ingester: ingest.New(src, store, metrics.New(), log),
	}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
