// homedash serves home-lab dashboards: links, notes, upcoming calendar
// events and unread Telegram chats, one JSON document per dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bryan-buckman/homedash/internal/calendar"
	"github.com/bryan-buckman/homedash/internal/config"
	"github.com/bryan-buckman/homedash/internal/database"
	"github.com/bryan-buckman/homedash/internal/logging"
	"github.com/bryan-buckman/homedash/internal/server"
	"github.com/bryan-buckman/homedash/internal/telegram"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("homedash", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flagSet.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for dashboard documents")
	flagSet.StringVar(&cfg.Storage, "storage", cfg.Storage, "storage backend: file, sqlite or postgres")
	flagSet.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory of the built frontend")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Using database", "type", store.DatabaseType())

	factory := telegram.Disabled()
	if cfg.TelegramEnabled() {
		factory = telegram.NewMTProtoFactory(cfg.TelegramAppID, cfg.TelegramAppHash)
	} else {
		logger.Warn("TELEGRAM_APP_ID/TELEGRAM_APP_HASH not set, unread chats are unavailable")
	}
	pool := telegram.NewPool(factory, cfg.SessionConnectRetries, logger.With("component", "telegram"))
	defer pool.Close()

	unread := telegram.NewUnread(pool, telegram.UnreadOptions{
		TTL:         cfg.UnreadCacheTTL,
		DialogLimit: cfg.UnreadDialogLimit,
		Logger:      logger.With("component", "unread"),
	})
	events := calendar.New(calendar.Options{
		Client:    calendar.NewHTTPClient(cfg.CalendarFetchTimeout),
		MaxEvents: cfg.CalendarMaxEvents,
		Logger:    logger.With("component", "calendar"),
	})

	srv := server.New(server.Options{
		Store:     store,
		Unread:    unread,
		Calendar:  events,
		StaticDir: cfg.StaticDir,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(":" + cfg.Port) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return nil
}

func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		return database.NewPostgres(cfg.DatabaseURL)
	case config.StorageSQLite:
		path := cfg.SQLiteFile()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return database.New(path)
	default:
		slog.Debug("Using file storage", "dir", cfg.DataDir)
		return database.NewFileStore(cfg.DataDir)
	}
}
