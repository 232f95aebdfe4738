package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/qcw_analyzer_go/internal/config"
	"github.com/user/qcw_analyzer_go/internal/logging"
	"github.com/user/qcw_analyzer_go/internal/notify"
	"github.com/user/qcw_analyzer_go/internal/server"
	"github.com/user/qcw_analyzer_go/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional, $QCW_CONFIG also honored)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "qcw_analyzer:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	store, err := storage.NewSQLite(cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Init(ctx); err != nil {
		return err
	}

	notifier := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
	if !notifier.Enabled() {
		logger.Info("telegram notifications disabled")
	}

	srv := server.New(cfg, store, notifier, logger)
	done := srv.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	<-done
	return nil
}
