package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/streamhub/internal/api"
	"github.com/mattjoyce/streamhub/internal/broker"
	"github.com/mattjoyce/streamhub/internal/config"
	"github.com/mattjoyce/streamhub/internal/journal"
	"github.com/mattjoyce/streamhub/internal/narrator"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		if err := runStart(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "watch":
		if err := runWatch(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("streamhub %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: streamhub <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  start     Start the StreamHub service")
	fmt.Fprintln(os.Stderr, "  watch     Watch a session event stream in a TUI")
	fmt.Fprintln(os.Stderr, "  version   Print version")
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch cfg.Service.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting streamhub", "version", version, "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional audit journal
	var opts []broker.Option
	var jnl *journal.Journal
	if cfg.Journal.Path != "" {
		db, err := journal.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal database: %w", err)
		}
		defer db.Close()

		jnl = journal.New(db, cfg.Journal.QueueSize, logger)
		go jnl.Start(ctx)
		opts = append(opts, broker.WithSink(jnl))
	}

	// Create broker and start its TTL sweeper
	b := broker.New(broker.Config{
		HistoryLimit:     cfg.Broker.HistoryLimit,
		SessionTTL:       cfg.Broker.SessionTTL,
		SweepInterval:    cfg.Broker.SweepInterval,
		SubscriberBuffer: cfg.Broker.SubscriberBuffer,
	}, logger, opts...)
	go b.Start(ctx)

	// Optional narrator worker
	var asks api.AskQueue
	var narr *narrator.Narrator
	if cfg.LLM.Provider != "" {
		chatModel, err := narrator.NewChatModel(ctx, cfg.LLM)
		if err != nil {
			return fmt.Errorf("create llm provider: %w", err)
		}
		narr = narrator.New(chatModel, b, 0, logger)
		go narr.Start(ctx)
		asks = narr
	}

	// Create and start API server
	srv := api.New(api.Config{
		Listen:            cfg.API.Listen,
		Token:             cfg.API.Token,
		KeepaliveInterval: cfg.API.KeepaliveInterval,
	}, b, asks, logger)

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		waitForShutdown(logger, b, jnl, narr)
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}

func waitForShutdown(logger *slog.Logger, b *broker.Broker, jnl *journal.Journal, narr *narrator.Narrator) {
	deadline := time.After(10 * time.Second)
	wait := func(name string, done <-chan struct{}) {
		select {
		case <-done:
			logger.Info(name + " stopped gracefully")
		case <-deadline:
			logger.Warn(name + " did not stop within 10s, exiting anyway")
		}
	}
	wait("broker", b.Done())
	if narr != nil {
		wait("narrator", narr.Done())
	}
	if jnl != nil {
		wait("journal", jnl.Done())
	}
}
