package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/feedgen/internal/cache"
	"github.com/blackmichael/feedgen/internal/config"
	"github.com/blackmichael/feedgen/internal/firehose"
	"github.com/blackmichael/feedgen/internal/httpapi"
	"github.com/blackmichael/feedgen/internal/matcher"
	"github.com/blackmichael/feedgen/internal/retention"
	"github.com/blackmichael/feedgen/internal/store"
	"github.com/blackmichael/feedgen/internal/timeline"
)

func main() {
	showVersion := flag.Bool("version", false, "print the build version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(config.Version())
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	logger.Info("connected to database", "dsn", cfg.DatabaseURL)

	feeds, err := config.LoadFeeds(cfg.FeedsPath)
	if err != nil {
		return fmt.Errorf("load feeds config: %w", err)
	}

	timelineFeeds, err := config.LoadTimelineFeeds(cfg.TimelineFeedsPath)
	if err != nil {
		return fmt.Errorf("load timeline feeds config: %w", err)
	}
	if err := s.SyncTimelineConfig(timelineFeeds, time.Now().Unix()); err != nil {
		return fmt.Errorf("sync timeline config: %w", err)
	}

	matcherFeeds, err := matcher.FromConfig(feeds, logger)
	if err != nil {
		return fmt.Errorf("build matchers: %w", err)
	}

	scoringCache, err := cache.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("open scoring cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.ConsumerTaskEnable {
		var dictionary []byte
		if cfg.Compression {
			dictionary, err = os.ReadFile(cfg.ZstdDictionary)
			if err != nil {
				return fmt.Errorf("read zstd dictionary: %w", err)
			}
		}

		subscriber := firehose.New(firehose.Config{
			Hostname:    cfg.JetstreamHostname,
			Compression: cfg.Compression,
			Collections: cfg.Collections,
			UserAgent:   cfg.UserAgent,
			Dictionary:  dictionary,
		}, matcherFeeds, s, logger)

		go func() {
			if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firehose subscriber exited with error", "error", err)
				cancel()
			}
		}()
	}

	if len(timelineFeeds.TimelineFeeds) > 0 {
		consumer := timeline.New(timelineFeeds, cfg.PollInterval, s, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("timeline consumer exited with error", "error", err)
				cancel()
			}
		}()
	}

	if cfg.CacheTaskEnable {
		builder := cache.NewBuilder(scoringCache, s, feeds, cfg.CacheTaskInterval, logger)
		go builder.Run(ctx)
	}

	if cfg.CleanupTaskEnable {
		cleanupTask := retention.New(s, cfg.CleanupTaskInterval, cfg.CleanupTaskMaxAge, logger)
		go cleanupTask.Run(ctx)
	}

	server := httpapi.New(cfg, s, scoringCache, feeds, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.HTTPPort, "external_base", cfg.ExternalBase)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down after task failure")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
