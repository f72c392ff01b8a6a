package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/ironstar-game/ironstar/server"
	"github.com/ironstar-game/ironstar/store"
)

type options struct {
	Addr                string `short:"a" long:"addr" default:":8080" description:"Listen address for the notification hub"`
	DBPath              string `short:"d" long:"db" default:"ironstar.db" description:"Path to the sqlite database"`
	PersistenceInterval int    `long:"persistence-interval" default:"30" description:"Seconds between cache write-backs"`
	NoAutoPersistence   bool   `long:"no-auto-persistence" description:"Disable background flush timers (flush synchronously)"`
	LogStats            bool   `long:"log-stats" description:"Log periodic cache statistics"`
	WorldWidth          float64 `long:"world-width" default:"5000" description:"World width"`
	WorldHeight         float64 `long:"world-height" default:"5000" description:"World height"`
	TickInterval        int    `long:"tick-interval" default:"1" description:"Battle scheduler period in seconds"`
	Debug               bool   `long:"debug" description:"Enable debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	cfg := server.DefaultConfig()
	cfg.Addr = opts.Addr
	cfg.DBPath = opts.DBPath
	cfg.PersistenceInterval = time.Duration(opts.PersistenceInterval) * time.Second
	cfg.AutoPersistence = !opts.NoAutoPersistence
	cfg.LogStats = opts.LogStats
	cfg.WorldWidth = opts.WorldWidth
	cfg.WorldHeight = opts.WorldHeight
	cfg.TickInterval = time.Duration(opts.TickInterval) * time.Second

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
	}

	srv := server.New(cfg, st, logger)
	if err := srv.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	logger.Info().Str("addr", cfg.Addr).Msg("ironstar server running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}
