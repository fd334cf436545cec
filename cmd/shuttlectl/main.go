package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/treadle/loomctl/internal/config"
	"github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/observability"
	"github.com/treadle/loomctl/internal/shuttle"
)

// shuttlectl is the worker half of a proc substrate: the loom spawns it,
// stdin/stdout carry envelope frames, and everything loggable goes to stderr.
func main() {
	configPath := flag.String("config", "", "path to a shuttle config file (toml)")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("shuttle")

	var cfg config.ShuttleConfig
	if *configPath != "" {
		loaded, err := config.LoadShuttleConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load shuttle config")
		}
		log.Info().Str("path", *configPath).Msg("loaded shuttle config")
		cfg = loaded
	}

	entries, bootstraps, err := config.ShuttleRegistries(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build shuttle registries")
	}

	rt, err := shuttle.NewRuntime(shuttle.Config{
		WorkerID:   cfg.WorkerID,
		Entries:    entries,
		Bootstraps: bootstraps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build shuttle runtime")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("worker_id", rt.WorkerID()).Msg("shuttle started")
	if err := rt.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("shuttle stopped")
	}
	log.Info().Str("worker_id", rt.WorkerID()).Msg("shuttle exited")
}
