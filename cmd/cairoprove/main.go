package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/seantiz/cairoprove/internal/api"
	"github.com/seantiz/cairoprove/internal/config"
	"github.com/seantiz/cairoprove/internal/engine"
	"github.com/seantiz/cairoprove/internal/notify"
	"github.com/seantiz/cairoprove/internal/pipeline"
	"github.com/seantiz/cairoprove/internal/stage"
	"github.com/seantiz/cairoprove/internal/stage/docker"
	"github.com/seantiz/cairoprove/internal/store"
	"github.com/seantiz/cairoprove/internal/workdir"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("cairoprove: starting",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.Store,
		"runner", cfg.Runner,
		"workdir_root", cfg.WorkdirRoot,
		"max_concurrent", cfg.MaxConcurrent,
	)

	if err := run(cfg, logger); err != nil {
		log.Fatalf("cairoprove: %v", err)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	dirs, err := workdir.NewManager(cfg.WorkdirRoot, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dirs.RunSweeper(ctx, cfg.SweepInterval, cfg.Retention)

	// Stages run with the job directory as their working directory.
	proverConfig, err := filepath.Abs(cfg.ProverConfig)
	if err != nil {
		return fmt.Errorf("resolve prover config: %w", err)
	}

	reg := stage.NewRegistry()
	reg.Register(config.RunnerProcess, stage.NewProcessRunner())
	if cfg.DockerImage != "" {
		dr, err := docker.New(docker.Config{
			Image:         cfg.DockerImage,
			ReadOnlyPaths: []string{proverConfig},
		}, logger)
		if err != nil {
			return err
		}
		defer dr.Close()
		reg.Register(config.RunnerDocker, dr)
	}
	runner, err := reg.Get(cfg.Runner)
	if err != nil {
		return err
	}

	exec := pipeline.New(pipeline.Config{
		Binaries:     cfg.Binaries,
		ProverConfig: proverConfig,
		StageTimeout: cfg.StageTimeout,
		Params:       cfg.Params,
	}, runner, logger)

	var pub notify.Publisher = notify.Nop{}
	if cfg.RedisURL != "" {
		rp, err := notify.NewRedisPublisher(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return err
		}
		if err := rp.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, job events will be dropped until it recovers", "error", err)
		}
		pub = rp
	}
	defer pub.Close()

	eng := engine.NewEngine(db, exec, pub, engine.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		KeepFailed:    cfg.KeepFailed,
	}, logger)
	defer eng.Close()

	srv := api.NewServer(api.Options{
		Addr:         cfg.ListenAddr,
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: int64(cfg.MaxBodyMB) << 20,
	}, api.Deps{
		Store:     db,
		Engine:    eng,
		Workdirs:  dirs,
		Verifier:  exec,
		Runners:   reg,
		Publisher: pub,
		Logger:    logger,
	})

	return srv.Run()
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return store.NewSQLiteStore(cfg.DBPath)
	case config.StoreBadger:
		return store.NewBadgerStore(cfg.BadgerDir)
	default:
		return store.NewMemoryStore(), nil
	}
}
