package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/logtrace"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/apis"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/capacity"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/config"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/memory"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/postgresql"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/health"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/lifecycle"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/provisioner"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/routing"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/server"
)

func init() {
	logtrace.InitLogger()
}

type cmdoptions struct {
	configFile *string
}

func main() {
	slog := log.With().Str("state", "init").Logger()
	opt := parseFlags()

	slog.Info().Str("config_file", *opt.configFile).Msg("loading config file")
	if err := config.LoadConfig(*opt.configFile); err != nil {
		slog.Error().Str("config_file", *opt.configFile).Err(err).Msg("unable to load config file")
		os.Exit(1)
	}
	cfg := config.Config()
	if cfg.Server.Port == "" {
		slog.Error().Msg("server port not defined")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error().Err(err).Msg("unable to open store")
		os.Exit(1)
	}
	defer store.Close(ctx)

	tenantProv, shardProv := newProvisioners(cfg)

	router := routing.NewRouter(store)
	router.SetVirtualNodes(cfg.Routing.VirtualNodes)

	capman := capacity.NewManager(store, shardProv, capacity.Config{
		UtilizationThreshold: cfg.Capacity.UtilizationThreshold,
		ShardCapacity:        cfg.Capacity.ShardCapacity,
		Region:               cfg.Capacity.Region,
		ShardIdPrefix:        cfg.Capacity.ShardIdPrefix,
	})

	machine := lifecycle.NewMachine(store, tenantProv, router, capman, lifecycle.Config{
		RetryAttempts:     cfg.Lifecycle.RetryAttempts,
		RetryBaseDelay:    config.Duration(cfg.Lifecycle.RetryBaseDelay, 1*time.Second),
		LockTTL:           config.Duration(cfg.Lifecycle.LockTTL, 5*time.Minute),
		JobTimeout:        config.Duration(cfg.Lifecycle.JobTimeout, 30*time.Minute),
		MaxConcurrentJobs: cfg.Lifecycle.MaxConcurrentJobs,
	})

	monitor := health.NewMonitor(store, health.Config{
		Interval:          config.Duration(cfg.Health.Interval, 15*time.Second),
		ProbeTimeout:      config.Duration(cfg.Health.ProbeTimeout, 3*time.Second),
		FailureThreshold:  cfg.Health.FailureThreshold,
		RecoveryThreshold: cfg.Health.RecoveryThreshold,
		EndpointTemplate:  cfg.Health.EndpointTemplate,
	})

	go monitor.Run(ctx)
	go capman.Run(ctx, config.Duration(cfg.Capacity.CheckInterval, 60*time.Second))

	s, err := server.CreateNewServer(&apis.Services{
		Store:    store,
		Machine:  machine,
		Capacity: capman,
	})
	if err != nil {
		slog.Error().Err(err).Msg("unable to create server")
		os.Exit(1)
	}
	s.MountHandlers()

	slog.Info().Str("port", cfg.Server.Port).Msg("fleet server listening")
	if err := http.ListenAndServe(":"+cfg.Server.Port, s.Router); err != nil {
		slog.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func newStore(ctx context.Context, cfg *config.ConfigParam) (db.Store, error) {
	switch cfg.Store.Backend {
	case "postgresql":
		store, err := postgresql.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memory.New(), nil
	}
}

func newProvisioners(cfg *config.ConfigParam) (provisioner.Provisioner, provisioner.Provisioner) {
	if cfg.Provisioner.Backend == "cli" {
		tenantProv := provisioner.NewCLIProvisioner(cfg.Provisioner.Binary, cfg.Provisioner.WorkDir)
		shardWorkDir := cfg.Provisioner.ShardWorkDir
		if shardWorkDir == "" {
			shardWorkDir = cfg.Provisioner.WorkDir
		}
		shardProv := provisioner.NewCLIProvisioner(cfg.Provisioner.Binary, shardWorkDir)
		return tenantProv, shardProv
	}
	fake := provisioner.NewFake()
	return fake, fake
}

func parseFlags() cmdoptions {
	var opt cmdoptions
	opt.configFile = flag.String("config", "", "Path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt
}
