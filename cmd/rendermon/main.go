package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tomek7667/rendermon/internal/config"
	"github.com/tomek7667/rendermon/internal/http"
	"github.com/tomek7667/rendermon/internal/ingest"
	"github.com/tomek7667/rendermon/internal/json"
	"github.com/tomek7667/rendermon/internal/logging"
	"github.com/tomek7667/rendermon/internal/monitor"
	"github.com/tomek7667/rendermon/internal/probe"
	"github.com/tomek7667/rendermon/internal/store"
	"github.com/tomek7667/rendermon/internal/version"
)

func main() {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	app := &cli.App{
		Name:        "rendermon",
		Description: "collects render node telemetry, storage usage and link health into one live JSON snapshot",
		Usage:       "run the render farm monitor",
		Version:     version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"RENDERMON_CONFIG"},
				Usage:   "path to a YAML config file (default: search ./rendermon.yaml, /etc/rendermon/rendermon.yaml)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				EnvVars: []string{"PORT"},
				Usage:   "HTTP port for the snapshot and dashboard",
			},
			&cli.StringFlag{
				Name:  "udp-addr",
				Usage: "address node telemetry is received on",
			},
			&cli.StringFlag{
				Name:  "json-output",
				Usage: "also write every snapshot to this file",
			},
			&cli.StringFlag{
				Name:  "web-dir",
				Usage: "serve this directory instead of the built-in dashboard",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "production",
				Usage: "JSON logs",
			},
		},
		CommandNotFound: func(c *cli.Context, command string) {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
			cli.ShowAppHelpAndExit(c, 1)
		},
		Action:       run,
		BashComplete: cli.ShowCompletions,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Production: cfg.Log.Production,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting rendermon",
		zap.String("version", c.App.Version),
		zap.String("config", cfg.File),
		zap.String("counter_source", cfg.CounterSource),
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(cfg.HistoryLength)

	mon := monitor.New(monitor.Config{
		CounterInterval: cfg.CounterInterval,
		HealthInterval:  cfg.HealthInterval,
		ProbeTimeout:    cfg.ProbeTimeout,
		Mounts:          cfg.Mounts,
		InternalHosts:   cfg.InternalHosts,
		ExternalHosts:   cfg.ExternalHosts,
	}, st, buildProbes(cfg), nil, logger.Named("monitor"))

	listener := ingest.New(cfg.UDPAddr, st, logger.Named("ingest"))

	server, err := http.New(http.Options{
		Port:       cfg.HTTPPort,
		WebDir:     cfg.WebDir,
		NodeMaxAge: cfg.NodeMaxAge,
	}, st, logger.Named("http"))
	if err != nil {
		return err
	}
	server.AddStatusRoutes()
	server.AddNodeRoutes()
	server.AddDashboardRoute()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Serve(ctx) })
	g.Go(func() error { return mon.RunCounters(ctx) })
	g.Go(func() error { return mon.RunHealth(ctx) })
	g.Go(func() error { return server.Serve(ctx) })
	if cfg.JSONOutput != "" {
		sink := json.New(cfg.JSONOutput, st, logger.Named("jsonsink"))
		g.Go(func() error { return sink.Run(ctx) })
	}

	err = g.Wait()
	if err != nil {
		logger.Error("rendermon stopped", zap.Error(err))
		return err
	}
	logger.Info("rendermon stopped")
	return nil
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("port") {
		cfg.HTTPPort = c.Int("port")
	}
	if c.IsSet("udp-addr") {
		cfg.UDPAddr = c.String("udp-addr")
	}
	if c.IsSet("json-output") {
		cfg.JSONOutput = c.String("json-output")
	}
	if c.IsSet("web-dir") {
		cfg.WebDir = c.String("web-dir")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("production") {
		cfg.Log.Production = c.Bool("production")
	}
}

func buildProbes(cfg config.Config) monitor.Probes {
	p := monitor.Probes{
		Pinger: probe.ExecPinger{Timeout: cfg.ProbeTimeout},
		Disks:  probe.NewLocalDisks(cfg.ProbeTimeout, cfg.RequireMount),
	}
	switch cfg.CounterSource {
	case config.CounterSourceSNMP:
		p.Counters = probe.NewSNMPCounters(probe.SNMPConfig{
			Target:       cfg.SNMP.Target,
			Port:         uint16(cfg.SNMP.Port),
			Community:    cfg.SNMP.Community,
			IfIndex:      cfg.SNMP.IfIndex,
			HighCapacity: cfg.SNMP.HighCapacity,
			Timeout:      cfg.ProbeTimeout,
		})
	case config.CounterSourceIface:
		p.Counters = probe.InterfaceCounters{Name: cfg.Interface}
	}
	return p
}
