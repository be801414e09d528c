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

	"github.com/tomek7667/rendermon/internal/agent"
	"github.com/tomek7667/rendermon/internal/logging"
	"github.com/tomek7667/rendermon/internal/version"
)

func main() {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	def := agent.DefaultConfig()
	app := &cli.App{
		Name:        "rendernode",
		Description: "samples CPU, GPU, memory and the active application of a render node and reports them to rendermon",
		Usage:       "report this node to the render farm monitor",
		Version:     version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "monitor",
				Aliases: []string{"m"},
				EnvVars: []string{"RENDERNODE_MONITOR"},
				Value:   def.Target,
				Usage:   "UDP address of the monitor",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				EnvVars: []string{"RENDERNODE_NAME"},
				Usage:   "node name (default: upper-cased short hostname)",
			},
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				EnvVars: []string{"RENDERNODE_INTERVAL"},
				Value:   def.Interval,
			},
			&cli.StringSliceFlag{
				Name:    "watch",
				EnvVars: []string{"RENDERNODE_WATCH"},
				Value:   cli.NewStringSlice(def.WatchApps...),
				Usage:   "applications reported in preference to the busiest process",
			},
			&cli.Float64Flag{
				Name:  "min-app-cpu",
				Value: def.MinAppCPU,
				Usage: "CPU percent a process needs to be reported when no watched application runs",
			},
			&cli.StringFlag{
				Name:    "nvidia-smi",
				EnvVars: []string{"RENDERNODE_NVIDIA_SMI"},
				Usage:   "path to nvidia-smi (default: search PATH)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
			&cli.BoolFlag{
				Name: "production",
			},
		},
		CommandNotFound: func(c *cli.Context, command string) {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
			cli.ShowAppHelpAndExit(c, 1)
		},
		Action: func(c *cli.Context) error {
			logger, err := logging.New(logging.Options{
				Production: c.Bool("production"),
				Level:      c.String("log-level"),
			})
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := agent.New(agent.Config{
				Name:         c.String("name"),
				Target:       c.String("monitor"),
				Interval:     c.Duration("interval"),
				WatchApps:    c.StringSlice("watch"),
				MinAppCPU:    c.Float64("min-app-cpu"),
				NvidiaSMI:    c.String("nvidia-smi"),
				ProbeTimeout: def.ProbeTimeout,
			}, logger.Named("agent"))

			logger.Info("starting rendernode", zap.String("version", c.App.Version))
			return a.Run(ctx)
		},
		BashComplete: cli.ShowCompletions,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
