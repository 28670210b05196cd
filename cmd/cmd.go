package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/roster-push-service/config"
)

const (
	ServiceName      = "roster-push-service"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Targeted real-time event push for the roster platform",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			monitorCmd(),
			emitCmd(),
			listenCmd(),
		},
	}

	return app.Run(os.Args)
}

func configFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config_file",
		Usage:   "Path to the configuration file",
		EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
	}
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the push server",
		ArgsUsage: "[-- --http.addr=:8080 ...]",
		Flags:     []cli.Flag{configFileFlag()},
		Action: func(c *cli.Context) error {
			// everything after "--" goes to the config flag set
			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Slice())
			if err != nil {
				return err
			}
			cfg.Service.Version = version

			app := NewApp(cfg)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			slog.Info("SERVICE_STARTED",
				"version", version,
				"commit", commit,
				"commit_date", commitDate,
				"branch", branch,
				"build", buildTimestamp,
			)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			return app.Stop(context.Background())
		},
	}
}
