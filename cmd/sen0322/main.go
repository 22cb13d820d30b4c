package main

import (
	"errors"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/oxygen/config"
)

// cfg is loaded once before any command runs.
var cfg *config.Config

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := cli.NewApp()
	app.Name = "sen0322"
	app.EnableBashCompletion = true
	app.Version = config.BuildInfo()
	app.Usage = "DFRobot SEN0322 oxygen sensor cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging and raw transaction dumps",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "yaml configuration file",
			EnvVars: []string{"SEN0322_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: ".env files to load before reading the environment",
		},
	}
	// exit codes are returned from run instead of terminating the process
	app.ExitErrHandler = func(c *cli.Context, err error) {}
	app.Before = func(c *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		slog.SetDefault(slog.New(charm))

		if err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
			return cli.Exit(err.Error(), 2)
		}
		var err error
		cfg, err = config.Load(c.String("config"))
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		if c.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
			return nil
		}
		level, err := chlog.ParseLevel(cfg.Log.Level)
		if err != nil {
			slog.Warn("unknown log level, using info", "level", cfg.Log.Level)
			return nil
		}
		charm.SetLevel(level)
		return nil
	}
	app.Commands = cli.Commands{
		&readCmd,
		&watchCmd,
		&configCmd,
		&calibrationCmd,
		&mcp2221Cmd,
	}
	err := app.Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		return 1
	}
	return 0
}
