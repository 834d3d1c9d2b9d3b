package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkmesh/config"
	"github.com/jaywantadh/chunkmesh/pkg/env"
	"github.com/jaywantadh/chunkmesh/pkg/logging"
)

// cfg is loaded once in Before and shared by every command.
var cfg *config.AppConfig

func main() {
	app := &cli.App{
		Name:  "chunkmesh",
		Usage: "Share files as chunks spread across peer storage nodes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "./config",
				Usage: "directory holding config.yaml",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			logging.InitLogger(c.Bool("debug"))
			env.LoadEnv(logging.Component("env"))

			loaded, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if loaded.Debug && !c.Bool("debug") {
				logging.InitLogger(true)
			}
			cfg = loaded
			return nil
		},
		Commands: []*cli.Command{
			trackerCommand(),
			peerCommand(),
			sourceCommand(),
			sinkCommand(),
			reconcileCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Log.Fatal(err)
	}
}
