package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tally",
		Usage: "Realtime shared color counter",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   "config.yaml",
				EnvVars: []string{"TALLY_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override server port",
				EnvVars: []string{"TALLY_PORT"},
			},
			&cli.BoolFlag{
				Name:  "mock",
				Usage: "Generate fake votes",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "Serve the frontend from disk instead of the binary",
			},
			&cli.StringFlag{
				Name:  "frontend-dir",
				Usage: "Frontend directory used with --dev",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			voteCommand(),
			watchCommand(),
			configCommand(),
		},
	}
}
