package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/color-tally/backend/internal/client"
	"github.com/color-tally/backend/internal/config"
	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/logx"
)

var serverFlag = &cli.StringFlag{
	Name:    "server",
	Aliases: []string{"s"},
	Usage:   "Server base URL",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"TALLY_SERVER"},
}

func voteCommand() *cli.Command {
	return &cli.Command{
		Name:      "vote",
		Usage:     "Cast votes for a color",
		ArgsUsage: "<red|green|blue|purple>",
		Flags: []cli.Flag{
			serverFlag,
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Number of votes to cast",
				Value:   1,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("vote takes exactly one color", 1)
			}
			color, err := counter.ParseColor(c.Args().First())
			if err != nil {
				return cli.Exit(fmt.Errorf("%w: %q", err, c.Args().First()), 1)
			}

			hc := client.NewHTTPClient(c.String("server"))
			for i := 0; i < c.Int("count"); i++ {
				if err := hc.Increment(color); err != nil {
					return cli.Exit(err, 1)
				}
			}

			counts, err := hc.Counters()
			if err != nil {
				return cli.Exit(err, 1)
			}
			fmt.Fprintf(c.App.Writer, "%s=%d total=%d\n", color, counts.Get(color), counts.Total)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream live counter updates",
		Flags: []cli.Flag{serverFlag},
		Action: func(c *cli.Context) error {
			log := logx.NewWithWriter(config.LogConfig{Level: "info"}, c.App.ErrWriter)
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			endpoint, err := wsURL(c.String("server"))
			if err != nil {
				return cli.Exit(err, 1)
			}

			var tally client.Tally
			return client.Watch(ctx, endpoint, log, func(ev client.Event) {
				tally.Apply(ev)
				fmt.Fprintf(c.App.Writer, "%-50s | red=%d green=%d blue=%d purple=%d total=%d users=%d\n",
					ev, tally.Counts.Red, tally.Counts.Green, tally.Counts.Blue, tally.Counts.Purple,
					tally.Counts.Total, tally.Users)
			})
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Output default configuration file",
		Description: `Output the default configuration to stdout or a file.

	tally config > config.yaml
	tally config --write`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "write",
				Aliases: []string{"w"},
				Usage:   "Write config to config.yaml instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			data, err := config.Default().Marshal()
			if err != nil {
				return cli.Exit(err, 1)
			}

			if c.Bool("write") {
				outputFile := "config.yaml"
				if err := os.WriteFile(outputFile, data, 0o644); err != nil {
					return cli.Exit(fmt.Errorf("error writing config to %q: %w", outputFile, err), 1)
				}
				fmt.Fprintf(c.App.Writer, "Configuration written to %s\n", outputFile)
				return nil
			}

			if _, err := c.App.Writer.Write(data); err != nil {
				return cli.Exit(fmt.Errorf("error writing config: %w", err), 1)
			}
			return nil
		},
	}
}

// wsURL maps a server base URL onto its WebSocket endpoint.
func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: missing host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws"
	return u.String(), nil
}
