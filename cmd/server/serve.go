package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/color-tally/backend/internal/config"
	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/frontend"
	"github.com/color-tally/backend/internal/hub"
	"github.com/color-tally/backend/internal/logx"
	"github.com/color-tally/backend/internal/metrics"
	"github.com/color-tally/backend/internal/mock"
	"github.com/color-tally/backend/internal/persist"
	"github.com/color-tally/backend/internal/ws"
)

const schedulerStopWait = 10 * time.Second

func serve(c *cli.Context) error {
	cfgPath := c.String("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to load config: %w", err), 1)
	}
	if p := c.Int("port"); p > 0 {
		cfg.Server.Port = p
	}

	log := logx.New(cfg.Log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := counter.NewStore()
	presence := counter.NewPresence()
	persist.Load(cfg.Snapshot.Path, store, presence, component(log, "persist"))

	h := hub.New(cfg.Session.SendBuffer)
	state := ws.NewState(store, presence, h, component(log, "ws"))
	server := ws.NewServer(cfg, state, component(log, "http"))
	saver := persist.NewSaver(cfg.Snapshot.Path, store, presence, component(log, "persist"))

	if cfg.Metrics.Enabled {
		m := metrics.New(store, presence, h)
		state.SetMetrics(m)
		saver.OnResult = m.SnapshotSaved
		server.SetMetricsHandler(cfg.Metrics.Path, m.Handler())
	}
	if fe := frontendHandler(c, log); fe != nil {
		server.SetFrontend(fe)
	}

	scheduler, err := persist.NewScheduler(cfg.Snapshot.Schedule, saver, component(log, "persist"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	scheduler.Start()
	log.Info().Str("schedule", cfg.Snapshot.Schedule).Time("next", scheduler.Next()).Msg("snapshot scheduler started")

	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			logx.SetLevel(next.Log.Level)
			server.Apply(next)
			log.Info().Str("path", cfgPath).Msg("config reloaded")
		}, func(err error) {
			log.Warn().Err(err).Msg("config reload failed")
		})
		if err != nil {
			log.Warn().Err(err).Msg("config hot reload disabled")
		}
	}()
	go state.RunHeartbeat(ctx, cfg.Presence.HeartbeatInterval)

	if c.Bool("mock") {
		log.Info().Msg("starting in mock mode")
		mock.NewGenerator(state, component(log, "mock")).Start(ctx)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	serveErr := ws.Serve(ctx, addr, server.Handler(), log, func() {
		notify(log, daemon.SdNotifyReady)
	})

	log.Info().Msg("shutting down")
	notify(log, daemon.SdNotifyStopping)

	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	if forced := server.Drain(graceCtx); forced > 0 {
		log.Info().Int64("sessions", forced).Msg("closed sessions at shutdown")
	}
	cancel()

	stopCtx, cancel := context.WithTimeout(context.Background(), schedulerStopWait)
	if err := scheduler.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("snapshot job still running")
	}
	cancel()
	_ = saver.Save()

	if serveErr != nil {
		return cli.Exit(fmt.Errorf("server error: %w", serveErr), 1)
	}
	return nil
}

func component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// frontendHandler prefers the page compiled into the binary and falls back to
// the copy on disk. --dev always uses the disk copy.
func frontendHandler(c *cli.Context, log zerolog.Logger) http.Handler {
	if !c.Bool("dev") {
		if h := frontend.Handler(); h != nil {
			return h
		}
	}
	h := frontend.DirHandler(c.String("frontend-dir"))
	if h == nil {
		log.Warn().Msg("no frontend found, serving API only")
	}
	return h
}

func notify(log zerolog.Logger, state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		log.Warn().Err(err).Msg("sd_notify failed")
	} else if ok {
		log.Debug().Str("state", state).Msg("sd_notify sent")
	}
}
