package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sweeney/irrigationd/internal/config"
	"github.com/sweeney/irrigationd/internal/events"
	"github.com/sweeney/irrigationd/internal/gpio"
	"github.com/sweeney/irrigationd/internal/mqtt"
	"github.com/sweeney/irrigationd/internal/registry"
	"github.com/sweeney/irrigationd/internal/schedule"
	"github.com/sweeney/irrigationd/internal/station"
	"github.com/sweeney/irrigationd/internal/status"
	"github.com/sweeney/irrigationd/internal/web"
)

// SystemSource is the event source for daemon lifecycle events.
const SystemSource = "System"

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the controller daemon",
		Long: `Run the controller: force every station off, load the schedules, and
serve the HTTP API until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			opener, err := gpio.NewChipOpener(cfg.GPIO.Chip, cfg.GPIO.IsActiveLow(), cfg.GPIO.Consumer)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			return run(cmd.Context(), cfg, log, opener, sigCh)
		},
	}
}

// run starts every service, blocks until a signal arrives or the HTTP server
// fails, then shuts down in reverse order. The opener is closed on return.
func run(ctx context.Context, cfg config.Config, log zerolog.Logger, opener gpio.Opener, sig <-chan os.Signal) error {
	defer opener.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	evlog, err := events.OpenSQLite(cfg.Data.EventsDB)
	if err != nil {
		return errors.Wrap(err, "open event log")
	}
	defer evlog.Close()
	sinks := events.Fanout{evlog}

	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:   cfg.MQTT.Broker,
		HTTPAddr: cfg.HTTP.Addr,
		Timezone: loc.String(),
		GPIOChip: cfg.GPIO.Chip,
	})
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.Connect(mqtt.Config{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Topic:      cfg.MQTT.Topic,
			BufferSize: cfg.MQTT.BufferSize,
		}, log)
		if err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt publishing disabled")
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
			tracker.SetMQTTProbe(pub.IsConnected)
		}
	}

	ctrl := station.New(registry.FileRegistry{Path: cfg.Data.Devices}, opener, sinks, log)
	if err := ctrl.Init(ctx); err != nil {
		return errors.Wrap(err, "init stations")
	}

	engine := schedule.NewEngine(schedule.FileStore{Path: cfg.Data.Schedules}, ctrl, loc, log)
	if err := engine.Load(ctx); err != nil {
		_ = ctrl.Shutdown(ctx)
		return err
	}
	engine.Start()
	systemEvent(ctx, sinks, log, "Irrigation controller started")

	errCh := make(chan error, 1)
	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		srv = web.New(cfg.HTTP.Addr, web.Deps{
			Stations:  ctrl,
			Schedules: engine,
			Events:    evlog,
			Tracker:   tracker,
		}, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http api listening")
	}

	var (
		reason string
		runErr error
	)
	select {
	case s := <-sig:
		reason = s.String()
		log.Info().Str("signal", reason).Msg("shutting down")
	case err := <-errCh:
		reason = "http server failed"
		runErr = errors.Wrap(err, "http server")
		log.Error().Err(err).Msg("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	engine.Stop(sctx)
	if srv != nil {
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}
	if err := ctrl.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("station shutdown incomplete")
		runErr = errors.CombineErrors(runErr, err)
	}
	systemEvent(sctx, sinks, log, "Irrigation controller stopped ("+reason+")")
	return runErr
}

func systemEvent(ctx context.Context, sink events.Sink, log zerolog.Logger, text string) {
	e := events.Event{Time: time.Now(), Source: SystemSource, Type: events.TypeInfo, Text: text}
	if err := sink.Append(ctx, e); err != nil {
		log.Error().Err(err).Msg("failed to record system event")
	}
}
