package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/itohio/gochiller/pkg/acquire"
	"github.com/itohio/gochiller/pkg/chiller"
	"github.com/itohio/gochiller/pkg/config"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/itohio/gochiller/pkg/logging"
	"github.com/itohio/gochiller/pkg/sink"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// options are the command line settings.
type options struct {
	configPath string
	dotenv     string
	port       string
	mock       bool
	logLevel   string
}

// device is a transport the application opens and closes.
type device interface {
	chiller.Transport
	Connect() error
	Close() error
}

func appOptions(opts options) fx.Option {
	return fx.Options(
		fx.Supply(opts),
		fx.Provide(
			loadConfig,
			newLogger,
			newDevice,
			newSinks,
			newLoop,
		),
		fx.Invoke(startAcquisition),
	)
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(opts.dotenv); err != nil {
		return nil, err
	}

	if opts.port != "" {
		cfg.Serial.Port = opts.port
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Log, os.Stderr)
}

func newDevice(cfg *config.Config, opts options, log zerolog.Logger) device {
	if opts.mock {
		return chiller.NewMock(&cfg.Mock, log)
	}
	return chiller.New(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.ReadTimeout, log)
}

// newSinks builds the enabled sinks. Slow sinks get their own queue so a
// stalled broker or database never delays polling.
func newSinks(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (sink.Fanout, error) {
	sinks := []acquire.Sink{sink.NewLog(log)}

	if cfg.Sinks.JSON.Enabled {
		s, err := sink.NewJSONFiles(cfg.Sinks.JSON.Dir, cfg.Sinks.JSON.TimeZone, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink.NewAsync(s, cfg.Acquisition.BufferSize, log))
	}
	if cfg.Sinks.Kafka.Enabled {
		s, err := sink.NewKafka(cfg.Sinks.Kafka.Brokers, cfg.Sinks.Kafka.Topic, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink.NewAsync(s, cfg.Acquisition.BufferSize, log))
	}
	if cfg.Sinks.Postgres.Enabled {
		s, err := sink.OpenPostgres(cfg.Sinks.Postgres.DSN, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink.NewAsync(s, cfg.Acquisition.BufferSize, log))
	}

	out := sink.NewFanout(sinks...)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return out.Close()
		},
	})
	return out, nil
}

func newLoop(cfg *config.Config, dev device, log zerolog.Logger) *acquire.Loop {
	return acquire.New(acquire.Config{
		PollInterval:    cfg.Acquisition.PollInterval,
		MaxPollInterval: cfg.Acquisition.MaxPollInterval,
		Backoff:         cfg.Acquisition.Backoff,
	}, dev, frame.Chiller, log)
}

// startAcquisition opens the device and runs the loop until the application stops.
func startAcquisition(lc fx.Lifecycle, dev device, loop *acquire.Loop, sinks sink.Fanout, log zerolog.Logger) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := dev.Connect(); err != nil {
				return err
			}

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				runLoop(ctx, loop, sinks, log)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}

			st := loop.Stats()
			log.Info().
				Uint64("polls", st.Polls).
				Uint64("readings", st.Readings).
				Uint64("decode_errors", st.DecodeErrors).
				Interface("failures", st.Failures).
				Msg("acquisition summary")

			return dev.Close()
		},
	})
}

// runLoop runs loop until ctx is cancelled. Any other way out is logged.
func runLoop(ctx context.Context, loop *acquire.Loop, sinks acquire.Sink, log zerolog.Logger) {
	if err := loop.Run(ctx, sinks); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("acquisition ended")
	}
}
