package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/internal/telemetry"
	"github.com/marmos91/dittoshuffle/pkg/config"
	"github.com/marmos91/dittoshuffle/pkg/metrics"
	prommetrics "github.com/marmos91/dittoshuffle/pkg/metrics/prometheus"
)

// session is a loaded configuration plus a running engine and the ambient
// services around it. Close tears everything down in reverse order.
type session struct {
	cfg      *config.Config
	settings config.Settings
	engine   *config.Engine

	closers []func(context.Context) error
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if appName != "" {
		cfg.AppName = appName
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, settings: settings}
	if err := s.startTelemetry(ctx); err != nil {
		s.Close()
		return nil, err
	}

	sinks := []metrics.Sink{metrics.NewLogSink(cfg.AppName)}
	var recorder metrics.CacheRecorder
	if cfg.Metrics.Enabled {
		reg := metrics.InitRegistry()
		sinks = append(sinks, prommetrics.NewSink(reg))
		recorder = prommetrics.NewCacheMetrics(reg)

		srv := metrics.StartServer(fmt.Sprintf(":%d", cfg.Metrics.Port))
		s.closers = append(s.closers, srv.Shutdown)
	}

	engine, err := config.CreateEngine(ctx, settings, metrics.NewMulti(sinks...), recorder)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.engine = engine

	logger.Debug("Session ready",
		logger.KeyAppName, cfg.AppName,
		"config", configSource(),
		"telemetry", telemetry.IsEnabled(),
		"profiling", telemetry.IsProfilingEnabled(),
		"metrics", cfg.Metrics.Enabled)
	return s, nil
}

func (s *session) startTelemetry(ctx context.Context) error {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        s.cfg.Telemetry.Enabled,
		ServiceName:    "dittoshuffle",
		ServiceVersion: Version,
		Endpoint:       s.cfg.Telemetry.Endpoint,
		Insecure:       s.cfg.Telemetry.Insecure,
		SampleRate:     s.cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.closers = append(s.closers, shutdown)

	tags := map[string]string{"app": s.cfg.AppName}
	if s.cfg.ExecutorID != "" {
		tags["executor"] = s.cfg.ExecutorID
	}
	stopProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        s.cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittoshuffle",
		ServiceVersion: Version,
		Endpoint:       s.cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   s.cfg.Telemetry.Profiling.ProfileTypes,
		Tags:           tags,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) error { return stopProfiling() })
	return nil
}

// Close drains the engine within the configured shutdown timeout. It runs on
// a fresh context so an interrupted command still flushes telemetry.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	var errs []error
	if s.engine != nil {
		if err := s.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		logger.Warn("Shutdown finished with errors", logger.Err(err))
	}
	return err
}

func (s *session) shutdownTimeout() time.Duration {
	if s.cfg != nil && s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 30 * time.Second
}

// initLogger initializes the structured logger from configuration.
func initLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath()
}
