package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittoshuffle/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "dittoshuffle"
	}
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyStorageDefaults(&cfg.Storage)
	applyTransferDefaults(&cfg.Transfer)
	applyLocationCacheDefaults(&cfg.LocationCache)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.BaseURI == "" {
		cfg.BaseURI = "memory://"
	}
	if cfg.MultipartSize == 0 {
		cfg.MultipartSize = 64 * bytesize.MiB
	}
	if cfg.MultipartType == "" {
		cfg.MultipartType = "disk"
	}
	if cfg.LocalFileBufferSize == 0 {
		cfg.LocalFileBufferSize = 64 * bytesize.KiB
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.UploadParallelism == 0 {
		cfg.UploadParallelism = 5
	}
	if cfg.DownloadParallelism == 0 {
		cfg.DownloadParallelism = 5
	}
	if cfg.QueueFullPolicy == "" {
		cfg.QueueFullPolicy = "block"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.DownloadBufferSize == 0 {
		cfg.DownloadBufferSize = bytesize.MiB
	}
	if cfg.DownloadInMemoryMaxSize == 0 {
		cfg.DownloadInMemoryMaxSize = 64 * bytesize.MiB
	}
	if cfg.LocalDir == "" {
		cfg.LocalDir = filepath.Join(os.TempDir(), "dittoshuffle")
	}
}

func applyLocationCacheDefaults(cfg *LocationCacheConfig) {
	if cfg.Size == 0 {
		cfg.Size = 10000
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = 10 * time.Minute
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
