package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittoshuffle/internal/bytesize"
)

// EnvPrefix prefixes every environment override, e.g. DSHUFFLE_TRANSFER_UPLOAD_PARALLELISM.
const EnvPrefix = "DSHUFFLE"

// Config represents the dittoshuffle configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DSHUFFLE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Config is the raw, user-facing form. Resolve turns it into Settings, the
// derived values the engine runs with.
type Config struct {
	// AppName namespaces remote objects and is attached to every lifecycle
	// log line.
	AppName string `mapstructure:"app_name" validate:"required" yaml:"app_name"`

	// ExecutorID identifies this process in logs and profiles.
	ExecutorID string `mapstructure:"executor_id" yaml:"executor_id,omitempty"`

	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds how long in-flight transfers may drain on exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Transfer      TransferConfig      `mapstructure:"transfer" yaml:"transfer"`
	LocationCache LocationCacheConfig `mapstructure:"location_cache" yaml:"location_cache"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// StorageConfig describes where shuffle files are stored remotely.
type StorageConfig struct {
	// BaseURI is the root of the shuffle storage:
	//   s3a://bucket/prefix  S3, credentials file required
	//   s3://bucket/prefix   S3, SDK default credential chain unless a credentials file is set
	//   file:///mnt/shuffle  a mounted filesystem
	//   memory://            in-process, for tests and dry runs
	BaseURI string `mapstructure:"base_uri" validate:"required" yaml:"base_uri"`

	// Endpoint overrides the S3 endpoint (MinIO, Localstack).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`

	// CredentialsFile is a JSON file {"accessKeyId", "secretAccessKey",
	// "sessionToken"}. Mandatory for s3a:// base URIs.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`

	// MaxRetries bounds the S3 SDK's own retries of throttled requests.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0" yaml:"max_retries"`

	// MultipartSize is the multipart threshold and part size ("64Mi").
	MultipartSize bytesize.ByteSize `mapstructure:"multipart_size" yaml:"multipart_size"`

	// MultipartType stages parts from disk or from pooled memory buffers.
	// Valid values: disk, array
	MultipartType string `mapstructure:"multipart_type" validate:"omitempty,oneof=disk array" yaml:"multipart_type"`

	// LocalFileBufferSize is the stream buffer for local file I/O.
	LocalFileBufferSize bytesize.ByteSize `mapstructure:"local_file_buffer_size" yaml:"local_file_buffer_size"`

	// SecondaryPath is an optional mounted filesystem view of the same
	// objects, read from alongside the object store.
	SecondaryPath string `mapstructure:"secondary_path" yaml:"secondary_path,omitempty"`

	// PreferDownloadFromHadoop reads from SecondaryPath first and falls
	// back to the object store.
	PreferDownloadFromHadoop bool `mapstructure:"prefer_download_from_hadoop" yaml:"prefer_download_from_hadoop"`
}

// TransferConfig controls the transfer engine.
type TransferConfig struct {
	UploadParallelism   int `mapstructure:"upload_parallelism" validate:"gte=1" yaml:"upload_parallelism"`
	DownloadParallelism int `mapstructure:"download_parallelism" validate:"gte=1" yaml:"download_parallelism"`

	// QueueDepth bounds queued tasks per direction; 0 means unbounded.
	QueueDepth int `mapstructure:"queue_depth" validate:"gte=0" yaml:"queue_depth"`

	// QueueFullPolicy is what admission does on a full queue.
	// Valid values: reject, block
	QueueFullPolicy string `mapstructure:"queue_full_policy" validate:"oneof=reject block" yaml:"queue_full_policy"`

	// Timeout force-fails a transfer running longer than this; 0 disables it.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0" yaml:"timeout"`

	DownloadBufferSize      bytesize.ByteSize `mapstructure:"download_buffer_size" yaml:"download_buffer_size"`
	DownloadInMemoryMaxSize bytesize.ByteSize `mapstructure:"download_in_memory_max_size" yaml:"download_in_memory_max_size"`

	// LocalDir holds spilled downloads and the local index cache.
	LocalDir string `mapstructure:"local_dir" validate:"required" yaml:"local_dir"`

	// CacheIndexFilesLocally keeps fetched index files in a local on-disk
	// store under LocalDir, wiped at startup.
	CacheIndexFilesLocally bool `mapstructure:"cache_index_files_locally" yaml:"cache_index_files_locally"`
}

// LocationCacheConfig bounds the block location cache.
type LocationCacheConfig struct {
	Size       int           `mapstructure:"size" validate:"gte=0" yaml:"size"`
	Expiration time.Duration `mapstructure:"expiration" validate:"gte=0" yaml:"expiration"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DSHUFFLE_*)
//  2. Configuration file
//  3. Default values
//
// A missing file is not an error: the defaults, with environment
// overrides, are returned.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file
// is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dshuffle config init\n\n"+
				"Or specify a custom config file:\n"+
				"  dshuffle <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  dshuffle config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may name a credentials file; keep it private.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnvKeys registers every mapstructure key with viper. AutomaticEnv
// alone only applies to keys viper already knows, so without this an
// environment variable cannot introduce a value absent from the file.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvKeys(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// config files can use sizes like "64m", "1Gi" or "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration ("30s", "5m").
// Plain integers are milliseconds, matching the expiration settings of the
// host engine.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Millisecond, nil
		case int64:
			return time.Duration(v) * time.Millisecond, nil
		case float64:
			return time.Duration(v * float64(time.Millisecond)), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoshuffle")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittoshuffle")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
