package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittoshuffle/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, `
app_name: "app-1234"

logging:
  level: "debug"

storage:
  base_uri: "file://`+yamlSafePath(tmpDir)+`/shuffle"

transfer:
  upload_parallelism: 3
  download_buffer_size: 256Ki
  local_dir: "`+yamlSafePath(tmpDir)+`/local"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.AppName != "app-1234" {
		t.Errorf("Expected app name 'app-1234', got %q", cfg.AppName)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Transfer.UploadParallelism != 3 {
		t.Errorf("Expected upload parallelism 3, got %d", cfg.Transfer.UploadParallelism)
	}
	if cfg.Transfer.DownloadParallelism != 5 {
		t.Errorf("Expected default download parallelism 5, got %d", cfg.Transfer.DownloadParallelism)
	}
	if cfg.Transfer.DownloadBufferSize != 256*bytesize.KiB {
		t.Errorf("Expected download buffer 256KiB, got %v", cfg.Transfer.DownloadBufferSize)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Storage.BaseURI != "memory://" {
		t.Errorf("Expected default base URI 'memory://', got %q", cfg.Storage.BaseURI)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "logging:\n  level: [unclosed\n")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	configPath := writeConfig(t, `
transfer:
  queue_full_policy: drop
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown queue_full_policy")
	}
}

func TestLoad_DurationsAndSizes(t *testing.T) {
	configPath := writeConfig(t, `
shutdown_timeout: 5s

storage:
  multipart_size: 16Mi

transfer:
  timeout: 2m
  download_in_memory_max_size: 1048576

location_cache:
  size: 50
  expiration: 60000
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown_timeout 5s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Storage.MultipartSize != 16*bytesize.MiB {
		t.Errorf("Expected multipart size 16MiB, got %v", cfg.Storage.MultipartSize)
	}
	if cfg.Transfer.Timeout != 2*time.Minute {
		t.Errorf("Expected timeout 2m, got %v", cfg.Transfer.Timeout)
	}
	if cfg.Transfer.DownloadInMemoryMaxSize != bytesize.MiB {
		t.Errorf("Expected in-memory max 1MiB, got %v", cfg.Transfer.DownloadInMemoryMaxSize)
	}
	if cfg.LocationCache.Size != 50 {
		t.Errorf("Expected location cache size 50, got %d", cfg.LocationCache.Size)
	}
	if cfg.LocationCache.Expiration != time.Minute {
		t.Errorf("Expected integer expiration read as milliseconds (1m), got %v", cfg.LocationCache.Expiration)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DSHUFFLE_LOGGING_LEVEL", "ERROR")
	t.Setenv("DSHUFFLE_TRANSFER_DOWNLOAD_PARALLELISM", "9")
	t.Setenv("DSHUFFLE_TRANSFER_QUEUE_FULL_POLICY", "reject")

	configPath := writeConfig(t, `
logging:
  level: "INFO"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Transfer.DownloadParallelism != 9 {
		t.Errorf("Expected download parallelism 9 from env var, got %d", cfg.Transfer.DownloadParallelism)
	}
	if cfg.Transfer.QueueFullPolicy != "reject" {
		t.Errorf("Expected queue policy 'reject' from env var, got %q", cfg.Transfer.QueueFullPolicy)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.AppName = "app-roundtrip"
	cfg.Transfer.QueueDepth = 7
	cfg.Storage.MultipartSize = 8 * bytesize.MiB

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.AppName != "app-roundtrip" {
		t.Errorf("Expected app name 'app-roundtrip', got %q", loaded.AppName)
	}
	if loaded.Transfer.QueueDepth != 7 {
		t.Errorf("Expected queue depth 7, got %d", loaded.Transfer.QueueDepth)
	}
	if loaded.Storage.MultipartSize != 8*bytesize.MiB {
		t.Errorf("Expected multipart size 8MiB, got %v", loaded.Storage.MultipartSize)
	}
	if loaded.Transfer.Timeout != cfg.Transfer.Timeout {
		t.Errorf("Expected timeout %v, got %v", cfg.Transfer.Timeout, loaded.Transfer.Timeout)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	expected := filepath.Join(tmpDir, "dittoshuffle", "config.yaml")
	if got := GetDefaultConfigPath(); got != expected {
		t.Errorf("Expected %q, got %q", expected, got)
	}
	if DefaultConfigExists() {
		t.Error("Expected no default config in a fresh directory")
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := MustLoad(path); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}
