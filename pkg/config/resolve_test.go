package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittoshuffle/internal/bytesize"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store/s3"
	"github.com/marmos91/dittoshuffle/pkg/transfer"
)

func writeCredentials(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write credentials: %v", err)
	}
	return path
}

func TestResolve_S3A(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.AppName = "app-s3a"
	cfg.Storage.BaseURI = "s3a://shuffle-bucket/spark/shuffle/"
	cfg.Storage.Endpoint = "http://localhost:4566"
	cfg.Storage.MultipartType = "array"
	cfg.Storage.CredentialsFile = writeCredentials(t,
		`{"accessKeyId": "AKIA", "secretAccessKey": "secret", "sessionToken": "token"}`)

	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if s.Backend != BackendS3 {
		t.Errorf("Expected backend s3, got %q", s.Backend)
	}
	if s.S3.Bucket != "shuffle-bucket" {
		t.Errorf("Expected bucket 'shuffle-bucket', got %q", s.S3.Bucket)
	}
	if s.S3.KeyPrefix != "spark/shuffle/" {
		t.Errorf("Expected prefix 'spark/shuffle/', got %q", s.S3.KeyPrefix)
	}
	if s.S3.AccessKeyID != "AKIA" || s.S3.SecretAccessKey != "secret" || s.S3.SessionToken != "token" {
		t.Errorf("Credentials not applied: %+v", s.S3)
	}
	if s.S3.MultipartType != s3.MultipartArray {
		t.Errorf("Expected multipart type array, got %q", s.S3.MultipartType)
	}
	if s.S3.MultipartSize != int64(64*bytesize.MiB) {
		t.Errorf("Expected multipart size 64MiB, got %d", s.S3.MultipartSize)
	}
	if s.Transfer.AppName != "app-s3a" {
		t.Errorf("Expected transfer app name 'app-s3a', got %q", s.Transfer.AppName)
	}
}

func TestResolve_S3AMissingCredentials(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.BaseURI = "s3a://bucket"

	_, err := Resolve(cfg)
	if !errors.Is(err, shuffle.ErrConfiguration) {
		t.Fatalf("Expected configuration error, got: %v", err)
	}
}

func TestResolve_S3AUnreadableCredentials(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.BaseURI = "s3a://bucket"
	cfg.Storage.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")

	_, err := Resolve(cfg)
	if !errors.Is(err, shuffle.ErrConfiguration) {
		t.Fatalf("Expected configuration error, got: %v", err)
	}
}

func TestResolve_S3DefaultChain(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.BaseURI = "s3://bucket"

	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if s.S3.AccessKeyID != "" {
		t.Errorf("Expected no static credentials, got %q", s.S3.AccessKeyID)
	}
	if s.S3.KeyPrefix != "" {
		t.Errorf("Expected empty prefix, got %q", s.S3.KeyPrefix)
	}
}

func TestResolve_FileAndTransfer(t *testing.T) {
	tmp := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Storage.BaseURI = "file://" + filepath.ToSlash(tmp) + "/remote/"
	cfg.Storage.SecondaryPath = filepath.Join(tmp, "hdfs")
	cfg.Storage.PreferDownloadFromHadoop = true
	cfg.Transfer.LocalDir = filepath.Join(tmp, "local")
	cfg.Transfer.QueueDepth = 16
	cfg.Transfer.QueueFullPolicy = "reject"
	cfg.Transfer.CacheIndexFilesLocally = true
	cfg.LocationCache.Size = 42
	cfg.LocationCache.Expiration = time.Minute

	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if s.Backend != BackendFS {
		t.Errorf("Expected backend fs, got %q", s.Backend)
	}
	if s.BasePath != filepath.Clean(filepath.ToSlash(tmp)+"/remote") {
		t.Errorf("Unexpected base path %q", s.BasePath)
	}
	if !s.Transfer.PreferSecondary {
		t.Error("Expected prefer secondary")
	}
	if s.Transfer.QueueDepth != 16 || s.Transfer.QueueFullPolicy != transfer.QueueFullReject {
		t.Errorf("Unexpected queue settings: %d %q", s.Transfer.QueueDepth, s.Transfer.QueueFullPolicy)
	}
	if s.Transfer.LocalDir != filepath.Join(tmp, "local", "spill") {
		t.Errorf("Unexpected spill dir %q", s.Transfer.LocalDir)
	}
	if !s.IndexCache.Enabled || s.IndexCache.Dir != filepath.Join(tmp, "local", "index-cache") {
		t.Errorf("Unexpected index cache settings: %+v", s.IndexCache)
	}
	if s.LocationCache.Size != 42 || s.LocationCache.TTL != time.Minute {
		t.Errorf("Unexpected location cache settings: %+v", s.LocationCache)
	}
}

func TestLoadCredentials(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"complete", `{"accessKeyId": "a", "secretAccessKey": "b"}`, false},
		{"missing secret", `{"accessKeyId": "a"}`, true},
		{"not json", `accessKeyId=a`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCredentials(writeCredentials(t, tt.content))
			if tt.wantErr {
				if !errors.Is(err, shuffle.ErrConfiguration) {
					t.Fatalf("Expected configuration error, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCredentials failed: %v", err)
			}
		})
	}
}
