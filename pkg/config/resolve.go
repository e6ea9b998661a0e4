package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittoshuffle/internal/bytesize"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store/s3"
	"github.com/marmos91/dittoshuffle/pkg/transfer"
	"github.com/marmos91/dittoshuffle/pkg/transfer/index"
	"github.com/marmos91/dittoshuffle/pkg/transfer/location"
)

const (
	schemeS3A    = "s3a"
	schemeS3     = "s3"
	schemeFile   = "file"
	schemeMemory = "memory"

	minMultipartSize = int64(5 * bytesize.MiB)
)

// Backend is the kind of primary store a base URI selects.
type Backend string

const (
	BackendS3     Backend = "s3"
	BackendFS     Backend = "fs"
	BackendMemory Backend = "memory"
)

// Credentials are static S3 credentials read from a credentials file.
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty"`
}

// Settings is the fully derived configuration the engine runs with. It is
// computed once by Resolve and passed by value.
type Settings struct {
	AppName    string
	ExecutorID string

	Backend  Backend
	Bucket   string
	Prefix   string
	BasePath string

	// S3 is the object store configuration when Backend is BackendS3.
	S3 s3.Config

	LocalFileBufferSize int
	SecondaryPath       string

	Transfer      transfer.Config
	LocationCache location.Config
	IndexCache    index.Config

	ShutdownTimeout time.Duration
}

// Resolve validates cfg and derives Settings from it. Every failure wraps
// shuffle.ErrConfiguration.
func Resolve(cfg *Config) (Settings, error) {
	if err := Validate(cfg); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", shuffle.ErrConfiguration, err)
	}

	loc, err := parseBaseURI(cfg.Storage.BaseURI)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", shuffle.ErrConfiguration, err)
	}

	s := Settings{
		AppName:             cfg.AppName,
		ExecutorID:          cfg.ExecutorID,
		Bucket:              loc.bucket,
		Prefix:              loc.prefix,
		BasePath:            loc.path,
		LocalFileBufferSize: cfg.Storage.LocalFileBufferSize.Int(),
		SecondaryPath:       cfg.Storage.SecondaryPath,
		ShutdownTimeout:     cfg.ShutdownTimeout,
	}

	switch loc.scheme {
	case schemeS3A, schemeS3:
		s.Backend = BackendS3
		s.S3 = s3.Config{
			Bucket:         loc.bucket,
			Region:         cfg.Storage.Region,
			Endpoint:       cfg.Storage.Endpoint,
			KeyPrefix:      loc.prefix,
			ForcePathStyle: cfg.Storage.ForcePathStyle,
			MaxRetries:     cfg.Storage.MaxRetries,
			MultipartSize:  cfg.Storage.MultipartSize.Int64(),
			MultipartType:  s3.MultipartType(cfg.Storage.MultipartType),
		}
		if cfg.Storage.CredentialsFile != "" {
			creds, err := LoadCredentials(cfg.Storage.CredentialsFile)
			if err != nil {
				return Settings{}, err
			}
			s.S3.AccessKeyID = creds.AccessKeyID
			s.S3.SecretAccessKey = creds.SecretAccessKey
			s.S3.SessionToken = creds.SessionToken
		}
	case schemeFile:
		s.Backend = BackendFS
	case schemeMemory:
		s.Backend = BackendMemory
	}

	s.Transfer = transfer.Config{
		AppName:                 cfg.AppName,
		UploadParallelism:       cfg.Transfer.UploadParallelism,
		DownloadParallelism:     cfg.Transfer.DownloadParallelism,
		QueueDepth:              cfg.Transfer.QueueDepth,
		QueueFullPolicy:         transfer.QueueFullPolicy(cfg.Transfer.QueueFullPolicy),
		Timeout:                 cfg.Transfer.Timeout,
		DownloadBufferSize:      cfg.Transfer.DownloadBufferSize.Int(),
		DownloadInMemoryMaxSize: cfg.Transfer.DownloadInMemoryMaxSize.Int64(),
		LocalDir:                filepath.Join(cfg.Transfer.LocalDir, "spill"),
		PreferSecondary:         cfg.Storage.PreferDownloadFromHadoop,
	}
	s.LocationCache = location.Config{
		Size: cfg.LocationCache.Size,
		TTL:  cfg.LocationCache.Expiration,
	}
	s.IndexCache = index.Config{
		Enabled: cfg.Transfer.CacheIndexFilesLocally,
		Dir:     filepath.Join(cfg.Transfer.LocalDir, "index-cache"),
	}
	return s, nil
}

// LoadCredentials reads a JSON credentials file. The access key and the
// secret are both required.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: read credentials file: %w", shuffle.ErrConfiguration, err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: parse credentials file %s: %w", shuffle.ErrConfiguration, path, err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("%w: credentials file %s must set accessKeyId and secretAccessKey",
			shuffle.ErrConfiguration, path)
	}
	return creds, nil
}

type baseLocation struct {
	scheme string
	bucket string
	prefix string
	path   string
}

func parseBaseURI(raw string) (baseLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return baseLocation{}, fmt.Errorf("invalid storage.base_uri %q: %w", raw, err)
	}

	loc := baseLocation{scheme: strings.ToLower(u.Scheme)}
	switch loc.scheme {
	case schemeS3A, schemeS3:
		if u.Host == "" {
			return baseLocation{}, fmt.Errorf("storage.base_uri %q has no bucket", raw)
		}
		loc.bucket = u.Host
		if p := strings.Trim(u.Path, "/"); p != "" {
			loc.prefix = p + "/"
		}
	case schemeFile:
		if u.Path == "" {
			return baseLocation{}, fmt.Errorf("storage.base_uri %q has no path", raw)
		}
		loc.path = filepath.Clean(u.Path)
	case schemeMemory:
	default:
		return baseLocation{}, fmt.Errorf("storage.base_uri %q: unsupported scheme %q", raw, u.Scheme)
	}
	return loc, nil
}
