package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags first, then the rules that span fields.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", verrs)
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry is enabled but telemetry.endpoint is empty")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return errors.New("profiling is enabled but telemetry.profiling.endpoint is empty")
	}

	loc, err := parseBaseURI(cfg.Storage.BaseURI)
	if err != nil {
		return err
	}
	if loc.scheme == schemeS3A && cfg.Storage.CredentialsFile == "" {
		return fmt.Errorf("storage.credentials_file is required for %s:// base URIs", schemeS3A)
	}
	if cfg.Storage.PreferDownloadFromHadoop && cfg.Storage.SecondaryPath == "" {
		return errors.New("storage.prefer_download_from_hadoop requires storage.secondary_path")
	}
	if cfg.Storage.MultipartSize != 0 && cfg.Storage.MultipartSize.Int64() < minMultipartSize {
		return fmt.Errorf("storage.multipart_size must be at least %d bytes, got %s",
			minMultipartSize, cfg.Storage.MultipartSize)
	}
	return nil
}
