package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoshuffle/internal/cli/output"
	"github.com/marmos91/dittoshuffle/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dshuffle configuration file.

Checks for syntax errors, missing required fields and invalid values, then
resolves the storage settings (including reading the credentials file) the
same way the transfer engine does.

Examples:
  dshuffle config validate
  dshuffle config validate --config /etc/dittoshuffle/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if settings.Transfer.Timeout == 0 {
		warnings = append(warnings, "transfer.timeout is 0: stuck transfers are never failed")
	}
	if cfg.Transfer.QueueDepth == 0 {
		warnings = append(warnings, "transfer.queue_depth is 0: queued transfers are unbounded")
	}
	if settings.Backend == config.BackendMemory {
		warnings = append(warnings, "storage.base_uri is memory://: data does not outlive the process")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	target := settings.BasePath
	if settings.Backend == config.BackendS3 {
		target = settings.Bucket + "/" + settings.Prefix
	}
	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.KeyValues(out, [][2]string{
		{"App name", cfg.AppName},
		{"Backend", string(settings.Backend)},
		{"Target", target},
		{"Secondary path", settings.SecondaryPath},
		{"Upload parallelism", fmt.Sprint(settings.Transfer.UploadParallelism)},
		{"Download parallelism", fmt.Sprint(settings.Transfer.DownloadParallelism)},
		{"Index cache", fmt.Sprint(settings.IndexCache.Enabled)},
		{"Log level", cfg.Logging.Level},
	})
}
