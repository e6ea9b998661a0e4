package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoshuffle/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with defaults",
	Long: `Create a dshuffle configuration file populated with default values.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittoshuffle/config.yaml.
Use --config to specify a custom path.

Examples:
  dshuffle config init
  dshuffle config init --config /etc/dittoshuffle/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	configPath := configFile
	var err error
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set storage.base_uri (and storage.credentials_file for s3a://)")
	_, _ = fmt.Fprintln(out, "  2. Check it with: dshuffle config validate")
	return nil
}
