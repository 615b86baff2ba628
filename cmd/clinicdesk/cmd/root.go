package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/clinicdesk/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "clinicdesk",
	Short: "clinicdesk serves the clinic desk's window channels",
	Long: `clinicdesk runs the local process behind the hospital desk windows: it
owns login sessions, routes window calls to channel handlers, stores clinic
records and emits the channel tree and type declarations the windows use.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default ./"+config.DefaultFile+" when present)")
}

// loadConfig reads the config and applies the flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("storage") {
		cfg.Storage.Driver, _ = flags.GetString("storage")
	}
	if flags.Changed("dsn") {
		cfg.Storage.DSN, _ = flags.GetString("dsn")
	}
	if flags.Changed("out") {
		cfg.Artifacts.Dirs, _ = flags.GetStringSlice("out")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("backend-url") {
		cfg.Backend.URL, _ = flags.GetString("backend-url")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
