package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Write the channel tree and TypeScript declarations",
	Long: `Registers every channel module without opening storage and writes the
namespace tree and the window API declarations into each output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closeLog, err := cfg.Log.NewLogger(os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()

		a, err := newApp(cfg, logger.With("command", "gen"), nil)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.writeArtifacts(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d channels\n", len(a.router.Channels()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genCmd)
	genCmd.Flags().StringSlice("out", nil, "Output directories")
	genCmd.Flags().String("log-level", "", "Log level")
	genCmd.Flags().String("backend-url", "", "Remote backend base URL; diagnostic channels are omitted when the backend is disabled")
}
