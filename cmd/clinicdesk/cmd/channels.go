package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/clinicdesk/bridge"
	"github.com/jmcleod/clinicdesk/ipc"
)

var channelsFrom string

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the channels in the namespace tree",
	Long: `Prints every channel of the namespace tree, read from a running server
with --from, or else from the tree artifact in the configured directories.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, source, err := readTree(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, ch := range tree.Leaves() {
			fmt.Fprintln(out, ch)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d channels from %s\n", len(tree.Leaves()), source)
		return nil
	},
}

func readTree(cmd *cobra.Command) (ipc.Tree, string, error) {
	if channelsFrom != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		tree, err := bridge.FetchTree(ctx, channelsFrom)
		return tree, channelsFrom, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	var paths []string
	for _, dir := range cfg.Artifacts.Dirs {
		paths = append(paths, filepath.Join(dir, ipc.TreeFile))
	}
	return bridge.LoadTree(paths...)
}

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.Flags().StringVar(&channelsFrom, "from", "", "Base URL of a running server, e.g. http://127.0.0.1:8765")
}
