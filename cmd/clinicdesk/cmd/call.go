package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/clinicdesk/bridge"
	"github.com/jmcleod/clinicdesk/handlers"
	"github.com/jmcleod/clinicdesk/ipc"
)

var (
	callURL      string
	callUsername string
	callPassword string
)

var callCmd = &cobra.Command{
	Use:   "call <channel> [json-args]",
	Short: "Invoke a channel on a running server as a window would",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := callURL
		if base == "" {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			base = "http://" + cfg.Addr
		}
		base = strings.TrimRight(base, "/")

		var callArgs any
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return errors.New("arguments must be valid JSON")
			}
			callArgs = json.RawMessage(args[1])
		}

		ctx := cmd.Context()
		tree, err := bridge.FetchTree(ctx, base)
		if err != nil {
			return err
		}
		client, err := bridge.Dial(ctx, wsURL(base))
		if err != nil {
			return err
		}
		defer client.Close()
		api := client.API(tree)

		if callUsername != "" {
			var res handlers.LoginResult
			creds := handlers.Credentials{Username: callUsername, Password: callPassword}
			if err := api.Call(ctx, "auth:login", creds, &res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("login failed: %s", res.Error)
			}
		}

		inv, ok := api.Lookup(args[0])
		if !ok {
			return fmt.Errorf("%s: %w", args[0], ipc.ErrUnknownChannel)
		}
		raw, err := inv(ctx, callArgs)
		if err != nil {
			return err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, raw, "", "  "); err != nil {
			out.Reset()
			out.Write(raw)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.String())
		return nil
	},
}

// wsURL maps the server's http base URL to its window endpoint.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ipc/ws"
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVar(&callURL, "url", "", "Base URL of the server (default from the config addr)")
	callCmd.Flags().StringVarP(&callUsername, "username", "u", "", "Log in as this user before the call")
	callCmd.Flags().StringVarP(&callPassword, "password", "p", "", "Password for --username")
}
