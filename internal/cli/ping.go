package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify the SSH connection to the target",
	Long:  `Connect to the configured target and run a simple command to verify accessibility.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prepApp := getApp(cmd)

		srv, err := targetServer(prepApp)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		prepApp.Logger.Info("Checking target", "name", srv.ID(), "address", srv.Address())
		output, err := srv.Execute(ctx, "echo 'pong'")
		if err != nil {
			return err
		}

		if strings.TrimSpace(output) == "pong" {
			prepApp.Logger.Info("Verification successful", "target", srv.ID())
		} else {
			prepApp.Logger.Warn("Verification partially successful (unexpected output)", "target", srv.ID(), "output", strings.TrimSpace(output))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
