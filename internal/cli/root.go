package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vsagcr/scopeprep/internal/app"
	"github.com/vsagcr/scopeprep/internal/config"
	"github.com/vsagcr/scopeprep/internal/provision"
	"github.com/vsagcr/scopeprep/internal/server"
)

type contextKey string

const appKey contextKey = "app"

var rootCmd = &cobra.Command{
	Use:   "scopeprep",
	Short: "Scopeprep provisions Raspberry Pi camera rigs over SSH",
	Long: `Scopeprep prepares a Raspberry Pi for camera duty: it installs the
required packages, enables the I2C and SPI interfaces, reboots when boot
configuration changed, validates the attached hardware, and starts the
streaming service. Runs are idempotent and resume across the reboot.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		prepApp := app.New(cfg)
		ctx := context.WithValue(cmd.Context(), appKey, prepApp)
		cmd.SetContext(ctx)

		return nil
	},
}

// Execute runs the CLI and translates the outcome into the process exit
// code. A pending reboot is not a failure; it gets its own code so
// wrapper scripts know to wait and re-invoke.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	if errors.Is(err, provision.ErrRebootPending) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(provision.ExitRebootPending)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	if remediation := provision.RemediationOf(err); remediation != "" {
		fmt.Fprintln(os.Stderr, "Remediation:", remediation)
	}
	os.Exit(provision.ExitFailure)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", fmt.Sprintf("config file (default is $HOME/%s)", config.DefaultConfigFileName))
}

func getApp(cmd *cobra.Command) *app.App {
	if a, ok := cmd.Context().Value(appKey).(*app.App); ok {
		return a
	}
	return nil
}

// targetServer builds the SSH server for the configured target.
func targetServer(prepApp *app.App) (server.Server, error) {
	target := prepApp.Config.Target
	if target.Address == "" {
		return nil, fmt.Errorf("no target configured, set target.address in the config file")
	}

	return server.NewSSHServer(target.Name, target.Address, server.User{
		Name:         target.User.Name,
		SSHKey:       target.User.SSHKey,
		SudoPassword: target.User.SudoPassword,
	}, target.KnownHostsPath, server.SSHOptions{
		UseAgent:         target.UseAgent,
		HandshakeTimeout: target.HandshakeTimeout,
	}), nil
}
