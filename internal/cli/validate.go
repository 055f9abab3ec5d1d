package cli

import (
	"github.com/spf13/cobra"

	"github.com/vsagcr/scopeprep/internal/provision"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the hardware checks without provisioning",
	Long: `Validate connects to the target and runs the hardware checks: camera
attached, video device nodes present, docker active, and optionally the
battery fuel gauge. The target is not modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prepApp := getApp(cmd)

		srv, err := targetServer(prepApp)
		if err != nil {
			return err
		}

		o := provision.NewOrchestrator(prepApp.Logger, srv, prepApp.Config)
		if err := o.Validate(cmd.Context()); err != nil {
			return err
		}

		prepApp.Logger.Info("Hardware validation passed", "target", srv.ID())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
