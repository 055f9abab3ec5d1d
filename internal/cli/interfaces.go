package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vsagcr/scopeprep/internal/provision"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "Report the state of the configured hardware interfaces",
	Long: `Probe the target and print whether each configured interface (I2C,
SPI) is ENABLED, DISABLED, or UNKNOWN. Nothing is changed on the target.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prepApp := getApp(cmd)

		srv, err := targetServer(prepApp)
		if err != nil {
			return err
		}

		o := provision.NewOrchestrator(prepApp.Logger, srv, prepApp.Config)
		if err := o.EnsureReachable(cmd.Context()); err != nil {
			return err
		}

		states, err := o.ProbeInterfaces(cmd.Context())
		if err != nil {
			return err
		}

		names := make([]string, 0, len(states))
		for name := range states {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-8s %s\n", name, states[name])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}
