package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vsagcr/scopeprep/internal/config"
	"github.com/vsagcr/scopeprep/internal/provision"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run a full provisioning pass against the target",
	Long: `Provision installs packages, enables the configured interfaces,
requests a reboot when boot configuration changed, and after the reboot
validates hardware and starts the streaming service. When a reboot is
requested the command exits with code 3; run it again once the target is
back up to resume.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prepApp := getApp(cmd)

		enableMissing, err := cmd.Flags().GetString("enable-missing")
		if err != nil {
			return err
		}
		if enableMissing != "" {
			switch enableMissing {
			case config.EnablePrompt, config.EnableAlways, config.EnableNever:
				prepApp.Config.Provision.EnableMissing = enableMissing
			default:
				return fmt.Errorf("invalid --enable-missing value %q", enableMissing)
			}
		}

		srv, err := targetServer(prepApp)
		if err != nil {
			return err
		}

		o := provision.NewOrchestrator(prepApp.Logger, srv, prepApp.Config)
		o.Prompt = askYesNo

		return o.Run(cmd.Context())
	},
}

// askYesNo asks the operator on the terminal. Anything but an explicit
// yes counts as no.
func askYesNo(question string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func init() {
	provisionCmd.Flags().String("enable-missing", "", "override the enable_missing policy (prompt, always, never)")
	rootCmd.AddCommand(provisionCmd)
}
