package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/netconverge/pkg/config"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and desired-state files",
		Long: `Validate the configuration file and any desired-state files without
contacting the device.`,
		Example: `  netconverge -c netconverge.yaml validate --file leaf1-et1.yaml --file leaf1-et2.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			for _, f := range files {
				desired, err := config.LoadDesired(f)
				if err != nil {
					return err
				}
				if _, err := desired.Request(); err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration valid (%d desired-state files)\n", len(files))
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "desired-state file (repeatable)")
	return cmd
}
