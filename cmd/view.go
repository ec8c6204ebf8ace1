package cmd

import (
	"github.com/spf13/cobra"
)

// viewCmd represents the view command.
var viewCmd = newViewCmd()

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Browse coverage verdicts interactively",
		Long: `Browse the verdicts for every declaration in a scrollable terminal view.
Unlike verify, view never fails on a mismatch. Without a terminal the
verdicts are printed as a table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := verifyCoverage(cmd.Context(), verifyProfileFlag, verifyCovdataFlag)
			if err != nil {
				return err
			}

			return newUI(cmd).DisplayVerifyReport(cmd.Context(), report)
		},
	}

	configureCoverageSourceFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
