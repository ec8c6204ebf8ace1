package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"covguard.dev/pkg/covguard/internal/config"
)

var baselineWriteFlag bool

// baselineCmd represents the baseline command.
var baselineCmd = newBaselineCmd()

func newBaselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Compute the untested and complete allow-lists",
		Long: `Compute the files that currently have no test and the tests that currently
declare full coverage. The result is printed as YAML; with --write it is saved
to ` + config.BaselineFileName + ` in the project root, which is merged into the
configuration by every other command and by the in-process guard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			ws, err := loadWorkspace(ctx)
			if err != nil {
				return err
			}

			tests, err := ws.tests(ctx)
			if err != nil {
				return err
			}

			files, err := ws.files(ctx)
			if err != nil {
				return err
			}

			complete, err := ws.completeness.Complete(ctx, tests)
			if err != nil {
				return err
			}

			baseline := config.Baseline{}
			for _, file := range ws.completeness.Missing(ctx, files, tests) {
				baseline.Untested = append(baseline.Untested, string(file))
			}

			for _, test := range complete {
				baseline.Complete = append(baseline.Complete, string(test))
			}

			if !viper.GetBool(writeFlagName) {
				content, err := baseline.Marshal()
				if err != nil {
					return err
				}

				_, _ = fmt.Fprint(cmd.OutOrStdout(), string(content))

				return nil
			}

			path, err := config.WriteBaseline(string(ws.root), baseline)
			if err != nil {
				slog.Error("Failed to write baseline", "root", ws.root, "error", err)
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d untested, %d complete)\n", path, len(baseline.Untested), len(baseline.Complete))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&baselineWriteFlag, writeFlagName, "w", false, "write "+config.BaselineFileName+" instead of printing")
	bindFlagToConfig(cmd.Flags().Lookup(writeFlagName), writeFlagName)

	return cmd
}

func init() {
	rootCmd.AddCommand(baselineCmd)
}
