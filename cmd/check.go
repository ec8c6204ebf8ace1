package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"covguard.dev/pkg/covguard/internal/config"
	"covguard.dev/pkg/covguard/internal/controller"
)

var errChecksFailed = errors.New("completeness checks failed")

var checkTestsFlag []string
var checkFilesFlag []string
var checkFullFlag bool

// checkCmd represents the check command.
var checkCmd = newCheckCmd()

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that every test declares coverage and every file has a test",
		Long: `Check the coverage contract without running tests:

  - every test file calls covguard.Covered, covguard.CoveredFile or covguard.NotCovered
  - every source file has a test, except those on the untested allow-list
  - allow-listed files that have a test now are reported so the list only shrinks

With --full the list of fully covered tests ("complete") is checked as well.`,
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

			checks := []controller.Check{
				{Name: "tests declare coverage", Err: ws.completeness.AssertUsed(ctx, tests)},
				{Name: "files have tests", Err: ws.completeness.AssertTested(ctx, files, tests, parsePaths(ws.cfg.Untested))},
			}

			if viper.GetBool(fullFlagName) || len(ws.cfg.Complete) > 0 {
				checks = append(checks, controller.Check{
					Name: "complete list is current",
					Err:  ws.completeness.AssertFullCoverage(ctx, tests, parsePaths(ws.cfg.Complete)),
				})
			}

			if err := newUI(cmd).DisplayChecks(ctx, checks); err != nil {
				return err
			}

			for _, check := range checks {
				if check.Err != nil {
					return errChecksFailed
				}
			}

			return nil
		},
	}

	configureCheckFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func configureCheckFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&checkTestsFlag, testsFlagName, viper.GetStringSlice(config.TestsKey), "doublestar pattern matching test files (can be repeated)")
	bindFlagToConfig(cmd.Flags().Lookup(testsFlagName), config.TestsKey)

	cmd.Flags().StringArrayVar(&checkFilesFlag, filesFlagName, viper.GetStringSlice(config.FilesKey), "doublestar pattern matching source files (can be repeated)")
	bindFlagToConfig(cmd.Flags().Lookup(filesFlagName), config.FilesKey)

	cmd.Flags().BoolVar(&checkFullFlag, fullFlagName, false, "also check the list of fully covered tests")
	bindFlagToConfig(cmd.Flags().Lookup(fullFlagName), fullFlagName)
}
