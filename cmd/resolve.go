package cmd

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"covguard.dev/pkg/covguard/internal/controller"
)

var errUnresolved = errors.New("some test files could not be resolved")

// resolveCmd represents the resolve command.
var resolveCmd = newResolveCmd()

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <test files...>",
		Short: "Show the source file each test file is presumed to cover",
		Long: `Resolve test files to the source files covguard.Covered would declare for
them. Paths are relative to the working directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := loadWorkspace(ctx)
			if err != nil {
				return err
			}

			resolutions := make([]controller.Resolution, 0, len(args))
			failed := false

			for _, test := range parsePaths(args) {
				source, err := ws.resolver.Resolve(filepath.FromSlash(string(test)))
				if err != nil {
					failed = true
				}

				resolutions = append(resolutions, controller.Resolution{Test: test, Source: source, Err: err})
			}

			if err := newUI(cmd).DisplayResolutions(ctx, resolutions); err != nil {
				return err
			}

			if failed {
				return errUnresolved
			}

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
