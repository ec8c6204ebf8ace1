package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"covguard.dev/pkg/covguard/internal/adapter"
	"covguard.dev/pkg/covguard/internal/config"
	"covguard.dev/pkg/covguard/internal/controller"
	"covguard.dev/pkg/covguard/internal/domain"
	m "covguard.dev/pkg/covguard/internal/model"
)

var errCoverageMismatch = errors.New("coverage does not match the declarations")

var verifyProfileFlag string
var verifyCovdataFlag string
var verifyMaxOutputFlag int
var verifyPolicyFlag string

// verifyCmd represents the verify command.
var verifyCmd = newVerifyCmd()

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify declarations against recorded coverage",
		Long: `Verify the declarations found in test files against a coverage profile
written by "go test -coverprofile" or a GOCOVERDIR directory.

Declarations are read statically: only literal arguments of covguard.Covered
and covguard.CoveredFile are understood.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := verifyCoverage(cmd.Context(), verifyProfileFlag, verifyCovdataFlag)
			if err != nil {
				return err
			}

			if err := newUI(cmd).DisplayVerifyReport(cmd.Context(), report); err != nil {
				return err
			}

			if !report.Passed {
				return errCoverageMismatch
			}

			return nil
		},
	}

	configureVerifyFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func configureVerifyFlags(cmd *cobra.Command) {
	configureCoverageSourceFlags(cmd)

	cmd.Flags().IntVar(&verifyMaxOutputFlag, maxOutputFlagName, viper.GetInt(config.MaxOutputKey), "maximum number of diagnostic lines")
	bindFlagToConfig(cmd.Flags().Lookup(maxOutputFlagName), config.MaxOutputKey)

	cmd.Flags().StringVar(&verifyPolicyFlag, policyFlagName, viper.GetString(config.PolicyKey), "improved coverage handling: auto, strict or lenient")
	bindFlagToConfig(cmd.Flags().Lookup(policyFlagName), config.PolicyKey)
}

func configureCoverageSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&verifyProfileFlag, profileFlagName, "", "text coverage profile (go test -coverprofile)")
	cmd.Flags().StringVar(&verifyCovdataFlag, covdataFlagName, "", "binary coverage directory (GOCOVERDIR)")
	cmd.MarkFlagsMutuallyExclusive(profileFlagName, covdataFlagName)
	cmd.MarkFlagsOneRequired(profileFlagName, covdataFlagName)
}

// verifyCoverage runs the offline counterpart of the in-process guard.
func verifyCoverage(ctx context.Context, profile, covdata string) (controller.VerifyReport, error) {
	ws, err := loadWorkspace(ctx)
	if err != nil {
		return controller.VerifyReport{}, err
	}

	decls, err := staticDeclarations(ctx, ws)
	if err != nil {
		return controller.VerifyReport{}, err
	}

	recorder := coverageRecorder(ws.root, profile, covdata)
	if err := recorder.Start(ctx); err != nil {
		return controller.VerifyReport{}, err
	}

	snapshot, err := recorder.Result(ctx)
	if err != nil {
		return controller.VerifyReport{}, err
	}

	verdicts := ws.verifier.Verify(ctx, decls, snapshot)
	passed, lines := ws.verifier.Report(verdicts)

	slog.Info("Verified coverage", "declarations", len(decls), "passed", passed)

	return controller.VerifyReport{Verdicts: verdicts, Diagnostics: lines, Passed: passed}, nil
}

func staticDeclarations(ctx context.Context, ws *workspace) ([]m.Declaration, error) {
	tests, err := ws.tests(ctx)
	if err != nil {
		return nil, err
	}

	scanned, err := ws.completeness.Scan(ctx, tests)
	if err != nil {
		return nil, err
	}

	var errs []error

	for _, req := range domain.StaticDeclarations(ws.root, scanned) {
		if _, err := ws.registry.Declare(ctx, req); err != nil {
			slog.Error("Invalid declaration", "origin", req.Origin, "file", req.File, "error", err)
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid declarations:\n%w", err)
	}

	return ws.registry.Declarations(), nil
}

func coverageRecorder(root m.Path, profile, covdata string) adapter.CoverageRecorder {
	if covdata != "" {
		return adapter.NewCovdataRecorder(root, m.Path(covdata), sourceFSAdapter, covdataAdapter)
	}

	return adapter.NewFileProfileRecorder(root, profile, sourceFSAdapter)
}
