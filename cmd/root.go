// Package cmd provides the root command and CLI setup for covguard.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"covguard.dev/pkg/covguard/internal/adapter"
	"covguard.dev/pkg/covguard/internal/config"
	"covguard.dev/pkg/covguard/internal/controller"
	"covguard.dev/pkg/covguard/internal/domain"
	m "covguard.dev/pkg/covguard/internal/model"
)

var sourceFSAdapter adapter.SourceFSAdapter
var goFileAdapter adapter.GoFileAdapter
var covdataAdapter adapter.CovdataAdapter

// newUI picks the output adapter for a command; tests replace it.
var newUI = func(cmd *cobra.Command) controller.UI {
	return controller.NewUI(cmd, controller.IsTTY(cmd.OutOrStdout()))
}

// rootFlag overrides the project root for every command.
var rootFlag string

// excludePatterns is a root-level flag that filters files for applicable commands.
var excludePatterns []string

var verboseFlag bool
var logFileFlag string

func init() {
	// Initialize shared dependencies.
	sourceFSAdapter = adapter.NewLocalSourceFSAdapter()
	goFileAdapter = adapter.NewLocalGoFileAdapter()
	covdataAdapter = adapter.NewLocalCovdataAdapter()
}

const rootLongDescription = `covguard keeps the coverage of every file in a Go module under contract.

Each test file declares the source it covers and how many lines of it may
stay uncovered. Run inside TestMain, covguard fails the test binary when the
recorded coverage drifts from the declaration. The commands below check the
contract offline and keep the allow-lists up to date.`

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := baseRootCmd()
	configureRootFlags(cmd)

	return cmd
}

func baseRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "covguard",
		Short:        "Per-file coverage contracts for Go tests",
		Long:         rootLongDescription,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(viper.GetString(logFilenameKey), viper.GetBool(logVerboseKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&rootFlag, rootFlagName, viper.GetString(config.RootKey), "project root (default: nearest directory with go.mod)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(rootFlagName), config.RootKey)

	cmd.PersistentFlags().StringArrayVarP(&excludePatterns, excludeFlagName, "x", viper.GetStringSlice(config.ExcludeKey), "exclude files matching a doublestar pattern (can be repeated)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(excludeFlagName), config.ExcludeKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "log at debug level")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)

	cmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, viper.GetString(logFilenameKey), "log file path")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(logFileFlagName), logFilenameKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// workspace holds the domain services for the project a command operates on.
type workspace struct {
	root         m.Path
	cfg          config.Config
	resolver     *domain.Resolver
	registry     *domain.Registry
	completeness *domain.Completeness
	verifier     *domain.Verifier
}

func loadWorkspace(ctx context.Context) (*workspace, error) {
	cfg := config.FromViper(viper.GetViper())

	root, err := projectRoot(ctx, cfg.Root)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyBaseline(string(root)); err != nil {
		return nil, err
	}

	convention, err := domain.ConventionByName(cfg.Convention)
	if err != nil {
		return nil, err
	}

	policy, err := domain.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	resolver := domain.NewResolver(root, convention, nil)

	return &workspace{
		root:         root,
		cfg:          cfg,
		resolver:     resolver,
		registry:     domain.NewRegistry(resolver, sourceFSAdapter),
		completeness: domain.NewCompleteness(resolver, sourceFSAdapter, goFileAdapter),
		verifier: domain.NewVerifier(root, sourceFSAdapter, goFileAdapter,
			domain.WithMaxOutput(cfg.MaxOutput),
			domain.WithPolicy(policy),
			domain.WithMarker(cfg.Marker),
		),
	}, nil
}

func projectRoot(ctx context.Context, configured string) (m.Path, error) {
	if configured != "" {
		abs, err := filepath.Abs(configured)
		if err != nil {
			return "", err
		}

		return m.Path(abs), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	root, err := sourceFSAdapter.FindProjectRoot(ctx, m.Path(cwd))
	if err != nil {
		return m.Path(cwd), nil //nolint:nilerr // Without go.mod the working directory is the root.
	}

	return root, nil
}

// tests lists the test files matched by the configuration.
func (w *workspace) tests(ctx context.Context) ([]m.Path, error) {
	return sourceFSAdapter.Glob(ctx, w.root, w.cfg.Tests, w.cfg.Exclude)
}

// files lists the source files matched by the configuration, minus tests.
func (w *workspace) files(ctx context.Context) ([]m.Path, error) {
	exclude := append(append([]string{}, w.cfg.Exclude...), w.cfg.Tests...)

	return sourceFSAdapter.Glob(ctx, w.root, w.cfg.Files, exclude)
}

func parsePaths(args []string) []m.Path {
	paths := make([]m.Path, 0, len(args))
	for _, arg := range args {
		paths = append(paths, m.Path(filepath.ToSlash(arg)))
	}

	return paths
}
