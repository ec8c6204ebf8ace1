// Package config loads covguard settings from covguard.yaml and COVGUARD_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Keys and defaults shared by the CLI and the test-binary guard.
const (
	ConfigBaseName = "covguard"
	ConfigFileName = ConfigBaseName + ".yaml"
	EnvPrefix      = "COVGUARD"

	VersionKey          = "version"
	RootKey             = "root"
	MaxOutputKey        = "max_output"
	PolicyKey           = "policy"
	MarkerKey           = "marker"
	ConventionKey       = "convention"
	TestsKey            = "paths.tests"
	FilesKey            = "paths.files"
	ExcludeKey          = "paths.exclude"
	UntestedKey         = "untested"
	CompleteKey         = "complete"
	SkipNoCoverageKey   = "skip_without_coverage"
	CurrentVersion      = 1
	DefaultMaxOutput    = 40
	DefaultPolicy       = "auto"
	DefaultMarker       = "uncovered"
	DefaultConvention   = "go"
	DefaultSkipCoverage = false
)

var (
	// DefaultTests matches Go test files.
	DefaultTests = []string{"**/*_test.go"}
	// DefaultFiles matches Go sources; test files are removed separately.
	DefaultFiles = []string{"**/*.go"}
	// DefaultExclude skips vendored and fixture code.
	DefaultExclude = []string{"vendor/**", "**/testdata/**"}
)

// Config is the resolved configuration.
type Config struct {
	Root                string
	MaxOutput           int
	Policy              string
	Marker              string
	Convention          string
	Tests               []string
	Files               []string
	Exclude             []string
	Untested            []string
	Complete            []string
	SkipWithoutCoverage bool
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(VersionKey, CurrentVersion)
	v.SetDefault(RootKey, "")
	v.SetDefault(MaxOutputKey, DefaultMaxOutput)
	v.SetDefault(PolicyKey, DefaultPolicy)
	v.SetDefault(MarkerKey, DefaultMarker)
	v.SetDefault(ConventionKey, DefaultConvention)
	v.SetDefault(TestsKey, DefaultTests)
	v.SetDefault(FilesKey, DefaultFiles)
	v.SetDefault(ExcludeKey, DefaultExclude)
	v.SetDefault(UntestedKey, []string{})
	v.SetDefault(CompleteKey, []string{})
	v.SetDefault(SkipNoCoverageKey, DefaultSkipCoverage)
}

// ConfigureEnv binds COVGUARD_* variables, mapping "." and "-" to "_".
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// FromViper reads a Config out of v.
func FromViper(v *viper.Viper) Config {
	return Config{
		Root:                v.GetString(RootKey),
		MaxOutput:           v.GetInt(MaxOutputKey),
		Policy:              v.GetString(PolicyKey),
		Marker:              v.GetString(MarkerKey),
		Convention:          v.GetString(ConventionKey),
		Tests:               v.GetStringSlice(TestsKey),
		Files:               v.GetStringSlice(FilesKey),
		Exclude:             v.GetStringSlice(ExcludeKey),
		Untested:            v.GetStringSlice(UntestedKey),
		Complete:            v.GetStringSlice(CompleteKey),
		SkipWithoutCoverage: v.GetBool(SkipNoCoverageKey),
	}
}

// Load reads covguard.yaml and the baseline file from dir, if present, on top
// of the defaults.
func Load(dir string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	ConfigureEnv(v)
	v.SetConfigName(ConfigBaseName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read %s: %w", ConfigFileName, err)
		}
	}

	cfg := FromViper(v)
	if err := cfg.ApplyBaseline(dir); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
