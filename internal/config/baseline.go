package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// BaselineFileName is the generated allow-list file read next to covguard.yaml.
const BaselineFileName = ".covguard-baseline.yaml"

// Baseline is the generated part of the allow-lists: files still missing a
// test and tests already declaring full coverage.
type Baseline struct {
	Untested []string `yaml:"untested"`
	Complete []string `yaml:"complete"`
}

// ReadBaseline loads dir/.covguard-baseline.yaml. A missing file yields an
// empty baseline and ok=false.
func ReadBaseline(dir string) (Baseline, bool, error) {
	path := filepath.Join(dir, BaselineFileName)

	// #nosec G304 - baseline file of the project being checked
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Baseline{}, false, nil
		}

		return Baseline{}, false, err
	}

	var baseline Baseline
	if err := yaml.Unmarshal(content, &baseline); err != nil {
		return Baseline{}, false, fmt.Errorf("parse %s: %w", BaselineFileName, err)
	}

	return baseline, true, nil
}

// Marshal renders the baseline with sorted lists.
func (b Baseline) Marshal() ([]byte, error) {
	sorted := Baseline{
		Untested: sortedCopy(b.Untested),
		Complete: sortedCopy(b.Complete),
	}

	return yaml.Marshal(sorted)
}

// WriteBaseline writes b to dir/.covguard-baseline.yaml and returns the path.
func WriteBaseline(dir string, b Baseline) (string, error) {
	content, err := b.Marshal()
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, BaselineFileName)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", BaselineFileName, err)
	}

	return path, nil
}

// ApplyBaseline adds the entries of dir's baseline file to the allow-lists.
func (c *Config) ApplyBaseline(dir string) error {
	baseline, ok, err := ReadBaseline(dir)
	if err != nil || !ok {
		return err
	}

	c.Untested = mergeUnique(c.Untested, baseline.Untested)
	c.Complete = mergeUnique(c.Complete, baseline.Complete)

	return nil
}

func mergeUnique(a, b []string) []string {
	merged := append(slices.Clone(a), b...)
	slices.Sort(merged)

	return slices.Compact(merged)
}

func sortedCopy(values []string) []string {
	out := slices.Clone(values)
	if out == nil {
		out = []string{}
	}

	slices.Sort(out)

	return out
}
