package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covguard.dev/pkg/covguard/internal/config"
)

func TestBaselineCmd_PrintsYAML(t *testing.T) {
	root := newTestProject(t)

	output, err := executeSubcommand(t, newBaselineCmd(), root)

	require.NoError(t, err)
	assert.Contains(t, output, "- helper.go")
	assert.Contains(t, output, "complete: []")

	_, err = os.Stat(filepath.Join(root, config.BaselineFileName))
	require.ErrorIs(t, err, os.ErrNotExist, "printing does not write the file")
}

func TestBaselineCmd_WriteMakesCheckPass(t *testing.T) {
	root := newTestProject(t)

	output, err := executeSubcommand(t, newBaselineCmd(), root, "--write")

	require.NoError(t, err)
	assert.Contains(t, output, "(1 untested, 0 complete)")

	baseline, ok, err := config.ReadBaseline(root)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"helper.go"}, baseline.Untested)

	_, err = executeSubcommand(t, newCheckCmd(), root)
	require.NoError(t, err)
}
