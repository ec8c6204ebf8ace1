package adapter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	m "covguard.dev/pkg/covguard/internal/model"
)

type mockCovdataAdapter struct {
	mock.Mock
}

func (a *mockCovdataAdapter) TextFormat(ctx context.Context, inputDir, outputFile string) (string, error) {
	args := a.Called(ctx, inputDir, outputFile)
	return args.String(0), args.Error(1)
}

func TestCovdataRecorder_Result(t *testing.T) {
	root := newModule(t)
	coverDir := t.TempDir()

	tool := &mockCovdataAdapter{}
	tool.On("TextFormat", mock.Anything, coverDir, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			out := args.String(2)
			writeTestFile(t, out, "mode: set\nexample.com/app/widget.go:4.7,8.3 2 0\n")
		}).
		Return("", nil).
		Once()

	recorder := NewCovdataRecorder(m.Path(root), m.Path(coverDir), NewLocalSourceFSAdapter(), tool)
	require.NoError(t, recorder.Start(context.Background()))

	snapshot, err := recorder.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 7}, snapshot.Files[m.Path(filepath.Join(root, "widget.go"))].Uncovered())
	tool.AssertExpectations(t)
}

func TestCovdataRecorder_ToolFailure(t *testing.T) {
	root := newModule(t)
	coverDir := t.TempDir()

	tool := &mockCovdataAdapter{}
	tool.On("TextFormat", mock.Anything, coverDir, mock.Anything).Return("no meta-data files", errors.New("exit status 1"))

	recorder := NewCovdataRecorder(m.Path(root), m.Path(coverDir), NewLocalSourceFSAdapter(), tool)
	require.NoError(t, recorder.Start(context.Background()))

	_, err := recorder.Result(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no meta-data files")
}

func TestCovdataRecorder_StartValidatesDirectory(t *testing.T) {
	root := newModule(t)
	fs := NewLocalSourceFSAdapter()

	missing := NewCovdataRecorder(m.Path(root), m.Path(filepath.Join(root, "nope")), fs, &mockCovdataAdapter{})
	require.ErrorIs(t, missing.Start(context.Background()), os.ErrNotExist)

	file := NewCovdataRecorder(m.Path(root), m.Path(filepath.Join(root, "widget.go")), fs, &mockCovdataAdapter{})
	require.Error(t, file.Start(context.Background()))

	notStarted := NewCovdataRecorder(m.Path(root), m.Path(root), fs, &mockCovdataAdapter{})
	_, err := notStarted.Result(context.Background())
	require.ErrorIs(t, err, ErrRecorderNotStarted)
}
