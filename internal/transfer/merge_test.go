package transfer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cocofetch/cocofetch/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeParts(t *testing.T, outputPath string, plan *Plan, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(utils.WorkspaceDir(outputPath), 0755))
	for _, seg := range plan.Segments {
		require.NoError(t, os.WriteFile(PartPath(outputPath, seg.Index), content[seg.Start:seg.End+1], 0644))
	}
}

func TestMergeConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "merged.bin")
	content := bytes.Repeat([]byte("abcdefghij"), 1000)

	plan, err := BuildPlan(int64(len(content)), 4)
	require.NoError(t, err)
	writeParts(t, outputPath, plan, content)
	require.NoError(t, SavePlan(outputPath, plan))

	require.NoError(t, merge(outputPath, plan))

	merged, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, content, merged)

	// Partials, plan file, and workspace are reclaimed.
	_, err = os.Stat(utils.WorkspaceDir(outputPath))
	assert.True(t, os.IsNotExist(err))
}

func TestMergeOutputLengthEqualsPartSum(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "merged.bin")
	content := bytes.Repeat([]byte{0xAB}, 1009) // prime length, uneven parts

	plan, err := BuildPlan(int64(len(content)), 3)
	require.NoError(t, err)
	writeParts(t, outputPath, plan, content)

	require.NoError(t, merge(outputPath, plan))

	info, err := os.Stat(outputPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size())
}

func TestMergeMissingPartFails(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "merged.bin")
	content := bytes.Repeat([]byte{0x01}, 100)

	plan, err := BuildPlan(int64(len(content)), 4)
	require.NoError(t, err)
	writeParts(t, outputPath, plan, content)
	require.NoError(t, os.Remove(PartPath(outputPath, 2)))

	err = merge(outputPath, plan)
	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)

	// A partially written output must not survive.
	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMergeShortPartFails(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "merged.bin")
	content := bytes.Repeat([]byte{0x02}, 100)

	plan, err := BuildPlan(int64(len(content)), 4)
	require.NoError(t, err)
	writeParts(t, outputPath, plan, content)
	// Truncate one part so the sum no longer matches the plan.
	require.NoError(t, os.WriteFile(PartPath(outputPath, 1), []byte{0x02}, 0644))

	err = merge(outputPath, plan)
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*MergeError)))
	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}
