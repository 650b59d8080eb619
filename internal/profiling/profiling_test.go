package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_CPUAndTrace(t *testing.T) {
	dir := t.TempDir()
	cpuPath := filepath.Join(dir, "cpu.prof")
	tracePath := filepath.Join(dir, "trace.out")

	s, err := Start(cpuPath, tracePath)
	require.NoError(t, err)

	// Burn a little CPU so the profile has samples.
	sum := 0
	for i := 0; i < 1_000_000; i++ {
		sum += i
	}
	_ = sum

	s.Stop()

	for _, path := range []string{cpuPath, tracePath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestStart_EmptyPathsAreInert(t *testing.T) {
	s, err := Start("", "")
	require.NoError(t, err)

	s.Stop()
	s.Stop()
}

func TestWriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	require.NoError(t, WriteHeap(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
