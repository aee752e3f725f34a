package gen

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestEnginePublishesByRename(t *testing.T) {
	final := filepath.Join(t.TempDir(), "sub", "out.txt")
	e := NewEngine("", nil)

	temp, err := e.Start("echo hello", final)
	require.NoError(t, err)
	assert.NotEqual(t, final, temp)
	assert.Equal(t, filepath.Dir(final), filepath.Dir(temp),
		"temp must live next to the final path so the rename stays atomic")

	waitFor(t, func() bool { return exists(final) })

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
	assert.False(t, exists(temp), "the temp file is gone after publishing")
}

func TestEngineFailedProducerLeavesNothing(t *testing.T) {
	final := filepath.Join(t.TempDir(), "out.txt")
	e := NewEngine("", nil)

	temp, err := e.Start("echo partial; exit 1", final)
	require.NoError(t, err, "a failing producer is only detected after it exits")

	waitFor(t, func() bool { return !exists(temp) })
	assert.False(t, exists(final), "failed output must never reach the final path")
}

func TestEngineDoesNotBlockOnSlowProducer(t *testing.T) {
	final := filepath.Join(t.TempDir(), "out.txt")
	e := NewEngine("", nil)

	start := time.Now()
	temp, err := e.Start("sleep 2; echo done", final)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second,
		"Start must return while the producer is still running")
	assert.True(t, exists(temp))
	assert.False(t, exists(final))
}

func TestEngineBadShell(t *testing.T) {
	final := filepath.Join(t.TempDir(), "out.txt")
	e := NewEngine("/nonexistent/shell", nil)

	_, err := e.Start("echo hi", final)
	require.Error(t, err)
	assert.False(t, exists(final))

	entries, err := os.ReadDir(filepath.Dir(final))
	require.NoError(t, err)
	assert.Empty(t, entries, "a spawn failure must not leave a temp file behind")
}
