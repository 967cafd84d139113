package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("@r1\nACGT\n+\nFFFF\n"), 0644))
}

// chdirTemp moves the test into a fresh working directory so the relative
// paths the pipeline writes stay contained
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func positionsOf(names []string) map[string]int {
	positions := make(map[string]int, len(names))
	for i, name := range names {
		positions[name] = i
	}
	return positions
}
