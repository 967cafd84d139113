package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeElementLog(t *testing.T, dir string, idx int, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(elementLog(dir, idx), []byte(content), 0644))
}

const (
	success_log = "Job was executed on host(s) <node-5-2-1>\nSuccessfully completed.\nTerminated at Mon Aug 24 11:02:14 2026\n"
	exited_log  = "Job was executed on host(s) <node-5-2-1>\nExited with exit code 1.\nTerminated at Mon Aug 24 11:02:14 2026\n"
)

func TestBsubArgs(t *testing.T) {
	res := batch_resources{Threads: 8, Mem_mb: 38000, Runtime: "12:00", Max_parallel: 50}
	args := bsubArgs("align_1", "align_1.submit", 12, res, "BATCH_align_1")
	assert.Equal(t, []string{
		"-J", "align_1[1-12]%50",
		"-o", "BATCH_align_1/%I.o",
		"-e", "BATCH_align_1/%I.e",
		"-R'select[mem>38000] rusage[mem=38000]'",
		"-M38000",
		"-n", "8",
		"-W", "12:00",
		`sed -n "${LSB_JOBINDEX}p" 'align_1.submit' | bash -e`,
	}, args)
}

func TestBsubArgsDefaults(t *testing.T) {
	res := batch_resources{Threads: 1, Mem_mb: 2000}
	args := bsubArgs("split", "split.submit", 3, res, "BATCH_split")
	assert.Contains(t, args, "split[1-3]") // no slot limit suffix
	assert.NotContains(t, args, "-W")
}

func TestAllTerminated(t *testing.T) {
	dir := t.TempDir()
	writeElementLog(t, dir, 1, success_log)
	writeElementLog(t, dir, 2, exited_log)

	// element 3 has not written its log yet
	assert.False(t, allTerminated(dir, 3))

	writeElementLog(t, dir, 3, "Job was executed on host(s) <node-5-2-1>\nstill running\n")
	assert.False(t, allTerminated(dir, 3))

	writeElementLog(t, dir, 3, success_log)
	assert.True(t, allTerminated(dir, 3))
}

func TestCountSuccessTokens(t *testing.T) {
	dir := t.TempDir()
	writeElementLog(t, dir, 1, success_log)
	writeElementLog(t, dir, 2, exited_log)
	writeElementLog(t, dir, 3, success_log)

	count, err := countSuccessTokens(dir, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCountSuccessTokensMissingLog(t *testing.T) {
	dir := t.TempDir()
	writeElementLog(t, dir, 1, success_log)

	_, err := countSuccessTokens(dir, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element 2")
}

func TestElementLog(t *testing.T) {
	assert.Equal(t, filepath.Join("BATCH_split", "7.o"), elementLog("BATCH_split", 7))
}
