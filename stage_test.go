package main

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fake_scheduler reports every command as succeeded unless a stage has an
// override in succeed_n
type fake_scheduler struct {
	succeed_n map[string]int
	calls     []string
}

func (f *fake_scheduler) run(stage_name, submit_file string, n int, res batch_resources) (int, error) {
	f.calls = append(f.calls, stage_name)
	if count, ok := f.succeed_n[stage_name]; ok {
		return count, nil
	}
	return n, nil
}

func TestRunStageWritesSubmitAndMarker(t *testing.T) {
	chdirTemp(t)
	sched := &fake_scheduler{}
	runner := newStageRunner(sched, []string{"demo"}, false)

	st := stage{
		Name:     "demo",
		Dirs:     []string{"demo_out"},
		Generate: func() ([]string, error) { return []string{"echo one", "echo two"}, nil },
	}
	require.NoError(t, runner.runStage(st))

	dat, err := os.ReadFile("demo.submit")
	require.NoError(t, err)
	assert.Equal(t, "echo one\necho two\n", string(dat))

	assert.True(t, fileExists("demo.done"))
	assert.DirExists(t, "demo_out")
	assert.DirExists(t, "BATCH_demo")
	assert.Equal(t, []string{"demo"}, sched.calls)

	manifest, err := os.ReadFile(manifest_file)
	require.NoError(t, err)
	assert.Contains(t, string(manifest), `"demo": "Verified"`)
}

func TestRunStageSkipsWhenMarkerPresent(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("demo.done", []byte{}, 0644))

	sched := &fake_scheduler{}
	runner := newStageRunner(sched, []string{"demo"}, false)

	generated := false
	st := stage{
		Name:     "demo",
		Generate: func() ([]string, error) { generated = true; return []string{"echo"}, nil },
	}
	require.NoError(t, runner.runStage(st))
	assert.False(t, generated)
	assert.Empty(t, sched.calls)
}

func TestRunStageTokenCountMismatch(t *testing.T) {
	chdirTemp(t)
	sched := &fake_scheduler{succeed_n: map[string]int{"demo": 1}}
	runner := newStageRunner(sched, []string{"demo"}, false)

	st := stage{
		Name:     "demo",
		Generate: func() ([]string, error) { return []string{"echo", "echo", "echo"}, nil },
	}
	err := runner.runStage(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 commands")
	assert.False(t, fileExists("demo.done"))

	manifest, readErr := os.ReadFile(manifest_file)
	require.NoError(t, readErr)
	assert.Contains(t, string(manifest), `"demo": "Failed"`)
}

func TestRunStageLocal(t *testing.T) {
	chdirTemp(t)
	sched := &fake_scheduler{}
	runner := newStageRunner(sched, []string{"local"}, false)

	ran := false
	st := stage{Name: "local", Local: func() error { ran = true; return nil }}
	require.NoError(t, runner.runStage(st))
	assert.True(t, ran)
	assert.True(t, fileExists("local.done"))
	assert.Empty(t, sched.calls) // local stages never touch the scheduler
}

func TestRunStageLocalFailure(t *testing.T) {
	chdirTemp(t)
	runner := newStageRunner(&fake_scheduler{}, []string{"local"}, false)

	st := stage{Name: "local", Local: func() error { return errors.New("junction table unreadable") }}
	err := runner.runStage(st)
	require.Error(t, err)
	assert.False(t, fileExists("local.done"))

	manifest, readErr := os.ReadFile(manifest_file)
	require.NoError(t, readErr)
	assert.Contains(t, string(manifest), `"local": "Failed"`)
}

func TestRunStageNoCommands(t *testing.T) {
	chdirTemp(t)
	runner := newStageRunner(&fake_scheduler{}, []string{"demo"}, false)

	st := stage{Name: "demo", Generate: func() ([]string, error) { return nil, nil }}
	err := runner.runStage(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generated no commands")
}

func TestRunStageOverwritesStaleSubmitFile(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("demo.submit", []byte("stale command\n"), 0644))

	runner := newStageRunner(&fake_scheduler{}, []string{"demo"}, false)
	st := stage{
		Name:     "demo",
		Generate: func() ([]string, error) { return []string{"fresh command"}, nil },
	}
	require.NoError(t, runner.runStage(st))

	dat, err := os.ReadFile("demo.submit")
	require.NoError(t, err)
	assert.Equal(t, "fresh command\n", string(dat))
}
