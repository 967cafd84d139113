package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// stage_status is the persisted lifecycle of one stage in pipeline_state.json
type stage_status string

const (
	status_pending   stage_status = "Pending"
	status_submitted stage_status = "Submitted"
	status_verified  stage_status = "Verified"
	status_failed    stage_status = "Failed"
)

const manifest_file = "pipeline_state.json"

// stage is one step of the pipeline. Commands are generated lazily because
// later stages depend on what earlier ones wrote to disk (chunk counts are
// only known once the split stage has run).
type stage struct {
	Name     string
	Dirs     []string // created before submission
	Generate func() ([]string, error)
	Local    func() error // set instead of Generate for in-process stages
	Res      batch_resources
}

func (st stage) markerFile() string { return st.Name + ".done" }
func (st stage) submitFile() string { return st.Name + ".submit" }

func stageNames(stages []stage) []string {
	names := make([]string, 0, len(stages))
	for _, st := range stages {
		names = append(names, st.Name)
	}
	return names
}

// scheduler runs a stage's submit file and reports how many of its commands
// succeeded
type scheduler interface {
	run(stage_name, submit_file string, n int, res batch_resources) (int, error)
}

type stage_runner struct {
	sched    scheduler
	manifest map[string]stage_status
	debug    bool
}

func newStageRunner(sched scheduler, stage_names []string, debug bool) *stage_runner {
	manifest := make(map[string]stage_status)
	for _, name := range stage_names {
		manifest[name] = status_pending
	}
	return &stage_runner{sched: sched, manifest: manifest, debug: debug}
}

// setStatus records a stage transition and rewrites the manifest file, in the
// same spirit as per-step checkpoint files
func (r *stage_runner) setStatus(name string, status stage_status) {
	r.manifest[name] = status
	manifest_json, _ := json.MarshalIndent(r.manifest, "", "  ")
	if err := os.WriteFile(manifest_file, manifest_json, 0644); err != nil {
		log.Println(fmt.Sprintf("Unable to write %s: %s", manifest_file, err))
	}
}

// runStage skips a stage whose .done marker exists, otherwise regenerates its
// commands, submits them, and writes the marker only when the success token
// count equals the command count
func (r *stage_runner) runStage(st stage) error {
	if fileExists(st.markerFile()) {
		log.Println(fmt.Sprintf("Marker %s exists, skipping stage %s", st.markerFile(), st.Name))
		r.setStatus(st.Name, status_verified)
		return nil
	}

	log.Println(fmt.Sprintf("Starting stage %s", st.Name))
	for _, dir := range st.Dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "creating %s for stage %s", dir, st.Name)
		}
	}

	if st.Local != nil {
		r.setStatus(st.Name, status_submitted)
		if err := st.Local(); err != nil {
			r.setStatus(st.Name, status_failed)
			return errors.Wrapf(err, "running stage %s", st.Name)
		}
		return r.markDone(st)
	}

	commands, err := st.Generate()
	if err != nil {
		r.setStatus(st.Name, status_failed)
		return errors.Wrapf(err, "generating commands for stage %s", st.Name)
	}
	if len(commands) == 0 {
		r.setStatus(st.Name, status_failed)
		return errors.Errorf("stage %s generated no commands", st.Name)
	}
	if r.debug {
		for _, cmd := range commands {
			log.Println(fmt.Sprintf("[%s] %s", st.Name, cmd))
		}
	}

	if err := os.WriteFile(st.submitFile(), []byte(strings.Join(commands, "\n")+"\n"), 0644); err != nil {
		r.setStatus(st.Name, status_failed)
		return errors.Wrapf(err, "writing %s", st.submitFile())
	}
	if err := os.MkdirAll(batchLogDir(st.Name), 0755); err != nil {
		r.setStatus(st.Name, status_failed)
		return errors.Wrapf(err, "creating log directory for stage %s", st.Name)
	}

	r.setStatus(st.Name, status_submitted)
	succeeded, err := r.sched.run(st.Name, st.submitFile(), len(commands), st.Res)
	if err != nil {
		r.setStatus(st.Name, status_failed)
		return errors.Wrapf(err, "running stage %s", st.Name)
	}
	if succeeded != len(commands) {
		r.setStatus(st.Name, status_failed)
		return errors.Errorf("stage %s: %d of %d commands reported success", st.Name, succeeded, len(commands))
	}

	log.Println(fmt.Sprintf("All %d commands of stage %s completed successfully", len(commands), st.Name))
	return r.markDone(st)
}

func (r *stage_runner) markDone(st stage) error {
	if err := os.WriteFile(st.markerFile(), []byte{}, 0644); err != nil {
		r.setStatus(st.Name, status_failed)
		return errors.Wrapf(err, "writing marker for stage %s", st.Name)
	}
	r.setStatus(st.Name, status_verified)
	return nil
}
