package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LSF appends these trailers to a job's -o file once the job ends
const (
	lsf_terminated_token = "Terminated at"
	lsf_success_token    = "Successfully completed."
)

// batch_resources are the per-stage hints passed through to bsub
type batch_resources struct {
	Threads      int
	Mem_mb       int
	Runtime      string // bsub -W wall clock limit, empty for the queue default
	Max_parallel int    // job array slot limit, 0 for unlimited
}

// lsf_scheduler dispatches a stage's .submit file as a single bsub job array
// and watches the per-element log files for the LSF trailers, the same way
// the bsub -o output of individual jobs used to be watched
type lsf_scheduler struct {
	Bsub_exec     string
	Poll_interval time.Duration
	Debug         bool
}

func (s *lsf_scheduler) run(stage_name, submit_file string, n int, res batch_resources) (int, error) {
	log_dir := batchLogDir(stage_name)
	args := bsubArgs(stage_name, submit_file, n, res, log_dir)
	if s.Debug {
		log.Println(fmt.Sprintf("Submitting: %s %s", s.Bsub_exec, strings.Join(args, " ")))
	}

	output, err := exec.Command(s.Bsub_exec, args...).CombinedOutput()
	if err != nil {
		// Display everything we got if error.
		log.Println("Error when running command.  Output:")
		log.Println(string(output))
		return 0, errors.Wrapf(err, "submitting %s job array", stage_name)
	}

	// block until every array element has written its LSF trailer
	for !allTerminated(log_dir, n) {
		time.Sleep(s.Poll_interval)
	}
	return countSuccessTokens(log_dir, n)
}

func batchLogDir(stage_name string) string {
	return "BATCH_" + stage_name
}

func elementLog(log_dir string, idx int) string {
	return filepath.Join(log_dir, fmt.Sprintf("%d.o", idx))
}

// bsubArgs builds the job array submission for a stage: element i of the
// array runs line i of the .submit file
func bsubArgs(stage_name, submit_file string, n int, res batch_resources, log_dir string) []string {
	job_spec := fmt.Sprintf("%s[1-%d]", stage_name, n)
	if res.Max_parallel > 0 {
		job_spec = fmt.Sprintf("%s%%%d", job_spec, res.Max_parallel)
	}

	args := []string{
		"-J", job_spec,
		"-o", log_dir + "/%I.o",
		"-e", log_dir + "/%I.e",
		fmt.Sprintf("-R'select[mem>%d] rusage[mem=%d]'", res.Mem_mb, res.Mem_mb),
		fmt.Sprintf("-M%d", res.Mem_mb),
		"-n", fmt.Sprintf("%d", res.Threads),
	}
	if res.Runtime != "" {
		args = append(args, "-W", res.Runtime)
	}
	args = append(args, fmt.Sprintf("sed -n \"${LSB_JOBINDEX}p\" '%s' | bash -e", submit_file))
	return args
}

// allTerminated reports whether every element log exists and carries the LSF
// termination trailer yet
func allTerminated(log_dir string, n int) bool {
	for i := 1; i <= n; i++ {
		dat, err := os.ReadFile(elementLog(log_dir, i))
		if err != nil || !strings.Contains(string(dat), lsf_terminated_token) {
			return false
		}
	}
	return true
}

// countSuccessTokens counts how many element logs report success
func countSuccessTokens(log_dir string, n int) (int, error) {
	var count int64
	var eg errgroup.Group
	for i := 1; i <= n; i++ {
		i := i
		eg.Go(func() error {
			dat, err := os.ReadFile(elementLog(log_dir, i))
			if err != nil {
				return errors.Wrapf(err, "reading scheduler log for element %d", i)
			}
			if strings.Contains(string(dat), lsf_success_token) {
				atomic.AddInt64(&count, 1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return int(count), nil
}
