package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// a sample groups the fastq files in the reads directory that share a
// filename once the read-end suffix and fastq extension are stripped
type sample struct {
	Name    string
	Fastq_1 string
	Fastq_2 string // empty for single-end samples
}

func (s sample) paired() bool { return s.Fastq_2 != "" }

var fastq_extensions = []string{".fastq.gz", ".fq.gz", ".fastq", ".fq"}

// trimFastqExt strips a known fastq extension from a filename, ok is false
// for anything that isn't a fastq file
func trimFastqExt(filename string) (string, bool) {
	for _, ext := range fastq_extensions {
		if strings.HasSuffix(filename, ext) {
			return strings.TrimSuffix(filename, ext), true
		}
	}
	return "", false
}

// readEnd splits the read-end suffix off a fastq stem, end is 0 when there is
// no recognisable suffix (unsuffixed single-end naming)
func readEnd(stem string) (string, int) {
	for _, suffix := range []string{"_R1", "_1"} {
		if strings.HasSuffix(stem, suffix) {
			return strings.TrimSuffix(stem, suffix), 1
		}
	}
	for _, suffix := range []string{"_R2", "_2"} {
		if strings.HasSuffix(stem, suffix) {
			return strings.TrimSuffix(stem, suffix), 2
		}
	}
	return stem, 0
}

// discoverSamples scans the reads directory and groups its fastq files into
// samples, returning them sorted by name along with the overall read-end mode
// ("paired", "single" or "mixed"). A read 2 file without a matching read 1 is
// an error, as are two files claiming the same read end of one sample.
func discoverSamples(reads_dir string) ([]sample, string, error) {
	entries, err := os.ReadDir(reads_dir)
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading input directory %s", reads_dir)
	}

	sample_map := make(map[string]*sample)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem, ok := trimFastqExt(entry.Name())
		if !ok {
			continue
		}

		name, end := readEnd(stem)
		smpl, exists := sample_map[name]
		if !exists {
			smpl = &sample{Name: name}
			sample_map[name] = smpl
		}

		path := filepath.Join(reads_dir, entry.Name())
		if end == 2 {
			if smpl.Fastq_2 != "" {
				return nil, "", errors.Errorf("sample %s has more than one read 2 file", name)
			}
			smpl.Fastq_2 = path
		} else {
			if smpl.Fastq_1 != "" {
				return nil, "", errors.Errorf("sample %s has more than one read 1 file", name)
			}
			smpl.Fastq_1 = path
		}
	}

	if len(sample_map) == 0 {
		return nil, "", errors.Errorf("no fastq files found in %s", reads_dir)
	}

	names := make([]string, 0, len(sample_map))
	for name := range sample_map {
		names = append(names, name)
	}
	sort.Strings(names)

	var samples []sample
	paired_n := 0
	for _, name := range names {
		smpl := sample_map[name]
		if smpl.Fastq_1 == "" {
			return nil, "", errors.Errorf("sample %s has a read 2 file but no read 1", name)
		}
		if smpl.paired() {
			paired_n++
		}
		samples = append(samples, *smpl)
	}

	mode := "mixed"
	if paired_n == len(samples) {
		mode = "paired"
	} else if paired_n == 0 {
		mode = "single"
	}
	return samples, mode, nil
}
