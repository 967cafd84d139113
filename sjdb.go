package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// splice_junction is one intron record from a STAR SJ.out.tab file
type splice_junction struct {
	Chrom  string
	Start  int
	End    int
	Strand int // 0 undefined, 1 plus, 2 minus
}

func (j splice_junction) strandSymbol() string {
	switch j.Strand {
	case 1:
		return "+"
	case 2:
		return "-"
	}
	return "."
}

// parseSJLine parses one SJ.out.tab line, returning the junction and its
// uniquely mapping read count (column 7)
func parseSJLine(line string) (splice_junction, int, error) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return splice_junction{}, 0, errors.Errorf("expected 9 columns in splice junction line, got %d", len(fields))
	}

	start, err := strconv.Atoi(fields[1])
	if err != nil {
		return splice_junction{}, 0, errors.Wrap(err, "parsing intron start")
	}
	end, err := strconv.Atoi(fields[2])
	if err != nil {
		return splice_junction{}, 0, errors.Wrap(err, "parsing intron end")
	}
	strand, err := strconv.Atoi(fields[3])
	if err != nil {
		return splice_junction{}, 0, errors.Wrap(err, "parsing strand")
	}
	unique, err := strconv.Atoi(fields[6])
	if err != nil {
		return splice_junction{}, 0, errors.Wrap(err, "parsing unique read count")
	}

	return splice_junction{Chrom: fields[0], Start: start, End: end, Strand: strand}, unique, nil
}

func addSJTable(support map[splice_junction]int, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	line_n := 0
	for scanner.Scan() {
		line_n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		junction, unique, err := parseSJLine(line)
		if err != nil {
			return errors.Wrapf(err, "%s line %d", path, line_n)
		}
		support[junction] += unique
	}
	return errors.Wrapf(scanner.Err(), "reading %s", path)
}

// collectSpliceJunctions aggregates junction support across every pass 1
// SJ.out.tab, drops junctions whose summed unique read count does not exceed
// the threshold, and writes the survivors to out_path in the chr/start/end/
// strand format --sjdbFileChrStartEnd expects. Returns how many junctions
// were kept.
func collectSpliceJunctions(align_dir string, threshold int, out_path string) (int, error) {
	tables, err := filepath.Glob(filepath.Join(align_dir, "*SJ.out.tab"))
	if err != nil {
		return 0, errors.Wrap(err, "globbing splice junction tables")
	}
	if len(tables) == 0 {
		return 0, errors.Errorf("no SJ.out.tab files found under %s", align_dir)
	}

	support := make(map[splice_junction]int)
	for _, table := range tables {
		if err := addSJTable(support, table); err != nil {
			return 0, err
		}
	}

	var kept []splice_junction
	for junction, unique := range support {
		if unique > threshold {
			kept = append(kept, junction)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Chrom != b.Chrom {
			return a.Chrom < b.Chrom
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})

	var sb strings.Builder
	for _, junction := range kept {
		fmt.Fprintf(&sb, "%s\t%d\t%d\t%s\n", junction.Chrom, junction.Start, junction.End, junction.strandSymbol())
	}
	if err := os.WriteFile(out_path, []byte(sb.String()), 0644); err != nil {
		return 0, errors.Wrapf(err, "writing %s", out_path)
	}
	return len(kept), nil
}
