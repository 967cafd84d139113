package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// directories and files the stages leave behind in the working directory
const (
	split_reads_dir = "Split_Reads"
	index_1_dir     = "Index_1"
	index_2_dir     = "Index_2"
	align_1_dir     = "Align_1"
	align_2_dir     = "Align_2"
	final_bam_dir   = "Final_Bam"
	sjdb_out_file   = "sjdb.out"
)

// pipeline_config carries the tool paths and tuning values resolved from
// viper that the command generators need
type pipeline_config struct {
	Star_exec          string
	Samtools_exec      string
	Genome_fasta       string
	Split_lines        int
	Sjdb_overhang      int
	Limit_bam_sort_ram int64
	Index_threads      int
	Align_threads      int
	Merge_threads      int
}

// splitCommands generates one chunking command per input fastq file. zcat -f
// copes with both gzipped and plain fastq so the same command shape works for
// either. Single-end samples are chunked under the _1 prefix too so the
// aligner stages only ever have to look in one place.
func splitCommands(samples []sample, lines_per_chunk int) []string {
	var cmds []string
	for _, smpl := range samples {
		cmds = append(cmds, splitCommand(smpl.Fastq_1, smpl.Name, 1, lines_per_chunk))
		if smpl.paired() {
			cmds = append(cmds, splitCommand(smpl.Fastq_2, smpl.Name, 2, lines_per_chunk))
		}
	}
	return cmds
}

func splitCommand(fastq, name string, end, lines_per_chunk int) string {
	prefix := filepath.Join(split_reads_dir, fmt.Sprintf("%s_%d.fq.", name, end))
	return fmt.Sprintf("zcat -f '%s' | split -l %d -a 3 -d - '%s'", fastq, lines_per_chunk, prefix)
}

// chunkSuffixes lists the numeric chunk suffixes the split stage produced for
// a sample, checking read 1 and read 2 were chunked identically for paired
// samples
func chunkSuffixes(smpl sample) ([]string, error) {
	suffixes_1, err := chunksFor(smpl.Name, 1)
	if err != nil {
		return nil, err
	}
	if len(suffixes_1) == 0 {
		return nil, errors.Errorf("no split chunks found for sample %s", smpl.Name)
	}
	if smpl.paired() {
		suffixes_2, err := chunksFor(smpl.Name, 2)
		if err != nil {
			return nil, err
		}
		if !equalStrings(suffixes_1, suffixes_2) {
			return nil, errors.Errorf("read 1 and read 2 of sample %s split into different chunks", smpl.Name)
		}
	}
	return suffixes_1, nil
}

func chunksFor(name string, end int) ([]string, error) {
	prefix := fmt.Sprintf("%s_%d.fq.", name, end)
	matches, err := filepath.Glob(filepath.Join(split_reads_dir, prefix+"*"))
	if err != nil {
		return nil, errors.Wrapf(err, "globbing split chunks for sample %s", name)
	}
	var suffixes []string
	for _, match := range matches {
		suffixes = append(suffixes, strings.TrimPrefix(filepath.Base(match), prefix))
	}
	sort.Strings(suffixes)
	return suffixes, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// indexCommands generates the single genomeGenerate invocation for a pass.
// Pass 2 rebuilds the index with the filtered splice junction table from
// pass 1 alignments.
func (cfg pipeline_config) indexCommands(pass int) []string {
	genome_dir := index_1_dir
	sjdb := ""
	if pass == 2 {
		genome_dir = index_2_dir
		sjdb = fmt.Sprintf(" --sjdbFileChrStartEnd %s --sjdbOverhang %d", sjdb_out_file, cfg.Sjdb_overhang)
	}
	return []string{fmt.Sprintf("%s --runMode genomeGenerate --runThreadN %d --genomeDir %s --genomeFastaFiles '%s'%s",
		cfg.Star_exec, cfg.Index_threads, genome_dir, cfg.Genome_fasta, sjdb)}
}

// alignCommands generates one STAR invocation per sample chunk. Pass 1 keeps
// only the SJ.out.tab splice junction tables, pass 2 emits coordinate sorted
// bams ready for merging.
func (cfg pipeline_config) alignCommands(samples []sample, pass int) ([]string, error) {
	genome_dir := index_1_dir
	out_dir := align_1_dir
	if pass == 2 {
		genome_dir = index_2_dir
		out_dir = align_2_dir
	}

	var cmds []string
	for _, smpl := range samples {
		suffixes, err := chunkSuffixes(smpl)
		if err != nil {
			return nil, err
		}
		for _, suffix := range suffixes {
			reads := filepath.Join(split_reads_dir, fmt.Sprintf("%s_1.fq.%s", smpl.Name, suffix))
			if smpl.paired() {
				reads += " " + filepath.Join(split_reads_dir, fmt.Sprintf("%s_2.fq.%s", smpl.Name, suffix))
			}
			out_prefix := filepath.Join(out_dir, fmt.Sprintf("%s.%s.", smpl.Name, suffix))

			cmd := fmt.Sprintf("%s --runThreadN %d --genomeDir %s --readFilesIn %s --outFileNamePrefix %s",
				cfg.Star_exec, cfg.Align_threads, genome_dir, reads, out_prefix)
			if pass == 1 {
				cmd += " --outSAMtype None"
			} else {
				cmd += fmt.Sprintf(" --outSAMtype BAM SortedByCoordinate --outSAMattributes NH HI NM MD --limitBAMsortRAM %d",
					cfg.Limit_bam_sort_ram)
			}
			cmds = append(cmds, cmd)
		}
	}
	return cmds, nil
}

// mergeCommands generates one samtools merge per sample, collecting its pass 2
// chunk bams into Final_Bam
func (cfg pipeline_config) mergeCommands(samples []sample) ([]string, error) {
	var cmds []string
	for _, smpl := range samples {
		suffixes, err := chunkSuffixes(smpl)
		if err != nil {
			return nil, err
		}
		var bams []string
		for _, suffix := range suffixes {
			bams = append(bams, filepath.Join(align_2_dir, fmt.Sprintf("%s.%s.Aligned.sortedByCoord.out.bam", smpl.Name, suffix)))
		}
		out_bam := filepath.Join(final_bam_dir, smpl.Name+".bam")
		cmds = append(cmds, fmt.Sprintf("%s merge -f -@ %d %s %s",
			cfg.Samtools_exec, cfg.Merge_threads, out_bam, strings.Join(bams, " ")))
	}
	return cmds, nil
}
