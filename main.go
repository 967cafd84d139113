package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// PIPELINE STAGES
// 1. split    - chunk the input fastq files
// 2. index_1  - STAR genomeGenerate on the reference
// 3. align_1  - first pass alignment, splice junction discovery
// 4. sjdb     - aggregate and filter splice junctions into sjdb.out
// 5. index_2  - genomeGenerate again with the filtered junctions
// 6. align_2  - second pass alignment, coordinate sorted bams
// 7. merge    - samtools merge chunk bams per sample

const (
	exit_failure      = 1
	exit_missing_exec = 127
)

// fileExists checks if a file exists and is not a directory before we
// try using it to prevent further errors.
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func main() {
	// we want to load a config file named "star_2pass_config.yaml" if it exists in WD or in ~/.config
	viper.SetConfigName("star_2pass_config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")              // look for config in the working directory first
	viper.AddConfigPath("$HOME/.config/") // if not found then look in .config folder

	viper.SetDefault("star_exec", "/nfs/users/nfs_r/rr11/Tools/STAR-2.5.2a/bin/Linux_x86_64_static/STAR")
	viper.SetDefault("samtools_exec", "/software/CASM/modules/installs/samtools/samtools-1.11/bin/samtools")
	viper.SetDefault("bsub_exec", "bsub")
	viper.SetDefault("split_lines", 4000000) // lines not reads, must stay a multiple of 4
	viper.SetDefault("sjdb_overhang", 99)
	viper.SetDefault("limit_bam_sort_ram", int64(31532137230))
	viper.SetDefault("split_mem_mb", 2000)
	viper.SetDefault("index_threads", 8)
	viper.SetDefault("index_mem_mb", 38000)
	viper.SetDefault("align_threads", 8)
	viper.SetDefault("align_mem_mb", 38000)
	viper.SetDefault("merge_threads", 4)
	viper.SetDefault("merge_mem_mb", 8000)
	viper.SetDefault("max_parallel_jobs", 50)
	viper.SetDefault("poll_interval_seconds", 5)

	// read in config file if found, else use defaults
	if err := viper.ReadInConfig(); err != nil {
		var not_found viper.ConfigFileNotFoundError
		if !errors.As(err, &not_found) {
			log.Fatalln("Unable to read config file:", err)
		}
	}

	var workdir string
	var reads_dir string
	var genome string
	var runtime_limit string
	var sj_threshold int
	var debug bool

	// flags declaration using pflag package
	pflag.StringVarP(&workdir, "workdir", "w", ".", "working directory the pipeline writes into")
	pflag.StringVarP(&reads_dir, "reads", "i", "", "directory containing the input fastq files")
	pflag.StringVarP(&genome, "genome", "g", "", "path to the reference genome fasta")
	pflag.StringVarP(&runtime_limit, "runtime", "r", "12:00", "wall clock limit passed to the scheduler")
	pflag.IntVarP(&sj_threshold, "sj-threshold", "s", 2, "unique read support a splice junction must exceed to be kept")
	pflag.BoolVarP(&debug, "debug", "d", false, "print every generated command before submission")

	pflag.Parse() // after declaring flags we need to call it
	if strings.TrimSpace(reads_dir) == "" || strings.TrimSpace(genome) == "" {
		log.Fatalln("No reads directory or genome argument was provided")
	}

	// resolve inputs before changing into the working directory
	reads_dir, err := filepath.Abs(reads_dir)
	if err != nil {
		log.Fatalln("Unable to resolve reads directory:", err)
	}
	genome, err = filepath.Abs(genome)
	if err != nil {
		log.Fatalln("Unable to resolve genome path:", err)
	}
	if info, err := os.Stat(reads_dir); err != nil || !info.IsDir() {
		log.Fatalln(fmt.Sprintf("Reads directory %s does not exist", reads_dir))
	}
	if !fileExists(genome) {
		log.Fatalln(fmt.Sprintf("Genome fasta %s does not exist", genome))
	}

	star_exec := viper.GetString("star_exec")
	samtools_exec := viper.GetString("samtools_exec")
	bsub_exec := viper.GetString("bsub_exec")
	for _, executable := range []string{bsub_exec, star_exec, samtools_exec} {
		if _, err := exec.LookPath(executable); err != nil {
			log.Println(fmt.Sprintf("Required executable not found: %s", executable))
			os.Exit(exit_missing_exec)
		}
	}

	if err := os.MkdirAll(workdir, 0755); err != nil {
		log.Fatalln("Unable to create working directory:", err)
	}
	if err := os.Chdir(workdir); err != nil {
		log.Fatalln("Unable to enter working directory:", err)
	}

	samples, mode, err := discoverSamples(reads_dir)
	if err != nil {
		log.Fatalln("Unable to assess input reads:", err)
	}
	log.Println(fmt.Sprintf("Found %d samples in %s, read-end mode: %s", len(samples), reads_dir, mode))

	cfg := pipeline_config{
		Star_exec:          star_exec,
		Samtools_exec:      samtools_exec,
		Genome_fasta:       genome,
		Split_lines:        viper.GetInt("split_lines"),
		Sjdb_overhang:      viper.GetInt("sjdb_overhang"),
		Limit_bam_sort_ram: viper.GetInt64("limit_bam_sort_ram"),
		Index_threads:      viper.GetInt("index_threads"),
		Align_threads:      viper.GetInt("align_threads"),
		Merge_threads:      viper.GetInt("merge_threads"),
	}

	max_parallel := viper.GetInt("max_parallel_jobs")
	split_res := batch_resources{Threads: 1, Mem_mb: viper.GetInt("split_mem_mb"), Runtime: runtime_limit, Max_parallel: max_parallel}
	index_res := batch_resources{Threads: cfg.Index_threads, Mem_mb: viper.GetInt("index_mem_mb"), Runtime: runtime_limit, Max_parallel: 1}
	align_res := batch_resources{Threads: cfg.Align_threads, Mem_mb: viper.GetInt("align_mem_mb"), Runtime: runtime_limit, Max_parallel: max_parallel}
	merge_res := batch_resources{Threads: cfg.Merge_threads, Mem_mb: viper.GetInt("merge_mem_mb"), Runtime: runtime_limit, Max_parallel: max_parallel}

	stages := []stage{
		{
			Name:     "split",
			Dirs:     []string{split_reads_dir},
			Generate: func() ([]string, error) { return splitCommands(samples, cfg.Split_lines), nil },
			Res:      split_res,
		},
		{
			Name:     "index_1",
			Dirs:     []string{index_1_dir},
			Generate: func() ([]string, error) { return cfg.indexCommands(1), nil },
			Res:      index_res,
		},
		{
			Name:     "align_1",
			Dirs:     []string{align_1_dir},
			Generate: func() ([]string, error) { return cfg.alignCommands(samples, 1) },
			Res:      align_res,
		},
		{
			Name: "sjdb",
			Local: func() error {
				kept, err := collectSpliceJunctions(align_1_dir, sj_threshold, sjdb_out_file)
				if err != nil {
					return err
				}
				log.Println(fmt.Sprintf("Kept %d splice junctions with support above %d", kept, sj_threshold))
				return nil
			},
		},
		{
			Name:     "index_2",
			Dirs:     []string{index_2_dir},
			Generate: func() ([]string, error) { return cfg.indexCommands(2), nil },
			Res:      index_res,
		},
		{
			Name:     "align_2",
			Dirs:     []string{align_2_dir},
			Generate: func() ([]string, error) { return cfg.alignCommands(samples, 2) },
			Res:      align_res,
		},
		{
			Name:     "merge",
			Dirs:     []string{final_bam_dir},
			Generate: func() ([]string, error) { return cfg.mergeCommands(samples) },
			Res:      merge_res,
		},
	}

	sched := &lsf_scheduler{
		Bsub_exec:     bsub_exec,
		Poll_interval: time.Duration(viper.GetInt("poll_interval_seconds")) * time.Second,
		Debug:         debug,
	}
	runner := newStageRunner(sched, stageNames(stages), debug)

	if err := runPipeline(runner, stages); err != nil {
		log.Println("Pipeline failed:", err)
		os.Exit(exit_failure)
	}
	log.Println(fmt.Sprintf("Pipeline complete, merged bams are in %s/", final_bam_dir))
}
