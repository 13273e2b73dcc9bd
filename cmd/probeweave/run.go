package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/probeweave/probeweave/internal/cache"
	"github.com/probeweave/probeweave/internal/generator"
	"github.com/probeweave/probeweave/internal/oracle"
	"github.com/probeweave/probeweave/internal/pipeline"
	"github.com/probeweave/probeweave/internal/sandbox"
	"github.com/probeweave/probeweave/internal/scheduler"
	"github.com/probeweave/probeweave/internal/types"
	"github.com/probeweave/probeweave/internal/validator"
)

var runWorkers int

var runCmd = &cobra.Command{
	Use:   "run <jobs.yaml>",
	Short: "Build instrumentation artifacts for a batch of constructs",
	Long: `Read construct descriptors from a YAML jobs file and resolve each one
to a verified artifact, using the cache where possible.

The jobs file lists constructs:

  constructs:
    - name: checkout-handler
      language: python
      source_file: handlers/checkout.py
      plan:
        - anchor: "user = request.user"
          fragment: "probe.record('checkout.user', user)"
      assertions: [parse]

'source' may be given inline instead of 'source_file'. Per-job failures are
reported and counted; they never abort the batch. Ctrl-C stops admitting new
jobs and lets in-flight ones finish.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runBatch(ctx, args[0])
	},
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0,
		"worker pool size (0 = use config, then computed capacity)")
	rootCmd.AddCommand(runCmd)
}

// jobsFile is the on-disk batch format.
type jobsFile struct {
	Constructs []jobSpec `yaml:"constructs"`
}

type jobSpec struct {
	Name       string `yaml:"name"`
	Language   string `yaml:"language"`
	Source     string `yaml:"source"`
	SourceFile string `yaml:"source_file"`
	Plan       []struct {
		Anchor   string `yaml:"anchor"`
		Fragment string `yaml:"fragment"`
	} `yaml:"plan"`
	Assertions []string `yaml:"assertions"`
}

// loadJobs parses the jobs file into descriptors plus display names. Malformed
// entries are not filtered here; the pipeline rejects them per job so one bad
// entry cannot sink the batch.
func loadJobs(path string) ([]*types.ConstructDescriptor, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading jobs file: %w", err)
	}
	var file jobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parsing jobs file %s: %w", path, err)
	}
	if len(file.Constructs) == 0 {
		return nil, nil, fmt.Errorf("jobs file %s lists no constructs", path)
	}

	descriptors := make([]*types.ConstructDescriptor, 0, len(file.Constructs))
	names := make([]string, 0, len(file.Constructs))
	for i, spec := range file.Constructs {
		body := spec.Source
		if spec.SourceFile != "" {
			raw, err := os.ReadFile(spec.SourceFile)
			if err != nil {
				return nil, nil, fmt.Errorf("construct %d (%s): %w", i, spec.Name, err)
			}
			body = string(raw)
		}

		d := &types.ConstructDescriptor{
			Language:   spec.Language,
			Body:       body,
			Assertions: spec.Assertions,
		}
		for _, ins := range spec.Plan {
			d.Plan = append(d.Plan, types.Insertion{Anchor: ins.Anchor, Fragment: ins.Fragment})
		}
		descriptors = append(descriptors, d)

		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("construct-%d", i)
		}
		names = append(names, name)
	}
	return descriptors, names, nil
}

func runBatch(ctx context.Context, jobsPath string) error {
	jobs, names, err := loadJobs(jobsPath)
	if err != nil {
		return err
	}

	store, err := cache.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer store.Close()

	runner, err := sandbox.NewRunner(sandbox.Config{
		Root:           cfg.Sandbox.Root,
		Interpreter:    cfg.Sandbox.Interpreter,
		Timeout:        cfg.SandboxTimeout(),
		MemoryLimitMB:  cfg.Sandbox.MemoryLimitMB,
		PreserveFailed: cfg.Sandbox.PreserveFailed,
	})
	if err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}

	retry := oracle.DefaultRetryConfig()
	retry.RequestsPerMinute = cfg.RequestsPerMinute
	adapter, err := oracle.NewAdapter(oracle.Config{
		APIKey: cfg.Oracle.APIKey,
		Model:  cfg.Oracle.Model,
		Retry:  retry,
	})
	if err != nil {
		return fmt.Errorf("creating repair oracle: %w", err)
	}

	builder := pipeline.NewBuilder(
		generator.New(),
		validator.New(runner),
		adapter,
		cache.New(store),
		cfg.MaxAttempts,
	)

	workers := cfg.Workers
	if runWorkers > 0 {
		workers = runWorkers
	}
	pool := scheduler.New(builder, scheduler.Config{
		Workers:           workers,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxAttempts:       cfg.MaxAttempts,
	})

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("%s  %d constructs, %d workers\n\n",
		cyan("probeweave run"), len(jobs), pool.Capacity())

	start := time.Now()
	results, runErr := pool.Process(ctx, jobs)
	printResults(names, results)
	fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Millisecond))

	if runErr != nil {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	for _, res := range results {
		if res != nil && res.Status == types.StatusFailed {
			return fmt.Errorf("%d of %d constructs failed", countFailed(results), len(results))
		}
	}
	return nil
}

func printResults(names []string, results []*types.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	counts := map[types.Status]int{}
	for i, res := range results {
		name := names[i]
		if res == nil {
			fmt.Printf("  %s %-24s no result\n", red("✗"), name)
			continue
		}
		counts[res.Status]++

		switch res.Status {
		case types.StatusCachedHit:
			fmt.Printf("  %s %-24s cached  %s\n", green("●"), name, gray(res.Fingerprint.Short()))
		case types.StatusBuilt:
			fmt.Printf("  %s %-24s built   %s\n", green("✓"), name, gray(res.Fingerprint.Short()))
		case types.StatusRepaired:
			fmt.Printf("  %s %-24s %s %s\n", yellow("✓"), name,
				res.Artifact.Origin.String(), gray(res.Fingerprint.Short()))
		case types.StatusFailed:
			fmt.Printf("  %s %-24s failed: %v\n", red("✗"), name, res.Err)
		}
	}

	fmt.Printf("\n  %s built, %s cached, %s repaired, %s failed\n",
		green(fmt.Sprintf("%d", counts[types.StatusBuilt])),
		green(fmt.Sprintf("%d", counts[types.StatusCachedHit])),
		yellow(fmt.Sprintf("%d", counts[types.StatusRepaired])),
		red(fmt.Sprintf("%d", counts[types.StatusFailed])))
}

func countFailed(results []*types.Result) int {
	n := 0
	for _, res := range results {
		if res != nil && res.Status == types.StatusFailed {
			n++
		}
	}
	return n
}
