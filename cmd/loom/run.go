package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/loomtest/loom/internal/config"
	"github.com/loomtest/loom/internal/dispatch"
	"github.com/loomtest/loom/internal/errors"
	"github.com/loomtest/loom/internal/logging"
	"github.com/loomtest/loom/internal/registry"
	"github.com/loomtest/loom/internal/report"
	"github.com/loomtest/loom/internal/reporter"
	"github.com/loomtest/loom/internal/testtree"
)

// Exit codes per spec.md §6.5.
const (
	exitOK          = 0
	exitFailures    = 1
	exitInterrupted = 2
	exitFatal       = 3
)

var flags struct {
	config          string
	workers         int
	timeout         int
	retries         int
	reporterSpec    string
	output          string
	grep            string
	project         []string
	shard           string
	forbidOnly      bool
	updateSnapshots bool
	maxFailures     int
	globalTimeout   int
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loom",
		Short:         "loom runs a project's test suite across a pool of worker processes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the test suite (default command)",
		RunE:  runRun,
	}
	bindRunFlags(runCmd)
	root.AddCommand(runCmd)

	// run is the default: `loom` with no subcommand behaves like `loom run`.
	bindRunFlags(root)
	root.RunE = runRun

	return root
}

func bindRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flags.config, "config", "", "path to a loom config file")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "number of worker processes (default: number of CPUs)")
	cmd.Flags().IntVar(&flags.timeout, "timeout", 0, "per-test timeout in milliseconds")
	cmd.Flags().IntVar(&flags.retries, "retries", -1, "number of retries per test")
	cmd.Flags().StringVar(&flags.reporterSpec, "reporter", "", "comma-separated reporter list, e.g. dot,json=out.json")
	cmd.Flags().StringVar(&flags.output, "output", "", "output directory for test artifacts")
	cmd.Flags().StringVar(&flags.grep, "grep", "", "only run tests whose title matches this regexp")
	cmd.Flags().StringSliceVar(&flags.project, "project", nil, "restrict the run to these projects")
	cmd.Flags().StringVar(&flags.shard, "shard", "", "shard spec, current/total (1-based)")
	cmd.Flags().BoolVar(&flags.forbidOnly, "forbid-only", false, "fail the run if any test.only is present")
	cmd.Flags().BoolVar(&flags.updateSnapshots, "update-snapshots", false, "write new snapshots instead of comparing")
	cmd.Flags().IntVar(&flags.maxFailures, "max-failures", 0, "stop after this many failed tests (0 = unlimited)")
	cmd.Flags().IntVar(&flags.globalTimeout, "global-timeout", 0, "abort the whole run after this many milliseconds")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loom:", err)
		return exitFatal
	}
	return lastExitCode
}

// lastExitCode lets runRun hand its computed exit code back to Execute
// without cobra's RunE signature (which only carries an error) losing the
// passed/failed/interrupted distinction.
var lastExitCode int

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flags.config)
	if err != nil {
		lastExitCode = exitFatal
		return err
	}
	applyFlagOverrides(cfg)

	shard, err := config.ParseShard(flags.shard)
	if err != nil {
		lastExitCode = exitFatal
		return err
	}

	var grep *regexp.Regexp
	if cfg.Grep != "" {
		grep, err = regexp.Compile(cfg.Grep)
		if err != nil {
			lastExitCode = exitFatal
			return &errors.ConfigError{Reason: "invalid --grep pattern: " + err.Error()}
		}
	}

	projects := cfg.BuildProjects()
	build, err := testtree.Build(testtree.BuildInput{
		Registrations: registry.Tests(),
		Fixtures:      registry.Fixtures(),
		Projects:      projects,
		Grep:          grep,
		ProjectFilter: cfg.Project,
		Shard:         shard,
		ForbidOnly:    cfg.ForbidOnly,
	})
	if err != nil {
		lastExitCode = exitFatal
		return err
	}

	events := make(chan dispatch.Event, 256)
	reporters, closeReporters, err := reporter.BuildAll(cfg.Reporter, os.Stdout, cfg)
	if err != nil {
		lastExitCode = exitFatal
		return err
	}
	defer closeReporters()

	agg := report.New(cfg, reporters...)
	aggDone := make(chan struct{})
	go func() {
		agg.Drain(events)
		close(aggDone)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.NewContext(ctx, logging.NewWriterLogger(os.Stderr, logging.LevelInfo))

	sp := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	if isTerminal(os.Stdout) {
		sp.Suffix = " running tests..."
		sp.Start()
	}

	d := dispatch.New(dispatch.Config{
		Workers:         cfg.Workers,
		MaxFailures:     cfg.MaxFailures,
		GlobalTimeout:   cfg.GlobalTimeoutDuration(),
		GraceTerminate:  10 * time.Second,
		TeardownFloor:   5 * time.Second,
		GrepPattern:     cfg.Grep,
		ProjectFilter:   cfg.Project,
		Shard:           shard,
		ForbidOnly:      cfg.ForbidOnly,
		UpdateSnapshots: cfg.UpdateSnapshots,
	}, projects, build.Roots, build.Tests, &dispatch.ExecLauncher{}, events)

	installInterruptHandler(ctx, cancel)

	runStatus, runErr := d.Run(ctx)
	close(events)
	<-aggDone
	sp.Stop()

	if runErr != nil {
		lastExitCode = exitFatal
		return runErr
	}

	switch runStatus {
	case dispatch.RunPassed:
		lastExitCode = exitOK
	case dispatch.RunInterrupted:
		lastExitCode = exitInterrupted
	default:
		lastExitCode = exitFailures
	}
	return nil
}

func applyFlagOverrides(cfg *config.RunConfig) {
	if flags.workers > 0 {
		cfg.Workers = flags.workers
	}
	if flags.timeout > 0 {
		cfg.Timeout = flags.timeout
	}
	if flags.retries >= 0 {
		cfg.Retries = flags.retries
	}
	if flags.reporterSpec != "" {
		cfg.Reporter = flags.reporterSpec
	}
	if flags.output != "" {
		cfg.Output = flags.output
	}
	if flags.grep != "" {
		cfg.Grep = flags.grep
	}
	if len(flags.project) > 0 {
		cfg.Project = flags.project
	}
	if flags.forbidOnly {
		cfg.ForbidOnly = true
	}
	if flags.updateSnapshots {
		cfg.UpdateSnapshots = true
	}
	if flags.maxFailures > 0 {
		cfg.MaxFailures = flags.maxFailures
	}
	if flags.globalTimeout > 0 {
		cfg.GlobalTimeout = flags.globalTimeout
	}
}
