package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/archcore/arch/internal/alert"
	"github.com/archcore/arch/internal/config"
	"github.com/archcore/arch/internal/events"
	"github.com/archcore/arch/internal/plan"
	"github.com/archcore/arch/internal/postbox"
	"github.com/archcore/arch/internal/router"
	"github.com/archcore/arch/internal/runctx"
	"github.com/archcore/arch/internal/scheduler"
	"github.com/archcore/arch/internal/telemetry"
	"github.com/archcore/arch/internal/tracelog"
)

var allAgents = []string{"ARCH", "CA", "CC", "WA"}

func newRunCmd(cfg config.Config) *cobra.Command {
	var (
		dryRun        bool
		maxConcurrent int
		planTimeout   string
		logTrace      bool
	)
	cmd := &cobra.Command{
		Use:   "run <plan-path>",
		Short: "Execute a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, cfg, args[0], runOpts{
				dryRun:        dryRun,
				maxConcurrent: maxConcurrent,
				planTimeout:   planTimeout,
				logTrace:      logTrace,
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print the execution plan without dispatching any tasks")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "override max_concurrent_tasks (0 = use the configured default)")
	cmd.Flags().StringVar(&planTimeout, "plan-timeout", "", "override the plan's overall timeout (e.g. 30m)")
	cmd.Flags().BoolVar(&logTrace, "log-trace", false, "print each timeline event to stderr as it happens")
	return cmd
}

type runOpts struct {
	dryRun        bool
	maxConcurrent int
	planTimeout   string
	logTrace      bool
}

func runPlan(cmd *cobra.Command, cfg config.Config, path string, opts runOpts) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return withExitCode(1, fmt.Errorf("read %s: %w", path, err))
	}

	p, err := plan.Load(path, data)
	if err != nil {
		return withExitCode(1, err)
	}
	dag, err := plan.BuildDAG(p)
	if err != nil {
		return withExitCode(1, err)
	}
	if p.TimeoutRaw == "" && cfg.PlanTimeout > 0 {
		p.Timeout = cfg.PlanTimeout
	}
	if opts.planTimeout != "" {
		d, err := plan.ParseDuration(opts.planTimeout)
		if err != nil {
			return withExitCode(1, fmt.Errorf("--plan-timeout: %w", err))
		}
		p.Timeout = d
	}

	criticalPath := dag.CriticalPath()
	if opts.dryRun {
		result := lintResult{
			Valid:        true,
			PlanID:       p.PlanID,
			TaskCount:    len(p.Tasks),
			LayerCount:   dag.Depth(),
			CriticalPath: criticalPath,
		}
		printLintText(cmd, result)
		return nil
	}

	store, err := postbox.New(cfg.PostboxRoot, allAgents)
	if err != nil {
		return withExitCode(1, fmt.Errorf("initialize postbox: %w", err))
	}
	archive, err := postbox.NewArchive(cfg.ArchiveRoot)
	if err != nil {
		return withExitCode(1, fmt.Errorf("initialize archive: %w", err))
	}

	log := telemetry.NoopLogger{}
	bus := events.NewBus()

	taskLogger, err := tracelog.NewTaskLogger(cfg.LogDir)
	if err != nil {
		return withExitCode(1, fmt.Errorf("initialize task logger: %w", err))
	}
	if _, err := bus.Register(taskLogger); err != nil {
		return withExitCode(1, fmt.Errorf("register task logger: %w", err))
	}
	planTrace, err := tracelog.NewPlanTraceLogger(cfg.LogDir, p.PlanID)
	if err != nil {
		return withExitCode(1, fmt.Errorf("initialize plan trace logger: %w", err))
	}
	if _, err := bus.Register(planTrace); err != nil {
		return withExitCode(1, fmt.Errorf("register plan trace logger: %w", err))
	}
	if opts.logTrace {
		if _, err := bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s %s\n", e.Timestamp().Format(time.RFC3339), e.Type(), e.TaskID())
			return nil
		})); err != nil {
			return withExitCode(1, fmt.Errorf("register trace printer: %w", err))
		}
	}

	if cfg.AlertPolicyPath != "" {
		policyData, err := os.ReadFile(cfg.AlertPolicyPath)
		if err != nil {
			return withExitCode(1, fmt.Errorf("read alert policy %s: %w", cfg.AlertPolicyPath, err))
		}
		policy, err := alert.LoadPolicy(cfg.AlertPolicyPath, policyData)
		if err != nil {
			return withExitCode(1, err)
		}
		evaluator := alert.NewEvaluator(policy, log, nil, nil)
		if _, err := bus.Register(evaluator); err != nil {
			return withExitCode(1, fmt.Errorf("register alert evaluator: %w", err))
		}
	}

	maxConcurrent := opts.maxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = cfg.MaxConcurrentTasks
	}
	sched := scheduler.New(store, scheduler.Options{
		MaxConcurrentTasks: maxConcurrent,
		Bus:                bus,
		Logger:             log,
	})

	maxFor := func(taskID string) int {
		if t, ok := p.TaskByID(taskID); ok {
			return t.MaxRetries
		}
		return -1
	}
	rtr := router.New(store, archive, allAgents, maxFor, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := runctx.New(p.Context)

	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()
	var g errgroup.Group
	g.Go(func() error {
		return rtr.Run(routerCtx, 500*time.Millisecond)
	})

	result, runErr := sched.Run(ctx, dag, rc)
	cancelRouter()
	_ = g.Wait()
	if runErr != nil {
		return withExitCode(1, runErr)
	}

	printRunSummary(cmd.OutOrStdout(), result, criticalPath, tracelog.TracePath(cfg.LogDir, p.PlanID))

	return withExitCode(exitCodeForStatus(result.Status), statusError(result.Status))
}

func exitCodeForStatus(status string) int {
	switch status {
	case "success":
		return 0
	case "partial_success":
		return 2
	case "failure":
		return 3
	case "timeout":
		return 4
	default:
		return 1
	}
}

func statusError(status string) error {
	if status == "success" {
		return nil
	}
	return fmt.Errorf("plan finished with status %q", status)
}
