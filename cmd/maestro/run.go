package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/maestro-run/maestro/internal/config"
	"github.com/maestro-run/maestro/internal/engine"
	"github.com/maestro-run/maestro/internal/events"
	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/history"
	"github.com/maestro-run/maestro/internal/logger"
	"github.com/maestro-run/maestro/internal/metrics"
	"github.com/maestro-run/maestro/internal/plan"
	"github.com/maestro-run/maestro/internal/tool"
	"github.com/maestro-run/maestro/internal/tracing"
	"github.com/maestro-run/maestro/internal/tui"
)

type runOptions struct {
	Query      string
	PlanPath   string
	ConfigPath string
	Mode       string
	NoTUI      bool
	Verbose    bool
}

var runCmdRunner = runRun

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Execute a workflow plan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.Query = args[0]
			}
			opts.ConfigPath = root.configPath
			opts.Verbose = root.verbose

			if err := validateRunOptions(opts); err != nil {
				return err
			}

			return runCmdRunner(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.PlanPath, "plan", "p", "", "Path to a JSON plan document")
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "", "Execution mode when the plan does not set one (sequential, parallel, conditional)")
	cmd.Flags().BoolVar(&opts.NoTUI, "no-tui", false, "Disable the interactive progress view")

	return cmd
}

func validateRunOptions(opts runOptions) error {
	if opts.Query == "" && opts.PlanPath == "" {
		return fmt.Errorf("a query argument or --plan file is required")
	}
	if opts.Mode != "" && !plan.Mode(opts.Mode).Valid() {
		return fmt.Errorf("unknown mode %q", opts.Mode)
	}
	return nil
}

func runRun(ctx context.Context, opts runOptions) error {
	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return err
	}

	level := cfg.Settings.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: true})
	if err != nil {
		return err
	}

	if opts.Verbose {
		if err := tracing.Init("maestro", version, ""); err != nil {
			log.Warn("tracing disabled: " + err.Error())
		}
	}

	p, err := loadPlan(opts, cfg)
	if err != nil {
		return err
	}

	registry, err := buildRegistry()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var sink engine.HistorySink
	if cfg.Settings.HistoryPath != "" {
		store, err := history.Open(ctx, cfg.Settings.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck
		sink = store
	}

	stream := events.NewStream(cfg.Settings.EventBuffer)
	rec := metrics.NewRecorder()

	eng := engine.New(registry, stream, rec, sink, log, engine.Options{
		MaxParallel: cfg.Settings.MaxParallel,
		StepTimeout: cfg.Settings.StepTimeout(),
	})

	interactive := !opts.NoTUI && term.IsTerminal(int(os.Stdout.Fd()))

	done := make(chan error, 1)
	if interactive {
		program := tea.NewProgram(tui.NewModel(p.Query, stream.Events()))
		go func() {
			final, runErr := program.Run()
			if m, ok := final.(tui.Model); ok && m.Cancelled() {
				cancel()
			}
			done <- runErr
		}()
	} else {
		go func() {
			printEvents(stream.Events())
			done <- nil
		}()
	}

	summary, execErr := eng.Execute(ctx, p)

	// The engine closed the stream; the consumer drains and exits.
	if consumerErr := <-done; consumerErr != nil {
		log.Warn("progress view failed: " + consumerErr.Error())
	}

	if execErr != nil {
		return execErr
	}

	fmt.Printf("plan %s %s: %d completed, %d failed, %d skipped in %s\n",
		summary.PlanID, summary.Status, summary.CompletedSteps, summary.FailedSteps, summary.SkippedSteps, summary.Duration.Round(time.Millisecond))

	if summary.FailedSteps > 0 {
		return fmt.Errorf("%d step(s) failed", summary.FailedSteps)
	}
	return nil
}

// loadPlan builds the plan from the --plan document when given, otherwise
// falls back to a single-step plan that hands the query to echo.
func loadPlan(opts runOptions, cfg *config.Config) (*plan.Plan, error) {
	defaults := plan.Defaults{
		Mode:             plan.ModeSequential,
		MaxRetries:       cfg.Settings.MaxRetries,
		FallbackExecutor: "echo",
	}
	if opts.Mode != "" {
		defaults.Mode = plan.Mode(opts.Mode)
	}

	if opts.PlanPath == "" {
		return plan.DefaultPlan(opts.Query, defaults), nil
	}

	data, err := os.ReadFile(opts.PlanPath)
	if err != nil {
		return nil, err
	}
	return plan.Decode(data, opts.Query, defaults)
}

// buildRegistry wires the shipped executors: echo, plus one toolchain
// executor per built-in tool so plan steps can invoke tools directly.
func buildRegistry() (*executor.Registry, error) {
	tools := tool.NewRegistry()
	for _, t := range []tool.Tool{&tool.HTTPGet{}, &tool.GitClone{}, &tool.Sleep{}} {
		if err := tools.Register(t); err != nil {
			return nil, err
		}
	}

	registry := executor.NewRegistry()
	if err := registry.Register(&executor.Echo{}); err != nil {
		return nil, err
	}
	for _, name := range tools.Names() {
		chain := &executor.Toolchain{
			ExecutorName: name,
			Invoker:      tools,
			Calls:        []executor.ToolCall{{Tool: name}},
		}
		if err := registry.Register(chain); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func printEvents(stream <-chan events.Event) {
	for event := range stream {
		line := string(event.Type)
		if event.StepID != "" {
			line += " step=" + event.StepID
		}
		if event.Executor != "" {
			line += " executor=" + event.Executor
		}
		if event.Content != "" {
			line += " " + event.Content
		}
		fmt.Println(line)
	}
}
