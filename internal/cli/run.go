package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quenchlab/rig/internal/engine"
	"github.com/quenchlab/rig/internal/runcard"
	"github.com/quenchlab/rig/internal/sink"
	"github.com/quenchlab/rig/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	PlotDir     string
	MetricsAddr string
	MaxTicks    int64

	// Timebase overrides the scheduler's time source (for testing).
	Timebase engine.Timebase
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <runcard.yaml>",
		Short: "Validate a runcard and run the experiment",
		Long: `Run the experiment a runcard describes.

The runcard is validated first; no instrument is touched until it
passes. Snapshots go to the SQLite database at the save interval and to
plot data files at the plot interval. On normal completion, a declared
follow-up runcard is chained in the same process.

Exit codes: 0 normal completion (including chained follow-ups) or
operator stop, 2 validation failure, 3 alarm abort, 4 fatal instrument
I/O, 1 anything else.

Example:
  rig run --db ./runs.db ./henon.yaml
  rig run --db /tmp/runs.db --plot-dir /tmp/plots ./henon.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "rig.db", "path to the SQLite results database")
	cmd.Flags().StringVar(&opts.PlotDir, "plot-dir", "plots", "directory for plot data files")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "listen address for Prometheus metrics (disabled when empty)")
	cmd.Flags().Int64Var(&opts.MaxTicks, "max-ticks", 0, "stop after this many ticks (0 = run to completion)")

	return cmd
}

func runExperiment(opts *RunOptions, path string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})))

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if opts.MetricsAddr != "" {
		go serveMetrics(opts.MetricsAddr)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping at next tick boundary", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Follow-up chaining: each completed runcard may name the next.
	for {
		followUp, err := runOne(ctx, opts, path, st, cmd)
		if err != nil {
			return err
		}
		if followUp == "" {
			return nil
		}
		next := followUp
		if !filepath.IsAbs(next) {
			next = filepath.Join(filepath.Dir(path), next)
		}
		slog.Info("chaining follow-up runcard", "from", path, "to", next)
		path = next
	}
}

// runOne loads, validates, builds and runs a single runcard. It
// returns the follow-up path on normal completion.
func runOne(ctx context.Context, opts *RunOptions, path string, st *store.Store, cmd *cobra.Command) (string, error) {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	rc, loadErrs := runcard.Load(path)
	if len(loadErrs) > 0 {
		return "", reportErrors(formatter, loadErrs)
	}
	if verrs := runcard.Validate(rc); len(verrs) > 0 {
		return "", reportErrors(formatter, verrs)
	}
	slog.Info("runcard valid", "path", path)

	exp, err := runcard.Build(rc)
	if err != nil {
		return "", WrapExitError(ExitInstrumentIO, "failed to build experiment", err)
	}
	defer func() {
		if derr := exp.Disconnect(); derr != nil {
			slog.Error("error disconnecting instruments", "error", derr)
		}
	}()

	runID, err := st.BeginRun(ctx, path, time.Now())
	if err != nil {
		return "", WrapExitError(ExitFailure, "failed to record run", err)
	}
	slog.Info("run started", "run_id", runID, "runcard", path)

	outputs, err := buildOutputs(opts, exp, st, runID)
	if err != nil {
		return "", WrapExitError(ExitFailure, "failed to set up outputs", err)
	}

	sched := engine.New(
		engine.Config{
			RunID:        runID,
			StepInterval: exp.StepInterval,
			MaxTicks:     opts.MaxTicks,
		},
		exp.Registry, exp.Drivers, exp.Routines, exp.Monitor,
		outputs, opts.Timebase,
	)

	runErr := sched.Run(ctx)
	outcome, exitErr := classify(runErr)
	if ferr := st.FinishRun(context.Background(), runID, outcome, time.Now()); ferr != nil {
		slog.Error("failed to record run outcome", "run_id", runID, "error", ferr)
	}
	slog.Info("run finished", "run_id", runID, "outcome", outcome, "ticks", sched.Tick())

	if exitErr != nil {
		return "", exitErr
	}
	if outcome != store.OutcomeCompleted {
		return "", nil // stopped by the operator; no follow-up
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s completed after %d ticks\n", runID, sched.Tick())
	return exp.FollowUp, nil
}

// classify maps a scheduler result onto a run outcome and exit error.
func classify(runErr error) (string, error) {
	switch {
	case runErr == nil:
		return store.OutcomeCompleted, nil

	case engine.IsAlarmAbort(runErr):
		var abort *engine.AlarmAbortError
		errors.As(runErr, &abort)
		slog.Error("run aborted by alarm",
			"alarm", abort.Alarm,
			"variable", abort.Variable,
			"value", abort.Value,
			"tick", abort.Tick,
			"last_snapshot", abort.LastSnapshot,
		)
		return store.OutcomeAborted, WrapExitError(ExitAlarmAbort, "alarm abort", runErr)

	case engine.IsIOAbort(runErr):
		return store.OutcomeFailed, WrapExitError(ExitInstrumentIO, "instrument I/O failure", runErr)

	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		return store.OutcomeStopped, nil

	default:
		return store.OutcomeFailed, WrapExitError(ExitFailure, "run failed", runErr)
	}
}

// buildOutputs assembles the save and plot outputs declared by the
// runcard settings. Each gets its own dispatcher so a slow plot file
// never backs up database writes.
func buildOutputs(opts *RunOptions, exp *runcard.Experiment, st *store.Store, runID string) ([]engine.Output, error) {
	var outputs []engine.Output

	if exp.SaveInterval > 0 {
		outputs = append(outputs, engine.Output{
			Name:       "save",
			Interval:   exp.SaveInterval,
			Dispatcher: sink.NewDispatcher([]sink.Sink{store.NewSnapshotSink(st)}, sink.DefaultQueueCapacity),
		})
	}

	if exp.PlotInterval > 0 && len(exp.Plots) > 0 {
		dir := filepath.Join(opts.PlotDir, runID)
		plotSink, err := sink.NewPlotSink(dir, exp.Plots)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, engine.Output{
			Name:       "plot",
			Interval:   exp.PlotInterval,
			Dispatcher: sink.NewDispatcher([]sink.Sink{plotSink}, sink.DefaultQueueCapacity),
		})
	}

	return outputs, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}
