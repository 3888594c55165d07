package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xconform/internal/assertion"
	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/config"
	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/fsutil"
	"github.com/roach88/xconform/internal/harness"
	"github.com/roach88/xconform/internal/ir"
	"github.com/roach88/xconform/internal/matrix"
	"github.com/roach88/xconform/internal/store"
	"github.com/roach88/xconform/internal/sysinfo"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Engines     []string
	Suite       string
	Catalog     string
	Filter      string
	Output      string
	Out         string
	Timeout     time.Duration
	Workers     int
	Combinator  string
	Isolation   string
	Database    string
	MetricsFile string

	// Now overrides the wall clock used for run timestamps (for testing).
	Now func() time.Time
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run catalogs against engines and report the compliance matrix",
		Long: `Run every selected test case against every selected engine and write the
compliance matrix.

Each case ends passed, failed, skipped or error. The command exits 0 when the
run completes, whatever the individual outcomes, and 2 on infrastructure
failure.

Example:
  xconform run --config xconform.yaml --engine all --suite qt3
  xconform run --suite qt3 --catalog ./qt3tests/catalog.xml --filter 'fn-abs*' --output json --out report.json
  xconform run --config xconform.yaml --isolation process --db history.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Engines, "engine", "e", nil, "engines to run (name, comma list, or all)")
	cmd.Flags().StringVar(&opts.Suite, "suite", "all", "suites to run (configured names, comma list, or all)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "root catalog file; --suite then names its format")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "glob over test-set or set/case names")
	cmd.Flags().StringVar(&opts.Output, "output", "markdown", "report format (markdown|json|html|csv)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "report file (default stdout)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", harness.DefaultTimeout, "per-case timeout")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent cases per engine (default: number of CPUs)")
	cmd.Flags().StringVar(&opts.Combinator, "combinator", "all", "default assertion combinator (all|any)")
	cmd.Flags().StringVar(&opts.Isolation, "isolation", "goroutine", "engine isolation (goroutine|process)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite run history")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "Prometheus textfile written after the run")

	return cmd
}

// overrides collects the flags the user actually set.
func (o *RunOptions) overrides(cmd *cobra.Command) config.Overrides {
	var ov config.Overrides
	set := cmd.Flags().Changed
	if set("engine") || set("engines") {
		ov.Engines = splitList(o.Engines)
	}
	if set("timeout") {
		ov.Timeout = &o.Timeout
	}
	if set("workers") {
		ov.Workers = &o.Workers
	}
	if set("combinator") {
		ov.Combinator = &o.Combinator
	}
	if set("isolation") {
		ov.Isolation = &o.Isolation
	}
	if set("db") {
		ov.Database = &o.Database
	}
	if set("metrics-file") {
		ov.MetricsFile = &o.MetricsFile
	}
	if set("output") {
		ov.Output = &o.Output
	}
	return ov
}

func (o *RunOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// runPlan is a validated run: configuration, engines and loaded catalogs.
type runPlan struct {
	cfg    *config.Config
	descs  []engine.Descriptor
	refs   []suiteRef
	docs   []*catalog.Document
	logger *slog.Logger
}

// plan loads configuration, resolves engines and loads catalogs. Every
// failure here is an infrastructure failure.
func (o *RunOptions) plan(cmd *cobra.Command) (*runPlan, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	cfg.Merge(o.overrides(cmd))
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid options", err)
	}

	logger := o.logger(cmd.ErrOrStderr())

	descs, err := o.registry().Resolve(cfg.Engines)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to resolve engines", err)
	}
	refs, err := resolveSuites(cfg, o.Suite, o.Catalog)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to resolve suites", err)
	}
	filter, err := catalog.NewFilter(o.Filter)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid filter", err)
	}
	docs, err := loadSuites(cfg, refs, filter, logger)
	if err != nil {
		return nil, err
	}

	return &runPlan{cfg: cfg, descs: descs, refs: refs, docs: docs, logger: logger}, nil
}

func (p *runPlan) engineNames() []string {
	names := make([]string, len(p.descs))
	for i, d := range p.descs {
		names[i] = d.Info.Name
	}
	return names
}

func (p *runPlan) suiteNames() []string {
	names := make([]string, len(p.refs))
	for i, r := range p.refs {
		names[i] = r.Name
	}
	return names
}

// runHistory records a run in the store. A nil *runHistory records nothing.
type runHistory struct {
	st    *store.Store
	runID string
}

func (h *runHistory) record(ctx context.Context, engineName, suite string, r ir.TestResult) error {
	if h == nil {
		return nil
	}
	return h.st.WriteResult(ctx, h.runID, engineName, suite, r)
}

// execute runs every document against every engine. It returns the final
// run state and the infrastructure error that ended the run, if any.
func (o *RunOptions) execute(ctx context.Context, cmd *cobra.Command, p *runPlan, m *matrix.Matrix, hist *runHistory) (store.RunState, error) {
	combinator, err := assertion.ParseCombinator(p.cfg.Combinator)
	if err != nil {
		return store.RunFailed, WrapExitError(ExitCommandError, "invalid combinator", err)
	}

	// Results of cases already dispatched are still written after an
	// interrupt, so the stored run matches the partial report.
	writeCtx := context.WithoutCancel(ctx)
	sink := harness.SinkFunc(func(engineName, suite string, r ir.TestResult) error {
		if err := m.Record(engineName, suite, r); err != nil {
			return err
		}
		return hist.record(writeCtx, engineName, suite, r)
	})

	for i, doc := range p.docs {
		runner := harness.NewRunner(harness.Options{
			Timeout:   p.cfg.Timeout,
			Workers:   p.cfg.Workers,
			Policy:    assertion.Policy{Combinator: combinator},
			Isolation: harness.Isolation(p.cfg.Isolation),
			Command:   o.workerCommand(cmd, p.refs[i], p.cfg.Timeout),
			Logger:    p.logger,
		})
		if err := runner.RunEngines(ctx, doc, p.descs, sink); err != nil {
			if ctx.Err() != nil {
				p.logger.Warn("run interrupted", "suite", doc.Suite)
				return store.RunCancelled, WrapExitError(ExitCommandError, "run interrupted", ctx.Err())
			}
			return store.RunFailed, WrapExitError(ExitCommandError, fmt.Sprintf("suite %s failed", doc.Suite), err)
		}
	}
	m.Complete()
	return store.RunComplete, nil
}

// workerCommand re-executes this binary as a hidden worker for process
// isolation.
func (o *RunOptions) workerCommand(cmd *cobra.Command, ref suiteRef, timeout time.Duration) harness.WorkerCommand {
	return func(engineName string) *exec.Cmd {
		exe, err := os.Executable()
		if err != nil {
			exe = os.Args[0]
		}
		args := []string{"worker", "--engine", engineName, "--suite", ref.Name, "--timeout", timeout.String()}
		if o.ConfigPath != "" {
			args = append(args, "--config", o.ConfigPath)
		}
		if o.Catalog != "" {
			args = append(args, "--catalog", o.Catalog)
		}
		if o.Filter != "" {
			args = append(args, "--filter", o.Filter)
		}
		if o.Verbose {
			args = append(args, "--verbose")
		}
		c := exec.Command(exe, args...)
		c.Stderr = cmd.ErrOrStderr()
		return c
	}
}

func runRun(opts *RunOptions, cmd *cobra.Command) error {
	p, err := opts.plan(cmd)
	if err != nil {
		return err
	}
	format, err := matrix.ParseFormat(p.cfg.Output)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid output format", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *matrix.Metrics
	if p.cfg.MetricsFile != "" {
		metrics = matrix.NewMetrics()
	}
	m := matrix.New(matrix.WithMetrics(metrics))

	hist, err := opts.beginHistory(ctx, p)
	if err != nil {
		return err
	}
	if hist != nil {
		defer hist.st.Close()
	}

	state, runErr := opts.execute(ctx, cmd, p, m, hist)
	rep := m.Snapshot()

	if hist != nil {
		if err := hist.st.FinishRun(context.WithoutCancel(ctx), hist.runID, state, opts.now()); err != nil {
			p.logger.Error("failed to finish stored run", "run_id", hist.runID, "error", err)
		}
	}

	if metrics != nil {
		metrics.Update(rep)
		if err := metrics.WriteTextfile(p.cfg.MetricsFile); err != nil {
			p.logger.Error("failed to write metrics", "path", p.cfg.MetricsFile, "error", err)
		}
	}

	renderOpts := matrix.RenderOptions{FailureLimit: p.cfg.Report.FailureLimit, Title: p.cfg.Report.Title}
	if err := emitReport(cmd, opts.Out, rep, format, renderOpts); err != nil {
		return err
	}

	printSummary(cmd.ErrOrStderr(), rep, colorEnabled(cmd.ErrOrStderr()))
	if hist != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "run %s stored in %s\n", hist.runID, p.cfg.Database)
	}
	return runErr
}

// beginHistory opens the store and records the run start, or returns nil
// when no database is configured.
func (o *RunOptions) beginHistory(ctx context.Context, p *runPlan) (*runHistory, error) {
	if p.cfg.Database == "" {
		return nil, nil
	}
	st, err := store.Open(p.cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err).WithErrCode(ErrCodeStore)
	}
	fail := func(msg string, err error) (*runHistory, error) {
		st.Close()
		return nil, WrapExitError(ExitCommandError, msg, err).WithErrCode(ErrCodeStore)
	}

	runID, err := store.NewRunID()
	if err != nil {
		return fail("failed to create run id", err)
	}
	host, err := sysinfo.Collect(ctx)
	if err != nil {
		return fail("failed to describe host", err)
	}

	run := store.Run{
		ID:        runID,
		StartedAt: o.now(),
		Params: map[string]any{
			"engines":    p.engineNames(),
			"suites":     p.suiteNames(),
			"filter":     o.Filter,
			"timeout":    p.cfg.Timeout.String(),
			"workers":    int64(p.cfg.Workers),
			"combinator": p.cfg.Combinator,
			"isolation":  p.cfg.Isolation,
		},
		Host: host.Map(),
	}
	if err := st.BeginRun(ctx, run); err != nil {
		return fail("failed to record run", err)
	}

	for i, doc := range p.docs {
		digest, err := doc.Digest()
		if err != nil {
			return fail("failed to digest catalog", err)
		}
		info := store.CatalogInfo{
			Suite:  doc.Suite,
			Format: p.refs[i].Format,
			Path:   doc.Path,
			Digest: digest,
			Cases:  doc.Len(),
		}
		if err := st.WriteCatalog(ctx, runID, info); err != nil {
			return fail("failed to record catalog", err)
		}
	}

	p.logger.Info("run recorded", "run_id", runID, "db", p.cfg.Database)
	return &runHistory{st: st, runID: runID}, nil
}

// emitReport renders rep and writes it to out, or to stdout when out is
// empty. File writes are locked and atomic.
func emitReport(cmd *cobra.Command, out string, rep matrix.Report, format matrix.Format, opts matrix.RenderOptions) error {
	var buf bytes.Buffer
	if err := matrix.Render(&buf, rep, format, opts); err != nil {
		return WrapExitError(ExitCommandError, "failed to render report", err)
	}
	return writeOutput(cmd.OutOrStdout(), out, buf.Bytes())
}

func writeOutput(stdout io.Writer, out string, data []byte) error {
	if out == "" {
		if _, err := stdout.Write(data); err != nil {
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
		return nil
	}
	if err := fsutil.LockAndWrite(out, data); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}
	return nil
}

