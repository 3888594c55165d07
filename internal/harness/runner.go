package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/xconform/internal/assertion"
	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

// DefaultTimeout bounds a single case when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Isolation selects how engine calls are fenced off from the runner.
type Isolation string

const (
	// IsolateGoroutine runs engine calls on a supervised goroutine.
	IsolateGoroutine Isolation = "goroutine"

	// IsolateProcess runs engine calls in a restartable child process.
	IsolateProcess Isolation = "process"
)

// Clock supplies the timestamps used for elapsed times.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Sink receives results as they are produced. Record is called from
// several goroutines when Workers > 1.
type Sink interface {
	Record(engineName, suite string, r ir.TestResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(engineName, suite string, r ir.TestResult) error

// Record calls f.
func (f SinkFunc) Record(engineName, suite string, r ir.TestResult) error {
	return f(engineName, suite, r)
}

// WorkerCommand builds the child process command for one engine in process
// isolation. The child must call ServeWorker on its stdin and stdout.
type WorkerCommand func(engineName string) *exec.Cmd

// Options configures a Runner. Zero values select the defaults.
type Options struct {
	// Timeout bounds each case. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Workers is the number of cases run concurrently per engine.
	Workers int

	// Policy decides how sibling assertions combine.
	Policy assertion.Policy

	// Isolation defaults to IsolateGoroutine.
	Isolation Isolation

	// Command is required for IsolateProcess.
	Command WorkerCommand

	// ProgressInterval throttles progress logging. Defaults to 5s.
	ProgressInterval time.Duration

	Clock  Clock
	Logger *slog.Logger
}

// Runner executes catalog cases against engines.
type Runner struct {
	opts   Options
	clock  Clock
	logger *slog.Logger
}

// NewRunner creates a runner, filling unset options with defaults.
func NewRunner(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Policy.Combinator == "" {
		opts.Policy = assertion.DefaultPolicy()
	}
	if opts.Isolation == "" {
		opts.Isolation = IsolateGoroutine
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 5 * time.Second
	}
	r := &Runner{opts: opts, clock: opts.Clock, logger: opts.Logger}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Run executes every case of doc against the engine described by desc and
// records one result per case in sink.
//
// A sink error aborts the run and is returned. If ctx is cancelled, cases
// already dispatched still complete and Run returns ctx.Err().
func (r *Runner) Run(ctx context.Context, doc *catalog.Document, desc engine.Descriptor, sink Sink) error {
	if r.opts.Isolation == IsolateProcess && r.opts.Command == nil {
		return fmt.Errorf("process isolation requires a worker command")
	}

	cases := doc.Cases()
	logger := r.logger.With("engine", desc.Info.Name, "suite", doc.Suite)
	logger.Info("run started", "cases", len(cases), "workers", r.opts.Workers, "isolation", r.opts.Isolation)

	workers := max(1, min(r.opts.Workers, len(cases)))
	executors := r.executors(desc, workers, logger)
	defer func() {
		for _, ex := range executors {
			ex.Close()
		}
	}()

	// In-flight cases outlive cancellation; only dispatch stops.
	runCtx := context.WithoutCancel(ctx)
	progress := &rate.Sometimes{Interval: r.opts.ProgressInterval}
	var done atomic.Int64

	work := make(chan *catalog.TestCase)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for _, c := range cases {
			if gctx.Err() != nil {
				return nil
			}
			select {
			case work <- c:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for _, ex := range executors {
		g.Go(func() error {
			for c := range work {
				res := r.runCase(runCtx, ex, desc.Info, c, logger)
				if err := sink.Record(desc.Info.Name, doc.Suite, res); err != nil {
					return fmt.Errorf("recording %s: %w", c.ID(), err)
				}
				n := done.Add(1)
				progress.Do(func() {
					logger.Info("progress", "done", n, "total", len(cases))
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("run cancelled", "done", done.Load(), "total", len(cases))
		return err
	}
	logger.Info("run finished", "done", done.Load())
	return nil
}

// RunEngines runs doc against several engines at once. Each engine gets
// its own worker pool; results for all of them flow into sink.
func (r *Runner) RunEngines(ctx context.Context, doc *catalog.Document, descs []engine.Descriptor, sink Sink) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range descs {
		g.Go(func() error {
			if err := r.Run(gctx, doc, d, sink); err != nil {
				return fmt.Errorf("engine %s: %w", d.Info.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// executors builds one executor per worker. Thread-safe engines share a
// single instance in goroutine mode.
func (r *Runner) executors(desc engine.Descriptor, workers int, logger *slog.Logger) []executor {
	out := make([]executor, workers)
	if r.opts.Isolation == IsolateProcess {
		for i := range out {
			out[i] = newProcessExecutor(desc.Info.Name, r.opts.Command, r.opts.Timeout, logger.With("worker", i))
		}
		return out
	}

	var shared *instance
	if desc.Info.ThreadSafe {
		shared = newInstance(desc, logger)
	}
	for i := range out {
		inst := shared
		if inst == nil {
			inst = newInstance(desc, logger.With("worker", i))
		}
		out[i] = &goroutineExecutor{inst: inst, timeout: r.opts.Timeout, logger: logger}
	}
	return out
}

// runCase decides one case. It never returns without a result.
func (r *Runner) runCase(ctx context.Context, ex executor, info engine.Info, c *catalog.TestCase, logger *slog.Logger) ir.TestResult {
	start := r.clock.Now()
	res := ir.TestResult{Set: c.Set, Case: c.Name}

	unmet, blocked := catalog.Unmet(c.Dependencies, info)
	switch {
	case c.CatalogErr != nil:
		res.Status = ir.StatusError
		res.Message = c.CatalogErr.Error()
	case blocked:
		res.Status = ir.StatusSkipped
		res.Message = "unmet dependency: " + unmet.String()
	default:
		out := ex.Execute(ctx, c)
		res.Status, res.Message = r.judge(c, out)
		if res.Status == ir.StatusError {
			logger.Warn("case errored", "case", c.ID(), "error", res.Message)
		}
	}

	res.Elapsed = r.clock.Now().Sub(start)
	logger.Debug("case finished", "case", c.ID(), "status", res.Status, "elapsed", res.Elapsed)
	return res
}

func (r *Runner) judge(c *catalog.TestCase, out engine.Outcome) (ir.Status, string) {
	if out.Err != nil {
		switch out.Err.Kind {
		case engine.KindInfrastructure, engine.KindCatalog:
			return ir.StatusError, out.Err.Error()
		case engine.KindNotSupported:
			return ir.StatusSkipped, out.Err.Error()
		}
	}
	v := assertion.Evaluate(c, out, r.opts.Policy)
	switch v.Verdict {
	case assertion.Pass:
		return ir.StatusPassed, ""
	case assertion.Undecided:
		return ir.StatusSkipped, v.Message
	}
	return ir.StatusFailed, v.Message
}

// executor runs one case's engine work behind an isolation boundary.
type executor interface {
	Execute(ctx context.Context, c *catalog.TestCase) engine.Outcome
	Close()
}
