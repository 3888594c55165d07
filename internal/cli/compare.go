package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/xconform/internal/harness"
	"github.com/roach88/xconform/internal/matrix"
	"github.com/roach88/xconform/internal/store"
)

// CompareOptions holds flags for the compare command.
type CompareOptions struct {
	RunOptions
	RunID string
}

// NewCompareCommand creates the compare command.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompareOptions{RunOptions: RunOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "List the cases whose status differs between engines",
		Long: `Run one suite against two or more engines and list every case whose status
differs between them.

With --db the comparison reads a stored run instead (the latest unless --run
is given) and nothing is executed.

Example:
  xconform compare --config xconform.yaml --engines xmlquery,saxon --suite qt3
  xconform compare --db history.db --engines a,b --suite qt3 --output json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Engines, "engines", nil, "engines to compare (at least two)")
	cmd.Flags().StringVar(&opts.Suite, "suite", "", "suite to compare (required)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "root catalog file; --suite then names its format")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "glob over test-set or set/case names")
	cmd.Flags().StringVar(&opts.Output, "output", "markdown", "comparison format (markdown|json)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", harness.DefaultTimeout, "per-case timeout")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent cases per engine (default: number of CPUs)")
	cmd.Flags().StringVar(&opts.Isolation, "isolation", "goroutine", "engine isolation (goroutine|process)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "compare a stored run from this SQLite history")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "stored run id (default latest; needs --db)")
	_ = cmd.MarkFlagRequired("engines")
	_ = cmd.MarkFlagRequired("suite")

	return cmd
}

func runCompare(opts *CompareOptions, cmd *cobra.Command) error {
	engines := splitList(opts.Engines)
	if len(engines) < 2 {
		return NewExitError(ExitCommandError, "compare needs at least two engines")
	}
	if opts.Output != "markdown" && opts.Output != "md" && opts.Output != "json" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid comparison format %q: must be markdown or json", opts.Output))
	}
	if opts.RunID != "" && opts.Database == "" {
		return NewExitError(ExitCommandError, "--run needs --db")
	}

	var (
		rep matrix.Report
		err error
	)
	if opts.Database != "" {
		rep, err = storedReport(cmd.Context(), opts.Database, opts.RunID)
	} else {
		rep, err = opts.liveReport(cmd)
	}
	if err != nil {
		return err
	}

	cmp, err := matrix.Compare(rep, opts.Suite, engines...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compare engines", err)
	}

	var buf bytes.Buffer
	if opts.Output == "json" {
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(cmp)
	} else {
		err = matrix.RenderComparisonMarkdown(&buf, cmp)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render comparison", err)
	}
	return writeOutput(cmd.OutOrStdout(), opts.Out, buf.Bytes())
}

// liveReport runs the suite against the engines without recording history.
func (o *CompareOptions) liveReport(cmd *cobra.Command) (matrix.Report, error) {
	p, err := o.plan(cmd)
	if err != nil {
		return matrix.Report{}, err
	}
	if len(p.docs) != 1 {
		return matrix.Report{}, NewExitError(ExitCommandError, "compare takes a single suite")
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := matrix.New()
	if _, err := o.execute(ctx, cmd, p, m, nil); err != nil {
		return matrix.Report{}, err
	}
	return m.Snapshot(), nil
}

// storedReport reads a run's report from the history database. An empty
// runID selects the latest run.
func storedReport(ctx context.Context, dbPath, runID string) (matrix.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(dbPath); err != nil {
		return matrix.Report{}, WrapExitError(ExitCommandError, "database not found", err).WithErrCode(ErrCodeStore)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return matrix.Report{}, WrapExitError(ExitCommandError, "failed to open database", err).WithErrCode(ErrCodeStore)
	}
	defer st.Close()

	if runID == "" {
		run, err := st.LatestRun(ctx)
		if err != nil {
			return matrix.Report{}, WrapExitError(ExitCommandError, "no stored run", err).WithErrCode(ErrCodeStore)
		}
		runID = run.ID
	}
	rep, err := st.ReadReport(ctx, runID)
	if err != nil {
		return matrix.Report{}, WrapExitError(ExitCommandError, "failed to read stored run", err).WithErrCode(ErrCodeStore)
	}
	return rep, nil
}
