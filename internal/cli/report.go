package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xconform/internal/matrix"
	"github.com/roach88/xconform/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	RunID    string
	Output   string
	Out      string
	List     bool
	Limit    int
	Case     string
	Suite    string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render reports from stored runs",
		Long: `Render the compliance matrix of a stored run, list stored runs, or show
the history of one test case across runs.

Example:
  xconform report --db history.db
  xconform report --db history.db --run 01956f3a-... --output html --out report.html
  xconform report --db history.db --list
  xconform report --db history.db --suite qt3 --case fn-abs/abs-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run history (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default latest)")
	cmd.Flags().StringVar(&opts.Output, "output", "markdown", "report format (markdown|json|html|csv)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "report file (default stdout)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list stored runs")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs or history entries (0 = all)")
	cmd.Flags().StringVar(&opts.Case, "case", "", "show the history of one case (set/case)")
	cmd.Flags().StringVar(&opts.Suite, "suite", "", "suite of --case")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch {
	case opts.List:
		return reportList(ctx, opts, cmd)
	case opts.Case != "":
		return reportCaseHistory(ctx, opts, cmd)
	}

	format, err := matrix.ParseFormat(opts.Output)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid output format", err)
	}
	rep, err := storedReport(ctx, opts.Database, opts.RunID)
	if err != nil {
		return err
	}
	renderOpts := matrix.RenderOptions{}
	if opts.ConfigPath != "" {
		cfg, err := opts.config()
		if err != nil {
			return err
		}
		renderOpts = matrix.RenderOptions{FailureLimit: cfg.Report.FailureLimit, Title: cfg.Report.Title}
	}
	return emitReport(cmd, opts.Out, rep, format, renderOpts)
}

func (o *ReportOptions) open() (*store.Store, error) {
	if _, err := os.Stat(o.Database); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err).WithErrCode(ErrCodeStore)
	}
	st, err := store.Open(o.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err).WithErrCode(ErrCodeStore)
	}
	return st, nil
}

// runSummary is the listing form of a stored run.
type runSummary struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	State      store.RunState `json:"state"`
	Engines    []string       `json:"engines,omitempty"`
	Suites     []string       `json:"suites,omitempty"`
}

func summarize(run store.Run) runSummary {
	s := runSummary{
		ID:        run.ID,
		StartedAt: run.StartedAt,
		State:     run.State,
		Engines:   stringList(run.Params["engines"]),
		Suites:    stringList(run.Params["suites"]),
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		s.FinishedAt = &finished
	}
	return s
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func reportList(ctx context.Context, opts *ReportOptions, cmd *cobra.Command) error {
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err).WithErrCode(ErrCodeStore)
	}
	summaries := make([]runSummary, len(runs))
	for i, run := range runs {
		summaries[i] = summarize(run)
	}

	formatter := opts.formatter(cmd)
	if formatter.Format == "json" {
		return formatter.Success(summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(formatter.Writer, "No stored runs.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATE\tENGINES\tSUITES")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.StartedAt.Format(time.RFC3339),
			s.State, strings.Join(s.Engines, ","), strings.Join(s.Suites, ","))
	}
	return tw.Flush()
}

// caseEntry is the listing form of one historical case outcome.
type caseEntry struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Engine    string    `json:"engine"`
	Status    string    `json:"status"`
	Elapsed   string    `json:"elapsed"`
	Message   string    `json:"message,omitempty"`
}

func reportCaseHistory(ctx context.Context, opts *ReportOptions, cmd *cobra.Command) error {
	set, name, ok := strings.Cut(opts.Case, "/")
	if !ok || set == "" || name == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --case %q: want set/case", opts.Case))
	}
	if opts.Suite == "" {
		return NewExitError(ExitCommandError, "--case needs --suite")
	}

	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	history, err := st.CaseHistory(ctx, opts.Suite, set, name, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read case history", err).WithErrCode(ErrCodeStore)
	}
	entries := make([]caseEntry, len(history))
	for i, h := range history {
		entries[i] = caseEntry{
			RunID:     h.RunID,
			StartedAt: h.StartedAt,
			Engine:    h.Engine,
			Status:    string(h.Result.Status),
			Elapsed:   h.Result.Elapsed.String(),
			Message:   h.Result.Message,
		}
	}

	formatter := opts.formatter(cmd)
	if formatter.Format == "json" {
		return formatter.Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintf(formatter.Writer, "No results for %s in %s.\n", opts.Case, opts.Suite)
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tENGINE\tSTATUS\tELAPSED\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.RunID, e.StartedAt.Format(time.RFC3339),
			e.Engine, e.Status, e.Elapsed, e.Message)
	}
	return tw.Flush()
}
