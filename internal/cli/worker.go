package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/harness"
)

// WorkerOptions holds flags for the hidden worker command.
type WorkerOptions struct {
	*RootOptions
	Engine  string
	Suite   string
	Catalog string
	Filter  string
	Timeout time.Duration
}

// NewWorkerCommand creates the worker command that serves one engine over
// stdin and stdout for process isolation. It is started by run, not by
// users.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Serve one engine to a parent run (internal)",
		Hidden:        true,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", "", "engine to serve (required)")
	cmd.Flags().StringVar(&opts.Suite, "suite", "", "suite to load (required)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "root catalog file; --suite then names its format")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "glob over test-set or set/case names")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", harness.DefaultTimeout, "per-case timeout")
	_ = cmd.MarkFlagRequired("engine")
	_ = cmd.MarkFlagRequired("suite")

	return cmd
}

// runWorker loads the same catalog as the parent and answers case
// requests. Stdout carries only the protocol; logs go to stderr.
func runWorker(opts *WorkerOptions, cmd *cobra.Command) error {
	logger := opts.logger(cmd.ErrOrStderr()).With("worker", opts.Engine)

	cfg, err := opts.config()
	if err != nil {
		return err
	}
	desc, err := opts.registry().Lookup(opts.Engine)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown engine", err)
	}
	refs, err := resolveSuites(cfg, opts.Suite, opts.Catalog)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve suite", err)
	}
	if len(refs) != 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("worker serves one suite, got %d", len(refs)))
	}
	filter, err := catalog.NewFilter(opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}
	docs, err := loadSuites(cfg, refs, filter, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := harness.ServeWorker(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), docs[0], desc, opts.Timeout, logger); err != nil {
		return WrapExitError(ExitCommandError, "worker failed", err)
	}
	return nil
}
