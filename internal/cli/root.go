package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/xconform/internal/config"
	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/engines/antchfx"
	"github.com/roach88/xconform/internal/engines/xsd"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Registry overrides the built-in engines (for testing).
	Registry *engine.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Execute runs the CLI with the process arguments and returns the exit
// code. The error that ended the command goes to stderr, as a JSON
// envelope under --format json.
func Execute() int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	reportError(cmd.ErrOrStderr(), opts.Format, err)
	return GetExitCode(err)
}

// NewRootCommand creates the root command for the xconform CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xconform",
		Short: "xconform - XML standards conformance harness",
		Long: `Run the W3C XPath, XQuery, XSLT and XSD test catalogs against pluggable
engines and report a compliance matrix.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to xconform.yaml")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCompareCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewEnginesCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))

	return cmd
}

// registry returns the engines available to commands.
func (o *RootOptions) registry() *engine.Registry {
	if o.Registry != nil {
		return o.Registry
	}
	return engine.NewRegistry(antchfx.Descriptor(), xsd.Descriptor())
}

// config loads --config, or the defaults when no file was given.
func (o *RootOptions) config() (*config.Config, error) {
	if o.ConfigPath == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// logger builds the diagnostic logger. Logs always go to w (stderr), never
// to the report stream.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
