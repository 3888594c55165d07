package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/xconform/internal/catalog"
)

// CatalogIssue is one malformed catalog entry.
type CatalogIssue struct {
	Suite   string `json:"suite"`
	Case    string `json:"test_case"`
	Message string `json:"message"`
}

// SuiteSummary describes one loaded catalog.
type SuiteSummary struct {
	Suite  string `json:"suite"`
	Format string `json:"format"`
	Path   string `json:"path"`
	Sets   int    `json:"test_sets"`
	Cases  int    `json:"test_cases"`
	Digest string `json:"digest"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Suites []SuiteSummary `json:"suites"`
	Errors []CatalogIssue `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Suite   string
	Catalog string
	Filter  string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load catalogs and list malformed entries without running anything",
		Long: `Load the selected catalogs with their mapping rules and report every
malformed entry. Nothing is executed.

Exits 0 when every entry decodes, 1 when some entries are malformed, and 2
when a root catalog cannot be loaded at all.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Suite, "suite", "all", "suites to validate (configured names, comma list, or all)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "root catalog file; --suite then names its format")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "glob over test-set or set/case names")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.config()
	if err != nil {
		return outputValidateError(formatter, ErrCodeConfig, err)
	}
	refs, err := resolveSuites(cfg, opts.Suite, opts.Catalog)
	if err != nil {
		return outputValidateError(formatter, ErrCodeConfig, err)
	}
	filter, err := catalog.NewFilter(opts.Filter)
	if err != nil {
		return outputValidateError(formatter, ErrCodeConfig, err)
	}
	docs, err := loadSuites(cfg, refs, filter, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return outputValidateError(formatter, ErrCodeCatalog, err)
	}

	result := ValidationResult{Valid: true}
	for i, doc := range docs {
		formatter.VerboseLog("Loaded %s: %d case(s) from %s", doc.Suite, doc.Len(), doc.Path)
		digest, err := doc.Digest()
		if err != nil {
			return outputValidateError(formatter, ErrCodeCatalog, err)
		}
		result.Suites = append(result.Suites, SuiteSummary{
			Suite:  doc.Suite,
			Format: refs[i].Format,
			Path:   doc.Path,
			Sets:   len(doc.Sets),
			Cases:  doc.Len(),
			Digest: digest,
		})
		for _, c := range doc.CatalogErrors() {
			result.Errors = append(result.Errors, CatalogIssue{
				Suite:   doc.Suite,
				Case:    c.ID(),
				Message: c.CatalogErr.Error(),
			})
		}
	}
	result.Valid = len(result.Errors) == 0

	if result.Valid {
		return outputValidateSuccess(formatter, result)
	}
	return outputCatalogIssues(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for _, s := range result.Suites {
		fmt.Fprintf(formatter.Writer, "%s: %d test set(s), %d case(s)\n", s.Suite, s.Sets, s.Cases)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d catalog(s) valid\n", len(result.Suites))
	return nil
}

// outputValidateError outputs a load failure. The catalog could not be read
// at all, so this is a command error (exit code 2).
func outputValidateError(formatter *OutputFormatter, code string, err error) error {
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, "validation could not run", err)
}

// outputCatalogIssues outputs every malformed entry.
func outputCatalogIssues(formatter *OutputFormatter, result ValidationResult) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d malformed entries", len(result.Errors)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeCatalogEntry,
				Message: result.Errors[0].Message,
			},
		}
		if err := encodeIndented(formatter.Writer, response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range result.Errors {
		fmt.Fprintf(formatter.Writer, "%s %s\n", issue.Suite, issue.Case)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", ErrCodeCatalogEntry, issue.Message)
	}
	return failure
}
