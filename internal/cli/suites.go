package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/config"
)

// suiteRef locates one catalog to load.
type suiteRef struct {
	Name   string
	Path   string
	Format string
}

// resolveSuites turns a --suite value into catalog locations.
//
// With --catalog the suite value is a single format name and the catalog
// path is taken from the flag. Otherwise the value is "all" or a
// comma-separated list of suites configured in the config file.
func resolveSuites(cfg *config.Config, arg, catalogPath string) ([]suiteRef, error) {
	if catalogPath != "" {
		if arg == "" || arg == "all" || strings.Contains(arg, ",") {
			return nil, fmt.Errorf("--catalog needs a single --suite naming its format")
		}
		return []suiteRef{{Name: arg, Path: catalogPath, Format: arg}}, nil
	}

	var names []string
	if arg == "" || arg == "all" {
		names = cfg.SuiteNames()
		if len(names) == 0 {
			return nil, fmt.Errorf("no suites configured: pass --catalog or list suites in --config")
		}
	} else {
		names = strings.Split(arg, ",")
	}

	refs := make([]suiteRef, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		s, ok := cfg.Suites[name]
		if !ok {
			return nil, fmt.Errorf("suite %q is not configured (configured: %v)", name, cfg.SuiteNames())
		}
		refs = append(refs, suiteRef{Name: name, Path: s.Path, Format: s.Format})
	}
	return refs, nil
}

// loadSuites loads every referenced catalog with the built-in and
// configured mapping rules. Each document reports under its suite name.
func loadSuites(cfg *config.Config, refs []suiteRef, filter catalog.Filter, logger *slog.Logger) ([]*catalog.Document, error) {
	rules, err := catalog.LoadRules(cfg.Rules...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load mapping rules", err).WithErrCode(ErrCodeCatalog)
	}

	docs := make([]*catalog.Document, 0, len(refs))
	for _, ref := range refs {
		doc, err := catalog.Load(ref.Path, ref.Format,
			catalog.WithRules(rules),
			catalog.WithFilter(filter),
			catalog.WithLogger(logger),
		)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to load suite %s", ref.Name), err).WithErrCode(ErrCodeCatalog)
		}
		doc.Suite = ref.Name
		logger.Info("catalog loaded", "suite", ref.Name, "cases", doc.Len(),
			"catalog_errors", len(doc.CatalogErrors()))
		docs = append(docs, doc)
	}
	return docs, nil
}

// splitList splits comma-separated flag values and drops empties.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
