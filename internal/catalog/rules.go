package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/antchfx/xpath"
)

//go:embed formats.cue
var formatsCUE string

// Rules is the decoded mapping for one catalog format. Field documentation
// lives in formats.cue.
type Rules struct {
	Name         string                   `json:"name"`
	Suite        string                   `json:"suite"`
	Root         string                   `json:"root"`
	SetRefs      SetRefRule               `json:"set_refs"`
	Set          SetRule                  `json:"set"`
	Dependencies DependencyRule           `json:"dependencies"`
	Environments EnvironmentRule          `json:"environments"`
	Cases        []CaseRule               `json:"cases"`
	Assertions   map[string]AssertionRule `json:"assertions"`
}

// SetRefRule locates test-set references in the root catalog.
type SetRefRule struct {
	Select string `json:"select"`
	Name   string `json:"name"`
	File   string `json:"file"`
}

// SetRule decodes a test-set file.
type SetRule struct {
	Root        string `json:"root"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DependencyRule decodes dependency elements at any scope.
type DependencyRule struct {
	Select    string                    `json:"select"`
	Type      string                    `json:"type"`
	Value     string                    `json:"value"`
	Satisfied string                    `json:"satisfied"`
	Kinds     map[string]DependencyKind `json:"kinds"`
}

// DependencyKind maps a catalog dependency type onto a model kind.
type DependencyKind struct {
	Kind    string `json:"kind"`
	KeyedBy string `json:"keyed_by"`
}

// EnvironmentRule decodes named and inline environments.
type EnvironmentRule struct {
	Select          string `json:"select"`
	Name            string `json:"name"`
	Sources         string `json:"sources"`
	SourceRole      string `json:"source_role"`
	SourceFile      string `json:"source_file"`
	SourceURI       string `json:"source_uri"`
	Params          string `json:"params"`
	ParamName       string `json:"param_name"`
	ParamSelect     string `json:"param_select"`
	Namespaces      string `json:"namespaces"`
	NamespacePrefix string `json:"namespace_prefix"`
	NamespaceURI    string `json:"namespace_uri"`
	ContextItem     string `json:"context_item"`
	BaseURI         string `json:"base_uri"`
}

// CaseRule decodes one kind of case element.
type CaseRule struct {
	Select          string `json:"select"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Definition      string `json:"definition"`
	EnvironmentRef  string `json:"environment_ref"`
	Environment     string `json:"environment"`
	Query           string `json:"query"`
	QueryFile       string `json:"query_file"`
	Modules         string `json:"modules"`
	ModuleURI       string `json:"module_uri"`
	ModuleFile      string `json:"module_file"`
	Stylesheet      string `json:"stylesheet"`
	Source          string `json:"source"`
	InitialTemplate string `json:"initial_template"`
	InitialMode     string `json:"initial_mode"`
	Params          string `json:"params"`
	ParamName       string `json:"param_name"`
	ParamSelect     string `json:"param_select"`
	Schemas         string `json:"schemas"`
	SchemaFile      string `json:"schema_file"`
	Instance        string `json:"instance"`
	Result          string `json:"result"`
}

// AssertionRule decodes one assertion element.
type AssertionRule struct {
	Kind           string            `json:"kind"`
	Value          string            `json:"value"`
	Fixed          string            `json:"fixed"`
	Literal        bool              `json:"literal"`
	Markup         bool              `json:"markup"`
	File           string            `json:"file"`
	NormalizeSpace string            `json:"normalize_space"`
	Flags          string            `json:"flags"`
	Requires       map[string]string `json:"requires"`
}

// RuleSet holds the mapping rules for every known format.
type RuleSet map[string]Rules

// Names returns the format names in sorted order.
func (rs RuleSet) Names() []string {
	names := make([]string, 0, len(rs))
	for n := range rs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the rules for format.
func (rs RuleSet) Lookup(format string) (Rules, error) {
	r, ok := rs[format]
	if !ok {
		return Rules{}, fmt.Errorf("unknown catalog format %q (available: %v)", format, rs.Names())
	}
	return r, nil
}

// LoadRules decodes the built-in formats unified with extra CUE files. Extra
// files add formats by declaring "formats: name: {...}"; they are checked
// against the same schema as the built-in ones.
func LoadRules(extra ...string) (RuleSet, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(formatsCUE, cue.Filename("formats.cue"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compiling built-in formats: %w", err)
	}

	for _, path := range extra {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading format rules: %w", err)
		}
		v := ctx.CompileBytes(data, cue.Filename(filepath.Base(path)))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("compiling %s: %w", path, err)
		}
		value = value.Unify(v)
	}

	formats := value.LookupPath(cue.ParsePath("formats"))
	if err := formats.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating format rules: %w", err)
	}

	var rs RuleSet
	if err := formats.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decoding format rules: %w", err)
	}
	for name, r := range rs {
		if err := r.check(); err != nil {
			return nil, fmt.Errorf("format %q: %w", name, err)
		}
	}
	return rs, nil
}

// check compiles every path so a bad rule fails at load time rather than on
// the first catalog that exercises it.
func (r Rules) check() error {
	paths := []string{
		r.Root, r.SetRefs.Select, r.SetRefs.Name, r.SetRefs.File,
		r.Set.Root, r.Set.Name, r.Set.Description,
		r.Dependencies.Select, r.Dependencies.Type, r.Dependencies.Value, r.Dependencies.Satisfied,
	}
	e := r.Environments
	paths = append(paths, e.Select, e.Name, e.Sources, e.SourceRole, e.SourceFile, e.SourceURI,
		e.Params, e.ParamName, e.ParamSelect, e.Namespaces, e.NamespacePrefix, e.NamespaceURI,
		e.ContextItem, e.BaseURI)
	for _, c := range r.Cases {
		paths = append(paths, c.Select, c.Name, c.Description, c.EnvironmentRef, c.Environment,
			c.Query, c.QueryFile, c.Modules, c.ModuleURI, c.ModuleFile, c.Stylesheet, c.Source,
			c.InitialTemplate, c.InitialMode, c.Params, c.ParamName, c.ParamSelect,
			c.Schemas, c.SchemaFile, c.Instance, c.Result)
	}
	for _, a := range r.Assertions {
		paths = append(paths, a.Value, a.File, a.NormalizeSpace, a.Flags)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := xpath.Compile(p); err != nil {
			return fmt.Errorf("bad path %q: %w", p, err)
		}
	}
	return nil
}
