// Package config loads the xconform YAML configuration.
//
// A config file names the suites to run (catalog path and mapping-rule
// format), the engines, and the run defaults. Command-line flags override
// every value; relative paths resolve against the config file's directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Suite locates one catalog.
type Suite struct {
	// Path is the root catalog file.
	Path string `yaml:"path" validate:"required"`

	// Format is the mapping-rule name used to decode the catalog.
	Format string `yaml:"format" validate:"required"`
}

// Report holds report rendering options.
type Report struct {
	// FailureLimit caps the failures listed per row (0 = default, <0 = all).
	FailureLimit int `yaml:"failure_limit"`

	// Title is the report heading.
	Title string `yaml:"title"`
}

// Config represents xconform configuration options.
type Config struct {
	// Suites maps a suite name to its catalog.
	Suites map[string]Suite `yaml:"suites" validate:"dive"`

	// Rules lists extra CUE mapping-rule files loaded next to the built-in formats.
	Rules []string `yaml:"rules" validate:"dive,required"`

	// Engines selects the engines a run uses by default.
	Engines []string `yaml:"engines" validate:"dive,required"`

	// Timeout is the per-case wall-clock limit.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// Workers is the number of cases executed concurrently per engine.
	Workers int `yaml:"workers" validate:"gte=1"`

	// Combinator joins top-level assertions when a case declares none (all, any).
	Combinator string `yaml:"combinator" validate:"oneof=all any"`

	// Isolation selects in-process or subprocess engine execution.
	Isolation string `yaml:"isolation" validate:"oneof=goroutine process"`

	// Database is the SQLite run-history path. Empty disables history.
	Database string `yaml:"database"`

	// MetricsFile receives a Prometheus text exposition after each run.
	MetricsFile string `yaml:"metrics_file"`

	// Output is the default report format.
	Output string `yaml:"output" validate:"oneof=markdown md json html csv"`

	Report Report `yaml:"report"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Suites:     map[string]Suite{},
		Timeout:    30 * time.Second,
		Workers:    runtime.NumCPU(),
		Combinator: "all",
		Isolation:  "goroutine",
		Output:     "markdown",
	}
}

// Load reads the configuration at path over the defaults.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.resolvePaths(filepath.Dir(abs))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for name, s := range c.Suites {
		s.Path = rel(s.Path)
		c.Suites[name] = s
	}
	for i, r := range c.Rules {
		c.Rules[i] = rel(r)
	}
	c.Database = rel(c.Database)
	c.MetricsFile = rel(c.MetricsFile)
}

// Overrides carries command-line values. Nil fields leave the config as is.
type Overrides struct {
	Engines     []string
	Timeout     *time.Duration
	Workers     *int
	Combinator  *string
	Isolation   *string
	Database    *string
	MetricsFile *string
	Output      *string
}

// Merge applies flag overrides; flags take precedence over the file.
func (c *Config) Merge(o Overrides) {
	if o.Engines != nil {
		c.Engines = o.Engines
	}
	if o.Timeout != nil {
		c.Timeout = *o.Timeout
	}
	if o.Workers != nil {
		c.Workers = *o.Workers
	}
	if o.Combinator != nil {
		c.Combinator = *o.Combinator
	}
	if o.Isolation != nil {
		c.Isolation = *o.Isolation
	}
	if o.Database != nil {
		c.Database = *o.Database
	}
	if o.MetricsFile != nil {
		c.MetricsFile = *o.MetricsFile
	}
	if o.Output != nil {
		c.Output = *o.Output
	}
}

// SuiteNames returns the configured suite names in sorted order.
func (c *Config) SuiteNames() []string {
	names := make([]string, 0, len(c.Suites))
	for name := range c.Suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and reports every violation at once,
// named by its YAML key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s, got %v", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return errors.New("invalid configuration: " + strings.Join(msgs, "; "))
}
