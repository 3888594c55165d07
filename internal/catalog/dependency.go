package catalog

import (
	"strings"

	"github.com/roach88/xconform/internal/engine"
)

// Dependency kinds with dedicated checks. Every other kind is checked as the
// engine feature "kind:value", e.g. "xml-version:1.1".
const (
	DepLanguage   = "language"
	DepFeature    = "feature"
	DepSchemaType = "xsd-type"
)

// Dependency is a precondition a case places on the engine.
type Dependency struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`

	// Satisfied false inverts the check: the case applies only to engines
	// that lack the requirement.
	Satisfied bool `json:"satisfied"`

	// key identifies the dependency for scope merging.
	key string
}

// Met reports whether an engine with the given info meets the dependency.
// It never touches the engine itself.
func (d Dependency) Met(info engine.Info) bool {
	var have bool
	switch d.Kind {
	case DepLanguage:
		have = info.SupportsLanguage(d.Value)
	case DepFeature:
		have = anyToken(d.Value, info.SupportsFeature)
	case DepSchemaType:
		have = anyToken(d.Value, info.SupportsSchemaType)
	default:
		have = anyToken(d.Value, func(v string) bool {
			return info.SupportsFeature(d.Kind + ":" + v)
		})
	}
	return have == d.Satisfied
}

// String renders the dependency for skip messages.
func (d Dependency) String() string {
	s := d.Kind + "=" + d.Value
	if !d.Satisfied {
		s = "!" + s
	}
	return s
}

// Unmet returns the first dependency the engine does not meet.
func Unmet(deps []Dependency, info engine.Info) (Dependency, bool) {
	for _, d := range deps {
		if !d.Met(info) {
			return d, true
		}
	}
	return Dependency{}, false
}

// mergeDependencies overlays narrower scopes onto wider ones. A dependency
// replaces the earlier one with the same key, keeping the earlier position.
func mergeDependencies(scopes ...[]Dependency) []Dependency {
	var out []Dependency
	index := make(map[string]int)
	for _, scope := range scopes {
		for _, d := range scope {
			if i, ok := index[d.key]; ok {
				out[i] = d
				continue
			}
			index[d.key] = len(out)
			out = append(out, d)
		}
	}
	return out
}

func anyToken(value string, ok func(string) bool) bool {
	for _, tok := range strings.Fields(value) {
		if ok(tok) {
			return true
		}
	}
	return false
}
