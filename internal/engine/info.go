package engine

import (
	"strconv"
	"strings"
)

// Info is the declared, static description of an engine.
type Info struct {
	// Name is the registry name, e.g. "xmlquery".
	Name string `json:"name"`

	// Description is a one-line summary for listings.
	Description string `json:"description,omitempty"`

	// Versions lists supported language versions as catalog tags:
	// XP10, XP20, XP31, XQ10, XQ31, XSLT30, XSD10, XSD11.
	Versions []string `json:"versions"`

	// Features lists optional features, matched case-insensitively.
	Features []string `json:"features,omitempty"`

	// SchemaTypes lists supported XSD types (e.g. "xs:dateTimeStamp").
	SchemaTypes []string `json:"schema_types,omitempty"`

	// ThreadSafe reports whether one instance may be used from several
	// goroutines at once.
	ThreadSafe bool `json:"thread_safe"`
}

// SupportsFeature reports whether name is a declared feature.
func (i Info) SupportsFeature(name string) bool {
	for _, f := range i.Features {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// SupportsSchemaType reports whether typeName is a declared schema type.
// The "xs:" prefix is optional on either side.
func (i Info) SupportsSchemaType(typeName string) bool {
	want := strings.TrimPrefix(typeName, "xs:")
	for _, t := range i.SchemaTypes {
		if strings.TrimPrefix(t, "xs:") == want {
			return true
		}
	}
	return false
}

// SupportsLanguage reports whether any whitespace-separated token in spec is
// satisfied by a declared version. Tokens are "XP31" (exact) or "XP20+"
// (that version or later within the same family).
func (i Info) SupportsLanguage(spec string) bool {
	for _, tok := range strings.Fields(spec) {
		want, ok := ParseVersion(tok)
		if !ok {
			continue
		}
		for _, v := range i.Versions {
			have, ok := ParseVersion(v)
			if !ok || have.Family != want.Family {
				continue
			}
			if have.Number == want.Number || (want.OrLater && have.Number > want.Number) {
				return true
			}
		}
	}
	return false
}

// Version is a parsed language version tag.
type Version struct {
	Family  string // XP, XQ, XSLT, XSD
	Number  int    // 10, 20, 30, 31
	OrLater bool   // trailing "+"
}

// ParseVersion parses tags like "XP31", "XQ10+" or "XSLT30".
func ParseVersion(tag string) (Version, bool) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	var v Version
	if strings.HasSuffix(tag, "+") {
		v.OrLater = true
		tag = strings.TrimSuffix(tag, "+")
	}

	i := strings.IndexFunc(tag, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return Version{}, false
	}
	n, err := strconv.Atoi(tag[i:])
	if err != nil {
		return Version{}, false
	}
	v.Family = tag[:i]
	v.Number = n
	return v, true
}
