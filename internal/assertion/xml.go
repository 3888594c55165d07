package assertion

import (
	"regexp"
	"slices"
	"strings"

	"github.com/antchfx/xmlquery"
)

var xmlDecl = regexp.MustCompile(`^\s*<\?xml[^?]*\?>`)

// XMLEqual compares two serializations as XML fragments. Both sides are
// parsed and re-serialized with attributes in name order, so quoting style,
// attribute order and empty-element syntax do not matter. If either side is
// not well-formed the trimmed strings are compared instead.
func XMLEqual(a, b string) bool {
	ca, okA := canonicalXML(a)
	cb, okB := canonicalXML(b)
	if okA && okB {
		return ca == cb
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

func canonicalXML(s string) (string, bool) {
	s = xmlDecl.ReplaceAllString(s, "")
	doc, err := xmlquery.Parse(strings.NewReader("<fragment>" + s + "</fragment>"))
	if err != nil {
		return "", false
	}
	var wrapper *xmlquery.Node
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			wrapper = c
			break
		}
	}
	if wrapper == nil {
		return "", false
	}
	sortAttributes(wrapper)

	var b strings.Builder
	for c := wrapper.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(c.OutputXML(true))
	}
	return strings.TrimSpace(b.String()), true
}

func sortAttributes(n *xmlquery.Node) {
	slices.SortFunc(n.Attr, func(x, y xmlquery.Attr) int {
		if c := strings.Compare(x.Name.Space, y.Name.Space); c != 0 {
			return c
		}
		return strings.Compare(x.Name.Local, y.Name.Local)
	})
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			sortAttributes(c)
		}
	}
}
