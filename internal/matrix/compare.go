package matrix

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/xconform/internal/ir"
)

// Comparison lists the cases of one suite whose status differs between
// engines.
type Comparison struct {
	Suite   string          `json:"suite"`
	Engines []string        `json:"engines"`
	Cases   int             `json:"cases"`
	Diffs   []ComparisonRow `json:"differences"`
}

// ComparisonRow is one case and its status per engine. An engine that has
// no result for the case shows an empty status.
type ComparisonRow struct {
	ID       string      `json:"test_case"`
	Statuses []ir.Status `json:"statuses"`
}

// Compare builds the comparison of suite across engines. With no engines
// given, every engine in rep is compared.
func Compare(rep Report, suite string, engines ...string) (Comparison, error) {
	if len(engines) == 0 {
		engines = rep.Engines()
	}
	if len(engines) < 2 {
		return Comparison{}, fmt.Errorf("comparison needs at least two engines, have %d", len(engines))
	}

	byEngine := make([]map[string]ir.Status, len(engines))
	var ids []string
	for i, name := range engines {
		row, ok := rep.Row(name, suite)
		if !ok {
			return Comparison{}, fmt.Errorf("no results for engine %s on suite %s", name, suite)
		}
		byEngine[i] = make(map[string]ir.Status, len(row.Results))
		for _, r := range row.Results {
			byEngine[i][r.ID()] = r.Status
			if !slices.Contains(ids, r.ID()) {
				ids = append(ids, r.ID())
			}
		}
	}
	slices.Sort(ids)

	cmp := Comparison{Suite: suite, Engines: engines, Cases: len(ids)}
	for _, id := range ids {
		row := ComparisonRow{ID: id, Statuses: make([]ir.Status, len(engines))}
		same := true
		for i := range engines {
			row.Statuses[i] = byEngine[i][id]
			if row.Statuses[i] != row.Statuses[0] {
				same = false
			}
		}
		if !same {
			cmp.Diffs = append(cmp.Diffs, row)
		}
	}
	return cmp, nil
}

// RenderComparisonMarkdown writes the comparison as a Markdown table.
func RenderComparisonMarkdown(w io.Writer, c Comparison) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Comparison: %s\n\n", c.Suite)
	fmt.Fprintf(&b, "%d of %d cases differ across %s.\n", len(c.Diffs), c.Cases, strings.Join(c.Engines, ", "))
	if len(c.Diffs) == 0 {
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("\n| Test case |")
	for _, e := range c.Engines {
		fmt.Fprintf(&b, " %s |", cell(e))
	}
	b.WriteString("\n|---|")
	b.WriteString(strings.Repeat("---|", len(c.Engines)))
	b.WriteString("\n")
	for _, d := range c.Diffs {
		fmt.Fprintf(&b, "| %s |", cell(d.ID))
		for _, s := range d.Statuses {
			if s == "" {
				s = "-"
			}
			fmt.Fprintf(&b, " %s |", s)
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
