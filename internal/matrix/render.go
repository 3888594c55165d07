package matrix

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/roach88/xconform/internal/ir"
)

// DefaultFailureLimit caps the failures table of the Markdown report.
const DefaultFailureLimit = 100

// Format names a report rendering.
type Format string

// Report formats.
const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatCSV      Format = "csv"
)

// Formats lists every supported format.
var Formats = []Format{FormatMarkdown, FormatJSON, FormatHTML, FormatCSV}

// ParseFormat resolves a format name; "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatMarkdown, FormatJSON, FormatHTML, FormatCSV:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown report format %q (want markdown, json, html or csv)", s)
}

// RenderOptions tunes the human-readable renderings.
type RenderOptions struct {
	// FailureLimit caps the failures table. Zero selects
	// DefaultFailureLimit; a negative value removes the cap.
	FailureLimit int

	// Title heads the Markdown and HTML reports.
	Title string
}

func (o RenderOptions) limit() int {
	if o.FailureLimit == 0 {
		return DefaultFailureLimit
	}
	return o.FailureLimit
}

func (o RenderOptions) title() string {
	if o.Title == "" {
		return "Conformance report"
	}
	return o.Title
}

// Render writes rep in format f.
func Render(w io.Writer, rep Report, f Format, opts RenderOptions) error {
	switch f {
	case FormatMarkdown:
		return RenderMarkdown(w, rep, opts)
	case FormatJSON:
		return RenderJSON(w, rep)
	case FormatHTML:
		return RenderHTML(w, rep, opts)
	case FormatCSV:
		return RenderCSV(w, rep)
	}
	return fmt.Errorf("unknown report format %q", f)
}

// RenderMarkdown writes the summary table followed by a failures table.
func RenderMarkdown(w io.Writer, rep Report, opts RenderOptions) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", opts.title())
	if rep.Partial {
		b.WriteString("> Partial results: the run did not complete.\n\n")
	}

	b.WriteString("| Engine | Suite | Total | Passed | Failed | Skipped | Error | Pass rate |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, r := range rep.Rows {
		c := r.Counts
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d | %d | %s |\n",
			cell(r.Engine), cell(r.Suite), c.Total, c.Passed, c.Failed, c.Skipped, c.Errors, FormatRate(c.PassRate()))
	}

	b.WriteString("\n## Failures\n\n")
	total := 0
	for _, r := range rep.Rows {
		total += len(r.Failures())
	}
	if total == 0 {
		b.WriteString("No failures.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	limit := opts.limit()
	shown := 0
	b.WriteString("| Engine | Suite | Test case | Status | Message |\n")
	b.WriteString("|---|---|---|---|---|\n")
rows:
	for _, r := range rep.Rows {
		for _, f := range r.Failures() {
			if limit >= 0 && shown >= limit {
				break rows
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				cell(r.Engine), cell(r.Suite), cell(f.ID()), f.Status, cell(f.Message))
			shown++
		}
	}
	if rest := total - shown; rest > 0 {
		fmt.Fprintf(&b, "\n_%d more failures not shown._\n", rest)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// cell makes s safe inside a Markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.TrimSpace(s)
}

type jsonReport struct {
	Partial bool      `json:"partial"`
	Totals  jsonCount `json:"totals"`
	Rows    []jsonRow `json:"rows"`
}

type jsonCount struct {
	Counts
	PassRate float64 `json:"pass_rate"`
}

type jsonRow struct {
	Engine  string          `json:"engine"`
	Suite   string          `json:"suite"`
	Counts  jsonCount       `json:"counts"`
	Digest  string          `json:"digest"`
	Results []ir.TestResult `json:"results"`
}

// RenderJSON writes the machine-readable report, including every result.
func RenderJSON(w io.Writer, rep Report) error {
	totals := rep.Totals()
	out := jsonReport{
		Partial: rep.Partial,
		Totals:  jsonCount{Counts: totals, PassRate: totals.PassRate()},
		Rows:    make([]jsonRow, 0, len(rep.Rows)),
	}
	for _, r := range rep.Rows {
		digest, err := r.Digest()
		if err != nil {
			return err
		}
		out.Rows = append(out.Rows, jsonRow{
			Engine:  r.Engine,
			Suite:   r.Suite,
			Counts:  jsonCount{Counts: r.Counts, PassRate: r.Counts.PassRate()},
			Digest:  digest,
			Results: r.Results,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// RenderHTML converts the Markdown report into a standalone HTML page.
func RenderHTML(w io.Writer, rep Report, opts RenderOptions) error {
	var md bytes.Buffer
	if err := RenderMarkdown(&md, rep, opts); err != nil {
		return err
	}
	var body bytes.Buffer
	gm := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := gm.Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("converting report to HTML: %w", err)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(opts.title()))
	b.WriteString("<style>table{border-collapse:collapse}th,td{border:1px solid #ccc;padding:2px 6px}</style>\n")
	b.WriteString("</head>\n<body>\n")
	b.Write(body.Bytes())
	b.WriteString("</body>\n</html>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderCSV writes one line per result.
func RenderCSV(w io.Writer, rep Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"engine", "suite", "test_set", "test_case", "status", "elapsed_ms", "message"}); err != nil {
		return err
	}
	for _, r := range rep.Rows {
		for _, res := range r.Results {
			rec := []string{
				r.Engine,
				r.Suite,
				res.Set,
				res.Case,
				string(res.Status),
				strconv.FormatInt(res.Elapsed.Milliseconds(), 10),
				res.Message,
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
