package matrix

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xconform/internal/ir"
)

// fixture records the same six results used by the golden reports, in a
// scrambled order.
func fixture(t *testing.T, m *Matrix) {
	t.Helper()
	rec := func(engine, set, name string, st ir.Status, ms int, msg string) {
		r := ir.TestResult{Set: set, Case: name, Status: st, Elapsed: time.Duration(ms) * time.Millisecond, Message: msg}
		require.NoError(t, m.Record(engine, "qt3", r))
	}
	rec("beta", "op-div", "div-1", ir.StatusError, 30000, "infrastructure: timeout after 30s")
	rec("alpha", "fn-abs", "abs-1", ir.StatusPassed, 2, "")
	rec("alpha", "op-div", "div-1", ir.StatusFailed, 1, `expected error FOAR0001, got result "INF"`)
	rec("alpha", "fn-abs", "abs-2", ir.StatusPassed, 3, "")
	rec("beta", "fn-abs", "abs-1", ir.StatusPassed, 1, "")
	rec("beta", "fn-abs", "abs-2", ir.StatusSkipped, 0, "unmet dependency: feature=schemaImport")
}

func fixtureReport(t *testing.T, complete bool) Report {
	t.Helper()
	m := New()
	fixture(t, m)
	if complete {
		m.Complete()
	}
	return m.Snapshot()
}

func TestRecord_RejectsDuplicate(t *testing.T) {
	m := New()
	r := ir.TestResult{Set: "s", Case: "c", Status: ir.StatusPassed}
	require.NoError(t, m.Record("e", "qt3", r))

	err := m.Record("e", "qt3", r)
	require.ErrorIs(t, err, ErrDuplicateResult)
	assert.Contains(t, err.Error(), "s/c on e/qt3")

	require.NoError(t, m.Record("other", "qt3", r), "same case on another engine is distinct")
	require.NoError(t, m.Record("e", "xslt30", r), "same case in another suite is distinct")
	assert.Equal(t, 3, m.Snapshot().Totals().Total)
}

func TestRecord_RejectsUnknownStatus(t *testing.T) {
	err := New().Record("e", "qt3", ir.TestResult{Set: "s", Case: "c", Status: "flaky"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid status "flaky"`)
}

func TestPassRate(t *testing.T) {
	tests := []struct {
		name   string
		counts Counts
		want   float64
	}{
		{"two of three", Counts{Total: 3, Passed: 2, Failed: 1}, 66.7},
		{"skips excluded", Counts{Total: 3, Passed: 1, Skipped: 1, Errors: 1}, 50},
		{"all passed", Counts{Total: 4, Passed: 4}, 100},
		{"all skipped", Counts{Total: 2, Skipped: 2}, 0},
		{"empty", Counts{}, 0},
		{"one third", Counts{Total: 3, Passed: 1, Failed: 2}, 33.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.counts.PassRate(), 1e-9)
		})
	}
	assert.Equal(t, "66.7%", FormatRate(66.7))
	assert.Equal(t, "0.0%", FormatRate(0))
	assert.Equal(t, "100.0%", FormatRate(100))
}

func TestSnapshot_CountsAndOrder(t *testing.T) {
	rep := fixtureReport(t, true)

	assert.False(t, rep.Partial)
	require.Len(t, rep.Rows, 2)
	assert.Equal(t, []string{"alpha", "beta"}, rep.Engines())
	assert.Equal(t, []string{"qt3"}, rep.Suites())

	alpha, ok := rep.Row("alpha", "qt3")
	require.True(t, ok)
	assert.Equal(t, Counts{Total: 3, Passed: 2, Failed: 1}, alpha.Counts)
	assert.Equal(t, "fn-abs/abs-1", alpha.Results[0].ID())
	assert.Equal(t, "op-div/div-1", alpha.Results[2].ID())

	beta, _ := rep.Row("beta", "qt3")
	assert.Equal(t, Counts{Total: 3, Passed: 1, Skipped: 1, Errors: 1}, beta.Counts)
	assert.Len(t, beta.Failures(), 1)

	assert.Equal(t, Counts{Total: 6, Passed: 3, Failed: 1, Skipped: 1, Errors: 1}, rep.Totals())
}

func TestSnapshot_PartialUntilComplete(t *testing.T) {
	m := New()
	fixture(t, m)
	assert.True(t, m.Snapshot().Partial)
	m.Complete()
	assert.False(t, m.Snapshot().Partial)
}

func TestSnapshot_IsACopy(t *testing.T) {
	m := New()
	fixture(t, m)
	rep := m.Snapshot()
	rep.Rows[0].Results[0].Status = ir.StatusFailed

	again := m.Snapshot()
	assert.Equal(t, ir.StatusPassed, again.Rows[0].Results[0].Status)
}

func TestSnapshot_IndependentOfArrivalOrder(t *testing.T) {
	results := make([]ir.TestResult, 50)
	for i := range results {
		results[i] = ir.TestResult{Set: "s", Case: fmt.Sprintf("c%02d", i), Status: ir.StatusPassed}
	}

	forward := New()
	for _, r := range results {
		require.NoError(t, forward.Record("e", "qt3", r))
	}

	concurrent := New()
	var wg sync.WaitGroup
	for i := len(results) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(r ir.TestResult) {
			defer wg.Done()
			assert.NoError(t, concurrent.Record("e", "qt3", r))
		}(results[i])
	}
	wg.Wait()

	assert.Equal(t, forward.Snapshot(), concurrent.Snapshot())

	d1, err := forward.Snapshot().Rows[0].Digest()
	require.NoError(t, err)
	d2, err := concurrent.Snapshot().Rows[0].Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}
