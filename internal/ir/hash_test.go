package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultDigestIgnoresOrderAndTiming(t *testing.T) {
	a := []TestResult{
		{Set: "fn-abs", Case: "fn-abs-1", Status: StatusPassed, Elapsed: time.Millisecond},
		{Set: "fn-abs", Case: "fn-abs-2", Status: StatusFailed, Message: "expected 3"},
	}
	b := []TestResult{
		{Set: "fn-abs", Case: "fn-abs-2", Status: StatusFailed, Message: "different text"},
		{Set: "fn-abs", Case: "fn-abs-1", Status: StatusPassed, Elapsed: time.Hour},
	}

	da, err := ResultDigest(a)
	require.NoError(t, err)
	db, err := ResultDigest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Len(t, da, 64, "SHA-256 hex is 64 characters")
}

func TestResultDigestChangesWithStatus(t *testing.T) {
	a := []TestResult{{Set: "s", Case: "c", Status: StatusPassed}}
	b := []TestResult{{Set: "s", Case: "c", Status: StatusError}}

	da, err := ResultDigest(a)
	require.NoError(t, err)
	db, err := ResultDigest(b)
	require.NoError(t, err)

	assert.NotEqual(t, da, db)
}

func TestCatalogDigestDomainSeparated(t *testing.T) {
	ids := []string{"s/c"}
	cd, err := CatalogDigest(ids)
	require.NoError(t, err)

	rd, err := ResultDigest(nil)
	require.NoError(t, err)

	assert.NotEqual(t, cd, rd)
	assert.Equal(t, hashWithDomain(DomainCatalog, []byte(`["s/c"]`)), cd)
}
