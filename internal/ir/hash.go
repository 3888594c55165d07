package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Domain prefixes for content-addressed digests.
// Version suffix enables future algorithm migration.
const (
	DomainResults = "xconform/results/v1"
	DomainCatalog = "xconform/catalog/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ResultDigest computes an order-independent digest of case statuses.
//
// Elapsed time and diagnostic messages are excluded: two runs of the same
// engine over the same catalog yield the same digest exactly when every
// case ended with the same status.
func ResultDigest(results []TestResult) (string, error) {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b TestResult) int {
		return strings.Compare(a.ID(), b.ID())
	})

	entries := make([]any, len(sorted))
	for i, r := range sorted {
		entries[i] = map[string]any{
			"test_set":  r.Set,
			"test_case": r.Case,
			"status":    string(r.Status),
		}
	}

	canonical, err := MarshalCanonical(entries)
	if err != nil {
		return "", fmt.Errorf("ResultDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainResults, canonical), nil
}

// CatalogDigest identifies a catalog by its sorted case identities, so stored
// runs can tell whether they were made against the same catalog content.
func CatalogDigest(caseIDs []string) (string, error) {
	sorted := slices.Clone(caseIDs)
	slices.Sort(sorted)

	canonical, err := MarshalCanonical(sorted)
	if err != nil {
		return "", fmt.Errorf("CatalogDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCatalog, canonical), nil
}
