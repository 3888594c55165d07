// Package ir provides the engine-neutral result vocabulary for xconform.
//
// This package contains the value and outcome types every other internal
// package shares. All other internal packages import ir; ir imports nothing
// internal. This keeps the result model the foundational layer with no
// circular dependencies.
//
// Key design constraints:
//   - Item is sealed: only String, Boolean, Double, Decimal, NodeRef and QName
//     implement it, so no engine-specific value crosses the capability boundary
//   - Decimals are exact (apd), never routed through float64
//   - Doubles render in XPath canonical form, not Go's default formatting
//   - All JSON tags use snake_case
//   - Result digests exclude wall-clock timings so repeated runs compare equal
package ir
