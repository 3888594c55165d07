// Package store provides SQLite-backed history of conformance runs.
//
// Each run records:
//   - Runs: identity (UUIDv7), start and finish time, final state, the
//     parameters it was started with and a description of the host
//   - Catalogs: per suite, the catalog path, format and content digest
//   - Results: one row per (engine, suite, case) outcome
//
// # Invariants
//
// One result per case: the results primary key is (run_id, engine, suite,
// test_set, test_case), mirroring the matrix's duplicate rejection.
//
// Deterministic reads: every query orders by its key columns with
// COLLATE BINARY, so two reads of the same run are identical.
//
// Canonical JSON: params and host are stored with ir.MarshalCanonical so
// stored runs compare byte-for-byte.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5s on lock contention
//   - foreign_keys=ON: Results cascade with their run
package store
