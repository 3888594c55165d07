// Package assertion decides whether an execution outcome satisfies a test
// case's assertion tree.
//
// Evaluation is three-valued. Pass and Fail are verdicts on the engine;
// Undecided means the harness could not judge, typically because an
// expression the check depends on could not be evaluated, and maps to a
// skipped result rather than a failure.
//
// Evaluation is a pure function of the assertions and the outcome.
package assertion
