// Package harness runs catalog test cases against engines.
//
// A Runner takes a loaded catalog.Document and an engine.Descriptor and
// produces exactly one ir.TestResult per case, handing each to a Sink as
// soon as it is known. Cases are decided in this order:
//
//  1. A case carrying a catalog error is recorded as error.
//  2. A case whose dependencies the engine does not declare is skipped
//     without touching the engine.
//  3. Otherwise the case executes inside a boundary: sources are parsed,
//     parameters bound, the query or stylesheet compiled and run, and any
//     assertion expressions evaluated against the result.
//  4. The outcome is judged by the assertion package.
//
// # Boundaries
//
// Engine calls never run on the dispatching goroutine. In goroutine mode
// each call runs on its own goroutine under a recover and a per-case
// deadline; a call that outlives the deadline is abandoned and the engine
// instance is rebuilt before the next case. Engines that do not declare
// themselves thread-safe get one instance per worker.
//
// In process mode each worker drives a child process speaking
// newline-delimited JSON over stdin and stdout (see ServeWorker). A crash,
// stack overflow or hang kills only the child, which is restarted for the
// next case.
//
// # Cancellation
//
// Cancelling the context passed to Run stops dispatch. Cases already
// running finish or time out and are still recorded; Run then returns
// context.Canceled.
package harness
