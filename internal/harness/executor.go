package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/engine"
)

// PanicError carries a value recovered from an engine call.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface. The stack is kept out of the
// message so reports stay readable.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// instance owns the live engine for one or more executors. An instance
// that misbehaved is discarded and lazily rebuilt from the factory.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type instance struct {
	desc   engine.Descriptor
	logger *slog.Logger

	mu     sync.Mutex
	eng    engine.Engine
	gen    int
	closed bool
}

func newInstance(desc engine.Descriptor, logger *slog.Logger) *instance {
	return &instance{desc: desc, logger: logger}
}

// get returns the current engine and its generation, building one if
// needed.
func (i *instance) get() (engine.Engine, int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, 0, fmt.Errorf("engine instance closed")
	}
	if i.eng == nil {
		eng, err := i.desc.New()
		if err != nil {
			return nil, 0, fmt.Errorf("building engine %s: %w", i.desc.Info.Name, err)
		}
		i.eng = eng
		i.gen++
		i.logger.Debug("engine built", "generation", i.gen)
	}
	return i.eng, i.gen, nil
}

// discard drops generation gen so the next get rebuilds. When release is
// true the old engine is closed; an engine still running an abandoned call
// is left to the garbage collector instead.
func (i *instance) discard(gen int, release bool, reason string) {
	i.mu.Lock()
	if i.eng == nil || i.gen != gen {
		i.mu.Unlock()
		return
	}
	old := i.eng
	i.eng = nil
	i.mu.Unlock()

	i.logger.Warn("engine discarded", "generation", gen, "reason", reason)
	if release {
		closeEngine(old, i.logger)
	}
}

// Close releases the live engine. It is safe to call more than once.
func (i *instance) Close() {
	i.mu.Lock()
	old := i.eng
	i.eng = nil
	i.closed = true
	i.mu.Unlock()
	if old != nil {
		closeEngine(old, i.logger)
	}
}

func closeEngine(e engine.Engine, logger *slog.Logger) {
	if c, ok := e.(engine.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("engine close failed", "error", err)
		}
	}
}

// goroutineExecutor runs each case on a fresh goroutine with a deadline.
type goroutineExecutor struct {
	inst    *instance
	timeout time.Duration
	logger  *slog.Logger
}

// Execute implements executor.
func (x *goroutineExecutor) Execute(ctx context.Context, c *catalog.TestCase) engine.Outcome {
	eng, gen, err := x.inst.get()
	if err != nil {
		return engine.Outcome{Err: engine.Fault("engine construction failed", err)}
	}

	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	// Buffered so an abandoned call can still deliver and exit.
	done := make(chan engine.Outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				perr := &PanicError{Value: p, Stack: debug.Stack()}
				done <- engine.Outcome{Err: engine.Fault("engine panicked", perr)}
			}
		}()
		done <- execute(cctx, eng, c)
	}()

	select {
	case out := <-done:
		if cctx.Err() != nil {
			// The engine noticed the deadline itself.
			x.inst.discard(gen, false, "timeout")
			return timedOut(x.timeout, cctx.Err())
		}
		if out.Err != nil && out.Err.Kind == engine.KindInfrastructure {
			var perr *PanicError
			if errors.As(out.Err, &perr) {
				x.logger.Warn("engine panicked", "case", c.ID(), "panic", perr.Value, "stack", string(perr.Stack))
			}
			x.inst.discard(gen, x.release(), out.Err.Message)
		} else if err := reset(eng, x.inst.desc.Info); err != nil {
			x.inst.discard(gen, x.release(), "reset failed")
		}
		return out
	case <-cctx.Done():
		x.inst.discard(gen, false, "timeout")
		return timedOut(x.timeout, cctx.Err())
	}
}

// release reports whether a discarded engine may be closed at once. A
// thread-safe engine is shared, so other workers may still be inside it.
func (x *goroutineExecutor) release() bool {
	return !x.inst.desc.Info.ThreadSafe
}

// Close implements executor.
func (x *goroutineExecutor) Close() {
	x.inst.Close()
}

func timedOut(d time.Duration, cause error) engine.Outcome {
	return engine.Outcome{Err: engine.Fault(fmt.Sprintf("timeout after %s", d), cause)}
}

// reset clears per-case state on engines that keep some. Shared
// thread-safe instances are never reset between cases.
func reset(e engine.Engine, info engine.Info) error {
	if info.ThreadSafe {
		return nil
	}
	if r, ok := e.(engine.Resetter); ok {
		return r.Reset()
	}
	return nil
}
