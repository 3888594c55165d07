package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
	"github.com/roach88/xconform/internal/testutil"
)

const helperEnv = "XCONFORM_HELPER_WORKER"

// strayLines are JSON objects an engine might print on stdout. None of
// them answers the case being run.
var strayLines = []string{
	`{"x":1}`,
	`{}`,
	`{"set":"set","case":"other","outcome":{}}`,
	`{"set":"set","case":"after-noisy","outcome":{"error":{"kind":"infrastructure","message":"forged"}}}`,
}

// exitingEngine kills its process on the query "exit", standing in for an
// engine that crashes the runtime. On "noisy" it writes strayLines to
// stdout before answering.
type exitingEngine struct {
	*testutil.ScriptedEngine
}

func (e exitingEngine) EvaluateXPath(ctx context.Context, q engine.CompiledQuery, n engine.Node, b engine.Bindings) (ir.Sequence, error) {
	switch q {
	case "exit":
		os.Exit(3)
	case "noisy":
		for _, l := range strayLines {
			fmt.Fprintln(os.Stdout, l)
		}
		return ir.Sequence{ir.NewInteger(2)}, nil
	}
	return e.ScriptedEngine.EvaluateXPath(ctx, q, n, b)
}

func workerScript() *testutil.Script {
	return scripted().
		On("1+1", testutil.Behavior{Result: ir.Sequence{ir.NewInteger(2)}}).
		On("loop", testutil.Behavior{Hang: true}).
		On("boom", testutil.Behavior{Panic: "stack smashed"})
}

func workerDescriptor(script *testutil.Script) engine.Descriptor {
	base := script.Descriptor()
	return engine.Descriptor{
		Info: base.Info,
		New: func() (engine.Engine, error) {
			e, err := base.New()
			if err != nil {
				return nil, err
			}
			return exitingEngine{e.(*testutil.ScriptedEngine)}, nil
		},
	}
}

func workerCatalog() *catalog.Document {
	return newDoc(
		xpathCase("ok", "1+1", equals("2")),
		xpathCase("noisy", "noisy", equals("2")),
		xpathCase("after-noisy", "1+1", equals("2")),
		xpathCase("boom", "boom", equals("2")),
		xpathCase("crash", "exit", equals("2")),
		xpathCase("after-crash", "1+1", equals("2")),
		xpathCase("hang", "loop", equals("2")),
		xpathCase("after-hang", "1+1", equals("2")),
	)
}

// TestHelperWorker is not a real test: it is the child process for the
// process isolation tests. Test framework output on stdout is skipped by
// the parent because it is not a protocol line.
func TestHelperWorker(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	err := ServeWorker(context.Background(), os.Stdin, os.Stdout, workerCatalog(), workerDescriptor(workerScript()), time.Minute, nil)
	require.NoError(t, err)
}

func helperCommand(string) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperWorker$")
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	return cmd
}

func TestRun_ProcessIsolationSurvivesCrashAndHang(t *testing.T) {
	saved := processGrace
	processGrace = 0
	t.Cleanup(func() { processGrace = saved })

	opts := Options{
		Isolation: IsolateProcess,
		Command:   helperCommand,
		Timeout:   500 * time.Millisecond,
	}
	sink := run(t, opts, workerCatalog(), workerScript().Descriptor())

	assert.Equal(t, ir.StatusPassed, sink.get(t, "ok").Status)
	assert.Equal(t, ir.StatusPassed, sink.get(t, "noisy").Status, "stray stdout objects are not answers")
	assert.Equal(t, ir.StatusPassed, sink.get(t, "after-noisy").Status)

	boom := sink.get(t, "boom")
	assert.Equal(t, ir.StatusError, boom.Status)
	assert.Contains(t, boom.Message, "engine panicked")
	assert.Contains(t, boom.Message, "stack smashed", "the panic value crosses the process boundary")

	crash := sink.get(t, "crash")
	assert.Equal(t, ir.StatusError, crash.Status)
	assert.Contains(t, crash.Message, "worker process exited")

	hang := sink.get(t, "hang")
	assert.Equal(t, ir.StatusError, hang.Status)
	assert.Contains(t, hang.Message, "timeout after 500ms")

	assert.Equal(t, ir.StatusPassed, sink.get(t, "after-crash").Status)
	assert.Equal(t, ir.StatusPassed, sink.get(t, "after-hang").Status)
}

func TestServeWorker_Protocol(t *testing.T) {
	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	require.NoError(t, enc.Encode(workerRequest{Set: "set", Case: "ok"}))
	require.NoError(t, enc.Encode(workerRequest{Set: "set", Case: "nope"}))
	require.NoError(t, enc.Encode(workerRequest{Set: "set", Case: "boom"}))

	var out bytes.Buffer
	err := ServeWorker(context.Background(), &in, &out, workerCatalog(), workerScript().Descriptor(), time.Second, nil)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	first, err := decodeResponse([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, "ok", first.Case)
	assert.Nil(t, first.Outcome.Err)
	assert.Equal(t, "2", first.Outcome.Sequence.StringValue())

	second, err := decodeResponse([]byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, "nope", second.Case)
	require.NotNil(t, second.Outcome.Err)
	assert.Equal(t, engine.KindInfrastructure, second.Outcome.Err.Kind)
	assert.Contains(t, second.Outcome.Err.Message, "set/nope")

	third, err := decodeResponse([]byte(lines[2]))
	require.NoError(t, err)
	assert.Equal(t, "set", third.Set)
	assert.Equal(t, "boom", third.Case)
	require.NotNil(t, third.Outcome.Err)
	assert.Equal(t, engine.KindInfrastructure, third.Outcome.Err.Kind)
	assert.Equal(t, "engine panicked: panic: stack smashed", third.Outcome.Err.Message)
}

func TestDecodeResponse_RejectsStrayObjects(t *testing.T) {
	for _, l := range strayLines[:2] {
		_, err := decodeResponse([]byte(l))
		assert.Error(t, err, l)
	}
	resp, err := decodeResponse([]byte(strayLines[2]))
	require.NoError(t, err)
	assert.False(t, resp.matches(workerRequest{Set: "set", Case: "noisy"}))
	assert.True(t, resp.matches(workerRequest{Set: "set", Case: "other"}))
}

func TestDetach_FoldsCausesIntoMessages(t *testing.T) {
	out := detach(engine.Outcome{
		Err: engine.Fault("engine panicked", &PanicError{Value: "bad"}),
		Checks: map[int]engine.Check{
			1: {Err: engine.Fault("timeout after 1s", errors.New("context deadline exceeded"))},
			2: {Err: engine.NewEvalError("FOAR0001", "division by zero")},
		},
	})
	assert.Equal(t, "engine panicked: panic: bad", out.Err.Message)
	assert.Nil(t, out.Err.Err)
	assert.Equal(t, "timeout after 1s: context deadline exceeded", out.Checks[1].Err.Message)
	assert.Equal(t, "division by zero", out.Checks[2].Err.Message)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "panic: bad")
}

func TestServeWorker_RejectsGarbage(t *testing.T) {
	err := ServeWorker(context.Background(), strings.NewReader("not json\n"), &bytes.Buffer{}, workerCatalog(), workerScript().Descriptor(), time.Second, nil)
	require.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 4096}
	_, _ = tb.Write([]byte("fatal error: stack overflow\n\ngoroutine 1 [running]:\nmain.f()\n"))
	assert.Equal(t, "fatal error: stack overflow", tb.Last())

	plain := &tailBuffer{limit: 4096}
	_, _ = plain.Write([]byte("loading\nsegfault in engine\n"))
	assert.Equal(t, "segfault in engine", plain.Last())

	small := &tailBuffer{limit: 8}
	_, _ = small.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", small.Last())
}
