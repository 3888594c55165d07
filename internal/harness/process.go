package harness

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/engine"
)

// processGrace is how long the parent waits past the case timeout before
// killing a worker, giving the worker's own deadline a chance to answer.
var processGrace = 2 * time.Second

// maxLine bounds one protocol line. Large serialized results fit easily.
const maxLine = 64 << 20

// workerRequest asks a worker to run one case.
type workerRequest struct {
	Set  string `json:"set"`
	Case string `json:"case"`
}

// workerResponse carries the outcome of one case. Set and Case echo the
// request so the parent can tell answers from stray output.
type workerResponse struct {
	Set     string         `json:"set"`
	Case    string         `json:"case"`
	Outcome engine.Outcome `json:"outcome"`
}

// matches reports whether r answers req.
func (r workerResponse) matches(req workerRequest) bool {
	return r.Set == req.Set && r.Case == req.Case
}

// decodeResponse parses one protocol line strictly: unknown fields mean
// the line came from something other than ServeWorker.
func decodeResponse(line []byte) (workerResponse, error) {
	var resp workerResponse
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&resp); err != nil {
		return workerResponse{}, err
	}
	if resp.Set == "" || resp.Case == "" {
		return workerResponse{}, fmt.Errorf("response names no case")
	}
	return resp, nil
}

// detach returns an outcome whose errors survive encoding. Error.Err is
// not serialized, so its text is folded into Message.
func detach(out engine.Outcome) engine.Outcome {
	out.Err = detachError(out.Err)
	if len(out.Checks) > 0 {
		checks := make(map[int]engine.Check, len(out.Checks))
		for id, chk := range out.Checks {
			chk.Err = detachError(chk.Err)
			checks[id] = chk
		}
		out.Checks = checks
	}
	return out
}

func detachError(e *engine.Error) *engine.Error {
	if e == nil || e.Err == nil {
		return e
	}
	d := *e
	if cause := e.Err.Error(); cause != e.Message {
		d.Message = e.Message + ": " + cause
	}
	d.Err = nil
	return &d
}

// ServeWorker answers case requests read from r, one JSON object per line,
// writing one response line per request to w. It returns nil when r is
// exhausted.
//
// The worker process runs cases with the same goroutine boundary as the
// in-process runner; the parent adds the process boundary around it.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, doc *catalog.Document, desc engine.Descriptor, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ex := &goroutineExecutor{inst: newInstance(desc, logger), timeout: timeout, logger: logger}
	defer ex.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	enc := json.NewEncoder(w)
	for sc.Scan() {
		var req workerRequest
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			return fmt.Errorf("decoding request: %w", err)
		}
		resp := workerResponse{Set: req.Set, Case: req.Case}
		if c, ok := doc.Lookup(req.Set, req.Case); ok {
			resp.Outcome = detach(ex.Execute(ctx, c))
		} else {
			resp.Outcome = engine.Outcome{Err: engine.Fault(fmt.Sprintf("worker has no case %s/%s", req.Set, req.Case), nil)}
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}

// processExecutor drives one worker child process, restarting it after a
// crash or hang.
type processExecutor struct {
	engineName string
	command    WorkerCommand
	timeout    time.Duration
	logger     *slog.Logger

	proc *workerProcess
}

func newProcessExecutor(engineName string, command WorkerCommand, timeout time.Duration, logger *slog.Logger) *processExecutor {
	return &processExecutor{engineName: engineName, command: command, timeout: timeout, logger: logger}
}

// workerProcess is one running child.
type workerProcess struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	enc       *json.Encoder
	responses chan workerResponse
	exited    chan struct{}
	waitErr   error
	stderr    *tailBuffer

	mu       sync.Mutex
	awaiting *workerRequest // request whose answer read should forward
}

// expect arms the reader for the answer to req.
func (w *workerProcess) expect(req workerRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.awaiting = &req
}

// claim reports whether resp answers the pending request, disarming the
// reader when it does so a repeated answer is not forwarded twice.
func (w *workerProcess) claim(resp workerResponse) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.awaiting == nil || !resp.matches(*w.awaiting) {
		return false
	}
	w.awaiting = nil
	return true
}

// Execute implements executor.
func (p *processExecutor) Execute(ctx context.Context, c *catalog.TestCase) engine.Outcome {
	if p.proc == nil {
		proc, err := p.start()
		if err != nil {
			return engine.Outcome{Err: engine.Fault("cannot start worker process", err)}
		}
		p.proc = proc
	}
	proc := p.proc

	req := workerRequest{Set: c.Set, Case: c.Name}
	proc.expect(req)
	if err := proc.enc.Encode(req); err != nil {
		p.kill("write failed")
		return engine.Outcome{Err: engine.Fault("worker process unavailable", err)}
	}

	timer := time.NewTimer(p.timeout + processGrace)
	defer timer.Stop()

	select {
	case resp := <-proc.responses:
		return resp.Outcome
	case <-proc.exited:
		// A response written just before exit still counts.
		select {
		case resp := <-proc.responses:
			p.proc = nil
			return resp.Outcome
		default:
		}
		p.proc = nil
		msg := fmt.Sprintf("worker process exited: %v", proc.waitErr)
		if tail := proc.stderr.Last(); tail != "" {
			msg += ": " + tail
		}
		p.logger.Warn("worker crashed", "case", c.ID(), "error", proc.waitErr)
		return engine.Outcome{Err: engine.Fault(msg, proc.waitErr)}
	case <-timer.C:
		p.kill("timeout")
		return timedOut(p.timeout, context.DeadlineExceeded)
	}
}

// Close asks the worker to exit by closing its input, killing it if it
// lingers.
func (p *processExecutor) Close() {
	proc := p.proc
	if proc == nil {
		return
	}
	p.proc = nil
	_ = proc.stdin.Close()
	select {
	case <-proc.exited:
	case <-time.After(processGrace):
		_ = proc.cmd.Process.Kill()
		<-proc.exited
	}
}

func (p *processExecutor) start() (*workerProcess, error) {
	cmd := p.command(p.engineName)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	tail := &tailBuffer{limit: 4096}
	if cmd.Stderr != nil {
		cmd.Stderr = io.MultiWriter(cmd.Stderr, tail)
	} else {
		cmd.Stderr = tail
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p.logger.Debug("worker started", "pid", cmd.Process.Pid)

	proc := &workerProcess{
		cmd:       cmd,
		stdin:     stdin,
		enc:       json.NewEncoder(stdin),
		responses: make(chan workerResponse, 1),
		exited:    make(chan struct{}),
		stderr:    tail,
	}
	go proc.read(stdout, p.logger)
	return proc, nil
}

// read forwards responses until stdout closes, then reaps the child.
// Lines that are not protocol objects are logged and skipped.
func (w *workerProcess) read(stdout io.Reader, logger *slog.Logger) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			logger.Debug("worker output ignored", "line", string(line))
			continue
		}
		resp, err := decodeResponse(line)
		if err != nil {
			logger.Warn("malformed worker response", "error", err, "line", abbreviateLine(line))
			continue
		}
		if !w.claim(resp) {
			logger.Warn("unsolicited worker response dropped", "set", resp.Set, "case", resp.Case)
			continue
		}
		select {
		case w.responses <- resp:
		default:
			logger.Warn("unsolicited worker response dropped", "set", resp.Set, "case", resp.Case)
		}
	}
	w.waitErr = w.cmd.Wait()
	close(w.exited)
}

// abbreviateLine keeps log attributes short when a child floods stdout.
func abbreviateLine(line []byte) string {
	const limit = 120
	if len(line) <= limit {
		return string(line)
	}
	return string(bytes.ToValidUTF8(line[:limit], nil)) + "..."
}

func (p *processExecutor) kill(reason string) {
	proc := p.proc
	p.proc = nil
	if proc == nil {
		return
	}
	p.logger.Warn("killing worker", "pid", proc.cmd.Process.Pid, "reason", reason)
	_ = proc.cmd.Process.Kill()
	<-proc.exited
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

// Last summarizes what the child wrote before dying: the first Go runtime
// failure line if there is one, else the final line.
func (t *tailBuffer) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := strings.Split(strings.TrimSpace(string(t.buf)), "\n")
	for _, l := range lines {
		if strings.HasPrefix(l, "fatal error:") || strings.HasPrefix(l, "panic:") || strings.HasPrefix(l, "runtime:") {
			return strings.TrimSpace(l)
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
