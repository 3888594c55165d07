package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

// Behavior scripts how a ScriptedEngine reacts to one query, stylesheet or
// instance, identified by its text.
type Behavior struct {
	// Result is returned by query evaluation.
	Result ir.Sequence

	// Markup is the serialized output of a transform.
	Markup string

	// Invalid makes validation reject the instance.
	Invalid bool

	// CompileCode raises a compile error with this code.
	CompileCode string

	// Code raises a dynamic error with this code.
	Code string

	// Panic makes the call panic with this value.
	Panic any

	// Hang blocks the call until Release, ignoring the context.
	Hang bool

	// Delay sleeps before answering.
	Delay time.Duration
}

// Script drives every ScriptedEngine built from its Descriptor. Counters are
// shared across instances so tests can observe rebuilds.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Script struct {
	info engine.Info

	mu        sync.Mutex
	behaviors map[string]Behavior
	calls     map[string]int
	total     int
	builds    int
	release   chan struct{}
	released  bool
}

// NewScript creates a script for an engine with the given info. Engines built
// from it implement every capability set.
func NewScript(info engine.Info) *Script {
	return &Script{
		info:      info,
		behaviors: make(map[string]Behavior),
		calls:     make(map[string]int),
		release:   make(chan struct{}),
	}
}

// On registers the behavior for text. Unscripted texts evaluate to an empty
// sequence.
func (s *Script) On(text string, b Behavior) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[text] = b
	return s
}

// Descriptor returns a registry descriptor whose factory builds engines
// bound to this script.
func (s *Script) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Info: s.info,
		New: func() (engine.Engine, error) {
			s.mu.Lock()
			s.builds++
			s.mu.Unlock()
			return &ScriptedEngine{script: s}, nil
		},
	}
}

// Calls returns the number of capability calls made for text.
func (s *Script) Calls(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

// TotalCalls returns the number of capability calls across all texts.
func (s *Script) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Builds returns how many engine instances the factory has built.
func (s *Script) Builds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds
}

// Release unblocks every hanging call. Safe to call more than once.
func (s *Script) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		close(s.release)
		s.released = true
	}
}

func (s *Script) enter(text string) Behavior {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[text]++
	s.total++
	return s.behaviors[text]
}

// ScriptedEngine is a fake engine whose answers come from a Script.
type ScriptedEngine struct {
	script *Script
}

type scriptedDoc struct {
	text string
}

// Info returns the scripted info.
func (e *ScriptedEngine) Info() engine.Info {
	return e.script.info
}

// Parse wraps data as a document. It never fails.
func (e *ScriptedEngine) Parse(_ context.Context, data []byte, _ string) (engine.Document, error) {
	return scriptedDoc{text: string(data)}, nil
}

// DocumentElement returns the document itself.
func (e *ScriptedEngine) DocumentElement(doc engine.Document) (engine.Node, error) {
	return doc, nil
}

// Serialize returns the document text.
func (e *ScriptedEngine) Serialize(node engine.Node) (string, error) {
	if d, ok := node.(scriptedDoc); ok {
		return d.text, nil
	}
	return "", nil
}

// CompileXPath records the expression text.
func (e *ScriptedEngine) CompileXPath(_ context.Context, expr string, _ engine.StaticContext) (engine.CompiledQuery, error) {
	return e.compile(expr)
}

// EvaluateXPath answers from the script.
func (e *ScriptedEngine) EvaluateXPath(ctx context.Context, q engine.CompiledQuery, _ engine.Node, _ engine.Bindings) (ir.Sequence, error) {
	return e.evaluate(ctx, q.(string))
}

// CompileXQuery records the module text.
func (e *ScriptedEngine) CompileXQuery(_ context.Context, module string, _ engine.StaticContext) (engine.CompiledQuery, error) {
	return e.compile(module)
}

// EvaluateXQuery answers from the script.
func (e *ScriptedEngine) EvaluateXQuery(ctx context.Context, q engine.CompiledQuery, _ engine.Node, _ engine.Bindings) (ir.Sequence, error) {
	return e.evaluate(ctx, q.(string))
}

// CompileStylesheet keys the stylesheet by its text.
func (e *ScriptedEngine) CompileStylesheet(_ context.Context, stylesheet engine.Document) (engine.CompiledStylesheet, error) {
	text := stylesheet.(scriptedDoc).text
	return e.compile(text)
}

// Transform returns the scripted markup for the stylesheet.
func (e *ScriptedEngine) Transform(ctx context.Context, s engine.CompiledStylesheet, _ engine.Document, _ engine.TransformParams) (engine.Document, error) {
	text := s.(string)
	b, err := e.act(ctx, text)
	if err != nil {
		return nil, err
	}
	if b.Code != "" {
		return nil, engine.NewError(engine.KindTransform, b.Code, "scripted transform error")
	}
	return scriptedDoc{text: b.Markup}, nil
}

// LoadSchema accepts any schema documents.
func (e *ScriptedEngine) LoadSchema(_ context.Context, docs []engine.Document) (engine.Schema, error) {
	return len(docs), nil
}

// Validate consults the script keyed by the instance text.
func (e *ScriptedEngine) Validate(ctx context.Context, _ engine.Schema, instance engine.Document) error {
	b, err := e.act(ctx, instance.(scriptedDoc).text)
	if err != nil {
		return err
	}
	if b.Invalid {
		return engine.NewError(engine.KindValidation, b.Code, "scripted invalid instance")
	}
	return nil
}

func (e *ScriptedEngine) compile(text string) (engine.CompiledQuery, error) {
	e.script.mu.Lock()
	b := e.script.behaviors[text]
	e.script.mu.Unlock()
	if b.CompileCode != "" {
		return nil, engine.NewCompileError(b.CompileCode, "scripted static error")
	}
	return text, nil
}

func (e *ScriptedEngine) evaluate(ctx context.Context, text string) (ir.Sequence, error) {
	b, err := e.act(ctx, text)
	if err != nil {
		return nil, err
	}
	if b.Code != "" {
		return nil, engine.NewEvalError(b.Code, "scripted dynamic error")
	}
	if b.Result == nil {
		return ir.Sequence{}, nil
	}
	return b.Result, nil
}

// act applies the side effects shared by every scripted call.
func (e *ScriptedEngine) act(ctx context.Context, text string) (Behavior, error) {
	b := e.script.enter(text)
	if b.Panic != nil {
		panic(b.Panic)
	}
	if b.Hang {
		<-e.script.release
	}
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return b, ctx.Err()
		}
	}
	return b, nil
}

var (
	_ engine.Tree   = (*ScriptedEngine)(nil)
	_ engine.XPath  = (*ScriptedEngine)(nil)
	_ engine.XQuery = (*ScriptedEngine)(nil)
	_ engine.XSLT   = (*ScriptedEngine)(nil)
	_ engine.XSD    = (*ScriptedEngine)(nil)
)
