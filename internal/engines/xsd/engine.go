// Package xsd adapts github.com/jacoelho/xsd as a schema validation
// engine. It implements the Tree and XSD capability sets at XSD 1.0.
//
// Schema documents are compiled from their file location so that
// xs:include and xs:import resolve relative to it.
package xsd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/antchfx/xmlquery"
	jxsd "github.com/jacoelho/xsd"
	xsderrors "github.com/jacoelho/xsd/errors"

	"github.com/roach88/xconform/internal/engine"
)

// Name is the registry name of the engine.
const Name = "xsd"

var info = engine.Info{
	Name:        Name,
	Description: "XSD 1.0 validation via jacoelho/xsd",
	Versions:    []string{"XSD10"},
	Features:    []string{"xml-version:1.0"},
	// Compiled schemas validate concurrently and the engine keeps no state.
	ThreadSafe: true,
}

// Engine is a stateless jacoelho/xsd engine.
type Engine struct{}

// New builds an engine instance.
func New() (engine.Engine, error) {
	return &Engine{}, nil
}

// Descriptor returns the registry descriptor.
func Descriptor() engine.Descriptor {
	return engine.Descriptor{Info: info, New: New}
}

// Info returns the declared engine info.
func (e *Engine) Info() engine.Info {
	return info
}

// Document is a parsed source. The validator reads raw bytes, so they are
// kept next to the tree used for serialization.
type Document struct {
	URI  string
	Path string // local file behind URI; empty when URI is not a file URI
	Data []byte
	root *xmlquery.Node
}

// Schema is a compiled schema set.
type Schema struct {
	compiled *jxsd.Schema
}

// Parse checks data is well formed and keeps it for validation.
func (e *Engine) Parse(_ context.Context, data []byte, baseURI string) (engine.Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, engine.NewParseError(baseURI, err)
	}
	return &Document{URI: baseURI, Path: localPath(baseURI), Data: data, root: root}, nil
}

// DocumentElement returns the outermost element of doc.
func (e *Engine) DocumentElement(doc engine.Document) (engine.Node, error) {
	d, err := document(doc)
	if err != nil {
		return nil, err
	}
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c, nil
		}
	}
	return nil, errors.New("xsd: document has no element")
}

// Serialize writes node, or a whole Document, as XML.
func (e *Engine) Serialize(node engine.Node) (string, error) {
	switch n := node.(type) {
	case *xmlquery.Node:
		return n.OutputXML(true), nil
	case *Document:
		return string(n.Data), nil
	}
	return "", fmt.Errorf("xsd: foreign node %T", node)
}

// LoadSchema compiles docs into one schema set. A schema the library
// rejects is reported as a validation error.
func (e *Engine) LoadSchema(ctx context.Context, docs []engine.Document) (engine.Schema, error) {
	if len(docs) == 0 {
		return nil, errors.New("xsd: no schema documents")
	}
	set := jxsd.NewSchemaSet()
	for _, doc := range docs {
		d, err := document(doc)
		if err != nil {
			return nil, err
		}
		if d.Path == "" {
			return nil, engine.NotSupported(Name, "schema documents without a file location")
		}
		if err := set.AddFS(os.DirFS(filepath.Dir(d.Path)), filepath.Base(d.Path)); err != nil {
			return nil, engine.Fault("xsd: cannot add schema "+d.URI, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, err := set.Compile()
	if err != nil {
		return nil, &engine.Error{Kind: engine.KindValidation, Message: "schema rejected", Err: err}
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks instance against s. Violations become one KindValidation
// error carrying the first violation's code.
func (e *Engine) Validate(ctx context.Context, s engine.Schema, instance engine.Document) error {
	schema, ok := s.(*Schema)
	if !ok {
		return fmt.Errorf("xsd: foreign schema %T", s)
	}
	d, err := document(instance)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = schema.compiled.Validate(bytes.NewReader(d.Data))
	if err == nil {
		return nil
	}
	violations, ok := xsderrors.AsValidations(err)
	if !ok || len(violations) == 0 {
		return engine.Fault("xsd: validation did not complete", err)
	}
	return &engine.Error{
		Kind:    engine.KindValidation,
		Code:    engine.NormalizeCode(violations[0].Code),
		Message: violations[0].Error(),
		Err:     err,
	}
}

func document(doc engine.Document) (*Document, error) {
	d, ok := doc.(*Document)
	if !ok {
		return nil, fmt.Errorf("xsd: foreign document %T", doc)
	}
	return d, nil
}

// localPath returns the file behind a file URI.
func localPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return ""
	}
	return filepath.FromSlash(u.Path)
}

var (
	_ engine.Tree = (*Engine)(nil)
	_ engine.XSD  = (*Engine)(nil)
)
