package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a failure raised by an engine or by the harness on its
// behalf.
//
// Error kinds:
//   - Catalog: malformed or unreadable catalog entry (contained to one case)
//   - Parse, Compile, Eval, Transform, Validation: the engine rejected or
//     failed on valid input
//   - NotSupported: declared capability gap
//   - Infrastructure: crash, timeout, resource exhaustion
//
// Error includes structured fields for assertion matching and reporting.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind `json:"kind"`

	// Code is the W3C error code (e.g. "FOAR0001"), if the engine reports one.
	Code string `json:"code,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Err is the underlying cause, if any. Not serialized.
	Err error `json:"-"`
}

// ErrorKind categorizes engine errors.
type ErrorKind string

const (
	// KindCatalog indicates a malformed catalog entry.
	KindCatalog ErrorKind = "catalog"

	// KindParse indicates a document could not be parsed.
	KindParse ErrorKind = "parse"

	// KindCompile indicates a query or stylesheet was rejected statically.
	KindCompile ErrorKind = "compile"

	// KindEval indicates a dynamic evaluation error.
	KindEval ErrorKind = "eval"

	// KindTransform indicates an XSLT transformation error.
	KindTransform ErrorKind = "transform"

	// KindValidation indicates an instance or schema is invalid.
	KindValidation ErrorKind = "validation"

	// KindNotSupported indicates a capability or feature the engine lacks.
	KindNotSupported ErrorKind = "feature-not-supported"

	// KindInfrastructure indicates a crash, timeout or resource failure.
	KindInfrastructure ErrorKind = "infrastructure"
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil && e.Err.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Executed reports whether the error means the engine actually ran the case
// and rejected it, as opposed to the harness being unable to run it.
func (e *Error) Executed() bool {
	switch e.Kind {
	case KindParse, KindCompile, KindEval, KindTransform, KindValidation:
		return true
	}
	return false
}

// NewError creates an Error of the given kind with a normalized code.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: NormalizeCode(code), Message: message}
}

// NewCompileError creates a compile-time error.
func NewCompileError(code, message string) *Error {
	return NewError(KindCompile, code, message)
}

// NewEvalError creates a dynamic evaluation error.
func NewEvalError(code, message string) *Error {
	return NewError(KindEval, code, message)
}

// NewParseError wraps a document parse failure.
func NewParseError(uri string, err error) *Error {
	return &Error{Kind: KindParse, Code: "FODC0002", Message: fmt.Sprintf("cannot parse %s", uri), Err: err}
}

// NotSupported creates a FeatureNotSupported error for a missing capability
// or feature.
func NotSupported(engineName string, what any) *Error {
	return &Error{
		Kind:    KindNotSupported,
		Message: fmt.Sprintf("engine %q does not support %v", engineName, what),
	}
}

// NewCatalogError creates an error for a malformed catalog entry.
func NewCatalogError(message string, err error) *Error {
	return &Error{Kind: KindCatalog, Message: message, Err: err}
}

// Fault creates an infrastructure error (crash, panic, timeout).
func Fault(message string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: message, Err: err}
}

// AsError extracts an *Error from err. Errors that are not *Error values are
// classified by kind fallback: errors an engine returns without a category
// are treated as evaluation errors, since the engine did run.
func AsError(err error, fallback ErrorKind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: fallback, Message: err.Error(), Err: err}
}

// IsFeatureNotSupported returns true if err is a FeatureNotSupported error.
// Uses errors.As to handle wrapped errors.
func IsFeatureNotSupported(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindNotSupported
	}
	return false
}

// IsInfrastructure returns true if err is an infrastructure fault.
// Uses errors.As to handle wrapped errors.
func IsInfrastructure(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindInfrastructure
	}
	return false
}

// IsCatalog returns true if err is a catalog error.
func IsCatalog(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindCatalog
	}
	return false
}

// NormalizeCode strips namespace decorations from an error code so codes from
// different engines compare equal:
//
//	Q{http://www.w3.org/2005/xqt-errors}FOAR0001 -> FOAR0001
//	err:FOAR0001                                 -> FOAR0001
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "Q{") {
		if i := strings.IndexByte(code, '}'); i >= 0 {
			code = code[i+1:]
		}
	}
	if i := strings.LastIndexByte(code, ':'); i >= 0 {
		code = code[i+1:]
	}
	return code
}
