package diag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// Severity of a Diagnostic.
type Severity int

const (
	Error Severity = iota + 1
	Warning
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	}
	return "unknown"
}

// Class tells the collector how to route a backend diagnostic.
type Class int

const (
	ClassUser Class = iota
	ClassInternal
	ClassResource
)

// Classified is implemented by hcl.Diagnostic Extra values that carry a
// class other than ClassUser.
type Classified interface {
	DiagnosticClass() Class
}

// ClassOf reads the class attached to a raw diagnostic.
func ClassOf(d *hcl.Diagnostic) Class {
	if c, ok := d.Extra.(Classified); ok {
		return c.DiagnosticClass()
	}
	return ClassUser
}

// Diagnostic is one compiler message positioned in body coordinates. A zero
// Line means the message has no source location.
type Diagnostic struct {
	Severity  Severity
	Summary   string
	Detail    string
	Line      int
	Column    int
	EndLine   int
	EndColumn int
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Line > 0 {
		fmt.Fprintf(&b, "%d:%d: ", d.Line, d.Column)
	}
	fmt.Fprintf(&b, "%s: %s", d.Severity, d.Summary)
	if d.Detail != "" {
		fmt.Fprintf(&b, "; %s", d.Detail)
	}
	return b.String()
}

var (
	// ErrCompile is matched by CompileError.
	ErrCompile = errors.New("model compilation failed")
	// ErrInternal is matched by InternalError.
	ErrInternal = errors.New("internal compiler contract violation")
	// ErrResourceExhausted is matched by ResourceError.
	ErrResourceExhausted = errors.New("compiler resources exhausted")
)

// CompileError carries the error diagnostics of a failed compilation. The
// model author must change the body; retrying reproduces the failure.
type CompileError struct {
	Report Report
}

func (e *CompileError) Error() string {
	errs := e.Report.Errors()
	if len(errs) == 0 {
		return ErrCompile.Error()
	}
	msg := fmt.Sprintf("%s: %s", ErrCompile, errs[0])
	if len(errs) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(errs)-1)
	}
	return msg
}

func (e *CompileError) Is(target error) bool { return target == ErrCompile }

// InternalError reports diagnostics that point at the engine itself, such as
// an exported entry point without a kernel. Retrying cannot succeed.
type InternalError struct {
	Diagnostics []Diagnostic
}

func (e *InternalError) Error() string {
	if len(e.Diagnostics) == 0 {
		return ErrInternal.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInternal, e.Diagnostics[0])
}

func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// ResourceError reports that the toolchain ran out of resources. The same
// request may succeed later.
type ResourceError struct {
	Diagnostics []Diagnostic
}

func (e *ResourceError) Error() string {
	if len(e.Diagnostics) == 0 {
		return ErrResourceExhausted.Error()
	}
	return fmt.Sprintf("%s: %s", ErrResourceExhausted, e.Diagnostics[0].Summary)
}

func (e *ResourceError) Is(target error) bool { return target == ErrResourceExhausted }
