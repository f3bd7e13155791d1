package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseProtocol  Phase = "protocol"  // framing and sequencing
	PhaseBackend   Phase = "backend"   // errors reported by the analytical engine
	PhaseRequest   Phase = "request"   // a single RPC request
	PhaseTransport Phase = "transport" // moving bytes to and from the backend
	PhaseEngine    Phase = "engine"    // local engine lifecycle
	PhaseDecode    Phase = "decode"    // wire to Go
	PhaseQuery     Phase = "query"     // consuming query results
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindDesync             Kind = "desync"
	KindFatal              Kind = "fatal"
	KindRequestFailed      Kind = "request_failed"
	KindTransport          Kind = "transport"
	KindInProgress         Kind = "in_progress"
	KindDisposed           Kind = "disposed"
	KindAlreadyInitialized Kind = "already_initialized"
	KindNotInitialized     Kind = "not_initialized"
	KindEngineFailed       Kind = "engine_failed"
	KindInvalidData        Kind = "invalid_data"
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindUnsupported        Kind = "unsupported"
	KindTypeMismatch       Kind = "type_mismatch"
	KindOutOfBounds        Kind = "out_of_bounds"
)

// Error is the structured error type used throughout the engine
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Method string // RPC method the error belongs to, if any
	Tag    string // owner tag of the call
	SQL    string
	Detail string
	Stack  string // call site of the blocking caller
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Method != "" {
		b.WriteString(" in ")
		b.WriteString(e.Method)
	}

	if e.Tag != "" {
		b.WriteString(" (tag ")
		b.WriteString(e.Tag)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.SQL != "" {
		b.WriteString("\nquery: ")
		b.WriteString(e.SQL)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	if e.Stack != "" {
		b.WriteString("\ncalled from ")
		b.WriteString(e.Stack)
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks against the four engine-level categories.
var (
	ErrDesync        = &Error{Phase: PhaseProtocol, Kind: KindDesync}
	ErrFatal         = &Error{Phase: PhaseBackend, Kind: KindFatal}
	ErrRequestFailed = &Error{Phase: PhaseRequest, Kind: KindRequestFailed}
	ErrTransport     = &Error{Phase: PhaseTransport, Kind: KindTransport}
	ErrEngineFailed  = &Error{Phase: PhaseEngine, Kind: KindEngineFailed}
	ErrInProgress    = &Error{Phase: PhaseEngine, Kind: KindInProgress}
	ErrDisposed      = &Error{Phase: PhaseEngine, Kind: KindDisposed}
)

// IsPermanent reports whether err leaves the whole engine unusable.
func IsPermanent(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindDesync, KindFatal, KindTransport, KindEngineFailed:
		return true
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Method sets the RPC method name
func (b *Builder) Method(m string) *Builder {
	b.err.Method = m
	return b
}

// Tag sets the owner tag
func (b *Builder) Tag(tag string) *Builder {
	b.err.Tag = tag
	return b
}

// SQL sets the offending query text
func (b *Builder) SQL(sql string) *Builder {
	b.err.SQL = sql
	return b
}

// Stack sets the caller location
func (b *Builder) Stack(s string) *Builder {
	b.err.Stack = s
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Desync creates a protocol desynchronization error
func Desync(expected, got int64) *Error {
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindDesync,
		Detail: fmt.Sprintf("RPC sequence id mismatch: expected %d, got %d", expected, got),
	}
}

// CorruptStream creates a desync error for an unparseable byte stream
func CorruptStream(cause error) *Error {
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindDesync,
		Detail: "corrupt RPC stream",
		Cause:  cause,
	}
}

// Fatal creates an unrecoverable backend error
func Fatal(msg string) *Error {
	return &Error{
		Phase:  PhaseBackend,
		Kind:   KindFatal,
		Detail: msg,
	}
}

// RequestFailed creates a request-scoped error reported by the backend
func RequestFailed(method, msg string) *Error {
	return &Error{
		Phase:  PhaseRequest,
		Kind:   KindRequestFailed,
		Method: method,
		Detail: msg,
	}
}

// Transport creates a transport error
func Transport(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindTransport,
		Detail: detail,
		Cause:  cause,
	}
}

// InProgress creates an error for a re-entered administrative call
func InProgress(method string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindInProgress,
		Method: method,
		Detail: fmt.Sprintf("%s already in progress", method),
	}
}

// Disposed creates an error for a call made through a disposed proxy
func Disposed(tag, op string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindDisposed,
		Tag:    tag,
		Detail: fmt.Sprintf("%s called on a disposed engine proxy", op),
	}
}

// AlreadyInitialized creates an error for a repeated one-shot initialization
func AlreadyInitialized(what string) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindAlreadyInitialized,
		Detail: fmt.Sprintf("%s already initialized", what),
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// EngineFailed creates the fail-fast error returned after a permanent failure
func EngineFailed(cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindEngineFailed,
		Detail: "engine has permanently failed",
		Cause:  cause,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// TypeMismatch creates a cell type mismatch error
func TypeMismatch(column, want, got string) *Error {
	return &Error{
		Phase:  PhaseQuery,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("column %q: expected %s, got %s", column, want, got),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a configuration loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}
