package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseConstruct Phase = "construct" // handle and control block creation
	PhaseRelease   Phase = "release"   // strong/weak count decrement
	PhasePromote   Phase = "promote"   // weak to strong promotion
	PhaseAccess    Phase = "access"    // payload dereference
	PhaseTable     Phase = "table"     // resource table operations
	PhaseGuest     Phase = "guest"     // wasm guest memory and modules
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseStress    Phase = "stress"    // race harness
)

// Kind categorizes the error
type Kind string

const (
	KindAllocation     Kind = "allocation"
	KindUseAfterExpiry Kind = "use_after_expiry"
	KindOverRelease    Kind = "over_release"
	KindOverflow       Kind = "overflow"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindNilPointer     Kind = "nil_pointer"
	KindNotFound       Kind = "not_found"
	KindClosed         Kind = "closed"
	KindTypeMismatch   Kind = "type_mismatch"
	KindMissingExport  Kind = "missing_export"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindInvariant      Kind = "invariant"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
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

// Path sets the operation path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
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

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, goType string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		GoType: goType,
		Detail: "construct payload",
		Cause:  cause,
	}
}

// GuestAllocationFailed creates an allocation failure error for guest linear memory
func GuestAllocationFailed(size, align uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseGuest,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// UseAfterExpiry creates an error for dereferencing an empty owning handle
func UseAfterExpiry(phase Phase, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUseAfterExpiry,
		GoType: goType,
		Detail: "dereference of empty handle",
	}
}

// OverRelease creates an error for a reference count decremented below zero
func OverRelease(counter string, value int64) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindOverRelease,
		Path:   []string{counter},
		Detail: fmt.Sprintf("%s count dropped to %d", counter, value),
		Value:  value,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, path []string, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Path:   path,
		GoType: goType,
		Detail: "nil pointer",
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: got,
		Detail: fmt.Sprintf("expected %s", want),
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

// Closed creates an error for operations on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
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

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Invariant creates an error for a violated ownership invariant
func Invariant(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvariant,
		Detail: fmt.Sprintf(detail, args...),
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

// MissingExport represents a guest function that could not be resolved
type MissingExport struct {
	Module     string   // e.g., "env"
	Role       string   // e.g., "allocator"
	Candidates []string // export names that were searched
}

// MissingExportsError is returned when a guest module lacks the exports an operation needs
type MissingExportsError struct {
	Exports []MissingExport
}

// NewMissingExportsError creates an error from a list of missing exports
func NewMissingExportsError(exports ...MissingExport) *MissingExportsError {
	return &MissingExportsError{Exports: exports}
}

func (e *MissingExportsError) Error() string {
	if len(e.Exports) == 0 {
		return "[guest] missing_export: no exports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d guest export(s):\n", len(e.Exports)))

	// Group by module for cleaner output
	byModule := make(map[string][]MissingExport)
	var order []string
	for _, exp := range e.Exports {
		if _, exists := byModule[exp.Module]; !exists {
			order = append(order, exp.Module)
		}
		byModule[exp.Module] = append(byModule[exp.Module], exp)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, exp := range byModule[mod] {
			b.WriteString("    - ")
			b.WriteString(exp.Role)
			if len(exp.Candidates) > 0 {
				b.WriteString(" (one of ")
				b.WriteString(strings.Join(exp.Candidates, ", "))
				b.WriteByte(')')
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingExportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingExportsError:
		return true
	case *Error:
		return t.Phase == PhaseGuest && t.Kind == KindMissingExport
	}
	return false
}
