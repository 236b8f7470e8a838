// Package errors provides structured error types for the ownership runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: operation path, Go type name, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAccess, errors.KindUseAfterExpiry).
//		Path("Strong", "Value").
//		GoType("*os.File").
//		Detail("handle released").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UseAfterExpiry(errors.PhaseAccess, "*os.File")
//	err := errors.AllocationFailed(errors.PhaseConstruct, "Conn", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
