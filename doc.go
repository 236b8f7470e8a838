// Package ownership provides deterministic shared ownership for Go values.
//
// Go's garbage collector reclaims memory, but it does not say when a file,
// a guest module or a slot in someone else's linear memory should be
// released. This module counts owners explicitly and runs a deleter
// exactly once, at the moment the last owner lets go.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	ownership/
//	├── ref/             Strong and Weak handles, deleters, control blocks
//	├── resource/        Integer handle tables whose slots own their values
//	├── guest/           wazero modules and guest memory regions as owned values
//	├── errors/          Structured error types for debugging
//	├── internal/stress/ Promotion-versus-release race harness
//	└── cmd/refstress/   CLI for the race harness
//
// # Quick Start
//
// Share a value and observe it:
//
//	s := ref.Make(conn)          // use count 1
//	c := s.Clone()               // use count 2
//	w := s.Weak()                // observer, use count unchanged
//
//	s.Release()
//	c.Release()                  // conn.Close() runs here
//
//	if l := w.Lock(); !l.Valid() {
//	    // expired
//	}
//	w.Release()
//
// Handles are plain structs. Assigning one copies the reference without
// changing any count; use Clone to add an owner and Move to transfer one.
package ownership
