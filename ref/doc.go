// Package ref provides reference-counted shared ownership for values that
// need deterministic cleanup.
//
// The garbage collector reclaims memory, but it does not say when a file,
// a guest allocation or a wasm module should be closed. A Strong handle
// owns a payload together with every other Strong sharing its control
// block; the payload's Deleter runs exactly once, synchronously, when the
// last of them is released. A Weak handle observes the payload without
// keeping it alive.
//
// # Owning Handles
//
//	f := ref.New(file)          // DefaultDeleter: Drop or Close, then zero
//	g := f.Clone()              // use count 2
//	f.Release()                 // use count 1
//	g.Release()                 // file.Close() runs here
//
// Custom destruction is stored by value in the control block and does not
// appear in the handle's type:
//
//	s := ref.NewWith(conn, ref.DeleterFunc[Conn](func(c *Conn) {
//	    c.Shutdown(ctx)
//	}))
//
// Array payloads use SliceDeleter, which destroys every element:
//
//	bufs := ref.MakeSlice[*Buffer](5)
//
// # Observers
//
//	w := s.Weak()
//	if got := w.Lock(); got.Valid() {
//	    defer got.Release()
//	    use(got.Get())
//	}
//
// Lock promotes with a compare-and-swap loop that only increments a
// non-zero strong count, so it can race with the final Release without
// ever returning a handle to a destroyed payload. A failed Lock returns an
// empty Strong; it is not an error.
//
// # Copying
//
// Handles are small structs. Plain Go assignment aliases the same
// reference without counting it, so the alias must not be released
// separately. Use Clone to add an owner and Move to transfer one.
//
// # Lifetimes
//
// The control block outlives the payload while observers exist. It is
// reclaimed (pointer and deleter cleared) once both the strong and the
// weak count are zero. ReadStats reports live blocks and payloads.
//
// # Cycles
//
// Strong cycles are not detected and keep every payload in the cycle
// alive forever. Break cycles with Weak handles.
package ref
