package ref

import "fmt"

// Weak observes a payload owned by Strong handles without keeping it
// alive. Lock promotes it to a new owner while the payload still exists.
//
// The zero value is unbound. Like Strong, a single Weak value is not safe
// for concurrent use; copies made with Clone are independent.
type Weak[T any] struct {
	ptr  *T
	ctrl control
}

// NewWeak returns an observer bound to the control block of s. An empty s
// yields an unbound observer.
func NewWeak[T any](s Strong[T]) Weak[T] {
	if s.ctrl == nil {
		return Weak[T]{}
	}
	s.ctrl.retainWeak()
	return Weak[T]{ptr: s.ptr, ctrl: s.ctrl}
}

// Clone returns another observer of the same control block.
func (w Weak[T]) Clone() Weak[T] {
	if w.ctrl != nil {
		w.ctrl.retainWeak()
	}
	return w
}

// Move transfers the observation to the returned handle and unbinds w.
func (w *Weak[T]) Move() Weak[T] {
	out := *w
	w.ptr, w.ctrl = nil, nil
	return out
}

// Release unbinds w and drops its weak reference.
func (w *Weak[T]) Release() {
	c := w.ctrl
	w.ptr, w.ctrl = nil, nil
	if c != nil {
		c.releaseWeak()
	}
}

// Reset is Release.
func (w *Weak[T]) Reset() {
	w.Release()
}

// Swap exchanges the contents of w and other.
func (w *Weak[T]) Swap(other *Weak[T]) {
	w.ptr, other.ptr = other.ptr, w.ptr
	w.ctrl, other.ctrl = other.ctrl, w.ctrl
}

// Expired reports whether the payload has been destroyed or w is unbound.
func (w Weak[T]) Expired() bool {
	return w.ctrl == nil || w.ctrl.useCount() == 0
}

// Lock returns a new owner of the payload, or an empty Strong if the
// payload has already been destroyed. A failed Lock is not an error.
func (w Weak[T]) Lock() Strong[T] {
	if w.ctrl == nil || !w.ctrl.tryPromote() {
		return Strong[T]{}
	}
	return Strong[T]{ptr: w.ptr, ctrl: w.ctrl}
}

// UseCount returns the number of owners of the observed block.
func (w Weak[T]) UseCount() int64 {
	if w.ctrl == nil {
		return 0
	}
	return w.ctrl.useCount()
}

// WeakCount returns the number of observers of the block, including w.
func (w Weak[T]) WeakCount() int64 {
	if w.ctrl == nil {
		return 0
	}
	return w.ctrl.weakCount()
}

// Same reports whether w observes the control block owned by s.
func (w Weak[T]) Same(s Strong[T]) bool {
	return w.ctrl != nil && w.ctrl == s.ctrl
}

func (w Weak[T]) String() string {
	if w.ctrl == nil {
		return fmt.Sprintf("Weak[%s](unbound)", typeName[T]())
	}
	return fmt.Sprintf("Weak[%s](%p, use=%d)", typeName[T](), w.ptr, w.ctrl.useCount())
}
