package ref

import (
	"fmt"

	"github.com/wippyai/ownership/errors"
)

// Strong is a shared owning handle to a *T.
//
// The zero value is empty. Go assignment copies the handle without
// retaining it; use Clone for a new owner and Move to transfer one.
// A Strong is not safe for concurrent use by multiple goroutines, but
// distinct Strong values sharing one control block are.
type Strong[T any] struct {
	ptr  *T
	ctrl control
}

// New returns an owning handle for p using DefaultDeleter.
// A nil p yields a handle with a control block and no payload.
func New[T any](p *T) Strong[T] {
	return NewWith[T](p, DefaultDeleter[T]{})
}

// NewWith returns an owning handle for p that destroys it with d.
func NewWith[T any, D Deleter[T]](p *T, d D) Strong[T] {
	return Strong[T]{ptr: p, ctrl: newBlock[T, D](p, d)}
}

// Make allocates a new T holding v and returns its owning handle.
func Make[T any](v T) Strong[T] {
	p := new(T)
	*p = v
	return New(p)
}

// MakeFunc constructs the payload with ctor. A constructor error is
// returned as an allocation failure and no handle is created.
func MakeFunc[T any](ctor func() (*T, error)) (Strong[T], error) {
	p, err := ctor()
	if err != nil {
		return Strong[T]{}, errors.AllocationFailed(errors.PhaseConstruct, typeName[T](), err)
	}
	return New(p), nil
}

// NewSlice returns an owning handle for an array payload. The elements
// are destroyed with SliceDeleter.
func NewSlice[E any](s []E) Strong[[]E] {
	p := new([]E)
	*p = s
	return NewWith[[]E](p, SliceDeleter[E]{})
}

// MakeSlice allocates an array payload of n zero elements.
func MakeSlice[E any](n int) Strong[[]E] {
	if n < 0 {
		panic(errors.InvalidInput(errors.PhaseConstruct, fmt.Sprintf("negative slice length %d", n)))
	}
	return NewSlice(make([]E, n))
}

// Clone returns a new owner sharing the control block.
func (s Strong[T]) Clone() Strong[T] {
	if s.ctrl != nil {
		s.ctrl.retainStrong()
	}
	return s
}

// Move transfers ownership to the returned handle and empties s.
func (s *Strong[T]) Move() Strong[T] {
	out := *s
	s.ptr, s.ctrl = nil, nil
	return out
}

// Release drops this owner. The payload is destroyed if it was the last.
// Release on an empty handle is a no-op.
func (s *Strong[T]) Release() {
	c := s.ctrl
	s.ptr, s.ctrl = nil, nil
	if c != nil {
		c.releaseStrong()
	}
}

// Reset releases the current reference and leaves s empty.
func (s *Strong[T]) Reset() {
	s.Release()
}

// ResetTo releases the current reference and takes ownership of p with
// DefaultDeleter.
func (s *Strong[T]) ResetTo(p *T) {
	next := New(p)
	s.Swap(&next)
	next.Release()
}

// ResetWith releases the current reference and takes ownership of p,
// destroying it with d.
func (s *Strong[T]) ResetWith(p *T, d Deleter[T]) {
	next := NewWith(p, d)
	s.Swap(&next)
	next.Release()
}

// Swap exchanges the contents of s and other.
func (s *Strong[T]) Swap(other *Strong[T]) {
	s.ptr, other.ptr = other.ptr, s.ptr
	s.ctrl, other.ctrl = other.ctrl, s.ctrl
}

// Get returns the payload pointer, or nil for an empty handle.
func (s Strong[T]) Get() *T {
	return s.ptr
}

// Value returns a copy of the payload. It panics with a use_after_expiry
// *errors.Error when the handle holds no payload.
func (s Strong[T]) Value() T {
	if s.ptr == nil {
		panic(errors.UseAfterExpiry(errors.PhaseAccess, typeName[T]()))
	}
	return *s.ptr
}

// UseCount returns the number of owners of the control block, or 0 for an
// empty handle. The value is a snapshot.
func (s Strong[T]) UseCount() int64 {
	if s.ctrl == nil {
		return 0
	}
	return s.ctrl.useCount()
}

// WeakCount returns the number of observers of the control block.
func (s Strong[T]) WeakCount() int64 {
	if s.ctrl == nil {
		return 0
	}
	return s.ctrl.weakCount()
}

// Valid reports whether the handle owns a non-nil payload.
func (s Strong[T]) Valid() bool {
	return s.ptr != nil && s.UseCount() > 0
}

// Same reports whether s and other share a control block.
func (s Strong[T]) Same(other Strong[T]) bool {
	return s.ctrl != nil && s.ctrl == other.ctrl
}

// Weak returns an observer of the payload.
func (s Strong[T]) Weak() Weak[T] {
	return NewWeak(s)
}

func (s Strong[T]) String() string {
	if s.ctrl == nil {
		return fmt.Sprintf("Strong[%s](empty)", typeName[T]())
	}
	return fmt.Sprintf("Strong[%s](%p, use=%d)", typeName[T](), s.ptr, s.ctrl.useCount())
}

// Elem returns element i of an array payload.
func Elem[E any](s Strong[[]E], i int) E {
	if s.ptr == nil {
		panic(errors.UseAfterExpiry(errors.PhaseAccess, typeName[[]E]()))
	}
	if i < 0 || i >= len(*s.ptr) {
		panic(errors.OutOfBounds(errors.PhaseAccess, []string{"Elem"}, i, len(*s.ptr)))
	}
	return (*s.ptr)[i]
}

func typeName[T any]() string {
	return fmt.Sprintf("%T", (*T)(nil))[1:]
}
