package ref

import (
	"io"

	"go.uber.org/zap"
)

// Deleter destroys a payload. A control block invokes it exactly once,
// when the last owning handle is released.
type Deleter[T any] interface {
	Delete(p *T)
}

// DeleterFunc adapts a function to the Deleter interface.
type DeleterFunc[T any] func(p *T)

// Delete calls f(p).
func (f DeleterFunc[T]) Delete(p *T) {
	f(p)
}

// Dropper is optionally implemented by payloads that need cleanup.
type Dropper interface {
	Drop()
}

// DefaultDeleter is the scalar deletion policy.
//
// It runs the payload's Drop or Close hook, checking *T before T, and then
// zeroes the value so anything it references can be collected. A nil
// pointer is a no-op.
type DefaultDeleter[T any] struct{}

// Delete destroys a single value.
func (DefaultDeleter[T]) Delete(p *T) {
	if p == nil {
		return
	}
	dropValue(p)
	var zero T
	*p = zero
}

// SliceDeleter is the array deletion policy for []E payloads. Every
// element is destroyed in index order, then the slice is released.
type SliceDeleter[E any] struct{}

// Delete destroys every element of the slice.
func (SliceDeleter[E]) Delete(p *[]E) {
	if p == nil {
		return
	}
	s := *p
	var zero E
	for i := range s {
		dropValue(&s[i])
		s[i] = zero
	}
	*p = nil
}

// NopDeleter leaves the payload untouched. Useful for handles over values
// whose lifetime is managed elsewhere.
type NopDeleter[T any] struct{}

// Delete does nothing.
func (NopDeleter[T]) Delete(*T) {}

func dropValue[T any](p *T) {
	if d, ok := any(p).(Dropper); ok {
		d.Drop()
		return
	}
	if c, ok := any(p).(io.Closer); ok {
		closeValue(c)
		return
	}
	switch v := any(*p).(type) {
	case Dropper:
		v.Drop()
	case io.Closer:
		closeValue(v)
	}
}

func closeValue(c io.Closer) {
	if err := c.Close(); err != nil {
		Logger().Warn("payload close failed", zap.Error(err))
	}
}
