package resource

import "github.com/wippyai/ownership/ref"

// Typed is a view of a UnifiedTable restricted to one type ID whose values
// all have Go type T.
type Typed[T any] struct {
	table  *UnifiedTable
	typeID uint32
}

var _ TypedTable[int] = (*Typed[int])(nil)

// NewTyped returns a typed view over table for typeID.
func NewTyped[T any](table *UnifiedTable, typeID uint32) *Typed[T] {
	return &Typed[T]{table: table, typeID: typeID}
}

// Table returns the underlying table.
func (t *Typed[T]) Table() *UnifiedTable {
	return t.table
}

// Insert adds a value and returns its handle.
func (t *Typed[T]) Insert(value T) Handle {
	return t.table.Insert(t.typeID, value)
}

// Get retrieves a value by handle.
func (t *Typed[T]) Get(handle Handle) (T, bool) {
	value, ok := t.table.GetTyped(handle, t.typeID)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := value.(T)
	return v, ok
}

// Borrow returns an owning reference to the value behind handle.
func (t *Typed[T]) Borrow(handle Handle) (ref.Strong[any], bool) {
	return t.table.BorrowTyped(handle, t.typeID)
}

// Remove drops the table's reference. Handles of another type are left
// untouched.
func (t *Typed[T]) Remove(handle Handle) (T, bool) {
	var zero T
	value, ok := t.table.RemoveTyped(handle, t.typeID)
	if !ok {
		return zero, false
	}
	v, ok := value.(T)
	return v, ok
}

// Len returns the number of resources of this type.
func (t *Typed[T]) Len() int {
	count := 0
	t.table.backend.Each(func(_ Handle, typeID uint32, _ ref.Strong[any]) bool {
		if typeID == t.typeID {
			count++
		}
		return true
	})
	return count
}

// Each iterates over the resources of this type. fn runs outside the
// table lock and may modify the table.
func (t *Typed[T]) Each(fn func(Handle, T) bool) {
	type item struct {
		owner  ref.Strong[any]
		handle Handle
	}
	var items []item
	t.table.backend.Each(func(h Handle, typeID uint32, owner ref.Strong[any]) bool {
		if typeID == t.typeID {
			items = append(items, item{owner: owner.Clone(), handle: h})
		}
		return true
	})
	defer func() {
		for i := range items {
			items[i].owner.Release()
		}
	}()

	for _, it := range items {
		v, ok := valueOf(it.owner).(T)
		if !ok {
			continue
		}
		if !fn(it.handle, v) {
			return
		}
	}
}
