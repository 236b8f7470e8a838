package resource

import (
	"sync"

	"github.com/wippyai/ownership/errors"
	"github.com/wippyai/ownership/ref"
)

var ErrClosed = errors.Closed(errors.PhaseTable, "resource backend")

// ErrFull is returned by Create once every slot is live.
var ErrFull = errors.New(errors.PhaseTable, errors.KindOverflow).
	Detail("all %d slots are in use", maxSlots).
	Build()

// LocalBackend is an in-memory slot table of owning references.
// Slot mutation is serialized; reference counts are not.
type LocalBackend struct {
	entries  []entry
	freeList []int
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	owner  ref.Strong[any]
	typeID uint32
	gen    uint32
	valid  bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]int, 0, 16),
	}
}

// Create stores owner and returns a handle. On error the caller keeps
// ownership.
func (b *LocalBackend) Create(typeID uint32, owner ref.Strong[any]) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	e := entry{
		owner:  owner,
		typeID: typeID,
		valid:  true,
	}

	if len(b.freeList) > 0 {
		idx := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		e.gen = b.entries[idx].gen
		b.entries[idx] = e
		return makeHandle(idx, e.gen), nil
	}

	if len(b.entries) >= maxSlots {
		return 0, ErrFull
	}
	b.entries = append(b.entries, e)
	return makeHandle(len(b.entries)-1, 0), nil
}

func (b *LocalBackend) slot(handle Handle) *entry {
	idx := handle.index()
	if idx < 0 || idx >= len(b.entries) {
		return nil
	}
	e := &b.entries[idx]
	if !e.valid || e.gen != handle.generation() {
		return nil
	}
	return e
}

// Borrow returns a new owning reference to the value behind handle.
func (b *LocalBackend) Borrow(handle Handle) (ref.Strong[any], bool) {
	s, _, ok := b.borrow(handle, 0, false)
	return s, ok
}

// BorrowTyped is Borrow restricted to values of typeID.
func (b *LocalBackend) BorrowTyped(handle Handle, typeID uint32) (ref.Strong[any], bool) {
	s, _, ok := b.borrow(handle, typeID, true)
	return s, ok
}

func (b *LocalBackend) borrow(handle Handle, typeID uint32, typed bool) (ref.Strong[any], uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.slot(handle)
	if e == nil || (typed && e.typeID != typeID) {
		return ref.Strong[any]{}, 0, false
	}
	return e.owner.Clone(), e.typeID, true
}

// Lookup returns an observer of the value behind handle.
func (b *LocalBackend) Lookup(handle Handle) (ref.Weak[any], bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.slot(handle)
	if e == nil {
		return ref.Weak[any]{}, false
	}
	return e.owner.Weak(), true
}

// Remove frees the slot and hands the table's reference to the caller.
func (b *LocalBackend) Remove(handle Handle) (ref.Strong[any], bool) {
	owner, _, ok := b.remove(handle, 0, false)
	return owner, ok
}

// RemoveTyped is Remove restricted to values of typeID.
func (b *LocalBackend) RemoveTyped(handle Handle, typeID uint32) (ref.Strong[any], bool) {
	owner, _, ok := b.remove(handle, typeID, true)
	return owner, ok
}

func (b *LocalBackend) remove(handle Handle, typeID uint32, typed bool) (ref.Strong[any], uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.slot(handle)
	if e == nil || (typed && e.typeID != typeID) {
		return ref.Strong[any]{}, 0, false
	}

	owner := e.owner.Move()
	removed := e.typeID
	e.valid = false
	e.typeID = 0
	e.gen = (e.gen + 1) & genMask
	b.freeList = append(b.freeList, handle.index())

	return owner, removed, true
}

// Close releases the table's reference to every resource. Values still
// borrowed elsewhere are destroyed when those borrows are released.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	owners := make([]ref.Strong[any], 0, len(b.entries))
	for i := range b.entries {
		if b.entries[i].valid {
			owners = append(owners, b.entries[i].owner.Move())
			b.entries[i].valid = false
		}
	}
	b.entries = nil
	b.freeList = nil
	b.mu.Unlock()

	// Deleters may call back into the table.
	for i := range owners {
		owners[i].Release()
	}
	return nil
}

// TypeID returns the type ID for a handle.
func (b *LocalBackend) TypeID(handle Handle) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.slot(handle)
	if e == nil {
		return 0, false
	}
	return e.typeID, true
}

// Len returns the number of active resources.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, e := range b.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over all active resources. The owner passed to fn is the
// table's own reference; clone it to keep it past the callback.
func (b *LocalBackend) Each(fn func(Handle, uint32, ref.Strong[any]) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(makeHandle(i, e.gen), e.typeID, e.owner) {
				break
			}
		}
	}
}
