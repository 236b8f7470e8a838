package resource

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/ownership/ref"
	"go.uber.org/zap"
)

// UnifiedTable implements the Table interface using a Backend for storage.
type UnifiedTable struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a new unified table with a LocalBackend.
func NewTable() *UnifiedTable {
	return &UnifiedTable{
		backend: NewLocalBackend(),
	}
}

// Insert adds a value and returns its handle. The value's Dropper runs
// once the table and every borrower have released it. Returns 0 after
// Close.
func (t *UnifiedTable) Insert(typeID uint32, value any) Handle {
	var slot atomic.Uint32
	p := new(any)
	*p = value
	owner := ref.NewWith(p, ref.DeleterFunc[any](func(p *any) {
		v := *p
		ref.DefaultDeleter[any]{}.Delete(p)
		if h := Handle(slot.Load()); h != 0 {
			if ce := Logger().Check(zap.DebugLevel, "resource dropped"); ce != nil {
				ce.Write(zap.Uint32("handle", uint32(h)), zap.Uint32("type", typeID))
			}
			t.notify(Event{
				Type:   EventDropped,
				Handle: h,
				TypeID: typeID,
				Value:  v,
			})
		}
	}))

	handle, err := t.backend.Create(typeID, owner)
	if err != nil {
		Logger().Warn("insert rejected", zap.Uint32("type", typeID), zap.Error(err))
		owner.Release()
		return 0
	}
	slot.Store(uint32(handle))

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})

	return handle
}

// InsertOwned moves *owner into the table and leaves it empty, even when
// the insert is rejected. The table does not see the payload's
// destruction, so no EventDropped is emitted for it.
func (t *UnifiedTable) InsertOwned(typeID uint32, owner *ref.Strong[any]) Handle {
	moved := owner.Move()
	handle, err := t.backend.Create(typeID, moved)
	if err != nil {
		moved.Release()
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		TypeID: typeID,
		Value:  valueOf(moved),
	})

	return handle
}

// Get retrieves a value by handle.
func (t *UnifiedTable) Get(handle Handle) (any, bool) {
	s, ok := t.backend.Borrow(handle)
	if !ok {
		return nil, false
	}
	defer s.Release()
	return valueOf(s), true
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *UnifiedTable) GetTyped(handle Handle, typeID uint32) (any, bool) {
	s, ok := t.backend.BorrowTyped(handle, typeID)
	if !ok {
		return nil, false
	}
	defer s.Release()
	return valueOf(s), true
}

// Borrow returns an owning reference to the value. The value outlives
// Remove and Close until the returned handle is released.
func (t *UnifiedTable) Borrow(handle Handle) (ref.Strong[any], bool) {
	return t.borrow(handle, 0, false)
}

// BorrowTyped is Borrow restricted to values of typeID.
func (t *UnifiedTable) BorrowTyped(handle Handle, typeID uint32) (ref.Strong[any], bool) {
	return t.borrow(handle, typeID, true)
}

func (t *UnifiedTable) borrow(handle Handle, want uint32, typed bool) (ref.Strong[any], bool) {
	s, typeID, ok := t.backend.borrow(handle, want, typed)
	if !ok {
		return s, false
	}

	t.notify(Event{
		Type:   EventBorrowed,
		Handle: handle,
		TypeID: typeID,
		Value:  valueOf(s),
	})

	return s, true
}

// Lookup returns an observer of the value that does not keep it alive.
func (t *UnifiedTable) Lookup(handle Handle) (ref.Weak[any], bool) {
	return t.backend.Lookup(handle)
}

// Remove drops the table's reference and returns (value, true) if found.
// Outstanding borrows keep the value alive. The handle is invalid from
// here on, even after its slot is reused.
func (t *UnifiedTable) Remove(handle Handle) (any, bool) {
	return t.remove(handle, 0, false)
}

// RemoveTyped is Remove restricted to values of typeID. Values of another
// type are left in place.
func (t *UnifiedTable) RemoveTyped(handle Handle, typeID uint32) (any, bool) {
	return t.remove(handle, typeID, true)
}

func (t *UnifiedTable) remove(handle Handle, want uint32, typed bool) (any, bool) {
	owner, typeID, ok := t.backend.remove(handle, want, typed)
	if !ok {
		return nil, false
	}
	value := valueOf(owner)

	t.notify(Event{
		Type:   EventRemoved,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})

	owner.Release()
	return value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *UnifiedTable) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *UnifiedTable) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of active resources.
func (t *UnifiedTable) Len() int {
	return t.backend.Len()
}

// Clear removes all resources.
func (t *UnifiedTable) Clear() {
	// Collect handles first to avoid holding lock during Remove
	var handles []Handle
	t.backend.Each(func(h Handle, _ uint32, _ ref.Strong[any]) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close releases all resources and stops accepting operations.
func (t *UnifiedTable) Close() error {
	return t.backend.Close()
}

// Backend returns the underlying slot storage.
func (t *UnifiedTable) Backend() Backend {
	return t.backend
}

func (t *UnifiedTable) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

func valueOf(s ref.Strong[any]) any {
	if p := s.Get(); p != nil {
		return *p
	}
	return nil
}
