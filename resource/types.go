package resource

import "github.com/wippyai/ownership/ref"

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid.
//
// The low bits select a slot and the high bits carry the slot's
// generation, so a handle stays invalid after its slot is reused.
type Handle uint32

const (
	slotBits = 20
	maxSlots = 1<<slotBits - 1
	genMask  = 1<<(32-slotBits) - 1
)

func makeHandle(idx int, gen uint32) Handle {
	return Handle(gen&genMask)<<slotBits | Handle(idx+1)
}

func (h Handle) index() int {
	return int(h&maxSlots) - 1
}

func (h Handle) generation() uint32 {
	return uint32(h >> slotBits)
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRemoved
	EventDropped
	EventBorrowed
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventRemoved:
		return "removed"
	case EventDropped:
		return "dropped"
	case EventBorrowed:
		return "borrowed"
	}
	return "unknown"
}

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage mechanism for resources.
// Each live slot holds one owning reference on behalf of the table.
type Backend interface {
	// Create takes ownership of owner and returns a handle.
	Create(typeID uint32, owner ref.Strong[any]) (Handle, error)

	// Borrow returns a new owning reference to the value behind handle.
	// The caller must release it.
	Borrow(handle Handle) (ref.Strong[any], bool)

	// Lookup returns an observer of the value behind handle.
	Lookup(handle Handle) (ref.Weak[any], bool)

	// Remove frees the slot and transfers the table's reference to the caller.
	Remove(handle Handle) (ref.Strong[any], bool)

	// BorrowTyped is Borrow restricted to values of typeID.
	BorrowTyped(handle Handle, typeID uint32) (ref.Strong[any], bool)

	// RemoveTyped is Remove restricted to values of typeID. Other values
	// are left in place.
	RemoveTyped(handle Handle, typeID uint32) (ref.Strong[any], bool)

	// TypeID returns the type ID for a handle.
	TypeID(handle Handle) (uint32, bool)

	// Len returns the number of live slots.
	Len() int

	// Each iterates over all live slots.
	Each(fn func(Handle, uint32, ref.Strong[any]) bool)

	// Close releases the table's reference to every resource.
	Close() error
}

// Table manages resources with type information and observer support.
type Table interface {
	// Insert adds a value and returns its handle.
	Insert(typeID uint32, value any) Handle

	// InsertOwned moves an existing owning handle into the table.
	InsertOwned(typeID uint32, owner *ref.Strong[any]) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// GetTyped retrieves a value only if it matches the expected type.
	GetTyped(handle Handle, typeID uint32) (any, bool)

	// Borrow returns an owning reference that keeps the value alive
	// even if the handle is removed.
	Borrow(handle Handle) (ref.Strong[any], bool)

	// Lookup returns an observer of the value.
	Lookup(handle Handle) (ref.Weak[any], bool)

	// Remove drops the table's reference and returns (value, true) if found.
	Remove(handle Handle) (any, bool)

	// BorrowTyped and RemoveTyped check the type and act under one lock.
	BorrowTyped(handle Handle, typeID uint32) (ref.Strong[any], bool)
	RemoveTyped(handle Handle, typeID uint32) (any, bool)

	// Subscribe adds an observer for lifecycle events.
	Subscribe(Observer)

	// Unsubscribe removes an observer.
	Unsubscribe(Observer)

	// Len returns the number of active resources.
	Len() int

	// Clear removes all resources.
	Clear()

	// Close releases all resources and stops accepting operations.
	Close() error
}

// TypedTable provides type-safe access to resources of a specific type.
type TypedTable[T any] interface {
	// Insert adds a value and returns its handle.
	Insert(value T) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (T, bool)

	// Remove drops the table's reference and returns (value, true) if found.
	Remove(handle Handle) (T, bool)

	// Len returns the number of active resources.
	Len() int

	// Each iterates over all active resources.
	Each(func(Handle, T) bool)
}

// Dropper is optionally implemented by resource values that need cleanup.
type Dropper = ref.Dropper
