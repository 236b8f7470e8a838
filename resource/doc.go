// Package resource provides integer handle tables over shared ownership.
//
// Each live slot holds one owning reference (ref.Strong[any]) on behalf of
// the table. Borrowing a handle adds another owner, so a value removed from
// the table stays alive until every borrower has released it, and is
// destroyed exactly once after that.
//
// # Handle Table
//
// The UnifiedTable maps integer handles to Go values:
//
//	table := resource.NewTable()
//
//	// Insert a value, get a handle
//	handle := table.Insert(typeID, myValue)
//
//	// Retrieve value by handle
//	value, ok := table.Get(handle)
//
//	// Keep the value alive past Remove
//	held, ok := table.Borrow(handle)
//	defer held.Release()
//
//	// Drop the table's reference
//	value, ok := table.Remove(handle)
//
// Handle 0 is never issued. Freed slots are reused under a new
// generation, so a removed handle never resolves to the slot's next
// occupant and EventDropped for it cannot be mistaken for a live handle.
// A slot's generation wraps after 4096 reuses.
//
// # Type Safety
//
// Handles are typed - each resource type gets a unique type ID:
//
//	const FileTypeID = 1
//	const SocketTypeID = 2
//
//	fileHandle := table.Insert(FileTypeID, file)
//
//	value, ok := table.GetTyped(fileHandle, FileTypeID)   // ok
//	value, ok := table.GetTyped(fileHandle, SocketTypeID) // !ok
//
// RemoveTyped and BorrowTyped check the type and act under one lock, so
// a concurrent reuse of the handle cannot hand them a value of another
// type.
//
// Typed wraps a table and a type ID with a generic API:
//
//	files := resource.NewTyped[*os.File](table, FileTypeID)
//	h := files.Insert(f)
//
// # Observers
//
// Observers receive lifecycle events. EventRemoved fires when a handle
// leaves the table; EventDropped fires later, when the value is actually
// destroyed:
//
//	type logObserver struct{}
//
//	func (logObserver) OnResourceEvent(e resource.Event) {
//	    log.Printf("resource %d %s", e.Handle, e.Type)
//	}
//
//	table.Subscribe(logObserver{})
//
// Observers run synchronously and must not subscribe or unsubscribe from
// inside the callback.
//
// # Cleanup
//
// Values implementing Drop() or io.Closer are cleaned up when destroyed.
// Close releases the table's reference to every value and rejects
// further inserts.
package resource
