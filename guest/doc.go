// Package guest applies shared ownership to wazero guest modules and their
// linear memory.
//
// Share wraps an api.Module so several components can hold it; the module
// is closed when the last owner is released:
//
//	owner := guest.Share(ctx, mod)
//	defer owner.Release()
//
// An Allocator hands out guest memory as ref.Strong[Region] handles. The
// guest's free export runs once, when the last clone of a region is
// released:
//
//	alloc, err := guest.NewAllocator(mod)
//	region, err := alloc.Alloc(ctx, 64, 8)
//	defer region.Release()
//
// Allocation exports are searched in order: cabi_realloc,
// canonical_abi_realloc, alloc, malloc. Free exports: cabi_free,
// canonical_abi_free, free, deallocate. Without a free export a realloc
// allocator is called with a new size of zero.
package guest
