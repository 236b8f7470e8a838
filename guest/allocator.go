package guest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/ownership/errors"
	"github.com/wippyai/ownership/ref"
	"go.uber.org/zap"
)

var (
	allocatorNames = []string{"cabi_realloc", "canonical_abi_realloc", "alloc", "malloc"}
	freeNames      = []string{"cabi_free", "canonical_abi_free", "free", "deallocate"}
)

// Region is a block of guest linear memory.
type Region struct {
	Addr  uint32
	Size  uint32
	Align uint32
}

// Allocator hands out guest memory as owned regions. A region is returned
// to the guest exactly once, when its last owner is released.
//
// Calls into the guest are serialized.
type Allocator struct {
	allocFn    api.Function
	freeFn     api.Function
	mod        api.Module
	module     ref.Strong[api.Module]
	name       string
	allocArity int
	freeArity  int
	freed      atomic.Int64
	stackBuf   [4]uint64
	mu         sync.Mutex
}

// NewAllocator resolves the allocation exports of mod. The caller keeps
// ownership of mod. Regions released after mod is closed are not returned
// to the guest; each one is logged. Host modules are rejected because
// their exports cannot be called directly.
func NewAllocator(mod api.Module) (*Allocator, error) {
	return newAllocator(mod, ref.Strong[api.Module]{})
}

// NewSharedAllocator is like NewAllocator but takes a clone of owner.
// Every live region also holds a clone, so the module stays open until
// the allocator is closed and all regions are released.
func NewSharedAllocator(owner ref.Strong[api.Module]) (*Allocator, error) {
	if !owner.Valid() || *owner.Get() == nil {
		return nil, errors.NilPointer(errors.PhaseGuest, []string{"module"}, "api.Module")
	}
	return newAllocator(*owner.Get(), owner.Clone())
}

func newAllocator(mod api.Module, owner ref.Strong[api.Module]) (*Allocator, error) {
	if mod == nil {
		return nil, errors.NilPointer(errors.PhaseGuest, []string{"module"}, "api.Module")
	}

	allocFn, arity, err := findExport(mod, allocatorNames, 1, 4, 2, 1)
	if err != nil {
		owner.Release()
		return nil, err
	}
	if allocFn == nil {
		owner.Release()
		return nil, errors.NewMissingExportsError(errors.MissingExport{
			Module:     mod.Name(),
			Role:       "allocator",
			Candidates: allocatorNames,
		})
	}

	a := &Allocator{
		allocFn:    allocFn,
		allocArity: arity,
		mod:        mod,
		module:     owner,
		name:       mod.Name(),
	}
	// Lookups on mod already succeeded, so this cannot hit a host module.
	a.freeFn, a.freeArity, _ = findExport(mod, freeNames, 0, 1, 3, 2)
	if a.freeFn == nil && a.allocArity != 4 {
		Logger().Warn("guest has no free export; regions will not be returned",
			zap.String("module", a.name))
	}
	return a, nil
}

// findExport returns the first export among names with one of the given
// parameter counts and the given number of results.
func findExport(mod api.Module, names []string, results int, arities ...int) (api.Function, int, error) {
	for _, name := range names {
		fn, err := exportedFunction(mod, name)
		if err != nil {
			return nil, 0, err
		}
		if fn == nil {
			continue
		}
		def := fn.Definition()
		if len(def.ResultTypes()) != results {
			continue
		}
		params := len(def.ParamTypes())
		for _, n := range arities {
			if params == n {
				return fn, n, nil
			}
		}
	}
	return nil, 0, nil
}

// exportedFunction looks up name on mod. wazero panics on lookups against
// host modules; that is reported as an error.
func exportedFunction(mod api.Module, name string) (fn api.Function, err error) {
	defer func() {
		if r := recover(); r != nil {
			fn = nil
			err = errors.New(errors.PhaseGuest, errors.KindInvalidInput).
				Path(mod.Name(), name).
				Detail("exports of host modules cannot be called: %v", r).
				Build()
		}
	}()
	return mod.ExportedFunction(name), nil
}

// Alloc allocates size bytes aligned to align in guest memory. An align
// of 0 is treated as 1.
func (a *Allocator) Alloc(ctx context.Context, size, align uint32) (ref.Strong[Region], error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return ref.Strong[Region]{}, errors.InvalidInput(errors.PhaseGuest, "alignment must be a power of two")
	}

	ptr, err := a.call(ctx, size, align)
	if err != nil {
		return ref.Strong[Region]{}, errors.GuestAllocationFailed(size, align, err)
	}
	if ptr == 0 {
		return ref.Strong[Region]{}, errors.GuestAllocationFailed(size, align, nil)
	}

	a.mu.Lock()
	module := a.module.Clone()
	a.mu.Unlock()

	r := &Region{Addr: ptr, Size: size, Align: align}
	return ref.NewWith(r, &regionFreer{
		alloc:  a,
		ctx:    context.WithoutCancel(ctx),
		module: module,
	}), nil
}

func (a *Allocator) call(ctx context.Context, size, align uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stack := a.stackBuf[:a.allocArity]
	switch a.allocArity {
	case 4:
		stack[0] = 0
		stack[1] = 0
		stack[2] = uint64(align)
		stack[3] = uint64(size)
	case 2:
		stack[0] = uint64(size)
		stack[1] = uint64(align)
	default:
		stack[0] = uint64(size)
	}
	if err := a.allocFn.CallWithStack(ctx, stack); err != nil {
		return 0, err
	}
	return uint32(stack[0]), nil
}

func (a *Allocator) free(ctx context.Context, r Region) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		fn    api.Function
		stack []uint64
	)
	switch {
	case a.freeFn != nil:
		fn = a.freeFn
		stack = a.stackBuf[:a.freeArity]
		stack[0] = uint64(r.Addr)
		if a.freeArity > 1 {
			stack[1] = uint64(r.Size)
		}
		if a.freeArity > 2 {
			stack[2] = uint64(r.Align)
		}
	case a.allocArity == 4:
		fn = a.allocFn
		stack = a.stackBuf[:4]
		stack[0] = uint64(r.Addr)
		stack[1] = uint64(r.Size)
		stack[2] = uint64(r.Align)
		stack[3] = 0
	default:
		return
	}

	if a.mod.IsClosed() {
		Logger().Warn("region released after module close",
			zap.String("module", a.name),
			zap.Uint32("ptr", r.Addr),
			zap.Uint32("size", r.Size))
		return
	}
	if err := fn.CallWithStack(ctx, stack); err != nil {
		Logger().Warn("guest free failed",
			zap.String("module", a.name),
			zap.Uint32("ptr", r.Addr),
			zap.Uint32("size", r.Size),
			zap.Error(err))
		return
	}
	a.freed.Add(1)
}

// Freed returns the number of regions returned to the guest.
func (a *Allocator) Freed() int64 {
	return a.freed.Load()
}

// Close drops the allocator's reference to a shared module. Live regions
// keep the module open until they are released.
func (a *Allocator) Close() error {
	a.mu.Lock()
	owner := a.module.Move()
	a.mu.Unlock()
	owner.Release()
	return nil
}

type regionFreer struct {
	alloc  *Allocator
	ctx    context.Context
	module ref.Strong[api.Module]
}

func (f *regionFreer) Delete(p *Region) {
	defer f.module.Release()
	if p == nil || p.Addr == 0 {
		return
	}
	f.alloc.free(f.ctx, *p)
	*p = Region{}
}
