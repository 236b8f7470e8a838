package guest

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/ownership/errors"
	"github.com/wippyai/ownership/internal/wat"
	"github.com/wippyai/ownership/ref"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// bump is a fake guest heap that records every call made by the host.
type bump struct {
	live  map[uint32]uint32
	next  uint32
	frees int
	fail  bool
	mu    sync.Mutex
}

func newBump() *bump {
	return &bump{live: map[uint32]uint32{}, next: 16}
}

func (b *bump) alloc(size, align uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return 0
	}
	if align == 0 {
		align = 1
	}
	ptr := (b.next + align - 1) &^ (align - 1)
	b.next = ptr + size + 1
	b.live[ptr] = size
	return ptr
}

func (b *bump) free(ptr uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.live[ptr]; ok {
		delete(b.live, ptr)
		b.frees++
	}
}

func (b *bump) counts() (live, frees int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live), b.frees
}

func newRuntime(t *testing.T) (context.Context, wazero.Runtime) {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })
	return ctx, rt
}

// installHeap exposes heap to guests as env.alloc and env.free.
func installHeap(t *testing.T, ctx context.Context, rt wazero.Runtime, heap *bump) {
	t.Helper()
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, size, align uint32) uint32 { return heap.alloc(size, align) }).
		Export("alloc").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, ptr uint32) { heap.free(ptr) }).
		Export("free").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate env: %v", err)
	}
}

const heapImports = `
	(import "env" "alloc" (func $alloc (param i32 i32) (result i32)))
	(import "env" "free" (func $free (param i32)))
	(memory (export "memory") 1)`

// instantiateGuest compiles src and instantiates it under name.
func instantiateGuest(t *testing.T, ctx context.Context, rt wazero.Runtime, name, src string) api.Module {
	t.Helper()
	bin, err := wat.Compile(src)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	mod, err := rt.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		t.Fatalf("instantiate %s: %v", name, err)
	}
	return mod
}

// reallocGuest exports cabi_realloc and, when withFree is set, cabi_free.
func reallocGuest(t *testing.T, ctx context.Context, rt wazero.Runtime, name string, withFree bool) api.Module {
	t.Helper()
	src := `(module` + heapImports + `
	(func (export "cabi_realloc") (param $old i32) (param $old_size i32) (param $align i32) (param $size i32) (result i32)
		(if (result i32) (i32.eqz (local.get $size))
			(then (call $free (local.get $old)) (i32.const 0))
			(else (call $alloc (local.get $size) (local.get $align)))))`
	if withFree {
		src += `
	(func (export "cabi_free") (param $ptr i32) (param $size i32) (param $align i32)
		(call $free (local.get $ptr)))`
	}
	return instantiateGuest(t, ctx, rt, name, src+`)`)
}

func TestAllocator_RegionFreedOnce(t *testing.T) {
	ctx, rt := newRuntime(t)
	heap := newBump()
	installHeap(t, ctx, rt, heap)
	mod := reallocGuest(t, ctx, rt, "guest", true)

	a, err := NewAllocator(mod)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}

	r, err := a.Alloc(ctx, 64, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if r.Get().Addr == 0 || r.Get().Addr%8 != 0 || r.Get().Size != 64 {
		t.Fatalf("unexpected region %+v", *r.Get())
	}

	clones := make([]ref.Strong[Region], 5)
	for i := range clones {
		clones[i] = r.Clone()
	}
	r.Release()
	for i := range clones {
		if live, _ := heap.counts(); live != 1 {
			t.Fatalf("region freed with %d owners left", len(clones)-i)
		}
		clones[i].Release()
	}

	live, frees := heap.counts()
	if live != 0 || frees != 1 || a.Freed() != 1 {
		t.Fatalf("live=%d frees=%d Freed()=%d, want 0/1/1", live, frees, a.Freed())
	}
}

func TestAllocator_ReallocFallback(t *testing.T) {
	ctx, rt := newRuntime(t)
	heap := newBump()
	installHeap(t, ctx, rt, heap)
	mod := reallocGuest(t, ctx, rt, "guest", false)

	a, err := NewAllocator(mod)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	r, err := a.Alloc(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if r.Get().Align != 1 {
		t.Fatalf("Align = %d, want 1", r.Get().Align)
	}
	r.Release()

	if live, frees := heap.counts(); live != 0 || frees != 1 {
		t.Fatalf("realloc(ptr, size, align, 0) not used: live=%d frees=%d", live, frees)
	}
}

func TestAllocator_SimpleMalloc(t *testing.T) {
	ctx, rt := newRuntime(t)
	heap := newBump()
	installHeap(t, ctx, rt, heap)
	mod := instantiateGuest(t, ctx, rt, "libc", `(module`+heapImports+`
		(func (export "malloc") (param i32) (result i32)
			(call $alloc (local.get 0) (i32.const 1)))
		(func (export "free") (param i32)
			(call $free (local.get 0))))`)

	a, err := NewAllocator(mod)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	r, err := a.Alloc(ctx, 32, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if live, _ := heap.counts(); live != 1 {
		t.Fatalf("live = %d, want 1", live)
	}
	r.Release()
	if a.Freed() != 1 {
		t.Fatalf("Freed() = %d, want 1", a.Freed())
	}
	if live, frees := heap.counts(); live != 0 || frees != 1 {
		t.Fatalf("live=%d frees=%d, want 0/1", live, frees)
	}
}

func TestAllocator_MissingExports(t *testing.T) {
	ctx, rt := newRuntime(t)
	mod := instantiateGuest(t, ctx, rt, "bare", `(module
		(memory (export "memory") 1)
		(func (export "_start"))
		;; wrong arity for every allocator role
		(func (export "malloc") (param i32 i32 i32) (result i32) (i32.const 0)))`)

	_, err := NewAllocator(mod)
	if err == nil {
		t.Fatal("expected error for module without allocator")
	}
	var missing *errors.MissingExportsError
	if !stderrors.As(err, &missing) || len(missing.Exports) != 1 {
		t.Fatalf("expected one MissingExport, got %v", err)
	}
	if missing.Exports[0].Module != "bare" || missing.Exports[0].Role != "allocator" {
		t.Fatalf("unexpected missing export %+v", missing.Exports[0])
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGuest, Kind: errors.KindMissingExport}) {
		t.Fatal("expected missing_export kind")
	}
}

func TestAllocator_ZeroResult(t *testing.T) {
	ctx, rt := newRuntime(t)
	heap := newBump()
	heap.fail = true
	installHeap(t, ctx, rt, heap)
	mod := reallocGuest(t, ctx, rt, "guest", true)

	a, err := NewAllocator(mod)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	before := ref.ReadStats()
	r, err := a.Alloc(ctx, 8, 4)
	if err == nil {
		t.Fatal("expected allocation failure")
	}
	if r.Valid() {
		t.Fatal("failed Alloc returned a live region")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGuest, Kind: errors.KindAllocation}) {
		t.Fatalf("expected allocation kind, got %v", err)
	}
	if ref.ReadStats() != before {
		t.Fatal("failed Alloc created a control block")
	}
}

func TestAllocator_BadAlignment(t *testing.T) {
	ctx, rt := newRuntime(t)
	installHeap(t, ctx, rt, newBump())
	a, err := NewAllocator(reallocGuest(t, ctx, rt, "guest", true))
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	_, err = a.Alloc(ctx, 8, 3)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGuest, Kind: errors.KindInvalidInput}) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestAllocator_FreeFailureLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	ctx, rt := newRuntime(t)
	heap := newBump()
	installHeap(t, ctx, rt, heap)
	mod := instantiateGuest(t, ctx, rt, "faulty", `(module`+heapImports+`
		(func (export "alloc") (param i32 i32) (result i32)
			(call $alloc (local.get 0) (local.get 1)))
		(func (export "free") (param i32)
			unreachable))`)
	a, err := NewAllocator(mod)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	r, err := a.Alloc(ctx, 8, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	r.Release()

	if a.Freed() != 0 {
		t.Fatalf("Freed() = %d after failed free", a.Freed())
	}
	if logs.FilterMessage("guest free failed").Len() != 1 {
		t.Fatalf("expected one warning, got %v", logs.All())
	}
}

func TestSharedAllocator_KeepsModuleOpen(t *testing.T) {
	ctx, rt := newRuntime(t)
	heap := newBump()
	installHeap(t, ctx, rt, heap)
	owner := Share(ctx, reallocGuest(t, ctx, rt, "shared", true))

	a, err := NewSharedAllocator(owner)
	if err != nil {
		t.Fatalf("NewSharedAllocator: %v", err)
	}
	owner.Release()

	r, err := a.Alloc(ctx, 16, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	a.Close()
	if rt.Module("shared") == nil {
		t.Fatal("module closed while a region is live")
	}

	r.Release()
	if a.Freed() != 1 {
		t.Fatalf("Freed() = %d, want 1", a.Freed())
	}
	if rt.Module("shared") != nil {
		t.Fatal("module should close after the last region is released")
	}
	if live, frees := heap.counts(); live != 0 || frees != 1 {
		t.Fatalf("live=%d frees=%d, want 0/1", live, frees)
	}
}

func TestNewSharedAllocator_Empty(t *testing.T) {
	_, err := NewSharedAllocator(ref.Strong[api.Module]{})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGuest, Kind: errors.KindNilPointer}) {
		t.Fatalf("expected nil_pointer, got %v", err)
	}
}

func TestNewAllocator_HostModule(t *testing.T) {
	ctx, rt := newRuntime(t)
	mod, err := rt.NewHostModuleBuilder("host").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, size uint32) uint32 { return 8 }).
		Export("malloc").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	a, err := NewAllocator(mod)
	if a != nil {
		t.Fatal("expected no allocator for a host module")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGuest, Kind: errors.KindInvalidInput}) {
		t.Fatalf("expected invalid_input, got %v", err)
	}

	owner := Share(ctx, mod)
	defer owner.Release()
	if _, err := NewSharedAllocator(owner); err == nil {
		t.Fatal("expected NewSharedAllocator to reject a host module")
	}
	if owner.UseCount() != 1 {
		t.Fatalf("rejected NewSharedAllocator kept a clone: use count %d", owner.UseCount())
	}
}

func TestAllocator_ReleaseAfterModuleClose(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	ctx, rt := newRuntime(t)
	heap := newBump()
	installHeap(t, ctx, rt, heap)
	mod := reallocGuest(t, ctx, rt, "guest", true)

	a, err := NewAllocator(mod)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	r, err := a.Alloc(ctx, 16, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mod.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r.Release()
	if a.Freed() != 0 {
		t.Fatalf("Freed() = %d after module close", a.Freed())
	}
	if logs.FilterMessage("region released after module close").Len() != 1 {
		t.Fatalf("expected one warning, got %v", logs.All())
	}
	if logs.FilterMessage("guest free failed").Len() != 0 {
		t.Fatal("closed module reported as a failed free")
	}
}
