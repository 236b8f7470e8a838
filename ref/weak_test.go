package ref

import "testing"

func TestWeak_Expired(t *testing.T) {
	t.Run("live owner", func(t *testing.T) {
		sp := Make(int32(42))
		w := sp.Weak()
		defer w.Release()
		if w.Expired() {
			t.Fatal("observer expired while owner is live")
		}
		sp.Release()
	})

	t.Run("owner released", func(t *testing.T) {
		var w Weak[int32]
		func() {
			sp := Make(int32(42))
			defer sp.Release()
			w = sp.Weak()
		}()
		if !w.Expired() {
			t.Fatal("observer should be expired")
		}
		w.Release()
	})

	t.Run("reset", func(t *testing.T) {
		sp := Make(int32(42))
		defer sp.Release()
		w := sp.Weak()
		w.Reset()
		if !w.Expired() {
			t.Fatal("reset observer should report expired")
		}
		if sp.WeakCount() != 0 {
			t.Fatalf("WeakCount() = %d after reset, want 0", sp.WeakCount())
		}
	})

	t.Run("unbound", func(t *testing.T) {
		var w Weak[int]
		if !w.Expired() {
			t.Fatal("zero Weak should be expired")
		}
		if got := w.Lock(); got.UseCount() != 0 {
			t.Fatal("Lock on unbound observer should be empty")
		}
		w.Release()
	})
}

func TestWeak_Lock(t *testing.T) {
	sp := Make(int32(42))
	w := sp.Weak()
	defer w.Release()

	got := w.Lock()
	if !got.Valid() || got.Value() != 42 {
		t.Fatalf("Lock() = %v, want live handle to 42", got)
	}
	if sp.UseCount() != 2 {
		t.Fatalf("UseCount() = %d after Lock, want 2", sp.UseCount())
	}
	if !got.Same(sp) || !w.Same(sp) {
		t.Fatal("promoted handle should share the control block")
	}
	if w.WeakCount() != 1 {
		t.Fatalf("Lock changed the observer count to %d", w.WeakCount())
	}

	sp.Release()
	if w.Expired() {
		t.Fatal("promoted handle should keep the payload alive")
	}
	got.Release()
	if !w.Expired() {
		t.Fatal("observer should expire after the promoted handle is released")
	}
	if again := w.Lock(); again.Valid() {
		t.Fatal("Lock after expiry should be empty")
	}
}

func TestWeak_CloneMoveSwap(t *testing.T) {
	a := Make("a")
	b := Make("b")
	defer a.Release()
	defer b.Release()

	wa := a.Weak()
	wa2 := wa.Clone()
	if a.WeakCount() != 2 {
		t.Fatalf("WeakCount() = %d, want 2", a.WeakCount())
	}

	moved := wa2.Move()
	if !wa2.Expired() || wa2.WeakCount() != 0 {
		t.Fatal("moved-from observer should be unbound")
	}
	if a.WeakCount() != 2 {
		t.Fatalf("Move changed WeakCount to %d", a.WeakCount())
	}

	wb := b.Weak()
	wb.Swap(&moved)
	if !wb.Same(a) || !moved.Same(b) {
		t.Fatal("Swap did not exchange control blocks")
	}
	if l := wb.Lock(); l.Value() != "a" {
		t.Fatalf("swapped observer locks to %q", l.Value())
	} else {
		l.Release()
	}

	wa.Release()
	wb.Release()
	moved.Release()
	if a.WeakCount() != 0 || b.WeakCount() != 0 {
		t.Fatalf("WeakCount() = %d/%d after release, want 0", a.WeakCount(), b.WeakCount())
	}
}

func TestWeak_FromEmpty(t *testing.T) {
	var s Strong[int]
	w := NewWeak(s)
	if w.UseCount() != 0 || w.WeakCount() != 0 {
		t.Fatal("observer of an empty handle should be unbound")
	}
	if w.String() != "Weak[int](unbound)" {
		t.Fatalf("String() = %q", w.String())
	}
}

func TestWeak_OutlivesPayload(t *testing.T) {
	before := ReadStats()

	destroyed := false
	s := NewWith(&container{}, DeleterFunc[container](func(*container) { destroyed = true }))
	w := s.Weak()
	w2 := w.Clone()

	s.Release()
	if !destroyed {
		t.Fatal("payload should be destroyed with the last owner")
	}
	after := ReadStats()
	if after.Payloads != before.Payloads {
		t.Fatalf("payload gauge = %d, want %d", after.Payloads, before.Payloads)
	}
	if after.Blocks != before.Blocks+1 {
		t.Fatalf("block gauge = %d, want %d while observers remain", after.Blocks, before.Blocks+1)
	}
	if w.WeakCount() != 2 {
		t.Fatalf("WeakCount() = %d, want 2", w.WeakCount())
	}

	w.Release()
	if ReadStats().Blocks != before.Blocks+1 {
		t.Fatal("block reclaimed while an observer remains")
	}
	w2.Release()
	if ReadStats() != before {
		t.Fatalf("stats = %+v, want %+v after all handles released", ReadStats(), before)
	}
}
