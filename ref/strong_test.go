package ref

import (
	stderrors "errors"
	"math/rand"
	"testing"

	"github.com/wippyai/ownership/errors"
)

type container struct {
	n int
}

func (c *container) Foo() int { return 1 }

func TestStrong_Scenario(t *testing.T) {
	s1 := Make(42)
	if s1.UseCount() != 1 {
		t.Fatalf("s1.UseCount() = %d, want 1", s1.UseCount())
	}

	s2 := s1.Clone()
	if s1.UseCount() != 2 || s2.UseCount() != 2 {
		t.Fatalf("use counts = %d/%d, want 2/2", s1.UseCount(), s2.UseCount())
	}

	s1.Release()
	if s2.UseCount() != 1 {
		t.Fatalf("s2.UseCount() = %d, want 1", s2.UseCount())
	}

	w := s2.Weak()
	if w.Expired() {
		t.Fatal("observer should not be expired while s2 is live")
	}

	s2.Release()
	if !w.Expired() {
		t.Fatal("observer should be expired after the last owner is released")
	}
	if got := w.Lock(); got.Valid() || got.UseCount() != 0 {
		t.Fatalf("Lock after expiry returned %v", got)
	}
	w.Release()
}

func TestStrong_Move(t *testing.T) {
	s1 := Make(container{})
	raw := s1.Get()

	s2 := s1.Move()
	if s1.UseCount() != 0 || s1.Get() != nil {
		t.Fatalf("moved-from handle not empty: %v", s1)
	}
	if s2.Get() != raw || s2.UseCount() != 1 {
		t.Fatalf("moved-to handle = %v, want ptr %p use 1", s2, raw)
	}
	s2.Release()
}

func TestStrong_MoveAssignment(t *testing.T) {
	s1 := Make(container{})
	raw := s1.Get()

	var s2 Strong[container]
	s2 = s1.Move()
	if s1.UseCount() != 0 || s1.Get() != nil || s2.Get() != raw || s2.UseCount() != 1 {
		t.Fatalf("s1=%v s2=%v", s1, s2)
	}
	s2.Release()
}

func TestStrong_CloneAssignment(t *testing.T) {
	s1 := Make(container{})
	s2 := s1.Clone()
	s3 := s2.Clone()

	if s1.UseCount() != 3 || s2.UseCount() != 3 || s3.UseCount() != 3 {
		t.Fatalf("use counts %d %d %d, want 3", s1.UseCount(), s2.UseCount(), s3.UseCount())
	}
	if s1.Get() != s2.Get() || s2.Get() != s3.Get() {
		t.Fatal("clones should share the payload")
	}
	if !s1.Same(s3) {
		t.Fatal("clones should share the control block")
	}
	s1.Release()
	s2.Release()
	s3.Release()
}

func TestStrong_UseCountScoped(t *testing.T) {
	s1 := Make(container{})
	s2 := s1.Clone()
	func() {
		s3 := s2.Clone()
		defer s3.Release()
	}()

	if s1.UseCount() != 2 || s2.UseCount() != 2 || s1.Get() != s2.Get() {
		t.Fatalf("use counts %d %d, want 2", s1.UseCount(), s2.UseCount())
	}
	s1.Release()
	s2.Release()
}

func TestStrong_Reset(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := Make(container{})
		s.Reset()
		if s.Valid() {
			t.Fatal("Reset handle should not be valid")
		}
	})

	t.Run("to pointer", func(t *testing.T) {
		s := Make(container{})
		old := s.Weak()
		defer old.Release()

		p := &container{n: 7}
		s.ResetTo(p)
		if s.Get() != p || s.UseCount() != 1 {
			t.Fatalf("after ResetTo: %v", s)
		}
		if !old.Expired() {
			t.Fatal("previous payload should be destroyed by ResetTo")
		}
		s.Release()
	})

	t.Run("with deleter", func(t *testing.T) {
		s := Make(container{})
		p := &container{n: 9}
		calls := 0
		var seen *container
		s.ResetWith(p, DeleterFunc[container](func(c *container) {
			calls++
			seen = c
		}))
		if s.Get() != p || s.UseCount() != 1 {
			t.Fatalf("after ResetWith: %v", s)
		}
		if calls != 0 {
			t.Fatal("deleter ran before release")
		}
		s.Release()
		if calls != 1 || seen != p {
			t.Fatalf("deleter calls = %d (ptr %p), want 1 on %p", calls, seen, p)
		}
		s.Release()
		if calls != 1 {
			t.Fatalf("deleter ran %d times after double Release", calls)
		}
	})
}

func TestStrong_Swap(t *testing.T) {
	s1 := Make(1)
	s2 := s1.Clone()
	s3 := Make(2)
	raw1 := s1.Get()
	raw3 := s3.Get()

	s1.Swap(&s3)

	if s1.UseCount() != 1 || s2.UseCount() != 2 || s3.UseCount() != 2 {
		t.Fatalf("use counts %d %d %d, want 1 2 2", s1.UseCount(), s2.UseCount(), s3.UseCount())
	}
	if s2.Get() != s3.Get() || s2.Get() != raw1 || s1.Get() != raw3 {
		t.Fatal("Swap exchanged the wrong pointers")
	}
	s1.Release()
	s2.Release()
	s3.Release()
}

func TestStrong_Access(t *testing.T) {
	s1 := Make(1)
	defer s1.Release()
	if s1.Value() != 1 {
		t.Fatalf("Value() = %d, want 1", s1.Value())
	}
	*s1.Get() = 5
	if s1.Value() != 5 {
		t.Fatalf("Value() after write = %d, want 5", s1.Value())
	}

	c := Make(container{})
	defer c.Release()
	if c.Get().Foo() != 1 {
		t.Fatal("method call through Get failed")
	}
	if !c.Valid() {
		t.Fatal("Make handle should be valid")
	}
}

func TestStrong_ValueOnEmptyPanics(t *testing.T) {
	var s Strong[int]

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok {
			t.Fatalf("expected error panic, got %v", r)
		}
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseAccess, Kind: errors.KindUseAfterExpiry}) {
			t.Fatalf("unexpected panic error %v", err)
		}
	}()
	_ = s.Value()
}

func TestStrong_NilPayload(t *testing.T) {
	s := New[container](nil)
	if s.UseCount() != 1 {
		t.Fatalf("UseCount() = %d, want 1", s.UseCount())
	}
	if s.Valid() {
		t.Fatal("nil payload handle should not be valid")
	}
	s.Release()
}

func TestStrong_ZeroValue(t *testing.T) {
	var s Strong[int]
	if s.UseCount() != 0 || s.Get() != nil || s.Valid() {
		t.Fatal("zero Strong should be empty")
	}
	c := s.Clone()
	if c.UseCount() != 0 {
		t.Fatal("clone of empty handle should be empty")
	}
	w := s.Weak()
	if !w.Expired() {
		t.Fatal("observer of empty handle should be expired")
	}
	s.Release()
	s.Reset()
	if s.String() != "Strong[int](empty)" {
		t.Fatalf("String() = %q", s.String())
	}
}

func TestMakeFunc(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s, err := MakeFunc(func() (*container, error) {
			return &container{n: 3}, nil
		})
		if err != nil {
			t.Fatalf("MakeFunc: %v", err)
		}
		defer s.Release()
		if s.Value().n != 3 {
			t.Fatalf("payload = %+v", s.Value())
		}
	})

	t.Run("failure", func(t *testing.T) {
		before := ReadStats()
		cause := stderrors.New("out of slots")
		s, err := MakeFunc(func() (*container, error) {
			return nil, cause
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if !stderrors.Is(err, cause) {
			t.Fatalf("error %v should wrap cause", err)
		}
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConstruct, Kind: errors.KindAllocation}) {
			t.Fatalf("error %v should be an allocation failure", err)
		}
		if s.UseCount() != 0 {
			t.Fatal("failed construction must not yield a handle")
		}
		if after := ReadStats(); after != before {
			t.Fatalf("failed construction allocated a block: %+v -> %+v", before, after)
		}
	})
}

func TestElem(t *testing.T) {
	s := NewSlice([]string{"a", "b", "c"})
	defer s.Release()

	if Elem(s, 1) != "b" {
		t.Fatalf("Elem(1) = %q", Elem(s, 1))
	}

	defer func() {
		err, ok := recover().(*errors.Error)
		if !ok || err.Kind != errors.KindOutOfBounds {
			t.Fatalf("expected out_of_bounds panic, got %v", err)
		}
	}()
	Elem(s, 3)
}

// TestStrong_RandomOps checks that UseCount always equals the number of
// live owners under arbitrary clone/move/release sequences.
func TestStrong_RandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	destroyed := 0

	for iter := 0; iter < 200; iter++ {
		handles := []Strong[container]{
			NewWith(&container{}, DeleterFunc[container](func(*container) { destroyed++ })),
		}
		live := 1
		wantDestroyed := destroyed + 1

		for step := 0; step < 50 && live > 0; step++ {
			i := rng.Intn(len(handles))
			switch rng.Intn(3) {
			case 0:
				if handles[i].UseCount() > 0 {
					handles = append(handles, handles[i].Clone())
					live++
				}
			case 1:
				if handles[i].UseCount() > 0 {
					before := handles[i].UseCount()
					handles = append(handles, handles[i].Move())
					if handles[len(handles)-1].UseCount() != before {
						t.Fatal("Move changed the use count")
					}
				}
			case 2:
				if handles[i].UseCount() > 0 {
					handles[i].Release()
					live--
				}
			}

			for _, h := range handles {
				if h.UseCount() != 0 && h.UseCount() != int64(live) {
					t.Fatalf("iter %d step %d: UseCount() = %d, want %d", iter, step, h.UseCount(), live)
				}
			}
		}

		for i := range handles {
			handles[i].Release()
		}
		if destroyed != wantDestroyed {
			t.Fatalf("iter %d: destroyed = %d, want %d", iter, destroyed, wantDestroyed)
		}
	}
}
