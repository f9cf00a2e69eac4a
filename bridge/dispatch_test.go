package bridge

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/vbridge/errors"
)

func wrapBox(t *testing.T, r *Registry, b *box) *Ref {
	t.Helper()
	ref, err := r.Wrap("box", b, OwnedShared)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return ref
}

func getRef(t *testing.T, r *Registry, ref *Ref, name string) *Ref {
	t.Helper()
	v, err := r.Get(context.Background(), ref.ID(), name)
	if err != nil {
		t.Fatalf("Get(%s): %v", name, err)
	}
	child, ok := v.(*Ref)
	if !ok {
		t.Fatalf("Get(%s) = %T, want *Ref", name, v)
	}
	return child
}

func wantKind(t *testing.T, err error, kind errors.Kind) *errors.Error {
	t.Helper()
	e, ok := errors.As(err)
	if !ok {
		t.Fatalf("got %v, want %s error", err, kind)
	}
	if e.Kind != kind {
		t.Fatalf("got kind %s (%v), want %s", e.Kind, err, kind)
	}
	return e
}

func TestDispatch_GetSet(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	ref := wrapBox(t, r, newBox(3, 1, 2, 3))

	v, err := r.Get(ctx, ref.ID(), "n")
	if err != nil || v != int64(3) {
		t.Fatalf("Get(n) = %v, %v", v, err)
	}

	if err := r.Set(ctx, ref.ID(), "n", int64(10)); err != nil {
		t.Fatalf("Set(n): %v", err)
	}
	if v, _ := r.Get(ctx, ref.ID(), "n"); v != int64(10) {
		t.Fatalf("Get(n) after Set = %v", v)
	}

	// Integral doubles are accepted for integer fields.
	if err := r.Set(ctx, ref.ID(), "n", float64(11)); err != nil {
		t.Fatalf("Set(n, 11.0): %v", err)
	}

	e := wantKind(t, r.Set(ctx, ref.ID(), "n", "x"), errors.KindTypeMismatch)
	if e.Type != "box" || e.Field != "n" {
		t.Errorf("type mismatch context = %s.%s", e.Type, e.Field)
	}

	wantKind(t, r.Set(ctx, ref.ID(), "size", int64(1)), errors.KindReadOnly)

	s, err := r.String(ctx, ref.ID())
	if err != nil || s != "box(b)" {
		t.Errorf("String() = %q, %v", s, err)
	}

	tag, err := r.Tag(ref.ID())
	if err != nil || tag != "box" {
		t.Errorf("Tag() = %q, %v", tag, err)
	}
}

func TestDispatch_UnknownField(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	ref := wrapBox(t, r, newBox(1))

	_, err := r.Get(ctx, ref.ID(), "nope")
	e := wantKind(t, err, errors.KindUnknownField)
	if e.Field != "nope" || e.Type != "box" {
		t.Errorf("error context = %s.%s", e.Type, e.Field)
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("message %q does not name the field", err.Error())
	}

	wantKind(t, r.Set(ctx, ref.ID(), "nope", int64(1)), errors.KindUnknownField)

	_, err = r.Invoke(ctx, ref.ID(), "nope", nil)
	wantKind(t, err, errors.KindUnknownField)
}

func TestDispatch_IndexBase(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		base  int
		first int
	}{
		{"lua", 1, 1},
		{"js", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, WithIndexBase(tt.base))
			ref := wrapBox(t, r, newBox(0, 10, 20, 30))
			items := getRef(t, r, ref, "items")

			n, err := r.Len(ctx, items.ID())
			if err != nil || n != 3 {
				t.Fatalf("Len = %d, %v", n, err)
			}

			for k, want := range []int64{10, 20, 30} {
				v, err := r.Index(ctx, items.ID(), tt.first+k)
				if err != nil || v != want {
					t.Errorf("Index(%d) = %v, %v; want %d", tt.first+k, v, err, want)
				}
			}

			for _, i := range []int{tt.first - 1, tt.first + n} {
				_, err := r.Index(ctx, items.ID(), i)
				e := wantKind(t, err, errors.KindOutOfBounds)
				if e.Value != i {
					t.Errorf("out of bounds value = %v, want %d", e.Value, i)
				}
			}

			if err := r.SetIndex(ctx, items.ID(), tt.first+1, int64(99)); err != nil {
				t.Fatalf("SetIndex: %v", err)
			}
			if v, _ := r.Index(ctx, items.ID(), tt.first+1); v != int64(99) {
				t.Errorf("Index after SetIndex = %v", v)
			}
			wantKind(t, r.SetIndex(ctx, items.ID(), tt.first+n, int64(1)), errors.KindOutOfBounds)

			_, err = r.Index(ctx, ref.ID(), tt.first)
			wantKind(t, err, errors.KindUnsupported)
		})
	}
}

func TestDispatch_DynamicKeys(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	ref := wrapBox(t, r, newBox(0))
	attrs := getRef(t, r, ref, "attrs")

	v, err := r.Get(ctx, attrs.ID(), "DP")
	if err != nil || v != nil {
		t.Fatalf("Get(missing) = %v, %v", v, err)
	}

	steps := []any{int64(10), int64(99), "hello"}
	for _, want := range steps {
		if err := r.Set(ctx, attrs.ID(), "DP", want); err != nil {
			t.Fatalf("Set(DP, %v): %v", want, err)
		}
		got, err := r.Get(ctx, attrs.ID(), "DP")
		if err != nil || got != want {
			t.Fatalf("Get(DP) = %#v, %v; want %#v", got, err, want)
		}
	}

	wantKind(t, r.Set(ctx, attrs.ID(), "DP", []int{1}), errors.KindTypeMismatch)

	keys, err := r.Keys(ctx, attrs.ID())
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if diff := cmp.Diff([]string{"DP"}, keys); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}

	keys, _ = r.Keys(ctx, ref.ID())
	if diff := cmp.Diff([]string{"attrs", "items", "n", "name", "size"}, keys); diff != "" {
		t.Errorf("box Keys mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatch_ReentrantLock(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, WithLockTimeout(testTimeout))
	ref := wrapBox(t, r, newBox(4))

	// Resolving the same cell twice in one call reuses the held lock.
	v, err := r.Invoke(ctx, ref.ID(), "add", []any{ref})
	if err != nil || v != int64(8) {
		t.Fatalf("add(self) = %v, %v", v, err)
	}

	// A child of the same record resolves under the same lock too.
	other := wrapBox(t, r, newBox(1))
	v, err = r.Invoke(ctx, ref.ID(), "add", []any{other})
	if err != nil || v != int64(9) {
		t.Fatalf("add(other) = %v, %v", v, err)
	}

	_, err = r.Invoke(ctx, ref.ID(), "add", []any{"x"})
	wantKind(t, err, errors.KindTypeMismatch)
}

func TestDispatch_Snapshot(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	ref := wrapBox(t, r, newBox(1, 5))

	v, err := r.Invoke(ctx, ref.ID(), "clone", nil)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	cp := v.(*Ref)

	h, err := r.Handle(cp.ID())
	if err != nil || h.Mode() != OwnedShared {
		t.Fatalf("clone handle = %v, %v", h, err)
	}

	if err := r.Set(ctx, cp.ID(), "n", int64(50)); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Get(ctx, ref.ID(), "n"); v != int64(1) {
		t.Errorf("original changed through snapshot: n = %v", v)
	}

	// The snapshot outlives the original.
	ref.Release()
	if v, _ := r.Get(ctx, cp.ID(), "n"); v != int64(50) {
		t.Errorf("snapshot n = %v", v)
	}
}

func TestDispatch_Cancelled(t *testing.T) {
	r := newTestRegistry(t)
	ref := wrapBox(t, r, newBox(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Get(ctx, ref.ID(), "n")
	wantKind(t, err, errors.KindCancelled)
}

func TestDispatch_StaleHandle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	ref := wrapBox(t, r, newBox(1))

	if !ref.Release() {
		t.Fatal("first Release should release")
	}
	if ref.Release() {
		t.Fatal("second Release should be a no-op")
	}

	_, err := r.Get(ctx, ref.ID(), "n")
	wantKind(t, err, errors.KindExpired)
	wantKind(t, r.Release(ref.ID()), errors.KindExpired)
}

func TestDispatch_StaleHandleAfterReuse(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	stale := wrapBox(t, r, newBox(1))
	id := stale.ID()
	stale.Release()

	for i := 0; i < 300; i++ {
		ref := wrapBox(t, r, newBox(2))
		if ref.ID() == id {
			t.Fatalf("wrap %d reused released id %#x", i, uint32(id))
		}
		ref.Release()
	}
	live := wrapBox(t, r, newBox(3))

	_, err := r.Get(ctx, id, "n")
	wantKind(t, err, errors.KindExpired)
	wantKind(t, r.Set(ctx, id, "n", int64(9)), errors.KindExpired)
	if v, err := r.Get(ctx, live.ID(), "n"); err != nil || v != int64(3) {
		t.Fatalf("live n = %v, %v", v, err)
	}
}

func TestDispatch_ReleaseDuringCall(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	dropped := 0
	s := NewShared(newBox(7)).OnDrop(func(any) { dropped++ })
	ref := wrapBox2(t, r, s)
	s.Release()

	// The method releases the cell it is running on, as a finalizer on
	// another goroutine might. The value stays usable until the call ends.
	v, err := r.Invoke(ctx, ref.ID(), "release", []any{ref})
	if err != nil || v != int64(7) {
		t.Fatalf("release = %v, %v", v, err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d after call, want 1", dropped)
	}
	if r.Live() != 0 {
		t.Fatalf("Live() = %d, want 0", r.Live())
	}
}

func TestDispatch_AccessorPanic(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	s := NewShared(newBox(1))
	ref := wrapBox2(t, r, s)

	_, err := r.Invoke(ctx, ref.ID(), "boom", nil)
	wantKind(t, err, errors.KindLockFailed)
	if !s.Poisoned() {
		t.Fatal("panic under lock should poison the cell")
	}

	_, err = r.Get(ctx, ref.ID(), "n")
	wantKind(t, err, errors.KindLockFailed)

	s.ClearPoison()
	if v, err := r.Get(ctx, ref.ID(), "n"); err != nil || v != int64(1) {
		t.Fatalf("Get after ClearPoison = %v, %v", v, err)
	}
}

func wrapBox2(t *testing.T, r *Registry, s *Shared) *Ref {
	t.Helper()
	ref, err := r.Wrap("box", s, OwnedShared)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return ref
}
