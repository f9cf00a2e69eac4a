package resource

import (
	"errors"
	"sync"
	"testing"
)

func TestLocalBackend_Basic(t *testing.T) {
	b := NewLocalBackend()

	// Create a cell
	handle, err := b.Create(1, "test value")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if handle == 0 {
		t.Fatal("Expected non-zero handle")
	}

	// Get it back
	val, ok := b.Get(handle)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	// Drop it
	val, ok = b.Drop(handle)
	if !ok {
		t.Fatal("Drop failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	// Should not exist anymore
	_, ok = b.Get(handle)
	if ok {
		t.Fatal("Expected Get to fail after Drop")
	}
}

func TestLocalBackend_TypeID(t *testing.T) {
	b := NewLocalBackend()

	handle, _ := b.Create(7, struct{}{})
	typeID, ok := b.TypeID(handle)
	if !ok {
		t.Fatal("TypeID failed")
	}
	if typeID != 7 {
		t.Fatalf("Expected typeID 7, got %d", typeID)
	}
}

func TestLocalBackend_Borrow(t *testing.T) {
	b := NewLocalBackend()

	handle, _ := b.Create(1, "v")

	// Borrow
	if !b.Borrow(handle) {
		t.Fatal("Borrow failed")
	}

	// Drop is deferred while borrowed
	_, ok := b.Drop(handle)
	if ok {
		t.Fatal("Drop should be deferred with outstanding borrow")
	}
	if !b.Pending(handle) {
		t.Fatal("Expected pending drop")
	}

	// Returning the borrow completes the drop
	val, dropped := b.ReturnBorrow(handle)
	if !dropped {
		t.Fatal("ReturnBorrow should complete the pending drop")
	}
	if val != "v" {
		t.Fatalf("Expected 'v', got %v", val)
	}
	if b.Len() != 0 {
		t.Fatalf("Expected Len() == 0, got %d", b.Len())
	}
}

func TestLocalBackend_MultipleBorrows(t *testing.T) {
	b := NewLocalBackend()

	handle, _ := b.Create(1, 100)

	// Multiple borrows
	for i := 0; i < 5; i++ {
		if !b.Borrow(handle) {
			t.Fatalf("Borrow %d failed", i)
		}
	}

	if _, ok := b.Drop(handle); ok {
		t.Fatal("Drop should be deferred with outstanding borrows")
	}

	// Return all but the last borrow
	for i := 0; i < 4; i++ {
		if _, dropped := b.ReturnBorrow(handle); dropped {
			t.Fatalf("ReturnBorrow %d dropped too early", i)
		}
	}

	if _, dropped := b.ReturnBorrow(handle); !dropped {
		t.Fatal("Last ReturnBorrow should drop")
	}
}

func TestLocalBackend_StaleHandle(t *testing.T) {
	b := NewLocalBackend()

	h1, _ := b.Create(1, "first")
	b.Drop(h1)

	// The freed slot is reused with a new generation
	h2, _ := b.Create(1, "second")
	if h2.slot() != h1.slot() {
		t.Fatalf("Expected slot reuse, got %d and %d", h1.slot(), h2.slot())
	}
	if h1 == h2 {
		t.Fatal("Reused slot must carry a new generation")
	}

	if _, err := b.Lookup(h1); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("Lookup(stale) = %v, want ErrStaleHandle", err)
	}
	if v, err := b.Lookup(h2); err != nil || v != "second" {
		t.Fatalf("Lookup(h2) = %v, %v", v, err)
	}

	// A stale drop must not remove the new occupant
	if _, ok := b.Drop(h1); ok {
		t.Fatal("Drop(stale) should fail")
	}
	if _, ok := b.Get(h2); !ok {
		t.Fatal("h2 should survive a stale drop")
	}
}

func TestLocalBackend_GenerationExhausted(t *testing.T) {
	b := NewLocalBackend()

	first, _ := b.Create(1, "first")
	b.Drop(first)

	// Churn the slot through every generation
	for i := 0; i < 300; i++ {
		h, err := b.Create(1, i)
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		if h == first {
			t.Fatalf("Create %d returned the released handle %#x", i, uint32(h))
		}
		if _, err := b.Lookup(first); !errors.Is(err, ErrStaleHandle) {
			t.Fatalf("Lookup(first) after %d reuses = %v, want ErrStaleHandle", i+1, err)
		}
		b.Drop(h)
	}

	// Slot 0 ran out after 256 occupants and slot 1 took over
	h, _ := b.Create(1, "last")
	if h.slot() != 1 {
		t.Fatalf("Expected slot 1 after retirement, got %d", h.slot())
	}
	if b.Len() != 1 {
		t.Fatalf("Expected 1 live cell, got %d", b.Len())
	}
}

func TestLocalBackend_Close(t *testing.T) {
	b := NewLocalBackend()

	d := &dropCounter{}
	b.Create(1, d)
	b.Create(1, 2)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.count != 1 {
		t.Fatalf("Expected Drop() on close, called %d times", d.count)
	}

	// Operations should fail after close
	_, err := b.Create(1, "test")
	if !errors.Is(err, ErrClosed) {
		t.Fatal("Expected ErrClosed after Close")
	}
}

func TestLocalBackend_Concurrent(t *testing.T) {
	b := NewLocalBackend()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			h, _ := b.Create(1, id)
			b.Borrow(h)
			b.Drop(h)
			b.ReturnBorrow(h)
		}(i)
	}

	wg.Wait()

	if b.Len() != 0 {
		t.Fatalf("Expected every cell dropped, %d remain", b.Len())
	}
}

func TestLocalBackend_Len(t *testing.T) {
	b := NewLocalBackend()

	if b.Len() != 0 {
		t.Fatal("Expected Len() == 0 initially")
	}

	h1, _ := b.Create(1, "a")
	h2, _ := b.Create(1, "b")
	b.Create(1, "c")

	if b.Len() != 3 {
		t.Fatalf("Expected Len() == 3, got %d", b.Len())
	}

	b.Drop(h1)
	if b.Len() != 2 {
		t.Fatalf("Expected Len() == 2, got %d", b.Len())
	}

	b.Drop(h2)
	if b.Len() != 1 {
		t.Fatalf("Expected Len() == 1, got %d", b.Len())
	}
}

func TestLocalBackend_Each(t *testing.T) {
	b := NewLocalBackend()

	b.Create(1, "a")
	b.Create(2, "b")
	b.Create(1, "c")

	count := 0
	b.Each(func(h Handle, typeID uint32, value any) bool {
		count++
		return true
	})

	if count != 3 {
		t.Fatalf("Expected to iterate over 3 items, got %d", count)
	}

	// Test early termination
	count = 0
	b.Each(func(h Handle, typeID uint32, value any) bool {
		count++
		return false
	})

	if count != 1 {
		t.Fatalf("Expected to iterate over 1 item (early term), got %d", count)
	}
}

func TestLocalBackend_InvalidHandle(t *testing.T) {
	b := NewLocalBackend()

	// Handle 0 is always invalid
	if _, ok := b.Get(0); ok {
		t.Fatal("Handle 0 should be invalid")
	}
	if b.Borrow(0) {
		t.Fatal("Handle 0 should fail Borrow")
	}
	if _, ok := b.ReturnBorrow(0); ok {
		t.Fatal("Handle 0 should fail ReturnBorrow")
	}
	if _, ok := b.Drop(0); ok {
		t.Fatal("Handle 0 should fail Drop")
	}

	// Non-existent handle
	if _, err := b.Lookup(999); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("Lookup(999) = %v, want ErrInvalidHandle", err)
	}
}
