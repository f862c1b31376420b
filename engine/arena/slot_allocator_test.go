package arena

import (
	"errors"
	"testing"
)

func TestAllocateSequential(t *testing.T) {
	a := NewSlotAllocator(4)
	for want := uint32(0); want < 4; want++ {
		slot, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
		if slot != want {
			t.Errorf("Allocate() = %d, want %d", slot, want)
		}
	}
	if _, err := a.Allocate(); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Allocate() beyond capacity error = %v, want ErrCapacityExceeded", err)
	}
}

func TestFreedSlotReissuedBeforeHighWater(t *testing.T) {
	a := NewSlotAllocator(8)
	for i := 0; i < 3; i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
	}
	if err := a.Free(1); err != nil {
		t.Fatalf("Free(1) error = %v", err)
	}
	slot, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if slot != 1 {
		t.Errorf("Allocate() after Free(1) = %d, want the freed slot 1", slot)
	}
	// High-water mark resumes only once the free list is drained.
	slot, err = a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if slot != 3 {
		t.Errorf("Allocate() = %d, want 3", slot)
	}
}

func TestFreeValidation(t *testing.T) {
	a := NewSlotAllocator(4)
	if err := a.Free(0); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("Free of never-allocated slot error = %v, want ErrInvalidSlot", err)
	}
	slot, _ := a.Allocate()
	if err := a.Free(slot); err != nil {
		t.Fatalf("Free(%d) error = %v", slot, err)
	}
	if err := a.Free(slot); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("double Free error = %v, want ErrInvalidSlot", err)
	}
}

func TestCountAndInUse(t *testing.T) {
	a := NewSlotAllocator(4)
	s0, _ := a.Allocate()
	s1, _ := a.Allocate()
	if a.Count() != 2 {
		t.Errorf("Count() = %d, want 2", a.Count())
	}
	if !a.InUse(s0) || !a.InUse(s1) {
		t.Error("allocated slots should report InUse")
	}
	if a.InUse(3) {
		t.Error("never-issued slot should not report InUse")
	}
	a.Free(s0)
	if a.InUse(s0) {
		t.Error("freed slot should not report InUse")
	}
	if a.Count() != 1 {
		t.Errorf("Count() after free = %d, want 1", a.Count())
	}
}
