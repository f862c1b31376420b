// Package arena provides a fixed-capacity slot arena with O(1) reuse of freed
// slots. It is the allocation primitive underneath the instance and material
// stores: slots are stable integer indices into a GPU-resident buffer, handed
// out from a high-water mark and recycled through a LIFO free list.
package arena

import (
	"errors"
	"fmt"
)

// ErrCapacityExceeded is returned when an allocation would exceed the arena's
// fixed capacity. The capacity is set at creation and never grows.
var ErrCapacityExceeded = errors.New("arena: capacity exceeded")

// ErrInvalidSlot is returned when a slot outside the allocated range, or one
// that is already free, is passed to Free.
var ErrInvalidSlot = errors.New("arena: invalid slot")

// SlotAllocator hands out stable integer slots in the range [0, capacity).
// A freed slot is reissued before the high-water mark advances, so the set of
// live slots is always {0..next-1} minus the free list.
//
// SlotAllocator is not safe for concurrent use; callers guard it with their
// own mutex (the stores built on top of it already do).
type SlotAllocator struct {
	capacity uint32
	next     uint32   // high-water mark: slots >= next have never been issued
	freeList []uint32 // vacated slots, reused LIFO
	freeSet  map[uint32]struct{}
}

// NewSlotAllocator creates a SlotAllocator with the given fixed capacity.
//
// Parameters:
//   - capacity: the total number of slots the arena can ever hand out
//
// Returns:
//   - *SlotAllocator: the initialized allocator
func NewSlotAllocator(capacity uint32) *SlotAllocator {
	return &SlotAllocator{
		capacity: capacity,
		freeSet:  make(map[uint32]struct{}),
	}
}

// Capacity returns the fixed capacity set at creation.
//
// Returns:
//   - uint32: the total slot capacity
func (a *SlotAllocator) Capacity() uint32 {
	return a.capacity
}

// Count returns the number of slots currently in use.
//
// Returns:
//   - uint32: issued slots minus freed slots
func (a *SlotAllocator) Count() uint32 {
	return a.next - uint32(len(a.freeList))
}

// Allocate hands out a slot, reusing the most recently freed slot when one is
// available and extending the high-water mark otherwise.
//
// Returns:
//   - uint32: the allocated slot index
//   - error: ErrCapacityExceeded if every slot is in use
func (a *SlotAllocator) Allocate() (uint32, error) {
	if n := len(a.freeList); n > 0 {
		slot := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		delete(a.freeSet, slot)
		return slot, nil
	}
	if a.next >= a.capacity {
		return 0, fmt.Errorf("%w: all %d slots in use", ErrCapacityExceeded, a.capacity)
	}
	slot := a.next
	a.next++
	return slot, nil
}

// Free returns a slot to the arena for reuse. The slot must have been issued
// and not already freed.
//
// Parameters:
//   - slot: the slot index to vacate
//
// Returns:
//   - error: ErrInvalidSlot if the slot was never issued or is already free
func (a *SlotAllocator) Free(slot uint32) error {
	if slot >= a.next {
		return fmt.Errorf("%w: slot %d was never allocated", ErrInvalidSlot, slot)
	}
	if _, dup := a.freeSet[slot]; dup {
		return fmt.Errorf("%w: slot %d is already free", ErrInvalidSlot, slot)
	}
	a.freeList = append(a.freeList, slot)
	a.freeSet[slot] = struct{}{}
	return nil
}

// InUse reports whether a slot is currently allocated.
//
// Parameters:
//   - slot: the slot index to check
//
// Returns:
//   - bool: true if the slot has been issued and not freed
func (a *SlotAllocator) InUse(slot uint32) bool {
	if slot >= a.next {
		return false
	}
	_, free := a.freeSet[slot]
	return !free
}
