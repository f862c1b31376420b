// Package instance implements the per-instance render data store. It owns two
// GPU-resident streams mirrored on the CPU:
//
//   - a storage buffer of GPUInstanceData records addressed by stable storage
//     slots, and
//   - a densely packed buffer of active storage-slot indices, partitioned into
//     contiguous per-allocation regions and consumed directly by instanced
//     draws via instance_index.
//
// Splitting "exists" (storage slot) from "drawn" (active index entry) lets
// visibility toggle without touching instance data, and keeps every draw's
// active instances contiguous so one indexed-instanced draw covers them.
package instance

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Carmen-Shannon/onyx-go/engine/arena"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
)

// ErrCapacityExceeded is returned when a registration would push the sum of
// allocation reservations past the store capacity. Aliased from the arena so
// errors.Is matches across the slot layer and the store layer.
var ErrCapacityExceeded = arena.ErrCapacityExceeded

// ErrInvalidHandle is returned when an instance or allocation id is unknown.
var ErrInvalidHandle = errors.New("instance: invalid handle")

// ErrAllocationFull is returned by AddInstance when the target allocation
// already holds as many instances as its registered capacity.
var ErrAllocationFull = errors.New("instance: allocation full")

const (
	// InstanceDataBinding is the bind group binding of the instance storage buffer.
	InstanceDataBinding = 0
	// ActiveIndexBinding is the bind group binding of the active index stream.
	ActiveIndexBinding = 1
)

// Allocation is a read-only snapshot of one registered allocation's state.
type Allocation struct {
	ID                uint32
	Capacity          uint32
	InstanceIndexBase uint32
	NumInstances      uint32
	NumActive         uint32
}

// instanceRecord tracks one instance's location across both streams.
type instanceRecord struct {
	id           uint32
	allocationID uint32
	storageSlot  uint32
	active       bool
}

// allocationState is the mutable backing of an Allocation snapshot.
// activeIDs lists active instance ids in activation order; entry j corresponds
// to active-stream position base+j.
type allocationState struct {
	id           uint32
	capacity     uint32
	base         uint32
	numInstances uint32
	activeIDs    []uint32
}

// instanceStore is the unexported implementation of Store.
type instanceStore struct {
	mu *sync.RWMutex

	capacity  uint32
	reserved  uint32
	allocator *arena.SlotAllocator

	nextInstanceID   uint32
	nextAllocationID uint32
	instances        map[uint32]*instanceRecord
	allocations      map[uint32]*allocationState

	// CPU mirrors of the two GPU buffers. storageMirror is capacity*80 bytes,
	// activeMirror is capacity u32 entries.
	storageMirror []byte
	activeMirror  []uint32

	provider bind_group_provider.BindGroupProvider
	staged   []bind_group_provider.BufferWrite
}

// Store manages per-instance render data and the active index stream backing
// instanced draws. All methods are safe for concurrent use.
type Store interface {
	// Capacity returns the fixed instance capacity set at creation.
	//
	// Returns:
	//   - uint32: the total instance capacity
	Capacity() uint32

	// RegisterAllocation reserves a contiguous region of the active index
	// stream for one model group. Reservations are permanent for the store's
	// lifetime.
	//
	// Parameters:
	//   - capacity: the maximum number of simultaneously existing instances
	//
	// Returns:
	//   - uint32: the allocation id
	//   - error: ErrCapacityExceeded when reservations would exceed the store capacity
	RegisterAllocation(capacity uint32) (uint32, error)

	// AddInstance creates an instance in an allocation, writes its data to the
	// storage stream, and optionally activates it. Instance ids are monotonic
	// and never reused.
	//
	// Parameters:
	//   - allocationID: the owning allocation
	//   - data: the initial per-instance render data
	//   - activate: whether the instance should be drawn immediately
	//
	// Returns:
	//   - uint32: the new instance id
	//   - error: ErrInvalidHandle for an unknown allocation, ErrAllocationFull
	//     when the allocation is at capacity
	AddInstance(allocationID uint32, data GPUInstanceData, activate bool) (uint32, error)

	// ActivateInstance appends the instance's storage slot to its allocation's
	// active region. Activating an already active instance warns and no-ops.
	//
	// Parameters:
	//   - id: the instance id
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id
	ActivateInstance(id uint32) error

	// DeactivateInstance removes the instance's entry from the active region,
	// shifting later entries of the same allocation down to keep the region
	// dense. Deactivating an inactive instance warns and no-ops.
	//
	// Parameters:
	//   - id: the instance id
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id
	DeactivateInstance(id uint32) error

	// UpdateInstanceData overwrites the instance's storage record. Activation
	// state is untouched.
	//
	// Parameters:
	//   - id: the instance id
	//   - data: the replacement render data
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id
	UpdateInstanceData(id uint32, data GPUInstanceData) error

	// RemoveInstance deactivates the instance if needed, returns its storage
	// slot to the free list, and drops the record. The id is never reused.
	//
	// Parameters:
	//   - id: the instance id
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id
	RemoveInstance(id uint32) error

	// InstanceData reads the instance's record back from the CPU mirror.
	//
	// Parameters:
	//   - id: the instance id
	//
	// Returns:
	//   - GPUInstanceData: the stored record
	//   - error: ErrInvalidHandle for an unknown id
	InstanceData(id uint32) (GPUInstanceData, error)

	// InstanceActive reports whether the instance currently occupies an active
	// region entry.
	//
	// Parameters:
	//   - id: the instance id
	//
	// Returns:
	//   - bool: true when active
	//   - error: ErrInvalidHandle for an unknown id
	InstanceActive(id uint32) (bool, error)

	// Allocation returns a snapshot of one allocation's counters.
	//
	// Parameters:
	//   - allocationID: the allocation id
	//
	// Returns:
	//   - Allocation: the snapshot
	//   - error: ErrInvalidHandle for an unknown id
	Allocation(allocationID uint32) (Allocation, error)

	// ActiveSlots returns a copy of the allocation's active region: the storage
	// slots of its active instances in activation order.
	//
	// Parameters:
	//   - allocationID: the allocation id
	//
	// Returns:
	//   - []uint32: the active storage slots
	//   - error: ErrInvalidHandle for an unknown id
	ActiveSlots(allocationID uint32) ([]uint32, error)

	// StagedWriteData drains and returns the buffer writes accumulated since
	// the previous drain, in the order they were staged.
	//
	// Returns:
	//   - []bind_group_provider.BufferWrite: the pending writes
	StagedWriteData() []bind_group_provider.BufferWrite

	// BindGroupProvider returns the provider holding this store's GPU buffers.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the provider
	BindGroupProvider() bind_group_provider.BindGroupProvider
}

var _ Store = &instanceStore{}

// NewStore creates an instance store with a fixed capacity shared by the
// storage stream, the active index stream, and the sum of allocation
// reservations.
//
// Parameters:
//   - capacity: the total instance capacity
//   - opts: optional configuration
//
// Returns:
//   - Store: the initialized store
func NewStore(capacity uint32, opts ...StoreOption) Store {
	s := &instanceStore{
		mu:            &sync.RWMutex{},
		capacity:      capacity,
		allocator:     arena.NewSlotAllocator(capacity),
		instances:     make(map[uint32]*instanceRecord),
		allocations:   make(map[uint32]*allocationState),
		storageMirror: make([]byte, int(capacity)*gpuInstanceDataSize),
		activeMirror:  make([]uint32, capacity),
	}
	cfg := storeConfig{label: "instance_store"}
	for _, opt := range opts {
		opt(&cfg)
	}
	s.provider = bind_group_provider.NewBindGroupProvider(cfg.label)
	return s
}

const gpuInstanceDataSize = 80

func (s *instanceStore) Capacity() uint32 {
	return s.capacity
}

func (s *instanceStore) RegisterAllocation(capacity uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved+capacity > s.capacity {
		return 0, fmt.Errorf("%w: reserving %d instances would exceed store capacity %d (reserved %d)",
			ErrCapacityExceeded, capacity, s.capacity, s.reserved)
	}
	id := s.nextAllocationID
	s.nextAllocationID++
	s.allocations[id] = &allocationState{
		id:       id,
		capacity: capacity,
		base:     s.reserved,
	}
	s.reserved += capacity
	return id, nil
}

func (s *instanceStore) AddInstance(allocationID uint32, data GPUInstanceData, activate bool) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alloc, ok := s.allocations[allocationID]
	if !ok {
		return 0, fmt.Errorf("%w: unknown allocation %d", ErrInvalidHandle, allocationID)
	}
	if alloc.numInstances == alloc.capacity {
		return 0, fmt.Errorf("%w: allocation %d holds %d of %d instances",
			ErrAllocationFull, allocationID, alloc.numInstances, alloc.capacity)
	}
	slot, err := s.allocator.Allocate()
	if err != nil {
		return 0, err
	}
	alloc.numInstances++

	id := s.nextInstanceID
	s.nextInstanceID++
	rec := &instanceRecord{
		id:           id,
		allocationID: allocationID,
		storageSlot:  slot,
	}
	s.instances[id] = rec

	s.writeStorageLocked(slot, &data)
	if activate {
		s.activateLocked(rec, alloc)
	}
	return id, nil
}

func (s *instanceStore) ActivateInstance(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("%w: unknown instance %d", ErrInvalidHandle, id)
	}
	if rec.active {
		log.Printf("instance: ActivateInstance(%d) ignored, instance is already active", id)
		return nil
	}
	s.activateLocked(rec, s.allocations[rec.allocationID])
	return nil
}

func (s *instanceStore) DeactivateInstance(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("%w: unknown instance %d", ErrInvalidHandle, id)
	}
	if !rec.active {
		log.Printf("instance: DeactivateInstance(%d) ignored, instance is not active", id)
		return nil
	}
	s.deactivateLocked(rec, s.allocations[rec.allocationID])
	return nil
}

func (s *instanceStore) UpdateInstanceData(id uint32, data GPUInstanceData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("%w: unknown instance %d", ErrInvalidHandle, id)
	}
	s.writeStorageLocked(rec.storageSlot, &data)
	return nil
}

func (s *instanceStore) RemoveInstance(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("%w: unknown instance %d", ErrInvalidHandle, id)
	}
	alloc := s.allocations[rec.allocationID]
	if rec.active {
		s.deactivateLocked(rec, alloc)
	}
	if err := s.allocator.Free(rec.storageSlot); err != nil {
		return err
	}
	alloc.numInstances--
	delete(s.instances, id)
	return nil
}

func (s *instanceStore) InstanceData(id uint32) (GPUInstanceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.instances[id]
	if !ok {
		return GPUInstanceData{}, fmt.Errorf("%w: unknown instance %d", ErrInvalidHandle, id)
	}
	var data GPUInstanceData
	off := int(rec.storageSlot) * gpuInstanceDataSize
	data.Unmarshal(s.storageMirror[off : off+gpuInstanceDataSize])
	return data, nil
}

func (s *instanceStore) InstanceActive(id uint32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.instances[id]
	if !ok {
		return false, fmt.Errorf("%w: unknown instance %d", ErrInvalidHandle, id)
	}
	return rec.active, nil
}

func (s *instanceStore) Allocation(allocationID uint32) (Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alloc, ok := s.allocations[allocationID]
	if !ok {
		return Allocation{}, fmt.Errorf("%w: unknown allocation %d", ErrInvalidHandle, allocationID)
	}
	return Allocation{
		ID:                alloc.id,
		Capacity:          alloc.capacity,
		InstanceIndexBase: alloc.base,
		NumInstances:      alloc.numInstances,
		NumActive:         uint32(len(alloc.activeIDs)),
	}, nil
}

func (s *instanceStore) ActiveSlots(allocationID uint32) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alloc, ok := s.allocations[allocationID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown allocation %d", ErrInvalidHandle, allocationID)
	}
	slots := make([]uint32, len(alloc.activeIDs))
	copy(slots, s.activeMirror[alloc.base:alloc.base+uint32(len(alloc.activeIDs))])
	return slots, nil
}

func (s *instanceStore) StagedWriteData() []bind_group_provider.BufferWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes := s.staged
	s.staged = nil
	return writes
}

func (s *instanceStore) BindGroupProvider() bind_group_provider.BindGroupProvider {
	return s.provider
}

// writeStorageLocked copies a record into the storage mirror and stages the
// matching GPU write. Callers hold the write lock.
func (s *instanceStore) writeStorageLocked(slot uint32, data *GPUInstanceData) {
	buf := data.Marshal()
	off := int(slot) * gpuInstanceDataSize
	copy(s.storageMirror[off:off+gpuInstanceDataSize], buf)
	s.staged = append(s.staged, bind_group_provider.BufferWrite{
		Provider: s.provider,
		Binding:  InstanceDataBinding,
		Offset:   uint64(off),
		Data:     buf,
	})
}

// activateLocked appends the record's storage slot at the end of its
// allocation's active region. Callers hold the write lock and have verified
// the record is inactive.
func (s *instanceStore) activateLocked(rec *instanceRecord, alloc *allocationState) {
	idx := alloc.base + uint32(len(alloc.activeIDs))
	s.activeMirror[idx] = rec.storageSlot
	alloc.activeIDs = append(alloc.activeIDs, rec.id)
	rec.active = true
	s.stageActiveRangeLocked(idx, idx+1)
}

// deactivateLocked removes the record's entry from its allocation's active
// region, shifting every later entry down one position. Callers hold the
// write lock and have verified the record is active.
func (s *instanceStore) deactivateLocked(rec *instanceRecord, alloc *allocationState) {
	pos := -1
	for i, id := range alloc.activeIDs {
		if id == rec.id {
			pos = i
			break
		}
	}
	alloc.activeIDs = append(alloc.activeIDs[:pos], alloc.activeIDs[pos+1:]...)
	rec.active = false

	start := alloc.base + uint32(pos)
	end := alloc.base + uint32(len(alloc.activeIDs))
	for i := pos; i < len(alloc.activeIDs); i++ {
		s.activeMirror[alloc.base+uint32(i)] = s.instances[alloc.activeIDs[i]].storageSlot
	}
	if start < end {
		s.stageActiveRangeLocked(start, end)
	}
}

// stageActiveRangeLocked stages one GPU write covering activeMirror[start:end).
func (s *instanceStore) stageActiveRangeLocked(start, end uint32) {
	buf := make([]byte, (end-start)*4)
	for i := start; i < end; i++ {
		binary.LittleEndian.PutUint32(buf[(i-start)*4:], s.activeMirror[i])
	}
	s.staged = append(s.staged, bind_group_provider.BufferWrite{
		Provider: s.provider,
		Binding:  ActiveIndexBinding,
		Offset:   uint64(start) * 4,
		Data:     buf,
	})
}
