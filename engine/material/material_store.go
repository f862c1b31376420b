// Package material implements the surface description store: a slot-allocated
// GPU storage buffer of GPUMaterial records. Instance records reference
// materials by slot, so a slot stays stable until its material is removed;
// freed slots are recycled for later materials and their GPU region is zeroed
// in the meantime.
package material

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/onyx-go/engine/arena"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
)

// ErrCapacityExceeded is returned when every material slot is in use.
var ErrCapacityExceeded = arena.ErrCapacityExceeded

// ErrInvalidHandle is returned when a material slot is unknown or freed.
var ErrInvalidHandle = errors.New("material: invalid handle")

// MaterialDataBinding is the bind group binding of the material storage buffer.
const MaterialDataBinding = 0

const gpuMaterialSize = 48

// materialStore is the unexported implementation of Store.
type materialStore struct {
	mu *sync.RWMutex

	allocator *arena.SlotAllocator
	mirror    []byte

	provider bind_group_provider.BindGroupProvider
	staged   []bind_group_provider.BufferWrite
}

// Store manages the material storage buffer. All methods are safe for
// concurrent use.
type Store interface {
	// Capacity returns the fixed material capacity set at creation.
	//
	// Returns:
	//   - uint32: the total material capacity
	Capacity() uint32

	// AddMaterial writes a material into a free slot, recycling freed slots
	// before extending the high-water mark.
	//
	// Parameters:
	//   - mat: the material record
	//
	// Returns:
	//   - uint32: the assigned slot, referenced by instance records
	//   - error: ErrCapacityExceeded when every slot is in use
	AddMaterial(mat GPUMaterial) (uint32, error)

	// UpdateMaterial overwrites the material at a slot.
	//
	// Parameters:
	//   - slot: the material slot
	//   - mat: the replacement record
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown or freed slot
	UpdateMaterial(slot uint32, mat GPUMaterial) error

	// RemoveMaterial frees a slot for reuse and zeroes its GPU region.
	// Instances still referencing the slot read a zeroed material until they
	// are retargeted.
	//
	// Parameters:
	//   - slot: the material slot
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown or freed slot
	RemoveMaterial(slot uint32) error

	// Material reads a slot's record back from the CPU mirror.
	//
	// Parameters:
	//   - slot: the material slot
	//
	// Returns:
	//   - GPUMaterial: the stored record
	//   - error: ErrInvalidHandle for an unknown or freed slot
	Material(slot uint32) (GPUMaterial, error)

	// StagedWriteData drains and returns the buffer writes accumulated since
	// the previous drain, in the order they were staged.
	//
	// Returns:
	//   - []bind_group_provider.BufferWrite: the pending writes
	StagedWriteData() []bind_group_provider.BufferWrite

	// BindGroupProvider returns the provider holding this store's GPU buffer.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the provider
	BindGroupProvider() bind_group_provider.BindGroupProvider
}

var _ Store = &materialStore{}

// NewStore creates a material store with a fixed slot capacity.
//
// Parameters:
//   - capacity: the total number of material slots
//   - opts: optional configuration
//
// Returns:
//   - Store: the initialized store
func NewStore(capacity uint32, opts ...StoreOption) Store {
	cfg := storeConfig{label: "material_store"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &materialStore{
		mu:        &sync.RWMutex{},
		allocator: arena.NewSlotAllocator(capacity),
		mirror:    make([]byte, int(capacity)*gpuMaterialSize),
		provider:  bind_group_provider.NewBindGroupProvider(cfg.label),
	}
}

func (s *materialStore) Capacity() uint32 {
	return s.allocator.Capacity()
}

func (s *materialStore) AddMaterial(mat GPUMaterial) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.allocator.Allocate()
	if err != nil {
		return 0, err
	}
	s.writeLocked(slot, mat.Marshal())
	return slot, nil
}

func (s *materialStore) UpdateMaterial(slot uint32, mat GPUMaterial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.allocator.InUse(slot) {
		return fmt.Errorf("%w: slot %d is not in use", ErrInvalidHandle, slot)
	}
	s.writeLocked(slot, mat.Marshal())
	return nil
}

func (s *materialStore) RemoveMaterial(slot uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.allocator.InUse(slot) {
		return fmt.Errorf("%w: slot %d is not in use", ErrInvalidHandle, slot)
	}
	if err := s.allocator.Free(slot); err != nil {
		return err
	}
	s.writeLocked(slot, make([]byte, gpuMaterialSize))
	return nil
}

func (s *materialStore) Material(slot uint32) (GPUMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.allocator.InUse(slot) {
		return GPUMaterial{}, fmt.Errorf("%w: slot %d is not in use", ErrInvalidHandle, slot)
	}
	var mat GPUMaterial
	off := int(slot) * gpuMaterialSize
	mat.Unmarshal(s.mirror[off : off+gpuMaterialSize])
	return mat, nil
}

func (s *materialStore) StagedWriteData() []bind_group_provider.BufferWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes := s.staged
	s.staged = nil
	return writes
}

func (s *materialStore) BindGroupProvider() bind_group_provider.BindGroupProvider {
	return s.provider
}

// writeLocked copies marshaled bytes into the mirror and stages the matching
// GPU write. Callers hold the write lock.
func (s *materialStore) writeLocked(slot uint32, buf []byte) {
	off := int(slot) * gpuMaterialSize
	copy(s.mirror[off:off+gpuMaterialSize], buf)
	s.staged = append(s.staged, bind_group_provider.BufferWrite{
		Provider: s.provider,
		Binding:  MaterialDataBinding,
		Offset:   uint64(off),
		Data:     buf,
	})
}
