package renderer

import (
	"log"
	"sync"

	"github.com/Carmen-Shannon/onyx-go/engine/instance"
	"github.com/Carmen-Shannon/onyx-go/engine/mesh"
)

// DrawCall describes one instanced draw against the shared mesh arena. The
// index range selects the mesh's region of the index buffer, and the instance
// window selects the allocation's region of the dense active index list:
// InstancePointer is the region base and InstanceCount the number of live
// instances, so a single DrawIndexed covers exactly the active set.
type DrawCall struct {
	// PipelineKey names the registered render pipeline to bind.
	PipelineKey string

	// MeshID identifies the mesh in the mesh store this call draws.
	MeshID uint32

	// FirstIndex and IndexCount select the mesh's slice of the shared index buffer.
	FirstIndex uint32
	IndexCount uint32

	// AllocationID identifies the instance store allocation backing this call.
	AllocationID uint32

	// InstanceCount is the number of active instances, refreshed each frame
	// from the allocation. A zero count skips the draw entirely.
	InstanceCount uint32

	// InstancePointer is the allocation's base offset into the dense active
	// index buffer, passed to the GPU as firstInstance.
	InstancePointer uint32
}

// drawKey identifies one mesh+pipeline pairing in the batcher.
type drawKey struct {
	meshID      uint32
	pipelineKey string
}

type batcher struct {
	mu    *sync.RWMutex
	calls map[drawKey]*DrawCall
	order []drawKey
}

// Batcher maintains one persistent DrawCall descriptor per mesh+pipeline
// pairing. Descriptors are created once at model registration and have their
// instance window refreshed from the instance store each frame, so the frame
// loop never rebuilds the draw list.
type Batcher interface {
	// RegisterModel creates a draw descriptor for the given mesh under the
	// given pipeline, backed by the given instance allocation. Registering a
	// mesh+pipeline pairing that already exists logs a warning and leaves the
	// existing descriptor untouched.
	//
	// Parameters:
	//   - pipelineKey: the registered pipeline key to draw with
	//   - m: the mesh snapshot providing the index range
	//   - allocationID: the instance store allocation backing the draws
	RegisterModel(pipelineKey string, m mesh.Mesh, allocationID uint32)

	// DeregisterModel removes the draw descriptor for the given mesh+pipeline
	// pairing. Removing an unknown pairing is a silent no-op.
	//
	// Parameters:
	//   - pipelineKey: the pipeline key the mesh was registered under
	//   - meshID: the mesh whose descriptor should be removed
	DeregisterModel(pipelineKey string, meshID uint32)

	// Refresh mirrors each descriptor's instance window from its allocation:
	// InstanceCount from the allocation's active count and InstancePointer
	// from its region base. Call once per frame after scene traversal.
	//
	// Parameters:
	//   - store: the instance store holding the allocations
	//
	// Returns:
	//   - error: an error if a descriptor references an unknown allocation
	Refresh(store instance.Store) error

	// DrawCallList returns the draw descriptors in registration order. Zero
	// instance-count descriptors are included; the renderer skips them at
	// submission.
	//
	// Returns:
	//   - []DrawCall: copies of the current descriptors
	DrawCallList() []DrawCall
}

var _ Batcher = &batcher{}

// NewBatcher creates an empty Batcher.
//
// Returns:
//   - Batcher: the initialized batcher
func NewBatcher() Batcher {
	return &batcher{
		mu:    &sync.RWMutex{},
		calls: make(map[drawKey]*DrawCall),
	}
}

func (b *batcher) RegisterModel(pipelineKey string, m mesh.Mesh, allocationID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := drawKey{meshID: m.ID, pipelineKey: pipelineKey}
	if _, ok := b.calls[key]; ok {
		log.Printf("renderer: mesh %d already registered under pipeline %q, ignoring", m.ID, pipelineKey)
		return
	}

	b.calls[key] = &DrawCall{
		PipelineKey:  pipelineKey,
		MeshID:       m.ID,
		FirstIndex:   m.FirstIndex,
		IndexCount:   m.IndexCount,
		AllocationID: allocationID,
	}
	b.order = append(b.order, key)
}

func (b *batcher) DeregisterModel(pipelineKey string, meshID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := drawKey{meshID: meshID, pipelineKey: pipelineKey}
	if _, ok := b.calls[key]; !ok {
		return
	}
	delete(b.calls, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *batcher) Refresh(store instance.Store) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, call := range b.calls {
		alloc, err := store.Allocation(call.AllocationID)
		if err != nil {
			return err
		}
		call.InstanceCount = alloc.NumActive
		call.InstancePointer = alloc.InstanceIndexBase
	}
	return nil
}

func (b *batcher) DrawCallList() []DrawCall {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]DrawCall, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.calls[key])
	}
	return out
}
