// Package mesh implements the shared geometry arena: one vertex buffer and
// one index buffer serving every mesh in the engine. Meshes are appended at
// the current cursors and their indices are rebased by the mesh's base vertex,
// so draw descriptors only need a first index and an index count.
//
// The arena is append-only. Removing a mesh records a vacancy but never
// compacts or reuses the region; long-running scenes that churn geometry
// should size the arena for their peak working set.
package mesh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/onyx-go/engine/arena"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
)

// ErrCapacityExceeded is returned when a mesh does not fit the remaining
// vertex or index arena space.
var ErrCapacityExceeded = arena.ErrCapacityExceeded

// ErrInvalidHandle is returned when a mesh id is unknown or removed.
var ErrInvalidHandle = errors.New("mesh: invalid handle")

// ErrInvalidGeometry is returned when vertex data is not a whole number of
// 64-byte vertices or an index references a vertex outside the mesh.
var ErrInvalidGeometry = errors.New("mesh: invalid geometry")

// Mesh is a read-only snapshot of one mesh's location in the shared arena.
// FirstIndex and IndexCount feed directly into indexed draw descriptors; the
// indices at [FirstIndex, FirstIndex+IndexCount) are already rebased by
// BaseVertex.
type Mesh struct {
	ID          uint32
	BaseVertex  uint32
	VertexCount uint32
	FirstIndex  uint32
	IndexCount  uint32
}

type meshRecord struct {
	info    Mesh
	removed bool
}

// meshStore is the unexported implementation of Store.
type meshStore struct {
	mu *sync.RWMutex

	vertexCapacity uint32
	indexCapacity  uint32
	nextVertex     uint32
	nextIndex      uint32
	nextMeshID     uint32

	meshes map[uint32]*meshRecord
	// vacatedVertices and vacatedIndices count space lost to removed meshes.
	vacatedVertices uint32
	vacatedIndices  uint32

	// CPU mirrors of the arena buffers.
	vertexMirror []byte
	indexMirror  []uint32

	provider bind_group_provider.BindGroupProvider
	staged   []bind_group_provider.BufferWrite
}

// Store manages the shared vertex and index arena. All methods are safe for
// concurrent use.
type Store interface {
	// AddMesh appends a mesh to the arena. Indices are given relative to the
	// mesh's own vertices and are rebased by the assigned base vertex before
	// upload.
	//
	// Parameters:
	//   - vertexData: marshaled vertices, a whole number of 64-byte records
	//   - indices: mesh-relative indices, each < vertexCount
	//
	// Returns:
	//   - uint32: the mesh id
	//   - error: ErrInvalidGeometry for malformed input, ErrCapacityExceeded
	//     when the mesh does not fit the remaining arena space
	AddMesh(vertexData []byte, indices []uint32) (uint32, error)

	// RemoveMesh marks a mesh's arena region as vacated. The region is not
	// compacted or reused.
	//
	// Parameters:
	//   - id: the mesh id
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown or removed id
	RemoveMesh(id uint32) error

	// Mesh returns the arena location of a mesh.
	//
	// Parameters:
	//   - id: the mesh id
	//
	// Returns:
	//   - Mesh: the snapshot
	//   - error: ErrInvalidHandle for an unknown or removed id
	Mesh(id uint32) (Mesh, error)

	// VertexBytes reads a mesh's vertex data back from the CPU mirror.
	//
	// Parameters:
	//   - id: the mesh id
	//
	// Returns:
	//   - []byte: a copy of the mesh's vertex bytes
	//   - error: ErrInvalidHandle for an unknown or removed id
	VertexBytes(id uint32) ([]byte, error)

	// Indices reads a mesh's rebased indices back from the CPU mirror.
	//
	// Parameters:
	//   - id: the mesh id
	//
	// Returns:
	//   - []uint32: a copy of the mesh's indices as uploaded
	//   - error: ErrInvalidHandle for an unknown or removed id
	Indices(id uint32) ([]uint32, error)

	// VertexCount returns the number of vertices appended so far, vacated
	// regions included.
	//
	// Returns:
	//   - uint32: the vertex cursor
	VertexCount() uint32

	// IndexCount returns the number of indices appended so far, vacated
	// regions included.
	//
	// Returns:
	//   - uint32: the index cursor
	IndexCount() uint32

	// StagedWriteData drains and returns the buffer writes accumulated since
	// the previous drain, in the order they were staged.
	//
	// Returns:
	//   - []bind_group_provider.BufferWrite: the pending writes
	StagedWriteData() []bind_group_provider.BufferWrite

	// BindGroupProvider returns the provider holding the arena's GPU buffers.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the provider
	BindGroupProvider() bind_group_provider.BindGroupProvider
}

var _ Store = &meshStore{}

// NewStore creates a geometry arena sized in vertex and index counts.
//
// Parameters:
//   - vertexCapacity: the total number of 64-byte vertices the arena holds
//   - indexCapacity: the total number of u32 indices the arena holds
//   - opts: optional configuration
//
// Returns:
//   - Store: the initialized store
func NewStore(vertexCapacity, indexCapacity uint32, opts ...StoreOption) Store {
	cfg := storeConfig{label: "mesh_store"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &meshStore{
		mu:             &sync.RWMutex{},
		vertexCapacity: vertexCapacity,
		indexCapacity:  indexCapacity,
		meshes:         make(map[uint32]*meshRecord),
		vertexMirror:   make([]byte, int(vertexCapacity)*VertexStride),
		indexMirror:    make([]uint32, indexCapacity),
		provider:       bind_group_provider.NewBindGroupProvider(cfg.label),
	}
}

func (s *meshStore) AddMesh(vertexData []byte, indices []uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(vertexData) == 0 || len(vertexData)%VertexStride != 0 {
		return 0, fmt.Errorf("%w: vertex data length %d is not a whole number of %d-byte vertices",
			ErrInvalidGeometry, len(vertexData), VertexStride)
	}
	vertexCount := uint32(len(vertexData) / VertexStride)
	for i, idx := range indices {
		if idx >= vertexCount {
			return 0, fmt.Errorf("%w: index %d at position %d exceeds vertex count %d",
				ErrInvalidGeometry, idx, i, vertexCount)
		}
	}
	if s.nextVertex+vertexCount > s.vertexCapacity {
		return 0, fmt.Errorf("%w: %d vertices do not fit (cursor %d, capacity %d)",
			ErrCapacityExceeded, vertexCount, s.nextVertex, s.vertexCapacity)
	}
	indexCount := uint32(len(indices))
	if s.nextIndex+indexCount > s.indexCapacity {
		return 0, fmt.Errorf("%w: %d indices do not fit (cursor %d, capacity %d)",
			ErrCapacityExceeded, indexCount, s.nextIndex, s.indexCapacity)
	}

	baseVertex := s.nextVertex
	firstIndex := s.nextIndex
	s.nextVertex += vertexCount
	s.nextIndex += indexCount

	vertexOffset := int(baseVertex) * VertexStride
	copy(s.vertexMirror[vertexOffset:], vertexData)
	s.staged = append(s.staged, bind_group_provider.BufferWrite{
		Provider: s.provider,
		Binding:  bind_group_provider.VertexBufferBinding,
		Offset:   uint64(vertexOffset),
		Data:     append([]byte(nil), vertexData...),
	})

	rebased := make([]byte, indexCount*4)
	for i, idx := range indices {
		v := idx + baseVertex
		s.indexMirror[firstIndex+uint32(i)] = v
		binary.LittleEndian.PutUint32(rebased[i*4:], v)
	}
	if indexCount > 0 {
		s.staged = append(s.staged, bind_group_provider.BufferWrite{
			Provider: s.provider,
			Binding:  bind_group_provider.IndexBufferBinding,
			Offset:   uint64(firstIndex) * 4,
			Data:     rebased,
		})
	}
	s.provider.SetIndexCount(int(s.nextIndex))

	id := s.nextMeshID
	s.nextMeshID++
	s.meshes[id] = &meshRecord{info: Mesh{
		ID:          id,
		BaseVertex:  baseVertex,
		VertexCount: vertexCount,
		FirstIndex:  firstIndex,
		IndexCount:  indexCount,
	}}
	return id, nil
}

func (s *meshStore) RemoveMesh(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	rec.removed = true
	s.vacatedVertices += rec.info.VertexCount
	s.vacatedIndices += rec.info.IndexCount
	return nil
}

func (s *meshStore) Mesh(id uint32) (Mesh, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.lookupLocked(id)
	if err != nil {
		return Mesh{}, err
	}
	return rec.info, nil
}

func (s *meshStore) VertexBytes(id uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	start := int(rec.info.BaseVertex) * VertexStride
	end := start + int(rec.info.VertexCount)*VertexStride
	return append([]byte(nil), s.vertexMirror[start:end]...), nil
}

func (s *meshStore) Indices(id uint32) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	start := rec.info.FirstIndex
	end := start + rec.info.IndexCount
	return append([]uint32(nil), s.indexMirror[start:end]...), nil
}

func (s *meshStore) VertexCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextVertex
}

func (s *meshStore) IndexCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextIndex
}

func (s *meshStore) StagedWriteData() []bind_group_provider.BufferWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes := s.staged
	s.staged = nil
	return writes
}

func (s *meshStore) BindGroupProvider() bind_group_provider.BindGroupProvider {
	return s.provider
}

func (s *meshStore) lookupLocked(id uint32) (*meshRecord, error) {
	rec, ok := s.meshes[id]
	if !ok || rec.removed {
		return nil, fmt.Errorf("%w: unknown mesh %d", ErrInvalidHandle, id)
	}
	return rec, nil
}
