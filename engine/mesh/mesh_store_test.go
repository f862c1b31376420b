package mesh

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
)

func quadVertices(n int) []byte {
	vertices := make([]GPUVertex, n)
	for i := range vertices {
		vertices[i].Position = [3]float32{float32(i), 0, 0}
		vertices[i].Color = [4]float32{1, 1, 1, 1}
	}
	return MarshalVertices(vertices)
}

func TestAddMeshRebasesIndices(t *testing.T) {
	s := NewStore(64, 64)

	first, err := s.AddMesh(quadVertices(4), []uint32{0, 1, 2, 2, 3, 0})
	if err != nil {
		t.Fatalf("AddMesh error = %v", err)
	}
	second, err := s.AddMesh(quadVertices(3), []uint32{0, 1, 2})
	if err != nil {
		t.Fatalf("AddMesh error = %v", err)
	}

	info, _ := s.Mesh(second)
	if info.BaseVertex != 4 {
		t.Errorf("second mesh base vertex = %d, want 4", info.BaseVertex)
	}
	if info.FirstIndex != 6 {
		t.Errorf("second mesh first index = %d, want 6", info.FirstIndex)
	}

	indices, _ := s.Indices(second)
	for i, idx := range indices {
		if want := uint32(i) + 4; idx != want {
			t.Errorf("rebased index[%d] = %d, want %d", i, idx, want)
		}
	}
	// The first mesh's indices stay below the second mesh's base.
	firstIndices, _ := s.Indices(first)
	for i, idx := range firstIndices {
		if idx >= 4 {
			t.Errorf("first mesh index[%d] = %d, want < 4", i, idx)
		}
	}
}

func TestAddMeshValidation(t *testing.T) {
	s := NewStore(8, 8)

	if _, err := s.AddMesh(make([]byte, 70), nil); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("ragged vertex data error = %v, want ErrInvalidGeometry", err)
	}
	if _, err := s.AddMesh(quadVertices(2), []uint32{0, 1, 2}); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("out-of-range index error = %v, want ErrInvalidGeometry", err)
	}
	if _, err := s.AddMesh(quadVertices(9), []uint32{0}); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("vertex overflow error = %v, want ErrCapacityExceeded", err)
	}
	if _, err := s.AddMesh(quadVertices(2), make([]uint32, 9)); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("index overflow error = %v, want ErrCapacityExceeded", err)
	}
	// A failed add must not move the cursors.
	if s.VertexCount() != 0 || s.IndexCount() != 0 {
		t.Errorf("cursors moved on failed adds: vertices %d indices %d", s.VertexCount(), s.IndexCount())
	}
}

func TestRemoveMeshVacatesWithoutReuse(t *testing.T) {
	s := NewStore(16, 16)
	id, _ := s.AddMesh(quadVertices(4), []uint32{0, 1, 2})
	if err := s.RemoveMesh(id); err != nil {
		t.Fatalf("RemoveMesh error = %v", err)
	}
	if _, err := s.Mesh(id); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Mesh after remove error = %v, want ErrInvalidHandle", err)
	}
	if err := s.RemoveMesh(id); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("double remove error = %v, want ErrInvalidHandle", err)
	}

	// The vacated region is not reclaimed: the next mesh appends past it.
	next, _ := s.AddMesh(quadVertices(2), []uint32{0, 1})
	info, _ := s.Mesh(next)
	if info.BaseVertex != 4 {
		t.Errorf("mesh after removal base vertex = %d, want 4 (no reuse)", info.BaseVertex)
	}
	if info.FirstIndex != 3 {
		t.Errorf("mesh after removal first index = %d, want 3 (no reuse)", info.FirstIndex)
	}
}

func TestVertexRoundTrip(t *testing.T) {
	s := NewStore(8, 8)
	data := quadVertices(3)
	id, _ := s.AddMesh(data, []uint32{0, 1, 2})

	got, err := s.VertexBytes(id)
	if err != nil {
		t.Fatalf("VertexBytes error = %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("VertexBytes length = %d, want %d", len(got), len(data))
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("vertex byte %d = %d, want %d", i, got[i], data[i])
		}
	}
}

func TestStagedWritesTargetArenaBuffers(t *testing.T) {
	s := NewStore(8, 8)
	s.AddMesh(quadVertices(2), []uint32{0, 1})

	writes := s.StagedWriteData()
	if len(writes) != 2 {
		t.Fatalf("staged writes = %d, want 2", len(writes))
	}
	if writes[0].Binding != bind_group_provider.VertexBufferBinding {
		t.Errorf("first write binding = %d, want VertexBufferBinding", writes[0].Binding)
	}
	if writes[1].Binding != bind_group_provider.IndexBufferBinding {
		t.Errorf("second write binding = %d, want IndexBufferBinding", writes[1].Binding)
	}
	if len(writes[0].Data) != 2*VertexStride {
		t.Errorf("vertex write size = %d, want %d", len(writes[0].Data), 2*VertexStride)
	}
	if got := s.StagedWriteData(); len(got) != 0 {
		t.Errorf("second drain returned %d writes, want 0", len(got))
	}
}
