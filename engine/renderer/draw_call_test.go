package renderer

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/onyx-go/engine/instance"
	"github.com/Carmen-Shannon/onyx-go/engine/mesh"
)

func TestBatcherRefreshMirrorsAllocations(t *testing.T) {
	store := instance.NewStore(16)
	alloc, err := store.RegisterAllocation(8)
	if err != nil {
		t.Fatalf("RegisterAllocation error = %v", err)
	}
	for range 3 {
		if _, err := store.AddInstance(alloc, instance.GPUInstanceData{}, true); err != nil {
			t.Fatalf("AddInstance error = %v", err)
		}
	}

	b := NewBatcher()
	b.RegisterModel("lit", mesh.Mesh{ID: 1, FirstIndex: 0, IndexCount: 36}, alloc)

	if err := b.Refresh(store); err != nil {
		t.Fatalf("Refresh error = %v", err)
	}
	calls := b.DrawCallList()
	if len(calls) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(calls))
	}
	if calls[0].InstanceCount != 3 {
		t.Errorf("instance count = %d, want 3", calls[0].InstanceCount)
	}
	if calls[0].InstancePointer != 0 {
		t.Errorf("instance pointer = %d, want 0", calls[0].InstancePointer)
	}

	// A second allocation's descriptor points at its own region base.
	alloc2, err := store.RegisterAllocation(4)
	if err != nil {
		t.Fatalf("RegisterAllocation error = %v", err)
	}
	if _, err := store.AddInstance(alloc2, instance.GPUInstanceData{}, true); err != nil {
		t.Fatalf("AddInstance error = %v", err)
	}
	b.RegisterModel("lit", mesh.Mesh{ID: 2, FirstIndex: 36, IndexCount: 6}, alloc2)

	if err := b.Refresh(store); err != nil {
		t.Fatalf("Refresh error = %v", err)
	}
	calls = b.DrawCallList()
	if len(calls) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(calls))
	}
	if calls[1].InstancePointer != 8 {
		t.Errorf("second allocation pointer = %d, want 8", calls[1].InstancePointer)
	}
	if calls[1].InstanceCount != 1 {
		t.Errorf("second allocation count = %d, want 1", calls[1].InstanceCount)
	}
}

func TestBatcherDuplicateRegistrationKeepsOriginal(t *testing.T) {
	b := NewBatcher()
	b.RegisterModel("lit", mesh.Mesh{ID: 7, FirstIndex: 0, IndexCount: 36}, 1)
	b.RegisterModel("lit", mesh.Mesh{ID: 7, FirstIndex: 99, IndexCount: 3}, 2)

	calls := b.DrawCallList()
	if len(calls) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(calls))
	}
	if calls[0].IndexCount != 36 || calls[0].AllocationID != 1 {
		t.Errorf("duplicate registration replaced the original descriptor: %+v", calls[0])
	}

	// The same mesh under a different pipeline is a distinct descriptor.
	b.RegisterModel("unlit", mesh.Mesh{ID: 7, FirstIndex: 0, IndexCount: 36}, 1)
	if got := len(b.DrawCallList()); got != 2 {
		t.Errorf("snapshot length = %d, want 2", got)
	}
}

func TestBatcherDeregister(t *testing.T) {
	b := NewBatcher()
	b.RegisterModel("lit", mesh.Mesh{ID: 1, IndexCount: 6}, 1)
	b.RegisterModel("lit", mesh.Mesh{ID: 2, IndexCount: 6}, 1)

	b.DeregisterModel("lit", 1)
	calls := b.DrawCallList()
	if len(calls) != 1 || calls[0].MeshID != 2 {
		t.Fatalf("deregister left wrong descriptors: %+v", calls)
	}

	// Unknown pairing is a silent no-op.
	b.DeregisterModel("lit", 42)
	if got := len(b.DrawCallList()); got != 1 {
		t.Errorf("snapshot length = %d, want 1", got)
	}
}

func TestBatcherRefreshUnknownAllocation(t *testing.T) {
	store := instance.NewStore(16)
	b := NewBatcher()
	b.RegisterModel("lit", mesh.Mesh{ID: 1, IndexCount: 6}, 999)

	if err := b.Refresh(store); !errors.Is(err, instance.ErrInvalidHandle) {
		t.Errorf("Refresh error = %v, want ErrInvalidHandle", err)
	}
}
