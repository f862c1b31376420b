package engine

import (
	"errors"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/onyx-go/engine/instance"
	"github.com/Carmen-Shannon/onyx-go/engine/mesh"
)

// newTestEngine builds a windowless engine: no renderer, no GPU resources,
// but fully wired stores and batcher.
func newTestEngine() Engine {
	return NewEngine(
		WithInstanceCapacity(8),
		WithMeshCapacities(64, 128),
		WithMaterialCapacity(4),
		WithLightCapacity(4),
	)
}

func quadVertexBytes(count int) []byte {
	return make([]byte, count*mesh.VertexStride)
}

func TestRegisterSceneGraphModel(t *testing.T) {
	e := newTestEngine()

	meshID, allocID, err := e.RegisterSceneGraphModel("lit", quadVertexBytes(4), []uint32{0, 1, 2, 2, 3, 0}, 4)
	if err != nil {
		t.Fatalf("RegisterSceneGraphModel error = %v", err)
	}

	m, err := e.Meshes().Mesh(meshID)
	if err != nil {
		t.Fatalf("Mesh error = %v", err)
	}
	if m.VertexCount != 4 || m.IndexCount != 6 {
		t.Errorf("mesh counts = (%d, %d), want (4, 6)", m.VertexCount, m.IndexCount)
	}

	alloc, err := e.Instances().Allocation(allocID)
	if err != nil {
		t.Fatalf("Allocation error = %v", err)
	}
	if alloc.Capacity != 4 {
		t.Errorf("allocation capacity = %d, want 4", alloc.Capacity)
	}

	calls := e.Batcher().DrawCallList()
	if len(calls) != 1 {
		t.Fatalf("draw descriptor count = %d, want 1", len(calls))
	}
	if calls[0].PipelineKey != "lit" || calls[0].MeshID != meshID || calls[0].AllocationID != allocID {
		t.Errorf("descriptor mismatch: %+v", calls[0])
	}
	if calls[0].IndexCount != 6 || calls[0].InstanceCount != 0 {
		t.Errorf("descriptor counts = (%d, %d), want (6, 0)", calls[0].IndexCount, calls[0].InstanceCount)
	}

	// An activated instance shows up after a refresh.
	if _, err := e.Instances().AddInstance(allocID, instance.GPUInstanceData{}, true); err != nil {
		t.Fatalf("AddInstance error = %v", err)
	}
	if err := e.Batcher().Refresh(e.Instances()); err != nil {
		t.Fatalf("Refresh error = %v", err)
	}
	if got := e.Batcher().DrawCallList()[0].InstanceCount; got != 1 {
		t.Errorf("refreshed instance count = %d, want 1", got)
	}
}

func TestRegisterSceneGraphModelRollsBackMesh(t *testing.T) {
	e := newTestEngine()

	// Requesting more instances than the store holds fails the allocation;
	// the mesh added beforehand must not leave a draw descriptor behind.
	_, _, err := e.RegisterSceneGraphModel("lit", quadVertexBytes(3), []uint32{0, 1, 2}, 99)
	if !errors.Is(err, instance.ErrCapacityExceeded) {
		t.Fatalf("error = %v, want ErrCapacityExceeded", err)
	}
	if got := len(e.Batcher().DrawCallList()); got != 0 {
		t.Errorf("draw descriptor count after failed registration = %d, want 0", got)
	}
}

func TestSceneRegistryOrderedByKey(t *testing.T) {
	e := newTestEngine()

	world := e.NewScene("world")
	hud := e.NewScene("hud")
	e.AddScene(10, hud)
	e.AddScene(0, world)

	if e.Scene(0) != world || e.Scene(10) != hud {
		t.Error("scene lookup by key returned wrong scenes")
	}
	if e.Scene(5) != nil {
		t.Error("unknown key returned a scene")
	}

	all := e.Scenes()
	if len(all) != 2 {
		t.Fatalf("scene count = %d, want 2", len(all))
	}
	// The returned map is a copy; mutating it must not affect the engine.
	delete(all, 0)
	if e.Scene(0) == nil {
		t.Error("mutating the Scenes copy removed a registered scene")
	}

	e.RemoveScene(10)
	if e.Scene(10) != nil {
		t.Error("removed scene still registered")
	}
}

func TestSceneRegistryConcurrentAccess(t *testing.T) {
	e := newTestEngine()

	// Registration, lookup and removal race against each other the way
	// gameplay code racing the render goroutine would. Run with -race.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(key int) {
			defer wg.Done()
			e.AddScene(key, e.NewScene("world"))
			for range e.Scenes() {
			}
			_ = e.Scene(key)
			e.RemoveScene(key)
		}(i)
	}
	wg.Wait()

	if got := len(e.Scenes()); got != 0 {
		t.Errorf("scene count after removals = %d, want 0", got)
	}
}

func TestNewSceneSharesEngineStores(t *testing.T) {
	e := newTestEngine()
	s := e.NewScene("world")

	alloc, err := e.Instances().RegisterAllocation(2)
	if err != nil {
		t.Fatalf("RegisterAllocation error = %v", err)
	}
	instID, err := e.Instances().AddInstance(alloc, instance.GPUInstanceData{}, false)
	if err != nil {
		t.Fatalf("AddInstance error = %v", err)
	}

	node := s.NewModelNode(instID, 0)
	if err := s.AttachNode(node, s.Root()); err != nil {
		t.Fatalf("AttachNode error = %v", err)
	}
	active, err := e.Instances().InstanceActive(instID)
	if err != nil {
		t.Fatalf("InstanceActive error = %v", err)
	}
	if !active {
		t.Error("attach through a scene did not activate the instance in the engine's store")
	}
}
