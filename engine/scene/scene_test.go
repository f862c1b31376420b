package scene

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/onyx-go/engine/instance"
	"github.com/Carmen-Shannon/onyx-go/engine/light"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
)

// testRig wires a scene to real stores with one registered allocation.
type testRig struct {
	scene     Scene
	instances instance.Store
	lights    light.Store
	alloc     uint32
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	instances := instance.NewStore(16)
	lights := light.NewStore(light.WithCapacity(8))
	alloc, err := instances.RegisterAllocation(16)
	if err != nil {
		t.Fatalf("RegisterAllocation error = %v", err)
	}
	return &testRig{
		scene:     NewScene("test", instances, lights, WithComputeWorkers(2)),
		instances: instances,
		lights:    lights,
		alloc:     alloc,
	}
}

// newModelNode adds a deactivated instance and a model node bound to it.
func (r *testRig) newModelNode(t *testing.T, materialSlot uint32) (uint32, uint32) {
	t.Helper()
	instID, err := r.instances.AddInstance(r.alloc, instance.GPUInstanceData{}, false)
	if err != nil {
		t.Fatalf("AddInstance error = %v", err)
	}
	return r.scene.NewModelNode(instID, materialSlot), instID
}

func translation(x, y, z float32) []float32 {
	m := make([]float32, 16)
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	m[12], m[13], m[14] = x, y, z
	return m
}

func (r *testRig) active(t *testing.T, instID uint32) bool {
	t.Helper()
	active, err := r.instances.InstanceActive(instID)
	if err != nil {
		t.Fatalf("InstanceActive error = %v", err)
	}
	return active
}

func TestAttachActivatesVisibleSubtree(t *testing.T) {
	r := newTestRig(t)
	group := r.scene.NewTransformNode()
	nodeA, instA := r.newModelNode(t, 0)
	nodeB, instB := r.newModelNode(t, 0)

	if err := r.scene.AttachNode(nodeA, group); err != nil {
		t.Fatalf("AttachNode error = %v", err)
	}
	// The group is not rooted yet, so nothing is active.
	if r.active(t, instA) {
		t.Error("instance activated under an unrooted parent")
	}
	if attached, _ := r.scene.NodeAttached(nodeA); attached {
		t.Error("node under unrooted parent reports attached")
	}

	// Rooting the group brings the linked subtree live.
	if err := r.scene.AttachNode(group, r.scene.Root()); err != nil {
		t.Fatalf("AttachNode(group, root) error = %v", err)
	}
	if !r.active(t, instA) {
		t.Error("instance not activated when subtree reached the root")
	}
	if attached, _ := r.scene.NodeAttached(nodeA); !attached {
		t.Error("rooted node reports detached")
	}

	// A later attach under the live group activates immediately.
	if err := r.scene.AttachNode(nodeB, group); err != nil {
		t.Fatalf("AttachNode error = %v", err)
	}
	if !r.active(t, instB) {
		t.Error("instance not activated on attach under rooted parent")
	}
}

func TestDetachReattachRoundTrip(t *testing.T) {
	r := newTestRig(t)
	group := r.scene.NewTransformNode()
	nodeA, instA := r.newModelNode(t, 0)
	r.scene.AttachNode(group, r.scene.Root())
	r.scene.AttachNode(nodeA, group)

	if err := r.scene.DetachNode(group); err != nil {
		t.Fatalf("DetachNode error = %v", err)
	}
	if r.active(t, instA) {
		t.Error("instance still active after subtree detach")
	}
	if attached, _ := r.scene.NodeAttached(nodeA); attached {
		t.Error("descendant of detached subtree reports attached")
	}

	// Reattaching restores the exact prior activation set.
	if err := r.scene.AttachNode(group, r.scene.Root()); err != nil {
		t.Fatalf("reattach error = %v", err)
	}
	if !r.active(t, instA) {
		t.Error("instance not reactivated on reattach")
	}
}

func TestAttachInvalidOperationsNoOp(t *testing.T) {
	r := newTestRig(t)
	group := r.scene.NewTransformNode()
	r.scene.AttachNode(group, r.scene.Root())

	if err := r.scene.AttachNode(group, r.scene.Root()); err != nil {
		t.Errorf("double attach returned error %v, want warn + no-op", err)
	}
	if err := r.scene.AttachNode(r.scene.Root(), group); err != nil {
		t.Errorf("attaching root returned error %v, want warn + no-op", err)
	}
	if err := r.scene.DetachNode(r.scene.Root()); err != nil {
		t.Errorf("detaching root returned error %v, want warn + no-op", err)
	}
	detached := r.scene.NewTransformNode()
	if err := r.scene.DetachNode(detached); err != nil {
		t.Errorf("detaching detached node returned error %v, want warn + no-op", err)
	}
	if err := r.scene.AttachNode(group, 999); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("attach to unknown parent error = %v, want ErrInvalidHandle", err)
	}

	// A cycle attempt is refused: child is rooted under group, then group
	// cannot be detached and reattached under its own descendant.
	child := r.scene.NewTransformNode()
	r.scene.AttachNode(child, group)
	r.scene.DetachNode(group)
	if err := r.scene.AttachNode(group, child); err != nil {
		t.Errorf("cycle attach returned error %v, want warn + no-op", err)
	}
	if attached, _ := r.scene.NodeAttached(group); attached {
		t.Error("cycle attach linked the node anyway")
	}
}

func TestVisibilityTogglesExactly(t *testing.T) {
	r := newTestRig(t)
	group := r.scene.NewTransformNode()
	shown, instShown := r.newModelNode(t, 0)
	hidden, instHidden := r.newModelNode(t, 0)
	r.scene.AttachNode(group, r.scene.Root())
	r.scene.AttachNode(shown, group)
	r.scene.AttachNode(hidden, group)

	// Hide one child by its own flag.
	if err := r.scene.SetNodeVisibility(hidden, false); err != nil {
		t.Fatalf("SetNodeVisibility error = %v", err)
	}
	if r.active(t, instHidden) {
		t.Error("hidden node's instance still active")
	}
	if !r.active(t, instShown) {
		t.Error("sibling deactivated by unrelated visibility change")
	}

	// Hiding the group deactivates only the currently visible child.
	if err := r.scene.SetNodeVisibility(group, false); err != nil {
		t.Fatalf("SetNodeVisibility(group) error = %v", err)
	}
	if r.active(t, instShown) {
		t.Error("instance active under hidden group")
	}

	// Showing the group again restores the visible child but leaves the
	// self-hidden child untouched.
	if err := r.scene.SetNodeVisibility(group, true); err != nil {
		t.Fatalf("SetNodeVisibility(group, true) error = %v", err)
	}
	if !r.active(t, instShown) {
		t.Error("instance not reactivated when group became visible")
	}
	if r.active(t, instHidden) {
		t.Error("self-hidden node activated by ancestor visibility change")
	}

	// Redundant toggles are silent no-ops.
	if err := r.scene.SetNodeVisibility(group, true); err != nil {
		t.Errorf("redundant visibility set returned error %v", err)
	}
}

func TestUpdateModelViewsComposesTransforms(t *testing.T) {
	r := newTestRig(t)
	group := r.scene.NewTransformNode()
	node, instID := r.newModelNode(t, 3)
	r.scene.AttachNode(group, r.scene.Root())
	r.scene.AttachNode(node, group)

	r.scene.SetNodeTransform(group, translation(10, 0, 0))
	r.scene.SetNodeTransform(node, translation(0, 5, 0))

	view := NewView()
	if err := r.scene.UpdateModelViews(view); err != nil {
		t.Fatalf("UpdateModelViews error = %v", err)
	}

	// With an identity view the stored model-view is the composed world.
	data, err := r.instances.InstanceData(instID)
	if err != nil {
		t.Fatalf("InstanceData error = %v", err)
	}
	if data.ModelView[12] != 10 || data.ModelView[13] != 5 || data.ModelView[14] != 0 {
		t.Errorf("model-view translation = (%v, %v, %v), want (10, 5, 0)",
			data.ModelView[12], data.ModelView[13], data.ModelView[14])
	}
	if data.MaterialSlot != 3 {
		t.Errorf("material slot = %d, want 3", data.MaterialSlot)
	}

	world, _ := r.scene.NodeWorldTransform(node)
	if world[12] != 10 || world[13] != 5 {
		t.Errorf("world translation = (%v, %v), want (10, 5)", world[12], world[13])
	}
}

func TestUpdateModelViewsSkipsInvisibleSubtrees(t *testing.T) {
	r := newTestRig(t)
	group := r.scene.NewTransformNode()
	node, instID := r.newModelNode(t, 0)
	r.scene.AttachNode(group, r.scene.Root())
	r.scene.AttachNode(node, group)
	r.scene.SetNodeTransform(node, translation(1, 1, 1))
	r.scene.SetNodeVisibility(group, false)

	if err := r.scene.UpdateModelViews(NewView()); err != nil {
		t.Fatalf("UpdateModelViews error = %v", err)
	}
	data, _ := r.instances.InstanceData(instID)
	if data.ModelView[12] != 0 {
		t.Error("invisible subtree's instance was written")
	}
}

func TestLightNodeLifecycleAndTransform(t *testing.T) {
	r := newTestRig(t)
	l := light.NewLight(light.LightTypeSpot)
	node := r.scene.NewLightNode(l, nil)

	if r.lights.LightCount() != 0 {
		t.Fatalf("light registered before attach: count = %d", r.lights.LightCount())
	}
	if err := r.scene.AttachNode(node, r.scene.Root()); err != nil {
		t.Fatalf("AttachNode error = %v", err)
	}
	if r.lights.LightCount() != 1 {
		t.Errorf("light count after attach = %d, want 1", r.lights.LightCount())
	}

	// Traversal pushes the world translation and forward axis into the light.
	r.scene.SetNodeTransform(node, translation(2, 4, 6))
	if err := r.scene.UpdateModelViews(NewView()); err != nil {
		t.Fatalf("UpdateModelViews error = %v", err)
	}
	if l.Position() != [3]float32{2, 4, 6} {
		t.Errorf("light position = %v, want [2 4 6]", l.Position())
	}
	// Identity rotation faces -Z.
	if l.Direction() != [3]float32{0, 0, -1} {
		t.Errorf("light direction = %v, want [0 0 -1]", l.Direction())
	}

	if err := r.scene.DetachNode(node); err != nil {
		t.Fatalf("DetachNode error = %v", err)
	}
	if r.lights.LightCount() != 0 {
		t.Errorf("light count after detach = %d, want 0", r.lights.LightCount())
	}
}

func TestUpdateModelViewsStagedWritesDeterministic(t *testing.T) {
	r := newTestRig(t)
	group := r.scene.NewTransformNode()
	r.scene.AttachNode(group, r.scene.Root())
	r.scene.SetNodeTransform(group, translation(10, 0, 0))
	for i := 0; i < 9; i++ {
		node, _ := r.newModelNode(t, uint32(i))
		r.scene.AttachNode(node, group)
		r.scene.SetNodeTransform(node, translation(float32(i), 0, -5))
	}

	// Two traversals over unchanged state must stage byte-identical writes
	// even with the multiplications fanned out over the worker pool.
	frame := func() []bind_group_provider.BufferWrite {
		t.Helper()
		if err := r.scene.UpdateModelViews(NewView()); err != nil {
			t.Fatalf("UpdateModelViews error = %v", err)
		}
		return r.instances.StagedWriteData()
	}
	first := frame()
	second := frame()

	if len(first) == 0 {
		t.Fatal("traversal staged no writes")
	}
	if len(first) != len(second) {
		t.Fatalf("staged write counts = (%d, %d), want equal", len(first), len(second))
	}
	for i := range first {
		if first[i].Binding != second[i].Binding || first[i].Offset != second[i].Offset {
			t.Errorf("write %d placement = (%d, %d) vs (%d, %d)", i,
				first[i].Binding, first[i].Offset, second[i].Binding, second[i].Offset)
		}
		if !bytes.Equal(first[i].Data, second[i].Data) {
			t.Errorf("write %d data differs between identical frames", i)
		}
	}
}

func TestLightNodeDerivesBoundView(t *testing.T) {
	r := newTestRig(t)
	lightView := NewView()
	l := light.NewLight(light.LightTypeSpot)
	node := r.scene.NewLightNode(l, lightView)
	r.scene.AttachNode(node, r.scene.Root())
	r.scene.SetNodeTransform(node, translation(3, 0, 12))

	if err := r.scene.UpdateModelViews(NewView()); err != nil {
		t.Fatalf("UpdateModelViews error = %v", err)
	}
	// A bound view derives its matrix from the inverted world transform,
	// exactly like a camera node's.
	vm := lightView.ViewMatrix()
	if vm[12] != -3 || vm[14] != -12 {
		t.Errorf("view matrix translation = (%v, %v), want (-3, -12)", vm[12], vm[14])
	}
}

func TestCameraNodeDerivesView(t *testing.T) {
	r := newTestRig(t)
	camView := NewView()
	node := r.scene.NewCameraNode(camView)
	r.scene.AttachNode(node, r.scene.Root())
	r.scene.SetNodeTransform(node, translation(0, 0, 10))

	if err := r.scene.UpdateModelViews(NewView()); err != nil {
		t.Fatalf("UpdateModelViews error = %v", err)
	}
	// The view matrix is the inverse of the camera world transform.
	vm := camView.ViewMatrix()
	if vm[14] != -10 {
		t.Errorf("view matrix z translation = %v, want -10", vm[14])
	}
}
