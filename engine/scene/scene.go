// Package scene implements the retained scene graph: an index-based node
// arena with attach/detach lifecycle, per-node visibility, and a per-frame
// traversal that pushes model-view matrices into the instance store and
// world transforms into the lighting store.
//
// Nodes are created detached, linked under a parent with AttachNode, and
// become live once their ancestry reaches the scene root. Model instances
// and lights follow the node's effective visibility: a model node's instance
// is active, and a light node's light registered, exactly while every node
// from the root down to it is visible.
package scene

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/onyx-go/common"
	"github.com/Carmen-Shannon/onyx-go/engine/instance"
	"github.com/Carmen-Shannon/onyx-go/engine/light"
)

// ErrInvalidHandle is returned when a node id is unknown.
var ErrInvalidHandle = errors.New("scene: invalid handle")

// modelJob carries one visible model node's state from the traversal to the
// parallel model-view phase.
type modelJob struct {
	instanceID   uint32
	materialSlot uint32
	world        [16]float32
	out          instance.GPUInstanceData
}

// scene is the unexported implementation of Scene.
type scene struct {
	mu *sync.RWMutex

	name   string
	active bool

	nodes     []node
	instances instance.Store
	lights    light.Store

	// computePool fans the per-frame model-view multiplications out across a
	// bounded set of reusable goroutines. Workers persist across frames.
	computePool    worker.DynamicWorkerPool
	computeWorkers int

	// jobs is reused each frame to avoid per-frame allocations.
	jobs []modelJob
}

// Scene is a retained scene graph bound to an instance store and a lighting
// store. Multiple scenes may share one renderer; each scene owns its node
// arena. Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	//
	// Returns:
	//   - string: the scene name
	Name() string

	// Active returns whether this scene participates in engine updates.
	//
	// Returns:
	//   - bool: true if active
	Active() bool

	// SetActive toggles whether this scene participates in engine updates.
	//
	// Parameters:
	//   - active: true to activate
	SetActive(active bool)

	// Root returns the id of the implicit root node. The root is always
	// attached and visible by default; it cannot be detached.
	//
	// Returns:
	//   - uint32: the root node id
	Root() uint32

	// NewTransformNode creates a detached grouping node with an identity
	// local transform.
	//
	// Returns:
	//   - uint32: the node id
	NewTransformNode() uint32

	// NewModelNode creates a detached node bound to an instance. The instance
	// should be added to the store deactivated; the graph activates it when
	// the node becomes effectively visible.
	//
	// Parameters:
	//   - instanceID: the instance store handle
	//   - materialSlot: the material slot written into the instance record
	//
	// Returns:
	//   - uint32: the node id
	NewModelNode(instanceID, materialSlot uint32) uint32

	// NewCameraNode creates a detached node whose View receives the inverse of
	// the node's world transform each frame.
	//
	// Parameters:
	//   - view: the bound view, must not be nil
	//
	// Returns:
	//   - uint32: the node id
	NewCameraNode(view *View) uint32

	// NewLightNode creates a detached node owning a light. The light is
	// registered with the lighting store while the node is effectively
	// visible, and its position and direction track the node's world
	// transform. When a view is bound its view matrix is derived from the
	// inverted world transform each frame, the same way a camera node's is.
	//
	// Parameters:
	//   - l: the owned light, must not be nil
	//   - view: an optional bound view, may be nil
	//
	// Returns:
	//   - uint32: the node id
	NewLightNode(l light.Light, view *View) uint32

	// AttachNode links a detached node under a parent. Attaching an already
	// attached node, the root, or a node above its own descendant warns and
	// no-ops. If the parent is part of the rooted tree the subtree goes live:
	// every effectively visible model instance is activated and every
	// effectively visible light registered.
	//
	// Parameters:
	//   - id: the node to attach
	//   - parentID: the parent node
	//
	// Returns:
	//   - error: ErrInvalidHandle for unknown ids, or a store error from
	//     activation
	AttachNode(id, parentID uint32) error

	// DetachNode unlinks a node from its parent, deactivating every
	// effectively visible model instance and deregistering every effectively
	// visible light in the subtree. Detaching the root or an already detached
	// node warns and no-ops.
	//
	// Parameters:
	//   - id: the node to detach
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id, or a store error from
	//     deactivation
	DetachNode(id uint32) error

	// SetNodeVisibility sets a node's own visibility flag, activating or
	// deactivating exactly the model instances and lights whose effective
	// visibility changes. Descendants hidden by their own flag are untouched.
	//
	// Parameters:
	//   - id: the node id
	//   - visible: the new visibility flag
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id, or a store error
	SetNodeVisibility(id uint32, visible bool) error

	// SetNodeTransform replaces a node's local transform.
	//
	// Parameters:
	//   - id: the node id
	//   - local: the local transform (16 elements, column-major)
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id or a short slice
	SetNodeTransform(id uint32, local []float32) error

	// NodeVisible returns a node's own visibility flag.
	//
	// Parameters:
	//   - id: the node id
	//
	// Returns:
	//   - bool: the flag
	//   - error: ErrInvalidHandle for an unknown id
	NodeVisible(id uint32) (bool, error)

	// NodeAttached reports whether a node is part of the rooted tree.
	//
	// Parameters:
	//   - id: the node id
	//
	// Returns:
	//   - bool: true when rooted
	//   - error: ErrInvalidHandle for an unknown id
	NodeAttached(id uint32) (bool, error)

	// NodeWorldTransform returns a node's world transform as of the last
	// UpdateModelViews.
	//
	// Parameters:
	//   - id: the node id
	//
	// Returns:
	//   - [16]float32: the world transform
	//   - error: ErrInvalidHandle for an unknown id
	NodeWorldTransform(id uint32) ([16]float32, error)

	// UpdateModelViews recomputes world transforms for the visible tree and
	// pushes results to the stores: model nodes write view * world plus their
	// material slot into the instance store, camera nodes derive their View
	// from the inverted world transform, and light nodes push position and
	// forward direction to the lighting store. Invisible subtrees are skipped
	// entirely.
	//
	// Parameters:
	//   - view: the view whose matrix premultiplies every model's world
	//     transform
	//
	// Returns:
	//   - error: the first store error encountered
	UpdateModelViews(view *View) error
}

var _ Scene = &scene{}

// NewScene creates a scene graph bound to the given stores. Both stores are
// required and NewScene panics if either is nil.
//
// Parameters:
//   - name: the scene's identifier
//   - instances: the instance store model nodes write into (must not be nil)
//   - lights: the lighting store light nodes register with (must not be nil)
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, instances instance.Store, lights light.Store, options ...SceneBuilderOption) Scene {
	if instances == nil {
		panic("scene: NewScene requires a non-nil instance store")
	}
	if lights == nil {
		panic("scene: NewScene requires a non-nil lighting store")
	}

	s := &scene{
		mu:             &sync.RWMutex{},
		name:           name,
		instances:      instances,
		lights:         lights,
		computeWorkers: max(runtime.NumCPU()-1, 1),
	}
	root := newNode(NodeKindTransform)
	root.rooted = true
	s.nodes = append(s.nodes, root)

	for _, option := range options {
		option(s)
	}

	// Initialize the compute pool after options so WithComputeWorkers can
	// override the default. Queue size of 256 accommodates typical per-frame
	// chunk counts with headroom.
	s.computePool = worker.NewDynamicWorkerPool(s.computeWorkers, 256, 1*time.Second)
	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *scene) Root() uint32 {
	return 0
}

func (s *scene) NewTransformNode() uint32 {
	return s.addNode(newNode(NodeKindTransform))
}

func (s *scene) NewModelNode(instanceID, materialSlot uint32) uint32 {
	n := newNode(NodeKindModel)
	n.instanceID = instanceID
	n.materialSlot = materialSlot
	return s.addNode(n)
}

func (s *scene) NewCameraNode(view *View) uint32 {
	if view == nil {
		panic("scene: NewCameraNode requires a non-nil View")
	}
	n := newNode(NodeKindCamera)
	n.view = view
	return s.addNode(n)
}

func (s *scene) NewLightNode(l light.Light, view *View) uint32 {
	if l == nil {
		panic("scene: NewLightNode requires a non-nil Light")
	}
	n := newNode(NodeKindLight)
	n.light = l
	n.view = view
	return s.addNode(n)
}

func (s *scene) addNode(n node) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, n)
	return uint32(len(s.nodes) - 1)
}

func (s *scene) AttachNode(id, parentID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validLocked(id); err != nil {
		return err
	}
	if err := s.validLocked(parentID); err != nil {
		return err
	}
	if id == 0 {
		log.Printf("scene %q: AttachNode(root) ignored, the root cannot be reparented", s.name)
		return nil
	}
	if s.nodes[id].parent != noIndex {
		log.Printf("scene %q: AttachNode(%d) ignored, node is already attached", s.name, id)
		return nil
	}
	// Walking up from the parent must not pass through the node itself.
	for p := int32(parentID); p != noIndex; p = s.nodes[p].parent {
		if uint32(p) == id {
			log.Printf("scene %q: AttachNode(%d, %d) ignored, parent is a descendant of the node", s.name, id, parentID)
			return nil
		}
	}

	s.nodes[id].parent = int32(parentID)
	s.nodes[parentID].children = append(s.nodes[parentID].children, int32(id))

	if !s.nodes[parentID].rooted {
		return nil
	}
	return s.setRootedLocked(int32(id), s.effectiveVisibilityLocked(int32(parentID)))
}

func (s *scene) DetachNode(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validLocked(id); err != nil {
		return err
	}
	if id == 0 {
		log.Printf("scene %q: DetachNode(root) ignored, the root cannot be detached", s.name)
		return nil
	}
	parent := s.nodes[id].parent
	if parent == noIndex {
		log.Printf("scene %q: DetachNode(%d) ignored, node is not attached", s.name, id)
		return nil
	}

	var err error
	if s.nodes[id].rooted {
		err = s.setUnrootedLocked(int32(id), s.effectiveVisibilityLocked(parent))
	}

	children := s.nodes[parent].children
	for i, c := range children {
		if c == int32(id) {
			s.nodes[parent].children = append(children[:i], children[i+1:]...)
			break
		}
	}
	s.nodes[id].parent = noIndex
	return err
}

func (s *scene) SetNodeVisibility(id uint32, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validLocked(id); err != nil {
		return err
	}
	n := &s.nodes[id]
	if n.visible == visible {
		return nil
	}

	// Activation only changes when the node is rooted and every ancestor is
	// visible; otherwise the flag flips with no store traffic.
	parentVisible := true
	if n.parent != noIndex {
		parentVisible = s.effectiveVisibilityLocked(n.parent)
	}
	if !n.rooted || !parentVisible {
		n.visible = visible
		return nil
	}

	if visible {
		n.visible = true
		return s.walkVisibleLocked(int32(id), s.activateNodeLocked)
	}
	err := s.walkVisibleLocked(int32(id), s.deactivateNodeLocked)
	n.visible = false
	return err
}

func (s *scene) SetNodeTransform(id uint32, local []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validLocked(id); err != nil {
		return err
	}
	if len(local) < 16 {
		return fmt.Errorf("%w: transform needs 16 elements, got %d", ErrInvalidHandle, len(local))
	}
	copy(s.nodes[id].local[:], local)
	return nil
}

func (s *scene) NodeVisible(id uint32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.validLocked(id); err != nil {
		return false, err
	}
	return s.nodes[id].visible, nil
}

func (s *scene) NodeAttached(id uint32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.validLocked(id); err != nil {
		return false, err
	}
	return s.nodes[id].rooted, nil
}

func (s *scene) NodeWorldTransform(id uint32) ([16]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.validLocked(id); err != nil {
		return [16]float32{}, err
	}
	return s.nodes[id].world, nil
}

func (s *scene) UpdateModelViews(view *View) error {
	if view == nil {
		return fmt.Errorf("%w: UpdateModelViews requires a view", ErrInvalidHandle)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Phase 1 (serial): depth-first pre-order traversal. World transforms are
	// recomputed top-down every frame; model nodes are collected for the
	// parallel phase, camera and light nodes are resolved in place.
	s.jobs = s.jobs[:0]
	var err error
	s.traverseLocked(0, nil, &err)
	if err != nil {
		return err
	}

	// Phase 2 (parallel): fan the view * world multiplications out over the
	// compute pool in chunks. A WaitGroup provides the per-frame barrier.
	viewMatrix := view.ViewMatrix()
	const chunkSize = 64
	var wg sync.WaitGroup
	taskID := 0
	for start := 0; start < len(s.jobs); start += chunkSize {
		end := min(start+chunkSize, len(s.jobs))
		chunk := s.jobs[start:end]
		wg.Add(1)
		id := taskID
		taskID++
		s.computePool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				for i := range chunk {
					common.Mul4(chunk[i].out.ModelView[:], viewMatrix[:], chunk[i].world[:])
					chunk[i].out.MaterialSlot = chunk[i].materialSlot
				}
				return nil, nil
			},
		})
	}
	wg.Wait()

	// Phase 3 (serial): submit instance updates in traversal order so staged
	// buffer writes stay deterministic.
	for i := range s.jobs {
		if uerr := s.instances.UpdateInstanceData(s.jobs[i].instanceID, s.jobs[i].out); uerr != nil {
			return uerr
		}
	}
	return nil
}

// traverseLocked walks the visible tree rooted at idx, recomputing world
// transforms and collecting model jobs. parentWorld is nil for the root.
func (s *scene) traverseLocked(idx int32, parentWorld []float32, err *error) {
	n := &s.nodes[idx]
	if !n.visible {
		return
	}
	if parentWorld == nil {
		n.world = n.local
	} else {
		common.Mul4(n.world[:], parentWorld, n.local[:])
	}

	switch n.kind {
	case NodeKindModel:
		s.jobs = append(s.jobs, modelJob{
			instanceID:   n.instanceID,
			materialSlot: n.materialSlot,
			world:        n.world,
		})
	case NodeKindCamera:
		n.view.SetViewFromWorld(n.world[:])
	case NodeKindLight:
		if n.view != nil {
			n.view.SetViewFromWorld(n.world[:])
		}
		if n.registered {
			if terr := s.lights.SetLightTransform(n.lightID,
				common.TranslationOf(n.world[:]),
				common.ForwardOf(n.world[:])); terr != nil && *err == nil {
				*err = terr
			}
		}
	}

	for _, c := range n.children {
		s.traverseLocked(c, n.world[:], err)
	}
}

// validLocked checks a node id against the arena bounds.
func (s *scene) validLocked(id uint32) error {
	if int(id) >= len(s.nodes) {
		return fmt.Errorf("%w: unknown node %d", ErrInvalidHandle, id)
	}
	return nil
}

// effectiveVisibilityLocked reports whether every node from the root down to
// idx is visible. Only meaningful for rooted nodes.
func (s *scene) effectiveVisibilityLocked(idx int32) bool {
	for p := idx; p != noIndex; p = s.nodes[p].parent {
		if !s.nodes[p].visible {
			return false
		}
	}
	return true
}

// setRootedLocked marks the subtree at idx rooted and, when parentVisible,
// activates its effectively visible payloads.
func (s *scene) setRootedLocked(idx int32, parentVisible bool) error {
	n := &s.nodes[idx]
	n.rooted = true
	eff := parentVisible && n.visible
	var err error
	if eff {
		err = s.activateNodeLocked(idx)
	}
	for _, c := range n.children {
		if cerr := s.setRootedLocked(c, eff); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// setUnrootedLocked deactivates the subtree's effectively visible payloads
// and clears the rooted flags.
func (s *scene) setUnrootedLocked(idx int32, parentVisible bool) error {
	n := &s.nodes[idx]
	eff := parentVisible && n.visible
	var err error
	if eff {
		err = s.deactivateNodeLocked(idx)
	}
	for _, c := range n.children {
		if cerr := s.setUnrootedLocked(c, eff); cerr != nil && err == nil {
			err = cerr
		}
	}
	n.rooted = false
	return err
}

// walkVisibleLocked applies fn to idx and every descendant reachable through
// visible nodes. The walk starts below the toggled node's own flag, so it
// touches exactly the nodes whose effective visibility follows the toggle.
func (s *scene) walkVisibleLocked(idx int32, fn func(int32) error) error {
	err := fn(idx)
	for _, c := range s.nodes[idx].children {
		if !s.nodes[c].visible {
			continue
		}
		if cerr := s.walkVisibleLocked(c, fn); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// activateNodeLocked brings one node's payload live.
func (s *scene) activateNodeLocked(idx int32) error {
	n := &s.nodes[idx]
	switch n.kind {
	case NodeKindModel:
		return s.instances.ActivateInstance(n.instanceID)
	case NodeKindLight:
		if n.registered {
			return nil
		}
		id, err := s.lights.AddLight(n.light)
		if err != nil {
			return err
		}
		n.lightID = id
		n.registered = true
	}
	return nil
}

// deactivateNodeLocked takes one node's payload out of the live set.
func (s *scene) deactivateNodeLocked(idx int32) error {
	n := &s.nodes[idx]
	switch n.kind {
	case NodeKindModel:
		return s.instances.DeactivateInstance(n.instanceID)
	case NodeKindLight:
		if !n.registered {
			return nil
		}
		n.registered = false
		return s.lights.RemoveLight(n.lightID)
	}
	return nil
}
