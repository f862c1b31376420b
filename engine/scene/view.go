package scene

import (
	"sync"

	"github.com/Carmen-Shannon/onyx-go/common"
)

// View couples a projection matrix with a view matrix. Camera and light nodes
// bind a View; scene traversal derives the view matrix each frame by inverting
// the node's world transform, and UpdateModelViews consumes a View to produce
// the per-instance model-view matrices.
//
// All matrices are 4x4 column-major, following the WebGPU convention used
// throughout the engine.
type View struct {
	mu         *sync.RWMutex
	projection [16]float32
	view       [16]float32
}

// NewView creates a View with identity projection and view matrices.
//
// Returns:
//   - *View: the initialized view
func NewView() *View {
	v := &View{mu: &sync.RWMutex{}}
	common.Identity(v.projection[:])
	common.Identity(v.view[:])
	return v
}

// SetPerspective replaces the projection with a perspective projection.
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
func (v *View) SetPerspective(fovY, aspect, near, far float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	common.Perspective(v.projection[:], fovY, aspect, near, far)
}

// SetView replaces the view matrix directly.
//
// Parameters:
//   - m: the view matrix (16 elements, column-major)
func (v *View) SetView(m []float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	copy(v.view[:], m)
}

// SetViewFromWorld derives the view matrix by inverting a world transform.
// The world matrix of the owning camera or light node maps view space to
// world space, so its inverse is the view matrix. A singular world transform
// leaves the view unchanged.
//
// Parameters:
//   - world: the node's world transform (16 elements, column-major)
//
// Returns:
//   - bool: false if the world transform was singular
func (v *View) SetViewFromWorld(world []float32) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return common.Invert4(v.view[:], world)
}

// ViewMatrix returns a copy of the view matrix.
//
// Returns:
//   - [16]float32: the view matrix
func (v *View) ViewMatrix() [16]float32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.view
}

// Projection returns a copy of the projection matrix.
//
// Returns:
//   - [16]float32: the projection matrix
func (v *View) Projection() [16]float32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.projection
}

// ViewProjection writes projection * view into out.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
func (v *View) ViewProjection(out []float32) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	common.Mul4(out, v.projection[:], v.view[:])
}
