package scene

import (
	"github.com/Carmen-Shannon/onyx-go/common"
	"github.com/Carmen-Shannon/onyx-go/engine/light"
)

// NodeKind tags what a scene node contributes beyond its transform.
type NodeKind int

const (
	// NodeKindTransform is a pure grouping node with no render payload.
	NodeKindTransform NodeKind = iota

	// NodeKindModel binds an instance in the instance store. Activation state
	// of the instance follows the node's effective visibility.
	NodeKindModel

	// NodeKindCamera binds a View whose view matrix is derived from the node's
	// world transform each frame.
	NodeKindCamera

	// NodeKindLight owns a Light that is registered with the lighting store
	// while the node is effectively visible, and repositioned from the node's
	// world transform each frame.
	NodeKindLight
)

// noIndex marks an empty parent or root link in the node arena.
const noIndex = int32(-1)

// node is one entry in the scene's node arena. Nodes reference each other by
// arena index only; node ids handed to callers are those indices.
type node struct {
	kind     NodeKind
	local    [16]float32
	world    [16]float32
	visible  bool
	rooted   bool
	parent   int32
	children []int32

	// model payload
	instanceID   uint32
	materialSlot uint32

	// camera payload
	view *View

	// light payload; lightID is valid only while registered is true, since
	// the lighting store issues a fresh handle on every registration.
	light      light.Light
	lightID    uint32
	registered bool
}

func newNode(kind NodeKind) node {
	n := node{
		kind:    kind,
		visible: true,
		parent:  noIndex,
	}
	common.Identity(n.local[:])
	common.Identity(n.world[:])
	return n
}
