package light

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/onyx-go/engine/arena"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
)

// ErrCapacityExceeded is returned when the store already holds its capacity of
// lights.
var ErrCapacityExceeded = arena.ErrCapacityExceeded

// ErrInvalidHandle is returned when a light id is unknown or removed.
var ErrInvalidHandle = errors.New("light: invalid handle")

// LightDataBinding is the bind group binding of the light storage buffer.
const LightDataBinding = 0

const gpuLightSize = 64
const gpuLightHeaderSize = 16

// lightStore is the unexported implementation of Store.
//
// Unlike the instance and material stores the light list is compacted on
// removal: lights stay dense so the per-frame marshal walks a contiguous
// slice. Handles survive compaction through the id-to-index map.
type lightStore struct {
	mu *sync.RWMutex

	capacity     uint32
	ambientColor [3]float32
	nextID       uint32

	lights    []Light
	lightIDs  []uint32 // lightIDs[i] owns lights[i]
	idToIndex map[uint32]int

	provider bind_group_provider.BindGroupProvider
	staged   []bind_group_provider.BufferWrite
}

// Store manages the scene's lights and marshals them into the GPU light
// buffer. All methods are safe for concurrent use.
type Store interface {
	// Capacity returns the fixed light capacity set at creation.
	//
	// Returns:
	//   - uint32: the total light capacity
	Capacity() uint32

	// AmbientColor returns the scene ambient RGB written into the buffer header.
	//
	// Returns:
	//   - [3]float32: the ambient color
	AmbientColor() [3]float32

	// SetAmbientColor sets the scene ambient RGB.
	//
	// Parameters:
	//   - r, g, b: ambient color components
	SetAmbientColor(r, g, b float32)

	// AddLight registers a light and returns its handle. Handles are monotonic
	// and never reused.
	//
	// Parameters:
	//   - l: the light to register
	//
	// Returns:
	//   - uint32: the light id
	//   - error: ErrCapacityExceeded when the store is full
	AddLight(l Light) (uint32, error)

	// RemoveLight drops a light and compacts the list, shifting later lights
	// down. Remaining handles stay valid.
	//
	// Parameters:
	//   - id: the light id
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id
	RemoveLight(id uint32) error

	// Light returns the registered light for a handle.
	//
	// Parameters:
	//   - id: the light id
	//
	// Returns:
	//   - Light: the light
	//   - error: ErrInvalidHandle for an unknown id
	Light(id uint32) (Light, error)

	// SetLightTransform pushes a world-space position and direction into a
	// light. Scene traversal calls this every frame for attached light nodes.
	//
	// Parameters:
	//   - id: the light id
	//   - position: world-space position
	//   - direction: world-space direction, normalized by the light
	//
	// Returns:
	//   - error: ErrInvalidHandle for an unknown id
	SetLightTransform(id uint32, position, direction [3]float32) error

	// LightCount returns the number of registered lights, disabled included.
	//
	// Returns:
	//   - uint32: the light count
	LightCount() uint32

	// MarshalFrame serializes the header and every enabled light into one
	// staged buffer write. Call once per frame after scene traversal.
	MarshalFrame()

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

var _ Store = &lightStore{}

// NewStore creates a lighting store. Capacity defaults to MaxGPULights and is
// clamped to it.
//
// Parameters:
//   - opts: optional configuration (capacity, ambient color, label)
//
// Returns:
//   - Store: the initialized store
func NewStore(opts ...StoreOption) Store {
	cfg := storeConfig{
		capacity:     MaxGPULights,
		ambientColor: [3]float32{0.03, 0.03, 0.03},
		label:        "light_store",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.capacity > MaxGPULights {
		cfg.capacity = MaxGPULights
	}
	return &lightStore{
		mu:           &sync.RWMutex{},
		capacity:     cfg.capacity,
		ambientColor: cfg.ambientColor,
		idToIndex:    make(map[uint32]int),
		provider:     bind_group_provider.NewBindGroupProvider(cfg.label),
	}
}

func (s *lightStore) Capacity() uint32 {
	return s.capacity
}

func (s *lightStore) AmbientColor() [3]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ambientColor
}

func (s *lightStore) SetAmbientColor(r, g, b float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ambientColor = [3]float32{r, g, b}
}

func (s *lightStore) AddLight(l Light) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(len(s.lights)) == s.capacity {
		return 0, fmt.Errorf("%w: store holds %d of %d lights", ErrCapacityExceeded, len(s.lights), s.capacity)
	}
	id := s.nextID
	s.nextID++
	s.idToIndex[id] = len(s.lights)
	s.lights = append(s.lights, l)
	s.lightIDs = append(s.lightIDs, id)
	return id, nil
}

func (s *lightStore) RemoveLight(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.idToIndex[id]
	if !ok {
		return fmt.Errorf("%w: unknown light %d", ErrInvalidHandle, id)
	}
	copy(s.lights[idx:], s.lights[idx+1:])
	copy(s.lightIDs[idx:], s.lightIDs[idx+1:])
	s.lights = s.lights[:len(s.lights)-1]
	s.lightIDs = s.lightIDs[:len(s.lightIDs)-1]
	delete(s.idToIndex, id)
	for i := idx; i < len(s.lightIDs); i++ {
		s.idToIndex[s.lightIDs[i]] = i
	}
	return nil
}

func (s *lightStore) Light(id uint32) (Light, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.idToIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown light %d", ErrInvalidHandle, id)
	}
	return s.lights[idx], nil
}

func (s *lightStore) SetLightTransform(id uint32, position, direction [3]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.idToIndex[id]
	if !ok {
		return fmt.Errorf("%w: unknown light %d", ErrInvalidHandle, id)
	}
	l := s.lights[idx]
	l.SetPosition(position[0], position[1], position[2])
	l.SetDirection(direction[0], direction[1], direction[2])
	return nil
}

func (s *lightStore) LightCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.lights))
}

func (s *lightStore) MarshalFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 0, gpuLightHeaderSize+len(s.lights)*gpuLightSize)
	var count uint32
	var body []byte
	for _, l := range s.lights {
		if !l.Enabled() {
			continue
		}
		g := GPULight{
			Position:   l.Position(),
			LightType:  uint32(l.Type()),
			Color:      l.Color(),
			Intensity:  l.Intensity(),
			Direction:  l.Direction(),
			LightRange: l.Range(),
			InnerCone:  l.InnerCone(),
			OuterCone:  l.OuterCone(),
		}
		if l.CastsShadows() {
			g.CastsShadows = 1
		}
		body = append(body, g.Marshal()...)
		count++
	}
	header := GPULightHeader{AmbientColor: s.ambientColor, LightCount: count}
	buf = append(buf, header.Marshal()...)
	buf = append(buf, body...)

	s.staged = append(s.staged, bind_group_provider.BufferWrite{
		Provider: s.provider,
		Binding:  LightDataBinding,
		Offset:   0,
		Data:     buf,
	})
}

func (s *lightStore) StagedWriteData() []bind_group_provider.BufferWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes := s.staged
	s.staged = nil
	return writes
}

func (s *lightStore) BindGroupProvider() bind_group_provider.BindGroupProvider {
	return s.provider
}
