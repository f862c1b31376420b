// Package renderer wraps the WebGPU device, surface, and frame encoding behind
// a backend-agnostic interface. The renderer owns no scene state: it creates
// GPU resources for bind group providers, flushes staged buffer and texture
// writes, and encodes instanced draw calls described by DrawCall descriptors.
//
// Render pipelines are compiled by the caller and registered under string
// keys; the renderer only binds them. This keeps shader compilation and
// vertex layout decisions out of the frame loop entirely.
package renderer

import (
	"errors"
	"log"
	"sync"

	"github.com/Carmen-Shannon/onyx-go/common"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
	"github.com/cogentcore/webgpu/wgpu"
)

// ErrUnknownPipeline is returned when a draw call references a pipeline key
// that was never registered.
var ErrUnknownPipeline = errors.New("renderer: unknown pipeline key")

type renderer struct {
	mu        *sync.RWMutex
	pipelines map[string]*wgpu.RenderPipeline
	backend   RendererBackend

	pendingPresentMode   *PresentMode
	pendingMSAA          *MSAASampleCount
	forceFallbackAdapter bool
}

// Renderer is the public interface for the rendering layer.
type Renderer interface {
	// Device returns the underlying GPU device. Callers need this to compile
	// render pipelines before registering them.
	//
	// Returns:
	//   - *wgpu.Device: the GPU device
	Device() *wgpu.Device

	// SurfaceFormat returns the configured surface texture format, which
	// compiled pipelines must use as their color target format.
	//
	// Returns:
	//   - *wgpu.TextureFormat: the surface format, nil before the surface is configured
	SurfaceFormat() *wgpu.TextureFormat

	// SampleCount returns the MSAA sample count of the main render pass.
	// Compiled pipelines must use the same count in their multisample state.
	//
	// Returns:
	//   - uint32: the sample count (1 when MSAA is off)
	SampleCount() uint32

	// RegisterPipeline stores a compiled render pipeline under the given key.
	// Registering a key that is already present logs a warning and leaves the
	// existing pipeline in place.
	//
	// Parameters:
	//   - key: the unique identifier draw calls will reference
	//   - p: the compiled render pipeline
	//
	// Returns:
	//   - error: an error if the pipeline is nil, otherwise nil
	RegisterPipeline(key string, p *wgpu.RenderPipeline) error

	// Pipeline returns the registered pipeline for the given key, or nil if
	// the key is unknown.
	//
	// Parameters:
	//   - key: the pipeline key to look up
	//
	// Returns:
	//   - *wgpu.RenderPipeline: the registered pipeline, nil if not found
	Pipeline(key string) *wgpu.RenderPipeline

	// Resize reconfigures the surface and its attachment textures for a new
	// drawable size. Must be called when the window size changes.
	//
	// Parameters:
	//   - width: the new surface width in pixels
	//   - height: the new surface height in pixels
	Resize(width, height int)

	// SetPresentMode changes the surface present mode. Takes effect on the
	// next Resize, which reconfigures the surface.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// InitMeshBuffers creates the shared vertex and index arena buffers at
	// full capacity on the given provider. See the backend method of the same
	// name for details.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to hold the arena buffers
	//   - vertexCapacityBytes: the vertex arena size in bytes
	//   - indexCapacityBytes: the index arena size in bytes
	//
	// Returns:
	//   - error: an error if buffer creation fails
	InitMeshBuffers(provider bind_group_provider.BindGroupProvider, vertexCapacityBytes, indexCapacityBytes uint64) error

	// InitBindGroup creates GPU buffers and a bind group for the provider
	// from the given layout descriptor.
	//
	// Parameters:
	//   - provider: the BindGroupProvider describing storage for the bind group
	//   - descriptor: the BindGroupLayoutDescriptor for the group
	//   - bufferUsageOverrides: optional per-binding buffer usage flags
	//   - bufferSizeOverrides: optional per-binding buffer sizes
	//
	// Returns:
	//   - error: an error if the bind group could not be initialized
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// InitTextureView creates a single-layer texture from staging data and
	// stores its view on the provider.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the view on
	//   - bindingKey: the bind group entry key for the texture
	//   - stagingData: the pixel data and dimensions
	//
	// Returns:
	//   - error: an error if texture creation fails
	InitTextureView(provider bind_group_provider.BindGroupProvider, bindingKey int, stagingData common.TextureStagingData) error

	// InitTextureArray creates an empty 2D array texture for incremental
	// atlas uploads and stores the texture and its array view on the provider.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the texture and view on
	//   - bindingKey: the bind group entry key for the texture
	//   - width: layer width in pixels
	//   - height: layer height in pixels
	//   - layers: number of array layers
	//   - mipLevels: number of mip levels per layer
	//
	// Returns:
	//   - error: an error if texture or view creation fails
	InitTextureArray(provider bind_group_provider.BindGroupProvider, bindingKey int, width, height, layers, mipLevels uint32) error

	// InitSampler creates a sampler from staging data and stores it on the
	// provider.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the sampler on
	//   - bindingKey: the bind group entry key for the sampler
	//   - samplerStagingData: the sampler configuration
	//
	// Returns:
	//   - error: an error if sampler creation fails
	InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error

	// WriteBuffers flushes staged buffer writes to the GPU queue.
	//
	// Parameters:
	//   - writes: the staged writes, typically drained from a store's StagedWriteData
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	// WriteTextures flushes staged texture region writes to the GPU queue.
	//
	// Parameters:
	//   - writes: the staged texture writes
	WriteTextures(writes []bind_group_provider.TextureWrite)

	// BeginFrame acquires the next swapchain texture and opens the main
	// render pass. Must be paired with EndFrame.
	//
	// Returns:
	//   - error: an error if the swapchain texture could not be acquired
	BeginFrame() error

	// DrawCall encodes one instanced draw within the current frame. Draws
	// with a zero instance count are skipped without touching the pass.
	//
	// Parameters:
	//   - call: the draw descriptor naming the pipeline, index range, and instance window
	//   - meshProvider: the provider holding the shared vertex and index buffers
	//   - bindGroups: providers whose bind groups are set, in group order
	//
	// Returns:
	//   - error: ErrUnknownPipeline if the call's pipeline key is not registered
	DrawCall(call DrawCall, meshProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider) error

	// EndFrame closes the render pass and submits the command buffer.
	EndFrame()

	// Present presents the completed frame to the surface.
	Present()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer backed by WebGPU, configured for the given
// surface and initial drawable size.
//
// Parameters:
//   - surfaceDescriptor: the platform surface descriptor from the window layer
//   - width: initial surface width in pixels
//   - height: initial surface height in pixels
//   - opts: optional RendererBuilderOptions
//
// Returns:
//   - Renderer: the initialized renderer
func NewRenderer(surfaceDescriptor *wgpu.SurfaceDescriptor, width, height int, opts ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:        &sync.RWMutex{},
		pipelines: make(map[string]*wgpu.RenderPipeline),
	}
	for _, opt := range opts {
		opt(r)
	}

	msaa := MSAA4x
	if r.pendingMSAA != nil {
		msaa = *r.pendingMSAA
		r.pendingMSAA = nil
	}

	r.backend = newWGPURendererBackend(surfaceDescriptor, r.forceFallbackAdapter, msaa)

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
		r.pendingPresentMode = nil
	}
	r.backend.ConfigureSurface(width, height)

	return r
}

func (r *renderer) Device() *wgpu.Device {
	return r.backend.Device()
}

func (r *renderer) SurfaceFormat() *wgpu.TextureFormat {
	return r.backend.SurfaceFormat()
}

func (r *renderer) SampleCount() uint32 {
	return r.backend.SampleCount()
}

func (r *renderer) RegisterPipeline(key string, p *wgpu.RenderPipeline) error {
	if p == nil {
		return errors.New("renderer: cannot register a nil pipeline")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pipelines[key]; ok {
		log.Printf("renderer: pipeline %q already registered, ignoring", key)
		return nil
	}
	r.pipelines[key] = p
	return nil
}

func (r *renderer) Pipeline(key string) *wgpu.RenderPipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipelines[key]
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) InitMeshBuffers(provider bind_group_provider.BindGroupProvider, vertexCapacityBytes, indexCapacityBytes uint64) error {
	return r.backend.InitMeshBuffers(provider, vertexCapacityBytes, indexCapacityBytes)
}

func (r *renderer) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	return r.backend.InitBindGroup(provider, descriptor, bufferUsageOverrides, bufferSizeOverrides)
}

func (r *renderer) InitTextureView(provider bind_group_provider.BindGroupProvider, bindingKey int, stagingData common.TextureStagingData) error {
	return r.backend.InitTextureView(provider, bindingKey, stagingData)
}

func (r *renderer) InitTextureArray(provider bind_group_provider.BindGroupProvider, bindingKey int, width, height, layers, mipLevels uint32) error {
	return r.backend.InitTextureArray(provider, bindingKey, width, height, layers, mipLevels)
}

func (r *renderer) InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error {
	return r.backend.InitSampler(provider, bindingKey, samplerStagingData)
}

func (r *renderer) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	r.backend.WriteBuffers(writes)
}

func (r *renderer) WriteTextures(writes []bind_group_provider.TextureWrite) {
	r.backend.WriteTextures(writes)
}

func (r *renderer) BeginFrame() error {
	return r.backend.BeginFrame()
}

func (r *renderer) DrawCall(call DrawCall, meshProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider) error {
	if call.InstanceCount == 0 {
		return nil
	}

	p := r.Pipeline(call.PipelineKey)
	if p == nil {
		return ErrUnknownPipeline
	}

	r.backend.DrawCall(p, meshProvider, call, bindGroups)
	return nil
}

func (r *renderer) EndFrame() {
	r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}
