// Package engine ties the subsystems together: it owns the window, the
// renderer, the GPU-backed stores (instances, meshes, materials, lights,
// atlas), the draw-call batcher, and the registered scenes. The render loop
// runs the full frame lifecycle — scene traversal, staged write flush, batched
// draw submission — while the tick loop drives game logic at a fixed rate.
package engine

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/onyx-go/common"
	"github.com/Carmen-Shannon/onyx-go/engine/atlas"
	"github.com/Carmen-Shannon/onyx-go/engine/instance"
	"github.com/Carmen-Shannon/onyx-go/engine/light"
	"github.com/Carmen-Shannon/onyx-go/engine/material"
	"github.com/Carmen-Shannon/onyx-go/engine/mesh"
	"github.com/Carmen-Shannon/onyx-go/engine/profiler"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/onyx-go/engine/scene"
	"github.com/Carmen-Shannon/onyx-go/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
)

// FrameUniformBinding is the bind group entry holding the per-frame
// projection matrix.
const FrameUniformBinding = 0

// engine implements the Engine interface.
// Coordinates engine, render, and window threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window   window.Window
	renderer renderer.Renderer

	instances instance.Store
	meshes    mesh.Store
	materials material.Store
	lights    light.Store
	atlas     atlas.Store
	batcher   renderer.Batcher

	frameUniforms bind_group_provider.BindGroupProvider
	bindGroups    []bind_group_provider.BindGroupProvider

	view *scene.View

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	scenesMu sync.RWMutex
	scenes   map[int]scene.Scene

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped

	// store capacities, fixed at construction
	instanceCapacity uint32
	vertexCapacity   uint32
	indexCapacity    uint32
	materialCapacity uint32
	lightCapacity    uint32
	atlasOptions     []atlas.StoreOption
	rendererOptions  []renderer.RendererBuilderOption
}

// Engine is the main entry point for the rendering core.
// It orchestrates the tick loop, render loop, and window management.
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Renderer returns the renderer, or nil when the engine was built without
	// a window.
	//
	// Returns:
	//   - renderer.Renderer: the renderer instance
	Renderer() renderer.Renderer

	// Instances returns the shared instance store.
	//
	// Returns:
	//   - instance.Store: the instance store
	Instances() instance.Store

	// Meshes returns the shared mesh store.
	//
	// Returns:
	//   - mesh.Store: the mesh store
	Meshes() mesh.Store

	// Materials returns the shared material store.
	//
	// Returns:
	//   - material.Store: the material store
	Materials() material.Store

	// Lights returns the shared lighting store.
	//
	// Returns:
	//   - light.Store: the lighting store
	Lights() light.Store

	// Atlas returns the shared texture atlas.
	//
	// Returns:
	//   - atlas.Store: the texture atlas
	Atlas() atlas.Store

	// Batcher returns the draw-call batcher.
	//
	// Returns:
	//   - renderer.Batcher: the batcher
	Batcher() renderer.Batcher

	// BindGroupLayouts returns the frame's bind group layouts in group order
	// (frame uniforms, instances, materials, lights, atlas). Use these to
	// build the pipeline layout when compiling render pipelines for
	// RegisterPipeline. Returns nil when the engine was built without a
	// window.
	//
	// Returns:
	//   - []*wgpu.BindGroupLayout: the layouts in bind group order
	BindGroupLayouts() []*wgpu.BindGroupLayout

	// View returns the frame view whose view matrix feeds traversal and
	// whose projection feeds the frame uniform buffer.
	//
	// Returns:
	//   - *scene.View: the frame view
	View() *scene.View

	// SetView replaces the frame view. Camera nodes bound to the given view
	// will then drive the frame's view matrix.
	//
	// Parameters:
	//   - v: the view to use; nil is ignored
	SetView(v *scene.View)

	// NewScene creates a scene wired to the engine's instance and lighting
	// stores. The scene still needs AddScene to enter the render order.
	//
	// Parameters:
	//   - name: the scene name
	//   - options: optional scene builder options
	//
	// Returns:
	//   - scene.Scene: the new scene
	NewScene(name string, options ...scene.SceneBuilderOption) scene.Scene

	// RegisterSceneGraphModel uploads a mesh, reserves an instance
	// allocation, and creates the persistent draw descriptor tying them to a
	// pipeline. This is the one-stop registration for a drawable model group.
	//
	// Parameters:
	//   - pipelineKey: the registered pipeline the model draws with
	//   - vertexData: the mesh's packed vertex bytes (64-byte stride)
	//   - indices: the mesh's local vertex indices
	//   - instanceCapacity: the maximum concurrent instances of the model
	//
	// Returns:
	//   - uint32: the mesh id
	//   - uint32: the allocation id
	//   - error: an error if the mesh or allocation could not be created
	RegisterSceneGraphModel(pipelineKey string, vertexData []byte, indices []uint32, instanceCapacity uint32) (uint32, uint32, error)

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	// The tick callback will be called at this rate for game logic updates.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	// Use this for game logic and animation updates.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called each render frame after
	// submission.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// AddScene registers a scene at the given z-index key.
	// Scenes are traversed in ascending key order during the render loop.
	//
	// Parameters:
	//   - key: the z-index determining traversal order (lower first)
	//   - s: the Scene to register
	AddScene(key int, s scene.Scene)

	// RemoveScene removes the scene at the given z-index key.
	//
	// Parameters:
	//   - key: the z-index of the scene to remove
	RemoveScene(key int)

	// Scene retrieves the scene registered at the given z-index key.
	// Returns nil if no scene exists at that key.
	//
	// Parameters:
	//   - key: the z-index of the scene to retrieve
	//
	// Returns:
	//   - scene.Scene: the scene at the key, or nil if not found
	Scene(key int) scene.Scene

	// Scenes returns a copy of all registered scenes keyed by z-index.
	//
	// Returns:
	//   - map[int]scene.Scene: a copy of the scenes map
	Scenes() map[int]scene.Scene

	// Run starts the main engine loop (blocks until window closes).
	Run()

	// Quit signals all engine goroutines to stop and shuts down the engine.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options. The
// stores are created at their configured capacities; when a window is
// provided, the renderer and all GPU resources (arena buffers, bind groups,
// atlas texture) are initialized immediately.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel:  make(chan time.Duration, 1),
		quitChannel:      make(chan struct{}),
		scenes:           make(map[int]scene.Scene),
		running:          false,
		wg:               sync.WaitGroup{},
		profiler:         profiler.NewProfiler(),
		profilingEnabled: false,
		engineTickRate:   time.Second / 60,
		view:             scene.NewView(),
		instanceCapacity: 1024,
		vertexCapacity:   1 << 16,
		indexCapacity:    1 << 17,
		materialCapacity: 256,
		lightCapacity:    light.MaxGPULights,
	}

	for _, opt := range options {
		opt(e)
	}

	e.instances = instance.NewStore(e.instanceCapacity)
	e.meshes = mesh.NewStore(e.vertexCapacity, e.indexCapacity)
	e.materials = material.NewStore(e.materialCapacity)
	e.lights = light.NewStore(light.WithCapacity(e.lightCapacity))
	e.atlas = atlas.NewStore(e.atlasOptions...)
	e.batcher = renderer.NewBatcher()
	e.frameUniforms = bind_group_provider.NewBindGroupProvider("frame_uniforms")

	if e.window != nil {
		e.renderer = renderer.NewRenderer(
			e.window.SurfaceDescriptor(),
			e.window.Width(),
			e.window.Height(),
			e.rendererOptions...,
		)
		if err := e.initGPUResources(); err != nil {
			panic(err)
		}

		e.window.SetResizeCallback(func(width, height int) {
			e.renderer.Resize(width, height)
		})
	}

	return e
}

// initGPUResources creates the arena buffers, the store bind groups, and the
// atlas array texture, and fixes the frame's bind group order:
// group 0 frame uniforms, 1 instances, 2 materials, 3 lights, 4 atlas.
func (e *engine) initGPUResources() error {
	if err := e.renderer.InitMeshBuffers(
		e.meshes.BindGroupProvider(),
		uint64(e.vertexCapacity)*mesh.VertexStride,
		uint64(e.indexCapacity)*4,
	); err != nil {
		return err
	}

	if err := e.renderer.InitBindGroup(e.frameUniforms, wgpu.BindGroupLayoutDescriptor{
		Label: "Frame Uniforms Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    FrameUniformBinding,
				Visibility: wgpu.ShaderStageVertex,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: 64},
			},
		},
	}, nil, nil); err != nil {
		return err
	}

	var instanceData instance.GPUInstanceData
	instanceDataSize := uint64(e.instanceCapacity) * uint64(instanceData.Size())
	if err := e.renderer.InitBindGroup(e.instances.BindGroupProvider(), wgpu.BindGroupLayoutDescriptor{
		Label: "Instance Store Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    instance.InstanceDataBinding,
				Visibility: wgpu.ShaderStageVertex,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    instance.ActiveIndexBinding,
				Visibility: wgpu.ShaderStageVertex,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
		},
	}, nil, map[int]uint64{
		instance.InstanceDataBinding: instanceDataSize,
		instance.ActiveIndexBinding:  uint64(e.instanceCapacity) * 4,
	}); err != nil {
		return err
	}

	var materialData material.GPUMaterial
	materialDataSize := uint64(e.materialCapacity) * uint64(materialData.Size())
	if err := e.renderer.InitBindGroup(e.materials.BindGroupProvider(), wgpu.BindGroupLayoutDescriptor{
		Label: "Material Store Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    material.MaterialDataBinding,
				Visibility: wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
		},
	}, nil, map[int]uint64{material.MaterialDataBinding: materialDataSize}); err != nil {
		return err
	}

	var lightHeader light.GPULightHeader
	var lightData light.GPULight
	lightDataSize := uint64(lightHeader.Size()) + uint64(e.lightCapacity)*uint64(lightData.Size())
	if err := e.renderer.InitBindGroup(e.lights.BindGroupProvider(), wgpu.BindGroupLayoutDescriptor{
		Label: "Light Store Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    light.LightDataBinding,
				Visibility: wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
		},
	}, nil, map[int]uint64{light.LightDataBinding: lightDataSize}); err != nil {
		return err
	}

	atlasProvider := e.atlas.BindGroupProvider()
	if err := e.renderer.InitTextureArray(
		atlasProvider,
		atlas.AtlasTextureBinding,
		e.atlas.LayerSize(),
		e.atlas.LayerSize(),
		e.atlas.LayerCount(),
		e.atlas.MipLevels(),
	); err != nil {
		return err
	}
	if err := e.renderer.InitSampler(atlasProvider, atlas.AtlasSamplerBinding, common.SamplerStagingData{}); err != nil {
		return err
	}
	if err := e.renderer.InitBindGroup(atlasProvider, wgpu.BindGroupLayoutDescriptor{
		Label: "Texture Atlas Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    atlas.AtlasTextureBinding,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2DArray,
				},
			},
			{
				Binding:    atlas.AtlasSamplerBinding,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
		},
	}, nil, nil); err != nil {
		return err
	}

	e.bindGroups = []bind_group_provider.BindGroupProvider{
		e.frameUniforms,
		e.instances.BindGroupProvider(),
		e.materials.BindGroupProvider(),
		e.lights.BindGroupProvider(),
		atlasProvider,
	}

	return nil
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Instances() instance.Store {
	return e.instances
}

func (e *engine) Meshes() mesh.Store {
	return e.meshes
}

func (e *engine) Materials() material.Store {
	return e.materials
}

func (e *engine) Lights() light.Store {
	return e.lights
}

func (e *engine) Atlas() atlas.Store {
	return e.atlas
}

func (e *engine) Batcher() renderer.Batcher {
	return e.batcher
}

func (e *engine) BindGroupLayouts() []*wgpu.BindGroupLayout {
	if e.bindGroups == nil {
		return nil
	}
	layouts := make([]*wgpu.BindGroupLayout, len(e.bindGroups))
	for i, provider := range e.bindGroups {
		layouts[i] = provider.BindGroupLayout()
	}
	return layouts
}

func (e *engine) View() *scene.View {
	return e.view
}

func (e *engine) SetView(v *scene.View) {
	if v == nil {
		return
	}
	e.view = v
}

func (e *engine) NewScene(name string, options ...scene.SceneBuilderOption) scene.Scene {
	return scene.NewScene(name, e.instances, e.lights, options...)
}

func (e *engine) RegisterSceneGraphModel(pipelineKey string, vertexData []byte, indices []uint32, instanceCapacity uint32) (uint32, uint32, error) {
	meshID, err := e.meshes.AddMesh(vertexData, indices)
	if err != nil {
		return 0, 0, err
	}

	allocationID, err := e.instances.RegisterAllocation(instanceCapacity)
	if err != nil {
		e.meshes.RemoveMesh(meshID)
		return 0, 0, err
	}

	m, err := e.meshes.Mesh(meshID)
	if err != nil {
		return 0, 0, err
	}
	e.batcher.RegisterModel(pipelineKey, m, allocationID)

	return meshID, allocationID, nil
}

func (e *engine) Run() {
	e.running = true
	e.handle()
	if e.window != nil {
		e.window.ProcessMessages()
		return
	}
	// Windowless engines have no message loop; block until Quit.
	<-e.quitChannel
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
	})
}

// handle launches the engine, render, and quit goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(3)
	go e.handleEngine()
	go e.handleRender()
	go e.handleQuit()
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	// Recover from panics inside the render goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("render goroutine recovered from panic: %v", r)
			e.signalQuit()
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastRender).Seconds())
			lastRender = now

			e.renderFrame()

			if e.renderCallback != nil {
				e.renderCallback(dt)
			}

			if e.profilingEnabled && e.profiler != nil {
				e.profiler.Tick()
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(lastRender)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// renderFrame executes one full frame: traverse active scenes in ascending
// z-index order, flush every store's staged writes, refresh the draw
// descriptors from the instance allocations, and submit the batched draws.
func (e *engine) renderFrame() {
	if e.renderer == nil {
		return
	}

	e.scenesMu.RLock()
	keys := make([]int, 0, len(e.scenes))
	frameScenes := make(map[int]scene.Scene, len(e.scenes))
	for k, s := range e.scenes {
		keys = append(keys, k)
		frameScenes[k] = s
	}
	e.scenesMu.RUnlock()
	sort.Ints(keys)

	for _, k := range keys {
		s := frameScenes[k]
		if !s.Active() {
			continue
		}
		if err := s.UpdateModelViews(e.view); err != nil {
			log.Printf("engine: scene %q traversal failed: %v", s.Name(), err)
		}
	}

	e.lights.MarshalFrame()

	// Instance records already carry model-view transforms, so the frame
	// uniform only needs the projection to reach clip space.
	projection := e.view.Projection()

	writes := []bind_group_provider.BufferWrite{
		{
			Provider: e.frameUniforms,
			Binding:  FrameUniformBinding,
			Offset:   0,
			Data:     common.SliceToBytes(projection[:]),
		},
	}
	writes = append(writes, e.meshes.StagedWriteData()...)
	writes = append(writes, e.instances.StagedWriteData()...)
	writes = append(writes, e.materials.StagedWriteData()...)
	writes = append(writes, e.lights.StagedWriteData()...)
	e.renderer.WriteBuffers(writes)
	e.renderer.WriteTextures(e.atlas.StagedTextureData())

	if err := e.batcher.Refresh(e.instances); err != nil {
		log.Printf("engine: draw descriptor refresh failed: %v", err)
		return
	}

	if err := e.renderer.BeginFrame(); err != nil {
		return
	}
	meshProvider := e.meshes.BindGroupProvider()
	for _, call := range e.batcher.DrawCallList() {
		if err := e.renderer.DrawCall(call, meshProvider, e.bindGroups); err != nil {
			log.Printf("engine: draw call for mesh %d failed: %v", call.MeshID, err)
		}
	}
	e.renderer.EndFrame()
	e.renderer.Present()
}

// handleQuit blocks until the quit channel is closed, then decrements the WaitGroup.
func (e *engine) handleQuit() {
	defer e.wg.Done()
	<-e.quitChannel
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Second / time.Duration(fps)

	if e.running {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			// Channel has a pending update, drain and send new value
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		// Engine not running, just update the field
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called each render frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Second / time.Duration(fps)
}

func (e *engine) AddScene(key int, s scene.Scene) {
	e.scenesMu.Lock()
	defer e.scenesMu.Unlock()
	e.scenes[key] = s
}

func (e *engine) RemoveScene(key int) {
	e.scenesMu.Lock()
	defer e.scenesMu.Unlock()
	delete(e.scenes, key)
}

func (e *engine) Scene(key int) scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	return e.scenes[key]
}

func (e *engine) Scenes() map[int]scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	cp := make(map[int]scene.Scene, len(e.scenes))
	for k, v := range e.scenes {
		cp[k] = v
	}
	return cp
}
