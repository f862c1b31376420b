package engine

import (
	"time"

	"github.com/Carmen-Shannon/onyx-go/engine/atlas"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer"
	"github.com/Carmen-Shannon/onyx-go/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithTickRate sets the engine tick rate in frames per second.
// The tick callback will be called at this rate for game logic updates.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Second / time.Duration(fps)
	}
}

// WithWindow sets a custom configured window for the engine to use rather than allowing the engine
// to create and manage one internally. Without a window the engine builds no renderer and
// renderFrame is a no-op, which is the configuration used in tests.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Second / time.Duration(fps)
	}
}

// WithInstanceCapacity sets the instance store capacity in instances.
// Defaults to 1024.
//
// Parameters:
//   - capacity: the maximum number of concurrent instances
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithInstanceCapacity(capacity uint32) EngineBuilderOption {
	return func(e *engine) {
		if capacity > 0 {
			e.instanceCapacity = capacity
		}
	}
}

// WithMeshCapacities sets the vertex and index arena capacities, counted in
// vertices and indices. Defaults to 65536 vertices and 131072 indices.
//
// Parameters:
//   - vertexCapacity: the maximum total vertices across all meshes
//   - indexCapacity: the maximum total indices across all meshes
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithMeshCapacities(vertexCapacity, indexCapacity uint32) EngineBuilderOption {
	return func(e *engine) {
		if vertexCapacity > 0 {
			e.vertexCapacity = vertexCapacity
		}
		if indexCapacity > 0 {
			e.indexCapacity = indexCapacity
		}
	}
}

// WithMaterialCapacity sets the material store capacity in slots.
// Defaults to 256.
//
// Parameters:
//   - capacity: the maximum number of material slots
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithMaterialCapacity(capacity uint32) EngineBuilderOption {
	return func(e *engine) {
		if capacity > 0 {
			e.materialCapacity = capacity
		}
	}
}

// WithLightCapacity sets the lighting store capacity. Values above the GPU
// buffer limit are clamped by the store. Defaults to the GPU limit.
//
// Parameters:
//   - capacity: the maximum number of lights
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLightCapacity(capacity uint32) EngineBuilderOption {
	return func(e *engine) {
		if capacity > 0 {
			e.lightCapacity = capacity
		}
	}
}

// WithAtlasOptions forwards options to the texture atlas created by the engine.
//
// Parameters:
//   - options: atlas store options (layer size, layers, cell size, mip levels)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithAtlasOptions(options ...atlas.StoreOption) EngineBuilderOption {
	return func(e *engine) {
		e.atlasOptions = append(e.atlasOptions, options...)
	}
}

// WithRendererOptions forwards options to the renderer created by the engine.
//
// Parameters:
//   - options: renderer builder options (present mode, MSAA, software fallback)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRendererOptions(options ...renderer.RendererBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.rendererOptions = append(e.rendererOptions, options...)
	}
}
