package atlas

type storeConfig struct {
	label     string
	layerSize uint32
	cellSize  uint32
	layers    uint32
	mipLevels uint32
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		label:     "texture_atlas",
		layerSize: 1024,
		cellSize:  64,
		layers:    4,
		mipLevels: 1,
	}
}

// StoreOption is a function that configures the atlas during construction.
type StoreOption func(*storeConfig)

// WithLayerSize sets the edge length of each square layer in pixels. Must be a
// multiple of the cell size. Defaults to 1024.
//
// Parameters:
//   - size: the layer edge length in pixels
//
// Returns:
//   - StoreOption: a function that applies the layer size option
func WithLayerSize(size uint32) StoreOption {
	return func(cfg *storeConfig) {
		if size > 0 {
			cfg.layerSize = size
		}
	}
}

// WithCellSize sets the placement granularity in pixels. Defaults to 64.
//
// Parameters:
//   - size: the cell edge length in pixels
//
// Returns:
//   - StoreOption: a function that applies the cell size option
func WithCellSize(size uint32) StoreOption {
	return func(cfg *storeConfig) {
		if size > 0 {
			cfg.cellSize = size
		}
	}
}

// WithLayers sets the number of array layers. Defaults to 4.
//
// Parameters:
//   - layers: the layer count, minimum 1
//
// Returns:
//   - StoreOption: a function that applies the layer count option
func WithLayers(layers uint32) StoreOption {
	return func(cfg *storeConfig) {
		if layers > 0 {
			cfg.layers = layers
		}
	}
}

// WithMipLevels sets the number of mip levels kept per layer. Defaults to 1.
//
// Parameters:
//   - levels: the mip level count, minimum 1
//
// Returns:
//   - StoreOption: a function that applies the mip level option
func WithMipLevels(levels uint32) StoreOption {
	return func(cfg *storeConfig) {
		if levels > 0 {
			cfg.mipLevels = levels
		}
	}
}

// WithLabel sets the label used for the atlas's bind group provider and its
// GPU resources. Defaults to "texture_atlas".
//
// Parameters:
//   - label: the label to use
//
// Returns:
//   - StoreOption: a function that applies the label option
func WithLabel(label string) StoreOption {
	return func(cfg *storeConfig) {
		cfg.label = label
	}
}
