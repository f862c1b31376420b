package light

// storeConfig holds construction-time settings resolved by StoreOptions.
type storeConfig struct {
	capacity     uint32
	ambientColor [3]float32
	label        string
}

// StoreOption is a functional option used to configure a Store during construction.
type StoreOption func(*storeConfig)

// WithCapacity sets the light capacity. Values above MaxGPULights are clamped.
//
// Parameters:
//   - capacity: the light capacity
//
// Returns:
//   - StoreOption: a function that sets the capacity
func WithCapacity(capacity uint32) StoreOption {
	return func(c *storeConfig) {
		c.capacity = capacity
	}
}

// WithAmbientColor sets the initial scene ambient RGB written into the buffer
// header.
//
// Parameters:
//   - r, g, b: ambient color components
//
// Returns:
//   - StoreOption: a function that sets the ambient color
func WithAmbientColor(r, g, b float32) StoreOption {
	return func(c *storeConfig) {
		c.ambientColor = [3]float32{r, g, b}
	}
}

// WithLabel overrides the debug label given to the store's bind group
// provider. Defaults to "light_store".
//
// Parameters:
//   - label: the debug label
//
// Returns:
//   - StoreOption: a function that sets the label
func WithLabel(label string) StoreOption {
	return func(c *storeConfig) {
		c.label = label
	}
}
