package material

// storeConfig holds construction-time settings resolved by StoreOptions.
type storeConfig struct {
	label string
}

// StoreOption is a functional option used to configure a Store during construction.
type StoreOption func(*storeConfig)

// WithLabel overrides the debug label given to the store's bind group
// provider. Defaults to "material_store".
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
