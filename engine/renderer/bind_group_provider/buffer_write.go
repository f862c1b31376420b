package bind_group_provider

const (
	// VertexBufferBinding targets a BufferWrite at the provider's geometry
	// vertex buffer instead of a bind group binding.
	VertexBufferBinding = -1
	// IndexBufferBinding targets a BufferWrite at the provider's geometry
	// index buffer instead of a bind group binding.
	IndexBufferBinding = -2
)

// BufferWrite is a staged write of raw bytes into one buffer binding of a
// provider. Stores accumulate these per frame and hand them to the renderer,
// which submits them in the order they were staged. Negative bindings target
// the provider's vertex and index buffers.
type BufferWrite struct {
	Provider BindGroupProvider
	Binding  int
	Offset   uint64
	Data     []byte
}

// TextureWrite is a staged upload of a pixel region into one texture binding
// of a provider. Data is tightly packed rows of BytesPerRow bytes; the region
// targets a single mip level and array layer.
type TextureWrite struct {
	Provider    BindGroupProvider
	Binding     int
	MipLevel    uint32
	Layer       uint32
	OriginX     uint32
	OriginY     uint32
	Width       uint32
	Height      uint32
	BytesPerRow uint32
	Data        []byte
}
