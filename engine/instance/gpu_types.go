package instance

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUInstanceData is the GPU-aligned per-instance record stored in the
// instance storage buffer. Shaders index it with the storage-slot value read
// from the active index stream.
// Size: 80 bytes (std430 aligned).
type GPUInstanceData struct {
	ModelView    [16]float32 // offset  0: combined view * world transform, column-major (64 bytes)
	MaterialSlot uint32      // offset 64: slot into the material storage buffer (4 bytes)
	_pad         [3]uint32   // offset 68: padding to 80-byte stride
}

// Size returns the size of the GPUInstanceData struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUInstanceData) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUInstanceData struct into a byte buffer suitable
// for GPU upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload.
func (g *GPUInstanceData) Marshal() []byte {
	buf := make([]byte, 80)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(g.ModelView[i]))
	}
	binary.LittleEndian.PutUint32(buf[64:68], g.MaterialSlot)
	return buf
}

// Unmarshal deserializes an 80-byte GPU buffer region back into the struct.
// Used by CPU-mirror read-back.
//
// Parameters:
//   - buf: an 80-byte buffer previously produced by Marshal
func (g *GPUInstanceData) Unmarshal(buf []byte) {
	for i := 0; i < 16; i++ {
		g.ModelView[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : (i+1)*4]))
	}
	g.MaterialSlot = binary.LittleEndian.Uint32(buf[64:68])
}
