package material

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Material flag bits stored in GPUMaterial.Flags.
const (
	// FlagTextured marks the material as sampling the texture atlas at
	// TextureSlot instead of using BaseColor alone.
	FlagTextured uint32 = 1 << 0
	// FlagUnlit skips lighting and outputs the surface color directly.
	FlagUnlit uint32 = 1 << 1
	// FlagDoubleSided disables backface culling intent for this material.
	FlagDoubleSided uint32 = 1 << 2
)

// GPUMaterial is the GPU-aligned surface description stored in the material
// storage buffer. Instance records reference it by slot, so slots stay stable
// for a material's whole lifetime.
// Size: 48 bytes (std430 aligned).
type GPUMaterial struct {
	BaseColor   [4]float32 // offset  0: albedo RGBA (16 bytes)
	Emissive    [3]float32 // offset 16: emissive RGB (12 bytes)
	Metallic    float32    // offset 28: metalness factor 0..1 (4 bytes)
	Roughness   float32    // offset 32: roughness factor 0..1 (4 bytes)
	TextureSlot uint32     // offset 36: atlas sub-texture slot (4 bytes)
	Flags       uint32     // offset 40: bitfield of Flag* values (4 bytes)
	_pad        uint32     // offset 44: padding to 48-byte stride
}

// Size returns the size of the GPUMaterial struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUMaterial) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMaterial struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload.
func (g *GPUMaterial) Marshal() []byte {
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(g.BaseColor[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(g.BaseColor[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(g.BaseColor[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(g.BaseColor[3]))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(g.Emissive[0]))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(g.Emissive[1]))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(g.Emissive[2]))
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(g.Metallic))
	binary.LittleEndian.PutUint32(buf[32:36], math.Float32bits(g.Roughness))
	binary.LittleEndian.PutUint32(buf[36:40], g.TextureSlot)
	binary.LittleEndian.PutUint32(buf[40:44], g.Flags)
	binary.LittleEndian.PutUint32(buf[44:48], 0) // padding
	return buf
}

// Unmarshal deserializes a 48-byte GPU buffer region back into the struct.
// Used by CPU-mirror read-back.
//
// Parameters:
//   - buf: a 48-byte buffer previously produced by Marshal
func (g *GPUMaterial) Unmarshal(buf []byte) {
	g.BaseColor[0] = math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	g.BaseColor[1] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
	g.BaseColor[2] = math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))
	g.BaseColor[3] = math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16]))
	g.Emissive[0] = math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))
	g.Emissive[1] = math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24]))
	g.Emissive[2] = math.Float32frombits(binary.LittleEndian.Uint32(buf[24:28]))
	g.Metallic = math.Float32frombits(binary.LittleEndian.Uint32(buf[28:32]))
	g.Roughness = math.Float32frombits(binary.LittleEndian.Uint32(buf[32:36]))
	g.TextureSlot = binary.LittleEndian.Uint32(buf[36:40])
	g.Flags = binary.LittleEndian.Uint32(buf[40:44])
}
