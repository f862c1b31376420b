// Package atlas packs decoded texture images into the layers of a shared 2D
// array texture. Placement is cell-granular: each layer is divided into a
// fixed grid, and addSubTexture scans layers top-to-bottom, left-to-right for
// the first free cell block that holds the image's footprint. Wrappable
// sub-textures reserve double their footprint and surround the content with
// mirrored border strips so tiled sampling never bleeds into neighbouring
// regions.
//
// The atlas keeps a CPU mirror of every layer at every mip level and stages
// texture region writes for the renderer to flush, mirroring how the buffer
// stores stage their writes.
package atlas

import (
	"errors"
	"sync"

	"github.com/Carmen-Shannon/onyx-go/common"
	"github.com/Carmen-Shannon/onyx-go/engine/renderer/bind_group_provider"
)

var (
	// ErrOutOfResources is returned when no layer has a free cell block large
	// enough for the requested footprint.
	ErrOutOfResources = errors.New("atlas: no space left for sub-texture")

	// ErrInvalidHandle is returned for operations against an unknown
	// sub-texture id.
	ErrInvalidHandle = errors.New("atlas: invalid sub-texture id")

	// ErrInvalidImage is returned when staging data has zero dimensions, does
	// not fit a single layer, or its pixel slice does not match width*height*4.
	ErrInvalidImage = errors.New("atlas: invalid image data")
)

const (
	// AtlasTextureBinding is the bind group entry for the atlas array texture.
	AtlasTextureBinding = 0

	// AtlasSamplerBinding is the bind group entry for the atlas sampler.
	AtlasSamplerBinding = 1

	bytesPerPixel = 4
)

// SubTexture is a read-only snapshot of one packed region. X and Y locate the
// content rectangle (inside the padding for wrappable entries), and the UV
// fields map the content rectangle into the layer's normalized coordinates.
type SubTexture struct {
	ID        uint32
	Layer     uint32
	X, Y      uint32
	Width     uint32
	Height    uint32
	Wrappable bool
	U0, V0    float32
	U1, V1    float32
}

// region is the book-keeping record for a packed sub-texture, including the
// reserved cell block that must be freed on removal.
type region struct {
	sub SubTexture

	cellX, cellY uint32
	cellsW       uint32
	cellsH       uint32
}

type atlasStore struct {
	mu *sync.RWMutex

	layerSize uint32
	cellSize  uint32
	layers    uint32
	mipLevels uint32

	cellsPerRow uint32
	occupied    [][]bool // per layer, cellsPerRow*cellsPerRow entries

	nextID  uint32
	regions map[uint32]*region

	// pixels[layer][mip] mirrors the GPU layer contents.
	pixels [][][]byte

	provider bind_group_provider.BindGroupProvider
	staged   []bind_group_provider.TextureWrite
}

// Store is the public interface for the texture atlas.
type Store interface {
	// LayerSize returns the width and height of each layer in pixels.
	//
	// Returns:
	//   - uint32: the layer edge length in pixels
	LayerSize() uint32

	// LayerCount returns the number of array layers.
	//
	// Returns:
	//   - uint32: the layer count
	LayerCount() uint32

	// MipLevels returns the number of mip levels kept per layer.
	//
	// Returns:
	//   - uint32: the mip level count
	MipLevels() uint32

	// AddSubTexture packs the given image into the first free cell block,
	// uploads its pixels (and padding, for wrappable entries) at every mip
	// level, and returns a stable sub-texture id.
	//
	// Parameters:
	//   - stagingData: the decoded image (RGBA, 4 bytes per pixel)
	//   - wrappable: true to reserve double the footprint and fill the
	//     padding with mirrored border strips for tiling-safe sampling
	//
	// Returns:
	//   - uint32: the new sub-texture id
	//   - error: ErrInvalidImage for malformed staging data, ErrOutOfResources
	//     when no layer can hold the footprint
	AddSubTexture(stagingData common.TextureStagingData, wrappable bool) (uint32, error)

	// RemoveSubTexture frees the cell block reserved by the given sub-texture.
	// The GPU pixels are left stale; they are unreachable once no material
	// references the slot. Ids are never reused.
	//
	// Parameters:
	//   - id: the sub-texture id to remove
	//
	// Returns:
	//   - error: ErrInvalidHandle if the id is unknown
	RemoveSubTexture(id uint32) error

	// SubTexture returns a snapshot of the given sub-texture's placement.
	//
	// Parameters:
	//   - id: the sub-texture id to look up
	//
	// Returns:
	//   - SubTexture: the placement snapshot
	//   - error: ErrInvalidHandle if the id is unknown
	SubTexture(id uint32) (SubTexture, error)

	// LayerPixels returns a copy of the CPU mirror for one layer and mip.
	//
	// Parameters:
	//   - layer: the array layer
	//   - mip: the mip level
	//
	// Returns:
	//   - []byte: the mirrored pixels, nil if layer or mip is out of range
	LayerPixels(layer, mip uint32) []byte

	// StagedTextureData drains and returns the pending texture region writes.
	//
	// Returns:
	//   - []bind_group_provider.TextureWrite: the staged writes, nil when none are pending
	StagedTextureData() []bind_group_provider.TextureWrite

	// BindGroupProvider returns the provider holding the atlas array texture.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the atlas provider
	BindGroupProvider() bind_group_provider.BindGroupProvider
}

var _ Store = &atlasStore{}

// NewStore creates an atlas with the configured layer geometry. Defaults:
// 1024×1024 layers, 4 layers, 64-pixel cells, a single mip level.
//
// Parameters:
//   - opts: optional StoreOptions
//
// Returns:
//   - Store: the initialized atlas
func NewStore(opts ...StoreOption) Store {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	cellsPerRow := cfg.layerSize / cfg.cellSize
	s := &atlasStore{
		mu:          &sync.RWMutex{},
		layerSize:   cfg.layerSize,
		cellSize:    cfg.cellSize,
		layers:      cfg.layers,
		mipLevels:   cfg.mipLevels,
		cellsPerRow: cellsPerRow,
		regions:     make(map[uint32]*region),
		occupied:    make([][]bool, cfg.layers),
		pixels:      make([][][]byte, cfg.layers),
		provider:    bind_group_provider.NewBindGroupProvider(cfg.label),
	}
	for layer := range s.occupied {
		s.occupied[layer] = make([]bool, cellsPerRow*cellsPerRow)
		s.pixels[layer] = make([][]byte, cfg.mipLevels)
		for mip := range s.pixels[layer] {
			edge := mipExtent(cfg.layerSize, uint32(mip))
			s.pixels[layer][mip] = make([]byte, edge*edge*bytesPerPixel)
		}
	}
	return s
}

func (s *atlasStore) LayerSize() uint32 {
	return s.layerSize
}

func (s *atlasStore) LayerCount() uint32 {
	return s.layers
}

func (s *atlasStore) MipLevels() uint32 {
	return s.mipLevels
}

func (s *atlasStore) AddSubTexture(stagingData common.TextureStagingData, wrappable bool) (uint32, error) {
	w, h := stagingData.Width, stagingData.Height
	if w == 0 || h == 0 || uint32(len(stagingData.Pixels)) != w*h*bytesPerPixel {
		return 0, ErrInvalidImage
	}

	footW, footH := w, h
	if wrappable {
		footW, footH = 2*w, 2*h
	}
	if footW > s.layerSize || footH > s.layerSize {
		return 0, ErrInvalidImage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cellsW := ceilDiv(footW, s.cellSize)
	cellsH := ceilDiv(footH, s.cellSize)

	layer, cellX, cellY, ok := s.findFitLocked(cellsW, cellsH)
	if !ok {
		return 0, ErrOutOfResources
	}
	s.markCellsLocked(layer, cellX, cellY, cellsW, cellsH, true)

	footX := cellX * s.cellSize
	footY := cellY * s.cellSize
	contentX, contentY := footX, footY
	if wrappable {
		contentX += w / 2
		contentY += h / 2
	}

	id := s.nextID
	s.nextID++

	inv := 1 / float32(s.layerSize)
	s.regions[id] = &region{
		sub: SubTexture{
			ID:        id,
			Layer:     layer,
			X:         contentX,
			Y:         contentY,
			Width:     w,
			Height:    h,
			Wrappable: wrappable,
			U0:        float32(contentX) * inv,
			V0:        float32(contentY) * inv,
			U1:        float32(contentX+w) * inv,
			V1:        float32(contentY+h) * inv,
		},
		cellX:  cellX,
		cellY:  cellY,
		cellsW: cellsW,
		cellsH: cellsH,
	}

	s.uploadLocked(layer, footX, footY, footW, footH, w, h, stagingData.Pixels, wrappable)

	return id, nil
}

func (s *atlasStore) RemoveSubTexture(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.regions[id]
	if !ok {
		return ErrInvalidHandle
	}
	s.markCellsLocked(r.sub.Layer, r.cellX, r.cellY, r.cellsW, r.cellsH, false)
	delete(s.regions, id)
	return nil
}

func (s *atlasStore) SubTexture(id uint32) (SubTexture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.regions[id]
	if !ok {
		return SubTexture{}, ErrInvalidHandle
	}
	return r.sub, nil
}

func (s *atlasStore) LayerPixels(layer, mip uint32) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if layer >= s.layers || mip >= s.mipLevels {
		return nil
	}
	out := make([]byte, len(s.pixels[layer][mip]))
	copy(out, s.pixels[layer][mip])
	return out
}

func (s *atlasStore) StagedTextureData() []bind_group_provider.TextureWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.staged
	s.staged = nil
	return staged
}

func (s *atlasStore) BindGroupProvider() bind_group_provider.BindGroupProvider {
	return s.provider
}

// findFitLocked scans layers in order, cells top-to-bottom then left-to-right,
// and returns the first origin whose cellsW×cellsH block is entirely free.
func (s *atlasStore) findFitLocked(cellsW, cellsH uint32) (layer, cellX, cellY uint32, ok bool) {
	if cellsW > s.cellsPerRow || cellsH > s.cellsPerRow {
		return 0, 0, 0, false
	}
	for layer := uint32(0); layer < s.layers; layer++ {
		for cy := uint32(0); cy+cellsH <= s.cellsPerRow; cy++ {
			for cx := uint32(0); cx+cellsW <= s.cellsPerRow; cx++ {
				if s.blockFreeLocked(layer, cx, cy, cellsW, cellsH) {
					return layer, cx, cy, true
				}
			}
		}
	}
	return 0, 0, 0, false
}

func (s *atlasStore) blockFreeLocked(layer, cellX, cellY, cellsW, cellsH uint32) bool {
	for cy := cellY; cy < cellY+cellsH; cy++ {
		for cx := cellX; cx < cellX+cellsW; cx++ {
			if s.occupied[layer][cy*s.cellsPerRow+cx] {
				return false
			}
		}
	}
	return true
}

func (s *atlasStore) markCellsLocked(layer, cellX, cellY, cellsW, cellsH uint32, value bool) {
	for cy := cellY; cy < cellY+cellsH; cy++ {
		for cx := cellX; cx < cellX+cellsW; cx++ {
			s.occupied[layer][cy*s.cellsPerRow+cx] = value
		}
	}
}

// uploadLocked writes the footprint into the CPU mirror at every mip level and
// stages one texture write per level. For wrappable entries the source image
// sits centered in the footprint and every padding texel samples the source
// with mirror addressing, so the border strips reflect the image edges.
func (s *atlasStore) uploadLocked(layer, footX, footY, footW, footH, srcW, srcH uint32, src []byte, wrappable bool) {
	base := buildFootprint(footW, footH, srcW, srcH, src, wrappable)

	level := base
	lw, lh := footW, footH
	for mip := uint32(0); mip < s.mipLevels; mip++ {
		if mip > 0 {
			level = downsample(level, lw, lh)
			lw = halfExtent(lw)
			lh = halfExtent(lh)
		}

		mx := footX >> mip
		my := footY >> mip
		s.blitToMirrorLocked(layer, mip, mx, my, lw, lh, level)

		data := make([]byte, len(level))
		copy(data, level)
		s.staged = append(s.staged, bind_group_provider.TextureWrite{
			Provider:    s.provider,
			Binding:     AtlasTextureBinding,
			MipLevel:    mip,
			Layer:       layer,
			OriginX:     mx,
			OriginY:     my,
			Width:       lw,
			Height:      lh,
			BytesPerRow: lw * bytesPerPixel,
			Data:        data,
		})

		if lw == 1 && lh == 1 {
			break
		}
	}
}

func (s *atlasStore) blitToMirrorLocked(layer, mip, x, y, w, h uint32, data []byte) {
	edge := mipExtent(s.layerSize, mip)
	dst := s.pixels[layer][mip]
	for row := uint32(0); row < h; row++ {
		dstOff := ((y+row)*edge + x) * bytesPerPixel
		srcOff := row * w * bytesPerPixel
		copy(dst[dstOff:dstOff+w*bytesPerPixel], data[srcOff:srcOff+w*bytesPerPixel])
	}
}

// buildFootprint assembles the full footprint image. Non-wrappable entries are
// the source image itself; wrappable entries center the source and fill the
// surrounding padding by mirror-reflecting source coordinates.
func buildFootprint(footW, footH, srcW, srcH uint32, src []byte, wrappable bool) []byte {
	if !wrappable {
		out := make([]byte, len(src))
		copy(out, src)
		return out
	}

	padX := int(srcW) / 2
	padY := int(srcH) / 2
	out := make([]byte, footW*footH*bytesPerPixel)
	for y := 0; y < int(footH); y++ {
		sy := mirrorIndex(y-padY, int(srcH))
		for x := 0; x < int(footW); x++ {
			sx := mirrorIndex(x-padX, int(srcW))
			dstOff := (y*int(footW) + x) * bytesPerPixel
			srcOff := (sy*int(srcW) + sx) * bytesPerPixel
			copy(out[dstOff:dstOff+bytesPerPixel], src[srcOff:srcOff+bytesPerPixel])
		}
	}
	return out
}

// mirrorIndex reflects i into [0, n) with mirror-repeat addressing.
func mirrorIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// downsample box-filters a 2× reduction of the given RGBA image.
func downsample(src []byte, w, h uint32) []byte {
	nw, nh := halfExtent(w), halfExtent(h)
	out := make([]byte, nw*nh*bytesPerPixel)
	for y := uint32(0); y < nh; y++ {
		sy0 := y * 2
		sy1 := min(sy0+1, h-1)
		for x := uint32(0); x < nw; x++ {
			sx0 := x * 2
			sx1 := min(sx0+1, w-1)
			for c := uint32(0); c < bytesPerPixel; c++ {
				sum := uint32(src[(sy0*w+sx0)*bytesPerPixel+c]) +
					uint32(src[(sy0*w+sx1)*bytesPerPixel+c]) +
					uint32(src[(sy1*w+sx0)*bytesPerPixel+c]) +
					uint32(src[(sy1*w+sx1)*bytesPerPixel+c])
				out[(y*nw+x)*bytesPerPixel+c] = byte(sum / 4)
			}
		}
	}
	return out
}

func halfExtent(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return v / 2
}

func mipExtent(base, mip uint32) uint32 {
	e := base >> mip
	if e == 0 {
		return 1
	}
	return e
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}
