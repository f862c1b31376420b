package atlas

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/onyx-go/common"
)

// coordImage builds an RGBA image where every pixel encodes its coordinates,
// so placement and mirroring can be checked byte-for-byte.
func coordImage(w, h uint32) common.TextureStagingData {
	pixels := make([]byte, w*h*4)
	for y := uint32(0); y < h; y++ {
		for x := uint32(0); x < w; x++ {
			off := (y*w + x) * 4
			pixels[off] = byte(x)
			pixels[off+1] = byte(y)
			pixels[off+2] = 0xAB
			pixels[off+3] = 0xFF
		}
	}
	return common.TextureStagingData{Pixels: pixels, Width: w, Height: h}
}

func TestFirstFitThenOutOfResources(t *testing.T) {
	s := NewStore(WithLayerSize(256), WithLayers(1), WithCellSize(64))

	id, err := s.AddSubTexture(coordImage(64, 64), false)
	if err != nil {
		t.Fatalf("AddSubTexture error = %v", err)
	}
	sub, err := s.SubTexture(id)
	if err != nil {
		t.Fatalf("SubTexture error = %v", err)
	}
	if sub.X != 0 || sub.Y != 0 || sub.Layer != 0 {
		t.Errorf("first fit placed at (%d, %d) layer %d, want origin of layer 0", sub.X, sub.Y, sub.Layer)
	}

	// 200×200 needs a 4×4 cell block; the occupied corner cell rules out
	// every candidate origin in a 4×4 grid.
	if _, err := s.AddSubTexture(coordImage(200, 200), false); !errors.Is(err, ErrOutOfResources) {
		t.Errorf("oversized add error = %v, want ErrOutOfResources", err)
	}

	// Freeing the corner makes the same request succeed.
	if err := s.RemoveSubTexture(id); err != nil {
		t.Fatalf("RemoveSubTexture error = %v", err)
	}
	if _, err := s.AddSubTexture(coordImage(200, 200), false); err != nil {
		t.Errorf("add after free error = %v", err)
	}
}

func TestScanOrderAndLayerOverflow(t *testing.T) {
	s := NewStore(WithLayerSize(128), WithLayers(2), WithCellSize(64))

	// Four 64×64 entries fill layer 0 left-to-right, top-to-bottom.
	want := [][2]uint32{{0, 0}, {64, 0}, {0, 64}, {64, 64}}
	for i, pos := range want {
		id, err := s.AddSubTexture(coordImage(64, 64), false)
		if err != nil {
			t.Fatalf("AddSubTexture %d error = %v", i, err)
		}
		sub, _ := s.SubTexture(id)
		if sub.X != pos[0] || sub.Y != pos[1] || sub.Layer != 0 {
			t.Errorf("entry %d placed at (%d, %d) layer %d, want (%d, %d) layer 0",
				i, sub.X, sub.Y, sub.Layer, pos[0], pos[1])
		}
	}

	// The fifth entry spills into layer 1.
	id, err := s.AddSubTexture(coordImage(64, 64), false)
	if err != nil {
		t.Fatalf("AddSubTexture overflow error = %v", err)
	}
	sub, _ := s.SubTexture(id)
	if sub.Layer != 1 || sub.X != 0 || sub.Y != 0 {
		t.Errorf("overflow placed at (%d, %d) layer %d, want layer 1 origin", sub.X, sub.Y, sub.Layer)
	}
}

func TestWrappableDoublesFootprintAndMirrorsBorder(t *testing.T) {
	s := NewStore(WithLayerSize(16), WithLayers(1), WithCellSize(4))

	id, err := s.AddSubTexture(coordImage(4, 4), true)
	if err != nil {
		t.Fatalf("AddSubTexture error = %v", err)
	}
	sub, _ := s.SubTexture(id)
	if !sub.Wrappable {
		t.Error("sub-texture not marked wrappable")
	}
	// The 8×8 footprint sits at the origin with the content centered.
	if sub.X != 2 || sub.Y != 2 || sub.Width != 4 || sub.Height != 4 {
		t.Errorf("content rect = (%d, %d, %d, %d), want (2, 2, 4, 4)", sub.X, sub.Y, sub.Width, sub.Height)
	}
	if sub.U0 != 2.0/16 || sub.V0 != 2.0/16 || sub.U1 != 6.0/16 || sub.V1 != 6.0/16 {
		t.Errorf("uv rect = (%v, %v, %v, %v)", sub.U0, sub.V0, sub.U1, sub.V1)
	}

	// A second wrappable 4×4 cannot share the 8×8 block.
	id2, err := s.AddSubTexture(coordImage(4, 4), true)
	if err != nil {
		t.Fatalf("second AddSubTexture error = %v", err)
	}
	sub2, _ := s.SubTexture(id2)
	if sub2.X != 10 || sub2.Y != 2 {
		t.Errorf("second wrappable content at (%d, %d), want (10, 2)", sub2.X, sub2.Y)
	}

	// The padding texel left of the content mirrors the content's edge column.
	layer := s.LayerPixels(0, 0)
	at := func(x, y uint32) [2]byte {
		off := (y*16 + x) * 4
		return [2]byte{layer[off], layer[off+1]}
	}
	if got := at(2, 2); got != [2]byte{0, 0} {
		t.Fatalf("content origin = %v, want source (0, 0)", got)
	}
	if got := at(1, 2); got != [2]byte{0, 0} {
		t.Errorf("left padding = %v, want mirror of source column 0", got)
	}
	if got := at(0, 2); got != [2]byte{1, 0} {
		t.Errorf("outer left padding = %v, want mirror of source column 1", got)
	}
	if got := at(6, 2); got != [2]byte{3, 0} {
		t.Errorf("right padding = %v, want mirror of source column 3", got)
	}
	if got := at(2, 1); got != [2]byte{0, 0} {
		t.Errorf("top padding = %v, want mirror of source row 0", got)
	}
}

func TestStagedWritesCoverEveryMipLevel(t *testing.T) {
	s := NewStore(WithLayerSize(16), WithLayers(1), WithCellSize(4), WithMipLevels(3))

	if _, err := s.AddSubTexture(coordImage(4, 4), true); err != nil {
		t.Fatalf("AddSubTexture error = %v", err)
	}

	writes := s.StagedTextureData()
	if len(writes) != 3 {
		t.Fatalf("staged write count = %d, want 3", len(writes))
	}
	wantDims := []uint32{8, 4, 2}
	for i, w := range writes {
		if w.MipLevel != uint32(i) {
			t.Errorf("write %d mip = %d, want %d", i, w.MipLevel, i)
		}
		if w.Width != wantDims[i] || w.Height != wantDims[i] {
			t.Errorf("write %d dims = %d×%d, want %d×%d", i, w.Width, w.Height, wantDims[i], wantDims[i])
		}
		if w.BytesPerRow != wantDims[i]*4 {
			t.Errorf("write %d bytes per row = %d, want %d", i, w.BytesPerRow, wantDims[i]*4)
		}
		if uint32(len(w.Data)) != wantDims[i]*wantDims[i]*4 {
			t.Errorf("write %d data length = %d", i, len(w.Data))
		}
	}

	if got := s.StagedTextureData(); got != nil {
		t.Errorf("second drain returned %d writes, want nil", len(got))
	}
}

func TestAddSubTextureValidation(t *testing.T) {
	s := NewStore(WithLayerSize(64), WithLayers(1), WithCellSize(64))

	if _, err := s.AddSubTexture(common.TextureStagingData{Width: 0, Height: 4}, false); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("zero width error = %v, want ErrInvalidImage", err)
	}
	short := coordImage(4, 4)
	short.Pixels = short.Pixels[:8]
	if _, err := s.AddSubTexture(short, false); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("short pixels error = %v, want ErrInvalidImage", err)
	}
	// A 64×64 wrappable footprint is 128×128, larger than the layer.
	if _, err := s.AddSubTexture(coordImage(64, 64), true); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("oversized wrappable error = %v, want ErrInvalidImage", err)
	}

	if err := s.RemoveSubTexture(42); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("remove unknown id error = %v, want ErrInvalidHandle", err)
	}
}

func TestIDsMonotonicAcrossRemove(t *testing.T) {
	s := NewStore(WithLayerSize(128), WithLayers(1), WithCellSize(64))

	id0, err := s.AddSubTexture(coordImage(64, 64), false)
	if err != nil {
		t.Fatalf("AddSubTexture error = %v", err)
	}
	if err := s.RemoveSubTexture(id0); err != nil {
		t.Fatalf("RemoveSubTexture error = %v", err)
	}
	id1, err := s.AddSubTexture(coordImage(64, 64), false)
	if err != nil {
		t.Fatalf("AddSubTexture error = %v", err)
	}
	if id1 <= id0 {
		t.Errorf("id reused after remove: %d then %d", id0, id1)
	}
	if _, err := s.SubTexture(id0); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("removed id lookup error = %v, want ErrInvalidHandle", err)
	}
}
