package material

import (
	"errors"
	"testing"
)

func redMaterial() GPUMaterial {
	return GPUMaterial{
		BaseColor: [4]float32{1, 0, 0, 1},
		Metallic:  0.25,
		Roughness: 0.5,
		Flags:     FlagTextured,
	}
}

func TestAddUpdateRoundTrip(t *testing.T) {
	s := NewStore(4)
	slot, err := s.AddMaterial(redMaterial())
	if err != nil {
		t.Fatalf("AddMaterial error = %v", err)
	}

	got, err := s.Material(slot)
	if err != nil {
		t.Fatalf("Material error = %v", err)
	}
	if got != redMaterial() {
		t.Errorf("round-trip mismatch: got %+v", got)
	}

	updated := redMaterial()
	updated.BaseColor = [4]float32{0, 1, 0, 1}
	updated.TextureSlot = 7
	if err := s.UpdateMaterial(slot, updated); err != nil {
		t.Fatalf("UpdateMaterial error = %v", err)
	}
	got, _ = s.Material(slot)
	if got != updated {
		t.Errorf("updated round-trip mismatch: got %+v, want %+v", got, updated)
	}
}

func TestSlotStabilityAndReuse(t *testing.T) {
	s := NewStore(2)
	a, _ := s.AddMaterial(redMaterial())
	b, _ := s.AddMaterial(redMaterial())
	if _, err := s.AddMaterial(redMaterial()); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("AddMaterial beyond capacity error = %v, want ErrCapacityExceeded", err)
	}

	// Removing one slot leaves the other untouched.
	if err := s.RemoveMaterial(a); err != nil {
		t.Fatalf("RemoveMaterial error = %v", err)
	}
	if _, err := s.Material(b); err != nil {
		t.Errorf("surviving slot became invalid: %v", err)
	}
	if _, err := s.Material(a); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Material of freed slot error = %v, want ErrInvalidHandle", err)
	}

	// The freed slot is recycled for the next material.
	c, err := s.AddMaterial(redMaterial())
	if err != nil {
		t.Fatalf("AddMaterial after remove error = %v", err)
	}
	if c != a {
		t.Errorf("recycled slot = %d, want %d", c, a)
	}
}

func TestRemoveZeroesRegion(t *testing.T) {
	s := NewStore(2)
	slot, _ := s.AddMaterial(redMaterial())
	s.StagedWriteData()

	if err := s.RemoveMaterial(slot); err != nil {
		t.Fatalf("RemoveMaterial error = %v", err)
	}
	writes := s.StagedWriteData()
	if len(writes) != 1 {
		t.Fatalf("staged writes after remove = %d, want 1", len(writes))
	}
	if writes[0].Offset != uint64(slot)*48 || len(writes[0].Data) != 48 {
		t.Errorf("zeroing write = offset %d len %d, want offset %d len 48",
			writes[0].Offset, len(writes[0].Data), uint64(slot)*48)
	}
	for i, b := range writes[0].Data {
		if b != 0 {
			t.Fatalf("zeroing write byte %d = %d, want 0", i, b)
		}
	}
}

func TestGPUMaterialLayout(t *testing.T) {
	mat := redMaterial()
	mat.TextureSlot = 5
	if mat.Size() != 48 {
		t.Errorf("GPUMaterial Size() = %d, want 48", mat.Size())
	}
	buf := mat.Marshal()
	if len(buf) != 48 {
		t.Fatalf("Marshal length = %d, want 48", len(buf))
	}
	if buf[36] != 5 {
		t.Errorf("TextureSlot low byte at offset 36 = %d, want 5", buf[36])
	}
	if buf[40] != byte(FlagTextured) {
		t.Errorf("Flags low byte at offset 40 = %d, want %d", buf[40], FlagTextured)
	}
	var back GPUMaterial
	back.Unmarshal(buf)
	if back != mat {
		t.Errorf("Marshal/Unmarshal mismatch: got %+v, want %+v", back, mat)
	}
}
