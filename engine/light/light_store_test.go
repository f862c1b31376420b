package light

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestHandlesSurviveCompaction(t *testing.T) {
	s := NewStore()
	a, _ := s.AddLight(NewLight(LightTypePoint, WithPosition(1, 0, 0)))
	b, _ := s.AddLight(NewLight(LightTypePoint, WithPosition(2, 0, 0)))
	c, _ := s.AddLight(NewLight(LightTypePoint, WithPosition(3, 0, 0)))

	if err := s.RemoveLight(b); err != nil {
		t.Fatalf("RemoveLight error = %v", err)
	}
	if s.LightCount() != 2 {
		t.Errorf("LightCount after removal = %d, want 2", s.LightCount())
	}

	la, err := s.Light(a)
	if err != nil {
		t.Fatalf("Light(a) error = %v", err)
	}
	lc, err := s.Light(c)
	if err != nil {
		t.Fatalf("Light(c) after compaction error = %v", err)
	}
	if la.Position()[0] != 1 || lc.Position()[0] != 3 {
		t.Errorf("compaction shuffled lights: a.x = %v, c.x = %v", la.Position()[0], lc.Position()[0])
	}
	if _, err := s.Light(b); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Light of removed id error = %v, want ErrInvalidHandle", err)
	}
}

func TestCapacityClampAndLimit(t *testing.T) {
	s := NewStore(WithCapacity(2))
	s.AddLight(NewLight(LightTypePoint))
	s.AddLight(NewLight(LightTypePoint))
	if _, err := s.AddLight(NewLight(LightTypePoint)); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("AddLight beyond capacity error = %v, want ErrCapacityExceeded", err)
	}

	clamped := NewStore(WithCapacity(MaxGPULights * 2))
	if clamped.Capacity() != MaxGPULights {
		t.Errorf("capacity = %d, want clamped to %d", clamped.Capacity(), MaxGPULights)
	}
}

func TestSetLightTransform(t *testing.T) {
	s := NewStore()
	id, _ := s.AddLight(NewLight(LightTypeSpot))

	if err := s.SetLightTransform(id, [3]float32{1, 2, 3}, [3]float32{0, 0, -2}); err != nil {
		t.Fatalf("SetLightTransform error = %v", err)
	}
	l, _ := s.Light(id)
	if l.Position() != [3]float32{1, 2, 3} {
		t.Errorf("position = %v, want [1 2 3]", l.Position())
	}
	// Direction is normalized on the way in.
	if dir := l.Direction(); dir != [3]float32{0, 0, -1} {
		t.Errorf("direction = %v, want [0 0 -1]", dir)
	}
	if err := s.SetLightTransform(99, [3]float32{}, [3]float32{0, -1, 0}); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("SetLightTransform of unknown id error = %v, want ErrInvalidHandle", err)
	}
}

func TestMarshalFrameSkipsDisabled(t *testing.T) {
	s := NewStore(WithAmbientColor(0.1, 0.2, 0.3))
	s.AddLight(NewLight(LightTypeDirectional, WithDirection(0, -1, 0)))
	disabled := NewLight(LightTypePoint)
	disabled.SetEnabled(false)
	s.AddLight(disabled)
	s.AddLight(NewLight(LightTypeSpot))

	s.MarshalFrame()
	writes := s.StagedWriteData()
	if len(writes) != 1 {
		t.Fatalf("staged writes = %d, want 1", len(writes))
	}
	buf := writes[0].Data
	if len(buf) != 16+2*64 {
		t.Fatalf("frame buffer length = %d, want header + 2 lights = %d", len(buf), 16+2*64)
	}
	if count := binary.LittleEndian.Uint32(buf[12:16]); count != 2 {
		t.Errorf("header light count = %d, want 2 (disabled light skipped)", count)
	}
	ambient := math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
	if ambient != 0.2 {
		t.Errorf("header ambient G = %v, want 0.2", ambient)
	}
	// First record is the directional light, type 0 at offset 16+12.
	if lt := binary.LittleEndian.Uint32(buf[16+12 : 16+16]); lt != uint32(LightTypeDirectional) {
		t.Errorf("first light type = %d, want directional", lt)
	}
}

func TestGPULightLayout(t *testing.T) {
	g := GPULight{
		Position:     [3]float32{1, 2, 3},
		LightType:    2,
		Intensity:    5,
		LightRange:   20,
		CastsShadows: 1,
	}
	if g.Size() != 64 {
		t.Errorf("GPULight Size() = %d, want 64", g.Size())
	}
	buf := g.Marshal()
	if len(buf) != 64 {
		t.Fatalf("Marshal length = %d, want 64", len(buf))
	}
	if lt := binary.LittleEndian.Uint32(buf[12:16]); lt != 2 {
		t.Errorf("LightType at offset 12 = %d, want 2", lt)
	}
	if r := math.Float32frombits(binary.LittleEndian.Uint32(buf[44:48])); r != 20 {
		t.Errorf("LightRange at offset 44 = %v, want 20", r)
	}
	if cs := binary.LittleEndian.Uint32(buf[56:60]); cs != 1 {
		t.Errorf("CastsShadows at offset 56 = %d, want 1", cs)
	}
	h := GPULightHeader{LightCount: 7}
	if h.Size() != 16 {
		t.Errorf("GPULightHeader Size() = %d, want 16", h.Size())
	}
}
