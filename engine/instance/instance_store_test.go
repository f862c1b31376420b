package instance

import (
	"errors"
	"testing"
)

func testData(tag float32) GPUInstanceData {
	var d GPUInstanceData
	for i := range d.ModelView {
		d.ModelView[i] = tag + float32(i)
	}
	d.MaterialSlot = uint32(tag)
	return d
}

func TestRegisterAllocationReservations(t *testing.T) {
	s := NewStore(10)
	a, err := s.RegisterAllocation(6)
	if err != nil {
		t.Fatalf("RegisterAllocation(6) error = %v", err)
	}
	b, err := s.RegisterAllocation(4)
	if err != nil {
		t.Fatalf("RegisterAllocation(4) error = %v", err)
	}
	if _, err := s.RegisterAllocation(1); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("over-reservation error = %v, want ErrCapacityExceeded", err)
	}

	allocA, _ := s.Allocation(a)
	allocB, _ := s.Allocation(b)
	if allocA.InstanceIndexBase != 0 {
		t.Errorf("allocation A base = %d, want 0", allocA.InstanceIndexBase)
	}
	if allocB.InstanceIndexBase != 6 {
		t.Errorf("allocation B base = %d, want 6", allocB.InstanceIndexBase)
	}
}

func TestAddInstanceLimits(t *testing.T) {
	s := NewStore(4)
	a, _ := s.RegisterAllocation(2)

	if _, err := s.AddInstance(99, testData(0), false); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("AddInstance to unknown allocation error = %v, want ErrInvalidHandle", err)
	}
	if _, err := s.AddInstance(a, testData(0), false); err != nil {
		t.Fatalf("AddInstance error = %v", err)
	}
	if _, err := s.AddInstance(a, testData(1), false); err != nil {
		t.Fatalf("AddInstance error = %v", err)
	}
	if _, err := s.AddInstance(a, testData(2), false); !errors.Is(err, ErrAllocationFull) {
		t.Errorf("AddInstance beyond allocation capacity error = %v, want ErrAllocationFull", err)
	}
}

func TestInstanceIDsMonotonicAcrossRemove(t *testing.T) {
	s := NewStore(4)
	a, _ := s.RegisterAllocation(4)

	id0, _ := s.AddInstance(a, testData(0), false)
	id1, _ := s.AddInstance(a, testData(1), false)
	if err := s.RemoveInstance(id0); err != nil {
		t.Fatalf("RemoveInstance error = %v", err)
	}
	id2, _ := s.AddInstance(a, testData(2), false)
	if id2 <= id1 {
		t.Errorf("instance id after remove = %d, want > %d (ids never reused)", id2, id1)
	}
	if _, err := s.InstanceData(id0); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("InstanceData of removed id error = %v, want ErrInvalidHandle", err)
	}
	// The removed instance's storage slot is recycled for the new instance.
	data, err := s.InstanceData(id2)
	if err != nil {
		t.Fatalf("InstanceData error = %v", err)
	}
	if data.MaterialSlot != 2 {
		t.Errorf("recycled slot holds MaterialSlot %d, want 2", data.MaterialSlot)
	}
}

func TestDeactivateShiftsAndReactivateAppends(t *testing.T) {
	s := NewStore(3)
	a, _ := s.RegisterAllocation(3)

	id0, _ := s.AddInstance(a, testData(0), true)
	id1, _ := s.AddInstance(a, testData(1), true)
	s.AddInstance(a, testData(2), true)

	slots, _ := s.ActiveSlots(a)
	want := []uint32{0, 1, 2}
	assertSlots(t, "initial", slots, want)

	if err := s.DeactivateInstance(id1); err != nil {
		t.Fatalf("DeactivateInstance error = %v", err)
	}
	slots, _ = s.ActiveSlots(a)
	assertSlots(t, "after deactivate middle", slots, []uint32{0, 2})
	if active, _ := s.InstanceActive(id1); active {
		t.Error("deactivated instance reports active")
	}
	if active, _ := s.InstanceActive(id0); !active {
		t.Error("untouched instance lost active state")
	}

	if err := s.ActivateInstance(id1); err != nil {
		t.Fatalf("ActivateInstance error = %v", err)
	}
	slots, _ = s.ActiveSlots(a)
	assertSlots(t, "after reactivate", slots, []uint32{0, 2, 1})

	alloc, _ := s.Allocation(a)
	if alloc.NumActive != 3 || alloc.NumInstances != 3 {
		t.Errorf("counters = active %d instances %d, want 3/3", alloc.NumActive, alloc.NumInstances)
	}
}

func TestActivateDeactivateNoOps(t *testing.T) {
	s := NewStore(2)
	a, _ := s.RegisterAllocation(2)
	id, _ := s.AddInstance(a, testData(0), true)

	if err := s.ActivateInstance(id); err != nil {
		t.Errorf("double activate returned error %v, want warn + no-op", err)
	}
	slots, _ := s.ActiveSlots(a)
	if len(slots) != 1 {
		t.Errorf("active region grew on double activate: len = %d, want 1", len(slots))
	}

	s.DeactivateInstance(id)
	if err := s.DeactivateInstance(id); err != nil {
		t.Errorf("double deactivate returned error %v, want warn + no-op", err)
	}
	if err := s.ActivateInstance(999); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("activate of unknown id error = %v, want ErrInvalidHandle", err)
	}
}

func TestAllocationsShiftIndependently(t *testing.T) {
	s := NewStore(6)
	a, _ := s.RegisterAllocation(3)
	b, _ := s.RegisterAllocation(3)

	s.AddInstance(a, testData(0), true)
	aMid, _ := s.AddInstance(a, testData(1), true)
	s.AddInstance(a, testData(2), true)
	s.AddInstance(b, testData(10), true)
	s.AddInstance(b, testData(11), true)

	before, _ := s.ActiveSlots(b)
	if err := s.DeactivateInstance(aMid); err != nil {
		t.Fatalf("DeactivateInstance error = %v", err)
	}
	after, _ := s.ActiveSlots(b)
	assertSlots(t, "allocation B untouched by A's shift", after, before)
}

func TestUpdateInstanceDataRoundTrip(t *testing.T) {
	s := NewStore(2)
	a, _ := s.RegisterAllocation(2)
	id, _ := s.AddInstance(a, testData(0), true)

	want := testData(7)
	want.MaterialSlot = 3
	if err := s.UpdateInstanceData(id, want); err != nil {
		t.Fatalf("UpdateInstanceData error = %v", err)
	}
	got, err := s.InstanceData(id)
	if err != nil {
		t.Fatalf("InstanceData error = %v", err)
	}
	if got != want {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
	}
	// Activation state is untouched by data updates.
	if active, _ := s.InstanceActive(id); !active {
		t.Error("UpdateInstanceData changed activation state")
	}
}

func TestStagedWriteDataDrains(t *testing.T) {
	s := NewStore(2)
	a, _ := s.RegisterAllocation(2)
	s.AddInstance(a, testData(0), true)

	writes := s.StagedWriteData()
	if len(writes) == 0 {
		t.Fatal("no staged writes after AddInstance with activation")
	}
	// One storage write and one active index write, in program order.
	if writes[0].Binding != InstanceDataBinding {
		t.Errorf("first write binding = %d, want InstanceDataBinding", writes[0].Binding)
	}
	if writes[1].Binding != ActiveIndexBinding {
		t.Errorf("second write binding = %d, want ActiveIndexBinding", writes[1].Binding)
	}
	if len(writes[0].Data) != 80 {
		t.Errorf("storage write size = %d, want 80", len(writes[0].Data))
	}
	if got := s.StagedWriteData(); len(got) != 0 {
		t.Errorf("second drain returned %d writes, want 0", len(got))
	}
}

func TestGPUInstanceDataLayout(t *testing.T) {
	d := testData(5)
	d.MaterialSlot = 9
	if d.Size() != 80 {
		t.Errorf("GPUInstanceData Size() = %d, want 80", d.Size())
	}
	buf := d.Marshal()
	if len(buf) != 80 {
		t.Fatalf("Marshal length = %d, want 80", len(buf))
	}
	var back GPUInstanceData
	back.Unmarshal(buf)
	if back != d {
		t.Errorf("Marshal/Unmarshal mismatch: got %+v, want %+v", back, d)
	}
	// MaterialSlot sits immediately after the 64-byte matrix.
	if buf[64] != 9 {
		t.Errorf("MaterialSlot low byte at offset 64 = %d, want 9", buf[64])
	}
}

func assertSlots(t *testing.T, label string, got, want []uint32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: active slots = %v, want %v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: active slots = %v, want %v", label, got, want)
		}
	}
}
