package storage

import "testing"

func TestDataPageInsertAndGet(t *testing.T) {
	dp := NewDataPage(1)

	slotID, ok := dp.InsertRecord(42, []byte("hello"), 7)
	if !ok {
		t.Fatalf("InsertRecord failed")
	}

	data, ok := dp.GetRecord(slotID)
	if !ok {
		t.Fatalf("GetRecord failed for slot %d", slotID)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want %q", data, "hello")
	}

	typ, ok := dp.GetRecordType(slotID)
	if !ok || typ != 7 {
		t.Fatalf("GetRecordType = (%d, %v), want (7, true)", typ, ok)
	}

	foundSlot, ok := dp.GetSlotID(42)
	if !ok || foundSlot != slotID {
		t.Fatalf("GetSlotID = (%d, %v), want (%d, true)", foundSlot, ok, slotID)
	}
}

// TestDataPageSlotAddressingStable exercises the exact scenario where the
// naive directoryCount-derived slot base would drift: insert several
// records, then confirm every earlier slot still resolves to what it was
// written with, not to bytes that later insertions shifted underneath it.
func TestDataPageSlotAddressingStable(t *testing.T) {
	dp := NewDataPage(1)

	want := map[uint16]string{}
	for i := uint32(0); i < 20; i++ {
		payload := []byte{byte(i), byte(i + 1), byte(i + 2)}
		slotID, ok := dp.InsertRecord(i, payload, 0)
		if !ok {
			t.Fatalf("InsertRecord(%d) failed", i)
		}
		want[slotID] = string(payload)

		for s, expect := range want {
			got, ok := dp.GetRecord(s)
			if !ok {
				t.Fatalf("after inserting key %d, GetRecord(%d) failed", i, s)
			}
			if string(got) != expect {
				t.Fatalf("after inserting key %d, GetRecord(%d) = %q, want %q", i, s, got, expect)
			}
		}
	}
}

func TestDataPageDeleteThenGetFails(t *testing.T) {
	dp := NewDataPage(1)
	slotID, _ := dp.InsertRecord(1, []byte("x"), 0)

	if !dp.DeleteRecord(slotID) {
		t.Fatalf("DeleteRecord failed")
	}
	if _, ok := dp.GetRecord(slotID); ok {
		t.Fatalf("GetRecord succeeded on deleted slot")
	}
	if dp.DeleteRecord(slotID) {
		t.Fatalf("double delete should fail")
	}
}

func TestDataPageFreeSlotReuse(t *testing.T) {
	dp := NewDataPage(1)
	slotA, _ := dp.InsertRecord(1, []byte("a"), 0)
	dp.DeleteRecord(slotA)

	slotB, ok := dp.InsertRecord(2, []byte("bb"), 0)
	if !ok {
		t.Fatalf("InsertRecord after delete failed")
	}
	if slotB != slotA {
		t.Fatalf("expected reused slot %d, got %d", slotA, slotB)
	}
}

func TestDataPageFlags(t *testing.T) {
	dp := NewDataPage(1)
	slotID, _ := dp.InsertRecord(1, []byte("x"), 0)

	if dp.HasFlag(slotID, SlotFlagDeleted) {
		t.Fatalf("fresh slot should not have deleted flag")
	}
	dp.SetFlag(slotID, SlotFlagDeleted)
	if !dp.HasFlag(slotID, SlotFlagDeleted) {
		t.Fatalf("SetFlag did not stick")
	}
	dp.ClearFlag(slotID, SlotFlagDeleted)
	if dp.HasFlag(slotID, SlotFlagDeleted) {
		t.Fatalf("ClearFlag did not stick")
	}
}

func TestDataPageCompactReclaimsSpaceAndTerminatesFreeList(t *testing.T) {
	dp := NewDataPage(1)

	var slots []uint16
	for i := uint32(0); i < 5; i++ {
		slotID, ok := dp.InsertRecord(i, []byte("payload"), 0)
		if !ok {
			t.Fatalf("InsertRecord(%d) failed", i)
		}
		slots = append(slots, slotID)
	}

	for _, s := range slots[:3] {
		dp.DeleteRecord(s)
	}

	freed := dp.Compact()
	if freed == 0 {
		t.Fatalf("expected Compact to reclaim space")
	}

	if dp.firstFreeSlot() == InvalidSlot {
		t.Fatalf("expected a non-empty free-slot list after compacting deleted slots")
	}

	// Walk the free-slot chain; it must terminate at InvalidSlot rather than
	// looping or reading stale offsets from before compaction.
	seen := map[uint16]bool{}
	cur := dp.firstFreeSlot()
	for cur != InvalidSlot {
		if seen[cur] {
			t.Fatalf("free-slot chain does not terminate, revisited slot %d", cur)
		}
		seen[cur] = true
		off, _, _ := dp.slotAt(cur)
		cur = off
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 free slots in chain, walked %d", len(seen))
	}

	for _, s := range slots[3:] {
		if _, ok := dp.GetRecord(s); !ok {
			t.Fatalf("live record in slot %d lost after compaction", s)
		}
	}
}

func TestDataPageNeedsCompact(t *testing.T) {
	dp := NewDataPage(1)
	if dp.NeedsCompact() {
		t.Fatalf("empty page should not need compaction")
	}

	var slots []uint16
	for i := uint32(0); i < 10; i++ {
		slotID, ok := dp.InsertRecord(i, make([]byte, 50), 0)
		if !ok {
			t.Fatalf("InsertRecord(%d) failed", i)
		}
		slots = append(slots, slotID)
	}
	for _, s := range slots[:8] {
		dp.DeleteRecord(s)
	}
	if !dp.NeedsCompact() {
		t.Fatalf("heavily fragmented page should need compaction")
	}
}
