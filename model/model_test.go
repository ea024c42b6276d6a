package model

import "testing"

func TestMerge(t *testing.T) {
	stack := int64(64)
	defaults := Limitation{Time: 1000, WallTime: 3000, Memory: 1 << 20, Stack: &stack, Processes: 1,
		ExtraTime: 500, FileSize: 4096, DiskBlocks: 10, DiskInodes: 5}
	l := Limitation{Time: 2000, FileSize: 8192}.Merge(defaults)
	if l.Time != 2000 || l.FileSize != 8192 {
		t.Fatalf("set fields overwritten: %+v", l)
	}
	if l.WallTime != 3000 || l.Memory != 1<<20 || l.StackLimit() != 64 || l.Processes != 1 || l.ExtraTime != 500 || !l.HasQuota() {
		t.Fatalf("unset fields not filled: %+v", l)
	}
	if (Limitation{DiskBlocks: 10}).HasQuota() {
		t.Fatal("quota needs inodes too")
	}
}

func TestStatusRejectsUnknown(t *testing.T) {
	var s Status
	if err := s.UnmarshalText([]byte("accepted")); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if _, err := Status(42).MarshalText(); err == nil {
		t.Fatal("expected error for out of range status")
	}
}
