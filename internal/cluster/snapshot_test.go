package cluster

import (
	"path/filepath"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	a, err := newNode("127.0.0.1:7000", RoleMaster)
	if err != nil {
		t.Fatalf("newNode: %v", err)
	}
	b, err := newNode("127.0.0.1:7001", RoleMaster)
	if err != nil {
		t.Fatalf("newNode: %v", err)
	}
	table, err := NewTable([]SlotRange{
		{Start: 0, End: 8191, Node: a},
		{Start: 8192, End: SlotCount - 1, Node: b},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	path := filepath.Join(t.TempDir(), "topology.json")
	store := NewSnapshotStore(path)

	if err := store.Save(table); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap == nil {
		t.Fatal("Load returned nil snapshot after Save")
	}

	reg, rebuilt, err := snap.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rebuilt.NodeForSlot(100).Addr != a.Addr {
		t.Errorf("rebuilt slot 100 owner = %s, want %s", rebuilt.NodeForSlot(100).Addr, a.Addr)
	}
	if rebuilt.NodeForSlot(9000).Addr != b.Addr {
		t.Errorf("rebuilt slot 9000 owner = %s, want %s", rebuilt.NodeForSlot(9000).Addr, b.Addr)
	}
	if _, ok := reg.Lookup(a.Addr); !ok {
		t.Error("rebuilt registry missing node a")
	}
}

func TestSnapshotLoadMissingFileIsNotAnError(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Error("expected nil snapshot for a missing file")
	}
}

func TestSnapshotDisabledWithEmptyPath(t *testing.T) {
	store := NewSnapshotStore("")
	if err := store.Save(nil); err != nil {
		t.Fatalf("Save with disabled store: %v", err)
	}
	snap, err := store.Load()
	if err != nil || snap != nil {
		t.Fatalf("Load with disabled store = (%v, %v), want (nil, nil)", snap, err)
	}
}
