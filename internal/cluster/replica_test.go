package cluster

import "testing"

func TestReplicaPickerNilWithNoReplicas(t *testing.T) {
	if p := newReplicaPicker("m:6379", nil); p != nil {
		t.Errorf("newReplicaPicker with no replicas = %v, want nil", p)
	}
}

func TestReplicaPickerStableForSameSlot(t *testing.T) {
	p := newReplicaPicker("m:6379", []string{"r1:6379", "r2:6379", "r3:6379"})
	if p == nil {
		t.Fatal("newReplicaPicker returned nil with replicas present")
	}
	first := p.pick(500)
	for i := 0; i < 10; i++ {
		if got := p.pick(500); got != first {
			t.Fatalf("pick(500) not stable: %s vs %s", first, got)
		}
	}
}

func TestReplicaPickerDistributesAcrossReplicas(t *testing.T) {
	p := newReplicaPicker("m:6379", []string{"r1:6379", "r2:6379", "r3:6379"})
	seen := make(map[string]bool)
	for slot := 0; slot < SlotCount; slot += 7 {
		seen[p.pick(slot)] = true
	}
	if len(seen) < 2 {
		t.Errorf("rendezvous picker only ever chose %v across %d slots, expected it to spread", seen, SlotCount/7)
	}
}
