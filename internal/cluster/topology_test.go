package cluster

import "testing"

const sampleClusterNodes = `07c37dfe0ce6305e8b4a443cee9c46b1c0f3a19f 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected
67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922
292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:30003@31003 master - 0 1426238318243 3 connected 10923-16383
e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 127.0.0.1:30001@31001 myself,master - 0 0 1 connected 0-5460
25ae4aff4b12c0e0d1f1b1fea6c9c2a85f8c86e1 127.0.0.1:30005@31005 slave 67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 0 1426238316232 2 connected
`

func TestParseClusterNodesFullCoverageAndReplicaGrouping(t *testing.T) {
	reg, ranges, myself, err := parseClusterNodes(sampleClusterNodes)
	if err != nil {
		t.Fatalf("parseClusterNodes: %v", err)
	}
	if myself != "127.0.0.1:30001" {
		t.Errorf("myself = %q, want 127.0.0.1:30001", myself)
	}

	table, err := NewTable(ranges)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	for s := 0; s < SlotCount; s++ {
		if table.NodeForSlot(s) == nil {
			t.Fatalf("slot %d uncovered", s)
		}
	}

	master, ok := reg.Lookup("127.0.0.1:30002")
	if !ok {
		t.Fatal("master 127.0.0.1:30002 not registered")
	}
	if len(master.Replicas) != 1 || master.Replicas[0] != "127.0.0.1:30005" {
		t.Errorf("replicas of 30002 = %v, want [127.0.0.1:30005]", master.Replicas)
	}

	if _, ok := reg.Lookup("127.0.0.1:30004"); ok {
		t.Error("a replica address should not itself be registered as a routable node")
	}
}

func TestParseClusterNodesRejectsMalformedLine(t *testing.T) {
	_, _, _, err := parseClusterNodes("not enough fields here\n")
	if err == nil {
		t.Fatal("expected error for malformed CLUSTER NODES line")
	}
	if errKind(err) != KindProtocol {
		t.Errorf("error kind = %v, want Protocol", errKind(err))
	}
}

func TestParseSlotRange(t *testing.T) {
	cases := []struct {
		in         string
		start, end int
		wantErr    bool
	}{
		{"100", 100, 100, false},
		{"5461-10922", 5461, 10922, false},
		{"bad", 0, 0, true},
		{"10-5", 0, 0, true},
	}
	for _, c := range cases {
		start, end, err := parseSlotRange(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseSlotRange(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSlotRange(%q): unexpected error: %v", c.in, err)
			continue
		}
		if start != c.start || end != c.end {
			t.Errorf("parseSlotRange(%q) = (%d,%d), want (%d,%d)", c.in, start, end, c.start, c.end)
		}
	}
}

func TestNormalizeAddrStripsBusPort(t *testing.T) {
	if got := normalizeAddr("127.0.0.1:30001@31001"); got != "127.0.0.1:30001" {
		t.Errorf("normalizeAddr = %q, want 127.0.0.1:30001", got)
	}
	if got := normalizeAddr("127.0.0.1:30001"); got != "127.0.0.1:30001" {
		t.Errorf("normalizeAddr (no bus port) = %q, want unchanged", got)
	}
}
