package cluster

import "sort"

// SlotRange is one contiguous run of slots owned by a single node.
type SlotRange struct {
	Start, End int
	Node       *Node
}

func (sr SlotRange) contains(slot int) bool { return slot >= sr.Start && slot <= sr.End }

// Table is the routing table: a direct slot->node array for O(1) dispatch
// plus the sorted range view used for diagnostics and binary search. A
// *Table is immutable once built; refresh produces a new one and swaps the
// pointer.
type Table struct {
	direct [SlotCount]*Node
	ranges []SlotRange // sorted ascending by Start
}

// NewTable builds a routing table from a set of slot ranges, which need not
// be sorted or cover every slot. Returns InconsistentTopology if two ranges
// claim the same slot.
func NewTable(ranges []SlotRange) (*Table, error) {
	t := &Table{}
	sorted := make([]SlotRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	t.ranges = sorted

	for _, r := range sorted {
		for s := r.Start; s <= r.End; s++ {
			if t.direct[s] != nil && t.direct[s] != r.Node {
				return nil, newErr(KindInconsistentTopology, nil,
					"slot %d claimed by both %s and %s", s, t.direct[s].Addr, r.Node.Addr)
			}
			t.direct[s] = r.Node
		}
	}
	return t, nil
}

// NodeForSlot returns the owning node for slot, or nil if unmapped.
func (t *Table) NodeForSlot(slot int) *Node {
	if t == nil || slot < 0 || slot >= SlotCount {
		return nil
	}
	return t.direct[slot]
}

// NodeForSlotRanged performs the same lookup via binary search over the
// sorted range view. Used for diagnostics and as a fallback when the direct
// array has not yet been populated (e.g. a partially built warm-start
// table).
func (t *Table) NodeForSlotRanged(slot int) *Node {
	if t == nil {
		return nil
	}
	ranges := t.ranges
	lo, hi := 0, len(ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		if ranges[mid].End < slot {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(ranges) && ranges[lo].contains(slot) {
		return ranges[lo].Node
	}
	return nil
}

// Ranges returns the sorted slot-range view, for diagnostics and snapshotting.
func (t *Table) Ranges() []SlotRange {
	if t == nil {
		return nil
	}
	out := make([]SlotRange, len(t.ranges))
	copy(out, t.ranges)
	return out
}
