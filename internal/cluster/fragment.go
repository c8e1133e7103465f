package cluster

import (
	"clusterkv/internal/redisx"
)

// Fragment is one per-slot sub-command produced by splitting a multi-key
// command. KeyIndexes records, for each key in Fragment's own key list, its
// position in the original command's key list — the reassembler uses this
// to place sub-reply elements back at the right index.
type Fragment struct {
	Slot       int
	Raw        []byte
	KeyIndexes []int
}

// Plan is the output of fragmentation: either a single slot with the
// original bytes untouched, or a list of per-slot fragments to dispatch
// independently and reassemble.
type Plan struct {
	Slot      int // valid only when Fragments == nil
	Fragments []Fragment
}

// fragment builds a dispatch Plan for a parsed request. A single-key (or
// keyless) command always collapses to Plan{Slot: slot}. A multi-key
// command whose keys all land on the same slot also collapses — the
// "degenerate fragmentation" case — so the dispatcher never pays
// fragment/reassemble overhead when it isn't buying anything.
func fragment(req *redisx.Request) (*Plan, error) {
	if len(req.Keys) == 0 {
		return &Plan{Slot: -1}, nil
	}
	if len(req.Keys) == 1 {
		return &Plan{Slot: HashSlot(req.Key(0))}, nil
	}

	bySlot := make(map[int][]int) // slot -> key indexes, in original order
	order := make([]int, 0, 4)    // first-seen slot order, for determinism
	for i := range req.Keys {
		slot := HashSlot(req.Key(i))
		if _, ok := bySlot[slot]; !ok {
			order = append(order, slot)
		}
		bySlot[slot] = append(bySlot[slot], i)
	}

	if len(order) == 1 {
		return &Plan{Slot: order[0]}, nil
	}

	fragments := make([]Fragment, 0, len(order))
	for _, slot := range order {
		idxs := bySlot[slot]
		raw, err := rebuild(req, idxs)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, Fragment{Slot: slot, Raw: raw, KeyIndexes: idxs})
	}
	return &Plan{Slot: -1, Fragments: fragments}, nil
}

// rebuild serializes a sub-command for the given key indexes, preserving
// MSET's key/value adjacency and using the same verb as the original
// command.
func rebuild(req *redisx.Request, idxs []int) ([]byte, error) {
	verb := req.Verb

	switch req.Kind {
	case redisx.MSet:
		args := make([]interface{}, 0, len(idxs)*2)
		for _, i := range idxs {
			args = append(args, req.Key(i))
			val, err := msetValue(req, i)
			if err != nil {
				return nil, err
			}
			args = append(args, val)
		}
		return redisx.FormatCommand(verb, args...), nil
	default: // MGet, Del and friends: grouped keys only
		args := make([]interface{}, 0, len(idxs))
		for _, i := range idxs {
			args = append(args, req.Key(i))
		}
		return redisx.FormatCommand(verb, args...), nil
	}
}

// msetValue locates the value bulk-string immediately following the key at
// index i in the original MSET command, by finding the key's End offset
// and scanning forward past its trailing CRLF to the next bulk header.
func msetValue(req *redisx.Request, i int) ([]byte, error) {
	end := req.Keys[i].End
	return redisx.NextBulk(req.Raw, end)
}
