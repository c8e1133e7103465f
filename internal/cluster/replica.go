package cluster

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// replicaPicker selects which replica of a master serves a read-preferring
// command, using rendezvous (highest-random-weight) hashing keyed on the
// command's slot so that repeated reads of the same key land on the same
// replica as long as the replica set doesn't change, while the set as a
// whole balances across replicas.
type replicaPicker struct {
	masterAddr string
	rv         *rendezvous.Rendezvous
}

func newReplicaPicker(masterAddr string, replicas []string) *replicaPicker {
	if len(replicas) == 0 {
		return nil
	}
	return &replicaPicker{
		masterAddr: masterAddr,
		rv:         rendezvous.New(replicas, xxhash.Sum64String),
	}
}

// pick returns the replica address chosen for slot. newReplicaPicker
// returns nil when no replicas are known; pick on a nil picker returns "".
func (p *replicaPicker) pick(slot int) string {
	if p == nil {
		return ""
	}
	if p.rv == nil {
		return p.masterAddr
	}
	return p.rv.Get(strconv.Itoa(slot))
}
