package hlc

import "maps"

// Relation describes how two vector clocks relate to each other.
//
// This mirrors the plain-counter vector clock comparison idea — a node
// "dominates" another if it has seen at least one author strictly ahead
// and none strictly behind — except every per-node entry here is a full
// HLC Timestamp rather than a bare counter, so comparisons use
// Timestamp.Compare instead of integer less-than.
type Relation int

const (
	Equal Relation = iota
	Before
	After
	Concurrent
)

// VectorClock maps an author node_id to the latest timestamp this node
// has observed that author producing. It is this node's causal summary
// of the whole cluster, used to decide — per remote peer, per author —
// exactly which oplog entries are missing in which direction.
type VectorClock map[string]Timestamp

// NewVectorClock returns an empty vector clock.
func NewVectorClock() VectorClock { return make(VectorClock) }

// Set records ts as the latest timestamp seen for nodeID, but only if
// it is newer than what is already recorded — vector clocks never move
// backwards for an author.
func (vc VectorClock) Set(nodeID string, ts Timestamp) {
	if cur, ok := vc[nodeID]; !ok || ts.After(cur) {
		vc[nodeID] = ts
	}
}

// Get returns the latest known timestamp for nodeID, or Zero if this
// node has never observed anything from it.
func (vc VectorClock) Get(nodeID string) Timestamp {
	if ts, ok := vc[nodeID]; ok {
		return ts
	}
	return Zero
}

// Compare determines the causal relationship between vc and other.
func (vc VectorClock) Compare(other VectorClock) Relation {
	vcAhead := false
	otherAhead := false

	for node, ts := range vc {
		switch ts.Compare(other.Get(node)) {
		case 1:
			vcAhead = true
		case -1:
			otherAhead = true
		}
	}
	for node, ts := range other {
		if _, ok := vc[node]; ok {
			continue // already compared above
		}
		if ts.Compare(Zero) > 0 {
			otherAhead = true
		}
	}

	switch {
	case !vcAhead && !otherAhead:
		return Equal
	case vcAhead && !otherAhead:
		return After
	case !vcAhead && otherAhead:
		return Before
	default:
		return Concurrent
	}
}

// Merge returns a new vector clock holding, per author, the
// later of vc's and other's recorded timestamp. Used when absorbing a
// peer's vector clock wholesale (e.g. after a snapshot merge).
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	merged := vc.Copy()
	for node, ts := range other {
		merged.Set(node, ts)
	}
	return merged
}

// Copy returns a deep copy — vector clocks are maps, so callers handing
// one across a goroutine boundary (wire encode, store snapshot) must not
// alias the live copy.
func (vc VectorClock) Copy() VectorClock {
	c := make(VectorClock, len(vc))
	maps.Copy(c, vc)
	return c
}

// NodesPeerIsAheadOf returns the authors for which other has a strictly
// newer timestamp than vc does — i.e. the set of authors this node
// should PULL from peer.
func (vc VectorClock) NodesPeerIsAheadOf(other VectorClock) []string {
	var nodes []string
	for node, ts := range other {
		if ts.After(vc.Get(node)) {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// NodesWeAreAheadOf returns the authors for which vc has a strictly
// newer timestamp than other does — i.e. the set of authors this node
// should PUSH to peer.
func (vc VectorClock) NodesWeAreAheadOf(other VectorClock) []string {
	var nodes []string
	for node, ts := range vc {
		if ts.After(other.Get(node)) {
			nodes = append(nodes, node)
		}
	}
	return nodes
}
