// Package hlc implements the hybrid logical clock used to order every
// operation that passes through the oplog engine.
//
// Big idea:
//
// A plain wall clock is not safe across machines — clocks drift, NTP
// jumps them backwards, and two nodes can stamp the "same" millisecond.
// A pure logical (Lamport) clock is safe but throws away wall-clock
// meaning entirely.
//
// A hybrid logical clock keeps both: the physical millisecond PLUS a
// logical counter that only advances when two events would otherwise
// tie. That gives us:
//   - a total order across the whole cluster (ties broken by node_id)
//   - timestamps that stay close to real wall-clock time for humans
//     reading logs or debugging
//   - monotonicity even when the wall clock briefly goes backwards
package hlc

import (
	"cmp"
	"fmt"
	"sync"
	"time"
)

// Timestamp is a single hybrid-logical-clock reading: a millisecond wall
// time, a logical tie-breaking counter, and the node that produced it.
//
// Ordering is lexicographic over (Physical, Logical, NodeID); NodeID only
// ever breaks ties between two otherwise-identical readings, it never
// represents "the node with the bigger ID is newer".
type Timestamp struct {
	Physical int64  `json:"physical"`
	Logical  uint32 `json:"logical"`
	NodeID   string `json:"node_id"`
}

// Zero is the sentinel timestamp used for "never written" / genesis
// comparisons. It compares Before every timestamp produced by Now/Observe.
var Zero = Timestamp{}

// String renders the timestamp in a stable, sortable form — handy in logs.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.Physical, t.Logical, t.NodeID)
}

// Compare returns -1, 0 or 1 the way the standard library's cmp functions
// do, ordering lexicographically over (Physical, Logical, NodeID).
func (t Timestamp) Compare(other Timestamp) int {
	if c := cmp.Compare(t.Physical, other.Physical); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Logical, other.Logical); c != 0 {
		return c
	}
	return cmp.Compare(t.NodeID, other.NodeID)
}

// Before reports whether t sorts strictly before other.
func (t Timestamp) Before(other Timestamp) bool { return t.Compare(other) < 0 }

// After reports whether t sorts strictly after other.
func (t Timestamp) After(other Timestamp) bool { return t.Compare(other) > 0 }

// Equal reports whether t and other are identical readings.
func (t Timestamp) Equal(other Timestamp) bool { return t.Compare(other) == 0 }

// WallClock abstracts time.Now so tests can inject a fake clock without
// touching real time. Production code always uses the default below.
type WallClock func() time.Time

// Clock is a guarded hybrid logical clock for one node.
//
// It is the single source of truth for "what time is it" from this
// node's point of view. The daemon creates one Clock per node and hands
// it to the coordinator, which stamps every local write with it; the
// store and the sync orchestrator do not hold a Clock. One mutex
// protects the monotonicity invariant.
type Clock struct {
	mu     sync.Mutex
	nodeID string
	last   Timestamp
	wall   WallClock
}

// New creates a Clock for nodeID. The clock starts at Zero and will jump
// forward to the wall clock on the first call to Now.
func New(nodeID string) *Clock {
	return &Clock{nodeID: nodeID, wall: time.Now}
}

// NewWithWallClock is New but lets tests substitute a deterministic clock.
func NewWithWallClock(nodeID string, wall WallClock) *Clock {
	return &Clock{nodeID: nodeID, wall: wall}
}

// Now advances the clock for a local event and returns the new reading.
//
// physical = max(last.Physical, wallclock_ms); logical resets to 0 when
// physical strictly increased, otherwise increments — this is the
// standard HLC "local send" rule.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wallMs := c.wall().UnixMilli()
	physical := max(wallMs, c.last.Physical)

	var logical uint32
	if physical == c.last.Physical {
		logical = c.last.Logical + 1
	}

	c.last = Timestamp{Physical: physical, Logical: logical, NodeID: c.nodeID}
	return c.last
}

// Observe merges a remote timestamp into the local clock ("receive
// event" rule) and returns the resulting local reading. This is how a
// node's own clock catches up to a peer's without ever going backwards.
func (c *Clock) Observe(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wallMs := c.wall().UnixMilli()
	physical := max(wallMs, c.last.Physical, remote.Physical)

	var logical uint32
	switch physical {
	case c.last.Physical, remote.Physical:
		// At least one side is tied with the new physical time: bump the
		// larger of the two logical counters whose side matched.
		logical = max(
			logicalIfMatches(physical, c.last, c.last.Logical),
			logicalIfMatches(physical, remote, remote.Logical),
		) + 1
	default:
		logical = 0
	}

	c.last = Timestamp{Physical: physical, Logical: logical, NodeID: c.nodeID}
	return c.last
}

func logicalIfMatches(physical int64, ts Timestamp, logical uint32) uint32 {
	if ts.Physical == physical {
		return logical
	}
	return 0
}

// Current returns the last timestamp produced without advancing the
// clock — used when a component needs "what we last stamped", e.g. to
// seed a vector clock on startup.
func (c *Clock) Current() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// NodeID returns the node identity this clock stamps timestamps with.
func (c *Clock) NodeID() string { return c.nodeID }
