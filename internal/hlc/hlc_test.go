package hlc

import "testing"

func TestClockNowMonotonic(t *testing.T) {
	c := New("n1")
	prev := c.Now()
	for i := 0; i < 5; i++ {
		cur := c.Now()
		if !cur.After(prev) {
			t.Fatalf("Now() did not advance: prev=%v cur=%v", prev, cur)
		}
		prev = cur
	}
}

func TestClockObserveAdvancesPastRemote(t *testing.T) {
	c := New("n1")
	remote := Timestamp{Physical: c.Current().Physical + 1000, Logical: 5, NodeID: "n2"}

	ts := c.Observe(remote)
	if !ts.After(remote) && !ts.Equal(remote) {
		t.Fatalf("observed timestamp %v did not advance past remote %v", ts, remote)
	}
	if ts.NodeID != "n1" {
		t.Fatalf("observed timestamp should be stamped with local node id, got %q", ts.NodeID)
	}
	if ts.Physical < remote.Physical {
		t.Fatalf("observed physical time %d regressed below remote %d", ts.Physical, remote.Physical)
	}
}

func TestClockObserveBumpsLogicalOnTie(t *testing.T) {
	c := New("n1")
	first := c.Now()
	remote := Timestamp{Physical: first.Physical, Logical: first.Logical, NodeID: "n2"}

	ts := c.Observe(remote)
	if ts.Physical != first.Physical {
		t.Fatalf("physical should not change on a tie, got %d want %d", ts.Physical, first.Physical)
	}
	if ts.Logical <= remote.Logical {
		t.Fatalf("logical counter should strictly increase past remote on tie, got %d", ts.Logical)
	}
}

func TestTimestampCompareOrdering(t *testing.T) {
	a := Timestamp{Physical: 100, Logical: 0, NodeID: "a"}
	b := Timestamp{Physical: 100, Logical: 0, NodeID: "b"}
	c := Timestamp{Physical: 100, Logical: 1, NodeID: "a"}
	d := Timestamp{Physical: 200, Logical: 0, NodeID: "a"}

	if a.Compare(b) >= 0 {
		t.Errorf("a should sort before b by node_id tiebreak")
	}
	if a.Compare(c) >= 0 {
		t.Errorf("a should sort before c by logical counter")
	}
	if c.Compare(d) >= 0 {
		t.Errorf("c should sort before d by physical time")
	}
	if a.Compare(a) != 0 {
		t.Errorf("a timestamp must compare equal to itself")
	}
}

func TestVectorClockCompareRelations(t *testing.T) {
	n1 := Timestamp{Physical: 100, Logical: 0, NodeID: "n1"}
	n2 := Timestamp{Physical: 100, Logical: 0, NodeID: "n2"}

	vc1 := NewVectorClock()
	vc1.Set("n1", n1)
	vc2 := vc1.Copy()

	if got := vc1.Compare(vc2); got != Equal {
		t.Fatalf("identical vector clocks should compare Equal, got %v", got)
	}

	vc2.Set("n2", n2)
	if got := vc1.Compare(vc2); got != Before {
		t.Fatalf("vc1 missing n2 should be Before vc2, got %v", got)
	}
	if got := vc2.Compare(vc1); got != After {
		t.Fatalf("vc2 should be After vc1, got %v", got)
	}

	vc3 := NewVectorClock()
	vc3.Set("n2", n2)
	if got := vc1.Compare(vc3); got != Concurrent {
		t.Fatalf("disjoint single-author clocks should be Concurrent, got %v", got)
	}
}

func TestVectorClockNodesAheadOf(t *testing.T) {
	older := Timestamp{Physical: 100, Logical: 0, NodeID: "n1"}
	newer := Timestamp{Physical: 200, Logical: 0, NodeID: "n1"}

	local := NewVectorClock()
	local.Set("n1", older)

	remote := NewVectorClock()
	remote.Set("n1", newer)
	remote.Set("n2", Timestamp{Physical: 50, Logical: 0, NodeID: "n2"})

	pull := local.NodesPeerIsAheadOf(remote)
	if len(pull) != 2 {
		t.Fatalf("expected to need n1 and n2 from peer, got %v", pull)
	}

	push := local.NodesWeAreAheadOf(remote)
	if len(push) != 0 {
		t.Fatalf("local has nothing newer than peer, got %v", push)
	}
}
