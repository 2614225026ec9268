package peerset

import "testing"

func TestSelectFanoutIsDeterministicForSameSeed(t *testing.T) {
	r := NewRing(0)
	r.AddNode("n1")
	r.AddNode("n2")
	r.AddNode("n3")

	first := r.SelectFanout("round-1", 2)
	second := r.SelectFanout("round-1", 2)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 picks both times, got %v and %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed should yield the same fanout: %v vs %v", first, second)
		}
	}
}

func TestSelectFanoutReturnsDistinctNodes(t *testing.T) {
	r := NewRing(0)
	r.AddNode("n1")
	r.AddNode("n2")
	r.AddNode("n3")

	picked := r.SelectFanout("round-7", 3)
	if len(picked) != 3 {
		t.Fatalf("expected all 3 known nodes, got %v", picked)
	}
	seen := make(map[string]bool)
	for _, id := range picked {
		if seen[id] {
			t.Fatalf("SelectFanout returned a duplicate node: %v", picked)
		}
		seen[id] = true
	}
}

func TestSelectFanoutCapsAtAvailableNodes(t *testing.T) {
	r := NewRing(0)
	r.AddNode("n1")

	picked := r.SelectFanout("round-1", 5)
	if len(picked) != 1 {
		t.Fatalf("expected fanout capped at 1 available node, got %v", picked)
	}
}

func TestSelectFanoutEmptyRing(t *testing.T) {
	r := NewRing(0)
	if picked := r.SelectFanout("round-1", 3); picked != nil {
		t.Fatalf("expected nil fanout on an empty ring, got %v", picked)
	}
}

func TestRemoveNodeDropsItFromFanout(t *testing.T) {
	r := NewRing(0)
	r.AddNode("n1")
	r.AddNode("n2")
	r.RemoveNode("n2")

	if n := r.NodeCount(); n != 1 {
		t.Fatalf("expected 1 node left after removal, got %d", n)
	}
	picked := r.SelectFanout("round-1", 5)
	for _, id := range picked {
		if id == "n2" {
			t.Fatalf("removed node n2 still appeared in fanout: %v", picked)
		}
	}
}

func TestSelectFanoutDistributesReasonablyAcrossSeeds(t *testing.T) {
	r := NewRing(0)
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5"} {
		r.AddNode(id)
	}

	counts := make(map[string]int)
	for i := 0; i < 200; i++ {
		seed := "round-" + string(rune('a'+i%26)) + string(rune('A'+i%26))
		for _, id := range r.SelectFanout(seed, 2) {
			counts[id]++
		}
	}

	for _, id := range r.Nodes() {
		if counts[id] == 0 {
			t.Fatalf("node %s was never selected across 200 rounds, fanout is not spreading evenly: %v", id, counts)
		}
	}
}
