package peerset

import (
	"errors"
	"testing"
	"time"

	"entgldb/internal/model"
)

func TestUpsertAndGet(t *testing.T) {
	r := NewRegistry()
	p := model.RemotePeer{NodeID: "n2", Address: "10.0.0.2:7070", Enabled: true}
	r.Upsert(p)

	got, ok := r.Get("n2")
	if !ok || got.Address != p.Address {
		t.Fatalf("expected to retrieve upserted peer, got %v ok=%v", got, ok)
	}
}

func TestEligibleExcludesSelfAndDisabled(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.RemotePeer{NodeID: "self", Enabled: true})
	r.Upsert(model.RemotePeer{NodeID: "n2", Enabled: true})
	r.Upsert(model.RemotePeer{NodeID: "n3", Enabled: false})

	elig := r.Eligible("self", time.Now())
	if len(elig) != 1 || elig[0].NodeID != "n2" {
		t.Fatalf("expected only n2 eligible, got %v", elig)
	}
}

func TestEligibleExcludesPeersInBackoff(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.RemotePeer{NodeID: "n2", Enabled: true})

	now := time.Now()
	r.RecordFailure("n2", now, errors.New("dial timeout"))

	if elig := r.Eligible("self", now); len(elig) != 0 {
		t.Fatalf("peer in backoff should not be eligible yet, got %v", elig)
	}
	if elig := r.Eligible("self", now.Add(2*time.Second)); len(elig) != 1 {
		t.Fatalf("peer should become eligible again once nextAttempt has passed, got %v", elig)
	}
}

func TestRecordFailureAppliesExponentialBackoff(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.RemotePeer{NodeID: "n2", Enabled: true})
	now := time.Now()

	r.RecordFailure("n2", now, errors.New("boom"))
	snap := findStatus(t, r, "n2")
	if snap.Status != StatusBackoff || snap.Failures != 1 {
		t.Fatalf("expected backoff after first failure, got %+v", snap)
	}

	r.RecordFailure("n2", now, errors.New("boom"))
	r.RecordFailure("n2", now, errors.New("boom"))
	snap = findStatus(t, r, "n2")
	if snap.Failures != 3 {
		t.Fatalf("expected 3 recorded failures, got %d", snap.Failures)
	}
}

func TestRecordSuccessClearsBackoff(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.RemotePeer{NodeID: "n2", Enabled: true})
	now := time.Now()

	r.RecordFailure("n2", now, errors.New("boom"))
	r.RecordSuccess("n2", now)

	snap := findStatus(t, r, "n2")
	if snap.Status != StatusUp || snap.Failures != 0 {
		t.Fatalf("expected a clean Up status after success, got %+v", snap)
	}
}

func TestMarkRequiresSnapshotAndUnreachable(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.RemotePeer{NodeID: "n2", Enabled: true})

	r.MarkRequiresSnapshot("n2")
	if findStatus(t, r, "n2").Status != StatusRequiresSnapshot {
		t.Fatalf("expected requires_snapshot status")
	}

	r.MarkUnreachable("n2")
	if findStatus(t, r, "n2").Status != StatusUnreachable {
		t.Fatalf("expected unreachable status")
	}
}

func TestFanoutOnlyReturnsEligiblePeers(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.RemotePeer{NodeID: "n2", Enabled: true})
	r.Upsert(model.RemotePeer{NodeID: "n3", Enabled: true})
	now := time.Now()
	r.RecordFailure("n3", now, errors.New("boom"))

	picked := r.Fanout("self", "round-1", 5, now)
	for _, p := range picked {
		if p.NodeID == "n3" {
			t.Fatalf("peer in backoff must not be picked for fanout: %v", picked)
		}
	}
}

func TestRemoveDropsPeerFromRegistryAndRing(t *testing.T) {
	r := NewRegistry()
	r.Upsert(model.RemotePeer{NodeID: "n2", Enabled: true})
	r.Remove("n2")

	if _, ok := r.Get("n2"); ok {
		t.Fatalf("expected peer to be gone after Remove")
	}
	if picked := r.Fanout("self", "round-1", 5, time.Now()); len(picked) != 0 {
		t.Fatalf("expected no fanout candidates after removing the only peer, got %v", picked)
	}
}

func findStatus(t *testing.T, r *Registry, nodeID string) PeerStatus {
	t.Helper()
	for _, s := range r.Snapshot() {
		if s.Peer.NodeID == nodeID {
			return s
		}
	}
	t.Fatalf("no status found for %s", nodeID)
	return PeerStatus{}
}
