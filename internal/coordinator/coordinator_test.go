package coordinator

import (
	"encoding/json"
	"testing"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/oplog"
	"entgldb/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, store.Engine) {
	t.Helper()
	engine, err := store.Open(t.TempDir(), "n1")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return New(engine, hlc.New("n1")), engine
}

func TestPutLinksGenesisEntry(t *testing.T) {
	c, engine := newTestCoordinator(t)

	doc, err := c.Put("docs", "k1", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if doc.IsDeleted {
		t.Fatalf("a put must not produce a tombstone")
	}

	entries, err := engine.OplogForNodeAfter("n1", hlc.Zero)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one persisted entry, got %v (err=%v)", entries, err)
	}
	if entries[0].PrevHash != "" {
		t.Fatalf("a node's first write must be a genesis entry, got prev_hash=%q", entries[0].PrevHash)
	}
}

func TestPutChainsOntoPriorHead(t *testing.T) {
	c, engine := newTestCoordinator(t)

	if _, err := c.Put("docs", "k1", json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	if _, err := c.Put("docs", "k1", json.RawMessage(`{"x":2}`)); err != nil {
		t.Fatalf("Put 2: %v", err)
	}

	entries, err := engine.OplogForNodeAfter("n1", hlc.Zero)
	if err != nil || len(entries) != 2 {
		t.Fatalf("expected two entries, got %v (err=%v)", entries, err)
	}
	if entries[1].PrevHash != entries[0].Hash {
		t.Fatalf("second entry must chain onto the first: prev_hash=%q want %q", entries[1].PrevHash, entries[0].Hash)
	}

	head, ok := engine.LastEntryHash("n1")
	if !ok || head != entries[1].Hash {
		t.Fatalf("chain head should be the most recent entry, got %q", head)
	}
}

func TestPutRejectsEmptyContent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if _, err := c.Put("docs", "k1", nil); err != oplog.ErrMissingPayload {
		t.Fatalf("expected ErrMissingPayload, got %v", err)
	}
}

func TestDeleteProducesTombstoneChainedAfterPut(t *testing.T) {
	c, engine := newTestCoordinator(t)

	if _, err := c.Put("docs", "k1", json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	doc, err := c.Delete("docs", "k1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !doc.IsDeleted {
		t.Fatalf("Delete must produce a tombstone document")
	}

	got, ok, err := engine.GetDocument("docs", "k1")
	if err != nil || !ok || !got.IsDeleted {
		t.Fatalf("expected a persisted tombstone, got ok=%v doc=%v err=%v", ok, got, err)
	}
}

func TestPutPeerReplicatesThroughSystemCollection(t *testing.T) {
	c, engine := newTestCoordinator(t)

	peer := model.RemotePeer{NodeID: "n2", Address: "10.0.0.2:7070", Type: model.PeerStaticRemote, Enabled: true}
	if _, err := c.PutPeer(peer); err != nil {
		t.Fatalf("PutPeer: %v", err)
	}

	doc, ok, err := engine.GetDocument(model.SystemPeersCollection, "n2")
	if err != nil || !ok {
		t.Fatalf("expected peer row in the system peers collection, ok=%v err=%v", ok, err)
	}

	var got model.RemotePeer
	if err := json.Unmarshal(doc.Content, &got); err != nil {
		t.Fatalf("peer row content not a valid RemotePeer: %v", err)
	}
	if got.Address != peer.Address {
		t.Fatalf("expected replicated peer address %q, got %q", peer.Address, got.Address)
	}
}
