// Package coordinator implements the oplog coordinator (the engine's
// write path): it turns a local document mutation into a hash-chained
// oplog entry, advances this node's hybrid logical clock, and persists
// both in one transaction.
//
// Big idea:
//
// Nothing outside this package is allowed to hand the store a document
// without an accompanying oplog entry — that pairing is what lets every
// other node reconstruct "what happened, in what order, authored by
// whom" purely from the oplog, instead of needing a separate change
// feed bolted on afterward.
package coordinator

import (
	"encoding/json"
	"fmt"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/oplog"
	"entgldb/internal/store"
)

// Coordinator is the store's sole local-write client. It holds the
// store and the node clock; it never holds a reference back to the sync
// orchestrator, which is what breaks the store-coordinator-orchestrator
// reference cycle the engine would otherwise have — construction order
// is store (leaf), then coordinator wraps it; the orchestrator is built
// from the store and the peer registry, not from the coordinator.
type Coordinator struct {
	engine store.Engine
	clock  *hlc.Clock
}

// New creates a coordinator for engine, stamping every local write with
// clock's timestamps.
func New(engine store.Engine, clock *hlc.Clock) *Coordinator {
	return &Coordinator{engine: engine, clock: clock}
}

// Put writes content at (collection, key) as a local operation:
//  1. advance the HLC for this event
//  2. look up this node's current chain head
//  3. link a new entry onto it and compute its hash
//  4. persist document + entry in one transaction
//  5. the store notifies observers after commit
func (c *Coordinator) Put(collection, key string, content json.RawMessage) (model.Document, error) {
	if len(content) == 0 {
		return model.Document{}, oplog.ErrMissingPayload
	}
	return c.writeLocal(collection, key, oplog.OpPut, content)
}

// Delete writes a tombstone at (collection, key) as a local operation,
// following the same chain-link-then-persist sequence as Put.
func (c *Coordinator) Delete(collection, key string) (model.Document, error) {
	return c.writeLocal(collection, key, oplog.OpDelete, nil)
}

func (c *Coordinator) writeLocal(collection, key string, op oplog.Op, content json.RawMessage) (model.Document, error) {
	nodeID := c.clock.NodeID()

	ts := c.clock.Now()

	prevHash, _ := c.engine.LastEntryHash(nodeID) // "" (genesis) if never observed

	entry, err := oplog.Link(prevHash, collection, key, op, content, ts)
	if err != nil {
		return model.Document{}, fmt.Errorf("link local entry: %w", err)
	}

	doc := model.Document{
		Collection: collection,
		Key:        key,
		Content:    content,
		UpdatedAt:  ts,
		IsDeleted:  op == oplog.OpDelete,
	}

	if err := c.engine.SaveLocal(doc, entry); err != nil {
		return model.Document{}, fmt.Errorf("save local: %w", err)
	}
	return doc, nil
}

// PutPeer is a thin convenience wrapper used by the admin surface and
// CLI to replicate the remote-peer registry through the ordinary oplog
// path, so peer rows converge via the same anti-entropy machinery as
// any other document instead of needing a side channel.
func (c *Coordinator) PutPeer(p model.RemotePeer) (model.Document, error) {
	content, err := json.Marshal(p)
	if err != nil {
		return model.Document{}, err
	}
	return c.Put(model.SystemPeersCollection, p.NodeID, content)
}
