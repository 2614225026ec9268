package peerset

import (
	"encoding/json"
	"errors"
	"log"

	"entgldb/internal/model"
	"entgldb/internal/store"
)

// peerStore is the subset of store.Engine a Reconciler needs to keep
// the denormalized registry in sync with replicated peer documents.
type peerStore interface {
	UpsertPeer(p model.RemotePeer) error
	RemovePeer(nodeID string) error
}

// Reconciler is a store.Observer that watches for writes to the
// reserved system-peers collection and folds them into both the
// engine's denormalized peer registry and this node's Registry —
// whether the write originated locally (an operator adding a peer
// through the admin surface) or arrived from a remote node during
// anti-entropy. This is what makes a RemotePeer document, once
// replicated through the ordinary oplog path, actually converge into
// every node's gossip set rather than sitting in the oplog unread.
type Reconciler struct {
	engine   peerStore
	registry *Registry
	log      *log.Logger
}

// NewReconciler creates a Reconciler. log may be nil to use the
// standard logger.
func NewReconciler(engine peerStore, registry *Registry, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{engine: engine, registry: registry, log: logger}
}

// ChangesApplied implements store.Observer.
func (r *Reconciler) ChangesApplied(batch []store.AppliedChange) {
	for _, c := range batch {
		if !c.Applied || c.Document.Collection != model.SystemPeersCollection {
			continue
		}
		if c.Document.IsDeleted {
			r.remove(c.Document.Key)
			continue
		}
		var p model.RemotePeer
		if err := json.Unmarshal(c.Document.Content, &p); err != nil {
			r.log.Printf("peerset: malformed peer document for %s: %v", c.Document.Key, err)
			continue
		}
		r.upsert(p)
	}
}

func (r *Reconciler) upsert(p model.RemotePeer) {
	if !p.Enabled {
		r.remove(p.NodeID)
		return
	}
	if err := r.engine.UpsertPeer(p); err != nil {
		r.log.Printf("peerset: upsert peer %s: %v", p.NodeID, err)
	}
	r.registry.Upsert(p)
}

func (r *Reconciler) remove(nodeID string) {
	if err := r.engine.RemovePeer(nodeID); err != nil && !errors.Is(err, store.ErrUnknownPeer) {
		r.log.Printf("peerset: remove peer %s: %v", nodeID, err)
	}
	r.registry.Remove(nodeID)
}
