package store

import (
	"fmt"

	"entgldb/internal/model"
)

// Peers returns a copy of the remote peer registry.
func (e *FileEngine) Peers() ([]model.RemotePeer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.RemotePeer, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p)
	}
	return out, nil
}

// UpsertPeer adds or updates p in the registry. Peer rows are
// replicated through the reserved system collection by the coordinator,
// the same as any other document; callers on that path (the admin
// surface, and peerset.Reconciler reacting to replicated writes) also
// call UpsertPeer/RemovePeer so this denormalized registry stays
// populated for fast lookup by Peers and the sync orchestrator.
func (e *FileEngine) UpsertPeer(p model.RemotePeer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.wal.append(walRecord{Kind: recordPeerUpsert, Peer: &p}); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	e.peers[p.NodeID] = p
	return nil
}

// RemovePeer deletes nodeID from the registry.
func (e *FileEngine) RemovePeer(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.peers[nodeID]; !ok {
		return ErrUnknownPeer
	}
	if err := e.wal.append(walRecord{Kind: recordPeerRemove, PeerNodeID: nodeID}); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	delete(e.peers, nodeID)
	return nil
}
