package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/oplog"
)

// PruneOplog moves, for every author whose last entry is at or before
// cutoff, that entry's (ts, hash) into snapshot metadata and drops the
// older rows for that author — the transaction that lets the WAL and
// in-memory oplog stay bounded instead of growing forever.
func (e *FileEngine) PruneOplog(cutoff hlc.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	updates := make(map[string]model.SnapshotMetadata)
	for node, entries := range e.oplogByNode {
		boundaryIdx := -1
		for i, en := range entries {
			if !en.Ts.After(cutoff) {
				boundaryIdx = i
			} else {
				break
			}
		}
		if boundaryIdx == -1 {
			continue
		}
		boundary := entries[boundaryIdx]
		if existing, ok := e.snapshotMeta[node]; ok && !boundary.Ts.After(existing.Ts) {
			continue
		}
		updates[node] = model.SnapshotMetadata{NodeID: node, Ts: boundary.Ts, Hash: boundary.Hash}
	}

	if len(updates) == 0 {
		return nil
	}

	if err := e.wal.append(walRecord{Kind: recordPrune, SnapshotMeta: updates}); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	for node, meta := range updates {
		e.snapshotMeta[node] = meta
		e.oplogByNode[node] = pruneEntries(e.oplogByNode[node], meta.Ts)
	}

	return e.foldSnapshot()
}

// foldSnapshot writes the full current state to the snapshot file and
// truncates the WAL — the same "checkpoint, then truncate" sequence the
// teacher store uses, just over the richer document+oplog+peers state
// instead of a flat key/value map. Must be called with e.mu held.
func (e *FileEngine) foldSnapshot() error {
	ps := e.snapshotState()

	path := filepath.Join(e.dataDir, snapshotFileName)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(ps); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return e.wal.truncate()
}

func (e *FileEngine) snapshotState() persistedState {
	return persistedState{
		Documents:    e.docs,
		OplogByNode:  e.oplogByNode,
		SnapshotMeta: e.snapshotMeta,
		Peers:        e.peers,
		Indexes:      e.indexes,
	}
}

// CreateSnapshot writes a consistent binary image of the whole engine
// state to w. The in-memory state is checkpointed to the snapshot file
// first (folding in the WAL) so the bytes streamed out always reflect a
// point where the WAL is empty, matching what ReplaceDatabase expects
// on the receiving end.
func (e *FileEngine) CreateSnapshot(w io.Writer) error {
	e.mu.Lock()
	if err := e.foldSnapshot(); err != nil {
		e.mu.Unlock()
		return err
	}
	ps := e.snapshotState()
	e.mu.Unlock()

	return json.NewEncoder(w).Encode(ps)
}

// ReplaceDatabase atomically swaps all local state with the snapshot
// read from r — the "emergency replace" recovery path used after a
// CorruptDatabase error. The previous on-disk snapshot is kept as a
// .bak file until the new one is confirmed written, so a crash
// mid-replace never leaves the node with neither.
func (e *FileEngine) ReplaceDatabase(r io.Reader) error {
	var ps persistedState
	if err := json.NewDecoder(r).Decode(&ps); err != nil {
		return fmt.Errorf("%w: decode snapshot: %v", ErrCorruptDatabase, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Join(e.dataDir, snapshotFileName)
	bak := path + ".bak"
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, bak)
	}

	e.docs = nonNilDocs(ps.Documents)
	e.oplogByNode = ps.OplogByNode
	if e.oplogByNode == nil {
		e.oplogByNode = make(map[string][]oplog.Entry)
	}
	e.snapshotMeta = ps.SnapshotMeta
	if e.snapshotMeta == nil {
		e.snapshotMeta = make(map[string]model.SnapshotMetadata)
	}
	e.peers = ps.Peers
	if e.peers == nil {
		e.peers = make(map[string]model.RemotePeer)
	}
	e.indexes = ps.Indexes
	if e.indexes == nil {
		e.indexes = make(map[string]map[string]bool)
	}
	e.rebuildCache()

	if err := e.foldSnapshot(); err != nil {
		return err
	}
	os.Remove(bak)
	return nil
}

func nonNilDocs(m map[string]model.Document) map[string]model.Document {
	if m == nil {
		return make(map[string]model.Document)
	}
	return m
}

// MergeSnapshot attaches the snapshot read from r side-by-side with
// local state: for every document, keeps the one with the greater
// UpdatedAt; for oplog, inserts entries absent locally; for snapshot
// metadata, keeps the higher boundary per author. Used on the
// SnapshotRequired recovery path, where discarding local state (as
// ReplaceDatabase does) would be needlessly destructive.
func (e *FileEngine) MergeSnapshot(r io.Reader) error {
	var ps persistedState
	if err := json.NewDecoder(r).Decode(&ps); err != nil {
		return fmt.Errorf("%w: decode snapshot: %v", ErrCorruptDatabase, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for key, incoming := range ps.Documents {
		existing, ok := e.docs[key]
		if !ok || incoming.UpdatedAt.After(existing.UpdatedAt) {
			e.docs[key] = incoming
		}
	}

	for node, incoming := range ps.OplogByNode {
		local := e.oplogByNode[node]
		have := make(map[string]bool, len(local))
		for _, en := range local {
			have[en.Hash] = true
		}
		for _, en := range incoming {
			if !have[en.Hash] {
				e.insertSorted(node, en)
			}
		}
	}

	for node, incoming := range ps.SnapshotMeta {
		existing, ok := e.snapshotMeta[node]
		if !ok || incoming.Ts.After(existing.Ts) {
			e.snapshotMeta[node] = incoming
		}
	}

	for node, p := range ps.Peers {
		if _, ok := e.peers[node]; !ok {
			e.peers[node] = p
		}
	}

	e.rebuildCache()
	return e.foldSnapshot()
}
