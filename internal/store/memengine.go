package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/oplog"
	"entgldb/internal/resolve"
)

const (
	walFileName      = "oplog.wal"
	snapshotFileName = "snapshot.json"
)

// nodeCacheEntry is the in-memory (latest_ts, latest_hash) pair the
// spec requires the store to keep consistent with persisted state after
// every committed transaction.
type nodeCacheEntry struct {
	latestTs   hlc.Timestamp
	latestHash string
}

// FileEngine is the reference Engine implementation: documents, oplog
// and the peer registry live in memory, backed by a write-ahead log and
// periodic full-state snapshots on a single node-owned data directory —
// the generalization of the teacher store's WAL+snapshot pattern from
// flat key/value rows to documents, hash-chained oplog entries, and
// snapshot boundaries.
type FileEngine struct {
	mu sync.RWMutex

	dataDir string
	nodeID  string
	wal     *WAL

	docs         map[string]model.Document        // "collection\x00key" -> document
	oplogByNode  map[string][]oplog.Entry          // author -> entries sorted by Ts
	snapshotMeta map[string]model.SnapshotMetadata // author -> pruning boundary
	peers        map[string]model.RemotePeer
	cache        map[string]nodeCacheEntry
	latestTs     hlc.Timestamp
	indexes      map[string]map[string]bool // collection -> field path -> present

	observers []Observer
	resolver  resolve.Resolver
}

// persistedState is the full in-memory state as it is written to the
// snapshot file and exchanged wholesale during snapshot sync.
type persistedState struct {
	Documents    map[string]model.Document        `json:"documents"`
	OplogByNode  map[string][]oplog.Entry          `json:"oplog_by_node"`
	SnapshotMeta map[string]model.SnapshotMetadata `json:"snapshot_meta"`
	Peers        map[string]model.RemotePeer       `json:"peers"`
	Indexes      map[string]map[string]bool        `json:"indexes"`
}

func docKey(collection, key string) string { return collection + "\x00" + key }

// Open creates or opens a file-backed engine rooted at dataDir for
// nodeID. Startup replays the last snapshot (if any) and then every WAL
// record written after it, leaving the engine in the state it was in
// before the last shutdown or crash.
func Open(dataDir, nodeID string) (*FileEngine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	e := &FileEngine{
		dataDir:      dataDir,
		nodeID:       nodeID,
		docs:         make(map[string]model.Document),
		oplogByNode:  make(map[string][]oplog.Entry),
		snapshotMeta: make(map[string]model.SnapshotMetadata),
		peers:        make(map[string]model.RemotePeer),
		cache:        make(map[string]nodeCacheEntry),
		indexes:      make(map[string]map[string]bool),
		resolver:     resolve.LastWriteWins{},
	}

	if err := e.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	wal, err := openWAL(filepath.Join(dataDir, walFileName))
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	e.wal = wal

	if err := e.replayWAL(); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	e.rebuildCache()

	return e, nil
}

func (e *FileEngine) loadSnapshot() error {
	path := filepath.Join(e.dataDir, snapshotFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var ps persistedState
	if err := json.NewDecoder(f).Decode(&ps); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDatabase, err)
	}
	e.applyPersistedState(ps)
	return nil
}

func (e *FileEngine) applyPersistedState(ps persistedState) {
	if ps.Documents != nil {
		e.docs = ps.Documents
	}
	if ps.OplogByNode != nil {
		e.oplogByNode = ps.OplogByNode
	}
	if ps.SnapshotMeta != nil {
		e.snapshotMeta = ps.SnapshotMeta
	}
	if ps.Peers != nil {
		e.peers = ps.Peers
	}
	if ps.Indexes != nil {
		e.indexes = ps.Indexes
	}
}

// replayWAL re-applies every WAL record directly into memory without
// re-appending to the WAL (we are rebuilding memory, not making new
// writes).
func (e *FileEngine) replayWAL() error {
	records, err := e.wal.readAll()
	if err != nil {
		return err
	}
	for _, r := range records {
		e.applyRecord(r)
	}
	return nil
}

func (e *FileEngine) applyRecord(r walRecord) {
	switch r.Kind {
	case recordApply:
		if r.Document != nil {
			e.docs[docKey(r.Document.Collection, r.Document.Key)] = *r.Document
		}
		if r.Entry != nil {
			e.insertSorted(r.Entry.Ts.NodeID, *r.Entry)
		}
	case recordPrune:
		for node, meta := range r.SnapshotMeta {
			e.snapshotMeta[node] = meta
			e.oplogByNode[node] = pruneEntries(e.oplogByNode[node], meta.Ts)
		}
	case recordPeerUpsert:
		if r.Peer != nil {
			e.peers[r.Peer.NodeID] = *r.Peer
		}
	case recordPeerRemove:
		delete(e.peers, r.PeerNodeID)
	}
}

func (e *FileEngine) insertSorted(node string, entry oplog.Entry) {
	entries := e.oplogByNode[node]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Ts.After(entry.Ts) || entries[i].Ts.Equal(entry.Ts) })
	if idx < len(entries) && entries[idx].Ts.Equal(entry.Ts) {
		entries[idx] = entry // idempotent re-delivery: replace, don't duplicate
	} else {
		entries = append(entries, oplog.Entry{})
		copy(entries[idx+1:], entries[idx:])
		entries[idx] = entry
	}
	e.oplogByNode[node] = entries

	if entry.Ts.After(e.latestTs) {
		e.latestTs = entry.Ts
	}
}

func pruneEntries(entries []oplog.Entry, cutoff hlc.Timestamp) []oplog.Entry {
	kept := entries[:0:0]
	for _, en := range entries {
		if en.Ts.After(cutoff) {
			kept = append(kept, en)
		}
	}
	return kept
}

// rebuildCache recomputes the per-node (latest_ts, latest_hash) cache
// from persisted oplog + snapshot metadata — required after Open,
// ReplaceDatabase and MergeSnapshot.
func (e *FileEngine) rebuildCache() {
	e.cache = make(map[string]nodeCacheEntry)
	for node, meta := range e.snapshotMeta {
		e.cache[node] = nodeCacheEntry{latestTs: meta.Ts, latestHash: meta.Hash}
	}
	for node, entries := range e.oplogByNode {
		if len(entries) == 0 {
			continue
		}
		last := entries[len(entries)-1]
		e.cache[node] = nodeCacheEntry{latestTs: last.Ts, latestHash: last.Hash}
		if last.Ts.After(e.latestTs) {
			e.latestTs = last.Ts
		}
	}
}

// GetDocument returns a copy of the document at (collection, key).
func (e *FileEngine) GetDocument(collection, key string) (model.Document, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.docs[docKey(collection, key)]
	return d, ok, nil
}

// Keys returns the non-tombstoned keys of a collection.
func (e *FileEngine) Keys(collection string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var keys []string
	prefix := collection + "\x00"
	for k, d := range e.docs {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && !d.IsDeleted {
			keys = append(keys, d.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// OplogAfter returns every entry, across all authors, with Ts > since.
func (e *FileEngine) OplogAfter(since hlc.Timestamp) ([]oplog.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []oplog.Entry
	for _, entries := range e.oplogByNode {
		for _, en := range entries {
			if en.Ts.After(since) {
				out = append(out, en)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

// OplogForNodeAfter returns node's entries with Ts > since.
func (e *FileEngine) OplogForNodeAfter(node string, since hlc.Timestamp) ([]oplog.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []oplog.Entry
	for _, en := range e.oplogByNode[node] {
		if en.Ts.After(since) {
			out = append(out, en)
		}
	}
	return out, nil
}

// VectorClock returns this node's causal summary: the latest timestamp
// observed per author.
func (e *FileEngine) VectorClock() hlc.VectorClock {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vc := hlc.NewVectorClock()
	for node, c := range e.cache {
		vc.Set(node, c.latestTs)
	}
	return vc
}

// LatestTimestamp returns the newest timestamp this node has observed
// from any author, including itself.
func (e *FileEngine) LatestTimestamp() hlc.Timestamp {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latestTs
}

// AddObserver registers obs to be notified, synchronously and after
// commit, of every future transaction.
func (e *FileEngine) AddObserver(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

func (e *FileEngine) notify(batch []AppliedChange) {
	for _, obs := range e.observers {
		obs.ChangesApplied(batch)
	}
}

// Close flushes and closes the WAL.
func (e *FileEngine) Close() error {
	return e.wal.close()
}
