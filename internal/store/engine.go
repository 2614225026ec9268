// Package store is the durable, transactional persistence layer for
// documents, the per-author oplog, snapshot boundaries and the remote
// peer registry — the "Peer Store" the rest of the engine is built on.
//
// Big idea:
//
//  1. Write-Ahead Log (WAL)
//     Every mutating transaction (a local write, or a batch applied
//     from a peer) is first appended to an on-disk log before the
//     in-memory state changes. A crash mid-write leaves the WAL as the
//     source of truth; replaying it on restart rebuilds memory exactly.
//
//  2. Snapshot
//     Instead of replaying the WAL from the beginning of time forever,
//     the engine periodically folds it into a full-state snapshot file
//     and truncates the log. Snapshots are also how a node recovers
//     from a peer when its own history has gaps or is corrupt.
//
//  3. Concurrency
//     A single mutex guards all in-memory state. Document + oplog
//     mutation always goes through ApplyBatch or SaveLocal, which
//     both write the WAL before touching memory and hold the mutex for
//     the whole transaction, so apply is all-or-nothing from every
//     other goroutine's point of view.
package store

import (
	"errors"
	"io"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/oplog"
)

// Errors raised by the store, matched against the error taxonomy the
// rest of the engine reacts to (backoff, snapshot recovery, etc).
var (
	// ErrCorruptDatabase is returned when an integrity check fails or
	// the on-disk state cannot be parsed back into memory.
	ErrCorruptDatabase = errors.New("store: corrupt database")

	// ErrSnapshotRequired marks a request that cannot be served from
	// history. ChainRange reports that case through its snapshotRequired
	// result instead, and FileEngine never returns this error; the sync
	// server checks for it from backends whose ApplyBatch can return it.
	ErrSnapshotRequired = errors.New("store: snapshot required")

	// ErrUnknownPeer is returned by peer-registry operations referencing
	// a node_id that was never registered.
	ErrUnknownPeer = errors.New("store: unknown peer")
)

// AppliedChange is one (document, originating entry) pair delivered to
// observers after a transaction commits, in the same order the batch
// was applied in.
type AppliedChange struct {
	Document model.Document
	Entry    oplog.Entry
	Applied  bool // false when the resolver decided to skip this entry
}

// Observer is notified, synchronously and after commit, of every
// transaction the store applies. The daemon's change logger and the
// peer-set reconciler are the observers; attaching them this way lets
// the store notify other components without holding a reference to any
// concrete type of theirs.
type Observer interface {
	ChangesApplied(batch []AppliedChange)
}

// Engine is the store contract: the set of operations the oplog
// coordinator and sync orchestrator depend on. Any persistence backend
// implementing this interface is a drop-in replacement for the file-
// backed Engine in this package.
type Engine interface {
	// SaveLocal persists doc and appends entry in one transaction. This
	// is the only direct (non-resolved) write path, reserved for the
	// local coordinator pipeline — entry.Ts.NodeID must be this node.
	SaveLocal(doc model.Document, entry oplog.Entry) error

	GetDocument(collection, key string) (model.Document, bool, error)
	Keys(collection string) ([]string, error)

	// OplogAfter returns every entry with Ts strictly greater than
	// since, across all authors, ordered by Ts.
	OplogAfter(since hlc.Timestamp) ([]oplog.Entry, error)

	// OplogForNodeAfter returns node's entries with Ts strictly greater
	// than since, ordered by Ts.
	OplogForNodeAfter(node string, since hlc.Timestamp) ([]oplog.Entry, error)

	// LastEntryHash returns the chain head hash for node: either the
	// Hash of its most recent persisted entry, or, if its history has
	// been pruned past that point, the snapshot boundary hash. ok is
	// false only when node has never been observed at all.
	LastEntryHash(node string) (hash string, ok bool)

	// ChainRange returns node's entries with hash in (startHash,
	// endHash], in Ts order. snapshotRequired is true when the range
	// crosses a pruned boundary or either endpoint is unknown.
	ChainRange(node, startHash, endHash string) (entries []oplog.Entry, snapshotRequired bool)

	VectorClock() hlc.VectorClock
	LatestTimestamp() hlc.Timestamp

	// ApplyBatch resolves each incoming entry against the current
	// document state, persists the merged documents and the entries in
	// one transaction, and updates the per-author cache. It returns
	// ErrCorruptDatabase if storage itself is unusable.
	ApplyBatch(entries []oplog.Entry) error

	// PruneOplog moves, for every author, the last entry with
	// Ts <= cutoff into snapshot metadata and deletes older rows.
	PruneOplog(cutoff hlc.Timestamp) error

	CreateSnapshot(w io.Writer) error
	ReplaceDatabase(r io.Reader) error
	MergeSnapshot(r io.Reader) error

	EnsureIndex(collection, fieldPath string) error

	Peers() ([]model.RemotePeer, error)
	UpsertPeer(p model.RemotePeer) error
	RemovePeer(nodeID string) error

	AddObserver(obs Observer)
	Close() error
}
