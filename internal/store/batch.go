package store

import (
	"fmt"

	"entgldb/internal/model"
	"entgldb/internal/oplog"
	"entgldb/internal/resolve"
)

// SetResolver configures which conflict-resolution policy ApplyBatch
// uses for the lifetime of this engine. Call before serving any sync
// traffic; it is not safe to change mid-flight.
func (e *FileEngine) SetResolver(r resolve.Resolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolver = r
}

// SaveLocal persists doc and appends entry in a single transaction. It
// is the only direct write path into the store, reserved for the local
// coordinator pipeline: entry must be this node's own chain extension.
func (e *FileEngine) SaveLocal(doc model.Document, entry oplog.Entry) error {
	if err := oplog.Validate(entry); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDatabase, err)
	}

	e.mu.Lock()

	record := walRecord{Kind: recordApply, Document: &doc, Entry: &entry}
	if err := e.wal.append(record); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("wal append: %w", err)
	}

	e.docs[docKey(doc.Collection, doc.Key)] = doc
	e.insertSorted(entry.Ts.NodeID, entry)
	e.cache[entry.Ts.NodeID] = nodeCacheEntry{latestTs: entry.Ts, latestHash: entry.Hash}

	e.mu.Unlock()

	e.notify([]AppliedChange{{Document: doc, Entry: entry, Applied: true}})
	return nil
}

// ApplyBatch resolves each incoming entry against current document
// state, persists the merged documents and entries in one transaction,
// updates the per-author cache, and notifies observers — the only path
// that mutates documents on the inbound (sync) side. An entry the
// resolver skips leaves its document unchanged but is still appended to
// the oplog.
//
// Puts with no payload are skipped individually, without aborting the
// rest of the batch. ApplyBatch does not log them; the sync orchestrator
// logs them before calling it.
func (e *FileEngine) ApplyBatch(entries []oplog.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	e.mu.Lock()

	resolver := e.resolver
	if resolver == nil {
		resolver = resolve.LastWriteWins{}
	}

	var records []walRecord
	var changes []AppliedChange

	for _, entry := range entries {
		if entry.Op == oplog.OpPut && len(entry.Payload) == 0 {
			// InvalidEntry: reject this row, keep processing the batch.
			continue
		}

		key := docKey(entry.Collection, entry.Key)
		existing, hasExisting := e.docs[key]
		var localPtr *model.Document
		if hasExisting {
			localPtr = &existing
		}

		apply, merged, err := resolver.Resolve(localPtr, entry)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("%w: resolve %s/%s: %v", ErrCorruptDatabase, entry.Collection, entry.Key, err)
		}
		if !apply {
			// The document stays as it is, but the entry still joins the
			// author's oplog so its chain head and vector clock advance.
			records = append(records, walRecord{Kind: recordApply, Entry: &entry})
			changes = append(changes, AppliedChange{Entry: entry, Applied: false})
			continue
		}

		records = append(records, walRecord{Kind: recordApply, Document: &merged, Entry: &entry})
		changes = append(changes, AppliedChange{Document: merged, Entry: entry, Applied: true})
	}

	if len(records) > 0 {
		if err := e.wal.append(records...); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("wal append: %w", err)
		}
		for _, r := range records {
			if r.Document != nil {
				e.docs[docKey(r.Document.Collection, r.Document.Key)] = *r.Document
			}
			e.insertSorted(r.Entry.Ts.NodeID, *r.Entry)
			if cur, ok := e.cache[r.Entry.Ts.NodeID]; !ok || r.Entry.Ts.After(cur.latestTs) {
				e.cache[r.Entry.Ts.NodeID] = nodeCacheEntry{latestTs: r.Entry.Ts, latestHash: r.Entry.Hash}
			}
		}
	}

	e.mu.Unlock()

	if len(changes) > 0 {
		e.notify(changes)
	}
	return nil
}
