package store

import "entgldb/internal/oplog"

// LastEntryHash returns node's current chain head: the Hash of its most
// recent persisted entry, falling back to the snapshot boundary hash
// when that author's history has been pruned past the last entry still
// held in memory. ok is false only if node has never been observed.
func (e *FileEngine) LastEntryHash(node string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.cache[node]
	if !ok {
		return "", false
	}
	return c.latestHash, true
}

// ChainRange returns node's entries with hash in (startHash, endHash],
// in Ts order. It reports snapshotRequired when either endpoint cannot
// be located in the author's currently-held entries — crossing a
// pruned boundary is indistinguishable, from the caller's side, from
// "ask for a snapshot instead".
func (e *FileEngine) ChainRange(node, startHash, endHash string) ([]oplog.Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entries := e.oplogByNode[node]

	startIdx := -1 // index of the entry AFTER which the range starts; -1 means "from genesis"
	if startHash == "" {
		startIdx = -1
	} else {
		found := false
		for i, en := range entries {
			if en.Hash == startHash {
				startIdx = i
				found = true
				break
			}
		}
		if !found {
			return nil, true
		}
	}

	endIdx := -1
	for i, en := range entries {
		if en.Hash == endHash {
			endIdx = i
			break
		}
	}
	if endIdx == -1 {
		return nil, true
	}
	if endIdx <= startIdx {
		return nil, true
	}

	out := make([]oplog.Entry, endIdx-startIdx)
	copy(out, entries[startIdx+1:endIdx+1])
	return out, false
}
