package store

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/oplog"
)

// The WAL (Write-Ahead Log) is an append-only file where every
// transaction is durably recorded BEFORE it is applied to in-memory
// state. Writes are sequential, so this stays fast even though every
// append calls fsync; on restart the WAL is read top to bottom and
// every record re-applied, leaving the engine in the exact state it was
// in before the crash.

type recordKind string

const (
	recordApply      recordKind = "apply"
	recordPrune      recordKind = "prune"
	recordPeerUpsert recordKind = "peer_upsert"
	recordPeerRemove recordKind = "peer_remove"
)

// walRecord is one WAL line. Only the fields relevant to Kind are set.
type walRecord struct {
	Kind recordKind `json:"kind"`

	// recordApply
	Document *model.Document `json:"document,omitempty"`
	Entry    *oplog.Entry    `json:"entry,omitempty"`

	// recordPrune
	SnapshotMeta map[string]model.SnapshotMetadata `json:"snapshot_meta,omitempty"`
	PruneCutoff  *hlc.Timestamp                    `json:"prune_cutoff,omitempty"`

	// recordPeerUpsert / recordPeerRemove
	Peer       *model.RemotePeer `json:"peer,omitempty"`
	PeerNodeID string            `json:"peer_node_id,omitempty"`
}

// WAL is a simple append-only log backed by a single file, one
// NDJSON (newline-delimited JSON) record per line.
type WAL struct {
	mu   sync.Mutex
	file *os.File
}

func openWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &WAL{file: f}, nil
}

// append serializes records as JSON, one per line, and fsyncs — without
// the Sync call a crash could lose the record even though Write
// returned nil.
func (w *WAL) append(records ...walRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		if _, err := w.file.Write(data); err != nil {
			return err
		}
	}
	return w.file.Sync()
}

// readAll scans the WAL from the beginning and returns every record.
func (w *WAL) readAll() ([]walRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var records []walRecord
	scanner := bufio.NewScanner(w.file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r walRecord
		if err := json.Unmarshal(line, &r); err != nil {
			// A torn write at the tail of the file from a crash mid-append
			// — the record before it is intact and already applied, so we
			// stop rather than erroring the whole replay out.
			break
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

// truncate empties the WAL after a snapshot has folded in everything it
// contains. Truncating the open file in place, rather than deleting and
// recreating it, keeps the same fd open throughout.
func (w *WAL) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, 0)
	return err
}

func (w *WAL) close() error {
	return w.file.Close()
}
