// Package oplog defines the immutable operation record that every write
// in the cluster eventually becomes, and the hash-chain rules that make
// each node's history tamper-evident.
//
// Big idea:
//
// Every node keeps its own append-only log of the operations IT
// authored. Each entry carries a hash of its own content plus the hash
// of the entry before it (from the same author) — exactly like a small
// per-author blockchain. That gives two things for free:
//
//  1. Integrity: if a stored or transmitted entry is corrupted, hashing
//     its content again will not match the hash it carries.
//  2. Ordering proof: a peer can tell whether it has a contiguous
//     prefix of another node's history just by comparing hashes, and
//     ask for exactly the missing range if not.
package oplog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"entgldb/internal/hlc"

	"golang.org/x/crypto/blake2b"
)

// Op identifies the kind of mutation an entry records.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Entry is one immutable record in a node's hash-chained oplog.
//
// Hash = H(Collection ∥ Key ∥ Op ∥ Payload ∥ Ts ∥ PrevHash) over the
// canonical encoding produced by canonicalBytes. PrevHash equals the
// Hash of the author's immediately preceding entry, or "" for that
// author's very first (genesis) entry.
type Entry struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Op         Op              `json:"op"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Ts         hlc.Timestamp   `json:"ts"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}

var (
	// ErrMissingPayload is returned when a Put entry carries a null or
	// empty payload — such an entry can never be valid and must be
	// rejected before it is ever persisted or hashed.
	ErrMissingPayload = errors.New("oplog: put entry has no payload")

	// ErrHashMismatch means hashing the entry's own content does not
	// reproduce the hash it carries — the entry (or its payload) was
	// altered in transit or in storage.
	ErrHashMismatch = errors.New("oplog: hash does not match content")

	// ErrChainBroken means two adjacent entries from the same author do
	// not satisfy e[i+1].PrevHash == e[i].Hash.
	ErrChainBroken = errors.New("oplog: chain linkage broken")
)

// canonicalBytes produces the deterministic byte form that both hashing
// and re-validation hash over. Field order is fixed and the payload's
// JSON keys are sorted, so two processes (or two languages) hashing the
// same logical entry always agree — unlike Go's default map/struct JSON
// encoding, which is not guaranteed stable across implementations for
// arbitrary nested maps.
func canonicalBytes(e Entry) ([]byte, error) {
	canonPayload, err := canonicalizeJSON(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(e.Collection)
	buf.WriteByte(0)
	buf.WriteString(e.Key)
	buf.WriteByte(0)
	buf.WriteString(string(e.Op))
	buf.WriteByte(0)
	buf.Write(canonPayload)
	buf.WriteByte(0)
	fmt.Fprintf(&buf, "%d.%d.%s", e.Ts.Physical, e.Ts.Logical, e.Ts.NodeID)
	buf.WriteByte(0)
	buf.WriteString(e.PrevHash)
	return buf.Bytes(), nil
}

// canonicalizeJSON re-marshals arbitrary JSON with sorted object keys so
// the byte representation is stable regardless of how the caller built
// the original RawMessage.
func canonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return marshalSorted(v)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sortStrings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(val)
	}
}

func sortStrings(s []string) {
	// insertion sort: key counts per entry are tiny (document field
	// counts), so this avoids pulling in sort for a handful of elements
	// while staying obviously correct.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// HashOf computes the content hash of e using blake2b-256, the same
// fixed-output cryptographic hash family used for the oplog chain hash
// throughout this package.
func HashOf(e Entry) (string, error) {
	data, err := canonicalBytes(e)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}

// Validate reports whether e's own Hash field matches its content, and
// rejects Put entries with no payload before they ever reach the hash
// check — such entries are structurally invalid regardless of hash.
func Validate(e Entry) error {
	if e.Op == OpPut && len(e.Payload) == 0 {
		return ErrMissingPayload
	}
	want, err := HashOf(e)
	if err != nil {
		return err
	}
	if want != e.Hash {
		return ErrHashMismatch
	}
	return nil
}

// Link builds the next entry in an author's chain: it stamps prevHash
// (the Hash of the author's current chain head, or "" for a genesis
// entry) and computes the new Hash over the supplied content.
func Link(prevHash string, collection, key string, op Op, payload json.RawMessage, ts hlc.Timestamp) (Entry, error) {
	if op == OpPut && len(payload) == 0 {
		return Entry{}, ErrMissingPayload
	}
	e := Entry{
		Collection: collection,
		Key:        key,
		Op:         op,
		Payload:    payload,
		Ts:         ts,
		PrevHash:   prevHash,
	}
	hash, err := HashOf(e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash
	return e, nil
}

// VerifyChain checks that a sorted (by Ts), single-author slice of
// entries forms a contiguous chain: every entry's PrevHash must equal
// the previous entry's Hash. headHash is the chain head known before
// this batch (empty string if the author has no prior history); pass
// "" to skip checking the very first entry's PrevHash against it.
func VerifyChain(entries []Entry, headHash string) error {
	if len(entries) == 0 {
		return nil
	}
	if headHash != "" && entries[0].PrevHash != headHash {
		return fmt.Errorf("%w: first entry prev_hash %q != local head %q", ErrChainBroken, entries[0].PrevHash, headHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			return fmt.Errorf("%w: entry %d prev_hash %q != entry %d hash %q",
				ErrChainBroken, i, entries[i].PrevHash, i-1, entries[i-1].Hash)
		}
	}
	return nil
}
