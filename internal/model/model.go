// Package model holds the data types shared by the store, the resolver
// and the wire layer — kept separate from all three so that none of them
// has to import another to see a document or a remote peer row.
package model

import (
	"encoding/json"

	"entgldb/internal/hlc"
)

// Document is the store's unit of state: one (collection, key) row.
//
// The store exclusively owns documents; every reader gets a copy, never
// a pointer into live state — that is what keeps ApplyBatch's "all or
// nothing" guarantee meaningful under concurrent reads.
//
// A tombstone is a Document with IsDeleted=true and Content=nil. It
// still participates in last-write-wins comparisons and is never
// physically removed except by snapshot pruning — that is what stops a
// late-arriving stale Put from resurrecting a deleted row.
type Document struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Content    json.RawMessage `json:"content,omitempty"`
	UpdatedAt  hlc.Timestamp   `json:"updated_at"`
	IsDeleted  bool            `json:"is_deleted"`
}

// SnapshotMetadata records, per author node, the boundary entry after
// which older oplog rows for that author may have been pruned. A
// chain-range request whose start crosses this boundary cannot be
// served from history and must fall back to a snapshot transfer.
type SnapshotMetadata struct {
	NodeID string        `json:"node_id"`
	Ts     hlc.Timestamp `json:"ts"`
	Hash   string        `json:"hash"`
}

// PeerType classifies how a remote peer was learned about.
type PeerType string

const (
	PeerLanDiscovered PeerType = "lan_discovered"
	PeerStaticRemote  PeerType = "static_remote"
	PeerCloudRemote   PeerType = "cloud_remote"
)

// RemotePeer is one row of the peer registry, itself replicated through
// the reserved system collection so every node converges on the same
// peer list without a separate distribution mechanism.
type RemotePeer struct {
	NodeID     string            `json:"node_id"`
	Address    string            `json:"address"`
	Type       PeerType          `json:"type"`
	AuthConfig map[string]string `json:"auth_config,omitempty"`
	Enabled    bool              `json:"enabled"`
}

// SystemPeersCollection is the reserved collection name the peer
// registry is mirrored into so it rides the same oplog/anti-entropy
// machinery as ordinary documents.
const SystemPeersCollection = "__entgldb_peers"
