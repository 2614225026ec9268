// Package config parses the recognized runtime options into a single
// validated Config, entirely via command-line flags so one binary can
// run any node in the cluster.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"entgldb/internal/model"
	"entgldb/internal/resolve"
)

// Config holds every recognized option for an entgldbd node.
type Config struct {
	NodeID      string
	DataDir     string
	TCPPort     int
	AdminAddr   string
	AuthToken   string
	StaticPeers []model.RemotePeer

	OplogRetention      time.Duration
	MaintenanceInterval time.Duration
	ConflictResolver    resolve.Name
	MaxConnections      int
	OperationTimeout    time.Duration
	GossipFanout        int
	GossipPeriod        time.Duration
}

// FromFlags parses args (normally os.Args[1:]) into a Config, applying
// the same defaults the spec's configuration table lists.
func FromFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("entgldbd", flag.ContinueOnError)

	nodeID := fs.String("node-id", "", "Unique, stable node identifier (required)")
	dataDir := fs.String("data-dir", "/var/lib/entgldb", "Directory for the write-ahead log and snapshots")
	tcpPort := fs.Int("tcp-port", 7070, "Local sync server TCP port")
	adminAddr := fs.String("admin-addr", ":8080", "Admin HTTP surface listen address")
	authToken := fs.String("auth-token", "", "Cluster shared key (required)")
	peersFlag := fs.String("peers", "", "Comma-separated static peer list: node_id=host:port")

	retentionHours := fs.Int("oplog-retention-hours", 24*7, "Pruning cutoff, in hours of oplog history to retain")
	maintenanceMinutes := fs.Int("maintenance-interval-minutes", 60, "Period between pruning passes")
	conflictResolver := fs.String("conflict-resolver", "lww", "Conflict resolver: lww or merge")
	maxConnections := fs.Int("max-connections", 100, "Sync server connection cap")
	operationTimeoutMs := fs.Int("operation-timeout-ms", 60_000, "Per-operation socket timeout, in milliseconds")
	gossipFanout := fs.Int("gossip-fanout", 3, "Number of peers to sync with per gossip round")
	gossipPeriodMs := fs.Int("gossip-period-ms", 2_000, "Period between gossip rounds, in milliseconds")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		NodeID:              *nodeID,
		DataDir:             *dataDir,
		TCPPort:             *tcpPort,
		AdminAddr:           *adminAddr,
		AuthToken:           *authToken,
		OplogRetention:      time.Duration(*retentionHours) * time.Hour,
		MaintenanceInterval: time.Duration(*maintenanceMinutes) * time.Minute,
		ConflictResolver:    resolve.Name(*conflictResolver),
		MaxConnections:      *maxConnections,
		OperationTimeout:    time.Duration(*operationTimeoutMs) * time.Millisecond,
		GossipFanout:        *gossipFanout,
		GossipPeriod:        time.Duration(*gossipPeriodMs) * time.Millisecond,
	}

	peers, err := parsePeers(*peersFlag)
	if err != nil {
		return Config{}, err
	}
	cfg.StaticPeers = peers

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parsePeers parses "id=host:port,id2=host2:port2" into RemotePeer rows
// of type StaticRemote.
func parsePeers(raw string) ([]model.RemotePeer, error) {
	if raw == "" {
		return nil, nil
	}
	var peers []model.RemotePeer
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("config: invalid peer entry %q, expected node_id=host:port", entry)
		}
		peers = append(peers, model.RemotePeer{
			NodeID:  parts[0],
			Address: parts[1],
			Type:    model.PeerStaticRemote,
			Enabled: true,
		})
	}
	return peers, nil
}

// Validate rejects a Config that cannot safely run a node.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: node-id is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("config: auth-token is required")
	}
	if c.ConflictResolver != resolve.LWW && c.ConflictResolver != resolve.Merge {
		return fmt.Errorf("config: conflict-resolver must be %q or %q, got %q", resolve.LWW, resolve.Merge, c.ConflictResolver)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: max-connections must be positive")
	}
	if c.TCPPort <= 0 || c.TCPPort > 65535 {
		return fmt.Errorf("config: tcp-port %d out of range", c.TCPPort)
	}
	return nil
}

// ListenAddr is the sync server's bind address derived from TCPPort.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.TCPPort)
}

// Hostname returns the local machine's hostname, or "unknown" when it
// cannot be determined.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
