package config

import (
	"testing"
	"time"

	"entgldb/internal/resolve"
)

func TestFromFlagsAppliesDefaults(t *testing.T) {
	cfg, err := FromFlags([]string{"--node-id=n1", "--auth-token=secret"})
	if err != nil {
		t.Fatalf("FromFlags: %v", err)
	}
	if cfg.DataDir != "/var/lib/entgldb" {
		t.Errorf("unexpected default data dir: %q", cfg.DataDir)
	}
	if cfg.TCPPort != 7070 {
		t.Errorf("unexpected default tcp port: %d", cfg.TCPPort)
	}
	if cfg.OplogRetention != 168*time.Hour {
		t.Errorf("unexpected default oplog retention: %v", cfg.OplogRetention)
	}
	if cfg.ConflictResolver != "lww" {
		t.Errorf("unexpected default conflict resolver: %q", cfg.ConflictResolver)
	}
	if cfg.ListenAddr() != ":7070" {
		t.Errorf("unexpected listen addr: %q", cfg.ListenAddr())
	}
}

func TestFromFlagsParsesStaticPeers(t *testing.T) {
	cfg, err := FromFlags([]string{
		"--node-id=n1", "--auth-token=secret",
		"--peers=n2=10.0.0.2:7070,n3=10.0.0.3:7070",
	})
	if err != nil {
		t.Fatalf("FromFlags: %v", err)
	}
	if len(cfg.StaticPeers) != 2 {
		t.Fatalf("expected 2 static peers, got %v", cfg.StaticPeers)
	}
	if cfg.StaticPeers[0].NodeID != "n2" || cfg.StaticPeers[0].Address != "10.0.0.2:7070" {
		t.Errorf("unexpected first peer: %+v", cfg.StaticPeers[0])
	}
}

func TestFromFlagsRejectsMalformedPeerEntry(t *testing.T) {
	if _, err := FromFlags([]string{"--node-id=n1", "--auth-token=secret", "--peers=bad-entry"}); err == nil {
		t.Fatalf("expected an error for a malformed peer entry")
	}
}

func TestFromFlagsRequiresNodeIDAndAuthToken(t *testing.T) {
	if _, err := FromFlags([]string{"--auth-token=secret"}); err == nil {
		t.Fatalf("expected an error for a missing node-id")
	}
	if _, err := FromFlags([]string{"--node-id=n1"}); err == nil {
		t.Fatalf("expected an error for a missing auth-token")
	}
}

func TestFromFlagsRejectsUnknownConflictResolver(t *testing.T) {
	if _, err := FromFlags([]string{"--node-id=n1", "--auth-token=secret", "--conflict-resolver=bogus"}); err == nil {
		t.Fatalf("expected an error for an unrecognized conflict resolver")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Config{NodeID: "n1", AuthToken: "secret", ConflictResolver: resolve.LWW, MaxConnections: 1, TCPPort: 70000}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an out-of-range tcp port")
	}
}
