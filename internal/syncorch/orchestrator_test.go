package syncorch

import (
	"testing"
	"time"

	"entgldb/internal/peerset"
	"entgldb/internal/store"
)

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()

	if cfg.GossipFanout != 3 {
		t.Errorf("expected default GossipFanout 3, got %d", cfg.GossipFanout)
	}
	if cfg.GossipPeriod != 2*time.Second {
		t.Errorf("expected default GossipPeriod 2s, got %v", cfg.GossipPeriod)
	}
	if cfg.MaintenanceInterval != 60*time.Minute {
		t.Errorf("expected default MaintenanceInterval 60m, got %v", cfg.MaintenanceInterval)
	}
	if cfg.OperationTimeout != 60*time.Second {
		t.Errorf("expected default OperationTimeout 60s, got %v", cfg.OperationTimeout)
	}
}

func TestConfigSetDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{GossipFanout: 7, GossipPeriod: 5 * time.Second, MaintenanceInterval: time.Hour, OperationTimeout: 30 * time.Second}
	cfg.setDefaults()

	if cfg.GossipFanout != 7 || cfg.GossipPeriod != 5*time.Second || cfg.MaintenanceInterval != time.Hour || cfg.OperationTimeout != 30*time.Second {
		t.Fatalf("setDefaults must not override explicitly configured values, got %+v", cfg)
	}
}

func TestNewAppliesDefaultsAndExposesRegistry(t *testing.T) {
	engine, err := store.Open(t.TempDir(), "n1")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer engine.Close()

	registry := peerset.NewRegistry()
	orch := New(Config{SelfNodeID: "n1", AuthToken: "secret"}, engine, registry)

	if orch.cfg.GossipFanout != 3 {
		t.Fatalf("New should apply config defaults, got GossipFanout=%d", orch.cfg.GossipFanout)
	}
	if orch.Registry() != registry {
		t.Fatalf("Registry() should return the registry passed to New")
	}
}
