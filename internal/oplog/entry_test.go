package oplog

import (
	"encoding/json"
	"errors"
	"testing"

	"entgldb/internal/hlc"
)

func ts(phys int64, node string) hlc.Timestamp {
	return hlc.Timestamp{Physical: phys, Logical: 0, NodeID: node}
}

func TestLinkAndValidateRoundTrip(t *testing.T) {
	e, err := Link("", "docs", "k1", OpPut, json.RawMessage(`{"x":1}`), ts(100, "n1"))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if e.PrevHash != "" {
		t.Fatalf("genesis entry should have empty prev_hash, got %q", e.PrevHash)
	}
	if err := Validate(e); err != nil {
		t.Fatalf("Validate on a freshly linked entry should pass: %v", err)
	}
}

func TestLinkRejectsPutWithoutPayload(t *testing.T) {
	if _, err := Link("", "docs", "k1", OpPut, nil, ts(100, "n1")); !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("expected ErrMissingPayload, got %v", err)
	}
}

func TestValidateDetectsTamperedPayload(t *testing.T) {
	e, err := Link("", "docs", "k1", OpPut, json.RawMessage(`{"x":1}`), ts(100, "n1"))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	e.Payload = json.RawMessage(`{"x":2}`)
	if err := Validate(e); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch after tampering payload, got %v", err)
	}
}

func TestHashIsStableAcrossKeyOrder(t *testing.T) {
	e1, err := Link("", "docs", "k1", OpPut, json.RawMessage(`{"a":1,"b":2}`), ts(100, "n1"))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	e2, err := Link("", "docs", "k1", OpPut, json.RawMessage(`{"b":2,"a":1}`), ts(100, "n1"))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if e1.Hash != e2.Hash {
		t.Fatalf("canonical hashing should be independent of JSON key order: %s != %s", e1.Hash, e2.Hash)
	}
}

func TestChainLinking(t *testing.T) {
	e1, _ := Link("", "docs", "k1", OpPut, json.RawMessage(`{"v":1}`), ts(100, "n1"))
	e2, _ := Link(e1.Hash, "docs", "k1", OpPut, json.RawMessage(`{"v":2}`), ts(200, "n1"))
	e3, _ := Link(e2.Hash, "docs", "k1", OpDelete, nil, ts(300, "n1"))

	if err := VerifyChain([]Entry{e1, e2, e3}, ""); err != nil {
		t.Fatalf("VerifyChain on a valid chain: %v", err)
	}
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	e1, _ := Link("", "docs", "k1", OpPut, json.RawMessage(`{"v":1}`), ts(100, "n1"))
	e2, _ := Link("not-e1-hash", "docs", "k1", OpPut, json.RawMessage(`{"v":2}`), ts(200, "n1"))

	if err := VerifyChain([]Entry{e1, e2}, ""); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestVerifyChainChecksKnownHead(t *testing.T) {
	e1, _ := Link("genesis-head", "docs", "k1", OpPut, json.RawMessage(`{"v":1}`), ts(100, "n1"))
	if err := VerifyChain([]Entry{e1}, "genesis-head"); err != nil {
		t.Fatalf("chain matching the known head should verify: %v", err)
	}
	if err := VerifyChain([]Entry{e1}, "some-other-head"); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("chain not matching the known head should fail, got %v", err)
	}
}
