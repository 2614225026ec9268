package resolve

import (
	"encoding/json"
	"testing"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/oplog"
)

func entry(t *testing.T, phys int64, node string, op oplog.Op, content string) oplog.Entry {
	t.Helper()
	var payload json.RawMessage
	if content != "" {
		payload = json.RawMessage(content)
	}
	e, err := oplog.Link("", "docs", "k1", op, payload, hlc.Timestamp{Physical: phys, Logical: 0, NodeID: node})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	return e
}

func TestLastWriteWinsNewerBeats(t *testing.T) {
	lww := LastWriteWins{}
	local := &model.Document{Content: json.RawMessage(`{"x":1}`), UpdatedAt: hlc.Timestamp{Physical: 100, NodeID: "n1"}}

	apply, merged, err := lww.Resolve(local, entry(t, 200, "n2", oplog.OpPut, `{"x":2}`))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !apply {
		t.Fatalf("a strictly newer write must apply")
	}
	if string(merged.Content) != `{"x":2}` {
		t.Fatalf("expected winning content {\"x\":2}, got %s", merged.Content)
	}
}

func TestLastWriteWinsNodeIDTiebreak(t *testing.T) {
	lww := LastWriteWins{}
	// Same physical+logical time, different authors: n2 > n1 lexicographically.
	local := &model.Document{Content: json.RawMessage(`{"x":1}`), UpdatedAt: hlc.Timestamp{Physical: 100, NodeID: "n1"}}

	apply, merged, err := lww.Resolve(local, entry(t, 100, "n2", oplog.OpPut, `{"x":2}`))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !apply {
		t.Fatalf("n2 should win the tiebreak over n1")
	}
	if string(merged.Content) != `{"x":2}` {
		t.Fatalf("expected n2's content to win, got %s", merged.Content)
	}
}

func TestLastWriteWinsRejectsOlder(t *testing.T) {
	lww := LastWriteWins{}
	local := &model.Document{Content: json.RawMessage(`{"x":1}`), UpdatedAt: hlc.Timestamp{Physical: 200, NodeID: "n1"}}

	apply, _, err := lww.Resolve(local, entry(t, 100, "n2", oplog.OpPut, `{"x":2}`))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if apply {
		t.Fatalf("a strictly older write must not apply")
	}
}

func TestLastWriteWinsFirstWriteAlwaysApplies(t *testing.T) {
	lww := LastWriteWins{}
	apply, merged, err := lww.Resolve(nil, entry(t, 100, "n1", oplog.OpPut, `{"x":1}`))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !apply || string(merged.Content) != `{"x":1}` {
		t.Fatalf("first write for a key must always apply verbatim")
	}
}

func TestRecursiveMergeCombinesArraysByID(t *testing.T) {
	merge := RecursiveMerge{}
	local := &model.Document{
		Content:   json.RawMessage(`{"title":"T","items":[{"id":1,"done":false}]}`),
		UpdatedAt: hlc.Timestamp{Physical: 100, NodeID: "n1"},
	}
	incoming := entry(t, 100, "n2", oplog.OpPut, `{"title":"T","items":[{"id":1,"done":false},{"id":2,"done":false}]}`)

	apply, merged, err := merge.Resolve(local, incoming)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !apply {
		t.Fatalf("concurrent puts must apply a merged result")
	}

	var got map[string]any
	if err := json.Unmarshal(merged.Content, &got); err != nil {
		t.Fatalf("merged content not valid JSON: %v", err)
	}
	items, _ := got["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected both items to survive the merge, got %v", got["items"])
	}
}

func TestRecursiveMergeDeleteWinsOverOlderPut(t *testing.T) {
	merge := RecursiveMerge{}
	local := &model.Document{
		Content:   json.RawMessage(`{"x":1}`),
		UpdatedAt: hlc.Timestamp{Physical: 100, NodeID: "n1"},
		IsDeleted: false,
	}
	del := entry(t, 200, "n2", oplog.OpDelete, "")

	apply, merged, err := merge.Resolve(local, del)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !apply || !merged.IsDeleted {
		t.Fatalf("a newer delete must win over an older put")
	}
}

func TestRecursiveMergeRejectsOlderPutOverTombstone(t *testing.T) {
	merge := RecursiveMerge{}
	local := &model.Document{UpdatedAt: hlc.Timestamp{Physical: 200, NodeID: "n2"}, IsDeleted: true}
	put := entry(t, 100, "n1", oplog.OpPut, `{"x":1}`)

	apply, _, err := merge.Resolve(local, put)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if apply {
		t.Fatalf("a put older than an existing tombstone must not resurrect the document")
	}
}

func TestRecursiveMergeIdempotentOnIdenticalRedelivery(t *testing.T) {
	merge := RecursiveMerge{}
	local := &model.Document{Content: json.RawMessage(`{"x":1}`), UpdatedAt: hlc.Timestamp{Physical: 100, NodeID: "n1"}}
	redelivered := entry(t, 100, "n1", oplog.OpPut, `{"x":1}`)

	apply, _, err := merge.Resolve(local, redelivered)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if apply {
		t.Fatalf("re-delivering identical content must be a no-op")
	}
}
