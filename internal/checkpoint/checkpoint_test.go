package checkpoint

import (
	"encoding/json"
	"testing"
)

func TestPutThenGetTupleRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cp, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{ThreadID: "thread-1"}
	checkpoint := json.RawMessage(`{"messages":["hello"]}`)
	metadata := json.RawMessage(`{"step":1}`)

	if _, err := cp.Put(cfg, checkpoint, metadata); err != nil {
		t.Fatal(err)
	}

	tuple, err := cp.GetTuple(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if string(tuple.Checkpoint) != string(checkpoint) {
		t.Fatalf("expected checkpoint round-trip, got %s", tuple.Checkpoint)
	}
	if tuple.ParentConfig != nil {
		t.Fatalf("expected nil parent for first checkpoint, got %+v", tuple.ParentConfig)
	}
}

func TestPutRecordsParentConfigOnSecondWrite(t *testing.T) {
	dir := t.TempDir()
	cp, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{ThreadID: "thread-1", CheckpointID: "cp-1"}
	if _, err := cp.Put(cfg, json.RawMessage(`{}`), json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}

	tuple, err := cp.GetTuple(Config{ThreadID: "thread-1"})
	if err != nil {
		t.Fatal(err)
	}
	if tuple.ParentConfig == nil || tuple.ParentConfig.CheckpointID != "cp-1" {
		t.Fatalf("expected parent config carrying prior checkpoint id, got %+v", tuple.ParentConfig)
	}
}

func TestGetTupleMissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	cp, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = cp.GetTuple(Config{ThreadID: "nonexistent"})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutWritesExcludedFromList(t *testing.T) {
	dir := t.TempDir()
	cp, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cp.Put(Config{ThreadID: "thread-a"}, json.RawMessage(`{}`), json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := cp.Put(Config{ThreadID: "thread-b"}, json.RawMessage(`{}`), json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := cp.PutWrites("thread-a", "task-1", json.RawMessage(`[{"tool":"noop"}]`)); err != nil {
		t.Fatal(err)
	}

	list, err := cp.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoint snapshots (writes file excluded), got %d", len(list))
	}
}

func TestListRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	cp, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"thread-a", "thread-b", "thread-c"} {
		if _, err := cp.Put(Config{ThreadID: id}, json.RawMessage(`{}`), json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	list, err := cp.List(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(list))
	}
}

func TestListEmptyDirectoryReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	cp, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	list, err := cp.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}
}
