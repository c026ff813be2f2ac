package message

import "testing"

func TestReduceAppendIsAdditive(t *testing.T) {
	existing := []Message{NewHuman("hello")}
	out := Reduce(existing, []Message{NewAI("hi there")})
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[1].Role != RoleAI {
		t.Fatalf("expected second message to be AI, got %s", out[1].Role)
	}
}

func TestReduceRemoveMarkerSwapsMessageInPlace(t *testing.T) {
	old := NewTool("call-1", "raw output", ToolStatusSuccess)
	existing := []Message{NewHuman("run it"), old}

	replacement := NewTool("call-1", "sanitized output", ToolStatusSuccess)
	out := Reduce(existing, []Message{NewRemoveMarker(old.ID), replacement})

	if len(out) != 2 {
		t.Fatalf("expected 2 messages after swap, got %d", len(out))
	}
	for _, m := range out {
		if m.ID == old.ID {
			t.Fatalf("old message %s should have been removed", old.ID)
		}
	}
	if out[len(out)-1].Content != "sanitized output" {
		t.Fatalf("expected replacement at tail, got %q", out[len(out)-1].Content)
	}
}

func TestReduceRemoveMarkerAbsentIDIsNoop(t *testing.T) {
	existing := []Message{NewHuman("x")}
	out := Reduce(existing, []Message{NewRemoveMarker("does-not-exist")})
	if len(out) != 1 {
		t.Fatalf("expected list untouched, got %d messages", len(out))
	}
}

func TestLastNTrims(t *testing.T) {
	var list []Message
	for i := 0; i < 20; i++ {
		list = append(list, NewHuman("x"))
	}
	trimmed := LastN(list, 15)
	if len(trimmed) != 15 {
		t.Fatalf("expected 15, got %d", len(trimmed))
	}
}

func TestLastNShorterThanLimit(t *testing.T) {
	list := []Message{NewHuman("a"), NewHuman("b")}
	trimmed := LastN(list, 15)
	if len(trimmed) != 2 {
		t.Fatalf("expected 2, got %d", len(trimmed))
	}
}
