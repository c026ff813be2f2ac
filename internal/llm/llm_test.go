package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"silexa/gcc/internal/message"
)

func TestGenerateStreamsTextDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"content":"hello "},"done":false}`,
			`{"message":{"content":"world"},"done":false}`,
			`{"message":{"content":""},"done":true}`,
		}
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
		}
	}))
	defer srv.Close()

	c := New(Config{Host: srv.URL, Model: "llama3.1", Timeout: 5 * time.Second})
	deltas, err := c.Generate(context.Background(), []message.Message{message.NewHuman("hi")}, nil, true)
	if err != nil {
		t.Fatal(err)
	}

	var text string
	for d := range deltas {
		text += d.TextDelta
	}
	if text != "hello world" {
		t.Fatalf("expected concatenated text %q, got %q", "hello world", text)
	}
}

func TestGenerateEmitsToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"message": map[string]any{
				"content": "",
				"tool_calls": []map[string]any{
					{"function": map[string]any{"name": "run_command", "arguments": map[string]any{"cmd": "docker ps"}}},
				},
			},
			"done": true,
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	c := New(Config{Host: srv.URL, Model: "llama3.1", Timeout: 5 * time.Second})
	deltas, err := c.Generate(context.Background(), []message.Message{message.NewHuman("list containers")}, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	var gotToolCall bool
	for d := range deltas {
		if d.ToolCall != nil {
			gotToolCall = true
			if d.ToolCall.Name != "run_command" {
				t.Fatalf("expected tool name run_command, got %s", d.ToolCall.Name)
			}
		}
	}
	if !gotToolCall {
		t.Fatal("expected a tool call delta")
	}
}

func TestGenerateNonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Host: srv.URL, Model: "llama3.1", Timeout: 5 * time.Second})
	_, err := c.Generate(context.Background(), nil, nil, false)
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestEmbedCachesRepeatedQueries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1, 2, 3}})
	}))
	defer srv.Close()

	c := New(Config{Host: srv.URL, Model: "llama3.1", Timeout: 5 * time.Second})
	if _, err := c.Embed(context.Background(), "same query"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Embed(context.Background(), "same query"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call due to cache hit, got %d", calls)
	}
}

func TestEmbedCacheEvictsOldestBeyondLimit(t *testing.T) {
	cache := newEmbedCache(2)
	cache.put("a", []float32{1})
	cache.put("b", []float32{2})
	cache.put("c", []float32{3})

	if _, ok := cache.get("a"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	if _, ok := cache.get("c"); !ok {
		t.Fatal("expected newest entry retained")
	}
}

func TestCheckHealthFailsWhenModelMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{"model": "other-model"}},
		})
	}))
	defer srv.Close()

	c := New(Config{Host: srv.URL, Model: "llama3.1", Timeout: 5 * time.Second})
	if err := c.CheckHealth(context.Background()); err == nil {
		t.Fatal("expected error when configured model is absent")
	}
}

func TestCheckHealthSucceedsWhenModelPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{"model": "llama3.1:latest"}},
		})
	}))
	defer srv.Close()

	c := New(Config{Host: srv.URL, Model: "llama3.1", Timeout: 5 * time.Second})
	if err := c.CheckHealth(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
