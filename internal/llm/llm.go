// Package llm defines the LLM collaborator boundary (spec.md §1 Non-goal:
// "LLM inference itself" is external) and an Ollama-backed implementation.
//
// Grounded on original_source/src/ollama_client.py's OllamaClient (chat
// against /api/chat with model/options, a health check against /api/tags).
// No third-party HTTP client library is introduced: none of the teacher
// pack's own HTTP clients (apps/ReleaseParty/backend's GitHub client,
// agents/shared/docker's engine client) wrap net/http either — they all
// call it directly — so stdlib net/http is the grounded choice here too.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"silexa/gcc/internal/message"
)

// ToolSpec describes one callable tool offered to the model, mirroring the
// shape graph_core.py binds into LangChain's tool list.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Delta is one streamed chunk: either a text fragment or a completed tool
// call (spec.md §6 "stream of {text_delta|tool_call}").
type Delta struct {
	TextDelta string
	ToolCall  *message.ToolCall
}

// Collaborator is the LLM boundary the orchestrator depends on.
type Collaborator interface {
	Generate(ctx context.Context, messages []message.Message, tools []ToolSpec, stream bool) (<-chan Delta, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config configures one Ollama-backed collaborator instance (planner or
// reflex/fast-path model, per spec.md §6 env var list).
type Config struct {
	Host          string
	Model         string
	Temperature   float64
	ContextWindow int
	Timeout       time.Duration
}

// OllamaClient talks to a local Ollama server's /api/chat and
// /api/embeddings endpoints.
type OllamaClient struct {
	cfg   Config
	http  *http.Client
	cache *embedCache
}

func New(cfg Config) *OllamaClient {
	return &OllamaClient{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: newEmbedCache(100),
	}
}

type chatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Tools    []toolWrapper  `json:"tools,omitempty"`
	Options  map[string]any `json:"options"`
}

type toolWrapper struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatStreamLine struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done bool `json:"done"`
}

func toOllamaRole(r message.Role) string {
	switch r {
	case message.RoleHuman:
		return "user"
	case message.RoleAI:
		return "assistant"
	case message.RoleTool:
		return "tool"
	case message.RoleSystem:
		return "system"
	default:
		return "user"
	}
}

// Generate streams the model's reply over /api/chat, translating each
// NDJSON line into a text or tool-call Delta (spec.md §6).
func (c *OllamaClient) Generate(ctx context.Context, messages []message.Message, tools []ToolSpec, stream bool) (<-chan Delta, error) {
	req := chatRequest{
		Model:  c.cfg.Model,
		Stream: stream,
		Options: map[string]any{
			"temperature": c.cfg.Temperature,
			"num_ctx":     c.cfg.ContextWindow,
		},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: toOllamaRole(m.Role), Content: m.Content})
	}
	for _, t := range tools {
		w := toolWrapper{Type: "function"}
		w.Function.Name = t.Name
		w.Function.Description = t.Description
		w.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, w)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("llm: chat request returned status %d", resp.StatusCode)
	}

	out := make(chan Delta)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var parsed chatStreamLine
			if err := json.Unmarshal(line, &parsed); err != nil {
				continue
			}
			if parsed.Message.Content != "" {
				select {
				case out <- Delta{TextDelta: parsed.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			for _, tc := range parsed.Message.ToolCalls {
				call := &message.ToolCall{Name: tc.Function.Name, Args: tc.Function.Arguments}
				select {
				case out <- Delta{ToolCall: call}:
				case <-ctx.Done():
					return
				}
			}
			if parsed.Done {
				return
			}
		}
	}()

	return out, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls /api/embeddings, consulting a bounded FIFO cache of recent
// queries first (spec.md §5 "bounded (≤100 entries) FIFO of recent queries
// for latency reduction").
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.get(text); ok {
		return v, nil
	}

	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Prompt: text})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: embed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: embed request returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	c.cache.put(text, parsed.Embedding)
	return parsed.Embedding, nil
}

// CheckHealth mirrors ollama_client.py's check_health: verifies the host is
// reachable and the configured model is present in /api/tags.
func (c *OllamaClient) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm: ollama host unreachable: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Models []struct {
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("llm: malformed /api/tags response: %w", err)
	}
	for _, m := range parsed.Models {
		if m.Model == c.cfg.Model || m.Model == c.cfg.Model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("llm: model %q not found on ollama host", c.cfg.Model)
}

// embedCache is a bounded FIFO keyed by exact query text.
type embedCache struct {
	mu    sync.Mutex
	limit int
	order []string
	data  map[string][]float32
}

func newEmbedCache(limit int) *embedCache {
	return &embedCache{limit: limit, data: make(map[string][]float32)}
}

func (c *embedCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *embedCache) put(key string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; !exists {
		c.order = append(c.order, key)
	}
	c.data[key] = v
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
	}
}
