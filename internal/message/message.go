// Package message defines the tagged-variant Message type shared by the
// orchestrator, log store, and ingestor, and the additive/remove-marker
// reducer that folds message deltas into a session's message list.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Role tags a Message's variant. There is no inheritance chain; every
// component dispatches on Role directly, as spec.md §9 "Message polymorphism"
// requires.
type Role string

const (
	RoleHuman        Role = "human"
	RoleAI           Role = "ai"
	RoleTool         Role = "tool"
	RoleSystem       Role = "system"
	RoleRemoveMarker Role = "remove_marker"
)

// ToolCallStatus is the status of a Tool message answering a ToolCall.
type ToolCallStatus string

const (
	ToolStatusSuccess ToolCallStatus = "success"
	ToolStatusFailed  ToolCallStatus = "failed"
)

// ToolCall is a single invocation an AI message requests.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is the tagged variant over {Human, AI, Tool, System, RemoveMarker}.
// Every message has a stable ID assigned on first insertion into a state,
// per spec.md §3.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Status    ToolCallStatus `json:"status,omitempty"`
	RemoveID  string         `json:"remove_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func newID() string { return uuid.NewString() }

// NewHuman builds a Human message with a fresh id.
func NewHuman(content string) Message {
	return Message{ID: newID(), Role: RoleHuman, Content: content, CreatedAt: time.Now().UTC()}
}

// NewSystem builds a System message with a fresh id.
func NewSystem(content string) Message {
	return Message{ID: newID(), Role: RoleSystem, Content: content, CreatedAt: time.Now().UTC()}
}

// NewAI builds an AI message, optionally carrying tool calls.
func NewAI(content string, calls ...ToolCall) Message {
	return Message{ID: newID(), Role: RoleAI, Content: content, ToolCalls: calls, CreatedAt: time.Now().UTC()}
}

// NewTool builds a Tool message answering the given call id.
func NewTool(toolCallID, content string, status ToolCallStatus) Message {
	return Message{
		ID:         newID(),
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewRemoveMarker builds the only message variant that can delete another
// message from a state: a RemoveMarker naming the victim's id.
func NewRemoveMarker(id string) Message {
	return Message{ID: newID(), Role: RoleRemoveMarker, RemoveID: id, CreatedAt: time.Now().UTC()}
}

func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Reduce folds a slice of message deltas into an existing ordered list.
// Appending is additive by default; a RemoveMarker with id X removes the
// message with id X from the list, and any subsequent insert in the same
// update is appended after the removal — the only way components may delete
// messages (spec.md §4.H "Message-list reducer"). Direct truncation by
// callers is never supported by this function.
func Reduce(existing []Message, deltas []Message) []Message {
	out := existing
	for _, d := range deltas {
		if d.Role == RoleRemoveMarker {
			out = removeByID(out, d.RemoveID)
			continue
		}
		out = append(out, d)
	}
	return out
}

func removeByID(list []Message, id string) []Message {
	if id == "" {
		return list
	}
	out := make([]Message, 0, len(list))
	for _, m := range list {
		if m.ID == id {
			continue
		}
		out = append(out, m)
	}
	return out
}

// LastHuman returns the most recent Human message's content, or "".
func LastHuman(list []Message) string {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Role == RoleHuman {
			return list[i].Content
		}
	}
	return ""
}

// LastN returns the trailing n messages (or fewer if the list is shorter),
// used by the Planner to trim history (spec.md §4.H).
func LastN(list []Message, n int) []Message {
	if n <= 0 || len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}
