// Package orchestrator implements the Turn Orchestrator (spec.md §4.H): the
// single cooperative state machine that drives one utterance from human
// input to END or circuit-break, wiring every other internal/* package plus
// an llm.Collaborator.
//
// Grounded verbatim on original_source/src/agent/graph_core.py's
// LangGraphAgent. There is no LangGraph-equivalent graph-execution library
// anywhere in the teacher pack (or the rest of the examples), so the node
// graph is reimplemented as an explicit Go state machine — a named "current
// node" driving a for-loop switch, matching the teacher's own orchestration
// style in agents/critic/cmd/critic/loop.go (a turn-indexed loop over a
// small named state struct) rather than introducing a third-party workflow
// engine with no grounding in the corpus.
package orchestrator

import (
	"time"

	"silexa/gcc/internal/message"
)

// UserMode mirrors spec.md §4.H's router modes.
type UserMode string

const (
	ModeAuto UserMode = "AUTO"
	ModeExec UserMode = "EXEC"
	ModeChat UserMode = "CHAT"
)

// NextStep is the inter-node routing signal nodes write into State
// (graph_core.py's state["next_step"]).
type NextStep string

const (
	StepContinue     NextStep = "continue"
	StepReplan       NextStep = "replan"
	StepReprobe      NextStep = "reprobe"
	StepCircuitBreak NextStep = "circuit_break"
	StepChat         NextStep = "chat"
	StepFastPath     NextStep = "fast_path"
	StepPlanner      NextStep = "planner"
)

// State is the orchestrator's per-thread state, serialized verbatim by the
// Checkpointer between suspension points (spec.md §4.D, §4.H "AgentState").
type State struct {
	Messages         []message.Message  `json:"messages"`
	SessionID        string             `json:"session_id"`
	Goal             string             `json:"goal"`
	NextStep         NextStep           `json:"next_step,omitempty"`
	LastSyncedCount  int                `json:"last_synced_count"`
	Env              map[string]any     `json:"env,omitempty"`
	EnvHash          string             `json:"env_hash,omitempty"`
	DenialReason     string             `json:"denial_reason,omitempty"`
	LoopCount        int                `json:"loop_count"`
	UserMode         UserMode           `json:"user_mode"`
	LastError        string             `json:"last_error,omitempty"`
	PendingToolCalls []message.ToolCall `json:"pending_tool_calls,omitempty"`
}

// TurnResult is what RunTurn/ResumeApproval report back to the CLI.
type TurnResult struct {
	// Awaiting is true when the turn has suspended before the Executor node
	// and needs a human approval decision (spec.md §4.H approval interrupt).
	Awaiting     bool
	PendingCalls []message.ToolCall
	// Ended is true once the turn reaches END or a circuit break.
	Ended bool
	// FinalText is the last AI/Chat message's content, or the denial reason
	// when that content is empty, for CLI rendering.
	FinalText string
}

const circuitBreakLoopLimit = 10

// turnTimeout is one deadline over a whole RunTurn or ResumeApproval call:
// every node, LLM call and subprocess in that call shares it (spec.md §5
// "Ordering guarantees": turns run to completion before the next is
// accepted).
const turnTimeout = 10 * time.Minute
