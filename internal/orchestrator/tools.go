package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"silexa/gcc/internal/llm"
	"silexa/gcc/internal/message"
)

// toolSpecs is the bound tool list, grounded on graph_core.py's
// self.tools: run_command plus the six read-only/session-management
// meta-tools (get_gcc_history, list_past_sessions, get_session_context,
// branch_session, merge_current_session, switch_session).
func toolSpecs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "run_command",
			Description: "Execute a shell command in the current working directory.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cmd": map[string]any{"type": "string"},
				},
				"required": []string{"cmd"},
			},
		},
		{
			Name:        "get_gcc_history",
			Description: "Retrieve the human-readable history and context from a specific session id (or current if omitted).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "list_past_sessions",
			Description: "List past sessions recorded in the Session Index.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "get_session_context",
			Description: "Get the goal, path, and metadata of a specific session.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{"type": "string"},
				},
				"required": []string{"session_id"},
			},
		},
		{
			Name:        "branch_session",
			Description: "Fork the current session into a child branch for hypothetical exploration.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"branch_name": map[string]any{"type": "string"},
				},
				"required": []string{"branch_name"},
			},
		},
		{
			Name:        "merge_current_session",
			Description: "Merge findings from the current branch session back into its parent.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "switch_session",
			Description: "Check that another session or branch exists. The active session is not changed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{"type": "string"},
				},
				"required": []string{"session_id"},
			},
		},
	}
}

// commandArg extracts a run_command call's target string, accepting either
// "cmd" or "command" (graph_core.py's safety_gate/analyzer_node both accept
// either key).
func commandArg(call message.ToolCall) string {
	if v, ok := call.Args["cmd"].(string); ok && v != "" {
		return v
	}
	if v, ok := call.Args["command"].(string); ok && v != "" {
		return v
	}
	return ""
}

func stringArg(call message.ToolCall, key string) string {
	if v, ok := call.Args[key].(string); ok {
		return v
	}
	return ""
}

// dispatchMetaTool executes one of the non-shell tool calls against the
// Session Index/filesystem and returns the text a Tool message should carry.
func (o *Orchestrator) dispatchMetaTool(ctx context.Context, call message.ToolCall) string {
	switch call.Name {
	case "get_gcc_history":
		return o.toolGetGCCHistory(ctx, stringArg(call, "session_id"))
	case "list_past_sessions":
		return o.toolListPastSessions(ctx)
	case "get_session_context":
		return o.toolGetSessionContext(ctx, stringArg(call, "session_id"))
	case "branch_session":
		return o.toolBranchSession(stringArg(call, "branch_name"))
	case "merge_current_session":
		return o.toolMergeCurrentSession()
	case "switch_session":
		return o.toolSwitchSession(ctx, stringArg(call, "session_id"))
	default:
		return fmt.Sprintf("ERROR: unknown tool %q", call.Name)
	}
}

func (o *Orchestrator) toolGetGCCHistory(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		sessionID = o.Session.ID
	}
	path := filepath.Join(o.SessionManager.SessionsPath, sessionID, "log.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Log file not found at %s", path)
	}
	return string(data)
}

func (o *Orchestrator) toolListPastSessions(ctx context.Context) string {
	sessions, err := o.SessionManager.ListSessions()
	if err != nil {
		return fmt.Sprintf("Failed to list sessions: %v", err)
	}
	if len(sessions) == 0 {
		return "No past sessions found."
	}
	out := ""
	for _, s := range sessions {
		out += fmt.Sprintf("- %s: %s [%s]\n", s.SessionID, s.Goal, s.Status)
	}
	return out
}

func (o *Orchestrator) toolGetSessionContext(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return "ERROR: session_id is required."
	}
	metaPath := filepath.Join(o.SessionManager.SessionsPath, sessionID, "metadata.yaml")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Sprintf("Session %q not found in index.", sessionID)
	}
	return string(data)
}

func (o *Orchestrator) toolBranchSession(branchName string) string {
	if branchName == "" {
		return "Branching failed: branch_name is required."
	}
	branch, err := o.SessionManager.BranchSession(o.Session.ID, branchName)
	if err != nil {
		return fmt.Sprintf("Branching failed: %v", err)
	}
	return fmt.Sprintf("SUCCESS: Branched '%s' -> '%s'. The active session is unchanged.", o.Session.ID, branch.ID)
}

func (o *Orchestrator) toolMergeCurrentSession() string {
	if err := o.SessionManager.MergeSession(o.Session.ID); err != nil {
		return fmt.Sprintf("Merge failed: %v", err)
	}
	return fmt.Sprintf("SUCCESS: Findings from '%s' merged into parent. You can now switch back to the main goal.", o.Session.ID)
}

func (o *Orchestrator) toolSwitchSession(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return "ERROR: session_id is required."
	}
	metaPath := filepath.Join(o.SessionManager.SessionsPath, sessionID, "metadata.yaml")
	if _, err := os.Stat(metaPath); err != nil {
		return fmt.Sprintf("ERROR: Session '%s' not found.", sessionID)
	}
	return fmt.Sprintf("SUCCESS: Session '%s' exists. The active session is unchanged.", sessionID)
}
