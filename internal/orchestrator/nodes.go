package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"silexa/gcc/internal/ingest"
	"silexa/gcc/internal/logstore"
	"silexa/gcc/internal/message"
	"silexa/gcc/internal/prober"
	"silexa/gcc/internal/sanitize"
)

const maxPlannerHistory = 15

// proberNode refreshes the environment fingerprint at the top of every
// cycle (graph_core.py's prober_node / START->prober edge).
func (o *Orchestrator) proberNode(ctx context.Context, state *State) {
	info := o.Prober.Probe(ctx)
	o.cachedEnvInfo = &info
	state.Env = envSnapshot(info)
	state.EnvHash = prober.Fingerprint(info)
}

func envSnapshot(info prober.Info) map[string]any {
	return map[string]any{
		"os":      info.OS,
		"release": info.Release,
		"shell":   info.Shell,
		"cwd":     info.Cwd,
		"tools":   info.Tools,
	}
}

// ingestionNode syncs any new log.md sections written since the last sync
// (e.g. by a human-run command outside the agent loop) into the message
// list, then reorders so ingested history precedes the live turn's human
// message (graph_core.py's ingestion_node).
func (o *Orchestrator) ingestionNode(ctx context.Context, state *State) {
	total, err := ingest.SectionCount(o.LogStore.LogPath)
	if err != nil || total <= state.LastSyncedCount {
		return
	}
	entries, err := ingest.GetNewEntries(o.LogStore.LogPath, state.LastSyncedCount)
	if err != nil {
		return
	}
	state.LastSyncedCount = total
	if len(entries) == 0 {
		return
	}

	// The current turn's Human message was appended last by RunTurn; splice
	// the ingested history in immediately before it so [HISTORY] precedes
	// [CURRENT QUERY], matching the Python original's reordering.
	if n := len(state.Messages); n > 0 && state.Messages[n-1].Role == message.RoleHuman {
		current := state.Messages[n-1]
		state.Messages = append(state.Messages[:n-1], append(entries, current)...)
	} else {
		state.Messages = append(state.Messages, entries...)
	}
}

// routerNode picks CHAT/fast-path/full-planner routing (graph_core.py's
// router_node). The speculative fast path asks the reflex model to either
// hand back a bare command or the literal sentinel "COMPLEX"; a non-COMPLEX
// answer short-circuits straight to a synthetic run_command tool call. In
// EXEC mode the candidate-length gate is skipped and the reflex prompt
// forbids the COMPLEX escape (SPEC_FULL.md §12's three-mode enumeration),
// so every query in that mode resolves to a single shell command.
func (o *Orchestrator) routerNode(ctx context.Context, state *State) {
	if state.UserMode == ModeChat {
		state.NextStep = StepChat
		return
	}

	query := message.LastHuman(state.Messages)
	forceExec := state.UserMode == ModeExec
	if o.FastLLM != nil && (forceExec || isFastPathCandidate(query)) {
		decision := o.reflexDecide(ctx, query, forceExec)
		if decision != "" && (forceExec || !strings.EqualFold(decision, "COMPLEX")) {
			call := message.ToolCall{ID: "fast-" + shortHash(decision), Name: "run_command", Args: map[string]any{"cmd": decision}}
			state.Messages = append(state.Messages, message.NewAI("", call))
			state.NextStep = StepFastPath
			return
		}
	}
	state.NextStep = StepPlanner
}

func isFastPathCandidate(query string) bool {
	q := strings.TrimSpace(query)
	return q != "" && !strings.Contains(q, "\n") && len(q) <= 100
}

func (o *Orchestrator) reflexDecide(ctx context.Context, query string, forceCommand bool) string {
	instruction := "Reply with exactly one shell command that answers the request, or the single word COMPLEX if it needs multi-step planning. No commentary."
	if forceCommand {
		instruction = "Reply with exactly one shell command that answers the request. Always produce a command, even an approximate one; COMPLEX is not an allowed answer in this mode. No commentary."
	}
	prompt := []message.Message{
		message.NewSystem(instruction),
		message.NewHuman(query),
	}
	deltas, err := o.FastLLM.Generate(ctx, prompt, nil, false)
	if err != nil {
		return ""
	}
	var out strings.Builder
	for d := range deltas {
		out.WriteString(d.TextDelta)
	}
	return strings.TrimSpace(out.String())
}

func shortHash(s string) string {
	var sum uint32
	for _, r := range s {
		sum = sum*31 + uint32(r)
	}
	return fmt.Sprintf("%x", sum)
}

// plannerNode builds the planner's system prompt, consults the Semantic
// Cache, and otherwise invokes the bound LLM (graph_core.py's planner_node).
func (o *Orchestrator) plannerNode(ctx context.Context, state *State) {
	query := message.LastHuman(state.Messages)

	if !recentMessagesContainTool(state.Messages, 3) {
		if cached, hit, err := o.Cache.Get(ctx, query); err == nil && hit {
			state.Messages = append(state.Messages, message.NewAI(cached))
			return
		}
	}

	systemPrompt := o.buildSystemPrompt(state)
	history := message.LastN(state.Messages, maxPlannerHistory)
	prompt := append([]message.Message{message.NewSystem(systemPrompt)}, history...)

	deltas, err := o.LLM.Generate(ctx, prompt, toolSpecs(), false)
	if err != nil {
		state.Messages = append(state.Messages, message.NewAI(fmt.Sprintf("PLANNER_ERROR: %v", err)))
		return
	}

	var text strings.Builder
	var calls []message.ToolCall
	for d := range deltas {
		text.WriteString(d.TextDelta)
		if d.ToolCall != nil {
			calls = append(calls, *d.ToolCall)
		}
	}
	response := text.String()
	state.Messages = append(state.Messages, message.NewAI(response, calls...))

	if len(calls) == 0 {
		if err := o.Cache.Set(ctx, query, response); err != nil {
			o.Logger.Warnf("semantic cache write failed: %v", err)
		}
		if !recentMessagesContainTool(state.Messages, 1) {
			o.LogStore.LogCommit(truncateForCommit(response), "final response")
		}
	}
}

func recentMessagesContainTool(msgs []message.Message, n int) bool {
	recent := message.LastN(msgs, n)
	for _, m := range recent {
		if m.Role == message.RoleTool {
			return true
		}
	}
	return false
}

func truncateForCommit(s string) string {
	const limit = 200
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func (o *Orchestrator) buildSystemPrompt(state *State) string {
	var b strings.Builder
	b.WriteString("You are the planning stage of a terminal-hosted DevOps assistant.\n")
	if o.cachedEnvInfo != nil {
		info := o.cachedEnvInfo
		fmt.Fprintf(&b, "OS: %s | Shell: %s | Cwd: %s\n", info.OS, info.Shell, info.Cwd)
		fmt.Fprintf(&b, "Kubernetes context: %s | Docker: %s | Git branch: %s\n",
			info.Tools.Kubectl.Context, info.Tools.Docker.Status, info.Tools.Git.Branch)
	}
	fmt.Fprintf(&b, "Recent milestones: %s\n", o.contextRecap)
	if state.DenialReason != "" {
		fmt.Fprintf(&b, "\n[DENIAL CONTEXT]\nThe previous action was denied: %s\nPropose an alternative.\n", state.DenialReason)
	}
	if state.LastError != "" {
		fmt.Fprintf(&b, "\n[LAST ERROR]\n%s\n", state.LastError)
	}
	b.WriteString("\n[AVAILABLE SKILLS]\n")
	b.WriteString(o.skillsDocumentation)
	return b.String()
}

// executeToolCalls runs every tool call attached to either the resumed
// approval (state.PendingToolCalls) or the last AI message, and appends a
// Tool message per call (graph_core.py's executor_node/auto_executor_node,
// which share a single tool-invocation body).
func (o *Orchestrator) executeToolCalls(ctx context.Context, state *State) {
	calls := state.PendingToolCalls
	if len(calls) == 0 && len(state.Messages) > 0 {
		last := state.Messages[len(state.Messages)-1]
		if last.Role == message.RoleAI {
			calls = last.ToolCalls
		}
	}
	state.PendingToolCalls = nil

	for _, call := range calls {
		var output string
		status := message.ToolStatusSuccess
		if call.Name == "run_command" {
			cmd := commandArg(call)
			cwd := ""
			if o.cachedEnvInfo != nil {
				cwd = o.cachedEnvInfo.Cwd
			}
			out, err := o.Executor.Run(ctx, cmd, cwd, o.Config.CommandTimeout)
			output = out
			if err != nil {
				status = message.ToolStatusFailed
				output = fmt.Sprintf("%s\nERROR: %v", output, err)
			}
			o.LogStore.LogHumanAction(cmd, output)
		} else {
			output = o.dispatchMetaTool(ctx, call)
			if strings.HasPrefix(output, "ERROR") {
				status = message.ToolStatusFailed
			}
		}
		state.Messages = append(state.Messages, message.NewTool(call.ID, output, status))
	}
}

// sanitizerNode sanitizes only the most recently appended Tool message's
// content, replacing it via a RemoveMarker + fresh Tool message pair rather
// than rewriting the whole list, so the reducer doesn't duplicate untouched
// history (the Go equivalent of graph_core.py's sanitizer_node "BUG-04 FIX").
func (o *Orchestrator) sanitizerNode(ctx context.Context, state *State) {
	idx := -1
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == message.RoleTool {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	original := state.Messages[idx]
	clean := sanitize.Sanitize(original.Content)
	if clean == original.Content {
		return
	}
	replacement := message.NewTool(original.ToolCallID, clean, original.Status)
	deltas := []message.Message{message.NewRemoveMarker(original.ID), replacement}
	state.Messages = message.Reduce(state.Messages, deltas)
}

var failureSignatures = []string{
	"permission denied", "not found", "error:", "access denied", "no such file", "failed to",
}

// analyzerNode logs the last (AI tool-call, Tool result) pair as an OTA
// entry, records it in the Session Index, and detects genuine failures to
// trigger a reprobe with a system-reflection nudge (graph_core.py's
// analyzer_node).
func (o *Orchestrator) analyzerNode(ctx context.Context, state *State) {
	aiIdx, toolIdx := lastActionPair(state.Messages)
	if aiIdx == -1 || toolIdx == -1 {
		state.NextStep = StepContinue
		return
	}
	ai := state.Messages[aiIdx]
	tool := state.Messages[toolIdx]

	var action string
	if len(ai.ToolCalls) > 0 {
		action = commandArg(ai.ToolCalls[0])
		if action == "" {
			action = ai.ToolCalls[0].Name
		}
	}

	if err := o.LogStore.LogAIAction(logstore.AIAction{
		Action: action,
		Output: tool.Content,
	}); err != nil {
		o.Logger.Warnf("failed to log AI action: %v", err)
	}

	if o.cachedEnvInfo != nil && action != "" {
		go func(cmd string, info prober.Info) {
			_ = o.Index.LogCommand(context.Background(), o.Session.ID, cmd, info.OS, info.Shell, info.Cwd)
		}(action, *o.cachedEnvInfo)
	}

	lower := strings.ToLower(tool.Content)
	isReflectionEcho := strings.Contains(tool.Content, "[system reflection]")
	if !isReflectionEcho && containsFailureSignature(lower) {
		state.LastError = tool.Content
		state.Messages = append(state.Messages, message.NewHuman(
			fmt.Sprintf("[system reflection] The last command appears to have failed: %s", truncateForCommit(tool.Content)),
		))
		state.NextStep = StepReprobe
		return
	}
	state.NextStep = StepContinue
}

func containsFailureSignature(lower string) bool {
	for _, sig := range failureSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func lastActionPair(msgs []message.Message) (aiIdx, toolIdx int) {
	aiIdx, toolIdx = -1, -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleTool && toolIdx == -1 {
			toolIdx = i
			continue
		}
		if msgs[i].Role == message.RoleAI && msgs[i].HasToolCalls() && toolIdx != -1 {
			aiIdx = i
			break
		}
	}
	return aiIdx, toolIdx
}

// auditNode applies the hard turn limit, environment drift detection, and
// semantic/action loop detection before handing back to the planner,
// reprobing, or circuit-breaking (graph_core.py's audit_node, five steps in
// order: loop limit, drift, semantic loop, action loop, continue).
func (o *Orchestrator) auditNode(ctx context.Context, state *State) {
	state.LoopCount++
	if state.LoopCount >= circuitBreakLoopLimit {
		state.NextStep = StepCircuitBreak
		return
	}
	if state.NextStep == StepReprobe {
		return
	}

	lastIsTool := len(state.Messages) > 0 && state.Messages[len(state.Messages)-1].Role == message.RoleTool
	if lastIsTool || state.EnvHash == "" {
		info := o.Prober.Probe(ctx)
		o.cachedEnvInfo = &info
		newHash := prober.Fingerprint(info)
		drifted := state.EnvHash != "" && newHash != state.EnvHash
		state.EnvHash = newHash
		state.Env = envSnapshot(info)
		if drifted {
			state.NextStep = StepReprobe
			return
		}
	}

	if detectSemanticLoop(state.Messages) {
		state.Messages = append(state.Messages, message.NewHuman(
			"[system reflection] Repeated the same response without progress; try a different approach.",
		))
		state.NextStep = StepCircuitBreak
		return
	}

	if cmd, looped := detectActionLoop(state.Messages); looped {
		reason := fmt.Sprintf("the same command was repeated without progress: %s", cmd)
		state.DenialReason = reason
		state.Messages = append(state.Messages, message.NewHuman(
			"[system reflection] Repeated "+reason,
		))
		state.NextStep = StepCircuitBreak
		return
	}

	state.NextStep = StepContinue
}

func detectSemanticLoop(msgs []message.Message) bool {
	var texts []string
	for i := len(msgs) - 1; i >= 0 && len(texts) < 3; i-- {
		if msgs[i].Role == message.RoleAI {
			texts = append(texts, msgs[i].Content)
		}
	}
	if len(texts) < 3 {
		return false
	}
	return texts[0] != "" && texts[0] == texts[1] && texts[1] == texts[2]
}

// detectActionLoop reports whether the last two AI tool-calling messages
// repeat the same tool/args, returning the literal repeated command (or
// tool name, for non-shell tools) so the caller can name it in the denial
// reason (graph_core.py's repetition_hint).
func detectActionLoop(msgs []message.Message) (string, bool) {
	var calls []message.ToolCall
	for i := len(msgs) - 1; i >= 0 && len(calls) < 2; i-- {
		if msgs[i].Role == message.RoleAI && msgs[i].HasToolCalls() {
			calls = append(calls, msgs[i].ToolCalls[0])
		}
	}
	if len(calls) < 2 {
		return "", false
	}
	if calls[0].Name != calls[1].Name || fmt.Sprint(calls[0].Args) != fmt.Sprint(calls[1].Args) {
		return "", false
	}
	cmd := commandArg(calls[0])
	if cmd == "" {
		cmd = calls[0].Name
	}
	return cmd, true
}

// negotiatorNode passes the denial text through to the planner, appending a
// USER SUGGESTION tail when the denial carries an alternative ("try ...
// instead") (graph_core.py's negotiator_node).
func (o *Orchestrator) negotiatorNode(state *State) {
	reason := state.DenialReason
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "try") || strings.Contains(lower, "instead") {
		reason += "\n[USER SUGGESTION] Consider the alternative approach mentioned above."
	}
	state.DenialReason = reason
}

// chatNode answers conversational queries without binding any tools
// (graph_core.py's chat_node).
func (o *Orchestrator) chatNode(ctx context.Context, state *State) {
	llmToUse := o.FastLLM
	if llmToUse == nil {
		llmToUse = o.LLM
	}
	history := message.LastN(state.Messages, maxPlannerHistory)
	prompt := append([]message.Message{
		message.NewSystem("Answer conversationally. Do not propose or run any commands."),
	}, history...)

	deltas, err := llmToUse.Generate(ctx, prompt, nil, false)
	if err != nil {
		state.Messages = append(state.Messages, message.NewAI(fmt.Sprintf("CHAT_ERROR: %v", err)))
		return
	}
	var text strings.Builder
	for d := range deltas {
		text.WriteString(d.TextDelta)
	}
	state.Messages = append(state.Messages, message.NewAI(text.String()))
}
