package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"silexa/gcc/internal/checkpoint"
	"silexa/gcc/internal/logstore"
	"silexa/gcc/internal/message"
)

var pivotKeywords = []string{"new task", "switch to", "different goal", "stop this", "reset session"}

// detectAndHandlePivot runs a cheap keyword/length heuristic, and on a
// likely pivot asks the reflex model to confirm a SWITCH/CONTINUE
// classification. On SWITCH it forks the active session into an
// auto-named branch and rebinds the orchestrator's session-scoped
// collaborators onto it (grounded on graph_core.py's
// _detect_and_handle_pivot). Failures are logged and otherwise ignored —
// a missed pivot just continues the existing session.
func (o *Orchestrator) detectAndHandlePivot(ctx context.Context, userInput string) {
	if o.FastLLM == nil {
		return
	}
	if !isPivotLikely(userInput) {
		return
	}

	decision := o.classifyPivot(ctx, userInput)
	if !strings.Contains(strings.ToUpper(decision), "SWITCH") {
		return
	}

	branchName := fmt.Sprintf("auto_%s", time.Now().UTC().Format("150405"))
	branch, err := o.SessionManager.BranchSession(o.Session.ID, branchName)
	if err != nil {
		o.Logger.Warnf("pivot detection: branch failed: %v", err)
		return
	}

	o.Logger.Infof("pivot detected: switching context from %s to %s", o.Session.ID, branch.ID)
	parentID := o.Session.ID

	o.Session = branch
	o.LogStore = logstore.New(branch.Path)
	if cp, err := checkpoint.New(branch.Path); err == nil {
		o.Checkpointer = cp
	}
	o.cachedEnvInfo = nil

	o.LogStore.LogCommit("Automated Task Switch", fmt.Sprintf("Branched from %s to handle: %s", parentID, userInput))
}

func isPivotLikely(userInput string) bool {
	if len(userInput) > 200 {
		return true
	}
	lower := strings.ToLower(userInput)
	for _, kw := range pivotKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) classifyPivot(ctx context.Context, userInput string) string {
	prompt := []message.Message{
		message.NewHuman(fmt.Sprintf(
			"Assess if this user input is a fundamental task switch from the current goal.\nCurrent Goal: %s\nUser Input: %s\nRespond ONLY with 'SWITCH' or 'CONTINUE'.",
			o.Session.Goal, userInput,
		)),
	}
	deltas, err := o.FastLLM.Generate(ctx, prompt, nil, false)
	if err != nil {
		o.Logger.Warnf("pivot detection failed: %v", err)
		return "CONTINUE"
	}
	var text strings.Builder
	for d := range deltas {
		text.WriteString(d.TextDelta)
	}
	return strings.TrimSpace(text.String())
}
