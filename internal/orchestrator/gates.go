package orchestrator

import (
	"silexa/gcc/internal/classifier"
	"silexa/gcc/internal/message"
)

const (
	nodeEnd          = "END"
	nodeProber       = "prober"
	nodeIngestion    = "ingestion"
	nodeRouter       = "router"
	nodePlanner      = "planner"
	nodeExecutor     = "executor"
	nodeAutoExecutor = "auto_executor"
	nodeSanitizer    = "sanitizer"
	nodeAnalyzer     = "analyzer"
	nodeAudit        = "audit"
	nodeNegotiator   = "negotiator"
	nodeChat         = "chat"
)

// safetyGate inspects the last AI message's tool calls and routes to the
// interrupted Executor if any requires approval, or straight to
// auto-executor if every call auto-executes (spec.md §4.H "SafetyGate").
func (o *Orchestrator) safetyGate(state *State) string {
	if len(state.Messages) == 0 {
		return nodeEnd
	}
	last := state.Messages[len(state.Messages)-1]
	if !last.HasToolCalls() {
		return nodeEnd
	}
	for _, tc := range last.ToolCalls {
		cmd := commandArg(tc)
		tier, _ := o.Classifier.Classify(cmd)
		if tier != classifier.TierAuto {
			return nodeExecutor
		}
	}
	return nodeAutoExecutor
}

// auditGate reads the Audit node's next_step decision (spec.md §4.H
// "AuditGate").
func auditGate(state *State) string {
	switch state.NextStep {
	case StepCircuitBreak:
		return nodeEnd
	case StepReprobe:
		return nodeProber
	default:
		return nodePlanner
	}
}

// routerGate honors an explicit short-circuit from the Router node, or
// falls through to the safety gate if the router already attached tool
// calls via the speculative fast path (spec.md §4.H "RouterGate").
func (o *Orchestrator) routerGate(state *State) string {
	switch state.NextStep {
	case StepChat:
		return nodeChat
	case StepPlanner:
		return nodePlanner
	}
	if len(state.Messages) > 0 {
		last := state.Messages[len(state.Messages)-1]
		if last.Role == message.RoleAI && last.HasToolCalls() {
			return o.safetyGate(state)
		}
	}
	return nodePlanner
}
