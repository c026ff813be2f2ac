package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"silexa/gcc/internal/checkpoint"
	"silexa/gcc/internal/classifier"
	"silexa/gcc/internal/config"
	"silexa/gcc/internal/executor"
	"silexa/gcc/internal/llm"
	"silexa/gcc/internal/logging"
	"silexa/gcc/internal/logstore"
	"silexa/gcc/internal/message"
	"silexa/gcc/internal/prober"
	"silexa/gcc/internal/semcache"
	"silexa/gcc/internal/session"
)

// fakeTurn is one queued Generate() response for fakeCollaborator.
type fakeTurn struct {
	text  string
	calls []message.ToolCall
}

// fakeCollaborator is a deterministic stand-in for llm.Collaborator driven
// by a fixed queue of responses, so orchestrator tests never depend on a
// live Ollama server.
type fakeCollaborator struct {
	mu        sync.Mutex
	responses []fakeTurn
	pos       int
}

func (f *fakeCollaborator) Generate(ctx context.Context, msgs []message.Message, tools []llm.ToolSpec, stream bool) (<-chan llm.Delta, error) {
	f.mu.Lock()
	var turn fakeTurn
	if f.pos < len(f.responses) {
		turn = f.responses[f.pos]
		f.pos++
	}
	f.mu.Unlock()

	ch := make(chan llm.Delta, len(turn.calls)+1)
	if turn.text != "" {
		ch <- llm.Delta{TextDelta: turn.text}
	}
	for _, c := range turn.calls {
		call := c
		ch <- llm.Delta{ToolCall: &call}
	}
	close(ch)
	return ch, nil
}

func (f *fakeCollaborator) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeCollaborator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func writeTestSkill(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	skillDir := filepath.Join(dir, "testskill")
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "name: test\nauto:\n  - \"echo safe*\"\napproval:\n  - \"echo risky*\"\ndestructive:\n  - \"echo nuke*\"\n"
	if err := os.WriteFile(filepath.Join(skillDir, "skill.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// newTestOrchestrator wires an Orchestrator by hand (not via New) so the
// test can inject a fakeCollaborator in place of the LLM.
func newTestOrchestrator(t *testing.T, llmCollab llm.Collaborator) (*Orchestrator, *session.Manager) {
	t.Helper()
	base := t.TempDir()

	mgr, err := session.NewManager(base)
	if err != nil {
		t.Fatal(err)
	}
	s, err := mgr.CreateSession("test goal")
	if err != nil {
		t.Fatal(err)
	}
	idx, err := session.OpenIndex(filepath.Join(base, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	cls, err := classifier.Load(writeTestSkill(t))
	if err != nil {
		t.Fatal(err)
	}

	cp, err := checkpoint.New(s.Path)
	if err != nil {
		t.Fatal(err)
	}

	o := &Orchestrator{
		Config:         config.Config{CommandTimeout: 5 * time.Second},
		Session:        s,
		SessionManager: mgr,
		Index:          idx,
		LogStore:       logstore.New(s.Path),
		Checkpointer:   cp,
		Classifier:     cls,
		Executor:       executor.New(cls),
		Prober:         prober.New(200 * time.Millisecond),
		Cache:          semcache.New(semcache.NewMemoryStore(), llmCollab.Embed),
		LLM:            llmCollab,
		Logger:         logging.Default,
	}
	return o, mgr
}

func TestRunTurnAutoTierReachesEnd(t *testing.T) {
	fake := &fakeCollaborator{responses: []fakeTurn{
		{calls: []message.ToolCall{{ID: "1", Name: "run_command", Args: map[string]any{"cmd": "echo safe-output"}}}},
		{text: "All done."},
	}}
	o, _ := newTestOrchestrator(t, fake)

	result, err := o.RunTurn(context.Background(), "please say hello", ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ended {
		t.Fatalf("expected turn to end, got %+v", result)
	}
	if result.FinalText != "All done." {
		t.Fatalf("expected final text %q, got %q", "All done.", result.FinalText)
	}
	if fake.callCount() != 2 {
		t.Fatalf("expected 2 planner invocations, got %d", fake.callCount())
	}
}

func TestRunTurnApprovalTierPausesThenResumes(t *testing.T) {
	fake := &fakeCollaborator{responses: []fakeTurn{
		{calls: []message.ToolCall{{ID: "1", Name: "run_command", Args: map[string]any{"cmd": "echo risky-thing"}}}},
		{text: "Resumed and done."},
	}}
	o, _ := newTestOrchestrator(t, fake)

	result, err := o.RunTurn(context.Background(), "do the risky thing", ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Awaiting {
		t.Fatalf("expected turn to pause awaiting approval, got %+v", result)
	}
	if len(result.PendingCalls) != 1 || result.PendingCalls[0].Name != "run_command" {
		t.Fatalf("expected one pending run_command call, got %+v", result.PendingCalls)
	}

	result, err = o.ResumeApproval(context.Background(), true, "")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ended {
		t.Fatalf("expected resumed turn to end, got %+v", result)
	}
	if result.FinalText != "Resumed and done." {
		t.Fatalf("expected final text %q, got %q", "Resumed and done.", result.FinalText)
	}
}

func TestRunTurnDenialRoutesThroughNegotiator(t *testing.T) {
	fake := &fakeCollaborator{responses: []fakeTurn{
		{calls: []message.ToolCall{{ID: "1", Name: "run_command", Args: map[string]any{"cmd": "echo risky-thing"}}}},
		{text: "Here is an alternative instead."},
	}}
	o, _ := newTestOrchestrator(t, fake)

	result, err := o.RunTurn(context.Background(), "do the risky thing", ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Awaiting {
		t.Fatalf("expected turn to pause awaiting approval, got %+v", result)
	}

	result, err = o.ResumeApproval(context.Background(), false, "try a safer approach instead")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ended {
		t.Fatalf("expected denial turn to end via negotiator->planner, got %+v", result)
	}
	if result.FinalText != "Here is an alternative instead." {
		t.Fatalf("unexpected final text %q", result.FinalText)
	}
}

func TestAuditNodeTripsCircuitBreakerAtLoopLimit(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeCollaborator{})
	state := &State{
		Messages:  []message.Message{message.NewAI("stuck in a loop")},
		SessionID: o.Session.ID,
		LoopCount: circuitBreakLoopLimit - 1,
	}

	result, err := o.runLoop(context.Background(), state, nodeAudit)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ended {
		t.Fatalf("expected circuit breaker to end the turn, got %+v", result)
	}
	if result.FinalText != "stuck in a loop" {
		t.Fatalf("unexpected final text %q", result.FinalText)
	}
}

func TestAuditNodeBreaksActionLoopNamingRepeatedCommand(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeCollaborator{})
	repeat := message.ToolCall{ID: "1", Name: "run_command", Args: map[string]any{"cmd": "docker ps"}}
	state := &State{
		Messages: []message.Message{
			message.NewAI("", repeat),
			message.NewTool("1", "CONTAINER ID   IMAGE", message.ToolStatusSuccess),
			message.NewAI("", repeat),
		},
		SessionID: o.Session.ID,
		EnvHash:   "unchanged",
	}

	result, err := o.runLoop(context.Background(), state, nodeAudit)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ended {
		t.Fatalf("expected action loop to circuit-break and end the turn, got %+v", result)
	}
	if !strings.Contains(result.FinalText, "docker ps") {
		t.Fatalf("expected final denial reason to name the repeated command, got %q", result.FinalText)
	}
}

func TestPlannerNodeUsesSemanticCacheHit(t *testing.T) {
	fake := &fakeCollaborator{}
	o, _ := newTestOrchestrator(t, fake)

	if err := o.Cache.Set(context.Background(), "what is the weather", "cached answer"); err != nil {
		t.Fatal(err)
	}

	result, err := o.RunTurn(context.Background(), "what is the weather", ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ended {
		t.Fatalf("expected turn to end, got %+v", result)
	}
	if result.FinalText != "cached answer" {
		t.Fatalf("expected cached response, got %q", result.FinalText)
	}
	if fake.callCount() != 0 {
		t.Fatalf("expected the cache hit to avoid invoking the planner LLM, got %d calls", fake.callCount())
	}
}

func TestNegotiatorNodeAppendsSuggestionOnlyWhenAlternativeMentioned(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeCollaborator{})

	withSuggestion := &State{DenialReason: "try a different command instead"}
	o.negotiatorNode(withSuggestion)
	if !strings.Contains(withSuggestion.DenialReason, "USER SUGGESTION") {
		t.Fatalf("expected suggestion tail to be appended, got %q", withSuggestion.DenialReason)
	}

	plain := &State{DenialReason: "not allowed in this environment"}
	o.negotiatorNode(plain)
	if strings.Contains(plain.DenialReason, "USER SUGGESTION") {
		t.Fatalf("did not expect suggestion tail, got %q", plain.DenialReason)
	}
}
