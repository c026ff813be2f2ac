package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
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

// Orchestrator wires every collaborator package together and drives the
// turn state machine (spec.md §4.H). One instance is bound to a single
// active session ("thread") at a time; _detect_and_handle_pivot may swap
// that session mid-construction of a turn (SPEC_FULL.md §12, grounded on
// graph_core.py's LangGraphAgent.__init__ plus _detect_and_handle_pivot).
type Orchestrator struct {
	Config         config.Config
	Session        *session.Session
	SessionManager *session.Manager
	Index          *session.Index
	LogStore       *logstore.Store
	Checkpointer   *checkpoint.Checkpointer
	Classifier     *classifier.Classifier
	Executor       *executor.Executor
	Prober         *prober.Prober
	Cache          *semcache.Cache
	LLM            llm.Collaborator
	FastLLM        llm.Collaborator
	Logger         *logging.Logger
	DebugMode      bool

	skillsDocumentation string
	contextRecap        string
	cachedEnvInfo       *prober.Info
}

// New builds an Orchestrator bound to session s. fastLLM may be nil when
// the reflex fast-path model is disabled (spec.md §10/§12).
func New(cfg config.Config, s *session.Session, mgr *session.Manager, idx *session.Index, cls *classifier.Classifier, fastLLM, plannerLLM llm.Collaborator) *Orchestrator {
	prb := prober.New(cfg.ProbeTimeout)
	if dp, err := prober.NewDockerProbe(); err == nil && dp != nil {
		prb.DockerProbe = dp
	}
	if kp, err := prober.NewKubeProbe(); err == nil && kp != nil {
		prb.KubeProbe = kp
	}

	o := &Orchestrator{
		Config:         cfg,
		Session:        s,
		SessionManager: mgr,
		Index:          idx,
		LogStore:       logstore.New(s.Path),
		Classifier:     cls,
		Executor:       executor.New(cls),
		Prober:         prb,
		Cache:          semcache.New(semcache.NewMemoryStore(), plannerLLM.Embed),
		LLM:            plannerLLM,
		FastLLM:        fastLLM,
		Logger:         logging.Default,
	}
	cp, err := checkpoint.New(s.Path)
	if err == nil {
		o.Checkpointer = cp
	}
	o.skillsDocumentation = loadSkillsDocumentation(cfg.SkillsPath, o.Logger)
	o.contextRecap = o.LogStore.RecentCommits(3)
	return o
}

func loadSkillsDocumentation(skillsPath string, logger *logging.Logger) string {
	entries, err := readSkillDirs(skillsPath)
	if err != nil {
		logger.Warnf("skills path %q not found", skillsPath)
		return "No skills documentation found."
	}
	if len(entries) == 0 {
		return "No skills documentation found."
	}
	return strings.Join(entries, "\n\n")
}

func readSkillDirs(skillsPath string) ([]string, error) {
	var docs []string
	dirs, err := readDirNames(skillsPath)
	if err != nil {
		return nil, err
	}
	for _, name := range dirs {
		content, err := readFileIfExists(filepath.Join(skillsPath, name, "SKILL.md"))
		if err != nil || content == "" {
			continue
		}
		docs = append(docs, fmt.Sprintf("### SKILL: %s\n%s", strings.ToUpper(name), content))
	}
	return docs, nil
}

func readDirNames(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func readFileIfExists(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (o *Orchestrator) threadConfig() checkpoint.Config {
	return checkpoint.Config{ThreadID: o.Session.ID}
}

func (o *Orchestrator) loadState(ctx context.Context) (*State, error) {
	if o.Checkpointer != nil {
		tuple, err := o.Checkpointer.GetTuple(o.threadConfig())
		if err == nil {
			var state State
			if err := json.Unmarshal(tuple.Checkpoint, &state); err == nil {
				return &state, nil
			}
		}
	}
	return &State{
		SessionID: o.Session.ID,
		Goal:      o.Session.Goal,
		UserMode:  ModeAuto,
	}, nil
}

func (o *Orchestrator) persistState(state *State) error {
	if o.Checkpointer == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = o.Checkpointer.Put(o.threadConfig(), data, json.RawMessage(`{}`))
	return err
}

// RunTurn executes one utterance to completion (END or circuit-break) or
// suspends before the Executor node awaiting human approval (spec.md §4.H,
// §5 "Ordering guarantees": one utterance is processed fully before the
// next is accepted).
func (o *Orchestrator) RunTurn(ctx context.Context, userInput string, mode UserMode) (result *TurnResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			o.emergencyPanic()
			err = fmt.Errorf("orchestrator: panic during turn: %v", r)
		}
	}()

	o.detectAndHandlePivot(ctx, userInput)
	o.contextRecap = o.LogStore.RecentCommits(3)

	state, loadErr := o.loadState(ctx)
	if loadErr != nil {
		return nil, loadErr
	}
	state.Messages = append(state.Messages, message.NewHuman(userInput))
	state.UserMode = mode
	state.DenialReason = ""

	return o.runLoop(ctx, state, nodeProber)
}

// ResumeApproval continues a suspended turn: approved executes the pending
// tool calls; denied routes through the Negotiator back to the Planner
// (spec.md §4.H approval interrupt protocol).
func (o *Orchestrator) ResumeApproval(ctx context.Context, approved bool, feedback string) (result *TurnResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			o.emergencyPanic()
			err = fmt.Errorf("orchestrator: panic during resume: %v", r)
		}
	}()

	state, loadErr := o.loadState(ctx)
	if loadErr != nil {
		return nil, loadErr
	}

	if approved {
		return o.runLoop(ctx, state, nodeAutoExecutor)
	}

	reason := feedback
	if strings.TrimSpace(reason) == "" {
		reason = "User denied execution."
	}
	state.DenialReason = reason
	return o.runLoop(ctx, state, nodeNegotiator)
}

// runLoop drives the state machine starting at startNode until it reaches
// END/circuit-break (Ended=true) or must pause before Executor (Awaiting=
// true), per the node graph in graph_core.py's _build_graph.
func (o *Orchestrator) runLoop(ctx context.Context, state *State, startNode string) (*TurnResult, error) {
	node := startNode
	for {
		switch node {
		case nodeProber:
			o.proberNode(ctx, state)
			node = nodeIngestion

		case nodeIngestion:
			o.ingestionNode(ctx, state)
			node = nodeRouter

		case nodeRouter:
			o.routerNode(ctx, state)
			switch o.routerGate(state) {
			case nodeChat:
				node = nodeChat
			case nodePlanner:
				node = nodePlanner
			case nodeExecutor:
				if err := o.pauseForApproval(state); err != nil {
					return nil, err
				}
				return &TurnResult{Awaiting: true, PendingCalls: state.PendingToolCalls}, nil
			case nodeAutoExecutor:
				node = nodeAutoExecutor
			default:
				node = nodeEnd
			}

		case nodePlanner:
			o.plannerNode(ctx, state)
			switch o.safetyGate(state) {
			case nodeExecutor:
				if err := o.pauseForApproval(state); err != nil {
					return nil, err
				}
				return &TurnResult{Awaiting: true, PendingCalls: state.PendingToolCalls}, nil
			case nodeAutoExecutor:
				node = nodeAutoExecutor
			default:
				node = nodeEnd
			}

		case nodeAutoExecutor:
			o.executeToolCalls(ctx, state)
			node = nodeSanitizer

		case nodeSanitizer:
			o.sanitizerNode(ctx, state)
			node = nodeAnalyzer

		case nodeAnalyzer:
			o.analyzerNode(ctx, state)
			node = nodeAudit

		case nodeAudit:
			o.auditNode(ctx, state)
			node = auditGate(state)

		case nodeNegotiator:
			o.negotiatorNode(state)
			node = nodePlanner

		case nodeChat:
			o.chatNode(ctx, state)
			node = nodeEnd

		case nodeEnd:
			if err := o.persistState(state); err != nil {
				return nil, err
			}
			finalText := lastAIText(state.Messages)
			if finalText == "" && state.DenialReason != "" {
				finalText = state.DenialReason
			}
			return &TurnResult{Ended: true, FinalText: finalText}, nil

		default:
			return nil, fmt.Errorf("orchestrator: unknown node %q", node)
		}
	}
}

func (o *Orchestrator) pauseForApproval(state *State) error {
	last := state.Messages[len(state.Messages)-1]
	state.PendingToolCalls = last.ToolCalls
	return o.persistState(state)
}

// RunDirect executes cmd immediately, with no router, planner or approval
// gate; the Executor's own check still refuses destructive-tier commands
// (the `!cmd` human direct-execution path, SPEC_FULL.md §12,
// grounded on core.py's AgentCore `!` prefix handling). It never touches
// the node graph or LoopCount: the command is logged as a human action and
// picked up by the next RunTurn's ingestionNode as ordinary [HISTORY], the
// same path a command run outside the agent entirely would take.
func (o *Orchestrator) RunDirect(ctx context.Context, cmd string) (string, error) {
	cwd := ""
	if o.cachedEnvInfo != nil {
		cwd = o.cachedEnvInfo.Cwd
	}
	output, err := o.Executor.Run(ctx, cmd, cwd, o.Config.CommandTimeout)
	if logErr := o.LogStore.LogHumanAction(cmd, output); logErr != nil {
		o.Logger.Warnf("failed to log direct-execution action: %v", logErr)
	}
	return output, err
}

func lastAIText(msgs []message.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleAI {
			return msgs[i].Content
		}
	}
	return ""
}

// emergencyPanic preserves minimal session identity atomically before a
// panic unwinds the turn (spec.md §4.H "Panic path").
func (o *Orchestrator) emergencyPanic() {
	o.Logger.Errorf("PANIC: emergency state preservation triggered")
	summary := map[string]any{
		"session_id": o.Session.ID,
		"goal":       o.Session.Goal,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(o.Session.Path, "panic_state.json")
	if err := logstore.AtomicReplace(path, data); err != nil {
		o.Logger.Errorf("panic: failed to save emergency state: %v", err)
	}
}
