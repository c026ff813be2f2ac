// Command gcc is the terminal entrypoint for the DevOps assistant: it wires
// configuration, session storage, the safety classifier, and the LLM
// collaborators into an orchestrator.Orchestrator and drives a REPL loop,
// including the approval-prompt protocol for non-auto-tier tool calls.
//
// Subcommand dispatch is grounded on tools/si/main.go's flat
// os.Args[1]-indexed style (no cobra/urfave appears anywhere in the
// teacher's CLI entrypoints); TTY/width-aware rendering of the session list
// and approval prompt is grounded on tools/si/util.go's use of
// golang.org/x/term and github.com/mattn/go-runewidth.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"silexa/gcc/internal/classifier"
	"silexa/gcc/internal/config"
	"silexa/gcc/internal/llm"
	"silexa/gcc/internal/logging"
	"silexa/gcc/internal/orchestrator"
	"silexa/gcc/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	if err := dispatch(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "gcc:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  gcc new "<goal>" [--debug]
  gcc continue-session [<session_id>] [--debug]
  gcc list-sessions
  gcc reset --nuclear`)
}

func dispatch(cmd string, args []string) error {
	switch cmd {
	case "new":
		return cmdNew(args)
	case "continue-session":
		return cmdContinue(args)
	case "list-sessions":
		return cmdListSessions(args)
	case "reset":
		return cmdReset(args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func positional(args []string) []string {
	var out []string
	for _, a := range args {
		if !strings.HasPrefix(a, "--") {
			out = append(out, a)
		}
	}
	return out
}

func cmdNew(args []string) error {
	pos := positional(args)
	if len(pos) < 1 {
		return fmt.Errorf("new requires a goal, e.g. gcc new \"fix the deploy pipeline\"")
	}
	goal := pos[0]
	debug := hasFlag(args, "--debug")

	cfg, mgr, idx, cls, err := bootstrap()
	if err != nil {
		return err
	}
	defer idx.Close()

	s, err := mgr.CreateSession(goal)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	if err := idx.InsertSession(context.Background(), s.ID, goal, goal, s.Path, "", "root", ""); err != nil {
		logging.Default.Warnf("session index insert failed: %v", err)
	}

	orch, err := buildOrchestrator(cfg, s, mgr, idx, cls, debug)
	if err != nil {
		return err
	}
	return repl(orch)
}

func cmdContinue(args []string) error {
	pos := positional(args)
	debug := hasFlag(args, "--debug")

	cfg, mgr, idx, cls, err := bootstrap()
	if err != nil {
		return err
	}
	defer idx.Close()

	id := ""
	if len(pos) > 0 {
		id = pos[0]
	} else {
		id, err = activeSessionID(mgr.MainMDPath)
		if err != nil {
			return err
		}
	}
	if id == "" {
		return fmt.Errorf("no active session found; start one with 'gcc new \"<goal>\"'")
	}

	s, err := loadSession(mgr, id)
	if err != nil {
		return err
	}

	orch, err := buildOrchestrator(cfg, s, mgr, idx, cls, debug)
	if err != nil {
		return err
	}
	return repl(orch)
}

var activeSessionPattern = regexp.MustCompile(`(?m)^→ (\S+)`)

func activeSessionID(mainMDPath string) (string, error) {
	data, err := os.ReadFile(mainMDPath)
	if err != nil {
		return "", err
	}
	match := activeSessionPattern.FindSubmatch(data)
	if match == nil || string(match[1]) == "None" {
		return "", nil
	}
	return string(match[1]), nil
}

func loadSession(mgr *session.Manager, id string) (*session.Session, error) {
	path := filepath.Join(mgr.SessionsPath, id)
	metaPath := filepath.Join(path, "metadata.yaml")
	metas, err := mgr.ListSessions()
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		if m.SessionID == id {
			if _, statErr := os.Stat(metaPath); statErr != nil {
				return nil, fmt.Errorf("session %q metadata missing: %w", id, statErr)
			}
			return &session.Session{ID: id, Goal: m.Goal, CreatedAt: m.CreatedAt, Path: path}, nil
		}
	}
	return nil, fmt.Errorf("session %q not found", id)
}

func cmdListSessions(args []string) error {
	_, mgr, idx, _, err := bootstrap()
	if err != nil {
		return err
	}
	defer idx.Close()

	sessions, err := mgr.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	width := terminalWidth()
	goalWidth := width - 40
	if goalWidth < 20 {
		goalWidth = 20
	}
	for _, m := range sessions {
		goal := runewidth.Truncate(m.Goal, goalWidth, "...")
		fmt.Printf("%-28s %-12s %s\n", m.SessionID, m.Status, goal)
	}
	return nil
}

func cmdReset(args []string) error {
	if !hasFlag(args, "--nuclear") {
		return fmt.Errorf("reset requires --nuclear to confirm wiping the Session Index")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	idx, err := session.OpenIndex(filepath.Join(cfg.GCCBasePath, "index.db"))
	if err != nil {
		return err
	}
	defer idx.Close()
	return idx.ResetAll(context.Background())
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 100
}

func bootstrap() (config.Config, *session.Manager, *session.Index, *classifier.Classifier, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}
	logging.Default = logging.New(logging.ParseLevel(cfg.LogLevel))

	mgr, err := session.NewManager(cfg.GCCBasePath)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}
	idx, err := session.OpenIndex(filepath.Join(cfg.GCCBasePath, "index.db"))
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}
	cls, err := classifier.Load(cfg.SkillsPath)
	if err != nil {
		idx.Close()
		return config.Config{}, nil, nil, nil, err
	}
	return cfg, mgr, idx, cls, nil
}

func buildOrchestrator(cfg config.Config, s *session.Session, mgr *session.Manager, idx *session.Index, cls *classifier.Classifier, debug bool) (*orchestrator.Orchestrator, error) {
	plannerLLM := llm.New(llm.Config{
		Host:          cfg.Ollama.Host,
		Model:         cfg.Ollama.Model,
		Temperature:   cfg.Ollama.Temperature,
		ContextWindow: cfg.Ollama.ContextWindow,
		Timeout:       cfg.Ollama.Timeout,
	})

	var fastLLM llm.Collaborator
	if cfg.Ollama.FastPathEnabled {
		fast := llm.New(llm.Config{
			Host:          cfg.Ollama.FastPathHost,
			Model:         cfg.Ollama.FastPathModel,
			Temperature:   0.0,
			ContextWindow: cfg.Ollama.ContextWindow,
			Timeout:       cfg.Ollama.Timeout,
		})
		if err := fast.CheckHealth(context.Background()); err != nil {
			logging.Default.Warnf("FastPath: reflex model unavailable, fast path disabled: %v", err)
		} else {
			fastLLM = fast
		}
	} else {
		logging.Default.Infof("FastPath: disabled per configuration")
	}

	if err := plannerLLM.CheckHealth(context.Background()); err != nil {
		logging.Default.Warnf("startup health check failed: %v", err)
	}

	orch := orchestrator.New(cfg, s, mgr, idx, cls, fastLLM, plannerLLM)
	orch.DebugMode = debug
	return orch, nil
}

// repl reads one utterance per line from stdin, runs a turn, renders the
// result, and — when a turn pauses for approval — reads a single
// y/n/feedback line before resuming (spec.md §4.H approval protocol).
// A leading "!" runs the command directly with no approval prompt (the
// Executor still refuses destructive-tier commands) (SPEC_FULL.md §12's
// `!cmd` human direct-execution path); "/mode" cycles
// AUTO->EXEC->CHAT->AUTO, the line-oriented stand-in for core.py's
// raw-terminal Tab-cycle (DESIGN.md records why Tab itself isn't captured).
func repl(orch *orchestrator.Orchestrator) error {
	reader := bufio.NewReader(os.Stdin)
	mode := orchestrator.ModeAuto

	fmt.Printf("gcc: session %s ready [mode=%s]. Type your request (Ctrl-D to exit).\n", orch.Session.ID, mode)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" && err != nil {
			break
		}
		if line == "" {
			continue
		}

		if line == "/mode" {
			mode = nextMode(mode)
			fmt.Printf("mode -> %s\n", mode)
			continue
		}

		if strings.HasPrefix(line, "!") {
			cmd := strings.TrimSpace(strings.TrimPrefix(line, "!"))
			output, runErr := orch.RunDirect(context.Background(), cmd)
			if runErr != nil {
				fmt.Fprintln(os.Stderr, "gcc: direct execution failed:", runErr)
			}
			fmt.Println(output)
			continue
		}

		result, runErr := orch.RunTurn(context.Background(), line, mode)
		if runErr != nil {
			fmt.Fprintln(os.Stderr, "gcc: turn failed:", runErr)
			continue
		}

		for result.Awaiting {
			fmt.Println("\n⚠️  SAFETY APPROVAL REQUIRED")
			for _, tc := range result.PendingCalls {
				fmt.Printf("   tool: %s args: %v\n", tc.Name, tc.Args)
			}
			fmt.Print("Approve? (y/n/or type feedback): ")
			resp, _ := reader.ReadString('\n')
			approved, feedback := parseApproval(resp)
			result, runErr = orch.ResumeApproval(context.Background(), approved, feedback)
			if runErr != nil {
				fmt.Fprintln(os.Stderr, "gcc: resume failed:", runErr)
				break
			}
		}

		if result != nil && result.FinalText != "" {
			fmt.Println(result.FinalText)
		}
		if err != nil {
			break
		}
	}
	return nil
}

func nextMode(m orchestrator.UserMode) orchestrator.UserMode {
	switch m {
	case orchestrator.ModeAuto:
		return orchestrator.ModeExec
	case orchestrator.ModeExec:
		return orchestrator.ModeChat
	default:
		return orchestrator.ModeAuto
	}
}

var approveTokens = []string{"y", "yes", "sure", "go", "approve", "ok"}
var denyTokens = []string{"n", "no", "stop", "don't", "cancel", "deny"}

func parseApproval(resp string) (bool, string) {
	lower := strings.ToLower(strings.TrimSpace(resp))
	isApproval := containsAny(lower, approveTokens)
	isDenial := containsAny(lower, denyTokens)
	if isApproval && !isDenial {
		return true, ""
	}
	return false, strings.TrimSpace(resp)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
