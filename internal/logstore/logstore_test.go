package logstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogAIActionWritesHeaderAndRedacts(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	err := s.LogAIAction(AIAction{
		Observation: "checked containers",
		Thought:     "need to list them",
		Action:      "docker ps",
		Output:      `api_key: "sk-supersecretvalue123"`,
		Inference:   "containers listed",
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "log.md"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "## [") || !strings.Contains(content, "AI: docker ps") {
		t.Fatalf("expected AI header in log, got %q", content)
	}
	if strings.Contains(content, "sk-supersecretvalue123") {
		t.Fatalf("expected secret redacted, got %q", content)
	}
	if !strings.Contains(content, "[REDACTED]") {
		t.Fatalf("expected redaction marker present, got %q", content)
	}
}

func TestLogHumanActionAppends(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := s.LogHumanAction("ls -la", "file1\nfile2"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "log.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Human: ls -la") {
		t.Fatalf("expected human header, got %q", string(data))
	}
}

func TestLogCommitAndRecentCommits(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	for i := 0; i < 5; i++ {
		if err := s.LogCommit("summary", "finding"); err != nil {
			t.Fatal(err)
		}
	}
	recap := s.RecentCommits(3)
	if recap == "Fresh session." || recap == "No previous milestones found." {
		t.Fatalf("expected a populated recap, got %q", recap)
	}
}

func TestRecentCommitsNoFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if got := s.RecentCommits(3); got != "No previous milestones found." {
		t.Fatalf("expected no-file message, got %q", got)
	}
}

func TestAppendIsMonotonicUnderConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	done := make(chan error, 2)
	go func() { done <- s.LogHumanAction("cmd-a", "out-a") }()
	go func() { done <- s.LogHumanAction("cmd-b", "out-b") }()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "log.md"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "cmd-a") || !strings.Contains(content, "cmd-b") {
		t.Fatalf("expected both entries present without interleaving corruption, got %q", content)
	}
}
