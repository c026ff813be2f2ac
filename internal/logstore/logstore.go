// Package logstore implements the Log Store (spec.md §4.C): an append-only,
// lock-serialized, atomic-write session log and commit journal with
// redaction. Entry shapes (OTAEntry/HumanEntry, commit blocks) are grounded
// verbatim on original_source/src/gcc/log.py. Atomic-replace semantics are
// grounded on original_source/src/gcc/storage.py's GCCStorage.atomic_write
// and agents/manager/internal/state/store.go's persistLocked (temp+rename).
// Append locking is grounded on storage.py's fcntl/msvcrt lock, reimplemented
// with github.com/gofrs/flock (contributed by buildkite-agent's
// internal/shell flock() helper, since the teacher itself never locks files).
package logstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"silexa/gcc/internal/sanitize"
)

const (
	maxOutputChars = 5000
	lockTimeout    = 10 * time.Second
	lockRetry      = 50 * time.Millisecond
)

// LockTimeoutError is returned when an append could not acquire the
// advisory lock within lockTimeout (spec.md §4.C failure mode).
type LockTimeoutError struct {
	Path string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("logstore: timed out acquiring lock for %s", e.Path)
}

// Store writes and reads a single session's log.md and commit.md.
type Store struct {
	LogPath    string
	CommitPath string
}

func New(sessionPath string) *Store {
	return &Store{
		LogPath:    filepath.Join(sessionPath, "log.md"),
		CommitPath: filepath.Join(sessionPath, "commit.md"),
	}
}

// AIAction is one OTA entry (spec.md GLOSSARY "OTA entry").
type AIAction struct {
	Observation string
	Thought     string
	Action      string
	Output      string
	Inference   string
}

func truncate(s string) string {
	if len(s) > maxOutputChars {
		return s[:maxOutputChars] + "\n... (truncated for log brevity)"
	}
	return s
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// LogAIAction redacts and truncates the entry, renders it as an OTA
// markdown block, and appends it under the advisory lock.
func (s *Store) LogAIAction(a AIAction) error {
	ts := time.Now().Format("15:04")
	observation := sanitize.RedactText(a.Observation)
	thought := sanitize.RedactText(a.Thought)
	action := sanitize.RedactText(a.Action)
	output := truncate(sanitize.RedactText(a.Output))
	inference := sanitize.RedactText(a.Inference)

	outBody := output
	if outBody == "" {
		outBody = "(No output)"
	}

	block := fmt.Sprintf(`
## [%s] AI: %s
**OBSERVATION:** %s

**THOUGHT:** %s

**OUTPUT:**
`+"```bash\n%s\n```"+`

**INFERENCE:** %s

---
`, ts, action, orNA(observation), orNA(thought), outBody, orNA(inference))

	return s.append(s.LogPath, block)
}

// LogHumanAction appends a Human-executed command entry.
func (s *Store) LogHumanAction(command, output string) error {
	ts := time.Now().Format("15:04")
	command = sanitize.RedactText(command)
	output = truncate(sanitize.RedactText(output))
	outBody := output
	if outBody == "" {
		outBody = "(No output)"
	}

	block := fmt.Sprintf(`
## [%s] Human: %s
**OUTPUT:**
`+"```bash\n%s\n```"+`

---
`, ts, command, outBody)

	return s.append(s.LogPath, block)
}

// LogCommit appends a commit journal entry.
func (s *Store) LogCommit(summary, finding string) error {
	ts := time.Now().Format("2006-01-02 15:04")
	summary = sanitize.RedactText(summary)
	finding = sanitize.RedactText(finding)
	block := fmt.Sprintf("### [%s] COMMIT\n**Summary:** %s\n**Finding:** %s\n\n---\n", ts, summary, finding)
	return s.append(s.CommitPath, block)
}

// RecentCommits returns the last n lines of commit.md whose trimmed text
// starts with "-" or "##" (in the blocks LogCommit writes, the "### ...
// COMMIT" headers and the "---" separators), joined with " | ", used by
// the Planner's milestone recap (SPEC_FULL.md §12,
// grounded on graph_core.py's _get_last_milestones).
func (s *Store) RecentCommits(n int) string {
	data, err := os.ReadFile(s.CommitPath)
	if err != nil {
		return "No previous milestones found."
	}
	var relevant []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "##") {
			relevant = append(relevant, trimmed)
		}
	}
	if len(relevant) == 0 {
		return "Fresh session."
	}
	if len(relevant) > n {
		relevant = relevant[len(relevant)-n:]
	}
	return strings.Join(relevant, " | ")
}

// append takes the advisory exclusive lock, writes content in full, and
// releases it (spec.md §4.C write contract: appends are lock-serialized
// because they are monotonic, not required to be temp+rename atomic).
func (s *Store) append(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockPath := path + ".lock"
	lock := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil || !locked {
		return &LockTimeoutError{Path: path}
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return err
	}
	return nil
}

// AtomicReplace writes content to path via temp-file + rename, the
// crash-atomic contract spec.md §4.C requires for replacements (as opposed
// to the monotonic append path above).
func AtomicReplace(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
