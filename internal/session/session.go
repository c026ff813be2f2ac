// Package session implements the Session, SessionManager, and the
// filesystem half of the Session Index (spec.md §4.I). Session/
// SessionManager are grounded verbatim on
// original_source/src/gcc/session.py (id scheme, metadata.yaml,
// main.md active-session pointer). Branch/merge filesystem semantics are
// grounded on spec.md §4.I combined with
// original_source/src/agent/graph_core.py's branch_session/
// merge_current_session tool bodies.
package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"silexa/gcc/internal/logstore"
)

// Metadata is the persisted header stored at <session>/metadata.yaml:
// "session header, environment snapshot, fingerprint" (spec.md §6).
type Metadata struct {
	SessionID   string         `yaml:"session_id"`
	Goal        string         `yaml:"goal"`
	CreatedAt   string         `yaml:"created_at"`
	Status      string         `yaml:"status"`
	ParentID    string         `yaml:"parent_id,omitempty"`
	SessionType string         `yaml:"session_type,omitempty"`
	Environment map[string]any `yaml:"environment,omitempty"`
	Fingerprint string         `yaml:"fingerprint,omitempty"`
}

// Session is a single goal-tracking workspace rooted at
// <base>/sessions/<id>.
type Session struct {
	ID        string
	Goal      string
	CreatedAt string
	Path      string
}

func (s *Session) metadata() Metadata {
	return Metadata{
		SessionID: s.ID,
		Goal:      s.Goal,
		CreatedAt: s.CreatedAt,
		Status:    "active",
	}
}

// UpdateMetadata merges patch fields into metadata.yaml, preserving
// whatever was already recorded (session.py's update_metadata).
func (s *Session) UpdateMetadata(patch map[string]any) error {
	path := filepath.Join(s.Path, "metadata.yaml")
	data := map[string]any{}
	if existing, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(existing, &data)
	} else {
		m := s.metadata()
		b, _ := yaml.Marshal(m)
		_ = yaml.Unmarshal(b, &data)
	}
	for k, v := range patch {
		data[k] = v
	}
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return logstore.AtomicReplace(path, out)
}

var sessionIDPattern = regexp.MustCompile(`^session_(\d+)_`)

// Manager owns the on-disk session tree and the active-session pointer
// (main.md).
type Manager struct {
	BasePath     string
	SessionsPath string
	ArchivedPath string
	MainMDPath   string
}

func NewManager(basePath string) (*Manager, error) {
	m := &Manager{
		BasePath:     basePath,
		SessionsPath: filepath.Join(basePath, "sessions"),
		ArchivedPath: filepath.Join(basePath, "archived"),
		MainMDPath:   filepath.Join(basePath, "main.md"),
	}
	if err := m.ensureDirs(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) ensureDirs() error {
	if err := os.MkdirAll(m.SessionsPath, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(m.ArchivedPath, 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(m.MainMDPath); os.IsNotExist(err) {
		return m.initMainMD()
	}
	return nil
}

func (m *Manager) initMainMD() error {
	content := "# DevOps Agent — Project Memory\n\n## Active Session\n→ None\n\n## Session History\n\n| Session | Date | Goal | Status | Commits | Key Finding |\n|---------|------|------|--------|---------|-------------|\n"
	return logstore.AtomicReplace(m.MainMDPath, []byte(content))
}

func slugify(goal string) string {
	s := strings.ToLower(strings.TrimSpace(goal))
	s = strings.ReplaceAll(s, " ", "-")
	if len(s) > 30 {
		s = s[:30]
	}
	return s
}

// nextID scans sessions_path for session_NNN_* directories and returns the
// maximum NNN + 1, avoiding gaps left by deletions.
func (m *Manager) nextID() (int, error) {
	entries, err := os.ReadDir(m.SessionsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	max := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		match := sessionIDPattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// CreateSession allocates the next session id, writes its initial files,
// and updates the active-session pointer.
func (m *Manager) CreateSession(goal string) (*Session, error) {
	next, err := m.nextID()
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("2006-01-02")
	id := fmt.Sprintf("session_%03d_%s_%s", next, timestamp, slugify(goal))

	s := &Session{
		ID:        id,
		Goal:      goal,
		CreatedAt: time.Now().Format("2006-01-02 15:04:05"),
		Path:      filepath.Join(m.SessionsPath, id),
	}
	if err := os.MkdirAll(s.Path, 0o755); err != nil {
		return nil, err
	}

	metaOut, err := yaml.Marshal(s.metadata())
	if err != nil {
		return nil, err
	}
	if err := logstore.AtomicReplace(filepath.Join(s.Path, "metadata.yaml"), metaOut); err != nil {
		return nil, err
	}
	if err := logstore.AtomicReplace(filepath.Join(s.Path, "log.md"), []byte(fmt.Sprintf("# Log — %s\n\n", goal))); err != nil {
		return nil, err
	}
	if err := logstore.AtomicReplace(filepath.Join(s.Path, "commit.md"), []byte(fmt.Sprintf("# Commits — %s\n\n", goal))); err != nil {
		return nil, err
	}

	if err := m.UpdateActiveSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateActiveSession rewrites main.md's "Active Session" pointer (spec.md
// §6) to name s.
func (m *Manager) UpdateActiveSession(s *Session) error {
	content := fmt.Sprintf(
		"# DevOps Agent — Project Memory\n\n## Active Session\n→ %s (in progress)\n   Started: %s\n   Goal: %s\n\n## Session History\n",
		s.ID, s.CreatedAt, s.Goal,
	)
	return logstore.AtomicReplace(m.MainMDPath, []byte(content))
}

// ListSessions returns every session's parsed metadata.yaml, skipping
// directories without one.
func (m *Manager) ListSessions() ([]Metadata, error) {
	entries, err := os.ReadDir(m.SessionsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "session_") {
			continue
		}
		metaPath := filepath.Join(m.SessionsPath, e.Name(), "metadata.yaml")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta Metadata
		if err := yaml.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// BranchSession forks parentID's filesystem root into a new session,
// appending a BRANCH marker to the new log and recording the parent
// reference in metadata (spec.md §4.I). It only creates the branch on
// disk; which session an orchestrator is bound to does not change.
func (m *Manager) BranchSession(parentID, branchName string) (*Session, error) {
	parentPath := filepath.Join(m.SessionsPath, parentID)
	parentMetaPath := filepath.Join(parentPath, "metadata.yaml")
	parentData, err := os.ReadFile(parentMetaPath)
	if err != nil {
		return nil, fmt.Errorf("session: parent %q not found: %w", parentID, err)
	}
	var parentMeta Metadata
	if err := yaml.Unmarshal(parentData, &parentMeta); err != nil {
		return nil, err
	}

	next, err := m.nextID()
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("2006-01-02")
	slug := slugify(branchName)
	if slug == "" {
		slug = "branch"
	}
	id := fmt.Sprintf("session_%03d_%s_%s", next, timestamp, slug)
	childPath := filepath.Join(m.SessionsPath, id)

	if err := copyTree(parentPath, childPath); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        id,
		Goal:      branchName,
		CreatedAt: time.Now().Format("2006-01-02 15:04:05"),
		Path:      childPath,
	}

	if err := logstore.New(childPath).LogHumanAction(
		"BRANCH", fmt.Sprintf("Forked from %s as %q", parentID, branchName),
	); err != nil {
		return nil, err
	}

	meta := s.metadata()
	meta.ParentID = parentID
	meta.SessionType = "branch"
	out, err := yaml.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := logstore.AtomicReplace(filepath.Join(childPath, "metadata.yaml"), out); err != nil {
		return nil, err
	}

	return s, nil
}

// MergeSession reads branchID's commit journal, appends a "MERGED FROM
// BRANCH" section to the parent's log, and marks the branch merged.
// Neither log is rewritten, only appended to (spec.md §4.I).
func (m *Manager) MergeSession(branchID string) error {
	branchPath := filepath.Join(m.SessionsPath, branchID)
	metaPath := filepath.Join(branchPath, "metadata.yaml")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("session: branch %q not found: %w", branchID, err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return err
	}
	if meta.ParentID == "" {
		return fmt.Errorf("session: %q has no parent to merge into", branchID)
	}

	commitData, err := os.ReadFile(filepath.Join(branchPath, "commit.md"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	parentPath := filepath.Join(m.SessionsPath, meta.ParentID)
	store := logstore.New(parentPath)
	if err := store.LogHumanAction(
		fmt.Sprintf("MERGED FROM BRANCH %s", branchID),
		strings.TrimSpace(string(commitData)),
	); err != nil {
		return err
	}

	meta.Status = "merged"
	out, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	return logstore.AtomicReplace(metaPath, out)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
