// Package checkpoint implements the Checkpointer (spec.md §4.D): durable
// per-thread snapshots of orchestration state, with a pending-write side-log
// for tool calls held during a human-approval interrupt.
//
// Operations are grounded verbatim on
// original_source/src/gcc/checkpointer.py's GCCCheckpointer (put/get_tuple/
// put_writes/list), with pickle replaced by encoding/json — the teacher's
// own persistence layer (agents/manager/internal/state/store.go) uses JSON
// for every on-disk snapshot, and no third-party serialization library
// appears anywhere in the pack for local state. Atomic replace is grounded
// on the same store.go's persistLocked (temp+rename).
package checkpoint

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by GetTuple when no checkpoint exists for a
// thread.
var ErrNotFound = errors.New("checkpoint: not found")

// Config identifies a checkpoint by thread (spec.md §4.D "keyed by
// (thread_id, checkpoint_id)").
type Config struct {
	ThreadID     string `json:"thread_id"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Tuple is the serialized {checkpoint, metadata, parent_config} triple
// spec.md §4.D requires the serializer to round-trip.
type Tuple struct {
	Config       Config          `json:"config"`
	Checkpoint   json.RawMessage `json:"checkpoint"`
	Metadata     json.RawMessage `json:"metadata"`
	ParentConfig *Config         `json:"parent_config,omitempty"`
}

// Checkpointer persists checkpoints under <sessionPath>/checkpoints.
type Checkpointer struct {
	dir string
}

func New(sessionPath string) (*Checkpointer, error) {
	dir := filepath.Join(sessionPath, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Checkpointer{dir: dir}, nil
}

func (c *Checkpointer) threadPath(threadID string) string {
	return filepath.Join(c.dir, threadID+".json")
}

func (c *Checkpointer) writesPath(threadID, taskID string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_writes_%s.json", threadID, taskID))
}

// Put serializes the triple atomically (temp+rename) and returns the
// updated config carrying the new checkpoint id.
func (c *Checkpointer) Put(cfg Config, checkpoint, metadata json.RawMessage) (Config, error) {
	var parent *Config
	if cfg.CheckpointID != "" {
		p := cfg
		parent = &p
	}
	var idBytes [8]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return Config{}, err
	}
	next := cfg
	next.CheckpointID = hex.EncodeToString(idBytes[:])
	tuple := Tuple{
		Config:       next,
		Checkpoint:   checkpoint,
		Metadata:     metadata,
		ParentConfig: parent,
	}
	data, err := json.Marshal(tuple)
	if err != nil {
		return Config{}, err
	}
	path := c.threadPath(cfg.ThreadID)
	if err := atomicWrite(path, data); err != nil {
		return Config{}, err
	}
	return next, nil
}

// GetTuple loads the current snapshot for a thread, or ErrNotFound.
func (c *Checkpointer) GetTuple(cfg Config) (Tuple, error) {
	path := c.threadPath(cfg.ThreadID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Tuple{}, ErrNotFound
		}
		return Tuple{}, err
	}
	var tuple Tuple
	if err := json.Unmarshal(data, &tuple); err != nil {
		return Tuple{}, err
	}
	return tuple, nil
}

// PutWrites persists a side-log of pending channel writes — the tool calls
// held while awaiting approval (spec.md §4.D).
func (c *Checkpointer) PutWrites(threadID, taskID string, writes json.RawMessage) error {
	path := c.writesPath(threadID, taskID)
	return atomicWrite(path, writes)
}

// List scans the checkpoint directory, ignoring pending-write side files,
// and yields snapshots in filename order (spec.md §4.D).
func (c *Checkpointer) List(limit int) ([]Tuple, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.Contains(name, "_writes_") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Tuple
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		var tuple Tuple
		if err := json.Unmarshal(data, &tuple); err != nil {
			continue
		}
		out = append(out, tuple)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
