package session

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenIndexCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if err := idx.InsertSession(context.Background(), "session_001_2026-07-31_goal", "goal", "goal", "/tmp/x", "", "root", "{}"); err != nil {
		t.Fatal(err)
	}
}

func TestLogCommandAndGetSessionMetrics(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	ctx := context.Background()
	sid := "session_001_2026-07-31_goal"
	if err := idx.InsertSession(ctx, sid, "goal", "goal", "/tmp/x", "", "root", "{}"); err != nil {
		t.Fatal(err)
	}
	if err := idx.LogCommand(ctx, sid, "docker ps", "linux", "bash", "/tmp"); err != nil {
		t.Fatal(err)
	}
	if err := idx.LogCommand(ctx, sid, "kubectl get pods", "linux", "bash", "/tmp"); err != nil {
		t.Fatal(err)
	}
	if err := idx.LogCommand(ctx, sid, "ls", "darwin", "zsh", "/tmp"); err != nil {
		t.Fatal(err)
	}

	metrics, err := idx.GetSessionMetrics(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if metrics.CommandCount != 3 {
		t.Fatalf("expected 3 commands, got %d", metrics.CommandCount)
	}
	if metrics.OS != "linux" || metrics.Shell != "bash" {
		t.Fatalf("expected most frequent pair linux/bash, got %s/%s", metrics.OS, metrics.Shell)
	}
}

func TestDeleteSessionCascadesCommandHistory(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	ctx := context.Background()
	sid := "session_001_2026-07-31_goal"
	if err := idx.InsertSession(ctx, sid, "goal", "goal", "/tmp/x", "", "root", "{}"); err != nil {
		t.Fatal(err)
	}
	if err := idx.LogCommand(ctx, sid, "docker ps", "linux", "bash", "/tmp"); err != nil {
		t.Fatal(err)
	}
	if err := idx.DeleteSession(ctx, sid); err != nil {
		t.Fatal(err)
	}

	metrics, err := idx.GetSessionMetrics(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if metrics.CommandCount != 0 {
		t.Fatalf("expected cascaded command_history rows gone, got %d", metrics.CommandCount)
	}
}

func TestResetAllPurgesBothTables(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	ctx := context.Background()
	sid := "session_001_2026-07-31_goal"
	if err := idx.InsertSession(ctx, sid, "goal", "goal", "/tmp/x", "", "root", "{}"); err != nil {
		t.Fatal(err)
	}
	if err := idx.LogCommand(ctx, sid, "docker ps", "linux", "bash", "/tmp"); err != nil {
		t.Fatal(err)
	}
	if err := idx.ResetAll(ctx); err != nil {
		t.Fatal(err)
	}

	var count int
	row := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected sessions purged, got %d", count)
	}
}

func TestAddColumnIfMissingIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if err := idx.addColumnIfMissing("sessions", "parent_id", "TEXT"); err != nil {
		t.Fatal(err)
	}
}
