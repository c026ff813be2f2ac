// Session Index: the SQLite-backed metadata catalog (spec.md §4.I).
// Grounded verbatim on apps/ReleaseParty/backend/internal/store/store.go's
// Open/migrate pattern (modernc.org/sqlite pure-Go driver, WAL journaling,
// idempotent "CREATE TABLE IF NOT EXISTS" schema evolution).
package session

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Index is the single-writer-per-process Session Index.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the SQLite database at path and
// applies the idempotent schema migration.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, err
	}

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

func (idx *Index) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT,
			goal TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			path TEXT NOT NULL,
			parent_id TEXT REFERENCES sessions(id),
			session_type TEXT NOT NULL DEFAULT 'root',
			metadata TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS command_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			command TEXT NOT NULL,
			os TEXT,
			shell TEXT,
			cwd TEXT,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := idx.db.Exec(stmt); err != nil {
			return err
		}
	}
	return idx.addColumnIfMissing("sessions", "parent_id", "TEXT")
}

// addColumnIfMissing implements the "evolves via idempotent add-column
// migrations" contract (spec.md §4.I) for columns introduced after the
// initial CREATE TABLE.
func (idx *Index) addColumnIfMissing(table, column, ddlType string) error {
	rows, err := idx.db.Query(fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	_, err = idx.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s;`, table, column, ddlType))
	return err
}

// InsertSession records a new catalog row (spec.md §4.I insert_session).
func (idx *Index) InsertSession(ctx context.Context, id, title, goal, path, parentID, sessionType, metadata string) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, goal, status, created_at, path, parent_id, session_type, metadata)
		VALUES (?, ?, ?, 'active', datetime('now'), ?, NULLIF(?, ''), ?, ?)
	`, id, title, goal, path, parentID, sessionType, metadata)
	return err
}

// RenameSession updates a session's title.
func (idx *Index) RenameSession(ctx context.Context, id, newTitle string) error {
	_, err := idx.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, newTitle, id)
	return err
}

// DeleteSession removes a session row; command_history rows cascade via the
// foreign key (spec.md §4.I delete_session "cascades").
func (idx *Index) DeleteSession(ctx context.Context, id string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// LogCommand appends a command_history row — a fire-and-forget background
// task from the orchestrator's Analyzer node (spec.md §4.H, §5).
func (idx *Index) LogCommand(ctx context.Context, sessionID, command, osName, shell, cwd string) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO command_history (session_id, command, os, shell, cwd, created_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
	`, sessionID, command, osName, shell, cwd)
	return err
}

// Metrics is get_session_metrics's return shape (spec.md §4.I).
type Metrics struct {
	CommandCount int
	OS           string
	Shell        string
}

// GetSessionMetrics returns the command count plus the most frequent
// (os, shell) pair, ties broken by first-seen order — the Open Question
// decision recorded in DESIGN.md for underspecified multi-pair sessions.
func (idx *Index) GetSessionMetrics(ctx context.Context, sessionID string) (Metrics, error) {
	var count int
	if err := idx.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM command_history WHERE session_id = ?`, sessionID,
	).Scan(&count); err != nil {
		return Metrics{}, err
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT os, shell, COUNT(*) as n, MIN(id) as first_seen
		FROM command_history
		WHERE session_id = ?
		GROUP BY os, shell
		ORDER BY n DESC, first_seen ASC
		LIMIT 1
	`, sessionID)
	if err != nil {
		return Metrics{}, err
	}
	defer rows.Close()

	m := Metrics{CommandCount: count}
	if rows.Next() {
		var n, firstSeen int
		if err := rows.Scan(&m.OS, &m.Shell, &n, &firstSeen); err != nil {
			return Metrics{}, err
		}
	}
	return m, nil
}

// ReadExecute runs a read-only query without committing any pending
// transaction state (spec.md §4.I "non-committing path" for reads).
func (idx *Index) ReadExecute(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return idx.db.QueryContext(ctx, query, args...)
}

// Execute runs a write statement, which commits immediately since the
// Index holds no long-lived transaction (spec.md §4.I "execute (write,
// commits)").
func (idx *Index) Execute(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	return idx.db.ExecContext(ctx, stmt, args...)
}

// ResetAll purges every row from both tables (spec.md §4.I reset_all).
func (idx *Index) ResetAll(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM command_history`); err != nil {
		return err
	}
	_, err := idx.db.ExecContext(ctx, `DELETE FROM sessions`)
	return err
}
