package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// createIssuesSQL defines the schema for the issues table.
const createIssuesSQL = `
CREATE TABLE IF NOT EXISTS issues (
    key TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    data TEXT NOT NULL,
    synced_at TEXT NOT NULL,
    deleted_from_jira_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project);
`

// createProjectStatesSQL defines the schema for per-project sync checkpoints.
const createProjectStatesSQL = `
CREATE TABLE IF NOT EXISTS project_states (
    project_key TEXT PRIMARY KEY,
    synced_at TEXT NOT NULL
);
`

// SQLiteStore implements IssueStore using a local SQLite database.
type SQLiteStore struct {
	path string
	conn *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path and
// initializes the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer, so we limit to one connection
	// to prevent "database is locked" errors under concurrent fetch workers.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, stmt := range []string{createIssuesSQL, createProjectStatesSQL} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{path: path, conn: conn}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Upsert inserts or updates an issue. The deletion marker of an existing row
// is preserved.
func (s *SQLiteStore) Upsert(ctx context.Context, issue Issue) error {
	dataJSON, err := json.Marshal(issue.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal issue data: %w", err)
	}

	project := issue.Project
	if project == "" {
		project = ProjectOf(issue.Key)
	}

	query := `
		INSERT INTO issues (key, project, data, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			project = excluded.project,
			data = excluded.data,
			synced_at = excluded.synced_at
	`

	_, err = s.conn.ExecContext(ctx, query,
		issue.Key,
		project,
		string(dataJSON),
		issue.SyncedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert issue %s: %w", issue.Key, err)
	}

	return nil
}

// Get retrieves an issue by key. Returns nil if the key is not cached.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Issue, error) {
	query := `
		SELECT key, project, data, synced_at, deleted_from_jira_at
		FROM issues
		WHERE key = ?
	`

	row := s.conn.QueryRowContext(ctx, query, key)

	var (
		issue     Issue
		dataJSON  string
		syncedAt  string
		deletedAt sql.NullString
	)
	if err := row.Scan(&issue.Key, &issue.Project, &dataJSON, &syncedAt, &deletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query issue %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(dataJSON), &issue.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal issue data: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse synced_at: %w", err)
	}
	issue.SyncedAt = t

	if deletedAt.Valid {
		dt, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse deleted_from_jira_at: %w", err)
		}
		issue.DeletedFromJiraAt = &dt
	}

	return &issue, nil
}

// Exists reports whether an issue with the key is cached.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues WHERE key = ?", key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check issue %s: %w", key, err)
	}
	return count != 0, nil
}

// KeysInProject returns the keys of all cached issues of the project.
func (s *SQLiteStore) KeysInProject(ctx context.Context, projectKey string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT key FROM issues WHERE project = ?", projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query project keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// MarkDeleted stamps each key with a deletion timestamp. The stamp is written
// once; keys already marked keep their original timestamp.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, keys []string, at time.Time) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`
		UPDATE issues
		SET deleted_from_jira_at = ?
		WHERE key IN (%s) AND deleted_from_jira_at IS NULL
	`, placeholders)

	args := make([]any, 0, len(keys)+1)
	args = append(args, at.UTC().Format(time.RFC3339Nano))
	for _, key := range keys {
		args = append(args, key)
	}

	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark issues deleted: %w", err)
	}
	return nil
}

// LatestSyncTime returns the project's checkpoint, or nil if none exists.
func (s *SQLiteStore) LatestSyncTime(ctx context.Context, projectKey string) (*time.Time, error) {
	var syncedAt string
	err := s.conn.QueryRowContext(ctx,
		"SELECT synced_at FROM project_states WHERE project_key = ?", projectKey).Scan(&syncedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query sync time: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sync time: %w", err)
	}
	return &t, nil
}

// SetSyncTime records a new checkpoint for the project.
func (s *SQLiteStore) SetSyncTime(ctx context.Context, projectKey string, t time.Time) error {
	query := `
		INSERT INTO project_states (project_key, synced_at)
		VALUES (?, ?)
		ON CONFLICT(project_key) DO UPDATE SET synced_at = excluded.synced_at
	`
	if _, err := s.conn.ExecContext(ctx, query, projectKey, t.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to set sync time: %w", err)
	}
	return nil
}
