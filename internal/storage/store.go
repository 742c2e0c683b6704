// Package storage provides the local cache the sync engine writes into.
package storage

import (
	"context"
	"strings"
	"time"
)

// Issue is a locally cached JIRA issue. Data holds the full remote
// representation as returned by the API; its schema is owned by JIRA and it
// is stored as-is, replaced wholesale on every sync.
type Issue struct {
	Key               string         `json:"key"`
	Project           string         `json:"project"`
	Data              map[string]any `json:"data"`
	SyncedAt          time.Time      `json:"synced_at"`
	DeletedFromJiraAt *time.Time     `json:"deleted_from_jira_at,omitempty"`
}

// IssueStore defines the interface for issue cache storage operations
type IssueStore interface {
	// Upsert inserts the issue or replaces its data and synced_at. An
	// existing deletion marker is left untouched.
	Upsert(ctx context.Context, issue Issue) error

	// Get returns the cached issue for the key, or nil if unknown.
	Get(ctx context.Context, key string) (*Issue, error)

	// Exists reports whether an issue with the key is cached.
	Exists(ctx context.Context, key string) (bool, error)

	// KeysInProject returns the keys of all cached issues of the project,
	// tombstoned ones included.
	KeysInProject(ctx context.Context, projectKey string) ([]string, error)

	// MarkDeleted sets the deletion marker on each key. Keys already marked
	// keep their original timestamp.
	MarkDeleted(ctx context.Context, keys []string, at time.Time) error

	// LatestSyncTime returns the last reconciliation checkpoint for the
	// project, or nil if the project was never fully synced.
	LatestSyncTime(ctx context.Context, projectKey string) (*time.Time, error)

	// SetSyncTime records a new reconciliation checkpoint for the project.
	SetSyncTime(ctx context.Context, projectKey string, t time.Time) error

	Close() error
}

// ProjectOf derives the project key from an issue key ("PROJ-123" -> "PROJ").
func ProjectOf(issueKey string) string {
	if i := strings.Index(issueKey, "-"); i > 0 {
		return issueKey[:i]
	}
	return issueKey
}
