package sync

import (
	"fmt"
	"strings"
	"time"
)

// jqlTimeLayout is the minute-granularity format updatedDate clauses use.
const jqlTimeLayout = "2006-01-02 15:04"

// BuildQuery assembles the JQL filter for a key listing. Only the clauses
// whose inputs are present are emitted, project first, joined with AND; both
// absent yields the empty query. The project key is quoted but not escaped:
// callers are trusted not to pass control characters.
func BuildQuery(projectKey string, updatedSince *time.Time) string {
	var items []string
	if projectKey != "" {
		items = append(items, fmt.Sprintf("project = %q", projectKey))
	}
	if updatedSince != nil {
		items = append(items, fmt.Sprintf("updatedDate > %q", updatedSince.Format(jqlTimeLayout)))
	}
	return strings.Join(items, " AND ")
}
