package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"jira_cache/internal/storage"
)

// registerCacheTools registers the cache read tools with the server
func registerCacheTools(s *server.MCPServer, store storage.IssueStore) error {
	getIssueTool := mcp.NewTool("get_issue",
		mcp.WithDescription("Get the cached data of a specific Jira issue"),
		mcp.WithString("issue_key",
			mcp.Required(),
			mcp.Description("Jira issue key (e.g., 'TVP-123')"),
		),
	)

	listIssuesTool := mcp.NewTool("list_issues",
		mcp.WithDescription("List the cached issue keys of a Jira project"),
		mcp.WithString("project_key",
			mcp.Required(),
			mcp.Description("Jira project key (e.g., 'TVP')"),
		),
		mcp.WithBoolean("include_deleted",
			mcp.Description("Include issues deleted from Jira (default false)"),
		),
	)

	s.AddTool(getIssueTool, handleGetIssue(store))
	s.AddTool(listIssuesTool, handleListIssues(store))

	return nil
}

func handleGetIssue(store storage.IssueStore) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		issueKey, ok := request.Params.Arguments["issue_key"].(string)
		if !ok {
			return nil, fmt.Errorf("invalid issue_key parameter")
		}

		issue, err := store.Get(ctx, issueKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read issue: %v", err)
		}
		if issue == nil {
			return nil, fmt.Errorf("issue %s is not cached", issueKey)
		}

		jsonResult, err := json.Marshal(issue)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %v", err)
		}

		return mcp.NewToolResultText(string(jsonResult)), nil
	}
}

// withoutDeleted drops keys whose cached record carries a deletion marker.
func withoutDeleted(ctx context.Context, store storage.IssueStore, keys []string) ([]string, error) {
	var live []string
	for _, key := range keys {
		issue, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read issue: %v", err)
		}
		if issue != nil && issue.DeletedFromJiraAt == nil {
			live = append(live, key)
		}
	}
	return live, nil
}

func handleListIssues(store storage.IssueStore) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectKey, ok := request.Params.Arguments["project_key"].(string)
		if !ok {
			return nil, fmt.Errorf("invalid project_key parameter")
		}
		includeDeleted, _ := request.Params.Arguments["include_deleted"].(bool)

		keys, err := store.KeysInProject(ctx, projectKey)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %v", err)
		}
		if !includeDeleted {
			keys, err = withoutDeleted(ctx, store, keys)
			if err != nil {
				return nil, err
			}
		}

		result := map[string]any{
			"project": projectKey,
			"keys":    keys,
			"total":   len(keys),
		}
		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %v", err)
		}

		return mcp.NewToolResultText(string(jsonResult)), nil
	}
}
