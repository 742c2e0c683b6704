// Package mcpserver exposes the local issue cache to MCP clients, so
// downstream tooling reads the fast local copy instead of the rate-limited
// JIRA API.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"jira_cache/internal/storage"
)

// NewServer creates a new MCP server instance serving the given cache
func NewServer(store storage.IssueStore) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		"jira cache",
		"1.0.0",
	)

	if err := registerCacheTools(s, store); err != nil {
		return nil, err
	}

	return s, nil
}

// Serve starts the MCP server
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
