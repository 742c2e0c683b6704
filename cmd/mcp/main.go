package main

import (
	"fmt"
	"log"

	"jira_cache/internal/config"
	"jira_cache/internal/logger"
	mcpserver "jira_cache/internal/service/mcp-server"
	"jira_cache/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open issue store: %v", err)
	}
	defer store.Close()

	server, err := mcpserver.NewServer(store)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	fmt.Println("Starting Jira cache MCP server...")
	if err := mcpserver.Serve(server); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
