package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"jira_cache/internal/config"
	"jira_cache/internal/jira"
	"jira_cache/internal/logger"
	"jira_cache/internal/notify"
	"jira_cache/internal/storage"
	"jira_cache/internal/sync"
	"jira_cache/internal/webhook"
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
		logger.GetLogger().Fatal("failed to open issue store", zap.Error(err))
	}
	defer store.Close()

	client, err := jira.NewClient(cfg.JiraDomain, cfg.JiraUsername, cfg.JiraPassword)
	if err != nil {
		logger.GetLogger().Fatal("failed to create jira client", zap.Error(err))
	}

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.SlackBotToken != "" {
		notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel)
	}

	engine := sync.NewEngine(client, store, notifier, sync.Options{
		Workers: cfg.SyncConcurrency,
	})
	defer engine.Close()

	go runSyncLoop(engine, cfg.ProjectKeys, cfg.SyncInterval)

	router := webhook.NewHandler(engine).Router()
	logger.GetLogger().Info("starting webhook server", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.GetLogger().Fatal("server error", zap.Error(err))
	}
}

// runSyncLoop reconciles every configured project, then again after each
// interval.
func runSyncLoop(engine *sync.Engine, projectKeys []string, interval time.Duration) {
	for {
		for _, projectKey := range projectKeys {
			if err := engine.SyncProject(context.Background(), projectKey); err != nil {
				logger.GetLogger().Error("reconciliation failed",
					zap.String("project", projectKey),
					zap.Error(err))
			}
		}
		time.Sleep(interval)
	}
}
