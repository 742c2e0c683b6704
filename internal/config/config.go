package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Jira configuration
	JiraDomain   string // Required: JIRA API domain (e.g. your-project.atlassian.net)
	JiraUsername string // Optional: JIRA user name
	JiraPassword string // Optional: JIRA password, mandatory if a username is set

	// ProjectKeys are the JIRA projects kept in sync by the periodic
	// reconciliation loop.
	ProjectKeys []string

	// Storage configuration. DBPath selects the SQLite store; IssueBucketName
	// selects the S3 store (used by the lambda deployment).
	DBPath          string
	IssueBucketName string

	// Slack configuration for fetch-event notifications (optional)
	SlackBotToken string
	SlackChannel  string

	// Sync tuning
	SyncConcurrency int           // concurrent issue fetches per run
	SyncInterval    time.Duration // delay between reconciliation runs

	// HTTP port for the webhook server
	Port string

	// Log level
	LogLevel string // Required: Log level
}

var (
	// instance holds the singleton config instance
	instance *Config
)

// Get returns the singleton config instance
func Get() *Config {
	if instance == nil {
		panic("config not initialized")
	}
	return instance
}

// Load creates a new Config instance from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Load required values
	requiredVars := map[string]*string{
		"JIRA_DOMAIN": &cfg.JiraDomain,
		"LOG_LEVEL":   &cfg.LogLevel,
	}

	var missingVars []string
	for env, ptr := range requiredVars {
		*ptr = os.Getenv(env)
		if *ptr == "" {
			missingVars = append(missingVars, env)
		}
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missingVars, ", "))
	}

	cfg.JiraUsername = os.Getenv("JIRA_USERNAME")
	cfg.JiraPassword = os.Getenv("JIRA_PASSWORD")
	if cfg.JiraUsername != "" && cfg.JiraPassword == "" {
		return nil, fmt.Errorf("JIRA_PASSWORD is required when JIRA_USERNAME is set")
	}

	if keys := os.Getenv("PROJECT_KEYS"); keys != "" {
		for _, key := range strings.Split(keys, ",") {
			if key = strings.TrimSpace(key); key != "" {
				cfg.ProjectKeys = append(cfg.ProjectKeys, key)
			}
		}
	}

	cfg.DBPath = getEnvDefault("DB_PATH", "jira_cache.db")
	cfg.IssueBucketName = os.Getenv("ISSUE_BUCKET_NAME")

	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	cfg.SlackChannel = os.Getenv("SLACK_CHANNEL")
	if cfg.SlackBotToken != "" && cfg.SlackChannel == "" {
		return nil, fmt.Errorf("SLACK_CHANNEL is required when SLACK_BOT_TOKEN is set")
	}

	concurrency, err := strconv.Atoi(getEnvDefault("SYNC_CONCURRENCY", "32"))
	if err != nil || concurrency < 1 {
		return nil, fmt.Errorf("invalid SYNC_CONCURRENCY: %s", os.Getenv("SYNC_CONCURRENCY"))
	}
	cfg.SyncConcurrency = concurrency

	interval, err := time.ParseDuration(getEnvDefault("SYNC_INTERVAL", "15m"))
	if err != nil || interval <= 0 {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %s", os.Getenv("SYNC_INTERVAL"))
	}
	cfg.SyncInterval = interval

	cfg.Port = getEnvDefault("PORT", "8080")

	// Store the instance
	instance = cfg

	return cfg, nil
}

func getEnvDefault(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}
