package main

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"jira_cache/internal/config"
	"jira_cache/internal/jira"
	"jira_cache/internal/logger"
	"jira_cache/internal/notify"
	"jira_cache/internal/storage"
	"jira_cache/internal/sync"
	"jira_cache/internal/webhook"
)

var ginLambda *ginadapter.GinLambda

func initWebhook() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.IssueBucketName == "" {
		return fmt.Errorf("ISSUE_BUCKET_NAME is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return err
	}
	store := storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.IssueBucketName)

	client, err := jira.NewClient(cfg.JiraDomain, cfg.JiraUsername, cfg.JiraPassword)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.SlackBotToken != "" {
		notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel)
	}

	// Webhook deliveries are single-issue syncs; one worker is plenty.
	engine := sync.NewEngine(client, store, notifier, sync.Options{Workers: 1})

	ginLambda = ginadapter.New(webhook.NewHandler(engine).Router())
	return nil
}

func handleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	if err := logger.Init("info"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := initWebhook(); err != nil {
		log.Fatalf("Failed to initialize webhook: %v", err)
	}
	lambda.Start(handleRequest)
}
