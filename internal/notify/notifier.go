// Package notify is the side-channel the sync engine publishes fetch events
// to. Publish failures are never allowed to fail a sync; callers swallow and
// log them.
package notify

import (
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"jira_cache/internal/logger"
)

// EventFetchedIssue is published after every successful issue fetch.
const EventFetchedIssue = "fetched_issue"

// Notifier publishes sync event notifications.
type Notifier interface {
	Publish(event string, key string, data map[string]any) error
}

// LogNotifier logs events using the global logger. It is the default
// notifier.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a new LogNotifier instance
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.GetLogger()}
}

// Publish logs the event name and issue key.
func (n *LogNotifier) Publish(event, key string, data map[string]any) error {
	n.log.Info("sync event",
		zap.String("event", event),
		zap.String("key", key))
	return nil
}

// SlackNotifier posts sync events to a Slack channel.
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlackNotifier creates a new SlackNotifier posting to the given channel.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		api:     slack.New(token),
		channel: channel,
	}
}

// Publish posts a short message with the event name, issue key and summary.
func (n *SlackNotifier) Publish(event, key string, data map[string]any) error {
	text := fmt.Sprintf("[%s] %s", event, key)
	if summary := issueSummary(data); summary != "" {
		text += ": " + summary
	}

	_, _, err := n.api.PostMessage(
		n.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	return nil
}

func issueSummary(data map[string]any) string {
	fields, ok := data["fields"].(map[string]any)
	if !ok {
		return ""
	}
	summary, _ := fields["summary"].(string)
	return summary
}
