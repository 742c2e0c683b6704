// Package webhook processes JIRA webhooks, reusing the sync engine's
// single-issue write path.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jira_cache/internal/logger"
)

// Webhook event kinds sent by JIRA.
const (
	eventIssueCreated   = "jira:issue_created"
	eventIssueUpdated   = "jira:issue_updated"
	eventWorklogUpdated = "jira:worklog_updated"
	eventIssueDeleted   = "jira:issue_deleted"
)

// ErrUnknownEvent is returned for webhook event kinds the handler does not
// support. Unknown events are rejected, never silently ignored.
var ErrUnknownEvent = errors.New("unknown webhook event")

// Syncer is the surface the handler needs from the sync engine.
type Syncer interface {
	SyncIssue(ctx context.Context, key string) error
	MarkDeleted(ctx context.Context, keys []string) error
}

// payload is the subset of a JIRA webhook body the handler reads.
type payload struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		Key string `json:"key"`
	} `json:"issue"`
}

// Handler routes JIRA webhooks into the sync engine.
type Handler struct {
	engine Syncer
}

// NewHandler creates a new webhook handler backed by the given engine.
func NewHandler(engine Syncer) *Handler {
	return &Handler{engine: engine}
}

// Router builds the gin engine serving the webhook endpoints.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLog())
	r.GET("/", h.handleStatus)
	r.POST("/", h.handleEvent)
	return r
}

// handleStatus returns JSON with the app name and a status.
func (h *Handler) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":    "jira_cache/webhook",
		"status": "ok",
	})
}

// handleEvent processes one JIRA webhook. Created, updated and
// worklog-updated events re-sync the issue through the engine's single-issue
// path; deleted events tombstone it. Any other event kind is a client error.
func (h *Handler) handleEvent(c *gin.Context) {
	log := logger.GetLogger()

	var p payload
	if err := c.ShouldBindJSON(&p); err != nil {
		log.Error("failed to parse webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse webhook body"})
		return
	}
	if p.Issue.Key == "" {
		log.Error("webhook body missing issue key",
			zap.String("event", p.WebhookEvent))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing issue key"})
		return
	}

	ctx := c.Request.Context()
	switch p.WebhookEvent {
	case eventIssueCreated, eventIssueUpdated, eventWorklogUpdated:
		if err := h.engine.SyncIssue(ctx, p.Issue.Key); err != nil {
			log.Error("failed to sync issue",
				zap.String("key", p.Issue.Key),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sync issue"})
			return
		}
	case eventIssueDeleted:
		if err := h.engine.MarkDeleted(ctx, []string{p.Issue.Key}); err != nil {
			log.Error("failed to mark issue deleted",
				zap.String("key", p.Issue.Key),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark issue deleted"})
			return
		}
	default:
		err := fmt.Errorf("%w: %q", ErrUnknownEvent, p.WebhookEvent)
		log.Error("rejected webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
