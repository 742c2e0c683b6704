// Package jira implements the JIRA REST API client consumed by the sync
// engine.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"jira_cache/internal/logger"
	"jira_cache/internal/model"
)

const (
	// maxSearchResults is the page size requested from /search.
	maxSearchResults = 1000

	// expandedFields are requested on every issue fetch so the cached
	// representation is complete.
	// Other possible fields: names, schema, operations, editmeta
	expandedFields = "renderedFields,changelog"
)

// APIError is a non-2xx response from the JIRA API.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("jira API error %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("jira API error %d", e.StatusCode)
}

// NotFound reports whether the error means the requested issue does not
// exist.
func (e *APIError) NotFound() bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	for _, msg := range e.Messages {
		if msg == "Issue Does Not Exist" {
			return true
		}
	}
	return false
}

// Client is the JIRA API client.
type Client struct {
	domain   string
	username string
	password string
	baseURL  string
	httpc    *http.Client

	pageSize   int
	newBackOff func() backoff.BackOff
}

// NewClient returns a new instance of the client, configured with the
// specified parameters. A password is mandatory when a username is given.
func NewClient(domain, username, password string) (*Client, error) {
	if domain == "" {
		return nil, errors.New("missing domain")
	}
	if username != "" && password == "" {
		return nil, errors.New("missing password (mandatory if username given)")
	}
	return &Client{
		domain:     domain,
		username:   username,
		password:   password,
		baseURL:    "https://" + domain + "/rest/api/2",
		httpc:      &http.Client{Timeout: 30 * time.Second},
		pageSize:   maxSearchResults,
		newBackOff: defaultBackOff,
	}, nil
}

// NewClientWithBaseURL creates a client against a custom base URL (for
// testing).
func NewClientWithBaseURL(username, password, baseURL string) *Client {
	return &Client{
		domain:     baseURL,
		username:   username,
		password:   password,
		baseURL:    baseURL,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		pageSize:   maxSearchResults,
		newBackOff: defaultBackOff,
	}
}

// defaultBackOff bounds retries of transient GET failures.
func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

// SearchKeys fetches every issue key matched by the JQL query, walking the
// paginated /search endpoint until the reported total is reached. Duplicate
// keys across pages are collapsed.
func (c *Client) SearchKeys(ctx context.Context, jql string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	startAt := 0
	for {
		params := url.Values{}
		params.Set("jql", jql)
		params.Set("startAt", strconv.Itoa(startAt))
		params.Set("fields", "id,key")
		params.Set("maxResults", strconv.Itoa(c.pageSize))

		var page model.SearchResponse
		if err := c.getJSON(ctx, "/search", params, &page); err != nil {
			return nil, fmt.Errorf("search %q: %w", jql, err)
		}

		if startAt == 0 {
			logger.GetLogger().Debug("jira search",
				zap.String("jql", jql),
				zap.Int("total", page.Total))
		}

		for _, issue := range page.Issues {
			if _, ok := seen[issue.Key]; ok {
				continue
			}
			seen[issue.Key] = struct{}{}
			keys = append(keys, issue.Key)
		}

		startAt += len(page.Issues)
		if startAt >= page.Total || len(page.Issues) == 0 {
			break
		}
	}
	return keys, nil
}

// IssueData fetches the full representation of an issue. Returns (nil, nil)
// when the issue does not exist on the remote. Truncated paginated
// sub-resources are completed with a supplemental fetch before returning.
func (c *Client) IssueData(ctx context.Context, key string) (map[string]any, error) {
	logger.GetLogger().Debug("fetching issue data", zap.String("key", key))

	params := url.Values{}
	params.Set("expand", expandedFields)

	var data map[string]any
	if err := c.getJSON(ctx, "/issue/"+key, params, &data); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch issue %s: %w", key, err)
	}

	if err := c.completeSubresources(ctx, key, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WorklogData fetches the full worklog of an issue.
func (c *Client) WorklogData(ctx context.Context, key string) (map[string]any, error) {
	var data map[string]any
	if err := c.getJSON(ctx, "/issue/"+key+"/worklog", nil, &data); err != nil {
		return nil, fmt.Errorf("fetch worklog of %s: %w", key, err)
	}
	return data, nil
}

// subresource describes an inline paginated field that JIRA may truncate on
// the primary fetch, and the call that retrieves it in full.
type subresource struct {
	field     string
	truncated func(value map[string]any) bool
	fetch     func(ctx context.Context, key string) (map[string]any, error)
}

func (c *Client) subresources() []subresource {
	return []subresource{
		{
			field:     "worklog",
			truncated: reportsMoreThanReturned,
			fetch:     c.WorklogData,
		},
	}
}

// completeSubresources replaces truncated inline sub-resources with the
// result of one supplemental full fetch each.
func (c *Client) completeSubresources(ctx context.Context, key string, data map[string]any) error {
	fields, ok := data["fields"].(map[string]any)
	if !ok {
		return nil
	}
	for _, sub := range c.subresources() {
		value, ok := fields[sub.field].(map[string]any)
		if !ok || !sub.truncated(value) {
			continue
		}
		full, err := sub.fetch(ctx, key)
		if err != nil {
			return fmt.Errorf("complete %s of %s: %w", sub.field, key, err)
		}
		fields[sub.field] = full
	}
	return nil
}

// reportsMoreThanReturned reports whether a paginated field announces more
// entries than its inline page could carry.
func reportsMoreThanReturned(value map[string]any) bool {
	return jsonInt(value["total"]) > jsonInt(value["maxResults"])
}

func jsonInt(v any) int {
	f, _ := v.(float64)
	return int(f)
}

// getJSON issues an authenticated GET and decodes the JSON response into
// out. Transient failures (network errors, 5xx) are retried with exponential
// backoff; 4xx responses are returned immediately as *APIError.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response of %s: %w", path, err)
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			var errResp model.ErrorResponse
			json.Unmarshal(body, &errResp)
			return backoff.Permanent(&APIError{
				StatusCode: resp.StatusCode,
				Messages:   errResp.ErrorMessages,
			})
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response of %s: %w", path, err))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
}
