package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jira_cache/internal/model"
)

func newTestClient(baseURL string) *Client {
	c := NewClientWithBaseURL("user", "secret", baseURL)
	c.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Millisecond
		bo.MaxElapsedTime = 100 * time.Millisecond
		return bo
	}
	return c
}

func searchHandler(t *testing.T, keys []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		assert.Greater(t, maxResults, 0)

		end := startAt + maxResults
		if end > len(keys) {
			end = len(keys)
		}
		page := model.SearchResponse{
			StartAt:    startAt,
			MaxResults: maxResults,
			Total:      len(keys),
		}
		for _, key := range keys[startAt:end] {
			page.Issues = append(page.Issues, model.SearchIssue{ID: key, Key: key})
		}
		json.NewEncoder(w).Encode(page)
	}
}

func TestSearchKeysPaginates(t *testing.T) {
	// total = 2N + 5 with page size N exercises a partial final page.
	const pageSize = 2
	var keys []string
	for i := 0; i < 2*pageSize+5; i++ {
		keys = append(keys, fmt.Sprintf("PROJ-%d", i+1))
	}

	var requests int32
	mux := http.NewServeMux()
	handler := searchHandler(t, keys)
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.pageSize = pageSize

	got, err := c.SearchKeys(context.Background(), `project = "PROJ"`)
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, got, "every key exactly once, no gaps")
	assert.EqualValues(t, 5, atomic.LoadInt32(&requests))
}

func TestSearchKeysCollapsesDuplicates(t *testing.T) {
	// Pages overlapping on a key (misbehaving remote pagination) must not
	// produce duplicates.
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		page := model.SearchResponse{Total: 3}
		if startAt == 0 {
			page.Issues = []model.SearchIssue{{Key: "PROJ-1"}, {Key: "PROJ-2"}}
		} else {
			page.Issues = []model.SearchIssue{{Key: "PROJ-2"}, {Key: "PROJ-3"}}
		}
		json.NewEncoder(w).Encode(page)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.pageSize = 2

	got, err := c.SearchKeys(context.Background(), "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"PROJ-1", "PROJ-2", "PROJ-3"}, got)
}

func TestIssueDataCompletesTruncatedWorklog(t *testing.T) {
	var worklogFetches int32

	mux := http.NewServeMux()
	mux.HandleFunc("/issue/PROJ-1/worklog", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&worklogFetches, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"total":      5,
			"maxResults": 5,
			"worklogs":   []any{"w1", "w2", "w3", "w4", "w5"},
		})
	})
	mux.HandleFunc("/issue/PROJ-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"key": "PROJ-1",
			"fields": map[string]any{
				"summary": "truncated worklog",
				"worklog": map[string]any{
					"total":      5,
					"maxResults": 2,
					"worklogs":   []any{"w1", "w2"},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	data, err := c.IssueData(context.Background(), "PROJ-1")
	require.NoError(t, err)
	require.NotNil(t, data)

	fields := data["fields"].(map[string]any)
	worklog := fields["worklog"].(map[string]any)
	assert.Len(t, worklog["worklogs"], 5, "stored worklog is complete")
	assert.EqualValues(t, 1, atomic.LoadInt32(&worklogFetches), "exactly one supplemental fetch")
}

func TestIssueDataCompleteWorklogNotRefetched(t *testing.T) {
	var worklogFetches int32

	mux := http.NewServeMux()
	mux.HandleFunc("/issue/PROJ-1/worklog", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&worklogFetches, 1)
	})
	mux.HandleFunc("/issue/PROJ-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"key": "PROJ-1",
			"fields": map[string]any{
				"worklog": map[string]any{
					"total":      2,
					"maxResults": 20,
					"worklogs":   []any{"w1", "w2"},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.IssueData(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&worklogFetches))
}

func TestIssueDataNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/issue/PROJ-404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(model.ErrorResponse{
			ErrorMessages: []string{"Issue Does Not Exist"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	data, err := c.IssueData(context.Background(), "PROJ-404")
	require.NoError(t, err, "not-found is not an error")
	assert.Nil(t, data)
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/issue/PROJ-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"key": "PROJ-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	data, err := c.IssueData(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "PROJ-1", data["key"])
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGetJSONBadRequestIsPermanent(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(model.ErrorResponse{
			ErrorMessages: []string{"The JQL query is invalid."},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.SearchKeys(context.Background(), "not a query")
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx is not retried")
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", "", "")
	assert.Error(t, err)

	_, err = NewClient("example.atlassian.net", "user", "")
	assert.Error(t, err, "password mandatory when username given")

	c, err := NewClient("example.atlassian.net", "", "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.atlassian.net/rest/api/2", c.baseURL)
}
