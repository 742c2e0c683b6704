// Package sync reconciles the local issue cache with JIRA.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jira_cache/internal/logger"
	"jira_cache/internal/notify"
	"jira_cache/internal/storage"
)

// DefaultWorkers is the fetch concurrency used when Options.Workers is 0.
const DefaultWorkers = 32

// ErrSyncInProgress is returned when a reconciliation is requested for a
// project that already has one in flight.
var ErrSyncInProgress = errors.New("sync already in progress")

// RemoteClient is the surface the engine needs from the JIRA client.
type RemoteClient interface {
	// SearchKeys returns every issue key matched by the JQL query.
	SearchKeys(ctx context.Context, jql string) ([]string, error)
	// IssueData returns the full representation of an issue, or (nil, nil)
	// when the issue does not exist remotely.
	IssueData(ctx context.Context, key string) (map[string]any, error)
}

// Options tunes a sync engine.
type Options struct {
	// Workers bounds concurrent issue fetches. Defaults to DefaultWorkers.
	Workers int
	// FailFast aborts a reconciliation run on the first fetch failure
	// instead of logging and continuing.
	FailFast bool
}

// Engine performs the reconciliation between JIRA and the local cache. It
// holds its collaborators explicitly; there is no package-level state. One
// engine is safe for concurrent use, but at most one reconciliation per
// project runs at a time.
type Engine struct {
	client   RemoteClient
	store    storage.IssueStore
	notifier notify.Notifier
	failFast bool
	pool     *fetchPool

	now func() time.Time

	mu       gosync.Mutex
	inFlight map[string]bool
}

// NewEngine creates a sync engine and starts its fetch worker pool. Close
// must be called to stop the workers.
func NewEngine(client RemoteClient, store storage.IssueStore, notifier notify.Notifier, opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	e := &Engine{
		client:   client,
		store:    store,
		notifier: notifier,
		failFast: opts.FailFast,
		now:      time.Now,
		inFlight: make(map[string]bool),
	}
	e.pool = newFetchPool(workers, e.fetchOne)
	return e
}

// Close stops the fetch workers after queued work has drained.
func (e *Engine) Close() {
	e.pool.close()
}

// SyncProject runs one full reconciliation for the project: list remote and
// cached keys, diff, fetch missing and updated issues, tombstone deleted
// ones, then record the checkpoint. The checkpoint carries the time captured
// at the start of the run, so the next incremental window overlaps a
// long-running sync instead of gapping over it, and it is only written when
// the whole run succeeded.
func (e *Engine) SyncProject(ctx context.Context, projectKey string) error {
	if !e.acquire(projectKey) {
		return fmt.Errorf("%w: project %s", ErrSyncInProgress, projectKey)
	}
	defer e.release(projectKey)

	log := logger.GetLogger()
	syncStart := e.now()

	log.Info("determining which issues to fetch", zap.String("project", projectKey))

	var remote, cached []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		remote, err = e.client.SearchKeys(gctx, BuildQuery(projectKey, nil))
		if err != nil {
			return fmt.Errorf("list remote keys: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		cached, err = e.store.KeysInProject(gctx, projectKey)
		if err != nil {
			return fmt.Errorf("list cached keys: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	updated, err := e.updatedKeys(ctx, projectKey)
	if err != nil {
		return fmt.Errorf("list updated keys: %w", err)
	}

	diff := DiffKeys(remote, cached, updated)
	log.Info("reconciliation plan",
		zap.String("project", projectKey),
		zap.Int("remote", len(remote)),
		zap.Int("cached", len(cached)),
		zap.Int("missing", len(diff.Missing)),
		zap.Int("updated", len(updated)),
		zap.Int("to_fetch", len(diff.ToFetch)),
		zap.Int("deleted", len(diff.Deleted)))

	if err := e.fetchIssues(ctx, diff.ToFetch, syncStart); err != nil {
		return err
	}

	if len(diff.Deleted) > 0 {
		if err := e.store.MarkDeleted(ctx, diff.Deleted, e.now()); err != nil {
			return fmt.Errorf("mark deleted: %w", err)
		}
	}

	if err := e.store.SetSyncTime(ctx, projectKey, syncStart); err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}

	log.Info("reconciliation complete", zap.String("project", projectKey))
	return nil
}

// SyncIssue fetches and caches a single issue, outside of any reconciliation
// run. The checkpoint is not touched. Used by the webhook handler.
func (e *Engine) SyncIssue(ctx context.Context, key string) error {
	return e.fetchOne(ctx, key, e.now())
}

// MarkDeleted tombstones the given keys. Already-marked keys keep their
// original deletion timestamp. Used by the webhook handler.
func (e *Engine) MarkDeleted(ctx context.Context, keys []string) error {
	return e.store.MarkDeleted(ctx, keys, e.now())
}

// updatedKeys lists the keys modified since the last checkpoint. Without a
// checkpoint the query has no lower time bound, which makes the first run a
// full refresh.
func (e *Engine) updatedKeys(ctx context.Context, projectKey string) ([]string, error) {
	since, err := e.store.LatestSyncTime(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return e.client.SearchKeys(ctx, BuildQuery(projectKey, since))
}

// fetchIssues pushes the work-list through the worker pool and waits for the
// run to drain. In the default best-effort mode per-key failures are logged
// and skipped; in fail-fast mode the first failure cancels the rest of the
// run and is returned.
func (e *Engine) fetchIssues(ctx context.Context, keys []string, syncTime time.Time) error {
	if len(keys) == 0 {
		return nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if e.failFast {
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	var (
		wg       gosync.WaitGroup
		mu       gosync.Mutex
		firstErr error
	)
	for _, key := range keys {
		key := key
		wg.Add(1)
		e.pool.enqueue(fetchJob{
			ctx:      runCtx,
			key:      key,
			syncTime: syncTime,
			done: func(err error) {
				defer wg.Done()
				if err == nil {
					return
				}
				logger.GetLogger().Warn("issue fetch failed",
					zap.String("key", key),
					zap.Error(err))
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("fetch %s: %w", key, err)
				}
				mu.Unlock()
				if cancel != nil {
					cancel()
				}
			},
		})
	}
	wg.Wait()

	if e.failFast {
		return firstErr
	}
	return nil
}

// fetchOne retrieves the full content of one issue and upserts it stamped
// with syncTime. A not-found issue writes nothing. A successful fetch
// publishes a fetched-issue event; notifier failures are swallowed.
func (e *Engine) fetchOne(ctx context.Context, key string, syncTime time.Time) error {
	data, err := e.client.IssueData(ctx, key)
	if err != nil {
		return err
	}
	if data == nil {
		logger.GetLogger().Info("issue not found on remote, skipping",
			zap.String("key", key))
		return nil
	}

	e.publish(notify.EventFetchedIssue, key, data)

	return e.store.Upsert(ctx, storage.Issue{
		Key:      key,
		Project:  projectForIssue(key, data),
		Data:     data,
		SyncedAt: syncTime,
	})
}

func (e *Engine) publish(event, key string, data map[string]any) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(event, key, data); err != nil {
		logger.GetLogger().Error("notifier failed",
			zap.String("event", event),
			zap.String("key", key),
			zap.Error(err))
	}
}

func (e *Engine) acquire(projectKey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[projectKey] {
		return false
	}
	e.inFlight[projectKey] = true
	return true
}

func (e *Engine) release(projectKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, projectKey)
}

// projectForIssue reads the project key from the issue payload, falling back
// to the issue key prefix.
func projectForIssue(key string, data map[string]any) string {
	if fields, ok := data["fields"].(map[string]any); ok {
		if project, ok := fields["project"].(map[string]any); ok {
			if pk, ok := project["key"].(string); ok && pk != "" {
				return pk
			}
		}
	}
	return storage.ProjectOf(key)
}
