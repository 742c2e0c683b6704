package sync

import (
	"context"
	gosync "sync"
	"time"
)

// fetchJob is one key to fetch and upsert, tagged with the run it belongs
// to. done is called exactly once from a worker goroutine.
type fetchJob struct {
	ctx      context.Context
	key      string
	syncTime time.Time
	done     func(err error)
}

// fetchPool is a fixed-size worker pool shared across reconciliation runs.
// Workers pull jobs from a bounded queue; a full queue blocks enqueues,
// which is the engine's backpressure.
type fetchPool struct {
	jobs  chan fetchJob
	fetch func(ctx context.Context, key string, syncTime time.Time) error
	wg    gosync.WaitGroup
}

func newFetchPool(workers int, fetch func(ctx context.Context, key string, syncTime time.Time) error) *fetchPool {
	p := &fetchPool{
		jobs:  make(chan fetchJob, workers),
		fetch: fetch,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *fetchPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		// A cancelled run drains its remaining jobs without fetching.
		if err := job.ctx.Err(); err != nil {
			job.done(err)
			continue
		}
		job.done(p.fetch(job.ctx, job.key, job.syncTime))
	}
}

// enqueue blocks while the queue is full.
func (p *fetchPool) enqueue(job fetchJob) {
	p.jobs <- job
}

// close stops the workers after the queued jobs have drained.
func (p *fetchPool) close() {
	close(p.jobs)
	p.wg.Wait()
}
