package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/storage"
)

// Handler processes one claimed job. A nil return completes the job; an
// error triggers retry with backoff until attempts are exhausted.
type Handler func(ctx context.Context, job *models.Job) error

// Options tunes the worker loop.
type Options struct {
	// Concurrency bounds how many jobs run at once. Defaults to 2.
	Concurrency int
	// PollInterval is the store polling cadence. Defaults to 1s.
	PollInterval time.Duration
	// StallTimeout requeues processing jobs with no heartbeat for this
	// long. Defaults to 2m.
	StallTimeout time.Duration
	// HeartbeatInterval is how often running jobs report liveness.
	// Defaults to 15s.
	HeartbeatInterval time.Duration
}

// Queue runs jobs from a JobStore with bounded concurrency, retries with
// exponential backoff, and stalled-job requeueing.
type Queue struct {
	store   storage.JobStore
	logger  *slog.Logger
	opts    Options
	running atomic.Bool

	mu       sync.RWMutex
	handlers map[string]Handler

	// onExhausted fires once when a job's final attempt fails.
	onExhausted func(ctx context.Context, job *models.Job)

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a queue over the given job store.
func New(store storage.JobStore, logger *slog.Logger, opts Options) *Queue {
	if opts.Concurrency < 1 {
		opts.Concurrency = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 2 * time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	return &Queue{
		store:    store,
		logger:   logger,
		opts:     opts,
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a job kind.
func (q *Queue) RegisterHandler(kind string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

// OnExhausted registers the side effect fired exactly once per job after
// its final failed attempt.
func (q *Queue) OnExhausted(fn func(ctx context.Context, job *models.Job)) {
	q.onExhausted = fn
}

// Start launches the worker and stall-sweeper loops.
func (q *Queue) Start(ctx context.Context) {
	q.running.Store(true)
	q.wg.Add(2)
	go q.runWorkers(ctx)
	go q.runStallSweeper(ctx)
	q.logger.Info("queue started", "concurrency", q.opts.Concurrency)
}

// Stop winds the loops down and waits for in-flight jobs.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
	q.running.Store(false)
	q.logger.Info("queue stopped")
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) runWorkers(ctx context.Context) {
	defer q.wg.Done()

	sem := make(chan struct{}, q.opts.Concurrency)
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	var jobs sync.WaitGroup
	defer jobs.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
		case <-q.wake:
		}

		q.claimDueJobs(ctx, sem, &jobs)
	}
}

// claimDueJobs starts as many due jobs as free worker slots allow.
func (q *Queue) claimDueJobs(ctx context.Context, sem chan struct{}, jobs *sync.WaitGroup) {
	for {
		select {
		case sem <- struct{}{}:
		default:
			return
		}

		job, err := q.store.NextPendingJob(ctx)
		if err != nil {
			<-sem
			if !errors.Is(err, storage.ErrNotFound) {
				q.logger.Error("failed to claim job", "error", err)
			}
			return
		}

		jobs.Add(1)
		go func(job *models.Job) {
			defer jobs.Done()
			defer func() { <-sem }()
			q.runJob(ctx, job)
		}(job)
	}
}

// runJob executes one claimed job with a liveness heartbeat.
func (q *Queue) runJob(ctx context.Context, job *models.Job) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Kind]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no handler for job kind", "kind", job.Kind, "job", job.ID)
		q.finalFailure(ctx, job, "no handler registered for job kind: "+job.Kind)
		return
	}

	q.logger.Info("processing job", "job", job.ID, "kind", job.Kind,
		"subject", job.SubjectID, "attempt", job.Attempt)

	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(q.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-ticker.C:
				if err := q.store.Heartbeat(ctx, job.ID); err != nil {
					q.logger.Warn("heartbeat failed", "job", job.ID, "error", err)
				}
			}
		}
	}()

	err := handler(ctx, job)
	close(heartbeatDone)

	if err == nil {
		// The handler may have completed the job itself with a richer
		// result; completing twice is a harmless no-op for the store.
		if err := q.store.CompleteJob(ctx, job.ID, job.Result); err != nil && !errors.Is(err, storage.ErrNotFound) {
			q.logger.Error("failed to complete job", "job", job.ID, "error", err)
		}
		q.logger.Info("job completed", "job", job.ID)
		return
	}

	// A cancelled job's handler unwinds with an error; leave the record
	// cancelled rather than counting it as a failed attempt.
	if current, getErr := q.store.GetJob(ctx, job.ID); getErr == nil && current.Status == models.JobStatusCancelled {
		q.logger.Info("job cancelled during run", "job", job.ID)
		return
	}

	if job.Attempt >= maxAttempts {
		q.logger.Error("job failed permanently", "job", job.ID,
			"attempts", job.Attempt, "error", err)
		q.finalFailure(ctx, job, err.Error())
		return
	}

	delay := Backoff(job.Attempt)
	q.logger.Warn("job failed, scheduling retry", "job", job.ID,
		"attempt", job.Attempt, "delay", delay, "error", err)
	if err := q.store.RequeueJob(ctx, job.ID, time.Now().Add(delay).Unix()); err != nil {
		q.logger.Error("failed to requeue job", "job", job.ID, "error", err)
	}
}

// finalFailure marks the job failed and fires the exhaustion side effect.
func (q *Queue) finalFailure(ctx context.Context, job *models.Job, msg string) {
	if err := q.store.FailJob(ctx, job.ID, msg); err != nil {
		q.logger.Error("failed to mark job failed", "job", job.ID, "error", err)
		return
	}
	if q.onExhausted != nil {
		q.onExhausted(ctx, job)
	}
}

// runStallSweeper requeues processing jobs whose heartbeat went silent.
// Frame writes are field-disjoint upserts, so a duplicate run is safe,
// though it may spend vision quota twice.
func (q *Queue) runStallSweeper(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.StallTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
		}

		stalled, err := q.store.StalledJobs(ctx, int(q.opts.StallTimeout.Seconds()))
		if err != nil {
			q.logger.Error("stall sweep failed", "error", err)
			continue
		}
		for _, job := range stalled {
			q.logger.Warn("requeueing stalled job", "job", job.ID,
				"heartbeat", job.HeartbeatAt)
			if err := q.store.RequeueJob(ctx, job.ID, time.Now().Unix()); err != nil {
				q.logger.Error("failed to requeue stalled job", "job", job.ID, "error", err)
			}
		}
		if len(stalled) > 0 {
			q.nudge()
		}
	}
}
