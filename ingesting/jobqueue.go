package ingesting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yeti47/clipintake/ccc/logging"
	"github.com/yeti47/clipintake/heartbeat"
	"github.com/yeti47/clipintake/jobstore"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/resources"
)

// finished jobs kept in memory for Get; older ones are only in the ledger
const maxRetainedJobs = 256

type QueueSettings struct {
	// InterJobDelay separates the end of one job from the start of the next
	InterJobDelay time.Duration
	// HeartbeatWindow is the idle time after which a job without progress is failed
	HeartbeatWindow time.Duration
	// DrainTimeout bounds the work done on shutdown
	DrainTimeout time.Duration
}

// JobQueue processes submitted jobs one at a time, in submission order
type JobQueue interface {
	Submit(src media.Source, origin media.Origin, callbacks Callbacks, opts Options) (*JobHandle, error)

	// Start runs the worker until stopChan is closed, then drains
	Start(stopChan <-chan struct{}, wg *sync.WaitGroup)

	// Drain processes queued jobs until none are left or timeout passes; the rest fail
	Drain(timeout time.Duration)

	// IsBusy reports whether a job is running or waiting
	IsBusy() bool

	Get(id string) (*JobHandle, bool)

	// Pending counts jobs still queued
	Pending() int
}

type jobQueue struct {
	pipeline *Pipeline
	ledger   jobstore.JobRepository
	settings QueueSettings
	logger   logging.Logger

	// processing is the single-flight gate; no phase of two jobs ever overlaps
	processing sync.Mutex

	mu       sync.Mutex
	pending  []*Job
	jobs     map[string]*Job
	finished []string
	current  *Job
	closed   bool
	wake     chan struct{}

	newRegistry func() *resources.Registry
}

// NewJobQueue creates a queue around pipeline. ledger may be nil.
func NewJobQueue(logger logging.Logger, pipeline *Pipeline, ledger jobstore.JobRepository, settings QueueSettings) JobQueue {
	return newJobQueue(logger, pipeline, ledger, settings)
}

func newJobQueue(logger logging.Logger, pipeline *Pipeline, ledger jobstore.JobRepository, settings QueueSettings) *jobQueue {
	if logger == nil {
		logger = logging.NopLogger
	}
	if settings.HeartbeatWindow <= 0 {
		settings.HeartbeatWindow = 10 * time.Minute
	}
	if settings.DrainTimeout <= 0 {
		settings.DrainTimeout = 30 * time.Second
	}

	q := &jobQueue{
		pipeline: pipeline,
		ledger:   ledger,
		settings: settings,
		logger:   logger,
		jobs:     make(map[string]*Job),
		wake:     make(chan struct{}, 1),
	}
	q.newRegistry = func() *resources.Registry { return resources.NewRegistry(q.logger) }
	return q
}

// Submit adds a job to the end of the queue
func (q *jobQueue) Submit(src media.Source, origin media.Origin, callbacks Callbacks, opts Options) (*JobHandle, error) {
	job := newJob(uuid.NewString(), src, origin, callbacks, opts, time.Now())

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.pending = append(q.pending, job)
	q.jobs[job.ID] = job
	queued := len(q.pending)
	q.mu.Unlock()

	q.record(job, true)
	q.logger.Info("Queued job", "jobID", job.ID, "name", src.Name, "kind", src.Kind.String(),
		"origin", string(origin), "position", queued)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return &JobHandle{job: job}, nil
}

// Start runs the worker loop
func (q *jobQueue) Start(stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		if job := q.next(); job != nil {
			q.process(job)

			// let the runtime reclaim the previous job's memory before the next one
			select {
			case <-time.After(q.settings.InterJobDelay):
			case <-stopChan:
				q.Drain(q.settings.DrainTimeout)
				return
			}
			continue
		}

		select {
		case <-q.wake:
		case <-stopChan:
			q.Drain(q.settings.DrainTimeout)
			return
		}
	}
}

// Drain closes the queue to new jobs and processes what is left
func (q *jobQueue) Drain(timeout time.Duration) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			q.abandonPending()
			return
		default:
		}

		job := q.next()
		if job == nil {
			return
		}
		q.process(job)
	}
}

func (q *jobQueue) IsBusy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil || len(q.pending) > 0
}

func (q *jobQueue) Get(id string) (*JobHandle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return &JobHandle{job: job}, true
}

func (q *jobQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// next pops the oldest job and makes it current in the same step, so IsBusy never
// reports an idle queue between the two
func (q *jobQueue) next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.current = job
	return job
}

// process runs one job to its end under the processing gate. A stalled job is failed by
// the heartbeat supervisor and its context cancelled; process still waits for the
// pipeline to return so the next job never overlaps with it.
func (q *jobQueue) process(job *Job) {
	q.processing.Lock()
	defer q.processing.Unlock()

	defer q.clearCurrent()

	started := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := q.newRegistry()
	supervisor := heartbeat.New(q.settings.HeartbeatWindow, &job.mu)
	supervisor.Start()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-supervisor.Timeout():
			err := supervisor.Err()
			stage, message := classify(err)
			q.logger.Error("Job stalled", "jobID", job.ID, "window", q.settings.HeartbeatWindow)
			if job.fail(stage, message, err) {
				q.record(job, false)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	rep := &reporter{job: job, beat: supervisor.Beat, transitioned: func() { q.record(job, false) }}
	asset, err := q.pipeline.Process(ctx, job, rep, registry)

	supervisor.Stop()
	cancel()
	<-watchDone

	if err == nil && job.Status() != StatusFailed && asset.NativePath != "" {
		// the artifact now belongs to the caller
		registry.KeepFile(asset.NativePath)
	}
	if releaseErr := registry.ReleaseAll(); releaseErr != nil {
		q.logger.Warn("Some job resources could not be released", "jobID", job.ID, "error", releaseErr)
	}

	if err != nil {
		stage, message := classify(err)
		if job.fail(stage, message, err) {
			q.logger.Error("Job failed", "jobID", job.ID, "stage", string(stage), "error", err)
		}
	} else if job.complete(asset) {
		q.logger.Info("Job completed", "jobID", job.ID, "path", asset.NativePath,
			"compressed", asset.Compressed, "duration", time.Since(started))
	}

	job.mu.Lock()
	nominal := time.Duration(0)
	if job.classification != nil {
		nominal = job.classification.Timeout
	}
	job.mu.Unlock()
	if elapsed := time.Since(started); nominal > 0 && elapsed > nominal {
		q.logger.Info("Job ran past its nominal timeout while making progress", "jobID", job.ID,
			"elapsed", elapsed, "nominal", nominal)
	}

	q.record(job, false)
	q.retire(job)
}

func (q *jobQueue) clearCurrent() {
	q.mu.Lock()
	q.current = nil
	q.mu.Unlock()
}

// abandonPending fails everything that is still queued after a drain timeout
func (q *jobQueue) abandonPending() {
	q.mu.Lock()
	left := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, job := range left {
		q.logger.Warn("Dropping queued job on shutdown", "jobID", job.ID)
		job.fail(StageProcessing, "queue shut down before the video was processed", ErrQueueClosed)
		q.record(job, false)
		q.retire(job)
	}
}

// retire bounds the number of finished jobs kept in memory
func (q *jobQueue) retire(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.finished = append(q.finished, job.ID)
	for len(q.finished) > maxRetainedJobs {
		delete(q.jobs, q.finished[0])
		q.finished = q.finished[1:]
	}
}

// record writes the job's current state to the ledger, if there is one
func (q *jobQueue) record(job *Job, created bool) {
	if q.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if created {
		err = q.ledger.Add(ctx, job.record())
	} else {
		err = q.ledger.Update(ctx, job.record())
	}
	if err != nil {
		q.logger.Warn("Failed to record job", "jobID", job.ID, "error", err)
	}
}
