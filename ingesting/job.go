package ingesting

import (
	"context"
	"sync"
	"time"

	"github.com/yeti47/clipintake/classification"
	"github.com/yeti47/clipintake/jobstore"
	"github.com/yeti47/clipintake/media"
)

// Status is the lifecycle state of a job. It only moves forward.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusValidating   Status = "validating"
	StatusOffloading   Status = "offloading"
	StatusCompressing  Status = "compressing"
	StatusThumbnailing Status = "thumbnailing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusValidating:
		return 1
	case StatusOffloading:
		return 2
	case StatusCompressing:
		return 3
	case StatusThumbnailing:
		return 4
	default:
		return 5
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Callbacks are invoked from the queue's worker. All are optional.
type Callbacks struct {
	OnStart    func()
	OnProgress func(percent float64, message string)
	OnSuccess  func(asset *AssetDescriptor)
	OnError    func(stage Stage, message string)
}

type Options struct {
	// SkipCompression hands the source back unchanged, and skips the preview
	SkipCompression bool
	// ValidateOnly stops after validation
	ValidateOnly bool
}

// AssetDescriptor is what a successful job hands to its caller. Exactly one of NativePath
// and Buffer is set.
type AssetDescriptor struct {
	ID               string
	DisplayName      string
	Format           string
	FormatTier       string
	OriginalSize     int64
	CompressedSize   int64
	Compressed       bool
	CompressionRatio float64
	NativePath       string
	Buffer           []byte
	Preview          []byte
	Checksum         string
	Backend          string
}

// Job is one submitted video
type Job struct {
	ID        string
	Source    media.Source
	Origin    media.Origin
	Options   Options
	CreatedAt time.Time

	callbacks Callbacks

	// deliver serializes callbacks so progress is never reported after the terminal callback
	deliver sync.Mutex

	mu             sync.Mutex
	size           int64
	classification *classification.Classification
	status         Status
	stage          Stage
	message        string
	progress       float64
	asset          *AssetDescriptor
	err            error
	updatedAt      time.Time
	completedAt    *time.Time
	done           chan struct{}
}

func newJob(id string, src media.Source, origin media.Origin, callbacks Callbacks, opts Options, now time.Time) *Job {
	return &Job{
		ID:        id,
		Source:    src,
		Origin:    origin,
		Options:   opts,
		CreatedAt: now,
		callbacks: callbacks,
		size:      src.DeclaredSize(),
		status:    StatusQueued,
		updatedAt: now,
		done:      make(chan struct{}),
	}
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setClassification(size int64, c classification.Classification) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.size = size
	j.classification = &c
}

// advance moves the job to a later non-terminal state. Backward moves are ignored.
func (j *Job) advance(status Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() || status.rank() <= j.status.rank() {
		return false
	}
	j.status = status
	j.updatedAt = time.Now()
	return true
}

// publishProgress clamps percent so the caller never sees it go backwards, renews the
// heartbeat and forwards it to OnProgress
func (j *Job) publishProgress(percent float64, message string, beat func()) {
	j.deliver.Lock()
	defer j.deliver.Unlock()

	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return
	}
	percent = min(max(percent, j.progress), 100)
	j.progress = percent
	j.mu.Unlock()

	if beat != nil {
		beat()
	}
	if j.callbacks.OnProgress != nil {
		j.callbacks.OnProgress(percent, message)
	}
}

func (j *Job) start() {
	if j.advance(StatusValidating) && j.callbacks.OnStart != nil {
		j.callbacks.OnStart()
	}
}

// complete reports success once. It returns false when the job already ended.
func (j *Job) complete(asset *AssetDescriptor) bool {
	j.deliver.Lock()
	defer j.deliver.Unlock()

	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return false
	}
	now := time.Now()
	j.status = StatusCompleted
	j.progress = 100
	j.asset = asset
	j.updatedAt = now
	j.completedAt = &now
	j.mu.Unlock()

	if j.callbacks.OnSuccess != nil {
		j.callbacks.OnSuccess(asset)
	}
	close(j.done)
	return true
}

// fail reports the error once. It returns false when the job already ended.
func (j *Job) fail(stage Stage, message string, err error) bool {
	j.deliver.Lock()
	defer j.deliver.Unlock()

	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return false
	}
	now := time.Now()
	j.status = StatusFailed
	j.stage = stage
	j.message = message
	j.err = NewJobError(j.ID, stage, message, err)
	j.updatedAt = now
	j.completedAt = &now
	j.mu.Unlock()

	if j.callbacks.OnError != nil {
		j.callbacks.OnError(stage, message)
	}
	close(j.done)
	return true
}

// JobSnapshot is a consistent copy of a job's state
type JobSnapshot struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Origin      string           `json:"origin"`
	Status      Status           `json:"status"`
	Stage       Stage            `json:"stage,omitempty"`
	Message     string           `json:"message,omitempty"`
	Progress    float64          `json:"progress"`
	Size        int64            `json:"size"`
	Tier        string           `json:"tier,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Asset       *AssetDescriptor `json:"-"`
}

func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := JobSnapshot{
		ID:          j.ID,
		Name:        j.Source.Name,
		Origin:      string(j.Origin),
		Status:      j.status,
		Stage:       j.stage,
		Message:     j.message,
		Progress:    j.progress,
		Size:        j.size,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.completedAt,
		Asset:       j.asset,
	}
	if j.classification != nil {
		snap.Tier = j.classification.Tier.String()
	}
	return snap
}

// record converts the job into its ledger form
func (j *Job) record() *jobstore.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := &jobstore.JobRecord{
		ID:          j.ID,
		Name:        j.Source.Name,
		Origin:      string(j.Origin),
		SourceKind:  j.Source.Kind.String(),
		Size:        j.size,
		Status:      string(j.status),
		Stage:       string(j.stage),
		Message:     j.message,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.updatedAt,
		CompletedAt: j.completedAt,
	}
	if j.classification != nil {
		rec.Tier = j.classification.Tier.String()
	}
	if j.asset != nil {
		rec.Backend = j.asset.Backend
		rec.OutputPath = j.asset.NativePath
		rec.CompressedSize = j.asset.CompressedSize
		rec.Ratio = j.asset.CompressionRatio
		rec.Compressed = j.asset.Compressed
		rec.Checksum = j.asset.Checksum
	}
	return rec
}

// JobHandle is returned by Submit
type JobHandle struct {
	job *Job
}

func (h *JobHandle) ID() string { return h.job.ID }

func (h *JobHandle) Status() Status { return h.job.Status() }

func (h *JobHandle) Snapshot() JobSnapshot { return h.job.Snapshot() }

// Done is closed once the job completed or failed
func (h *JobHandle) Done() <-chan struct{} { return h.job.done }

// Wait blocks until the job ends and returns its asset or its JobError
func (h *JobHandle) Wait(ctx context.Context) (*AssetDescriptor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.job.done:
	}

	h.job.mu.Lock()
	defer h.job.mu.Unlock()
	return h.job.asset, h.job.err
}
