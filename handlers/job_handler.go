package handlers

import (
	"context"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeti47/clipintake/ccc/logging"
	"github.com/yeti47/clipintake/ingesting"
	"github.com/yeti47/clipintake/jobstore"
	"github.com/yeti47/clipintake/media"
)

// JobHandler exposes the job queue to local callers
type JobHandler struct {
	logger logging.Logger
	queue  ingesting.JobQueue
	ledger jobstore.JobRepository
}

// NewJobHandler creates a new job handler. ledger may be nil.
func NewJobHandler(logger logging.Logger, queue ingesting.JobQueue, ledger jobstore.JobRepository) *JobHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &JobHandler{
		logger: logger,
		queue:  queue,
		ledger: ledger,
	}
}

// SubmitJobRequest is the body of POST /api/jobs
type SubmitJobRequest struct {
	Path            string `json:"path" binding:"required"`
	Origin          string `json:"origin"`
	Name            string `json:"name"`
	SkipCompression bool   `json:"skip_compression"`
	ValidateOnly    bool   `json:"validate_only"`
}

// AssetResponse describes the output of a completed job
type AssetResponse struct {
	OutputPath       string  `json:"output_path,omitempty"`
	InMemory         bool    `json:"in_memory"`
	Format           string  `json:"format"`
	FormatTier       string  `json:"format_tier"`
	OriginalSize     int64   `json:"original_size"`
	CompressedSize   int64   `json:"compressed_size"`
	Compressed       bool    `json:"compressed"`
	CompressionRatio float64 `json:"compression_ratio"`
	Backend          string  `json:"backend,omitempty"`
	Checksum         string  `json:"checksum,omitempty"`
	HasPreview       bool    `json:"has_preview"`
}

// JobResponse is the state of one job
type JobResponse struct {
	ingesting.JobSnapshot
	Asset *AssetResponse `json:"asset,omitempty"`
}

func newJobResponse(snap ingesting.JobSnapshot) JobResponse {
	resp := JobResponse{JobSnapshot: snap}
	if a := snap.Asset; a != nil {
		resp.Asset = &AssetResponse{
			OutputPath:       a.NativePath,
			InMemory:         a.Buffer != nil,
			Format:           a.Format,
			FormatTier:       a.FormatTier,
			OriginalSize:     a.OriginalSize,
			CompressedSize:   a.CompressedSize,
			Compressed:       a.Compressed,
			CompressionRatio: a.CompressionRatio,
			Backend:          a.Backend,
			Checksum:         a.Checksum,
			HasPreview:       len(a.Preview) > 0,
		}
	}
	return resp
}

func (h *JobHandler) callbacks(name string) ingesting.Callbacks {
	return ingesting.Callbacks{
		OnProgress: func(percent float64, message string) {
			h.logger.Debug("Job progress", "name", name, "percent", percent, "message", message)
		},
		OnError: func(stage ingesting.Stage, message string) {
			h.logger.Warn("Job failed", "name", name, "stage", string(stage), "message", message)
		},
	}
}

// SubmitJob handles POST /api/jobs
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid job request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	src := media.PathSource(req.Path)
	if req.Name != "" {
		src.Name = req.Name
	}

	handle, err := h.queue.Submit(src, media.ParseOrigin(req.Origin), h.callbacks(src.Name), ingesting.Options{
		SkipCompression: req.SkipCompression,
		ValidateOnly:    req.ValidateOnly,
	})
	if err != nil {
		h.logger.Error("Failed to submit job", "path", req.Path, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is not accepting jobs"})
		return
	}
	jobID := handle.ID()

	h.logger.Info("Submitted job", "jobID", jobID, "path", req.Path)
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": handle.Status(),
	})
}

// UploadJob handles POST /api/jobs/upload. The uploaded part is read in place as a byte
// source and closed once the job has ended.
func (h *JobHandler) UploadJob(c *gin.Context) {
	fileHeader, err := c.FormFile("video")
	if err != nil {
		h.logger.Warn("Failed to get uploaded file", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Video file is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process uploaded file"})
		return
	}

	skip, _ := strconv.ParseBool(c.PostForm("skip_compression"))
	validateOnly, _ := strconv.ParseBool(c.PostForm("validate_only"))

	src := media.BytesSource(fileHeader.Filename, fileHeader.Header.Get("Content-Type"), file, fileHeader.Size)

	handle, err := h.queue.Submit(src, media.ParseOrigin(c.PostForm("origin")), h.callbacks(src.Name), ingesting.Options{
		SkipCompression: skip,
		ValidateOnly:    validateOnly,
	})
	if err != nil {
		file.Close()
		h.logger.Error("Failed to submit upload", "filename", fileHeader.Filename, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is not accepting jobs"})
		return
	}
	jobID := handle.ID()
	go closeWhenDone(handle, file)

	h.logger.Info("Submitted upload", "jobID", jobID, "filename", fileHeader.Filename, "size", fileHeader.Size)
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": handle.Status(),
	})
}

func closeWhenDone(handle *ingesting.JobHandle, file multipart.File) {
	<-handle.Done()
	file.Close()
}

// GetJob handles GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	id := c.Param("id")

	if handle, ok := h.queue.Get(id); ok {
		c.JSON(http.StatusOK, newJobResponse(handle.Snapshot()))
		return
	}

	if h.ledger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		record, err := h.ledger.GetByID(ctx, id)
		if err != nil {
			h.logger.Error("Failed to read job ledger", "jobID", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read job"})
			return
		}
		if record != nil {
			c.JSON(http.StatusOK, record)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
}

// ListJobs handles GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	if h.ledger == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []*jobstore.JobRecord{}})
		return
	}

	query := jobstore.JobQuery{Status: c.Query("status")}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && limit > 0 {
		query.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && offset > 0 {
		query.Offset = offset
	}

	records, err := h.ledger.List(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("Failed to list jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}
	if records == nil {
		records = []*jobstore.JobRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records})
}

// GetAsset handles GET /api/jobs/:id/asset
func (h *JobHandler) GetAsset(c *gin.Context) {
	asset, ok := h.completedAsset(c)
	if !ok {
		return
	}

	switch {
	case asset.Buffer != nil:
		c.Data(http.StatusOK, "application/octet-stream", asset.Buffer)
	case asset.NativePath != "":
		c.File(asset.NativePath)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Job produced no asset"})
	}
}

// GetPreview handles GET /api/jobs/:id/preview
func (h *JobHandler) GetPreview(c *gin.Context) {
	asset, ok := h.completedAsset(c)
	if !ok {
		return
	}

	if len(asset.Preview) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No preview available"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", asset.Preview)
}

func (h *JobHandler) completedAsset(c *gin.Context) (*ingesting.AssetDescriptor, bool) {
	handle, ok := h.queue.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return nil, false
	}

	snap := handle.Snapshot()
	if snap.Status != ingesting.StatusCompleted || snap.Asset == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Job has not completed", "status": snap.Status})
		return nil, false
	}
	return snap.Asset, true
}

// GetQueue handles GET /api/queue
func (h *JobHandler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"busy":    h.queue.IsBusy(),
		"pending": h.queue.Pending(),
	})
}
