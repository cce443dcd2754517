package ingesting

import (
	"context"
	"fmt"
	"os"

	"github.com/yeti47/clipintake/ccc/logging"
	"github.com/yeti47/clipintake/classification"
	"github.com/yeti47/clipintake/compression"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/offload"
	"github.com/yeti47/clipintake/resources"
	"github.com/yeti47/clipintake/thumbnail"
	"github.com/yeti47/clipintake/validation"
)

// Progress milestones, in percent of the whole job
const (
	progressValidated   = 10
	progressOffloaded   = 70
	progressCompressed  = 99
	progressThumbnailed = 99
	progressDone        = 100
)

// Offloader moves a byte source into stable storage
type Offloader interface {
	Offload(ctx context.Context, src media.Source, registry *resources.Registry, progress offload.ProgressFunc) (*offload.Result, error)
}

type PipelineSettings struct {
	TargetMaxBytes int64
	Quality        media.Quality
	MaxWidth       int
	MaxHeight      int
	ChunkSize      int
	MemoryLimit    int64
}

// Pipeline runs the phases of a single job in order. It holds no per-job state.
type Pipeline struct {
	validator  validation.Validator
	offloader  Offloader
	backend    compression.Backend
	thumbnails thumbnail.Generator
	settings   PipelineSettings
	logger     logging.Logger
}

func NewPipeline(logger logging.Logger, validator validation.Validator, offloader Offloader, backend compression.Backend, thumbnails thumbnail.Generator, settings PipelineSettings) *Pipeline {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &Pipeline{
		validator:  validator,
		offloader:  offloader,
		backend:    backend,
		thumbnails: thumbnails,
		settings:   settings,
		logger:     logger,
	}
}

// reporter publishes job progress and renews the heartbeat on every event
type reporter struct {
	job  *Job
	beat func()
	// transitioned is called after every status change
	transitioned func()
}

func (r *reporter) start() {
	r.job.start()
	r.notify()
}

func (r *reporter) advance(status Status) {
	if r.job.advance(status) {
		r.notify()
	}
}

func (r *reporter) notify() {
	if r.transitioned != nil {
		r.transitioned()
	}
}

func (r *reporter) report(percent float64, message string) {
	r.job.publishProgress(percent, message, r.beat)
}

// span maps a phase-local fraction onto [from, to]
func (r *reporter) span(from, to float64, message string) func(float64) {
	return func(fraction float64) {
		fraction = min(max(fraction, 0), 1)
		r.report(from+fraction*(to-from), message)
	}
}

// Process runs validation, optional offload and compression, and the preview for job.
// Every file it creates is registered with registry; the caller decides what to keep.
func (p *Pipeline) Process(ctx context.Context, job *Job, rep *reporter, registry *resources.Registry) (*AssetDescriptor, error) {
	src := job.Source
	logger := p.logger

	size := sourceSize(src)
	cls := classification.Classify(size, job.Origin)
	job.setClassification(size, cls)

	rep.start()
	rep.report(0, "Validating video")

	result, err := p.validator.Validate(ctx, src, job.Origin)
	if err != nil {
		return nil, err
	}
	if size == 0 && result.Size > 0 {
		size = result.Size
		cls = classification.Classify(size, job.Origin)
		job.setClassification(size, cls)
	}
	rep.report(progressValidated, "Video validated")

	logger.Info("Job classified", "jobID", job.ID, "size", size, "tier", cls.Tier.String(),
		"format", result.Format, "requiresCompression", cls.RequiresCompression, "memorySafe", cls.MemorySafe)

	asset := &AssetDescriptor{
		ID:           job.ID,
		DisplayName:  src.Name,
		Format:       result.Format,
		FormatTier:   cls.Tier.String(),
		OriginalSize: size,
	}

	if job.Options.ValidateOnly {
		asset.NativePath = src.FilePath()
		asset.CompressedSize = size
		rep.report(progressDone, "Validation complete")
		return asset, nil
	}

	compress := (cls.RequiresCompression || job.Origin == media.OriginCamera) && !job.Options.SkipCompression

	inputPath := src.FilePath()
	compressFrom := float64(progressValidated)
	if src.Kind == media.SourceBytes {
		if !compress && cls.MemorySafe {
			buf, err := offload.Buffer(ctx, src, p.settings.ChunkSize, p.settings.MemoryLimit)
			if err != nil {
				return nil, err
			}
			asset.Buffer = buf
			asset.CompressedSize = int64(len(buf))
			rep.report(progressDone, "Video ready")
			return asset, nil
		}

		rep.advance(StatusOffloading)
		offloadTo := float64(progressOffloaded)
		if !compress {
			offloadTo = progressThumbnailed
		}
		rep.report(progressValidated, "Saving video")

		stored, err := p.offloader.Offload(ctx, src, registry, rep.span(progressValidated, offloadTo, "Saving video"))
		if err != nil {
			return nil, err
		}
		inputPath = stored.Path
		asset.Checksum = stored.Checksum
		compressFrom = offloadTo
	}

	finalPath := inputPath
	finalSize := size
	var byproduct []byte

	if compress {
		rep.advance(StatusCompressing)
		rep.report(compressFrom, "Compressing video")

		compressed, err := p.backend.Compress(ctx, compression.Request{
			SourcePath:     inputPath,
			OriginalSize:   size,
			TargetMaxBytes: p.settings.TargetMaxBytes,
			Quality:        p.settings.Quality,
			MaxWidth:       p.settings.MaxWidth,
			MaxHeight:      p.settings.MaxHeight,
			Progress:       rep.span(compressFrom, progressCompressed, "Compressing video"),
			Registry:       registry,
		})
		if err != nil {
			return nil, err
		}

		finalPath = compressed.OutputPath
		finalSize = compressed.CompressedSize
		byproduct = compressed.Thumbnail
		asset.Backend = compressed.Backend
		asset.Compressed = compressed.Compressed
		asset.CompressionRatio = compressed.Ratio

		logger.Info("Compression finished", "jobID", job.ID, "backend", compressed.Backend,
			"originalSize", compressed.OriginalSize, "compressedSize", compressed.CompressedSize,
			"ratio", fmt.Sprintf("%.1f%%", compressed.Ratio), "compressed", compressed.Compressed)
	}

	if !job.Options.SkipCompression {
		rep.advance(StatusThumbnailing)
		asset.Preview = p.thumbnails.Generate(ctx, finalPath, byproduct)
		rep.report(progressThumbnailed, "Preview ready")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	asset.NativePath = finalPath
	asset.CompressedSize = finalSize
	rep.report(progressDone, "Video ready")
	return asset, nil
}

// sourceSize is the size known before validation. Paths are stat'ed, never read.
func sourceSize(src media.Source) int64 {
	if size := src.DeclaredSize(); size > 0 {
		return size
	}
	if path := src.FilePath(); path != "" {
		if info, err := os.Stat(path); err == nil {
			return info.Size()
		}
	}
	return 0
}
