package compression

import (
	"context"
	"fmt"
	"time"

	"github.com/yeti47/clipintake/ccc/logging"
	filemanagement "github.com/yeti47/clipintake/file-management"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/resources"
)

// NativeBackend hands the file to the platform encoder through the media bridge
type NativeBackend struct {
	bridge  media.Bridge
	storage filemanagement.StableStorage
	logger  logging.Logger
}

func NewNativeBackend(logger logging.Logger, bridge media.Bridge, storage filemanagement.StableStorage) *NativeBackend {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &NativeBackend{
		bridge:  bridge,
		storage: storage,
		logger:  logger,
	}
}

func (b *NativeBackend) Name() string { return "native" }

// TightenTarget lowers the size target for short clips, which otherwise end up with far
// more bitrate than they need.
func TightenTarget(target int64, duration time.Duration) int64 {
	if duration <= 0 || duration >= 60*time.Second {
		return target
	}
	if target > 10*mib {
		target = 10 * mib
	}
	if duration < 15*time.Second && target > 5*mib {
		target = 5 * mib
	}
	return target
}

// Tolerance is the largest output accepted for a target
func Tolerance(target int64) int64 {
	return max(10*mib, 2*target)
}

// Compress implements Backend
func (b *NativeBackend) Compress(ctx context.Context, req Request) (*Result, error) {
	registry := req.Registry
	if registry == nil {
		registry = resources.NewRegistry(b.logger)
		defer registry.ReleaseAll()
	}

	target := req.TargetMaxBytes
	if meta, err := b.bridge.ProbeMetadata(ctx, req.SourcePath); err != nil {
		b.logger.Warn("Could not read metadata for target adjustment", "path", req.SourcePath, "error", err)
	} else {
		target = TightenTarget(target, meta.Duration)
	}

	remove := b.bridge.AddProgressListener(func(fraction float64) {
		report(req, fraction)
	})
	listener := registry.Register("progress-listener", func() error {
		remove()
		return nil
	})
	defer listener.Release()

	requested := b.storage.TempPath("_native.mp4")
	output := registry.RegisterFile(requested, b.storage.Delete)

	b.logger.Info("Compressing with native backend", "path", req.SourcePath, "target", target,
		"quality", req.Quality, "maxWidth", req.MaxWidth, "maxHeight", req.MaxHeight)

	outputPath, err := b.bridge.Compress(ctx, media.CompressOptions{
		InputPath:  req.SourcePath,
		OutputPath: requested,
		MaxBytes:   target,
		Quality:    req.Quality,
		MaxWidth:   req.MaxWidth,
		MaxHeight:  req.MaxHeight,
	})
	if err != nil {
		output.Release()
		return nil, NewCompressionError(BackendFailed, b.Name(), err)
	}
	if outputPath != requested {
		output = registry.RegisterFile(outputPath, b.storage.Delete)
	}

	// trust the file on disk, not the encoder's report
	meta, err := b.bridge.ProbeMetadata(ctx, outputPath)
	if err != nil || meta.Size <= 0 {
		output.Release()
		if err == nil {
			err = fmt.Errorf("output size %d", meta.Size)
		}
		return nil, NewCompressionError(InvalidCompressedOutput, b.Name(), err)
	}

	// tolerance follows the caller's target, not the tightened one
	if limit := Tolerance(req.TargetMaxBytes); meta.Size > limit {
		output.Release()
		return nil, NewCompressionError(CompressionTooLarge, b.Name(),
			fmt.Errorf("output is %d bytes, limit %d", meta.Size, limit))
	}

	original := originalSize(req)
	report(req, 1)

	return &Result{
		Backend:        b.Name(),
		OutputPath:     outputPath,
		OriginalSize:   original,
		CompressedSize: meta.Size,
		Ratio:          Ratio(original, meta.Size),
		Bitrate:        meta.Bitrate,
		Compressed:     true,
	}, nil
}
