package compression

import (
	"context"
	"os"

	"github.com/yeti47/clipintake/ccc/logging"
	filemanagement "github.com/yeti47/clipintake/file-management"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/resources"
)

const mib = 1024 * 1024

// Request is the common input of both backends
type Request struct {
	SourcePath     string
	OriginalSize   int64
	TargetMaxBytes int64
	Quality        media.Quality
	MaxWidth       int
	MaxHeight      int

	// Progress receives the backend's own progress in [0,1]
	Progress func(fraction float64)

	// Registry receives every file and subscription the backend creates
	Registry *resources.Registry
}

// Result of a compression. OutputPath is the original source when Compressed is false.
type Result struct {
	Backend        string
	OutputPath     string
	OriginalSize   int64
	CompressedSize int64
	Ratio          float64
	Bitrate        int64
	Thumbnail      []byte
	Compressed     bool
}

// Backend is one compression strategy
type Backend interface {
	Name() string
	Compress(ctx context.Context, req Request) (*Result, error)
}

// Select picks the backend for this process from the startup capability probe
func Select(logger logging.Logger, caps media.Capabilities, bridge media.Bridge, storage filemanagement.StableStorage, rasterizer Rasterizer, muxer Muxer) Backend {
	if logger == nil {
		logger = logging.NopLogger
	}

	if caps.Native && bridge != nil {
		logger.Info("Using native compression backend", "codec", caps.VideoCodec)
		return NewNativeBackend(logger, bridge, storage)
	}

	logger.Info("Using software compression backend", "reason", caps.Reason)
	return NewSoftwareBackend(logger, rasterizer, muxer, storage)
}

// Ratio is the share of bytes saved, in percent
func Ratio(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-compressed) / float64(original) * 100
}

func originalSize(req Request) int64 {
	if req.OriginalSize > 0 {
		return req.OriginalSize
	}
	if info, err := os.Stat(req.SourcePath); err == nil {
		return info.Size()
	}
	return 0
}

func report(req Request, fraction float64) {
	if req.Progress != nil {
		req.Progress(fraction)
	}
}
