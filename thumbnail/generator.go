package thumbnail

import (
	"context"
	"time"

	"github.com/yeti47/clipintake/ccc/logging"
	"github.com/yeti47/clipintake/media"
)

const (
	Width  = 320
	Height = 240
)

// seekOffsets are tried in order; very short clips have no frame at 1s
var seekOffsets = []time.Duration{time.Second, 0}

// Generator derives a preview image for a finished artifact
type Generator interface {
	// Generate never fails the job: it returns nil when no preview could be made
	Generate(ctx context.Context, path string, byproduct []byte) []byte
}

// FrameGenerator prefers frame extraction through the media bridge and falls back to the
// byproduct frame of the software backend. A nil bridge means extraction is unavailable.
type FrameGenerator struct {
	bridge media.Bridge
	logger logging.Logger
}

func NewFrameGenerator(logger logging.Logger, bridge media.Bridge) *FrameGenerator {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &FrameGenerator{
		bridge: bridge,
		logger: logger,
	}
}

// Generate implements Generator
func (g *FrameGenerator) Generate(ctx context.Context, path string, byproduct []byte) []byte {
	if g.bridge != nil && path != "" {
		for _, at := range seekOffsets {
			if ctx.Err() != nil {
				break
			}
			data, err := g.bridge.ExtractFrame(ctx, path, at, Width, Height)
			if err == nil && len(data) > 0 {
				g.logger.Debug("Extracted thumbnail", "path", path, "at", at, "bytes", len(data))
				return data
			}
			g.logger.Debug("Frame extraction failed", "path", path, "at", at, "error", err)
		}
	}

	if len(byproduct) > 0 {
		return byproduct
	}

	g.logger.Warn("No thumbnail available", "path", path)
	return nil
}
