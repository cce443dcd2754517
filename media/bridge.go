package media

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Quality is the caller-facing quality knob shared by both compression backends
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ParseQuality is case-insensitive and falls back to QualityMedium
func ParseQuality(s string) Quality {
	switch Quality(strings.ToLower(s)) {
	case QualityLow:
		return QualityLow
	case QualityHigh:
		return QualityHigh
	default:
		return QualityMedium
	}
}

// Metadata is what a probe can tell about a video file. Zero values mean unknown.
type Metadata struct {
	Duration time.Duration
	Width    int
	Height   int
	Size     int64
	Bitrate  int64
	Codec    string
	Format   string
	HasAudio bool
}

type CompressOptions struct {
	InputPath  string
	OutputPath string
	MaxBytes   int64
	Quality    Quality
	MaxWidth   int
	MaxHeight  int
}

// Bridge is the platform media capability used by the native backend, the validator and the
// thumbnail generator.
type Bridge interface {
	ProbeMetadata(ctx context.Context, path string) (*Metadata, error)

	// Compress writes the encoded file and returns its path
	Compress(ctx context.Context, opts CompressOptions) (string, error)

	// AddProgressListener subscribes to compression progress in [0,1]. The returned func
	// unsubscribes and is safe to call more than once.
	AddProgressListener(listener func(fraction float64)) (remove func())

	// ExtractFrame returns a JPEG of the frame at the given offset, scaled to fit maxW x maxH
	ExtractFrame(ctx context.Context, path string, at time.Duration, maxW, maxH int) ([]byte, error)
}

// Capabilities is the result of the startup probe
type Capabilities struct {
	Native      bool
	FFmpegPath  string
	FFprobePath string
	VideoCodec  string
	Reason      string
}

func (c Capabilities) String() string {
	if c.Native {
		return fmt.Sprintf("native (%s)", c.VideoCodec)
	}
	return fmt.Sprintf("software (%s)", c.Reason)
}
