package compression

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/yeti47/clipintake/ccc/logging"
	filemanagement "github.com/yeti47/clipintake/file-management"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/resources"
)

const (
	softwareFPS       = 24
	softwareMaxWidth  = 960
	softwareMaxHeight = 540

	// above this size a failed software encode fails the job instead of keeping the original
	fallbackMaxBytes = 50 * mib
)

// FrameStream yields canvas frames sampled at a fixed rate
type FrameStream interface {
	// Size is the canvas resolution every frame is rendered at
	Size() (width, height int)
	Duration() time.Duration
	HasAudio() bool
	// NextFrame returns the next JPEG-encoded canvas frame and its presentation time, or io.EOF
	NextFrame() ([]byte, time.Duration, error)
	Close() error
}

// Rasterizer decodes a video file into a FrameStream
type Rasterizer interface {
	Open(ctx context.Context, path string, maxWidth, maxHeight int, fps int) (FrameStream, error)
}

type MuxOptions struct {
	Width   int
	Height  int
	FPS     int
	Bitrate int64
	// AudioSource is a file whose audio track is copied into the output; empty for none
	AudioSource string
}

// MuxSession encodes frames and writes the container to the sink as segments become available
type MuxSession interface {
	WriteFrame(jpeg []byte) error
	// Close flushes the encoder and waits until everything reached the sink
	Close() error
}

// Muxer is the software encode primitive
type Muxer interface {
	Start(ctx context.Context, opts MuxOptions, sink io.Writer) (MuxSession, error)
}

// SoftwareBackend re-encodes by sampling frames into a bounded canvas
type SoftwareBackend struct {
	rasterizer Rasterizer
	muxer      Muxer
	storage    filemanagement.StableStorage
	logger     logging.Logger
}

func NewSoftwareBackend(logger logging.Logger, rasterizer Rasterizer, muxer Muxer, storage filemanagement.StableStorage) *SoftwareBackend {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &SoftwareBackend{
		rasterizer: rasterizer,
		muxer:      muxer,
		storage:    storage,
		logger:     logger,
	}
}

func (b *SoftwareBackend) Name() string { return "software" }

// Compress implements Backend
func (b *SoftwareBackend) Compress(ctx context.Context, req Request) (*Result, error) {
	registry := req.Registry
	if registry == nil {
		registry = resources.NewRegistry(b.logger)
		defer registry.ReleaseAll()
	}

	original := originalSize(req)
	result, err := b.encode(ctx, req, registry, original)
	if err == nil {
		return result, nil
	}

	if original > fallbackMaxBytes || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if IsCompressionError(err) {
			return nil, err
		}
		return nil, NewCompressionError(BackendFailed, b.Name(), err)
	}

	b.logger.Warn("Software encode failed, keeping original", "path", req.SourcePath, "size", original, "error", err)
	report(req, 1)

	fallback := &Result{
		Backend:        b.Name(),
		OutputPath:     req.SourcePath,
		OriginalSize:   original,
		CompressedSize: original,
		Ratio:          0,
		Compressed:     false,
	}
	if result != nil {
		fallback.Thumbnail = result.Thumbnail
	}
	return fallback, nil
}

// encode returns a partial result carrying the thumbnail even when it fails
func (b *SoftwareBackend) encode(ctx context.Context, req Request, registry *resources.Registry, original int64) (*Result, error) {
	maxW := min(positiveOr(req.MaxWidth, softwareMaxWidth), softwareMaxWidth)
	maxH := min(positiveOr(req.MaxHeight, softwareMaxHeight), softwareMaxHeight)

	stream, err := b.rasterizer.Open(ctx, req.SourcePath, maxW, maxH, softwareFPS)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame stream: %w", err)
	}
	capture := registry.Register("frame-stream", stream.Close)
	defer capture.Release()

	width, height := stream.Size()
	duration := stream.Duration()
	bitrate := media.TargetBitrate(media.QualityBitrate(req.Quality), req.TargetMaxBytes, duration)

	opts := MuxOptions{Width: width, Height: height, FPS: softwareFPS, Bitrate: bitrate}
	if stream.HasAudio() {
		opts.AudioSource = req.SourcePath
	}

	sink := filemanagement.NewAppendWriter(b.storage, filepath.Base(b.storage.TempPath("_software.mp4")))
	var output *resources.Entry
	sink.OnCreate = func(path string) {
		output = registry.RegisterFile(path, b.storage.Delete)
	}

	b.logger.Info("Compressing with software backend", "path", req.SourcePath, "canvas", fmt.Sprintf("%dx%d", width, height),
		"bitrate", bitrate, "audio", opts.AudioSource != "")

	session, err := b.muxer.Start(ctx, opts, sink)
	if err != nil {
		return nil, fmt.Errorf("failed to start muxer: %w", err)
	}

	partial := &Result{Backend: b.Name()}
	fail := func(err error) (*Result, error) {
		session.Close()
		if output != nil {
			output.Release()
		}
		return partial, err
	}

	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		frame, pts, err := stream.NextFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("failed to render frame %d: %w", frames, err))
		}

		if partial.Thumbnail == nil {
			partial.Thumbnail = frame
		}
		if err := session.WriteFrame(frame); err != nil {
			return fail(fmt.Errorf("failed to encode frame %d: %w", frames, err))
		}
		frames++

		if duration > 0 {
			report(req, min(float64(pts)/float64(duration), 0.99))
		}
	}

	if err := session.Close(); err != nil {
		if output != nil {
			output.Release()
		}
		return partial, fmt.Errorf("failed to finish encoding: %w", err)
	}

	if frames == 0 || sink.Written() <= 0 {
		if output != nil {
			output.Release()
		}
		return partial, NewCompressionError(InvalidCompressedOutput, b.Name(), fmt.Errorf("no output after %d frames", frames))
	}

	report(req, 1)
	b.logger.Info("Software compression complete", "frames", frames, "size", sink.Written())

	return &Result{
		Backend:        b.Name(),
		OutputPath:     sink.Path(),
		OriginalSize:   original,
		CompressedSize: sink.Written(),
		Ratio:          Ratio(original, sink.Written()),
		Bitrate:        bitrate,
		Thumbnail:      partial.Thumbnail,
		Compressed:     true,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
