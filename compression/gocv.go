package compression

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/yeti47/clipintake/ccc/logging"
	"github.com/yeti47/clipintake/media"
	"gocv.io/x/gocv"
)

// FitCanvas scales srcW x srcH down to fit maxW x maxH, keeping aspect ratio and even dimensions.
// Sources are never scaled up.
func FitCanvas(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return evenFloor(maxW), evenFloor(maxH)
	}

	scale := 1.0
	if sx := float64(maxW) / float64(srcW); sx < scale {
		scale = sx
	}
	if sy := float64(maxH) / float64(srcH); sy < scale {
		scale = sy
	}

	return evenFloor(int(float64(srcW) * scale)), evenFloor(int(float64(srcH) * scale))
}

func evenFloor(v int) int {
	v = (v / 2) * 2
	if v < 2 {
		return 2
	}
	return v
}

// GocvRasterizer implements Rasterizer with OpenCV video capture
type GocvRasterizer struct {
	// prober is optional and only used to detect an audio track
	prober media.Bridge
	logger logging.Logger
}

func NewGocvRasterizer(logger logging.Logger, prober media.Bridge) *GocvRasterizer {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &GocvRasterizer{prober: prober, logger: logger}
}

// Open implements Rasterizer
func (r *GocvRasterizer) Open(ctx context.Context, path string, maxWidth, maxHeight int, fps int) (FrameStream, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture for %s is not open", path)
	}

	srcFPS := capture.Get(gocv.VideoCaptureFPS)
	if srcFPS <= 0 {
		srcFPS = 30
	}
	frameCount := capture.Get(gocv.VideoCaptureFrameCount)
	srcW := int(capture.Get(gocv.VideoCaptureFrameWidth))
	srcH := int(capture.Get(gocv.VideoCaptureFrameHeight))

	width, height := FitCanvas(srcW, srcH, maxWidth, maxHeight)

	hasAudio := false
	if r.prober != nil {
		if meta, err := r.prober.ProbeMetadata(ctx, path); err == nil {
			hasAudio = meta.HasAudio
		} else {
			r.logger.Debug("Audio probe failed, encoding without audio", "path", path, "error", err)
		}
	}

	r.logger.Debug("Opened frame stream", "path", path, "source", fmt.Sprintf("%dx%d@%.2f", srcW, srcH, srcFPS),
		"canvas", fmt.Sprintf("%dx%d", width, height))

	return &gocvStream{
		capture:  capture,
		frame:    gocv.NewMat(),
		canvas:   gocv.NewMat(),
		width:    width,
		height:   height,
		fps:      float64(fps),
		srcFPS:   srcFPS,
		duration: time.Duration(frameCount / srcFPS * float64(time.Second)),
		hasAudio: hasAudio,
	}, nil
}

type gocvStream struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	canvas  gocv.Mat

	width, height int
	fps, srcFPS   float64
	duration      time.Duration
	hasAudio      bool

	srcIndex  int // frames read from the source so far
	outIndex  int // frames emitted so far
	haveFrame bool
	exhausted bool
}

func (s *gocvStream) Size() (int, int)        { return s.width, s.height }
func (s *gocvStream) Duration() time.Duration { return s.duration }
func (s *gocvStream) HasAudio() bool          { return s.hasAudio }

// NextFrame emits the latest source frame at or before the next output timestamp,
// repeating frames when the source is slower than the output rate.
func (s *gocvStream) NextFrame() ([]byte, time.Duration, error) {
	target := float64(s.outIndex) / s.fps

	for !s.exhausted && (!s.haveFrame || float64(s.srcIndex)/s.srcFPS <= target) {
		if ok := s.capture.Read(&s.frame); !ok || s.frame.Empty() {
			s.exhausted = true
			break
		}
		s.haveFrame = true
		s.srcIndex++
	}

	if !s.haveFrame || (s.exhausted && target >= float64(s.srcIndex)/s.srcFPS) {
		return nil, 0, io.EOF
	}

	gocv.Resize(s.frame, &s.canvas, image.Point{X: s.width, Y: s.height}, 0, 0, gocv.InterpolationArea)
	if s.canvas.Empty() {
		return nil, 0, fmt.Errorf("failed to resize frame %d", s.srcIndex)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.canvas)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode frame: %w", err)
	}
	data := bytes.Clone(buf.GetBytes())
	buf.Close()

	pts := time.Duration(target * float64(time.Second))
	s.outIndex++
	return data, pts, nil
}

func (s *gocvStream) Close() error {
	s.frame.Close()
	s.canvas.Close()
	return s.capture.Close()
}
