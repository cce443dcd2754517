package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xfrr/goffmpeg/transcoder"
	"github.com/yeti47/clipintake/ccc/logging"
)

// QualityBitrate is the nominal video bitrate in bits per second for a quality level
func QualityBitrate(q Quality) int64 {
	switch q {
	case QualityLow:
		return 1_500_000
	case QualityHigh:
		return 6_000_000
	default:
		return 3_000_000
	}
}

// FFmpegSettings configures the goffmpeg-backed bridge. goffmpeg finds ffmpeg and ffprobe on
// PATH by itself; see UseBinaries.
type FFmpegSettings struct {
	VideoCodec  string // hardware encoder, e.g. h264_vaapi
	VaapiDevice string
	TempDir     string
}

// FFmpegBridge implements Bridge using goffmpeg
type FFmpegBridge struct {
	settings FFmpegSettings
	logger   logging.Logger

	mu        sync.Mutex
	listeners map[uint64]func(float64)
	nextID    uint64
}

// NewFFmpegBridge creates a new FFmpeg-based media bridge
func NewFFmpegBridge(logger logging.Logger, settings FFmpegSettings) *FFmpegBridge {
	if logger == nil {
		logger = logging.NopLogger
	}
	if settings.VaapiDevice == "" {
		settings.VaapiDevice = "/dev/dri/renderD128"
	}
	if settings.TempDir == "" {
		settings.TempDir = os.TempDir()
	}

	return &FFmpegBridge{
		settings:  settings,
		logger:    logger,
		listeners: make(map[uint64]func(float64)),
	}
}

// ProbeMetadata reads container and stream information with ffprobe
func (b *FFmpegBridge) ProbeMetadata(ctx context.Context, path string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, ""); err != nil {
		return nil, fmt.Errorf("failed to initialize transcoder for metadata: %w", err)
	}

	return b.metadataFrom(trans, path), nil
}

func (b *FFmpegBridge) metadataFrom(trans *transcoder.Transcoder, path string) *Metadata {
	probe := trans.MediaFile().Metadata()
	meta := &Metadata{Format: probe.Format.FormatName}

	if d, err := parseDuration(probe.Format.Duration); err == nil {
		meta.Duration = d
	}
	if size, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil {
		meta.Size = size
	} else if info, statErr := os.Stat(path); statErr == nil {
		meta.Size = info.Size()
	}
	if bitrate, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		meta.Bitrate = bitrate
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if meta.Codec == "" {
				meta.Codec = stream.CodecName
				meta.Width = stream.Width
				meta.Height = stream.Height
			}
		case "audio":
			meta.HasAudio = true
		}
	}

	b.logger.Debug("Probed video metadata", "path", path, "duration", meta.Duration,
		"width", meta.Width, "height", meta.Height, "size", meta.Size, "codec", meta.Codec)
	return meta
}

// Compress re-encodes the input with the configured hardware encoder, bounded to the
// requested resolution and to a bitrate that fits MaxBytes.
func (b *FFmpegBridge) Compress(ctx context.Context, opts CompressOptions) (string, error) {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(opts.InputPath, opts.OutputPath); err != nil {
		return "", fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	var duration time.Duration
	if d, err := parseDuration(trans.MediaFile().Metadata().Format.Duration); err == nil {
		duration = d
	}
	bitrate := TargetBitrate(QualityBitrate(opts.Quality), opts.MaxBytes, duration)

	filters := []string{ScaleFilter(opts.MaxWidth, opts.MaxHeight)}
	if strings.HasSuffix(b.settings.VideoCodec, "_vaapi") {
		trans.MediaFile().SetRawInputArgs([]string{"-vaapi_device", b.settings.VaapiDevice})
		filters = append(filters, "format=nv12", "hwupload")
	}

	trans.MediaFile().SetVideoCodec(b.settings.VideoCodec)
	trans.MediaFile().SetVideoBitRate(strconv.FormatInt(bitrate, 10))
	trans.MediaFile().SetVideoFilter(strings.Join(filters, ","))
	trans.MediaFile().SetAudioCodec("aac")
	trans.MediaFile().SetAudioBitRate("128k")
	trans.MediaFile().SetMovFlags("+faststart")
	trans.MediaFile().SetOutputFormat("mp4")

	b.logger.Info("Starting native compression", "input", opts.InputPath, "codec", b.settings.VideoCodec,
		"bitrate", bitrate, "maxBytes", opts.MaxBytes)

	if err := b.run(ctx, trans, true); err != nil {
		return "", fmt.Errorf("ffmpeg transcoding failed: %w", err)
	}
	return opts.OutputPath, nil
}

// run waits for the transcoder, forwarding progress to listeners and stopping ffmpeg when ctx ends
func (b *FFmpegBridge) run(ctx context.Context, trans *transcoder.Transcoder, reportProgress bool) error {
	done := trans.Run(true)
	progress := trans.Output()

	for {
		select {
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if reportProgress {
				b.notify(p.Progress / 100)
			}
		case err := <-done:
			return err
		case <-ctx.Done():
			if err := trans.Stop(); err != nil {
				b.logger.Warn("Failed to stop ffmpeg", "error", err)
			}
			<-done
			return ctx.Err()
		}
	}
}

func (b *FFmpegBridge) notify(fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	b.mu.Lock()
	listeners := make([]func(float64), 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(fraction)
	}
}

// AddProgressListener implements Bridge
func (b *FFmpegBridge) AddProgressListener(listener func(fraction float64)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// ListenerCount reports active progress subscriptions
func (b *FFmpegBridge) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// ExtractFrame grabs a single frame as JPEG
func (b *FFmpegBridge) ExtractFrame(ctx context.Context, path string, at time.Duration, maxW, maxH int) ([]byte, error) {
	framePath := filepath.Join(b.settings.TempDir, fmt.Sprintf("frame_%s.jpg", uuid.NewString()))
	defer os.Remove(framePath)

	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, framePath); err != nil {
		return nil, fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	trans.MediaFile().SetSeekTime(formatSeekTime(at))
	trans.MediaFile().SetVideoFilter(ScaleFilter(maxW, maxH))
	trans.MediaFile().SetVideoCodec("mjpeg")
	trans.MediaFile().SetVframes(1)
	trans.MediaFile().SetSkipAudio(true)
	trans.MediaFile().SetOutputFormat("image2")

	if err := b.run(ctx, trans, false); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w", err)
	}

	data, err := os.ReadFile(framePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no frame at %v", at)
	}
	return data, nil
}

// ScaleFilter fits the video inside maxW x maxH keeping aspect ratio and even dimensions
func ScaleFilter(maxW, maxH int) string {
	return fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2", maxW, maxH)
}

// TargetBitrate caps the nominal bitrate so that duration worth of video fits maxBytes.
// Never goes below 500kbps.
func TargetBitrate(nominal, maxBytes int64, duration time.Duration) int64 {
	const floor = 500_000

	bitrate := nominal
	if maxBytes > 0 && duration > 0 {
		capped := int64(float64(maxBytes*8) / duration.Seconds())
		if capped < bitrate {
			bitrate = capped
		}
	}
	if bitrate < floor {
		bitrate = floor
	}
	return bitrate
}

func formatSeekTime(d time.Duration) string {
	total := d.Milliseconds()
	h := total / 3_600_000
	m := (total / 60_000) % 60
	s := (total / 1000) % 60
	ms := total % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func parseDuration(durationStr string) (time.Duration, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration in video metadata")
	}

	durationSeconds, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration '%s': %w", durationStr, err)
	}

	if durationSeconds <= 0 {
		return 0, fmt.Errorf("invalid or zero duration: %f seconds", durationSeconds)
	}

	return time.Duration(durationSeconds * float64(time.Second)), nil
}
