package validation

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/yeti47/clipintake/ccc/logging"
	"github.com/yeti47/clipintake/media"
)

var validMimeTypes = []string{"video/mp4", "video/quicktime", "video/webm", "video/mov"}

var fallbackExtensions = []string{"mp4", "mov", "webm", "m4v"}

// Result describes an accepted source. Size is 0 when it could not be determined.
type Result struct {
	IsValid  bool
	Format   string
	Size     int64
	Duration time.Duration
}

type Settings struct {
	CameraCapBytes int64
	MaxDuration    time.Duration
}

// Validator checks that a source looks like a playable video without reading it fully
type Validator interface {
	Validate(ctx context.Context, src media.Source, origin media.Origin) (*Result, error)
}

// SourceValidator implements Validator. The bridge may be nil, in which case path sources
// are judged by extension only.
type SourceValidator struct {
	bridge   media.Bridge
	settings Settings
	logger   logging.Logger
}

func NewSourceValidator(logger logging.Logger, bridge media.Bridge, settings Settings) *SourceValidator {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &SourceValidator{
		bridge:   bridge,
		settings: settings,
		logger:   logger,
	}
}

// Validate implements Validator
func (v *SourceValidator) Validate(ctx context.Context, src media.Source, origin media.Origin) (*Result, error) {
	switch src.Kind {
	case media.SourceBytes:
		return v.validateBytes(src, origin)
	case media.SourceNative:
		if src.Native.Size > 0 || src.Native.Duration > 0 {
			return v.checkLimits(&Result{
				IsValid:  true,
				Format:   formatFromName(src.FilePath()),
				Size:     src.Native.Size,
				Duration: src.Native.Duration,
			}, origin)
		}
		return v.validatePath(ctx, src.FilePath(), origin)
	case media.SourcePath:
		return v.validatePath(ctx, src.FilePath(), origin)
	default:
		return nil, NewValidationError(ReasonUnreadable, "unknown source kind", nil)
	}
}

func (v *SourceValidator) validatePath(ctx context.Context, path string, origin media.Origin) (*Result, error) {
	if path == "" {
		return nil, NewValidationError(ReasonUnreadable, "empty video path", nil)
	}

	if v.bridge != nil {
		meta, err := v.bridge.ProbeMetadata(ctx, path)
		if err == nil {
			format := formatFromName(path)
			if format == "" {
				format = meta.Format
			}
			return v.checkLimits(&Result{
				IsValid:  true,
				Format:   format,
				Size:     meta.Size,
				Duration: meta.Duration,
			}, origin)
		}
		v.logger.Warn("Metadata probe failed, falling back to extension", "path", path, "error", err)
	}

	ext := formatFromName(path)
	if slices.Contains(fallbackExtensions, ext) {
		// size stays 0 when even a stat fails; the camera cap still applies when it is known
		result := &Result{IsValid: true, Format: ext}
		if info, err := os.Stat(path); err == nil {
			result.Size = info.Size()
		}
		return v.checkLimits(result, origin)
	}

	return nil, NewValidationError(ReasonUnreadable, "invalid or inaccessible video path", nil)
}

func (v *SourceValidator) validateBytes(src media.Source, origin media.Origin) (*Result, error) {
	if src.Size <= 0 || src.Reader == nil {
		return nil, NewValidationError(ReasonEmpty, "video file is empty", nil)
	}

	mimeType := strings.ToLower(src.MimeType)
	if mimeType != "" && !slices.Contains(validMimeTypes, mimeType) {
		return nil, NewValidationError(ReasonUnsupported, fmt.Sprintf("unsupported video type %q", src.MimeType), nil)
	}

	prefix := make([]byte, min(int64(PrefixSize), src.Size))
	n, err := src.Reader.ReadAt(prefix, 0)
	if err != nil && err != io.EOF {
		return nil, NewValidationError(ReasonUnreadable, "could not read video header", err)
	}
	prefix = prefix[:n]

	var format string
	switch {
	case hasFtyp(prefix):
		format = "mp4"
		if brand := mp4Brand(prefix); brand == "qt  " {
			format = "mov"
		}
	case hasMOVSignature(prefix):
		format = "mov"
	case mimeType == "video/webm":
		format = "webm"
	default:
		return nil, NewValidationError(ReasonInvalidFormat, "invalid or corrupted video format", nil)
	}

	if sniffed, ok := SniffFormat(prefix); ok {
		v.logger.Debug("Sniffed container", "name", src.Name, "container", sniffed, "accepted", format)
	}

	return v.checkLimits(&Result{IsValid: true, Format: format, Size: src.Size}, origin)
}

// checkLimits applies the duration cap and, for camera captures, the hard size cap
func (v *SourceValidator) checkLimits(result *Result, origin media.Origin) (*Result, error) {
	if v.settings.MaxDuration > 0 && result.Duration > v.settings.MaxDuration {
		return nil, NewValidationError(ReasonTooLong,
			fmt.Sprintf("video must be at most %s long", v.settings.MaxDuration), nil)
	}

	if origin == media.OriginCamera && v.settings.CameraCapBytes > 0 && result.Size > v.settings.CameraCapBytes {
		sizeMB := float64(result.Size) / (1024 * 1024)
		return nil, NewValidationError(ReasonTooLarge,
			fmt.Sprintf("camera video too large (%.1f MB); record in HD at 30fps", sizeMB), nil)
	}

	return result, nil
}

func formatFromName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 && i < len(name)-1 {
		ext := strings.ToLower(name[i+1:])
		if !strings.ContainsAny(ext, "/\\") {
			return ext
		}
	}
	return ""
}
