package offload

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/yeti47/clipintake/ccc/logging"
	filemanagement "github.com/yeti47/clipintake/file-management"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/resources"
	"golang.org/x/crypto/blake2b"
)

// Result describes the file an offload produced
type Result struct {
	Path     string
	Size     int64
	Checksum string // hex blake2b-256 of the written bytes
}

type Settings struct {
	ChunkSize int
	Yield     time.Duration
}

// ProgressFunc receives the fraction of bytes written, in [0,1]
type ProgressFunc func(fraction float64)

// Offloader moves a byte source into stable storage one chunk at a time
type Offloader struct {
	storage  filemanagement.StableStorage
	settings Settings
	logger   logging.Logger

	// observed peak of buffered bytes, for tests and diagnostics
	peakResident int
}

func NewOffloader(logger logging.Logger, storage filemanagement.StableStorage, settings Settings) *Offloader {
	if logger == nil {
		logger = logging.NopLogger
	}
	if settings.ChunkSize <= 0 {
		settings.ChunkSize = 1024 * 1024
	}

	return &Offloader{
		storage:  storage,
		settings: settings,
		logger:   logger,
	}
}

// Offload copies src into a new file in stable storage. The destination is registered with
// registry as soon as it exists, so a partial file is removed when the job releases its resources.
// Only one chunk-sized buffer is ever resident.
func (o *Offloader) Offload(ctx context.Context, src media.Source, registry *resources.Registry, progress ProgressFunc) (*Result, error) {
	if src.Kind != media.SourceBytes || src.Reader == nil {
		return nil, NewOffloadError(0, fmt.Errorf("source kind %s cannot be offloaded", src.Kind))
	}
	total := src.Size
	if total <= 0 {
		return nil, NewOffloadError(0, fmt.Errorf("nothing to offload"))
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, NewOffloadError(0, err)
	}

	name := "offload_" + filepath.Base(o.storage.TempPath(extensionFor(src)))
	buf := make([]byte, o.settings.ChunkSize)
	if len(buf) > o.peakResident {
		o.peakResident = len(buf)
	}

	var path string
	var written int64
	for written < total {
		if err := ctx.Err(); err != nil {
			return nil, NewOffloadError(written, err)
		}

		chunk := buf[:min(int64(len(buf)), total-written)]
		n, err := src.Reader.ReadAt(chunk, written)
		if n < len(chunk) {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, NewOffloadError(written, fmt.Errorf("failed to read chunk: %w", err))
		}

		if path == "" {
			path, err = o.storage.Create(name, chunk)
			if err != nil {
				return nil, NewOffloadError(written, err)
			}
			registry.RegisterFile(path, o.storage.Delete)
		} else if err := o.storage.Append(path, chunk); err != nil {
			return nil, NewOffloadError(written, err)
		}

		hash.Write(chunk)
		written += int64(len(chunk))

		if progress != nil {
			progress(float64(written) / float64(total))
		}

		if err := yield(ctx, o.settings.Yield); err != nil {
			return nil, NewOffloadError(written, err)
		}
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	o.logger.Info("Offload complete", "path", path, "size", written, "checksum", checksum)

	return &Result{Path: path, Size: written, Checksum: checksum}, nil
}

// PeakResident reports the largest buffer the offloader allocated
func (o *Offloader) PeakResident() int { return o.peakResident }

// Buffer reads src into memory in chunk-sized steps and fails once the accumulated size
// would pass limit. Only used for small sources handed back to the caller as a buffer.
func Buffer(ctx context.Context, src media.Source, chunkSize int, limit int64) ([]byte, error) {
	if src.Kind != media.SourceBytes || src.Reader == nil {
		return nil, NewOffloadError(0, fmt.Errorf("source kind %s cannot be buffered", src.Kind))
	}
	if limit > 0 && src.Size > limit {
		return nil, NewMemoryLimitExceededError(limit, src.Size)
	}
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024
	}

	out := make([]byte, 0, src.Size)
	var offset int64
	for offset < src.Size {
		if err := ctx.Err(); err != nil {
			return nil, NewOffloadError(offset, err)
		}

		step := min(int64(chunkSize), src.Size-offset)
		if limit > 0 && int64(len(out))+step > limit {
			return nil, NewMemoryLimitExceededError(limit, int64(len(out))+step)
		}

		chunk := out[len(out) : int64(len(out))+step]
		n, err := src.Reader.ReadAt(chunk, offset)
		if int64(n) < step {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, NewOffloadError(offset, fmt.Errorf("failed to read chunk: %w", err))
		}
		out = out[:int64(len(out))+step]
		offset += step
	}
	return out, nil
}

// yield is the cooperative pause between chunks
func yield(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func extensionFor(src media.Source) string {
	if ext := src.Extension(); ext != "" {
		return "." + ext
	}
	switch src.MimeType {
	case "video/webm":
		return ".webm"
	case "video/quicktime", "video/mov":
		return ".mov"
	default:
		return ".mp4"
	}
}
