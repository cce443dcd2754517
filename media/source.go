package media

import (
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Origin tells where a video came from. Camera captures are subject to a hard size cap
// and are always compressed.
type Origin string

const (
	OriginCamera  Origin = "camera"
	OriginGallery Origin = "gallery"
	OriginUnknown Origin = "unknown"
)

// ParseOrigin maps free-form input onto an Origin, defaulting to OriginUnknown
func ParseOrigin(s string) Origin {
	switch Origin(strings.ToLower(strings.TrimSpace(s))) {
	case OriginCamera:
		return OriginCamera
	case OriginGallery:
		return OriginGallery
	default:
		return OriginUnknown
	}
}

type SourceKind int

const (
	SourceBytes SourceKind = iota
	SourcePath
	SourceNative
)

func (k SourceKind) String() string {
	switch k {
	case SourceBytes:
		return "bytes"
	case SourcePath:
		return "path"
	case SourceNative:
		return "native"
	default:
		return "unknown"
	}
}

// NativeHandle is a file that was already validated by the platform picker.
// Size and Duration are trusted when non-zero.
type NativeHandle struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// Source describes the input asset of a job. Exactly one of Reader, Path or Native is used,
// selected by Kind.
type Source struct {
	Kind     SourceKind
	Name     string
	MimeType string

	// SourceBytes
	Reader io.ReaderAt
	Size   int64

	// SourcePath
	Path string

	// SourceNative
	Native NativeHandle
}

// BytesSource wraps a random-access byte stream
func BytesSource(name, mimeType string, r io.ReaderAt, size int64) Source {
	return Source{Kind: SourceBytes, Name: name, MimeType: mimeType, Reader: r, Size: size}
}

// PathSource wraps a file-system path
func PathSource(path string) Source {
	return Source{Kind: SourcePath, Name: filepath.Base(path), Path: path}
}

// NativeSource wraps a pre-validated native handle
func NativeSource(handle NativeHandle) Source {
	return Source{Kind: SourceNative, Name: filepath.Base(handle.Path), Native: handle}
}

// FilePath returns the on-disk location of path and native sources, or "" for byte sources
func (s Source) FilePath() string {
	switch s.Kind {
	case SourcePath:
		return s.Path
	case SourceNative:
		return s.Native.Path
	default:
		return ""
	}
}

// DeclaredSize is the size known without touching the asset (0 when unknown)
func (s Source) DeclaredSize() int64 {
	switch s.Kind {
	case SourceBytes:
		return s.Size
	case SourceNative:
		return s.Native.Size
	default:
		return 0
	}
}

// Extension returns the lower-case extension of the source name without the dot
func (s Source) Extension() string {
	name := s.Name
	if p := s.FilePath(); p != "" {
		name = p
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
