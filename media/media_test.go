package media

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseOrigin(t *testing.T) {
	tests := map[string]Origin{
		"camera":   OriginCamera,
		" Camera ": OriginCamera,
		"gallery":  OriginGallery,
		"":         OriginUnknown,
		"drone":    OriginUnknown,
	}
	for in, want := range tests {
		if got := ParseOrigin(in); got != want {
			t.Errorf("ParseOrigin(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseQuality(t *testing.T) {
	if ParseQuality("HIGH") != QualityHigh {
		t.Error("Expected high")
	}
	if ParseQuality("low") != QualityLow {
		t.Error("Expected low")
	}
	if ParseQuality("whatever") != QualityMedium {
		t.Error("Expected medium fallback")
	}
}

func TestSource_Accessors(t *testing.T) {
	data := []byte("0123456789")
	tests := []struct {
		name     string
		src      Source
		wantPath string
		wantSize int64
		wantExt  string
	}{
		{"bytes", BytesSource("Clip.MOV", "video/quicktime", bytes.NewReader(data), 10), "", 10, "mov"},
		{"path", PathSource("/tmp/a/b.mp4"), "/tmp/a/b.mp4", 0, "mp4"},
		{"native", NativeSource(NativeHandle{Path: "/tmp/n.webm", Size: 42, Duration: time.Second}), "/tmp/n.webm", 42, "webm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.FilePath(); got != tt.wantPath {
				t.Errorf("FilePath() = %q, want %q", got, tt.wantPath)
			}
			if got := tt.src.DeclaredSize(); got != tt.wantSize {
				t.Errorf("DeclaredSize() = %d, want %d", got, tt.wantSize)
			}
			if got := tt.src.Extension(); got != tt.wantExt {
				t.Errorf("Extension() = %q, want %q", got, tt.wantExt)
			}
		})
	}
}

func TestTargetBitrate(t *testing.T) {
	const mib = 1024 * 1024
	tests := []struct {
		name     string
		nominal  int64
		maxBytes int64
		duration time.Duration
		want     int64
	}{
		{"unknown duration keeps nominal", 3_000_000, 10 * mib, 0, 3_000_000},
		{"cap applies", 6_000_000, 10 * mib, 60 * time.Second, 10 * mib * 8 / 60},
		{"nominal below cap", 1_500_000, 48 * mib, 10 * time.Second, 1_500_000},
		{"floor", 3_000_000, 1 * mib, 180 * time.Second, 500_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetBitrate(tt.nominal, tt.maxBytes, tt.duration); got != tt.want {
				t.Errorf("TargetBitrate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatSeekTime(t *testing.T) {
	if got := formatSeekTime(time.Second); got != "00:00:01.000" {
		t.Errorf("got %s", got)
	}
	if got := formatSeekTime(61*time.Minute + 1500*time.Millisecond); got != "01:01:01.500" {
		t.Errorf("got %s", got)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("12.5")
	if err != nil || d != 12500*time.Millisecond {
		t.Errorf("parseDuration(12.5) = %v, %v", d, err)
	}
	for _, bad := range []string{"", "abc", "0", "-3"} {
		if _, err := parseDuration(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestHasEncoder(t *testing.T) {
	out := `Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)`

	if !HasEncoder(out, "h264_vaapi") {
		t.Error("Expected h264_vaapi")
	}
	if HasEncoder(out, "h264_videotoolbox") {
		t.Error("Did not expect videotoolbox")
	}
	if HasEncoder(out, "h264") {
		t.Error("Partial names must not match")
	}
	if HasEncoder(out, "") {
		t.Error("Empty name must not match")
	}
}

func TestFFmpegBridge_ProgressListeners(t *testing.T) {
	b := NewFFmpegBridge(nil, FFmpegSettings{VideoCodec: "h264_vaapi"})

	var got []float64
	remove := b.AddProgressListener(func(f float64) { got = append(got, f) })
	if b.ListenerCount() != 1 {
		t.Fatalf("Expected 1 listener, got %d", b.ListenerCount())
	}

	b.notify(0.5)
	b.notify(1.7)
	remove()
	remove()
	b.notify(0.9)

	if b.ListenerCount() != 0 {
		t.Errorf("Expected listener removed, got %d", b.ListenerCount())
	}
	if len(got) != 2 || got[0] != 0.5 || got[1] != 1 {
		t.Errorf("Unexpected progress values %v", got)
	}
}

func TestUseBinaries(t *testing.T) {
	tests := []struct {
		name    string
		caps    Capabilities
		path    string
		want    string
		wantErr bool
	}{
		{
			name: "moves configured directory first",
			caps: Capabilities{FFmpegPath: "/opt/ff/bin/ffmpeg", FFprobePath: "/opt/ff/bin/ffprobe"},
			path: "/usr/bin:/opt/ff/bin",
			want: "/opt/ff/bin:/usr/bin",
		},
		{
			name: "separate directories keep order",
			caps: Capabilities{FFmpegPath: "/a/ffmpeg", FFprobePath: "/b/ffprobe"},
			path: "/usr/bin",
			want: "/a:/b:/usr/bin",
		},
		{
			name: "nothing probed leaves PATH alone",
			path: "/usr/bin",
			want: "/usr/bin",
		},
		{
			name:    "renamed binary is refused",
			caps:    Capabilities{FFmpegPath: "/opt/ffmpeg6", FFprobePath: "/opt/ffprobe"},
			path:    "/usr/bin",
			want:    "/usr/bin",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PATH", tt.path)

			err := UseBinaries(tt.caps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UseBinaries() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := os.Getenv("PATH"); got != tt.want {
				t.Errorf("PATH = %q, want %q", got, tt.want)
			}
			if tt.wantErr && !strings.Contains(err.Error(), "ffmpeg6") {
				t.Errorf("Expected the offending binary in the error, got %v", err)
			}
		})
	}
}
