package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/yeti47/clipintake/ccc/logging"
)

// ProbeCapabilities decides once at startup whether the native (hardware encoder) path is usable.
// The native path needs ffmpeg and ffprobe on PATH and ffmpeg must list videoCodec among its encoders.
func ProbeCapabilities(ctx context.Context, logger logging.Logger, ffmpegBin, ffprobeBin, videoCodec string, forceSoftware bool) Capabilities {
	if logger == nil {
		logger = logging.NopLogger
	}
	caps := Capabilities{VideoCodec: videoCodec}

	ffmpegPath, err := exec.LookPath(ffmpegBin)
	if err != nil {
		caps.Reason = fmt.Sprintf("%s not found", ffmpegBin)
		logger.Warn("ffmpeg not available", "bin", ffmpegBin, "error", err)
		return caps
	}
	caps.FFmpegPath = ffmpegPath

	ffprobePath, err := exec.LookPath(ffprobeBin)
	if err != nil {
		caps.Reason = fmt.Sprintf("%s not found", ffprobeBin)
		logger.Warn("ffprobe not available", "bin", ffprobeBin, "error", err)
		return caps
	}
	caps.FFprobePath = ffprobePath

	if forceSoftware {
		caps.Reason = "forced by configuration"
		return caps
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		caps.Reason = fmt.Sprintf("failed to list encoders: %v", err)
		logger.Warn("Failed to list ffmpeg encoders", "error", err)
		return caps
	}

	if !HasEncoder(string(out), videoCodec) {
		caps.Reason = fmt.Sprintf("encoder %s not available", videoCodec)
		return caps
	}

	caps.Native = true
	caps.Reason = ""
	logger.Info("Native encoder available", "codec", videoCodec, "ffmpeg", ffmpegPath)
	return caps
}

// HasEncoder scans `ffmpeg -encoders` output for an exact encoder name
func HasEncoder(encoders, name string) bool {
	if name == "" {
		return false
	}
	for _, line := range strings.Split(encoders, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// UseBinaries moves the directories of the probed ffmpeg and ffprobe to the front of PATH.
// goffmpeg looks both up by their plain names, so a binary under another name cannot be used.
func UseBinaries(caps Capabilities) error {
	bins := []struct{ name, path string }{
		{"ffmpeg", caps.FFmpegPath},
		{"ffprobe", caps.FFprobePath},
	}

	var dirs []string
	for _, bin := range bins {
		if bin.path == "" {
			continue
		}
		if base := strings.TrimSuffix(filepath.Base(bin.path), ".exe"); base != bin.name {
			return fmt.Errorf("goffmpeg only runs a binary named %s, got %s", bin.name, bin.path)
		}
		if dir := filepath.Dir(bin.path); !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return nil
	}

	path := dirs
	for _, entry := range filepath.SplitList(os.Getenv("PATH")) {
		if !slices.Contains(dirs, entry) {
			path = append(path, entry)
		}
	}
	return os.Setenv("PATH", strings.Join(path, string(os.PathListSeparator)))
}
