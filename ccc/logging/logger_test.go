package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   LogLevel
		want slog.Level
	}{
		{LogLevelDebug, slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{LogLevelInfo, slog.LevelInfo},
		{LogLevelWarn, slog.LevelWarn},
		{LogLevelError, slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCreateLogger_WritesDailyFile(t *testing.T) {
	dir := t.TempDir()

	logger := CreateLogger(LogLevelInfo, dir, "clipintake", false)
	logger.Info("job completed", "jobID", "abc")
	logger.Debug("filtered out")

	name := "clipintake-" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Expected log file %s: %v", name, err)
	}

	content := string(data)
	if !strings.Contains(content, `"jobID":"abc"`) {
		t.Errorf("Expected structured jobID field, got %s", content)
	}
	if strings.Contains(content, "filtered out") {
		t.Error("Debug record should be filtered at info level")
	}
}

func TestNopLogger(t *testing.T) {
	// must not panic
	NopLogger.Info("x", "k", 1)
	NopLogger.Warn("x")
	NopLogger.Error("x")
	NopLogger.Debug("x")
}
