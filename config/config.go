package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const mib = 1024 * 1024

// Config holds the configuration of the ingestion daemon
type Config struct {
	TempDir      string `json:"temp_dir"`
	LogPath      string `json:"log_path"`
	LogLevel     string `json:"log_level"`
	DatabasePath string `json:"database_path"`
	ListenAddr   string `json:"listen_addr"`

	TrustedProxies []string `json:"trusted_proxies,omitempty"` // release builds only

	ChunkSizeKB      int `json:"chunk_size_kb"`
	ChunkYieldMs     int `json:"chunk_yield_ms"`      // pause between offload chunks
	InterJobDelayMs  int `json:"inter_job_delay_ms"`  // pause between two queued jobs
	CameraCapMB      int `json:"camera_cap_mb"`       // camera captures above this are rejected
	MemoryLimitMB    int `json:"memory_limit_mb"`     // cap for any path that buffers instead of streaming
	MaxDurationSec   int `json:"max_duration_seconds"`
	HeartbeatWindowS int `json:"heartbeat_window_seconds"`

	TargetMaxMB      int    `json:"target_max_mb"`
	Quality          string `json:"quality"` // low, medium or high
	MaxWidth         int    `json:"max_width"`
	MaxHeight        int    `json:"max_height"`
	ForceSoftware    bool   `json:"force_software"`
	NativeVideoCodec string `json:"native_video_codec"` // e.g. h264_vaapi, h264_videotoolbox, h264_mediacodec
	FFmpegBin        string `json:"ffmpeg_bin"`
	FFprobeBin       string `json:"ffprobe_bin"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	dataDir := "."

	homeDir, err := os.UserHomeDir()
	if err == nil && homeDir != "" {
		dataDir = filepath.Join(homeDir, "clipintake")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			dataDir = "."
		}
	}

	return &Config{
		TempDir:      filepath.Join(dataDir, "temp"),
		LogPath:      "logs",
		LogLevel:     "info",
		DatabasePath: filepath.Join(dataDir, "clipintake.db"),
		ListenAddr:   "127.0.0.1:8090",

		ChunkSizeKB:      1024,
		ChunkYieldMs:     20,
		InterJobDelayMs:  100,
		CameraCapMB:      250,
		MemoryLimitMB:    100,
		MaxDurationSec:   180,
		HeartbeatWindowS: 600,

		TargetMaxMB:      48,
		Quality:          "medium",
		MaxWidth:         1280,
		MaxHeight:        720,
		ForceSoftware:    false,
		NativeVideoCodec: "h264_vaapi",
		FFmpegBin:        "ffmpeg",
		FFprobeBin:       "ffprobe",
	}
}

// LoadConfig loads the configuration from a JSON file.
// A missing file yields the defaults; fields absent from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.TempDir == "" {
		return fmt.Errorf("temp_dir must not be empty")
	}
	if c.ChunkSizeKB <= 0 {
		return fmt.Errorf("invalid chunk_size_kb: %d", c.ChunkSizeKB)
	}
	if c.CameraCapMB <= 0 {
		return fmt.Errorf("invalid camera_cap_mb: %d", c.CameraCapMB)
	}
	if c.MemoryLimitMB <= 0 {
		return fmt.Errorf("invalid memory_limit_mb: %d", c.MemoryLimitMB)
	}
	if c.HeartbeatWindowS <= 0 {
		return fmt.Errorf("invalid heartbeat_window_seconds: %d", c.HeartbeatWindowS)
	}
	if c.TargetMaxMB <= 0 {
		return fmt.Errorf("invalid target_max_mb: %d", c.TargetMaxMB)
	}
	if c.MaxWidth <= 0 || c.MaxHeight <= 0 {
		return fmt.Errorf("invalid max dimensions: %dx%d", c.MaxWidth, c.MaxHeight)
	}
	switch strings.ToLower(c.Quality) {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("invalid quality: %q", c.Quality)
	}
	return nil
}

// SaveConfig saves the configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config file: %w", err)
	}

	return nil
}

func (c *Config) ChunkSize() int                 { return c.ChunkSizeKB * 1024 }
func (c *Config) ChunkYield() time.Duration      { return time.Duration(c.ChunkYieldMs) * time.Millisecond }
func (c *Config) InterJobDelay() time.Duration   { return time.Duration(c.InterJobDelayMs) * time.Millisecond }
func (c *Config) CameraCapBytes() int64          { return int64(c.CameraCapMB) * mib }
func (c *Config) MemoryLimitBytes() int64        { return int64(c.MemoryLimitMB) * mib }
func (c *Config) TargetMaxBytes() int64          { return int64(c.TargetMaxMB) * mib }
func (c *Config) MaxDuration() time.Duration     { return time.Duration(c.MaxDurationSec) * time.Second }
func (c *Config) HeartbeatWindow() time.Duration { return time.Duration(c.HeartbeatWindowS) * time.Second }

// ConfigOverrides holds potential override values for configuration, usually from CLI flags
type ConfigOverrides struct {
	TempDir          *string
	LogLevel         *string
	DatabasePath     *string
	ListenAddr       *string
	CameraCapMB      *int
	HeartbeatWindowS *int
	TargetMaxMB      *int
	Quality          *string
	ForceSoftware    *bool
	NativeVideoCodec *string
}

// Override replaces configuration values with every non-empty override
func (c *Config) Override(overrides ConfigOverrides) {
	if overrides.TempDir != nil && *overrides.TempDir != "" {
		c.TempDir = *overrides.TempDir
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		c.LogLevel = *overrides.LogLevel
	}
	if overrides.DatabasePath != nil && *overrides.DatabasePath != "" {
		c.DatabasePath = *overrides.DatabasePath
	}
	if overrides.ListenAddr != nil && *overrides.ListenAddr != "" {
		c.ListenAddr = *overrides.ListenAddr
	}
	if overrides.CameraCapMB != nil && *overrides.CameraCapMB > 0 {
		c.CameraCapMB = *overrides.CameraCapMB
	}
	if overrides.HeartbeatWindowS != nil && *overrides.HeartbeatWindowS > 0 {
		c.HeartbeatWindowS = *overrides.HeartbeatWindowS
	}
	if overrides.TargetMaxMB != nil && *overrides.TargetMaxMB > 0 {
		c.TargetMaxMB = *overrides.TargetMaxMB
	}
	if overrides.Quality != nil && *overrides.Quality != "" {
		c.Quality = *overrides.Quality
	}
	if overrides.ForceSoftware != nil && *overrides.ForceSoftware {
		c.ForceSoftware = true
	}
	if overrides.NativeVideoCodec != nil && *overrides.NativeVideoCodec != "" {
		c.NativeVideoCodec = *overrides.NativeVideoCodec
	}
}
