package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeti47/clipintake/ccc/db"
	"github.com/yeti47/clipintake/ccc/logging"
	"github.com/yeti47/clipintake/compression"
	"github.com/yeti47/clipintake/config"
	filemanagement "github.com/yeti47/clipintake/file-management"
	"github.com/yeti47/clipintake/handlers"
	"github.com/yeti47/clipintake/ingesting"
	"github.com/yeti47/clipintake/jobstore"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/offload"
	"github.com/yeti47/clipintake/thumbnail"
	"github.com/yeti47/clipintake/validation"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to the configuration file")
	echoLogs := flag.Bool("echo", false, "Echo log output to stdout")

	// Config override flags
	tempDir := flag.String("temp-dir", "", "Temporary directory (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	databasePath := flag.String("db", "", "Job ledger database path (overrides config)")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	cameraCapMB := flag.Int("camera-cap-mb", 0, "Camera capture size cap in MB (overrides config)")
	heartbeatS := flag.Int("heartbeat-seconds", 0, "Inactivity window before a job times out (overrides config)")
	targetMaxMB := flag.Int("target-max-mb", 0, "Compression target size in MB (overrides config)")
	quality := flag.String("quality", "", "Compression quality: low, medium or high (overrides config)")
	forceSoftware := flag.Bool("force-software", false, "Always use the software compression backend")
	videoCodec := flag.String("video-codec", "", "Hardware video encoder (overrides config, e.g. 'h264_vaapi')")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg.Override(config.ConfigOverrides{
		TempDir:          tempDir,
		LogLevel:         logLevel,
		DatabasePath:     databasePath,
		ListenAddr:       listenAddr,
		CameraCapMB:      cameraCapMB,
		HeartbeatWindowS: heartbeatS,
		TargetMaxMB:      targetMaxMB,
		Quality:          quality,
		ForceSoftware:    forceSoftware,
		NativeVideoCodec: videoCodec,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Save the config in case it was not found or updated
	if err := cfg.SaveConfig(*configPath); err != nil {
		log.Printf("Failed to save configuration: %v", err)
	}

	logger := logging.CreateLogger(logging.LogLevel(cfg.LogLevel), cfg.LogPath, "clipintake", *echoLogs)
	logger.Info("Starting clipintake", "listen", cfg.ListenAddr, "tempDir", cfg.TempDir)

	// Outputs handed to callers live in the temp dir until the next start
	storage := filemanagement.NewLocalStorage(logger, cfg.TempDir)
	if err := storage.EnsureTempDirectory(); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	storage.CleanupTempDirectory()

	// Capability probe decides the compression backend once per process
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 10*time.Second)
	caps := media.ProbeCapabilities(probeCtx, logger, cfg.FFmpegBin, cfg.FFprobeBin, cfg.NativeVideoCodec, cfg.ForceSoftware)
	cancelProbe()
	logger.Info("Media capabilities", "backend", caps.String())

	// goffmpeg resolves ffmpeg and ffprobe from PATH
	if err := media.UseBinaries(caps); err != nil {
		logger.Warn("Failed to put configured ffmpeg on PATH", "error", err)
	}

	bridge := media.NewFFmpegBridge(logger, media.FFmpegSettings{
		VideoCodec: caps.VideoCodec,
		TempDir:    cfg.TempDir,
	})
	backend := compression.Select(logger, caps, bridge, storage,
		compression.NewGocvRasterizer(logger, bridge),
		compression.NewFFmpegMuxer(logger),
	)

	validator := validation.NewSourceValidator(logger, bridge, validation.Settings{
		CameraCapBytes: cfg.CameraCapBytes(),
		MaxDuration:    cfg.MaxDuration(),
	})
	offloader := offload.NewOffloader(logger, storage, offload.Settings{
		ChunkSize: cfg.ChunkSize(),
		Yield:     cfg.ChunkYield(),
	})
	thumbnails := thumbnail.NewFrameGenerator(logger, bridge)

	// Job ledger
	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ledger, err := jobstore.NewSQLiteJobRepository(database)
	if err != nil {
		log.Fatalf("Failed to create job repository: %v", err)
	}

	pipeline := ingesting.NewPipeline(logger, validator, offloader, backend, thumbnails, ingesting.PipelineSettings{
		TargetMaxBytes: cfg.TargetMaxBytes(),
		Quality:        media.ParseQuality(cfg.Quality),
		MaxWidth:       cfg.MaxWidth,
		MaxHeight:      cfg.MaxHeight,
		ChunkSize:      cfg.ChunkSize(),
		MemoryLimit:    cfg.MemoryLimitBytes(),
	})
	queue := ingesting.NewJobQueue(logger, pipeline, ledger, ingesting.QueueSettings{
		InterJobDelay:   cfg.InterJobDelay(),
		HeartbeatWindow: cfg.HeartbeatWindow(),
	})

	stopChan := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go queue.Start(stopChan, &wg)

	// Set up Gin router
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := initializeGin(cfg)
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	jobHandler := handlers.NewJobHandler(logger, queue, ledger)
	handlers.SetupRoutes(router, jobHandler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("Server listening", "address", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	// Stopping the queue drains pending jobs
	close(stopChan)
	wg.Wait()

	logger.Info("Shutdown complete")
}
