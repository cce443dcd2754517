package ingesting

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yeti47/clipintake/classification"
	"github.com/yeti47/clipintake/compression"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/validation"
)

// recorder collects callback invocations of one job
type recorder struct {
	mu       sync.Mutex
	started  int
	progress []float64
	messages []string
	success  []*AssetDescriptor
	errors   []Stage
	errMsgs  []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStart: func() {
			r.mu.Lock()
			r.started++
			r.mu.Unlock()
		},
		OnProgress: func(percent float64, message string) {
			r.mu.Lock()
			r.progress = append(r.progress, percent)
			r.messages = append(r.messages, message)
			r.mu.Unlock()
		},
		OnSuccess: func(asset *AssetDescriptor) {
			r.mu.Lock()
			r.success = append(r.success, asset)
			r.mu.Unlock()
		},
		OnError: func(stage Stage, message string) {
			r.mu.Lock()
			r.errors = append(r.errors, stage)
			r.errMsgs = append(r.errMsgs, message)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) assertMonotonic(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i < len(r.progress); i++ {
		if r.progress[i] < r.progress[i-1] {
			t.Fatalf("Progress went backwards: %v", r.progress)
		}
	}
}

func TestScenario_SmallGalleryVideoSkipsCompression(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.start()

	rec := &recorder{}
	h, err := f.queue.Submit(bytesSource("small.mp4", 5*mib), media.OriginGallery, rec.callbacks(), Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	asset, err := wait(t, h)
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	if got := classification.Classify(5*mib, media.OriginGallery); got.Tier != classification.Small || got.RequiresCompression || got.Timeout != 30*time.Second {
		t.Errorf("Unexpected classification %+v", got)
	}
	if _, calls := f.gauge.snapshot(); calls != 0 {
		t.Errorf("Expected no offload or backend calls, got %d", calls)
	}
	if len(asset.Buffer) != 5*mib || asset.NativePath != "" {
		t.Errorf("Expected a 5MiB buffer, got %d bytes and path %q", len(asset.Buffer), asset.NativePath)
	}
	if asset.Compressed || asset.FormatTier != "small" || asset.Format != "mp4" {
		t.Errorf("Unexpected asset %+v", asset)
	}
	if rec.started != 1 || len(rec.success) != 1 || len(rec.errors) != 0 {
		t.Errorf("Unexpected callbacks: start=%d success=%d errors=%v", rec.started, len(rec.success), rec.errors)
	}
	if last := rec.progress[len(rec.progress)-1]; last != 100 {
		t.Errorf("Expected final progress 100, got %v", last)
	}
	rec.assertMonotonic(t)
}

func TestScenario_LargeGalleryVideoUsesNativeBackend(t *testing.T) {
	f := newFixture(t, fixtureOptions{duration: 45 * time.Second, output: 9 * mib})
	f.start()

	rec := &recorder{}
	src := sparseFile(t, f.dir, "large.mp4", 60*mib)
	h, _ := f.queue.Submit(src, media.OriginGallery, rec.callbacks(), Options{})

	asset, err := wait(t, h)
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	if got := classification.Classify(60*mib, media.OriginGallery); got.Tier != classification.Large || !got.RequiresCompression || got.Timeout != 180*time.Second {
		t.Errorf("Unexpected classification %+v", got)
	}
	targets := f.bridge.targets()
	if len(targets) != 1 || targets[0] != 10*mib {
		t.Fatalf("Expected one native call with a 10MiB target, got %v", targets)
	}
	if !asset.Compressed || asset.Backend != "native" || asset.CompressedSize != 9*mib || asset.OriginalSize != 60*mib {
		t.Errorf("Unexpected asset %+v", asset)
	}
	if string(asset.Preview) != "jpeg" {
		t.Errorf("Expected extracted preview, got %q", asset.Preview)
	}
	if _, err := os.Stat(asset.NativePath); err != nil {
		t.Errorf("Compressed output must survive cleanup: %v", err)
	}
	if h.Status() != StatusCompleted {
		t.Errorf("Expected completed, got %s", h.Status())
	}
	rec.assertMonotonic(t)
}

func TestScenario_OversizedCameraCaptureFailsValidation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.start()

	rec := &recorder{}
	h, _ := f.queue.Submit(bytesSource("huge.mp4", 300*mib), media.OriginCamera, rec.callbacks(), Options{})

	_, err := wait(t, h)
	if StageOf(err) != StageValidation {
		t.Fatalf("Expected validation failure, got %v", err)
	}
	if validation.ReasonOf(err) != validation.ReasonTooLarge {
		t.Errorf("Expected too_large, got %v", validation.ReasonOf(err))
	}
	if _, calls := f.gauge.snapshot(); calls != 0 {
		t.Errorf("No chunked transfer may start, got %d phase calls", calls)
	}
	if len(rec.errMsgs) != 1 || !strings.Contains(rec.errMsgs[0], "record in HD at 30fps") {
		t.Errorf("Expected actionable camera message, got %v", rec.errMsgs)
	}
	if files := f.tempFiles(t); len(files) != 0 {
		t.Errorf("Expected no temp files, got %v", files)
	}
}

func TestScenario_SecondJobWaitsWhileFirstRuns(t *testing.T) {
	f := newFixture(t, fixtureOptions{duration: 45 * time.Second, hold: 20 * time.Millisecond})

	var second *JobHandle
	var mu sync.Mutex
	var observed []Status
	first, _ := f.queue.Submit(sparseFile(t, f.dir, "a.mp4", 60*mib), media.OriginGallery, Callbacks{
		OnProgress: func(float64, string) {
			mu.Lock()
			observed = append(observed, second.Status())
			mu.Unlock()
		},
	}, Options{})
	second, _ = f.queue.Submit(bytesSource("b.mp4", 5*mib), media.OriginGallery, Callbacks{}, Options{})

	f.start()
	if _, err := wait(t, first); err != nil {
		t.Fatalf("First job failed: %v", err)
	}
	if _, err := wait(t, second); err != nil {
		t.Fatalf("Second job failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) == 0 {
		t.Fatal("No progress observed on the first job")
	}
	for _, s := range observed {
		if s != StatusQueued {
			t.Fatalf("Second job left queued while the first ran: %v", observed)
		}
	}
}

func TestScenario_ShortClipTargetTightened(t *testing.T) {
	f := newFixture(t, fixtureOptions{duration: 10 * time.Second, output: 4 * mib})
	f.start()

	h, _ := f.queue.Submit(sparseFile(t, f.dir, "short.mp4", 8*mib), media.OriginCamera, Callbacks{}, Options{})
	asset, err := wait(t, h)
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	if targets := f.bridge.targets(); len(targets) != 1 || targets[0] != 5*mib {
		t.Errorf("Expected the 5MiB short-clip target, got %v", targets)
	}
	if asset.FormatTier != "small" || !asset.Compressed {
		t.Errorf("Unexpected asset %+v", asset)
	}
}

func TestScenario_CompressionErrorFailsJobAndQueueAdvances(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.bridge.compressErr = errors.New("encoder crashed")
	f.start()

	rec := &recorder{}
	failing, _ := f.queue.Submit(bytesSource("cam.mp4", 2*mib), media.OriginCamera, rec.callbacks(), Options{})
	next, _ := f.queue.Submit(bytesSource("next.mp4", mib), media.OriginGallery, Callbacks{}, Options{})

	_, err := wait(t, failing)
	if StageOf(err) != StageCompression {
		t.Fatalf("Expected compression failure, got %v", err)
	}
	if compression.KindOf(err) != compression.BackendFailed {
		t.Errorf("Expected BackendFailed, got %v", err)
	}
	if failing.Status() != StatusFailed {
		t.Errorf("Expected failed, got %s", failing.Status())
	}
	if len(rec.errMsgs) != 1 || rec.errMsgs[0] != compression.Remedy {
		t.Errorf("Expected the remedy message, got %v", rec.errMsgs)
	}
	if len(rec.success) != 0 {
		t.Error("A failed job must not report success")
	}

	if _, err := wait(t, next); err != nil {
		t.Fatalf("Queue did not advance: %v", err)
	}
	if files := f.tempFiles(t); len(files) != 0 {
		t.Errorf("Offloaded file should be released, found %v", files)
	}
	rec.assertMonotonic(t)
}

func TestPipeline_CameraBytesAreOffloadedBeforeCompression(t *testing.T) {
	f := newFixture(t, fixtureOptions{output: mib})
	f.start()

	rec := &recorder{}
	h, _ := f.queue.Submit(bytesSource("cam.mp4", 3*mib), media.OriginCamera, rec.callbacks(), Options{})
	asset, err := wait(t, h)
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	if asset.Checksum == "" {
		t.Error("Expected a checksum from the offload")
	}
	calls := f.bridge.calls
	if len(calls) != 1 || !strings.Contains(calls[0].InputPath, "offload_") {
		t.Errorf("Backend should read the offloaded file, got %+v", calls)
	}

	// only the compressed output is left behind
	files := f.tempFiles(t)
	if len(files) != 1 || strings.HasPrefix(files[0], "offload_") {
		t.Errorf("Expected only the output in temp storage, got %v", files)
	}
	rec.assertMonotonic(t)
}

func TestPipeline_Options(t *testing.T) {
	t.Run("validate only", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.start()

		src := sparseFile(t, f.dir, "clip.mov", 60*mib)
		h, _ := f.queue.Submit(src, media.OriginGallery, Callbacks{}, Options{ValidateOnly: true})
		asset, err := wait(t, h)
		if err != nil {
			t.Fatalf("Job failed: %v", err)
		}
		if _, calls := f.gauge.snapshot(); calls != 0 {
			t.Errorf("Validate-only must not offload or compress, got %d calls", calls)
		}
		if asset.NativePath != src.Path || asset.Format != "mov" {
			t.Errorf("Unexpected asset %+v", asset)
		}
	})

	t.Run("skip compression", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.start()

		h, _ := f.queue.Submit(bytesSource("big.mp4", 60*mib), media.OriginCamera, Callbacks{}, Options{SkipCompression: true})
		asset, err := wait(t, h)
		if err != nil {
			t.Fatalf("Job failed: %v", err)
		}
		if len(f.bridge.calls) != 0 {
			t.Error("Backend must not run")
		}
		if asset.Compressed || asset.Preview != nil || asset.CompressedSize != 60*mib {
			t.Errorf("Unexpected asset %+v", asset)
		}
		// not memory safe, so handed over as a stored file
		if _, err := os.Stat(asset.NativePath); err != nil {
			t.Errorf("Offloaded file must be kept: %v", err)
		}
	})
}

func TestPipeline_InvalidBytesRejected(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.start()

	junk := media.BytesSource("notes.mp4", "video/mp4", strings.NewReader("definitely not a video"), 22)
	h, _ := f.queue.Submit(junk, media.OriginGallery, Callbacks{}, Options{})

	_, err := wait(t, h)
	if validation.ReasonOf(err) != validation.ReasonInvalidFormat {
		t.Errorf("Expected invalid_format, got %v", err)
	}
}
