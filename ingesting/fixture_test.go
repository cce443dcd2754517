package ingesting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yeti47/clipintake/compression"
	filemanagement "github.com/yeti47/clipintake/file-management"
	"github.com/yeti47/clipintake/jobstore"
	"github.com/yeti47/clipintake/media"
	"github.com/yeti47/clipintake/offload"
	"github.com/yeti47/clipintake/resources"
	"github.com/yeti47/clipintake/thumbnail"
	"github.com/yeti47/clipintake/validation"
)

const mib = 1024 * 1024

// syntheticVideo is a ReaderAt over size bytes with an ISO-BMFF header and zeros after it
type syntheticVideo struct {
	size int64
}

var mp4Header = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}

func (v syntheticVideo) ReadAt(p []byte, off int64) (int, error) {
	if off >= v.size {
		return 0, errors.New("read past end")
	}
	n := int(min(int64(len(p)), v.size-off))
	for i := 0; i < n; i++ {
		pos := off + int64(i)
		if pos < int64(len(mp4Header)) {
			p[i] = mp4Header[pos]
		} else {
			p[i] = 0
		}
	}
	return n, nil
}

func bytesSource(name string, size int64) media.Source {
	return media.BytesSource(name, "video/mp4", syntheticVideo{size: size}, size)
}

// sparseFile creates a path source of the given size without allocating it
func sparseFile(t *testing.T, dir, name string, size int64) media.Source {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(mp4Header); err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return media.PathSource(path)
}

// fakeBridge reports a fixed source duration and writes outputs of outputSize bytes
type fakeBridge struct {
	mu          sync.Mutex
	duration    time.Duration
	outputSize  int64
	compressErr error
	calls       []media.CompressOptions
	listeners   map[int]func(float64)
	nextID      int
}

func newFakeBridge(duration time.Duration, outputSize int64) *fakeBridge {
	return &fakeBridge{duration: duration, outputSize: outputSize, listeners: make(map[int]func(float64))}
}

func (b *fakeBridge) ProbeMetadata(ctx context.Context, path string) (*media.Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &media.Metadata{Duration: b.duration, Size: info.Size(), Format: "mp4"}, nil
}

func (b *fakeBridge) Compress(ctx context.Context, opts media.CompressOptions) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, opts)
	var listeners []func(float64)
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, f := range []float64{0.3, 0.6, 0.9} {
		for _, l := range listeners {
			l(f)
		}
	}
	if b.compressErr != nil {
		return "", b.compressErr
	}
	if err := os.WriteFile(opts.OutputPath, make([]byte, b.outputSize), 0644); err != nil {
		return "", err
	}
	return opts.OutputPath, nil
}

func (b *fakeBridge) AddProgressListener(listener func(float64)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *fakeBridge) ExtractFrame(ctx context.Context, path string, at time.Duration, maxW, maxH int) ([]byte, error) {
	return []byte("jpeg"), nil
}

func (b *fakeBridge) targets() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int64
	for _, c := range b.calls {
		out = append(out, c.MaxBytes)
	}
	return out
}

// gauge counts how many offload/compression phases run at once
type gauge struct {
	mu      sync.Mutex
	current int
	peak    int
	calls   int
}

func (g *gauge) enter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	g.calls++
	if g.current > g.peak {
		g.peak = g.current
	}
}

func (g *gauge) leave() {
	g.mu.Lock()
	g.current--
	g.mu.Unlock()
}

func (g *gauge) snapshot() (peak, calls int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak, g.calls
}

type gaugedOffloader struct {
	inner Offloader
	gauge *gauge
}

func (o *gaugedOffloader) Offload(ctx context.Context, src media.Source, registry *resources.Registry, progress offload.ProgressFunc) (*offload.Result, error) {
	o.gauge.enter()
	defer o.gauge.leave()
	return o.inner.Offload(ctx, src, registry, progress)
}

type gaugedBackend struct {
	inner compression.Backend
	gauge *gauge
	hold  time.Duration
}

func (b *gaugedBackend) Name() string { return b.inner.Name() }

func (b *gaugedBackend) Compress(ctx context.Context, req compression.Request) (*compression.Result, error) {
	b.gauge.enter()
	defer b.gauge.leave()
	if b.hold > 0 {
		time.Sleep(b.hold)
	}
	return b.inner.Compress(ctx, req)
}

// stallingBackend reports progress every progressEvery (never when zero) and finishes after
// runFor, or when cancelled
type stallingBackend struct {
	progressEvery time.Duration
	runFor        time.Duration
}

func (b *stallingBackend) Name() string { return "stalling" }

func (b *stallingBackend) Compress(ctx context.Context, req compression.Request) (*compression.Result, error) {
	var tick <-chan time.Time
	if b.progressEvery > 0 {
		ticker := time.NewTicker(b.progressEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	var deadline <-chan time.Time
	if b.runFor > 0 {
		deadline = time.After(b.runFor)
	}

	fraction := 0.0
	for {
		select {
		case <-ctx.Done():
			return nil, compression.NewCompressionError(compression.BackendFailed, b.Name(), ctx.Err())
		case <-tick:
			fraction = min(fraction+0.05, 0.95)
			req.Progress(fraction)
		case <-deadline:
			req.Progress(1)
			return &compression.Result{
				Backend:        b.Name(),
				OutputPath:     req.SourcePath,
				OriginalSize:   req.OriginalSize,
				CompressedSize: req.OriginalSize,
				Compressed:     false,
			}, nil
		}
	}
}

type fixture struct {
	dir     string
	storage *filemanagement.LocalStorage
	bridge  *fakeBridge
	gauge   *gauge
	queue   *jobQueue

	stop chan struct{}
	wg   sync.WaitGroup
}

type fixtureOptions struct {
	backend  compression.Backend // nil: native backend over the fake bridge
	window   time.Duration
	hold     time.Duration
	duration time.Duration
	output   int64
	ledger   jobstore.JobRepository
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	dir := t.TempDir()
	storage := filemanagement.NewLocalStorage(nil, filepath.Join(dir, "tmp"))
	if err := storage.EnsureTempDirectory(); err != nil {
		t.Fatal(err)
	}

	if opts.duration == 0 {
		opts.duration = 90 * time.Second
	}
	if opts.output == 0 {
		opts.output = mib
	}
	bridge := newFakeBridge(opts.duration, opts.output)

	backend := opts.backend
	if backend == nil {
		backend = compression.NewNativeBackend(nil, bridge, storage)
	}
	g := &gauge{}

	validator := validation.NewSourceValidator(nil, bridge, validation.Settings{
		CameraCapBytes: 250 * mib,
		MaxDuration:    180 * time.Second,
	})
	offloader := offload.NewOffloader(nil, storage, offload.Settings{ChunkSize: 256 * 1024})

	pipeline := NewPipeline(nil, validator,
		&gaugedOffloader{inner: offloader, gauge: g},
		&gaugedBackend{inner: backend, gauge: g, hold: opts.hold},
		thumbnail.NewFrameGenerator(nil, bridge),
		PipelineSettings{
			TargetMaxBytes: 48 * mib,
			Quality:        media.QualityMedium,
			MaxWidth:       1280,
			MaxHeight:      720,
			ChunkSize:      256 * 1024,
			MemoryLimit:    100 * mib,
		})

	q := newJobQueue(nil, pipeline, opts.ledger, QueueSettings{
		InterJobDelay:   time.Millisecond,
		HeartbeatWindow: opts.window,
		DrainTimeout:    5 * time.Second,
	})

	f := &fixture{dir: dir, storage: storage, bridge: bridge, gauge: g, queue: q, stop: make(chan struct{})}
	t.Cleanup(f.shutdown)
	return f
}

func (f *fixture) start() {
	f.wg.Add(1)
	go f.queue.Start(f.stop, &f.wg)
}

func (f *fixture) shutdown() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	f.wg.Wait()
}

func (f *fixture) tempFiles(t *testing.T) []string {
	entries, err := os.ReadDir(filepath.Join(f.dir, "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func wait(t *testing.T, h *JobHandle) (*AssetDescriptor, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	asset, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Job %s did not finish, status %s", h.ID(), h.Status())
	}
	return asset, err
}
