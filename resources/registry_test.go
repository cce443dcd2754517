package resources

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestRegistry_ReleaseAllReverseOrder(t *testing.T) {
	r := NewRegistry(nil)

	var order []string
	for _, name := range []string{"offload", "listener", "output"} {
		name := name
		r.Register(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if r.Pending() != 3 {
		t.Fatalf("Expected 3 pending, got %d", r.Pending())
	}
	if err := r.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}

	want := "output,listener,offload"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("Release order = %s, want %s", got, want)
	}
	if r.Pending() != 0 {
		t.Errorf("Expected nothing pending, got %d", r.Pending())
	}
}

func TestRegistry_ExactlyOnce(t *testing.T) {
	r := NewRegistry(nil)

	calls := 0
	entry := r.Register("listener", func() error {
		calls++
		return nil
	})

	// early explicit release plus registry release
	entry.Release()
	entry.Release()
	r.ReleaseAll()
	r.ReleaseAll()

	if calls != 1 {
		t.Errorf("Expected exactly one call, got %d", calls)
	}
}

func TestRegistry_RegisterAfterReleaseRunsImmediately(t *testing.T) {
	r := NewRegistry(nil)
	r.ReleaseAll()

	calls := 0
	r.Register("late", func() error {
		calls++
		return nil
	})

	if calls != 1 {
		t.Errorf("Expected late registration to run immediately, got %d calls", calls)
	}
	if r.Pending() != 0 {
		t.Errorf("Late registration must not stay pending")
	}
}

func TestRegistry_JoinsErrors(t *testing.T) {
	r := NewRegistry(nil)

	errA := errors.New("a failed")
	ran := false
	r.Register("a", func() error { return errA })
	r.Register("b", func() error { ran = true; return nil })
	r.Register("c", func() error { return errors.New("c failed") })

	err := r.ReleaseAll()
	if err == nil {
		t.Fatal("Expected joined error")
	}
	if !errors.Is(err, errA) {
		t.Errorf("Expected errA in %v", err)
	}
	if !ran {
		t.Error("A failing callback must not stop the others")
	}
}

func TestRegistry_ConcurrentReleaseRunsOnce(t *testing.T) {
	r := NewRegistry(nil)

	var mu sync.Mutex
	calls := 0
	for i := 0; i < 10; i++ {
		r.Register("file", func() error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ReleaseAll()
		}()
	}
	wg.Wait()

	if calls != 10 {
		t.Errorf("Expected 10 calls, got %d", calls)
	}
}

func TestRegistry_KeepFile(t *testing.T) {
	r := NewRegistry(nil)

	var deleted []string
	remove := func(path string) error {
		deleted = append(deleted, path)
		return nil
	}
	r.RegisterFile("/tmp/offloaded.mp4", remove)
	r.RegisterFile("/tmp/compressed.mp4", remove)

	if !r.KeepFile("/tmp/compressed.mp4") {
		t.Fatal("Expected registered file to be kept")
	}
	if r.KeepFile("/tmp/unknown.mp4") {
		t.Error("Unknown file must not report kept")
	}

	r.ReleaseAll()
	if len(deleted) != 1 || deleted[0] != "/tmp/offloaded.mp4" {
		t.Errorf("Expected only the intermediate file deleted, got %v", deleted)
	}
}
