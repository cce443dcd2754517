package resources

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yeti47/clipintake/ccc/logging"
)

// Entry is one registered release callback
type Entry struct {
	name    string
	release func() error
	once    sync.Once
	err     error
}

// Release runs the callback if it has not run yet. Later calls return the first result.
func (e *Entry) Release() error {
	e.once.Do(func() {
		e.err = e.release()
	})
	return e.err
}

// Keep consumes the entry without running its callback
func (e *Entry) Keep() {
	e.once.Do(func() {})
}

func (e *Entry) Name() string { return e.name }

const filePrefix = "file:"

// Registry owns everything a job acquires that must be given back: temp files,
// listener subscriptions, open captures. Callbacks run in reverse registration order,
// each exactly once.
type Registry struct {
	mu       sync.Mutex
	entries  []*Entry
	released bool
	logger   logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &Registry{logger: logger}
}

// Register adds a release callback. If the registry was already released the callback
// runs immediately so nothing acquired late can leak.
func (r *Registry) Register(name string, release func() error) *Entry {
	entry := &Entry{name: name, release: release}

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		r.logger.Warn("Resource registered after release, releasing now", "resource", name)
		if err := entry.Release(); err != nil {
			r.logger.Error("Failed to release resource", "resource", name, "error", err)
		}
		return entry
	}
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	return entry
}

// RegisterFile registers a temporary file for deletion
func (r *Registry) RegisterFile(path string, remove func(path string) error) *Entry {
	return r.Register(filePrefix+path, func() error {
		return remove(path)
	})
}

// KeepFile hands a registered file over to the caller: it will not be deleted on release.
// Reports whether such a file was registered.
func (r *Registry) KeepFile(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := false
	for _, entry := range r.entries {
		if entry.name == filePrefix+path {
			entry.Keep()
			kept = true
		}
	}
	return kept
}

// ReleaseAll runs every pending callback, newest first, and joins their errors
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.released = true
	r.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if err := entry.Release(); err != nil {
			r.logger.Error("Failed to release resource", "resource", entry.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		}
	}
	return errors.Join(errs...)
}

// Pending counts callbacks registered but not yet released through ReleaseAll
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
