package filemanagement

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/yeti47/clipintake/ccc/logging"
)

// StableStorage manages temporary files that outlive a single chunk or encode cycle
type StableStorage interface {
	// Create writes data to a new file named name inside the temp directory and returns its path
	Create(name string, data []byte) (string, error)

	// Append adds data to the end of an existing file
	Append(path string, data []byte) error

	// Delete removes a file; deleting a missing file is not an error
	Delete(path string) error

	// TempPath returns a unique path inside the temp directory with the given suffix, without creating it
	TempPath(suffix string) string

	// EnsureTempDirectory creates the temporary directory if it doesn't exist
	EnsureTempDirectory() error

	// CleanupTempDirectory removes all files in the temporary directory
	CleanupTempDirectory()
}

// LocalStorage implements StableStorage on the local filesystem
type LocalStorage struct {
	tempDir string
	logger  logging.Logger
	mu      sync.Mutex

	write func(*os.File, []byte) (int, error)
}

// NewLocalStorage creates a new local stable storage rooted at tempDir
func NewLocalStorage(logger logging.Logger, tempDir string) *LocalStorage {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &LocalStorage{
		tempDir: tempDir,
		logger:  logger,
		write:   (*os.File).Write,
	}
}

// Create implements StableStorage. An existing file with the same name is truncated.
func (s *LocalStorage) Create(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.tempDir, filepath.Base(name))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	// the caller only learns the path on success, so a partial file is removed here
	_, err = s.write(file, data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			s.logger.Warn("Failed to remove partial file", "path", path, "error", removeErr)
		}
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Append implements StableStorage
func (s *LocalStorage) Append(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s for append: %w", path, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return file.Close()
}

// Delete implements StableStorage
func (s *LocalStorage) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Error("Failed to remove file", "path", path, "error", err)
		return err
	}
	s.logger.Debug("Deleted file", "path", path)
	return nil
}

// TempPath implements StableStorage
func (s *LocalStorage) TempPath(suffix string) string {
	return filepath.Join(s.tempDir, uuid.NewString()+suffix)
}

// EnsureTempDirectory creates the temporary directory if it doesn't exist
func (s *LocalStorage) EnsureTempDirectory() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.tempDir, 0755); err != nil {
		return err
	}
	s.logger.Info("Temporary directory ready", "dir", s.tempDir)
	return nil
}

// CleanupTempDirectory removes all files in the temporary directory
func (s *LocalStorage) CleanupTempDirectory() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		s.logger.Warn("Failed to read temp directory", "dir", s.tempDir, "error", err)
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			filePath := filepath.Join(s.tempDir, entry.Name())
			s.logger.Info("Cleaning up temp file", "path", filePath)
			if err := os.Remove(filePath); err != nil {
				s.logger.Warn("Failed to remove temp file", "path", filePath, "error", err)
			}
		}
	}
}

// AppendWriter adapts StableStorage to io.Writer: the first write creates the file,
// later writes append to it.
type AppendWriter struct {
	storage StableStorage
	name    string
	path    string
	written int64

	// OnCreate is called once with the path of the created file
	OnCreate func(path string)
}

func NewAppendWriter(storage StableStorage, name string) *AppendWriter {
	return &AppendWriter{storage: storage, name: name}
}

// Write implements io.Writer
func (w *AppendWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if w.path == "" {
		path, err := w.storage.Create(w.name, p)
		if err != nil {
			return 0, err
		}
		w.path = path
		if w.OnCreate != nil {
			w.OnCreate(path)
		}
	} else if err := w.storage.Append(w.path, p); err != nil {
		return 0, err
	}

	w.written += int64(len(p))
	return len(p), nil
}

// Path is empty until the first write
func (w *AppendWriter) Path() string { return w.path }

func (w *AppendWriter) Written() int64 { return w.written }
