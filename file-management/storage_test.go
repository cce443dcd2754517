package filemanagement

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
)

func newTestStorage(t *testing.T) (*LocalStorage, string) {
	dir := filepath.Join(t.TempDir(), "temp")
	s := NewLocalStorage(nil, dir)
	if err := s.EnsureTempDirectory(); err != nil {
		t.Fatalf("EnsureTempDirectory failed: %v", err)
	}
	return s, dir
}

func TestLocalStorage_CreateAppendDelete(t *testing.T) {
	s, dir := newTestStorage(t)

	path, err := s.Create("clip.mp4", []byte("abc"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("Expected file inside %s, got %s", dir, path)
	}

	if err := s.Append(path, []byte("def")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abcdef" {
		t.Errorf("Expected abcdef, got %q", data)
	}

	if err := s.Delete(path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be gone")
	}
	if err := s.Delete(path); err != nil {
		t.Errorf("Deleting a missing file should not fail, got %v", err)
	}
}

func TestLocalStorage_CreateStripsDirectories(t *testing.T) {
	s, dir := newTestStorage(t)

	path, err := s.Create("../../escape.mp4", []byte("x"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("Create escaped the temp directory: %s", path)
	}
}

func TestLocalStorage_CreateRemovesPartialFile(t *testing.T) {
	s, dir := newTestStorage(t)
	s.write = func(f *os.File, data []byte) (int, error) {
		n, _ := f.Write(data[:1])
		return n, syscall.ENOSPC
	}

	path, err := s.Create("chunk.mp4", []byte("first chunk"))
	if !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("Expected ENOSPC, got %v", err)
	}
	if path != "" {
		t.Errorf("Expected no path on failure, got %s", path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected the partial file to be removed, found %d entries", len(entries))
	}
}

func TestLocalStorage_AppendMissingFile(t *testing.T) {
	s, dir := newTestStorage(t)
	if err := s.Append(filepath.Join(dir, "missing"), []byte("x")); err == nil {
		t.Error("Expected error appending to missing file")
	}
}

func TestLocalStorage_TempPathUnique(t *testing.T) {
	s, dir := newTestStorage(t)

	a, b := s.TempPath(".mp4"), s.TempPath(".mp4")
	if a == b {
		t.Error("Expected unique temp paths")
	}
	if !strings.HasSuffix(a, ".mp4") || filepath.Dir(a) != dir {
		t.Errorf("Unexpected temp path %s", a)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Error("TempPath must not create the file")
	}
}

func TestLocalStorage_CleanupTempDirectory(t *testing.T) {
	s, dir := newTestStorage(t)

	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.Create(name, []byte(name)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "keep"), 0755); err != nil {
		t.Fatal(err)
	}

	s.CleanupTempDirectory()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "keep" {
		t.Errorf("Expected only the subdirectory to remain, got %v", entries)
	}
}

func TestAppendWriter(t *testing.T) {
	s, _ := newTestStorage(t)

	w := NewAppendWriter(s, "out.mp4")
	var created []string
	w.OnCreate = func(path string) { created = append(created, path) }

	if w.Path() != "" {
		t.Error("Path should be empty before the first write")
	}
	for _, chunk := range []string{"one", "", "two", "three"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if len(created) != 1 {
		t.Fatalf("Expected exactly one create, got %d", len(created))
	}
	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "onetwothree" || w.Written() != 11 {
		t.Errorf("Unexpected content %q (%d bytes)", data, w.Written())
	}
}
