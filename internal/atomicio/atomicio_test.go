package atomicio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileCreatesTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	if err := WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("content = %q, want %q", got, "hello")
	}
}

func TestWriteFileLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	if err := WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.bin" {
		t.Fatalf("directory contents = %v, want only out.bin", entries)
	}
}

func TestWriteFileOverwritesExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, []byte("old-and-longer-content"), 0644); err != nil {
		t.Fatalf("seed WriteFile: %v", err)
	}

	if err := WriteFile(path, []byte("new"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "new" {
		t.Fatalf("content = %q, want %q", got, "new")
	}
}

func TestWriteFileFailsIntoMissingDirWithoutTouchingTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-subdir", "out.bin")
	if err := WriteFile(path, []byte("x"), 0644); err == nil {
		t.Fatal("expected an error writing into a nonexistent directory")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("target should not exist after a failed write, stat err = %v", err)
	}
}
