package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCacheLookupStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	c := NewCache()
	if _, _, ok := c.lookup(path, fi); ok {
		t.Fatal("lookup on empty cache should miss")
	}

	c.store(path, fi, []byte("sha1sum"), []byte("sha256sum"))
	h1, h2, ok := c.lookup(path, fi)
	if !ok {
		t.Fatal("lookup after store should hit")
	}
	if string(h1) != "sha1sum" || string(h2) != "sha256sum" {
		t.Fatalf("lookup returned (%q, %q), want (sha1sum, sha256sum)", h1, h2)
	}
}

func TestCacheMissAfterModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	c := NewCache()
	c.store(path, fi, []byte("old"), []byte("old2"))

	if err := os.WriteFile(path, []byte("v2-longer"), 0644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	fi2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat after rewrite: %v", err)
	}

	if _, _, ok := c.lookup(path, fi2); ok {
		t.Fatal("lookup should miss once size/mtime changes")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	var c *Cache
	if _, _, ok := c.lookup(path, fi); ok {
		t.Fatal("nil cache lookup must always miss")
	}
	c.store(path, fi, []byte("a"), []byte("b")) // must not panic
}
