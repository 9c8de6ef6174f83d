package bundle

import "os"

// Cache memoizes a file's SHA-1/SHA-256 hash pair across repeated
// CodeResources builds in one process, keyed by path, size, and
// modification time. It never covers a bundle's main executable — that's
// always hashed fresh as part of signing — and a cache miss always falls
// back to hashing the file, so enabling it can only save time, never
// change the resulting CodeResources.
type Cache struct {
	entries map[cacheKey]cacheValue
}

type cacheKey struct {
	path string
	size int64
	mod  int64
}

type cacheValue struct {
	sha1, sha256 []byte
}

// NewCache returns an empty cache. A nil *Cache is valid and simply
// disables caching everywhere it's passed.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]cacheValue)}
}

func (c *Cache) lookup(path string, fi os.FileInfo) ([]byte, []byte, bool) {
	if c == nil {
		return nil, nil, false
	}
	v, ok := c.entries[cacheKey{path, fi.Size(), fi.ModTime().UnixNano()}]
	if !ok {
		return nil, nil, false
	}
	return v.sha1, v.sha256, true
}

func (c *Cache) store(path string, fi os.FileInfo, sha1, sha256 []byte) {
	if c == nil {
		return
	}
	c.entries[cacheKey{path, fi.Size(), fi.ModTime().UnixNano()}] = cacheValue{sha1: sha1, sha256: sha256}
}
