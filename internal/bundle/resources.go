package bundle

import (
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/resignkit/resigner/internal/atomicio"
	"github.com/resignkit/resigner/internal/plistutil"
	"github.com/resignkit/resigner/internal/resignerr"
)

// GenerateCodeResources walks appPath and builds the plist that becomes
// _CodeSignature/CodeResources. It's equivalent to
// GenerateCodeResourcesCached(appPath, nil).
func GenerateCodeResources(appPath string) ([]byte, error) {
	return GenerateCodeResourcesCached(appPath, nil)
}

// GenerateCodeResourcesCached walks appPath and builds the plist that
// becomes _CodeSignature/CodeResources: a "files" section (legacy SHA-1
// hashes) and a "files2" section (SHA-256, plus a cdhash for nested bundle
// executables) alongside the rule sets a verifier uses to know which paths
// are optional or excluded entirely. The result is encoded as a binary
// plist, matching what a real codesign_allocate/csreq toolchain emits.
// cache, if non-nil, memoizes per-file hashes across calls in one process.
func GenerateCodeResourcesCached(appPath string, cache *Cache) ([]byte, error) {
	files := make(plistutil.Dict)
	files2 := make(plistutil.Dict)

	info, err := ReadInfo(appPath)
	if err != nil {
		return nil, err
	}
	execName := info.Executable

	nested, err := Walk(appPath)
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindIOFailure, "CodeResourcesBuilder", appPath, err)
	}
	nestedExecs := map[string]string{} // relative executable path -> owning nested bundle path
	for _, n := range nested {
		ni, err := ReadInfo(n.Path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(appPath, filepath.Join(n.Path, ni.Executable))
		if err == nil {
			nestedExecs[rel] = n.Path
		}
	}

	err = filepath.Walk(appPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(appPath, path)
		if err != nil {
			return err
		}
		if relPath == filepath.Join("_CodeSignature", "CodeResources") || relPath == execName {
			return nil
		}
		if shouldOmit(relPath) {
			return nil
		}

		needsHash2 := !shouldOmitFromFiles2(relPath)
		fileCache := cache
		if _, ok := nestedExecs[relPath]; ok {
			fileCache = nil // a nested bundle's main executable is always hashed fresh
		}
		hash, hash2, cached := fileCache.lookup(path, fi)
		if !cached || (needsHash2 && hash2 == nil) {
			var err error
			hash, err = hashFile(path, sha1.New())
			if err != nil {
				return resignerr.Wrap(resignerr.KindIOFailure, "CodeResourcesBuilder", path, err)
			}
			if needsHash2 {
				hash2, err = hashFile(path, sha256.New())
				if err != nil {
					return resignerr.Wrap(resignerr.KindIOFailure, "CodeResourcesBuilder", path, err)
				}
			}
			fileCache.store(path, fi, hash, hash2)
		}
		optional := isOptional(relPath)

		if optional {
			files[relPath] = plistutil.Dict{"hash": hash, "optional": true}
		} else {
			files[relPath] = hash
		}

		if needsHash2 {
			entry := plistutil.Dict{"hash": hash, "hash2": hash2}
			if optional {
				entry["optional"] = true
			}
			if bundlePath, ok := nestedExecs[relPath]; ok {
				if cdhash, err := executableCDHash(filepath.Join(bundlePath, filepath.Base(relPath))); err == nil && len(cdhash) > 0 {
					entry["cdhash"] = cdhash
				}
			}
			files2[relPath] = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resources := plistutil.Dict{
		"files":  files,
		"files2": files2,
		"rules":  defaultRules(),
		"rules2": defaultRules2(),
	}

	return plistutil.Encode(resources, plistutil.Binary)
}

// WriteCodeResources generates and writes appPath/_CodeSignature/CodeResources.
func WriteCodeResources(appPath string) error {
	return WriteCodeResourcesCached(appPath, nil)
}

// WriteCodeResourcesCached is WriteCodeResources with an optional hash cache.
func WriteCodeResourcesCached(appPath string, cache *Cache) error {
	data, err := GenerateCodeResourcesCached(appPath, cache)
	if err != nil {
		return err
	}
	dir := filepath.Join(appPath, "_CodeSignature")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return resignerr.Wrap(resignerr.KindIOFailure, "CodeResourcesBuilder", dir, err)
	}
	path := filepath.Join(dir, "CodeResources")
	if err := atomicio.WriteFile(path, data, 0644); err != nil {
		return resignerr.Wrap(resignerr.KindIOFailure, "CodeResourcesBuilder", path, err)
	}
	return nil
}

func hashFile(path string, h hash.Hash) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func shouldOmit(path string) bool {
	if strings.HasSuffix(path, ".DS_Store") {
		return true
	}
	if strings.Contains(path, ".git") {
		return true
	}
	if strings.HasPrefix(filepath.Base(path), "._") {
		return true
	}
	if strings.HasSuffix(path, ".lproj/locversion.plist") {
		return true
	}
	return false
}

func isOptional(path string) bool {
	return strings.Contains(path, ".lproj/")
}

func shouldOmitFromFiles2(path string) bool {
	return path == "Info.plist" || path == "PkgInfo"
}

func defaultRules() plistutil.Dict {
	return plistutil.Dict{
		"^.*": true,
		"^.*\\.lproj/": plistutil.Dict{
			"optional": true,
			"weight":   float64(1000),
		},
		"^.*\\.lproj/locversion.plist$": plistutil.Dict{
			"omit":   true,
			"weight": float64(1100),
		},
		"^Base\\.lproj/": plistutil.Dict{
			"weight": float64(1010),
		},
		"^version.plist$": true,
	}
}

func defaultRules2() plistutil.Dict {
	return plistutil.Dict{
		"^.*":            true,
		".*\\.dSYM($|/)": plistutil.Dict{"weight": float64(11)},
		"^(.*/)?\\.DS_Store$": plistutil.Dict{
			"omit":   true,
			"weight": float64(2000),
		},
		"^.*\\.lproj/": plistutil.Dict{
			"optional": true,
			"weight":   float64(1000),
		},
		"^.*\\.lproj/locversion.plist$": plistutil.Dict{
			"omit":   true,
			"weight": float64(1100),
		},
		"^Base\\.lproj/": plistutil.Dict{"weight": float64(1010)},
		"^Info\\.plist$": plistutil.Dict{
			"omit":   true,
			"weight": float64(20),
		},
		"^PkgInfo$": plistutil.Dict{
			"omit":   true,
			"weight": float64(20),
		},
		"^embedded\\.provisionprofile$": plistutil.Dict{"weight": float64(20)},
		"^version\\.plist$":             plistutil.Dict{"weight": float64(20)},
	}
}
