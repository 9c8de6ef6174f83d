package resign

import (
	"path/filepath"

	"github.com/resignkit/resigner/internal/atomicio"
	"github.com/resignkit/resigner/internal/machoedit"
	"github.com/resignkit/resigner/internal/resignerr"
)

// ListDylibs returns every dylib dependency of execPath's first (or only)
// architecture slice, without modifying the file. Callers inspecting a fat
// binary that wants per-arch detail should use machoedit directly.
func ListDylibs(execPath string) ([]machoedit.DylibRef, error) {
	img, err := machoedit.ParseFile(execPath)
	if err != nil {
		return nil, err
	}
	return img.Slices[0].ListDylibs(), nil
}

// InjectDylib adds a new LC_LOAD_DYLIB (or, if weak is set,
// LC_LOAD_WEAK_DYLIB) load command referencing path to every architecture
// slice and rewrites the file in place. When createIfAbsent is true, a
// slice that already has a load command for the exact same path is left
// untouched instead of gaining a duplicate. It does not re-sign — callers
// must re-run SignApp afterward for the change to take effect on a bundle
// Apple's loader will accept.
func InjectDylib(execPath, path string, weak, createIfAbsent bool) error {
	kind := machoedit.DylibNormal
	if weak {
		kind = machoedit.DylibWeak
	}
	return mutateExecutable(execPath, func(s *machoedit.ArchSlice) error {
		return s.InjectDylib(path, kind, createIfAbsent)
	})
}

// ChangeDylibPath rewrites every architecture slice's load command for
// oldPath to newPath and rewrites the file in place. It does not re-sign —
// callers must re-run SignApp afterward for the change to take effect on a
// bundle Apple's loader will accept.
func ChangeDylibPath(execPath, oldPath, newPath string) error {
	return mutateExecutable(execPath, func(s *machoedit.ArchSlice) error {
		return s.ChangeDylibPath(oldPath, newPath)
	})
}

// UninstallDylibs removes every dylib load command whose basename matches
// one of paths' basenames, across every architecture slice.
func UninstallDylibs(execPath string, paths []string) error {
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[filepath.Base(p)] = true
	}
	return mutateExecutable(execPath, func(s *machoedit.ArchSlice) error {
		_, err := s.RemoveDylibs(func(d machoedit.DylibRef) bool { return want[filepath.Base(d.Path)] })
		return err
	})
}

func mutateExecutable(execPath string, mutate func(*machoedit.ArchSlice) error) error {
	img, err := machoedit.ParseFile(execPath)
	if err != nil {
		return err
	}
	for _, slice := range img.Slices {
		if err := mutate(slice); err != nil {
			return err
		}
	}
	final := img.Slices[0].Data
	if img.Fat {
		datas := make([][]byte, len(img.Slices))
		for i, s := range img.Slices {
			datas[i] = s.Data
		}
		final = rebuildFat(img, datas)
	}
	if err := atomicio.WriteFile(execPath, final, 0755); err != nil {
		return resignerr.Wrap(resignerr.KindIOFailure, "SignCoordinator", execPath, err)
	}
	return nil
}
