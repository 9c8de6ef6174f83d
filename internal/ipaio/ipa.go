// Package ipaio handles the .ipa container: extracting a Payload/*.app
// bundle to a working directory before signing and repackaging it
// afterward. It has no dependency on the signing internals — a caller could
// point SignCoordinator at an already-extracted .app and skip this package
// entirely.
package ipaio

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/resignkit/resigner/internal/resignerr"
)

// Extract unpacks ipaPath into a fresh temporary directory and returns its
// path. The caller is responsible for removing it once done.
func Extract(ipaPath string) (string, error) {
	tempDir, err := os.MkdirTemp("", "resigner-*")
	if err != nil {
		return "", resignerr.Wrap(resignerr.KindIOFailure, "IPAExtractor", ipaPath, err)
	}

	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		os.RemoveAll(tempDir)
		return "", resignerr.Wrap(resignerr.KindIOFailure, "IPAExtractor", ipaPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractOne(f, tempDir); err != nil {
			os.RemoveAll(tempDir)
			return "", resignerr.Wrapf(resignerr.KindIOFailure, "IPAExtractor", ipaPath, "extract %s: %v", f.Name, err)
		}
	}
	return tempDir, nil
}

func extractOne(f *zip.File, destDir string) error {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return resignerr.Wrapf(resignerr.KindMalformedBundle, "IPAExtractor", f.Name, "zip entry escapes extraction directory")
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, f.Mode())
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(dst, src)
	return err
}

// FindAppBundle locates the single .app directory under extractedDir/Payload.
func FindAppBundle(extractedDir string) (string, error) {
	payloadDir := filepath.Join(extractedDir, "Payload")
	entries, err := os.ReadDir(payloadDir)
	if err != nil {
		return "", resignerr.Wrap(resignerr.KindMalformedBundle, "IPAExtractor", payloadDir, err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".app") {
			return filepath.Join(payloadDir, e.Name()), nil
		}
	}
	return "", resignerr.Wrapf(resignerr.KindMalformedBundle, "IPAExtractor", payloadDir, "no .app bundle found under Payload/")
}

// Repackage zips extractedDir (an IPA's exploded contents, with Payload/ at
// its root) into outputPath.
func Repackage(extractedDir, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return resignerr.Wrap(resignerr.KindIOFailure, "IPAExtractor", outputPath, err)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	defer w.Close()

	return filepath.Walk(extractedDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == extractedDir {
			return nil
		}
		relPath, err := filepath.Rel(extractedDir, path)
		if err != nil {
			return err
		}
		zipPath := strings.ReplaceAll(relPath, string(os.PathSeparator), "/")

		if info.IsDir() {
			_, err := w.Create(zipPath + "/")
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = zipPath
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(writer, src)
		return err
	})
}
