// Package bundle implements BundleWalker and CodeResourcesBuilder: finding
// every nested bundle inside a .app in leaf-first signing order, and
// generating the _CodeSignature/CodeResources manifest each bundle needs.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/resignkit/resigner/internal/atomicio"
	"github.com/resignkit/resigner/internal/plistutil"
	"github.com/resignkit/resigner/internal/resignerr"
)

// Info is the subset of Info.plist fields signing cares about.
type Info struct {
	BundleID   string
	Executable string
	Version    string
	Display    string
}

// ReadInfo parses appPath/Info.plist.
func ReadInfo(appPath string) (*Info, error) {
	path := filepath.Join(appPath, "Info.plist")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindIOFailure, "BundleWalker", path, err)
	}
	var dict plistutil.Dict
	if err := plistutil.Decode(data, &dict); err != nil {
		return nil, resignerr.Wrap(resignerr.KindMalformedBundle, "BundleWalker", path, err)
	}

	bundleID, _ := dict["CFBundleIdentifier"].(string)
	if bundleID == "" {
		return nil, resignerr.Wrapf(resignerr.KindMalformedBundle, "BundleWalker", path, "CFBundleIdentifier missing")
	}
	exec, _ := dict["CFBundleExecutable"].(string)
	if exec == "" {
		return nil, resignerr.Wrapf(resignerr.KindMalformedBundle, "BundleWalker", path, "CFBundleExecutable missing")
	}
	version, _ := dict["CFBundleVersion"].(string)
	display, _ := dict["CFBundleDisplayName"].(string)

	return &Info{BundleID: bundleID, Executable: exec, Version: version, Display: display}, nil
}

// WriteInfo overwrites appPath/Info.plist's identifier, version, and display
// name fields (used to retarget a bundle ID or version during resigning),
// preserving whatever plist format the file was already in.
func WriteInfo(appPath string, bundleID, version, display string) error {
	path := filepath.Join(appPath, "Info.plist")
	data, err := os.ReadFile(path)
	if err != nil {
		return resignerr.Wrap(resignerr.KindIOFailure, "BundleWalker", path, err)
	}
	var dict plistutil.Dict
	if err := plistutil.Decode(data, &dict); err != nil {
		return resignerr.Wrap(resignerr.KindMalformedBundle, "BundleWalker", path, err)
	}

	if bundleID != "" {
		dict["CFBundleIdentifier"] = bundleID
	}
	if version != "" {
		dict["CFBundleVersion"] = version
		dict["CFBundleShortVersionString"] = version
	}
	if display != "" {
		dict["CFBundleDisplayName"] = display
		dict["CFBundleName"] = display
	}

	format := plistutil.XML
	if isBinaryPlist(data) {
		format = plistutil.Binary
	}
	out, err := plistutil.Encode(dict, format)
	if err != nil {
		return fmt.Errorf("encode Info.plist: %w", err)
	}
	if err := atomicio.WriteFile(path, out, 0644); err != nil {
		return resignerr.Wrap(resignerr.KindIOFailure, "BundleWalker", path, err)
	}
	return nil
}

func isBinaryPlist(data []byte) bool {
	return len(data) >= 8 && string(data[:8]) == "bplist00"
}
