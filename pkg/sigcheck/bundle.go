package sigcheck

import (
	"path/filepath"

	"github.com/resignkit/resigner/internal/bundle"
	"github.com/resignkit/resigner/internal/resignerr"
)

// ParseBundle parses appPath's main executable, and every nested bundle's
// executable too when recursive is set. The returned map is keyed by path
// relative to appPath ("." for the main executable).
func ParseBundle(appPath string, recursive bool) (map[string]*Signature, error) {
	out := make(map[string]*Signature)

	info, err := bundle.ReadInfo(appPath)
	if err != nil {
		return nil, err
	}
	mainSig, err := Parse(filepath.Join(appPath, info.Executable))
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindMalformedBundle, "SignatureInspector", appPath, err)
	}
	out["."] = mainSig

	if !recursive {
		return out, nil
	}

	nested, err := bundle.Walk(appPath)
	if err != nil {
		return nil, err
	}
	for _, n := range nested {
		ni, err := bundle.ReadInfo(n.Path)
		if err != nil {
			continue
		}
		sig, err := Parse(filepath.Join(n.Path, ni.Executable))
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(appPath, n.Path)
		if err != nil {
			rel = n.Path
		}
		out[rel] = sig
	}
	return out, nil
}

func identifierOf(sig *Signature) string {
	if len(sig.CodeDirs) == 0 {
		return ""
	}
	return sig.CodeDirs[0].Identifier
}

// CompareBundles parses both apps and diffs every path present in either.
func CompareBundles(app1, app2 string, recursive bool) ([]Diff, error) {
	sigs1, err := ParseBundle(app1, recursive)
	if err != nil {
		return nil, err
	}
	sigs2, err := ParseBundle(app2, recursive)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var diffs []Diff
	for path, sig1 := range sigs1 {
		seen[path] = true
		sig2, ok := sigs2[path]
		if !ok {
			diffs = append(diffs, Diff{RelativePath: path, Identifier1: identifierOf(sig1), IdentifierChanged: true})
			continue
		}
		diffs = append(diffs, Compare(path, sig1, sig2))
	}
	for path, sig2 := range sigs2 {
		if seen[path] {
			continue
		}
		diffs = append(diffs, Diff{RelativePath: path, Identifier2: identifierOf(sig2), IdentifierChanged: true})
	}
	return diffs, nil
}
