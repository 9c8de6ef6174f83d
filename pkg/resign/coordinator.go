// Package resign implements SignCoordinator: the top-level orchestration
// that turns an unsigned .app bundle plus a signing identity into a signed
// one, walking nested bundles leaf-first the way Apple's own codesign does.
package resign

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/resignkit/resigner/internal/atomicio"
	"github.com/resignkit/resigner/internal/bundle"
	"github.com/resignkit/resigner/internal/identity"
	"github.com/resignkit/resigner/internal/machoedit"
	"github.com/resignkit/resigner/internal/plistutil"
	"github.com/resignkit/resigner/internal/resignerr"
)

// Options configures one signing run.
type Options struct {
	P12Data             []byte
	P12Password         string
	ProvisioningProfile []byte

	// Entitlements, when set, overrides the provisioning profile's
	// embedded entitlements field by field.
	Entitlements plistutil.Dict

	NewBundleID string
	Version     string
	DisplayName string

	InjectDylib []string // paths to inject as LC_LOAD_DYLIB
	WeakInject  []string // paths to inject as LC_LOAD_WEAK_DYLIB

	SuppressEmbeddedProfile bool
	EnableCache             bool

	// Force exists for API symmetry with the original tool's bForce flag.
	// SignApp always replaces any existing signature, so this is a
	// currently-always-true no-op; it's here so a caller porting a flag
	// surface from the original tool has somewhere to put it.
	Force bool

	Logger zerolog.Logger
}

// SignCoordinator drives one signing run against a single .app bundle.
type SignCoordinator struct {
	opts     Options
	identity *identity.Identity
	profile  *identity.Profile
	log      zerolog.Logger
	cache    *bundle.Cache
}

// New validates opts and resolves the signing identity against the
// provisioning profile, returning a coordinator ready to sign one or more
// bundles with it.
func New(opts Options) (*SignCoordinator, error) {
	if len(opts.P12Data) == 0 {
		return nil, resignerr.Wrapf(resignerr.KindIdentityInvalid, "SignCoordinator", "", "no P12 or PEM key data supplied")
	}
	if len(opts.ProvisioningProfile) == 0 {
		return nil, resignerr.Wrapf(resignerr.KindIdentityInvalid, "SignCoordinator", "", "no provisioning profile supplied")
	}

	profile, err := identity.ParseProfile(opts.ProvisioningProfile)
	if err != nil {
		return nil, err
	}
	if profile.Expired() {
		return nil, resignerr.Wrapf(resignerr.KindIdentityInvalid, "SignCoordinator", "", "provisioning profile %s expired", profile.UUID)
	}

	id, err := identity.Load(opts.P12Data, opts.P12Password)
	if err != nil {
		return nil, err
	}
	if err := id.MatchProfile(profile); err != nil {
		return nil, err
	}
	if !profile.MatchesCertificate(id.Certificate) {
		return nil, resignerr.Wrapf(resignerr.KindIdentityInvalid, "SignCoordinator", "", "signing certificate does not match provisioning profile")
	}

	log := opts.Logger
	if log.GetLevel() == zerolog.Disabled {
		log = zerolog.Nop()
	}

	var cache *bundle.Cache
	if opts.EnableCache {
		cache = bundle.NewCache()
	}
	return &SignCoordinator{opts: opts, identity: id, profile: profile, log: log, cache: cache}, nil
}

// SignApp resigns appPath in place: nested bundles first, then the app's
// own executable, matching the order a nested bundle's CodeResources entry
// needs its own already-computed cdhash.
func (c *SignCoordinator) SignApp(appPath string) error {
	info, err := bundle.ReadInfo(appPath)
	if err != nil {
		return err
	}
	bundleID := info.BundleID
	if c.opts.NewBundleID != "" {
		bundleID = c.opts.NewBundleID
	}

	if c.opts.NewBundleID != "" || c.opts.Version != "" || c.opts.DisplayName != "" {
		if err := bundle.WriteInfo(appPath, c.opts.NewBundleID, c.opts.Version, c.opts.DisplayName); err != nil {
			return err
		}
	}

	if len(c.opts.InjectDylib) > 0 || len(c.opts.WeakInject) > 0 {
		mainExec := filepath.Join(appPath, info.Executable)
		if err := c.injectDylibs(mainExec); err != nil {
			return err
		}
	}

	if !c.opts.SuppressEmbeddedProfile {
		profilePath := filepath.Join(appPath, "embedded.mobileprovision")
		if err := atomicio.WriteFile(profilePath, c.opts.ProvisioningProfile, 0644); err != nil {
			return resignerr.Wrap(resignerr.KindIOFailure, "SignCoordinator", profilePath, err)
		}
	}

	nested, err := bundle.Walk(appPath)
	if err != nil {
		return err
	}
	for _, n := range nested {
		c.log.Info().Str("bundle", n.Path).Str("kind", n.Kind.String()).Msg("signing nested bundle")
		if err := c.signNested(n); err != nil {
			return resignerr.Wrap(resignerr.KindChildSignFailed, "SignCoordinator", n.Path, err)
		}
	}

	if err := os.RemoveAll(filepath.Join(appPath, "_CodeSignature")); err != nil && !os.IsNotExist(err) {
		return resignerr.Wrap(resignerr.KindIOFailure, "SignCoordinator", appPath, err)
	}
	if err := bundle.WriteCodeResourcesCached(appPath, c.cache); err != nil {
		return err
	}

	entitlements, err := c.resolveEntitlements()
	if err != nil {
		return err
	}
	entXML, err := plistutil.Encode(entitlements, plistutil.XML)
	if err != nil {
		return resignerr.Wrap(resignerr.KindMalformedBundle, "SignCoordinator", appPath, err)
	}

	infoPlist, _ := os.ReadFile(filepath.Join(appPath, "Info.plist"))
	codeResources, _ := os.ReadFile(filepath.Join(appPath, "_CodeSignature", "CodeResources"))

	mainExec := filepath.Join(appPath, info.Executable)
	c.log.Info().Str("bundle", appPath).Str("bundle_id", bundleID).Msg("signing main executable")
	return signExecutable(mainExec, bundleID, entXML, c.identity, execContext{InfoPlist: infoPlist, CodeResources: codeResources})
}

// signNested signs one nested bundle (.framework/.appex/.xctest) with empty
// entitlements, matching how Apple only puts entitlements on the top-level
// app's executable.
func (c *SignCoordinator) signNested(n bundle.Node) error {
	info, err := bundle.ReadInfo(n.Path)
	if err != nil {
		// Resource-only bundles (no Info.plist, no binary) are skipped.
		return nil
	}
	binPath := filepath.Join(n.Path, info.Executable)
	if _, err := os.Stat(binPath); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(filepath.Join(n.Path, "_CodeSignature")); err != nil && !os.IsNotExist(err) {
		return resignerr.Wrap(resignerr.KindIOFailure, "SignCoordinator", n.Path, err)
	}
	if err := bundle.WriteCodeResourcesCached(n.Path, c.cache); err != nil {
		return err
	}

	infoPlist, _ := os.ReadFile(filepath.Join(n.Path, "Info.plist"))
	codeResources, _ := os.ReadFile(filepath.Join(n.Path, "_CodeSignature", "CodeResources"))

	emptyEnt := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict/>
</plist>
`)

	return signExecutable(binPath, info.BundleID, emptyEnt, c.identity, execContext{InfoPlist: infoPlist, CodeResources: codeResources})
}

// resolveEntitlements merges caller-supplied entitlements over the
// provisioning profile's, per field, with the caller's values winning.
func (c *SignCoordinator) resolveEntitlements() (plistutil.Dict, error) {
	merged := make(plistutil.Dict, len(c.profile.Entitlements))
	for k, v := range c.profile.Entitlements {
		merged[k] = v
	}
	for k, v := range c.opts.Entitlements {
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil, resignerr.Wrapf(resignerr.KindMalformedBundle, "SignCoordinator", "", "no entitlements available from profile or options")
	}
	if c.opts.NewBundleID != "" {
		merged = retargetEntitlements(merged, c.identity.TeamID, c.opts.NewBundleID)
	}
	return merged, nil
}

// injectDylibs injects every configured dylib path, skipping ones already
// present so re-signing a bundle a second time doesn't pile up duplicate
// LC_LOAD_DYLIB commands.
func (c *SignCoordinator) injectDylibs(execPath string) error {
	return mutateExecutable(execPath, func(s *machoedit.ArchSlice) error {
		for _, path := range c.opts.InjectDylib {
			if err := s.InjectDylib(path, machoedit.DylibNormal, true); err != nil {
				return err
			}
		}
		for _, path := range c.opts.WeakInject {
			if err := s.InjectDylib(path, machoedit.DylibWeak, true); err != nil {
				return err
			}
		}
		return nil
	})
}
