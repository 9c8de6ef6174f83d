package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"

	"github.com/resignkit/resigner/internal/bundle"
	"github.com/resignkit/resigner/internal/config"
	"github.com/resignkit/resigner/internal/identity"
	"github.com/resignkit/resigner/internal/ipaio"
	"github.com/resignkit/resigner/internal/plistutil"
	"github.com/resignkit/resigner/pkg/resign"
	"github.com/resignkit/resigner/pkg/sigcheck"
)

const version = "1.0.0"

const usage = `resigner - iOS application re-signing engine

Usage:
  resigner resign --app=<path> [--p12=<path>] [--profile=<path>] [--password=<password>] [--output=<path>] [--bundleid=<id>] [--inplace] [--cache] [--force]
  resigner info --app=<path> [--signature] [--recursive]
  resigner info --profile=<path>
  resigner diff --app1=<path> --app2=<path> [--recursive]
  resigner dylib list --app=<path>
  resigner dylib inject --app=<path> --path=<dylib-path> [--weak] [--create-if-absent]
  resigner dylib remove --app=<path> --path=<dylib-path>
  resigner dylib rename --app=<path> --from=<dylib-path> --to=<dylib-path>
  resigner -h | --help
  resigner --version

Commands:
  resign        Resign an .ipa file or .app bundle with a new signing identity
  info          Show bundle, profile, or signature information
  diff          Compare code signatures between two apps
  dylib list    List an executable's LC_LOAD_DYLIB dependencies
  dylib inject  Add a dylib load command
  dylib remove  Remove a dylib load command
  dylib rename  Rewrite a dylib load command's path

Options:
  --app=<path>          Path to the input .ipa file or .app bundle directory
  --app1=<path>         Path to first app for comparison (diff command)
  --app2=<path>         Path to second app for comparison (diff command)
  --p12=<path>          Path to the P12 certificate file (or RESIGNER_P12 env var)
  --profile=<path>      Path to the provisioning profile (or RESIGNER_PROFILE env var)
  --password=<password> Password for the P12 certificate (or RESIGNER_PASSWORD env var)
  --output=<path>       Path for the output .ipa, defaults to input-resigned.ipa (a .app input is always signed in place)
  --bundleid=<id>       New bundle ID to apply
  --inplace             Sign the app bundle in-place (only works with .app; a .app is signed in place without it too)
  --cache               Cache bundle resource hashes across nested bundle signing
  --force               Force re-signing even if a matching signature already exists (always on; kept for flag parity)
  --signature           Show detailed code signature information
  --recursive           Include nested bundles like Frameworks/ and PlugIns/
  --path=<dylib-path>   Dylib load path to inject or remove
  --weak                Inject as LC_LOAD_WEAK_DYLIB instead of LC_LOAD_DYLIB
  --create-if-absent    Skip injection if a load command for this exact path already exists
  --from=<dylib-path>   Dylib load path to rewrite
  --to=<dylib-path>     New dylib load path
  -h --help             Show this help message
  --version             Show version
`

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	switch {
	case boolOpt(opts, "resign"):
		runErr = runResign(opts, log)
	case boolOpt(opts, "info"):
		runErr = runInfo(opts)
	case boolOpt(opts, "diff"):
		runErr = runDiff(opts)
	case boolOpt(opts, "dylib"):
		runErr = runDylib(opts)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}

func boolOpt(opts docopt.Opts, key string) bool {
	v, _ := opts.Bool(key)
	return v
}

func strOpt(opts docopt.Opts, key string) string {
	v, _ := opts.String(key)
	return v
}

func runResign(opts docopt.Opts, log zerolog.Logger) error {
	inputPath := strOpt(opts, "--app")
	bundleID := strOpt(opts, "--bundleid")
	outputPath := strOpt(opts, "--output")
	inplace := boolOpt(opts, "--inplace")
	cache := boolOpt(opts, "--cache")
	force := boolOpt(opts, "--force")

	ident := config.ResolveIdentity(strOpt(opts, "--p12"), strOpt(opts, "--profile"), strOpt(opts, "--password"))
	if ident.P12Path == "" {
		return fmt.Errorf("--p12 is required (or set %s)", config.EnvP12)
	}
	if ident.ProfilePath == "" {
		return fmt.Errorf("--profile is required (or set %s)", config.EnvProfile)
	}

	isIPA := strings.HasSuffix(strings.ToLower(inputPath), ".ipa")
	if inplace {
		if isIPA {
			return fmt.Errorf("--inplace can only be used with .app bundles, not .ipa files")
		}
		if outputPath != "" {
			return fmt.Errorf("cannot specify both --inplace and --output")
		}
	}
	if outputPath == "" && !inplace {
		ext := filepath.Ext(inputPath)
		outputPath = strings.TrimSuffix(inputPath, ext) + "-resigned" + ext
	}

	p12Data, err := os.ReadFile(ident.P12Path)
	if err != nil {
		return fmt.Errorf("reading P12: %w", err)
	}
	profileData, err := os.ReadFile(ident.ProfilePath)
	if err != nil {
		return fmt.Errorf("reading provisioning profile: %w", err)
	}

	var appPath, tempDir string
	if isIPA {
		tempDir, err = ipaio.Extract(inputPath)
		if err != nil {
			return fmt.Errorf("extracting IPA: %w", err)
		}
		defer os.RemoveAll(tempDir)
		appPath, err = ipaio.FindAppBundle(tempDir)
		if err != nil {
			return err
		}
	} else if inplace {
		appPath = inputPath
	} else {
		appPath = inputPath
	}

	coordinator, err := resign.New(resign.Options{
		P12Data:             p12Data,
		P12Password:         ident.P12Password,
		ProvisioningProfile: profileData,
		NewBundleID:         bundleID,
		EnableCache:         cache,
		Force:               force,
		Logger:              log,
	})
	if err != nil {
		return err
	}

	log.Info().Str("app", appPath).Msg("signing")
	if err := coordinator.SignApp(appPath); err != nil {
		return err
	}

	switch {
	case isIPA:
		if err := ipaio.Repackage(tempDir, outputPath); err != nil {
			return fmt.Errorf("repackaging IPA: %w", err)
		}
		fmt.Printf("signed IPA written to %s\n", outputPath)
	case inplace:
		fmt.Printf("signed %s in place\n", inputPath)
	default:
		fmt.Printf("signed .app bundle at %s\n", appPath)
	}
	return nil
}

func runInfo(opts docopt.Opts) error {
	if profilePath := strOpt(opts, "--profile"); profilePath != "" {
		return showProfileInfo(profilePath)
	}
	appPath := strOpt(opts, "--app")
	if appPath == "" {
		return fmt.Errorf("either --app or --profile is required")
	}
	return showAppInfo(appPath, boolOpt(opts, "--signature"), boolOpt(opts, "--recursive"))
}

func showAppInfo(appPath string, showSignature, recursive bool) error {
	info, err := bundle.ReadInfo(appPath)
	if err != nil {
		return err
	}
	fmt.Println("App Bundle Information")
	fmt.Println("======================")
	fmt.Printf("Path:       %s\n", appPath)
	fmt.Printf("Bundle ID:  %s\n", info.BundleID)
	fmt.Printf("Executable: %s\n", info.Executable)
	if info.Version != "" {
		fmt.Printf("Version:    %s\n", info.Version)
	}

	if !showSignature {
		return nil
	}
	sigs, err := sigcheck.ParseBundle(appPath, recursive)
	if err != nil {
		return fmt.Errorf("parsing signature: %w", err)
	}
	for _, sig := range sigs {
		sigcheck.Print(sig, os.Stdout)
	}
	return nil
}

func showProfileInfo(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return err
	}
	profile, err := identity.ParseProfile(data)
	if err != nil {
		return err
	}
	fmt.Println("Provisioning Profile Information")
	fmt.Println("================================")
	fmt.Printf("Team ID: %s\n", profile.TeamID())
	fmt.Printf("App ID:  %s\n", profile.ApplicationIdentifier())
	fmt.Printf("UUID:    %s\n", profile.UUID)
	fmt.Printf("Expired: %v\n", profile.Expired())
	if certs, err := profile.Certificates(); err == nil {
		fmt.Printf("Certificates: %d\n", len(certs))
		for i, cert := range certs {
			fmt.Printf("  [%d] %s (expires %s)\n", i+1, cert.Subject.CommonName, cert.NotAfter.Format("2006-01-02"))
		}
	}
	if len(profile.Entitlements) > 0 {
		fmt.Println("\nEntitlements:")
		printPlistDict(profile.Entitlements, "  ")
	}
	return nil
}

func printPlistDict(d plistutil.Dict, indent string) {
	for k, v := range d {
		fmt.Printf("%s%s: %v\n", indent, k, v)
	}
}

func runDiff(opts docopt.Opts) error {
	app1, app2 := strOpt(opts, "--app1"), strOpt(opts, "--app2")
	if app1 == "" || app2 == "" {
		return fmt.Errorf("both --app1 and --app2 are required")
	}
	diffs, err := sigcheck.CompareBundles(app1, app2, boolOpt(opts, "--recursive"))
	if err != nil {
		return err
	}
	sigcheck.PrintDiff(diffs, os.Stdout)
	return nil
}

func runDylib(opts docopt.Opts) error {
	appPath := strOpt(opts, "--app")
	info, err := bundle.ReadInfo(appPath)
	if err != nil {
		return err
	}
	execPath := filepath.Join(appPath, info.Executable)

	switch {
	case boolOpt(opts, "list"):
		refs, err := resign.ListDylibs(execPath)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			fmt.Println(ref.Path)
		}
		return nil
	case boolOpt(opts, "inject"):
		path := strOpt(opts, "--path")
		if path == "" {
			return fmt.Errorf("--path is required")
		}
		return resign.InjectDylib(execPath, path, boolOpt(opts, "--weak"), boolOpt(opts, "--create-if-absent"))
	case boolOpt(opts, "remove"):
		path := strOpt(opts, "--path")
		if path == "" {
			return fmt.Errorf("--path is required")
		}
		return resign.UninstallDylibs(execPath, []string{path})
	case boolOpt(opts, "rename"):
		from, to := strOpt(opts, "--from"), strOpt(opts, "--to")
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}
		return resign.ChangeDylibPath(execPath, from, to)
	}
	return fmt.Errorf("unknown dylib subcommand")
}
