package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteInfoRewritesDisplayNameAndBundleName(t *testing.T) {
	root := t.TempDir()
	writeInfoPlist(t, root, "com.example.app", "Test")

	if err := WriteInfo(root, "", "", "New Display"); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}

	info, err := readRawInfoDict(t, root)
	if err != nil {
		t.Fatalf("re-read Info.plist: %v", err)
	}
	if got := info["CFBundleDisplayName"]; got != "New Display" {
		t.Fatalf("CFBundleDisplayName = %v, want %q", got, "New Display")
	}
	if got := info["CFBundleName"]; got != "New Display" {
		t.Fatalf("CFBundleName = %v, want %q", got, "New Display")
	}
}

func TestWriteInfoRewritesBundleIDAndVersion(t *testing.T) {
	root := t.TempDir()
	writeInfoPlist(t, root, "com.example.app", "Test")

	if err := WriteInfo(root, "com.example.retargeted", "2.0", ""); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}

	info, err := readRawInfoDict(t, root)
	if err != nil {
		t.Fatalf("re-read Info.plist: %v", err)
	}
	if got := info["CFBundleIdentifier"]; got != "com.example.retargeted" {
		t.Fatalf("CFBundleIdentifier = %v, want retargeted value", got)
	}
	if got := info["CFBundleVersion"]; got != "2.0" {
		t.Fatalf("CFBundleVersion = %v, want 2.0", got)
	}
	if got := info["CFBundleShortVersionString"]; got != "2.0" {
		t.Fatalf("CFBundleShortVersionString = %v, want 2.0", got)
	}
}

func readRawInfoDict(t *testing.T, appPath string) (map[string]interface{}, error) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(appPath, "Info.plist"))
	if err != nil {
		return nil, err
	}
	return decodeResources(t, data), nil
}
