package machoedit

import (
	"testing"

	"github.com/resignkit/resigner/internal/machotest"
)

func buildTestSlice(t *testing.T) []byte {
	t.Helper()
	const (
		textOff   = 0x4000
		textSize  = 0x1000
		linkOff   = textOff + textSize
		linkSize  = 0x1000
		totalSize = linkOff + linkSize
	)
	b := machotest.New().
		AddTextSegment(textOff, textSize, 0x100000000, textSize).
		AddLinkeditSegment(linkOff, linkSize, 0x100000000+textOff+textSize, linkSize)
	return b.Build(totalSize)
}

func TestParseBytesFindsSegments(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]
	if slice.Text == nil {
		t.Fatal("expected __TEXT segment")
	}
	if slice.Linkedit == nil {
		t.Fatal("expected __LINKEDIT segment")
	}
	if len(slice.Dylibs) != 0 {
		t.Fatalf("expected no dylibs, got %d", len(slice.Dylibs))
	}
}

func TestInjectAndListDylib(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	if err := slice.InjectDylib("/usr/lib/libExtra.dylib", DylibNormal, false); err != nil {
		t.Fatalf("InjectDylib: %v", err)
	}
	refs := slice.ListDylibs()
	if len(refs) != 1 || refs[0].Path != "/usr/lib/libExtra.dylib" {
		t.Fatalf("ListDylibs = %+v, want one entry for libExtra.dylib", refs)
	}
	if refs[0].Kind != DylibNormal {
		t.Fatalf("Kind = %v, want DylibNormal", refs[0].Kind)
	}
}

func TestInjectWeakDylib(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	if err := slice.InjectDylib("/usr/lib/libWeak.dylib", DylibWeak, false); err != nil {
		t.Fatalf("InjectDylib: %v", err)
	}
	refs := slice.ListDylibs()
	if len(refs) != 1 || refs[0].Kind != DylibWeak {
		t.Fatalf("ListDylibs = %+v, want one weak entry", refs)
	}
}

func TestRemoveDylibs(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	if err := slice.InjectDylib("/usr/lib/libA.dylib", DylibNormal, false); err != nil {
		t.Fatalf("InjectDylib A: %v", err)
	}
	if err := slice.InjectDylib("/usr/lib/libB.dylib", DylibNormal, false); err != nil {
		t.Fatalf("InjectDylib B: %v", err)
	}

	n, err := slice.RemoveDylibs(func(d DylibRef) bool { return d.Path == "/usr/lib/libA.dylib" })
	if err != nil {
		t.Fatalf("RemoveDylibs: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d dylibs, want 1", n)
	}
	refs := slice.ListDylibs()
	if len(refs) != 1 || refs[0].Path != "/usr/lib/libB.dylib" {
		t.Fatalf("ListDylibs after removal = %+v, want only libB.dylib", refs)
	}
}

func TestChangeDylibPath(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	if err := slice.InjectDylib("/usr/lib/libOld.dylib", DylibNormal, false); err != nil {
		t.Fatalf("InjectDylib: %v", err)
	}
	if err := slice.ChangeDylibPath("/usr/lib/libOld.dylib", "/usr/lib/libNewLongerName.dylib"); err != nil {
		t.Fatalf("ChangeDylibPath: %v", err)
	}
	refs := slice.ListDylibs()
	if len(refs) != 1 || refs[0].Path != "/usr/lib/libNewLongerName.dylib" {
		t.Fatalf("ListDylibs after rename = %+v", refs)
	}
}

func TestInjectDylibCreateIfAbsentSkipsDuplicate(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	if err := slice.InjectDylib("/usr/lib/libOnce.dylib", DylibNormal, true); err != nil {
		t.Fatalf("first InjectDylib: %v", err)
	}
	if err := slice.InjectDylib("/usr/lib/libOnce.dylib", DylibNormal, true); err != nil {
		t.Fatalf("second InjectDylib with createIfAbsent=true: %v", err)
	}
	refs := slice.ListDylibs()
	if len(refs) != 1 {
		t.Fatalf("ListDylibs = %+v, want exactly one entry (duplicate should be skipped)", refs)
	}
}

func TestInjectDylibWithoutCreateIfAbsentAllowsDuplicate(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	if err := slice.InjectDylib("/usr/lib/libTwice.dylib", DylibNormal, false); err != nil {
		t.Fatalf("first InjectDylib: %v", err)
	}
	if err := slice.InjectDylib("/usr/lib/libTwice.dylib", DylibNormal, false); err != nil {
		t.Fatalf("second InjectDylib with createIfAbsent=false: %v", err)
	}
	refs := slice.ListDylibs()
	if len(refs) != 2 {
		t.Fatalf("ListDylibs = %+v, want two entries (createIfAbsent=false allows duplicates)", refs)
	}
}

func TestChangeDylibPathMissing(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if err := img.Slices[0].ChangeDylibPath("/nonexistent", "/new"); err == nil {
		t.Fatal("expected error renaming a dylib that isn't present")
	}
}
