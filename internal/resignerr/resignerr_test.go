package resignerr

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(KindIOFailure, "Test", "/some/path", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapPreservesKindAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(KindMalformedMachO, "MachOEditor", "/bin/App", inner)

	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("errors.As failed to recover *Error from %v", err)
	}
	if re.Kind != KindMalformedMachO {
		t.Fatalf("Kind = %v, want KindMalformedMachO", re.Kind)
	}
	if !errors.Is(err, inner) {
		t.Fatal("errors.Is should find the wrapped inner error")
	}
}

func TestErrorStringIncludesPathWhenSet(t *testing.T) {
	err := Wrap(KindIOFailure, "BundleWalker", "/tmp/App.app", errors.New("no such file"))
	msg := err.Error()
	if !strings.Contains(msg, "/tmp/App.app") {
		t.Fatalf("error message %q should include the path", msg)
	}
}

func TestErrorStringOmitsPathWhenEmpty(t *testing.T) {
	err := Wrap(KindIdentityInvalid, "CertStore", "", errors.New("bad key"))
	msg := err.Error()
	if strings.Contains(msg, "()") {
		t.Fatalf("error message %q should not render an empty path parenthetical", msg)
	}
}

func TestWrapfFormatsMessage(t *testing.T) {
	err := Wrapf(KindNoLoadCommandSpace, "MachOEditor", "/bin/App", "need %d bytes, have %d", 32, 8)
	if err.Error() == "" {
		t.Fatal("Wrapf produced an empty message")
	}
	var re *Error
	if !errors.As(err, &re) {
		t.Fatal("errors.As failed to recover *Error from Wrapf result")
	}
	if re.Kind != KindNoLoadCommandSpace {
		t.Fatalf("Kind = %v, want KindNoLoadCommandSpace", re.Kind)
	}
}

func TestKindStringCoversEveryKind(t *testing.T) {
	kinds := []Kind{
		KindIdentityInvalid, KindMalformedBundle, KindMalformedMachO,
		KindNoLoadCommandSpace, KindSignatureSizeDiverged,
		KindSignatureCreationFailed, KindIOFailure, KindChildSignFailed,
	}
	for _, k := range kinds {
		if k.String() == "Unknown" {
			t.Errorf("Kind %d has no String() case", k)
		}
	}
	if KindUnknown.String() != "Unknown" {
		t.Fatalf("KindUnknown.String() = %q, want Unknown", KindUnknown.String())
	}
}
