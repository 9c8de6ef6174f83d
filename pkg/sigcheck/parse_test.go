package sigcheck

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/resignkit/resigner/internal/identity"
	"github.com/resignkit/resigner/internal/machoedit"
	"github.com/resignkit/resigner/internal/machotest"
	"github.com/resignkit/resigner/internal/superblob"
)

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:         "iPhone Distribution: Test Developer (ABCDE12345)",
			OrganizationalUnit: []string{"ABCDE12345"},
		},
		NotBefore:             time.Unix(0, 0),
		NotAfter:              time.Unix(0, 0).AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return &identity.Identity{
		Certificate: cert,
		PrivateKey:  key,
		CertChain:   []*x509.Certificate{cert},
		TeamID:      "ABCDE12345",
	}
}

func buildSignedSlice(t *testing.T, bundleID string) *machoedit.ArchSlice {
	t.Helper()
	const (
		textOff   = 0x4000
		textSize  = 0x4000
		linkOff   = textOff + textSize
		linkSize  = 0x4000
		totalSize = linkOff + linkSize
	)
	data := machotest.New().
		AddTextSegment(textOff, textSize, 0x100000000, textSize).
		AddLinkeditSegment(linkOff, linkSize, 0x100000000+textOff+textSize, linkSize).
		Build(totalSize)

	img, err := machoedit.ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	id := testIdentity(t)
	estimate := machoedit.EstimateSignatureSpace(uint64(len(slice.Data)))
	reservation, err := slice.ReserveCodeSignatureSpace(estimate)
	if err != nil {
		t.Fatalf("ReserveCodeSignatureSpace: %v", err)
	}
	execOff, execSize := slice.ExecSegmentBounds()
	blob, err := superblob.Assemble(superblob.Input{
		BundleID:      bundleID,
		Code:          slice.Data[:reservation.CodeSize],
		ExecSegBase:   execOff,
		ExecSegLimit:  execSize,
		InfoPlist:     []byte("<plist/>"),
		CodeResources: []byte("<plist/>"),
		Identity:      id,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if uint32(len(blob)) > reservation.SigSpace {
		t.Fatalf("signature (%d bytes) exceeds reserved space (%d bytes)", len(blob), reservation.SigSpace)
	}
	final := reservation.FinalizeWithSignature(slice.Data[:reservation.CodeSize], blob)

	signedImg, err := machoedit.ParseBytes(final)
	if err != nil {
		t.Fatalf("re-parse signed binary: %v", err)
	}
	return signedImg.Slices[0]
}

func TestParseSliceRoundTrip(t *testing.T) {
	slice := buildSignedSlice(t, "com.example.app")

	sig, err := ParseSlice(slice)
	if err != nil {
		t.Fatalf("ParseSlice: %v", err)
	}
	if len(sig.CodeDirs) != 2 {
		t.Fatalf("CodeDirs count = %d, want 2 (SHA-1 primary + SHA-256 alternate)", len(sig.CodeDirs))
	}

	var sha1CD, sha256CD *CodeDirectory
	for i := range sig.CodeDirs {
		switch sig.CodeDirs[i].HashType {
		case hashTypeSHA1:
			sha1CD = &sig.CodeDirs[i]
		case hashTypeSHA256:
			sha256CD = &sig.CodeDirs[i]
		}
	}
	if sha1CD == nil || sha256CD == nil {
		t.Fatalf("expected both a SHA-1 and SHA-256 CodeDirectory, got %+v", sig.CodeDirs)
	}
	if sha1CD.Identifier != "com.example.app" {
		t.Fatalf("Identifier = %q, want com.example.app", sha1CD.Identifier)
	}
	if sha1CD.TeamID != "ABCDE12345" {
		t.Fatalf("TeamID = %q, want ABCDE12345", sha1CD.TeamID)
	}
	if len(sha256CD.CDHash()) != 20 {
		t.Fatalf("SHA-256 CDHash length = %d, want 20 (truncated, matching Apple's cdhash convention)", len(sha256CD.CDHash()))
	}
	if sig.CMS.SignerTeamID != "ABCDE12345" {
		t.Fatalf("CMS.SignerTeamID = %q, want ABCDE12345", sig.CMS.SignerTeamID)
	}
}

func TestCompareDetectsBundleIDChange(t *testing.T) {
	sliceA := buildSignedSlice(t, "com.example.app")
	sliceB := buildSignedSlice(t, "com.example.other")

	sigA, err := ParseSlice(sliceA)
	if err != nil {
		t.Fatalf("ParseSlice A: %v", err)
	}
	sigB, err := ParseSlice(sliceB)
	if err != nil {
		t.Fatalf("ParseSlice B: %v", err)
	}

	diff := Compare(".", sigA, sigB)
	if !diff.IdentifierChanged {
		t.Fatal("expected IdentifierChanged when bundle IDs differ")
	}
	if !diff.CDHashChanged {
		t.Fatal("expected CDHashChanged when bundle IDs differ")
	}
	if !diff.Changed() {
		t.Fatal("Diff.Changed() should report true")
	}
}
