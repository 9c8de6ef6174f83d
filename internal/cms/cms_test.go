package cms

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"

	"github.com/resignkit/resigner/internal/identity"
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
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
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

func TestSignProducesParseableSignedData(t *testing.T) {
	id := testIdentity(t)
	cdSHA1 := []byte("fake-sha1-code-directory-bytes")
	cdSHA256 := []byte("fake-sha256-code-directory-bytes")

	der, err := Sign(cdSHA1, cdSHA256, id)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(der) == 0 {
		t.Fatal("Sign returned empty DER")
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		t.Fatalf("pkcs7.Parse(Sign output): %v", err)
	}
	if len(p7.Certificates) == 0 {
		t.Fatal("expected the signer certificate to be embedded")
	}
	if p7.Certificates[0].Subject.CommonName != id.Certificate.Subject.CommonName {
		t.Fatalf("embedded cert CN = %q, want %q", p7.Certificates[0].Subject.CommonName, id.Certificate.Subject.CommonName)
	}

	p7.Content = cdSHA1
	if err := p7.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestSignDiffersOnCodeDirectoryChange(t *testing.T) {
	id := testIdentity(t)
	der1, err := Sign([]byte("cd-one"), []byte("cd-one-256"), id)
	if err != nil {
		t.Fatalf("Sign #1: %v", err)
	}
	der2, err := Sign([]byte("cd-two"), []byte("cd-two-256"), id)
	if err != nil {
		t.Fatalf("Sign #2: %v", err)
	}
	if string(der1) == string(der2) {
		t.Fatal("signatures over different CodeDirectories should not be byte-identical")
	}
}
