// Package identity implements CertStore: loading a signing identity from a
// PKCS#12 archive or a bare PEM key, resolving its certificate chain up to
// Apple's WWDR and root CAs, and matching it against a provisioning profile.
package identity

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/resignkit/resigner/internal/resignerr"
	gop12 "software.sslmate.com/src/go-pkcs12"
)

// Identity is a code signing identity: a leaf certificate, its private key,
// and the chain up through Apple's intermediate and root CAs.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.PrivateKey
	CertChain   []*x509.Certificate
	TeamID      string
}

// RSAKey returns the private key as an *rsa.PrivateKey. Only RSA identities
// are supported; Apple has not issued EC developer certificates for iOS
// code signing.
func (id *Identity) RSAKey() (*rsa.PrivateKey, error) {
	key, ok := id.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: only RSA keys are supported, got %T", id.PrivateKey)
	}
	return key, nil
}

// Apple's Root CA and WWDR G3 certificates, DER-encoded and base64ed, used
// to complete a certificate chain that only ships the leaf (PEM key +
// provisioning profile flows, or P12 files that don't bundle the full
// chain). These never take part in trust validation — this engine never
// verifies against Apple's PKI, only produces signatures shaped like it.
const (
	appleRootCABase64 = `MIIEuzCCA6OgAwIBAgIBAjANBgkqhkiG9w0BAQUFADBiMQswCQYDVQQGEwJVUzETMBEGA1UEChMKQXBwbGUgSW5jLjEmMCQGA1UECxMdQXBwbGUgQ2VydGlmaWNhdGlvbiBBdXRob3JpdHkxFjAUBgNVBAMTDUFwcGxlIFJvb3QgQ0EwHhcNMDYwNDI1MjE0MDM2WhcNMzUwMjA5MjE0MDM2WjBiMQswCQYDVQQGEwJVUzETMBEGA1UEChMKQXBwbGUgSW5jLjEmMCQGA1UECxMdQXBwbGUgQ2VydGlmaWNhdGlvbiBBdXRob3JpdHkxFjAUBgNVBAMTDUFwcGxlIFJvb3QgQ0EwggEiMA0GCSqGSIb3DQEBAQUAA4IBDwAwggEKAoIBAQDkkakJH5HbHkdQ6wXtXnmELes2oldMVeyLGYne+Uts9QerIjAC6Bg++FAJ039BqJj50cpmnCRrEdCju+QbKsMflZ56DKRHi1vUFjczy8QPTc4UadHJGXL1XQ7Vf1+b8iUDulWPTV0N8WQ1IxVLFVkds5T39pyez1C6wVhQZ48ItCD3y6wsIG9wtj8BMIy3Q88PnT3zK0koGsj+zrW5DtleHNbLPbU6rfQPDgCSC7EhFi501TwN22IWq6NxkkdTVcGvL0Gz+PvjcM3mo0xFfh9Ma1CWQYnEdGILEINBhzOKgbEwWOxaBDKMaLOPHd5lc/9nXmW8Sdh2nzMUZaF3lMktAgMBAAGjggF6MIIBdjAOBgNVHQ8BAf8EBAMCAQYwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUK9BpR5R2Cf70a40uQKb3R01/CF4wHwYDVR0jBBgwFoAUK9BpR5R2Cf70a40uQKb3R01/CF4wggERBgNVHSAEggEIMIIBBDCCAQAGCSqGSIb3Y2QFATCB8jAqBggrBgEFBQcCARYeaHR0cHM6Ly93d3cuYXBwbGUuY29tL2FwcGxlY2EvMIHDBggrBgEFBQcCAjCBthqBs1JlbGlhbmNlIG9uIHRoaXMgY2VydGlmaWNhdGUgYnkgYW55IHBhcnR5IGFzc3VtZXMgYWNjZXB0YW5jZSBvZiB0aGUgdGhlbiBhcHBsaWNhYmxlIHN0YW5kYXJkIHRlcm1zIGFuZCBjb25kaXRpb25zIG9mIHVzZSwgY2VydGlmaWNhdGUgcG9saWN5IGFuZCBjZXJ0aWZpY2F0aW9uIHByYWN0aWNlIHN0YXRlbWVudHMuMA0GCSqGSIb3DQEBBQUAA4IBAQBcNplMLXi37Yyb3PN3m/J20ncwT8EfhYOFG5k9RzfyqZtAjizUsZAS2L70c5vu0mQPy3lPNNiiPvl4/2vIB+x9OYOLUyDTOMSxv5pPCmv/K/xZpwUJfBdAVhEedNO3iyM7R6PVbyTi69G3cN8PReEnyvFteO3ntRcXqNx+IjXKJdXZD9Zr1KIkIxH3oayPc4FgxhtbCS+SsvhESPBgOJ4V9T0mZyCKM2r3DYLP3uujL/lTaltkwGMzd/c6ByxW69oPIQ7aunMZT7XZNn/Bh1XZp5m5MkL72NVxnn6hUrcbvZNCJBIqxw8dtk2cXmPIS4AXUKqK1drk/NAJBzewdXUh`
	appleWWDRG3Base64 = `MIIEUTCCAzmgAwIBAgIQfK9pCiW3Of57m0R6wXjF7jANBgkqhkiG9w0BAQsFADBiMQswCQYDVQQGEwJVUzETMBEGA1UEChMKQXBwbGUgSW5jLjEmMCQGA1UECxMdQXBwbGUgQ2VydGlmaWNhdGlvbiBBdXRob3JpdHkxFjAUBgNVBAMTDUFwcGxlIFJvb3QgQ0EwHhcNMjAwMjE5MTgxMzQ3WhcNMzAwMjIwMDAwMDAwWjB1MUQwQgYDVQQDDDtBcHBsZSBXb3JsZHdpZGUgRGV2ZWxvcGVyIFJlbGF0aW9ucyBDZXJ0aWZpY2F0aW9uIEF1dGhvcml0eTELMAkGA1UECwwCRzMxEzARBgNVBAoMCkFwcGxlIEluYy4xCzAJBgNVBAYTAlVTMIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEA2PWJ/KhZC4fHTJEuLVaQ03gdpDDppUjvC0O/LYT7JF1FG+XrWTYSXFRknmxiLbTGl8rMPPbWBpH85QKmHGq0edVny6zpPwcR4YS8Rx1mjjmi6LRJ7TrS4RBgeo6TjMrA2gzAg9Dj+ZHWp4zIwXPirkbRYp2SqJBgN31ols2N4Pyb+ni743uvLRfdW/6AWSN1F7gSwe0b5TTO/iK1nkmw5VW/j4SiPKi6xYaVFuQAyZ8D0MyzOhZ71gVcnetHrg21LYwOaU1A0EtMOwSejSGxrC5DVDDOwYqGlJhL32oNP/77HK6XF8J4CjDgXx9UO0m3JQAaN4LSVpelUkl8YDib7wIDAQABo4HvMIHsMBIGA1UdEwEB/wQIMAYBAf8CAQAwHwYDVR0jBBgwFoAUK9BpR5R2Cf70a40uQKb3R01/CF4wRAYIKwYBBQUHAQEEODA2MDQGCCsGAQUFBzABhihodHRwOi8vb2NzcC5hcHBsZS5jb20vb2NzcDAzLWFwcGxlcm9vdGNhMC4GA1UdHwQnMCUwI6AhoB+GHWh0dHA6Ly9jcmwuYXBwbGUuY29tL3Jvb3QuY3JsMB0GA1UdDgQWBBQJ/sAVkPmvZAqSErkmKGMMl+ynsjAOBgNVHQ8BAf8EBAMCAQYwEAYKKoZIhvdjZAYCAQQCBQAwDQYJKoZIhvcNAQELBQADggEBAK1lE+j24IF3RAJHQr5fpTkg6mKp/cWQyXMT1Z6b0KoPjY3L7QHPbChAW8dVJEH4/M/BtSPp3Ozxb8qAHXfCxGFJJWevD8o5Ja3T43rMMygNDi6hV0Bz+uZcrgZRKe3jhQxPYdwyFot30ETKXXIDMUacrptAGvr04NM++i+MZp+XxFRZ79JI9AeZSWBZGcfdlNHAwWx/eCHvDOs7bJmCS1JgOLU5gm3sUjFTvg+RTElJdI+mUcuER04ddSduvfnSXPN/wmwLCTbiZOTCNwMUGdXqapSqqdv+9poIZ4vvK7iqF0mDr8/LvOnP6pVxsLRFoszlh6oKw0E6eVzaUDSdlTs=`
)

func appleCAChain() ([]*x509.Certificate, error) {
	rootDER, err := base64.StdEncoding.DecodeString(appleRootCABase64)
	if err != nil {
		return nil, fmt.Errorf("identity: decode Apple root CA: %w", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("identity: parse Apple root CA: %w", err)
	}
	wwdrDER, err := base64.StdEncoding.DecodeString(appleWWDRG3Base64)
	if err != nil {
		return nil, fmt.Errorf("identity: decode Apple WWDR G3: %w", err)
	}
	wwdr, err := x509.ParseCertificate(wwdrDER)
	if err != nil {
		return nil, fmt.Errorf("identity: parse Apple WWDR G3: %w", err)
	}
	return []*x509.Certificate{wwdr, root}, nil
}

func (id *Identity) completeChain() error {
	if len(id.CertChain) >= 3 {
		return nil
	}
	appleCerts, err := appleCAChain()
	if err != nil {
		return err
	}
	chain := []*x509.Certificate{id.Certificate}
	id.CertChain = append(chain, appleCerts...)
	return nil
}

// Load builds an Identity from either a PKCS#12 archive or a PEM-encoded
// private key. PEM keys carry no certificate; call MatchProfile afterward
// to resolve one from a provisioning profile.
func Load(keyData []byte, password string) (*Identity, error) {
	if bytes.HasPrefix(keyData, []byte("-----BEGIN")) {
		return loadPEM(keyData)
	}

	privateKey, cert, caCerts, err := gop12.DecodeChain(keyData, password)
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindIdentityInvalid, "CertStore", "", fmt.Errorf("decode PKCS#12: %w", err))
	}

	chain := append([]*x509.Certificate{cert}, caCerts...)
	id := &Identity{
		Certificate: cert,
		PrivateKey:  privateKey,
		CertChain:   chain,
		TeamID:      TeamID(cert),
	}
	if err := id.completeChain(); err != nil {
		return nil, resignerr.Wrap(resignerr.KindIdentityInvalid, "CertStore", "", err)
	}
	return id, nil
}

func loadPEM(pemData []byte) (*Identity, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, resignerr.Wrapf(resignerr.KindIdentityInvalid, "CertStore", "", "no PEM block found")
	}

	var key crypto.PrivateKey
	var err error
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, resignerr.Wrapf(resignerr.KindIdentityInvalid, "CertStore", "", "unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindIdentityInvalid, "CertStore", "", err)
	}
	return &Identity{PrivateKey: key}, nil
}

// MatchProfile resolves the leaf certificate for a PEM-loaded identity by
// finding the profile certificate whose public key matches the private key,
// then completes the CA chain. A no-op if the identity already has a
// certificate (P12-loaded).
func (id *Identity) MatchProfile(profile *Profile) error {
	if id.Certificate != nil {
		return nil
	}
	certs, err := profile.Certificates()
	if err != nil {
		return resignerr.Wrap(resignerr.KindIdentityInvalid, "CertStore", "", err)
	}
	for _, cert := range certs {
		if keyMatchesCert(id.PrivateKey, cert) {
			id.Certificate = cert
			id.CertChain = []*x509.Certificate{cert}
			id.TeamID = TeamID(cert)
			return id.completeChain()
		}
	}
	return resignerr.Wrapf(resignerr.KindIdentityInvalid, "CertStore", "", "no certificate in provisioning profile matches the supplied private key")
}

func keyMatchesCert(key crypto.PrivateKey, cert *x509.Certificate) bool {
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return false
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false
	}
	return priv.N.Cmp(pub.N) == 0 && priv.E == pub.E
}

// TeamID extracts the 10-character Apple Team ID from a certificate's
// Organizational Unit field.
func TeamID(cert *x509.Certificate) string {
	for _, ou := range cert.Subject.OrganizationalUnit {
		if len(ou) == 10 {
			return ou
		}
	}
	return ""
}
