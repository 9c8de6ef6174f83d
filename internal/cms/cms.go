// Package cms builds the detached PKCS#7/CMS signature that closes out an
// Apple code signature: a SignedData structure over the SHA-1 CodeDirectory,
// carrying Apple's private CDHashes attributes so a verifier can recover the
// hash of every CodeDirectory a checker cares about without re-parsing the
// SuperBlob.
package cms

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"

	"github.com/resignkit/resigner/internal/identity"
	"github.com/resignkit/resigner/internal/resignerr"
)

// Apple's private signed-attribute OIDs for code signing.
var (
	oidCDHashesPlist = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 9, 1}
	oidCDHashes2     = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 9, 2}
	oidSHA256        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

// Sign produces a CMS BlobWrapper payload (magic 0xfade0b01's contents,
// the DER itself; the caller wraps it) signing cdSHA1, attaching CDHashes
// attributes computed from both the SHA-1 and SHA-256 CodeDirectories.
func Sign(cdSHA1, cdSHA256 []byte, id *identity.Identity) ([]byte, error) {
	rsaKey, err := id.RSAKey()
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindSignatureCreationFailed, "CMSBuilder", "", err)
	}

	signedData, err := pkcs7.NewSignedData(cdSHA1)
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindSignatureCreationFailed, "CMSBuilder", "", err)
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	attrs, err := cdHashAttributes(cdSHA1, cdSHA256)
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindSignatureCreationFailed, "CMSBuilder", "", err)
	}

	var intermediates []*x509.Certificate
	if len(id.CertChain) > 1 {
		intermediates = id.CertChain[1:]
	}

	if err := signedData.AddSignerChain(id.Certificate, rsaKey, intermediates, pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: attrs,
	}); err != nil {
		return nil, resignerr.Wrap(resignerr.KindSignatureCreationFailed, "CMSBuilder", "", err)
	}

	signedData.Detach()
	der, err := signedData.Finish()
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindSignatureCreationFailed, "CMSBuilder", "", err)
	}
	return der, nil
}

// cdHashAttributes builds the two Apple attributes a verifier reads instead
// of recomputing hashes over the whole SuperBlob: a plist of truncated
// hashes (legacy consumers) and a DER SEQUENCE carrying the full SHA-256
// hash (modern consumers, tvOS/watchOS/iOS 11+).
func cdHashAttributes(cdSHA1, cdSHA256 []byte) ([]pkcs7.Attribute, error) {
	sha1CD := sha1.Sum(cdSHA1)
	sha256CD := sha256.Sum256(cdSHA256)

	plistBytes, err := cdHashesPlist(sha1CD[:], sha256CD[:20])
	if err != nil {
		return nil, fmt.Errorf("build cdhashes plist: %w", err)
	}
	asn1Value, err := cdHashes2ASN1(sha256CD[:])
	if err != nil {
		return nil, fmt.Errorf("build cdhashes2: %w", err)
	}

	return []pkcs7.Attribute{
		{Type: oidCDHashesPlist, Value: plistBytes},
		{Type: oidCDHashes2, Value: asn1Value},
	}, nil
}

func cdHashesPlist(sha1Hash, truncatedSHA256 []byte) ([]byte, error) {
	dict := map[string]interface{}{
		"cdhashes": [][]byte{sha1Hash, truncatedSHA256},
	}
	return plist.Marshal(dict, plist.XMLFormat)
}

func cdHashes2ASN1(sha256Hash []byte) (asn1.RawValue, error) {
	type hashSeq struct {
		Algorithm asn1.ObjectIdentifier
		Hash      []byte
	}
	encoded, err := asn1.Marshal(hashSeq{Algorithm: oidSHA256, Hash: sha256Hash})
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: encoded}, nil
}
