// Package sigcheck parses back the SuperBlob a signing run produced, for
// introspection and comparison rather than as part of the signing path
// itself: "what did we actually embed" as a testable, printable structure.
package sigcheck

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"

	"go.mozilla.org/pkcs7"

	"github.com/resignkit/resigner/internal/machoedit"
	"github.com/resignkit/resigner/internal/resignerr"
)

const (
	magicEmbeddedSignature = 0xfade0cc0
	magicCodeDirectory     = 0xfade0c02

	slotCodeDirectory   uint32 = 0
	slotRequirements    uint32 = 2
	slotEntitlements    uint32 = 5
	slotEntitlementsDER uint32 = 7
	slotAlternateCDs    uint32 = 0x1000
	slotCMSSignature    uint32 = 0x10000

	hashTypeSHA1   = 1
	hashTypeSHA256 = 2
)

// Signature is the parsed contents of one Mach-O executable's embedded
// code signature.
type Signature struct {
	ExecutablePath string
	BlobCount      uint32
	SuperBlobSize  uint32
	CodeDirs       []CodeDirectory
	Requirements   []byte
	Entitlements   string
	CMS            CMSInfo
}

// CodeDirectory is one parsed CodeDirectory blob (there are usually two:
// the primary SHA-1 one at slot 0 and the SHA-256 alternate at slot 0x1000).
type CodeDirectory struct {
	Slot          uint32
	Version       uint32
	Flags         uint32
	HashType      uint8
	HashSize      uint8
	PageSize      uint32
	Identifier    string
	TeamID        string
	CodeLimit     uint32
	NSpecialSlots uint32
	NCodeSlots    uint32
	ExecSegBase   uint64
	ExecSegLimit  uint64
	ExecSegFlags  uint64
	SpecialHashes map[int][]byte
	CodeHashes    [][]byte
	raw           []byte
}

// CDHash returns the CodeDirectory's own hash — SHA-1 for a legacy CD,
// SHA-256 (truncated to 20 bytes, matching Apple's convention) otherwise.
func (cd CodeDirectory) CDHash() []byte {
	switch cd.HashType {
	case hashTypeSHA1:
		h := sha1.Sum(cd.raw)
		return h[:]
	case hashTypeSHA256:
		h := sha256.Sum256(cd.raw)
		return h[:20]
	}
	return nil
}

// CMSInfo is the parsed detached PKCS#7/CMS signature blob.
type CMSInfo struct {
	SignerCN     string
	SignerTeamID string
	Raw          []byte
}

// Parse reads execPath's first architecture slice and parses its embedded
// code signature. Callers inspecting a fat binary that want per-arch detail
// should call ParseSlice against each machoedit.ArchSlice directly.
func Parse(execPath string) (*Signature, error) {
	img, err := machoedit.ParseFile(execPath)
	if err != nil {
		return nil, err
	}
	sig, err := ParseSlice(img.Slices[0])
	if err != nil {
		return nil, err
	}
	sig.ExecutablePath = execPath
	return sig, nil
}

// ParseSlice parses the code signature embedded in one architecture slice.
func ParseSlice(slice *machoedit.ArchSlice) (*Signature, error) {
	if slice.CodeSig == nil {
		return nil, resignerr.Wrapf(resignerr.KindMalformedBundle, "SignatureInspector", "", "no LC_CODE_SIGNATURE present")
	}
	blob := slice.Data[slice.CodeSig.DataOff : slice.CodeSig.DataOff+slice.CodeSig.DataSize]
	return parseSuperBlob(blob)
}

func parseSuperBlob(blob []byte) (*Signature, error) {
	if len(blob) < 12 {
		return nil, resignerr.Wrapf(resignerr.KindMalformedBundle, "SignatureInspector", "", "SuperBlob too short")
	}
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != magicEmbeddedSignature {
		return nil, resignerr.Wrapf(resignerr.KindMalformedBundle, "SignatureInspector", "", "unexpected SuperBlob magic 0x%x", magic)
	}

	sig := &Signature{
		SuperBlobSize: binary.BigEndian.Uint32(blob[4:8]),
		BlobCount:     binary.BigEndian.Uint32(blob[8:12]),
	}

	indexEnd := 12 + int(sig.BlobCount)*8
	if len(blob) < indexEnd {
		return nil, resignerr.Wrapf(resignerr.KindMalformedBundle, "SignatureInspector", "", "blob index truncated")
	}

	for i := uint32(0); i < sig.BlobCount; i++ {
		entryOff := 12 + int(i)*8
		slot := binary.BigEndian.Uint32(blob[entryOff:])
		off := binary.BigEndian.Uint32(blob[entryOff+4:])
		if int(off)+8 > len(blob) {
			continue
		}
		blobMagic := binary.BigEndian.Uint32(blob[off:])
		blobLen := binary.BigEndian.Uint32(blob[off+4:])
		if int(off)+int(blobLen) > len(blob) {
			continue
		}
		data := blob[off : off+blobLen]

		switch {
		case slot == slotCodeDirectory || (slot >= slotAlternateCDs && slot < slotCMSSignature):
			if blobMagic != magicCodeDirectory {
				continue
			}
			cd, err := parseCodeDirectory(data, slot)
			if err == nil {
				sig.CodeDirs = append(sig.CodeDirs, *cd)
			}
		case slot == slotRequirements:
			sig.Requirements = data
		case slot == slotEntitlements:
			if len(data) > 8 {
				sig.Entitlements = string(data[8:])
			}
		case slot == slotEntitlementsDER:
			// DER entitlements carry the same information as the XML blob;
			// nothing here reads them back yet.
		case slot == slotCMSSignature:
			sig.CMS = parseCMS(data)
		}
	}

	return sig, nil
}

func parseCodeDirectory(data []byte, slot uint32) (*CodeDirectory, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("CodeDirectory blob too short")
	}
	cd := &CodeDirectory{
		Slot:          slot,
		SpecialHashes: make(map[int][]byte),
		raw:           data,
	}
	cd.Version = binary.BigEndian.Uint32(data[8:12])
	cd.Flags = binary.BigEndian.Uint32(data[12:16])
	hashOffset := binary.BigEndian.Uint32(data[16:20])
	identOffset := binary.BigEndian.Uint32(data[20:24])
	cd.NSpecialSlots = binary.BigEndian.Uint32(data[24:28])
	cd.NCodeSlots = binary.BigEndian.Uint32(data[28:32])
	cd.CodeLimit = binary.BigEndian.Uint32(data[32:36])
	cd.HashSize = data[36]
	cd.HashType = data[37]
	cd.PageSize = 1 << data[39]

	cd.Identifier = cString(data, identOffset)

	if cd.Version >= 0x20200 && len(data) >= 52 {
		teamOffset := binary.BigEndian.Uint32(data[48:52])
		if teamOffset > 0 {
			cd.TeamID = cString(data, teamOffset)
		}
	}
	if cd.Version >= 0x20400 && len(data) >= 88 {
		cd.ExecSegBase = binary.BigEndian.Uint64(data[64:72])
		cd.ExecSegLimit = binary.BigEndian.Uint64(data[72:80])
		cd.ExecSegFlags = binary.BigEndian.Uint64(data[80:88])
	}

	for i := int(cd.NSpecialSlots); i >= 1; i-- {
		off := hashOffset - uint32(i)*uint32(cd.HashSize)
		if int(off)+int(cd.HashSize) > len(data) {
			continue
		}
		hash := append([]byte(nil), data[off:off+uint32(cd.HashSize)]...)
		if !isZero(hash) {
			cd.SpecialHashes[-i] = hash
		}
	}
	for i := uint32(0); i < cd.NCodeSlots; i++ {
		off := hashOffset + i*uint32(cd.HashSize)
		if int(off)+int(cd.HashSize) > len(data) {
			break
		}
		cd.CodeHashes = append(cd.CodeHashes, append([]byte(nil), data[off:off+uint32(cd.HashSize)]...))
	}
	return cd, nil
}

func parseCMS(data []byte) CMSInfo {
	info := CMSInfo{}
	if len(data) <= 8 {
		return info
	}
	info.Raw = data[8:]

	p7, err := pkcs7.Parse(info.Raw)
	if err != nil || len(p7.Signers) == 0 {
		return info
	}
	signer := p7.Signers[0]
	for _, cert := range p7.Certificates {
		if cert.SerialNumber.Cmp(signer.IssuerAndSerialNumber.SerialNumber) != 0 {
			continue
		}
		info.SignerCN = cert.Subject.CommonName
		info.SignerTeamID = teamIDFromCert(cert)
		break
	}
	return info
}

func teamIDFromCert(cert *x509.Certificate) string {
	for _, ou := range cert.Subject.OrganizationalUnit {
		if len(ou) == 10 {
			return ou
		}
	}
	return ""
}

func cString(data []byte, offset uint32) string {
	if offset >= uint32(len(data)) {
		return ""
	}
	end := offset
	for end < uint32(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[offset:end])
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
