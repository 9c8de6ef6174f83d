// Package superblob assembles the SuperBlob (magic 0xfade0cc0) embedded in
// the Mach-O's __LINKEDIT segment: an index of CodeDirectory, Requirements,
// Entitlements, and CMS blobs, laid out the way Apple's own signtool and
// zsign both order them (CD SHA-1 first, CMS last).
package superblob

import (
	"encoding/binary"
	"strings"

	"github.com/resignkit/resigner/internal/cms"
	"github.com/resignkit/resigner/internal/codedir"
	"github.com/resignkit/resigner/internal/identity"
	"github.com/resignkit/resigner/internal/plistutil"
	"github.com/resignkit/resigner/internal/resignerr"
)

const magicEmbeddedSignature = 0xfade0cc0
const magicEntitlements = 0xfade7171
const magicEntitlementsDER = 0xfade7172
const magicBlobWrapper = 0xfade0b01

const (
	slotCodeDirectory      = 0
	slotRequirements       = 2
	slotEntitlements       = 5
	slotEntitlementsDER    = 7
	slotAlternateCodeDirs  = 0x1000
	slotCMSSignature       = 0x10000
)

// Input carries everything Assemble needs to build one SuperBlob.
type Input struct {
	BundleID        string
	Code            []byte // code bytes hashed into the CodeDirectory (up to the reserved signature offset)
	ExecSegBase     uint64
	ExecSegLimit    uint64
	InfoPlist       []byte
	CodeResources   []byte
	Entitlements    []byte // raw XML plist, empty if the app has none
	Identity        *identity.Identity
}

// entry is one blob plus the slot index it's registered under.
type entry struct {
	slot uint32
	data []byte
}

// Assemble builds the complete SuperBlob: two CodeDirectories (SHA-1 primary,
// SHA-256 alternate), a Requirements blob, optional Entitlements/DER blobs,
// and a detached CMS signature over the SHA-1 CodeDirectory carrying
// CDHashes attributes for both.
func Assemble(in Input) ([]byte, error) {
	signerCN := ""
	if in.Identity != nil && in.Identity.Certificate != nil {
		signerCN = in.Identity.Certificate.Subject.CommonName
	}
	reqBlob := codedir.BuildRequirements(in.BundleID, signerCN)

	hasEntitlements := len(in.Entitlements) > 0
	isEmptyEntitlements := hasEntitlements && isEmptyEntitlementsXML(string(in.Entitlements))

	var entBlob, entDERBlob []byte
	if hasEntitlements {
		entBlob = wrapBlob(magicEntitlements, in.Entitlements)
		if !isEmptyEntitlements {
			der, err := buildEntitlementsDER(in.Entitlements)
			if err == nil && len(der) > 0 {
				entDERBlob = wrapBlob(magicEntitlementsDER, der)
			}
		}
	}

	execSegFlags := uint64(0)
	if hasEntitlements && strings.Contains(string(in.Entitlements), "get-task-allow") {
		execSegFlags = codedir.ExecSegMainBinary | codedir.ExecSegAllowUnsigned
	}

	special := codedir.SpecialSlots{
		InfoPlist:    in.InfoPlist,
		Requirements: reqBlob,
		Resources:    in.CodeResources,
		Entitlements: entBlob,
	}
	if len(entDERBlob) > 0 {
		special.EntitlementsDER = entDERBlob
	}

	baseInput := codedir.Input{
		BundleID:     in.BundleID,
		TeamID:       in.Identity.TeamID,
		Code:         in.Code,
		ExecSegBase:  in.ExecSegBase,
		ExecSegLimit: in.ExecSegLimit,
		ExecSegFlags: execSegFlags,
		Special:      special,
	}

	baseInput.HashType = codedir.HashSHA1
	cdSHA1 := codedir.Build(baseInput)
	baseInput.HashType = codedir.HashSHA256
	cdSHA256 := codedir.Build(baseInput)

	cmsDER, err := cms.Sign(cdSHA1, cdSHA256, in.Identity)
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindSignatureCreationFailed, "SuperBlobAssembler", "", err)
	}
	cmsBlob := wrapBlob(magicBlobWrapper, cmsDER)

	entries := []entry{{slotCodeDirectory, cdSHA1}, {slotRequirements, reqBlob}}
	if hasEntitlements {
		entries = append(entries, entry{slotEntitlements, entBlob})
		if len(entDERBlob) > 0 {
			entries = append(entries, entry{slotEntitlementsDER, entDERBlob})
		}
	}
	entries = append(entries, entry{slotAlternateCodeDirs, cdSHA256}, entry{slotCMSSignature, cmsBlob})

	return layout(entries), nil
}

// layout lays entries out in the order given (matching Apple's convention
// of index-order matching data-order) and writes the SuperBlob header, the
// index table, then the blob bytes back to back.
func layout(entries []entry) []byte {
	headerSize := 12 + len(entries)*8
	offset := headerSize
	offsets := make([]int, len(entries))
	for i, e := range entries {
		offsets[i] = offset
		offset += len(e.data)
	}
	total := offset

	out := make([]byte, total)
	binary.BigEndian.PutUint32(out[0:], magicEmbeddedSignature)
	binary.BigEndian.PutUint32(out[4:], uint32(total))
	binary.BigEndian.PutUint32(out[8:], uint32(len(entries)))

	idx := out[12:]
	for i, e := range entries {
		binary.BigEndian.PutUint32(idx[0:], e.slot)
		binary.BigEndian.PutUint32(idx[4:], uint32(offsets[i]))
		idx = idx[8:]
	}
	for i, e := range entries {
		copy(out[offsets[i]:], e.data)
	}
	return out
}

func wrapBlob(magic uint32, payload []byte) []byte {
	total := 8 + len(payload)
	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:], magic)
	binary.BigEndian.PutUint32(blob[4:], uint32(total))
	copy(blob[8:], payload)
	return blob
}

// buildEntitlementsDER parses the XML entitlements plist and re-encodes it
// in Apple's DER form for the CSSLOT_ENTITLEMENTS_DER blob (iOS 15+).
func buildEntitlementsDER(entitlementsXML []byte) ([]byte, error) {
	var dict plistutil.Dict
	if err := plistutil.Decode(entitlementsXML, &dict); err != nil {
		return nil, err
	}
	return plistutil.EncodeDER(dict)
}

// isEmptyEntitlementsXML reports whether entitlements is functionally an
// empty <dict/>, the case zsign gives fewer special slots and skips the DER
// blob for entirely.
func isEmptyEntitlementsXML(entitlements string) bool {
	if strings.Contains(entitlements, "<dict/>") {
		return true
	}
	if strings.Contains(entitlements, "<dict></dict>") {
		return !strings.Contains(entitlements, "<key>")
	}
	return false
}
