package bundle

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/resignkit/resigner/internal/machoedit"
)

const (
	magicEmbeddedSignature = 0xfade0cc0
	magicCodeDirectory     = 0xfade0c02
	hashTypeSHA1           = 1
)

// executableCDHash reads execPath's Mach-O, locates its SuperBlob, and
// returns the first 20 bytes of the SHA-1 hash of its primary (designated)
// CodeDirectory — the cdhash a parent bundle's CodeResources "files2" entry
// records for a nested bundle's executable. This is the same convention
// codesign -d prints and the same one pkg/sigcheck.CodeDirectory.CDHash
// produces for a SHA-1 CD.
// It returns (nil, nil) if the binary carries no signature yet.
func executableCDHash(execPath string) ([]byte, error) {
	img, err := machoedit.ParseFile(execPath)
	if err != nil {
		return nil, err
	}
	slice := img.Slices[0]
	if slice.CodeSig == nil {
		return nil, nil
	}
	end := uint64(slice.CodeSig.DataOff) + uint64(slice.CodeSig.DataSize)
	if end > uint64(len(slice.Data)) {
		return nil, nil
	}
	blob := slice.Data[slice.CodeSig.DataOff:end]
	cd := findPrimaryCodeDirectory(blob)
	if cd == nil {
		return nil, nil
	}
	sum := sha1.Sum(cd)
	return sum[:20], nil
}

// findPrimaryCodeDirectory scans a SuperBlob's index for its designated
// CodeDirectory: the one with a SHA-1 hashType, or the first CD found if
// the signature carries no legacy SHA-1 CD.
func findPrimaryCodeDirectory(superBlob []byte) []byte {
	if len(superBlob) < 12 || binary.BigEndian.Uint32(superBlob) != magicEmbeddedSignature {
		return nil
	}
	count := binary.BigEndian.Uint32(superBlob[8:12])
	index := superBlob[12:]

	var fallback []byte
	for i := uint32(0); i < count; i++ {
		if len(index) < 8 {
			break
		}
		offset := binary.BigEndian.Uint32(index[4:8])
		index = index[8:]
		if uint64(offset)+8 > uint64(len(superBlob)) {
			continue
		}
		blobLen := binary.BigEndian.Uint32(superBlob[offset+4 : offset+8])
		if uint64(offset)+uint64(blobLen) > uint64(len(superBlob)) || blobLen < 38 {
			continue
		}
		blob := superBlob[offset : offset+blobLen]
		if binary.BigEndian.Uint32(blob) != magicCodeDirectory {
			continue
		}
		hashType := blob[37] // cs_code_directory.hashType, right after hashSize at offset 36
		if int(hashType) == hashTypeSHA1 {
			return blob
		}
		if fallback == nil {
			fallback = blob
		}
	}
	return fallback
}
