// Package codedir implements CodeDirectoryBuilder: assembling the
// CodeDirectory blob (magic 0xfade0c02) that carries the page hashes,
// special-slot hashes, and identity metadata Apple's code signing format
// requires. Builders produce both the SHA-1 primary and SHA-256 alternate
// CodeDirectory a modern signature needs.
package codedir

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
)

// Apple's CodeDirectory constants (cs_blobs.h).
const (
	Magic = 0xfade0c02

	PageSizeBits = 12
	PageSize     = 1 << PageSizeBits

	HashSHA1   = 1
	HashSHA256 = 2

	Version = 0x20400 // exec-segment fields + DER-entitlements slot support

	ExecSegMainBinary    = 0x1
	ExecSegAllowUnsigned = 0x10

	// Special slot indices, counted backward from the hash offset.
	SlotInfoPlist       = 1
	SlotRequirements    = 2
	SlotResources       = 3
	SlotApplication     = 4
	SlotEntitlements    = 5
	SlotEntitlementsDER = 7
)

// SpecialSlots holds the raw bytes hashed into each negative CodeDirectory
// slot. A nil entry hashes to the zero hash (Apple's convention for unused
// slots), which is also correct for slots this build doesn't populate.
type SpecialSlots struct {
	InfoPlist       []byte
	Requirements    []byte
	Resources       []byte
	Entitlements    []byte
	EntitlementsDER []byte
}

// count returns how many special slots must be reserved, following zsign's
// rule: at minimum InfoPlist+Requirements (2), through Entitlements (5)
// once there are resources or entitlements, and through EntitlementsDER (7)
// once both the entitlements and their DER form are non-empty.
func (s SpecialSlots) count() uint32 {
	switch {
	case len(s.Entitlements) > 0 && len(s.EntitlementsDER) > 0:
		return 7
	case len(s.Entitlements) > 0 || len(s.Resources) > 0:
		return 5
	default:
		return 2
	}
}

// Input is everything Build needs to produce one CodeDirectory.
type Input struct {
	BundleID     string
	TeamID       string
	Code         []byte
	ExecSegBase  uint64
	ExecSegLimit uint64
	ExecSegFlags uint64
	Special      SpecialSlots
	HashType     uint8 // HashSHA1 or HashSHA256
}

// Build assembles a single CodeDirectory blob for one hash algorithm. The
// caller builds one for SHA-1 (the primary, at slot 0) and one for SHA-256
// (the alternate, at slot 0x1000) to satisfy both legacy and modern
// verifiers.
func Build(in Input) []byte {
	hashSize := sha1.Size
	if in.HashType == HashSHA256 {
		hashSize = sha256.Size
	}

	nSpecial := in.Special.count()
	nHashes := (int64(len(in.Code)) + PageSize - 1) / PageSize

	idOff := uint32(88) // header size through version 0x20400
	teamOff := uint32(0)
	hashOff := idOff + uint32(len(in.BundleID)+1)
	if in.TeamID != "" {
		teamOff = hashOff
		hashOff = teamOff + uint32(len(in.TeamID)+1)
	}
	hashOff += nSpecial * uint32(hashSize)

	total := hashOff + uint32(nHashes)*uint32(hashSize)
	out := make([]byte, total)
	w := out

	w = put32(w, Magic)
	w = put32(w, total)
	w = put32(w, Version)
	w = put32(w, 0) // flags: not adhoc, we always have a certificate
	w = put32(w, hashOff)
	w = put32(w, idOff)
	w = put32(w, nSpecial)
	w = put32(w, uint32(nHashes))
	w = put32(w, uint32(len(in.Code)))
	w = put8(w, uint8(hashSize))
	w = put8(w, in.HashType)
	w = put8(w, 0)
	w = put8(w, PageSizeBits)
	w = put32(w, 0)
	w = put32(w, 0) // scatterOffset
	w = put32(w, teamOff)
	w = put32(w, 0)
	w = put64(w, 0) // codeLimit64
	w = put64(w, in.ExecSegBase)
	w = put64(w, in.ExecSegLimit)
	w = put64(w, in.ExecSegFlags)

	w = puts(w, append([]byte(in.BundleID), 0))
	if in.TeamID != "" {
		w = puts(w, append([]byte(in.TeamID), 0))
	}

	for slot := int(nSpecial); slot >= 1; slot-- {
		var data []byte
		switch slot {
		case SlotInfoPlist:
			data = in.Special.InfoPlist
		case SlotRequirements:
			data = in.Special.Requirements
		case SlotResources:
			data = in.Special.Resources
		case SlotEntitlements:
			data = in.Special.Entitlements
		case SlotEntitlementsDER:
			data = in.Special.EntitlementsDER
		}
		w = puts(w, hashOf(data, in.HashType, hashSize))
	}

	for p := int64(0); p < int64(len(in.Code)); p += PageSize {
		end := p + PageSize
		if end > int64(len(in.Code)) {
			end = int64(len(in.Code))
		}
		w = puts(w, hashOf(in.Code[p:end], in.HashType, hashSize))
	}

	return out
}

func hashOf(data []byte, hashType uint8, size int) []byte {
	if len(data) == 0 {
		return make([]byte, size)
	}
	if hashType == HashSHA256 {
		h := sha256.Sum256(data)
		return h[:]
	}
	h := sha1.Sum(data)
	return h[:]
}

func put32(b []byte, v uint32) []byte { binary.BigEndian.PutUint32(b, v); return b[4:] }
func put64(b []byte, v uint64) []byte { binary.BigEndian.PutUint64(b, v); return b[8:] }
func put8(b []byte, v uint8) []byte   { b[0] = v; return b[1:] }
func puts(b, s []byte) []byte         { return b[copy(b, s):] }
