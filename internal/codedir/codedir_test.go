package codedir

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"
)

func TestBuildHeaderFields(t *testing.T) {
	code := bytes.Repeat([]byte{0xAB}, PageSize*2+10)
	in := Input{
		BundleID: "com.example.app",
		TeamID:   "ABCDE12345",
		Code:     code,
		HashType: HashSHA256,
	}
	cd := Build(in)

	if got := binary.BigEndian.Uint32(cd[0:4]); got != Magic {
		t.Fatalf("magic = 0x%x, want 0x%x", got, Magic)
	}
	if got := binary.BigEndian.Uint32(cd[4:8]); got != uint32(len(cd)) {
		t.Fatalf("length field = %d, want %d", got, len(cd))
	}
	if got := binary.BigEndian.Uint32(cd[8:12]); got != Version {
		t.Fatalf("version = 0x%x, want 0x%x", got, Version)
	}
	if got := cd[36]; got != sha256.Size {
		t.Fatalf("hashSize = %d, want %d", got, sha256.Size)
	}
	if got := cd[37]; got != HashSHA256 {
		t.Fatalf("hashType = %d, want %d", got, HashSHA256)
	}

	nCodeSlots := binary.BigEndian.Uint32(cd[28:32])
	wantSlots := (len(code) + PageSize - 1) / PageSize
	if int(nCodeSlots) != wantSlots {
		t.Fatalf("nCodeSlots = %d, want %d", nCodeSlots, wantSlots)
	}

	identOffset := binary.BigEndian.Uint32(cd[20:24])
	end := identOffset
	for end < uint32(len(cd)) && cd[end] != 0 {
		end++
	}
	if string(cd[identOffset:end]) != in.BundleID {
		t.Fatalf("identifier = %q, want %q", cd[identOffset:end], in.BundleID)
	}
}

func TestBuildSpecialSlotCount(t *testing.T) {
	base := Input{BundleID: "id", Code: []byte{1, 2, 3}, HashType: HashSHA1}

	cd := Build(base)
	if n := binary.BigEndian.Uint32(cd[24:28]); n != 2 {
		t.Fatalf("nSpecialSlots with no special data = %d, want 2 (InfoPlist+Requirements reserved by default)", n)
	}

	withEntitlements := base
	withEntitlements.Special = SpecialSlots{Entitlements: []byte("<plist/>")}
	cd = Build(withEntitlements)
	if n := binary.BigEndian.Uint32(cd[24:28]); n != SlotEntitlements {
		t.Fatalf("nSpecialSlots with entitlements = %d, want %d", n, SlotEntitlements)
	}

	withDER := withEntitlements
	withDER.Special.EntitlementsDER = []byte{0x30, 0x00}
	cd = Build(withDER)
	if n := binary.BigEndian.Uint32(cd[24:28]); n != SlotEntitlementsDER {
		t.Fatalf("nSpecialSlots with DER entitlements = %d, want %d", n, SlotEntitlementsDER)
	}
}

func TestBuildRequirementsWraps(t *testing.T) {
	blob := BuildRequirements("com.example.app", "")
	if got := binary.BigEndian.Uint32(blob[0:4]); got != MagicRequirements {
		t.Fatalf("outer magic = 0x%x, want 0x%x", got, MagicRequirements)
	}
	count := binary.BigEndian.Uint32(blob[8:12])
	if count != 1 {
		t.Fatalf("requirement count = %d, want 1", count)
	}
	innerOff := binary.BigEndian.Uint32(blob[16:20])
	if got := binary.BigEndian.Uint32(blob[innerOff:]); got != MagicRequirement {
		t.Fatalf("inner magic = 0x%x, want 0x%x", got, MagicRequirement)
	}
}
