package codedir

import (
	"bytes"
	"encoding/binary"
)

// Requirement blob magic numbers (cs_blobs.h).
const (
	MagicRequirement  = 0xfade0c00
	MagicRequirements = 0xfade0c01

	kSecDesignatedRequirementType = 3

	opAnd                = 6
	opIdent              = 2
	opAppleGenericAnchor = 15
	opCertField          = 11
	opCertGeneric        = 14
	matchExists          = 0
	matchEqual           = 1
)

// appleDeveloperOID is 1.2.840.113635.100.6.2.1, DER-encoded without its tag
// and length octets, as the requirement opCertGeneric operator expects.
var appleDeveloperOID = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x63, 0x64, 0x06, 0x02, 0x01}

// BuildRequirements wraps a single designated requirement in a requirements
// blob (the form embedded in the SuperBlob at CSSLOT_REQUIREMENTS).
func BuildRequirements(bundleID, signerCN string) []byte {
	req := buildDesignatedRequirement(bundleID, signerCN)

	const reqCount = 1
	headerSize := uint32(12 + reqCount*8)
	total := headerSize + uint32(len(req))

	blob := make([]byte, total)
	w := blob
	w = put32(w, MagicRequirements)
	w = put32(w, total)
	w = put32(w, reqCount)
	w = put32(w, kSecDesignatedRequirementType)
	put32(w, headerSize)
	copy(blob[headerSize:], req)
	return blob
}

// buildDesignatedRequirement encodes Apple's designated requirement
// expression: identifier "bundleID" and anchor apple generic, optionally
// strengthened with certificate leaf/intermediate checks against signerCN
// when a signing identity's common name is known.
func buildDesignatedRequirement(bundleID, signerCN string) []byte {
	var expr bytes.Buffer
	writeString := func(s string) {
		data := []byte(s)
		padded := (len(data) + 3) &^ 3
		binary.Write(&expr, binary.BigEndian, uint32(len(data)))
		expr.Write(data)
		expr.Write(make([]byte, padded-len(data)))
	}

	if signerCN == "" {
		binary.Write(&expr, binary.BigEndian, uint32(opAnd))
		binary.Write(&expr, binary.BigEndian, uint32(opIdent))
		writeString(bundleID)
		binary.Write(&expr, binary.BigEndian, uint32(opAppleGenericAnchor))
	} else {
		binary.Write(&expr, binary.BigEndian, uint32(opAnd))
		binary.Write(&expr, binary.BigEndian, uint32(opIdent))
		writeString(bundleID)

		binary.Write(&expr, binary.BigEndian, uint32(opAnd))
		binary.Write(&expr, binary.BigEndian, uint32(opAppleGenericAnchor))

		binary.Write(&expr, binary.BigEndian, uint32(opAnd))

		binary.Write(&expr, binary.BigEndian, uint32(opCertField))
		binary.Write(&expr, binary.BigEndian, uint32(0)) // leaf
		writeString("subject.CN")
		binary.Write(&expr, binary.BigEndian, uint32(matchEqual))
		writeString(signerCN)

		binary.Write(&expr, binary.BigEndian, uint32(opCertGeneric))
		binary.Write(&expr, binary.BigEndian, uint32(1)) // intermediate
		oidPadded := (len(appleDeveloperOID) + 3) &^ 3
		binary.Write(&expr, binary.BigEndian, uint32(len(appleDeveloperOID)))
		expr.Write(appleDeveloperOID)
		expr.Write(make([]byte, oidPadded-len(appleDeveloperOID)))
		binary.Write(&expr, binary.BigEndian, uint32(matchExists))
	}

	body := expr.Bytes()
	total := 12 + len(body)
	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:], MagicRequirement)
	binary.BigEndian.PutUint32(blob[4:], uint32(total))
	binary.BigEndian.PutUint32(blob[8:], 1) // kind: expression
	copy(blob[12:], body)
	return blob
}
