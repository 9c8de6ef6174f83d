package machoedit

import (
	"encoding/binary"

	"github.com/resignkit/resigner/internal/resignerr"
)

// pageSize is the code-directory hash page size (also zsign's choice),
// unrelated to the OS's own page size.
const pageSize = 4096

// Reservation records where the signature will live once written: the code
// (everything hashed) runs up to CodeSize, followed by SigSpace bytes
// reserved for the SuperBlob (zero-padded past the SuperBlob's real length).
type Reservation struct {
	CodeSize uint64
	SigSpace uint32
}

// EstimateSignatureSpace sizes the signature the way the reservation pass
// needs to before the real CodeDirectory/CMS blobs exist: enough for SHA-1
// and SHA-256 hash pages of the code plus generous padding for
// certificates and entitlements. When the built blob does not fit, the
// signer re-reserves a larger space (the blob's size plus 4096, rounded up
// to a page) and rebuilds.
func EstimateSignatureSpace(codeSize uint64) uint32 {
	pages := (codeSize + pageSize - 1) / pageSize
	hashSpace := (pages + 1) * 52 // 20 (sha1) + 32 (sha256) bytes per page
	aligned := ((hashSpace + 4095) / 4096) * 4096
	return uint32(aligned + 16384) // headroom for CMS + entitlements + requirements
}

// ReserveCodeSignatureSpace ensures the slice has an LC_CODE_SIGNATURE load
// command pointing at sigSpace bytes of trailing space, adding the command
// (and growing the file to a 16-byte aligned boundary) if none exists yet.
// It does not write signature bytes; the caller does that once the real
// blob is built, padding it out to sigSpace.
func (s *ArchSlice) ReserveCodeSignatureSpace(sigSpace uint32) (*Reservation, error) {
	if s.CodeSig != nil {
		codeSize := uint64(s.CodeSig.DataOff)
		binary.LittleEndian.PutUint32(s.Data[s.CodeSig.CmdOffset+8:], uint32(codeSize))
		binary.LittleEndian.PutUint32(s.Data[s.CodeSig.CmdOffset+12:], sigSpace)
		s.CodeSig.DataSize = sigSpace
		s.updateLinkeditSizes(codeSize, sigSpace)
		return &Reservation{CodeSize: codeSize, SigSpace: sigSpace}, nil
	}

	free, err := s.FreeSpaceBeforeText()
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindMalformedMachO, "MachOEditor", "", err)
	}
	if free < loadCmdSizeCSSig {
		return nil, resignerr.Wrapf(resignerr.KindNoLoadCommandSpace, "MachOEditor", "",
			"need %d bytes for LC_CODE_SIGNATURE, only %d available before __TEXT", loadCmdSizeCSSig, free)
	}

	codeSize := uint64(len(s.Data))
	aligned := (codeSize + 15) &^ 15
	if aligned > uint64(len(s.Data)) {
		grown := make([]byte, aligned)
		copy(grown, s.Data)
		s.Data = grown
	}

	insertAt := s.LoadCommandsEnd()
	binary.LittleEndian.PutUint32(s.Data[insertAt:], LCCodeSignature)
	binary.LittleEndian.PutUint32(s.Data[insertAt+4:], loadCmdSizeCSSig)
	binary.LittleEndian.PutUint32(s.Data[insertAt+8:], uint32(aligned))
	binary.LittleEndian.PutUint32(s.Data[insertAt+12:], sigSpace)

	s.NCmds++
	s.SizeOfCmds += loadCmdSizeCSSig
	s.writeHeaderCounts()
	s.cmds = append(s.cmds, rawCmd{Offset: insertAt, Size: loadCmdSizeCSSig})
	s.CodeSig = &CodeSigRef{CmdOffset: insertAt, DataOff: uint32(aligned), DataSize: sigSpace}

	s.updateLinkeditSizes(aligned, sigSpace)

	return &Reservation{CodeSize: aligned, SigSpace: sigSpace}, nil
}

// updateLinkeditSizes grows __LINKEDIT's file size (and page-aligned vmsize)
// to cover the reserved signature region, matching how the real Apple
// linker and zsign both keep __LINKEDIT as the last, trailing segment.
func (s *ArchSlice) updateLinkeditSizes(codeSize uint64, sigSpace uint32) {
	if s.Linkedit == nil {
		return
	}
	newFileSize := codeSize + uint64(sigSpace) - s.Linkedit.FileOffset
	newVMSize := (newFileSize + 4095) &^ 4095

	if s.Is64 {
		binary.LittleEndian.PutUint64(s.Data[s.Linkedit.vmsizeFieldOff:], newVMSize)
		binary.LittleEndian.PutUint64(s.Data[s.Linkedit.filesizeFieldOff:], newFileSize)
	} else {
		binary.LittleEndian.PutUint32(s.Data[s.Linkedit.vmsizeFieldOff:], uint32(newVMSize))
		binary.LittleEndian.PutUint32(s.Data[s.Linkedit.filesizeFieldOff:], uint32(newFileSize))
	}
	s.Linkedit.FileSize = newFileSize
	s.Linkedit.VMSize = newVMSize
}

// FinalizeWithSignature returns the final file bytes: the code truncated to
// CodeSize, followed by sig padded (with trailing zeros) to SigSpace bytes.
func (r *Reservation) FinalizeWithSignature(codeBytes []byte, sig []byte) []byte {
	out := make([]byte, r.CodeSize+uint64(r.SigSpace))
	copy(out, codeBytes[:r.CodeSize])
	copy(out[r.CodeSize:], sig)
	return out
}

// ExecSegmentBounds returns __TEXT's file offset and size, the execSegBase
// / execSegLimit fields of the CodeDirectory.
func (s *ArchSlice) ExecSegmentBounds() (offset, size uint64) {
	if s.Text == nil {
		return 0, 0
	}
	return s.Text.FileOffset, s.Text.FileSize
}
