// Package machoedit implements MachOParser and MachOEditor: parsing thin
// and fat Mach-O images into an offset-addressed model, and mutating that
// model in place (dylib load commands, code signature space reservation)
// by patching copied byte slices rather than rebuilding the file from
// scratch.
package machoedit

import "fmt"

// Well-known Mach-O magic numbers.
const (
	MagicThin32      = 0xfeedface
	MagicThin64      = 0xfeedfacf
	MagicThin32Swap  = 0xcefaedfe
	MagicThin64Swap  = 0xcffaedfe
	MagicFat         = 0xcafebabe
	MagicFat64       = 0xcafebabf
	MagicFatSwapped  = 0xbebafeca
)

// Load command opcodes relevant to dylib editing and code signing.
const (
	LCSegment         = 0x1
	LCSegment64       = 0x19
	LCLoadDylib       = 0xc
	LCIDDylib         = 0xd
	LCLoadWeakDylib   = 0x18 | 0x80000000
	LCReexportDylib   = 0x1f | 0x80000000
	LCCodeSignature   = 0x1d
	loadCmdSizeCSSig  = 16
	fatArchAlignment  = 0x4000
)

// DylibKind distinguishes the three ways a Mach-O can depend on a shared
// library.
type DylibKind int

const (
	DylibNormal DylibKind = iota
	DylibWeak
	DylibReexport
)

func (k DylibKind) loadCmd() uint32 {
	switch k {
	case DylibWeak:
		return LCLoadWeakDylib
	case DylibReexport:
		return LCReexportDylib
	default:
		return LCLoadDylib
	}
}

// DylibRef describes one LC_LOAD_DYLIB-family load command found while
// parsing a slice.
type DylibRef struct {
	CmdOffset uint32 // offset of the load command within the slice
	CmdSize   uint32
	Cmd       uint32
	Kind      DylibKind
	Path      string
}

// Segment records the offset/size window Apple's segment_command(_64)
// commands describe — used to locate __TEXT (for exec-segment bounds and
// free space before it) and __LINKEDIT (resized whenever the trailing
// signature grows or shrinks).
type Segment struct {
	CmdOffset       uint32
	Name            string
	FileOffset      uint64
	FileSize        uint64
	VMSize          uint64
	vmsizeFieldOff  uint32
	filesizeFieldOff uint32
}

// ArchSlice is one architecture slice of a Mach-O image: thin binaries have
// exactly one, fat binaries have one per fat_arch entry. It owns a private
// copy of the slice's bytes so edits never alias the caller's buffer.
type ArchSlice struct {
	Data       []byte
	Is64       bool
	CPU        int32
	SubCPU     int32
	Align      uint32 // fat_arch alignment (log2), unused for thin binaries
	HeaderSize uint32
	NCmds      uint32
	SizeOfCmds uint32

	Text      *Segment
	Linkedit  *Segment
	Dylibs    []DylibRef

	// CodeSig is nil when the slice carries no LC_CODE_SIGNATURE yet.
	CodeSig *CodeSigRef

	cmds []rawCmd
}

// CodeSigRef locates the existing LC_CODE_SIGNATURE load command and the
// signature blob it points at.
type CodeSigRef struct {
	CmdOffset uint32
	DataOff   uint32
	DataSize  uint32
}

// rawCmd is a type-agnostic (offset, size) span for one load command,
// used to reflow the load-command area when commands are added or removed
// without needing to know every command's concrete type.
type rawCmd struct {
	Offset uint32
	Size   uint32
}

// Image is a parsed Mach-O file: one slice for thin binaries, one per
// architecture for fat (universal) binaries.
type Image struct {
	Path   string
	Fat    bool
	Slices []*ArchSlice
}

// LoadCommandsEnd returns the file offset just past the last load command,
// i.e. where a new one would be appended.
func (s *ArchSlice) LoadCommandsEnd() uint32 {
	return s.HeaderSize + s.SizeOfCmds
}

// FreeSpaceBeforeText returns how many bytes sit between the end of the
// load commands and the start of the __TEXT segment's file content — the
// room available for appending new load commands.
func (s *ArchSlice) FreeSpaceBeforeText() (uint32, error) {
	if s.Text == nil {
		return 0, fmt.Errorf("machoedit: slice has no __TEXT segment")
	}
	end := s.LoadCommandsEnd()
	if uint64(end) > s.Text.FileOffset {
		return 0, fmt.Errorf("machoedit: load commands already overrun __TEXT")
	}
	return uint32(s.Text.FileOffset) - end, nil
}
