package machoedit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	gomacho "github.com/blacktop/go-macho"
	gotypes "github.com/blacktop/go-macho/types"

	"github.com/resignkit/resigner/internal/resignerr"
)

// ParseFile reads path and parses it as a thin or fat Mach-O image.
func ParseFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindIOFailure, "MachOParser", path, err)
	}
	img, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}
	img.Path = path
	return img, nil
}

// ParseBytes parses a thin or fat Mach-O image already read into memory.
func ParseBytes(data []byte) (*Image, error) {
	if len(data) < 4 {
		return nil, resignerr.Wrapf(resignerr.KindMalformedMachO, "MachOParser", "", "file too small (%d bytes)", len(data))
	}
	// A fat header's magic is stored big-endian on disk regardless of the
	// contained architectures' byte order, so check it that way — a
	// little-endian read of a real fat file's magic yields MagicFatSwapped,
	// never MagicFat.
	magic := binary.BigEndian.Uint32(data[:4])
	if magic == MagicFat || magic == MagicFat64 {
		return parseFat(data)
	}
	slice, err := parseSlice(data)
	if err != nil {
		return nil, err
	}
	return &Image{Slices: []*ArchSlice{slice}}, nil
}

func parseFat(data []byte) (*Image, error) {
	fat, err := gomacho.NewFatFile(bytes.NewReader(data))
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindMalformedMachO, "MachOParser", "", fmt.Errorf("parse fat header: %w", err))
	}
	defer fat.Close()

	img := &Image{Fat: true}
	for i, arch := range fat.Arches {
		end := uint64(arch.Offset) + uint64(arch.Size)
		if end > uint64(len(data)) {
			return nil, resignerr.Wrapf(resignerr.KindMalformedMachO, "MachOParser", "", "fat arch %d overruns file", i)
		}
		archData := data[arch.Offset:end]
		slice, err := parseSlice(archData)
		if err != nil {
			return nil, fmt.Errorf("parse fat arch %d: %w", i, err)
		}
		slice.Align = arch.Align
		img.Slices = append(img.Slices, slice)
	}
	return img, nil
}

// parseSlice zeroes any existing code signature bytes before handing the
// data to go-macho, which chokes on some hand-built signature layouts, then
// walks the load commands to fill in the offset-addressed model.
func parseSlice(data []byte) (*ArchSlice, error) {
	if len(data) < 32 {
		return nil, resignerr.Wrapf(resignerr.KindMalformedMachO, "MachOParser", "", "slice too small (%d bytes)", len(data))
	}

	sanitized := make([]byte, len(data))
	copy(sanitized, data)
	if off, size, ok := findCodeSignature(data); ok && off > 0 && uint64(off) < uint64(len(data)) {
		end := uint64(off) + uint64(size)
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		for i := uint64(off); i < end; i++ {
			sanitized[i] = 0
		}
	}

	m, err := gomacho.NewFile(bytes.NewReader(sanitized))
	if err != nil {
		return nil, resignerr.Wrap(resignerr.KindMalformedMachO, "MachOParser", "", err)
	}
	defer m.Close()

	is64 := m.Magic == gotypes.Magic64
	headerSize := uint32(28)
	if is64 {
		headerSize = 32
	}

	var ncmds, sizeofcmds uint32
	if is64 {
		ncmds = binary.LittleEndian.Uint32(data[16:20])
		sizeofcmds = binary.LittleEndian.Uint32(data[20:24])
	} else {
		ncmds = binary.LittleEndian.Uint32(data[12:16])
		sizeofcmds = binary.LittleEndian.Uint32(data[16:20])
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	slice := &ArchSlice{
		Data:       owned,
		Is64:       is64,
		CPU:        int32(m.CPU),
		SubCPU:     int32(m.SubCPU),
		HeaderSize: headerSize,
		NCmds:      ncmds,
		SizeOfCmds: sizeofcmds,
	}

	cmdOffset := headerSize
	for _, load := range m.Loads {
		size := load.LoadSize()
		slice.cmds = append(slice.cmds, rawCmd{Offset: cmdOffset, Size: size})
		switch l := load.(type) {
		case *gomacho.Segment:
			seg := &Segment{CmdOffset: cmdOffset, Name: l.Name, FileOffset: l.Offset, FileSize: l.Filesz, VMSize: l.Memsz}
			if is64 {
				seg.vmsizeFieldOff = cmdOffset + 32
				seg.filesizeFieldOff = cmdOffset + 48
			} else {
				seg.vmsizeFieldOff = cmdOffset + 28
				seg.filesizeFieldOff = cmdOffset + 36
			}
			switch l.Name {
			case "__TEXT":
				slice.Text = seg
			case "__LINKEDIT":
				slice.Linkedit = seg
			}
		case *gomacho.Dylib:
			slice.Dylibs = append(slice.Dylibs, DylibRef{CmdOffset: cmdOffset, CmdSize: size, Cmd: LCLoadDylib, Kind: DylibNormal, Path: l.Name})
		case *gomacho.WeakDylib:
			slice.Dylibs = append(slice.Dylibs, DylibRef{CmdOffset: cmdOffset, CmdSize: size, Cmd: LCLoadWeakDylib, Kind: DylibWeak, Path: l.Name})
		case *gomacho.ReExportDylib:
			slice.Dylibs = append(slice.Dylibs, DylibRef{CmdOffset: cmdOffset, CmdSize: size, Cmd: LCReexportDylib, Kind: DylibReexport, Path: l.Name})
		case *gomacho.CodeSignature:
			slice.CodeSig = &CodeSigRef{CmdOffset: cmdOffset, DataOff: l.Offset, DataSize: l.Size}
		default:
			// LC_LOAD_DYLIB commands that go-macho does not hand back as
			// *gomacho.Dylib are decoded from the raw dylib_command.
			end := uint64(cmdOffset) + uint64(size)
			if size >= 24 && end <= uint64(len(data)) && binary.LittleEndian.Uint32(data[cmdOffset:]) == LCLoadDylib {
				cmd := data[cmdOffset:end]
				if nameOff := binary.LittleEndian.Uint32(cmd[8:12]); nameOff < size {
					name := cmd[nameOff:]
					if i := bytes.IndexByte(name, 0); i >= 0 {
						name = name[:i]
					}
					slice.Dylibs = append(slice.Dylibs, DylibRef{CmdOffset: cmdOffset, CmdSize: size, Cmd: LCLoadDylib, Kind: DylibNormal, Path: string(name)})
				}
			}
		}
		cmdOffset += size
	}

	return slice, nil
}

// findCodeSignature scans the raw header/load-commands region for
// LC_CODE_SIGNATURE without needing a working macho.File, so it can run
// even on inputs go-macho would refuse to parse.
func findCodeSignature(data []byte) (offset, size uint32, found bool) {
	if len(data) < 32 {
		return 0, 0, false
	}
	magic := binary.LittleEndian.Uint32(data[:4])
	var is64 bool
	var headerSize uint32
	switch magic {
	case MagicThin64:
		is64, headerSize = true, 32
	case MagicThin32:
		is64, headerSize = false, 28
	default:
		return 0, 0, false
	}

	var ncmds, sizeofcmds uint32
	if is64 {
		ncmds = binary.LittleEndian.Uint32(data[16:20])
		sizeofcmds = binary.LittleEndian.Uint32(data[20:24])
	} else {
		ncmds = binary.LittleEndian.Uint32(data[12:16])
		sizeofcmds = binary.LittleEndian.Uint32(data[16:20])
	}
	if uint32(len(data)) < headerSize+sizeofcmds {
		return 0, 0, false
	}

	off := headerSize
	for i := uint32(0); i < ncmds; i++ {
		if off+8 > headerSize+sizeofcmds {
			break
		}
		cmd := binary.LittleEndian.Uint32(data[off:])
		cmdSize := binary.LittleEndian.Uint32(data[off+4:])
		if cmd == LCCodeSignature && cmdSize >= 16 {
			return binary.LittleEndian.Uint32(data[off+8:]), binary.LittleEndian.Uint32(data[off+12:]), true
		}
		if cmdSize == 0 {
			break
		}
		off += cmdSize
	}
	return 0, 0, false
}
