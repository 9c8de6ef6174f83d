package machoedit

import (
	"encoding/binary"

	"github.com/resignkit/resigner/internal/resignerr"
)

// ListDylibs returns every LC_LOAD_DYLIB/LC_LOAD_WEAK_DYLIB/LC_REEXPORT_DYLIB
// dependency recorded in the slice, in load-command order.
func (s *ArchSlice) ListDylibs() []DylibRef {
	out := make([]DylibRef, len(s.Dylibs))
	copy(out, s.Dylibs)
	return out
}

// InjectDylib appends a new dylib load command referencing path. When
// createIfAbsent is true and a load command for path already exists (full
// path match), it's left alone and InjectDylib returns success without
// adding a duplicate; when false, a matching entry doesn't stop a second
// command from being appended. It fails with KindNoLoadCommandSpace if
// there isn't enough padding between the end of the load commands and the
// start of __TEXT's file content.
func (s *ArchSlice) InjectDylib(path string, kind DylibKind, createIfAbsent bool) error {
	if createIfAbsent {
		for _, d := range s.Dylibs {
			if d.Path == path {
				return nil
			}
		}
	}

	align := uint32(4)
	if s.Is64 {
		align = 8
	}
	cmd := buildDylibCommand(kind, path, align)

	free, err := s.FreeSpaceBeforeText()
	if err != nil {
		return resignerr.Wrap(resignerr.KindMalformedMachO, "MachOEditor", "", err)
	}
	if uint32(len(cmd)) > free {
		return resignerr.Wrapf(resignerr.KindNoLoadCommandSpace, "MachOEditor", "",
			"need %d bytes to inject %q, only %d available before __TEXT", len(cmd), path, free)
	}

	insertAt := s.LoadCommandsEnd()
	copy(s.Data[insertAt:insertAt+uint32(len(cmd))], cmd)

	s.NCmds++
	s.SizeOfCmds += uint32(len(cmd))
	s.writeHeaderCounts()

	return s.reparse()
}

// RemoveDylibs deletes every dylib load command matching pred, compacting
// the load-command area and zero-filling the space it frees up.
func (s *ArchSlice) RemoveDylibs(pred func(DylibRef) bool) (int, error) {
	toRemove := map[uint32]bool{}
	for _, d := range s.Dylibs {
		if pred(d) {
			toRemove[d.CmdOffset] = true
		}
	}
	if len(toRemove) == 0 {
		return 0, nil
	}

	buf := make([]byte, 0, s.SizeOfCmds)
	kept := 0
	for _, c := range s.cmds {
		if toRemove[c.Offset] {
			continue
		}
		buf = append(buf, s.Data[c.Offset:c.Offset+c.Size]...)
		kept++
	}

	region := s.Data[s.HeaderSize : s.HeaderSize+s.SizeOfCmds]
	for i := range region {
		region[i] = 0
	}
	copy(region, buf)

	s.NCmds = uint32(kept)
	s.SizeOfCmds = uint32(len(buf))
	s.writeHeaderCounts()

	if err := s.reparse(); err != nil {
		return 0, err
	}
	return len(toRemove), nil
}

// ChangeDylibPath rewrites the path of the dylib load command matching
// oldPath to newPath. The command's cmdsize (and, if it grows, the overall
// load-command area) is adjusted; growth beyond the space before __TEXT
// fails with KindNoLoadCommandSpace.
func (s *ArchSlice) ChangeDylibPath(oldPath, newPath string) error {
	var target *DylibRef
	for i := range s.Dylibs {
		if s.Dylibs[i].Path == oldPath {
			target = &s.Dylibs[i]
			break
		}
	}
	if target == nil {
		return resignerr.Wrapf(resignerr.KindMalformedMachO, "MachOEditor", "", "dylib %q not found", oldPath)
	}

	align := uint32(4)
	if s.Is64 {
		align = 8
	}
	newCmd := buildDylibCommand(target.Kind, newPath, align)

	delta := int64(len(newCmd)) - int64(target.CmdSize)
	if delta > 0 {
		free, err := s.FreeSpaceBeforeText()
		if err != nil {
			return resignerr.Wrap(resignerr.KindMalformedMachO, "MachOEditor", "", err)
		}
		if uint32(delta) > free {
			return resignerr.Wrapf(resignerr.KindNoLoadCommandSpace, "MachOEditor", "",
				"renaming %q to %q needs %d more bytes, only %d available", oldPath, newPath, delta, free)
		}
	}

	buf := make([]byte, 0, int64(s.SizeOfCmds)+delta)
	for _, c := range s.cmds {
		if c.Offset == target.CmdOffset {
			buf = append(buf, newCmd...)
			continue
		}
		buf = append(buf, s.Data[c.Offset:c.Offset+c.Size]...)
	}

	region := s.Data[s.HeaderSize : s.HeaderSize+s.SizeOfCmds]
	for i := range region {
		region[i] = 0
	}
	copy(s.Data[s.HeaderSize:], buf)

	s.SizeOfCmds = uint32(len(buf))
	s.writeHeaderCounts()

	return s.reparse()
}

func (s *ArchSlice) writeHeaderCounts() {
	if s.Is64 {
		binary.LittleEndian.PutUint32(s.Data[16:20], s.NCmds)
		binary.LittleEndian.PutUint32(s.Data[20:24], s.SizeOfCmds)
	} else {
		binary.LittleEndian.PutUint32(s.Data[12:16], s.NCmds)
		binary.LittleEndian.PutUint32(s.Data[16:20], s.SizeOfCmds)
	}
}

// reparse re-derives every offset-addressed field from the slice's current
// bytes. It's the simplest correct way to keep Text/Linkedit/Dylibs/CodeSig
// consistent after a raw edit: re-walk the (still valid) load commands
// instead of hand-patching every dependent offset.
func (s *ArchSlice) reparse() error {
	fresh, err := parseSlice(s.Data)
	if err != nil {
		return resignerr.Wrap(resignerr.KindMalformedMachO, "MachOEditor", "", err)
	}
	fresh.Align = s.Align
	*s = *fresh
	return nil
}

// buildDylibCommand encodes an on-disk dylib_command: the fixed header plus
// a nul-terminated path, padded so cmdsize is a multiple of align.
func buildDylibCommand(kind DylibKind, path string, align uint32) []byte {
	const fixedHeader = 24 // cmd, cmdsize, name.offset, timestamp, current_version, compat_version
	pathBytes := append([]byte(path), 0)
	total := fixedHeader + len(pathBytes)
	padded := (uint32(total) + align - 1) &^ (align - 1)

	cmd := make([]byte, padded)
	binary.LittleEndian.PutUint32(cmd[0:], kind.loadCmd())
	binary.LittleEndian.PutUint32(cmd[4:], padded)
	binary.LittleEndian.PutUint32(cmd[8:], fixedHeader) // name.offset
	binary.LittleEndian.PutUint32(cmd[12:], 0)           // timestamp
	binary.LittleEndian.PutUint32(cmd[16:], 0x00010000)  // current_version 1.0.0
	binary.LittleEndian.PutUint32(cmd[20:], 0x00010000)  // compatibility_version 1.0.0
	copy(cmd[fixedHeader:], pathBytes)
	return cmd
}
