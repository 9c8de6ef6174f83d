package resign

import (
	"encoding/binary"
	"os"

	"github.com/resignkit/resigner/internal/atomicio"
	"github.com/resignkit/resigner/internal/identity"
	"github.com/resignkit/resigner/internal/machoedit"
	"github.com/resignkit/resigner/internal/resignerr"
	"github.com/resignkit/resigner/internal/superblob"
)

// maxSignAttempts bounds the reserve/build/retry loop: each retry grows the
// reservation to fit the signature actually produced, and three rounds is
// far more than any real CodeDirectory + CMS blob needs.
const maxSignAttempts = 3

// execContext carries the special-slot inputs (Info.plist, CodeResources)
// a Mach-O's CodeDirectory needs, mirroring what a bundle knows about its
// own executable that a bare file path doesn't.
type execContext struct {
	InfoPlist     []byte
	CodeResources []byte
}

// signExecutable rewrites path in place with a fresh code signature. It
// handles both thin and fat (universal) binaries.
func signExecutable(path string, bundleID string, entitlements []byte, id *identity.Identity, ctx execContext) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return resignerr.Wrap(resignerr.KindIOFailure, "SignCoordinator", path, err)
	}

	img, err := machoedit.ParseBytes(data)
	if err != nil {
		return resignerr.Wrap(resignerr.KindMalformedMachO, "SignCoordinator", path, err)
	}

	signed := make([][]byte, len(img.Slices))
	for i, slice := range img.Slices {
		out, err := signSlice(slice, bundleID, entitlements, id, ctx)
		if err != nil {
			return err
		}
		signed[i] = out
	}

	var final []byte
	if img.Fat {
		final = rebuildFat(img, signed)
	} else {
		final = signed[0]
	}

	if err := atomicio.WriteFile(path, final, 0755); err != nil {
		return resignerr.Wrap(resignerr.KindIOFailure, "SignCoordinator", path, err)
	}
	return nil
}

// signSlice reserves signature space, builds the SuperBlob, and — if the
// real SuperBlob turns out bigger than estimated — grows the reservation
// and rebuilds, retrying up to maxSignAttempts times.
func signSlice(slice *machoedit.ArchSlice, bundleID string, entitlements []byte, id *identity.Identity, ctx execContext) ([]byte, error) {
	codeSize := uint64(len(slice.Data))
	if slice.CodeSig != nil {
		codeSize = uint64(slice.CodeSig.DataOff)
	}
	estimate := machoedit.EstimateSignatureSpace(codeSize)

	var reservation *machoedit.Reservation
	var blob []byte

	for attempt := 0; attempt < maxSignAttempts; attempt++ {
		var err error
		reservation, err = slice.ReserveCodeSignatureSpace(estimate)
		if err != nil {
			return nil, err
		}

		codeBytes := slice.Data[:reservation.CodeSize]
		execOff, execSize := slice.ExecSegmentBounds()

		blob, err = superblob.Assemble(superblob.Input{
			BundleID:      bundleID,
			Code:          codeBytes,
			ExecSegBase:   execOff,
			ExecSegLimit:  execSize,
			InfoPlist:     ctx.InfoPlist,
			CodeResources: ctx.CodeResources,
			Entitlements:  entitlements,
			Identity:      id,
		})
		if err != nil {
			return nil, err
		}

		if uint32(len(blob)) <= reservation.SigSpace {
			break
		}
		estimate = roundUp4K(uint32(len(blob)) + 4096)
		if attempt == maxSignAttempts-1 {
			return nil, resignerr.Wrapf(resignerr.KindSignatureSizeDiverged, "SignCoordinator", "",
				"signature (%d bytes) exceeds reserved space (%d bytes) after %d attempts", len(blob), reservation.SigSpace, maxSignAttempts)
		}
	}

	return reservation.FinalizeWithSignature(slice.Data[:reservation.CodeSize], blob), nil
}

func roundUp4K(v uint32) uint32 {
	return (v + 4095) &^ 4095
}

// rebuildFat reassembles a fat (universal) binary from its now-signed arch
// slices, page-aligning each arch's offset the way Apple's lipo does.
func rebuildFat(img *machoedit.Image, signed [][]byte) []byte {
	const alignment = 0x4000
	headerSize := 8 + len(img.Slices)*20

	offsets := make([]uint32, len(signed))
	cur := uint32(headerSize)
	for i, data := range signed {
		if cur%alignment != 0 {
			cur = ((cur / alignment) + 1) * alignment
		}
		offsets[i] = cur
		cur += uint32(len(data))
	}

	out := make([]byte, cur)
	binary.BigEndian.PutUint32(out[0:], machoedit.MagicFat)
	binary.BigEndian.PutUint32(out[4:], uint32(len(img.Slices)))

	for i, slice := range img.Slices {
		base := 8 + i*20
		binary.BigEndian.PutUint32(out[base:], uint32(slice.CPU))
		binary.BigEndian.PutUint32(out[base+4:], uint32(slice.SubCPU))
		binary.BigEndian.PutUint32(out[base+8:], offsets[i])
		binary.BigEndian.PutUint32(out[base+12:], uint32(len(signed[i])))
		binary.BigEndian.PutUint32(out[base+16:], slice.Align)
	}
	for i, data := range signed {
		copy(out[offsets[i]:], data)
	}
	return out
}
