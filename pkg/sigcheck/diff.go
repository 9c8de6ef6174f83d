package sigcheck

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
)

// Diff is the set of differences between two parsed signatures for the
// same relative path across two bundles (or two versions of one bundle).
type Diff struct {
	RelativePath string

	IdentifierChanged bool
	Identifier1       string
	Identifier2       string

	TeamIDChanged bool
	TeamID1       string
	TeamID2       string

	CDHashChanged bool
	CDHash1       string
	CDHash2       string

	CodeHashCount1 int
	CodeHashCount2 int

	SignerChanged bool
	Signer1       string
	Signer2       string
}

// Compare reports how sig2 differs from sig1. An empty Diff (aside from
// RelativePath) means the two signatures are equivalent in everything this
// package tracks.
func Compare(relPath string, sig1, sig2 *Signature) Diff {
	d := Diff{RelativePath: relPath}

	cd1 := primaryCodeDirectory(sig1)
	cd2 := primaryCodeDirectory(sig2)

	if cd1 != nil && cd2 != nil {
		d.Identifier1, d.Identifier2 = cd1.Identifier, cd2.Identifier
		d.IdentifierChanged = cd1.Identifier != cd2.Identifier

		d.TeamID1, d.TeamID2 = cd1.TeamID, cd2.TeamID
		d.TeamIDChanged = cd1.TeamID != cd2.TeamID

		h1, h2 := cd1.CDHash(), cd2.CDHash()
		d.CDHash1, d.CDHash2 = hex.EncodeToString(h1), hex.EncodeToString(h2)
		d.CDHashChanged = !bytes.Equal(h1, h2)

		d.CodeHashCount1 = len(cd1.CodeHashes)
		d.CodeHashCount2 = len(cd2.CodeHashes)
	}

	d.Signer1, d.Signer2 = sig1.CMS.SignerCN, sig2.CMS.SignerCN
	d.SignerChanged = d.Signer1 != d.Signer2

	return d
}

// Changed reports whether Compare found any difference worth surfacing.
func (d Diff) Changed() bool {
	return d.IdentifierChanged || d.TeamIDChanged || d.CDHashChanged || d.SignerChanged ||
		d.CodeHashCount1 != d.CodeHashCount2
}

// PrintDiff writes a human-readable rendering of diffs to w, skipping
// entries with no changes.
func PrintDiff(diffs []Diff, w io.Writer) {
	any := false
	for _, d := range diffs {
		if !d.Changed() {
			continue
		}
		any = true
		fmt.Fprintf(w, "\n=== %s ===\n", d.RelativePath)
		if d.IdentifierChanged {
			fmt.Fprintf(w, "  identifier: %s -> %s\n", d.Identifier1, d.Identifier2)
		}
		if d.TeamIDChanged {
			fmt.Fprintf(w, "  team id:    %s -> %s\n", d.TeamID1, d.TeamID2)
		}
		if d.CDHashChanged {
			fmt.Fprintf(w, "  cdhash:     %s -> %s\n", d.CDHash1, d.CDHash2)
		}
		if d.CodeHashCount1 != d.CodeHashCount2 {
			fmt.Fprintf(w, "  code slots: %d -> %d\n", d.CodeHashCount1, d.CodeHashCount2)
		}
		if d.SignerChanged {
			fmt.Fprintf(w, "  signer:     %s -> %s\n", d.Signer1, d.Signer2)
		}
	}
	if !any {
		fmt.Fprintln(w, "no differences")
	}
}

func primaryCodeDirectory(sig *Signature) *CodeDirectory {
	for i := range sig.CodeDirs {
		if sig.CodeDirs[i].HashType == hashTypeSHA1 {
			return &sig.CodeDirs[i]
		}
	}
	if len(sig.CodeDirs) > 0 {
		return &sig.CodeDirs[0]
	}
	return nil
}
