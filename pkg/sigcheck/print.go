package sigcheck

import (
	"encoding/hex"
	"fmt"
	"io"
)

var specialSlotNames = map[int]string{
	-1: "Info.plist",
	-2: "Requirements",
	-3: "CodeResources",
	-4: "Application",
	-5: "Entitlements",
	-7: "EntitlementsDER",
}

// Print writes a human-readable summary of sig to w.
func Print(sig *Signature, w io.Writer) {
	fmt.Fprintf(w, "\n=== %s ===\n", sig.ExecutablePath)

	var identifier, teamID string
	for _, cd := range sig.CodeDirs {
		if cd.Identifier != "" {
			identifier = cd.Identifier
		}
		if cd.TeamID != "" {
			teamID = cd.TeamID
		}
	}
	if identifier != "" {
		fmt.Fprintf(w, "Identifier: %s\n", identifier)
	}
	if teamID != "" {
		fmt.Fprintf(w, "Team ID:    %s\n", teamID)
	}

	fmt.Fprintf(w, "\nSuperBlob: %d blobs, %d bytes\n", sig.BlobCount, sig.SuperBlobSize)
	for _, cd := range sig.CodeDirs {
		printCodeDirectory(w, cd)
	}
	if sig.CMS.SignerCN != "" {
		fmt.Fprintf(w, "CMS signer: %s", sig.CMS.SignerCN)
		if sig.CMS.SignerTeamID != "" {
			fmt.Fprintf(w, " (team %s)", sig.CMS.SignerTeamID)
		}
		fmt.Fprintln(w)
	}
}

func printCodeDirectory(w io.Writer, cd CodeDirectory) {
	hashName := "unknown"
	switch cd.HashType {
	case hashTypeSHA1:
		hashName = "SHA-1"
	case hashTypeSHA256:
		hashName = "SHA-256"
	}
	fmt.Fprintf(w, "\nCodeDirectory (slot 0x%x, %s):\n", cd.Slot, hashName)
	fmt.Fprintf(w, "  version:     0x%x\n", cd.Version)
	fmt.Fprintf(w, "  page size:   %d\n", cd.PageSize)
	fmt.Fprintf(w, "  code limit:  %d\n", cd.CodeLimit)
	fmt.Fprintf(w, "  code slots:  %d\n", cd.NCodeSlots)
	if cd.Version >= 0x20400 {
		fmt.Fprintf(w, "  exec seg:    base=0x%x limit=0x%x flags=0x%x\n", cd.ExecSegBase, cd.ExecSegLimit, cd.ExecSegFlags)
	}
	fmt.Fprintf(w, "  cdhash:      %s\n", hex.EncodeToString(cd.CDHash()))

	for slot := -int(cd.NSpecialSlots); slot <= -1; slot++ {
		hash, ok := cd.SpecialHashes[slot]
		if !ok {
			continue
		}
		name := specialSlotNames[slot]
		if name == "" {
			name = fmt.Sprintf("slot %d", slot)
		}
		fmt.Fprintf(w, "  %-16s %s\n", name+":", hex.EncodeToString(hash))
	}
}
