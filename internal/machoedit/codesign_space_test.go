package machoedit

import "testing"

func TestEstimateSignatureSpaceGrowsWithCode(t *testing.T) {
	small := EstimateSignatureSpace(1024)
	large := EstimateSignatureSpace(1024 * 1024)
	if large <= small {
		t.Fatalf("EstimateSignatureSpace(1MiB) = %d, want > EstimateSignatureSpace(1KiB) = %d", large, small)
	}
	if small%4096 != 0 {
		t.Fatalf("estimate %d is not 4096-aligned", small)
	}
}

func TestReserveAndFinalizeRoundTrip(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	sigSpace := uint32(8192)
	reservation, err := slice.ReserveCodeSignatureSpace(sigSpace)
	if err != nil {
		t.Fatalf("ReserveCodeSignatureSpace: %v", err)
	}
	if reservation.SigSpace != sigSpace {
		t.Fatalf("SigSpace = %d, want %d", reservation.SigSpace, sigSpace)
	}
	if slice.CodeSig == nil {
		t.Fatal("expected LC_CODE_SIGNATURE to be present after reservation")
	}
	if uint64(slice.CodeSig.DataOff) != reservation.CodeSize {
		t.Fatalf("CodeSig.DataOff = %d, want %d", slice.CodeSig.DataOff, reservation.CodeSize)
	}

	sig := []byte("fake-signature-bytes")
	final := reservation.FinalizeWithSignature(slice.Data[:reservation.CodeSize], sig)
	if uint64(len(final)) != reservation.CodeSize+uint64(reservation.SigSpace) {
		t.Fatalf("final length = %d, want %d", len(final), reservation.CodeSize+uint64(reservation.SigSpace))
	}
	got := final[reservation.CodeSize : reservation.CodeSize+uint64(len(sig))]
	if string(got) != string(sig) {
		t.Fatalf("signature bytes = %q, want %q", got, sig)
	}
}

func TestReserveTwiceGrowsSpace(t *testing.T) {
	img, err := ParseBytes(buildTestSlice(t))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	slice := img.Slices[0]

	if _, err := slice.ReserveCodeSignatureSpace(4096); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	second, err := slice.ReserveCodeSignatureSpace(8192)
	if err != nil {
		t.Fatalf("second reservation: %v", err)
	}
	if second.SigSpace != 8192 {
		t.Fatalf("SigSpace after growing = %d, want 8192", second.SigSpace)
	}
}
