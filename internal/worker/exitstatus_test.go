package worker

import (
	"context"
	"testing"
)

func TestExitStatus(t *testing.T) {
	cases := []struct {
		name                                                     string
		permanentFailure, timedOut, hashMismatch, checkMismatch bool
		want                                                     uint32
	}{
		{"none", false, false, false, false, 1},
		{"check mismatch only", false, false, false, true, 0x08 | 0x60},
		{"hash mismatch only", false, false, true, false, 0x04 | 0x02 | 0x60},
		{"hash mismatch and check mismatch", false, false, true, true, 0x04 | 0x02 | 0x08 | 0x60},
		{"timed out only", false, true, false, false, 0x04 | 0x01 | 0x60},
		{"timed out and check mismatch", false, true, false, true, 0x04 | 0x01 | 0x08 | 0x60},
		{"timed out and hash mismatch", false, true, true, false, 0x04 | 0x01 | 0x02 | 0x60},
		{"timed out, hash mismatch, and check mismatch", false, true, true, true, 0x04 | 0x01 | 0x02 | 0x08 | 0x60},
		{"permanent only", true, false, false, false, 0x04 | 0x60},
		{"permanent and check mismatch", true, false, false, true, 0x04 | 0x08 | 0x60},
		{"permanent and hash mismatch", true, false, true, false, 0x04 | 0x02 | 0x60},
		{"permanent, hash mismatch, and check mismatch", true, false, true, true, 0x04 | 0x02 | 0x08 | 0x60},
		{"permanent and timed out", true, true, false, false, 0x04 | 0x01 | 0x60},
		{"permanent, timed out, and check mismatch", true, true, false, true, 0x04 | 0x01 | 0x08 | 0x60},
		{"permanent, timed out, and hash mismatch", true, true, true, false, 0x04 | 0x01 | 0x02 | 0x60},
		{"all four", true, true, true, true, 0x04 | 0x01 | 0x02 | 0x08 | 0x60},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := New(context.Background(), newFakeStore(), Settings{}, testClock(), discardLogger())
			w.permanentFailure = tc.permanentFailure
			w.timedOut = tc.timedOut
			w.hashMismatch = tc.hashMismatch
			w.checkMismatch = tc.checkMismatch

			if got := w.ExitStatus(); got != tc.want {
				t.Errorf("ExitStatus() = 0x%02x, want 0x%02x", got, tc.want)
			}
		})
	}
}

func TestSetFailureFlagsAreMonotonic(t *testing.T) {
	w := New(context.Background(), newFakeStore(), Settings{}, testClock(), discardLogger())
	w.SetTimedOut()
	w.SetTimedOut()
	if !w.timedOut {
		t.Fatal("SetTimedOut did not latch")
	}
	if w.ExitStatus() != 0x04|0x01|0x60 {
		t.Fatalf("ExitStatus() = 0x%02x after double SetTimedOut", w.ExitStatus())
	}
}
