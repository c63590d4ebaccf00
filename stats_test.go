package kmsgl

import "testing"

func TestFlipCompletedCountsMissedVblanks(t *testing.T) {
	var s FrameStats
	seqs := []uint32{10, 11, 14, 15, 17}
	want := []uint64{0, 0, 2, 0, 1}

	for i, seq := range seqs {
		if got := s.flipCompleted(FlipEvent{Sequence: seq}); got != want[i] {
			t.Errorf("sequence %d: missed %d, want %d", seq, got, want[i])
		}
	}
	snap := s.Snapshot()
	if snap.Missed != 3 || snap.LastSequence != 17 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
