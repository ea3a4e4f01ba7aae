package worker

import (
	"context"
	"testing"
	"time"
)

func TestSecondsAtLeastOne(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int64
	}{
		{-5 * time.Second, 1},
		{0, 1},
		{500 * time.Millisecond, 1},
		{3 * time.Second, 3},
		{90 * time.Second, 90},
	}
	for _, tc := range cases {
		if got := secondsAtLeastOne(tc.d); got != tc.want {
			t.Errorf("secondsAtLeastOne(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

// S5: a child that has gone silent past MaxSilentTime is delivered a
// silent TimeoutError once input-waiting evaluates its deadline. This
// drives waitForInput directly with no registered stream descriptors,
// so the only blocking work unix.Poll does is wait out the single
// second the implementation clamps a just-elapsed deadline to.
func TestWaitForInputFiresSilentTimeout(t *testing.T) {
	base := time.Unix(2000, 0)
	store := newFakeStore()
	w := New(context.Background(), store, Settings{MaxSilentTime: 1}, &fakeClock{seq: []time.Time{base, base.Add(2 * time.Second)}}, discardLogger())

	g2 := &timeoutRecordingGoal{}
	g2.leafGoal.Base = NewBase(g2, Key{Kind: KindDerivation, ID: "g"}, "g")
	w.children = append(w.children, &child{
		goal:            g2,
		streams:         map[int]struct{}{},
		timeStarted:     base.Add(-20 * time.Second),
		lastOutput:      base.Add(-20 * time.Second),
		respectTimeouts: true,
	})

	if err := w.waitForInput(); err != nil {
		t.Fatalf("waitForInput: %v", err)
	}
	if len(g2.timeouts) != 1 {
		t.Fatalf("TimedOut called %d times, want 1", len(g2.timeouts))
	}
	got, _ := g2.timeouts[0].(*TimeoutError)
	if got == nil || !got.Silent {
		t.Fatalf("TimedOut error = %#v, want a silent TimeoutError", g2.timeouts[0])
	}
}

type timeoutRecordingGoal struct {
	leafGoal
	timeouts []error
}

func (g *timeoutRecordingGoal) TimedOut(err error) { g.timeouts = append(g.timeouts, err) }
