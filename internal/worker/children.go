package worker

import "time"

// child is a running child process record. Streams are readable
// stream descriptors (the build log pipe, plus any auxiliary
// sandbox-notification pipes); the multiplexer polls their union.
type child struct {
	goal            Goal
	streams         map[int]struct{}
	timeStarted     time.Time
	lastOutput      time.Time
	inBuildSlot     bool
	respectTimeouts bool
}

// ChildStarted registers a freshly spawned child process. If
// inBuildSlot is true the build-slot counter is incremented; the
// caller is responsible for having admitted the goal via
// WaitForBuildSlot first.
func (w *Worker) ChildStarted(goal Goal, streams []int, inBuildSlot, respectTimeouts bool) {
	now := w.clock.Now()
	set := make(map[int]struct{}, len(streams))
	for _, s := range streams {
		set[s] = struct{}{}
	}
	w.children = append(w.children, &child{
		goal:            goal,
		streams:         set,
		timeStarted:     now,
		lastOutput:      now,
		inBuildSlot:     inBuildSlot,
		respectTimeouts: respectTimeouts,
	})
	if inBuildSlot {
		w.nrLocalBuilds++
	}
}

// ChildTerminated removes goal's child record. If wakeSleepers is
// true, every goal parked in wantingToBuild is moved to awake;
// admission is first-come-first-served among the woken set, not
// priority ordered.
func (w *Worker) ChildTerminated(goal Goal, wakeSleepers bool) {
	idx := -1
	for i, c := range w.children {
		if c.goal == goal {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	c := w.children[idx]
	if c.inBuildSlot {
		if w.nrLocalBuilds <= 0 {
			panic("worker: nrLocalBuilds underflow")
		}
		w.nrLocalBuilds--
	}
	w.children = append(w.children[:idx], w.children[idx+1:]...)

	if wakeSleepers {
		for g := range w.wantingToBuild {
			w.wakeUp(g)
		}
		w.wantingToBuild = make(map[Goal]struct{})
	}
}

// NrLocalBuilds returns the number of children currently holding a
// build slot.
func (w *Worker) NrLocalBuilds() int { return w.nrLocalBuilds }
