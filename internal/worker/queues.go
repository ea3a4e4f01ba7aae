package worker

// The four wait queues goals park on between steps. In the Nix
// original these hold weak references so a goal released by its last
// owner is silently skipped; Go has no portable weak pointer across
// the versions this module targets, so instead every queue entry is
// proactively pruned the moment removeGoal runs (see removeGoal in
// registry.go). The net observable behaviour is the same: a
// finished/removed goal is never stepped again, whether it was still
// sitting in a queue or not.

// wakeUp moves goal into the awake set so it is stepped on the next
// drain of the step phase.
func (w *Worker) wakeUp(goal Goal) {
	goal.Trace("woken up")
	w.awake[goal] = struct{}{}
}

// WaitForBuildSlot parks goal until a build slot is available,
// waking it immediately if one already is.
func (w *Worker) WaitForBuildSlot(goal Goal) {
	w.trace(goal, "wait for build slot")
	if w.nrLocalBuilds < w.settings.MaxBuildJobs {
		w.wakeUp(goal)
	} else {
		w.wantingToBuild[goal] = struct{}{}
	}
}

// WaitForAnyGoal parks goal until any goal finishes (removeGoal
// wakes the whole set).
func (w *Worker) WaitForAnyGoal(goal Goal) {
	w.trace(goal, "wait for any goal")
	w.waitingForAnyGoal[goal] = struct{}{}
}

// WaitForAWhile parks goal for periodic re-checking, e.g. while
// polling for a file lock.
func (w *Worker) WaitForAWhile(goal Goal) {
	w.trace(goal, "wait for a while")
	w.waitingForAWhile[goal] = struct{}{}
}

func (w *Worker) trace(goal Goal, msg string) {
	goal.Trace(msg)
	if w.Debug {
		w.Log.Printf("%s: %s", goal.Name(), msg)
	}
}

func pruneFromSet(set map[Goal]struct{}, goal Goal) {
	delete(set, goal)
}
