package worker

// The goal registry deduplicates goals by key. Factories are
// idempotent: a second request for a key already live returns the
// existing goal (extending its wanted outputs, for derivation goals)
// instead of constructing a new one. Invariant: at most one live goal
// per key.

// MakeDerivationGoal returns the live goal for drvPath, extending its
// wanted-outputs set if one already exists, or else invokes factory
// to construct one, registers it, and wakes it.
func (w *Worker) MakeDerivationGoal(drvPath string, wantedOutputs []string, factory func() Goal) Goal {
	if g, ok := w.derivationGoals[drvPath]; ok {
		if ext, ok := g.(WantedOutputsExtender); ok {
			ext.AddWantedOutputs(wantedOutputs)
		}
		return g
	}
	g := factory()
	w.derivationGoals[drvPath] = g
	w.assignSeq(g)
	w.wakeUp(g)
	return g
}

// MakeSubstitutionGoal returns the live goal for path, or constructs
// one via factory, registers it, and wakes it.
func (w *Worker) MakeSubstitutionGoal(path string, factory func() Goal) Goal {
	if g, ok := w.substitutionGoals[path]; ok {
		return g
	}
	g := factory()
	w.substitutionGoals[path] = g
	w.assignSeq(g)
	w.wakeUp(g)
	return g
}

// removeGoal retires a finished goal from whichever registry owns its
// kind. If it was a top goal and it failed without
// keep-going, every other top goal is dropped, tearing down anything
// reachable only from them. Every goal parked on waitingForAnyGoal is
// then woken exactly once.
func (w *Worker) removeGoal(goal Goal) {
	key := goal.GoalKey()

	if goal.ExitCode() == ExitSuccess {
		w.Activity.Realised++
		switch key.Kind {
		case KindDerivation:
			w.Activity.Built++
		case KindSubstitution:
			w.Activity.Substituted++
		}
	}

	switch key.Kind {
	case KindDerivation:
		if w.derivationGoals[key.ID] == goal {
			delete(w.derivationGoals, key.ID)
		}
	case KindSubstitution:
		if w.substitutionGoals[key.ID] == goal {
			delete(w.substitutionGoals, key.ID)
		}
	}

	pruneFromSet(w.awake, goal)
	pruneFromSet(w.wantingToBuild, goal)
	pruneFromSet(w.waitingForAnyGoal, goal)
	pruneFromSet(w.waitingForAWhile, goal)

	if _, isTop := w.topGoals[goal]; isTop {
		delete(w.topGoals, goal)
		if goal.ExitCode() == ExitFailed && !w.settings.KeepGoing {
			w.topGoals = make(map[Goal]struct{})
		}
	}

	for g := range w.waitingForAnyGoal {
		w.wakeUp(g)
	}
	w.waitingForAnyGoal = make(map[Goal]struct{})
}
