package worker

import "golang.org/x/xerrors"

// ErrInterrupted is returned by Run when cancellation was observed at
// one of the documented checkpoints (top of the loop, between steps).
var ErrInterrupted = xerrors.New("interrupted")

// TimeoutError is delivered into a goal via Goal.TimedOut; the goal
// decides whether to retry or fail. Silent distinguishes a
// silence-timeout from a wall-clock build timeout, for callers that
// care.
type TimeoutError struct {
	GoalName string
	Seconds  int
	Silent   bool // true: maxSilentTime; false: buildTimeout
}

func (e *TimeoutError) Error() string {
	if e.Silent {
		return xerrors.Errorf("%s timed out after %d seconds of silence", e.GoalName, e.Seconds).Error()
	}
	return xerrors.Errorf("%s timed out after %d seconds", e.GoalName, e.Seconds).Error()
}

// StarvedNoSlotsError is raised when no progress is possible because
// no goal is awake and MaxBuildJobs is zero.
type StarvedNoSlotsError struct {
	RemoteBuildersConfigured bool
}

func (e *StarvedNoSlotsError) Error() string {
	if e.RemoteBuildersConfigured {
		return "unable to start any build; remote machines may not have all required system features"
	}
	return "unable to start any build; either increase max-jobs or configure remote builders"
}

// DeadlockError is returned when the scheduler has no running
// children, no periodic waiters, and nothing awake to step, yet
// MaxBuildJobs admits more local work. Per spec.md §4.1.e this state
// must never occur: every goal is required to leave itself either
// finished, parked on a wait queue, or backed by a running child
// before Work returns. Reaching it means some goal broke that
// contract.
type DeadlockError struct{}

func (e *DeadlockError) Error() string {
	return "scheduler stalled: no running children, no awake goals, and build slots are available"
}

// CorruptedPathError is logged by pathContentsGood and returned to the
// caller that triggered the check.
type CorruptedPathError struct {
	Path string
}

func (e *CorruptedPathError) Error() string {
	return xerrors.Errorf("path %q is corrupted or missing", e.Path).Error()
}
