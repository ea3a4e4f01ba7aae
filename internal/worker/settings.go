package worker

// Settings is a read-only snapshot consumed by the scheduler. It is
// never mutated by the worker; callers build one from flags/config and
// hand it to New.
type Settings struct {
	// MaxBuildJobs bounds the number of children that may hold a
	// build slot concurrently. Zero means WaitForBuildSlot admits no
	// goal at all: a goal that waits for a slot stays parked, and Run
	// returns StarvedNoSlotsError once nothing else can progress.
	MaxBuildJobs int

	// MaxSilentTime is the inactivity timeout in whole seconds; a
	// value of 0 disables it.
	MaxSilentTime int

	// BuildTimeout is the total wall-clock timeout in whole seconds
	// for a single child; a value of 0 disables it.
	BuildTimeout int

	// PollInterval governs how often goals parked in WaitForAWhile
	// (e.g. polling for a file lock) are re-woken, in whole seconds.
	PollInterval int

	// KeepGoing selects the failure-propagation policy: when false, a
	// failing top goal clears the whole top-goal set (fail-fast);
	// when true, every other top goal still runs to completion.
	KeepGoing bool

	// MinFree is the store's GC low-water mark in bytes. The worker
	// does not read this field: the I/O multiplexer's GC nudge is
	// governed by Store.MinFree.
	MinFree int64

	// RemoteBuilders, when non-empty, names configured remote build
	// machines. It only affects the wording of the starvation error
	// raised when no local slots are available and none are awake.
	RemoteBuilders []string
}
