package worker

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/nixbuild/scheduler/internal/trace"
)

// seqHolder is the unexported capability Base satisfies, letting the
// worker assign a deterministic tiebreaker without type-switching on
// concrete goal kinds.
type seqHolder interface {
	getSeq() int64
	setSeq(int64)
}

// Activity tracks how much work of each kind a run performed, mirroring
// the three counters the original Nix Worker keeps via its Activity
// loggers (act, actDerivations, actSubstitutions) for progress reporting.
type Activity struct {
	Realised     int
	Built        int
	Substituted  int
}

// Worker is the scheduler core: it drives a set of goals to
// completion, admitting local builds into a bounded set of slots,
// multiplexing child-process I/O, enforcing timeouts, and propagating
// failure.
type Worker struct {
	Log   *log.Logger
	Debug bool

	store    Store
	settings Settings
	clock    Clock
	cancel   context.Context

	Activity Activity

	derivationGoals   map[string]Goal
	substitutionGoals map[string]Goal

	topGoals          map[Goal]struct{}
	awake             map[Goal]struct{}
	wantingToBuild    map[Goal]struct{}
	waitingForAnyGoal map[Goal]struct{}
	waitingForAWhile  map[Goal]struct{}

	children      []*child
	nrLocalBuilds int
	lastWokenUp   time.Time
	hasWokenUp    bool
	nextSeq       int64

	// expectedSubstitutions/expectedDownloadSize/expectedNarSize are
	// running totals of planned substitution work, mirroring the
	// original worker's destructor assertions. SubstitutionGoal
	// implementations are expected to call
	// AddExpectedSubstitution/ResolveExpected* as they plan and then
	// complete copies.
	expectedSubstitutions int
	expectedDownloadSize  int64
	expectedNarSize       int64

	pathContentsGoodCache map[string]bool

	permanentFailure bool
	timedOut         bool
	hashMismatch     bool
	checkMismatch    bool
}

// New constructs a Worker. ctx is consulted at every documented
// cancellation checkpoint; it replaces the original worker's global
// interrupt flag with an injected cancellation token.
func New(ctx context.Context, store Store, settings Settings, clock Clock, logger *log.Logger) *Worker {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		Log:      logger,
		store:    store,
		settings: settings,
		clock:    clock,
		cancel:   ctx,

		derivationGoals:   make(map[string]Goal),
		substitutionGoals: make(map[string]Goal),
		topGoals:          make(map[Goal]struct{}),
		awake:             make(map[Goal]struct{}),
		wantingToBuild:    make(map[Goal]struct{}),
		waitingForAnyGoal: make(map[Goal]struct{}),
		waitingForAWhile:  make(map[Goal]struct{}),

		pathContentsGoodCache: make(map[string]bool),
	}
}

func (w *Worker) assignSeq(g Goal) {
	if sh, ok := g.(seqHolder); ok && sh.getSeq() < 0 {
		sh.setSeq(w.nextSeq)
		w.nextSeq++
	}
}

// compareGoals implements the stable comparator required for the
// step-phase drain order: by name, then by the order the worker first
// observed the goal (its assigned sequence number).
func (w *Worker) compareGoals(a, b Goal) bool {
	if a.Name() != b.Name() {
		return a.Name() < b.Name()
	}
	var as, bs int64
	if sh, ok := a.(seqHolder); ok {
		as = sh.getSeq()
	}
	if sh, ok := b.(seqHolder); ok {
		bs = sh.getSeq()
	}
	return as < bs
}

// Run steps goals until topGoals empties (normal termination) or a
// fatal error occurs. On return the caller reads the failure flags
// and ExitStatus.
func (w *Worker) Run(topGoals []Goal) error {
	w.Log.Printf("worker: starting run with %d top goal(s)", len(topGoals))
	defer func() {
		w.Log.Printf("worker: run finished: realised=%d built=%d substituted=%d",
			w.Activity.Realised, w.Activity.Built, w.Activity.Substituted)
	}()

	for _, g := range topGoals {
		w.assignSeq(g)
		w.topGoals[g] = struct{}{}
		w.wakeUp(g)
	}

	for {
		if err := w.cancel.Err(); err != nil {
			return ErrInterrupted
		}

		w.store.AutoGC(false)

		for len(w.awake) > 0 && len(w.topGoals) > 0 {
			snapshot := make([]Goal, 0, len(w.awake))
			for g := range w.awake {
				snapshot = append(snapshot, g)
			}
			w.awake = make(map[Goal]struct{})
			sort.Slice(snapshot, func(i, j int) bool { return w.compareGoals(snapshot[i], snapshot[j]) })

			for _, g := range snapshot {
				if err := w.cancel.Err(); err != nil {
					return ErrInterrupted
				}
				ev := trace.GoalEvent(g.Name(), 0)
				g.Work(w)
				ev.Done()
				if len(w.topGoals) == 0 {
					break // stuff may have been cancelled
				}
			}
		}

		if len(w.topGoals) == 0 {
			break
		}

		if len(w.children) > 0 || len(w.waitingForAWhile) > 0 {
			if err := w.waitForInput(); err != nil {
				return err
			}
		} else if len(w.awake) == 0 {
			if w.settings.MaxBuildJobs == 0 {
				return &StarvedNoSlotsError{RemoteBuildersConfigured: len(w.settings.RemoteBuilders) > 0}
			}
			// No running children, nothing periodic to poll, and
			// nothing awake, yet slots are available: §4.1.e requires
			// awake to be non-empty here. Not reachable via the demo
			// goal kinds, but a real goal violating the Work contract
			// must not spin this loop forever.
			return &DeadlockError{}
		}
	}

	return nil
}

// WakeUp is the public entry point goal implementations use to
// re-register themselves on the awake set, e.g. after a timer fires
// or external state changes. New goals should instead be created
// through MakeDerivationGoal/MakeSubstitutionGoal, which wake
// themselves.
func (w *Worker) WakeUp(g Goal) {
	w.assignSeq(g)
	w.wakeUp(g)
}

// AddTopGoal registers g as a distinguished, owned goal; Run exits
// once the top-goal set is empty.
func (w *Worker) AddTopGoal(g Goal) {
	w.assignSeq(g)
	w.topGoals[g] = struct{}{}
	w.wakeUp(g)
}

// SetPermanentFailure, SetTimedOut, SetHashMismatch and
// SetCheckMismatch latch the process-wide failure flags. Each is
// monotonic: once set, it is never cleared within a run.
func (w *Worker) SetPermanentFailure() { w.permanentFailure = true }
func (w *Worker) SetTimedOut()         { w.timedOut = true }
func (w *Worker) SetHashMismatch()     { w.hashMismatch = true }
func (w *Worker) SetCheckMismatch()    { w.checkMismatch = true }

// AddExpectedSubstitution and the Resolve* counterparts track planned
// substitution work; Close asserts they balance to zero.
func (w *Worker) AddExpectedSubstitution(downloadSize, narSize int64) {
	w.expectedSubstitutions++
	w.expectedDownloadSize += downloadSize
	w.expectedNarSize += narSize
}

func (w *Worker) ResolveExpectedSubstitution(downloadSize, narSize int64) {
	w.expectedSubstitutions--
	w.expectedDownloadSize -= downloadSize
	w.expectedNarSize -= narSize
}

// Close asserts the end-of-run invariants and releases the top-goal
// set first, so owning goal->goal edges unwind before the worker
// itself disappears.
func (w *Worker) Close() {
	w.topGoals = make(map[Goal]struct{})
	if w.expectedSubstitutions != 0 || w.expectedDownloadSize != 0 || w.expectedNarSize != 0 {
		panic("worker: expected-substitution counters did not balance to zero at Close")
	}
}

// Store returns the store collaborator, for goal implementations that
// need it.
func (w *Worker) Store() Store { return w.store }

// Settings returns the immutable settings snapshot.
func (w *Worker) Settings() Settings { return w.settings }

// Clock returns the injected clock.
func (w *Worker) Clock() Clock { return w.clock }
