package worker

// ExitCode is a goal's terminal state. Busy means the goal has not
// finished yet; once set to anything else it never changes again.
type ExitCode int

const (
	ExitBusy ExitCode = iota
	ExitSuccess
	ExitFailed
	ExitNoSubstituters
	ExitIncompleteClosure
)

func (c ExitCode) String() string {
	switch c {
	case ExitBusy:
		return "busy"
	case ExitSuccess:
		return "success"
	case ExitFailed:
		return "failed"
	case ExitNoSubstituters:
		return "noSubstituters"
	case ExitIncompleteClosure:
		return "incompleteClosure"
	default:
		return "unknown"
	}
}

// Kind tags a goal with which registry it belongs to, so the worker
// never has to type-switch on the concrete implementation.
type Kind int

const (
	KindDerivation Kind = iota
	KindSubstitution
)

// Key identifies a goal for deduplication purposes: a derivation goal
// is keyed by its derivation path, a substitution goal by its store
// path.
type Key struct {
	Kind Kind
	ID   string
}

// Goal is the polymorphic work unit the scheduler drives. Concrete
// kinds (realising a derivation, substituting a store path) live
// outside this package; the worker only ever talks to this interface.
type Goal interface {
	// Work advances the goal by exactly one non-blocking step. It
	// must leave the goal either finished (ExitCode != ExitBusy) or
	// parked on exactly one wait queue / child.
	Work(w *Worker)

	Name() string
	Trace(msg string)

	HandleChildOutput(stream int, data []byte)
	HandleEOF(stream int)
	TimedOut(err error)

	ExitCode() ExitCode
	GoalKey() Key

	// AddWaitee registers dep as a prerequisite of this goal: this
	// goal becomes one of dep's waiters, and will receive exactly one
	// WaiteeDone(dep, dep.ExitCode()) call once dep finishes.
	AddWaitee(dep Goal)

	// WaiteeDone is invoked by a prerequisite exactly once, when it
	// reaches a terminal exit code.
	WaiteeDone(dep Goal, result ExitCode)
}

// WantedOutputsExtender is an optional capability a derivation-goal
// implementation may satisfy. When the goal registry dedups a new
// makeDerivationGoal call against a live goal, it extends the wanted
// outputs via this interface if present. The scheduler treats this
// purely as a hint: an implementation that does not satisfy this
// interface simply never observes additions after creation.
type WantedOutputsExtender interface {
	AddWantedOutputs(outputs []string)
}

// WaiteeLister is an optional capability a Goal exposes via its
// embedded Base: the set of prerequisites recorded through AddWaitee,
// for callers (e.g. a -dry-run dependency preview) that want to walk
// the goal graph before any goal has taken a single step.
type WaiteeLister interface {
	Waitees() []Goal
}

// waiterNotifier is the unexported capability Base uses to link
// waitee -> waiter edges without the worker package needing to know
// the concrete goal type.
type waiterNotifier interface {
	addWaiter(g Goal)
}

// Base provides the bookkeeping every concrete Goal implementation
// needs: identity, waiters, and terminal-state tracking. Concrete
// goals embed Base and call NewBase(self, key, name) from their
// constructor, following the "self" idiom used for virtual dispatch
// over an embedded type.
type Base struct {
	self Goal
	name string
	key  Key
	seq  int64

	exitCode ExitCode
	waiters  []Goal
	waitees  []Goal
}

// NewBase initializes a Base. self must be the concrete goal
// embedding this Base (so that waiter notifications dispatch through
// the full interface, not just Base's own no-op methods).
func NewBase(self Goal, key Key, name string) Base {
	return Base{self: self, key: key, name: name, exitCode: ExitBusy, seq: -1}
}

func (b *Base) Name() string       { return b.name }
func (b *Base) GoalKey() Key       { return b.key }
func (b *Base) ExitCode() ExitCode { return b.exitCode }

// seqHolder lets the scheduler assign a deterministic, monotonically
// increasing tiebreaker the first time it observes a goal, without
// needing to know its concrete type.
func (b *Base) getSeq() int64    { return b.seq }
func (b *Base) setSeq(n int64)   { b.seq = n }

func (b *Base) addWaiter(g Goal) { b.waiters = append(b.waiters, g) }

// Waitees returns the prerequisites registered via AddWaitee, in
// registration order. Satisfies WaiteeLister.
func (b *Base) Waitees() []Goal { return b.waitees }

// AddWaitee registers dep as a prerequisite. Base keeps a strong,
// owning reference; dep keeps a reference back so it can notify every
// waiter exactly once.
func (b *Base) AddWaitee(dep Goal) {
	b.waitees = append(b.waitees, dep)
	if wn, ok := dep.(waiterNotifier); ok {
		wn.addWaiter(b.self)
	}
}

// Finish sets the terminal exit code once; later calls are ignored,
// and every waiter is notified exactly once. w may be nil in unit
// tests that only exercise goal bookkeeping; production code always
// passes the owning Worker so it can unregister the goal.
func (b *Base) Finish(w *Worker, code ExitCode) {
	if b.exitCode != ExitBusy {
		return
	}
	b.exitCode = code
	waiters := b.waiters
	b.waiters = nil
	for _, waiter := range waiters {
		waiter.WaiteeDone(b.self, code)
	}
	if w != nil {
		w.removeGoal(b.self)
	}
}

// WaiteeDone is a no-op default; concrete goals that care about a
// dependency finishing override it on the embedding type.
func (b *Base) WaiteeDone(Goal, ExitCode) {}

// Trace is a no-op default (Base has no worker reference). The worker
// calls Goal.Trace with its wake-up and wait-queue messages, and
// writes the wait-queue ones to Worker.Log itself when Worker.Debug
// is set.
func (b *Base) Trace(string) {}

func (b *Base) HandleChildOutput(int, []byte) {}
func (b *Base) HandleEOF(int)                 {}
func (b *Base) TimedOut(error)                {}
