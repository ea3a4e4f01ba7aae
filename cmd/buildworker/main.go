// Command buildworker drives a set of demo derivation/substitution
// goals through the cooperative scheduler in internal/worker, wiring
// up a local store, an optional HTTP or GitHub-release substituter
// (-substitute-url / -github-release), and a live status board
// reporting build progress on a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/nixbuild/scheduler/internal/env"
	"github.com/nixbuild/scheduler/internal/schedcli"
	"github.com/nixbuild/scheduler/internal/signalctx"
	internaltrace "github.com/nixbuild/scheduler/internal/trace"
	"github.com/nixbuild/scheduler/internal/worker"
	"github.com/nixbuild/scheduler/internal/worker/depgraph"
)

var (
	debug          = flag.Bool("debug", false, "enable verbose goal-level tracing")
	storeDir       = flag.String("store", "", "store root directory (default: $BUILDWORKER_ROOT)")
	maxJobs        = flag.Int("max-jobs", 1, "maximum number of concurrent local builds")
	maxSilentTime  = flag.Int("max-silent-time", 0, "kill a build after this many seconds without output (0 disables)")
	buildTimeout   = flag.Int("build-timeout", 0, "kill a build after this many seconds regardless of output (0 disables)")
	pollInterval   = flag.Int("poll-interval", 5, "seconds between WaitForAWhile re-checks")
	keepGoing      = flag.Bool("keep-going", false, "keep building other goals after one fails")
	minFree        = flag.Int64("min-free", 0, "bytes of free store space below which to nudge GC (0 disables)")
	ctracefile     = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
	dryRun         = flag.Bool("dry-run", false, "print the planned build order and exit without building")
	buildArgv      = flag.String("exec", "", "space-separated argv of a command to run as a single derivation goal")
	httpSubstitute = flag.String("substitute-url", "", "HTTP URL to substitute a single path from instead of building")
	githubRelease  = flag.String("github-release", "", "owner/repo@tag/asset to substitute a single path from a GitHub release asset")
	githubToken    = flag.String("github-token", "", "GitHub access token for -github-release (optional for public repos)")
)

func funcmain() error {
	flag.Parse()

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return xerrors.Errorf("creating trace file: %w", err)
		}
		defer f.Close()
		internaltrace.Sink(f)
	}

	dir := *storeDir
	if dir == "" {
		dir = env.StoreRoot
	}
	store, err := schedcli.NewLocalStore(dir, *minFree)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, stop := signalctx.WithSignals(context.Background())
	defer stop()

	settings := worker.Settings{
		MaxBuildJobs:  *maxJobs,
		MaxSilentTime: *maxSilentTime,
		BuildTimeout:  *buildTimeout,
		PollInterval:  *pollInterval,
		KeepGoing:     *keepGoing,
		MinFree:       *minFree,
	}
	w := worker.New(ctx, store, settings, worker.RealClock{}, logger)
	w.Debug = *debug

	var goals []worker.Goal
	switch {
	case *buildArgv != "":
		argv := strings.Fields(*buildArgv)
		if len(argv) == 0 {
			return xerrors.New("-exec requires a non-empty command")
		}
		g := schedcli.NewExecDerivationGoal(w, store, logger, argv[0], "exec-output", argv)
		w.AddTopGoal(g)
		goals = append(goals, g)
	case *httpSubstitute != "":
		g := schedcli.NewHTTPSubstitutionGoal(w, store, logger, "substituted-output", *httpSubstitute)
		w.AddTopGoal(g)
		goals = append(goals, g)
	case *githubRelease != "":
		owner, repo, tag, asset, err := parseGitHubRelease(*githubRelease)
		if err != nil {
			return err
		}
		g := schedcli.NewGitHubReleaseSubstitutionGoal(w, store, logger, *githubToken, owner, repo, tag, asset, "github-release-output")
		w.AddTopGoal(g)
		goals = append(goals, g)
	default:
		return xerrors.New("nothing to do: pass -exec, -substitute-url, or -github-release")
	}

	if *dryRun {
		return printDryRun(goals)
	}

	board := newStatusBoard(logger, goals)
	eg, sampleCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		board.run(sampleCtx)
		return nil
	})
	if *ctracefile != "" {
		eg.Go(func() error {
			if err := internaltrace.CPUEvents(sampleCtx, time.Second); err != nil && sampleCtx.Err() == nil {
				return xerrors.Errorf("CPUEvents: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			if err := internaltrace.MemEvents(sampleCtx, time.Second); err != nil && sampleCtx.Err() == nil {
				return xerrors.Errorf("MemEvents: %w", err)
			}
			return nil
		})
	}

	runErr := w.Run(goals)
	stop()
	eg.Wait()
	w.Close()

	if runErr != nil {
		return xerrors.Errorf("run: %w (exit status 0x%02x)", runErr, w.ExitStatus())
	}
	for _, g := range goals {
		if g.ExitCode() != worker.ExitSuccess {
			return xerrors.Errorf("goal %s finished with %v", g.Name(), g.ExitCode())
		}
	}
	return nil
}

// parseGitHubRelease splits a -github-release value of the form
// "owner/repo@tag/asset" into its four parts.
func parseGitHubRelease(spec string) (owner, repo, tag, asset string, err error) {
	malformed := func() (string, string, string, string, error) {
		return "", "", "", "", xerrors.Errorf("-github-release must look like owner/repo@tag/asset, got %q", spec)
	}

	at := strings.Index(spec, "@")
	if at < 0 {
		return malformed()
	}
	ownerRepo, tagAsset := spec[:at], spec[at+1:]

	slash := strings.Index(ownerRepo, "/")
	if slash < 0 {
		return malformed()
	}
	owner, repo = ownerRepo[:slash], ownerRepo[slash+1:]

	slash = strings.Index(tagAsset, "/")
	if slash < 0 {
		return malformed()
	}
	tag, asset = tagAsset[:slash], tagAsset[slash+1:]

	if owner == "" || repo == "" || tag == "" || asset == "" {
		return malformed()
	}
	return owner, repo, tag, asset, nil
}

// printDryRun builds the dependency graph reachable from goals via
// AddWaitee edges (internal/worker/depgraph.Graph), verifies it is
// acyclic, and prints the leaves-first build order instead of
// stepping the scheduler. Goal implementations that don't record any
// waitees (the demo -exec and -substitute-url goals never do) show up
// as a single-node, edge-free graph; the walk still exercises the same
// code path a composed multi-goal build would.
func printDryRun(goals []worker.Goal) error {
	graph := depgraph.New()
	seen := make(map[string]bool)

	var walk func(g worker.Goal)
	walk = func(g worker.Goal) {
		if seen[g.Name()] {
			return
		}
		seen[g.Name()] = true
		lister, ok := g.(worker.WaiteeLister)
		if !ok {
			graph.AddEdge(g.Name(), g.Name())
			return
		}
		deps := lister.Waitees()
		if len(deps) == 0 {
			graph.AddEdge(g.Name(), g.Name())
		}
		for _, dep := range deps {
			graph.AddEdge(g.Name(), dep.Name())
			walk(dep)
		}
	}
	for _, g := range goals {
		walk(g)
	}

	if err := graph.CheckAcyclic(); err != nil {
		return xerrors.Errorf("dry run: %w", err)
	}
	order, err := graph.Order()
	if err != nil {
		return xerrors.Errorf("dry run: %w", err)
	}

	fmt.Println("planned build order (leaves first):")
	for _, name := range order {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

// statusBoard redraws one line per goal in place, gated on being
// attached to a real terminal via mattn/go-isatty.
type statusBoard struct {
	log   *log.Logger
	goals []worker.Goal

	mu   sync.Mutex
	last time.Time
}

func newStatusBoard(logger *log.Logger, goals []worker.Goal) *statusBoard {
	return &statusBoard{log: logger, goals: goals}
}

func (b *statusBoard) isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (b *statusBoard) run(ctx context.Context) {
	if !b.isTerminal() {
		return
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.redraw()
			return
		case <-ticker.C:
			b.redraw()
		}
	}
}

func (b *statusBoard) redraw() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range b.goals {
		fmt.Printf("%-40s %s\n", g.Name(), g.ExitCode())
	}
	fmt.Printf("\033[%dA", len(b.goals))
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
