package worker

import (
	"fmt"
	"io"
	"log"
	"time"
)

// discardLogger builds a *log.Logger (log.New(io.Discard, ...)) that
// swallows output rather than spamming stdout during tests.
func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeClock replays a fixed sequence of timestamps, advancing by one
// each call and sticking on the last entry once exhausted. Tests use
// it to make deadline arithmetic in waitForInput deterministic instead
// of racing the wall clock.
type fakeClock struct {
	seq []time.Time
	i   int
}

func (c *fakeClock) Now() time.Time {
	t := c.seq[c.i]
	if c.i < len(c.seq)-1 {
		c.i++
	}
	return t
}

// fakeStore is a minimal Store double. Paths present in contents are
// "on disk" with the given bytes; infos holds the recorded NarHash
// per path.
type fakeStore struct {
	minFree  int64
	contents map[string][]byte
	infos    map[string]*PathInfo
	gcCalls  *int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contents: make(map[string][]byte),
		infos:    make(map[string]*PathInfo),
		gcCalls:  new(int),
	}
}

func (s *fakeStore) AutoGC(block bool) { *s.gcCalls++ }
func (s *fakeStore) PrintStorePath(path string) string { return path }
func (s *fakeStore) MinFree() int64 { return s.minFree }

func (s *fakeStore) QueryPathInfo(path string) (*PathInfo, error) {
	info, ok := s.infos[path]
	if !ok {
		return nil, fmt.Errorf("no such path: %s", path)
	}
	return info, nil
}

func (s *fakeStore) PathExists(path string) bool {
	_, ok := s.contents[path]
	return ok
}

func (s *fakeStore) HashPath(algo, path string) (Hash, error) {
	data := s.contents[path]
	var sum [32]byte
	for i, b := range data {
		sum[i%32] ^= b
	}
	return Hash{Algo: algo, Sum: sum}, nil
}

// leafGoal finishes with its configured exit code the first time it
// is stepped.
type leafGoal struct {
	Base
	code ExitCode
}

func newLeafGoal(key Key, name string, code ExitCode) *leafGoal {
	g := &leafGoal{code: code}
	g.Base = NewBase(g, key, name)
	return g
}

func (g *leafGoal) Work(w *Worker) { g.Finish(w, g.code) }

// depGoal parks itself on WaitForAnyGoal until a shared dependency,
// obtained through MakeDerivationGoal, finishes.
type depGoal struct {
	Base
	depID      string
	depFactory func() Goal
	dep        Goal
}

func newDepGoal(key Key, name, depID string, depFactory func() Goal) *depGoal {
	g := &depGoal{depID: depID, depFactory: depFactory}
	g.Base = NewBase(g, key, name)
	return g
}

func (g *depGoal) Work(w *Worker) {
	if g.dep == nil {
		g.dep = w.MakeDerivationGoal(g.depID, nil, g.depFactory)
		g.AddWaitee(g.dep)
	}
	if g.dep.ExitCode() == ExitBusy {
		w.WaitForAnyGoal(g)
		return
	}
	g.Finish(w, ExitSuccess)
}

// slotGoal exercises the WaitForBuildSlot/ChildStarted admission
// sequence across three Work invocations (the third finishes);
// ChildTerminated is left to the test.
type slotGoal struct {
	Base
	phase int
}

func newSlotGoal(key Key, name string) *slotGoal {
	g := &slotGoal{}
	g.Base = NewBase(g, key, name)
	return g
}

func (g *slotGoal) Work(w *Worker) {
	switch g.phase {
	case 0:
		g.phase = 1
		w.WaitForBuildSlot(g)
	case 1:
		g.phase = 2
		w.ChildStarted(g, nil, true, false)
	case 2:
		g.Finish(w, ExitSuccess)
	}
}
