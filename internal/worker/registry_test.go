package worker

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// wantedOutputsGoal records every AddWantedOutputs call, exercising the
// optional dedup-hint capability.
type wantedOutputsGoal struct {
	leafGoal
	gotOutputs [][]string
}

func (g *wantedOutputsGoal) AddWantedOutputs(outputs []string) {
	g.gotOutputs = append(g.gotOutputs, outputs)
}

func TestMakeDerivationGoalDedupsAndExtendsOutputs(t *testing.T) {
	w := New(context.Background(), newFakeStore(), Settings{}, testClock(), discardLogger())

	g := &wantedOutputsGoal{}
	g.leafGoal.Base = NewBase(g, Key{Kind: KindDerivation, ID: "drv"}, "drv")
	g.leafGoal.code = ExitSuccess

	calls := 0
	factory := func() Goal {
		calls++
		return g
	}

	got1 := w.MakeDerivationGoal("drv", []string{"out"}, factory)
	got2 := w.MakeDerivationGoal("drv", []string{"dev"}, factory)

	if got1 != got2 {
		t.Fatal("MakeDerivationGoal returned distinct goals for the same key")
	}
	if calls != 1 {
		t.Fatalf("factory invoked %d times, want 1", calls)
	}
	want := [][]string{{"dev"}}
	if diff := cmp.Diff(want, g.gotOutputs); diff != "" {
		t.Fatalf("AddWantedOutputs calls (-want +got):\n%s", diff)
	}
}

func TestMakeSubstitutionGoalDedups(t *testing.T) {
	w := New(context.Background(), newFakeStore(), Settings{}, testClock(), discardLogger())

	calls := 0
	factory := func() Goal {
		calls++
		return newLeafGoal(Key{Kind: KindSubstitution, ID: "/store/p"}, "/store/p", ExitSuccess)
	}

	got1 := w.MakeSubstitutionGoal("/store/p", factory)
	got2 := w.MakeSubstitutionGoal("/store/p", factory)
	if got1 != got2 || calls != 1 {
		t.Fatalf("got1==got2: %v, calls=%d, want true,1", got1 == got2, calls)
	}
}

// removeGoal must prune a finished goal from every wait queue it could
// be sitting in, not just the registry map.
func TestRemoveGoalPrunesAllQueues(t *testing.T) {
	w := New(context.Background(), newFakeStore(), Settings{}, testClock(), discardLogger())
	g := newLeafGoal(Key{Kind: KindDerivation, ID: "g"}, "g", ExitSuccess)

	w.awake[g] = struct{}{}
	w.wantingToBuild[g] = struct{}{}
	w.waitingForAnyGoal[g] = struct{}{}
	w.waitingForAWhile[g] = struct{}{}
	w.derivationGoals["g"] = g

	w.removeGoal(g)

	for name, set := range map[string]map[Goal]struct{}{
		"awake":             w.awake,
		"wantingToBuild":    w.wantingToBuild,
		"waitingForAnyGoal": w.waitingForAnyGoal,
		"waitingForAWhile":  w.waitingForAWhile,
	} {
		if _, ok := set[g]; ok {
			t.Errorf("goal still present in %s after removeGoal", name)
		}
	}
	if _, ok := w.derivationGoals["g"]; ok {
		t.Error("goal still present in derivationGoals after removeGoal")
	}
}
