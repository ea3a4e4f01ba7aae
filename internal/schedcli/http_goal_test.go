package schedcli

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/nixbuild/scheduler/internal/worker"
)

func TestHTTPSubstitutionGoalEndToEnd(t *testing.T) {
	const payload = "substituted binary contents"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, payload)
	}))
	defer srv.Close()

	store, err := NewLocalStore(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}

	logger := log.New(io.Discard, "", 0)
	w := worker.New(context.Background(), store, worker.Settings{MaxBuildJobs: 1}, worker.RealClock{}, logger)

	goal := NewHTTPSubstitutionGoal(w, store, logger, "asset", srv.URL)

	if err := w.Run([]worker.Goal{goal}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if goal.ExitCode() != worker.ExitSuccess {
		t.Fatalf("ExitCode() = %v, want ExitSuccess (err=%v)", goal.ExitCode(), goal.err)
	}

	data, err := io.ReadAll(mustOpen(t, store, "asset"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != payload {
		t.Fatalf("published contents = %q, want %q", data, payload)
	}
}

func mustOpen(t *testing.T, store *LocalStore, path string) io.Reader {
	t.Helper()
	f, err := os.Open(store.dataPath(path))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}
