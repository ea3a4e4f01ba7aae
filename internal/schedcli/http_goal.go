package schedcli

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"os"

	"golang.org/x/xerrors"

	"github.com/nixbuild/scheduler/internal/worker"
)

// HTTPSubstitutionGoal substitutes a store path by downloading it from
// a plain HTTP binary cache, the simplest of the two substituter
// transports (the other being GitHub releases; see
// GitHubReleaseSubstitutionGoal). It stays on the stdlib net/http
// client rather than a third-party one, since a plain GET needs
// nothing more.
//
// The download itself runs in a background goroutine that streams
// into a pipe; HandleChildOutput/HandleEOF drain the read end through
// the worker's multiplexer exactly like a child process's log pipe,
// so Work never blocks the scheduler loop on network I/O.
type HTTPSubstitutionGoal struct {
	worker.Base

	w      *worker.Worker
	store  *LocalStore
	log    *log.Logger
	client *http.Client

	URL  string
	Path string

	phase       int
	pipeR       *os.File
	buf         []byte
	fetch       chan error
	err         error
	plannedSize int64
}

func NewHTTPSubstitutionGoal(w *worker.Worker, store *LocalStore, logger *log.Logger, path, url string) *HTTPSubstitutionGoal {
	g := &HTTPSubstitutionGoal{w: w, store: store, log: logger, client: http.DefaultClient, URL: url, Path: path}
	g.Base = worker.NewBase(g, worker.Key{Kind: worker.KindSubstitution, ID: path}, path)
	return g
}

func (g *HTTPSubstitutionGoal) Work(w *worker.Worker) {
	switch g.phase {
	case 0:
		g.phase = 1
		w.WaitForBuildSlot(g)
	case 1:
		g.startDownload(w)
	case 2:
		g.finish(w)
	}
}

func (g *HTTPSubstitutionGoal) startDownload(w *worker.Worker) {
	// Plan the substitution before committing to the transfer: a HEAD
	// probe (best effort; a server that doesn't report Content-Length
	// just plans as size-unknown) gives the worker's expected-download
	// counters a real figure to carry for the duration of the fetch,
	// mirroring the original worker incrementing expectedDownloadSize
	// from cache metadata before the copy starts.
	g.plannedSize = probeContentLength(g.client, g.URL)
	w.AddExpectedSubstitution(g.plannedSize, g.plannedSize)

	r, wr, err := os.Pipe()
	if err != nil {
		g.err = xerrors.Errorf("creating download pipe: %w", err)
		g.phase = 2
		w.WakeUp(g)
		return
	}
	g.pipeR = r
	g.fetch = make(chan error, 1)

	go func() {
		defer wr.Close()
		g.fetch <- fetchInto(g.client, g.URL, wr)
	}()

	w.ChildStarted(g, []int{int(r.Fd())}, true, true)
}

// probeContentLength issues a HEAD request to learn the transfer size
// ahead of the GET; it returns 0 (size-unknown) on any error or a
// missing/negative Content-Length, rather than fail the goal over a
// best-effort probe.
func probeContentLength(client *http.Client, url string) int64 {
	resp, err := client.Head(url)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.ContentLength < 0 {
		return 0
	}
	return resp.ContentLength
}

func fetchInto(client *http.Client, url string, dest io.Writer) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return xerrors.Errorf("building request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return xerrors.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return xerrors.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}
	if _, err := io.Copy(dest, resp.Body); err != nil {
		return xerrors.Errorf("downloading %s: %w", url, err)
	}
	return nil
}

func (g *HTTPSubstitutionGoal) HandleChildOutput(stream int, data []byte) {
	g.buf = append(g.buf, data...)
}

func (g *HTTPSubstitutionGoal) HandleEOF(stream int) {
	g.pipeR.Close()
	g.err = <-g.fetch
	g.w.ChildTerminated(g, true)
	g.phase = 2
	g.w.WakeUp(g)
}

func (g *HTTPSubstitutionGoal) TimedOut(err error) {
	g.err = err
	g.w.SetTimedOut()
}

func (g *HTTPSubstitutionGoal) finish(w *worker.Worker) {
	w.ResolveExpectedSubstitution(g.plannedSize, g.plannedSize)
	if g.err != nil {
		g.log.Printf("%s: substitution failed: %v", g.Name(), g.err)
		w.SetPermanentFailure()
		g.Finish(w, worker.ExitFailed)
		return
	}
	if _, _, err := g.store.Publish(g.Path, bytes.NewReader(g.buf)); err != nil {
		g.log.Printf("%s: publishing %s: %v", g.Name(), g.Path, err)
		w.SetPermanentFailure()
		g.Finish(w, worker.ExitFailed)
		return
	}
	w.MarkContentsGood(g.Path)
	g.Finish(w, worker.ExitSuccess)
}
