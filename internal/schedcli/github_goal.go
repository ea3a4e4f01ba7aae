package schedcli

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/nixbuild/scheduler/internal/worker"
)

// GitHubReleaseSubstitutionGoal substitutes a store path by resolving
// a tagged GitHub release and downloading a named asset from it, via
// oauth2.StaticTokenSource + github.NewClient. Like
// HTTPSubstitutionGoal, the bulk transfer runs in a background
// goroutine that only ever writes to a pipe; the goal drains it
// through the worker's ordinary child-I/O path so no goroutine other
// than the scheduler's own ever touches Worker state.
type GitHubReleaseSubstitutionGoal struct {
	worker.Base

	w      *worker.Worker
	store  *LocalStore
	log    *log.Logger
	client *github.Client

	Owner, Repo, Tag, Asset string
	Path                    string

	phase       int
	pipeR       *os.File
	buf         []byte
	fetch       chan error
	err         error
	plannedSize int64
}

// NewGitHubReleaseSubstitutionGoal builds a goal that fetches
// owner/repo's release tagged tag, asset named asset, into path.
// accessToken may be empty for public repositories subject to
// unauthenticated rate limits.
func NewGitHubReleaseSubstitutionGoal(w *worker.Worker, store *LocalStore, logger *log.Logger, accessToken, owner, repo, tag, asset, path string) *GitHubReleaseSubstitutionGoal {
	httpClient := http.DefaultClient
	if accessToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	g := &GitHubReleaseSubstitutionGoal{
		w: w, store: store, log: logger,
		client: github.NewClient(httpClient),
		Owner:  owner, Repo: repo, Tag: tag, Asset: asset, Path: path,
	}
	g.Base = worker.NewBase(g, worker.Key{Kind: worker.KindSubstitution, ID: path}, path)
	return g
}

func (g *GitHubReleaseSubstitutionGoal) Work(w *worker.Worker) {
	switch g.phase {
	case 0:
		g.phase = 1
		w.WaitForBuildSlot(g)
	case 1:
		g.startFetch(w)
	case 2:
		g.finish(w)
	}
}

// startFetch resolves the release and its asset synchronously (a
// short metadata call, not the transfer itself) so the worker's
// expected-download counters carry the asset's real size for the
// duration of the fetch, then hands the bulk download off to a
// background goroutine, the same way HTTPSubstitutionGoal.startDownload
// defers its GET: Work only ever does non-blocking setup plus one
// short metadata round trip, never the large transfer itself.
func (g *GitHubReleaseSubstitutionGoal) startFetch(w *worker.Worker) {
	assetID, size, err := resolveReleaseAsset(g.client, g.Owner, g.Repo, g.Tag, g.Asset)
	g.plannedSize = size
	w.AddExpectedSubstitution(g.plannedSize, g.plannedSize)
	if err != nil {
		g.err = err
		g.phase = 2
		w.WakeUp(g)
		return
	}

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
		g.fetch <- downloadReleaseAsset(g.client, g.Owner, g.Repo, assetID, wr)
	}()

	w.ChildStarted(g, []int{int(r.Fd())}, true, true)
}

// resolveReleaseAsset looks up owner/repo's release tagged tag and
// finds the asset named asset within it, returning its ID and
// reported size.
func resolveReleaseAsset(client *github.Client, owner, repo, tag, asset string) (assetID int64, size int64, err error) {
	ctx := context.Background()
	release, _, err := client.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
	if err != nil {
		return 0, 0, xerrors.Errorf("resolving release %s/%s@%s: %w", owner, repo, tag, err)
	}

	for _, a := range release.Assets {
		if a.GetName() == asset {
			return a.GetID(), int64(a.GetSize()), nil
		}
	}
	return 0, 0, xerrors.Errorf("release %s/%s@%s has no asset named %q", owner, repo, tag, asset)
}

func downloadReleaseAsset(client *github.Client, owner, repo string, assetID int64, dest io.Writer) error {
	ctx := context.Background()
	rc, _, err := client.Repositories.DownloadReleaseAsset(ctx, owner, repo, assetID)
	if err != nil {
		return xerrors.Errorf("downloading asset %d: %w", assetID, err)
	}
	defer rc.Close()

	if _, err := io.Copy(dest, rc); err != nil {
		return xerrors.Errorf("downloading asset %d: %w", assetID, err)
	}
	return nil
}

func (g *GitHubReleaseSubstitutionGoal) HandleChildOutput(stream int, data []byte) {
	g.buf = append(g.buf, data...)
}

func (g *GitHubReleaseSubstitutionGoal) HandleEOF(stream int) {
	g.pipeR.Close()
	g.err = <-g.fetch
	g.w.ChildTerminated(g, true)
	g.phase = 2
	g.w.WakeUp(g)
}

func (g *GitHubReleaseSubstitutionGoal) TimedOut(err error) {
	g.err = err
	g.w.SetTimedOut()
}

func (g *GitHubReleaseSubstitutionGoal) finish(w *worker.Worker) {
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
