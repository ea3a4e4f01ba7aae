package schedcli

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/exec"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"

	"github.com/nixbuild/scheduler/internal/worker"
)

// ExecDerivationGoal realises one derivation by spawning argv as a
// child process, the way a real builder goal spawns the sandboxed
// builder (the original worker's DerivationGoal::startBuilder), except
// here the "builder" runs unsandboxed via os/exec. It publishes the
// captured combined stdout/stderr as the derivation's single output
// (there is no sandbox to produce a separate output tree in this
// demo), and archives the same log as gzip next to it using
// renameio.TempFile + pgzip.NewWriter for an atomic, parallel-compressed
// write.
type ExecDerivationGoal struct {
	worker.Base

	w     *worker.Worker
	store *LocalStore
	log   *log.Logger

	Argv       []string
	OutputPath string

	phase   int
	cmd     *exec.Cmd
	pipeR   *os.File
	logBuf  bytes.Buffer
	waitErr error
}

// NewExecDerivationGoal constructs a goal bound to w; w must be the
// same Worker that will own it (via AddTopGoal or as a dependency of
// another goal registered through w).
func NewExecDerivationGoal(w *worker.Worker, store *LocalStore, logger *log.Logger, drvPath, outputPath string, argv []string) *ExecDerivationGoal {
	g := &ExecDerivationGoal{w: w, store: store, log: logger, Argv: argv, OutputPath: outputPath}
	g.Base = worker.NewBase(g, worker.Key{Kind: worker.KindDerivation, ID: drvPath}, drvPath)
	return g
}

func (g *ExecDerivationGoal) Work(w *worker.Worker) {
	switch g.phase {
	case 0:
		g.phase = 1
		w.WaitForBuildSlot(g)
	case 1:
		g.startBuilder(w)
	case 2:
		g.finish(w)
	}
}

func (g *ExecDerivationGoal) startBuilder(w *worker.Worker) {
	r, wr, err := os.Pipe()
	if err != nil {
		g.waitErr = xerrors.Errorf("creating log pipe: %w", err)
		g.phase = 2
		w.WakeUp(g)
		return
	}

	g.cmd = exec.CommandContext(context.Background(), g.Argv[0], g.Argv[1:]...)
	g.cmd.Stdout = wr
	g.cmd.Stderr = wr
	if err := g.cmd.Start(); err != nil {
		wr.Close()
		r.Close()
		g.waitErr = xerrors.Errorf("%v: %w", g.Argv, err)
		g.phase = 2
		w.WakeUp(g)
		return
	}
	wr.Close()
	g.pipeR = r
	// phase stays 1; HandleEOF drives the transition to phase 2.

	fd := int(r.Fd())
	w.ChildStarted(g, []int{fd}, true, true)
}

func (g *ExecDerivationGoal) HandleChildOutput(stream int, data []byte) {
	g.logBuf.Write(data)
}

func (g *ExecDerivationGoal) HandleEOF(stream int) {
	g.pipeR.Close()
	g.waitErr = g.cmd.Wait()
	g.w.ChildTerminated(g, true)
	g.phase = 2
	g.w.WakeUp(g)
}

func (g *ExecDerivationGoal) TimedOut(err error) {
	if g.cmd.Process != nil {
		g.cmd.Process.Kill()
	}
	g.waitErr = err
	g.w.SetTimedOut()
}

func (g *ExecDerivationGoal) finish(w *worker.Worker) {
	if g.waitErr != nil {
		g.log.Printf("%s: build failed: %v", g.Name(), g.waitErr)
		w.SetPermanentFailure()
		g.Finish(w, worker.ExitFailed)
		return
	}

	if err := g.archiveLog(); err != nil {
		g.log.Printf("%s: archiving log: %v", g.Name(), err)
	}

	if _, _, err := g.store.Publish(g.OutputPath, bytes.NewReader(g.logBuf.Bytes())); err != nil {
		g.log.Printf("%s: publishing output: %v", g.Name(), err)
		w.SetPermanentFailure()
		g.Finish(w, worker.ExitFailed)
		return
	}
	w.MarkContentsGood(g.OutputPath)
	g.Finish(w, worker.ExitSuccess)
}

func (g *ExecDerivationGoal) archiveLog() error {
	dest := g.store.dataPath(g.OutputPath) + ".log.gz"
	out, err := renameio.TempFile("", dest)
	if err != nil {
		return xerrors.Errorf("creating log archive: %w", err)
	}
	defer out.Cleanup()

	zw := pgzip.NewWriter(out)
	if _, err := zw.Write(g.logBuf.Bytes()); err != nil {
		return xerrors.Errorf("compressing log: %w", err)
	}
	if err := zw.Close(); err != nil {
		return xerrors.Errorf("closing log archive: %w", err)
	}
	return out.CloseAtomicallyReplace()
}
