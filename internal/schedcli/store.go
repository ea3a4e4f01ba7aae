// Package schedcli wires concrete, in-process Store and Goal
// implementations to internal/worker so the scheduler core can be
// driven end to end from cmd/buildworker without pulling os/exec,
// net/http or any transport dependency into internal/worker itself.
package schedcli

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/nixbuild/scheduler/internal/worker"
)

// LocalStore is a minimal content-addressed store rooted at a single
// directory: <root>/<name> holds the path's bytes, <root>/<name>.json
// holds its recorded PathInfo. It exists to give the demo CLI
// something real to drive worker.Store against; it is not a general
// store implementation.
type LocalStore struct {
	Root    string
	MinFreeBytes int64
}

// NewLocalStore creates (if necessary) and returns a LocalStore rooted
// at dir.
func NewLocalStore(dir string, minFree int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("creating store root: %w", err)
	}
	return &LocalStore{Root: dir, MinFreeBytes: minFree}, nil
}

func (s *LocalStore) infoPath(path string) string {
	return filepath.Join(s.Root, filepath.Base(path)+".json")
}

func (s *LocalStore) dataPath(path string) string {
	return filepath.Join(s.Root, filepath.Base(path))
}

func (s *LocalStore) AutoGC(block bool) {
	// Opportunistic GC is out of scope for the demo store; AutoGC is a
	// hint the scheduler is always allowed to ignore.
}

func (s *LocalStore) PrintStorePath(path string) string {
	return s.dataPath(path)
}

func (s *LocalStore) MinFree() int64 { return s.MinFreeBytes }

func (s *LocalStore) PathExists(path string) bool {
	_, err := os.Stat(s.dataPath(path))
	return err == nil
}

func (s *LocalStore) QueryPathInfo(path string) (*worker.PathInfo, error) {
	f, err := os.Open(s.infoPath(path))
	if err != nil {
		return nil, xerrors.Errorf("querying path info for %s: %w", path, err)
	}
	defer f.Close()

	var stored struct {
		Algo    string
		Sum     string
		NarSize int64
	}
	if err := json.NewDecoder(f).Decode(&stored); err != nil {
		return nil, xerrors.Errorf("decoding path info for %s: %w", path, err)
	}
	hash, err := decodeHash(stored.Algo, stored.Sum)
	if err != nil {
		return nil, err
	}
	return &worker.PathInfo{NarHash: hash, NarSize: stored.NarSize}, nil
}

func (s *LocalStore) HashPath(algo, path string) (worker.Hash, error) {
	f, err := os.Open(s.dataPath(path))
	if err != nil {
		return worker.Hash{}, xerrors.Errorf("hashing %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return worker.Hash{}, xerrors.Errorf("hashing %s: %w", path, err)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return worker.Hash{Algo: algo, Sum: sum}, nil
}

// Publish atomically writes data to path's slot in the store, using
// renameio so a reader never observes a partially written file, and
// records its hash as PathInfo — what the original Nix worker calls
// "realising" a derivation's output.
func (s *LocalStore) Publish(path string, data io.Reader) (worker.Hash, int64, error) {
	dataFile, err := renameio.TempFile("", s.dataPath(path))
	if err != nil {
		return worker.Hash{}, 0, xerrors.Errorf("publishing %s: %w", path, err)
	}
	defer dataFile.Cleanup()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(dataFile, h), data)
	if err != nil {
		return worker.Hash{}, 0, xerrors.Errorf("publishing %s: %w", path, err)
	}
	if err := dataFile.CloseAtomicallyReplace(); err != nil {
		return worker.Hash{}, 0, xerrors.Errorf("publishing %s: %w", path, err)
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	hash := worker.Hash{Algo: "sha256", Sum: sum}

	infoFile, err := renameio.TempFile("", s.infoPath(path))
	if err != nil {
		return worker.Hash{}, 0, xerrors.Errorf("publishing path info for %s: %w", path, err)
	}
	defer infoFile.Cleanup()
	enc := json.NewEncoder(infoFile)
	if err := enc.Encode(struct {
		Algo    string
		Sum     string
		NarSize int64
	}{Algo: hash.Algo, Sum: encodeHash(hash.Sum), NarSize: n}); err != nil {
		return worker.Hash{}, 0, xerrors.Errorf("publishing path info for %s: %w", path, err)
	}
	if err := infoFile.CloseAtomicallyReplace(); err != nil {
		return worker.Hash{}, 0, xerrors.Errorf("publishing path info for %s: %w", path, err)
	}

	return hash, n, nil
}

func encodeHash(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}

func decodeHash(algo, sum string) (worker.Hash, error) {
	if algo == "" {
		return worker.Hash{}, nil
	}
	raw, err := hex.DecodeString(sum)
	if err != nil || len(raw) != 32 {
		return worker.Hash{}, xerrors.Errorf("decoding hash %q: %w", sum, err)
	}
	var b [32]byte
	copy(b[:], raw)
	return worker.Hash{Algo: algo, Sum: b}, nil
}
