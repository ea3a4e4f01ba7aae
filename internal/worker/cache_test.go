package worker

import (
	"context"
	"testing"

	"golang.org/x/xerrors"
)

func TestPathContentsGood(t *testing.T) {
	store := newFakeStore()
	store.contents["/store/good"] = []byte("hello")
	good, err := store.HashPath("sha256", "/store/good")
	if err != nil {
		t.Fatal(err)
	}
	store.infos["/store/good"] = &PathInfo{NarHash: good, NarSize: 5}

	store.contents["/store/bad"] = []byte("tampered")
	store.infos["/store/bad"] = &PathInfo{NarHash: Hash{Algo: "sha256"}, NarSize: 5} // Algo set, so not a null hash; replaced below

	// Force a real mismatch: record a hash that does not match contents.
	store.infos["/store/bad"] = &PathInfo{NarHash: Hash{Algo: "sha256", Sum: [32]byte{1, 2, 3}}, NarSize: 5}

	store.infos["/store/missing"] = &PathInfo{NarHash: good, NarSize: 5}

	w := New(context.Background(), store, Settings{}, testClock(), discardLogger())

	t.Run("matches recorded hash", func(t *testing.T) {
		ok, err := w.PathContentsGood("/store/good")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("PathContentsGood(good) = false, want true")
		}
	})

	t.Run("hash mismatch", func(t *testing.T) {
		ok, err := w.PathContentsGood("/store/bad")
		if ok {
			t.Fatal("PathContentsGood(bad) = true, want false")
		}
		var cerr *CorruptedPathError
		if !xerrors.As(err, &cerr) {
			t.Fatalf("PathContentsGood(bad) error = %v, want *CorruptedPathError", err)
		}
		if cerr.Path != "/store/bad" {
			t.Errorf("CorruptedPathError.Path = %q, want %q", cerr.Path, "/store/bad")
		}
	})

	t.Run("missing from disk", func(t *testing.T) {
		ok, err := w.PathContentsGood("/store/missing")
		if ok {
			t.Fatal("PathContentsGood(missing) = true, want false")
		}
		var cerr *CorruptedPathError
		if !xerrors.As(err, &cerr) {
			t.Fatalf("PathContentsGood(missing) error = %v, want *CorruptedPathError", err)
		}
	})

	t.Run("result is cached", func(t *testing.T) {
		delete(store.infos, "/store/good") // would error if re-queried
		ok, err := w.PathContentsGood("/store/good")
		if err != nil {
			t.Fatalf("unexpected re-query after cache hit: %v", err)
		}
		if !ok {
			t.Fatal("cached PathContentsGood(good) = false, want true")
		}
	})

	t.Run("MarkContentsGood overrides", func(t *testing.T) {
		w.MarkContentsGood("/store/bad")
		ok, err := w.PathContentsGood("/store/bad")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("PathContentsGood after MarkContentsGood = false, want true")
		}
	})
}

func TestPathContentsGoodNullHashTrusted(t *testing.T) {
	store := newFakeStore()
	store.contents["/store/any"] = []byte("whatever is there")
	store.infos["/store/any"] = &PathInfo{NarHash: Hash{}} // null hash: trust disk

	w := New(context.Background(), store, Settings{}, testClock(), discardLogger())
	ok, err := w.PathContentsGood("/store/any")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("PathContentsGood with null recorded hash = false, want true")
	}
}
