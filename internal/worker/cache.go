package worker

// PathContentsGood memoizes on-disk integrity checks for a store
// path: it rehashes the path and compares against the recorded NAR
// hash. An all-zero recorded hash is treated as "any" (Hash.IsNull).
// The cache is authoritative for the lifetime of one Worker. A bad
// result is reported both ways: the bool for callers that only branch
// on it, and a *CorruptedPathError for callers (or %w-wrapping
// middleware) that want the path in the error chain.
func (w *Worker) PathContentsGood(path string) (bool, error) {
	if good, ok := w.pathContentsGoodCache[path]; ok {
		if !good {
			return false, &CorruptedPathError{Path: path}
		}
		return true, nil
	}

	w.Log.Printf("checking path %q...", w.store.PrintStorePath(path))

	info, err := w.store.QueryPathInfo(path)
	if err != nil {
		return false, err
	}

	var good bool
	if !w.store.PathExists(path) {
		good = false
	} else {
		current, err := w.store.HashPath(info.NarHash.Algo, path)
		if err != nil {
			return false, err
		}
		good = info.NarHash.IsNull() || info.NarHash.Equal(current)
	}

	w.pathContentsGoodCache[path] = good
	if !good {
		w.Log.Printf("corrupted path: %q is corrupted or missing", w.store.PrintStorePath(path))
		return false, &CorruptedPathError{Path: path}
	}
	return true, nil
}

// MarkContentsGood unconditionally records path as good, e.g. right
// after a goal has just (re)built or substituted it.
func (w *Worker) MarkContentsGood(path string) {
	w.pathContentsGoodCache[path] = true
}
