package server

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// errNotFound covers both genuinely absent files and paths that resolve
// outside the storage root. Callers must not distinguish the two cases
// in anything they send to a client.
var errNotFound = errors.New("not found")

// errSlugSpaceExhausted is returned when repeated slug collisions exhaust
// the allocation retry budget.
var errSlugSpaceExhausted = errors.New("unable to allocate a unique file slug")

// objectStore persists uploaded bytes under random slug names inside a
// sandboxed root directory.
type objectStore struct {
	root    string // absolute, symlink-resolved
	slugLen int
}

func newObjectStore(root string, slugLen int) (*objectStore, error) {
	if root == "" {
		return nil, errors.New("storage root is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	// Resolve the root once so containment checks compare against the
	// real directory even when the configured path is itself a symlink.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &objectStore{root: resolved, slugLen: clampSlugLength(slugLen)}, nil
}

// Put writes the reader's bytes under a freshly allocated slug name and
// returns the stored name and size. The O_EXCL create closes the race
// where two concurrent uploads draw the same slug: the loser's create
// fails and it retries with a new one.
func (s *objectStore) Put(r io.Reader, ext string) (string, int64, error) {
	for i := 0; i < maxSlugAttempts; i++ {
		id, err := newSlug(s.slugLen)
		if err != nil {
			return "", 0, err
		}
		name := id + ext

		f, err := os.OpenFile(filepath.Join(s.root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", 0, err
		}

		n, err := io.Copy(f, r)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			// Discard the partial write so no orphan bytes survive.
			_ = os.Remove(filepath.Join(s.root, name))
			return "", 0, err
		}
		return name, n, nil
	}
	return "", 0, errSlugSpaceExhausted
}

// Resolve maps a client-supplied name to an absolute path inside the
// root. Containment is checked after canonicalisation (clean + symlink
// eval), never on the raw string.
func (s *objectStore) Resolve(name string) (string, error) {
	if name == "" {
		return "", errNotFound
	}
	abs := filepath.Join(s.root, name)
	if !s.contains(abs) {
		return "", errNotFound
	}
	// A symlink planted inside the root must not reach outside it.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errNotFound
	}
	if !s.contains(real) {
		return "", errNotFound
	}
	info, err := os.Stat(real)
	if err != nil || !info.Mode().IsRegular() {
		return "", errNotFound
	}
	return real, nil
}

// Delete removes a stored file. An already-absent file counts as
// success: the reclaimer and admin deletion may race or be retried.
func (s *objectStore) Delete(name string) error {
	if name == "" {
		return nil
	}
	p := filepath.Join(s.root, name)
	if !s.contains(p) {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *objectStore) contains(p string) bool {
	return p == s.root || strings.HasPrefix(p, s.root+string(os.PathSeparator))
}
