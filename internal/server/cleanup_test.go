package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBackup records calls and can be told to fail.
type fakeBackup struct {
	mu      sync.Mutex
	stored  map[string]string // backupID -> localPath
	deleted []string
	failOps bool
	seq     int
}

func newFakeBackup() *fakeBackup {
	return &fakeBackup{stored: make(map[string]string)}
}

func (f *fakeBackup) Available() bool { return true }

func (f *fakeBackup) Store(_ context.Context, localPath, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOps {
		return "", errors.New("remote store down")
	}
	f.seq++
	id := fmt.Sprintf("mirror/fake-%04d", f.seq)
	f.stored[id] = localPath
	return id, nil
}

func (f *fakeBackup) Delete(_ context.Context, backupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOps {
		return errors.New("remote store down")
	}
	f.deleted = append(f.deleted, backupID)
	delete(f.stored, backupID)
	return nil
}

func (f *fakeBackup) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func newTestReclaimer(t *testing.T, backup remoteBackup, requireBackup bool) (*reclaimer, *catalog, *objectStore) {
	t.Helper()
	c := newTestCatalog(t)
	store := newTestStore(t)
	r := newReclaimer(c, store, backup, NewMetrics(), time.Hour, 24*time.Hour, requireBackup)
	r.retryBackoff = []time.Duration{time.Millisecond, time.Millisecond}
	return r, c, store
}

func putExpired(t *testing.T, c *catalog, store *objectStore, id string, age time.Duration) StoredObject {
	t.Helper()
	name, size, err := store.Put(strings.NewReader("expired content"), ".txt")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	obj := StoredObject{
		ID:           id,
		OriginalName: id + ".txt",
		StoredName:   name,
		ContentType:  "text/plain",
		SizeBytes:    size,
		CreatedAt:    time.Now().UTC().Add(-age),
	}
	insertTestObject(t, c, obj)
	return obj
}

func TestReclaimer_RemovesExpired(t *testing.T) {
	r, c, store := newTestReclaimer(t, noBackup{}, false)
	ctx := context.Background()

	old := putExpired(t, c, store, "old", 48*time.Hour)
	fresh := putExpired(t, c, store, "fresh", time.Hour)

	if err := r.runOnce(ctx); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	if _, err := c.Get(ctx, "old"); !errors.Is(err, errNotFound) {
		t.Error("expired row should be gone")
	}
	if _, err := store.Resolve(old.StoredName); !errors.Is(err, errNotFound) {
		t.Error("expired file should be gone")
	}
	if _, err := c.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh row should survive: %v", err)
	}
	if _, err := store.Resolve(fresh.StoredName); err != nil {
		t.Errorf("fresh file should survive: %v", err)
	}
}

func TestReclaimer_SkipsPermanent(t *testing.T) {
	r, c, store := newTestReclaimer(t, noBackup{}, false)
	ctx := context.Background()

	obj := putExpired(t, c, store, "keep", 48*time.Hour)
	_, err := c.db.ExecContext(ctx, c.q(`UPDATE files SET permanent = ? WHERE id = ?`), true, "keep")
	if err != nil {
		t.Fatalf("mark permanent: %v", err)
	}

	if err := r.runOnce(ctx); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	if _, err := c.Get(ctx, "keep"); err != nil {
		t.Errorf("permanent row should survive: %v", err)
	}
	if _, err := store.Resolve(obj.StoredName); err != nil {
		t.Errorf("permanent file should survive: %v", err)
	}
}

func TestReclaimer_DeletesRemoteCopy(t *testing.T) {
	backup := newFakeBackup()
	r, c, store := newTestReclaimer(t, backup, false)
	ctx := context.Background()

	putExpired(t, c, store, "mirrored", 48*time.Hour)
	if err := c.MarkBackedUp(ctx, "mirrored", "mirror/abc", time.Now().UTC()); err != nil {
		t.Fatalf("MarkBackedUp: %v", err)
	}

	if err := r.runOnce(ctx); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	ids := backup.deletedIDs()
	if len(ids) != 1 || ids[0] != "mirror/abc" {
		t.Errorf("remote deletions = %v, want [mirror/abc]", ids)
	}
}

func TestReclaimer_RemoteDeleteFailureStillReclaims(t *testing.T) {
	backup := newFakeBackup()
	backup.failOps = true
	r, c, store := newTestReclaimer(t, backup, false)
	ctx := context.Background()

	obj := putExpired(t, c, store, "orphan", 48*time.Hour)
	if err := c.MarkBackedUp(ctx, "orphan", "mirror/gone", time.Now().UTC()); err != nil {
		t.Fatalf("MarkBackedUp: %v", err)
	}
	// MarkBackedUp only sets backup fields; re-check the file still exists.
	if _, err := store.Resolve(obj.StoredName); err != nil {
		t.Fatalf("precondition: %v", err)
	}

	if err := r.runOnce(ctx); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	// A failed remote delete must not block local reclamation.
	if _, err := c.Get(ctx, "orphan"); !errors.Is(err, errNotFound) {
		t.Error("row should be reclaimed despite remote failure")
	}
	if _, err := store.Resolve(obj.StoredName); !errors.Is(err, errNotFound) {
		t.Error("file should be reclaimed despite remote failure")
	}
}

func TestReclaimer_RequireBackupHoldsUnmirrored(t *testing.T) {
	backup := newFakeBackup()
	r, c, store := newTestReclaimer(t, backup, true)
	ctx := context.Background()

	putExpired(t, c, store, "unmirrored", 48*time.Hour)
	putExpired(t, c, store, "mirrored", 48*time.Hour)
	if err := c.MarkBackedUp(ctx, "mirrored", "mirror/ok", time.Now().UTC()); err != nil {
		t.Fatalf("MarkBackedUp: %v", err)
	}

	if err := r.runOnce(ctx); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	if _, err := c.Get(ctx, "unmirrored"); err != nil {
		t.Errorf("unmirrored row must be held back: %v", err)
	}
	if _, err := c.Get(ctx, "mirrored"); !errors.Is(err, errNotFound) {
		t.Error("mirrored row should be reclaimed")
	}
}

func TestNew_ActiveBackupGatesReclamation(t *testing.T) {
	conn, dialect, dsn := openTestDB(t)
	srv, err := New(testConfig(t, dsn), conn, dialect, newFakeBackup())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	// Expired but never mirrored: the reclaimer must hold it while the
	// remote mirror is active.
	putExpired(t, srv.catalog, srv.store, "unmirrored", 48*time.Hour)

	if err := srv.reclaimer.runOnce(ctx); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if _, err := srv.catalog.Get(ctx, "unmirrored"); err != nil {
		t.Errorf("unmirrored expired row must survive: %v", err)
	}
}

func TestNew_DisabledBackupReclaimsUnmirrored(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	putExpired(t, srv.catalog, srv.store, "expired", 48*time.Hour)

	if err := srv.reclaimer.runOnce(ctx); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if _, err := srv.catalog.Get(ctx, "expired"); !errors.Is(err, errNotFound) {
		t.Error("expired row should be reclaimed when no mirror is configured")
	}
}

func TestReclaimer_RecordsDeletions(t *testing.T) {
	r, c, store := newTestReclaimer(t, noBackup{}, false)

	putExpired(t, c, store, "m1", 48*time.Hour)
	putExpired(t, c, store, "m2", 48*time.Hour)

	if err := r.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	if got := r.metrics.Snapshot().DeletedTotal; got != 2 {
		t.Errorf("deleted counter = %d, want 2", got)
	}
}

func TestIsTransientDBErr(t *testing.T) {
	if isTransientDBErr(nil) {
		t.Error("nil is not transient")
	}
	if isTransientDBErr(context.Canceled) {
		t.Error("cancellation is not transient")
	}
	if isTransientDBErr(errNotFound) {
		t.Error("a miss is not transient")
	}
	if !isTransientDBErr(errors.New("connection refused")) {
		t.Error("connectivity errors are transient")
	}
}
