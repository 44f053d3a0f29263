package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func doAdmin(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.30:7000"
	req.Header.Set("X-Admin-Password", "hunter2")
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestAdmin_RequiresCredential(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/files", nil)
	req.RemoteAddr = "203.0.113.30:7000"
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAdmin_ListFiles(t *testing.T) {
	srv := newTestServer(t)
	insertTestObject(t, srv.catalog, testObject("f1", time.Now().UTC()))

	w := doAdmin(srv, http.MethodGet, "/admin/files")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var files []StoredObject
	if err := json.NewDecoder(w.Body).Decode(&files); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(files) != 1 || files[0].ID != "f1" {
		t.Errorf("files = %+v", files)
	}
}

func TestAdmin_DeleteFile(t *testing.T) {
	srv := newTestServer(t)

	up := doUpload(t, srv, "/upload", "gone.txt", "bye", nil)
	var resp uploadResp
	json.NewDecoder(up.Body).Decode(&resp)

	obj, err := srv.catalog.Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	w := doAdmin(srv, http.MethodDelete, "/admin/files/"+resp.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if _, err := srv.catalog.Get(context.Background(), resp.ID); err != errNotFound {
		t.Errorf("row should be gone, got %v", err)
	}
	if _, err := srv.store.Resolve(obj.StoredName); err != errNotFound {
		t.Errorf("file should be gone, got %v", err)
	}
}

func TestAdmin_DeleteUnknownFile(t *testing.T) {
	srv := newTestServer(t)

	w := doAdmin(srv, http.MethodDelete, "/admin/files/no-such-id")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAdmin_Summary(t *testing.T) {
	srv := newTestServer(t)
	insertTestObject(t, srv.catalog, testObject("s1", time.Now().UTC()))
	insertTestObject(t, srv.catalog, testObject("s2", time.Now().UTC()))

	w := doAdmin(srv, http.MethodGet, "/admin/summary")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var summary map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary["file_count"] != 2 {
		t.Errorf("file_count = %d, want 2", summary["file_count"])
	}
	if summary["total_bytes"] != 2468 {
		t.Errorf("total_bytes = %d, want 2468", summary["total_bytes"])
	}
}

func TestAdmin_Purge(t *testing.T) {
	srv := newTestServer(t)

	// One expired upload, one fresh.
	up := doUpload(t, srv, "/upload", "stale.txt", "old", nil)
	var stale uploadResp
	json.NewDecoder(up.Body).Decode(&stale)
	backdateObject(t, srv, stale.ID, 48*time.Hour)

	doUpload(t, srv, "/upload", "new.txt", "new", nil)

	w := doAdmin(srv, http.MethodPost, "/admin/purge")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["deleted_count"] != 1 {
		t.Errorf("deleted_count = %d, want 1", result["deleted_count"])
	}

	count, _, _ := srv.catalog.Totals(context.Background())
	if count != 1 {
		t.Errorf("remaining rows = %d, want 1", count)
	}
}

func TestAdmin_DeleteAll(t *testing.T) {
	srv := newTestServer(t)
	backup := newFakeBackup()
	srv.backup = backup

	// Fresh, permanent and mirrored objects: delete-all spares none.
	up := doUpload(t, srv, "/upload", "a.txt", "a", nil)
	var a uploadResp
	json.NewDecoder(up.Body).Decode(&a)

	doUpload(t, srv, "/upload-permanent", "b.txt", "b",
		map[string]string{"X-API-Key": "test-api-key"})

	up = doUpload(t, srv, "/upload", "c.txt", "c", nil)
	var c uploadResp
	json.NewDecoder(up.Body).Decode(&c)
	if err := srv.catalog.MarkBackedUp(context.Background(), c.ID, "mirror/c", time.Now().UTC()); err != nil {
		t.Fatalf("MarkBackedUp: %v", err)
	}

	obj, err := srv.catalog.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	w := doAdmin(srv, http.MethodPost, "/admin/delete-all")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result map[string]int
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["deleted_count"] != 3 {
		t.Errorf("deleted_count = %d, want 3", result["deleted_count"])
	}

	count, _, _ := srv.catalog.Totals(context.Background())
	if count != 0 {
		t.Errorf("remaining rows = %d, want 0", count)
	}
	if _, err := srv.store.Resolve(obj.StoredName); err != errNotFound {
		t.Errorf("file should be gone, got %v", err)
	}
	ids := backup.deletedIDs()
	if len(ids) != 1 || ids[0] != "mirror/c" {
		t.Errorf("remote deletions = %v, want [mirror/c]", ids)
	}
	if got := srv.metrics.Snapshot().DeletedTotal; got != 3 {
		t.Errorf("deleted counter = %d, want 3", got)
	}
}

func TestAdmin_DeleteAllEmptyCatalog(t *testing.T) {
	srv := newTestServer(t)

	w := doAdmin(srv, http.MethodPost, "/admin/delete-all")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result map[string]int
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["deleted_count"] != 0 {
		t.Errorf("deleted_count = %d, want 0", result["deleted_count"])
	}
}

// backdateObject shifts a row's creation time into the past.
func backdateObject(t *testing.T, srv *Server, id string, age time.Duration) {
	t.Helper()
	_, err := srv.db.ExecContext(context.Background(),
		srv.catalog.q(`UPDATE files SET created_at = ? WHERE id = ?`),
		time.Now().UTC().Add(-age), id)
	if err != nil {
		t.Fatalf("backdate: %v", err)
	}
}
