package server

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"slugbin/internal/db"
)

func testConfig(t *testing.T, dsn string) Config {
	t.Helper()
	return Config{
		Addr:            ":0",
		UploadDir:       t.TempDir(),
		MaxUploadBytes:  1 << 20,
		CacheMaxAge:     3600,
		SlugLength:      7,
		RateLimit:       1000,
		RateWindow:      time.Minute,
		RetentionHours:  24,
		CleanupEnabled:  false,
		CleanupInterval: time.Hour,
		AdminPassword:   "hunter2",
		APIKey:          "test-api-key",
		LockStep:        time.Second,
		LockBackend:     "memory",
		DBURL:           dsn,
	}
}

func openTestDB(t *testing.T) (*sql.DB, string, string) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "catalog.db")
	conn, dialect, err := OpenDB(dsn)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.RunMigrations(conn, dialect); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return conn, dialect, dsn
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	conn, dialect, dsn := openTestDB(t)
	srv, err := New(testConfig(t, dsn), conn, dialect, noBackup{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func insertTestObject(t *testing.T, c *catalog, obj StoredObject) {
	t.Helper()
	if obj.ID == "" {
		t.Fatal("test object needs an ID")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Insert(ctx, obj); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}
