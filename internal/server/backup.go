// backup.go - Best-effort remote mirror of stored objects.
//
// Availability is decided once at startup: either a working S3 client
// exists or every backup call reports unavailable. Remote failures are
// logged and never surface to upload or download handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// remoteBackup stores a local file remotely and returns an opaque
// identifier, later usable for deletion. Identifiers never reveal
// slugs or original filenames.
type remoteBackup interface {
	Available() bool
	Store(ctx context.Context, localPath, contentType string) (string, error)
	Delete(ctx context.Context, backupID string) error
}

var errBackupUnavailable = errors.New("remote backup not configured")

// noBackup is the disabled variant used when backup is off or the
// remote could not be reached at startup.
type noBackup struct{}

func (noBackup) Available() bool { return false }

func (noBackup) Store(context.Context, string, string) (string, error) {
	return "", errBackupUnavailable
}

func (noBackup) Delete(context.Context, string) error {
	return errBackupUnavailable
}

// opGate spaces remote operations a minimum interval apart, process
// wide. Concurrent callers reserve slots in arrival order and sleep
// until their slot comes up.
type opGate struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newOpGate(interval time.Duration) *opGate {
	return &opGate{interval: interval}
}

func (g *opGate) wait(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	slot := g.next
	if slot.Before(now) {
		slot = now
	}
	g.next = slot.Add(g.interval)
	g.mu.Unlock()

	d := time.Until(slot)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// minioBackup mirrors objects into an S3-compatible bucket under
// opaque UUID keys.
type minioBackup struct {
	client  *minio.Client
	bucket  string
	prefix  string
	gate    *opGate
	breaker *circuitBreaker
}

type backupOptions struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	Prefix      string
	MinInterval time.Duration
}

func newMinioBackup(opts backupOptions) (*minioBackup, error) {
	if opts.Endpoint == "" || opts.AccessKey == "" || opts.SecretKey == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("backup configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	// Sanity check: bucket must exist.
	exists, err := client.BucketExists(context.Background(), opts.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("backup bucket does not exist: %s", opts.Bucket)
	}

	if opts.MinInterval <= 0 {
		opts.MinInterval = 2 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "mirror"
	}

	return &minioBackup{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		gate:    newOpGate(opts.MinInterval),
		breaker: newCircuitBreaker(5, time.Minute),
	}, nil
}

func (b *minioBackup) Available() bool { return true }

func (b *minioBackup) Store(ctx context.Context, localPath, contentType string) (string, error) {
	if err := b.gate.wait(ctx); err != nil {
		return "", err
	}
	key := path.Join(b.prefix, uuid.NewString())
	err := b.breaker.Execute(func() error {
		_, putErr := b.client.FPutObject(ctx, b.bucket, key, localPath, minio.PutObjectOptions{
			ContentType: contentType,
		})
		return putErr
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (b *minioBackup) Delete(ctx context.Context, backupID string) error {
	if backupID == "" {
		return nil
	}
	if err := b.gate.wait(ctx); err != nil {
		return err
	}
	return b.breaker.Execute(func() error {
		return b.client.RemoveObject(ctx, b.bucket, backupID, minio.RemoveObjectOptions{})
	})
}

// NewBackupFromConfig builds the remote backup from configuration.
// Availability is decided here, once: a disabled or unreachable remote
// yields a variant that reports unavailable for the process lifetime.
func NewBackupFromConfig(cfg Config) remoteBackup {
	if !cfg.BackupEnabled {
		return noBackup{}
	}
	b, err := newMinioBackup(backupOptions{
		Endpoint:    cfg.S3Endpoint,
		AccessKey:   cfg.S3AccessKey,
		SecretKey:   cfg.S3SecretKey,
		Bucket:      cfg.Bucket,
		Prefix:      cfg.S3Prefix,
		MinInterval: cfg.BackupMinInterval,
	})
	if err != nil {
		Warn("remote backup unavailable", map[string]any{"error": err.Error()})
		return noBackup{}
	}
	Info("remote backup configured", map[string]any{"bucket": cfg.Bucket, "prefix": cfg.S3Prefix})
	return b
}

// startBackupSweeper periodically mirrors catalog rows that have no
// remote copy yet. Runs until ctx is cancelled.
func (s *Server) startBackupSweeper(ctx context.Context, interval time.Duration) {
	if !s.backup.Available() {
		Info("backup sweeper disabled", nil)
		return
	}
	Info("backup sweeper started", map[string]any{"interval": interval.String()})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.runBackupSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runBackupSweep(ctx)
		}
	}
}

// runBackupSweep uploads pending objects one by one. Each failure is
// logged and skipped so one bad object cannot stall the sweep.
func (s *Server) runBackupSweep(ctx context.Context) {
	pending, err := s.catalog.ListPendingBackup(ctx, 50)
	if err != nil {
		Error("backup sweep query failed", nil, err)
		return
	}
	for _, obj := range pending {
		localPath, err := s.store.Resolve(obj.StoredName)
		if err != nil {
			Warn("backup sweep: file missing on disk", map[string]any{"id": obj.ID})
			continue
		}
		backupID, err := s.backup.Store(ctx, localPath, obj.ContentType)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			Warn("backup upload failed", map[string]any{"id": obj.ID, "error": err.Error()})
			continue
		}
		if err := s.catalog.MarkBackedUp(ctx, obj.ID, backupID, time.Now().UTC()); err != nil {
			Error("backup record failed", map[string]any{"id": obj.ID, "backup_id": backupID}, err)
			// Remove the orphan remote copy so the next sweep can retry cleanly.
			if delErr := s.backup.Delete(ctx, backupID); delErr != nil {
				Warn("orphan backup cleanup failed", map[string]any{"backup_id": backupID, "error": delErr.Error()})
			}
			continue
		}
		Info("backup complete", map[string]any{"id": obj.ID, "backup_id": backupID})
	}
}
