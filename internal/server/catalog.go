package server

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// StoredObject is one catalog row describing an uploaded file.
//
// Rows are created atomically with successful byte persistence, mutated
// only to set the backup fields, and otherwise immutable until deleted.
// BackedUp implies a non-empty BackupID.
type StoredObject struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Permanent    bool      `json:"permanent"`
	BackedUp     bool      `json:"backed_up"`
	BackupID     string    `json:"backup_id,omitempty"`
	BackupTime   time.Time `json:"backup_time,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// catalog is the durable record of stored objects, backed by either
// PostgreSQL or SQLite.
type catalog struct {
	db      *sql.DB
	dialect string
}

func newCatalog(db *sql.DB, dialect string) *catalog {
	return &catalog{db: db, dialect: dialect}
}

// q rewrites ? placeholders to $N for the postgres dialect. Queries are
// written once with ? and never repeat a parameter.
func (c *catalog) q(query string) string {
	if c.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const fileColumns = `id, original_name, stored_name, content_type, size_bytes,
	permanent, backed_up, COALESCE(backup_id, ''), backup_time, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredObject(row rowScanner) (StoredObject, error) {
	var (
		o  StoredObject
		bt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.OriginalName, &o.StoredName, &o.ContentType,
		&o.SizeBytes, &o.Permanent, &o.BackedUp, &o.BackupID, &bt, &o.CreatedAt)
	if bt.Valid {
		o.BackupTime = bt.Time
	}
	return o, err
}

func (c *catalog) Insert(ctx context.Context, obj StoredObject) error {
	var backupID any
	if obj.BackupID != "" {
		backupID = obj.BackupID
	}
	var backupTime any
	if !obj.BackupTime.IsZero() {
		backupTime = obj.BackupTime.UTC()
	}
	_, err := c.db.ExecContext(ctx, c.q(`
		INSERT INTO files (id, original_name, stored_name, content_type, size_bytes,
		                   permanent, backed_up, backup_id, backup_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), obj.ID, obj.OriginalName, obj.StoredName, obj.ContentType, obj.SizeBytes,
		obj.Permanent, obj.BackedUp, backupID, backupTime, obj.CreatedAt.UTC())
	return err
}

func (c *catalog) Get(ctx context.Context, id string) (StoredObject, error) {
	row := c.db.QueryRowContext(ctx,
		c.q(`SELECT `+fileColumns+` FROM files WHERE id = ?`), id)
	o, err := scanStoredObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredObject{}, errNotFound
	}
	if err != nil {
		return StoredObject{}, err
	}
	return o, nil
}

// Delete removes a row by id. Deleting an absent row is not an error.
func (c *catalog) Delete(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, c.q(`DELETE FROM files WHERE id = ?`), id)
	return err
}

// ListRecent returns up to limit rows, newest first.
func (c *catalog) ListRecent(ctx context.Context, limit int) ([]StoredObject, error) {
	rows, err := c.db.QueryContext(ctx, c.q(`
		SELECT `+fileColumns+`
		FROM files
		ORDER BY created_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStoredObjects(rows)
}

// ListExpiredEligible returns reclaimable rows: non-permanent, created
// before the cutoff, and already mirrored remotely when requireBackup
// is set.
func (c *catalog) ListExpiredEligible(ctx context.Context, cutoff time.Time, requireBackup bool, limit int) ([]StoredObject, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE permanent = ? AND created_at < ?`
	args := []any{false, cutoff.UTC()}
	if requireBackup {
		query += ` AND backed_up = ?`
		args = append(args, true)
	}
	query += `
		ORDER BY created_at ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, c.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStoredObjects(rows)
}

// ListPendingBackup returns rows that have no remote copy yet, oldest
// first.
func (c *catalog) ListPendingBackup(ctx context.Context, limit int) ([]StoredObject, error) {
	rows, err := c.db.QueryContext(ctx, c.q(`
		SELECT `+fileColumns+`
		FROM files
		WHERE backed_up = ?
		ORDER BY created_at ASC
		LIMIT ?
	`), false, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStoredObjects(rows)
}

// MarkBackedUp records a successful remote mirror for the row.
func (c *catalog) MarkBackedUp(ctx context.Context, id, backupID string, at time.Time) error {
	_, err := c.db.ExecContext(ctx, c.q(`
		UPDATE files
		SET backed_up = ?, backup_id = ?, backup_time = ?
		WHERE id = ?
	`), true, backupID, at.UTC(), id)
	return err
}

// Totals reports the catalog-wide file count and byte sum.
func (c *catalog) Totals(ctx context.Context) (int64, int64, error) {
	var count, bytes int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM files`,
	).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, err
	}
	return count, bytes, nil
}

func collectStoredObjects(rows *sql.Rows) ([]StoredObject, error) {
	var out []StoredObject
	for rows.Next() {
		o, err := scanStoredObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
