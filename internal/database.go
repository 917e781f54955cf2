package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
	platform_id TEXT NOT NULL,
	external_id TEXT NOT NULL,
	pass_index  INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	ttl_ns      INTEGER NOT NULL,
	result      TEXT NOT NULL,
	PRIMARY KEY (platform_id, external_id, pass_index)
);
CREATE TABLE IF NOT EXISTS work_items (
	platform_id   TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	category      TEXT NOT NULL,
	pass_cursor   INTEGER NOT NULL,
	failed_passes TEXT NOT NULL,
	retry_count   INTEGER NOT NULL,
	last_error    TEXT NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (platform_id, external_id)
);`

// SQLiteStore is the durable Store backing resumable runs
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenDatabase opens (creating if needed) the state database at path
// and applies the schema.
func OpenDatabase(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	// One writer; concurrent sessions queue on the connection instead
	// of racing for the file lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StorageError{Path: path, Op: "open", Err: fmt.Errorf("database ping failed: %w", err)}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, &StorageError{Path: path, Op: "migrate", Err: err}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// OpenDatabaseReadOnly opens an existing state database without
// touching it, for inspection commands.
func OpenDatabaseReadOnly(path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StorageError{Path: path, Op: "open", Err: fmt.Errorf("database ping failed: %w", err)}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEntry(ctx context.Context, key CacheKey) (*CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, captured_at, ttl_ns, result FROM cache_entries
		 WHERE platform_id = ? AND external_id = ? AND pass_index = ?`,
		key.PlatformID, key.ExternalID, key.PassIndex)

	var (
		entry      = CacheEntry{Key: key}
		capturedAt int64
		ttl        int64
		result     string
	)
	if err := row.Scan(&entry.Fingerprint, &capturedAt, &ttl, &result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &StorageError{Path: s.path, Op: "read", Err: err}
	}
	if err := json.Unmarshal([]byte(result), &entry.Result); err != nil {
		return nil, false, &StorageError{Path: s.path, Op: "read", Err: fmt.Errorf("failed to parse cached result for %s: %w", key, err)}
	}
	entry.CapturedAt = time.Unix(0, capturedAt).UTC()
	entry.TTL = time.Duration(ttl)
	return &entry, true, nil
}

func (s *SQLiteStore) PutEntry(ctx context.Context, entry *CacheEntry) error {
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal pass result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (platform_id, external_id, pass_index, fingerprint, captured_at, ttl_ns, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (platform_id, external_id, pass_index) DO UPDATE SET
		   fingerprint = excluded.fingerprint,
		   captured_at = excluded.captured_at,
		   ttl_ns = excluded.ttl_ns,
		   result = excluded.result`,
		entry.Key.PlatformID, entry.Key.ExternalID, entry.Key.PassIndex,
		entry.Fingerprint, entry.CapturedAt.UnixNano(), int64(entry.TTL), string(result))
	if err != nil {
		return &StorageError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, key CacheKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE platform_id = ? AND external_id = ? AND pass_index = ?`,
		key.PlatformID, key.ExternalID, key.PassIndex)
	if err != nil {
		return &StorageError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ClearEntries(ctx context.Context, platformID string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if platformID == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE platform_id = ?`, platformID)
	}
	if err != nil {
		return 0, &StorageError{Path: s.path, Op: "write", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CacheStats summarizes cache entries per platform
type CacheStats struct {
	PlatformID string
	Entries    int
	Items      int
	Oldest     time.Time
	Newest     time.Time
}

// Stats returns per-platform cache statistics, sorted by platform.
func (s *SQLiteStore) Stats(ctx context.Context) ([]CacheStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform_id, COUNT(*), COUNT(DISTINCT external_id), MIN(captured_at), MAX(captured_at)
		 FROM cache_entries GROUP BY platform_id ORDER BY platform_id`)
	if err != nil {
		return nil, &StorageError{Path: s.path, Op: "read", Err: err}
	}
	defer rows.Close()

	var stats []CacheStats
	for rows.Next() {
		var (
			st             CacheStats
			oldest, newest int64
		)
		if err := rows.Scan(&st.PlatformID, &st.Entries, &st.Items, &oldest, &newest); err != nil {
			return nil, &StorageError{Path: s.path, Op: "read", Err: err}
		}
		st.Oldest = time.Unix(0, oldest).UTC()
		st.Newest = time.Unix(0, newest).UTC()
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Path: s.path, Op: "read", Err: fmt.Errorf("rows iteration error: %w", err)}
	}
	return stats, nil
}

func (s *SQLiteStore) LoadWorkItem(ctx context.Context, platformID, externalID string) (*WorkItem, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT category, pass_cursor, failed_passes, retry_count, last_error, updated_at
		 FROM work_items WHERE platform_id = ? AND external_id = ?`, platformID, externalID)
	item, err := scanWorkItem(row, platformID, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &StorageError{Path: s.path, Op: "read", Err: err}
	}
	return item, true, nil
}

func (s *SQLiteStore) SaveWorkItem(ctx context.Context, item *WorkItem) error {
	failed, err := json.Marshal(item.FailedPasses)
	if err != nil {
		return fmt.Errorf("failed to marshal failed passes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_items (platform_id, external_id, category, pass_cursor, failed_passes, retry_count, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (platform_id, external_id) DO UPDATE SET
		   category = excluded.category,
		   pass_cursor = excluded.pass_cursor,
		   failed_passes = excluded.failed_passes,
		   retry_count = excluded.retry_count,
		   last_error = excluded.last_error,
		   updated_at = excluded.updated_at`,
		item.PlatformID, item.ExternalID, item.Category, item.PassCursor, string(failed),
		item.RetryCount, item.LastError, item.UpdatedAt.UnixNano())
	if err != nil {
		return &StorageError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListWorkItems(ctx context.Context, platformID string) ([]*WorkItem, error) {
	query := `SELECT platform_id, external_id, category, pass_cursor, failed_passes, retry_count, last_error, updated_at FROM work_items`
	args := []any{}
	if platformID != "" {
		query += ` WHERE platform_id = ?`
		args = append(args, platformID)
	}
	query += ` ORDER BY platform_id, external_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Path: s.path, Op: "read", Err: err}
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		var platform, external string
		var (
			item      WorkItem
			failed    string
			updatedAt int64
		)
		if err := rows.Scan(&platform, &external, &item.Category, &item.PassCursor, &failed,
			&item.RetryCount, &item.LastError, &updatedAt); err != nil {
			return nil, &StorageError{Path: s.path, Op: "read", Err: err}
		}
		item.PlatformID, item.ExternalID = platform, external
		if err := json.Unmarshal([]byte(failed), &item.FailedPasses); err != nil {
			return nil, &StorageError{Path: s.path, Op: "read", Err: err}
		}
		item.UpdatedAt = time.Unix(0, updatedAt).UTC()
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Path: s.path, Op: "read", Err: fmt.Errorf("rows iteration error: %w", err)}
	}
	return items, nil
}

func scanWorkItem(row *sql.Row, platformID, externalID string) (*WorkItem, error) {
	item := WorkItem{PlatformID: platformID, ExternalID: externalID}
	var (
		failed    string
		updatedAt int64
	)
	if err := row.Scan(&item.Category, &item.PassCursor, &failed, &item.RetryCount, &item.LastError, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(failed), &item.FailedPasses); err != nil {
		return nil, fmt.Errorf("failed to parse failed passes: %w", err)
	}
	item.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &item, nil
}
