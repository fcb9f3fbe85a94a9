package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	parent_id TEXT,
	name TEXT NOT NULL,
	kind INTEGER NOT NULL,
	meta JSON,
	creator TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL,
	updated INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_parent_name ON entries(parent_id, name);

CREATE TABLE IF NOT EXISTS blobs (
	item_id TEXT PRIMARY KEY REFERENCES entries(id),
	name TEXT NOT NULL,
	mode INTEGER NOT NULL,
	size INTEGER NOT NULL,
	asset_key TEXT NOT NULL DEFAULT '',
	source_file TEXT NOT NULL DEFAULT '',
	source_path TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_blobs_source_file ON blobs(source_file);
`

// SQLiteStore persists the hierarchy in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (or creates) the store at dbPath.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One writer; readers share the same connection so uncommitted state
	// is never observed half-way.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath, now: time.Now}
	t := s.now().UnixNano()
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO entries (id, parent_id, name, kind, meta, created, updated) VALUES (?, NULL, '', ?, '{}', ?, ?)`,
		RootID, KindFolder, t, t,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create root: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const entryColumns = `id, COALESCE(parent_id, ''), name, kind, meta, creator, created, updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e                Entry
		kind             int
		meta             sql.NullString
		created, updated int64
	)
	if err := r.Scan(&e.ID, &e.ParentID, &e.Name, &kind, &meta, &e.Creator, &created, &updated); err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	e.Created = time.Unix(0, created)
	e.Updated = time.Unix(0, updated)
	e.Meta = Metadata{}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func getEntry(ctx context.Context, q queryer, id string) (*Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return e, err
}

func getChild(ctx context.Context, q queryer, parentID, name string) (*Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE parent_id = ? AND name = ?`, parentID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", parentID, name, ErrNotFound)
	}
	return e, err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	return getEntry(ctx, s.db, id)
}

func (s *SQLiteStore) Child(ctx context.Context, parentID, name string) (*Entry, error) {
	return getChild(ctx, s.db, parentID, name)
}

func (s *SQLiteStore) Children(ctx context.Context, id string) ([]*Entry, error) {
	if _, err := getEntry(ctx, s.db, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE parent_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ensure creates or returns the child inside q (normally a transaction).
func (s *SQLiteStore) ensure(ctx context.Context, q queryer, parentID, name, creator string, kind Kind) (*Entry, bool, error) {
	parent, err := getEntry(ctx, q, parentID)
	if err != nil {
		return nil, false, fmt.Errorf("parent %w", err)
	}
	if parent.Kind != KindFolder {
		return nil, false, fmt.Errorf("parent %s is an item: %w", parentID, ErrNotFound)
	}

	existing, err := getChild(ctx, q, parentID, name)
	switch {
	case err == nil:
		if existing.Kind != kind {
			return nil, false, fmt.Errorf("%s %q exists under %s: %w", existing.Kind, name, parentID, ErrConflict)
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	t := s.now()
	e := &Entry{
		ID:       uuid.NewString(),
		ParentID: parentID,
		Name:     name,
		Kind:     kind,
		Meta:     Metadata{},
		Creator:  creator,
		Created:  time.Unix(0, t.UnixNano()),
		Updated:  time.Unix(0, t.UnixNano()),
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO entries (id, parent_id, name, kind, meta, creator, created, updated) VALUES (?, ?, ?, ?, '{}', ?, ?, ?)`,
		e.ID, parentID, name, int(kind), creator, t.UnixNano(), t.UnixNano(),
	); err != nil {
		return nil, false, fmt.Errorf("insert %s %q: %w", kind, name, err)
	}
	return e, true, nil
}

func (s *SQLiteStore) EnsureFolder(ctx context.Context, parentID, name, creator string) (*Entry, bool, error) {
	var (
		e       *Entry
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, created, err = s.ensure(ctx, tx, parentID, name, creator, KindFolder)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return e, created, nil
}

// mergeMeta must run inside a transaction.
func (s *SQLiteStore) mergeMeta(ctx context.Context, q queryer, e *Entry, meta Metadata) error {
	e.Meta = Merge(e.Meta, meta)
	raw, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("encode metadata of %s: %w", e.ID, err)
	}
	t := s.now()
	e.Updated = time.Unix(0, t.UnixNano())
	_, err = q.ExecContext(ctx, `UPDATE entries SET meta = ?, updated = ? WHERE id = ?`, string(raw), t.UnixNano(), e.ID)
	return err
}

func (s *SQLiteStore) SaveMeta(ctx context.Context, id string, meta Metadata) (*Entry, error) {
	var e *Entry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if e, err = getEntry(ctx, tx, id); err != nil {
			return err
		}
		return s.mergeMeta(ctx, tx, e, meta)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) PutItem(ctx context.Context, w ItemWrite) (*Entry, error) {
	var e *Entry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if e, _, err = s.ensure(ctx, tx, w.ParentID, w.Name, w.Creator, KindItem); err != nil {
			return err
		}
		if err := s.mergeMeta(ctx, tx, e, w.Meta); err != nil {
			return err
		}
		b := w.Blob
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO blobs (item_id, name, mode, size, asset_key, source_file, source_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, b.Name, int(b.Mode), b.Size, b.AssetKey, b.SourceFilePath, b.SourceInternalPath,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) Blob(ctx context.Context, itemID string) (*Blob, error) {
	var (
		b    = Blob{ItemID: itemID}
		mode int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, mode, size, asset_key, source_file, source_path FROM blobs WHERE item_id = ?`, itemID,
	).Scan(&b.Name, &mode, &b.Size, &b.AssetKey, &b.SourceFilePath, &b.SourceInternalPath)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.Get(ctx, itemID); gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%s: %w", itemID, ErrNoBlob)
	}
	if err != nil {
		return nil, err
	}
	b.Mode = BlobMode(mode)
	return &b, nil
}

func (s *SQLiteStore) ItemsFromSource(ctx context.Context, sourceFilePath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM blobs WHERE source_file = ? ORDER BY item_id`, sourceFilePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback() // ignore error
		return err
	}
	return tx.Commit()
}

var _ Store = (*SQLiteStore)(nil)
