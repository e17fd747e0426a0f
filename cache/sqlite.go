package cache

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db  *sql.DB
	cfg config
}

var _ Store = (*sqliteStore)(nil)

// NewSQLite returns a Store backed by SQLite. If dbPath is empty or
// ":memory:", an in-memory database is used. Every Put is a single
// statement, so the persisted table is never partially written and Save has
// nothing to flush. A file that is not a SQLite database fails with
// ErrCacheCorrupt.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (Store, error) {
	cfg := applyOptions(opts)
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite cache")
	}
	if dbPath == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	qctx, cancel := context.WithTimeout(ctx, cfg.queryTimeout)
	defer cancel()

	// Enable WAL mode for better concurrent performance.
	if _, err := db.ExecContext(qctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Mark(errors.Wrapf(err, "sqlite cache %s", dbPath), ErrCacheCorrupt)
	}
	if _, err := db.ExecContext(qctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set sqlite busy timeout")
	}

	if _, err := db.ExecContext(qctx, `CREATE TABLE IF NOT EXISTS checksums (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		block_size INTEGER NOT NULL,
		size INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		digest TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Mark(errors.Wrapf(err, "sqlite cache %s", dbPath), ErrCacheCorrupt)
	}

	return &sqliteStore{db: db, cfg: cfg}, nil
}

func (c *sqliteStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *sqliteStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var w wireRecord
	err := c.db.QueryRowContext(qctx,
		`SELECT path, algorithm, block_size, size, mod_time, digest, created_at FROM checksums WHERE id = ?`, key.ID(),
	).Scan(&w.Path, &w.Algorithm, &w.BlockSize, &w.Size, &w.ModTime, &w.Digest, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec := w.record()
	if rec.Key != key {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (c *sqliteStore) Put(ctx context.Context, record Record) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	w := toWire(record)
	_, err := c.db.ExecContext(qctx,
		`INSERT INTO checksums (id, path, algorithm, block_size, size, mod_time, digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET path = excluded.path, algorithm = excluded.algorithm,
			block_size = excluded.block_size, size = excluded.size, mod_time = excluded.mod_time,
			digest = excluded.digest, created_at = excluded.created_at`,
		record.Key.ID(), w.Path, w.Algorithm, w.BlockSize, w.Size, w.ModTime, w.Digest, w.CreatedAt,
	)
	return err
}

func (c *sqliteStore) EvictStale(ctx context.Context, keep func(Record) bool) (int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, path, algorithm, block_size, size, mod_time, digest, created_at FROM checksums`)
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var id string
		var w wireRecord
		if err := rows.Scan(&id, &w.Path, &w.Algorithm, &w.BlockSize, &w.Size, &w.ModTime, &w.Digest, &w.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep(w.record()) {
			stale = append(stale, id)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM checksums WHERE id = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, id := range stale {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (c *sqliteStore) Len(ctx context.Context) (int, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var n int
	err := c.db.QueryRowContext(qctx, `SELECT COUNT(*) FROM checksums`).Scan(&n)
	return n, err
}

// Save is a no-op; every Put is already durable.
func (c *sqliteStore) Save(_ context.Context) error {
	return nil
}

func (c *sqliteStore) Close(_ context.Context) error {
	if err := c.db.Close(); err != nil {
		return errors.Mark(err, ErrCacheWriteFailure)
	}
	return nil
}
