// Package sqlstore provides a storage backend on a single SQL table, for
// PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite).
//
// Every file and directory is one row keyed by its cleaned path. Ancestor
// directories are always present as rows, so directory listings are plain
// parent_path lookups.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/retry"
	"github.com/fruitsalade/explorer/internal/storage"
)

// Dialect selects the database/sql driver and placeholder style.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS explorer_entries (
		path        TEXT PRIMARY KEY,
		parent_path TEXT NOT NULL,
		is_dir      BOOLEAN NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS explorer_entries_parent_idx ON explorer_entries (parent_path)`,
}

// Config is the JSON form of a SQL backend configuration.
type Config struct {
	DSN string `json:"dsn"`
}

// Store implements storage.Adapter on a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database and creates the schema if needed.
// For SQLite the DSN is a file path; its directory is created.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn is required", dialect)
	}
	switch dialect {
	case Postgres:
	case SQLite:
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unknown sql dialect: %s", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		// one connection serializes writers and keeps ":memory:" a single database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromJSON opens a Store from raw JSON config.
func NewFromJSON(ctx context.Context, dialect Dialect, raw json.RawMessage) (*Store, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s config: %w", dialect, err)
	}
	return Open(ctx, dialect, cfg.DSN)
}

func (s *Store) migrate(ctx context.Context) error {
	if s.dialect == SQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA synchronous=NORMAL;",
			"PRAGMA busy_timeout=5000;",
		} {
			if _, err := s.db.ExecContext(ctx, pragma); err != nil {
				return fmt.Errorf("sqlite pragma: %w", err)
			}
		}
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	logging.Debug("sql storage schema ready", zap.String("dialect", string(s.dialect)))
	return nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB { return s.db }

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) withTx(ctx context.Context, op, path string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, path, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap(op, path, err)
	}
	return nil
}

// wrap marks connection loss and SQLite lock contention as retryable.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf("%s %s: %w", op, path, err)
	if errors.Is(err, driver.ErrBadConn) || strings.Contains(err.Error(), "database is locked") {
		return retry.Retryable(err)
	}
	return err
}

func notExist(op, path string) error {
	return &fs.PathError{Op: op, Path: path, Err: storage.ErrNotExist}
}

// subtree returns the arguments matching every path strictly below dir.
// substr is used instead of LIKE because "_" is a legal name character.
func subtree(dir string) (int, string) {
	prefix := dir + "/"
	return utf8.RuneCountInString(prefix), prefix
}

func (s *Store) entry(ctx context.Context, q querier, p string) (isDir, found bool, err error) {
	if p == "/" {
		return true, true, nil
	}
	err = q.QueryRowContext(ctx, s.rebind(`SELECT is_dir FROM explorer_entries WHERE path = ?`), p).Scan(&isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, wrap("stat", p, err)
	}
	return isDir, true, nil
}

// ensureDirs inserts dir and any missing ancestors.
func (s *Store) ensureDirs(ctx context.Context, q querier, dir string) error {
	for d := dir; d != "/"; d = storage.Parent(d) {
		isDir, found, err := s.entry(ctx, q, d)
		if err != nil {
			return err
		}
		if found {
			if !isDir {
				return &fs.PathError{Op: "mkdir", Path: d, Err: storage.ErrNotDir}
			}
			return nil
		}
		_, err = q.ExecContext(ctx, s.rebind(
			`INSERT INTO explorer_entries (path, parent_path, is_dir, content)
			 VALUES (?, ?, ?, '') ON CONFLICT (path) DO NOTHING`),
			d, storage.Parent(d), true)
		if err != nil {
			return wrap("mkdir", d, err)
		}
	}
	return nil
}

func (s *Store) WriteFile(ctx context.Context, path, content string, opts storage.WriteOptions) error {
	p := storage.Clean(path)
	return s.withTx(ctx, "write", p, func(tx *sql.Tx) error {
		isDir, found, err := s.entry(ctx, tx, p)
		if err != nil {
			return err
		}
		if found && isDir {
			return &fs.PathError{Op: "write", Path: p, Err: storage.ErrIsDir}
		}

		parent := storage.Parent(p)
		parentDir, parentFound, err := s.entry(ctx, tx, parent)
		if err != nil {
			return err
		}
		switch {
		case parentFound && !parentDir:
			return &fs.PathError{Op: "write", Path: p, Err: storage.ErrNotDir}
		case !parentFound && !opts.CreateParents:
			return notExist("write", p)
		case !parentFound:
			if err := s.ensureDirs(ctx, tx, parent); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO explorer_entries (path, parent_path, is_dir, content, updated_at)
			 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT (path) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP`),
			p, parent, false, content)
		return wrap("write", p, err)
	})
}

func (s *Store) ReadToString(ctx context.Context, path string) (string, error) {
	p := storage.Clean(path)
	var isDir bool
	var content string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT is_dir, content FROM explorer_entries WHERE path = ?`), p).Scan(&isDir, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notExist("read", p)
	}
	if err != nil {
		return "", wrap("read", p, err)
	}
	if isDir {
		return "", &fs.PathError{Op: "read", Path: p, Err: storage.ErrIsDir}
	}
	return content, nil
}

func (s *Store) ReadDir(ctx context.Context, path string) ([]string, error) {
	p := storage.Clean(path)
	isDir, found, err := s.entry(ctx, s.db, p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notExist("readdir", p)
	}
	if !isDir {
		return nil, &fs.PathError{Op: "readdir", Path: p, Err: storage.ErrNotDir}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT path FROM explorer_entries WHERE parent_path = ?`), p)
	if err != nil {
		return nil, wrap("readdir", p, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, wrap("readdir", p, err)
		}
		if child == "/" {
			continue
		}
		names = append(names, child[strings.LastIndex(child, "/")+1:])
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("readdir", p, err)
	}
	// database collation may differ from byte order
	sort.Strings(names)
	return names, nil
}

func (s *Store) Stat(ctx context.Context, path string) (storage.Stat, error) {
	p := storage.Clean(path)
	isDir, found, err := s.entry(ctx, s.db, p)
	if err != nil {
		return storage.Stat{}, err
	}
	if !found {
		return storage.Stat{}, notExist("stat", p)
	}
	return storage.Stat{IsFile: !isDir, IsDirectory: isDir}, nil
}

// Rename moves a row, and for directories every row below it, in one
// transaction.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	src, dst := storage.Clean(oldPath), storage.Clean(newPath)
	if src == dst {
		return nil
	}
	if src == "/" || storage.Under(src, dst) {
		return &fs.PathError{Op: "rename", Path: dst, Err: fs.ErrInvalid}
	}

	return s.withTx(ctx, "rename", src, func(tx *sql.Tx) error {
		srcDir, found, err := s.entry(ctx, tx, src)
		if err != nil {
			return err
		}
		if !found {
			return notExist("rename", src)
		}
		parentDir, parentFound, err := s.entry(ctx, tx, storage.Parent(dst))
		if err != nil {
			return err
		}
		if !parentFound || !parentDir {
			return notExist("rename", dst)
		}
		dstDir, dstFound, err := s.entry(ctx, tx, dst)
		if err != nil {
			return err
		}

		if dstFound {
			if srcDir || dstDir {
				return &fs.PathError{Op: "rename", Path: dst, Err: storage.ErrExist}
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM explorer_entries WHERE path = ?`), dst); err != nil {
				return wrap("rename", dst, err)
			}
		}

		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE explorer_entries SET path = ?, parent_path = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE path = ?`),
			dst, storage.Parent(dst), src)
		if err != nil {
			return wrap("rename", src, err)
		}
		if !srcDir {
			return nil
		}

		n, prefix := subtree(src)
		cut := utf8.RuneCountInString(src) + 1
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE explorer_entries SET
			   path = ? || substr(path, ?),
			   parent_path = ? || substr(parent_path, ?),
			   updated_at = CURRENT_TIMESTAMP
			 WHERE substr(path, 1, ?) = ?`),
			dst, cut, dst, cut, n, prefix)
		if err != nil {
			return wrap("rename", src, err)
		}
		moved, _ := res.RowsAffected()
		logging.Debug("moved tree", zap.String("from", src), zap.String("to", dst), zap.Int64("rows", moved))
		return nil
	})
}

func (s *Store) RemoveFile(ctx context.Context, path string) error {
	p := storage.Clean(path)
	return s.withTx(ctx, "remove", p, func(tx *sql.Tx) error {
		isDir, found, err := s.entry(ctx, tx, p)
		if err != nil {
			return err
		}
		if !found {
			return notExist("remove", p)
		}
		if isDir {
			return &fs.PathError{Op: "remove", Path: p, Err: storage.ErrIsDir}
		}
		_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM explorer_entries WHERE path = ?`), p)
		return wrap("remove", p, err)
	})
}

func (s *Store) RemoveDir(ctx context.Context, path string, opts storage.RemoveOptions) error {
	p := storage.Clean(path)
	if p == "/" {
		return &fs.PathError{Op: "rmdir", Path: p, Err: fs.ErrInvalid}
	}
	return s.withTx(ctx, "rmdir", p, func(tx *sql.Tx) error {
		isDir, found, err := s.entry(ctx, tx, p)
		if err != nil {
			return err
		}
		if !found {
			return notExist("rmdir", p)
		}
		if !isDir {
			return &fs.PathError{Op: "rmdir", Path: p, Err: storage.ErrNotDir}
		}

		n, prefix := subtree(p)
		if !opts.Recursive {
			var children int
			err := tx.QueryRowContext(ctx, s.rebind(
				`SELECT COUNT(*) FROM explorer_entries WHERE parent_path = ?`), p).Scan(&children)
			if err != nil {
				return wrap("rmdir", p, err)
			}
			if children > 0 {
				return &fs.PathError{Op: "rmdir", Path: p, Err: storage.ErrNotEmpty}
			}
		}

		res, err := tx.ExecContext(ctx, s.rebind(
			`DELETE FROM explorer_entries WHERE path = ? OR substr(path, 1, ?) = ?`), p, n, prefix)
		if err != nil {
			return wrap("rmdir", p, err)
		}
		rows, _ := res.RowsAffected()
		logging.Debug("deleted tree", zap.String("path", p), zap.Int64("rows", rows))
		return nil
	})
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, found, err := s.entry(ctx, s.db, storage.Clean(path))
	return found, err
}

func (s *Store) CreateDir(ctx context.Context, path string, recursive bool) error {
	p := storage.Clean(path)
	return s.withTx(ctx, "mkdir", p, func(tx *sql.Tx) error {
		isDir, found, err := s.entry(ctx, tx, p)
		if err != nil {
			return err
		}
		if found {
			if isDir && recursive {
				return nil
			}
			return &fs.PathError{Op: "mkdir", Path: p, Err: storage.ErrExist}
		}
		if !recursive {
			parentDir, parentFound, err := s.entry(ctx, tx, storage.Parent(p))
			if err != nil {
				return err
			}
			if !parentFound || !parentDir {
				return notExist("mkdir", p)
			}
		}
		return s.ensureDirs(ctx, tx, p)
	})
}

// Walk returns the subtree below dir with one query.
func (s *Store) Walk(ctx context.Context, dir string) ([]string, error) {
	p := storage.Clean(dir)
	isDir, found, err := s.entry(ctx, s.db, p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notExist("walk", p)
	}
	if !isDir {
		return nil, &fs.PathError{Op: "walk", Path: p, Err: storage.ErrNotDir}
	}

	var rows *sql.Rows
	if p == "/" {
		rows, err = s.db.QueryContext(ctx, `SELECT path, is_dir FROM explorer_entries`)
	} else {
		n, prefix := subtree(p)
		rows, err = s.db.QueryContext(ctx, s.rebind(
			`SELECT path, is_dir FROM explorer_entries WHERE substr(path, 1, ?) = ?`), n, prefix)
	}
	if err != nil {
		return nil, wrap("walk", p, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var child string
		var childDir bool
		if err := rows.Scan(&child, &childDir); err != nil {
			return nil, wrap("walk", p, err)
		}
		if childDir {
			child += "/"
		}
		out = append(out, child)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("walk", p, err)
	}
	sort.Strings(out)
	return out, nil
}

// Type returns the dialect name.
func (s *Store) Type() string { return string(s.dialect) }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

var _ storage.Walker = (*Store)(nil)
