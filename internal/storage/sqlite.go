package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/peteski22/shopbridge/internal/relation"
)

// sqliteMaxVars stays below SQLite's default limit on bound parameters per statement.
const sqliteMaxVars = 500

// migration is one versioned schema change.
type migration struct {
	name    string
	up      string
	version int
}

var migrations = []migration{
	{
		version: 1,
		name:    "relations",
		up: `
		CREATE TABLE IF NOT EXISTS relations (
			kind TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			test_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (kind, source_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_relations_target ON relations(kind, target_id);`,
	},
}

// SQLiteDB is a local SQLite database holding relations of every kind.
type SQLiteDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies pending migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteDB, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Relations returns a repository for one entity kind.
func (s *SQLiteDB) Relations(kind string) (*SQLiteRelationStore, error) {
	if kind == "" {
		return nil, errors.New("kind is required")
	}
	return &SQLiteRelationStore{db: s.db, kind: kind}, nil
}

func (s *SQLiteDB) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}

		s.logger.Info("applied migration", "version", m.version, "name", m.name)
	}

	return nil
}

// SQLiteRelationStore persists relations of one entity kind in a local SQLite database.
type SQLiteRelationStore struct {
	db   *sql.DB
	kind string
}

var _ relation.Repository = (*SQLiteRelationStore)(nil)

// BySourceID returns the relation for a source id, or nil.
func (s *SQLiteRelationStore) BySourceID(ctx context.Context, id string) (*relation.Relation, error) {
	return s.one(ctx, "source_id", id)
}

// BySourceIDs returns the relations stored for the given source ids.
func (s *SQLiteRelationStore) BySourceIDs(ctx context.Context, ids []string) ([]relation.Relation, error) {
	return s.many(ctx, "source_id", ids)
}

// ByTargetID returns the relation for a target id, or nil.
func (s *SQLiteRelationStore) ByTargetID(ctx context.Context, id string) (*relation.Relation, error) {
	return s.one(ctx, "target_id", id)
}

// ByTargetIDs returns the relations stored for the given target ids.
func (s *SQLiteRelationStore) ByTargetIDs(ctx context.Context, ids []string) ([]relation.Relation, error) {
	return s.many(ctx, "target_id", ids)
}

// Create stores r, replacing relations that share its source or target id.
func (s *SQLiteRelationStore) Create(ctx context.Context, r relation.Relation) (bool, error) {
	if r.SourceID == "" {
		return false, errors.New("source ID is required")
	}
	if r.TargetID == "" {
		return false, errors.New("target ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relations WHERE kind = ? AND (source_id = ? OR target_id = ?)`,
		s.kind, r.SourceID, r.TargetID,
	); err != nil {
		return false, fmt.Errorf("removing superseded relations: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO relations (kind, source_id, target_id, test_key) VALUES (?, ?, ?, ?)`,
		s.kind, r.SourceID, r.TargetID, r.TestKey,
	); err != nil {
		return false, fmt.Errorf("inserting relation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing relation: %w", err)
	}

	return true, nil
}

// Destroy removes r only if it is stored exactly as given.
func (s *SQLiteRelationStore) Destroy(ctx context.Context, r relation.Relation) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM relations WHERE kind = ? AND source_id = ? AND target_id = ?`,
		s.kind, r.SourceID, r.TargetID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting relation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counting deleted relations: %w", err)
	}

	return n > 0, nil
}

func (s *SQLiteRelationStore) one(ctx context.Context, column string, id string) (*relation.Relation, error) {
	var r relation.Relation
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, target_id, test_key FROM relations WHERE kind = ? AND `+column+` = ?`,
		s.kind, id,
	).Scan(&r.SourceID, &r.TargetID, &r.TestKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying relation: %w", err)
	}
	return &r, nil
}

func (s *SQLiteRelationStore) many(ctx context.Context, column string, ids []string) ([]relation.Relation, error) {
	ids = unique(ids)

	var found []relation.Relation
	for start := 0; start < len(ids); start += sqliteMaxVars {
		end := min(start+sqliteMaxVars, len(ids))
		part := ids[start:end]

		args := make([]any, 0, len(part)+1)
		args = append(args, s.kind)
		for _, id := range part {
			args = append(args, id)
		}

		query := `SELECT source_id, target_id, test_key FROM relations WHERE kind = ? AND ` +
			column + ` IN (?` + strings.Repeat(",?", len(part)-1) + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying relations: %w", err)
		}

		for rows.Next() {
			var r relation.Relation
			if err := rows.Scan(&r.SourceID, &r.TargetID, &r.TestKey); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scanning relation: %w", err)
			}
			found = append(found, r)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("reading relations: %w", err)
		}
	}

	return found, nil
}
