package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/shared"
)

const writeAttempts = 3

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	patchMu sync.Mutex // serializes read-merge-write of documents
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		spec_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_updated ON projects(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetProject retrieves a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	return getProject(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getProject(ctx context.Context, q queryer, id string) (*Project, error) {
	query := `
		SELECT project_id, name, spec_json, created_at, updated_at
		FROM projects WHERE project_id = ?`

	var p Project
	var raw string
	var createdAt, updatedAt int64
	err := q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &raw, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}
	p.Raw = []byte(raw)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// CreateProject stores a project with a fresh empty document.
func (s *SQLiteStore) CreateProject(ctx context.Context, id, name string) (*Project, error) {
	raw, err := json.Marshal(domain.NewDocument())
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	now := s.now()
	query := `
	INSERT INTO projects (project_id, name, spec_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, "create_project", writeAttempts, func() error {
		_, err := s.db.ExecContext(ctx, query, id, name, string(raw), now.Unix(), now.Unix())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return &Project{ID: id, Name: name, Raw: raw, CreatedAt: now, UpdatedAt: now}, nil
}

// PutDocument replaces a project's document.
func (s *SQLiteStore) PutDocument(ctx context.Context, id string, doc domain.Document) error {
	s.patchMu.Lock()
	defer s.patchMu.Unlock()
	return s.upsertDocument(ctx, s.db, id, doc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) upsertDocument(ctx context.Context, e execer, id string, doc domain.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	now := s.now().Unix()
	query := `
	INSERT INTO projects (project_id, name, spec_json, created_at, updated_at)
	VALUES (?, '', ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		spec_json = excluded.spec_json,
		updated_at = excluded.updated_at`

	err = shared.RetryOnConflict(ctx, "upsert_document", writeAttempts, func() error {
		_, err := e.ExecContext(ctx, query, id, string(raw), now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// ApplyPatch merges patch into the stored document inside one transaction.
// A malformed stored document is replaced, matching the fresh start the
// session offered for it.
func (s *SQLiteStore) ApplyPatch(ctx context.Context, id string, patch map[string]any) (domain.Document, error) {
	s.patchMu.Lock()
	defer s.patchMu.Unlock()

	var merged domain.Document
	err := shared.RetryOnConflict(ctx, "apply_patch", writeAttempts, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		doc := domain.NewDocument()
		p, err := getProject(ctx, tx, id)
		switch {
		case errors.Is(err, ErrProjectNotFound):
		case err != nil:
			return err
		default:
			parsed, perr := domain.ParseDocument(p.Raw)
			if perr != nil {
				slog.Warn("replacing malformed project document", "project_id", id, "error", perr)
			} else {
				doc = parsed
			}
		}

		doc.Apply(patch, s.now())
		if err := s.upsertDocument(ctx, tx, id, doc); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		merged = doc
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply patch to %s: %w", id, err)
	}
	return merged, nil
}

// ListProjects returns the most recently updated projects.
func (s *SQLiteStore) ListProjects(ctx context.Context, limit int) ([]*Project, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, name, spec_json, created_at, updated_at
		FROM projects ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		var raw string
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &p.Name, &raw, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		p.Raw = []byte(raw)
		p.CreatedAt = time.Unix(createdAt, 0)
		p.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &p)
	}
	return out, rows.Err()
}

var _ Repository = (*SQLiteStore)(nil)
