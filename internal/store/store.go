package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examprep/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed resource store.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise open its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS study_notes (
		resource_id TEXT PRIMARY KEY,
		summary TEXT NOT NULL DEFAULT '',
		mcqs TEXT NOT NULL DEFAULT '[]',
		flashcards TEXT NOT NULL DEFAULT '[]',
		exam_questions TEXT NOT NULL DEFAULT '[]',
		FOREIGN KEY (resource_id) REFERENCES resources(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertResource inserts a resource or replaces its title and content.
func (s *Store) UpsertResource(ctx context.Context, r model.Resource) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (id, title, content, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content, updated_at = excluded.updated_at`,
		r.ID, r.Title, r.Content, r.UpdatedAt,
	)
	return err
}

// GetResource returns a resource by ID, or model.ErrResourceNotFound.
func (s *Store) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	var r model.Resource
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, updated_at FROM resources WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &r.Content, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrResourceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResources returns all resources ordered by title, without content.
func (s *Store) ListResources(ctx context.Context) ([]model.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, updated_at FROM resources ORDER BY title, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var resources []model.Resource
	for rows.Next() {
		var r model.Resource
		if err := rows.Scan(&r.ID, &r.Title, &r.UpdatedAt); err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// SaveNotes replaces the cached study notes of a resource.
func (s *Store) SaveNotes(ctx context.Context, resourceID string, notes model.StudyNotes) error {
	return saveNotes(ctx, s.db, resourceID, notes)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveNotes(ctx context.Context, db execer, resourceID string, notes model.StudyNotes) error {
	mcqs, err := marshalList(notes.MCQs)
	if err != nil {
		return fmt.Errorf("encode mcqs: %w", err)
	}
	cards, err := marshalList(notes.Flashcards)
	if err != nil {
		return fmt.Errorf("encode flashcards: %w", err)
	}
	questions, err := marshalList(notes.ExamQuestions)
	if err != nil {
		return fmt.Errorf("encode exam questions: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO study_notes (resource_id, summary, mcqs, flashcards, exam_questions) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(resource_id) DO UPDATE SET summary = excluded.summary, mcqs = excluded.mcqs,
		 flashcards = excluded.flashcards, exam_questions = excluded.exam_questions`,
		resourceID, notes.Summary, mcqs, cards, questions,
	)
	return err
}

// GetNotes returns the cached notes of a resource. A resource without notes
// yields empty notes and a nil error.
func (s *Store) GetNotes(ctx context.Context, resourceID string) (model.StudyNotes, error) {
	var notes model.StudyNotes
	var mcqs, cards, examQuestions string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary, mcqs, flashcards, exam_questions FROM study_notes WHERE resource_id = ?`, resourceID,
	).Scan(&notes.Summary, &mcqs, &cards, &examQuestions)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StudyNotes{}, nil
	}
	if err != nil {
		return model.StudyNotes{}, err
	}
	if err := json.Unmarshal([]byte(mcqs), &notes.MCQs); err != nil {
		return model.StudyNotes{}, fmt.Errorf("decode mcqs: %w", err)
	}
	if err := json.Unmarshal([]byte(cards), &notes.Flashcards); err != nil {
		return model.StudyNotes{}, fmt.Errorf("decode flashcards: %w", err)
	}
	if err := json.Unmarshal([]byte(examQuestions), &notes.ExamQuestions); err != nil {
		return model.StudyNotes{}, fmt.Errorf("decode exam questions: %w", err)
	}
	return notes, nil
}

// ImportResource stores a resource and its notes in one transaction.
func (s *Store) ImportResource(ctx context.Context, ri model.ResourceImport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO resources (id, title, content, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content, updated_at = excluded.updated_at`,
		ri.ID, ri.Title, ri.Content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert resource %s: %w", ri.ID, err)
	}
	if err := saveNotes(ctx, tx, ri.ID, ri.Notes); err != nil {
		return fmt.Errorf("save notes %s: %w", ri.ID, err)
	}
	return tx.Commit()
}

// ResourceCount returns the number of stored resources.
func (s *Store) ResourceCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&count)
	return count, err
}

// marshalList encodes nil slices as [] so the columns never hold null.
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	return string(b), err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
