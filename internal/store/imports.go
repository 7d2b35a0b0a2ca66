package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetImportedFileHash returns the hash recorded for path.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, time.Now().UTC(),
	)
	return err
}
