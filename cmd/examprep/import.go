package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/store"
)

type notesInvalidator interface {
	Invalidate(ctx context.Context, resourceID string) error
}

var validate = validator.New()

// importFiles loads resource bundles. Unchanged files are skipped by content
// hash; changed files are imported again and replace stored notes.
func importFiles(ctx context.Context, db *store.Store, inv notesInvalidator, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("resource file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Info("resource file changed since last import, re-importing", "path", path)
		}

		var bundle []model.ResourceImport
		if err := json.Unmarshal(data, &bundle); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for i, ri := range bundle {
			if err := validate.Struct(ri); err != nil {
				return fmt.Errorf("%s: resource %d: %w", path, i, err)
			}
		}

		for _, ri := range bundle {
			if err := db.ImportResource(ctx, ri); err != nil {
				return fmt.Errorf("import from %s: %w", path, err)
			}
			if inv != nil {
				if err := inv.Invalidate(ctx, ri.ID); err != nil {
					slog.Warn("could not drop cached notes", "resource_id", ri.ID, "error", err)
				}
			}
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported resources", "path", path, "count", len(bundle))
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
