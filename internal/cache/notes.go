// Package cache keeps study notes in Redis in front of the resource store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/examprep/internal/model"
)

// Backend is the store the cache reads through to.
type Backend interface {
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	GetNotes(ctx context.Context, resourceID string) (model.StudyNotes, error)
}

// NotesCache caches study notes as JSON strings under notes:{resourceID}.
// Redis failures degrade to direct backend reads.
type NotesCache struct {
	client  redis.UniversalClient
	backend Backend
	ttl     time.Duration
	sf      singleflight.Group
}

func NewNotesCache(client redis.UniversalClient, backend Backend, ttl time.Duration) *NotesCache {
	return &NotesCache{client: client, backend: backend, ttl: ttl}
}

// GetResource is not cached; resource text is read once per exam.
func (c *NotesCache) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	return c.backend.GetResource(ctx, id)
}

func (c *NotesCache) GetNotes(ctx context.Context, resourceID string) (model.StudyNotes, error) {
	if notes, ok := c.lookup(ctx, resourceID); ok {
		return notes, nil
	}

	v, err, _ := c.sf.Do(resourceID, func() (any, error) {
		// Re-check in case a concurrent load filled it.
		if notes, ok := c.lookup(ctx, resourceID); ok {
			return notes, nil
		}
		notes, err := c.backend.GetNotes(ctx, resourceID)
		if err != nil {
			return model.StudyNotes{}, err
		}
		c.fill(ctx, resourceID, notes)
		return notes, nil
	})
	if err != nil {
		return model.StudyNotes{}, err
	}
	return v.(model.StudyNotes), nil
}

// Invalidate drops the cached notes of a resource.
func (c *NotesCache) Invalidate(ctx context.Context, resourceID string) error {
	return c.client.Del(ctx, notesKey(resourceID)).Err()
}

func (c *NotesCache) lookup(ctx context.Context, resourceID string) (model.StudyNotes, bool) {
	raw, err := c.client.Get(ctx, notesKey(resourceID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("notes cache read failed", "resource_id", resourceID, "error", err)
		}
		return model.StudyNotes{}, false
	}
	var notes model.StudyNotes
	if err := json.Unmarshal(raw, &notes); err != nil {
		slog.Warn("notes cache entry corrupt", "resource_id", resourceID, "error", err)
		return model.StudyNotes{}, false
	}
	return notes, true
}

func (c *NotesCache) fill(ctx context.Context, resourceID string, notes model.StudyNotes) {
	raw, err := json.Marshal(notes)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, notesKey(resourceID), raw, c.ttlWithJitter()).Err(); err != nil {
		slog.Warn("notes cache write failed", "resource_id", resourceID, "error", err)
	}
}

// ttlWithJitter spreads expiry by up to 10% so entries filled together do not
// expire together. Zero means no expiry.
func (c *NotesCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int64N(jitterMax+1))
}

func notesKey(resourceID string) string {
	return "notes:" + resourceID
}
