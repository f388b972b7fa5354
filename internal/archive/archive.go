package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/podpilot/pkg/models"
)

// Sentinel errors for archive failures.
var (
	ErrNotConfigured = errors.New("archive store not configured")
	ErrUploadFailed  = errors.New("archive upload failed")
)

// Store is an object store that session logs are archived to. Put must
// overwrite an existing object with the same key.
type Store interface {
	Put(ctx context.Context, bucket, key string, content []byte, metadata map[string]string) error
	Ping(ctx context.Context, bucket string) error
}

// ObjectKey returns the archive key for a session created at createdAt:
// training-logs/{yyyy}/{mm}/{sessionId}.log, using the UTC calendar.
func ObjectKey(sessionID uuid.UUID, createdAt time.Time) string {
	t := createdAt.UTC()
	return fmt.Sprintf("training-logs/%04d/%02d/%s.log", t.Year(), int(t.Month()), sessionID)
}

// Archiver uploads session logs to a bucket in a Store.
type Archiver struct {
	store  Store
	bucket string
	urlFor func(bucket, key string) string
	now    func() time.Time
}

// NewArchiver creates an Archiver. urlFor builds the public URL recorded for
// an archived object.
func NewArchiver(store Store, bucket string, urlFor func(bucket, key string) string) *Archiver {
	return &Archiver{
		store:  store,
		bucket: bucket,
		urlFor: urlFor,
		now:    time.Now,
	}
}

func (a *Archiver) Bucket() string {
	return a.bucket
}

// Ping checks that the archive bucket is reachable.
func (a *Archiver) Ping(ctx context.Context) error {
	return a.store.Ping(ctx, a.bucket)
}

// Archive uploads log and returns where it was stored. The uploaded document
// carries its own archive location. log itself is not modified.
func (a *Archiver) Archive(ctx context.Context, log *models.TrainingSessionLog) (*models.ArchiveLocation, error) {
	if a == nil || a.store == nil {
		return nil, ErrNotConfigured
	}

	key := ObjectKey(log.SessionID, log.CreatedAt)
	loc := &models.ArchiveLocation{
		Bucket:     a.bucket,
		Key:        key,
		URL:        a.urlFor(a.bucket, key),
		UploadedAt: a.now().UTC().Truncate(time.Millisecond),
	}

	doc := *log
	doc.Archive = loc
	content, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session log: %w", err)
	}

	metadata := map[string]string{
		"session-id":  log.SessionID.String(),
		"uploaded-at": loc.UploadedAt.Format(time.RFC3339Nano),
	}
	if err := a.store.Put(ctx, a.bucket, key, content, metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	slog.Info("training session log archived",
		"session_id", log.SessionID,
		"bucket", a.bucket,
		"key", key,
	)
	return loc, nil
}
