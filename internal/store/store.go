package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/podpilot/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid session state transition")

// Store is the data access interface for the training session index.
type Store interface {
	Ping(ctx context.Context) error

	RecordSession(ctx context.Context, rec *models.SessionRecord) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.SessionRecord, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.SessionRecord, int, error)
	MarkArchived(ctx context.Context, id uuid.UUID, loc models.ArchiveLocation) error
	MarkArchiveFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type SessionFilter struct {
	Username     string
	PodID        string
	TrainingType models.TrainingType
	State        models.SessionState
	Since        time.Time
	Page         int
	Limit        int
}
