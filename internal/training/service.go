package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/podpilot/internal/metrics"
	"github.com/kiranshivaraju/podpilot/internal/sessionlog"
	"github.com/kiranshivaraju/podpilot/internal/store"
	"github.com/kiranshivaraju/podpilot/pkg/models"
)

// ErrIndexDisabled is returned by index-backed operations when no database is
// configured.
var ErrIndexDisabled = errors.New("session index not configured")

const archiveTimeout = 30 * time.Second

// Archiver uploads a session log and reports where it went.
type Archiver interface {
	Archive(ctx context.Context, log *models.TrainingSessionLog) (*models.ArchiveLocation, error)
}

// SessionIndex is the optional queryable record of sessions.
type SessionIndex interface {
	RecordSession(ctx context.Context, rec *models.SessionRecord) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.SessionRecord, error)
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]*models.SessionRecord, int, error)
	MarkArchived(ctx context.Context, id uuid.UUID, loc models.ArchiveLocation) error
	MarkArchiveFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// ArchiveOutcome is the result of the secondary archive step. Err is a
// warning, never a failure of the session as a whole.
type ArchiveOutcome struct {
	Attempted bool
	Location  *models.ArchiveLocation
	Err       error
}

// SessionResult describes a started session. FilePath is empty once the
// local copy has been archived and removed.
type SessionResult struct {
	SessionID uuid.UUID
	FilePath  string
	CreatedAt time.Time
	State     models.SessionState
	Archive   ArchiveOutcome
}

// ArchivedError reports that a session's local log is gone because it was
// archived. It matches sessionlog.ErrNotFound.
type ArchivedError struct {
	Record *models.SessionRecord
}

func (e *ArchivedError) Error() string {
	return fmt.Sprintf("training session %s was archived", e.Record.SessionID)
}

func (e *ArchivedError) Is(target error) bool {
	return target == sessionlog.ErrNotFound
}

// Service creates session logs and moves them to the archive.
type Service struct {
	logs     *sessionlog.Logger
	archiver Archiver
	index    SessionIndex
}

// NewService creates a Service. archiver and index may be nil.
func NewService(logs *sessionlog.Logger, archiver Archiver, index SessionIndex) *Service {
	return &Service{logs: logs, archiver: archiver, index: index}
}

func (s *Service) ArchiveEnabled() bool { return s.archiver != nil }

func (s *Service) IndexEnabled() bool { return s.index != nil }

// StartSession writes the session log locally, then archives it when an
// archiver is configured. Only the local write can fail the call.
func (s *Service) StartSession(ctx context.Context, req models.CreateSessionLogRequest) (*SessionResult, error) {
	created, err := s.logs.Create(req)
	if err != nil {
		return nil, err
	}

	result := &SessionResult{
		SessionID: created.SessionID,
		FilePath:  created.FilePath,
		CreatedAt: created.Log.CreatedAt,
		State:     models.SessionStateCreated,
	}

	if s.index != nil {
		path := created.FilePath
		rec := &models.SessionRecord{
			SessionID:    created.SessionID,
			PodID:        req.PodID,
			PodName:      req.PodName,
			Username:     req.Username,
			TrainingType: req.TrainingType,
			State:        models.SessionStateCreated,
			FilePath:     &path,
			CreatedAt:    created.Log.CreatedAt,
		}
		if err := s.index.RecordSession(ctx, rec); err != nil {
			slog.Warn("indexing training session", "session_id", created.SessionID, "error", err)
		}
	}

	if s.archiver == nil {
		metrics.SessionLogsTotal.WithLabelValues(string(result.State)).Inc()
		return result, nil
	}

	// The upload outlives a client that hangs up mid-request.
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	result.Archive = s.archive(archiveCtx, created.Log)
	if result.Archive.Err == nil {
		result.State = models.SessionStateArchived
		result.FilePath = ""
	} else {
		result.State = models.SessionStateArchiveFailed
	}
	metrics.SessionLogsTotal.WithLabelValues(string(result.State)).Inc()
	return result, nil
}

// archive uploads log, removes the local copy on success and records the
// outcome in the index.
func (s *Service) archive(ctx context.Context, log *models.TrainingSessionLog) ArchiveOutcome {
	outcome := ArchiveOutcome{Attempted: true}

	loc, err := s.archiver.Archive(ctx, log)
	if err != nil {
		slog.Warn("archiving training session log",
			"session_id", log.SessionID,
			"error", err,
		)
		outcome.Err = err
		if s.index != nil {
			if ierr := s.index.MarkArchiveFailed(ctx, log.SessionID, err.Error()); ierr != nil {
				slog.Warn("indexing archive failure", "session_id", log.SessionID, "error", ierr)
			}
		}
		return outcome
	}
	outcome.Location = loc

	deleted, err := s.logs.Delete(log.SessionID.String())
	switch {
	case err != nil:
		slog.Warn("removing archived session log", "session_id", log.SessionID, "error", err)
	case !deleted:
		slog.Warn("archived session log had no local copy to remove", "session_id", log.SessionID)
	}
	if s.index != nil {
		if err := s.index.MarkArchived(ctx, log.SessionID, *loc); err != nil {
			slog.Warn("indexing archived session", "session_id", log.SessionID, "error", err)
		}
	}
	return outcome
}

// ReadSession returns the local log for sessionID. When the log is gone and
// the index knows it was archived, the error is an *ArchivedError.
func (s *Service) ReadSession(ctx context.Context, sessionID string) (*models.TrainingSessionLog, error) {
	log, err := s.logs.Read(sessionID)
	if err == nil {
		return log, nil
	}
	if !errors.Is(err, sessionlog.ErrNotFound) || s.index == nil {
		return nil, err
	}

	id, perr := uuid.Parse(sessionID)
	if perr != nil {
		return nil, err
	}
	rec, ierr := s.index.GetSession(ctx, id)
	if ierr != nil {
		if !errors.Is(ierr, store.ErrNotFound) {
			slog.Warn("looking up session in index", "session_id", sessionID, "error", ierr)
		}
		return nil, err
	}
	if rec.State == models.SessionStateArchived {
		return nil, &ArchivedError{Record: rec}
	}
	return nil, err
}

// ListSessions queries the session index.
func (s *Service) ListSessions(ctx context.Context, filter store.SessionFilter) ([]*models.SessionRecord, int, error) {
	if s.index == nil {
		return nil, 0, ErrIndexDisabled
	}
	return s.index.ListSessions(ctx, filter)
}

// SweepResult summarizes one pass over retained local logs.
type SweepResult struct {
	Archived int
	Failed   int
}

// Sweep retries the archive step for local logs older than minAge. Younger
// logs are skipped so a sweep never races a request that is still uploading.
func (s *Service) Sweep(ctx context.Context, minAge time.Duration, now time.Time) (SweepResult, error) {
	var res SweepResult
	if s.archiver == nil {
		return res, nil
	}

	ids, err := s.logs.List()
	if err != nil {
		return res, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		log, err := s.logs.Read(id.String())
		if err != nil {
			continue
		}
		if now.Sub(log.CreatedAt) < minAge {
			continue
		}

		outcome := s.archive(ctx, log)
		if outcome.Err != nil {
			res.Failed++
			continue
		}
		res.Archived++
		metrics.SessionLogsTotal.WithLabelValues(string(models.SessionStateArchived)).Inc()
	}
	return res, nil
}
