package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/podpilot/internal/api/response"
	"github.com/kiranshivaraju/podpilot/internal/sessionlog"
	"github.com/kiranshivaraju/podpilot/internal/store"
	"github.com/kiranshivaraju/podpilot/internal/training"
	"github.com/kiranshivaraju/podpilot/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

const sessionNotFoundMessage = "Training session log not found (may have been uploaded to S3)"

// SessionService defines the training session operations the handlers use.
type SessionService interface {
	StartSession(ctx context.Context, req models.CreateSessionLogRequest) (*training.SessionResult, error)
	ReadSession(ctx context.Context, sessionID string) (*models.TrainingSessionLog, error)
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]*models.SessionRecord, int, error)
}

// CreateSessionLogResponse is the body returned by POST /api/v1/logs/training.
// LogFilePath is empty once the log has been archived and removed locally.
type CreateSessionLogResponse struct {
	Success      bool                `json:"success"`
	SessionID    string              `json:"sessionId"`
	LogFilePath  string              `json:"logFilePath,omitempty"`
	State        models.SessionState `json:"state"`
	ArchiveURL   string              `json:"archiveUrl,omitempty"`
	ArchiveKey   string              `json:"archiveKey,omitempty"`
	ArchiveError string              `json:"archiveError,omitempty"`
}

// NewCreateSessionLogHandler returns an http.HandlerFunc for POST /api/v1/logs/training.
func NewCreateSessionLogHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateSessionLogRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		res, err := svc.StartSession(r.Context(), req)
		if err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Message, map[string]string{"field": verr.Field})
				return
			}
			slog.Error("creating training session log", "pod_id", req.PodID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create training log", nil)
			return
		}

		out := CreateSessionLogResponse{
			Success:     true,
			SessionID:   res.SessionID.String(),
			LogFilePath: res.FilePath,
			State:       res.State,
		}
		if loc := res.Archive.Location; loc != nil {
			out.ArchiveURL = loc.URL
			out.ArchiveKey = loc.Key
		}
		if res.Archive.Err != nil {
			out.ArchiveError = res.Archive.Err.Error()
		}

		slog.Info("training session started",
			"session_id", out.SessionID,
			"pod_id", req.PodID,
			"training_type", req.TrainingType,
			"state", out.State,
		)
		response.Created(w, out)
	}
}

// NewGetSessionLogHandler returns an http.HandlerFunc for GET /api/v1/logs/training/{sessionId}.
func NewGetSessionLogHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		log, err := svc.ReadSession(r.Context(), sessionID)
		if err != nil {
			var archived *training.ArchivedError
			switch {
			case errors.As(err, &archived):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", sessionNotFoundMessage, archiveDetails(archived.Record))
			case errors.Is(err, sessionlog.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", sessionNotFoundMessage, nil)
			default:
				slog.Error("reading training session log", "session_id", sessionID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read training log", nil)
			}
			return
		}
		response.JSON(w, log)
	}
}

func archiveDetails(rec *models.SessionRecord) map[string]string {
	details := map[string]string{"state": string(rec.State)}
	if rec.ArchiveBucket != nil {
		details["bucket"] = *rec.ArchiveBucket
	}
	if rec.ArchiveKey != nil {
		details["key"] = *rec.ArchiveKey
	}
	if rec.ArchiveURL != nil {
		details["url"] = *rec.ArchiveURL
	}
	return details
}

// NewListSessionLogsHandler returns an http.HandlerFunc for GET /api/v1/logs/training.
func NewListSessionLogsHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := store.SessionFilter{
			Username: q.Get("username"),
			PodID:    q.Get("podId"),
			Page:     1,
			Limit:    defaultPageLimit,
		}

		if tt := q.Get("trainingType"); tt != "" {
			filter.TrainingType = models.TrainingType(tt)
			if !filter.TrainingType.Valid() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "trainingType must be one of piper, gemma, nemo", nil)
				return
			}
		}

		if st := q.Get("state"); st != "" {
			filter.State = models.SessionState(st)
			switch filter.State {
			case models.SessionStateCreated, models.SessionStateArchived, models.SessionStateArchiveFailed:
			default:
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "state must be one of CREATED, ARCHIVED, ARCHIVE_FAILED", nil)
				return
			}
		}

		if s := q.Get("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "since must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.Since = t
		}

		if p := q.Get("page"); p != "" {
			v, err := strconv.Atoi(p)
			if err != nil || v < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
				return
			}
			filter.Page = v
		}

		if l := q.Get("limit"); l != "" {
			v, err := strconv.Atoi(l)
			if err != nil || v < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			filter.Limit = min(v, maxPageLimit)
		}

		records, total, err := svc.ListSessions(r.Context(), filter)
		if err != nil {
			if errors.Is(err, training.ErrIndexDisabled) {
				response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Session index is not configured", nil)
				return
			}
			slog.Error("listing training sessions", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list training sessions", nil)
			return
		}
		if records == nil {
			records = []*models.SessionRecord{}
		}

		response.Collection(w, records, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}
