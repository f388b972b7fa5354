package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/podpilot/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const sessionColumns = `session_id, pod_id, pod_name, username, training_type, state, file_path,
	archive_bucket, archive_key, archive_url, archive_error, created_at, updated_at`

func scanSession(row pgx.Row) (*models.SessionRecord, error) {
	var r models.SessionRecord
	err := row.Scan(&r.SessionID, &r.PodID, &r.PodName, &r.Username, &r.TrainingType, &r.State,
		&r.FilePath, &r.ArchiveBucket, &r.ArchiveKey, &r.ArchiveURL, &r.ArchiveError,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) RecordSession(ctx context.Context, rec *models.SessionRecord) error {
	if rec.State == "" {
		rec.State = models.SessionStateCreated
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO training_sessions (session_id, pod_id, pod_name, username, training_type, state, file_path, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.SessionID, rec.PodID, rec.PodName, rec.Username, rec.TrainingType, rec.State, rec.FilePath,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.SessionRecord, error) {
	rec, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM training_sessions WHERE session_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.SessionRecord, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.Username != "" {
		conditions = append(conditions, fmt.Sprintf("username = $%d", argIdx))
		args = append(args, filter.Username)
		argIdx++
	}
	if filter.PodID != "" {
		conditions = append(conditions, fmt.Sprintf("pod_id = $%d", argIdx))
		args = append(args, filter.PodID)
		argIdx++
	}
	if filter.TrainingType != "" {
		conditions = append(conditions, fmt.Sprintf("training_type = $%d", argIdx))
		args = append(args, filter.TrainingType)
		argIdx++
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, filter.State)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM training_sessions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM training_sessions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		sessionColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, total, rows.Err()
}

var validTransitions = map[models.SessionState][]models.SessionState{
	models.SessionStateCreated:       {models.SessionStateArchived, models.SessionStateArchiveFailed},
	models.SessionStateArchiveFailed: {models.SessionStateArchived, models.SessionStateArchiveFailed},
}

func (s *PostgresStore) MarkArchived(ctx context.Context, id uuid.UUID, loc models.ArchiveLocation) error {
	if err := s.checkTransition(ctx, id, models.SessionStateArchived); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE training_sessions
		 SET state = $2, archive_bucket = $3, archive_key = $4, archive_url = $5,
		     archive_error = NULL, file_path = NULL, updated_at = $6
		 WHERE session_id = $1`,
		id, models.SessionStateArchived, loc.Bucket, loc.Key, loc.URL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark session archived: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkArchiveFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if err := s.checkTransition(ctx, id, models.SessionStateArchiveFailed); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE training_sessions SET state = $2, archive_error = $3, updated_at = $4 WHERE session_id = $1`,
		id, models.SessionStateArchiveFailed, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark session archive failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) checkTransition(ctx context.Context, id uuid.UUID, to models.SessionState) error {
	var current models.SessionState
	err := s.pool.QueryRow(ctx, `SELECT state FROM training_sessions WHERE session_id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get session state: %w", err)
	}

	if !slices.Contains(validTransitions[current], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)
