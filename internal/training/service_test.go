package training_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/podpilot/internal/archive"
	"github.com/kiranshivaraju/podpilot/internal/sessionlog"
	"github.com/kiranshivaraju/podpilot/internal/store"
	"github.com/kiranshivaraju/podpilot/internal/training"
	"github.com/kiranshivaraju/podpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeArchiver struct {
	mu       sync.Mutex
	err      error
	archived []uuid.UUID
	// uploaded runs after a successful upload, before the result returns.
	uploaded func(log *models.TrainingSessionLog)
}

func (f *fakeArchiver) Archive(_ context.Context, log *models.TrainingSessionLog) (*models.ArchiveLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.archived = append(f.archived, log.SessionID)
	if f.uploaded != nil {
		f.uploaded(log)
	}
	return &models.ArchiveLocation{
		Bucket: "training-logs",
		Key:    archive.ObjectKey(log.SessionID, log.CreatedAt),
		URL:    "https://example.invalid/" + log.SessionID.String(),
	}, nil
}

type fakeIndex struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*models.SessionRecord
	recordErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: make(map[uuid.UUID]*models.SessionRecord)}
}

func (f *fakeIndex) RecordSession(_ context.Context, rec *models.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	cp := *rec
	f.records[rec.SessionID] = &cp
	return nil
}

func (f *fakeIndex) GetSession(_ context.Context, id uuid.UUID) (*models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeIndex) ListSessions(_ context.Context, _ store.SessionFilter) ([]*models.SessionRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SessionRecord
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (f *fakeIndex) MarkArchived(_ context.Context, id uuid.UUID, loc models.ArchiveLocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.State = models.SessionStateArchived
	rec.ArchiveKey = &loc.Key
	return nil
}

func (f *fakeIndex) MarkArchiveFailed(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.State = models.SessionStateArchiveFailed
	rec.ArchiveError = &reason
	return nil
}

// --- helpers ---

func strPtr(s string) *string { return &s }

func newRequest() models.CreateSessionLogRequest {
	cfg := models.SessionConfigFrom(models.DefaultJobConfig())
	return models.CreateSessionLogRequest{
		Username:     "alice",
		PodID:        "pod-123",
		PodName:      strPtr("abc"),
		TrainingType: models.TrainingTypePiper,
		Config:       &cfg,
		Pod: models.PodSnapshot{
			GPUType:   models.DefaultGPUTypeID,
			GPUCount:  1,
			CloudType: models.CloudTypeSecure,
		},
	}
}

// --- StartSession ---

func TestStartSession_WithoutArchive(t *testing.T) {
	logs := sessionlog.New(t.TempDir())
	svc := training.NewService(logs, nil, nil)

	res, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err)

	assert.Equal(t, models.SessionStateCreated, res.State)
	assert.False(t, res.Archive.Attempted)
	assert.FileExists(t, res.FilePath)

	got, err := svc.ReadSession(context.Background(), res.SessionID.String())
	require.NoError(t, err)
	assert.Equal(t, "pod-123", got.Pod.ID)
}

func TestStartSession_ArchivesAndRemovesLocalCopy(t *testing.T) {
	logs := sessionlog.New(t.TempDir())
	arch := &fakeArchiver{}
	idx := newFakeIndex()
	svc := training.NewService(logs, arch, idx)

	res, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err)

	assert.Equal(t, models.SessionStateArchived, res.State)
	assert.True(t, res.Archive.Attempted)
	require.NotNil(t, res.Archive.Location)
	assert.NoError(t, res.Archive.Err)
	assert.Empty(t, res.FilePath)
	assert.Equal(t, []uuid.UUID{res.SessionID}, arch.archived)

	_, err = logs.Read(res.SessionID.String())
	assert.ErrorIs(t, err, sessionlog.ErrNotFound, "local copy removed after upload")

	rec, err := idx.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateArchived, rec.State)
}

func TestStartSession_ArchivesFromDirWithPatternCharacters(t *testing.T) {
	logs := sessionlog.New(filepath.Join(t.TempDir(), "runs[gpu-1]"))
	svc := training.NewService(logs, &fakeArchiver{}, nil)

	res, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err)

	assert.Equal(t, models.SessionStateArchived, res.State)
	assert.Empty(t, res.FilePath)
	_, err = logs.Read(res.SessionID.String())
	assert.ErrorIs(t, err, sessionlog.ErrNotFound)

	ids, err := logs.List()
	require.NoError(t, err)
	assert.Empty(t, ids, "no local copy left behind")
}

func TestStartSession_WarnsWhenLocalCopyAlreadyGone(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	logs := sessionlog.New(t.TempDir())
	arch := &fakeArchiver{uploaded: func(log *models.TrainingSessionLog) {
		path, err := logs.Path(log.SessionID.String())
		require.NoError(t, err)
		require.NoError(t, os.Remove(path))
	}}
	svc := training.NewService(logs, arch, nil)

	res, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err)

	assert.Equal(t, models.SessionStateArchived, res.State)
	assert.Contains(t, buf.String(), "archived session log had no local copy to remove")
	assert.Contains(t, buf.String(), res.SessionID.String())
}

func TestStartSession_ArchiveFailureIsSoft(t *testing.T) {
	logs := sessionlog.New(t.TempDir())
	arch := &fakeArchiver{err: errors.New("bucket unreachable")}
	idx := newFakeIndex()
	svc := training.NewService(logs, arch, idx)

	res, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err, "archive failure must not fail the session")

	assert.Equal(t, models.SessionStateArchiveFailed, res.State)
	require.Error(t, res.Archive.Err)
	assert.Contains(t, res.Archive.Err.Error(), "bucket unreachable")
	assert.FileExists(t, res.FilePath, "local copy retained")

	rec, err := idx.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateArchiveFailed, rec.State)
	require.NotNil(t, rec.ArchiveError)
}

func TestStartSession_IndexFailureIsIgnored(t *testing.T) {
	logs := sessionlog.New(t.TempDir())
	idx := newFakeIndex()
	idx.recordErr = errors.New("db down")
	svc := training.NewService(logs, nil, idx)

	res, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateCreated, res.State)
}

func TestStartSession_LocalWriteFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := dir + "/logs"
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	svc := training.NewService(sessionlog.New(blocker), &fakeArchiver{}, nil)

	_, err := svc.StartSession(context.Background(), newRequest())
	require.Error(t, err)
}

func TestStartSession_ValidationError(t *testing.T) {
	svc := training.NewService(sessionlog.New(t.TempDir()), nil, nil)

	req := newRequest()
	req.PodID = ""
	_, err := svc.StartSession(context.Background(), req)

	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

// --- ReadSession ---

func TestReadSession_ArchivedSessionReportsLocation(t *testing.T) {
	logs := sessionlog.New(t.TempDir())
	svc := training.NewService(logs, &fakeArchiver{}, newFakeIndex())

	res, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err)

	_, err = svc.ReadSession(context.Background(), res.SessionID.String())
	require.ErrorIs(t, err, sessionlog.ErrNotFound)

	var archived *training.ArchivedError
	require.ErrorAs(t, err, &archived)
	require.NotNil(t, archived.Record.ArchiveKey)
}

func TestReadSession_UnknownSession(t *testing.T) {
	svc := training.NewService(sessionlog.New(t.TempDir()), nil, newFakeIndex())

	_, err := svc.ReadSession(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, sessionlog.ErrNotFound)

	var archived *training.ArchivedError
	assert.False(t, errors.As(err, &archived))
}

// --- ListSessions ---

func TestListSessions_IndexDisabled(t *testing.T) {
	svc := training.NewService(sessionlog.New(t.TempDir()), nil, nil)

	_, _, err := svc.ListSessions(context.Background(), store.SessionFilter{})
	assert.ErrorIs(t, err, training.ErrIndexDisabled)
}

// --- Sweep ---

func TestSweep_RetriesRetainedLogs(t *testing.T) {
	logs := sessionlog.New(t.TempDir())
	arch := &fakeArchiver{err: errors.New("temporarily down")}
	idx := newFakeIndex()
	svc := training.NewService(logs, arch, idx)

	res, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err)
	require.Equal(t, models.SessionStateArchiveFailed, res.State)

	arch.err = nil
	sweep, err := svc.Sweep(context.Background(), time.Minute, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Archived)
	assert.Equal(t, 0, sweep.Failed)

	_, err = logs.Read(res.SessionID.String())
	assert.ErrorIs(t, err, sessionlog.ErrNotFound)

	rec, err := idx.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateArchived, rec.State)
}

func TestSweep_SkipsFreshLogs(t *testing.T) {
	logs := sessionlog.New(t.TempDir())
	arch := &fakeArchiver{err: errors.New("down")}
	svc := training.NewService(logs, arch, nil)

	_, err := svc.StartSession(context.Background(), newRequest())
	require.NoError(t, err)

	arch.err = nil
	sweep, err := svc.Sweep(context.Background(), time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, sweep.Archived)
	assert.Empty(t, arch.archived)
}

func TestSweep_NoArchiver(t *testing.T) {
	svc := training.NewService(sessionlog.New(t.TempDir()), nil, nil)

	sweep, err := svc.Sweep(context.Background(), 0, time.Now())
	require.NoError(t, err)
	assert.Zero(t, sweep.Archived)
}

func TestSweeper_StartStop(t *testing.T) {
	logs := sessionlog.New(t.TempDir())
	svc := training.NewService(logs, &fakeArchiver{}, nil)

	w := training.NewSweeper(svc, 10*time.Millisecond)
	w.Start()
	time.Sleep(30 * time.Millisecond)
	w.Stop()
}
