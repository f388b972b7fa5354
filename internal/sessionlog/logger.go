package sessionlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/podpilot/pkg/models"
)

// ErrNotFound is returned when no readable log exists for a session.
var ErrNotFound = errors.New("training session log not found")

const (
	filePrefix = "training-session-"
	fileSuffix = ".log"
	timeLayout = "20060102-150405"
)

// Logger writes one JSON file per training session under a single directory.
// Files are named training-session-<sessionId>-<YYYYMMDD-HHMMSS>.log.
type Logger struct {
	dir   string
	now   func() time.Time
	newID func() uuid.UUID
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(l *Logger) {
		l.newID = newID
	}
}

// New creates a Logger rooted at dir. The directory is created lazily.
func New(dir string, opts ...Option) *Logger {
	l := &Logger{
		dir:   dir,
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateResult identifies a freshly written session log.
type CreateResult struct {
	SessionID uuid.UUID
	FilePath  string
	Log       *models.TrainingSessionLog
}

// Create assembles a new session log from req and writes it to disk.
func (l *Logger) Create(req models.CreateSessionLogRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := l.now().UTC().Truncate(time.Millisecond)
	log := &models.TrainingSessionLog{
		SessionID: l.newID(),
		CreatedAt: now,
		Version:   models.SessionLogVersion,
		User: models.SessionUser{
			Username:         req.Username,
			SessionStartedAt: now,
		},
		Pod: models.SessionPod{
			ID:                req.PodID,
			Name:              req.PodName,
			GPUType:           req.Pod.GPUType,
			GPUCount:          req.Pod.GPUCount,
			CloudType:         req.Pod.CloudType,
			CostPerHr:         req.Pod.CostPerHr,
			ImageName:         req.Pod.ImageName,
			VolumeInGB:        req.Pod.VolumeInGB,
			ContainerDiskInGB: req.Pod.ContainerDiskInGB,
		},
		TrainingType: req.TrainingType,
		Config:       *req.Config,
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}

	path := filepath.Join(l.dir, fileName(log.SessionID, now))
	if err := writeJSON(path, log); err != nil {
		return nil, err
	}

	slog.Info("training session log created",
		"session_id", log.SessionID,
		"pod_id", log.Pod.ID,
		"training_type", log.TrainingType,
	)

	return &CreateResult{SessionID: log.SessionID, FilePath: path, Log: log}, nil
}

// Read returns the parsed log for sessionID. A missing, unreadable or corrupt
// file yields ErrNotFound.
func (l *Logger) Read(sessionID string) (*models.TrainingSessionLog, error) {
	path, err := l.Path(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("reading session log", "path", path, "error", err)
		return nil, ErrNotFound
	}

	var log models.TrainingSessionLog
	if err := json.Unmarshal(data, &log); err != nil {
		slog.Warn("parsing session log", "path", path, "error", err)
		return nil, ErrNotFound
	}
	return &log, nil
}

// Path locates the file holding sessionID's log. When several files carry
// the id, the newest timestamp wins.
func (l *Logger) Path(sessionID string) (string, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return "", ErrNotFound
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("scanning logs directory", "dir", l.dir, "error", err)
		}
		return "", ErrNotFound
	}

	var name, newest string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fid, stamp, ok := parseFileName(e.Name())
		if !ok || fid != id || stamp < newest {
			continue
		}
		name, newest = e.Name(), stamp
	}
	if name == "" {
		return "", ErrNotFound
	}
	return filepath.Join(l.dir, name), nil
}

// Delete removes the local log for sessionID and reports whether a file was
// removed. Deleting an absent log is not an error.
func (l *Logger) Delete(sessionID string) (bool, error) {
	path, err := l.Path(sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete session log: %w", err)
	}
	return true, nil
}

// List returns the ids of every session with a local log, oldest first.
func (l *Logger) List() ([]uuid.UUID, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list logs directory: %w", err)
	}

	type entry struct {
		id    uuid.UUID
		stamp string
	}
	var found []entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, stamp, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		found = append(found, entry{id: id, stamp: stamp})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].stamp < found[j].stamp })

	ids := make([]uuid.UUID, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.id)
	}
	return ids, nil
}

func fileName(id uuid.UUID, t time.Time) string {
	return filePrefix + id.String() + "-" + t.UTC().Format(timeLayout) + fileSuffix
}

func parseFileName(name string) (uuid.UUID, string, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return uuid.Nil, "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if len(rest) != 36+1+len(timeLayout) || rest[36] != '-' {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(rest[:36])
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, rest[37:], true
}

func writeJSON(path string, log *models.TrainingSessionLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session log: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write session log: %w", err)
	}
	return nil
}
