package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionLogVersion is the schema version stamped on every session log.
const SessionLogVersion = "1.0.0"

type TrainingType string

const (
	TrainingTypePiper TrainingType = "piper"
	TrainingTypeGemma TrainingType = "gemma"
	TrainingTypeNemo  TrainingType = "nemo"
)

func (t TrainingType) Valid() bool {
	switch t {
	case TrainingTypePiper, TrainingTypeGemma, TrainingTypeNemo:
		return true
	}
	return false
}

type SessionState string

const (
	SessionStateCreated       SessionState = "CREATED"
	SessionStateArchived      SessionState = "ARCHIVED"
	SessionStateArchiveFailed SessionState = "ARCHIVE_FAILED"
)

// TrainingSessionLog is the reproducibility record written once per training
// submission.
type TrainingSessionLog struct {
	SessionID    uuid.UUID        `json:"sessionId"          yaml:"sessionId"`
	CreatedAt    time.Time        `json:"createdAt"          yaml:"createdAt"`
	Version      string           `json:"version"            yaml:"version"`
	User         SessionUser      `json:"user"               yaml:"user"`
	Pod          SessionPod       `json:"pod"                yaml:"pod"`
	TrainingType TrainingType     `json:"trainingType"       yaml:"trainingType"`
	Config       SessionConfig    `json:"config"             yaml:"config"`
	Archive      *ArchiveLocation `json:"archive,omitempty"  yaml:"archive,omitempty"`
}

type SessionUser struct {
	Username         string    `json:"username"         yaml:"username"`
	SessionStartedAt time.Time `json:"sessionStartedAt" yaml:"sessionStartedAt"`
}

type SessionPod struct {
	ID                string  `json:"id"                yaml:"id"`
	Name              *string `json:"name"              yaml:"name"`
	GPUType           string  `json:"gpuType"           yaml:"gpuType"`
	GPUCount          int     `json:"gpuCount"          yaml:"gpuCount"`
	CloudType         string  `json:"cloudType"         yaml:"cloudType"`
	CostPerHr         float64 `json:"costPerHr"         yaml:"costPerHr"`
	ImageName         string  `json:"imageName"         yaml:"imageName"`
	VolumeInGB        int     `json:"volumeInGb"        yaml:"volumeInGb"`
	ContainerDiskInGB int     `json:"containerDiskInGb" yaml:"containerDiskInGb"`
}

// SessionConfig is the subset of JobConfig needed to reproduce a run. It never
// carries tokens.
type SessionConfig struct {
	HFDatasetRepoID         string `json:"hfDatasetRepoId"                   yaml:"hfDatasetRepoId"`
	HFUploadRepoID          string `json:"hfUploadRepoId"                    yaml:"hfUploadRepoId"`
	HFSessionName           string `json:"hfSessionName"                     yaml:"hfSessionName"`
	HFCheckpointName        string `json:"hfCheckpointName,omitempty"        yaml:"hfCheckpointName,omitempty"`
	HFCheckpointDownloadURL string `json:"hfCheckpointDownloadUrl,omitempty" yaml:"hfCheckpointDownloadUrl,omitempty"`

	MaxEpochs        int    `json:"maxEpochs"        yaml:"maxEpochs"`
	CheckpointEpochs int    `json:"checkpointEpochs" yaml:"checkpointEpochs"`
	BatchSize        int    `json:"batchSize"        yaml:"batchSize"`
	Precision        string `json:"precision"        yaml:"precision"`
	Quality          string `json:"quality"          yaml:"quality"`
	KeepLastK        int    `json:"keepLastK"        yaml:"keepLastK"`
	Language         string `json:"language"         yaml:"language"`
	MaxWorkers       int    `json:"maxWorkers"       yaml:"maxWorkers"`
}

// SessionConfigFrom strips a JobConfig down to its loggable subset.
func SessionConfigFrom(c JobConfig) SessionConfig {
	return SessionConfig{
		HFDatasetRepoID:         c.HFDatasetRepoID,
		HFUploadRepoID:          c.HFUploadRepoID,
		HFSessionName:           c.HFSessionName,
		HFCheckpointName:        c.HFCheckpointName,
		HFCheckpointDownloadURL: c.HFCheckpointDownloadURL,
		MaxEpochs:               c.MaxEpochs,
		CheckpointEpochs:        c.CheckpointEpochs,
		BatchSize:               c.BatchSize,
		Precision:               c.Precision,
		Quality:                 c.Quality,
		KeepLastK:               c.KeepLastK,
		Language:                c.Language,
		MaxWorkers:              c.MaxWorkers,
	}
}

// ArchiveLocation records where an archived session log lives.
type ArchiveLocation struct {
	Bucket     string    `json:"bucket"     yaml:"bucket"`
	Key        string    `json:"key"        yaml:"key"`
	URL        string    `json:"url"        yaml:"url"`
	UploadedAt time.Time `json:"uploadedAt" yaml:"uploadedAt"`
}

// PodSnapshot is the pod data a caller supplies when creating a session log.
// The pod id and name travel separately on the request.
type PodSnapshot struct {
	GPUType           string  `json:"gpuType"`
	GPUCount          int     `json:"gpuCount"`
	CloudType         string  `json:"cloudType"`
	CostPerHr         float64 `json:"costPerHr"`
	ImageName         string  `json:"imageName"`
	VolumeInGB        int     `json:"volumeInGb"`
	ContainerDiskInGB int     `json:"containerDiskInGb"`
}

// CreateSessionLogRequest is the body of POST /api/v1/logs/training.
type CreateSessionLogRequest struct {
	Username     string         `json:"username"`
	PodID        string         `json:"podId"`
	PodName      *string        `json:"podName"`
	TrainingType TrainingType   `json:"trainingType"`
	Config       *SessionConfig `json:"config"`
	Pod          PodSnapshot    `json:"pod"`
}

// Validate reports missing required fields.
func (r CreateSessionLogRequest) Validate() error {
	if r.Username == "" || r.PodID == "" || r.TrainingType == "" || r.Config == nil {
		return &ValidationError{
			Field:   "request",
			Message: "Missing required fields: username, podId, trainingType, config",
		}
	}
	if !r.TrainingType.Valid() {
		return &ValidationError{
			Field:   "trainingType",
			Message: "trainingType must be one of piper, gemma, nemo",
		}
	}
	return nil
}

// SessionRecord is the index row kept for each session when a database is
// configured.
type SessionRecord struct {
	SessionID     uuid.UUID    `db:"session_id"     json:"sessionId" yaml:"sessionId"`
	PodID         string       `db:"pod_id"         json:"podId" yaml:"podId"`
	PodName       *string      `db:"pod_name"       json:"podName,omitempty" yaml:"podName,omitempty"`
	Username      string       `db:"username"       json:"username" yaml:"username"`
	TrainingType  TrainingType `db:"training_type"  json:"trainingType" yaml:"trainingType"`
	State         SessionState `db:"state"          json:"state" yaml:"state"`
	FilePath      *string      `db:"file_path"      json:"filePath,omitempty" yaml:"filePath,omitempty"`
	ArchiveBucket *string      `db:"archive_bucket" json:"archiveBucket,omitempty" yaml:"archiveBucket,omitempty"`
	ArchiveKey    *string      `db:"archive_key"    json:"archiveKey,omitempty" yaml:"archiveKey,omitempty"`
	ArchiveURL    *string      `db:"archive_url"    json:"archiveUrl,omitempty" yaml:"archiveUrl,omitempty"`
	ArchiveError  *string      `db:"archive_error"  json:"archiveError,omitempty" yaml:"archiveError,omitempty"`
	CreatedAt     time.Time    `db:"created_at"     json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time    `db:"updated_at"     json:"updatedAt" yaml:"updatedAt"`
}
