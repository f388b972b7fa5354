package models

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
)

const (
	CloudTypeSecure    = "SECURE"
	CloudTypeCommunity = "COMMUNITY"

	ComputeTypeGPU = "GPU"

	DefaultImageName = "runpod/pytorch:2.2.0-py3.10-cuda12.1.1-devel-ubuntu22.04"
	DefaultGPUTypeID = "NVIDIA A100 80GB PCIe"
)

// JobConfig is everything needed to provision one training pod. It is consumed
// once per submission; the HF tokens it carries never leave the pod payload.
type JobConfig struct {
	Name              string   `json:"name"              yaml:"name"`
	CloudType         string   `json:"cloudType"         yaml:"cloudType"`
	ComputeType       string   `json:"computeType"       yaml:"computeType"`
	ImageName         string   `json:"imageName"         yaml:"imageName"`
	GPUCount          int      `json:"gpuCount"          yaml:"gpuCount"`
	GPUTypeIDs        []string `json:"gpuTypeIds"        yaml:"gpuTypeIds"`
	Ports             []string `json:"ports"             yaml:"ports"`
	ContainerDiskInGB int      `json:"containerDiskInGb" yaml:"containerDiskInGb"`
	VolumeInGB        int      `json:"volumeInGb"        yaml:"volumeInGb"`
	VolumeMountPath   string   `json:"volumeMountPath"   yaml:"volumeMountPath"`
	SupportPublicIP   bool     `json:"supportPublicIp"   yaml:"supportPublicIp"`

	HFDatasetRepoID           string `json:"hfDatasetRepoId"           yaml:"hfDatasetRepoId"`
	HFDatasetDownloadToken    string `json:"hfDatasetDownloadToken"    yaml:"hfDatasetDownloadToken"`
	HFUploadRepoID            string `json:"hfUploadRepoId"            yaml:"hfUploadRepoId"`
	HFUploadToken             string `json:"hfUploadToken"             yaml:"hfUploadToken"`
	HFSessionName             string `json:"hfSessionName"             yaml:"hfSessionName"`
	HFCheckpointName          string `json:"hfCheckpointName"          yaml:"hfCheckpointName"`
	HFCheckpointDownloadURL   string `json:"hfCheckpointDownloadUrl"   yaml:"hfCheckpointDownloadUrl"`
	HFCheckpointDownloadToken string `json:"hfCheckpointDownloadToken" yaml:"hfCheckpointDownloadToken"`

	MaxEpochs        int    `json:"maxEpochs"        yaml:"maxEpochs"`
	CheckpointEpochs int    `json:"checkpointEpochs" yaml:"checkpointEpochs"`
	BatchSize        int    `json:"batchSize"        yaml:"batchSize"`
	Precision        string `json:"precision"        yaml:"precision"`
	Quality          string `json:"quality"          yaml:"quality"`
	KeepLastK        int    `json:"keepLastK"        yaml:"keepLastK"`
	Language         string `json:"language"         yaml:"language"`
	MaxWorkers       int    `json:"maxWorkers"       yaml:"maxWorkers"`
}

// GPUType is an entry in the catalogue of GPUs offered to users.
type GPUType struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	CloudType string `json:"cloudType"`
}

// GPUTypes is the GPU catalogue training pods may be scheduled on.
var GPUTypes = []GPUType{
	{ID: "NVIDIA A100 80GB PCIe", Label: "A100 PCIe", CloudType: CloudTypeSecure},
	{ID: "NVIDIA A40", Label: "A40", CloudType: CloudTypeSecure},
}

// Languages maps supported training language codes to display names.
var Languages = map[string]string{
	"bn": "Bengali",
	"ne": "Nepali",
}

var (
	validPrecisions = map[string]bool{"16": true, "32": true}
	validQualities  = map[string]bool{"low": true, "medium": true, "high": true}
	validCloudTypes = map[string]bool{CloudTypeSecure: true, CloudTypeCommunity: true}

	podNamePattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	checkpointPattern = regexp.MustCompile(`epoch=(\d+)-step=(\d+)\.ckpt`)
)

// DefaultJobConfig returns the canonical default configuration. Name and the
// HF fields are left empty and must be filled in by the caller.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		CloudType:         CloudTypeSecure,
		ComputeType:       ComputeTypeGPU,
		ImageName:         DefaultImageName,
		GPUCount:          1,
		GPUTypeIDs:        []string{DefaultGPUTypeID},
		Ports:             []string{"22/tcp", "8888/http"},
		ContainerDiskInGB: 80,
		VolumeInGB:        20,
		VolumeMountPath:   "/workspace",
		SupportPublicIP:   true,
		MaxEpochs:         50,
		CheckpointEpochs:  5,
		BatchSize:         16,
		Precision:         "16",
		Quality:           "medium",
		KeepLastK:         5,
		Language:          "bn",
		MaxWorkers:        4,
	}
}

// ValidationError reports the first invalid field of a request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration and returns a *ValidationError for the
// first offending field.
func (c JobConfig) Validate() error {
	if len(c.Name) < 3 {
		return invalid("name", "Pod name must be at least 3 characters")
	}
	if !podNamePattern.MatchString(c.Name) {
		return invalid("name", "Pod name can only contain letters, numbers, underscores, and hyphens")
	}
	if c.HFDatasetRepoID == "" {
		return invalid("hfDatasetRepoId", "Dataset Repo ID is required")
	}
	if c.HFDatasetDownloadToken == "" {
		return invalid("hfDatasetDownloadToken", "Dataset Token is required")
	}
	if c.HFUploadRepoID == "" {
		return invalid("hfUploadRepoId", "Upload Repo ID is required")
	}
	if c.HFUploadToken == "" {
		return invalid("hfUploadToken", "Upload Token is required")
	}
	if c.HFSessionName == "" {
		return invalid("hfSessionName", "Session Name is required")
	}

	if len(c.GPUTypeIDs) == 0 || c.GPUTypeIDs[0] == "" {
		return invalid("gpuTypeIds", "At least one GPU type is required")
	}
	if !validCloudTypes[c.CloudType] {
		return invalid("cloudType", "Cloud type must be SECURE or COMMUNITY, got %q", c.CloudType)
	}
	if c.ImageName == "" {
		return invalid("imageName", "Image name is required")
	}

	positive := []struct {
		field string
		value int
	}{
		{"gpuCount", c.GPUCount},
		{"containerDiskInGb", c.ContainerDiskInGB},
		{"volumeInGb", c.VolumeInGB},
		{"maxEpochs", c.MaxEpochs},
		{"checkpointEpochs", c.CheckpointEpochs},
		{"batchSize", c.BatchSize},
		{"keepLastK", c.KeepLastK},
		{"maxWorkers", c.MaxWorkers},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return invalid(p.field, "%s must be a positive number", p.field)
		}
	}

	if !validPrecisions[c.Precision] {
		return invalid("precision", "Precision must be 16 or 32, got %q", c.Precision)
	}
	if !validQualities[c.Quality] {
		return invalid("quality", "Quality must be low, medium or high, got %q", c.Quality)
	}
	if c.Language == "" {
		return invalid("language", "Language is required")
	}

	return nil
}

// PrimaryGPUType is the GPU type the pod is requested with first.
func (c JobConfig) PrimaryGPUType() string {
	if len(c.GPUTypeIDs) == 0 {
		return ""
	}
	return c.GPUTypeIDs[0]
}

// ApplyCheckpointURL records a resume checkpoint. The checkpoint name is taken
// from the last URL path segment; when it follows the
// "epoch=N-step=M.ckpt" convention, MaxEpochs becomes N+101.
func (c *JobConfig) ApplyCheckpointURL(raw string) error {
	c.HFCheckpointDownloadURL = raw
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return invalid("hfCheckpointDownloadUrl", "Checkpoint URL is not a valid URL")
	}

	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		name = path.Base(u.Path)
	}
	if name == "/" || name == "." {
		return nil
	}
	c.HFCheckpointName = name

	if m := checkpointPattern.FindStringSubmatch(name); m != nil {
		if epoch, err := strconv.Atoi(m[1]); err == nil {
			c.MaxEpochs = epoch + 101
		}
	}
	return nil
}

// CloudTypeForGPU returns the cloud a catalogue GPU is offered on, or
// COMMUNITY for GPUs outside the catalogue.
func CloudTypeForGPU(gpuTypeID string) string {
	for _, g := range GPUTypes {
		if g.ID == gpuTypeID {
			return g.CloudType
		}
	}
	return CloudTypeCommunity
}
