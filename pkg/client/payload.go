package client

import (
	"strconv"
	"strings"

	"github.com/kiranshivaraju/podpilot/pkg/models"
)

const (
	minVCPUCount  = 2
	minMemoryInGB = 15

	trainScriptURL = "https://raw.githubusercontent.com/imtiaz-risat/piper-train-runpod-script/main/piper_train_runpod.sh"
	killScriptURL  = "https://raw.githubusercontent.com/imtiaz-risat/piper-train-runpod-script/main/kill_pod.sh"
)

// StartCommand fetches the training and self-termination scripts, runs
// training, then terminates the pod.
var StartCommand = []string{
	"bash",
	"-c",
	strings.Join([]string{
		"set -ex",
		"apt-get update && apt-get install -y dos2unix jq",
		"curl -sSL " + trainScriptURL + " -o train.sh",
		"curl -sSL " + killScriptURL + " -o kill_pod.sh",
		"dos2unix train.sh kill_pod.sh",
		"chmod +x train.sh kill_pod.sh",
		"bash train.sh",
		"bash kill_pod.sh",
		"sleep infinity",
	}, "; "),
}

// BuildPodPayload converts a validated JobConfig into the provider's create
// payload. The provider key is not part of it; the server injects the
// self-termination key into env.
func BuildPodPayload(cfg models.JobConfig) map[string]any {
	return map[string]any{
		"name":              cfg.Name,
		"imageName":         cfg.ImageName,
		"gpuTypeIds":        cfg.GPUTypeIDs,
		"cloudType":         cfg.CloudType,
		"computeType":       cfg.ComputeType,
		"gpuCount":          cfg.GPUCount,
		"volumeInGb":        cfg.VolumeInGB,
		"containerDiskInGb": cfg.ContainerDiskInGB,
		"volumeMountPath":   cfg.VolumeMountPath,
		"ports":             cfg.Ports,
		"supportPublicIp":   cfg.SupportPublicIP,
		"minVcpuCount":      minVCPUCount,
		"minMemoryInGb":     minMemoryInGB,
		"dockerStartCmd":    StartCommand,
		"env":               TrainingEnv(cfg),
	}
}

// TrainingEnv is the environment the training script reads.
func TrainingEnv(cfg models.JobConfig) map[string]any {
	return map[string]any{
		"HF_DATASET_REPO_ID":   cfg.HFDatasetRepoID,
		"HF_DATASET_TOKEN":     cfg.HFDatasetDownloadToken,
		"HF_UPLOAD_REPO_ID":    cfg.HFUploadRepoID,
		"HF_UPLOAD_TOKEN":      cfg.HFUploadToken,
		"HF_UPLOAD_SESSION_ID": cfg.HFSessionName,
		"HF_CHECKPOINT_URL":    cfg.HFCheckpointDownloadURL,
		"HF_CHECKPOINT_NAME":   cfg.HFCheckpointName,
		"HF_CHECKPOINT_TOKEN":  cfg.HFCheckpointDownloadToken,
		"MAX_EPOCHS":           strconv.Itoa(cfg.MaxEpochs),
		"CHECKPOINT_EPOCHS":    strconv.Itoa(cfg.CheckpointEpochs),
		"BATCH_SIZE":           strconv.Itoa(cfg.BatchSize),
		"PRECISION":            cfg.Precision,
		"QUALITY":              cfg.Quality,
		"KEEP_LAST_K":          strconv.Itoa(cfg.KeepLastK),
		"LANGUAGE":             cfg.Language,
		"MAX_WORKERS":          strconv.Itoa(cfg.MaxWorkers),
		"POD_NAME":             cfg.Name,
	}
}
