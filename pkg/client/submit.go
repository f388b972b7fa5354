package client

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/podpilot/pkg/models"
)

// SubmitOptions identifies who submits a job and which trainer it runs.
type SubmitOptions struct {
	Username     string
	TrainingType models.TrainingType
}

// SubmitResult is the outcome of SubmitJob. Pod is always set. Session is nil
// and LogError set when the pod was created but its session log was not.
type SubmitResult struct {
	Pod      CreatedPod
	Session  *SessionLogResult
	LogError error
}

// SubmitJob validates cfg, creates the pod and then records a session log
// for it. Nothing is sent when cfg is invalid, and no log is written when pod
// creation fails. A logging failure never undoes the pod.
func (c *Client) SubmitJob(ctx context.Context, cfg models.JobConfig, opts SubmitOptions) (*SubmitResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pod, err := c.CreatePod(ctx, BuildPodPayload(cfg))
	if err != nil {
		return nil, fmt.Errorf("create pod: %w", err)
	}

	res := &SubmitResult{Pod: *pod}

	sessionCfg := models.SessionConfigFrom(cfg)
	name := cfg.Name
	snapshot := models.PodSnapshot{
		GPUType:           cfg.PrimaryGPUType(),
		GPUCount:          cfg.GPUCount,
		CloudType:         cfg.CloudType,
		ImageName:         cfg.ImageName,
		VolumeInGB:        cfg.VolumeInGB,
		ContainerDiskInGB: cfg.ContainerDiskInGB,
	}
	if pod.CostPerHr != nil {
		snapshot.CostPerHr = *pod.CostPerHr
	}

	session, err := c.CreateSessionLog(ctx, models.CreateSessionLogRequest{
		Username:     opts.Username,
		PodID:        pod.ID,
		PodName:      &name,
		TrainingType: opts.TrainingType,
		Config:       &sessionCfg,
		Pod:          snapshot,
	})
	if err != nil {
		res.LogError = fmt.Errorf("create session log: %w", err)
		return res, nil
	}
	res.Session = session
	return res, nil
}
