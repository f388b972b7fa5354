package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/podpilot/pkg/models"
)

// RunPod reports timestamps either as RFC 3339 or in Go's default
// time.Time.String form.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02T15:04:05.999999999",
}

// NormalizePod decodes a provider pod body and normalizes it with Summarize.
func NormalizePod(raw json.RawMessage, now time.Time) (models.PodSummary, error) {
	var p models.ProviderPod
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.PodSummary{}, fmt.Errorf("decoding pod: %w", err)
	}
	return Summarize(p, now), nil
}

// Summarize projects a provider pod onto the stable PodSummary shape. Every
// field that exists in more than one place is resolved by an ordered
// fallback, nested shape first.
func Summarize(p models.ProviderPod, now time.Time) models.PodSummary {
	var gpu, machineGPU models.ProviderGPU
	if p.GPU != nil {
		gpu = *p.GPU
	}
	var machineTypeID *string
	if p.Machine != nil {
		machineTypeID = p.Machine.GPUTypeID
		if p.Machine.GPUType != nil {
			machineGPU = *p.Machine.GPUType
		}
	}

	s := models.PodSummary{
		ID:                p.ID,
		Name:              first(p.Name),
		Status:            firstOr(models.PodStatusUnknown, p.DesiredStatus, p.Status),
		GPUTypeID:         first(gpu.ID, p.GPUTypeID, machineTypeID, machineGPU.ID),
		GPUDisplayName:    first(gpu.DisplayName, p.GPUDisplayName, machineGPU.DisplayName),
		GPUCount:          first(gpu.Count, p.GPUCount),
		ImageName:         first(p.ImageName, p.Image),
		CostPerHr:         first(p.CostPerHr, p.AdjustedCostPerHr),
		VCPUCount:         first(p.VCPUCount),
		MemoryInGB:        first(p.MemoryInGB),
		VolumeInGB:        first(p.VolumeInGB),
		ContainerDiskInGB: first(p.ContainerDiskInGB),
		PublicIP:          first(p.PublicIP),
		Ports:             p.Ports,
		PortMappings:      p.PortMappings,
		LastStartedAt:     first(p.LastStartedAt),
	}
	if s.GPUDisplayName == "" {
		s.GPUDisplayName = s.GPUTypeID
	}
	s.UptimeInSeconds = Uptime(p.LastStartedAt, now)
	return s
}

// Uptime returns whole seconds between lastStartedAt and now. It is 0 when
// the timestamp is absent, unparsable or in the future.
func Uptime(lastStartedAt *string, now time.Time) int64 {
	if lastStartedAt == nil || *lastStartedAt == "" {
		return 0
	}
	started, ok := parseTimestamp(*lastStartedAt)
	if !ok {
		return 0
	}
	secs := int64(now.Sub(started) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// first returns the first non-nil, non-zero value, or the zero value.
func first[T comparable](vals ...*T) T {
	var zero T
	for _, v := range vals {
		if v != nil && *v != zero {
			return *v
		}
	}
	return zero
}

func firstOr[T comparable](def T, vals ...*T) T {
	var zero T
	if v := first(vals...); v != zero {
		return v
	}
	return def
}
