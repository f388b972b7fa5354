package models

// ProviderPod is a pod as returned by the RunPod REST API. Depending on the
// endpoint and API revision the GPU descriptor is nested under "gpu", flattened
// onto the pod, or only available through "machine", so every field that may be
// absent is a pointer.
type ProviderPod struct {
	ID                string           `json:"id"`
	Name              *string          `json:"name,omitempty"`
	DesiredStatus     *string          `json:"desiredStatus,omitempty"`
	Status            *string          `json:"status,omitempty"`
	GPU               *ProviderGPU     `json:"gpu,omitempty"`
	GPUTypeID         *string          `json:"gpuTypeId,omitempty"`
	GPUCount          *int             `json:"gpuCount,omitempty"`
	GPUDisplayName    *string          `json:"gpuDisplayName,omitempty"`
	Machine           *ProviderMachine `json:"machine,omitempty"`
	ImageName         *string          `json:"imageName,omitempty"`
	Image             *string          `json:"image,omitempty"`
	VCPUCount         *float64         `json:"vcpuCount,omitempty"`
	MemoryInGB        *float64         `json:"memoryInGb,omitempty"`
	VolumeInGB        *float64         `json:"volumeInGb,omitempty"`
	ContainerDiskInGB *float64         `json:"containerDiskInGb,omitempty"`
	VolumeMountPath   *string          `json:"volumeMountPath,omitempty"`
	PublicIP          *string          `json:"publicIp,omitempty"`
	Ports             []string         `json:"ports,omitempty"`
	PortMappings      map[string]int   `json:"portMappings,omitempty"`
	CostPerHr         *float64         `json:"costPerHr,omitempty"`
	AdjustedCostPerHr *float64         `json:"adjustedCostPerHr,omitempty"`
	CreatedAt         *string          `json:"createdAt,omitempty"`
	LastStartedAt     *string          `json:"lastStartedAt,omitempty"`
}

type ProviderGPU struct {
	ID          *string `json:"id,omitempty"`
	Count       *int    `json:"count,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

type ProviderMachine struct {
	GPUTypeID *string      `json:"gpuTypeId,omitempty"`
	GPUType   *ProviderGPU `json:"gpuType,omitempty"`
}

// PodSummary is the stable, normalized view of a ProviderPod. Consumers only
// ever see this shape regardless of which provider variant was returned.
type PodSummary struct {
	ID                string         `json:"id"                yaml:"id"`
	Name              string         `json:"name"              yaml:"name"`
	Status            string         `json:"status"            yaml:"status"`
	GPUTypeID         string         `json:"gpuTypeId"         yaml:"gpuTypeId"`
	GPUDisplayName    string         `json:"gpuDisplayName"    yaml:"gpuDisplayName"`
	GPUCount          int            `json:"gpuCount"          yaml:"gpuCount"`
	ImageName         string         `json:"imageName"         yaml:"imageName"`
	CostPerHr         float64        `json:"costPerHr"         yaml:"costPerHr"`
	VCPUCount         float64        `json:"vcpuCount"         yaml:"vcpuCount"`
	MemoryInGB        float64        `json:"memoryInGb"        yaml:"memoryInGb"`
	VolumeInGB        float64        `json:"volumeInGb"        yaml:"volumeInGb"`
	ContainerDiskInGB float64        `json:"containerDiskInGb" yaml:"containerDiskInGb"`
	PublicIP          string         `json:"publicIp,omitempty" yaml:"publicIp,omitempty"`
	Ports             []string       `json:"ports,omitempty"   yaml:"ports,omitempty"`
	PortMappings      map[string]int `json:"portMappings,omitempty" yaml:"portMappings,omitempty"`
	LastStartedAt     string         `json:"lastStartedAt,omitempty" yaml:"lastStartedAt,omitempty"`
	UptimeInSeconds   int64          `json:"uptimeInSeconds"   yaml:"uptimeInSeconds"`
}

const (
	PodStatusRunning = "RUNNING"
	PodStatusExited  = "EXITED"
	PodStatusUnknown = "UNKNOWN"
)
