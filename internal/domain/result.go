package domain

import "time"

// Instance lifecycle states.
const (
	StateProvisioning = "provisioning"
	StateRunning      = "running"
	StateUnreachable  = "unreachable"
	StateTerminated   = "terminated"
)

// TargetInstance is a provisioned or reused compute endpoint.
type TargetInstance struct {
	ID            string `json:"instance_id"`
	PublicAddress string `json:"public_ip"`
	State         string `json:"state"`
	Reused        bool   `json:"reused,omitempty"`
}

// Per-service deployment statuses.
const (
	ServiceDeployed = "deployed"
	ServiceStarting = "starting"
	ServiceFailed   = "failed"
)

// ServiceStatus summarizes one launched service.
type ServiceStatus struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Port   int    `json:"port"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Deployment result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Result is the coordinator's output, returned to the caller. A failed
// deployment carries only Error and ErrorTrace; callers never receive a
// half-populated success record.
type Result struct {
	DeploymentID string          `json:"deployment_id"`
	Status       string          `json:"status"`
	ProjectName  string          `json:"project_name"`
	Technology   string          `json:"technology,omitempty"`
	InstanceID   string          `json:"instance_id,omitempty"`
	PublicURL    string          `json:"public_url,omitempty"`
	Services     []ServiceStatus `json:"services,omitempty"`
	Steps        []string        `json:"deployment_steps,omitempty"`
	Verified     bool            `json:"verified"`
	Error        string          `json:"error,omitempty"`
	ErrorTrace   string          `json:"error_trace,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}
