package domain

import (
	"fmt"
	"strings"
)

// PortPlaceholder is the token in a run command replaced by the assigned port.
const PortPlaceholder = "{port}"

// Service roles within a plan.
const (
	RoleBackend  = "backend"
	RoleFrontend = "frontend"
)

// Bounds of the range ports are allocated from when a service declares none.
const (
	PortRangeStart = 8000
	PortRangeEnd   = 8999
)

// ServiceSpec describes one process to run on the target.
type ServiceSpec struct {
	Name             string            `json:"name"`
	Technology       string            `json:"technology"`
	Framework        string            `json:"framework,omitempty"`
	WorkingDirectory string            `json:"working_directory"`
	BuildCommands    []string          `json:"build_commands,omitempty"`
	RunCommand       string            `json:"run_command"`
	Port             int               `json:"port"`
	Environment      map[string]string `json:"environment,omitempty"`
}

// IsFrontend reports whether the service plays the frontend role.
func (s ServiceSpec) IsFrontend() bool {
	return strings.EqualFold(s.Name, RoleFrontend)
}

// Plan is the analyzer's output: an ordered set of services, backend first.
type Plan struct {
	Services []ServiceSpec `json:"services"`
	Strategy string        `json:"deployment_strategy,omitempty"`
}

// Valid reports whether the plan can be deployed at all.
func (p Plan) Valid() bool {
	return len(p.Services) > 0
}

// Backend returns the first backend service, if any.
func (p Plan) Backend() (ServiceSpec, bool) {
	for _, svc := range p.Services {
		if !svc.IsFrontend() {
			return svc, true
		}
	}
	return ServiceSpec{}, false
}

// Frontend returns the first frontend service, if any.
func (p Plan) Frontend() (ServiceSpec, bool) {
	for _, svc := range p.Services {
		if svc.IsFrontend() {
			return svc, true
		}
	}
	return ServiceSpec{}, false
}

// AllocatePorts assigns a port from the non-privileged range to every service
// that lacks one, avoiding collisions with ports already taken in the plan.
func (p *Plan) AllocatePorts() error {
	taken := make(map[int]struct{}, len(p.Services))
	for _, svc := range p.Services {
		if svc.Port > 0 {
			taken[svc.Port] = struct{}{}
		}
	}
	next := PortRangeStart
	for i := range p.Services {
		if p.Services[i].Port > 0 {
			continue
		}
		for {
			if next > PortRangeEnd {
				return fmt.Errorf("port range %d-%d exhausted", PortRangeStart, PortRangeEnd)
			}
			if _, ok := taken[next]; !ok {
				break
			}
			next++
		}
		p.Services[i].Port = next
		taken[next] = struct{}{}
		next++
	}
	return nil
}
