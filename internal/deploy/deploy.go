// Package deploy sequences a full deployment: analyze, package, provision,
// launch, verify. The coordinator owns the plan and result for the lifetime
// of one call and converts every component failure into a structured failure
// result; it never lets a fault escape to the caller.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/skylift/skylift/internal/archive"
	"github.com/skylift/skylift/internal/domain"
	"github.com/skylift/skylift/internal/launcher"
	"github.com/skylift/skylift/pkg/config"
)

// Completed-step descriptions, reported in order on the result.
const (
	stepAnalyzed    = "Analyzed project structure"
	stepPackaged    = "Packaged and uploaded project"
	stepProvisioned = "Provisioned compute instance"
	stepLaunched    = "Started application services"
	stepVerified    = "Verified service reachability"
)

// Analyzer produces a deployment plan for a project directory.
type Analyzer interface {
	Analyze(ctx context.Context, dir string) domain.Plan
}

// Uploader stores a packaged artifact and returns its fetchable URL.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader) (string, error)
}

// Provisioner obtains a running compute target for a project.
type Provisioner interface {
	Provision(ctx context.Context, projectTag, userData string) (domain.TargetInstance, error)
}

// Launcher starts plan services on a target.
type Launcher interface {
	Strategy() string
	BootstrapScript(plan domain.Plan, artifactURL, projectName string) string
	Launch(ctx context.Context, target domain.TargetInstance, plan domain.Plan, artifactURL, projectName string) ([]launcher.ServiceOutcome, error)
}

// Verifier polls service ports until reachable or timed out.
type Verifier interface {
	Verify(ctx context.Context, address string, ports []int, maxWait, interval time.Duration) bool
}

// EventSink receives progress events for one deployment, keyed by its ID.
type EventSink interface {
	Publish(deploymentID, step string)
}

type noopSink struct{}

func (noopSink) Publish(string, string) {}

// Service coordinates deployments.
type Service struct {
	analyzer    Analyzer
	uploader    Uploader
	provisioner Provisioner
	launcher    Launcher
	verifier    Verifier
	events      EventSink
	pack        func(sourceDir string, w io.Writer) error
	cfg         config.Config
	logger      *slog.Logger
}

func New(analyzer Analyzer, uploader Uploader, provisioner Provisioner, l Launcher, verifier Verifier, events EventSink, cfg config.Config, logger *slog.Logger) Service {
	if events == nil {
		events = noopSink{}
	}
	return Service{
		analyzer:    analyzer,
		uploader:    uploader,
		provisioner: provisioner,
		launcher:    l,
		verifier:    verifier,
		events:      events,
		pack:        archive.Pack,
		cfg:         cfg,
		logger:      logger,
	}
}

// Deploy runs the pipeline end to end and always returns a Result: success,
// degraded success (services launched but verification timed out), or a
// structured failure naming the step that broke.
func (s Service) Deploy(ctx context.Context, projectPath string) domain.Result {
	id := uuid.NewString()
	name := archive.SafeName(filepath.Base(projectPath))
	log := s.logger.With("deployment_id", id, "project", name)
	log.Info("deployment started", "path", projectPath)

	var steps []string
	advance := func(step string) {
		steps = append(steps, step)
		s.events.Publish(id, step)
		log.Info("step completed", "step", step)
	}

	plan := s.analyzer.Analyze(ctx, projectPath)
	if err := plan.AllocatePorts(); err != nil {
		return s.failure(id, name, steps, "port allocation", err)
	}
	advance(stepAnalyzed)

	var buf bytes.Buffer
	if err := s.pack(projectPath, &buf); err != nil {
		return s.failure(id, name, steps, "packaging", err)
	}
	artifactURL, err := s.uploader.Upload(ctx, name, &buf)
	if err != nil {
		return s.failure(id, name, steps, "artifact upload", err)
	}
	advance(stepPackaged)

	userData := ""
	if s.launcher.Strategy() == launcher.StrategyBootstrap {
		userData = s.launcher.BootstrapScript(plan, artifactURL, name)
	}
	target, err := s.provisioner.Provision(ctx, name, userData)
	if err != nil {
		return s.failure(id, name, steps, "provisioning", err)
	}
	advance(stepProvisioned)

	outcomes, err := s.launcher.Launch(ctx, target, plan, artifactURL, name)
	if err != nil {
		return s.failure(id, name, steps, "launch", err)
	}
	advance(stepLaunched)

	verified := s.verifier.Verify(ctx, target.PublicAddress,
		launchedPorts(outcomes), s.cfg.VerifyMaxWait, s.cfg.VerifyInterval)
	if verified {
		advance(stepVerified)
	} else {
		log.Warn("verification timed out, reporting degraded success")
	}

	result := domain.Result{
		DeploymentID: id,
		Status:       domain.StatusSuccess,
		ProjectName:  name,
		Technology:   planTechnology(plan),
		InstanceID:   target.ID,
		Services:     serviceStatuses(target.PublicAddress, outcomes, verified),
		Steps:        steps,
		Verified:     verified,
		Timestamp:    time.Now().UTC(),
	}
	result.PublicURL = publicURL(target.PublicAddress, plan, outcomes)
	log.Info("deployment finished", "status", result.Status, "verified", verified, "url", result.PublicURL)
	return result
}

func (s Service) failure(id, name string, steps []string, stage string, err error) domain.Result {
	s.logger.Error("deployment failed", "deployment_id", id, "project", name, "stage", stage, "error", err)
	s.events.Publish(id, "failed: "+stage)
	return domain.Result{
		DeploymentID: id,
		Status:       domain.StatusFailed,
		ProjectName:  name,
		Steps:        steps,
		Error:        fmt.Sprintf("%s failed: %v", stage, err),
		ErrorTrace:   fmt.Sprintf("stage=%s err=%+v", stage, err),
		Timestamp:    time.Now().UTC(),
	}
}

// launchedPorts returns the ports worth verifying: services that already
// failed to launch are excluded so one broken sibling cannot mask the rest.
func launchedPorts(outcomes []launcher.ServiceOutcome) []int {
	ports := make([]int, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status != domain.ServiceFailed && o.Port > 0 {
			ports = append(ports, o.Port)
		}
	}
	return ports
}

func serviceStatuses(address string, outcomes []launcher.ServiceOutcome, verified bool) []domain.ServiceStatus {
	statuses := make([]domain.ServiceStatus, 0, len(outcomes))
	for _, o := range outcomes {
		status := o.Status
		if status == domain.ServiceStarting && verified {
			status = domain.ServiceDeployed
		}
		entry := domain.ServiceStatus{
			Name:   o.Name,
			Port:   o.Port,
			Status: status,
		}
		if status != domain.ServiceFailed {
			entry.URL = fmt.Sprintf("http://%s:%d", address, o.Port)
		}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		statuses = append(statuses, entry)
	}
	return statuses
}

// publicURL prefers the frontend, then the backend, then a plain
// address-and-port placeholder from the first launched service.
func publicURL(address string, plan domain.Plan, outcomes []launcher.ServiceOutcome) string {
	port := func(name string) (int, bool) {
		for _, o := range outcomes {
			if o.Name == name && o.Status != domain.ServiceFailed {
				return o.Port, true
			}
		}
		return 0, false
	}
	if fe, ok := plan.Frontend(); ok {
		if p, ok := port(fe.Name); ok {
			return fmt.Sprintf("http://%s:%d", address, p)
		}
	}
	if be, ok := plan.Backend(); ok {
		if p, ok := port(be.Name); ok {
			return fmt.Sprintf("http://%s:%d", address, p)
		}
	}
	if len(outcomes) > 0 {
		return fmt.Sprintf("http://%s:%d", address, outcomes[0].Port)
	}
	return "http://" + address
}

func planTechnology(plan domain.Plan) string {
	if be, ok := plan.Backend(); ok {
		return be.Technology
	}
	if len(plan.Services) > 0 {
		return plan.Services[0].Technology
	}
	return ""
}
