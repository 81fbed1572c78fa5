// Package launcher gets the packaged artifact onto a target and starts the
// plan's services. Two strategies produce the same observable result: a
// bootstrap script executed by the instance on first boot, or direct command
// execution over an established remote channel.
package launcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"log/slog"

	"github.com/skylift/skylift/internal/domain"
	"github.com/skylift/skylift/internal/remote"
)

const (
	StrategyBootstrap = "bootstrap"
	StrategyDirect    = "direct"
)

// ServiceOutcome reports how launching one service went. Under the bootstrap
// strategy there is no channel to observe failures, so every service reports
// Starting; the readiness verifier is the only signal after that.
type ServiceOutcome struct {
	Name   string
	Port   int
	Status string
	Err    error
}

// DialFunc opens a remote execution channel to a host. Injected so the
// direct strategy is testable without a live target.
type DialFunc func(ctx context.Context, host string) (remote.Runner, error)

// Launcher starts plan services on a provisioned target.
type Launcher struct {
	strategy   string
	remoteRoot string
	dial       DialFunc
	logger     *slog.Logger
}

func New(strategy, remoteRoot string, dial DialFunc, logger *slog.Logger) Launcher {
	if remoteRoot == "" {
		remoteRoot = "/opt/skylift"
	}
	return Launcher{strategy: strategy, remoteRoot: remoteRoot, dial: dial, logger: logger}
}

func (l Launcher) Strategy() string { return l.strategy }

// Launch starts every service in the plan on the target. Under the bootstrap
// strategy the work already happened at boot via the script handed to the
// provisioner, so this only reports the expected state. Under the direct
// strategy it opens the remote channel and runs the deployment commands,
// continuing past per-service failures so one broken service does not waste
// the instance.
func (l Launcher) Launch(ctx context.Context, target domain.TargetInstance, plan domain.Plan, artifactURL, projectName string) ([]ServiceOutcome, error) {
	switch l.strategy {
	case StrategyDirect:
		return l.launchDirect(ctx, target, plan, artifactURL, projectName)
	default:
		outcomes := make([]ServiceOutcome, 0, len(plan.Services))
		for _, svc := range plan.Services {
			outcomes = append(outcomes, ServiceOutcome{Name: svc.Name, Port: svc.Port, Status: domain.ServiceStarting})
		}
		l.logger.Info("bootstrap strategy: services start at first boot",
			"instance", target.ID, "services", len(outcomes))
		return outcomes, nil
	}
}

func (l Launcher) launchDirect(ctx context.Context, target domain.TargetInstance, plan domain.Plan, artifactURL, projectName string) ([]ServiceOutcome, error) {
	runner, err := l.dial(ctx, target.PublicAddress)
	if err != nil {
		return nil, fmt.Errorf("open remote channel: %w", err)
	}
	defer runner.Close()

	projectDir := l.remoteRoot + "/" + projectName
	setup := append(prepareCommands(plan), fetchCommands(artifactURL, projectName, projectDir)...)
	for _, cmd := range setup {
		if _, err := runner.Exec(ctx, cmd); err != nil {
			return nil, fmt.Errorf("prepare target: %w", err)
		}
	}

	backend, hasBackend := plan.Backend()
	outcomes := make([]ServiceOutcome, 0, len(plan.Services))
	for _, svc := range plan.Services {
		if svc.IsFrontend() && hasBackend {
			for _, cmd := range RewriteCommands(projectDir+"/"+svc.WorkingDirectory, target.PublicAddress, backend.Port) {
				if _, err := runner.Exec(ctx, cmd); err != nil {
					l.logger.Warn("loopback rewrite failed", "service", svc.Name, "error", err)
				}
			}
		}
		outcomes = append(outcomes, l.launchService(ctx, runner, projectDir, svc))
	}
	return outcomes, nil
}

// launchService runs a single service's build commands then its run command
// detached. A failed build or run aborts only this service.
func (l Launcher) launchService(ctx context.Context, runner remote.Runner, projectDir string, svc domain.ServiceSpec) ServiceOutcome {
	enter := cdClause(projectDir, svc)
	for _, build := range svc.BuildCommands {
		cmd := fmt.Sprintf("%s && %s", enter, substitutePort(build, svc.Port))
		result, err := runner.Exec(ctx, cmd)
		if err != nil {
			l.logger.Error("build command failed",
				"service", svc.Name, "command", build, "stderr", strings.TrimSpace(result.Stderr))
			return ServiceOutcome{Name: svc.Name, Port: svc.Port, Status: domain.ServiceFailed, Err: err}
		}
	}

	run := fmt.Sprintf("%s && nohup %s %s > /var/log/skylift-%s.log 2>&1 &",
		enter, envPrefix(svc), substitutePort(svc.RunCommand, svc.Port), svc.Name)
	if _, err := runner.Exec(ctx, run); err != nil {
		l.logger.Error("run command failed", "service", svc.Name, "error", err)
		return ServiceOutcome{Name: svc.Name, Port: svc.Port, Status: domain.ServiceFailed, Err: err}
	}
	l.logger.Info("service launched", "service", svc.Name, "port", svc.Port)
	return ServiceOutcome{Name: svc.Name, Port: svc.Port, Status: domain.ServiceStarting}
}

// cdClause enters the service working directory, falling back to the
// project root when the declared directory is missing after unpacking.
func cdClause(projectDir string, svc domain.ServiceSpec) string {
	wd := strings.Trim(svc.WorkingDirectory, "/")
	if wd == "" || wd == "." {
		return "cd " + projectDir
	}
	return fmt.Sprintf("cd %s/%s 2>/dev/null || cd %s", projectDir, wd, projectDir)
}

func substitutePort(cmd string, port int) string {
	return strings.ReplaceAll(cmd, domain.PortPlaceholder, fmt.Sprintf("%d", port))
}

// envPrefix builds the `env` invocation setting PORT plus any declared
// service environment, with placeholder ports substituted in values.
func envPrefix(svc domain.ServiceSpec) string {
	parts := []string{fmt.Sprintf("env PORT=%d", svc.Port)}
	for _, key := range sortedKeys(svc.Environment) {
		parts = append(parts, fmt.Sprintf("%s=%s", key, substitutePort(svc.Environment[key], svc.Port)))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// prepareCommands installs the base tooling plus whatever the plan's
// technologies need. apt failures surface as remote execution errors.
func prepareCommands(plan domain.Plan) []string {
	cmds := []string{
		"sudo apt-get update -y",
		"sudo apt-get install -y unzip wget curl",
	}
	seen := map[string]bool{}
	for _, svc := range plan.Services {
		tech := strings.ToLower(svc.Technology)
		if seen[tech] {
			continue
		}
		seen[tech] = true
		switch {
		case strings.Contains(tech, "python"):
			cmds = append(cmds, "sudo apt-get install -y python3 python3-pip python3-venv")
		case strings.Contains(tech, "node") || strings.Contains(tech, "react") || strings.Contains(tech, "next"):
			cmds = append(cmds, "sudo apt-get install -y nodejs npm")
		case strings.Contains(tech, "java") || strings.Contains(tech, "spring"):
			cmds = append(cmds, "sudo apt-get install -y default-jre maven")
		case strings.Contains(tech, "go"):
			cmds = append(cmds, "sudo apt-get install -y golang-go")
		case strings.Contains(tech, "ruby"):
			cmds = append(cmds, "sudo apt-get install -y ruby-full")
		}
	}
	return cmds
}

func fetchCommands(artifactURL, projectName, projectDir string) []string {
	archive := "/tmp/" + projectName + ".zip"
	return []string{
		fmt.Sprintf("sudo mkdir -p %s && sudo chown $(whoami) %s", projectDir, projectDir),
		fmt.Sprintf("wget -q '%s' -O %s", artifactURL, archive),
		fmt.Sprintf("unzip -o %s -d %s", archive, projectDir),
	}
}
