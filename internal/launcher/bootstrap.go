package launcher

import (
	"fmt"
	"strings"

	"github.com/skylift/skylift/internal/domain"
)

// BootstrapScript renders the first-boot script for the bootstrap strategy.
// The provisioner hands it to the instance at creation time; it installs
// tooling, fetches and unpacks the artifact, applies the loopback rewrite
// for frontends, then starts each service detached with its output in a
// per-service log. Build failures inside a service's block stop only that
// block. There is no channel to report errors back, so everything logs to
// the bootstrap log on the instance.
func (l Launcher) BootstrapScript(plan domain.Plan, artifactURL, projectName string) string {
	projectDir := l.remoteRoot + "/" + projectName

	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("exec > /var/log/skylift-bootstrap.log 2>&1\n")
	b.WriteString("set -x\n\n")

	for _, cmd := range prepareCommands(plan) {
		b.WriteString(stripSudo(cmd) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("mkdir -p %s\n", projectDir))
	b.WriteString(fmt.Sprintf("wget -q '%s' -O /tmp/%s.zip\n", artifactURL, projectName))
	b.WriteString(fmt.Sprintf("unzip -o /tmp/%s.zip -d %s\n\n", projectName, projectDir))

	// The instance does not know its public address until boot; resolve it
	// from instance metadata so the rewrite points at a reachable host.
	backend, hasBackend := plan.Backend()
	_, hasFrontend := plan.Frontend()
	if hasBackend && hasFrontend {
		b.WriteString("PUBLIC_IP=$(curl -s --max-time 5 http://169.254.169.254/latest/meta-data/public-ipv4)\n\n")
	}

	for _, svc := range plan.Services {
		b.WriteString(fmt.Sprintf("# service: %s\n", svc.Name))
		b.WriteString("(\n")
		b.WriteString("  " + cdClause(projectDir, svc) + "\n")
		if svc.IsFrontend() && hasBackend {
			for _, pair := range RewriteTable("${PUBLIC_IP}", backend.Port) {
				b.WriteString(fmt.Sprintf(
					"  find . -type f \\( %s \\) -exec sed -i \"s|%s|%s|g\" {} + 2>/dev/null || true\n",
					extensionMatch(), pair[0], pair[1]))
			}
		}
		for _, build := range svc.BuildCommands {
			b.WriteString("  " + substitutePort(build, svc.Port) + " &&\n")
		}
		b.WriteString(fmt.Sprintf("  nohup %s %s > /var/log/skylift-%s.log 2>&1 &\n",
			envPrefix(svc), substitutePort(svc.RunCommand, svc.Port), svc.Name))
		b.WriteString(")\n\n")
	}

	b.WriteString("echo 'bootstrap complete'\n")
	return b.String()
}

func extensionMatch() string {
	var names []string
	for _, ext := range rewriteExtensions {
		names = append(names, fmt.Sprintf("-name '*%s'", ext))
	}
	return strings.Join(names, " -o ")
}

// stripSudo drops the sudo prefix: the bootstrap script already runs as root.
func stripSudo(cmd string) string {
	return strings.TrimPrefix(cmd, "sudo ")
}
