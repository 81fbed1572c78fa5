package analyzer

import (
	"os"
	"path/filepath"

	"github.com/skylift/skylift/internal/domain"
)

// convention fixes technology, framework, default port and commands for a
// marker file found during structure analysis.
type convention struct {
	technology string
	framework  string
	port       int
	build      []string
	run        string
}

// marker files checked in order within each candidate directory. First match
// wins, so more specific manifests come before generic ones.
var backendMarkers = []struct {
	file string
	conv convention
}{
	{"requirements.txt", convention{
		technology: "python",
		framework:  "fastapi",
		port:       8000,
		build:      []string{"pip3 install -r requirements.txt"},
		run:        "python3 -m uvicorn main:app --host 0.0.0.0 --port {port}",
	}},
	{"go.mod", convention{
		technology: "go",
		framework:  "gin",
		port:       8080,
		build:      []string{"go mod download", "go build -o app ."},
		run:        "./app",
	}},
	{"pom.xml", convention{
		technology: "java",
		framework:  "spring",
		port:       8080,
		build:      []string{"mvn clean install -DskipTests"},
		run:        "java -jar target/*.jar",
	}},
	{"build.gradle", convention{
		technology: "java",
		framework:  "spring",
		port:       8080,
		build:      []string{"gradle build -x test"},
		run:        "java -jar build/libs/*.jar",
	}},
	{"Gemfile", convention{
		technology: "ruby",
		framework:  "rails",
		port:       3000,
		build:      []string{"bundle install"},
		run:        "rails server -b 0.0.0.0 -p {port}",
	}},
	{"package.json", convention{
		technology: "node",
		framework:  "express",
		port:       3000,
		build:      []string{"npm install"},
		run:        "npm start",
	}},
}

var frontendConvention = convention{
	technology: "react",
	framework:  "react",
	port:       3000,
	build:      []string{"npm install"},
	run:        "npm start",
}

// fallbackPlan is the deterministic default when nothing can be detected:
// a single python backend served from the project root.
func fallbackPlan() domain.Plan {
	return domain.Plan{
		Strategy: "default",
		Services: []domain.ServiceSpec{{
			Name:             domain.RoleBackend,
			Technology:       "python",
			Framework:        "fastapi",
			WorkingDirectory: ".",
			BuildCommands:    []string{"pip3 install -r requirements.txt"},
			RunCommand:       "python3 -m uvicorn main:app --host 0.0.0.0 --port {port}",
		}},
	}
}

// planFromMarkers inspects canonical subdirectories for marker files and maps
// each hit through the convention table. Backend is always listed before
// frontend. The returned plan may be empty; the analyzer handles that.
func planFromMarkers(dir string) domain.Plan {
	var plan domain.Plan
	plan.Strategy = "structure"

	backendDir := filepath.Join(dir, domain.RoleBackend)
	if dirExists(backendDir) {
		if svc, ok := backendService(backendDir, domain.RoleBackend); ok {
			plan.Services = append(plan.Services, svc)
		}
	}

	frontendDir := filepath.Join(dir, domain.RoleFrontend)
	if dirExists(frontendDir) && fileExists(filepath.Join(frontendDir, "package.json")) {
		plan.Services = append(plan.Services, domain.ServiceSpec{
			Name:             domain.RoleFrontend,
			Technology:       frontendConvention.technology,
			Framework:        frontendConvention.framework,
			WorkingDirectory: domain.RoleFrontend,
			BuildCommands:    append([]string(nil), frontendConvention.build...),
			RunCommand:       frontendConvention.run,
			Port:             frontendConvention.port,
		})
	}

	if len(plan.Services) == 0 {
		if svc, ok := backendService(dir, "."); ok {
			plan.Services = append(plan.Services, svc)
		}
	}
	return plan
}

func backendService(dir, workdir string) (domain.ServiceSpec, bool) {
	for _, m := range backendMarkers {
		if !fileExists(filepath.Join(dir, m.file)) {
			continue
		}
		return domain.ServiceSpec{
			Name:             domain.RoleBackend,
			Technology:       m.conv.technology,
			Framework:        m.conv.framework,
			WorkingDirectory: workdir,
			BuildCommands:    append([]string(nil), m.conv.build...),
			RunCommand:       m.conv.run,
			Port:             m.conv.port,
		}, true
	}
	return domain.ServiceSpec{}, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
