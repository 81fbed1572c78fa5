// Package analyzer turns a project directory into a deployment plan. It
// prefers remote inference over a README, falls back to marker-file
// detection, and finally to a deterministic default plan. Analyze never
// fails.
package analyzer

import (
	"context"
	"os"
	"path/filepath"

	"log/slog"

	"github.com/skylift/skylift/internal/command"
	"github.com/skylift/skylift/internal/domain"
)

// Inference abstracts the remote call so tests can fake it.
type Inference interface {
	PlanFromReadme(ctx context.Context, readme string) (domain.Plan, error)
}

// Analyzer produces deployment plans from project directories.
type Analyzer struct {
	inference Inference
	logger    *slog.Logger
}

// New constructs an Analyzer. A nil inference disables the README path.
func New(inference Inference, logger *slog.Logger) Analyzer {
	return Analyzer{inference: inference, logger: logger}
}

// readmeNames are the README spellings checked at the project root.
var readmeNames = []string{"README.md", "readme.md", "README.MD", "README.txt", "README"}

// Analyze inspects the project and returns a plan. When a README exists and
// the inference call returns a parseable plan, that plan is authoritative;
// marker detection runs only when inference is unavailable or unparseable.
// On total failure the default python plan is returned, never an empty one.
func (a Analyzer) Analyze(ctx context.Context, dir string) domain.Plan {
	if readme, ok := a.readReadme(dir); ok && a.inference != nil {
		plan, err := a.inference.PlanFromReadme(ctx, readme)
		if err == nil && plan.Valid() {
			a.logger.Info("analysis complete", "source", "inference", "services", len(plan.Services))
			return a.translated(plan)
		}
		if err != nil {
			a.logger.Warn("inference analysis failed, falling back to structure", "error", err)
		}
	}

	plan := planFromMarkers(dir)
	if plan.Valid() {
		a.logger.Info("analysis complete", "source", "structure", "services", len(plan.Services))
		return a.translated(plan)
	}

	a.logger.Info("analysis found nothing, using default plan")
	return a.translated(fallbackPlan())
}

// translated runs every stored command through the OS command translator.
func (a Analyzer) translated(plan domain.Plan) domain.Plan {
	for i := range plan.Services {
		plan.Services[i].BuildCommands = command.TranslateAll(plan.Services[i].BuildCommands)
		plan.Services[i].RunCommand = command.Translate(plan.Services[i].RunCommand)
	}
	return plan
}

func (a Analyzer) readReadme(dir string) (string, bool) {
	for _, name := range readmeNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if len(data) == 0 {
			continue
		}
		a.logger.Info("found readme", "path", path)
		return string(data), true
	}
	return "", false
}
