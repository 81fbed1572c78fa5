package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/skylift/skylift/internal/domain"
	"github.com/skylift/skylift/pkg/config"
)

// AnalysisError reports a failed remote inference or parse attempt. It is
// always recoverable: the analyzer falls back to marker detection.
type AnalysisError struct {
	Stage string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// InferenceClient calls a chat-completions style endpoint to turn a README
// into a deployment plan. The response body is treated as untrusted: the
// plan JSON may be wrapped in prose or code fences.
type InferenceClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewInferenceClient constructs a client from service configuration.
func NewInferenceClient(cfg config.Config, logger *slog.Logger) *InferenceClient {
	return &InferenceClient{
		baseURL: strings.TrimRight(cfg.LLMBaseURL, "/"),
		apiKey:  cfg.LLMAPIKey,
		model:   cfg.LLMModel,
		client:  &http.Client{Timeout: cfg.LLMTimeout},
		logger:  logger,
	}
}

const planPrompt = `You are a universal deployment expert. Analyze this project and detect ANY programming language and framework.

Project Content:
%s

BACKEND TECHNOLOGIES: Python (FastAPI, Django, Flask), Node.js (Express, NestJS, Koa), Java (Spring Boot, Quarkus), C# (.NET Core), Go (Gin, Echo, Fiber, Chi), PHP (Laravel, Symfony), Ruby (Rails, Sinatra), Rust (Actix-web, Axum), Kotlin (Ktor), Scala (Play), Elixir (Phoenix).
FRONTEND TECHNOLOGIES: React (CRA, Next.js), Vue.js (Nuxt, Vite), Angular, Svelte, Static HTML/CSS/JS.

PROJECT TYPE: "frontend_only" | "backend_only" | "full_stack".

COMMAND CONVERSION (Windows to Ubuntu): "python" -> "python3", "pip" -> "pip3", "py" -> "python3".

PORT ASSIGNMENTS: Python 8000, Node.js 3000, Java 8080, Go 8080, PHP 8000, Ruby 3000, C# 5000, Rust 8000; frontend React/Vue/Angular 3000, Static 8080.

Return JSON only, no explanations:
{
  "project_type": "frontend_only" | "backend_only" | "full_stack",
  "backend_technology": "detected_language" | null,
  "frontend_technology": "detected_framework" | null,
  "backend_port": port_number,
  "frontend_port": port_number | null,
  "backend_build_commands": ["command"],
  "frontend_build_commands": ["command"] | null,
  "backend_run_command": "run_command",
  "frontend_run_command": "run_command" | null
}`

// PlanFromReadme sends the README text for inference and converts the reply
// into a Plan. Commands are not yet translated; the analyzer does that.
func (c *InferenceClient) PlanFromReadme(ctx context.Context, readme string) (domain.Plan, error) {
	content, err := c.complete(ctx, fmt.Sprintf(planPrompt, readme))
	if err != nil {
		return domain.Plan{}, &AnalysisError{Stage: "inference", Err: err}
	}
	raw, ok := extractJSON(content)
	if !ok {
		return domain.Plan{}, &AnalysisError{Stage: "parse", Err: fmt.Errorf("no JSON object in response")}
	}
	plan := planFromConfig(raw)
	if !plan.Valid() {
		return domain.Plan{}, &AnalysisError{Stage: "parse", Err: fmt.Errorf("response declares no services")}
	}
	return plan, nil
}

func (c *InferenceClient) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":       c.model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": 0.1,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference request failed: status %d", resp.StatusCode)
	}
	content := gjson.GetBytes(body, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("inference returned empty content")
	}
	return content, nil
}

// extractJSON returns the first balanced {...} span in s that parses as a
// JSON object. Braces inside string literals are ignored.
func extractJSON(s string) (string, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			ch := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if gjson.Valid(candidate) {
						return candidate, true
					}
					i = len(s)
				}
			}
		}
	}
	return "", false
}

// planFromConfig maps the inference wire format onto services, backend first.
// Ports arrive as numbers or quoted strings; gjson tolerates both.
func planFromConfig(raw string) domain.Plan {
	doc := gjson.Parse(raw)
	projectType := doc.Get("project_type").String()

	var plan domain.Plan
	plan.Strategy = "readme_based"

	if tech := nullableString(doc.Get("backend_technology")); tech != "" {
		workdir := "."
		if projectType == "full_stack" {
			workdir = domain.RoleBackend
		}
		port := int(doc.Get("backend_port").Int())
		if port <= 0 {
			port = 8000
		}
		plan.Services = append(plan.Services, domain.ServiceSpec{
			Name:             domain.RoleBackend,
			Technology:       tech,
			Framework:        "from_readme",
			WorkingDirectory: workdir,
			BuildCommands:    stringSlice(doc.Get("backend_build_commands")),
			RunCommand:       doc.Get("backend_run_command").String(),
			Port:             port,
		})
	}

	if tech := nullableString(doc.Get("frontend_technology")); tech != "" {
		workdir := domain.RoleFrontend
		port := int(doc.Get("frontend_port").Int())
		if port <= 0 {
			port = 3000
		}
		if projectType == "frontend_only" {
			workdir = "."
			if doc.Get("frontend_port").Int() <= 0 {
				port = 8080
			}
		}
		plan.Services = append(plan.Services, domain.ServiceSpec{
			Name:             domain.RoleFrontend,
			Technology:       tech,
			Framework:        "from_readme",
			WorkingDirectory: workdir,
			BuildCommands:    stringSlice(doc.Get("frontend_build_commands")),
			RunCommand:       doc.Get("frontend_run_command").String(),
			Port:             port,
		})
	}

	return plan
}

func nullableString(r gjson.Result) string {
	v := strings.TrimSpace(r.String())
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}

func stringSlice(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	r.ForEach(func(_, item gjson.Result) bool {
		if v := strings.TrimSpace(item.String()); v != "" {
			out = append(out, v)
		}
		return true
	})
	return out
}
