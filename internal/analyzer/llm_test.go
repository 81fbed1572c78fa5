package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skylift/skylift/internal/domain"
	"github.com/skylift/skylift/pkg/config"
)

func clientFor(t *testing.T, server *httptest.Server) *InferenceClient {
	t.Helper()
	cfg := config.Config{
		LLMBaseURL: server.URL,
		LLMModel:   "test-model",
		LLMAPIKey:  "test-key",
		LLMTimeout: 2 * time.Second,
	}
	return NewInferenceClient(cfg, testLogger())
}

func completionBody(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{"role": "assistant", "content": content},
		}},
	})
	return body
}

func TestPlanFromReadmeExtractsWrappedJSON(t *testing.T) {
	content := "Sure! Here is the configuration:\n```json\n" +
		`{"project_type":"full_stack","backend_technology":"python","frontend_technology":"react",` +
		`"backend_port":"8000","frontend_port":3000,` +
		`"backend_build_commands":["pip install -r requirements.txt"],` +
		`"frontend_build_commands":["npm install"],` +
		`"backend_run_command":"python -m uvicorn main:app --host 0.0.0.0 --port 8000",` +
		`"frontend_run_command":"npm start"}` +
		"\n```\nLet me know if you need anything else."

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(completionBody(content))
	}))
	defer server.Close()

	plan, err := clientFor(t, server).PlanFromReadme(context.Background(), "# readme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Services) != 2 {
		t.Fatalf("expected two services, got %d", len(plan.Services))
	}
	backend := plan.Services[0]
	if backend.Name != domain.RoleBackend || backend.Technology != "python" {
		t.Fatalf("unexpected backend: %+v", backend)
	}
	if backend.Port != 8000 {
		t.Fatalf("string port not parsed: %d", backend.Port)
	}
	if backend.WorkingDirectory != "backend" {
		t.Fatalf("full_stack backend workdir = %q", backend.WorkingDirectory)
	}
	frontend := plan.Services[1]
	if frontend.Port != 3000 || frontend.WorkingDirectory != "frontend" {
		t.Fatalf("unexpected frontend: %+v", frontend)
	}
}

func TestPlanFromReadmeNullFrontend(t *testing.T) {
	content := `{"project_type":"backend_only","backend_technology":"go","frontend_technology":null,` +
		`"backend_port":8080,"backend_build_commands":["go build -o app ."],"backend_run_command":"./app"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completionBody(content))
	}))
	defer server.Close()

	plan, err := clientFor(t, server).PlanFromReadme(context.Background(), "# readme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Services) != 1 {
		t.Fatalf("null frontend must not produce a service: %+v", plan.Services)
	}
	if plan.Services[0].WorkingDirectory != "." {
		t.Fatalf("backend_only workdir = %q", plan.Services[0].WorkingDirectory)
	}
}

func TestPlanFromReadmeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := clientFor(t, server).PlanFromReadme(context.Background(), "# readme"); err == nil {
		t.Fatalf("expected error on HTTP 500")
	}
}

func TestPlanFromReadmeNoJSONInContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completionBody("I could not determine the stack, sorry."))
	}))
	defer server.Close()

	if _, err := clientFor(t, server).PlanFromReadme(context.Background(), "# readme"); err == nil {
		t.Fatalf("expected error when response has no JSON object")
	}
}

func TestPlanFromReadmeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cfg := config.Config{LLMBaseURL: server.URL, LLMModel: "m", LLMTimeout: 20 * time.Millisecond}
	client := NewInferenceClient(cfg, testLogger())
	if _, err := client.PlanFromReadme(context.Background(), "# readme"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`leading text {"a":1} trailing`, `{"a":1}`, true},
		{`{"nested":{"b":2}}`, `{"nested":{"b":2}}`, true},
		{`{"s":"has } brace"} tail`, `{"s":"has } brace"}`, true},
		{"no braces at all", "", false},
		{"{unbalanced", "", false},
	}
	for _, tc := range cases {
		got, ok := extractJSON(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("extractJSON(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
