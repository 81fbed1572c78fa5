package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/skylift/skylift/internal/domain"
	"github.com/skylift/skylift/internal/ws"
)

type fakeDeployer struct {
	result domain.Result
	path   string
}

func (f *fakeDeployer) Deploy(_ context.Context, projectPath string) domain.Result {
	f.path = projectPath
	return f.result
}

type fakeProber struct{ open bool }

func (f fakeProber) Probe(string, int) bool { return f.open }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(deployer *fakeDeployer, prober Prober, deployLimit int) *Router {
	return New(testLogger(), deployer, prober, ws.NewHub(), nil, deployLimit)
}

func TestDeployEndpointSuccess(t *testing.T) {
	deployer := &fakeDeployer{result: domain.Result{
		DeploymentID: "d-1",
		Status:       domain.StatusSuccess,
		PublicURL:    "http://54.0.0.1:8000",
		Verified:     true,
	}}
	router := newTestRouter(deployer, fakeProber{}, 100)
	defer router.Close()

	req := httptest.NewRequest(http.MethodPost, "/deploy", strings.NewReader(`{"project_path":"/srv/app"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if deployer.path != "/srv/app" {
		t.Fatalf("project path not forwarded, got %q", deployer.path)
	}
	var result domain.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.DeploymentID != "d-1" || result.PublicURL != "http://54.0.0.1:8000" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDeployEndpointFailureStatus(t *testing.T) {
	deployer := &fakeDeployer{result: domain.Result{
		Status: domain.StatusFailed,
		Error:  "provisioning failed: boom",
	}}
	router := newTestRouter(deployer, fakeProber{}, 100)
	defer router.Close()

	req := httptest.NewRequest(http.MethodPost, "/deploy", strings.NewReader(`{"project_path":"/srv/app"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for failed deployment, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "provisioning failed") {
		t.Fatalf("failure body should carry the error: %s", rec.Body.String())
	}
}

func TestDeployEndpointValidation(t *testing.T) {
	router := newTestRouter(&fakeDeployer{}, fakeProber{}, 100)
	defer router.Close()

	cases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"get not allowed", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing path", http.MethodPost, "{}", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/deploy", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestDeployRateLimit(t *testing.T) {
	router := newTestRouter(&fakeDeployer{result: domain.Result{Status: domain.StatusSuccess}}, fakeProber{}, 1)
	defer router.Close()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/deploy", strings.NewReader(`{"project_path":"/srv/app"}`))
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("first request should pass, got %d", rec.Code)
		}
		if i == 1 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("second request should be limited, got %d", rec.Code)
			}
			if rec.Header().Get("X-RateLimit-Limit") != "1" {
				t.Fatalf("missing rate limit headers: %v", rec.Header())
			}
		}
	}
}

func TestProgressEndpoint(t *testing.T) {
	cases := []struct {
		name   string
		target string
		open   bool
		want   string
	}{
		{"deployed", "/deploy/progress?address=54.0.0.1&port=8000", true, "deployed"},
		{"deploying", "/deploy/progress?address=54.0.0.1&port=8000", false, "deploying"},
		{"missing address", "/deploy/progress?port=8000", true, "unknown"},
		{"bad port", "/deploy/progress?address=54.0.0.1&port=nope", true, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeDeployer{}, fakeProber{open: tc.open}, 100)
			defer router.Close()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var payload map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload["status"] != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, payload["status"])
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeDeployer{}, fakeProber{}, 100)
	defer router.Close()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&fakeDeployer{}, fakeProber{}, 100)
	defer router.Close()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProgressWebsocketReceivesSteps(t *testing.T) {
	hub := ws.NewHub()
	router := New(testLogger(), &fakeDeployer{}, fakeProber{}, hub, nil, 100)
	defer router.Close()

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/progress?deployment_id=d-7"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// registration races the broadcast; retry until the subscriber is in
	done := make(chan string, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err == nil {
			done <- string(payload)
		}
	}()
	sink := ws.NewProgressSink(hub)
	for i := 0; i < 20; i++ {
		sink.Publish("d-7", "Provisioned compute instance")
		select {
		case msg := <-done:
			if !strings.Contains(msg, "Provisioned compute instance") {
				t.Fatalf("unexpected message: %s", msg)
			}
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	t.Fatal("websocket client never received a progress event")
}

func TestProgressWebsocketRequiresDeploymentID(t *testing.T) {
	router := newTestRouter(&fakeDeployer{}, fakeProber{}, 100)
	defer router.Close()

	req := httptest.NewRequest(http.MethodGet, "/ws/progress", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
