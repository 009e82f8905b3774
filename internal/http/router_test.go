package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oestradiol/Voyager-Backend/internal/apperr"
	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/service/deploy"
	"github.com/oestradiol/Voyager-Backend/internal/ws"
)

const testKey = "s3cret-key"

type deploymentsStub struct {
	mu         sync.Mutex
	created    []deploy.Request
	createErr  error
	lastFilter domain.Filter
	items      map[string]domain.Deployment
	deleted    []string
	restarted  []string
	logs       []string
}

func newDeploymentsStub() *deploymentsStub {
	return &deploymentsStub{items: map[string]domain.Deployment{
		"dep-1": {ID: "dep-1", Host: "foo.example.com", Mode: domain.ModeProduction, ContainerName: "foo-example-com"},
	}}
}

func (s *deploymentsStub) Create(_ context.Context, req deploy.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created = append(s.created, req)
	return "dep-new", nil
}

func (s *deploymentsStub) List(_ context.Context, filter domain.Filter) ([]domain.Deployment, error) {
	s.lastFilter = filter
	out := make([]domain.Deployment, 0, len(s.items))
	for _, d := range s.items {
		out = append(out, d)
	}
	return out, nil
}

func (s *deploymentsStub) Get(_ context.Context, id string) (*domain.Deployment, error) {
	d, ok := s.items[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "deployment not found")
	}
	return &d, nil
}

func (s *deploymentsStub) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *deploymentsStub) Logs(ctx context.Context, id string) ([]string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logs, nil
}

func (s *deploymentsStub) Restart(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	s.restarted = append(s.restarted, id)
	return nil
}

type envelope struct {
	Logs struct {
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	} `json:"logs"`
	ID             string              `json:"id"`
	Host           string              `json:"host"`
	Deployment     *domain.Deployment  `json:"deployment"`
	Deployments    []domain.Deployment `json:"deployments"`
	DeploymentLogs []string            `json:"deploymentLogs"`
	Components     map[string]any      `json:"components"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, svc Deployments, opts Options) *Router {
	t.Helper()
	if opts.APIKey == "" {
		opts.APIKey = testKey
	}
	if opts.BaseDomain == "" {
		opts.BaseDomain = "example.com"
	}
	r := NewRouter(discardLogger(), svc, opts)
	t.Cleanup(r.Close)
	return r
}

func do(t *testing.T, h http.Handler, method, target, key string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var body envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, target, err, rr.Body.String())
		}
	}
	return rr, body
}

func TestCreateDeployment(t *testing.T) {
	svc := newDeploymentsStub()
	router := newTestRouter(t, svc, Options{})

	rr, body := do(t, router, http.MethodPost, "/api/v1/deployments?mode=Preview&repoUrl=org/app@dev&subdomain=Shop", testKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if body.ID != "dep-new" || body.Host != "shop-preview.example.com" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Logs.Errors == nil || len(body.Logs.Errors) != 0 {
		t.Fatalf("expected empty error list, got %v", body.Logs.Errors)
	}
	if len(svc.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(svc.created))
	}
	want := deploy.Request{Host: "shop-preview.example.com", Mode: domain.ModePreview, RepoURL: "org/app", Branch: "dev"}
	if svc.created[0] != want {
		t.Fatalf("expected %+v, got %+v", want, svc.created[0])
	}
}

func TestCreateDeploymentValidation(t *testing.T) {
	cases := []struct {
		name   string
		target string
		want   string
	}{
		{"missing mode", "/api/v1/deployments?repoUrl=org/app", "mode is required"},
		{"bad mode", "/api/v1/deployments?mode=staging&repoUrl=org/app", "mode must be one of: preview production"},
		{"missing repo", "/api/v1/deployments?mode=preview", "repoUrl is required"},
		{"bad subdomain", "/api/v1/deployments?mode=preview&repoUrl=org/app&subdomain=-x", "invalid subdomain"},
		{"empty branch", "/api/v1/deployments?mode=preview&repoUrl=org/app@", "branch after '@' cannot be empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newDeploymentsStub()
			router := newTestRouter(t, svc, Options{})
			rr, body := do(t, router, http.MethodPost, tc.target, testKey)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if len(body.Logs.Errors) == 0 || !strings.Contains(strings.Join(body.Logs.Errors, ";"), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, body.Logs.Errors)
			}
			if len(svc.created) != 0 {
				t.Fatal("service must not be called for invalid input")
			}
		})
	}
}

func TestCreateDeploymentMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{apperr.Validation("deployment with host already exists"), http.StatusBadRequest, "deployment with host already exists"},
		{apperr.Wrap(apperr.KindTimeout, "deployment is still in progress", context.DeadlineExceeded), http.StatusGatewayTimeout, "deployment is still in progress"},
		{apperr.Internal("failed to build image", errors.New("daemon exploded")), http.StatusInternalServerError, "failed to build image"},
		{errors.New("raw failure"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		svc := newDeploymentsStub()
		svc.createErr = tc.err
		router := newTestRouter(t, svc, Options{})
		rr, body := do(t, router, http.MethodPost, "/api/v1/deployments?mode=production&repoUrl=org/app", testKey)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		if len(body.Logs.Errors) != 1 || body.Logs.Errors[0] != tc.msg {
			t.Fatalf("%v: unexpected errors %v", tc.err, body.Logs.Errors)
		}
		if strings.Contains(rr.Body.String(), "daemon exploded") {
			t.Fatal("internal error detail leaked to the client")
		}
	}
}

func TestAPIKeyRequired(t *testing.T) {
	router := newTestRouter(t, newDeploymentsStub(), Options{})
	for _, key := range []string{"", "wrong", testKey + "x"} {
		rr, body := do(t, router, http.MethodGet, "/api/v1/deployments", key)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: expected 401, got %d", key, rr.Code)
		}
		if body.Logs.Message != http.StatusText(http.StatusUnauthorized) {
			t.Fatalf("unexpected message %q", body.Logs.Message)
		}
		if len(body.Logs.Errors) != 1 || body.Logs.Errors[0] != "invalid or missing API key" {
			t.Fatalf("unexpected errors %v", body.Logs.Errors)
		}
	}
}

func TestReadRoutes(t *testing.T) {
	svc := newDeploymentsStub()
	svc.logs = []string{"listening on :3000"}
	router := newTestRouter(t, svc, Options{})

	rr, body := do(t, router, http.MethodGet, "/api/v1/deployments?repoUrl=org/app&branch=main", testKey)
	if rr.Code != http.StatusOK || len(body.Deployments) != 1 {
		t.Fatalf("list: status %d body %+v", rr.Code, body)
	}
	if svc.lastFilter != (domain.Filter{RepoURL: "org/app", Branch: "main"}) {
		t.Fatalf("unexpected filter %+v", svc.lastFilter)
	}

	rr, body = do(t, router, http.MethodGet, "/api/v1/deployments/dep-1", testKey)
	if rr.Code != http.StatusOK || body.Deployment == nil || body.Deployment.Host != "foo.example.com" {
		t.Fatalf("get: status %d body %+v", rr.Code, body)
	}

	rr, _ = do(t, router, http.MethodGet, "/api/v1/deployments/missing", testKey)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get missing: expected 404, got %d", rr.Code)
	}

	rr, body = do(t, router, http.MethodGet, "/api/v1/deployments/dep-1/logs", testKey)
	if rr.Code != http.StatusOK || len(body.DeploymentLogs) != 1 || body.DeploymentLogs[0] != "listening on :3000" {
		t.Fatalf("logs: status %d body %+v", rr.Code, body)
	}
}

func TestDeleteAndRestart(t *testing.T) {
	svc := newDeploymentsStub()
	router := newTestRouter(t, svc, Options{})

	if rr, _ := do(t, router, http.MethodPost, "/api/v1/deployments/dep-1/restart", testKey); rr.Code != http.StatusOK {
		t.Fatalf("restart: expected 200, got %d", rr.Code)
	}
	if rr, _ := do(t, router, http.MethodDelete, "/api/v1/deployments/dep-1", testKey); rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	if rr, _ := do(t, router, http.MethodDelete, "/api/v1/deployments/nope", testKey); rr.Code != http.StatusNotFound {
		t.Fatalf("delete missing: expected 404, got %d", rr.Code)
	}
	if len(svc.restarted) != 1 || len(svc.deleted) != 1 {
		t.Fatalf("unexpected calls restarted=%v deleted=%v", svc.restarted, svc.deleted)
	}
}

func TestCreateRateLimited(t *testing.T) {
	svc := newDeploymentsStub()
	router := newTestRouter(t, svc, Options{RateLimit: 1, RateWindow: time.Hour})

	target := "/api/v1/deployments?mode=preview&repoUrl=org/app"
	if rr, _ := do(t, router, http.MethodPost, target, testKey); rr.Code != http.StatusCreated {
		t.Fatalf("expected first create to pass, got %d", rr.Code)
	}
	rr, _ := do(t, router, http.MethodPost, target, testKey)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "1" || rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected rate headers %v", rr.Header())
	}
	if len(svc.created) != 1 {
		t.Fatalf("expected one create, got %d", len(svc.created))
	}
}

func createFrom(t *testing.T, h http.Handler, remoteAddr, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments?mode=preview&repoUrl=org/app", nil)
	req.Header.Set(apiKeyHeader, testKey)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestCreateRateLimitIgnoresForwardedFor(t *testing.T) {
	svc := newDeploymentsStub()
	router := newTestRouter(t, svc, Options{RateLimit: 1, RateWindow: time.Hour})

	for i := 1; i <= 5; i++ {
		code := createFrom(t, router, "192.0.2.1:1234", fmt.Sprintf("10.0.0.%d", i))
		want := http.StatusTooManyRequests
		if i == 1 {
			want = http.StatusCreated
		}
		if code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, code)
		}
	}
	if len(svc.created) != 1 {
		t.Fatalf("expected one create, got %d", len(svc.created))
	}
	if code := createFrom(t, router, "192.0.2.2:1234", ""); code != http.StatusCreated {
		t.Fatalf("expected a different peer to have its own budget, got %d", code)
	}
}

func TestCreateRateLimitTrustedProxy(t *testing.T) {
	svc := newDeploymentsStub()
	router := newTestRouter(t, svc, Options{RateLimit: 1, RateWindow: time.Hour, TrustProxy: true})

	if code := createFrom(t, router, "192.0.2.1:1234", "10.0.0.1, 192.0.2.1"); code != http.StatusCreated {
		t.Fatalf("expected first client to pass, got %d", code)
	}
	if code := createFrom(t, router, "192.0.2.1:1234", "10.0.0.2"); code != http.StatusCreated {
		t.Fatalf("expected second client behind the proxy to pass, got %d", code)
	}
	if code := createFrom(t, router, "192.0.2.1:1234", "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat client to be limited, got %d", code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, newDeploymentsStub(), Options{Checks: map[string]HealthCheck{
		"store":  func(context.Context) error { return nil },
		"docker": func(context.Context) error { return errors.New("socket not found") },
	}})
	rr, body := do(t, router, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if body.Logs.Message != "degraded" || len(body.Components) != 2 {
		t.Fatalf("unexpected health body %+v", body)
	}

	healthy := newTestRouter(t, newDeploymentsStub(), Options{Checks: map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	}})
	if rr, _ := do(t, healthy, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestEventsStream(t *testing.T) {
	hub := ws.NewHub()
	router := newTestRouter(t, newDeploymentsStub(), Options{Events: hub})
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?host=foo.example.com"
	header := http.Header{}
	header.Set(apiKeyHeader, testKey)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("foo.example.com") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Broadcast("foo.example.com", []byte(`{"phase":"executed"}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"phase":"executed"}` {
		t.Fatalf("unexpected message %s", msg)
	}
}

func TestEventsStreamRequiresHost(t *testing.T) {
	router := newTestRouter(t, newDeploymentsStub(), Options{Events: ws.NewHub()})
	if rr, _ := do(t, router, http.MethodGet, "/api/v1/events", testKey); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
