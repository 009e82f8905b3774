package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateDeploymentSendsQueryAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/deployments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "k" {
			t.Errorf("unexpected api key %q", got)
		}
		q := r.URL.Query()
		if q.Get("mode") != "preview" || q.Get("repoUrl") != "org/app@dev" || q.Get("subdomain") != "shop" {
			t.Errorf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"logs":{"message":"Deployment created","errors":[]},"id":"dep-1","host":"shop-preview.example.com"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "k")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	created, err := c.CreateDeployment(context.Background(), CreateRequest{Mode: "preview", RepoURL: "org/app@dev", Subdomain: "shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "dep-1" || created.Host != "shop-preview.example.com" {
		t.Fatalf("unexpected result %+v", created)
	}
}

func TestErrorsCarryProblems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"logs":{"message":"Not Found","errors":["deployment not found"]}}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "k")
	_, err := c.GetDeployment(context.Background(), "missing")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || len(apiErr.Problems) != 1 || apiErr.Problems[0] != "deployment not found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if apiErr.Error() != "api request failed (404): deployment not found" {
		t.Fatalf("unexpected message %q", apiErr.Error())
	}
}

func TestListLogsAndRestart(t *testing.T) {
	var restarted bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/deployments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("branch") != "main" {
			t.Errorf("expected branch filter, got %v", r.URL.Query())
		}
		_, _ = w.Write([]byte(`{"deployments":[{"id":"a","host":"a.example.com","mode":"production","hostPort":49152}]}`))
	})
	mux.HandleFunc("GET /api/v1/deployments/a/logs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"deploymentLogs":["one","two"]}`))
	})
	mux.HandleFunc("POST /api/v1/deployments/a/restart", func(w http.ResponseWriter, r *http.Request) {
		restarted = true
		_, _ = w.Write([]byte(`{"logs":{"message":"Deployment restarted","errors":[]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := New(srv.URL, "k")
	ctx := context.Background()
	deployments, err := c.ListDeployments(ctx, "", "main")
	if err != nil || len(deployments) != 1 || deployments[0].HostPort != 49152 {
		t.Fatalf("list: %v %+v", err, deployments)
	}
	lines, err := c.DeploymentLogs(ctx, "a")
	if err != nil || len(lines) != 2 {
		t.Fatalf("logs: %v %v", err, lines)
	}
	if err := c.RestartDeployment(ctx, "a"); err != nil || !restarted {
		t.Fatalf("restart: %v restarted=%v", err, restarted)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	c, err := New("api.example.com/", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.baseURL != "http://api.example.com" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}
