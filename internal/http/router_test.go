package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orcaops/releasecore/internal/config"
	"github.com/orcaops/releasecore/internal/domain"
	"github.com/orcaops/releasecore/internal/events"
	"github.com/orcaops/releasecore/internal/repository/memory"
	"github.com/orcaops/releasecore/internal/service/branch"
	"github.com/orcaops/releasecore/internal/service/environment"
	"github.com/orcaops/releasecore/internal/service/pipeline"
	"github.com/orcaops/releasecore/internal/token"
)

const testSecret = "router-test-secret"

func setupRouter(t *testing.T) (*Router, string) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultReleaseConfig()
	store := memory.New()
	hub := events.NewHub()

	branchSvc, err := branch.New(context.Background(), store, log, cfg, hub)
	if err != nil {
		t.Fatalf("branch service: %v", err)
	}
	envSvc := environment.New(store, log, cfg, hub)
	pipelineSvc := pipeline.New(store, log, cfg, hub)

	router := NewRouter(log, branchSvc, envSvc, pipelineSvc, hub, NewMemoryRateLimiter(), testSecret, nil)
	t.Cleanup(router.Close)

	tok, err := token.Generate("release-bot", "operator", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return router, tok
}

func doJSON(t *testing.T, router *Router, tok, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestMutationsRequireAuth(t *testing.T) {
	router, _ := setupRouter(t)

	rr := doJSON(t, router, "", http.MethodPost, "/branches", map[string]string{"name": "feature/x", "source": "develop"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/branches", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rr.Code)
	}
}

func TestBranchRoutesStatusMapping(t *testing.T) {
	router, tok := setupRouter(t)

	rr := doJSON(t, router, tok, http.MethodPost, "/branches", map[string]string{"name": "feature/x", "source": "develop"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, router, tok, http.MethodPost, "/branches", map[string]string{"name": "feature/x", "source": "develop"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rr.Code)
	}
	rr = doJSON(t, router, tok, http.MethodPost, "/branches", map[string]string{"name": "feature/y", "source": "ghost"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing source: expected 404, got %d", rr.Code)
	}
	rr = doJSON(t, router, tok, http.MethodGet, "/branches/feature/x", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	var status struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Name != "feature/x" || status.Type != "feature" {
		t.Fatalf("unexpected status body: %+v", status)
	}
	rr = doJSON(t, router, tok, http.MethodGet, "/branches/ghost", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get missing: expected 404, got %d", rr.Code)
	}
}

func TestMergeRouteReturnsUnprocessableOnFailure(t *testing.T) {
	router, tok := setupRouter(t)

	rr := doJSON(t, router, tok, http.MethodPost, "/merge", map[string]string{
		"source": "develop", "target": "main", "strategy": "merge",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for rejected merge, got %d body=%s", rr.Code, rr.Body.String())
	}
	var result domain.MergeResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "linear history") {
		t.Fatalf("result body must carry the business failure: %+v", result)
	}

	rr = doJSON(t, router, tok, http.MethodPost, "/merge", map[string]string{
		"source": "develop", "target": "main", "strategy": "squash",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for squash merge, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestEnvironmentRoutes(t *testing.T) {
	router, tok := setupRouter(t)

	rr := doJSON(t, router, tok, http.MethodPost, "/environments", map[string]any{"name": "dev", "tier": "dev"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, router, tok, http.MethodPost, "/environments", map[string]any{"name": "dev2", "tier": "galactic"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad tier: expected 400, got %d", rr.Code)
	}

	rr = doJSON(t, router, tok, http.MethodPost, "/environments/dev/deploy", map[string]any{"version": "v1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("deploy: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, tok, http.MethodGet, "/environments/dev/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rr.Code)
	}
	var health struct {
		CurrentVersion string `json:"current_version"`
		CanAccept      bool   `json:"can_accept_deployment"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.CurrentVersion != "v1" || !health.CanAccept {
		t.Fatalf("unexpected health body: %+v", health)
	}

	rr = doJSON(t, router, tok, http.MethodPost, "/environments/dev/rollback", map[string]any{})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("rollback without history: expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, tok, http.MethodGet, "/environments/ghost/history", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing environment: expected 404, got %d", rr.Code)
	}
}

func TestPromotionRoute(t *testing.T) {
	router, tok := setupRouter(t)

	for _, env := range []map[string]any{
		{"name": "dev", "tier": "dev"},
		{"name": "prod", "tier": "prod"},
	} {
		if rr := doJSON(t, router, tok, http.MethodPost, "/environments", env); rr.Code != http.StatusCreated {
			t.Fatalf("create %v: got %d", env, rr.Code)
		}
	}
	if rr := doJSON(t, router, tok, http.MethodPost, "/environments/dev/deploy", map[string]any{"version": "v1"}); rr.Code != http.StatusOK {
		t.Fatalf("deploy: got %d", rr.Code)
	}

	rr := doJSON(t, router, tok, http.MethodPost, "/promotions", map[string]string{"source": "dev", "target": "prod"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("skip-tier promotion: expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	var result domain.PromotionResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "Cannot promote") {
		t.Fatalf("result body must carry the rejection: %+v", result)
	}
}

func TestPipelineRoutes(t *testing.T) {
	router, tok := setupRouter(t)

	body := map[string]any{
		"name": "release",
		"stages": []map[string]any{
			{"name": "build"},
			{"name": "deploy", "depends_on": []string{"build"}},
		},
	}
	rr := doJSON(t, router, tok, http.MethodPost, "/pipelines", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create pipeline: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, tok, http.MethodPost, "/pipelines/release/runs", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("start run: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var run domain.PipelineRun
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.TriggeredBy != "release-bot" {
		t.Fatalf("run must be attributed to the token operator, got %q", run.TriggeredBy)
	}

	rr = doJSON(t, router, tok, http.MethodPost, "/runs/"+run.ID+"/stages", map[string]any{
		"stage": "build", "status": "success",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("record stage: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, router, tok, http.MethodPost, "/runs/"+run.ID+"/stages", map[string]any{
		"stage": "ghost", "status": "success",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown stage: expected 400, got %d", rr.Code)
	}

	rr = doJSON(t, router, tok, http.MethodGet, "/pipelines/release/runs?limit=10", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list runs: expected 200, got %d", rr.Code)
	}
}

func TestHealthzWithoutDatabase(t *testing.T) {
	router, _ := setupRouter(t)

	rr := doJSON(t, router, "", http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
}

func TestRateLimitHeadersPresent(t *testing.T) {
	router, tok := setupRouter(t)

	rr := doJSON(t, router, tok, http.MethodGet, "/branches", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list branches: expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") == "" || rr.Header().Get("X-RateLimit-Remaining") == "" {
		t.Fatalf("rate limit headers missing: %+v", rr.Header())
	}
}
