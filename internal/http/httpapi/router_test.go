package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"orchestrator/internal/adapter/repo"
	"orchestrator/internal/domain"
	"orchestrator/internal/http/handlers"
	"orchestrator/internal/infra"
	"orchestrator/internal/middleware"
	"orchestrator/internal/orchestration"
)

type okCredits struct{}

func (okCredits) Check(context.Context, string, float64) (bool, error)          { return true, nil }
func (okCredits) Deduct(context.Context, string, string, float64, string) error { return nil }
func (okCredits) Refund(context.Context, string, string, float64, string) error { return nil }
func (okCredits) SubscriptionTier(context.Context, string) (string, error)      { return "free", nil }

type okPublisher struct{ jobs []domain.JobMessage }

func (p *okPublisher) Publish(_ context.Context, job domain.JobMessage) error {
	p.jobs = append(p.jobs, job)
	return nil
}
func (p *okPublisher) Close() error { return nil }

type okNotifier struct{}

func (okNotifier) Notify(context.Context, domain.Notification) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *okPublisher, *infra.Config) {
	t.Helper()
	cfg := &infra.Config{
		APIPrefix:       "/api/v1",
		JWTSecret:       "secret",
		CallbackSecret:  "cb-secret",
		CallbackBaseURL: "http://orchestrator.local/api/v1",
		RateLimitPerMin: 100,
		ServiceName:     "test",
	}
	pub := &okPublisher{}
	svc := orchestration.NewService(repo.NewGenerationRepositoryMemory(), okCredits{}, pub, okNotifier{}, orchestration.Config{
		CallbackBaseURL: cfg.CallbackBaseURL,
		Costs:           orchestration.DefaultCostPolicy(),
	}, zerolog.Nop())
	app := handlers.NewApp(svc, zerolog.Nop(), nil)
	return NewRouter(cfg, app, zerolog.Nop()), pub, cfg
}

func TestRouterEndToEnd(t *testing.T) {
	h, pub, cfg := newTestRouter(t)
	token, _ := middleware.SignJWT(cfg.JWTSecret, middleware.TokenClaims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})

	do := func(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}
	auth := map[string]string{"Authorization": "Bearer " + token}
	cb := map[string]string{middleware.CallbackSecretHeader: "cb-secret"}

	if rr := do(http.MethodGet, "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	if rr := do(http.MethodPost, "/api/v1/generations", `{}`, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create = %d", rr.Code)
	}

	rr := do(http.MethodPost, "/api/v1/generations", `{"projectId":"p1","prompt":"summer sale","outputFormat":"Story"}`, auth)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create = %d (%s)", rr.Code, rr.Body.String())
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("published %d jobs", len(pub.jobs))
	}
	job := pub.jobs[0]
	if job.CallbackAddresses.SampleResult != "http://orchestrator.local/api/v1/callbacks/sample-result" {
		t.Fatalf("callback address %q", job.CallbackAddresses.SampleResult)
	}

	sample := `{"generationId":"` + job.GenerationID + `","status":"AWAITING_SELECTION","samples":[{"assetId":"s1","url":"https://cdn/s1.png"}]}`
	if rr := do(http.MethodPost, "/api/v1/callbacks/sample-result", sample, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("callback without secret = %d", rr.Code)
	}
	if rr := do(http.MethodPost, "/api/v1/callbacks/sample-result", sample, cb); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "received") {
		t.Fatalf("sample callback = %d (%s)", rr.Code, rr.Body.String())
	}

	rr = do(http.MethodGet, "/api/v1/generations/"+job.GenerationID, "", auth)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"AWAITING_SELECTION"`) {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}

	rr = do(http.MethodPost, "/api/v1/generations/"+job.GenerationID+"/select", `{"selectedSampleId":"s1"}`, auth)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"PROCESSING_FINAL"`) {
		t.Fatalf("select = %d (%s)", rr.Code, rr.Body.String())
	}
	if len(pub.jobs) != 2 || pub.jobs[1].JobType != domain.JobTypeFinalGeneration {
		t.Fatalf("final job not published: %+v", pub.jobs)
	}

	final := `{"generationId":"` + job.GenerationID + `","status":"COMPLETED","finalAsset":{"assetId":"f1","url":"https://cdn/f1.png"}}`
	if rr := do(http.MethodPost, "/api/v1/callbacks/final-result", final, cb); rr.Code != http.StatusOK {
		t.Fatalf("final callback = %d", rr.Code)
	}
	rr = do(http.MethodGet, "/api/v1/generations/"+job.GenerationID, "", auth)
	if !strings.Contains(rr.Body.String(), `"COMPLETED"`) {
		t.Fatalf("final status (%s)", rr.Body.String())
	}

	unknown := `{"generationId":"00000000-0000-0000-0000-000000000000","errorMessage":"boom"}`
	if rr := do(http.MethodPost, "/api/v1/callbacks/error", unknown, cb); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "received") {
		t.Fatalf("unknown error callback = %d (%s)", rr.Code, rr.Body.String())
	}
}
