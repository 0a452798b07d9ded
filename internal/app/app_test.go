package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
)

type recordingPublisher struct{ closed bool }

func (p *recordingPublisher) Publish(context.Context, domain.JobMessage) error { return nil }
func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func testConfig(store string) *infra.Config {
	return &infra.Config{
		ServiceName:         "orchestrator-test",
		APIPrefix:           "/api/v1",
		StoreDriver:         store,
		JWTSecret:           "secret",
		CallbackBaseURL:     "http://localhost:8080/api/v1",
		CreditServiceURL:    "http://credits.invalid",
		ExternalCallTimeout: time.Second,
		JobPublisher:        infra.JobPublisherWebhook,
		JobWebhookURL:       "http://n8n.invalid/webhook",
		CostSample:          0.25,
		CostFinal:           1,
	}
}

func TestNewMemoryStoreServesHealth(t *testing.T) {
	a, err := New(context.Background(), testConfig(infra.StoreDriverMemory), zerolog.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Shutdown(context.Background())

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s = %d", path, rr.Code)
		}
	}
}

func TestNewSQLiteStoreAndShutdown(t *testing.T) {
	cfg := testConfig(infra.StoreDriverSQLite)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "orchestrator.db")
	pub := &recordingPublisher{}

	a, err := New(context.Background(), cfg, zerolog.Nop(), WithPublisher(pub))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rr.Code)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz after shutdown = %d", rr.Code)
	}
}

func TestWithoutJobQueueRefusesPublish(t *testing.T) {
	a, err := New(context.Background(), testConfig(infra.StoreDriverMemory), zerolog.Nop(), WithoutJobQueue())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := (disabledPublisher{}).Publish(context.Background(), domain.JobMessage{}); !errors.Is(err, domain.ErrJobPublishFailure) {
		t.Fatalf("error = %v, want ErrJobPublishFailure", err)
	}
}

func TestUnknownStoreFails(t *testing.T) {
	if _, err := New(context.Background(), testConfig("mongo"), zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown store")
	}
}
