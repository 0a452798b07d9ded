package credit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"orchestrator/internal/clients"
	"orchestrator/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := clients.HTTPConfig{Timeout: time.Second, RetryMax: 2, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond}
	return New(srv.URL+"/", clients.NewRetryableClient(cfg, zerolog.Nop()))
}

func TestDeductSendsReference(t *testing.T) {
	var got deductRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users/user%201/credits/deduct" && r.URL.Path != "/users/user 1/credits/deduct" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Deduct(context.Background(), "user 1", "gen-1:sample", 0.25, "sample_generation_fee"); err != nil {
		t.Fatalf("Deduct error: %v", err)
	}
	if got.ReferenceID != "gen-1:sample" || got.Amount != 0.25 || got.ActionType != "sample_generation_fee" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"ok", http.StatusOK, nil},
		{"already charged", http.StatusConflict, nil},
		{"insufficient", http.StatusPaymentRequired, domain.ErrInsufficientCredits},
		{"unknown user", http.StatusNotFound, domain.ErrCreditServiceUnavailable},
		{"bad request", http.StatusBadRequest, domain.ErrCreditServiceUnavailable},
		{"server error", http.StatusInternalServerError, domain.ErrCreditServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			err := c.Deduct(context.Background(), "u", "ref", 1, "final_generation_fee")
			if tc.want == nil {
				if err != nil {
					t.Fatalf("Deduct error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("Deduct error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.Refund(context.Background(), "u", "ref:refund", 0.25, "pipeline failure"); err != nil {
		t.Fatalf("Refund error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestCheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body checkRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(checkResponse{Sufficient: body.Amount <= 1, Balance: 1})
	})
	ok, err := c.Check(context.Background(), "u", 0.25)
	if err != nil || !ok {
		t.Fatalf("Check(0.25) = %v, %v", ok, err)
	}
	ok, err = c.Check(context.Background(), "u", 5)
	if err != nil || ok {
		t.Fatalf("Check(5) = %v, %v", ok, err)
	}
}

func TestSubscriptionTier(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"plan", http.StatusOK, `{"tier":" Team "}`, "team"},
		{"no record", http.StatusNotFound, ``, "free"},
		{"empty", http.StatusOK, `{}`, "free"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("method = %s", r.Method)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			tier, err := c.SubscriptionTier(context.Background(), "u")
			if err != nil {
				t.Fatalf("SubscriptionTier error: %v", err)
			}
			if tier != tc.want {
				t.Fatalf("tier = %q, want %q", tier, tc.want)
			}
		})
	}
}

func TestUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := clients.HTTPConfig{Timeout: 200 * time.Millisecond, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond}
	c := New(url, clients.NewRetryableClient(cfg, zerolog.Nop()))
	if _, err := c.SubscriptionTier(context.Background(), "u"); !errors.Is(err, domain.ErrCreditServiceUnavailable) {
		t.Fatalf("error = %v, want ErrCreditServiceUnavailable", err)
	}
}
