package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
)

func testRequest() *models.AnalysisRequest {
	return &models.AnalysisRequest{SignalID: "sig-1", Symbol: "BTCUSDT", Interval: "5m", Price: 50000}
}

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: time.Second}, applogger.Discard())
}

func TestAnalyzeSuccess(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		var body analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Input.Symbol != "BTCUSDT" {
			t.Errorf("bad request body: %v %+v", err, body)
		}
		json.NewEncoder(w).Encode(models.AnalysisResult{
			Decision: models.DecisionEnter, Confidence: 82, Reasoning: "breakout",
		})
	})

	res, err := c.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Decision != models.DecisionEnter || res.Confidence != 82 || res.SignalID != "sig-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.AnalyzedAt.IsZero() {
		t.Fatalf("AnalyzedAt should be stamped")
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"throttled", http.StatusTooManyRequests, errs.ErrRateLimited},
		{"server error", http.StatusBadGateway, errs.ErrTransient},
		{"bad request", http.StatusBadRequest, errs.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := c.Analyze(context.Background(), testRequest())
			if !errors.Is(err, tc.want) {
				t.Fatalf("status %d should map to %v, got %v", tc.status, tc.want, err)
			}
		})
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Analyze(ctx, testRequest())
	if !errors.Is(err, errs.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestAnalyzeInvalidDecision(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"decision": "yolo"})
	})
	_, err := c.Analyze(context.Background(), testRequest())
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("unknown decision should be a validation error, got %v", err)
	}
}
