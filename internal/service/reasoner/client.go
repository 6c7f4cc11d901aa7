// Package reasoner calls the external reasoning service that turns a market
// context into an enter/reject/wait decision. The service is an opaque remote
// collaborator; this client only maps transport failures onto the pipeline's
// error taxonomy so the dispatcher can apply its retry policy.
package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	apphttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client implements domain.repository.Analyzer over HTTP.
type Client struct {
	cfg    Config
	client *apphttp.Client
	log    *applogger.Logger
}

func New(cfg Config, log *applogger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: apphttp.NewClient(apphttp.WithTimeout(cfg.Timeout)),
		log:    log,
	}
}

type analyzeRequest struct {
	Model string                  `json:"model,omitempty"`
	Input *models.AnalysisRequest `json:"input"`
}

// Analyze posts the market context and parses the decision. Status codes map
// onto the shared taxonomy: 429 is a rate-limit cooldown, 5xx is transient,
// a deadline hit is a timeout; 4xx is a terminal validation failure.
func (c *Client) Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	started := time.Now()
	resp, err := c.client.SendRequest(ctx, &apphttp.RequestOptions{
		Method: apphttp.MethodPost,
		URL:    c.cfg.BaseURL + "/v1/analyze",
		Headers: map[string]string{
			"Authorization": "Bearer " + c.cfg.APIKey,
			"Content-Type":  "application/json",
		},
		Body: &analyzeRequest{Model: c.cfg.Model, Input: req},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("reasoner call: %w", errs.ErrTimeout)
		}
		return nil, fmt.Errorf("reasoner call: %w: %v", errs.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("reasoner throttled: %w", errs.ErrRateLimited)
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reasoner %d: %s: %w", resp.StatusCode, body, errs.ErrTransient)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: reasoner rejected request (%d): %s", errs.ErrValidation, resp.StatusCode, body)
	}

	var result models.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode reasoner response: %w: %v", errs.ErrTransient, err)
	}
	if !models.IsValidDecision(result.Decision) {
		return nil, fmt.Errorf("%w: unknown decision %q", errs.ErrValidation, result.Decision)
	}
	result.SignalID = req.SignalID
	if result.AnalyzedAt.IsZero() {
		result.AnalyzedAt = time.Now()
	}

	c.log.Debug("analysis completed",
		applogger.String("signal_id", req.SignalID),
		applogger.String("decision", result.Decision),
		applogger.Float64("confidence", result.Confidence),
		applogger.Duration("took", time.Since(started)))
	return &result, nil
}
