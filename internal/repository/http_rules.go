package repository

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/cache"
	apphttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

const (
	rulesListKey   = "rules:enabled"
	rulesGetPrefix = "rules:id:"
)

// HTTPRuleSource fetches rule definitions from the strategy service, with a
// TTL cache so the screening loop does not hammer it on every pass.
type HTTPRuleSource struct {
	baseURL string
	ttl     time.Duration
	client  *apphttp.Client
	cache   *cache.TTLCache
	log     *applogger.Logger
}

func NewHTTPRuleSource(baseURL string, ttl, timeout time.Duration, log *applogger.Logger) domrepo.RuleSource {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRuleSource{
		baseURL: baseURL,
		ttl:     ttl,
		client:  apphttp.NewClient(apphttp.WithTimeout(timeout)),
		cache:   cache.NewTTLCache(),
		log:     log,
	}
}

// ListEnabled returns all enabled rules, served from cache within the TTL.
func (s *HTTPRuleSource) ListEnabled(ctx context.Context) ([]*models.RuleDefinition, error) {
	if v, ok := s.cache.Get(rulesListKey); ok {
		return v.([]*models.RuleDefinition), nil
	}

	var rules []*models.RuleDefinition
	err := s.client.SendAndParse(ctx, &apphttp.RequestOptions{
		Method:      apphttp.MethodGet,
		URL:         s.baseURL + "/api/rules",
		QueryParams: map[string][]string{"enabled": {"true"}},
	}, &rules)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	s.cache.Set(rulesListKey, rules, s.ttl)
	for _, r := range rules {
		s.cache.Set(rulesGetPrefix+r.ID, r, s.ttl)
	}
	s.log.Debug("rules refreshed", applogger.Int("count", len(rules)))
	return rules, nil
}

// Get returns one rule by ID, cache-first.
func (s *HTTPRuleSource) Get(ctx context.Context, ruleID string) (*models.RuleDefinition, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: empty rule id", errs.ErrValidation)
	}
	if v, ok := s.cache.Get(rulesGetPrefix + ruleID); ok {
		return v.(*models.RuleDefinition), nil
	}

	var rule models.RuleDefinition
	err := s.client.SendAndParse(ctx, &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    s.baseURL + "/api/rules/" + ruleID,
	}, &rule)
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", ruleID, err)
	}
	if rule.ID == "" {
		return nil, fmt.Errorf("rule %s: %w", ruleID, errs.ErrNotFound)
	}

	s.cache.Set(rulesGetPrefix+ruleID, &rule, s.ttl)
	return &rule, nil
}
