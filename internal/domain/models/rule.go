package models

import "time"

// RuleDefinition is the persisted shape of a screening rule as served by the
// rule source. PredicateCode is an opaque boolean expression over a read-only
// market context; the screener decides how to evaluate it.
type RuleDefinition struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	PredicateCode     string    `json:"predicateCode"`
	RequiredIntervals []string  `json:"requiredIntervals"`
	Priority          Priority  `json:"priority"`
	Enabled           bool      `json:"enabled"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// MatchResult aggregates one rule's evaluation across all screened symbols.
type MatchResult struct {
	RuleID          string   `json:"ruleId"`
	MatchedSymbols  []string `json:"matchedSymbols"`
	Error           string   `json:"error,omitempty"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
}

// Priority orders analysis tasks in the dispatcher queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority maps raw strings to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}
