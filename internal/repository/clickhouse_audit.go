package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
)

// analysisAuditSchema is applied idempotently at startup.
var analysisAuditSchema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_audit (
		analyzed_at DateTime,
		signal_id   String,
		decision    LowCardinality(String),
		confidence  Float64,
		reasoning   String,
		trade_plan  String,
		key_levels  String
	) ENGINE = MergeTree()
	ORDER BY (signal_id, analyzed_at)
	TTL analyzed_at + INTERVAL 90 DAY`,
}

// ClickHouseAudit persists completed analysis outcomes for offline review.
type ClickHouseAudit struct {
	db    *sql.DB
	table string
}

func NewClickHouseAudit(db *sql.DB, table string) domrepo.AnalysisAudit {
	if table == "" {
		table = "analysis_audit"
	}
	return &ClickHouseAudit{db: db, table: table}
}

// AuditSchema returns the statements to initialize the audit table.
func AuditSchema() []string {
	return analysisAuditSchema
}

func (a *ClickHouseAudit) Record(ctx context.Context, res *models.AnalysisResult) error {
	levels, err := json.Marshal(res.KeyLevels)
	if err != nil {
		levels = []byte("[]")
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (analyzed_at, signal_id, decision, confidence, reasoning, trade_plan, key_levels) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.table)
	_, err = a.db.ExecContext(ctx, q,
		res.AnalyzedAt,
		res.SignalID,
		res.Decision,
		res.Confidence,
		res.Reasoning,
		res.TradePlan,
		string(levels),
	)
	if err != nil {
		return fmt.Errorf("audit insert %s: %w", res.SignalID, err)
	}
	return nil
}

func (a *ClickHouseAudit) Close() error {
	return nil // pool managed by pkg/clickhouse
}
