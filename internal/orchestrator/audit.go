package orchestrator

import (
	"encoding/json"
	"time"

	"cbtrader/internal/core"
)

// AuditRecord captures every input, decision, and output of one cycle, so
// a reviewer can reconstruct why the orchestrator did (or didn't) trade.
// It is appended as a single structured log line (a JSONL document) rather
// than its own file, since the logger already tees every line to stdout
// and the OTel log pipeline.
type AuditRecord struct {
	CycleNumber      int64             `json:"cycle_number"`
	Timestamp        time.Time         `json:"timestamp"`
	Outcome          core.CycleOutcome `json:"outcome"`
	Regime           core.Regime       `json:"regime"`
	NAV              string            `json:"nav"`
	TotalExposurePct string            `json:"total_exposure_pct"`
	EligibleCount    int               `json:"eligible_count"`
	TriggerCount     int               `json:"trigger_count"`
	ProposalCount    int               `json:"proposal_count"`
	ApprovedCount    int               `json:"approved_count"`
	RejectedSymbols  map[string][]string `json:"rejected_symbols,omitempty"`
	ExecutedOrders   []string          `json:"executed_order_ids,omitempty"`
	TrimmedSymbols   []string          `json:"trimmed_symbols,omitempty"`
	PurgedSymbols    []string          `json:"purged_symbols,omitempty"`
	CanceledStale    int               `json:"canceled_stale_orders"`
	CycleDurationMs  int64             `json:"cycle_duration_ms"`
	Error            string            `json:"error,omitempty"`
}

// Emit logs the record as a single JSON document under the "audit_record"
// message, the line a post-hoc review greps for.
func (r *AuditRecord) Emit(logger core.ILogger) {
	payload, err := json.Marshal(r)
	if err != nil {
		logger.Error("failed to marshal audit record", "error", err.Error(), "cycle_number", r.CycleNumber)
		return
	}
	logger.Info("audit_record", "record", string(payload))
}
