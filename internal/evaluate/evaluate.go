// Package evaluate runs the rule set over stored transactions in
// resumable chunks.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/repository"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/opensource-finance/kite/internal/scoring"
)

// Evaluator walks transactions in ascending id order, evaluates every
// rule against each one, persists alerts and the risk-score write-back,
// and checkpoints after every chunk. Each chunk commits atomically with
// its checkpoint, so an interrupted run resumes exactly after the last
// committed chunk with no transaction scored twice.
type Evaluator struct {
	store   *repository.Store
	chain   *audit.Chain
	set     *rules.Set
	scoring scoring.Params
	bus     domain.EventBus
	logger  *slog.Logger

	// ChunkSize 0 processes everything in a single chunk.
	ChunkSize int

	// MaxChunks stops the run after that many chunks without writing
	// the completion entry, as if the process had died. 0 means run to
	// completion.
	MaxChunks int
}

// New creates an evaluator.
func New(store *repository.Store, chain *audit.Chain, set *rules.Set, params scoring.Params, bus domain.EventBus, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:   store,
		chain:   chain,
		set:     set,
		scoring: params,
		bus:     bus,
		logger:  logger,
	}
}

// Run evaluates all transactions not yet covered by the run named in
// rc. With resume true, it continues the run from its last committed
// checkpoint; resuming a run that has no checkpoint, was completed, or
// was checkpointed under a different configuration fails without
// touching anything.
func (e *Evaluator) Run(ctx context.Context, rc domain.RunContext, resume bool) (*domain.EvaluationSummary, error) {
	summary := &domain.EvaluationSummary{CorrelationID: rc.CorrelationID}
	chunkIndex := 0

	if resume {
		cp, err := e.loadCheckpoint(ctx, rc)
		if err != nil {
			return nil, err
		}
		chunkIndex = cp.ChunkIndex + 1
		summary.LastProcessedID = cp.LastProcessedID
		summary.Processed = cp.processedTotal
		summary.AlertsCreated = cp.alertsTotal

		seeds, err := e.store.AccountsWithRuleAlert(ctx, rc.CorrelationID, rules.RuleNetworkRing)
		if err != nil {
			return nil, err
		}
		e.set.SeedRingAccounts(seeds)

		e.logger.Info("resuming run",
			"correlation_id", rc.CorrelationID,
			"chunk_index", chunkIndex,
			"last_processed_id", cp.LastProcessedID,
		)
	}

	for {
		subjects, err := e.store.TransactionsAfter(ctx, summary.LastProcessedID, e.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("load chunk %d: %w", chunkIndex, err)
		}
		if len(subjects) == 0 {
			break
		}

		alerts, err := e.processChunk(ctx, rc, chunkIndex, subjects, summary)
		if err != nil {
			return nil, err
		}
		e.publishAlerts(ctx, alerts)

		chunkIndex++
		summary.ChunksProcessed++

		if e.MaxChunks > 0 && summary.ChunksProcessed >= e.MaxChunks {
			e.logger.Info("run stopped before completion",
				"correlation_id", rc.CorrelationID,
				"chunks_processed", summary.ChunksProcessed,
			)
			return summary, nil
		}
		if e.ChunkSize <= 0 {
			break
		}
	}

	if err := e.complete(ctx, rc, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// processChunk evaluates one chunk inside a single database
// transaction: alerts, risk scores and the checkpoint entry commit
// together or not at all. Returns the committed alerts for publishing.
func (e *Evaluator) processChunk(ctx context.Context, rc domain.RunContext, chunkIndex int, subjects []*domain.TransactionSubject, summary *domain.EvaluationSummary) ([]*domain.Alert, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin chunk %d: %w", chunkIndex, err)
	}
	defer tx.Rollback()

	var alerts []*domain.Alert
	chunkAlerts := 0
	for _, sub := range subjects {
		findings, err := e.set.EvaluateAll(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("evaluate transaction %d: %w", sub.ID, err)
		}

		for _, f := range findings {
			alert := &domain.Alert{
				TransactionID: sub.ID,
				RuleID:        f.RuleID,
				RuleHash:      f.RuleHash,
				Severity:      f.Severity,
				Score:         f.ScoreDelta,
				Reason:        f.Reason,
				Evidence:      f.Evidence,
				ConfigHash:    rc.ConfigHash,
				RulesVersion:  rc.RulesVersion,
				EngineVersion: rc.EngineVersion,
				CorrelationID: rc.CorrelationID,
				Status:        domain.AlertStatusOpen,
				CreatedAt:     time.Now().UTC(),
			}
			if err := e.store.InsertAlertTx(ctx, tx, alert); err != nil {
				return nil, fmt.Errorf("insert alert: %w", err)
			}
			alerts = append(alerts, alert)
			chunkAlerts++
		}

		score, _ := scoring.TransactionRisk(sub.CustomerBase, findings, e.scoring)
		if err := e.store.UpdateRiskScoreTx(ctx, tx, sub.ID, score); err != nil {
			return nil, fmt.Errorf("write risk score: %w", err)
		}
	}

	lastID := subjects[len(subjects)-1].ID
	entry := &domain.AuditEntry{
		CorrelationID: rc.CorrelationID,
		Action:        domain.ActionEvaluateChunk,
		EntityType:    "evaluation_chunk",
		EntityID:      fmt.Sprintf("%s/%d", rc.CorrelationID, chunkIndex),
		Actor:         rc.Actor,
		Details: map[string]any{
			"chunk_index":       chunkIndex,
			"last_processed_id": lastID,
			"processed":         len(subjects),
			"alerts_created":    chunkAlerts,
			"processed_total":   summary.Processed + len(subjects),
			"alerts_total":      summary.AlertsCreated + chunkAlerts,
			"config_hash":       rc.ConfigHash,
		},
	}
	if err := e.chain.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("commit chunk %d: %w", chunkIndex, err)
	}

	summary.Processed += len(subjects)
	summary.AlertsCreated += chunkAlerts
	summary.LastProcessedID = lastID

	e.logger.Info("chunk committed",
		"correlation_id", rc.CorrelationID,
		"chunk_index", chunkIndex,
		"processed", len(subjects),
		"alerts_created", chunkAlerts,
	)
	return alerts, nil
}

func (e *Evaluator) complete(ctx context.Context, rc domain.RunContext, summary *domain.EvaluationSummary) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entry := &domain.AuditEntry{
		CorrelationID: rc.CorrelationID,
		Action:        domain.ActionRunCompleted,
		EntityType:    "evaluation_run",
		EntityID:      rc.CorrelationID,
		Actor:         rc.Actor,
		Details: map[string]any{
			"chunks_processed": summary.ChunksProcessed,
			"processed":        summary.Processed,
			"alerts_created":   summary.AlertsCreated,
			"config_hash":      rc.ConfigHash,
		},
	}
	if err := e.chain.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("append completion entry: %w", err)
	}

	if data, err := json.Marshal(summary); err == nil {
		e.bus.Publish(ctx, domain.Event{Subject: domain.SubjectRunCompleted, Data: data})
	}

	e.logger.Info("run completed",
		"correlation_id", rc.CorrelationID,
		"chunks_processed", summary.ChunksProcessed,
		"processed", summary.Processed,
		"alerts_created", summary.AlertsCreated,
	)
	return nil
}

// checkpoint is the resume state parsed from the latest evaluate_chunk
// entry.
type checkpoint struct {
	domain.Checkpoint
	processedTotal int
	alertsTotal    int
	configHash     string
}

func (e *Evaluator) loadCheckpoint(ctx context.Context, rc domain.RunContext) (*checkpoint, error) {
	done, err := e.store.RunCompleted(ctx, rc.CorrelationID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("run %s already completed: %w", rc.CorrelationID, domain.ErrCheckpointConflict)
	}

	entry, err := e.store.LastCheckpointEntry(ctx, rc.CorrelationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", rc.CorrelationID, domain.ErrCheckpointConflict)
	}
	if err != nil {
		return nil, err
	}

	cp := &checkpoint{Checkpoint: domain.Checkpoint{CorrelationID: rc.CorrelationID}}
	cp.ChunkIndex = detailInt(entry.Details, "chunk_index")
	cp.LastProcessedID = int64(detailInt(entry.Details, "last_processed_id"))
	cp.processedTotal = detailInt(entry.Details, "processed_total")
	cp.alertsTotal = detailInt(entry.Details, "alerts_total")
	cp.configHash, _ = entry.Details["config_hash"].(string)

	if cp.configHash != rc.ConfigHash {
		return nil, fmt.Errorf("run %s was checkpointed under a different configuration: %w",
			rc.CorrelationID, domain.ErrCheckpointConflict)
	}
	return cp, nil
}

func (e *Evaluator) publishAlerts(ctx context.Context, alerts []*domain.Alert) {
	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			continue
		}
		if err := e.bus.Publish(ctx, domain.Event{Subject: domain.SubjectAlertCreated, Data: data}); err != nil {
			e.logger.Warn("alert publish failed", "alert_id", a.ID, "error", err)
		}
	}
}

// detailInt reads a numeric detail decoded from JSON, where numbers
// arrive as float64.
func detailInt(details map[string]any, key string) int {
	switch v := details[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
