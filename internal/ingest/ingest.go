// Package ingest turns raw source records into stored transactions,
// idempotently and under one database transaction per batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/canonical"
	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/repository"
)

// Ingestor writes batches of raw records into the store. Re-running a
// batch is safe: rows dedupe on their content fingerprint, so the
// second run inserts nothing and reports everything as duplicate.
type Ingestor struct {
	store  *repository.Store
	chain  *audit.Chain
	opts   canonical.Options
	maxRej int
	logger *slog.Logger
}

// New creates an ingestor.
func New(store *repository.Store, chain *audit.Chain, cfg config.IngestConfig, logger *slog.Logger) *Ingestor {
	maxRej := cfg.MaxRejectReasons
	if maxRej <= 0 {
		maxRej = 50
	}
	return &Ingestor{
		store:  store,
		chain:  chain,
		opts:   canonical.Options{DefaultCurrency: cfg.DefaultCurrency},
		maxRej: maxRej,
		logger: logger,
	}
}

// IngestBatch processes one batch atomically: either all inserted rows
// plus the audit entry commit together, or nothing does. Bad rows are
// counted and skipped; they never abort the batch. The returned summary
// always satisfies RowsRead == RowsInserted + RowsDuplicate + RowsRejected.
func (i *Ingestor) IngestBatch(ctx context.Context, records []domain.RawRecord, rc domain.RunContext) (*domain.IngestSummary, error) {
	summary := &domain.IngestSummary{RowsRead: len(records)}

	tx, err := i.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ingest batch: %w", err)
	}
	defer tx.Rollback()

	// Fingerprints inserted in this batch. Two copies of the same
	// logical transaction inside one batch dedupe against each other,
	// not only against prior batches.
	inBatch := make(map[string]bool)

	for _, rec := range records {
		ct, err := canonical.Canonicalize(rec, i.opts)
		if err != nil {
			var rej *canonical.RejectError
			if errors.As(err, &rej) {
				summary.RowsRejected++
				if len(summary.RejectReasons) < i.maxRej {
					summary.RejectReasons = append(summary.RejectReasons, rej.Reason)
				}
				continue
			}
			return nil, err
		}

		acct, err := i.store.ResolveAccountTx(ctx, tx, ct.AccountRef, ct.CustomerName, ct.CustomerCountry, ct.BaseRisk)
		if err != nil {
			return nil, fmt.Errorf("resolve account %s: %w", ct.AccountRef, err)
		}

		fp := canonical.Fingerprint(acct.ID, ct)
		key := fmt.Sprintf("%d:%s", acct.ID, fp)
		if inBatch[key] {
			summary.RowsDuplicate++
			continue
		}

		exists, err := i.store.TransactionExistsTx(ctx, tx, acct.ID, fp)
		if err != nil {
			return nil, err
		}
		if exists {
			summary.RowsDuplicate++
			inBatch[key] = true
			continue
		}

		if err := i.store.InsertTransactionTx(ctx, tx, ct.ToTransaction(acct.ID, fp, rc)); err != nil {
			return nil, fmt.Errorf("insert transaction: %w", err)
		}
		inBatch[key] = true
		summary.RowsInserted++
	}

	entry := &domain.AuditEntry{
		CorrelationID: rc.CorrelationID,
		Action:        domain.ActionIngest,
		EntityType:    "ingest_batch",
		EntityID:      rc.CorrelationID,
		Actor:         rc.Actor,
		Details: map[string]any{
			"rows_read":      summary.RowsRead,
			"rows_inserted":  summary.RowsInserted,
			"rows_duplicate": summary.RowsDuplicate,
			"rows_rejected":  summary.RowsRejected,
			"reject_reasons": summary.RejectReasons,
			"config_hash":    rc.ConfigHash,
		},
	}
	if err := i.chain.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("commit ingest batch: %w", err)
	}

	i.logger.Info("batch ingested",
		"correlation_id", rc.CorrelationID,
		"rows_read", summary.RowsRead,
		"rows_inserted", summary.RowsInserted,
		"rows_duplicate", summary.RowsDuplicate,
		"rows_rejected", summary.RowsRejected,
	)
	return summary, nil
}
