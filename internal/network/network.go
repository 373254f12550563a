// Package network maintains the precomputed counterparty adjacency the
// ring rule reads.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/repository"
)

// Builder derives relationship edges from stored transactions. Edges
// are a pure function of the transaction set, so rebuilding is always
// safe and always lands in the same state.
type Builder struct {
	store  *repository.Store
	chain  *audit.Chain
	logger *slog.Logger
}

// NewBuilder creates an edge builder.
func NewBuilder(store *repository.Store, chain *audit.Chain, logger *slog.Logger) *Builder {
	return &Builder{store: store, chain: chain, logger: logger}
}

// Build recomputes account->counterparty and customer->counterparty
// edges from transactions at or after since, upserting them and the
// audit entry in one database transaction. Returns the number of edges
// written.
func (b *Builder) Build(ctx context.Context, since time.Time, rc domain.RunContext) (int, error) {
	stats, err := b.store.CounterpartyAggregates(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("aggregate counterparties: %w", err)
	}

	tx, err := b.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin network build: %w", err)
	}
	defer tx.Rollback()

	type custKey struct {
		customerID int64
		cp         string
	}
	custAgg := map[custKey]*domain.RelationshipEdge{}
	var custOrder []custKey

	written := 0
	for _, st := range stats {
		if err := b.store.UpsertEdgeTx(ctx, tx, &domain.RelationshipEdge{
			SrcType:       domain.EdgeSrcAccount,
			SrcID:         st.AccountID,
			DstType:       domain.EdgeDstCounterparty,
			DstKey:        st.Counterparty,
			FirstSeenAt:   st.FirstSeen,
			LastSeenAt:    st.LastSeen,
			TxnCount:      st.TxnCount,
			CorrelationID: rc.CorrelationID,
		}); err != nil {
			return 0, fmt.Errorf("upsert account edge: %w", err)
		}
		written++

		k := custKey{st.CustomerID, st.Counterparty}
		edge, ok := custAgg[k]
		if !ok {
			edge = &domain.RelationshipEdge{
				SrcType:       domain.EdgeSrcCustomer,
				SrcID:         st.CustomerID,
				DstType:       domain.EdgeDstCounterparty,
				DstKey:        st.Counterparty,
				FirstSeenAt:   st.FirstSeen,
				LastSeenAt:    st.LastSeen,
				CorrelationID: rc.CorrelationID,
			}
			custAgg[k] = edge
			custOrder = append(custOrder, k)
		}
		if st.FirstSeen.Before(edge.FirstSeenAt) {
			edge.FirstSeenAt = st.FirstSeen
		}
		if st.LastSeen.After(edge.LastSeenAt) {
			edge.LastSeenAt = st.LastSeen
		}
		edge.TxnCount += st.TxnCount
	}

	for _, k := range custOrder {
		if err := b.store.UpsertEdgeTx(ctx, tx, custAgg[k]); err != nil {
			return 0, fmt.Errorf("upsert customer edge: %w", err)
		}
		written++
	}

	entry := &domain.AuditEntry{
		CorrelationID: rc.CorrelationID,
		Action:        domain.ActionNetworkBuild,
		EntityType:    "relationship_edges",
		EntityID:      rc.CorrelationID,
		Actor:         rc.Actor,
		Details: map[string]any{
			"edges_written": written,
			"since":         since.UTC().Format(time.RFC3339),
			"config_hash":   rc.ConfigHash,
		},
	}
	if err := b.chain.Append(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("commit network build: %w", err)
	}

	b.logger.Info("network rebuilt",
		"correlation_id", rc.CorrelationID,
		"edges_written", written,
	)
	return written, nil
}
