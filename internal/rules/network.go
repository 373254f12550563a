package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// RingRule fires when the subject's account shares counterparties with
// enough other accounts to look like a ring. It fires at most once per
// account per run; the evaluator seeds the seen set from already-stored
// alerts when resuming, so a resumed run alerts exactly like an
// uninterrupted one.
type RingRule struct {
	MinSharedCounterparties int
	MinLinkedAccounts       int
	LookbackDays            int
	Severity                string
	ScoreDelta              float64

	network NetworkReader

	mu   sync.Mutex
	seen map[int64]bool
}

// NewRingRule creates the ring rule over the given adjacency reader.
func NewRingRule(minShared, minLinked, lookbackDays int, severity string, scoreDelta float64, network NetworkReader) *RingRule {
	return &RingRule{
		MinSharedCounterparties: minShared,
		MinLinkedAccounts:       minLinked,
		LookbackDays:            lookbackDays,
		Severity:                severity,
		ScoreDelta:              scoreDelta,
		network:                 network,
		seen:                    make(map[int64]bool),
	}
}

func (r *RingRule) ID() string   { return RuleNetworkRing }
func (r *RingRule) Hash() string { return RuleHash(RuleNetworkRing) }

// SeedSeen marks accounts that already alerted in this run.
func (r *RingRule) SeedSeen(accountIDs []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range accountIDs {
		r.seen[id] = true
	}
}

func (r *RingRule) Evaluate(ctx context.Context, s *domain.TransactionSubject) (*domain.Finding, error) {
	r.mu.Lock()
	done := r.seen[s.AccountID]
	r.mu.Unlock()
	if done {
		return nil, nil
	}

	since := s.Timestamp.Add(-time.Duration(r.LookbackDays) * 24 * time.Hour)
	sig, err := r.network.AccountRingSignal(ctx, s.AccountID, since)
	if err != nil {
		return nil, err
	}

	// The overlap pools counterparties shared with any linked account;
	// both the pooled overlap and the count of other accounts must
	// clear their thresholds.
	if sig.OverlapCount < r.MinSharedCounterparties {
		return nil, nil
	}
	if len(sig.LinkedAccounts) < r.MinLinkedAccounts {
		return nil, nil
	}

	r.mu.Lock()
	r.seen[s.AccountID] = true
	r.mu.Unlock()

	return &domain.Finding{
		RuleID:   RuleNetworkRing,
		RuleHash: r.Hash(),
		Severity: r.Severity,
		Reason:   fmt.Sprintf("account shares %d counterparties with %d other accounts", sig.OverlapCount, len(sig.LinkedAccounts)),
		Evidence: map[string]any{
			"shared_counterparties": sig.SharedCounterparties,
			"linked_accounts":       sig.LinkedAccounts,
			"overlap_count":         sig.OverlapCount,
			"degree":                sig.Degree,
			"lookback_days":         r.LookbackDays,
		},
		ScoreDelta: r.ScoreDelta,
	}, nil
}
