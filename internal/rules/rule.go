// Package rules implements the detection rules evaluated against each
// transaction.
package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// Rule is one detection rule. Evaluate returns a Finding when the rule
// fires and nil when it does not; rules read history through the
// provided readers and never write anything.
type Rule interface {
	ID() string
	Hash() string
	Evaluate(ctx context.Context, subject *domain.TransactionSubject) (*domain.Finding, error)
}

// HistoryReader is the windowed-history surface rules query. Windows
// always run over the full store, not the chunk being evaluated, so
// chunk size never changes what a rule sees.
type HistoryReader interface {
	CountAccountTransactionsInWindow(ctx context.Context, accountID int64, from, to time.Time) (int, error)
	CountAccountAmountRange(ctx context.Context, accountID int64, minAmount, maxAmount float64, from, to time.Time) (int, error)
	DistinctCustomerCountries(ctx context.Context, customerID int64, from, to time.Time) ([]string, error)
}

// NetworkReader is the adjacency surface the ring rule queries.
type NetworkReader interface {
	AccountRingSignal(ctx context.Context, accountID int64, since time.Time) (*domain.RingSignal, error)
}

// ruleVersion participates in every rule hash. Bump it when a rule's
// firing semantics change.
const ruleVersion = "v1"

// RuleHash derives the short content hash recorded on alerts, so an
// alert is attributable to the exact rule revision that produced it.
func RuleHash(id string) string {
	sum := sha256.Sum256([]byte(id + ":" + ruleVersion))
	return hex.EncodeToString(sum[:])[:16]
}

func window(end time.Time, minutes int) (time.Time, time.Time) {
	return end.Add(-time.Duration(minutes) * time.Minute), end
}
