package rules

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
)

// Set is an ordered collection of enabled rules. Evaluation order is
// the fixed registration order, so the findings slice for a given
// transaction is identical from run to run.
type Set struct {
	rules []Rule
	ring  *RingRule
}

// BuildSet constructs all enabled rules from configuration. Invalid
// rule parameters surface here, before any transaction is touched.
func BuildSet(cfg config.RulesConfig, history HistoryReader, network NetworkReader) (*Set, error) {
	s := &Set{}

	if cfg.HighValue.Enabled {
		s.rules = append(s.rules, &HighValueRule{Threshold: cfg.HighValue.ThresholdAmount})
	}
	if cfg.RapidVelocity.Enabled {
		s.rules = append(s.rules, &RapidVelocityRule{
			MinTransactions: cfg.RapidVelocity.MinTransactions,
			WindowMinutes:   cfg.RapidVelocity.WindowMinutes,
			history:         history,
		})
	}
	if cfg.GeoMismatch.Enabled {
		s.rules = append(s.rules, &GeoMismatchRule{
			MaxCountries:  cfg.GeoMismatch.MaxCountries,
			WindowMinutes: cfg.GeoMismatch.WindowMinutes,
			history:       history,
		})
	}
	if cfg.Structuring.Enabled {
		s.rules = append(s.rules, &StructuringRule{
			Threshold:       cfg.Structuring.ThresholdAmount,
			MinTransactions: cfg.Structuring.MinTransactions,
			WindowMinutes:   cfg.Structuring.WindowMinutes,
			history:         history,
		})
	}
	if cfg.SanctionsKeyword.Enabled {
		s.rules = append(s.rules, &SanctionsKeywordRule{
			Keywords:      cfg.SanctionsKeyword.Keywords,
			ListVersion:   cfg.SanctionsKeyword.ListVersion,
			EffectiveDate: cfg.SanctionsKeyword.EffectiveDate,
		})
	}
	if cfg.HighRiskCountry.Enabled {
		s.rules = append(s.rules, NewHighRiskCountryRule(cfg.HighRiskCountry))
	}
	if cfg.NetworkRing.Enabled {
		if network == nil {
			return nil, fmt.Errorf("network_ring rule enabled but no network reader available")
		}
		s.ring = NewRingRule(
			cfg.NetworkRing.MinSharedCounterparties,
			cfg.NetworkRing.MinLinkedAccounts,
			cfg.NetworkRing.LookbackDays,
			cfg.NetworkRing.Severity,
			cfg.NetworkRing.ScoreDelta,
			network,
		)
		s.rules = append(s.rules, s.ring)
	}
	if cfg.CustomExpression.Enabled {
		custom, err := NewCustomExpressionRule(cfg.CustomExpression)
		if err != nil {
			return nil, err
		}
		s.rules = append(s.rules, custom)
	}

	return s, nil
}

// Rules returns the rules in evaluation order.
func (s *Set) Rules() []Rule {
	return s.rules
}

// SeedRingAccounts marks accounts the ring rule already alerted on in
// this run. No-op when the ring rule is disabled.
func (s *Set) SeedRingAccounts(accountIDs []int64) {
	if s.ring != nil {
		s.ring.SeedSeen(accountIDs)
	}
}

// EvaluateAll runs every rule against the subject in order and collects
// the findings. A rule error aborts the transaction's evaluation; a
// half-evaluated transaction must not be scored.
func (s *Set) EvaluateAll(ctx context.Context, subject *domain.TransactionSubject) ([]domain.Finding, error) {
	var findings []domain.Finding
	for _, rule := range s.rules {
		f, err := rule.Evaluate(ctx, subject)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID(), err)
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}
