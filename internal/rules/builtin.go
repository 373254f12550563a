package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
)

// Rule identifiers.
const (
	RuleHighValue        = "high_value"
	RuleRapidVelocity    = "rapid_velocity"
	RuleGeoMismatch      = "geo_mismatch"
	RuleStructuring      = "structuring_smurfing"
	RuleSanctionsKeyword = "sanctions_keyword"
	RuleHighRiskCountry  = "high_risk_country"
	RuleNetworkRing      = "network_ring"
	RuleCustomExpression = "custom_expression"
)

// structuringFloor is the fraction of the reporting threshold above
// which amounts count as just-under-threshold.
const structuringFloor = 0.8

// HighValueRule fires on any single transaction at or above the
// configured amount threshold.
type HighValueRule struct {
	Threshold float64
}

func (r *HighValueRule) ID() string   { return RuleHighValue }
func (r *HighValueRule) Hash() string { return RuleHash(RuleHighValue) }

func (r *HighValueRule) Evaluate(ctx context.Context, s *domain.TransactionSubject) (*domain.Finding, error) {
	if s.Amount < r.Threshold {
		return nil, nil
	}
	return &domain.Finding{
		RuleID:   RuleHighValue,
		RuleHash: r.Hash(),
		Severity: domain.SeverityHigh,
		Reason:   fmt.Sprintf("amount %.2f at or above threshold %.2f", s.Amount, r.Threshold),
		Evidence: map[string]any{
			"amount":    s.Amount,
			"threshold": r.Threshold,
		},
		ScoreDelta: 25,
	}, nil
}

// RapidVelocityRule fires when the account has at least MinTransactions
// transactions in the window ending at the subject's timestamp.
type RapidVelocityRule struct {
	MinTransactions int
	WindowMinutes   int

	history HistoryReader
}

func (r *RapidVelocityRule) ID() string   { return RuleRapidVelocity }
func (r *RapidVelocityRule) Hash() string { return RuleHash(RuleRapidVelocity) }

func (r *RapidVelocityRule) Evaluate(ctx context.Context, s *domain.TransactionSubject) (*domain.Finding, error) {
	from, to := window(s.Timestamp, r.WindowMinutes)
	count, err := r.history.CountAccountTransactionsInWindow(ctx, s.AccountID, from, to)
	if err != nil {
		return nil, err
	}
	if count < r.MinTransactions {
		return nil, nil
	}
	return &domain.Finding{
		RuleID:   RuleRapidVelocity,
		RuleHash: r.Hash(),
		Severity: domain.SeverityMedium,
		Reason:   fmt.Sprintf("%d transactions within %d minutes", count, r.WindowMinutes),
		Evidence: map[string]any{
			"count":            count,
			"window_minutes":   r.WindowMinutes,
			"min_transactions": r.MinTransactions,
		},
		ScoreDelta: 20,
	}, nil
}

// GeoMismatchRule fires when the owning customer's transactions span
// more than MaxCountries distinct countries in the window.
type GeoMismatchRule struct {
	MaxCountries  int
	WindowMinutes int

	history HistoryReader
}

func (r *GeoMismatchRule) ID() string   { return RuleGeoMismatch }
func (r *GeoMismatchRule) Hash() string { return RuleHash(RuleGeoMismatch) }

func (r *GeoMismatchRule) Evaluate(ctx context.Context, s *domain.TransactionSubject) (*domain.Finding, error) {
	// A transaction with no country cannot evidence a country change.
	if s.Country == "" {
		return nil, nil
	}
	from, to := window(s.Timestamp, r.WindowMinutes)
	countries, err := r.history.DistinctCustomerCountries(ctx, s.CustomerID, from, to)
	if err != nil {
		return nil, err
	}
	if len(countries) <= r.MaxCountries {
		return nil, nil
	}
	return &domain.Finding{
		RuleID:   RuleGeoMismatch,
		RuleHash: r.Hash(),
		Severity: domain.SeverityMedium,
		Reason:   fmt.Sprintf("%d distinct countries within %d minutes", len(countries), r.WindowMinutes),
		Evidence: map[string]any{
			"countries":      countries,
			"count":          len(countries),
			"window_minutes": r.WindowMinutes,
		},
		ScoreDelta: 15,
	}, nil
}

// StructuringRule fires when the subject sits just under the reporting
// threshold and the account has accumulated at least MinTransactions
// such amounts in the window.
type StructuringRule struct {
	Threshold       float64
	MinTransactions int
	WindowMinutes   int

	history HistoryReader
}

func (r *StructuringRule) ID() string   { return RuleStructuring }
func (r *StructuringRule) Hash() string { return RuleHash(RuleStructuring) }

func (r *StructuringRule) Evaluate(ctx context.Context, s *domain.TransactionSubject) (*domain.Finding, error) {
	floor := structuringFloor * r.Threshold
	if s.Amount < floor || s.Amount >= r.Threshold {
		return nil, nil
	}
	from, to := window(s.Timestamp, r.WindowMinutes)
	count, err := r.history.CountAccountAmountRange(ctx, s.AccountID, floor, r.Threshold, from, to)
	if err != nil {
		return nil, err
	}
	if count < r.MinTransactions {
		return nil, nil
	}
	return &domain.Finding{
		RuleID:   RuleStructuring,
		RuleHash: r.Hash(),
		Severity: domain.SeverityHigh,
		Reason:   fmt.Sprintf("%d transactions just under threshold %.2f within %d minutes", count, r.Threshold, r.WindowMinutes),
		Evidence: map[string]any{
			"count":          count,
			"floor":          floor,
			"threshold":      r.Threshold,
			"window_minutes": r.WindowMinutes,
		},
		ScoreDelta: 30,
	}, nil
}

// SanctionsKeywordRule fires on a case-insensitive substring match of
// any configured keyword against the counterparty name.
type SanctionsKeywordRule struct {
	Keywords      []string
	ListVersion   string
	EffectiveDate string
}

func (r *SanctionsKeywordRule) ID() string   { return RuleSanctionsKeyword }
func (r *SanctionsKeywordRule) Hash() string { return RuleHash(RuleSanctionsKeyword) }

func (r *SanctionsKeywordRule) Evaluate(ctx context.Context, s *domain.TransactionSubject) (*domain.Finding, error) {
	counterparty := strings.ToLower(s.Counterparty)
	if counterparty == "" {
		return nil, nil
	}
	for _, kw := range r.Keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" || !strings.Contains(counterparty, k) {
			continue
		}
		return &domain.Finding{
			RuleID:   RuleSanctionsKeyword,
			RuleHash: r.Hash(),
			Severity: domain.SeverityHigh,
			Reason:   fmt.Sprintf("counterparty matches sanctions keyword %q", k),
			Evidence: map[string]any{
				"keyword":        k,
				"counterparty":   s.Counterparty,
				"list_version":   r.ListVersion,
				"effective_date": r.EffectiveDate,
			},
			ScoreDelta: 40,
		}, nil
	}
	return nil, nil
}

// HighRiskCountryRule fires when the transaction's country is on the
// configured high-risk list. Placeholder list entries are rejected at
// configuration load, never silently matched here.
type HighRiskCountryRule struct {
	countries     map[string]bool
	ListVersion   string
	EffectiveDate string
}

// NewHighRiskCountryRule normalizes the list the same way transaction
// countries are normalized: trimmed, upper-cased, capped at 3 chars.
func NewHighRiskCountryRule(cfg config.HighRiskCountryConfig) *HighRiskCountryRule {
	set := make(map[string]bool, len(cfg.Countries))
	for _, raw := range cfg.Countries {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if r := []rune(code); len(r) > 3 {
			code = string(r[:3])
		}
		if code != "" {
			set[code] = true
		}
	}
	return &HighRiskCountryRule{countries: set, ListVersion: cfg.ListVersion, EffectiveDate: cfg.EffectiveDate}
}

func (r *HighRiskCountryRule) ID() string   { return RuleHighRiskCountry }
func (r *HighRiskCountryRule) Hash() string { return RuleHash(RuleHighRiskCountry) }

func (r *HighRiskCountryRule) Evaluate(ctx context.Context, s *domain.TransactionSubject) (*domain.Finding, error) {
	// Only the transaction's own country is matched; the customer's
	// residence country is not a transaction route.
	country := s.Country
	if country == "" || !r.countries[country] {
		return nil, nil
	}
	return &domain.Finding{
		RuleID:   RuleHighRiskCountry,
		RuleHash: r.Hash(),
		Severity: domain.SeverityHigh,
		Reason:   fmt.Sprintf("country %s is on the high-risk list", country),
		Evidence: map[string]any{
			"country":        country,
			"list_version":   r.ListVersion,
			"effective_date": r.EffectiveDate,
		},
		ScoreDelta: 35,
	}, nil
}
