// Package scoring turns rule findings into a deterministic risk score
// and band for each transaction.
package scoring

import (
	"github.com/opensource-finance/kite/internal/domain"
)

// Params are the scoring knobs. Thresholds apply to the normalized
// 0-100 score.
type Params struct {
	MaxScore        float64
	LowThreshold    float64
	MediumThreshold float64
}

// Band maps a normalized score to a severity band. Boundary values
// belong to the upper band.
func (p Params) Band(score float64) string {
	switch {
	case score < p.LowThreshold:
		return domain.SeverityLow
	case score < p.MediumThreshold:
		return domain.SeverityMedium
	default:
		return domain.SeverityHigh
	}
}

// Normalize maps a raw score in [0, max] onto the 0-100 scale, so the
// banding thresholds keep their meaning when max_score is reconfigured.
func Normalize(raw, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return raw * 100 / max
}

// TransactionRisk computes the normalized score and band for one
// transaction: the customer's base risk plus every finding's delta,
// clamped to [0, MaxScore], then normalized. Same inputs, same output;
// there is no randomness and no clock in here.
func TransactionRisk(baseRisk float64, findings []domain.Finding, p Params) (float64, string) {
	raw := baseRisk
	for _, f := range findings {
		raw += f.ScoreDelta
	}
	if raw < 0 {
		raw = 0
	}
	if raw > p.MaxScore {
		raw = p.MaxScore
	}
	score := Normalize(raw, p.MaxScore)
	return score, p.Band(score)
}
