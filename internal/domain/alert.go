package domain

import (
	"fmt"
	"time"
)

// Finding is a rule's raw output before it is persisted as an Alert.
// Findings never mutate; one Alert is created per Finding.
type Finding struct {
	RuleID     string         `json:"ruleId"`
	RuleHash   string         `json:"ruleHash"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	ScoreDelta float64        `json:"scoreDelta"`
}

// Alert references exactly one transaction and carries the finding that
// produced it plus full provenance: config fingerprint, rule-set version,
// per-rule hash and the correlation id of the producing run.
type Alert struct {
	ID            int64          `json:"id"`
	TransactionID int64          `json:"transactionId"`
	RuleID        string         `json:"ruleId"`
	RuleHash      string         `json:"ruleHash"`
	Severity      string         `json:"severity"`
	Score         float64        `json:"score"`
	Reason        string         `json:"reason"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	ConfigHash    string         `json:"configHash,omitempty"`
	RulesVersion  string         `json:"rulesVersion,omitempty"`
	EngineVersion string         `json:"engineVersion,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Status        string         `json:"status"`
	Disposition   string         `json:"disposition,omitempty"` // empty until an analyst decides
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     *time.Time     `json:"updatedAt,omitempty"`
}

// Alert status values.
const (
	AlertStatusOpen   = "open"
	AlertStatusClosed = "closed"
)

// Alert disposition values.
const (
	DispositionFalsePositive = "false_positive"
	DispositionEscalate      = "escalate"
	DispositionFiled         = "filed"
)

// Severity values emitted by rules.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// ValidAlertStatus reports whether s is an accepted status value.
func ValidAlertStatus(s string) bool {
	return s == AlertStatusOpen || s == AlertStatusClosed
}

// ValidDisposition reports whether d is an accepted disposition value.
// The empty string is valid and means "not yet dispositioned".
func ValidDisposition(d string) bool {
	switch d {
	case "", DispositionFalsePositive, DispositionEscalate, DispositionFiled:
		return true
	}
	return false
}

// AlertFilter selects alerts for listing. Zero-value fields are ignored.
type AlertFilter struct {
	CorrelationID string
	Status        string
	Severity      string
	RuleID        string
	Limit         int
}

// Validate rejects filter values that would silently match nothing.
func (f AlertFilter) Validate() error {
	if f.Status != "" && !ValidAlertStatus(f.Status) {
		return fmt.Errorf("invalid status filter %q", f.Status)
	}
	return nil
}
