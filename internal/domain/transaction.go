package domain

import (
	"time"
)

// Customer is the owning party of one or more accounts.
type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country"` // ISO alpha code
	BaseRisk  float64   `json:"baseRisk"`
	CreatedAt time.Time `json:"createdAt"`
}

// Account holds transactions and belongs to exactly one customer.
type Account struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customerId"`
	AccountRef string    `json:"accountRef"` // natural key (IBAN or account number)
	CreatedAt  time.Time `json:"createdAt"`
}

// Transaction is immutable once inserted, except for the single
// risk-score write-back performed by the evaluator.
type Transaction struct {
	ID        int64 `json:"id"`
	AccountID int64 `json:"accountId"`

	// ExternalID is the deterministic content fingerprint used for
	// deduplication. Unique per owning account.
	ExternalID string `json:"externalId"`

	Timestamp    time.Time `json:"timestamp"` // always UTC
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"` // 3-char upper-case
	Counterparty string    `json:"counterparty,omitempty"`
	Country      string    `json:"country,omitempty"`
	Channel      string    `json:"channel,omitempty"`
	Direction    string    `json:"direction,omitempty"` // in/out

	// Provenance stamped at insert time.
	ConfigHash    string `json:"configHash,omitempty"`
	RulesVersion  string `json:"rulesVersion,omitempty"`
	EngineVersion string `json:"engineVersion,omitempty"`

	// RiskScore is written exactly once by the evaluator.
	RiskScore *float64 `json:"riskScore,omitempty"`
}

// TransactionSubject is a transaction joined with its owner, as loaded
// for rule evaluation.
type TransactionSubject struct {
	Transaction
	CustomerID      int64   `json:"customerId"`
	CustomerBase    float64 `json:"customerBaseRisk"`
	CustomerCountry string  `json:"customerCountry"`
}

// RawRecord is one unparsed source row as handed to the canonicalizer.
// All fields are raw strings; parsing and normalization happen in one
// place so that two differently-formatted copies of the same logical
// transaction canonicalize identically.
type RawRecord struct {
	AccountRef      string `json:"accountRef"`
	CustomerName    string `json:"customerName,omitempty"`
	CustomerCountry string `json:"customerCountry,omitempty"`
	BaseRisk        string `json:"baseRisk,omitempty"`
	Timestamp       string `json:"timestamp"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency,omitempty"`
	Counterparty    string `json:"counterparty,omitempty"`
	Country         string `json:"country,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Direction       string `json:"direction,omitempty"`
}

// IngestSummary is the per-batch accounting returned by the ingestor.
// RowsRead == RowsInserted + RowsDuplicate + RowsRejected always holds;
// RejectReasons is a capped sample while RowsRejected stays exact.
type IngestSummary struct {
	RowsRead      int      `json:"rowsRead"`
	RowsInserted  int      `json:"rowsInserted"`
	RowsDuplicate int      `json:"rowsDuplicate"`
	RowsRejected  int      `json:"rowsRejected"`
	RejectReasons []string `json:"rejectReasons,omitempty"`
}

// EvaluationSummary is returned by a rule run.
type EvaluationSummary struct {
	CorrelationID   string `json:"correlationId"`
	ChunksProcessed int    `json:"chunksProcessed"`
	Processed       int    `json:"processed"`
	AlertsCreated   int    `json:"alertsCreated"`
	LastProcessedID int64  `json:"lastProcessedId"`
}

// RingSignal describes counterparty overlap between one account and
// others, computed from the relationship-edge index.
type RingSignal struct {
	OverlapCount         int      `json:"overlapCount"`
	SharedCounterparties []string `json:"sharedCounterparties"`
	LinkedAccounts       []int64  `json:"linkedAccounts"`
	Degree               int      `json:"degree"`
}

// RelationshipEdge is one precomputed adjacency edge
// (account/customer -> counterparty).
type RelationshipEdge struct {
	ID            int64     `json:"id"`
	SrcType       string    `json:"srcType"` // "account" or "customer"
	SrcID         int64     `json:"srcId"`
	DstType       string    `json:"dstType"` // "counterparty"
	DstKey        string    `json:"dstKey"`  // normalized counterparty
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
	TxnCount      int64     `json:"txnCount"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Edge source/destination type values.
const (
	EdgeSrcAccount      = "account"
	EdgeSrcCustomer     = "customer"
	EdgeDstCounterparty = "counterparty"
)
