// Package canonical normalizes raw transaction records and derives the
// deterministic content fingerprint used for deduplication.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kite/internal/domain"
)

// Reject reasons for per-row data problems.
const (
	ReasonMissingAccountRef = "missing_account_ref"
	ReasonMissingTimestamp  = "parse_error:missing_ts"
	ReasonBadTimestamp      = "parse_error:bad_timestamp"
	ReasonMissingAmount     = "parse_error:missing_amount"
	ReasonBadAmount         = "parse_error:bad_amount"
)

// RejectError marks a row as unusable. It is counted by the ingestor,
// never raised past it.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return e.Reason }

func reject(reason string) error { return &RejectError{Reason: reason} }

// Transaction is the normalized form of a raw record. All string fields
// are trimmed; timestamp is UTC; AmountCanonical is the exact 2-decimal
// rendering that participates in the fingerprint.
type Transaction struct {
	AccountRef      string
	CustomerName    string
	CustomerCountry string
	BaseRisk        float64
	Timestamp       time.Time
	Amount          float64
	AmountCanonical string
	Currency        string
	Counterparty    string
	Country         string
	Channel         string
	Direction       string
}

// Options tune canonicalization defaults.
type Options struct {
	// DefaultCurrency is applied when the record carries none.
	DefaultCurrency string
}

// timestamp layouts accepted from source systems, tried in order.
// Offset-carrying forms are first so "+00:00" and "Z" notations of the
// same instant normalize identically.
var tsLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102150405",
	"20060102",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"02-01-2006 15:04:05",
	"02-01-2006",
}

// Canonicalize normalizes one raw record. Failure is a *RejectError
// carrying a stable reason string; it never panics and never coerces a
// bad amount to zero.
func Canonicalize(rec domain.RawRecord, opts Options) (Transaction, error) {
	var out Transaction

	out.AccountRef = strings.TrimSpace(rec.AccountRef)
	if out.AccountRef == "" {
		return out, reject(ReasonMissingAccountRef)
	}

	ts, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return out, err
	}
	out.Timestamp = ts

	amt, canon, err := parseAmount(rec.Amount)
	if err != nil {
		return out, err
	}
	out.Amount = amt
	out.AmountCanonical = canon

	cur := strings.ToUpper(strings.TrimSpace(rec.Currency))
	if cur == "" {
		cur = strings.ToUpper(strings.TrimSpace(opts.DefaultCurrency))
	}
	out.Currency = truncateRunes(cur, 3)

	out.CustomerName = strings.TrimSpace(rec.CustomerName)
	if out.CustomerName == "" {
		out.CustomerName = out.AccountRef
	}
	out.CustomerCountry = strings.ToUpper(strings.TrimSpace(rec.CustomerCountry))
	out.BaseRisk = parseBaseRisk(rec.BaseRisk)
	out.Counterparty = strings.TrimSpace(rec.Counterparty)
	out.Country = strings.ToUpper(strings.TrimSpace(rec.Country))
	out.Channel = strings.TrimSpace(rec.Channel)
	out.Direction = strings.ToLower(strings.TrimSpace(rec.Direction))

	return out, nil
}

// ParseTimestamp accepts the common source formats and always returns
// UTC. Zone-less values are treated as UTC. Numeric values are Unix
// epoch seconds (or milliseconds when large enough).
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, reject(ReasonMissingTimestamp)
	}
	if epoch, err := strconv.ParseFloat(s, 64); err == nil && epoch > 1e8 {
		if epoch > 1e12 { // milliseconds
			epoch = epoch / 1000
		}
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	for _, layout := range tsLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, reject(ReasonBadTimestamp)
}

// amount decorations stripped before decimal parsing.
var amountDecorations = []string{"$", "£", "€", "USD", "GBP", "EUR"}

func parseAmount(raw string) (float64, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, "", reject(ReasonMissingAmount)
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	for _, sym := range amountDecorations {
		s = strings.TrimPrefix(s, sym)
		s = strings.TrimSuffix(s, sym)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, "", reject(ReasonBadAmount)
	}
	canon := d.Round(2).StringFixed(2)
	f, _ := d.Float64()
	return f, canon, nil
}

// truncateRunes caps s at n runes. Byte slicing would cut a multibyte
// code mid-rune and feed invalid UTF-8 into the fingerprint.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// parseBaseRisk maps a risk band or numeric value to a base risk score.
func parseBaseRisk(raw string) float64 {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "":
		return 10
	case "low", "l", "1":
		return 5
	case "medium", "med", "m", "2":
		return 15
	case "high", "h", "3":
		return 25
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return 10
}

// Fingerprint derives the deduplication key for a canonical transaction
// owned by accountID: SHA-256 over the canonical tuple (account id, UTC
// ISO timestamp, 2-decimal amount, upper currency, lower trimmed
// counterparty, lower trimmed direction). Input formatting differences
// that normalize away (timezone notation, casing, whitespace) cannot
// change the fingerprint.
func Fingerprint(accountID int64, t Transaction) string {
	parts := []string{
		strconv.FormatInt(accountID, 10),
		t.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		t.AmountCanonical,
		strings.ToUpper(t.Currency),
		strings.ToLower(strings.TrimSpace(t.Counterparty)),
		strings.ToLower(strings.TrimSpace(t.Direction)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ToTransaction converts a canonical record into the domain transaction
// to insert, stamping provenance from the run context.
func (t Transaction) ToTransaction(accountID int64, fingerprint string, rc domain.RunContext) *domain.Transaction {
	return &domain.Transaction{
		AccountID:     accountID,
		ExternalID:    fingerprint,
		Timestamp:     t.Timestamp,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Counterparty:  t.Counterparty,
		Country:       t.Country,
		Channel:       t.Channel,
		Direction:     t.Direction,
		ConfigHash:    rc.ConfigHash,
		RulesVersion:  rc.RulesVersion,
		EngineVersion: rc.EngineVersion,
	}
}

// String implements fmt.Stringer for logging without dumping all fields.
func (t Transaction) String() string {
	return fmt.Sprintf("%s %s %s @ %s", t.AccountRef, t.AmountCanonical, t.Currency, t.Timestamp.Format(time.RFC3339))
}
