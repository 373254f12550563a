package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opensource-finance/kite/internal/domain"
)

// Canonical source fields. Headers are matched against per-field alias
// lists after normalization, so exports from different core systems
// ingest without any column renaming.
var columnAliases = map[string][]string{
	"account_ref": {
		"account_ref", "iban_or_acct", "iban", "account_id", "account_number",
		"acct_id", "account", "acc_id", "acct_no", "account_no",
	},
	"ts": {
		"ts", "timestamp", "date", "value_date", "booking_date",
		"transaction_date", "created_at", "event_timestamp", "event_date",
		"event_time", "settlement_date",
	},
	"amount": {
		"amount", "transaction_amount", "value", "amt", "sum", "total",
	},
	"currency": {
		"currency", "currency_code", "ccy", "curr", "currency_iso",
	},
	"customer_name": {
		"customer_name", "customer", "name", "account_holder", "holder_name",
	},
	"country": {
		"country", "origin_country", "customer_country", "home_country",
		"country_code", "residence_country",
	},
	"country_txn": {
		"country_txn", "destination_country", "merchant_country",
		"counterparty_country", "txn_country",
	},
	"counterparty": {
		"counterparty", "counterparty_name", "counterparty_id",
		"counter_party", "beneficiary", "beneficiary_name", "payee",
		"merchant", "merchant_name",
	},
	"channel": {
		"channel", "channel_type", "channel_name", "entry_channel",
	},
	"direction": {
		"direction", "debit_credit", "flow", "dr_cr",
	},
	"base_risk": {
		"base_risk", "risk_band", "risk_level", "customer_risk", "risk_tier",
	},
}

var headerSeparators = regexp.MustCompile(`[\s._-]+`)

var aliasToField = func() map[string]string {
	m := map[string]string{}
	for field, aliases := range columnAliases {
		for _, alias := range aliases {
			m[alias] = field
		}
	}
	return m
}()

// normalizeHeader lowercases and collapses separators so "Account No."
// and "account_no" match the same alias.
func normalizeHeader(h string) string {
	s := headerSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), "_")
	return strings.Trim(s, "_")
}

// inferColumnMap maps each column index to its canonical field. First
// alias match wins; unmatched columns are ignored.
func inferColumnMap(headers []string) map[int]string {
	normalized := make(map[string]int, len(headers))
	for i, h := range headers {
		norm := normalizeHeader(h)
		if norm == "" {
			continue
		}
		if _, ok := normalized[norm]; !ok {
			normalized[norm] = i
		}
	}

	result := map[int]string{}
	claimed := map[int]bool{}
	for field, aliases := range columnAliases {
		for _, alias := range aliases {
			if idx, ok := normalized[alias]; ok && !claimed[idx] {
				result[idx] = field
				claimed[idx] = true
				break
			}
		}
	}
	return result
}

func setField(rec *domain.RawRecord, field, value string) {
	switch field {
	case "account_ref":
		rec.AccountRef = value
	case "ts":
		rec.Timestamp = value
	case "amount":
		rec.Amount = value
	case "currency":
		rec.Currency = value
	case "customer_name":
		rec.CustomerName = value
	case "country":
		rec.CustomerCountry = value
	case "country_txn":
		rec.Country = value
	case "counterparty":
		rec.Counterparty = value
	case "channel":
		rec.Channel = value
	case "direction":
		rec.Direction = value
	case "base_risk":
		rec.BaseRisk = value
	}
}

// ReadCSV reads raw records from a CSV file, mapping headers through
// the alias table. Rows shorter than the header are padded, longer rows
// are truncated; content validation happens later in canonicalization.
func ReadCSV(path string) ([]domain.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	headers, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := inferColumnMap(headers)
	if len(columns) == 0 {
		return nil, fmt.Errorf("no recognizable columns in header %v", headers)
	}

	var records []domain.RawRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(records)+2, err)
		}

		var rec domain.RawRecord
		for idx, field := range columns {
			if idx < len(row) {
				setField(&rec, field, row[idx])
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadJSONL reads raw records from a JSON-lines file, one object per
// line. Keys go through the same alias table as CSV headers.
func ReadJSONL(path string) ([]domain.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []domain.RawRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var rec domain.RawRecord
		for key, value := range raw {
			if field, ok := aliasToField[normalizeHeader(key)]; ok {
				setField(&rec, field, stringify(value))
			}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadFile dispatches on the file extension.
func ReadFile(path string) ([]domain.RawRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(path)
	case ".jsonl", ".ndjson":
		return ReadJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported source format %q", filepath.Ext(path))
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		// Avoid scientific notation for epoch timestamps and amounts.
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return fmt.Sprintf("%v", t)
	}
}
